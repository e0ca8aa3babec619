package circuitbreaker

import "time"

// Predefined configurations per capability class.

// STTConfig returns circuit breaker config for transcription providers
func STTConfig() *Config {
	return &Config{
		FailureThreshold:   3,                 // STT services can be flaky, lower threshold
		SuccessThreshold:   2,
		Timeout:            30 * time.Second,  // Shorter timeout for faster recovery
		MaxTimeout:         180 * time.Second,
		RequestTimeout:     120 * time.Second, // Long-running recognition jobs
		ExponentialBackoff: true,
	}
}

// AnalysisConfig returns circuit breaker config for LLM analysis providers
func AnalysisConfig() *Config {
	return &Config{
		FailureThreshold:   3,
		SuccessThreshold:   2,
		Timeout:            60 * time.Second, // Model overload tends to last minutes
		MaxTimeout:         300 * time.Second,
		RequestTimeout:     120 * time.Second,
		ExponentialBackoff: true,
	}
}

// EmbeddingConfig returns circuit breaker config for embedding providers
func EmbeddingConfig() *Config {
	return &Config{
		FailureThreshold:   5,                // Embedding calls are cheap and usually reliable
		SuccessThreshold:   2,
		Timeout:            30 * time.Second,
		MaxTimeout:         120 * time.Second,
		RequestTimeout:     30 * time.Second, // Embedding requests should be fast
		ExponentialBackoff: true,
	}
}
