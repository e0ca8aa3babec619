package pipeline

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"callinsight-server/pkg/call"
	"callinsight-server/pkg/circuitbreaker"
	"callinsight-server/pkg/errors"
	"callinsight-server/pkg/metrics"
	"callinsight-server/pkg/quality"
)

// Transcriber is what the transcription stage needs from the speech-to-text
// layer.
type Transcriber interface {
	Transcribe(ctx context.Context, providerName, audioRef, callID string) (*call.Transcript, error)
}

// Analyzer is what the analysis stage needs from the LLM layer.
type Analyzer interface {
	Name() string
	Analyze(ctx context.Context, transcript *call.Transcript) (*call.Analysis, error)
}

// Embedder is what the embedding stage needs from the vector layer.
type Embedder interface {
	Name() string
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// InsightIndexer persists the searchable projection of an analyzed call.
type InsightIndexer interface {
	IndexAnalyzedCall(ctx context.Context, record *call.Call, vector []float32, model string) error
}

// TranscriptionHandler turns the call's audio reference into a transcript.
type TranscriptionHandler struct {
	logger   *logrus.Entry
	stt      Transcriber
	provider string
	breaker  *circuitbreaker.CircuitBreaker
}

// NewTranscriptionHandler wires the speech-to-text layer into the
// transcription stage behind its own circuit breaker.
func NewTranscriptionHandler(logger *logrus.Logger, stt Transcriber, provider string) *TranscriptionHandler {
	return &TranscriptionHandler{
		logger:   logger.WithField("component", "transcription_handler"),
		stt:      stt,
		provider: provider,
		breaker:  circuitbreaker.NewCircuitBreaker("stt", circuitbreaker.STTConfig(), logger),
	}
}

func (h *TranscriptionHandler) Stage() call.Stage {
	return call.StageTranscription
}

func (h *TranscriptionHandler) Process(ctx context.Context, record *call.Call) (*call.Patch, error) {
	var transcript *call.Transcript

	observe := metrics.ObserveCapabilityLatency("transcription", h.provider)
	err := h.breaker.Execute(ctx, func(ctx context.Context) error {
		var execErr error
		transcript, execErr = h.stt.Transcribe(ctx, h.provider, record.AudioRef, record.CallID)
		return execErr
	})
	observe()

	if err != nil {
		metrics.RecordCapabilityRequest("transcription", h.provider, "error")
		if circuitbreaker.IsCircuitBreakerError(err) {
			return nil, errors.WrapTransient(err, "transcription rejected by open circuit",
				map[string]interface{}{"call_id": record.CallID})
		}
		return nil, err
	}
	if transcript == nil || strings.TrimSpace(transcript.Text) == "" {
		metrics.RecordCapabilityRequest("transcription", h.provider, "error")
		return nil, errors.WrapTransient(errors.ErrTranscriptionFailed, "provider returned an empty transcript",
			map[string]interface{}{"call_id": record.CallID})
	}

	metrics.RecordCapabilityRequest("transcription", h.provider, "success")
	return &call.Patch{Transcript: transcript}, nil
}

// AnalysisHandler extracts insights from the transcript and attaches the
// quality verdict in the same patch, so a call never reaches analyzed
// without its review decision.
type AnalysisHandler struct {
	logger   *logrus.Entry
	provider Analyzer
	breaker  *circuitbreaker.CircuitBreaker
}

// NewAnalysisHandler wires the LLM provider into the analysis stage.
func NewAnalysisHandler(logger *logrus.Logger, provider Analyzer) *AnalysisHandler {
	return &AnalysisHandler{
		logger:   logger.WithField("component", "analysis_handler"),
		provider: provider,
		breaker:  circuitbreaker.NewCircuitBreaker("analysis", circuitbreaker.AnalysisConfig(), logger),
	}
}

func (h *AnalysisHandler) Stage() call.Stage {
	return call.StageAnalysis
}

func (h *AnalysisHandler) Process(ctx context.Context, record *call.Call) (*call.Patch, error) {
	if record.Transcript == nil {
		// No amount of retrying recovers a transcript that was never stored.
		return nil, errors.Permanent("call carries no transcript to analyze",
			map[string]interface{}{"call_id": record.CallID})
	}

	providerName := h.provider.Name()
	var result *call.Analysis

	observe := metrics.ObserveCapabilityLatency("analysis", providerName)
	err := h.breaker.Execute(ctx, func(ctx context.Context) error {
		var execErr error
		result, execErr = h.provider.Analyze(ctx, record.Transcript)
		return execErr
	})
	observe()

	if err != nil {
		metrics.RecordCapabilityRequest("analysis", providerName, "error")
		if circuitbreaker.IsCircuitBreakerError(err) {
			return nil, errors.WrapTransient(err, "analysis rejected by open circuit",
				map[string]interface{}{"call_id": record.CallID})
		}
		return nil, err
	}
	if result == nil {
		metrics.RecordCapabilityRequest("analysis", providerName, "error")
		return nil, errors.WrapTransient(errors.ErrAnalysisFailed, "provider returned no analysis",
			map[string]interface{}{"call_id": record.CallID})
	}
	metrics.RecordCapabilityRequest("analysis", providerName, "success")

	verdict := quality.Validate(result, record.Transcript)
	h.logger.WithFields(logrus.Fields{
		"call_id":         record.CallID,
		"quality_level":   verdict.QualityLevel,
		"quality_score":   verdict.QualityScore,
		"requires_review": verdict.RequiresReview,
	}).Info("Analysis validated")

	return &call.Patch{Analysis: result, Quality: &verdict}, nil
}

// EmbeddingHandler embeds the transcript and indexes the searchable
// insight document. It runs after the call is already analyzed and never
// produces a status transition.
type EmbeddingHandler struct {
	logger   *logrus.Entry
	provider Embedder
	indexer  InsightIndexer
	model    string
	breaker  *circuitbreaker.CircuitBreaker
}

// NewEmbeddingHandler wires the embedder and the index sink into the
// embedding stage. model names the embedding model recorded on the
// indexed document.
func NewEmbeddingHandler(logger *logrus.Logger, provider Embedder, indexer InsightIndexer, model string) *EmbeddingHandler {
	return &EmbeddingHandler{
		logger:   logger.WithField("component", "embedding_handler"),
		provider: provider,
		indexer:  indexer,
		model:    model,
		breaker:  circuitbreaker.NewCircuitBreaker("embedding", circuitbreaker.EmbeddingConfig(), logger),
	}
}

func (h *EmbeddingHandler) Stage() call.Stage {
	return call.StageEmbedding
}

func (h *EmbeddingHandler) Process(ctx context.Context, record *call.Call) (*call.Patch, error) {
	if record.Transcript == nil || strings.TrimSpace(record.Transcript.Text) == "" {
		return nil, errors.Permanent("analyzed call carries no transcript text to embed",
			map[string]interface{}{"call_id": record.CallID})
	}

	providerName := h.provider.Name()
	var vectors [][]float32

	observe := metrics.ObserveCapabilityLatency("embedding", providerName)
	err := h.breaker.Execute(ctx, func(ctx context.Context) error {
		var execErr error
		vectors, execErr = h.provider.Embed(ctx, []string{record.Transcript.Text})
		return execErr
	})
	observe()

	if err != nil {
		metrics.RecordCapabilityRequest("embedding", providerName, "error")
		if circuitbreaker.IsCircuitBreakerError(err) {
			return nil, errors.WrapTransient(err, "embedding rejected by open circuit",
				map[string]interface{}{"call_id": record.CallID})
		}
		return nil, err
	}
	if len(vectors) != 1 {
		metrics.RecordCapabilityRequest("embedding", providerName, "error")
		return nil, errors.WrapTransient(errors.ErrEmbeddingFailed, "provider returned a wrong vector count",
			map[string]interface{}{"call_id": record.CallID, "count": len(vectors)})
	}
	metrics.RecordCapabilityRequest("embedding", providerName, "success")

	if err := h.indexer.IndexAnalyzedCall(ctx, record, vectors[0], h.model); err != nil {
		return nil, err
	}

	// The call is already analyzed; indexing succeeds out of band.
	return nil, nil
}
