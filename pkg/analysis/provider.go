// Package analysis adapts LLM providers to the analysis stage of the
// pipeline. A provider takes a finished transcript and returns the
// structured analysis the rest of the system consumes. Every provider
// error is classified transient or permanent at this boundary so the
// worker retry logic never inspects vendor error types.
package analysis

import (
	"context"

	"github.com/sirupsen/logrus"

	"callinsight-server/pkg/call"
	"callinsight-server/pkg/config"
	"callinsight-server/pkg/errors"
)

// Provider analyzes a call transcript with a specific LLM backend.
type Provider interface {
	// Initialize prepares the provider (clients, credentials) for use
	Initialize(ctx context.Context) error

	// Name returns the provider identifier ("anthropic", "bedrock", "mock")
	Name() string

	// Analyze extracts structured insights from a transcript
	Analyze(ctx context.Context, transcript *call.Transcript) (*call.Analysis, error)
}

// NewProvider builds the analysis provider selected by configuration.
func NewProvider(cfg *config.AnalysisConfig, logger *logrus.Logger) (Provider, error) {
	if cfg == nil {
		return nil, errors.New("analysis configuration is nil")
	}

	switch cfg.Provider {
	case "anthropic":
		return NewAnthropicProvider(logger, cfg), nil
	case "bedrock":
		return NewBedrockProvider(logger, cfg), nil
	case "mock":
		return NewMockProvider(logger), nil
	default:
		return nil, errors.New("unsupported analysis provider",
			map[string]interface{}{"provider": cfg.Provider})
	}
}
