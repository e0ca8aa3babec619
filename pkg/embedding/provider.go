// Package embedding adapts text embedding providers to the embedding
// stage of the pipeline. Vectors are dimension-validated at this
// boundary so the index mapping never sees a wrong-width vector.
package embedding

import (
	"context"

	"github.com/sirupsen/logrus"

	"callinsight-server/pkg/config"
)

// Provider generates embedding vectors for transcript-derived text.
type Provider interface {
	// Initialize prepares the provider for use
	Initialize(ctx context.Context) error

	// Name returns the provider identifier ("voyage", "mock")
	Name() string

	// Embed generates one vector per input text, in input order
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the vector width every embedding must have
	Dimension() int
}

// NewProvider builds the embedding provider for the configuration. With
// no API key configured the mock serves, so development environments
// run the full pipeline without a Voyage account.
func NewProvider(cfg *config.EmbeddingConfig, logger *logrus.Logger) Provider {
	if cfg != nil && cfg.APIKey != "" {
		return NewVoyageProvider(logger, cfg)
	}

	dimension := 0
	if cfg != nil {
		dimension = cfg.Dimension
	}
	logger.Warn("No embedding API key configured, using mock embedder")
	return NewMockProvider(logger, dimension)
}
