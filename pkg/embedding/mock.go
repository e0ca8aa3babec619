package embedding

import (
	"context"
	"hash/fnv"

	"github.com/sirupsen/logrus"
)

// defaultMockDimension matches the voyage-3 default so documents built
// against the mock fit the same index mapping.
const defaultMockDimension = 1024

// MockProvider generates deterministic pseudo-random vectors. The same
// text always produces the same vector, so index assertions in tests
// are stable.
type MockProvider struct {
	logger    *logrus.Entry
	dimension int
}

// NewMockProvider creates a mock embedding provider.
func NewMockProvider(logger *logrus.Logger, dimension int) *MockProvider {
	if dimension <= 0 {
		dimension = defaultMockDimension
	}
	return &MockProvider{
		logger:    logger.WithField("embedding_provider", "mock"),
		dimension: dimension,
	}
}

// Name returns the provider identifier.
func (p *MockProvider) Name() string {
	return "mock"
}

// Dimension returns the vector width.
func (p *MockProvider) Dimension() int {
	return p.dimension
}

// Initialize is a no-op for the mock provider.
func (p *MockProvider) Initialize(ctx context.Context) error {
	p.logger.WithField("dimension", p.dimension).Info("Mock embedding provider initialized")
	return nil
}

// Embed derives each vector from an FNV hash of the text, expanded with
// a multiplicative congruential step and scaled into [-1, 1).
func (p *MockProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		hasher := fnv.New64a()
		hasher.Write([]byte(text))
		state := hasher.Sum64()

		vector := make([]float32, p.dimension)
		for j := range vector {
			state = state*6364136223846793005 + 1442695040888963407
			vector[j] = float32(int32(state>>32)) / (1 << 31)
		}
		embeddings[i] = vector
	}
	return embeddings, nil
}

var _ Provider = (*MockProvider)(nil)
