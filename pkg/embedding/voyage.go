package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"callinsight-server/pkg/config"
	"callinsight-server/pkg/errors"
	"callinsight-server/pkg/version"
)

// VoyageProvider generates embeddings through the Voyage AI HTTP API.
type VoyageProvider struct {
	logger *logrus.Entry
	config *config.EmbeddingConfig
	client *http.Client
}

// NewVoyageProvider creates a Voyage-backed embedding provider.
func NewVoyageProvider(logger *logrus.Logger, cfg *config.EmbeddingConfig) *VoyageProvider {
	return &VoyageProvider{
		logger: logger.WithField("embedding_provider", "voyage"),
		config: cfg,
	}
}

// Name returns the provider identifier.
func (p *VoyageProvider) Name() string {
	return "voyage"
}

// Dimension returns the configured vector width.
func (p *VoyageProvider) Dimension() int {
	return p.config.Dimension
}

// Initialize validates the configuration and builds the HTTP client.
func (p *VoyageProvider) Initialize(ctx context.Context) error {
	if p.config.APIKey == "" {
		return errors.New("voyage provider requires an API key")
	}
	if p.config.BaseURL == "" {
		return errors.New("voyage provider requires a base URL")
	}

	timeout := p.config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	p.client = &http.Client{Timeout: timeout}

	p.logger.WithFields(logrus.Fields{
		"model":     p.config.Model,
		"dimension": p.config.Dimension,
	}).Info("Voyage embedding provider initialized")

	return nil
}

// voyageRequest is the Voyage AI embeddings request body.
type voyageRequest struct {
	Input     []string `json:"input"`
	Model     string   `json:"model"`
	InputType string   `json:"input_type,omitempty"`
}

// voyageResponse is the Voyage AI embeddings response body.
type voyageResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// Embed generates one vector per text. Results come back keyed by index
// and are reassembled into input order.
func (p *VoyageProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if p.client == nil {
		return nil, errors.Permanent("voyage provider is not initialized")
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	body, err := json.Marshal(voyageRequest{
		Input:     texts,
		Model:     p.config.Model,
		InputType: "document",
	})
	if err != nil {
		return nil, errors.WrapPermanent(err, "failed to marshal embedding request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, errors.WrapPermanent(err, "failed to build embedding request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	req.Header.Set("User-Agent", version.UserAgent())

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, errors.WrapTransient(err, "embedding request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		fields := map[string]interface{}{
			"status_code": resp.StatusCode,
			"body":        string(snippet),
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, errors.Transient("embedding API returned a retryable status", fields)
		}
		return nil, errors.Permanent("embedding API rejected the request", fields)
	}

	var decoded voyageResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, errors.WrapTransient(errors.ErrEmbeddingFailed,
			"malformed embedding response",
			map[string]interface{}{"parse_error": err.Error()})
	}

	if len(decoded.Data) != len(texts) {
		return nil, errors.WrapTransient(errors.ErrEmbeddingFailed,
			"embedding count mismatch",
			map[string]interface{}{"want": len(texts), "got": len(decoded.Data)})
	}

	embeddings := make([][]float32, len(texts))
	for _, item := range decoded.Data {
		if item.Index < 0 || item.Index >= len(embeddings) {
			return nil, errors.WrapTransient(errors.ErrEmbeddingFailed,
				"embedding index out of range",
				map[string]interface{}{"index": item.Index})
		}
		// A wrong-width vector means the configured dimension does not
		// match the model; retrying cannot fix configuration.
		if p.config.Dimension > 0 && len(item.Embedding) != p.config.Dimension {
			return nil, errors.WrapPermanent(errors.ErrEmbeddingFailed,
				"embedding dimension mismatch",
				map[string]interface{}{
					"want": p.config.Dimension,
					"got":  len(item.Embedding),
				})
		}
		embeddings[item.Index] = item.Embedding
	}

	p.logger.WithFields(logrus.Fields{
		"texts":        len(texts),
		"total_tokens": decoded.Usage.TotalTokens,
		"duration_ms":  time.Since(start).Milliseconds(),
	}).Debug("Embedding batch completed")

	return embeddings, nil
}

var _ Provider = (*VoyageProvider)(nil)
