package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callinsight-server/pkg/config"
	"callinsight-server/pkg/errors"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)
	return logger
}

func newVoyageProvider(t *testing.T, baseURL string, dimension int) *VoyageProvider {
	t.Helper()
	provider := NewVoyageProvider(newTestLogger(), &config.EmbeddingConfig{
		Enabled:   true,
		BaseURL:   baseURL,
		APIKey:    "vk-test",
		Model:     "voyage-3",
		Dimension: dimension,
		Timeout:   5 * time.Second,
	})
	require.NoError(t, provider.Initialize(context.Background()))
	return provider
}

func TestVoyageEmbedReassemblesByIndex(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer vk-test", r.Header.Get("Authorization"))

		var req voyageRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "voyage-3", req.Model)
		assert.Equal(t, []string{"first text", "second text"}, req.Input)

		// Out-of-order indices exercise the reassembly path.
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"data": [
				{"embedding": [4, 5, 6], "index": 1},
				{"embedding": [1, 2, 3], "index": 0}
			],
			"usage": {"total_tokens": 12}
		}`))
	}))
	defer server.Close()

	provider := newVoyageProvider(t, server.URL, 3)

	embeddings, err := provider.Embed(context.Background(), []string{"first text", "second text"})
	require.NoError(t, err)
	require.Len(t, embeddings, 2)
	assert.Equal(t, []float32{1, 2, 3}, embeddings[0])
	assert.Equal(t, []float32{4, 5, 6}, embeddings[1])
}

func TestVoyageEmbedEmptyInput(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected for empty input")
	}))
	defer server.Close()

	provider := newVoyageProvider(t, server.URL, 3)

	embeddings, err := provider.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, embeddings)
}

func TestVoyageStatusClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		transient bool
	}{
		{"rate limited", http.StatusTooManyRequests, true},
		{"server error", http.StatusServiceUnavailable, true},
		{"bad request", http.StatusBadRequest, false},
		{"unauthorized", http.StatusUnauthorized, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tc.status)
			}))
			defer server.Close()

			provider := newVoyageProvider(t, server.URL, 3)

			_, err := provider.Embed(context.Background(), []string{"text"})
			require.Error(t, err)
			assert.Equal(t, tc.transient, errors.IsTransient(err))
		})
	}
}

func TestVoyageMalformedResponseIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json at all"))
	}))
	defer server.Close()

	provider := newVoyageProvider(t, server.URL, 3)

	_, err := provider.Embed(context.Background(), []string{"text"})
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
}

func TestVoyageDimensionMismatchIsPermanent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data": [{"embedding": [1, 2], "index": 0}]}`))
	}))
	defer server.Close()

	provider := newVoyageProvider(t, server.URL, 3)

	_, err := provider.Embed(context.Background(), []string{"text"})
	require.Error(t, err)
	assert.True(t, errors.IsPermanent(err))
}

func TestVoyageCountMismatchIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data": [{"embedding": [1, 2, 3], "index": 0}]}`))
	}))
	defer server.Close()

	provider := newVoyageProvider(t, server.URL, 3)

	_, err := provider.Embed(context.Background(), []string{"one", "two"})
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
}

func TestVoyageConnectionErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	provider := newVoyageProvider(t, server.URL, 3)
	server.Close()

	_, err := provider.Embed(context.Background(), []string{"text"})
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
}

func TestVoyageUninitializedIsPermanent(t *testing.T) {
	provider := NewVoyageProvider(newTestLogger(), &config.EmbeddingConfig{})

	_, err := provider.Embed(context.Background(), []string{"text"})
	require.Error(t, err)
	assert.True(t, errors.IsPermanent(err))
}

func TestNewProviderFallsBackToMock(t *testing.T) {
	provider := NewProvider(&config.EmbeddingConfig{Dimension: 8}, newTestLogger())
	assert.Equal(t, "mock", provider.Name())
	assert.Equal(t, 8, provider.Dimension())

	provider = NewProvider(&config.EmbeddingConfig{APIKey: "vk", Dimension: 8}, newTestLogger())
	assert.Equal(t, "voyage", provider.Name())
}
