package analysis

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callinsight-server/pkg/call"
	"callinsight-server/pkg/config"
	"callinsight-server/pkg/errors"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)
	return logger
}

func TestNewProviderSelectsConfigured(t *testing.T) {
	tests := []struct {
		provider string
		name     string
	}{
		{"anthropic", "anthropic"},
		{"bedrock", "bedrock"},
		{"mock", "mock"},
	}

	for _, tc := range tests {
		provider, err := NewProvider(&config.AnalysisConfig{Provider: tc.provider}, newTestLogger())
		require.NoError(t, err)
		assert.Equal(t, tc.name, provider.Name())
	}
}

func TestNewProviderRejectsUnknown(t *testing.T) {
	_, err := NewProvider(&config.AnalysisConfig{Provider: "oracle"}, newTestLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported analysis provider")
}

func TestNewProviderRejectsNilConfig(t *testing.T) {
	_, err := NewProvider(nil, newTestLogger())
	require.Error(t, err)
}

func TestAnthropicInitializeRequiresAPIKey(t *testing.T) {
	provider := NewAnthropicProvider(newTestLogger(), &config.AnalysisConfig{
		Provider:       "anthropic",
		AnthropicModel: "claude-sonnet-4-5-20250929",
	})

	err := provider.Initialize(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key")
}

func TestBedrockInitializeRequiresModelID(t *testing.T) {
	provider := NewBedrockProvider(newTestLogger(), &config.AnalysisConfig{
		Provider: "bedrock",
	})

	err := provider.Initialize(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model ID")
}

func TestAnalyzeBeforeInitializeIsPermanent(t *testing.T) {
	transcript := &call.Transcript{Text: "hello", WordCount: 1}

	anthropicProvider := NewAnthropicProvider(newTestLogger(), &config.AnalysisConfig{})
	_, err := anthropicProvider.Analyze(context.Background(), transcript)
	require.Error(t, err)
	assert.True(t, errors.IsPermanent(err))

	bedrockProvider := NewBedrockProvider(newTestLogger(), &config.AnalysisConfig{})
	_, err = bedrockProvider.Analyze(context.Background(), transcript)
	require.Error(t, err)
	assert.True(t, errors.IsPermanent(err))
}
