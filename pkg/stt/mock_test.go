package stt

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockProviderIsDeterministic(t *testing.T) {
	provider := NewMockProvider(newTestLogger())
	require.NoError(t, provider.Initialize(context.Background()))

	first, err := provider.Transcribe(context.Background(), "calls/abc.wav")
	require.NoError(t, err)
	second, err := provider.Transcribe(context.Background(), "calls/abc.wav")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.NotEmpty(t, first.Text)
	assert.Greater(t, first.WordCount, 0)
	assert.Equal(t, "mock", first.Provider)
	assert.Equal(t, "en-US", first.Language)
	assert.InDelta(t, 0.95, first.Confidence, 0.001)
}
