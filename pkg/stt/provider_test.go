package stt

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callinsight-server/pkg/call"
	"callinsight-server/pkg/errors"
)

type fakeProvider struct {
	name       string
	initErr    error
	transcript *call.Transcript
	err        error
	calls      int
}

func (f *fakeProvider) Initialize(ctx context.Context) error {
	return f.initErr
}

func (f *fakeProvider) Name() string {
	return f.name
}

func (f *fakeProvider) Transcribe(ctx context.Context, audioRef string) (*call.Transcript, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.transcript, nil
}

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)
	return logger
}

func TestTranscribeRoutesToNamedProvider(t *testing.T) {
	manager := NewProviderManager(newTestLogger(), "google")

	google := &fakeProvider{name: "google", transcript: &call.Transcript{Text: "from google"}}
	amazon := &fakeProvider{name: "amazon", transcript: &call.Transcript{Text: "from amazon"}}
	require.NoError(t, manager.RegisterProvider(context.Background(), google))
	require.NoError(t, manager.RegisterProvider(context.Background(), amazon))

	transcript, err := manager.Transcribe(context.Background(), "amazon", "calls/abc.wav", "call-1")
	require.NoError(t, err)
	assert.Equal(t, "from amazon", transcript.Text)
	assert.Equal(t, 1, amazon.calls)
	assert.Equal(t, 0, google.calls)
}

func TestTranscribeFallsBackToDefault(t *testing.T) {
	manager := NewProviderManager(newTestLogger(), "google")

	google := &fakeProvider{name: "google", transcript: &call.Transcript{Text: "from google"}}
	require.NoError(t, manager.RegisterProvider(context.Background(), google))

	transcript, err := manager.Transcribe(context.Background(), "deepgram", "calls/abc.wav", "call-1")
	require.NoError(t, err)
	assert.Equal(t, "from google", transcript.Text)
	assert.Equal(t, 1, google.calls)
}

func TestTranscribeFillsProviderName(t *testing.T) {
	manager := NewProviderManager(newTestLogger(), "google")

	google := &fakeProvider{name: "google", transcript: &call.Transcript{Text: "hello there"}}
	require.NoError(t, manager.RegisterProvider(context.Background(), google))

	transcript, err := manager.Transcribe(context.Background(), "google", "calls/abc.wav", "call-1")
	require.NoError(t, err)
	assert.Equal(t, "google", transcript.Provider)
}

func TestTranscribeWithoutAnyProvider(t *testing.T) {
	manager := NewProviderManager(newTestLogger(), "google")

	transcript, err := manager.Transcribe(context.Background(), "google", "calls/abc.wav", "call-1")
	require.Error(t, err)
	assert.Nil(t, transcript)
	assert.True(t, stderrors.Is(err, ErrNoProviderAvailable))
	assert.True(t, errors.IsPermanent(err))
}

func TestTranscribePropagatesProviderError(t *testing.T) {
	manager := NewProviderManager(newTestLogger(), "google")

	google := &fakeProvider{name: "google", err: errors.Transient("stt backend overloaded")}
	require.NoError(t, manager.RegisterProvider(context.Background(), google))

	transcript, err := manager.Transcribe(context.Background(), "google", "calls/abc.wav", "call-1")
	require.Error(t, err)
	assert.Nil(t, transcript)
	assert.True(t, errors.IsTransient(err))
}

func TestRegisterProviderInitFailure(t *testing.T) {
	manager := NewProviderManager(newTestLogger(), "google")

	broken := &fakeProvider{name: "google", initErr: stderrors.New("missing credentials")}
	err := manager.RegisterProvider(context.Background(), broken)
	require.Error(t, err)

	_, exists := manager.GetProvider("google")
	assert.False(t, exists)
}

func TestMediaEncodingFromExtension(t *testing.T) {
	assert.Equal(t, "flac", string(mediaEncodingFor("calls/a.flac")))
	assert.Equal(t, "ogg-opus", string(mediaEncodingFor("calls/a.OGG")))
	assert.Equal(t, "pcm", string(mediaEncodingFor("calls/a.wav")))
	assert.Equal(t, "pcm", string(mediaEncodingFor("calls/a")))
}
