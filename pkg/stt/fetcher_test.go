package stt

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callinsight-server/pkg/errors"
)

func TestFetchLocalFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "call.wav")
	require.NoError(t, os.WriteFile(path, []byte("audio-bytes"), 0644))

	fetcher := NewFileAudioFetcher(time.Second)

	for _, ref := range []string{path, "file://" + path} {
		reader, err := fetcher.Fetch(context.Background(), ref)
		require.NoError(t, err)

		content, err := io.ReadAll(reader)
		require.NoError(t, err)
		require.NoError(t, reader.Close())
		assert.Equal(t, "audio-bytes", string(content))
	}
}

func TestFetchMissingFileIsPermanent(t *testing.T) {
	fetcher := NewFileAudioFetcher(time.Second)

	_, err := fetcher.Fetch(context.Background(), filepath.Join(t.TempDir(), "missing.wav"))
	require.Error(t, err)
	assert.True(t, errors.IsPermanent(err))
}

func TestFetchHTTP(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/call.wav":
			w.Write([]byte("remote-audio"))
		case "/missing.wav":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer server.Close()

	fetcher := NewFileAudioFetcher(5 * time.Second)

	reader, err := fetcher.Fetch(context.Background(), server.URL+"/call.wav")
	require.NoError(t, err)
	content, err := io.ReadAll(reader)
	require.NoError(t, err)
	require.NoError(t, reader.Close())
	assert.Equal(t, "remote-audio", string(content))

	_, err = fetcher.Fetch(context.Background(), server.URL+"/missing.wav")
	require.Error(t, err)
	assert.True(t, errors.IsPermanent(err))

	_, err = fetcher.Fetch(context.Background(), server.URL+"/unstable.wav")
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
}

func TestFetchConnectionErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	fetcher := NewFileAudioFetcher(time.Second)

	_, err := fetcher.Fetch(context.Background(), server.URL+"/call.wav")
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
}

func TestFetchUnsupportedScheme(t *testing.T) {
	fetcher := NewFileAudioFetcher(time.Second)

	_, err := fetcher.Fetch(context.Background(), "s3://bucket/call.wav")
	require.Error(t, err)
	assert.True(t, errors.IsPermanent(err))
}
