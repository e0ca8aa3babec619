package stt

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"callinsight-server/pkg/errors"
)

// AudioFetcher resolves an audio reference into a readable byte stream.
// Streaming providers consume fetched bytes; batch providers that accept
// storage URIs directly do not need one.
type AudioFetcher interface {
	Fetch(ctx context.Context, audioRef string) (io.ReadCloser, error)
}

// FileAudioFetcher reads audio from the local filesystem or over HTTP.
type FileAudioFetcher struct {
	httpClient *http.Client
}

// NewFileAudioFetcher creates a fetcher with the given HTTP timeout
func NewFileAudioFetcher(timeout time.Duration) *FileAudioFetcher {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &FileAudioFetcher{
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Fetch opens the referenced audio for reading
func (f *FileAudioFetcher) Fetch(ctx context.Context, audioRef string) (io.ReadCloser, error) {
	switch {
	case strings.HasPrefix(audioRef, "http://"), strings.HasPrefix(audioRef, "https://"):
		return f.fetchHTTP(ctx, audioRef)
	case strings.HasPrefix(audioRef, "file://"):
		return f.fetchFile(strings.TrimPrefix(audioRef, "file://"))
	case strings.Contains(audioRef, "://"):
		return nil, errors.Permanent("unsupported audio reference scheme", map[string]interface{}{
			"audio_ref": audioRef,
		})
	default:
		return f.fetchFile(audioRef)
	}
}

func (f *FileAudioFetcher) fetchHTTP(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.WrapPermanent(err, "invalid audio URL")
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, errors.WrapTransient(err, "failed to fetch audio")
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return resp.Body, nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		resp.Body.Close()
		return nil, errors.Transient(fmt.Sprintf("audio fetch returned status %d", resp.StatusCode), map[string]interface{}{
			"url": url,
		})
	default:
		resp.Body.Close()
		return nil, errors.Permanent(fmt.Sprintf("audio fetch returned status %d", resp.StatusCode), map[string]interface{}{
			"url": url,
		})
	}
}

func (f *FileAudioFetcher) fetchFile(path string) (io.ReadCloser, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.WrapPermanent(err, "failed to open audio file", map[string]interface{}{
			"path": path,
		})
	}
	return file, nil
}

var _ AudioFetcher = (*FileAudioFetcher)(nil)
