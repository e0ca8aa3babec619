package stt

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/transcribestreaming"
	"github.com/aws/aws-sdk-go-v2/service/transcribestreaming/types"
	"github.com/sirupsen/logrus"

	"callinsight-server/pkg/call"
	"callinsight-server/pkg/config"
	"callinsight-server/pkg/errors"
)

// AmazonTranscribeProvider implements the Provider interface for Amazon
// Transcribe streaming. Audio is pulled through the fetcher and pushed over
// the event stream; only final result segments land in the transcript.
type AmazonTranscribeProvider struct {
	logger  *logrus.Logger
	client  *transcribestreaming.Client
	config  *config.AmazonSTTConfig
	fetcher AudioFetcher
	mutex   sync.RWMutex
}

// NewAmazonTranscribeProvider creates a new Amazon Transcribe provider
func NewAmazonTranscribeProvider(logger *logrus.Logger, cfg *config.AmazonSTTConfig, fetcher AudioFetcher) *AmazonTranscribeProvider {
	return &AmazonTranscribeProvider{
		logger:  logger,
		config:  cfg,
		fetcher: fetcher,
	}
}

// Name returns the provider name
func (p *AmazonTranscribeProvider) Name() string {
	return "amazon"
}

// Initialize initializes the Amazon Transcribe client
func (p *AmazonTranscribeProvider) Initialize(ctx context.Context) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.config == nil {
		return fmt.Errorf("Amazon STT configuration is required")
	}

	if !p.config.Enabled {
		p.logger.Info("Amazon STT is disabled, skipping initialization")
		return nil
	}

	region := p.config.Region
	if region == "" {
		region = "us-east-1"
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithRetryMaxAttempts(3),
		awsconfig.WithRetryMode(aws.RetryModeStandard),
	)
	if err != nil {
		p.logger.WithError(err).Error("Failed to load AWS configuration")
		return fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	p.client = transcribestreaming.NewFromConfig(cfg)

	p.logger.WithFields(logrus.Fields{
		"region":      region,
		"language":    p.config.Language,
		"sample_rate": p.config.SampleRate,
	}).Info("Amazon Transcribe provider initialized")

	return nil
}

// Transcribe streams the referenced audio through Amazon Transcribe
func (p *AmazonTranscribeProvider) Transcribe(ctx context.Context, audioRef string) (*call.Transcript, error) {
	p.mutex.RLock()
	client := p.client
	p.mutex.RUnlock()

	if client == nil {
		return nil, errors.WrapPermanent(ErrInitializationFailed, "amazon provider has no client")
	}

	audio, err := p.fetcher.Fetch(ctx, audioRef)
	if err != nil {
		return nil, err
	}
	defer audio.Close()

	input := &transcribestreaming.StartStreamTranscriptionInput{
		LanguageCode:         types.LanguageCode(p.config.Language),
		MediaSampleRateHertz: aws.Int32(int32(p.config.SampleRate)),
		MediaEncoding:        mediaEncodingFor(audioRef),
	}

	resp, err := client.StartStreamTranscription(ctx, input)
	if err != nil {
		return nil, classifyTranscribeError(err, "failed to start transcription stream")
	}

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errChan := make(chan error, 2)
	doneChan := make(chan struct{})
	collector := newTranscriptCollector()

	// Audio sender
	go func() {
		defer func() {
			if closeErr := resp.GetStream().Close(); closeErr != nil {
				p.logger.WithError(closeErr).Debug("Failed to close transcription stream")
			}
		}()

		buffer := make([]byte, 8192)
		for {
			select {
			case <-streamCtx.Done():
				return
			default:
			}

			n, readErr := audio.Read(buffer)
			if n > 0 {
				event := &types.AudioStreamMemberAudioEvent{
					Value: types.AudioEvent{AudioChunk: buffer[:n]},
				}
				if sendErr := resp.GetStream().Send(streamCtx, event); sendErr != nil {
					errChan <- sendErr
					return
				}
			}
			if readErr == io.EOF {
				return
			}
			if readErr != nil {
				errChan <- readErr
				return
			}
		}
	}()

	// Result receiver
	go func() {
		defer close(doneChan)

		for event := range resp.GetStream().Events() {
			if transcriptEvent, ok := event.(*types.TranscriptResultStreamMemberTranscriptEvent); ok {
				collector.add(transcriptEvent.Value)
			}
		}

		if streamErr := resp.GetStream().Err(); streamErr != nil {
			errChan <- streamErr
		}
	}()

	select {
	case err := <-errChan:
		cancel()
		return nil, classifyTranscribeError(err, "transcription stream failed")
	case <-ctx.Done():
		cancel()
		return nil, errors.WrapTransient(ctx.Err(), "transcription canceled")
	case <-doneChan:
	}

	// The receiver may have queued a stream error just before closing
	select {
	case err := <-errChan:
		return nil, classifyTranscribeError(err, "transcription stream failed")
	default:
	}

	transcript := collector.transcript(p.config.Language)
	if transcript.Text == "" {
		return nil, errors.WrapPermanent(errors.ErrTranscriptionFailed, "no speech recognized", map[string]interface{}{
			"audio_ref": audioRef,
		})
	}
	transcript.Provider = p.Name()

	return transcript, nil
}

// transcriptCollector accumulates final result segments from the stream
type transcriptCollector struct {
	mutex           sync.Mutex
	builder         strings.Builder
	confidenceSum   float64
	confidenceCount int
	endTime         float64
}

func newTranscriptCollector() *transcriptCollector {
	return &transcriptCollector{}
}

func (c *transcriptCollector) add(event types.TranscriptEvent) {
	if event.Transcript == nil {
		return
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	for _, result := range event.Transcript.Results {
		// Partial segments are superseded by their final version
		if result.IsPartial || len(result.Alternatives) == 0 {
			continue
		}

		alt := result.Alternatives[0]
		if alt.Transcript == nil || *alt.Transcript == "" {
			continue
		}

		if c.builder.Len() > 0 {
			c.builder.WriteString(" ")
		}
		c.builder.WriteString(strings.TrimSpace(*alt.Transcript))

		if result.EndTime > c.endTime {
			c.endTime = result.EndTime
		}
		for _, item := range alt.Items {
			if item.Confidence != nil {
				c.confidenceSum += *item.Confidence
				c.confidenceCount++
			}
		}
	}
}

func (c *transcriptCollector) transcript(language string) *call.Transcript {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	text := c.builder.String()
	confidence := 0.0
	if c.confidenceCount > 0 {
		confidence = c.confidenceSum / float64(c.confidenceCount)
	}

	return &call.Transcript{
		Text:            text,
		WordCount:       len(strings.Fields(text)),
		Language:        language,
		Confidence:      confidence,
		DurationSeconds: c.endTime,
	}
}

// mediaEncodingFor picks the stream encoding from the reference extension.
// WAV and raw payloads are sent as PCM.
func mediaEncodingFor(audioRef string) types.MediaEncoding {
	switch strings.ToLower(filepath.Ext(audioRef)) {
	case ".flac":
		return types.MediaEncodingFlac
	case ".ogg", ".opus":
		return types.MediaEncodingOggOpus
	default:
		return types.MediaEncodingPcm
	}
}

// classifyTranscribeError maps Transcribe service faults onto the retry taxonomy
func classifyTranscribeError(err error, message string) error {
	var badRequest *types.BadRequestException
	if stderrors.As(err, &badRequest) {
		return errors.WrapPermanent(err, message)
	}
	return errors.WrapTransient(err, message)
}

var _ Provider = (*AmazonTranscribeProvider)(nil)
