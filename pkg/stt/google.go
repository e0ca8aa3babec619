package stt

import (
	"context"
	"fmt"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"callinsight-server/pkg/call"
	"callinsight-server/pkg/config"
	"callinsight-server/pkg/errors"
)

// GoogleProvider implements the Provider interface for Google Speech-to-Text.
// Recognition runs as a batch LongRunningRecognize job on the audio URI, so
// the reference must point at storage the Speech API can read (gs:// URIs).
type GoogleProvider struct {
	logger   *logrus.Logger
	client   *speech.Client
	config   *config.GoogleSTTConfig
	language string
}

// NewGoogleProvider creates a new Google Speech-to-Text provider
func NewGoogleProvider(logger *logrus.Logger, cfg *config.GoogleSTTConfig, language string) *GoogleProvider {
	return &GoogleProvider{
		logger:   logger,
		config:   cfg,
		language: language,
	}
}

// Name returns the provider name
func (p *GoogleProvider) Name() string {
	return "google"
}

// Initialize initializes the Google Speech-to-Text client
func (p *GoogleProvider) Initialize(ctx context.Context) error {
	if p.config == nil {
		return fmt.Errorf("Google STT configuration is required")
	}

	if !p.config.Enabled {
		p.logger.Info("Google STT is disabled, skipping initialization")
		return nil
	}

	var clientOptions []option.ClientOption

	// Use API key if provided, otherwise use credentials file
	if p.config.APIKey != "" {
		clientOptions = append(clientOptions, option.WithAPIKey(p.config.APIKey))
		p.logger.Debug("Using Google STT API key authentication")
	} else if p.config.CredentialsFile != "" {
		clientOptions = append(clientOptions, option.WithCredentialsFile(p.config.CredentialsFile))
		p.logger.WithField("credentials_file", p.config.CredentialsFile).Debug("Using Google STT credentials file")
	} else {
		p.logger.Warn("No Google STT credentials provided (API key or credentials file)")
		return fmt.Errorf("Google STT requires either API key or credentials file")
	}

	var err error
	p.client, err = speech.NewClient(ctx, clientOptions...)
	if err != nil {
		p.logger.WithError(err).Error("Failed to create Google Speech client")
		return fmt.Errorf("failed to create Google Speech client: %w", err)
	}

	p.logger.WithFields(logrus.Fields{
		"language":    p.language,
		"sample_rate": p.config.SampleRate,
		"model":       p.config.Model,
	}).Info("Google Speech-to-Text client initialized")
	return nil
}

// Transcribe runs a batch recognition job against the referenced audio
func (p *GoogleProvider) Transcribe(ctx context.Context, audioRef string) (*call.Transcript, error) {
	if p.client == nil {
		return nil, errors.WrapPermanent(ErrInitializationFailed, "google provider has no client")
	}

	recognitionConfig := &speechpb.RecognitionConfig{
		Encoding:                   speechpb.RecognitionConfig_LINEAR16,
		SampleRateHertz:            int32(p.config.SampleRate),
		LanguageCode:               p.language,
		EnableAutomaticPunctuation: true,
	}
	if p.config.Model != "" {
		recognitionConfig.Model = p.config.Model
	}

	op, err := p.client.LongRunningRecognize(ctx, &speechpb.LongRunningRecognizeRequest{
		Config: recognitionConfig,
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Uri{Uri: audioRef},
		},
	})
	if err != nil {
		return nil, classifyGoogleError(err, "failed to start recognition")
	}

	resp, err := op.Wait(ctx)
	if err != nil {
		return nil, classifyGoogleError(err, "recognition did not complete")
	}

	var builder strings.Builder
	var confidenceSum float64
	var confidenceCount int
	var durationSeconds float64

	for _, result := range resp.Results {
		if len(result.Alternatives) == 0 {
			continue
		}
		alt := result.Alternatives[0]
		if alt.Transcript == "" {
			continue
		}
		if builder.Len() > 0 {
			builder.WriteString(" ")
		}
		builder.WriteString(strings.TrimSpace(alt.Transcript))
		confidenceSum += float64(alt.Confidence)
		confidenceCount++
		if result.ResultEndTime != nil {
			durationSeconds = result.ResultEndTime.AsDuration().Seconds()
		}
	}

	text := builder.String()
	if text == "" {
		return nil, errors.WrapPermanent(errors.ErrTranscriptionFailed, "no speech recognized", map[string]interface{}{
			"audio_ref": audioRef,
		})
	}

	confidence := 0.0
	if confidenceCount > 0 {
		confidence = confidenceSum / float64(confidenceCount)
	}

	return &call.Transcript{
		Text:            text,
		WordCount:       len(strings.Fields(text)),
		Language:        p.language,
		Confidence:      confidence,
		Provider:        p.Name(),
		DurationSeconds: durationSeconds,
	}, nil
}

// classifyGoogleError maps gRPC status codes onto the retry taxonomy
func classifyGoogleError(err error, message string) error {
	if s, ok := status.FromError(err); ok {
		switch s.Code() {
		case codes.InvalidArgument, codes.NotFound, codes.PermissionDenied,
			codes.Unauthenticated, codes.FailedPrecondition:
			return errors.WrapPermanent(err, message)
		}
	}
	return errors.WrapTransient(err, message)
}

var _ Provider = (*GoogleProvider)(nil)
