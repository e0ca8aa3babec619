// Package stt adapts speech-to-text providers to the transcription stage.
// Providers take a durable audio reference and return a finished transcript;
// retry policy lives with the caller, so every provider error is classified
// transient or permanent at this boundary.
package stt

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"callinsight-server/pkg/call"
	"callinsight-server/pkg/errors"
)

// Provider defines the interface for speech-to-text providers
type Provider interface {
	// Initialize prepares the provider client for use
	Initialize(ctx context.Context) error

	// Name returns the provider name
	Name() string

	// Transcribe converts the referenced audio into a transcript
	Transcribe(ctx context.Context, audioRef string) (*call.Transcript, error)
}

// ProviderManager manages all speech-to-text providers
type ProviderManager struct {
	logger          *logrus.Logger
	providers       map[string]Provider
	defaultProvider string
}

// NewProviderManager creates a new provider manager
func NewProviderManager(logger *logrus.Logger, defaultProvider string) *ProviderManager {
	return &ProviderManager{
		logger:          logger,
		providers:       make(map[string]Provider),
		defaultProvider: defaultProvider,
	}
}

// RegisterProvider initializes and registers a speech-to-text provider
func (m *ProviderManager) RegisterProvider(ctx context.Context, provider Provider) error {
	if err := provider.Initialize(ctx); err != nil {
		m.logger.WithFields(logrus.Fields{
			"provider": provider.Name(),
			"error":    err,
		}).Error("Failed to initialize speech-to-text provider")
		return err
	}

	m.providers[provider.Name()] = provider
	m.logger.WithField("provider", provider.Name()).Info("Registered speech-to-text provider")

	return nil
}

// GetProvider returns a provider by name
func (m *ProviderManager) GetProvider(name string) (Provider, bool) {
	provider, exists := m.providers[name]
	return provider, exists
}

// GetDefaultProvider returns the default provider
func (m *ProviderManager) GetDefaultProvider() (Provider, bool) {
	return m.GetProvider(m.defaultProvider)
}

// Transcribe routes the audio reference to the named provider, falling back
// to the default provider when the requested one is not registered.
func (m *ProviderManager) Transcribe(ctx context.Context, providerName, audioRef, callID string) (*call.Transcript, error) {
	startTime := time.Now()

	m.logger.WithFields(logrus.Fields{
		"call_id":  callID,
		"provider": providerName,
	}).Info("Starting transcription")

	provider, exists := m.GetProvider(providerName)
	if !exists {
		m.logger.WithFields(logrus.Fields{
			"call_id":          callID,
			"provider":         providerName,
			"default_provider": m.defaultProvider,
		}).Warn("Provider not found, falling back to default")

		provider, exists = m.GetDefaultProvider()
		if !exists {
			return nil, errors.WrapPermanent(ErrNoProviderAvailable, "no transcription provider registered", map[string]interface{}{
				"requested": providerName,
				"default":   m.defaultProvider,
			})
		}
	}

	transcript, err := provider.Transcribe(ctx, audioRef)

	elapsed := time.Since(startTime)
	m.logger.WithFields(logrus.Fields{
		"call_id":     callID,
		"provider":    provider.Name(),
		"duration_ms": elapsed.Milliseconds(),
		"error":       err != nil,
	}).Info("Transcription completed")

	if err != nil {
		return nil, err
	}

	if transcript.Provider == "" {
		transcript.Provider = provider.Name()
	}
	return transcript, nil
}
