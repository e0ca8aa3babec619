package stt

import (
	"context"
	"hash/fnv"
	"strings"

	"github.com/sirupsen/logrus"

	"callinsight-server/pkg/call"
)

// MockProvider returns canned transcripts for development and tests
type MockProvider struct {
	logger *logrus.Logger
}

// NewMockProvider creates a new mock provider
func NewMockProvider(logger *logrus.Logger) *MockProvider {
	return &MockProvider{logger: logger}
}

// Name returns the provider name
func (p *MockProvider) Name() string {
	return "mock"
}

// Initialize initializes the mock provider
func (p *MockProvider) Initialize(ctx context.Context) error {
	p.logger.Info("Mock STT provider initialized")
	return nil
}

var mockTranscripts = []string{
	"Thanks for taking the time today. I wanted to walk you through the new reporting dashboard and hear how the rollout went on your side.",
	"We are happy with the product overall but the onboarding took longer than expected and two of our admins still cannot access the billing view.",
	"Pricing is the main concern for us right now. If we commit to the annual plan we would need the premium support tier included.",
	"The integration with our CRM worked on the first try. Next step is getting the finance team a demo before the end of the quarter.",
}

// Transcribe returns a canned transcript keyed off the audio reference, so
// repeated runs over the same call produce the same text.
func (p *MockProvider) Transcribe(ctx context.Context, audioRef string) (*call.Transcript, error) {
	h := fnv.New32a()
	h.Write([]byte(audioRef))
	text := mockTranscripts[int(h.Sum32())%len(mockTranscripts)]

	p.logger.WithField("audio_ref", audioRef).Debug("Mock STT provider returning canned transcript")

	return &call.Transcript{
		Text:       text,
		WordCount:  len(strings.Fields(text)),
		Language:   "en-US",
		Confidence: 0.95,
		Provider:   p.Name(),
	}, nil
}

var _ Provider = (*MockProvider)(nil)
