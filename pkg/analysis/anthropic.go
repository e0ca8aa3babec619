package analysis

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sirupsen/logrus"

	"callinsight-server/pkg/call"
	"callinsight-server/pkg/config"
	"callinsight-server/pkg/errors"
)

// AnthropicProvider analyzes transcripts with the Anthropic Messages API.
// The system prompt is sent with an ephemeral cache control marker so
// repeated analyses within the cache window reuse the prompt prefix.
type AnthropicProvider struct {
	logger *logrus.Entry
	config *config.AnalysisConfig
	client anthropic.Client
	ready  bool
}

// NewAnthropicProvider creates an Anthropic-backed analysis provider.
func NewAnthropicProvider(logger *logrus.Logger, cfg *config.AnalysisConfig) *AnthropicProvider {
	return &AnthropicProvider{
		logger: logger.WithField("analysis_provider", "anthropic"),
		config: cfg,
	}
}

// Name returns the provider identifier.
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// Initialize validates credentials and builds the API client.
func (p *AnthropicProvider) Initialize(ctx context.Context) error {
	if p.config == nil {
		return errors.New("anthropic provider configuration is nil")
	}
	if p.config.AnthropicAPIKey == "" {
		return errors.New("anthropic provider requires an API key")
	}

	p.client = anthropic.NewClient(option.WithAPIKey(p.config.AnthropicAPIKey))
	p.ready = true

	p.logger.WithFields(logrus.Fields{
		"model":      p.config.AnthropicModel,
		"max_tokens": p.config.MaxTokens,
	}).Info("Anthropic analysis provider initialized")

	return nil
}

// Analyze sends the transcript to the model and parses the structured
// response. Vendor errors are classified by HTTP status at this boundary.
func (p *AnthropicProvider) Analyze(ctx context.Context, transcript *call.Transcript) (*call.Analysis, error) {
	if !p.ready {
		return nil, errors.Permanent("anthropic provider is not initialized")
	}

	// Bound the request when the caller has not already set a deadline.
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && p.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.RequestTimeout)
		defer cancel()
	}

	start := time.Now()

	message, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(p.config.AnthropicModel),
		MaxTokens: int64(p.config.MaxTokens),
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt, CacheControl: anthropic.NewCacheControlEphemeralParam()},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(buildUserPrompt(transcript))),
		},
	})
	if err != nil {
		return nil, classifyAnthropicError(err, "anthropic message request failed")
	}

	var text string
	for _, block := range message.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	if text == "" {
		return nil, errors.WrapTransient(errors.ErrAnalysisFailed,
			"no text content in anthropic response")
	}

	p.logger.WithFields(logrus.Fields{
		"duration_ms":   time.Since(start).Milliseconds(),
		"input_tokens":  message.Usage.InputTokens,
		"output_tokens": message.Usage.OutputTokens,
		"cache_read":    message.Usage.CacheReadInputTokens,
	}).Debug("Anthropic analysis completed")

	return parseAnalysisResponse(text)
}

// classifyAnthropicError maps API failures onto the retry taxonomy.
// Client-side errors (bad request, auth, unknown model) will fail the
// same way on every attempt; rate limits and server errors will not.
func classifyAnthropicError(err error, message string) error {
	var apiErr *anthropic.Error
	if stderrors.As(err, &apiErr) {
		fields := map[string]interface{}{"status_code": apiErr.StatusCode}
		switch apiErr.StatusCode {
		case 400, 401, 403, 404, 413:
			return errors.WrapPermanent(err, message, fields)
		}
		return errors.WrapTransient(err, message, fields)
	}
	return errors.WrapTransient(err, message)
}

var _ Provider = (*AnthropicProvider)(nil)
