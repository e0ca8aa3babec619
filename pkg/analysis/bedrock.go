package analysis

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/sirupsen/logrus"

	"callinsight-server/pkg/call"
	"callinsight-server/pkg/config"
	"callinsight-server/pkg/errors"
)

// BedrockProvider analyzes transcripts with Anthropic models hosted on
// Amazon Bedrock, using the Converse API. Credentials come from the
// default AWS chain (environment, shared config, instance role).
type BedrockProvider struct {
	logger *logrus.Entry
	config *config.AnalysisConfig
	client *bedrockruntime.Client
}

// NewBedrockProvider creates a Bedrock-backed analysis provider.
func NewBedrockProvider(logger *logrus.Logger, cfg *config.AnalysisConfig) *BedrockProvider {
	return &BedrockProvider{
		logger: logger.WithField("analysis_provider", "bedrock"),
		config: cfg,
	}
}

// Name returns the provider identifier.
func (p *BedrockProvider) Name() string {
	return "bedrock"
}

// Initialize resolves AWS credentials and builds the runtime client.
func (p *BedrockProvider) Initialize(ctx context.Context) error {
	if p.config == nil {
		return errors.New("bedrock provider configuration is nil")
	}
	if p.config.BedrockModelID == "" {
		return errors.New("bedrock provider requires a model ID")
	}

	region := p.config.BedrockRegion
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithRetryMaxAttempts(3),
		awsconfig.WithRetryMode(aws.RetryModeStandard),
	)
	if err != nil {
		return errors.Wrap(err, "failed to load AWS configuration")
	}

	p.client = bedrockruntime.NewFromConfig(awsCfg)

	p.logger.WithFields(logrus.Fields{
		"model_id": p.config.BedrockModelID,
		"region":   region,
	}).Info("Bedrock analysis provider initialized")

	return nil
}

// Analyze sends the transcript through the Converse API and parses the
// structured response.
func (p *BedrockProvider) Analyze(ctx context.Context, transcript *call.Transcript) (*call.Analysis, error) {
	if p.client == nil {
		return nil, errors.Permanent("bedrock provider is not initialized")
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline && p.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.RequestTimeout)
		defer cancel()
	}

	start := time.Now()

	output, err := p.client.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId: aws.String(p.config.BedrockModelID),
		System: []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: systemPrompt},
		},
		Messages: []types.Message{
			{
				Role: types.ConversationRoleUser,
				Content: []types.ContentBlock{
					&types.ContentBlockMemberText{Value: buildUserPrompt(transcript)},
				},
			},
		},
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens: aws.Int32(int32(p.config.MaxTokens)),
		},
	})
	if err != nil {
		return nil, classifyBedrockError(err, "bedrock converse request failed")
	}

	message, ok := output.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return nil, errors.WrapTransient(errors.ErrAnalysisFailed,
			"bedrock response carried no message output")
	}

	var builder strings.Builder
	for _, block := range message.Value.Content {
		if text, isText := block.(*types.ContentBlockMemberText); isText {
			builder.WriteString(text.Value)
		}
	}
	if builder.Len() == 0 {
		return nil, errors.WrapTransient(errors.ErrAnalysisFailed,
			"no text content in bedrock response")
	}

	p.logger.WithFields(logrus.Fields{
		"duration_ms": time.Since(start).Milliseconds(),
		"stop_reason": output.StopReason,
	}).Debug("Bedrock analysis completed")

	return parseAnalysisResponse(builder.String())
}

// classifyBedrockError maps Bedrock failures onto the retry taxonomy.
// Validation, access, and missing-model errors repeat on every attempt;
// throttling, model timeouts, and service errors are worth retrying.
func classifyBedrockError(err error, message string) error {
	var (
		validation   *types.ValidationException
		accessDenied *types.AccessDeniedException
		notFound     *types.ResourceNotFoundException
	)
	if stderrors.As(err, &validation) ||
		stderrors.As(err, &accessDenied) ||
		stderrors.As(err, &notFound) {
		return errors.WrapPermanent(err, message)
	}
	return errors.WrapTransient(err, message)
}

var _ Provider = (*BedrockProvider)(nil)
