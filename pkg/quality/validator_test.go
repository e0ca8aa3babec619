package quality

import (
	"testing"

	"callinsight-server/pkg/call"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completeAnalysis() *call.Analysis {
	return &call.Analysis{
		Summary: "The customer discussed migration timelines and agreed to a follow-up demo next week.",
		Sentiment: &call.Sentiment{
			Overall:    "positive",
			Score:      0.6,
			Confidence: 0.9,
			Reasoning:  "Customer expressed clear interest throughout",
		},
		Entities: []call.Entity{
			{Name: "Acme Corp", Type: "organization", Mentions: 3},
		},
		KeyTopics: []call.Topic{
			{Topic: "migration", Importance: "high"},
			{Topic: "pricing"},
		},
		CallType:    "sales",
		CallOutcome: "demo scheduled",
		NextSteps:   []string{"Send recap email"},
	}
}

func longTranscript() *call.Transcript {
	return &call.Transcript{
		Text:       "transcript text",
		WordCount:  350,
		Confidence: 0.92,
	}
}

func TestValidateCompleteAnalysis(t *testing.T) {
	v := Validate(completeAnalysis(), longTranscript())

	assert.Equal(t, call.QualityHigh, v.QualityLevel)
	assert.InDelta(t, 0.98, v.QualityScore, 0.001)
	assert.InDelta(t, 1.0, v.CompletenessScore, 0.001)
	assert.InDelta(t, 1.0, v.ConsistencyScore, 0.001)
	assert.InDelta(t, 0.9, v.ConfidenceScore, 0.001)
	assert.Empty(t, v.Issues)
	assert.False(t, v.RequiresReview)
	assert.False(t, v.AlertTriggered)
}

func TestMissingSummaryIsCritical(t *testing.T) {
	a := completeAnalysis()
	a.Summary = "Too short."

	v := Validate(a, longTranscript())

	assert.InDelta(t, 0.75, v.CompletenessScore, 0.001)
	require.Len(t, v.Issues, 1)
	assert.Equal(t, "missing_summary", v.Issues[0].Type)
	assert.Equal(t, call.SeverityCritical, v.Issues[0].Severity)
	assert.Equal(t, "analysis.summary", v.Issues[0].FieldPath)

	// A critical issue forces review even at a high score.
	assert.Equal(t, call.QualityHigh, v.QualityLevel)
	assert.True(t, v.RequiresReview)
	assert.True(t, v.AlertTriggered)
}

func TestSummaryAtMinimumLengthCounts(t *testing.T) {
	a := completeAnalysis()
	a.Summary = "one two three four five six seven eight nine ten"

	v := Validate(a, longTranscript())

	assert.InDelta(t, 1.0, v.CompletenessScore, 0.001)
	assert.Empty(t, v.Issues)
}

func TestMissingNextStepsIsInfoOnly(t *testing.T) {
	a := completeAnalysis()
	a.NextSteps = nil

	v := Validate(a, longTranscript())

	assert.InDelta(t, 1.0, v.CompletenessScore, 0.001)
	require.Len(t, v.Issues, 1)
	assert.Equal(t, "missing_next_steps", v.Issues[0].Type)
	assert.Equal(t, call.SeverityInfo, v.Issues[0].Severity)
	assert.False(t, v.RequiresReview)
	assert.Equal(t, call.QualityHigh, v.QualityLevel)
}

func TestSentimentContradictionDeducts(t *testing.T) {
	a := completeAnalysis()
	a.Sentiment.Score = -0.5

	v := Validate(a, longTranscript())

	assert.InDelta(t, 0.85, v.ConsistencyScore, 0.001)
	require.Len(t, v.Issues, 1)
	assert.Equal(t, "sentiment_inconsistency", v.Issues[0].Type)
	assert.Equal(t, call.SeverityMedium, v.Issues[0].Severity)
	assert.False(t, v.RequiresReview)

	// Mirror case: negative label with a strongly positive score.
	b := completeAnalysis()
	b.Sentiment.Overall = "negative"
	b.Sentiment.Score = 0.5
	b.CallOutcome = "escalated"

	v = Validate(b, longTranscript())
	assert.InDelta(t, 0.85, v.ConsistencyScore, 0.001)
	require.Len(t, v.Issues, 1)
	assert.Equal(t, "sentiment_inconsistency", v.Issues[0].Type)
}

func TestPositiveOutcomeOnNegativeCall(t *testing.T) {
	a := completeAnalysis()
	a.Sentiment.Overall = "negative"
	a.Sentiment.Score = -0.6
	a.CallOutcome = "positive"

	v := Validate(a, longTranscript())

	assert.InDelta(t, 0.9, v.ConsistencyScore, 0.001)
	require.Len(t, v.Issues, 1)
	assert.Equal(t, "outcome_sentiment_mismatch", v.Issues[0].Type)
	assert.Equal(t, call.SeverityLow, v.Issues[0].Severity)
}

func TestObjectionHandledWithoutApproach(t *testing.T) {
	a := completeAnalysis()
	a.Objections = []call.Objection{
		{Objection: "price too high", ResolutionStatus: "handled"},
		{Objection: "timing", ResolutionStatus: "handled", ResolutionApproach: "offered phased rollout"},
	}

	v := Validate(a, longTranscript())

	assert.InDelta(t, 0.9, v.ConsistencyScore, 0.001)
	require.Len(t, v.Issues, 1)
	assert.Equal(t, "objection_resolution_incomplete", v.Issues[0].Type)
	assert.Equal(t, "analysis.objections[0]", v.Issues[0].FieldPath)
}

func TestLowSelfReportedConfidence(t *testing.T) {
	a := completeAnalysis()
	a.Sentiment.Confidence = 0.3

	v := Validate(a, longTranscript())

	assert.InDelta(t, 0.3, v.ConfidenceScore, 0.001)
	require.Len(t, v.Issues, 1)
	assert.Equal(t, "low_confidence", v.Issues[0].Type)
	assert.Equal(t, call.SeverityMedium, v.Issues[0].Severity)
}

func TestUncorroboratedAnalysis(t *testing.T) {
	a := completeAnalysis()
	a.Entities = nil

	v := Validate(a, longTranscript())

	assert.InDelta(t, 0.7, v.ConfidenceScore, 0.001)
	require.Len(t, v.Issues, 1)
	assert.Equal(t, "uncorroborated_analysis", v.Issues[0].Type)
	assert.Equal(t, call.SeverityLow, v.Issues[0].Severity)
}

func TestShortTranscriptSkipsCorroboration(t *testing.T) {
	a := completeAnalysis()
	a.Entities = nil

	v := Validate(a, &call.Transcript{Text: "brief call", WordCount: 40, Confidence: 0.8})

	assert.InDelta(t, 0.9, v.ConfidenceScore, 0.001)
	assert.Empty(t, v.Issues)
}

func TestEmptyAnalysisScoresLow(t *testing.T) {
	v := Validate(nil, nil)

	assert.InDelta(t, 0.0, v.CompletenessScore, 0.001)
	assert.InDelta(t, 1.0, v.ConsistencyScore, 0.001)
	assert.InDelta(t, 0.5, v.ConfidenceScore, 0.001)
	assert.InDelta(t, 0.4, v.QualityScore, 0.001)
	assert.Equal(t, call.QualityLow, v.QualityLevel)
	assert.True(t, v.RequiresReview)
	assert.True(t, v.AlertTriggered)

	types := make([]string, 0, len(v.Issues))
	for _, issue := range v.Issues {
		types = append(types, issue.Type)
	}
	assert.Equal(t, []string{
		"missing_summary",
		"missing_sentiment",
		"missing_topics",
		"missing_outcome",
		"missing_next_steps",
	}, types)
}

func TestVerdictIsDeterministic(t *testing.T) {
	a := completeAnalysis()
	a.Summary = ""
	a.Objections = []call.Objection{{Objection: "cost", ResolutionStatus: "handled"}}

	first := Validate(a, longTranscript())
	second := Validate(a, longTranscript())

	assert.Equal(t, first, second)
}

func TestQualityLevelBoundaries(t *testing.T) {
	assert.Equal(t, call.QualityHigh, classify(0.8))
	assert.Equal(t, call.QualityMedium, classify(0.79))
	assert.Equal(t, call.QualityMedium, classify(0.5))
	assert.Equal(t, call.QualityLow, classify(0.49))
}
