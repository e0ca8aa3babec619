// Package quality scores analysis results for completeness, internal
// consistency, and model confidence. Validate is pure: no I/O, and the
// same analysis and transcript always produce the same verdict.
//
// Scoring factors:
//   - completeness (weight 0.5): fraction of the expected result fields
//     present (summary of at least ten words, sentiment, at least one key
//     topic, call outcome). A missing next_steps list is reported as an
//     info issue but does not lower the score.
//   - consistency (weight 0.3): contradictions deduct from 1.0 (sentiment
//     label fighting its score, a positive outcome on a negative call,
//     objections claimed handled with no recorded approach).
//   - confidence (weight 0.2): the model's self-reported sentiment
//     confidence, corroborated against entity-mention volume for longer
//     transcripts.
package quality

import (
	"fmt"
	"math"
	"strings"

	"callinsight-server/pkg/call"
)

const (
	completenessWeight = 0.5
	consistencyWeight  = 0.3
	confidenceWeight   = 0.2

	highQualityMin   = 0.8
	mediumQualityMin = 0.5

	// minSummaryWords is the shortest summary counted as present.
	minSummaryWords = 10

	// corroborationMinWords is the transcript length above which an
	// analysis with zero extracted entities is treated as suspect.
	corroborationMinWords = 200
)

// Validate computes the quality verdict for one analysis result.
func Validate(analysis *call.Analysis, transcript *call.Transcript) call.QualityVerdict {
	if analysis == nil {
		analysis = &call.Analysis{}
	}

	var issues []call.Issue

	completeness := completenessScore(analysis, &issues)
	consistency := consistencyScore(analysis, &issues)
	confidence := confidenceScore(analysis, transcript, &issues)

	score := round2(completenessWeight*completeness +
		consistencyWeight*consistency +
		confidenceWeight*confidence)

	level := classify(score)

	requiresReview := level == call.QualityLow
	for _, issue := range issues {
		if issue.Severity.AtLeast(call.SeverityHigh) {
			requiresReview = true
			break
		}
	}

	return call.QualityVerdict{
		QualityScore:      score,
		QualityLevel:      level,
		CompletenessScore: round2(completeness),
		ConsistencyScore:  round2(consistency),
		ConfidenceScore:   round2(confidence),
		Issues:            issues,
		RequiresReview:    requiresReview,
		AlertTriggered:    requiresReview,
	}
}

// completenessScore is the fraction of expected fields present. Issues are
// appended in field order so verdicts are reproducible.
func completenessScore(a *call.Analysis, issues *[]call.Issue) float64 {
	const expected = 4
	present := 0

	if wordCount(a.Summary) >= minSummaryWords {
		present++
	} else {
		*issues = append(*issues, call.Issue{
			Type:        "missing_summary",
			Severity:    call.SeverityCritical,
			Description: fmt.Sprintf("Summary is missing or shorter than %d words", minSummaryWords),
			FieldPath:   "analysis.summary",
		})
	}

	if a.Sentiment != nil {
		present++
	} else {
		*issues = append(*issues, call.Issue{
			Type:        "missing_sentiment",
			Severity:    call.SeverityHigh,
			Description: "No sentiment assessment in the analysis",
			FieldPath:   "analysis.sentiment",
		})
	}

	if len(a.KeyTopics) > 0 {
		present++
	} else {
		*issues = append(*issues, call.Issue{
			Type:        "missing_topics",
			Severity:    call.SeverityMedium,
			Description: "No key topics identified",
			FieldPath:   "analysis.key_topics",
		})
	}

	if strings.TrimSpace(a.CallOutcome) != "" {
		present++
	} else {
		*issues = append(*issues, call.Issue{
			Type:        "missing_outcome",
			Severity:    call.SeverityMedium,
			Description: "Call outcome not stated",
			FieldPath:   "analysis.call_outcome",
		})
	}

	if len(a.NextSteps) == 0 {
		*issues = append(*issues, call.Issue{
			Type:        "missing_next_steps",
			Severity:    call.SeverityInfo,
			Description: "No next steps recorded",
			FieldPath:   "analysis.next_steps",
		})
	}

	return float64(present) / float64(expected)
}

// consistencyScore deducts for internal contradictions.
func consistencyScore(a *call.Analysis, issues *[]call.Issue) float64 {
	score := 1.0

	var overall string
	if a.Sentiment != nil {
		overall = strings.ToLower(a.Sentiment.Overall)

		if (overall == "positive" && a.Sentiment.Score <= -0.3) ||
			(overall == "negative" && a.Sentiment.Score >= 0.3) {
			score -= 0.15
			*issues = append(*issues, call.Issue{
				Type:     "sentiment_inconsistency",
				Severity: call.SeverityMedium,
				Description: fmt.Sprintf("Sentiment label %q contradicts score %.2f",
					a.Sentiment.Overall, a.Sentiment.Score),
				FieldPath: "analysis.sentiment",
			})
		}
	}

	if strings.ToLower(a.CallOutcome) == "positive" && overall == "negative" {
		score -= 0.1
		*issues = append(*issues, call.Issue{
			Type:        "outcome_sentiment_mismatch",
			Severity:    call.SeverityLow,
			Description: "Positive outcome reported for a negative-sentiment call",
			FieldPath:   "analysis.call_outcome",
		})
	}

	for i, obj := range a.Objections {
		if strings.ToLower(obj.ResolutionStatus) == "handled" &&
			strings.TrimSpace(obj.ResolutionApproach) == "" {
			score -= 0.1
			*issues = append(*issues, call.Issue{
				Type:        "objection_resolution_incomplete",
				Severity:    call.SeverityMedium,
				Description: "Objection marked handled with no resolution approach",
				FieldPath:   fmt.Sprintf("analysis.objections[%d]", i),
			})
		}
	}

	if score < 0 {
		score = 0
	}
	return score
}

// confidenceScore starts from the model's self-reported sentiment
// confidence and checks it against how much the analysis actually
// extracted from the transcript.
func confidenceScore(a *call.Analysis, transcript *call.Transcript, issues *[]call.Issue) float64 {
	score := 0.5
	if a.Sentiment != nil {
		score = clamp01(a.Sentiment.Confidence)

		if a.Sentiment.Confidence < 0.5 {
			*issues = append(*issues, call.Issue{
				Type:     "low_confidence",
				Severity: call.SeverityMedium,
				Description: fmt.Sprintf("Model reports low sentiment confidence (%.2f)",
					a.Sentiment.Confidence),
				FieldPath: "analysis.sentiment.confidence",
			})
		}
	}

	if transcript != nil && transcript.WordCount >= corroborationMinWords && totalMentions(a.Entities) == 0 {
		score -= 0.2
		*issues = append(*issues, call.Issue{
			Type:     "uncorroborated_analysis",
			Severity: call.SeverityLow,
			Description: fmt.Sprintf("No entity mentions extracted from a %d-word transcript",
				transcript.WordCount),
			FieldPath: "analysis.entities",
		})
	}

	return clamp01(score)
}

func classify(score float64) call.QualityLevel {
	switch {
	case score >= highQualityMin:
		return call.QualityHigh
	case score >= mediumQualityMin:
		return call.QualityMedium
	default:
		return call.QualityLow
	}
}

// totalMentions counts entity mentions, treating a listed entity without a
// mention count as one mention.
func totalMentions(entities []call.Entity) int {
	total := 0
	for _, e := range entities {
		if e.Mentions > 0 {
			total += e.Mentions
		} else {
			total++
		}
	}
	return total
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
