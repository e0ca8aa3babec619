package analysis

import (
	"encoding/json"
	"strings"

	"callinsight-server/pkg/call"
	"callinsight-server/pkg/errors"
)

// parseAnalysisResponse decodes the model's JSON into a call.Analysis.
// Models occasionally wrap JSON in a markdown fence despite instructions,
// so fences are stripped before decoding. Malformed output is classified
// transient: a retry gives the model another chance at valid JSON.
func parseAnalysisResponse(response string) (*call.Analysis, error) {
	cleaned := strings.TrimSpace(response)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	if cleaned == "" {
		return nil, errors.WrapTransient(errors.ErrAnalysisFailed,
			"model returned an empty response")
	}

	var analysis call.Analysis
	if err := json.Unmarshal([]byte(cleaned), &analysis); err != nil {
		return nil, errors.WrapTransient(errors.ErrAnalysisFailed,
			"model returned malformed JSON",
			map[string]interface{}{"parse_error": err.Error()})
	}

	normalizeAnalysis(&analysis)
	return &analysis, nil
}

// normalizeAnalysis lowercases the enum-valued fields so the quality
// validator and the insights aggregator compare them without casing
// variance from the model.
func normalizeAnalysis(analysis *call.Analysis) {
	if analysis.Sentiment != nil {
		analysis.Sentiment.Overall = strings.ToLower(strings.TrimSpace(analysis.Sentiment.Overall))
	}
	for i := range analysis.PainPoints {
		analysis.PainPoints[i].Severity = strings.ToLower(strings.TrimSpace(analysis.PainPoints[i].Severity))
	}
	for i := range analysis.Objections {
		analysis.Objections[i].ResolutionStatus = strings.ToLower(strings.TrimSpace(analysis.Objections[i].ResolutionStatus))
	}
	for i := range analysis.KeyTopics {
		analysis.KeyTopics[i].Importance = strings.ToLower(strings.TrimSpace(analysis.KeyTopics[i].Importance))
	}
	analysis.CallType = strings.ToLower(strings.TrimSpace(analysis.CallType))
	analysis.CallOutcome = strings.ToLower(strings.TrimSpace(analysis.CallOutcome))
	analysis.EngagementLevel = strings.ToLower(strings.TrimSpace(analysis.EngagementLevel))
}
