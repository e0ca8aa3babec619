package call

// Severity ranks a quality issue's impact.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// severityRank orders severities for comparisons; higher is worse.
var severityRank = map[Severity]int{
	SeverityInfo:     0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// AtLeast reports whether s is as severe as other or worse.
func (s Severity) AtLeast(other Severity) bool {
	return severityRank[s] >= severityRank[other]
}

// QualityLevel buckets a quality score.
type QualityLevel string

const (
	QualityHigh   QualityLevel = "high"
	QualityMedium QualityLevel = "medium"
	QualityLow    QualityLevel = "low"
)

// Issue is one concrete completeness/consistency/confidence finding.
type Issue struct {
	Type        string   `json:"type"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
	FieldPath   string   `json:"field_path,omitempty"`
}

// QualityVerdict is the validator's output for one analysis result,
// computed exactly once per successful analysis stage and immutable after.
type QualityVerdict struct {
	QualityScore      float64      `json:"quality_score"`
	QualityLevel      QualityLevel `json:"quality_level"`
	CompletenessScore float64      `json:"completeness_score"`
	ConsistencyScore  float64      `json:"consistency_score"`
	ConfidenceScore   float64      `json:"confidence_score"`
	Issues            []Issue      `json:"issues,omitempty"`
	RequiresReview    bool         `json:"requires_review"`
	AlertTriggered    bool         `json:"alert_triggered"`
}
