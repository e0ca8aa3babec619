package insights

import "time"

// PeriodDaily is the only period type currently produced. The aggregate key
// is (period_start, period_type) so other granularities can be added without
// a schema change.
const PeriodDaily = "daily"

// Trend classifies a metric against the immediately preceding period of
// equal length.
type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
	TrendNew        Trend = "new"
)

// RankedItem is one entry of a frequency-ranked list (pain points,
// objections, topics, entities).
type RankedItem struct {
	Name           string   `json:"name"`
	Count          int      `json:"count"`
	Trend          Trend    `json:"trend"`
	ExampleCallIDs []string `json:"example_call_ids,omitempty"`
}

// SentimentDistribution holds per-label counts and percentages. Percentages
// sum to 100 within rounding tolerance whenever any calls were observed.
type SentimentDistribution struct {
	Counts      map[string]int     `json:"counts"`
	Percentages map[string]float64 `json:"percentages"`
}

// Aggregate is the rollup of one fully-scanned period. Recomputation is an
// idempotent full overwrite keyed by (PeriodStart, PeriodType).
type Aggregate struct {
	PeriodStart time.Time `json:"period_start"`
	PeriodType  string    `json:"period_type"`

	TotalCalls    int `json:"total_calls"`
	AnalyzedCalls int `json:"analyzed_calls"`
	FailedCalls   int `json:"failed_calls"`

	Sentiment             SentimentDistribution `json:"sentiment"`
	AverageSentimentScore float64               `json:"average_sentiment_score"`
	AverageQualityScore   float64               `json:"average_quality_score"`
	FailureRate           float64               `json:"failure_rate"`

	PainPoints []RankedItem `json:"pain_points,omitempty"`
	Objections []RankedItem `json:"objections,omitempty"`
	Topics     []RankedItem `json:"topics,omitempty"`
	Entities   []RankedItem `json:"entities,omitempty"`

	ComputedAt time.Time `json:"computed_at"`
}

// PeriodKey renders the dedup key shared with metric alerts, e.g.
// "2026-08-24/daily".
func (a *Aggregate) PeriodKey() string {
	return a.PeriodStart.UTC().Format("2006-01-02") + "/" + a.PeriodType
}
