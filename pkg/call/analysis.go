package call

// Transcript is the structured result of the transcription stage, set once.
type Transcript struct {
	Text            string  `json:"text"`
	WordCount       int     `json:"word_count"`
	Language        string  `json:"language,omitempty"`
	Confidence      float64 `json:"confidence"`
	Provider        string  `json:"provider,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
}

// Sentiment is the analysis model's overall read of the call.
type Sentiment struct {
	Overall    string  `json:"overall"`
	Score      float64 `json:"score"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning,omitempty"`
}

// Entity is a named thing mentioned on the call.
type Entity struct {
	Name     string `json:"name"`
	Type     string `json:"type,omitempty"`
	Mentions int    `json:"mentions"`
	Context  string `json:"context,omitempty"`
}

// PainPoint is a customer problem surfaced during the call.
type PainPoint struct {
	Description string `json:"description"`
	Severity    string `json:"severity,omitempty"`
	Category    string `json:"category,omitempty"`
	Quote       string `json:"quote,omitempty"`
}

// Objection is a pushback raised by the customer and how it was handled.
type Objection struct {
	Objection          string `json:"objection"`
	Type               string `json:"type,omitempty"`
	ResolutionStatus   string `json:"resolution_status,omitempty"`
	ResolutionApproach string `json:"resolution_approach,omitempty"`
}

// Topic is a subject discussed on the call.
type Topic struct {
	Topic      string `json:"topic"`
	Importance string `json:"importance,omitempty"`
	Summary    string `json:"summary,omitempty"`
}

// Analysis is the structured result of the analysis stage, set once. Every
// field is optional from the model's point of view; the quality validator
// treats absence as a first-class condition.
type Analysis struct {
	Summary         string      `json:"summary,omitempty"`
	Sentiment       *Sentiment  `json:"sentiment,omitempty"`
	Entities        []Entity    `json:"entities,omitempty"`
	PainPoints      []PainPoint `json:"pain_points,omitempty"`
	Objections      []Objection `json:"objections,omitempty"`
	KeyTopics       []Topic     `json:"key_topics,omitempty"`
	CallType        string      `json:"call_type,omitempty"`
	CallOutcome     string      `json:"call_outcome,omitempty"`
	NextSteps       []string    `json:"next_steps,omitempty"`
	QuestionsRaised []string    `json:"questions_raised,omitempty"`
	EngagementLevel string      `json:"engagement_level,omitempty"`
}
