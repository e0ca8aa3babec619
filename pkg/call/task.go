package call

import "time"

// Stage identifies one pipeline phase with a single external capability
// invocation.
type Stage string

const (
	StageTranscription Stage = "transcription"
	StageAnalysis      Stage = "analysis"
	StageEmbedding     Stage = "embedding"
)

// Valid reports whether st is a known stage.
func (st Stage) Valid() bool {
	switch st {
	case StageTranscription, StageAnalysis, StageEmbedding:
		return true
	}
	return false
}

// ExpectedStatus returns the call status a stage's worker requires before
// invoking the external capability. A mismatch means the delivery is
// duplicate or stale and must be acknowledged as a no-op.
func (st Stage) ExpectedStatus() Status {
	switch st {
	case StageTranscription:
		return StatusTranscribing
	case StageAnalysis:
		return StatusAnalyzing
	case StageEmbedding:
		return StatusAnalyzed
	}
	return ""
}

// Task is one unit of queued pipeline work referencing a call.
type Task struct {
	TaskID     string    `json:"task_id"`
	CallID     string    `json:"call_id"`
	Stage      Stage     `json:"stage"`
	FromStatus Status    `json:"from_status"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}
