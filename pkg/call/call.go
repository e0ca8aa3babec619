package call

import (
	"time"
)

// Status is the single source of truth for a call's pipeline position.
type Status string

const (
	StatusPending      Status = "pending"
	StatusUploading    Status = "uploading"
	StatusTranscribing Status = "transcribing"
	StatusAnalyzing    Status = "analyzing"
	StatusAnalyzed     Status = "analyzed"
	StatusFailed       Status = "failed"
)

// forwardOrder fixes the legal forward progression of a call. A status may
// only ever advance to its immediate successor or jump to failed.
var forwardOrder = map[Status]Status{
	StatusPending:      StatusUploading,
	StatusUploading:    StatusTranscribing,
	StatusTranscribing: StatusAnalyzing,
	StatusAnalyzing:    StatusAnalyzed,
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusUploading, StatusTranscribing, StatusAnalyzing, StatusAnalyzed, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusAnalyzed || s == StatusFailed
}

// CanTransition reports whether from -> to is a legal transition. Any
// non-terminal status may jump to failed; otherwise only the immediate
// successor is legal. Terminal states never transition.
func CanTransition(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	if to == StatusFailed {
		return true
	}
	return forwardOrder[from] == to
}

// NextStatus returns the immediate forward successor of s, if any.
func NextStatus(s Status) (Status, bool) {
	next, ok := forwardOrder[s]
	return next, ok
}

// Call is one audio call under processing.
type Call struct {
	CallID   string `json:"call_id"`
	Status   Status `json:"status"`
	AudioRef string `json:"audio_ref"`

	Transcript *Transcript     `json:"transcript,omitempty"`
	Analysis   *Analysis       `json:"analysis,omitempty"`
	Quality    *QualityVerdict `json:"quality,omitempty"`
	Error      *StageError     `json:"error,omitempty"`

	// Version is bumped on every successful compare-and-set update and is
	// the optimistic-locking token preventing lost updates from duplicate
	// deliveries.
	Version int64 `json:"version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StageError records why and where a call terminally failed.
type StageError struct {
	Stage        string `json:"stage"`
	Message      string `json:"message"`
	AttemptCount int    `json:"attempt_count"`
}

// Patch carries the fields a compare-and-set update may apply. Nil fields
// are left untouched; the store never exposes a blind overwrite.
type Patch struct {
	Status     *Status         `json:"status,omitempty"`
	Transcript *Transcript     `json:"transcript,omitempty"`
	Analysis   *Analysis       `json:"analysis,omitempty"`
	Quality    *QualityVerdict `json:"quality,omitempty"`
	Error      *StageError     `json:"error,omitempty"`
}

// Clone returns a deep enough copy for handing a call across goroutine
// boundaries; sub-records are immutable once set, so pointer sharing of
// their contents is safe but the pointers themselves are copied.
func (c *Call) Clone() *Call {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}

// StatusPtr is a convenience for building patches.
func StatusPtr(s Status) *Status {
	return &s
}
