package alerting

import (
	"time"

	"callinsight-server/pkg/call"
)

// AlertType distinguishes per-call quality alerts from rolling metric alerts.
type AlertType string

const (
	AlertTypeQuality AlertType = "quality"
	AlertTypeMetric  AlertType = "metric"
)

// AlertStatus is the alert lifecycle position. Transitions happen only via
// explicit external action; the engine never auto-closes an alert.
type AlertStatus string

const (
	AlertStatusOpen         AlertStatus = "open"
	AlertStatusAcknowledged AlertStatus = "acknowledged"
	AlertStatusResolved     AlertStatus = "resolved"
	AlertStatusIgnored      AlertStatus = "ignored"
)

// legalAlertTransitions mirrors the lifecycle: open -> acknowledged ->
// resolved, with open/acknowledged also closable as ignored.
var legalAlertTransitions = map[AlertStatus][]AlertStatus{
	AlertStatusOpen:         {AlertStatusAcknowledged, AlertStatusResolved, AlertStatusIgnored},
	AlertStatusAcknowledged: {AlertStatusResolved, AlertStatusIgnored},
}

// CanTransition reports whether an alert may move from -> to.
func CanTransition(from, to AlertStatus) bool {
	for _, next := range legalAlertTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Alert is raised by the engine when a quality verdict requires review or a
// rolling metric crosses its threshold.
type Alert struct {
	AlertID     string        `json:"alert_id"`
	Type        AlertType     `json:"type"`
	Severity    call.Severity `json:"severity"`
	Status      AlertStatus   `json:"status"`
	Title       string        `json:"title"`
	Description string        `json:"description,omitempty"`

	// CallIDs references the calls the alert covers. Quality alerts carry
	// one; systemic metric alerts may aggregate several.
	CallIDs []string `json:"call_ids,omitempty"`

	// Metric-class fields; Period is part of the dedup key so recomputing
	// a period updates the existing alert instead of duplicating it.
	MetricName     string  `json:"metric_name,omitempty"`
	MetricValue    float64 `json:"metric_value,omitempty"`
	ThresholdValue float64 `json:"threshold_value,omitempty"`
	Period         string  `json:"period,omitempty"`

	TriggeredAt     time.Time  `json:"triggered_at"`
	AcknowledgedAt  *time.Time `json:"acknowledged_at,omitempty"`
	AcknowledgedBy  string     `json:"acknowledged_by,omitempty"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
	ResolutionNotes string     `json:"resolution_notes,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Covers reports whether the alert references the given call.
func (a *Alert) Covers(callID string) bool {
	for _, id := range a.CallIDs {
		if id == callID {
			return true
		}
	}
	return false
}
