// Package messaging publishes pipeline lifecycle events to an AMQP
// broker so downstream systems can react to analyzed and failed calls
// without polling the store.
package messaging

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"callinsight-server/pkg/alerting"
	"callinsight-server/pkg/call"
)

// Event names carried in the envelope and as routing key suffixes.
const (
	EventCallAnalyzed = "call.analyzed"
	EventCallFailed   = "call.failed"
	EventAlertCreated = "alert.created"
)

// Event is the JSON envelope consumers receive.
type Event struct {
	Event     string                 `json:"event"`
	CallID    string                 `json:"call_id,omitempty"`
	Status    string                 `json:"status,omitempty"`
	Stage     string                 `json:"stage,omitempty"`
	AlertID   string                 `json:"alert_id,omitempty"`
	Severity  string                 `json:"severity,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// eventForTransition maps a committed call transition onto its outbound
// event. Only terminal arrivals publish; intermediate hops stay
// internal to the pipeline.
func eventForTransition(record *call.Call, to call.Status) (Event, bool) {
	switch to {
	case call.StatusAnalyzed:
		event := Event{
			Event:  EventCallAnalyzed,
			CallID: record.CallID,
			Status: string(to),
		}
		if record.Quality != nil {
			event.Fields = map[string]interface{}{
				"quality_level":   string(record.Quality.QualityLevel),
				"quality_score":   record.Quality.QualityScore,
				"requires_review": record.Quality.RequiresReview,
			}
		}
		return event, true
	case call.StatusFailed:
		event := Event{
			Event:  EventCallFailed,
			CallID: record.CallID,
			Status: string(to),
		}
		if record.Error != nil {
			event.Stage = record.Error.Stage
			event.Fields = map[string]interface{}{
				"message":  record.Error.Message,
				"attempts": record.Error.AttemptCount,
			}
		}
		return event, true
	default:
		return Event{}, false
	}
}

// OnTransition publishes the lifecycle event for a committed
// transition. This satisfies the orchestrator's observer hook; publish
// failures are logged, never propagated into the pipeline.
func (p *Publisher) OnTransition(ctx context.Context, record *call.Call, from, to call.Status) {
	event, ok := eventForTransition(record, to)
	if !ok {
		return
	}
	if err := p.Publish(ctx, event); err != nil {
		p.logger.WithError(err).WithFields(logrus.Fields{
			"event":   event.Event,
			"call_id": event.CallID,
		}).Error("Failed to publish lifecycle event")
		if p.IsConnected() {
			if dlqErr := p.PublishDeadLetter(ctx, event, "publish failed: "+err.Error()); dlqErr != nil {
				p.logger.WithError(dlqErr).Warn("Failed to park lifecycle event in dead letter queue")
			}
		}
	}
}

// EventNotifier adapts the publisher to the alert engine's notifier
// contract so alert creation also reaches the broker.
type EventNotifier struct {
	publisher *Publisher
}

// NewEventNotifier wraps a publisher as an alert notifier.
func NewEventNotifier(publisher *Publisher) *EventNotifier {
	return &EventNotifier{publisher: publisher}
}

func (n *EventNotifier) Name() string {
	return "amqp"
}

func (n *EventNotifier) Notify(ctx context.Context, alert *alerting.Alert) error {
	return n.publisher.Publish(ctx, Event{
		Event:    EventAlertCreated,
		AlertID:  alert.AlertID,
		Severity: string(alert.Severity),
		Fields: map[string]interface{}{
			"type":     string(alert.Type),
			"status":   string(alert.Status),
			"title":    alert.Title,
			"call_ids": alert.CallIDs,
		},
	})
}

var _ alerting.Notifier = (*EventNotifier)(nil)
