package alerting

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"callinsight-server/pkg/call"
	"callinsight-server/pkg/errors"
	"callinsight-server/pkg/metrics"
)

// AlertStore is the persistence the engine runs on. Both store backends
// implement it; finds return a NotFound error when nothing matches.
type AlertStore interface {
	Create(ctx context.Context, alert *Alert) error
	Get(ctx context.Context, alertID string) (*Alert, error)
	Update(ctx context.Context, alert *Alert) error
	FindOpenByCallID(ctx context.Context, callID string) (*Alert, error)
	FindByMetricPeriod(ctx context.Context, metricName, period string) (*Alert, error)
	List(ctx context.Context, status AlertStatus, limit int) ([]*Alert, error)
	CountOpenBySeverity(ctx context.Context, minimum call.Severity) (int, error)
}

// Notifier delivers a newly created alert to an external channel.
// Delivery is best effort; a failed notification never rolls back the
// persisted alert.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, alert *Alert) error
}

// MetricObservation is one rolling metric handed over by the aggregator.
type MetricObservation struct {
	MetricName string
	Value      float64

	// Period identifies the aggregation window, e.g. "2025-08-24/daily".
	// Together with MetricName it is the dedup key for metric alerts.
	Period string

	// CallIDs are example calls behind the number, carried onto the alert.
	CallIDs []string
}

// Engine creates and updates alerts from quality verdicts and rolling
// metrics. It never transitions an existing alert on its own; lifecycle
// moves happen only through the explicit Acknowledge, Resolve, and
// Ignore operations.
type Engine struct {
	logger        *logrus.Entry
	store         AlertStore
	rules         []MetricRule
	notifiers     []Notifier
	notifyTimeout time.Duration
}

// NewEngine creates an alert engine over the given store and ruleset.
func NewEngine(logger *logrus.Logger, store AlertStore, rules []MetricRule, notifiers ...Notifier) *Engine {
	return &Engine{
		logger:        logger.WithField("component", "alert_engine"),
		store:         store,
		rules:         rules,
		notifiers:     notifiers,
		notifyTimeout: 10 * time.Second,
	}
}

// OnTransition watches committed call transitions and raises a quality
// alert when a call arrives analyzed with a verdict requiring review.
// This satisfies the orchestrator's observer hook.
func (e *Engine) OnTransition(ctx context.Context, record *call.Call, from, to call.Status) {
	if to != call.StatusAnalyzed {
		return
	}
	if record.Quality == nil || !record.Quality.RequiresReview {
		return
	}
	if _, err := e.RaiseQualityAlert(ctx, record); err != nil {
		e.logger.WithError(err).WithField("call_id", record.CallID).Error("Failed to raise quality alert")
	}
}

// RaiseQualityAlert creates one open quality alert for the call. If an
// open alert already covers the call the existing one stands and no
// duplicate is created.
func (e *Engine) RaiseQualityAlert(ctx context.Context, record *call.Call) (*Alert, error) {
	existing, err := e.store.FindOpenByCallID(ctx, record.CallID)
	if err == nil {
		e.logger.WithFields(logrus.Fields{
			"call_id":  record.CallID,
			"alert_id": existing.AlertID,
		}).Debug("Open alert already covers call")
		return existing, nil
	}
	if !errors.IsNotFound(err) {
		return nil, err
	}

	verdict := record.Quality
	now := time.Now().UTC()
	alert := &Alert{
		AlertID:     uuid.NewString(),
		Type:        AlertTypeQuality,
		Severity:    severityForVerdict(verdict),
		Status:      AlertStatusOpen,
		Title:       fmt.Sprintf("Call %s flagged for review", record.CallID),
		Description: describeVerdict(verdict),
		CallIDs:     []string{record.CallID},
		TriggeredAt: now,
		UpdatedAt:   now,
	}

	if err := e.store.Create(ctx, alert); err != nil {
		return nil, err
	}

	metrics.RecordAlertCreated(string(alert.Type), string(alert.Severity))
	e.logger.WithFields(logrus.Fields{
		"alert_id":      alert.AlertID,
		"call_id":       record.CallID,
		"severity":      alert.Severity,
		"quality_level": verdict.QualityLevel,
		"quality_score": verdict.QualityScore,
	}).Warn("Quality alert raised")

	e.notify(ctx, alert)
	e.refreshOpenGauge(ctx)
	return alert, nil
}

// EvaluateMetric checks one rolling metric against the rules. A
// triggering value creates the (metric_name, period) alert or, when the
// period was recomputed, updates the existing one in place.
func (e *Engine) EvaluateMetric(ctx context.Context, obs MetricObservation) error {
	rule, ok := e.ruleFor(obs.MetricName)
	if !ok || !rule.Triggers(obs.Value) {
		return nil
	}

	now := time.Now().UTC()
	existing, err := e.store.FindByMetricPeriod(ctx, obs.MetricName, obs.Period)
	if err == nil {
		existing.MetricValue = obs.Value
		existing.ThresholdValue = rule.Threshold
		existing.CallIDs = obs.CallIDs
		existing.Description = describeMetric(rule, obs)
		existing.UpdatedAt = now
		if err := e.store.Update(ctx, existing); err != nil {
			return err
		}
		e.logger.WithFields(logrus.Fields{
			"alert_id": existing.AlertID,
			"metric":   obs.MetricName,
			"period":   obs.Period,
			"value":    obs.Value,
		}).Info("Metric alert updated for recomputed period")
		return nil
	}
	if !errors.IsNotFound(err) {
		return err
	}

	alert := &Alert{
		AlertID:        uuid.NewString(),
		Type:           AlertTypeMetric,
		Severity:       rule.Severity,
		Status:         AlertStatusOpen,
		Title:          fmt.Sprintf("%s crossed its threshold", obs.MetricName),
		Description:    describeMetric(rule, obs),
		CallIDs:        obs.CallIDs,
		MetricName:     obs.MetricName,
		MetricValue:    obs.Value,
		ThresholdValue: rule.Threshold,
		Period:         obs.Period,
		TriggeredAt:    now,
		UpdatedAt:      now,
	}
	if err := e.store.Create(ctx, alert); err != nil {
		return err
	}

	metrics.RecordAlertCreated(string(alert.Type), string(alert.Severity))
	e.logger.WithFields(logrus.Fields{
		"alert_id":  alert.AlertID,
		"metric":    obs.MetricName,
		"period":    obs.Period,
		"value":     obs.Value,
		"threshold": rule.Threshold,
		"severity":  rule.Severity,
	}).Warn("Metric alert raised")

	e.notify(ctx, alert)
	e.refreshOpenGauge(ctx)
	return nil
}

// Acknowledge moves an open alert to acknowledged, recording who took it.
func (e *Engine) Acknowledge(ctx context.Context, alertID, actor string) (*Alert, error) {
	return e.transition(ctx, alertID, AlertStatusAcknowledged, func(alert *Alert, now time.Time) {
		alert.AcknowledgedAt = &now
		alert.AcknowledgedBy = actor
	})
}

// Resolve closes an alert with resolution notes.
func (e *Engine) Resolve(ctx context.Context, alertID, notes string) (*Alert, error) {
	return e.transition(ctx, alertID, AlertStatusResolved, func(alert *Alert, now time.Time) {
		alert.ResolvedAt = &now
		alert.ResolutionNotes = notes
	})
}

// Ignore closes an alert without action.
func (e *Engine) Ignore(ctx context.Context, alertID string) (*Alert, error) {
	return e.transition(ctx, alertID, AlertStatusIgnored, nil)
}

// List returns alerts, optionally filtered by status, newest first.
func (e *Engine) List(ctx context.Context, status AlertStatus, limit int) ([]*Alert, error) {
	return e.store.List(ctx, status, limit)
}

// GetAlert returns one alert by id.
func (e *Engine) GetAlert(ctx context.Context, alertID string) (*Alert, error) {
	return e.store.Get(ctx, alertID)
}

func (e *Engine) transition(ctx context.Context, alertID string, to AlertStatus, apply func(*Alert, time.Time)) (*Alert, error) {
	alert, err := e.store.Get(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(alert.Status, to) {
		return nil, errors.NewInvalidInput(fmt.Sprintf("alert cannot move from %s to %s", alert.Status, to),
			map[string]interface{}{"alert_id": alertID})
	}

	now := time.Now().UTC()
	alert.Status = to
	alert.UpdatedAt = now
	if apply != nil {
		apply(alert, now)
	}

	if err := e.store.Update(ctx, alert); err != nil {
		return nil, err
	}

	e.logger.WithFields(logrus.Fields{
		"alert_id": alertID,
		"status":   to,
	}).Info("Alert transitioned")
	e.refreshOpenGauge(ctx)
	return alert, nil
}

func (e *Engine) ruleFor(metricName string) (MetricRule, bool) {
	for _, rule := range e.rules {
		if rule.MetricName == metricName {
			return rule, true
		}
	}
	return MetricRule{}, false
}

// notify fans the alert out to every channel with a bounded deadline per
// attempt. Failures are logged and swallowed: the alert is already
// persisted and the review queue is the source of truth.
func (e *Engine) notify(ctx context.Context, alert *Alert) {
	for _, notifier := range e.notifiers {
		notifyCtx, cancel := context.WithTimeout(ctx, e.notifyTimeout)
		err := notifier.Notify(notifyCtx, alert)
		cancel()
		if err != nil {
			e.logger.WithError(err).WithFields(logrus.Fields{
				"alert_id": alert.AlertID,
				"channel":  notifier.Name(),
			}).Error("Failed to send alert notification")
			continue
		}
		e.logger.WithFields(logrus.Fields{
			"alert_id": alert.AlertID,
			"channel":  notifier.Name(),
		}).Debug("Alert notification sent")
	}
}

// refreshOpenGauge republishes the open-alert gauge per severity. The
// store counts at or above a severity floor, so adjacent differences
// recover the exact count for each level without hydrating any rows.
func (e *Engine) refreshOpenGauge(ctx context.Context) {
	above := 0
	for _, severity := range []call.Severity{call.SeverityCritical, call.SeverityHigh, call.SeverityMedium, call.SeverityLow} {
		atOrAbove, err := e.store.CountOpenBySeverity(ctx, severity)
		if err != nil {
			e.logger.WithError(err).Debug("Failed to refresh open alert gauge")
			return
		}
		metrics.SetOpenAlerts(string(severity), float64(atOrAbove-above))
		above = atOrAbove
	}
}

// severityForVerdict derives the alert severity from the worst issue on
// the verdict. A review flagged purely by a low score carries medium.
func severityForVerdict(verdict *call.QualityVerdict) call.Severity {
	severity := call.SeverityMedium
	for _, issue := range verdict.Issues {
		if issue.Severity.AtLeast(call.SeverityCritical) {
			return call.SeverityCritical
		}
		if issue.Severity.AtLeast(call.SeverityHigh) {
			severity = call.SeverityHigh
		}
	}
	return severity
}

func describeVerdict(verdict *call.QualityVerdict) string {
	var parts []string
	for _, issue := range verdict.Issues {
		if issue.Severity.AtLeast(call.SeverityMedium) {
			parts = append(parts, issue.Description)
		}
	}
	summary := fmt.Sprintf("Quality %s (score %.2f)", verdict.QualityLevel, verdict.QualityScore)
	if len(parts) == 0 {
		return summary
	}
	return summary + ": " + strings.Join(parts, "; ")
}

func describeMetric(rule MetricRule, obs MetricObservation) string {
	return fmt.Sprintf("%s is %.2f (%s %.2f) for %s",
		obs.MetricName, obs.Value, rule.Comparison, rule.Threshold, obs.Period)
}
