package store

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"callinsight-server/pkg/alerting"
	"callinsight-server/pkg/call"
	"callinsight-server/pkg/errors"
	"callinsight-server/pkg/insights"

	"github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"
)

// MySQL error 1062: duplicate entry for a unique key.
const mysqlDuplicateEntry = 1062

const selectCall = `
	SELECT call_id, status, audio_ref, transcript, analysis, quality,
	       error, version, created_at, updated_at
	FROM calls`

// MySQLCallStore persists call records in the calls table. CompareAndSet
// loads the row FOR UPDATE inside a transaction so the version check and the
// write are atomic.
type MySQLCallStore struct {
	db     *MySQLDatabase
	logger *logrus.Logger
}

// NewMySQLCallStore creates a MySQL-backed call store.
func NewMySQLCallStore(db *MySQLDatabase, logger *logrus.Logger) *MySQLCallStore {
	return &MySQLCallStore{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new call record.
func (s *MySQLCallStore) Create(ctx context.Context, c *call.Call) error {
	now := time.Now().UTC()
	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	version := c.Version
	if version == 0 {
		version = 1
	}

	transcript, analysis, quality, stageErr, err := callColumns(c)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO calls (
			call_id, status, audio_ref, transcript, analysis, quality,
			error, version, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.db.ExecContext(ctx, query,
		c.CallID, string(c.Status), c.AudioRef, transcript, analysis,
		quality, stageErr, version, createdAt, now,
	)

	if err != nil {
		var dup *mysql.MySQLError
		if stderrors.As(err, &dup) && dup.Number == mysqlDuplicateEntry {
			return errors.Wrap(errors.ErrCallAlreadyExists, "create call").WithField("call_id", c.CallID)
		}
		s.logger.WithError(err).WithField("call_id", c.CallID).Error("Failed to create call")
		return errors.NewStoreUnavailable(err, "create call").WithField("call_id", c.CallID)
	}

	s.logger.WithFields(logrus.Fields{
		"call_id": c.CallID,
		"status":  c.Status,
	}).Info("Call record created")

	return nil
}

// Get retrieves the current call record.
func (s *MySQLCallStore) Get(ctx context.Context, callID string) (*call.Call, error) {
	row := s.db.db.QueryRowContext(ctx, selectCall+` WHERE call_id = ?`, callID)

	c, err := scanCall(row)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.NewCallNotFound(callID)
		}
		s.logger.WithError(err).WithField("call_id", callID).Error("Failed to get call")
		return nil, errors.NewStoreUnavailable(err, "get call").WithField("call_id", callID)
	}

	return c, nil
}

// CompareAndSet applies the patch iff the stored version matches.
func (s *MySQLCallStore) CompareAndSet(ctx context.Context, callID string, expectedVersion int64, patch call.Patch) (*call.Call, error) {
	tx, err := s.db.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.NewStoreUnavailable(err, "begin compare-and-set").WithField("call_id", callID)
	}
	defer tx.Rollback()

	current, err := scanCall(tx.QueryRowContext(ctx, selectCall+` WHERE call_id = ? FOR UPDATE`, callID))
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.NewCallNotFound(callID)
		}
		s.logger.WithError(err).WithField("call_id", callID).Error("Failed to load call for update")
		return nil, errors.NewStoreUnavailable(err, "load call for update").WithField("call_id", callID)
	}

	if current.Version != expectedVersion {
		return nil, errors.Wrap(errors.ErrVersionMismatch, "compare-and-set call").WithFields(map[string]interface{}{
			"call_id":          callID,
			"expected_version": expectedVersion,
			"stored_version":   current.Version,
		})
	}

	updated := current.Clone()
	applyPatch(updated, patch)
	updated.Version++
	updated.UpdatedAt = time.Now().UTC()

	transcript, analysis, quality, stageErr, err := callColumns(updated)
	if err != nil {
		return nil, err
	}

	query := `
		UPDATE calls SET
			status = ?, transcript = ?, analysis = ?, quality = ?,
			error = ?, version = ?, updated_at = ?
		WHERE call_id = ? AND version = ?
	`

	_, err = tx.ExecContext(ctx, query,
		string(updated.Status), transcript, analysis, quality, stageErr,
		updated.Version, updated.UpdatedAt, callID, expectedVersion,
	)
	if err != nil {
		s.logger.WithError(err).WithField("call_id", callID).Error("Failed to update call")
		return nil, errors.NewStoreUnavailable(err, "compare-and-set call").WithField("call_id", callID)
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.NewStoreUnavailable(err, "commit compare-and-set").WithField("call_id", callID)
	}

	return updated, nil
}

// ListByStatus returns calls in the given status updated within [from, to).
func (s *MySQLCallStore) ListByStatus(ctx context.Context, status call.Status, from, to time.Time) ([]*call.Call, error) {
	query := selectCall + ` WHERE status = ?`
	args := []interface{}{string(status)}

	if !from.IsZero() {
		query += " AND updated_at >= ?"
		args = append(args, from)
	}
	if !to.IsZero() {
		query += " AND updated_at < ?"
		args = append(args, to)
	}

	query += " ORDER BY updated_at, call_id"

	return s.queryCalls(ctx, query, args...)
}

// ListStale returns calls stuck in one of the given statuses.
func (s *MySQLCallStore) ListStale(ctx context.Context, statuses []call.Status, olderThan time.Time) ([]*call.Call, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	args := make([]interface{}, 0, len(statuses)+1)
	for _, st := range statuses {
		args = append(args, string(st))
	}
	args = append(args, olderThan)

	query := selectCall + fmt.Sprintf(
		" WHERE status IN (%s) AND updated_at < ? ORDER BY updated_at, call_id",
		placeholders(len(statuses)),
	)

	return s.queryCalls(ctx, query, args...)
}

func (s *MySQLCallStore) queryCalls(ctx context.Context, query string, args ...interface{}) ([]*call.Call, error) {
	rows, err := s.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		s.logger.WithError(err).Error("Failed to query calls")
		return nil, errors.NewStoreUnavailable(err, "query calls")
	}
	defer rows.Close()

	var out []*call.Call
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			s.logger.WithError(err).Error("Failed to scan call row")
			continue
		}
		out = append(out, c)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.NewStoreUnavailable(err, "iterate call rows")
	}

	return out, nil
}

// rowScanner lets the scan helpers work on both sql.Row and sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCall(row rowScanner) (*call.Call, error) {
	var (
		c      call.Call
		status string

		transcriptJSON, analysisJSON, qualityJSON, errorJSON []byte
	)

	err := row.Scan(
		&c.CallID, &status, &c.AudioRef, &transcriptJSON, &analysisJSON,
		&qualityJSON, &errorJSON, &c.Version, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.Status = call.Status(status)

	if len(transcriptJSON) > 0 {
		c.Transcript = &call.Transcript{}
		if err := json.Unmarshal(transcriptJSON, c.Transcript); err != nil {
			return nil, fmt.Errorf("unmarshal transcript: %w", err)
		}
	}
	if len(analysisJSON) > 0 {
		c.Analysis = &call.Analysis{}
		if err := json.Unmarshal(analysisJSON, c.Analysis); err != nil {
			return nil, fmt.Errorf("unmarshal analysis: %w", err)
		}
	}
	if len(qualityJSON) > 0 {
		c.Quality = &call.QualityVerdict{}
		if err := json.Unmarshal(qualityJSON, c.Quality); err != nil {
			return nil, fmt.Errorf("unmarshal quality: %w", err)
		}
	}
	if len(errorJSON) > 0 {
		c.Error = &call.StageError{}
		if err := json.Unmarshal(errorJSON, c.Error); err != nil {
			return nil, fmt.Errorf("unmarshal error: %w", err)
		}
	}

	return &c, nil
}

// callColumns marshals the nullable JSON columns of a call record. A nil
// sub-record maps to SQL NULL.
func callColumns(c *call.Call) (transcript, analysis, quality, stageErr interface{}, err error) {
	if c.Transcript != nil {
		b, merr := json.Marshal(c.Transcript)
		if merr != nil {
			return nil, nil, nil, nil, errors.Wrap(merr, "marshal transcript").WithField("call_id", c.CallID)
		}
		transcript = b
	}
	if c.Analysis != nil {
		b, merr := json.Marshal(c.Analysis)
		if merr != nil {
			return nil, nil, nil, nil, errors.Wrap(merr, "marshal analysis").WithField("call_id", c.CallID)
		}
		analysis = b
	}
	if c.Quality != nil {
		b, merr := json.Marshal(c.Quality)
		if merr != nil {
			return nil, nil, nil, nil, errors.Wrap(merr, "marshal quality").WithField("call_id", c.CallID)
		}
		quality = b
	}
	if c.Error != nil {
		b, merr := json.Marshal(c.Error)
		if merr != nil {
			return nil, nil, nil, nil, errors.Wrap(merr, "marshal error").WithField("call_id", c.CallID)
		}
		stageErr = b
	}
	return transcript, analysis, quality, stageErr, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

const selectAlert = `
	SELECT a.alert_id, a.type, a.severity, a.status, a.title, a.description,
	       a.metric_name, a.metric_value, a.threshold_value, a.period,
	       a.triggered_at, a.acknowledged_at, a.acknowledged_by, a.resolved_at,
	       a.resolution_notes, a.updated_at
	FROM alerts a`

// MySQLAlertStore persists alerts in the alerts and alert_calls tables.
type MySQLAlertStore struct {
	db     *MySQLDatabase
	logger *logrus.Logger
}

// NewMySQLAlertStore creates a MySQL-backed alert store.
func NewMySQLAlertStore(db *MySQLDatabase, logger *logrus.Logger) *MySQLAlertStore {
	return &MySQLAlertStore{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new alert together with its call links.
func (s *MySQLAlertStore) Create(ctx context.Context, a *alerting.Alert) error {
	tx, err := s.db.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewStoreUnavailable(err, "begin create alert").WithField("alert_id", a.AlertID)
	}
	defer tx.Rollback()

	// Quality alerts store NULL metric columns so the (metric_name, period)
	// unique key only ever binds metric alerts.
	var metricName, period, metricValue, thresholdValue interface{}
	if a.Type == alerting.AlertTypeMetric {
		metricName = a.MetricName
		period = a.Period
		metricValue = a.MetricValue
		thresholdValue = a.ThresholdValue
	}

	query := `
		INSERT INTO alerts (
			alert_id, type, severity, status, title, description,
			metric_name, metric_value, threshold_value, period, triggered_at,
			acknowledged_at, acknowledged_by, resolved_at, resolution_notes,
			updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = tx.ExecContext(ctx, query,
		a.AlertID, string(a.Type), string(a.Severity), string(a.Status),
		a.Title, a.Description, metricName, metricValue, thresholdValue,
		period, a.TriggeredAt, a.AcknowledgedAt, a.AcknowledgedBy,
		a.ResolvedAt, a.ResolutionNotes, a.UpdatedAt,
	)
	if err != nil {
		var dup *mysql.MySQLError
		if stderrors.As(err, &dup) && dup.Number == mysqlDuplicateEntry {
			return errors.Wrap(errors.ErrAlreadyExists, "create alert").WithField("alert_id", a.AlertID)
		}
		s.logger.WithError(err).WithField("alert_id", a.AlertID).Error("Failed to create alert")
		return errors.NewStoreUnavailable(err, "create alert").WithField("alert_id", a.AlertID)
	}

	for _, callID := range a.CallIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO alert_calls (alert_id, call_id) VALUES (?, ?)`,
			a.AlertID, callID,
		); err != nil {
			return errors.NewStoreUnavailable(err, "link alert call").WithField("alert_id", a.AlertID)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.NewStoreUnavailable(err, "commit create alert").WithField("alert_id", a.AlertID)
	}

	s.logger.WithFields(logrus.Fields{
		"alert_id": a.AlertID,
		"type":     a.Type,
		"severity": a.Severity,
	}).Info("Alert created")

	return nil
}

// Get retrieves an alert with its call links.
func (s *MySQLAlertStore) Get(ctx context.Context, alertID string) (*alerting.Alert, error) {
	a, err := scanAlert(s.db.db.QueryRowContext(ctx, selectAlert+` WHERE a.alert_id = ?`, alertID))
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrap(errors.ErrNotFound, "get alert").WithField("alert_id", alertID)
		}
		s.logger.WithError(err).WithField("alert_id", alertID).Error("Failed to get alert")
		return nil, errors.NewStoreUnavailable(err, "get alert").WithField("alert_id", alertID)
	}

	if err := s.loadCallIDs(ctx, a); err != nil {
		return nil, err
	}

	return a, nil
}

// Update overwrites an alert's mutable fields and replaces its call links.
// The (metric_name, period) dedup key never changes after creation.
func (s *MySQLAlertStore) Update(ctx context.Context, a *alerting.Alert) error {
	tx, err := s.db.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewStoreUnavailable(err, "begin update alert").WithField("alert_id", a.AlertID)
	}
	defer tx.Rollback()

	var existing string
	err = tx.QueryRowContext(ctx, `SELECT alert_id FROM alerts WHERE alert_id = ? FOR UPDATE`, a.AlertID).Scan(&existing)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return errors.Wrap(errors.ErrNotFound, "update alert").WithField("alert_id", a.AlertID)
		}
		return errors.NewStoreUnavailable(err, "load alert for update").WithField("alert_id", a.AlertID)
	}

	var metricValue, thresholdValue interface{}
	if a.Type == alerting.AlertTypeMetric {
		metricValue = a.MetricValue
		thresholdValue = a.ThresholdValue
	}

	query := `
		UPDATE alerts SET
			severity = ?, status = ?, title = ?, description = ?,
			metric_value = ?, threshold_value = ?, acknowledged_at = ?,
			acknowledged_by = ?, resolved_at = ?, resolution_notes = ?,
			updated_at = ?
		WHERE alert_id = ?
	`

	_, err = tx.ExecContext(ctx, query,
		string(a.Severity), string(a.Status), a.Title, a.Description,
		metricValue, thresholdValue, a.AcknowledgedAt, a.AcknowledgedBy,
		a.ResolvedAt, a.ResolutionNotes, a.UpdatedAt, a.AlertID,
	)
	if err != nil {
		s.logger.WithError(err).WithField("alert_id", a.AlertID).Error("Failed to update alert")
		return errors.NewStoreUnavailable(err, "update alert").WithField("alert_id", a.AlertID)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM alert_calls WHERE alert_id = ?`, a.AlertID); err != nil {
		return errors.NewStoreUnavailable(err, "unlink alert calls").WithField("alert_id", a.AlertID)
	}
	for _, callID := range a.CallIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO alert_calls (alert_id, call_id) VALUES (?, ?)`,
			a.AlertID, callID,
		); err != nil {
			return errors.NewStoreUnavailable(err, "link alert call").WithField("alert_id", a.AlertID)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.NewStoreUnavailable(err, "commit update alert").WithField("alert_id", a.AlertID)
	}

	return nil
}

// FindOpenByCallID returns the open alert covering the call, if any.
func (s *MySQLAlertStore) FindOpenByCallID(ctx context.Context, callID string) (*alerting.Alert, error) {
	query := selectAlert + `
		JOIN alert_calls ac ON ac.alert_id = a.alert_id
		WHERE ac.call_id = ? AND a.status = 'open'
		ORDER BY a.triggered_at DESC
		LIMIT 1`

	a, err := scanAlert(s.db.db.QueryRowContext(ctx, query, callID))
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrap(errors.ErrNotFound, "no open alert for call").WithField("call_id", callID)
		}
		return nil, errors.NewStoreUnavailable(err, "find open alert").WithField("call_id", callID)
	}

	if err := s.loadCallIDs(ctx, a); err != nil {
		return nil, err
	}

	return a, nil
}

// FindByMetricPeriod returns the alert deduplicated by (metric_name, period).
func (s *MySQLAlertStore) FindByMetricPeriod(ctx context.Context, metricName, period string) (*alerting.Alert, error) {
	a, err := scanAlert(s.db.db.QueryRowContext(ctx,
		selectAlert+` WHERE a.metric_name = ? AND a.period = ?`,
		metricName, period,
	))
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrap(errors.ErrNotFound, "no alert for metric period").WithFields(map[string]interface{}{
				"metric_name": metricName,
				"period":      period,
			})
		}
		return nil, errors.NewStoreUnavailable(err, "find metric alert").WithField("metric_name", metricName)
	}

	return a, nil
}

// List returns alerts, optionally filtered by status, newest first.
func (s *MySQLAlertStore) List(ctx context.Context, status alerting.AlertStatus, limit int) ([]*alerting.Alert, error) {
	query := selectAlert
	var args []interface{}

	if status != "" {
		query += ` WHERE a.status = ?`
		args = append(args, string(status))
	}

	query += ` ORDER BY a.triggered_at DESC, a.alert_id`

	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		s.logger.WithError(err).Error("Failed to list alerts")
		return nil, errors.NewStoreUnavailable(err, "list alerts")
	}
	defer rows.Close()

	var out []*alerting.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			s.logger.WithError(err).Error("Failed to scan alert row")
			continue
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStoreUnavailable(err, "iterate alert rows")
	}

	for _, a := range out {
		if err := s.loadCallIDs(ctx, a); err != nil {
			return nil, err
		}
	}

	return out, nil
}

// CountOpenBySeverity counts open alerts at or above the given severity.
func (s *MySQLAlertStore) CountOpenBySeverity(ctx context.Context, minimum call.Severity) (int, error) {
	all := []call.Severity{
		call.SeverityCritical, call.SeverityHigh, call.SeverityMedium,
		call.SeverityLow, call.SeverityInfo,
	}

	var args []interface{}
	for _, sev := range all {
		if sev.AtLeast(minimum) {
			args = append(args, string(sev))
		}
	}

	query := fmt.Sprintf(
		`SELECT COUNT(*) FROM alerts WHERE status = 'open' AND severity IN (%s)`,
		placeholders(len(args)),
	)

	var n int
	if err := s.db.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, errors.NewStoreUnavailable(err, "count open alerts")
	}

	return n, nil
}

func (s *MySQLAlertStore) loadCallIDs(ctx context.Context, a *alerting.Alert) error {
	rows, err := s.db.db.QueryContext(ctx,
		`SELECT call_id FROM alert_calls WHERE alert_id = ? ORDER BY call_id`,
		a.AlertID,
	)
	if err != nil {
		return errors.NewStoreUnavailable(err, "load alert calls").WithField("alert_id", a.AlertID)
	}
	defer rows.Close()

	a.CallIDs = nil
	for rows.Next() {
		var callID string
		if err := rows.Scan(&callID); err != nil {
			return errors.NewStoreUnavailable(err, "scan alert call").WithField("alert_id", a.AlertID)
		}
		a.CallIDs = append(a.CallIDs, callID)
	}

	return rows.Err()
}

func scanAlert(row rowScanner) (*alerting.Alert, error) {
	var (
		a                           alerting.Alert
		alertType, severity, status string

		description, metricName, period sql.NullString
		acknowledgedBy, resolutionNotes sql.NullString
		metricValue, thresholdValue     sql.NullFloat64
		acknowledgedAt, resolvedAt      sql.NullTime
	)

	err := row.Scan(
		&a.AlertID, &alertType, &severity, &status, &a.Title, &description,
		&metricName, &metricValue, &thresholdValue, &period,
		&a.TriggeredAt, &acknowledgedAt, &acknowledgedBy, &resolvedAt,
		&resolutionNotes, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.Type = alerting.AlertType(alertType)
	a.Severity = call.Severity(severity)
	a.Status = alerting.AlertStatus(status)
	a.Description = description.String
	a.MetricName = metricName.String
	a.MetricValue = metricValue.Float64
	a.ThresholdValue = thresholdValue.Float64
	a.Period = period.String
	a.AcknowledgedBy = acknowledgedBy.String
	a.ResolutionNotes = resolutionNotes.String

	if acknowledgedAt.Valid {
		t := acknowledgedAt.Time
		a.AcknowledgedAt = &t
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		a.ResolvedAt = &t
	}

	return &a, nil
}

// MySQLInsightStore persists insight aggregates keyed by period.
type MySQLInsightStore struct {
	db     *MySQLDatabase
	logger *logrus.Logger
}

// NewMySQLInsightStore creates a MySQL-backed insight store.
func NewMySQLInsightStore(db *MySQLDatabase, logger *logrus.Logger) *MySQLInsightStore {
	return &MySQLInsightStore{
		db:     db,
		logger: logger,
	}
}

// Upsert overwrites the aggregate for its period.
func (s *MySQLInsightStore) Upsert(ctx context.Context, agg *insights.Aggregate) error {
	payload, err := json.Marshal(agg)
	if err != nil {
		return errors.Wrap(err, "marshal aggregate").WithField("period", agg.PeriodKey())
	}

	query := `
		INSERT INTO insights (period_start, period_type, aggregate, computed_at)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE aggregate = VALUES(aggregate), computed_at = VALUES(computed_at)
	`

	_, err = s.db.db.ExecContext(ctx, query,
		agg.PeriodStart.Format("2006-01-02"), agg.PeriodType, payload, agg.ComputedAt,
	)
	if err != nil {
		s.logger.WithError(err).WithField("period", agg.PeriodKey()).Error("Failed to upsert aggregate")
		return errors.NewStoreUnavailable(err, "upsert aggregate").WithField("period", agg.PeriodKey())
	}

	return nil
}

// Get returns the aggregate for a period.
func (s *MySQLInsightStore) Get(ctx context.Context, periodStart time.Time, periodType string) (*insights.Aggregate, error) {
	var payload []byte
	err := s.db.db.QueryRowContext(ctx,
		`SELECT aggregate FROM insights WHERE period_start = ? AND period_type = ?`,
		periodStart.Format("2006-01-02"), periodType,
	).Scan(&payload)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			key := (&insights.Aggregate{PeriodStart: periodStart, PeriodType: periodType}).PeriodKey()
			return nil, errors.Wrap(errors.ErrNotFound, "no aggregate for period").WithField("period", key)
		}
		return nil, errors.NewStoreUnavailable(err, "get aggregate")
	}

	var agg insights.Aggregate
	if err := json.Unmarshal(payload, &agg); err != nil {
		return nil, errors.Wrap(err, "unmarshal aggregate")
	}

	return &agg, nil
}

var (
	_ CallStore = (*MemoryCallStore)(nil)
	_ CallStore = (*MySQLCallStore)(nil)
)
