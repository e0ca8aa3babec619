package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"callinsight-server/pkg/alerting"
	"callinsight-server/pkg/call"
	"callinsight-server/pkg/errors"
	"callinsight-server/pkg/insights"
)

// MemoryCallStore is a map-backed CallStore for tests and single-node
// development. Records are copied on the way in and out so callers can
// never alias store-internal state.
type MemoryCallStore struct {
	mutex sync.RWMutex
	calls map[string]*call.Call
	now   func() time.Time
}

// NewMemoryCallStore creates an empty in-memory call store.
func NewMemoryCallStore() *MemoryCallStore {
	return &MemoryCallStore{
		calls: make(map[string]*call.Call),
		now:   time.Now,
	}
}

// Create inserts a new call record.
func (s *MemoryCallStore) Create(ctx context.Context, c *call.Call) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, exists := s.calls[c.CallID]; exists {
		return errors.Wrap(errors.ErrCallAlreadyExists, "create call").WithField("call_id", c.CallID)
	}

	cp := c.Clone()
	now := s.now()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	if cp.Version == 0 {
		cp.Version = 1
	}

	s.calls[c.CallID] = cp
	return nil
}

// Get returns a copy of the current record.
func (s *MemoryCallStore) Get(ctx context.Context, callID string) (*call.Call, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	c, exists := s.calls[callID]
	if !exists {
		return nil, errors.NewCallNotFound(callID)
	}
	return c.Clone(), nil
}

// CompareAndSet applies the patch iff the stored version matches.
func (s *MemoryCallStore) CompareAndSet(ctx context.Context, callID string, expectedVersion int64, patch call.Patch) (*call.Call, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	c, exists := s.calls[callID]
	if !exists {
		return nil, errors.NewCallNotFound(callID)
	}

	if c.Version != expectedVersion {
		return nil, errors.Wrap(errors.ErrVersionMismatch, "compare-and-set call").WithFields(map[string]interface{}{
			"call_id":          callID,
			"expected_version": expectedVersion,
			"stored_version":   c.Version,
		})
	}

	updated := c.Clone()
	applyPatch(updated, patch)
	updated.Version++
	updated.UpdatedAt = s.now()

	s.calls[callID] = updated
	return updated.Clone(), nil
}

// ListByStatus returns calls in the given status updated within [from, to).
func (s *MemoryCallStore) ListByStatus(ctx context.Context, status call.Status, from, to time.Time) ([]*call.Call, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var out []*call.Call
	for _, c := range s.calls {
		if c.Status != status {
			continue
		}
		if c.UpdatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && !c.UpdatedAt.Before(to) {
			continue
		}
		out = append(out, c.Clone())
	}
	sortCalls(out)
	return out, nil
}

// ListStale returns calls stuck in one of the given statuses.
func (s *MemoryCallStore) ListStale(ctx context.Context, statuses []call.Status, olderThan time.Time) ([]*call.Call, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	wanted := make(map[call.Status]bool, len(statuses))
	for _, st := range statuses {
		wanted[st] = true
	}

	var out []*call.Call
	for _, c := range s.calls {
		if wanted[c.Status] && c.UpdatedAt.Before(olderThan) {
			out = append(out, c.Clone())
		}
	}
	sortCalls(out)
	return out, nil
}

// applyPatch copies the patch's non-nil fields onto the record.
func applyPatch(c *call.Call, patch call.Patch) {
	if patch.Status != nil {
		c.Status = *patch.Status
	}
	if patch.Transcript != nil {
		c.Transcript = patch.Transcript
	}
	if patch.Analysis != nil {
		c.Analysis = patch.Analysis
	}
	if patch.Quality != nil {
		c.Quality = patch.Quality
	}
	if patch.Error != nil {
		c.Error = patch.Error
	}
}

func sortCalls(calls []*call.Call) {
	sort.Slice(calls, func(i, j int) bool {
		if calls[i].UpdatedAt.Equal(calls[j].UpdatedAt) {
			return calls[i].CallID < calls[j].CallID
		}
		return calls[i].UpdatedAt.Before(calls[j].UpdatedAt)
	})
}

// MemoryAlertStore is a map-backed alert store.
type MemoryAlertStore struct {
	mutex  sync.RWMutex
	alerts map[string]*alerting.Alert
}

// NewMemoryAlertStore creates an empty in-memory alert store.
func NewMemoryAlertStore() *MemoryAlertStore {
	return &MemoryAlertStore{alerts: make(map[string]*alerting.Alert)}
}

// Create inserts a new alert.
func (s *MemoryAlertStore) Create(ctx context.Context, a *alerting.Alert) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, exists := s.alerts[a.AlertID]; exists {
		return errors.Wrap(errors.ErrAlreadyExists, "create alert").WithField("alert_id", a.AlertID)
	}
	cp := *a
	s.alerts[a.AlertID] = &cp
	return nil
}

// Get returns the alert or errors.ErrNotFound.
func (s *MemoryAlertStore) Get(ctx context.Context, alertID string) (*alerting.Alert, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	a, exists := s.alerts[alertID]
	if !exists {
		return nil, errors.Wrap(errors.ErrNotFound, "get alert").WithField("alert_id", alertID)
	}
	cp := *a
	return &cp, nil
}

// Update overwrites an existing alert.
func (s *MemoryAlertStore) Update(ctx context.Context, a *alerting.Alert) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, exists := s.alerts[a.AlertID]; !exists {
		return errors.Wrap(errors.ErrNotFound, "update alert").WithField("alert_id", a.AlertID)
	}
	cp := *a
	s.alerts[a.AlertID] = &cp
	return nil
}

// FindOpenByCallID returns the open alert covering the call, if any.
func (s *MemoryAlertStore) FindOpenByCallID(ctx context.Context, callID string) (*alerting.Alert, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	for _, a := range s.alerts {
		if a.Status == alerting.AlertStatusOpen && a.Covers(callID) {
			cp := *a
			return &cp, nil
		}
	}
	return nil, errors.Wrap(errors.ErrNotFound, "no open alert for call").WithField("call_id", callID)
}

// FindByMetricPeriod returns the alert deduplicated by (metric_name, period).
func (s *MemoryAlertStore) FindByMetricPeriod(ctx context.Context, metricName, period string) (*alerting.Alert, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	for _, a := range s.alerts {
		if a.Type == alerting.AlertTypeMetric && a.MetricName == metricName && a.Period == period {
			cp := *a
			return &cp, nil
		}
	}
	return nil, errors.Wrap(errors.ErrNotFound, "no alert for metric period").WithFields(map[string]interface{}{
		"metric_name": metricName,
		"period":      period,
	})
}

// List returns alerts, optionally filtered by status, newest first.
func (s *MemoryAlertStore) List(ctx context.Context, status alerting.AlertStatus, limit int) ([]*alerting.Alert, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var out []*alerting.Alert
	for _, a := range s.alerts {
		if status != "" && a.Status != status {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TriggeredAt.Equal(out[j].TriggeredAt) {
			return strings.Compare(out[i].AlertID, out[j].AlertID) < 0
		}
		return out[i].TriggeredAt.After(out[j].TriggeredAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CountOpenBySeverity counts open alerts at or above the given severity,
// feeding the critical-alert-count metric.
func (s *MemoryAlertStore) CountOpenBySeverity(ctx context.Context, minimum call.Severity) (int, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	n := 0
	for _, a := range s.alerts {
		if a.Status == alerting.AlertStatusOpen && a.Severity.AtLeast(minimum) {
			n++
		}
	}
	return n, nil
}

// MemoryInsightStore is a map-backed insight aggregate store with upsert
// semantics keyed by (period_start, period_type).
type MemoryInsightStore struct {
	mutex      sync.RWMutex
	aggregates map[string]*insights.Aggregate
}

// NewMemoryInsightStore creates an empty in-memory insight store.
func NewMemoryInsightStore() *MemoryInsightStore {
	return &MemoryInsightStore{aggregates: make(map[string]*insights.Aggregate)}
}

// Upsert overwrites the aggregate for its period.
func (s *MemoryInsightStore) Upsert(ctx context.Context, agg *insights.Aggregate) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	cp := *agg
	s.aggregates[agg.PeriodKey()] = &cp
	return nil
}

// Get returns the aggregate for a period or errors.ErrNotFound.
func (s *MemoryInsightStore) Get(ctx context.Context, periodStart time.Time, periodType string) (*insights.Aggregate, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	key := (&insights.Aggregate{PeriodStart: periodStart, PeriodType: periodType}).PeriodKey()
	agg, exists := s.aggregates[key]
	if !exists {
		return nil, errors.Wrap(errors.ErrNotFound, "no aggregate for period").WithField("period", key)
	}
	cp := *agg
	return &cp, nil
}
