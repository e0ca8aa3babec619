package store

import (
	"context"
	"testing"
	"time"

	"callinsight-server/pkg/alerting"
	"callinsight-server/pkg/call"
	"callinsight-server/pkg/errors"
	"callinsight-server/pkg/insights"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCall(id string) *call.Call {
	return &call.Call{
		CallID:   id,
		Status:   call.StatusPending,
		AudioRef: "s3://calls/" + id + ".wav",
	}
}

func TestMemoryCallStoreCreateAndGet(t *testing.T) {
	s := NewMemoryCallStore()
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, newTestCall("call-1")))

	got, err := s.Get(ctx, "call-1")
	require.NoError(t, err)
	assert.Equal(t, "call-1", got.CallID)
	assert.Equal(t, call.StatusPending, got.Status)
	assert.Equal(t, int64(1), got.Version)
	assert.False(t, got.CreatedAt.IsZero())
	assert.False(t, got.UpdatedAt.IsZero())
}

func TestMemoryCallStoreCreateDuplicate(t *testing.T) {
	s := NewMemoryCallStore()
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, newTestCall("call-1")))

	err := s.Create(ctx, newTestCall("call-1"))
	require.Error(t, err)
	assert.True(t, errors.IsErrorType(err, errors.ErrCallAlreadyExists))
}

func TestMemoryCallStoreGetMissing(t *testing.T) {
	s := NewMemoryCallStore()

	_, err := s.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestMemoryCallStoreCompareAndSet(t *testing.T) {
	s := NewMemoryCallStore()
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, newTestCall("call-1")))

	updated, err := s.CompareAndSet(ctx, "call-1", 1, call.Patch{
		Status: call.StatusPtr(call.StatusUploading),
	})
	require.NoError(t, err)
	assert.Equal(t, call.StatusUploading, updated.Status)
	assert.Equal(t, int64(2), updated.Version)

	// A writer still holding version 1 must lose.
	_, err = s.CompareAndSet(ctx, "call-1", 1, call.Patch{
		Status: call.StatusPtr(call.StatusTranscribing),
	})
	require.Error(t, err)
	assert.True(t, errors.IsStale(err))

	got, err := s.Get(ctx, "call-1")
	require.NoError(t, err)
	assert.Equal(t, call.StatusUploading, got.Status)
	assert.Equal(t, int64(2), got.Version)
}

func TestMemoryCallStoreCompareAndSetMissing(t *testing.T) {
	s := NewMemoryCallStore()

	_, err := s.CompareAndSet(context.Background(), "missing", 1, call.Patch{
		Status: call.StatusPtr(call.StatusUploading),
	})
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestMemoryCallStoreCompareAndSetAppliesOnlyPatchedFields(t *testing.T) {
	s := NewMemoryCallStore()
	ctx := context.Background()

	c := newTestCall("call-1")
	c.Status = call.StatusTranscribing
	require.NoError(t, s.Create(ctx, c))

	transcript := &call.Transcript{Text: "hello there", WordCount: 2, Provider: "mock"}
	updated, err := s.CompareAndSet(ctx, "call-1", 1, call.Patch{
		Status:     call.StatusPtr(call.StatusAnalyzing),
		Transcript: transcript,
	})
	require.NoError(t, err)
	require.NotNil(t, updated.Transcript)
	assert.Equal(t, "hello there", updated.Transcript.Text)
	assert.Nil(t, updated.Analysis)
	assert.Nil(t, updated.Quality)
	assert.Nil(t, updated.Error)

	// A later patch without a transcript leaves the stored one alone.
	updated, err = s.CompareAndSet(ctx, "call-1", 2, call.Patch{
		Status: call.StatusPtr(call.StatusAnalyzed),
	})
	require.NoError(t, err)
	require.NotNil(t, updated.Transcript)
	assert.Equal(t, "hello there", updated.Transcript.Text)
}

func TestMemoryCallStoreReturnsCopies(t *testing.T) {
	s := NewMemoryCallStore()
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, newTestCall("call-1")))

	got, err := s.Get(ctx, "call-1")
	require.NoError(t, err)

	got.Status = call.StatusFailed
	got.AudioRef = "scribbled"

	fresh, err := s.Get(ctx, "call-1")
	require.NoError(t, err)
	assert.Equal(t, call.StatusPending, fresh.Status)
	assert.Equal(t, "s3://calls/call-1.wav", fresh.AudioRef)
}

func TestMemoryCallStoreListByStatus(t *testing.T) {
	s := NewMemoryCallStore()
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	s.now = func() time.Time { return clock }

	for i, id := range []string{"call-a", "call-b", "call-c"} {
		clock = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.Create(ctx, newTestCall(id)))
	}

	clock = base.Add(5 * time.Minute)
	_, err := s.CompareAndSet(ctx, "call-b", 1, call.Patch{
		Status: call.StatusPtr(call.StatusUploading),
	})
	require.NoError(t, err)

	pending, err := s.ListByStatus(ctx, call.StatusPending, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "call-a", pending[0].CallID)
	assert.Equal(t, "call-c", pending[1].CallID)

	// The window is [from, to): call-a at base is excluded by from,
	// call-c at base+2m is excluded by to.
	windowed, err := s.ListByStatus(ctx, call.StatusPending, base.Add(time.Minute), base.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, windowed)

	windowed, err = s.ListByStatus(ctx, call.StatusPending, base.Add(2*time.Minute), time.Time{})
	require.NoError(t, err)
	require.Len(t, windowed, 1)
	assert.Equal(t, "call-c", windowed[0].CallID)
}

func TestMemoryCallStoreListStale(t *testing.T) {
	s := NewMemoryCallStore()
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	s.now = func() time.Time { return clock }

	stuck := newTestCall("call-stuck")
	stuck.Status = call.StatusTranscribing
	require.NoError(t, s.Create(ctx, stuck))

	clock = base.Add(20 * time.Minute)
	fresh := newTestCall("call-fresh")
	fresh.Status = call.StatusTranscribing
	require.NoError(t, s.Create(ctx, fresh))

	done := newTestCall("call-done")
	done.Status = call.StatusAnalyzed
	require.NoError(t, s.Create(ctx, done))

	stale, err := s.ListStale(ctx,
		[]call.Status{call.StatusUploading, call.StatusTranscribing, call.StatusAnalyzing},
		base.Add(15*time.Minute),
	)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "call-stuck", stale[0].CallID)
}

func newTestAlert(id string, callIDs ...string) *alerting.Alert {
	return &alerting.Alert{
		AlertID:     id,
		Type:        alerting.AlertTypeQuality,
		Severity:    call.SeverityHigh,
		Status:      alerting.AlertStatusOpen,
		Title:       "low quality analysis",
		CallIDs:     callIDs,
		TriggeredAt: time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
}

func TestMemoryAlertStoreCreateGetUpdate(t *testing.T) {
	s := NewMemoryAlertStore()
	ctx := context.Background()

	a := newTestAlert("alert-1", "call-1")
	require.NoError(t, s.Create(ctx, a))

	err := s.Create(ctx, newTestAlert("alert-1"))
	require.Error(t, err)
	assert.True(t, errors.IsErrorType(err, errors.ErrAlreadyExists))

	got, err := s.Get(ctx, "alert-1")
	require.NoError(t, err)
	assert.Equal(t, alerting.AlertStatusOpen, got.Status)

	got.Status = alerting.AlertStatusAcknowledged
	got.AcknowledgedBy = "ops"
	require.NoError(t, s.Update(ctx, got))

	got, err = s.Get(ctx, "alert-1")
	require.NoError(t, err)
	assert.Equal(t, alerting.AlertStatusAcknowledged, got.Status)
	assert.Equal(t, "ops", got.AcknowledgedBy)
}

func TestMemoryAlertStoreFindOpenByCallID(t *testing.T) {
	s := NewMemoryAlertStore()
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, newTestAlert("alert-1", "call-1", "call-2")))

	got, err := s.FindOpenByCallID(ctx, "call-2")
	require.NoError(t, err)
	assert.Equal(t, "alert-1", got.AlertID)

	_, err = s.FindOpenByCallID(ctx, "call-9")
	require.Error(t, err)
	assert.True(t, errors.IsErrorType(err, errors.ErrNotFound))

	// Resolved alerts no longer cover their calls.
	got.Status = alerting.AlertStatusResolved
	require.NoError(t, s.Update(ctx, got))

	_, err = s.FindOpenByCallID(ctx, "call-2")
	require.Error(t, err)
	assert.True(t, errors.IsErrorType(err, errors.ErrNotFound))
}

func TestMemoryAlertStoreFindByMetricPeriod(t *testing.T) {
	s := NewMemoryAlertStore()
	ctx := context.Background()

	metric := &alerting.Alert{
		AlertID:        "alert-m1",
		Type:           alerting.AlertTypeMetric,
		Severity:       call.SeverityCritical,
		Status:         alerting.AlertStatusOpen,
		Title:          "failure rate above threshold",
		MetricName:     "failure_rate",
		MetricValue:    0.4,
		ThresholdValue: 0.25,
		Period:         "2025-06-01/daily",
		TriggeredAt:    time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
	}
	require.NoError(t, s.Create(ctx, metric))

	got, err := s.FindByMetricPeriod(ctx, "failure_rate", "2025-06-01/daily")
	require.NoError(t, err)
	assert.Equal(t, "alert-m1", got.AlertID)

	_, err = s.FindByMetricPeriod(ctx, "failure_rate", "2025-06-02/daily")
	require.Error(t, err)
	assert.True(t, errors.IsErrorType(err, errors.ErrNotFound))
}

func TestMemoryAlertStoreListAndCount(t *testing.T) {
	s := NewMemoryAlertStore()
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i, sev := range []call.Severity{call.SeverityInfo, call.SeverityHigh, call.SeverityCritical} {
		a := newTestAlert("alert-" + string(rune('a'+i)))
		a.Severity = sev
		a.TriggeredAt = base.Add(time.Duration(i) * time.Hour)
		require.NoError(t, s.Create(ctx, a))
	}

	resolved := newTestAlert("alert-z")
	resolved.Status = alerting.AlertStatusResolved
	resolved.TriggeredAt = base.Add(6 * time.Hour)
	require.NoError(t, s.Create(ctx, resolved))

	all, err := s.List(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "alert-z", all[0].AlertID)

	open, err := s.List(ctx, alerting.AlertStatusOpen, 2)
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, "alert-c", open[0].AlertID)
	assert.Equal(t, "alert-b", open[1].AlertID)

	n, err := s.CountOpenBySeverity(ctx, call.SeverityHigh)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.CountOpenBySeverity(ctx, call.SeverityCritical)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMemoryInsightStoreUpsertAndGet(t *testing.T) {
	s := NewMemoryInsightStore()
	ctx := context.Background()

	period := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	_, err := s.Get(ctx, period, insights.PeriodDaily)
	require.Error(t, err)
	assert.True(t, errors.IsErrorType(err, errors.ErrNotFound))

	agg := &insights.Aggregate{
		PeriodStart: period,
		PeriodType:  insights.PeriodDaily,
		TotalCalls:  10,
	}
	require.NoError(t, s.Upsert(ctx, agg))

	agg.TotalCalls = 12
	require.NoError(t, s.Upsert(ctx, agg))

	got, err := s.Get(ctx, period, insights.PeriodDaily)
	require.NoError(t, err)
	assert.Equal(t, 12, got.TotalCalls)
}
