package insights

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callinsight-server/pkg/alerting"
	"callinsight-server/pkg/call"
	"callinsight-server/pkg/errors"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)
	return logger
}

// fakeScanner serves canned calls, filtering like the real store:
// status match, updated_at in [from, to). It returns them in reverse
// insertion order so reduce-order sorting is actually exercised.
type fakeScanner struct {
	calls []*call.Call
	delay time.Duration
	scans atomic.Int64
}

func (f *fakeScanner) ListByStatus(ctx context.Context, status call.Status, from, to time.Time) ([]*call.Call, error) {
	f.scans.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	var out []*call.Call
	for _, c := range f.calls {
		if c.Status != status || c.UpdatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && !c.UpdatedAt.Before(to) {
			continue
		}
		out = append(out, c)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

type fakeInsightStore struct {
	mu         sync.Mutex
	aggregates map[string]*Aggregate
	upserts    int
}

func newFakeInsightStore() *fakeInsightStore {
	return &fakeInsightStore{aggregates: make(map[string]*Aggregate)}
}

func (s *fakeInsightStore) Upsert(ctx context.Context, agg *Aggregate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *agg
	s.aggregates[agg.PeriodKey()] = &cp
	s.upserts++
	return nil
}

func (s *fakeInsightStore) Get(ctx context.Context, periodStart time.Time, periodType string) (*Aggregate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := (&Aggregate{PeriodStart: periodStart, PeriodType: periodType}).PeriodKey()
	agg, exists := s.aggregates[key]
	if !exists {
		return nil, errors.Wrap(errors.ErrNotFound, "no aggregate for period")
	}
	cp := *agg
	return &cp, nil
}

type fakeSink struct {
	mu           sync.Mutex
	observations []alerting.MetricObservation
}

func (s *fakeSink) EvaluateMetric(ctx context.Context, obs alerting.MetricObservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observations = append(s.observations, obs)
	return nil
}

func (s *fakeSink) byName(name string) (alerting.MetricObservation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, obs := range s.observations {
		if obs.MetricName == name {
			return obs, true
		}
	}
	return alerting.MetricObservation{}, false
}

var testDay = time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)

func analyzedFixture(callID string, updated time.Time, analysis *call.Analysis, qualityScore float64) *call.Call {
	return &call.Call{
		CallID:    callID,
		AudioRef:  "s3://call-audio/" + callID + ".wav",
		Status:    call.StatusAnalyzed,
		Version:   5,
		Analysis:  analysis,
		Quality:   &call.QualityVerdict{QualityScore: qualityScore, QualityLevel: call.QualityHigh},
		CreatedAt: updated.Add(-time.Hour),
		UpdatedAt: updated,
	}
}

func failedFixture(callID string, updated time.Time) *call.Call {
	return &call.Call{
		CallID:    callID,
		AudioRef:  "s3://call-audio/" + callID + ".wav",
		Status:    call.StatusFailed,
		Version:   3,
		Error:     &call.StageError{Stage: "transcribing", Message: "provider unreachable", AttemptCount: 3},
		CreatedAt: updated.Add(-time.Hour),
		UpdatedAt: updated,
	}
}

func sentimentAnalysis(overall string, score float64) *call.Analysis {
	return &call.Analysis{
		Summary:   "Walked the customer through the renewal and the open support issues in detail today.",
		Sentiment: &call.Sentiment{Overall: overall, Score: score, Confidence: 0.9},
	}
}

func newTestAggregator(scanner *fakeScanner, store *fakeInsightStore, sink MetricSink) *Aggregator {
	agg := NewAggregator(newTestLogger(), scanner, store, sink)
	agg.now = func() time.Time { return time.Date(2026, 8, 25, 0, 10, 0, 0, time.UTC) }
	return agg
}

func TestComputePeriodReducesDay(t *testing.T) {
	a1 := sentimentAnalysis("positive", 0.6)
	a1.PainPoints = []call.PainPoint{{Description: "Slow dashboard loading"}}
	a1.KeyTopics = []call.Topic{{Topic: "renewal"}}

	a2 := sentimentAnalysis("positive", 0.7)
	a2.PainPoints = []call.PainPoint{
		{Description: "slow dashboard loading"},
		{Description: "Confusing invoices"},
	}
	a2.KeyTopics = []call.Topic{{Topic: "renewal"}, {Topic: "billing"}}
	a2.Entities = []call.Entity{{Name: "Acme Manufacturing", Mentions: 3}}

	a3 := sentimentAnalysis("negative", -0.4)
	a3.Objections = []call.Objection{{Objection: "Price too high"}}

	scanner := &fakeScanner{calls: []*call.Call{
		analyzedFixture("c-01", testDay.Add(9*time.Hour), a1, 0.9),
		analyzedFixture("c-02", testDay.Add(11*time.Hour), a2, 0.8),
		analyzedFixture("c-03", testDay.Add(15*time.Hour), a3, 0.5),
		failedFixture("c-04", testDay.Add(16*time.Hour)),
		analyzedFixture("c-05", testDay.Add(25*time.Hour), sentimentAnalysis("positive", 0.9), 0.9),
		analyzedFixture("c-00", testDay.Add(-time.Hour), sentimentAnalysis("neutral", 0.0), 0.7),
	}}
	store := newFakeInsightStore()
	aggregator := newTestAggregator(scanner, store, nil)

	agg, err := aggregator.ComputePeriod(context.Background(), testDay.Add(13*time.Hour))
	require.NoError(t, err)

	assert.Equal(t, testDay, agg.PeriodStart)
	assert.Equal(t, PeriodDaily, agg.PeriodType)
	assert.Equal(t, "2026-08-24/daily", agg.PeriodKey())
	assert.Equal(t, 4, agg.TotalCalls, "calls outside the window stay out")
	assert.Equal(t, 3, agg.AnalyzedCalls)
	assert.Equal(t, 1, agg.FailedCalls)
	assert.InDelta(t, 0.25, agg.FailureRate, 1e-9)

	assert.Equal(t, map[string]int{"positive": 2, "negative": 1}, agg.Sentiment.Counts)
	assert.InDelta(t, 66.7, agg.Sentiment.Percentages["positive"], 1e-9)
	assert.InDelta(t, 33.3, agg.Sentiment.Percentages["negative"], 1e-9)
	var pctSum float64
	for _, pct := range agg.Sentiment.Percentages {
		pctSum += pct
	}
	assert.InDelta(t, 100.0, pctSum, 0.2)

	assert.InDelta(t, 0.3, agg.AverageSentimentScore, 1e-9)
	assert.InDelta(t, (0.9+0.8+0.5)/3, agg.AverageQualityScore, 1e-9)

	require.Len(t, agg.PainPoints, 2)
	assert.Equal(t, "Slow dashboard loading", agg.PainPoints[0].Name, "first-seen spelling wins")
	assert.Equal(t, 2, agg.PainPoints[0].Count)
	assert.Equal(t, []string{"c-01", "c-02"}, agg.PainPoints[0].ExampleCallIDs)
	assert.Equal(t, TrendNew, agg.PainPoints[0].Trend)

	require.Len(t, agg.Topics, 2)
	assert.Equal(t, "renewal", agg.Topics[0].Name)
	assert.Equal(t, 2, agg.Topics[0].Count)

	require.Len(t, agg.Entities, 1)
	assert.Equal(t, 3, agg.Entities[0].Count, "entities weigh by mention count")

	require.Len(t, agg.Objections, 1)
	assert.Equal(t, "Price too high", agg.Objections[0].Name)

	stored, err := store.Get(context.Background(), testDay, PeriodDaily)
	require.NoError(t, err)
	assert.Equal(t, agg.TotalCalls, stored.TotalCalls)
}

func TestComputePeriodIsIdempotent(t *testing.T) {
	a1 := sentimentAnalysis("positive", 0.6)
	a1.PainPoints = []call.PainPoint{{Description: "Slow dashboard loading"}}
	scanner := &fakeScanner{calls: []*call.Call{
		analyzedFixture("c-10", testDay.Add(9*time.Hour), a1, 0.9),
		analyzedFixture("c-11", testDay.Add(10*time.Hour), sentimentAnalysis("negative", -0.2), 0.6),
		failedFixture("c-12", testDay.Add(11*time.Hour)),
	}}
	store := newFakeInsightStore()
	aggregator := newTestAggregator(scanner, store, nil)

	first, err := aggregator.ComputePeriod(context.Background(), testDay)
	require.NoError(t, err)
	second, err := aggregator.ComputePeriod(context.Background(), testDay)
	require.NoError(t, err)

	firstJSON, err := json.Marshal(first)
	require.NoError(t, err)
	secondJSON, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(firstJSON), string(secondJSON), "recompute with unchanged input must reproduce the aggregate exactly")

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Equal(t, 2, store.upserts, "each compute is a full overwrite")
	assert.Len(t, store.aggregates, 1)
}

func TestComputePeriodTrendsAgainstPriorDay(t *testing.T) {
	store := newFakeInsightStore()
	prior := &Aggregate{
		PeriodStart: testDay.AddDate(0, 0, -1),
		PeriodType:  PeriodDaily,
		Entities: []RankedItem{
			{Name: "Initech", Count: 20},
			{Name: "acme manufacturing", Count: 10},
			{Name: "Globex", Count: 3},
		},
	}
	require.NoError(t, store.Upsert(context.Background(), prior))

	analysis := sentimentAnalysis("positive", 0.5)
	analysis.Entities = []call.Entity{
		{Name: "Acme Manufacturing", Mentions: 12},
		{Name: "Globex", Mentions: 3},
		{Name: "Initech", Mentions: 17},
		{Name: "Hooli", Mentions: 5},
	}
	scanner := &fakeScanner{calls: []*call.Call{
		analyzedFixture("c-20", testDay.Add(12*time.Hour), analysis, 0.8),
	}}
	aggregator := newTestAggregator(scanner, store, nil)

	agg, err := aggregator.ComputePeriod(context.Background(), testDay)
	require.NoError(t, err)

	trends := map[string]Trend{}
	for _, item := range agg.Entities {
		trends[item.Name] = item.Trend
	}
	assert.Equal(t, TrendIncreasing, trends["Acme Manufacturing"], "10 -> 12 is +20%")
	assert.Equal(t, TrendStable, trends["Globex"], "3 -> 3 is unchanged")
	assert.Equal(t, TrendDecreasing, trends["Initech"], "20 -> 17 is -15%")
	assert.Equal(t, TrendNew, trends["Hooli"], "absent from the prior period")
}

func TestClassifyTrendBoundaries(t *testing.T) {
	tests := []struct {
		name    string
		current int
		prior   int
		want    Trend
	}{
		{"zero prior is new", 5, 0, TrendNew},
		{"exactly +10% is stable", 110, 100, TrendStable},
		{"just above +10% is increasing", 111, 100, TrendIncreasing},
		{"exactly -10% is stable", 90, 100, TrendStable},
		{"just below -10% is decreasing", 89, 100, TrendDecreasing},
		{"unchanged is stable", 7, 7, TrendStable},
		{"dropped to zero is decreasing", 0, 4, TrendDecreasing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyTrend(tt.current, tt.prior))
		})
	}
}

func TestComputePeriodFeedsMetricSink(t *testing.T) {
	scanner := &fakeScanner{calls: []*call.Call{
		analyzedFixture("c-30", testDay.Add(9*time.Hour), sentimentAnalysis("positive", 0.4), 0.9),
		failedFixture("c-31", testDay.Add(10*time.Hour)),
	}}
	store := newFakeInsightStore()
	sink := &fakeSink{}
	aggregator := newTestAggregator(scanner, store, sink)

	_, err := aggregator.ComputePeriod(context.Background(), testDay)
	require.NoError(t, err)

	failureRate, ok := sink.byName("failure_rate")
	require.True(t, ok)
	assert.InDelta(t, 0.5, failureRate.Value, 1e-9)
	assert.Equal(t, "2026-08-24/daily", failureRate.Period)
	assert.Equal(t, []string{"c-31"}, failureRate.CallIDs, "failed calls back the failure-rate number")

	quality, ok := sink.byName("avg_quality_score")
	require.True(t, ok)
	assert.InDelta(t, 0.9, quality.Value, 1e-9)

	_, ok = sink.byName("avg_sentiment_score")
	assert.True(t, ok)
}

func TestComputePeriodSkipsMetricsForEmptyDay(t *testing.T) {
	scanner := &fakeScanner{}
	store := newFakeInsightStore()
	sink := &fakeSink{}
	aggregator := newTestAggregator(scanner, store, sink)

	agg, err := aggregator.ComputePeriod(context.Background(), testDay)
	require.NoError(t, err)
	assert.Equal(t, 0, agg.TotalCalls)
	assert.Equal(t, 0.0, agg.FailureRate)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Empty(t, sink.observations, "a day with no observations triggers no metric rules")
}

func TestComputePeriodCollapsesConcurrentRecomputes(t *testing.T) {
	scanner := &fakeScanner{
		calls: []*call.Call{analyzedFixture("c-40", testDay.Add(time.Hour), sentimentAnalysis("positive", 0.5), 0.8)},
		delay: 200 * time.Millisecond,
	}
	store := newFakeInsightStore()
	aggregator := newTestAggregator(scanner, store, nil)

	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := aggregator.ComputePeriod(context.Background(), testDay)
			assert.NoError(t, err)
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int64(2), scanner.scans.Load(), "one flight scans analyzed and failed once each")
	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Equal(t, 1, store.upserts)
}

func TestBackfillComputesEachDay(t *testing.T) {
	scanner := &fakeScanner{calls: []*call.Call{
		analyzedFixture("c-50", testDay.Add(-30*time.Hour), sentimentAnalysis("positive", 0.5), 0.8),
		analyzedFixture("c-51", testDay.Add(6*time.Hour), sentimentAnalysis("neutral", 0.0), 0.7),
	}}
	store := newFakeInsightStore()
	aggregator := newTestAggregator(scanner, store, nil)

	err := aggregator.Backfill(context.Background(), testDay.AddDate(0, 0, -2), testDay)
	require.NoError(t, err)

	store.mu.Lock()
	assert.Len(t, store.aggregates, 3)
	store.mu.Unlock()

	agg, err := store.Get(context.Background(), testDay.AddDate(0, 0, -2), PeriodDaily)
	require.NoError(t, err)
	assert.Equal(t, 1, agg.TotalCalls)

	err = aggregator.Backfill(context.Background(), testDay, testDay.AddDate(0, 0, -1))
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrInvalidInput))
}

func TestSchedulerRunDailyComputesYesterday(t *testing.T) {
	scanner := &fakeScanner{calls: []*call.Call{
		analyzedFixture("c-60", testDay.Add(8*time.Hour), sentimentAnalysis("positive", 0.5), 0.8),
	}}
	store := newFakeInsightStore()
	aggregator := newTestAggregator(scanner, store, nil)

	scheduler := NewScheduler(newTestLogger(), aggregator, "")
	scheduler.runDaily()

	agg, err := store.Get(context.Background(), testDay, PeriodDaily)
	require.NoError(t, err)
	assert.Equal(t, 1, agg.TotalCalls)
}

func TestSchedulerRejectsBadSchedule(t *testing.T) {
	aggregator := newTestAggregator(&fakeScanner{}, newFakeInsightStore(), nil)
	scheduler := NewScheduler(newTestLogger(), aggregator, "not a cron spec")
	require.Error(t, scheduler.Start())
}

func TestSchedulerStartStop(t *testing.T) {
	aggregator := newTestAggregator(&fakeScanner{}, newFakeInsightStore(), nil)
	scheduler := NewScheduler(newTestLogger(), aggregator, "10 0 * * *")

	require.NoError(t, scheduler.Start())
	require.NoError(t, scheduler.Start(), "second start is a no-op")
	scheduler.Stop()
	scheduler.Stop()
}
