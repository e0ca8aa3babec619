// Package insights reduces analyzed calls into per-period aggregates:
// call volume, sentiment distribution, ranked mention lists, and
// quality metrics, each trend-classified against the prior period.
package insights

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"callinsight-server/pkg/alerting"
	"callinsight-server/pkg/call"
	"callinsight-server/pkg/errors"
	"callinsight-server/pkg/metrics"
)

// CallScanner is the read-only slice of the call store the aggregator
// needs. The aggregator never writes call records.
type CallScanner interface {
	ListByStatus(ctx context.Context, status call.Status, from, to time.Time) ([]*call.Call, error)
}

// InsightStore persists aggregates with full-overwrite upsert semantics
// keyed by period.
type InsightStore interface {
	Upsert(ctx context.Context, agg *Aggregate) error
	Get(ctx context.Context, periodStart time.Time, periodType string) (*Aggregate, error)
}

// MetricSink receives the rolling metrics a computed period produced.
// The alert engine implements it.
type MetricSink interface {
	EvaluateMetric(ctx context.Context, obs alerting.MetricObservation) error
}

const (
	rankedListLimit   = 10
	entityListLimit   = 20
	exampleCallsLimit = 3
)

// Aggregator is the daily batch reducer. It scans calls that reached a
// terminal status within the period, overwrites the period's aggregate,
// and hands the rolling metrics to the sink. Recomputing a period with
// unchanged inputs reproduces the aggregate exactly.
type Aggregator struct {
	logger *logrus.Entry
	calls  CallScanner
	store  InsightStore
	sink   MetricSink

	group singleflight.Group
	now   func() time.Time
}

// NewAggregator creates an aggregator. The sink may be nil when no
// alert engine is wired.
func NewAggregator(logger *logrus.Logger, calls CallScanner, store InsightStore, sink MetricSink) *Aggregator {
	return &Aggregator{
		logger: logger.WithField("component", "aggregator"),
		calls:  calls,
		store:  store,
		sink:   sink,
		now:    time.Now,
	}
}

// ComputePeriod recomputes the daily aggregate for the day containing t
// and returns it. Concurrent recomputes of the same period collapse
// into one scan; the first caller's context bounds it.
func (a *Aggregator) ComputePeriod(ctx context.Context, day time.Time) (*Aggregate, error) {
	return a.compute(ctx, day, "manual")
}

// Backfill recomputes every day in [from, to] inclusive.
func (a *Aggregator) Backfill(ctx context.Context, from, to time.Time) error {
	start := startOfDay(from)
	end := startOfDay(to)
	if end.Before(start) {
		return errors.NewInvalidInput("backfill range ends before it starts",
			map[string]interface{}{"from": start, "to": end})
	}

	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		if _, err := a.compute(ctx, day, "backfill"); err != nil {
			return err
		}
	}
	return nil
}

func (a *Aggregator) compute(ctx context.Context, day time.Time, trigger string) (*Aggregate, error) {
	periodStart := startOfDay(day)
	key := periodStart.Format("2006-01-02") + "/" + PeriodDaily

	result, err, _ := a.group.Do(key, func() (interface{}, error) {
		return a.computePeriod(ctx, periodStart, trigger)
	})
	if err != nil {
		return nil, err
	}
	return result.(*Aggregate), nil
}

func (a *Aggregator) computePeriod(ctx context.Context, periodStart time.Time, trigger string) (*Aggregate, error) {
	done := metrics.ObserveAggregationDuration()
	defer done()

	periodEnd := periodStart.Add(24 * time.Hour)

	analyzed, err := a.calls.ListByStatus(ctx, call.StatusAnalyzed, periodStart, periodEnd)
	if err != nil {
		metrics.RecordAggregationRun(trigger, "error")
		return nil, errors.Wrap(err, "failed to scan analyzed calls",
			map[string]interface{}{"period_start": periodStart})
	}
	failed, err := a.calls.ListByStatus(ctx, call.StatusFailed, periodStart, periodEnd)
	if err != nil {
		metrics.RecordAggregationRun(trigger, "error")
		return nil, errors.Wrap(err, "failed to scan failed calls",
			map[string]interface{}{"period_start": periodStart})
	}

	// Scan order is backend-dependent; reduce in call_id order so
	// recomputation reproduces the aggregate bit for bit.
	sortByCallID(analyzed)
	sortByCallID(failed)

	agg := a.reduce(periodStart, analyzed, failed)

	prior, err := a.store.Get(ctx, periodStart.AddDate(0, 0, -1), PeriodDaily)
	if err != nil {
		if !errors.IsNotFound(err) {
			metrics.RecordAggregationRun(trigger, "error")
			return nil, err
		}
		prior = nil
	}
	applyTrends(agg, prior)

	if err := a.store.Upsert(ctx, agg); err != nil {
		metrics.RecordAggregationRun(trigger, "error")
		return nil, errors.Wrap(err, "failed to persist aggregate",
			map[string]interface{}{"period": agg.PeriodKey()})
	}

	metrics.RecordAggregationRun(trigger, "success")
	a.logger.WithFields(logrus.Fields{
		"period":         agg.PeriodKey(),
		"total_calls":    agg.TotalCalls,
		"analyzed_calls": agg.AnalyzedCalls,
		"failed_calls":   agg.FailedCalls,
		"trigger":        trigger,
	}).Info("Period aggregate computed")

	a.reportMetrics(ctx, agg, failed)
	return agg, nil
}

func (a *Aggregator) reduce(periodStart time.Time, analyzed, failed []*call.Call) *Aggregate {
	agg := &Aggregate{
		PeriodStart:   periodStart,
		PeriodType:    PeriodDaily,
		TotalCalls:    len(analyzed) + len(failed),
		AnalyzedCalls: len(analyzed),
		FailedCalls:   len(failed),
		Sentiment: SentimentDistribution{
			Counts:      map[string]int{},
			Percentages: map[string]float64{},
		},
		ComputedAt: a.now().UTC(),
	}
	if agg.TotalCalls > 0 {
		agg.FailureRate = float64(agg.FailedCalls) / float64(agg.TotalCalls)
	}

	pains := newMentionCounter()
	objections := newMentionCounter()
	topics := newMentionCounter()
	entities := newMentionCounter()

	var sentimentSum float64
	var sentimentN int
	var qualitySum float64
	var qualityN int

	for _, c := range analyzed {
		label := "unknown"
		if c.Analysis != nil && c.Analysis.Sentiment != nil && c.Analysis.Sentiment.Overall != "" {
			label = strings.ToLower(c.Analysis.Sentiment.Overall)
			sentimentSum += c.Analysis.Sentiment.Score
			sentimentN++
		}
		agg.Sentiment.Counts[label]++

		if c.Quality != nil {
			qualitySum += c.Quality.QualityScore
			qualityN++
		}

		if c.Analysis == nil {
			continue
		}
		for _, p := range c.Analysis.PainPoints {
			pains.add(p.Description, c.CallID, 1)
		}
		for _, o := range c.Analysis.Objections {
			objections.add(o.Objection, c.CallID, 1)
		}
		for _, topic := range c.Analysis.KeyTopics {
			topics.add(topic.Topic, c.CallID, 1)
		}
		for _, entity := range c.Analysis.Entities {
			weight := entity.Mentions
			if weight < 1 {
				weight = 1
			}
			entities.add(entity.Name, c.CallID, weight)
		}
	}

	for label, n := range agg.Sentiment.Counts {
		agg.Sentiment.Percentages[label] = math.Round(float64(n)/float64(agg.AnalyzedCalls)*1000) / 10
	}
	if sentimentN > 0 {
		agg.AverageSentimentScore = sentimentSum / float64(sentimentN)
	}
	if qualityN > 0 {
		agg.AverageQualityScore = qualitySum / float64(qualityN)
	}

	agg.PainPoints = pains.ranked(rankedListLimit)
	agg.Objections = objections.ranked(rankedListLimit)
	agg.Topics = topics.ranked(rankedListLimit)
	agg.Entities = entities.ranked(entityListLimit)
	return agg
}

// reportMetrics hands the period's rolling metrics to the alert engine.
// A sink failure is logged, not returned; the aggregate is already
// persisted.
func (a *Aggregator) reportMetrics(ctx context.Context, agg *Aggregate, failed []*call.Call) {
	if a.sink == nil || agg.TotalCalls == 0 {
		return
	}

	observations := []alerting.MetricObservation{{
		MetricName: "failure_rate",
		Value:      agg.FailureRate,
		Period:     agg.PeriodKey(),
		CallIDs:    exampleIDs(failed),
	}}
	if agg.AnalyzedCalls > 0 {
		observations = append(observations,
			alerting.MetricObservation{
				MetricName: "avg_quality_score",
				Value:      agg.AverageQualityScore,
				Period:     agg.PeriodKey(),
			},
			alerting.MetricObservation{
				MetricName: "avg_sentiment_score",
				Value:      agg.AverageSentimentScore,
				Period:     agg.PeriodKey(),
			},
		)
	}

	for _, obs := range observations {
		if err := a.sink.EvaluateMetric(ctx, obs); err != nil {
			a.logger.WithError(err).WithFields(logrus.Fields{
				"metric": obs.MetricName,
				"period": obs.Period,
			}).Warn("Failed to evaluate rolling metric")
		}
	}
}

// mentionCounter accumulates a frequency-ranked list keyed
// case-insensitively, keeping the first-seen spelling for display.
type mentionCounter struct {
	items map[string]*RankedItem
}

func newMentionCounter() *mentionCounter {
	return &mentionCounter{items: make(map[string]*RankedItem)}
}

func (c *mentionCounter) add(name, callID string, weight int) {
	display := strings.TrimSpace(name)
	if display == "" {
		return
	}
	key := strings.ToLower(display)

	item, exists := c.items[key]
	if !exists {
		item = &RankedItem{Name: display}
		c.items[key] = item
	}
	item.Count += weight

	if len(item.ExampleCallIDs) < exampleCallsLimit {
		for _, id := range item.ExampleCallIDs {
			if id == callID {
				return
			}
		}
		item.ExampleCallIDs = append(item.ExampleCallIDs, callID)
	}
}

func (c *mentionCounter) ranked(limit int) []RankedItem {
	out := make([]RankedItem, 0, len(c.items))
	for _, item := range c.items {
		out = append(out, *item)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// applyTrends classifies every ranked item against the prior period's
// stored aggregate. No prior aggregate means everything is new.
func applyTrends(agg, prior *Aggregate) {
	classify(agg.PainPoints, priorCounts(prior, func(p *Aggregate) []RankedItem { return p.PainPoints }))
	classify(agg.Objections, priorCounts(prior, func(p *Aggregate) []RankedItem { return p.Objections }))
	classify(agg.Topics, priorCounts(prior, func(p *Aggregate) []RankedItem { return p.Topics }))
	classify(agg.Entities, priorCounts(prior, func(p *Aggregate) []RankedItem { return p.Entities }))
}

func priorCounts(prior *Aggregate, pick func(*Aggregate) []RankedItem) map[string]int {
	if prior == nil {
		return nil
	}
	counts := make(map[string]int)
	for _, item := range pick(prior) {
		counts[strings.ToLower(item.Name)] = item.Count
	}
	return counts
}

func classify(items []RankedItem, prior map[string]int) {
	for i := range items {
		items[i].Trend = classifyTrend(items[i].Count, prior[strings.ToLower(items[i].Name)])
	}
}

// classifyTrend applies the fixed rule: more than 10% relative growth
// is increasing, more than 10% shrink is decreasing, a zero prior is
// new, anything else is stable.
func classifyTrend(current, prior int) Trend {
	if prior == 0 {
		return TrendNew
	}
	change := (float64(current) - float64(prior)) / float64(prior)
	switch {
	case change > 0.10:
		return TrendIncreasing
	case change < -0.10:
		return TrendDecreasing
	default:
		return TrendStable
	}
}

func startOfDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

func sortByCallID(calls []*call.Call) {
	sort.Slice(calls, func(i, j int) bool { return calls[i].CallID < calls[j].CallID })
}

func exampleIDs(calls []*call.Call) []string {
	var ids []string
	for _, c := range calls {
		if len(ids) == exampleCallsLimit {
			break
		}
		ids = append(ids, c.CallID)
	}
	return ids
}
