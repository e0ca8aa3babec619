package insights

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"callinsight-server/pkg/errors"
)

// DefaultSchedule runs the daily rollup shortly after midnight UTC so
// the previous day is complete when it is scanned.
const DefaultSchedule = "10 0 * * *"

// scheduledRunTimeout bounds one cron-triggered computation.
const scheduledRunTimeout = 10 * time.Minute

// Scheduler drives the aggregator on a cron schedule. Each firing
// computes the day that just ended.
type Scheduler struct {
	logger     *logrus.Entry
	cron       *cron.Cron
	aggregator *Aggregator
	schedule   string

	mu      sync.Mutex
	running bool
}

// NewScheduler creates a scheduler for the aggregator. An empty
// schedule falls back to DefaultSchedule.
func NewScheduler(logger *logrus.Logger, aggregator *Aggregator, schedule string) *Scheduler {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	return &Scheduler{
		logger:     logger.WithField("component", "insights_scheduler"),
		cron:       cron.New(),
		aggregator: aggregator,
		schedule:   schedule,
	}
}

// Start registers the daily job and starts the cron runner.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	if _, err := s.cron.AddFunc(s.schedule, s.runDaily); err != nil {
		return errors.Wrap(err, "failed to schedule daily aggregation",
			map[string]interface{}{"schedule": s.schedule})
	}

	s.cron.Start()
	s.running = true
	s.logger.WithField("schedule", s.schedule).Info("Daily aggregation scheduled")
	return nil
}

// Stop halts the cron runner and waits for an in-flight run to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info("Aggregation scheduler stopped")
}

func (s *Scheduler) runDaily() {
	ctx, cancel := context.WithTimeout(context.Background(), scheduledRunTimeout)
	defer cancel()

	day := s.aggregator.now().UTC().AddDate(0, 0, -1)
	agg, err := s.aggregator.compute(ctx, day, "cron")
	if err != nil {
		s.logger.WithError(err).Error("Scheduled aggregation failed")
		return
	}
	s.logger.WithFields(logrus.Fields{
		"period":      agg.PeriodKey(),
		"total_calls": agg.TotalCalls,
	}).Info("Scheduled aggregation completed")
}
