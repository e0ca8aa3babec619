package pipeline

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"callinsight-server/pkg/call"
	"callinsight-server/pkg/errors"
	"callinsight-server/pkg/metrics"
	"callinsight-server/pkg/store"
)

// sweepStatuses are the intermediate statuses a call can get stuck in
// when a follow-up enqueue or an upload hand-off was lost.
var sweepStatuses = []call.Status{
	call.StatusUploading,
	call.StatusTranscribing,
	call.StatusAnalyzing,
}

// StalenessSweeper periodically re-enqueues the task implied by a call's
// status when the call has not moved for longer than the threshold. The
// worker idempotency guard makes an over-eager re-enqueue harmless.
type StalenessSweeper struct {
	logger       *logrus.Entry
	store        store.CallStore
	orchestrator *Orchestrator
	staleAfter   time.Duration
	interval     time.Duration

	// now is swapped in tests to steer the staleness cutoff.
	now func() time.Time
}

// NewStalenessSweeper creates a sweeper over the given store.
func NewStalenessSweeper(logger *logrus.Logger, callStore store.CallStore, orchestrator *Orchestrator, staleAfter, interval time.Duration) *StalenessSweeper {
	if staleAfter <= 0 {
		staleAfter = 15 * time.Minute
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &StalenessSweeper{
		logger:       logger.WithField("component", "sweeper"),
		store:        callStore,
		orchestrator: orchestrator,
		staleAfter:   staleAfter,
		interval:     interval,
		now:          time.Now,
	}
}

// Run sweeps on the configured interval until ctx is cancelled.
func (s *StalenessSweeper) Run(ctx context.Context) {
	s.logger.WithFields(logrus.Fields{
		"stale_after": s.staleAfter,
		"interval":    s.interval,
	}).Info("Staleness sweeper started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sweep(ctx)
		case <-ctx.Done():
			s.logger.Info("Staleness sweeper stopped")
			return
		}
	}
}

// Sweep performs one pass over the stale calls. Exported so operators can
// trigger an immediate sweep.
func (s *StalenessSweeper) Sweep(ctx context.Context) {
	cutoff := s.now().UTC().Add(-s.staleAfter)
	records, err := s.store.ListStale(ctx, sweepStatuses, cutoff)
	if err != nil {
		s.logger.WithError(err).Error("Failed to list stale calls")
		return
	}
	if len(records) == 0 {
		return
	}

	s.logger.WithField("count", len(records)).Info("Sweeping stale calls")
	for _, record := range records {
		s.repair(ctx, record)
	}
}

// repair re-drives one stale call. A call stuck in uploading lost its
// upload hand-off, so it is advanced into transcribing, which enqueues
// the transcription task itself. A call stuck in transcribing or
// analyzing lost its stage task, so the task its status implies is
// re-enqueued.
func (s *StalenessSweeper) repair(ctx context.Context, record *call.Call) {
	logger := s.logger.WithFields(logrus.Fields{
		"call_id":    record.CallID,
		"status":     record.Status,
		"updated_at": record.UpdatedAt,
	})

	switch record.Status {
	case call.StatusUploading:
		if _, err := s.orchestrator.Advance(ctx, record.CallID, call.StatusUploading, call.StatusTranscribing, call.Patch{}); err != nil {
			if errors.IsStale(err) {
				logger.Debug("Stale call moved before sweep could repair it")
				return
			}
			logger.WithError(err).Error("Failed to advance stale uploading call")
			return
		}
		metrics.RecordSweeperRequeue(string(call.StageTranscription))
		logger.Info("Advanced stale uploading call into transcribing")

	case call.StatusTranscribing:
		s.orchestrator.EnqueueStageTask(ctx, record, call.StageTranscription)
		metrics.RecordSweeperRequeue(string(call.StageTranscription))
		logger.Info("Re-enqueued transcription task for stale call")

	case call.StatusAnalyzing:
		s.orchestrator.EnqueueStageTask(ctx, record, call.StageAnalysis)
		metrics.RecordSweeperRequeue(string(call.StageAnalysis))
		logger.Info("Re-enqueued analysis task for stale call")
	}
}
