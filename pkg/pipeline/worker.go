package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"callinsight-server/pkg/call"
	"callinsight-server/pkg/errors"
	"callinsight-server/pkg/metrics"
	"callinsight-server/pkg/queue"
)

// Handler runs one stage's capability against a call record. A nil patch
// with a nil error means the stage completed without a status transition;
// a non-nil patch is applied by advancing the call to its next status.
// Returned errors must already be classified transient or permanent.
type Handler interface {
	Stage() call.Stage
	Process(ctx context.Context, record *call.Call) (*call.Patch, error)
}

// WorkerConfig sizes one stage's worker pool and its retry budget.
type WorkerConfig struct {
	Concurrency       int
	MaxAttempts       int
	StageTimeout      time.Duration
	VisibilityTimeout time.Duration
}

// StageWorker receives tasks for a single stage and applies the retry
// protocol: acknowledge what is done or hopeless, release what deserves
// another delivery.
type StageWorker struct {
	logger       *logrus.Entry
	orchestrator *Orchestrator
	queue        queue.TaskQueue
	handler      Handler
	config       WorkerConfig

	wg sync.WaitGroup
}

// NewStageWorker creates a worker pool for the handler's stage.
func NewStageWorker(logger *logrus.Logger, orchestrator *Orchestrator, q queue.TaskQueue, handler Handler, cfg WorkerConfig) *StageWorker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = 2 * time.Minute
	}
	if cfg.VisibilityTimeout <= 0 {
		cfg.VisibilityTimeout = 5 * time.Minute
	}
	return &StageWorker{
		logger:       logger.WithField("component", "worker").WithField("stage", handler.Stage()),
		orchestrator: orchestrator,
		queue:        q,
		handler:      handler,
		config:       cfg,
	}
}

// Start launches the worker goroutines. They exit when ctx is cancelled;
// Wait blocks until all of them have drained.
func (w *StageWorker) Start(ctx context.Context) {
	for i := 0; i < w.config.Concurrency; i++ {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.runLoop(ctx)
		}()
	}
	w.logger.WithField("concurrency", w.config.Concurrency).Info("Stage workers started")
}

// Wait blocks until every worker goroutine has returned.
func (w *StageWorker) Wait() {
	w.wg.Wait()
}

func (w *StageWorker) runLoop(ctx context.Context) {
	for {
		msg, err := w.queue.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.WithError(err).Error("Failed to receive task")
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}
		w.handleMessage(ctx, msg)
	}
}

// handleMessage runs the full per-delivery protocol for one message.
func (w *StageWorker) handleMessage(ctx context.Context, msg *queue.Message) {
	task := msg.Task
	stage := string(task.Stage)
	logger := w.logger.WithFields(logrus.Fields{
		"call_id": task.CallID,
		"task_id": task.TaskID,
		"attempt": msg.ReceiveCount,
	})

	done := metrics.TrackWorkerBusy(stage)
	defer done()
	observe := metrics.ObserveStageDuration(stage)
	defer observe()

	record, err := w.orchestrator.GetCall(ctx, task.CallID)
	if err != nil {
		if errors.IsNotFound(err) {
			// A task without a record can never succeed on any delivery.
			logger.Warn("Dead-lettering task for missing call record")
			w.deadLetter(ctx, msg, "call record not found")
			metrics.RecordStageAttempt(stage, "permanent_error")
			return
		}
		logger.WithError(err).Error("Failed to load call record, leaving task for redelivery")
		metrics.RecordStageAttempt(stage, "store_unavailable")
		return
	}

	// Duplicate or late delivery: the call already moved past the status
	// this task was enqueued for. Acknowledge without touching the call.
	if record.Status != task.FromStatus {
		logger.WithFields(logrus.Fields{
			"expected_status": task.FromStatus,
			"actual_status":   record.Status,
		}).Debug("Dropping stale task delivery")
		w.acknowledge(ctx, msg, logger)
		metrics.RecordStageAttempt(stage, "stale")
		return
	}

	patch, procErr := w.process(ctx, msg, record)
	if procErr != nil {
		w.handleFailure(ctx, msg, record, procErr, logger)
		return
	}

	if patch == nil {
		// The stage completed outside the status chain; nothing to advance.
		w.acknowledge(ctx, msg, logger)
		metrics.RecordStageAttempt(stage, "success")
		return
	}

	next, ok := call.NextStatus(record.Status)
	if !ok {
		logger.WithField("status", record.Status).Error("Stage produced a patch but the status has no successor")
		w.acknowledge(ctx, msg, logger)
		metrics.RecordStageAttempt(stage, "success")
		return
	}

	if _, err := w.orchestrator.Advance(ctx, task.CallID, record.Status, next, *patch); err != nil {
		if errors.IsStale(err) {
			// Another delivery of this task won the compare-and-set.
			logger.Debug("Advance lost to a concurrent delivery")
			w.acknowledge(ctx, msg, logger)
			metrics.RecordStageAttempt(stage, "stale")
			return
		}
		logger.WithError(err).Error("Failed to persist stage result, leaving task for redelivery")
		metrics.RecordStageAttempt(stage, "store_unavailable")
		return
	}

	w.acknowledge(ctx, msg, logger)
	metrics.RecordStageAttempt(stage, "success")
}

// process runs the handler under the stage timeout while a background
// ticker keeps the message lease ahead of the work.
func (w *StageWorker) process(ctx context.Context, msg *queue.Message, record *call.Call) (patch *call.Patch, err error) {
	procCtx, cancel := context.WithTimeout(ctx, w.config.StageTimeout)
	defer cancel()

	stopLease := w.keepLeaseAlive(ctx, msg)
	defer stopLease()

	defer func() {
		if r := recover(); r != nil {
			w.logger.WithFields(logrus.Fields{
				"call_id": record.CallID,
				"panic":   r,
				"stack":   string(debug.Stack()),
			}).Error("Stage handler panicked")
			patch = nil
			err = errors.Permanent(fmt.Sprintf("stage handler panicked: %v", r))
		}
	}()

	return w.handler.Process(procCtx, record)
}

// keepLeaseAlive extends the message lease at half the visibility timeout
// until the returned stop function is called.
func (w *StageWorker) keepLeaseAlive(ctx context.Context, msg *queue.Message) func() {
	interval := w.config.VisibilityTimeout / 2
	if interval <= 0 {
		interval = time.Minute
	}
	stop := make(chan struct{})
	var once sync.Once

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := w.queue.ExtendLease(ctx, msg, w.config.VisibilityTimeout); err != nil {
					w.logger.WithError(err).WithField("task_id", msg.Task.TaskID).Warn("Failed to extend task lease")
				}
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return func() { once.Do(func() { close(stop) }) }
}

// handleFailure classifies a stage error and settles the delivery: mark
// the call failed for permanent errors and exhausted budgets, release the
// message for anything that can still succeed. Stages running after a
// terminal status (embedding) never fail the call itself; their poison
// tasks are dead-lettered and the record keeps its terminal state.
func (w *StageWorker) handleFailure(ctx context.Context, msg *queue.Message, record *call.Call, procErr error, logger *logrus.Entry) {
	task := msg.Task
	stage := string(task.Stage)
	stageErr := &call.StageError{
		Stage:        string(task.FromStatus),
		Message:      procErr.Error(),
		AttemptCount: msg.ReceiveCount,
	}

	if errors.IsPermanent(procErr) {
		logger.WithError(procErr).Warn("Stage failed permanently")
		if record.Status.Terminal() {
			w.deadLetter(ctx, msg, fmt.Sprintf("permanent failure: %v", procErr))
			metrics.RecordStageAttempt(stage, "permanent_error")
			return
		}
		if ok := w.markFailed(ctx, record, stageErr, logger); !ok {
			metrics.RecordStageAttempt(stage, "store_unavailable")
			return
		}
		w.acknowledge(ctx, msg, logger)
		metrics.RecordStageAttempt(stage, "permanent_error")
		return
	}

	if msg.ReceiveCount >= w.config.MaxAttempts {
		logger.WithError(procErr).WithField("max_attempts", w.config.MaxAttempts).Warn("Stage retry budget exhausted")
		if !record.Status.Terminal() {
			if ok := w.markFailed(ctx, record, stageErr, logger); !ok {
				metrics.RecordStageAttempt(stage, "store_unavailable")
				return
			}
		}
		w.deadLetter(ctx, msg, fmt.Sprintf("retry budget exhausted after %d attempts: %v", msg.ReceiveCount, procErr))
		metrics.RecordStageAttempt(stage, "transient_error")
		return
	}

	logger.WithError(procErr).Warn("Stage failed transiently, leaving task for redelivery")
	metrics.RecordStageAttempt(stage, "transient_error")
}

// markFailed moves the call to failed. A concurrent transition that
// already failed or advanced the call counts as settled; only a store
// error reports false so the caller can retry via redelivery.
func (w *StageWorker) markFailed(ctx context.Context, record *call.Call, stageErr *call.StageError, logger *logrus.Entry) bool {
	err := w.orchestrator.Fail(ctx, record.CallID, record.Status, stageErr)
	if err == nil {
		return true
	}
	if errors.IsStale(err) || errors.IsErrorType(err, errors.ErrTerminalState) {
		logger.WithError(err).Debug("Call moved concurrently while marking failed")
		return true
	}
	logger.WithError(err).Error("Failed to mark call failed, leaving task for redelivery")
	return false
}

func (w *StageWorker) acknowledge(ctx context.Context, msg *queue.Message, logger *logrus.Entry) {
	if err := w.queue.Acknowledge(ctx, msg); err != nil {
		logger.WithError(err).Warn("Failed to acknowledge task")
	}
}

func (w *StageWorker) deadLetter(ctx context.Context, msg *queue.Message, reason string) {
	if err := w.queue.DeadLetter(ctx, msg, reason); err != nil {
		w.logger.WithError(err).WithField("task_id", msg.Task.TaskID).Error("Failed to dead-letter task")
		return
	}
	metrics.RecordDeadLetter(string(msg.Task.Stage))
}
