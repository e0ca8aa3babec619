// Package pipeline drives calls through transcription, analysis, and
// embedding. The Orchestrator is the single authority for status
// transitions and task chaining, stage workers run the capability
// attempts under the retry protocol, and the staleness sweeper repairs
// calls whose follow-up task was lost.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"callinsight-server/pkg/call"
	"callinsight-server/pkg/errors"
	"callinsight-server/pkg/metrics"
	"callinsight-server/pkg/queue"
	"callinsight-server/pkg/store"
)

// TransitionObserver is notified after a transition has committed. The
// record passed is a private copy; observer failures never undo or block
// the transition.
type TransitionObserver interface {
	OnTransition(ctx context.Context, record *call.Call, from, to call.Status)
}

// Orchestrator owns every legal Call transition and decides which task
// follows each one. Nothing else writes call status.
type Orchestrator struct {
	logger    *logrus.Entry
	store     store.CallStore
	queues    map[call.Stage]queue.TaskQueue
	observers []TransitionObserver
}

// NewOrchestrator creates an orchestrator over the given store and
// per-stage task queues.
func NewOrchestrator(logger *logrus.Logger, callStore store.CallStore, queues map[call.Stage]queue.TaskQueue) *Orchestrator {
	return &Orchestrator{
		logger: logger.WithField("component", "orchestrator"),
		store:  callStore,
		queues: queues,
	}
}

// AddObserver registers a post-commit transition observer. Not safe to
// call once transitions are flowing.
func (o *Orchestrator) AddObserver(obs TransitionObserver) {
	o.observers = append(o.observers, obs)
}

// CreateCall inserts a new call in pending. A reused call_id yields an
// AlreadyExists error; the existing record is never touched.
func (o *Orchestrator) CreateCall(ctx context.Context, callID, audioRef string) (*call.Call, error) {
	if callID == "" {
		callID = uuid.NewString()
	}
	if audioRef == "" {
		return nil, errors.NewInvalidInput("audio_ref is required",
			map[string]interface{}{"call_id": callID})
	}

	now := time.Now().UTC()
	record := &call.Call{
		CallID:    callID,
		Status:    call.StatusPending,
		AudioRef:  audioRef,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := o.store.Create(ctx, record); err != nil {
		return nil, err
	}

	metrics.RecordCallCreated()
	o.logger.WithFields(logrus.Fields{
		"call_id":   callID,
		"audio_ref": audioRef,
	}).Info("Call created")

	return record, nil
}

// Submit is the intake path for an already durable audio reference: it
// creates the call and walks it through uploading into transcribing,
// which enqueues the transcription task.
func (o *Orchestrator) Submit(ctx context.Context, callID, audioRef string) (*call.Call, error) {
	record, err := o.CreateCall(ctx, callID, audioRef)
	if err != nil {
		return nil, err
	}

	if record, err = o.Advance(ctx, record.CallID, call.StatusPending, call.StatusUploading, call.Patch{}); err != nil {
		return nil, err
	}
	return o.Advance(ctx, record.CallID, call.StatusUploading, call.StatusTranscribing, call.Patch{})
}

// Advance moves a call from -> to with a compare-and-set on the status
// and version, applying the patch atomically with the transition. A
// duplicate or concurrent attempt surfaces as StaleTransition and must
// be discarded by the caller.
//
// After a successful transition exactly one follow-up task is enqueued
// for the status arrived at. An enqueue failure does not undo the
// transition; the staleness sweeper re-enqueues it later.
func (o *Orchestrator) Advance(ctx context.Context, callID string, from, to call.Status, patch call.Patch) (*call.Call, error) {
	if !from.Valid() || !to.Valid() {
		return nil, errors.NewInvalidInput("unknown status",
			map[string]interface{}{"call_id": callID, "from": from, "to": to})
	}
	if !call.CanTransition(from, to) {
		return nil, errors.WrapPermanent(errors.ErrIllegalTransition, "cannot advance",
			map[string]interface{}{"call_id": callID, "from": from, "to": to})
	}

	record, err := o.store.Get(ctx, callID)
	if err != nil {
		return nil, err
	}
	if record.Status != from {
		return nil, errors.NewStaleTransition(callID, string(from), string(record.Status))
	}

	patch.Status = call.StatusPtr(to)
	updated, err := o.store.CompareAndSet(ctx, callID, record.Version, patch)
	if err != nil {
		if errors.IsErrorType(err, errors.ErrVersionMismatch) {
			return nil, errors.NewStaleTransition(callID, string(from), string(record.Status))
		}
		return nil, err
	}

	metrics.RecordTransition(string(from), string(to))
	o.logger.WithFields(logrus.Fields{
		"call_id": callID,
		"from":    from,
		"to":      to,
		"version": updated.Version,
	}).Info("Call advanced")

	o.enqueueFollowUp(ctx, updated)
	o.notifyObservers(ctx, updated, from, to)
	return updated, nil
}

// Fail moves a call to failed with a compare-and-set from the expected
// status. Failing an already failed call is a success no-op.
func (o *Orchestrator) Fail(ctx context.Context, callID string, from call.Status, stageErr *call.StageError) error {
	record, err := o.store.Get(ctx, callID)
	if err != nil {
		return err
	}

	if record.Status == call.StatusFailed {
		return nil
	}
	if record.Status == call.StatusAnalyzed {
		return errors.WrapPermanent(errors.ErrTerminalState, "cannot fail an analyzed call",
			map[string]interface{}{"call_id": callID})
	}
	if record.Status != from {
		return errors.NewStaleTransition(callID, string(from), string(record.Status))
	}

	patch := call.Patch{
		Status: call.StatusPtr(call.StatusFailed),
		Error:  stageErr,
	}
	updated, err := o.store.CompareAndSet(ctx, callID, record.Version, patch)
	if err != nil {
		if errors.IsErrorType(err, errors.ErrVersionMismatch) {
			// Re-read: a concurrent Fail winning is still a success.
			current, getErr := o.store.Get(ctx, callID)
			if getErr == nil && current.Status == call.StatusFailed {
				return nil
			}
			return errors.NewStaleTransition(callID, string(from), string(record.Status))
		}
		return err
	}

	stage := ""
	if stageErr != nil {
		stage = stageErr.Stage
	}
	metrics.RecordCallFailed(stage)
	o.logger.WithFields(logrus.Fields{
		"call_id": callID,
		"from":    from,
		"stage":   stage,
	}).Warn("Call failed")

	o.notifyObservers(ctx, updated, from, call.StatusFailed)
	return nil
}

// GetCall returns the current record.
func (o *Orchestrator) GetCall(ctx context.Context, callID string) (*call.Call, error) {
	return o.store.Get(ctx, callID)
}

// followUpStage maps an arrived-at status to the stage task it implies.
// Arriving in uploading has no task: the upload collaborator drives the
// next hop itself.
func followUpStage(status call.Status) (call.Stage, bool) {
	switch status {
	case call.StatusTranscribing:
		return call.StageTranscription, true
	case call.StatusAnalyzing:
		return call.StageAnalysis, true
	case call.StatusAnalyzed:
		return call.StageEmbedding, true
	}
	return "", false
}

// enqueueFollowUp publishes the single task implied by the status the
// call arrived at. Failures are absorbed: the transition already
// happened and must not be rolled back for a queue blip.
func (o *Orchestrator) enqueueFollowUp(ctx context.Context, record *call.Call) {
	stage, ok := followUpStage(record.Status)
	if !ok {
		return
	}
	o.EnqueueStageTask(ctx, record, stage)
}

// notifyObservers hands the committed transition to every registered
// observer. A panicking observer is contained so it cannot take down the
// worker that drove the transition.
func (o *Orchestrator) notifyObservers(ctx context.Context, record *call.Call, from, to call.Status) {
	for _, obs := range o.observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					o.logger.WithFields(logrus.Fields{
						"call_id": record.CallID,
						"panic":   r,
					}).Error("Transition observer panicked")
				}
			}()
			obs.OnTransition(ctx, record.Clone(), from, to)
		}()
	}
}

// EnqueueStageTask publishes the stage task for a call. The sweeper uses
// it to repair calls whose original follow-up enqueue was lost.
func (o *Orchestrator) EnqueueStageTask(ctx context.Context, record *call.Call, stage call.Stage) {
	q, ok := o.queues[stage]
	if !ok {
		o.logger.WithFields(logrus.Fields{
			"call_id": record.CallID,
			"stage":   stage,
		}).Error("No queue configured for stage")
		metrics.RecordEnqueueFailure(string(stage))
		return
	}

	task := &call.Task{
		TaskID:     uuid.NewString(),
		CallID:     record.CallID,
		Stage:      stage,
		FromStatus: record.Status,
		EnqueuedAt: time.Now().UTC(),
	}

	if err := q.Enqueue(ctx, task); err != nil {
		o.logger.WithError(err).WithFields(logrus.Fields{
			"call_id": record.CallID,
			"stage":   stage,
			"task_id": task.TaskID,
		}).Error("Failed to enqueue follow-up task")
		metrics.RecordEnqueueFailure(string(stage))
		return
	}

	o.logger.WithFields(logrus.Fields{
		"call_id": record.CallID,
		"stage":   stage,
		"task_id": task.TaskID,
	}).Debug("Follow-up task enqueued")
}
