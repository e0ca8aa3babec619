package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callinsight-server/pkg/call"
)

// newStaleSweeper returns a sweeper whose clock sits far enough in the
// future that everything created during the test counts as stale.
func newStaleSweeper(env *testEnv) *StalenessSweeper {
	sweeper := NewStalenessSweeper(newTestLogger(), env.store, env.orchestrator, 15*time.Minute, time.Minute)
	sweeper.now = func() time.Time { return time.Now().Add(time.Hour) }
	return sweeper
}

func TestSweeperAdvancesStaleUploadingCall(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// A call whose upload hand-off never came: stuck in uploading with no
	// task in flight anywhere.
	_, err := env.orchestrator.CreateCall(ctx, "call-1", "s3://recordings/call-1.wav")
	require.NoError(t, err)
	_, err = env.orchestrator.Advance(ctx, "call-1", call.StatusPending, call.StatusUploading, call.Patch{})
	require.NoError(t, err)

	sweeper := newStaleSweeper(env)
	sweeper.Sweep(ctx)

	record, err := env.store.Get(ctx, "call-1")
	require.NoError(t, err)
	assert.Equal(t, call.StatusTranscribing, record.Status)

	// Advancing into transcribing chained the transcription task.
	msg := receiveTask(t, env.transcription)
	assert.Equal(t, "call-1", msg.Task.CallID)
	assert.Equal(t, call.StageTranscription, msg.Task.Stage)
}

func TestSweeperRequeuesStaleTranscribingCall(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.orchestrator.Submit(ctx, "call-1", "s3://recordings/call-1.wav")
	require.NoError(t, err)

	// Simulate the original task being lost.
	lost := drainTask(t, env.transcription)

	sweeper := newStaleSweeper(env)
	sweeper.Sweep(ctx)

	msg := receiveTask(t, env.transcription)
	assert.Equal(t, "call-1", msg.Task.CallID)
	assert.Equal(t, call.StageTranscription, msg.Task.Stage)
	assert.Equal(t, call.StatusTranscribing, msg.Task.FromStatus)
	assert.NotEqual(t, lost.Task.TaskID, msg.Task.TaskID)

	// The sweep only replaces the task; the record itself is untouched.
	record, err := env.store.Get(ctx, "call-1")
	require.NoError(t, err)
	assert.Equal(t, call.StatusTranscribing, record.Status)
	assert.Equal(t, int64(3), record.Version)
}

func TestSweeperRequeuesStaleAnalyzingCall(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.orchestrator.Submit(ctx, "call-1", "s3://recordings/call-1.wav")
	require.NoError(t, err)
	drainTask(t, env.transcription)
	_, err = env.orchestrator.Advance(ctx, "call-1", call.StatusTranscribing, call.StatusAnalyzing,
		call.Patch{Transcript: sampleTranscript()})
	require.NoError(t, err)
	drainTask(t, env.analysis)

	sweeper := newStaleSweeper(env)
	sweeper.Sweep(ctx)

	msg := receiveTask(t, env.analysis)
	assert.Equal(t, "call-1", msg.Task.CallID)
	assert.Equal(t, call.StageAnalysis, msg.Task.Stage)
	assert.Equal(t, call.StatusAnalyzing, msg.Task.FromStatus)
}

func TestSweeperIgnoresFreshCalls(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.orchestrator.Submit(ctx, "call-1", "s3://recordings/call-1.wav")
	require.NoError(t, err)
	drainTask(t, env.transcription)

	// Real clock: the record was updated moments ago and is not stale.
	sweeper := NewStalenessSweeper(newTestLogger(), env.store, env.orchestrator, 15*time.Minute, time.Minute)
	sweeper.Sweep(ctx)

	assert.Equal(t, 0, env.transcription.Depth())
}

func TestSweeperIgnoresTerminalCalls(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.orchestrator.Submit(ctx, "call-1", "s3://recordings/call-1.wav")
	require.NoError(t, err)
	drainTask(t, env.transcription)
	_, err = env.orchestrator.Advance(ctx, "call-1", call.StatusTranscribing, call.StatusAnalyzing,
		call.Patch{Transcript: sampleTranscript()})
	require.NoError(t, err)
	drainTask(t, env.analysis)
	_, err = env.orchestrator.Advance(ctx, "call-1", call.StatusAnalyzing, call.StatusAnalyzed, call.Patch{})
	require.NoError(t, err)
	drainTask(t, env.embedding)

	_, err = env.orchestrator.Submit(ctx, "call-2", "s3://recordings/call-2.wav")
	require.NoError(t, err)
	drainTask(t, env.transcription)
	require.NoError(t, env.orchestrator.Fail(ctx, "call-2", call.StatusTranscribing,
		&call.StageError{Stage: "transcribing", Message: "gone"}))

	sweeper := newStaleSweeper(env)
	sweeper.Sweep(ctx)

	assert.Equal(t, 0, env.transcription.Depth())
	assert.Equal(t, 0, env.analysis.Depth())
	assert.Equal(t, 0, env.embedding.Depth())
}
