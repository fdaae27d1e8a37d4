package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/dcvalidate/errors"
	"github.com/c360/dcvalidate/queue"
	"github.com/c360/dcvalidate/repository"
	"github.com/c360/dcvalidate/types"
)

type runnerFunc func(ctx context.Context, runID string, job types.ValidationJob) (*types.Run, error)

func (f runnerFunc) Run(ctx context.Context, runID string, job types.ValidationJob) (*types.Run, error) {
	return f(ctx, runID, job)
}

type recordingDeadLetter struct {
	mu       sync.Mutex
	jobs     []types.ValidationJob
	reasons  []string
	failWith error
}

func (d *recordingDeadLetter) Publish(_ context.Context, job types.ValidationJob, reason string, _ int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failWith != nil {
		return d.failWith
	}
	d.jobs = append(d.jobs, job)
	d.reasons = append(d.reasons, reason)
	return nil
}

func testJob(id string, vt types.ValidationType) types.ValidationJob {
	return types.ValidationJob{ID: id, Type: vt, DcName: "dc-east", RuleSetID: "json-rules"}
}

func succeedingRunner(captured *types.Run) Runner {
	return runnerFunc(func(_ context.Context, runID string, job types.ValidationJob) (*types.Run, error) {
		run := &types.Run{ID: runID, JobID: job.ID, DcName: job.DcName, Succeed: true}
		if captured != nil {
			*captured = *run
		}
		return run, nil
	})
}

func failingRunner(err error) Runner {
	return runnerFunc(func(_ context.Context, runID string, job types.ValidationJob) (*types.Run, error) {
		return &types.Run{ID: runID, JobID: job.ID, DcName: job.DcName, Error: err.Error()}, err
	})
}

func TestWorker_SuccessDeletesAndSavesRun(t *testing.T) {
	ctx := context.Background()
	q := queue.NewMemoryQueue(time.Minute)
	runs := repository.NewMemoryRunRepository()

	var run types.Run
	w, err := NewWorker(DefaultConfig(), q,
		map[types.ValidationType]Runner{types.ValidationJSONRule: succeedingRunner(&run)}, runs)
	require.NoError(t, err)

	require.NoError(t, q.Enqueue(ctx, testJob("j1", types.ValidationJSONRule)))

	n, err := w.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, q.Len())

	saved, err := runs.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.True(t, saved.Succeed)
	assert.Equal(t, "j1", saved.JobID)
}

func TestWorker_TransientFailureResetsVisibility(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	q := queue.NewMemoryQueue(time.Hour)
	q.SetNow(func() time.Time { return now })
	runs := repository.NewMemoryRunRepository()

	cfg := DefaultConfig()
	cfg.RetryDelay = time.Second

	transient := errors.WrapTransient(errors.ErrStorageUnavailable, "pipeline", "Run", "sink write")
	w, err := NewWorker(cfg, q,
		map[types.ValidationType]Runner{types.ValidationJSONRule: failingRunner(transient)}, runs)
	require.NoError(t, err)

	require.NoError(t, q.Enqueue(ctx, testJob("j1", types.ValidationJSONRule)))

	n, err := w.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, q.Len())

	// Hidden for RetryDelay, not the full visibility timeout.
	now = now.Add(2 * time.Second)
	msgs, err := q.Dequeue(ctx, 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, 2, msgs[0].DequeueCount)
}

func TestWorker_InvalidFailureDeadLetters(t *testing.T) {
	ctx := context.Background()
	q := queue.NewMemoryQueue(time.Minute)
	dl := &recordingDeadLetter{}

	invalid := errors.WrapInvalid(errors.ErrUnknownOperator, "rules", "Load", "rule compilation")
	w, err := NewWorker(DefaultConfig(), q,
		map[types.ValidationType]Runner{types.ValidationJSONRule: failingRunner(invalid)}, nil,
		WithDeadLetter(dl))
	require.NoError(t, err)

	require.NoError(t, q.Enqueue(ctx, testJob("j1", types.ValidationJSONRule)))

	_, err = w.ProcessOnce(ctx)
	require.NoError(t, err)

	assert.Equal(t, 0, q.Len())
	require.Len(t, dl.jobs, 1)
	assert.Equal(t, "j1", dl.jobs[0].ID)
	assert.Contains(t, dl.reasons[0], "unknown operator")
}

func TestWorker_DeliveryBudgetDeadLettersWithoutRunning(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	q := queue.NewMemoryQueue(time.Hour)
	q.SetNow(func() time.Time { return now })
	dl := &recordingDeadLetter{}

	cfg := DefaultConfig()
	cfg.RetryDelay = time.Second
	cfg.MaxDequeueCount = 1

	invocations := 0
	transient := errors.WrapTransient(errors.ErrStorageUnavailable, "pipeline", "Run", "sink write")
	runner := runnerFunc(func(_ context.Context, runID string, job types.ValidationJob) (*types.Run, error) {
		invocations++
		return &types.Run{ID: runID, JobID: job.ID}, transient
	})

	w, err := NewWorker(cfg, q,
		map[types.ValidationType]Runner{types.ValidationJSONRule: runner}, nil,
		WithDeadLetter(dl))
	require.NoError(t, err)

	require.NoError(t, q.Enqueue(ctx, testJob("j1", types.ValidationJSONRule)))

	// First delivery fails transiently and is rescheduled.
	_, err = w.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, invocations)
	assert.Equal(t, 1, q.Len())

	// Second delivery exceeds the budget; the runner must not be invoked.
	now = now.Add(2 * time.Second)
	_, err = w.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, invocations)
	assert.Equal(t, 0, q.Len())
	require.Len(t, dl.reasons, 1)
	assert.Contains(t, dl.reasons[0], "delivery budget")
}

func TestWorker_UnknownTypeDeadLetters(t *testing.T) {
	ctx := context.Background()
	q := queue.NewMemoryQueue(time.Minute)
	dl := &recordingDeadLetter{}

	w, err := NewWorker(DefaultConfig(), q,
		map[types.ValidationType]Runner{types.ValidationJSONRule: succeedingRunner(nil)}, nil,
		WithDeadLetter(dl))
	require.NoError(t, err)

	require.NoError(t, q.Enqueue(ctx, testJob("j1", types.ValidationDataCenter)))

	_, err = w.ProcessOnce(ctx)
	require.NoError(t, err)

	assert.Equal(t, 0, q.Len())
	require.Len(t, dl.reasons, 1)
	assert.Contains(t, dl.reasons[0], "no runner")
}

func TestWorker_DeadLetterPublishFailureKeepsMessage(t *testing.T) {
	ctx := context.Background()
	q := queue.NewMemoryQueue(time.Minute)
	dl := &recordingDeadLetter{failWith: errors.ErrNoConnection}

	invalid := errors.WrapInvalid(errors.ErrUnknownOperator, "rules", "Load", "rule compilation")
	w, err := NewWorker(DefaultConfig(), q,
		map[types.ValidationType]Runner{types.ValidationJSONRule: failingRunner(invalid)}, nil,
		WithDeadLetter(dl))
	require.NoError(t, err)

	require.NoError(t, q.Enqueue(ctx, testJob("j1", types.ValidationJSONRule)))

	_, err = w.ProcessOnce(ctx)
	require.NoError(t, err)

	// Hand-off failed, so the job stays queued for another attempt.
	assert.Equal(t, 1, q.Len())
}

func TestWorker_FailedRunRecordIsSaved(t *testing.T) {
	ctx := context.Background()
	q := queue.NewMemoryQueue(time.Minute)
	runs := repository.NewMemoryRunRepository()

	var runID string
	transient := errors.WrapTransient(errors.ErrStorageUnavailable, "pipeline", "Run", "sink write")
	runner := runnerFunc(func(_ context.Context, id string, job types.ValidationJob) (*types.Run, error) {
		runID = id
		return &types.Run{ID: id, JobID: job.ID, Error: transient.Error()}, transient
	})

	w, err := NewWorker(DefaultConfig(), q,
		map[types.ValidationType]Runner{types.ValidationJSONRule: runner}, runs)
	require.NoError(t, err)

	require.NoError(t, q.Enqueue(ctx, testJob("j1", types.ValidationJSONRule)))

	_, err = w.ProcessOnce(ctx)
	require.NoError(t, err)

	saved, err := runs.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.False(t, saved.Succeed)
	assert.NotEmpty(t, saved.Error)
}

func TestWorker_EmptyRuleSetGetsDefault(t *testing.T) {
	ctx := context.Background()
	q := queue.NewMemoryQueue(time.Minute)

	cfg := DefaultConfig()
	cfg.DefaultRuleSets = map[types.ValidationType]string{
		types.ValidationJSONRule: "json-rules",
	}

	var seen types.ValidationJob
	runner := runnerFunc(func(_ context.Context, runID string, job types.ValidationJob) (*types.Run, error) {
		seen = job
		return &types.Run{ID: runID, JobID: job.ID, Succeed: true}, nil
	})

	w, err := NewWorker(cfg, q,
		map[types.ValidationType]Runner{types.ValidationJSONRule: runner}, nil)
	require.NoError(t, err)

	require.NoError(t, q.Enqueue(ctx, types.ValidationJob{
		ID: "j1", Type: types.ValidationJSONRule, DcName: "dc-east",
	}))

	_, err = w.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, "json-rules", seen.RuleSetID)
}

func TestNewWorker_Validation(t *testing.T) {
	runners := map[types.ValidationType]Runner{types.ValidationJSONRule: succeedingRunner(nil)}

	_, err := NewWorker(DefaultConfig(), nil, runners, nil)
	require.Error(t, err)

	_, err = NewWorker(DefaultConfig(), queue.NewMemoryQueue(time.Minute), nil, nil)
	require.Error(t, err)
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	q := queue.NewMemoryQueue(time.Minute)
	w, err := NewWorker(DefaultConfig(), q,
		map[types.ValidationType]Runner{types.ValidationJSONRule: succeedingRunner(nil)}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on cancel")
	}
}
