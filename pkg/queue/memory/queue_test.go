package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOptions() queue.Options {
	opts := queue.DefaultOptions()
	opts.Backoff.Delay = 10 * time.Millisecond
	opts.PollTimeout = 50 * time.Millisecond

	return opts
}

func job(workflowID string) *models.Job {
	return &models.Job{
		WorkflowID:  workflowID,
		UserID:      "user-1",
		ExecutionID: "exec-" + workflowID,
		TriggerType: models.TriggerTypeManual,
	}
}

func TestQueue_EnqueueReserveComplete(t *testing.T) {
	q := New(testOptions())
	ctx := t.Context()

	id, err := q.Enqueue(ctx, job("wf-1"))
	require.NoError(t, err)
	assert.Equal(t, "1", id)

	delivery, err := q.Reserve(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, delivery.ID)
	assert.Equal(t, 1, delivery.Attempt)
	assert.Equal(t, "wf-1", delivery.Job.WorkflowID)

	require.NoError(t, q.Complete(ctx, delivery, map[string]any{"success": true}))

	completed, err := q.Completed(ctx)
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, 1, completed[0].AttemptsMade)
	assert.NotNil(t, completed[0].FinishedAt)

	assert.ErrorIs(t, q.Complete(ctx, delivery, nil), queue.ErrLockLost)
}

func TestQueue_ReserveTimesOut(t *testing.T) {
	q := New(testOptions())

	_, err := q.Reserve(t.Context())
	assert.ErrorIs(t, err, queue.ErrNoJob)
}

func TestQueue_ReserveHonoursContext(t *testing.T) {
	opts := testOptions()
	opts.PollTimeout = time.Minute
	q := New(opts)

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Reserve(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueue_ReserveWakesOnEnqueue(t *testing.T) {
	opts := testOptions()
	opts.PollTimeout = 5 * time.Second
	q := New(opts)

	go func() {
		time.Sleep(20 * time.Millisecond)

		_, _ = q.Enqueue(context.Background(), job("wf-1"))
	}()

	delivery, err := q.Reserve(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "wf-1", delivery.Job.WorkflowID)
}

func TestQueue_FailRetriesWithBackoffThenGivesUp(t *testing.T) {
	q := New(testOptions())
	ctx := t.Context()

	_, err := q.Enqueue(ctx, job("wf-1"))
	require.NoError(t, err)

	cause := errors.New("HTTP request requires URL")

	for attempt := 1; attempt <= 3; attempt++ {
		delivery, err := q.Reserve(ctx)
		require.NoError(t, err)
		assert.Equal(t, attempt, delivery.Attempt)

		retrying, err := q.Fail(ctx, delivery, cause)
		require.NoError(t, err)
		assert.Equal(t, attempt < 3, retrying)
	}

	_, err = q.Reserve(ctx)
	assert.ErrorIs(t, err, queue.ErrNoJob)

	failed, err := q.Failed(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, 3, failed[0].AttemptsMade)
	assert.Equal(t, "HTTP request requires URL", failed[0].FailedReason)
}

func TestQueue_RetryIsDelayed(t *testing.T) {
	opts := testOptions()
	opts.Backoff.Delay = 200 * time.Millisecond
	opts.PollTimeout = 20 * time.Millisecond
	q := New(opts)
	ctx := t.Context()

	_, err := q.Enqueue(ctx, job("wf-1"))
	require.NoError(t, err)

	delivery, err := q.Reserve(ctx)
	require.NoError(t, err)

	retrying, err := q.Fail(ctx, delivery, errors.New("boom"))
	require.NoError(t, err)
	require.True(t, retrying)

	_, err = q.Reserve(ctx)
	assert.ErrorIs(t, err, queue.ErrNoJob)

	_, delayedJobs, _ := q.Depth()
	assert.Equal(t, 1, delayedJobs)

	time.Sleep(250 * time.Millisecond)

	delivery, err = q.Reserve(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, delivery.Attempt)
}

func TestQueue_StalledJobIsRedelivered(t *testing.T) {
	opts := testOptions()
	opts.LockDuration = 20 * time.Millisecond
	q := New(opts)
	ctx := t.Context()

	_, err := q.Enqueue(ctx, job("wf-1"))
	require.NoError(t, err)

	first, err := q.Reserve(ctx)
	require.NoError(t, err)

	time.Sleep(40 * time.Millisecond)

	second, err := q.Reserve(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.NotEqual(t, first.Token, second.Token)
	assert.Equal(t, 2, second.Attempt)

	assert.ErrorIs(t, q.Complete(ctx, first, nil), queue.ErrLockLost)
	assert.NoError(t, q.Complete(ctx, second, nil))
}

func TestQueue_StalledJobFailsWhenAttemptsRunOut(t *testing.T) {
	opts := testOptions()
	opts.LockDuration = 5 * time.Millisecond
	opts.PollTimeout = 20 * time.Millisecond
	q := New(opts)
	ctx := t.Context()

	_, err := q.Enqueue(ctx, job("wf-1"))
	require.NoError(t, err)

	for attempt := 1; attempt <= 3; attempt++ {
		delivery, err := q.Reserve(ctx)
		require.NoError(t, err)
		assert.Equal(t, attempt, delivery.Attempt)

		time.Sleep(10 * time.Millisecond)
	}

	_, err = q.Reserve(ctx)
	assert.ErrorIs(t, err, queue.ErrNoJob)

	waiting, delayedJobs, active := q.Depth()
	assert.Zero(t, waiting+delayedJobs+active)

	failed, err := q.Failed(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, 3, failed[0].AttemptsMade)
	assert.Equal(t, queue.StalledReason, failed[0].FailedReason)
	assert.NotNil(t, failed[0].FinishedAt)
}

func TestQueue_ExtendKeepsLock(t *testing.T) {
	opts := testOptions()
	opts.LockDuration = 50 * time.Millisecond
	q := New(opts)
	ctx := t.Context()

	_, err := q.Enqueue(ctx, job("wf-1"))
	require.NoError(t, err)

	delivery, err := q.Reserve(ctx)
	require.NoError(t, err)

	for range 3 {
		time.Sleep(30 * time.Millisecond)
		require.NoError(t, q.Extend(ctx, delivery))
	}

	_, _, active := q.Depth()
	assert.Equal(t, 1, active)
	assert.NoError(t, q.Complete(ctx, delivery, nil))
}

func TestQueue_Retention(t *testing.T) {
	opts := testOptions()
	opts.RemoveOnComplete = 2
	q := New(opts)
	ctx := t.Context()

	for _, wf := range []string{"a", "b", "c"} {
		_, err := q.Enqueue(ctx, job(wf))
		require.NoError(t, err)

		delivery, err := q.Reserve(ctx)
		require.NoError(t, err)
		require.NoError(t, q.Complete(ctx, delivery, nil))
	}

	completed, err := q.Completed(ctx)
	require.NoError(t, err)
	require.Len(t, completed, 2)
	assert.Equal(t, "c", completed[0].Job.WorkflowID)
	assert.Equal(t, "b", completed[1].Job.WorkflowID)
}

func TestQueue_Close(t *testing.T) {
	q := New(testOptions())
	require.NoError(t, q.Close())

	_, err := q.Enqueue(t.Context(), job("wf-1"))
	assert.ErrorIs(t, err, queue.ErrClosed)
	assert.ErrorIs(t, q.HealthCheck(t.Context()), queue.ErrClosed)

	_, err = q.Reserve(t.Context())
	assert.ErrorIs(t, err, queue.ErrClosed)
}
