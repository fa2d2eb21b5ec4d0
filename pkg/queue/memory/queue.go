// Package memory provides an in-process queue.Queue for tests and single-process setups.
package memory

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/queue"
	"github.com/google/uuid"
)

type lease struct {
	token    string
	deadline time.Time
}

type delayed struct {
	id      string
	readyAt time.Time
}

// Queue keeps jobs in memory with the same retry, retention and lock semantics as the redis queue.
type Queue struct {
	opts queue.Options

	mu        sync.Mutex
	nextID    int
	records   map[string]*queue.Record
	wait      []string
	delayed   []delayed
	active    map[string]lease
	completed []string
	failed    []string
	notify    chan struct{}
	closed    bool
}

var _ queue.Queue = (*Queue)(nil)

func New(opts queue.Options) *Queue {
	return &Queue{
		opts:    opts,
		records: make(map[string]*queue.Record),
		active:  make(map[string]lease),
		notify:  make(chan struct{}, 1),
	}
}

func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *Queue) Enqueue(_ context.Context, job *models.Job) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return "", queue.ErrClosed
	}

	q.nextID++
	id := strconv.Itoa(q.nextID)

	jobCopy := *job
	q.records[id] = &queue.Record{ID: id, Job: &jobCopy, EnqueuedAt: time.Now().UTC()}
	q.wait = append(q.wait, id)
	q.signal()

	return id, nil
}

func (q *Queue) Reserve(ctx context.Context) (*queue.Delivery, error) {
	timeout := time.NewTimer(q.opts.PollTimeout)
	defer timeout.Stop()

	for {
		delivery, wake, err := q.tryReserve()
		if err != nil || delivery != nil {
			return delivery, err
		}

		wakeTimer := time.NewTimer(wake)

		select {
		case <-ctx.Done():
			wakeTimer.Stop()

			return nil, ctx.Err()
		case <-timeout.C:
			wakeTimer.Stop()

			return nil, queue.ErrNoJob
		case <-q.notify:
		case <-wakeTimer.C:
		}

		wakeTimer.Stop()
	}
}

// tryReserve hands out the oldest waiting job, or reports how long to sleep before looking again.
func (q *Queue) tryReserve() (*queue.Delivery, time.Duration, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, 0, queue.ErrClosed
	}

	now := time.Now()
	q.promoteDelayed(now)
	q.requeueStalled(now)

	if len(q.wait) == 0 {
		return nil, q.nextWake(now), nil
	}

	id := q.wait[0]
	q.wait = q.wait[1:]

	token := uuid.NewString()
	q.active[id] = lease{token: token, deadline: now.Add(q.opts.LockDuration)}

	record := q.records[id]
	record.NextRetryAt = nil
	jobCopy := *record.Job

	return &queue.Delivery{
		ID:      id,
		Job:     &jobCopy,
		Attempt: record.AttemptsMade + 1,
		Token:   token,
	}, 0, nil
}

func (q *Queue) promoteDelayed(now time.Time) {
	remaining := q.delayed[:0]

	for _, d := range q.delayed {
		if d.readyAt.After(now) {
			remaining = append(remaining, d)
		} else {
			q.wait = append(q.wait, d.id)
		}
	}

	q.delayed = remaining
}

// requeueStalled takes back jobs whose lock expired. A stall counts as an attempt, so a job
// that keeps stalling ends up failed like any other.
func (q *Queue) requeueStalled(now time.Time) {
	for id, l := range q.active {
		if !now.After(l.deadline) {
			continue
		}

		delete(q.active, id)

		record := q.records[id]
		record.AttemptsMade++

		if q.opts.Retry(record.AttemptsMade) {
			q.wait = append(q.wait, id)

			continue
		}

		finishedAt := now.UTC()
		record.FailedReason = queue.StalledReason
		record.FinishedAt = &finishedAt
		q.failed = q.retain(append(q.failed, id), q.opts.RemoveOnFail)
	}
}

func (q *Queue) nextWake(now time.Time) time.Duration {
	wake := q.opts.PollTimeout

	for _, d := range q.delayed {
		wake = min(wake, d.readyAt.Sub(now))
	}

	for _, l := range q.active {
		wake = min(wake, l.deadline.Sub(now))
	}

	return max(wake, time.Millisecond)
}

// settle removes the delivery from the active set when it still owns the lock.
func (q *Queue) settle(delivery *queue.Delivery) (*queue.Record, error) {
	l, ok := q.active[delivery.ID]
	if !ok || l.token != delivery.Token {
		return nil, fmt.Errorf("job %s: %w", delivery.ID, queue.ErrLockLost)
	}

	delete(q.active, delivery.ID)

	return q.records[delivery.ID], nil
}

func (q *Queue) Complete(_ context.Context, delivery *queue.Delivery, result any) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	record, err := q.settle(delivery)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	record.AttemptsMade++
	record.Result = result
	record.FinishedAt = &now

	q.completed = q.retain(append(q.completed, delivery.ID), q.opts.RemoveOnComplete)

	return nil
}

func (q *Queue) Fail(_ context.Context, delivery *queue.Delivery, cause error) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	record, err := q.settle(delivery)
	if err != nil {
		return false, err
	}

	now := time.Now().UTC()
	record.AttemptsMade++
	record.FailedReason = cause.Error()

	if q.opts.Retry(record.AttemptsMade) {
		readyAt := now.Add(q.opts.Backoff.Next(record.AttemptsMade))
		record.NextRetryAt = &readyAt
		q.delayed = append(q.delayed, delayed{id: delivery.ID, readyAt: readyAt})
		q.signal()

		return true, nil
	}

	record.FinishedAt = &now
	q.failed = q.retain(append(q.failed, delivery.ID), q.opts.RemoveOnFail)

	return false, nil
}

// retain keeps the newest keep ids of a finished list and forgets the rest.
func (q *Queue) retain(ids []string, keep int) []string {
	if keep < 0 || len(ids) <= keep {
		return ids
	}

	drop := len(ids) - keep
	for _, id := range ids[:drop] {
		delete(q.records, id)
	}

	return slices.Clone(ids[drop:])
}

func (q *Queue) Extend(_ context.Context, delivery *queue.Delivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	l, ok := q.active[delivery.ID]
	if !ok || l.token != delivery.Token {
		return fmt.Errorf("job %s: %w", delivery.ID, queue.ErrLockLost)
	}

	l.deadline = time.Now().Add(q.opts.LockDuration)
	q.active[delivery.ID] = l

	return nil
}

// Completed returns retained completed jobs, newest first.
func (q *Queue) Completed(_ context.Context) ([]*queue.Record, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.snapshot(q.completed), nil
}

// Failed returns retained permanently failed jobs, newest first.
func (q *Queue) Failed(_ context.Context) ([]*queue.Record, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.snapshot(q.failed), nil
}

func (q *Queue) snapshot(ids []string) []*queue.Record {
	records := make([]*queue.Record, 0, len(ids))

	for i := len(ids) - 1; i >= 0; i-- {
		record := *q.records[ids[i]]
		records = append(records, &record)
	}

	return records
}

// Depth returns the number of waiting, delayed and active jobs.
func (q *Queue) Depth() (waiting, delayedJobs, active int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.wait), len(q.delayed), len(q.active)
}

func (q *Queue) HealthCheck(_ context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return queue.ErrClosed
	}

	return nil
}

func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.signal()

	return nil
}
