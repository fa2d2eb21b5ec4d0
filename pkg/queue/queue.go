// Package queue defines the durable job queue that carries workflow runs to workers.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/dukex/autoflow/pkg/models"
)

// DefaultName is the queue every producer and worker agrees on.
const DefaultName = "workflow-execution"

// StalledReason is recorded on a job that stalled on its last allowed attempt.
const StalledReason = "job stalled more than allowable limit"

var (
	// ErrNoJob is returned by Reserve when no job became ready within the poll timeout.
	ErrNoJob = errors.New("no job ready")
	// ErrLockLost is returned when a delivery is settled after its lock expired.
	ErrLockLost = errors.New("delivery lock lost")
	ErrClosed   = errors.New("queue closed")
)

// Queue is an at-least-once job queue with bounded retries.
type Queue interface {
	// Enqueue stores the job and returns its broker-assigned id.
	Enqueue(ctx context.Context, job *models.Job) (string, error)
	// Reserve blocks until a job is ready, the poll timeout elapses (ErrNoJob) or ctx ends.
	Reserve(ctx context.Context) (*Delivery, error)
	Complete(ctx context.Context, delivery *Delivery, result any) error
	// Fail records a failed attempt. retrying reports whether the job will be redelivered.
	Fail(ctx context.Context, delivery *Delivery, cause error) (retrying bool, err error)
	// Extend renews the delivery lock so the job is not considered stalled.
	Extend(ctx context.Context, delivery *Delivery) error

	Completed(ctx context.Context) ([]*Record, error)
	Failed(ctx context.Context) ([]*Record, error)

	HealthCheck(ctx context.Context) error
	Close() error
}

// Delivery is one hand-out of a job to a worker.
type Delivery struct {
	ID      string
	Job     *models.Job
	Attempt int
	Token   string
}

// Record is the broker-side state of a job.
type Record struct {
	ID           string      `json:"id"`
	Job          *models.Job `json:"job"`
	AttemptsMade int         `json:"attemptsMade"`
	FailedReason string      `json:"failedReason,omitempty"`
	Result       any         `json:"result,omitempty"`
	EnqueuedAt   time.Time   `json:"enqueuedAt"`
	FinishedAt   *time.Time  `json:"finishedAt,omitempty"`
	NextRetryAt  *time.Time  `json:"nextRetryAt,omitempty"`
}

type BackoffType string

const (
	BackoffExponential BackoffType = "exponential"
	BackoffFixed       BackoffType = "fixed"
)

// Backoff computes the delay before a failed job is retried.
type Backoff struct {
	Type  BackoffType
	Delay time.Duration
}

// Next returns the delay after the given failed attempt, counted from 1.
func (b Backoff) Next(attempt int) time.Duration {
	if b.Type == BackoffFixed || attempt < 1 {
		return b.Delay
	}

	return b.Delay << (attempt - 1)
}

// Options configure retry, retention and locking.
type Options struct {
	Attempts int
	Backoff  Backoff
	// RemoveOnComplete and RemoveOnFail are how many finished jobs are retained. Negative keeps all.
	RemoveOnComplete int
	RemoveOnFail     int
	LockDuration     time.Duration
	PollTimeout      time.Duration
}

func DefaultOptions() Options {
	return Options{
		Attempts:         3,
		Backoff:          Backoff{Type: BackoffExponential, Delay: 2 * time.Second},
		RemoveOnComplete: 50,
		RemoveOnFail:     20,
		LockDuration:     30 * time.Second,
		PollTimeout:      time.Second,
	}
}

// Retry reports whether a job that has now failed attemptsMade times gets another attempt.
func (o Options) Retry(attemptsMade int) bool {
	return attemptsMade < o.Attempts
}
