// Package redis provides a queue.Queue backed by Redis lists and sorted sets.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/queue"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// KeyPrefix namespaces every key written by the queue.
const KeyPrefix = "autoflow"

// maxRetryBackoff caps the client's reconnect backoff.
const maxRetryBackoff = 2 * time.Second

// retainLua and placeLua are shared by the scripts that move a job out of active.
// place pushes the job to wait, schedules it on delayed, or stores it in a finished
// list and drops job keys beyond the retention limit.
const (
	retainLua = `
local function retain(list, keep, prefix)
	if keep < 0 then
		return
	end
	local expired = redis.call('LRANGE', list, keep, -1)
	for _, id in ipairs(expired) do
		redis.call('DEL', prefix .. id)
	end
	if keep == 0 then
		redis.call('DEL', list)
	else
		redis.call('LTRIM', list, 0, keep - 1)
	end
end
`

	placeLua = `
local function place(id, target, mode, arg, prefix)
	if mode == 'delayed' then
		redis.call('ZADD', target, arg, id)
	elseif mode == 'wait' then
		redis.call('LPUSH', target, id)
	else
		redis.call('LPUSH', target, id)
		retain(target, tonumber(arg), prefix)
	end
end
`
)

const (
	placeWait     = "wait"
	placeDelayed  = "delayed"
	placeFinished = "finished"
)

var (
	promoteScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], 0, ARGV[1])
for _, id in ipairs(ids) do
	redis.call('ZREM', KEYS[1], id)
	redis.call('LPUSH', KEYS[2], id)
end
return #ids
`)

	// KEYS: lock, active, job, target. ARGV: token, id, record, mode, score or keep, job key prefix.
	settleScript = redis.NewScript(retainLua + placeLua + `
if redis.call('GET', KEYS[1]) ~= ARGV[1] then
	return 0
end
redis.call('DEL', KEYS[1])
redis.call('LREM', KEYS[2], 1, ARGV[2])
redis.call('SET', KEYS[3], ARGV[3])
place(ARGV[2], KEYS[4], ARGV[4], ARGV[5], ARGV[6])
return 1
`)

	extendScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) ~= ARGV[1] then
	return 0
end
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return 1
`)

	// KEYS: lock, active, job, target. ARGV: id, record, mode, keep, job key prefix.
	requeueScript = redis.NewScript(retainLua + placeLua + `
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
if redis.call('LREM', KEYS[2], 1, ARGV[1]) == 0 then
	return 0
end
redis.call('SET', KEYS[3], ARGV[2])
place(ARGV[1], KEYS[4], ARGV[3], ARGV[4], ARGV[5])
return 1
`)
)

// Queue is a Redis-backed queue. Keys live under {prefix}:{name}:.
type Queue struct {
	client     *redis.Client
	ownsClient bool
	name       string
	opts       queue.Options
	logger     *slog.Logger

	mu          sync.Mutex
	lastStalled time.Time
	suspects    map[string]struct{}
}

var _ queue.Queue = (*Queue)(nil)

// NewFromURL connects to the Redis server at redisURL.
func NewFromURL(ctx context.Context, logger *slog.Logger, redisURL, name string, opts queue.Options) (*Queue, error) {
	clientOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	clientOpts.MaxRetryBackoff = maxRetryBackoff

	client := redis.NewClient(clientOpts)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	q := New(client, logger, name, opts)
	q.ownsClient = true

	return q, nil
}

// New wraps an existing client. Close leaves the client open.
func New(client *redis.Client, logger *slog.Logger, name string, opts queue.Options) *Queue {
	return &Queue{
		client:   client,
		name:     name,
		opts:     opts,
		logger:   logger.With("module", "redis_queue", "queue", name),
		suspects: make(map[string]struct{}),
	}
}

func (q *Queue) key(parts ...string) string {
	key := KeyPrefix + ":" + q.name
	for _, part := range parts {
		key += ":" + part
	}

	return key
}

func (q *Queue) jobKey(id string) string {
	return q.key("job", id)
}

func (q *Queue) lockKey(id string) string {
	return q.key("lock", id)
}

func (q *Queue) Enqueue(ctx context.Context, job *models.Job) (string, error) {
	seq, err := q.client.Incr(ctx, q.key("id")).Result()
	if err != nil {
		return "", fmt.Errorf("failed to allocate job id: %w", err)
	}

	id := strconv.FormatInt(seq, 10)
	record := &queue.Record{ID: id, Job: job, EnqueuedAt: time.Now().UTC()}

	data, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job %s: %w", id, err)
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, q.jobKey(id), data, 0)
		pipe.LPush(ctx, q.key("wait"), id)

		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to enqueue job %s: %w", id, err)
	}

	return id, nil
}

func (q *Queue) Reserve(ctx context.Context) (*queue.Delivery, error) {
	now := time.Now()

	err := promoteScript.Run(ctx, q.client,
		[]string{q.key("delayed"), q.key("wait")},
		now.UnixMilli(),
	).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to promote delayed jobs: %w", err)
	}

	if err := q.requeueStalled(ctx, now); err != nil {
		return nil, err
	}

	id, err := q.client.BLMove(ctx, q.key("wait"), q.key("active"), "RIGHT", "LEFT", q.opts.PollTimeout).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, queue.ErrNoJob
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		return nil, fmt.Errorf("failed to reserve job: %w", err)
	}

	token := uuid.NewString()

	err = q.client.Set(ctx, q.lockKey(id), token, q.opts.LockDuration).Err()
	if err != nil {
		return nil, fmt.Errorf("failed to lock job %s: %w", id, err)
	}

	record, err := q.record(ctx, id)
	if err != nil {
		return nil, err
	}

	return &queue.Delivery{
		ID:      id,
		Job:     record.Job,
		Attempt: record.AttemptsMade + 1,
		Token:   token,
	}, nil
}

// requeueStalled moves active jobs without a lock back to wait. A job must be seen
// unlocked on two consecutive checks, one lock duration apart, before it is moved.
func (q *Queue) requeueStalled(ctx context.Context, now time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if now.Sub(q.lastStalled) < q.opts.LockDuration {
		return nil
	}

	q.lastStalled = now

	ids, err := q.client.LRange(ctx, q.key("active"), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("failed to list active jobs: %w", err)
	}

	suspects := make(map[string]struct{})

	for _, id := range ids {
		locked, err := q.client.Exists(ctx, q.lockKey(id)).Result()
		if err != nil {
			return fmt.Errorf("failed to check lock of job %s: %w", id, err)
		}

		if locked == 1 {
			continue
		}

		if _, seen := q.suspects[id]; !seen {
			suspects[id] = struct{}{}

			continue
		}

		if err := q.requeue(ctx, id, now); err != nil {
			return err
		}
	}

	q.suspects = suspects

	return nil
}

// requeue returns a stalled job to wait, or fails it when the stall used up its last attempt.
func (q *Queue) requeue(ctx context.Context, id string, now time.Time) error {
	record, err := q.record(ctx, id)
	if err != nil {
		return err
	}

	record.AttemptsMade++

	target, mode, keep := q.key("wait"), placeWait, 0

	if !q.opts.Retry(record.AttemptsMade) {
		finishedAt := now.UTC()
		record.FailedReason = queue.StalledReason
		record.FinishedAt = &finishedAt
		target, mode, keep = q.key("failed"), placeFinished, q.opts.RemoveOnFail
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal job %s: %w", id, err)
	}

	moved, err := requeueScript.Run(ctx, q.client,
		[]string{q.lockKey(id), q.key("active"), q.jobKey(id), target},
		id, data, mode, keep, q.jobKey(""),
	).Int()
	if err != nil {
		return fmt.Errorf("failed to requeue stalled job %s: %w", id, err)
	}

	if moved == 0 {
		return nil
	}

	if mode == placeFinished {
		q.logger.WarnContext(ctx, "failed stalled job", "job_id", id, "attempts_made", record.AttemptsMade)
	} else {
		q.logger.WarnContext(ctx, "requeued stalled job", "job_id", id, "attempts_made", record.AttemptsMade)
	}

	return nil
}

func (q *Queue) record(ctx context.Context, id string) (*queue.Record, error) {
	data, err := q.client.Get(ctx, q.jobKey(id)).Bytes()
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", id, err)
	}

	var record queue.Record

	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job %s: %w", id, err)
	}

	return &record, nil
}

// settle stores the updated record and moves the job out of active to target in one step,
// provided the delivery still holds the lock.
func (q *Queue) settle(ctx context.Context, delivery *queue.Delivery, record *queue.Record, target, mode string, arg any) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal job %s: %w", delivery.ID, err)
	}

	owned, err := settleScript.Run(ctx, q.client,
		[]string{q.lockKey(delivery.ID), q.key("active"), q.jobKey(delivery.ID), target},
		delivery.Token, delivery.ID, data, mode, arg, q.jobKey(""),
	).Int()
	if err != nil {
		return fmt.Errorf("failed to settle job %s: %w", delivery.ID, err)
	}

	if owned == 0 {
		return fmt.Errorf("job %s: %w", delivery.ID, queue.ErrLockLost)
	}

	return nil
}

// owned loads the record behind a delivery. A missing record means the lock is long gone.
func (q *Queue) owned(ctx context.Context, delivery *queue.Delivery) (*queue.Record, error) {
	record, err := q.record(ctx, delivery.ID)
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("job %s: %w", delivery.ID, queue.ErrLockLost)
	}

	return record, err
}

func (q *Queue) Complete(ctx context.Context, delivery *queue.Delivery, result any) error {
	record, err := q.owned(ctx, delivery)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	record.AttemptsMade++
	record.Result = result
	record.FinishedAt = &now

	return q.settle(ctx, delivery, record, q.key("completed"), placeFinished, q.opts.RemoveOnComplete)
}

func (q *Queue) Fail(ctx context.Context, delivery *queue.Delivery, cause error) (bool, error) {
	record, err := q.owned(ctx, delivery)
	if err != nil {
		return false, err
	}

	now := time.Now().UTC()
	record.AttemptsMade++
	record.FailedReason = cause.Error()

	if !q.opts.Retry(record.AttemptsMade) {
		record.FinishedAt = &now

		return false, q.settle(ctx, delivery, record, q.key("failed"), placeFinished, q.opts.RemoveOnFail)
	}

	readyAt := now.Add(q.opts.Backoff.Next(record.AttemptsMade))
	record.NextRetryAt = &readyAt

	if err := q.settle(ctx, delivery, record, q.key("delayed"), placeDelayed, readyAt.UnixMilli()); err != nil {
		return false, err
	}

	return true, nil
}

func (q *Queue) Extend(ctx context.Context, delivery *queue.Delivery) error {
	owned, err := extendScript.Run(ctx, q.client,
		[]string{q.lockKey(delivery.ID)},
		delivery.Token, q.opts.LockDuration.Milliseconds(),
	).Int()
	if err != nil {
		return fmt.Errorf("failed to extend lock of job %s: %w", delivery.ID, err)
	}

	if owned == 0 {
		return fmt.Errorf("job %s: %w", delivery.ID, queue.ErrLockLost)
	}

	return nil
}

// Completed returns retained completed jobs, newest first.
func (q *Queue) Completed(ctx context.Context) ([]*queue.Record, error) {
	return q.list(ctx, "completed")
}

// Failed returns retained permanently failed jobs, newest first.
func (q *Queue) Failed(ctx context.Context) ([]*queue.Record, error) {
	return q.list(ctx, "failed")
}

func (q *Queue) list(ctx context.Context, list string) ([]*queue.Record, error) {
	ids, err := q.client.LRange(ctx, q.key(list), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list %s jobs: %w", list, err)
	}

	records := make([]*queue.Record, 0, len(ids))

	for _, id := range ids {
		record, err := q.record(ctx, id)
		if err != nil {
			return nil, err
		}

		records = append(records, record)
	}

	return records, nil
}

func (q *Queue) HealthCheck(ctx context.Context) error {
	if err := q.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}

	return nil
}

func (q *Queue) Close() error {
	if !q.ownsClient {
		return nil
	}

	return q.client.Close()
}
