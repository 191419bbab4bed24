// Package queue implements a Redis-backed job queue with delayed retries,
// exponential backoff and a retained set of failed jobs.
//
// Layout per queue name:
//
//	queue:{name}:wait     list of job ids ready to run
//	queue:{name}:active   list of job ids claimed by a worker
//	queue:{name}:delayed  zset of job ids keyed by the unix-ms time they become ready
//	queue:{name}:failed   zset of job ids that exhausted their attempts
//	queue:{name}:job:{id} hash holding the job itself
//
// A worker that dies mid-job leaves the id on the active list. Any worker reclaims
// it once the claim is older than the job timeout plus a grace period.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/souffle-edu/souffle-api/internal/observability"
)

var (
	// ErrQueueUnavailable wraps any broker error raised while enqueueing.
	ErrQueueUnavailable = errors.New("job queue unavailable")
	// ErrJobNotFound indicates the job id is unknown or not in the expected state.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobStalled is recorded on a job whose worker stopped reporting back.
	ErrJobStalled = errors.New("job stalled")
)

const defaultStallGrace = 30 * time.Second

// Job states.
const (
	StateWaiting = "waiting"
	StateActive  = "active"
	StateDelayed = "delayed"
	StateFailed  = "failed"
)

// Options controls retry behaviour for a job.
type Options struct {
	Attempts int
	Backoff  time.Duration
	Timeout  time.Duration
}

// Job is a unit of work stored in the queue.
type Job struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Payload     json.RawMessage `json:"payload"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	Retries     int             `json:"retries"`
	Backoff     time.Duration   `json:"-"`
	Timeout     time.Duration   `json:"-"`
	State       string          `json:"state"`
	LastError   string          `json:"last_error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	ClaimedAt   *time.Time      `json:"claimed_at,omitempty"`
	FailedAt    *time.Time      `json:"failed_at,omitempty"`
}

// Decode unmarshals the job payload into target.
func (j Job) Decode(target interface{}) error {
	if err := json.Unmarshal(j.Payload, target); err != nil {
		return fmt.Errorf("decode %s payload: %w", j.Name, err)
	}
	return nil
}

// Stats summarises queue depth per state.
type Stats struct {
	Waiting int64 `json:"waiting"`
	Active  int64 `json:"active"`
	Delayed int64 `json:"delayed"`
	Failed  int64 `json:"failed"`
}

// Queue is a named job queue stored in Redis.
type Queue struct {
	client     *redis.Client
	name       string
	defaults   Options
	stallGrace time.Duration
	now        func() time.Time
}

// New builds a queue. Zero-valued defaults fall back to 3 attempts, 5s backoff and 60s timeout.
func New(client *redis.Client, name string, defaults Options) *Queue {
	if defaults.Attempts <= 0 {
		defaults.Attempts = 3
	}
	if defaults.Backoff <= 0 {
		defaults.Backoff = 5 * time.Second
	}
	if defaults.Timeout <= 0 {
		defaults.Timeout = 60 * time.Second
	}
	return &Queue{
		client:     client,
		name:       name,
		defaults:   defaults,
		stallGrace: defaultStallGrace,
		now:        time.Now,
	}
}

// Name returns the queue name.
func (q *Queue) Name() string {
	return q.name
}

func (q *Queue) key(part string) string {
	return "queue:" + q.name + ":" + part
}

func (q *Queue) jobKey(id string) string {
	return q.key("job:" + id)
}

// Enqueue stores a job with the queue's default options and makes it ready to run.
func (q *Queue) Enqueue(ctx context.Context, name string, payload interface{}) (Job, error) {
	return q.EnqueueWithOptions(ctx, name, payload, q.defaults)
}

// EnqueueWithOptions stores a job with explicit retry options.
func (q *Queue) EnqueueWithOptions(ctx context.Context, name string, payload interface{}, opts Options) (Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Job{}, fmt.Errorf("encode %s payload: %w", name, err)
	}
	if opts.Attempts <= 0 {
		opts.Attempts = q.defaults.Attempts
	}
	if opts.Backoff <= 0 {
		opts.Backoff = q.defaults.Backoff
	}
	if opts.Timeout <= 0 {
		opts.Timeout = q.defaults.Timeout
	}

	job := Job{
		ID:          uuid.NewString(),
		Name:        name,
		Payload:     raw,
		MaxAttempts: opts.Attempts,
		Backoff:     opts.Backoff,
		Timeout:     opts.Timeout,
		State:       StateWaiting,
		CreatedAt:   q.now().UTC(),
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.jobKey(job.ID), map[string]interface{}{
			"name":         job.Name,
			"payload":      string(job.Payload),
			"attempts":     0,
			"max_attempts": job.MaxAttempts,
			"backoff_ms":   job.Backoff.Milliseconds(),
			"timeout_ms":   job.Timeout.Milliseconds(),
			"state":        job.State,
			"created_at":   job.CreatedAt.UnixMilli(),
		})
		pipe.LPush(ctx, q.key("wait"), job.ID)
		return nil
	})
	if err != nil {
		observability.QueueEnqueueFailures().WithLabelValues(q.name, name).Inc()
		return Job{}, fmt.Errorf("%w: %w", ErrQueueUnavailable, err)
	}

	return job, nil
}

// Get loads a job by id.
func (q *Queue) Get(ctx context.Context, id string) (Job, error) {
	values, err := q.client.HGetAll(ctx, q.jobKey(id)).Result()
	if err != nil {
		return Job{}, err
	}
	if len(values) == 0 {
		return Job{}, ErrJobNotFound
	}
	return decodeJob(id, values), nil
}

// Failed lists retained failed jobs, most recent first.
func (q *Queue) Failed(ctx context.Context, limit int64) ([]Job, error) {
	if limit <= 0 {
		limit = 50
	}
	ids, err := q.client.ZRevRange(ctx, q.key("failed"), 0, limit-1).Result()
	if err != nil {
		return nil, err
	}

	jobs := make([]Job, 0, len(ids))
	for _, id := range ids {
		job, err := q.Get(ctx, id)
		if errors.Is(err, ErrJobNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Retry moves a failed job back to the wait list with a fresh attempt budget and
// bumps its retry counter so handlers can tell a manual re-run apart.
func (q *Queue) Retry(ctx context.Context, id string) (Job, error) {
	removed, err := q.client.ZRem(ctx, q.key("failed"), id).Result()
	if err != nil {
		return Job{}, err
	}
	if removed == 0 {
		return Job{}, ErrJobNotFound
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.jobKey(id), "attempts", 0, "state", StateWaiting)
		pipe.HIncrBy(ctx, q.jobKey(id), "retries", 1)
		pipe.HDel(ctx, q.jobKey(id), "failed_at", "claimed_at")
		pipe.LPush(ctx, q.key("wait"), id)
		return nil
	})
	if err != nil {
		return Job{}, err
	}

	return q.Get(ctx, id)
}

// Stats reports queue depth per state.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	pipe := q.client.Pipeline()
	waiting := pipe.LLen(ctx, q.key("wait"))
	active := pipe.LLen(ctx, q.key("active"))
	delayed := pipe.ZCard(ctx, q.key("delayed"))
	failed := pipe.ZCard(ctx, q.key("failed"))
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, err
	}
	return Stats{
		Waiting: waiting.Val(),
		Active:  active.Val(),
		Delayed: delayed.Val(),
		Failed:  failed.Val(),
	}, nil
}

// promoteDelayed moves due delayed jobs onto the wait list. ZREM decides which
// worker wins a job when several promote concurrently.
func (q *Queue) promoteDelayed(ctx context.Context) error {
	due, err := q.client.ZRangeByScore(ctx, q.key("delayed"), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(q.now().UnixMilli(), 10),
	}).Result()
	if err != nil {
		return err
	}

	for _, id := range due {
		removed, err := q.client.ZRem(ctx, q.key("delayed"), id).Result()
		if err != nil {
			return err
		}
		if removed == 0 {
			continue
		}
		if _, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, q.jobKey(id), "state", StateWaiting)
			pipe.LPush(ctx, q.key("wait"), id)
			return nil
		}); err != nil {
			return err
		}
	}
	return nil
}

// reclaimStalled removes active jobs whose claim outlived their timeout plus the
// grace period and returns them. LREM decides which worker owns a stalled job.
func (q *Queue) reclaimStalled(ctx context.Context) ([]Job, error) {
	ids, err := q.client.LRange(ctx, q.key("active"), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	now := q.now()
	var stalled []Job
	for _, id := range ids {
		job, err := q.Get(ctx, id)
		if errors.Is(err, ErrJobNotFound) {
			if err := q.client.LRem(ctx, q.key("active"), 1, id).Err(); err != nil {
				return nil, err
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		// Claimed but not yet stamped.
		if job.ClaimedAt == nil {
			continue
		}
		timeout := job.Timeout
		if timeout <= 0 {
			timeout = q.defaults.Timeout
		}
		if now.Sub(*job.ClaimedAt) < timeout+q.stallGrace {
			continue
		}

		removed, err := q.client.LRem(ctx, q.key("active"), 1, id).Result()
		if err != nil {
			return nil, err
		}
		if removed == 0 {
			continue
		}
		stalled = append(stalled, job)
	}
	return stalled, nil
}

// claim atomically moves the oldest waiting job to the active list and records the attempt.
func (q *Queue) claim(ctx context.Context) (Job, bool, error) {
	id, err := q.client.RPopLPush(ctx, q.key("wait"), q.key("active")).Result()
	if errors.Is(err, redis.Nil) {
		return Job{}, false, nil
	}
	if err != nil {
		return Job{}, false, err
	}

	attempts, err := q.client.HIncrBy(ctx, q.jobKey(id), "attempts", 1).Result()
	if err != nil {
		return Job{}, false, err
	}
	if err := q.client.HSet(ctx, q.jobKey(id), "state", StateActive, "claimed_at", q.now().UnixMilli()).Err(); err != nil {
		return Job{}, false, err
	}

	job, err := q.Get(ctx, id)
	if errors.Is(err, ErrJobNotFound) {
		_ = q.client.LRem(ctx, q.key("active"), 1, id).Err()
		return Job{}, false, nil
	}
	if err != nil {
		return Job{}, false, err
	}
	job.Attempts = int(attempts)
	return job, true, nil
}

func (q *Queue) complete(ctx context.Context, job Job) error {
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.key("active"), 1, job.ID)
		pipe.Del(ctx, q.jobKey(job.ID))
		return nil
	})
	return err
}

func (q *Queue) retryLater(ctx context.Context, job Job, cause error, delay time.Duration) error {
	readyAt := q.now().Add(delay).UnixMilli()
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.key("active"), 1, job.ID)
		pipe.HSet(ctx, q.jobKey(job.ID), "state", StateDelayed, "last_error", cause.Error())
		pipe.HDel(ctx, q.jobKey(job.ID), "claimed_at")
		pipe.ZAdd(ctx, q.key("delayed"), redis.Z{Score: float64(readyAt), Member: job.ID})
		return nil
	})
	return err
}

func (q *Queue) fail(ctx context.Context, job Job, cause error) error {
	failedAt := q.now()
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.key("active"), 1, job.ID)
		pipe.HSet(ctx, q.jobKey(job.ID),
			"state", StateFailed,
			"last_error", cause.Error(),
			"failed_at", failedAt.UnixMilli(),
		)
		pipe.HDel(ctx, q.jobKey(job.ID), "claimed_at")
		pipe.ZAdd(ctx, q.key("failed"), redis.Z{Score: float64(failedAt.UnixMilli()), Member: job.ID})
		return nil
	})
	return err
}

// backoffFor returns the delay before the next attempt after `attempts` failures.
func backoffFor(base time.Duration, attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	return base * time.Duration(1<<uint(attempts-1))
}

func decodeJob(id string, values map[string]string) Job {
	job := Job{
		ID:        id,
		Name:      values["name"],
		Payload:   json.RawMessage(values["payload"]),
		State:     values["state"],
		LastError: values["last_error"],
	}
	job.Attempts, _ = strconv.Atoi(values["attempts"])
	job.MaxAttempts, _ = strconv.Atoi(values["max_attempts"])
	job.Retries, _ = strconv.Atoi(values["retries"])
	if ms, err := strconv.ParseInt(values["backoff_ms"], 10, 64); err == nil {
		job.Backoff = time.Duration(ms) * time.Millisecond
	}
	if ms, err := strconv.ParseInt(values["timeout_ms"], 10, 64); err == nil {
		job.Timeout = time.Duration(ms) * time.Millisecond
	}
	if ms, err := strconv.ParseInt(values["created_at"], 10, 64); err == nil {
		job.CreatedAt = time.UnixMilli(ms).UTC()
	}
	if ms, err := strconv.ParseInt(values["claimed_at"], 10, 64); err == nil {
		claimedAt := time.UnixMilli(ms).UTC()
		job.ClaimedAt = &claimedAt
	}
	if ms, err := strconv.ParseInt(values["failed_at"], 10, 64); err == nil {
		failedAt := time.UnixMilli(ms).UTC()
		job.FailedAt = &failedAt
	}
	return job
}
