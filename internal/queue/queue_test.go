package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	current time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.current
}

func (c *fakeClock) Advance(d time.Duration) {
	c.current = c.current.Add(d)
}

func setupQueue(t *testing.T) (*Queue, *fakeClock, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clock := &fakeClock{current: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	q := New(client, "analysis-queue", Options{Attempts: 3, Backoff: 5 * time.Second, Timeout: time.Second})
	q.now = clock.Now
	return q, clock, mr
}

type analysisPayload struct {
	SubmissionID uint `json:"submission_id"`
}

func TestEnqueueStoresWaitingJob(t *testing.T) {
	q, _, _ := setupQueue(t)
	ctx := context.Background()

	job, err := q.Enqueue(ctx, "analysis", analysisPayload{SubmissionID: 7})
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)

	stored, err := q.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "analysis", stored.Name)
	assert.Equal(t, StateWaiting, stored.State)
	assert.Equal(t, 3, stored.MaxAttempts)
	assert.Equal(t, 5*time.Second, stored.Backoff)

	var payload analysisPayload
	require.NoError(t, stored.Decode(&payload))
	assert.Equal(t, uint(7), payload.SubmissionID)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Waiting)
}

func TestEnqueueReportsUnavailableBroker(t *testing.T) {
	q, _, mr := setupQueue(t)
	mr.Close()

	_, err := q.Enqueue(context.Background(), "analysis", analysisPayload{SubmissionID: 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQueueUnavailable)
}

func TestWorkerCompletesJob(t *testing.T) {
	q, _, _ := setupQueue(t)
	ctx := context.Background()

	worker := NewWorker(q, WorkerConfig{Concurrency: 1}, zerolog.Nop())
	var seen uint
	worker.Handle("analysis", func(ctx context.Context, job Job) error {
		var payload analysisPayload
		if err := job.Decode(&payload); err != nil {
			return err
		}
		seen = payload.SubmissionID
		return nil
	})

	job, err := q.Enqueue(ctx, "analysis", analysisPayload{SubmissionID: 42})
	require.NoError(t, err)

	processed, err := worker.ProcessNext(ctx)
	require.NoError(t, err)
	assert.True(t, processed)
	assert.Equal(t, uint(42), seen)

	_, err = q.Get(ctx, job.ID)
	assert.ErrorIs(t, err, ErrJobNotFound)

	processed, err = worker.ProcessNext(ctx)
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestWorkerRetriesWithExponentialBackoffThenFails(t *testing.T) {
	q, clock, _ := setupQueue(t)
	ctx := context.Background()

	worker := NewWorker(q, WorkerConfig{Concurrency: 1}, zerolog.Nop())
	attempts := 0
	worker.Handle("analysis", func(ctx context.Context, job Job) error {
		attempts++
		return errors.New("data service unavailable")
	})

	var hookJob Job
	hookCalls := 0
	worker.OnFailed("analysis", func(ctx context.Context, job Job, err error) {
		hookCalls++
		hookJob = job
	})

	job, err := q.Enqueue(ctx, "analysis", analysisPayload{SubmissionID: 9})
	require.NoError(t, err)

	processed, err := worker.ProcessNext(ctx)
	require.NoError(t, err)
	require.True(t, processed)
	assert.Equal(t, 1, attempts)

	stored, err := q.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateDelayed, stored.State)

	// Not yet due after 4s.
	clock.Advance(4 * time.Second)
	processed, err = worker.ProcessNext(ctx)
	require.NoError(t, err)
	assert.False(t, processed)

	clock.Advance(time.Second)
	processed, err = worker.ProcessNext(ctx)
	require.NoError(t, err)
	require.True(t, processed)
	assert.Equal(t, 2, attempts)

	// Second retry waits twice as long.
	clock.Advance(9 * time.Second)
	processed, err = worker.ProcessNext(ctx)
	require.NoError(t, err)
	assert.False(t, processed)

	clock.Advance(time.Second)
	processed, err = worker.ProcessNext(ctx)
	require.NoError(t, err)
	require.True(t, processed)
	assert.Equal(t, 3, attempts)

	assert.Equal(t, 1, hookCalls)
	assert.Equal(t, job.ID, hookJob.ID)
	assert.Equal(t, "data service unavailable", hookJob.LastError)

	failed, err := q.Failed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, job.ID, failed[0].ID)
	assert.Equal(t, StateFailed, failed[0].State)
	assert.Equal(t, 3, failed[0].Attempts)
	assert.NotNil(t, failed[0].FailedAt)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Failed: 1}, stats)
}

func TestWorkerRecoversFromPanic(t *testing.T) {
	q, _, _ := setupQueue(t)
	ctx := context.Background()

	worker := NewWorker(q, WorkerConfig{}, zerolog.Nop())
	worker.Handle("analysis", func(ctx context.Context, job Job) error {
		panic("boom")
	})

	_, err := q.EnqueueWithOptions(ctx, "analysis", analysisPayload{SubmissionID: 1}, Options{Attempts: 1})
	require.NoError(t, err)

	processed, err := worker.ProcessNext(ctx)
	require.NoError(t, err)
	assert.True(t, processed)

	failed, err := q.Failed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Contains(t, failed[0].LastError, "panicked")
}

func TestWorkerFailsUnknownJobImmediately(t *testing.T) {
	q, _, _ := setupQueue(t)
	ctx := context.Background()
	worker := NewWorker(q, WorkerConfig{}, zerolog.Nop())

	_, err := q.Enqueue(ctx, "unknown", map[string]string{})
	require.NoError(t, err)

	processed, err := worker.ProcessNext(ctx)
	require.NoError(t, err)
	assert.True(t, processed)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Failed)
}

func TestRetryRequeuesFailedJob(t *testing.T) {
	q, _, _ := setupQueue(t)
	ctx := context.Background()

	worker := NewWorker(q, WorkerConfig{}, zerolog.Nop())
	fail := true
	worker.Handle("analysis", func(ctx context.Context, job Job) error {
		if fail {
			return errors.New("nope")
		}
		return nil
	})

	job, err := q.EnqueueWithOptions(ctx, "analysis", analysisPayload{SubmissionID: 3}, Options{Attempts: 1})
	require.NoError(t, err)
	_, err = worker.ProcessNext(ctx)
	require.NoError(t, err)

	retried, err := q.Retry(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateWaiting, retried.State)
	assert.Equal(t, 0, retried.Attempts)
	assert.Equal(t, 1, retried.Retries)
	assert.Nil(t, retried.FailedAt)
	assert.Nil(t, retried.ClaimedAt)

	fail = false
	processed, err := worker.ProcessNext(ctx)
	require.NoError(t, err)
	assert.True(t, processed)

	_, err = q.Retry(ctx, job.ID)
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestBackoffDoubles(t *testing.T) {
	assert.Equal(t, 5*time.Second, backoffFor(5*time.Second, 1))
	assert.Equal(t, 10*time.Second, backoffFor(5*time.Second, 2))
	assert.Equal(t, 20*time.Second, backoffFor(5*time.Second, 3))
	assert.Equal(t, 5*time.Second, backoffFor(5*time.Second, 0))
}

func TestWorkerStartStopsOnCancel(t *testing.T) {
	q, _, _ := setupQueue(t)
	q.now = time.Now

	done := make(chan struct{}, 1)
	worker := NewWorker(q, WorkerConfig{Concurrency: 2, PollInterval: 10 * time.Millisecond}, zerolog.Nop())
	worker.Handle("analysis", func(ctx context.Context, job Job) error {
		done <- struct{}{}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	worker.Start(ctx)

	_, err := q.Enqueue(context.Background(), "analysis", analysisPayload{SubmissionID: 5})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job was not processed")
	}

	cancel()
	worker.Wait()
}

func TestWorkerRequeuesStalledJob(t *testing.T) {
	q, clock, _ := setupQueue(t)
	ctx := context.Background()

	worker := NewWorker(q, WorkerConfig{}, zerolog.Nop())
	runs := 0
	worker.Handle("analysis", func(ctx context.Context, job Job) error {
		runs++
		return nil
	})

	job, err := q.Enqueue(ctx, "analysis", analysisPayload{SubmissionID: 11})
	require.NoError(t, err)

	// A worker claims the job and dies before reporting back.
	claimed, ok, err := q.claim(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, claimed.ClaimedAt)

	clock.Advance(10 * time.Second)
	processed, err := worker.ProcessNext(ctx)
	require.NoError(t, err)
	assert.False(t, processed)
	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Active)

	clock.Advance(q.defaults.Timeout + q.stallGrace)
	processed, err = worker.ProcessNext(ctx)
	require.NoError(t, err)
	require.True(t, processed)
	assert.Equal(t, 1, runs)

	_, err = q.Get(ctx, job.ID)
	assert.ErrorIs(t, err, ErrJobNotFound)
	stats, err = q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats)
}

func TestWorkerFailsStalledJobOnLastAttempt(t *testing.T) {
	q, clock, _ := setupQueue(t)
	ctx := context.Background()

	worker := NewWorker(q, WorkerConfig{}, zerolog.Nop())
	worker.Handle("analysis", func(ctx context.Context, job Job) error {
		t.Fatal("stalled job on its last attempt must not run again")
		return nil
	})
	var hookErr error
	worker.OnFailed("analysis", func(ctx context.Context, job Job, err error) {
		hookErr = err
	})

	job, err := q.EnqueueWithOptions(ctx, "analysis", analysisPayload{SubmissionID: 12}, Options{Attempts: 1})
	require.NoError(t, err)
	_, ok, err := q.claim(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	clock.Advance(time.Minute)
	processed, err := worker.ProcessNext(ctx)
	require.NoError(t, err)
	assert.False(t, processed)
	assert.ErrorIs(t, hookErr, ErrJobStalled)

	failed, err := q.Failed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, job.ID, failed[0].ID)
	assert.Equal(t, ErrJobStalled.Error(), failed[0].LastError)
	assert.Nil(t, failed[0].ClaimedAt)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Failed: 1}, stats)
}

func TestWorkerShutdownLetsRunningJobFinish(t *testing.T) {
	q, _, _ := setupQueue(t)
	q.now = time.Now

	started := make(chan struct{})
	result := make(chan error, 1)
	worker := NewWorker(q, WorkerConfig{PollInterval: 10 * time.Millisecond}, zerolog.Nop())
	worker.Handle("analysis", func(ctx context.Context, job Job) error {
		close(started)
		select {
		case <-time.After(200 * time.Millisecond):
			result <- nil
			return nil
		case <-ctx.Done():
			result <- ctx.Err()
			return ctx.Err()
		}
	})
	hookRan := false
	worker.OnFailed("analysis", func(ctx context.Context, job Job, err error) {
		hookRan = true
	})

	_, err := q.EnqueueWithOptions(context.Background(), "analysis", analysisPayload{SubmissionID: 13}, Options{Attempts: 1, Timeout: 5 * time.Second})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	worker.Start(ctx)

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("job was not picked up")
	}
	cancel()
	worker.Wait()

	require.NoError(t, <-result)
	assert.False(t, hookRan)
	stats, err := q.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats)
}
