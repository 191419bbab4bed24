package queue

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Handler processes a single job attempt.
type Handler func(ctx context.Context, job Job) error

// FailureHook runs once a job has exhausted its attempts.
type FailureHook func(ctx context.Context, job Job, err error)

var (
	// ErrNoHandler is returned when a claimed job has no registered handler.
	ErrNoHandler = errors.New("no handler registered for job")
	// ErrPermanent marks a handler error that retrying cannot fix.
	ErrPermanent = errors.New("permanent job failure")
)

// WorkerConfig tunes a worker pool.
type WorkerConfig struct {
	Concurrency  int
	PollInterval time.Duration
}

// Worker polls a queue and dispatches jobs to registered handlers.
type Worker struct {
	queue    *Queue
	cfg      WorkerConfig
	logger   zerolog.Logger
	mu       sync.RWMutex
	handlers map[string]Handler
	hooks    map[string]FailureHook
	wg       sync.WaitGroup
}

// NewWorker builds a worker for the given queue.
func NewWorker(q *Queue, cfg WorkerConfig, logger zerolog.Logger) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	return &Worker{
		queue:    q,
		cfg:      cfg,
		logger:   logger.With().Str("component", "queue_worker").Str("queue", q.Name()).Logger(),
		handlers: make(map[string]Handler),
		hooks:    make(map[string]FailureHook),
	}
}

// Handle registers the handler for a job name.
func (w *Worker) Handle(name string, handler Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[name] = handler
}

// OnFailed registers a hook invoked when a job of the given name fails permanently.
func (w *Worker) OnFailed(name string, hook FailureHook) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.hooks[name] = hook
}

// Start launches the polling goroutines. Cancelling ctx stops new claims; a job
// already running finishes under its own timeout before its goroutine returns.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.cfg.Concurrency; i++ {
		w.wg.Add(1)
		go w.loop(ctx, i)
	}
	w.logger.Info().Int("concurrency", w.cfg.Concurrency).Msg("queue worker started")
}

// Wait blocks until every polling goroutine has returned.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) loop(ctx context.Context, slot int) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		// Drain the wait list before sleeping again.
		for {
			processed, err := w.ProcessNext(ctx)
			if err != nil && ctx.Err() == nil {
				w.logger.Error().Err(err).Int("slot", slot).Msg("queue poll failed")
			}
			if !processed || ctx.Err() != nil {
				break
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ProcessNext claims and runs at most one job. It reports whether a job was processed.
func (w *Worker) ProcessNext(ctx context.Context) (bool, error) {
	if err := w.recoverStalled(ctx); err != nil {
		return false, fmt.Errorf("recover stalled jobs: %w", err)
	}
	if err := w.queue.promoteDelayed(ctx); err != nil {
		return false, fmt.Errorf("promote delayed jobs: %w", err)
	}

	job, ok, err := w.queue.claim(ctx)
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	if !ok {
		return false, nil
	}

	logger := w.logger.With().Str("job_id", job.ID).Str("job", job.Name).Int("attempt", job.Attempts).Logger()

	started := time.Now()
	runErr := w.run(ctx, job)
	elapsed := time.Since(started)
	observabilityJobDuration(w.queue.Name(), job.Name, elapsed)

	// Bookkeeping must survive the worker's own shutdown.
	bookCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if runErr == nil {
		observabilityJobOutcome(w.queue.Name(), job.Name, "completed")
		logger.Info().Dur("elapsed", elapsed).Msg("job completed")
		return true, w.queue.complete(bookCtx, job)
	}

	if job.Attempts < job.MaxAttempts && !errors.Is(runErr, ErrNoHandler) && !errors.Is(runErr, ErrPermanent) {
		delay := backoffFor(job.Backoff, job.Attempts)
		observabilityJobOutcome(w.queue.Name(), job.Name, "retried")
		logger.Warn().Err(runErr).Dur("retry_in", delay).Msg("job attempt failed")
		return true, w.queue.retryLater(bookCtx, job, runErr, delay)
	}

	observabilityJobOutcome(w.queue.Name(), job.Name, "failed")
	logger.Error().Err(runErr).Msg("job failed permanently")
	return true, w.failPermanently(bookCtx, job, runErr)
}

func (w *Worker) failPermanently(ctx context.Context, job Job, cause error) error {
	if err := w.queue.fail(ctx, job, cause); err != nil {
		return err
	}

	w.mu.RLock()
	hook := w.hooks[job.Name]
	w.mu.RUnlock()
	if hook != nil {
		job.State = StateFailed
		job.LastError = cause.Error()
		hook(ctx, job, cause)
	}
	return nil
}

// recoverStalled puts jobs abandoned by a dead worker back in line. The lost
// attempt counts, so a job that keeps killing its worker ends up failed.
func (w *Worker) recoverStalled(ctx context.Context) error {
	stalled, err := w.queue.reclaimStalled(ctx)
	if err != nil {
		return err
	}

	for _, job := range stalled {
		logger := w.logger.With().Str("job_id", job.ID).Str("job", job.Name).Int("attempt", job.Attempts).Logger()
		if job.Attempts < job.MaxAttempts {
			observabilityJobOutcome(w.queue.Name(), job.Name, "stalled")
			logger.Warn().Msg("stalled job re-queued")
			if err := w.queue.retryLater(ctx, job, ErrJobStalled, 0); err != nil {
				return err
			}
			continue
		}

		observabilityJobOutcome(w.queue.Name(), job.Name, "failed")
		logger.Error().Msg("stalled job out of attempts")
		if err := w.failPermanently(ctx, job, ErrJobStalled); err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) run(ctx context.Context, job Job) (err error) {
	w.mu.RLock()
	handler := w.handlers[job.Name]
	w.mu.RUnlock()
	if handler == nil {
		return fmt.Errorf("%w: %s", ErrNoHandler, job.Name)
	}

	timeout := job.Timeout
	if timeout <= 0 {
		timeout = w.queue.defaults.Timeout
	}
	// Shutdown must not abort a running attempt, only the timeout does.
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			w.logger.Error().Str("job_id", job.ID).Bytes("stack", debug.Stack()).Msg("job panicked")
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()

	return handler(runCtx, job)
}
