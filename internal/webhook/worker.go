// Package webhook implements the worker that dispatches queued jobs as
// outbound HTTP webhooks: the poll loop, the retry/fail/complete routing
// decision, and the dead-letter administrative write on permanent failure.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/hookrelay/hookrelay/internal/dispatcher"
	"github.com/hookrelay/hookrelay/internal/queue"
	"github.com/hookrelay/hookrelay/internal/queue/overflow"
)

// Dequeuer is the subset of *queue.PgQueue the worker depends on, so tests
// can substitute a fake without a database.
type Dequeuer interface {
	Dequeue(ctx context.Context, workerID string, limit int) ([]queue.LeaseHandle, error)
	DequeueTx(ctx context.Context, workerID string, limit int) ([]queue.LeaseHandle, error)
}

// Config holds the tunables of a WebhookWorker. It mirrors the worker
// options named in the configuration surface; config.WorkerConfig is
// translated into this shape at wiring time in cmd/worker.
type Config struct {
	WorkerName        string
	PollInterval      time.Duration
	RequestTimeout    time.Duration
	MaxConcurrentJobs int
	Transactional     bool
	RetryPolicy       queue.RetryPolicy

	// Overflow resolves a parameters payload that PgQueue offloaded at
	// enqueue time back to its literal bytes before dispatch. Nil if the
	// queue was never configured with an overflow store.
	Overflow overflow.Store
}

// WebhookWorker runs the poll loop described in the worker's main-loop
// design: wait on a concurrency gate, dequeue up to the available permits,
// dispatch each lease concurrently, and route the outcome to complete, retry,
// or fail. liveness is ticked once per cycle so an admin server can report
// this worker as alive.
type WebhookWorker struct {
	queue      Dequeuer
	dispatcher dispatcher.Dispatcher
	deadLetter DeadLetterRecorder
	cfg        Config

	gate chan struct{}

	mu           sync.Mutex
	lastLiveness time.Time
}

// NewWebhookWorker wires a WebhookWorker. cfg.MaxConcurrentJobs sizes the
// concurrency gate; a non-positive value is treated as 1.
func NewWebhookWorker(q Dequeuer, d dispatcher.Dispatcher, dl DeadLetterRecorder, cfg Config) *WebhookWorker {
	if cfg.MaxConcurrentJobs <= 0 {
		cfg.MaxConcurrentJobs = 1
	}
	return &WebhookWorker{
		queue:      q,
		dispatcher: d,
		deadLetter: dl,
		cfg:        cfg,
		gate:       make(chan struct{}, cfg.MaxConcurrentJobs),
	}
}

// Liveness returns the time of the worker's last completed poll cycle, for
// an admin server's liveness check to compare against a staleness budget.
func (w *WebhookWorker) Liveness() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastLiveness
}

func (w *WebhookWorker) tick() {
	w.mu.Lock()
	w.lastLiveness = time.Now()
	w.mu.Unlock()
}

// Run executes the poll loop until ctx is cancelled. Shutdown is
// cooperative: the loop checks ctx at every suspension point, and
// cancellation also cuts an in-flight dispatch short, but that dispatch's
// lease is still finalized (committing a shared transaction if one is held)
// before Run returns rather than being abandoned mid-flight, so a job is
// never left stuck in running.
func (w *WebhookWorker) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		n, err := w.acquirePermits(ctx)
		if err != nil {
			return nil // context cancelled while waiting on the gate
		}

		leases, err := w.dequeue(ctx, n)
		w.releaseUnused(n, len(leases))
		if err != nil {
			slog.ErrorContext(ctx, "dequeue failed", "worker_name", w.cfg.WorkerName, "error", err)
			w.tick()
			if !w.sleep(ctx) {
				return nil
			}
			continue
		}

		var wg sync.WaitGroup
		for _, lease := range leases {
			wg.Add(1)
			go func(lease queue.LeaseHandle) {
				defer wg.Done()
				defer func() { <-w.gate }()
				w.dispatchOne(ctx, lease)
			}(lease)
		}
		wg.Wait()

		w.tick()
		if len(leases) == 0 {
			if !w.sleep(ctx) {
				return nil
			}
		}
	}
}

// acquirePermits blocks for at least one gate permit, then drains whatever
// else is immediately available so a single dequeue call claims as many
// jobs as the worker currently has capacity to run. It returns the number
// of permits taken, all already removed from the gate.
func (w *WebhookWorker) acquirePermits(ctx context.Context) (int, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case w.gate <- struct{}{}:
	}
	n := 1
	for {
		select {
		case w.gate <- struct{}{}:
			n++
		default:
			return n, nil
		}
	}
}

// releaseUnused returns gate permits that acquirePermits reserved but the
// dequeue didn't fill, e.g. an empty or partial batch.
func (w *WebhookWorker) releaseUnused(acquired, used int) {
	for i := used; i < acquired; i++ {
		<-w.gate
	}
}

func (w *WebhookWorker) dequeue(ctx context.Context, limit int) ([]queue.LeaseHandle, error) {
	if w.cfg.Transactional {
		return w.queue.DequeueTx(ctx, w.cfg.WorkerName, limit)
	}
	return w.queue.Dequeue(ctx, w.cfg.WorkerName, limit)
}

func (w *WebhookWorker) sleep(ctx context.Context) bool {
	if w.cfg.PollInterval <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(w.cfg.PollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// dispatchOne dispatches a single lease and routes the result to the
// correct finalizer. It never returns an error: every outcome, including an
// infrastructure failure finalizing the lease, is logged and absorbed here
// so one bad job can never stop the poll loop.
func (w *WebhookWorker) dispatchOne(ctx context.Context, lease queue.LeaseHandle) {
	job := lease.Job()

	// Finalizers run under a context that ignores ctx's cancellation, so a
	// shutdown that cuts the dispatch short still finalizes the lease.
	finalizeCtx := context.WithoutCancel(ctx)

	dispatchCtx, cancel := context.WithTimeout(ctx, w.cfg.RequestTimeout)
	defer cancel()

	payload, err := w.resolveParameters(dispatchCtx, job)
	if err != nil {
		slog.ErrorContext(ctx, "failed to resolve offloaded parameters", "job_id", job.ID, "error", err)
		w.handleDispatchError(finalizeCtx, lease, dispatcher.Result{}, &dispatcher.RetryableError{Err: err})
		return
	}

	result, dispatchErr := w.runDispatch(dispatchCtx, job, payload)

	if dispatchErr == nil {
		if err := lease.Complete(finalizeCtx); err != nil {
			slog.ErrorContext(ctx, "failed to complete job", "job_id", job.ID, "error", err)
		}
		return
	}

	w.handleDispatchError(finalizeCtx, lease, result, dispatchErr)
}

// resolveParameters returns job's dispatchable payload, downloading it from
// the overflow store first if PgQueue wrote a reference in its place.
func (w *WebhookWorker) resolveParameters(ctx context.Context, job *queue.Job) ([]byte, error) {
	if w.cfg.Overflow == nil {
		return job.Parameters, nil
	}
	ref, ok := overflow.ParseReference(job.Parameters)
	if !ok {
		return job.Parameters, nil
	}
	payload, err := w.cfg.Overflow.Get(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve overflow reference %s: %w", ref, err)
	}
	return payload, nil
}

// runDispatch recovers a panicking Dispatcher the same way a panicking job
// handler is recovered elsewhere in this codebase: convert it into an
// ordinary retryable error rather than crashing the poll loop.
func (w *WebhookWorker) runDispatch(ctx context.Context, job *queue.Job, payload []byte) (result dispatcher.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := string(debug.Stack())
			slog.ErrorContext(ctx, "dispatcher panicked", "job_id", job.ID, "panic", r, "stack", stack)
			err = &dispatcher.RetryableError{Err: fmt.Errorf("dispatcher panicked: %v", r)}
		}
	}()
	return w.dispatcher.Dispatch(ctx, job.Target, payload)
}

func (w *WebhookWorker) handleDispatchError(ctx context.Context, lease queue.LeaseHandle, result dispatcher.Result, dispatchErr error) {
	job := lease.Job()

	var retryable *dispatcher.RetryableError
	if errors.As(dispatchErr, &retryable) {
		interval := w.cfg.RetryPolicy.TimeUntilNextRetry(job.Attempt, result.RetryAfterDuration())
		retryQueue := w.cfg.RetryPolicy.RetryQueueName(job.Queue)

		err := lease.Retry(ctx, dispatchErr, interval, retryQueue)
		if err == nil {
			slog.InfoContext(ctx, "job scheduled for retry", "job_id", job.ID, "attempt", job.Attempt, "interval", interval)
			return
		}

		var invalid *queue.RetryInvalidError
		if errors.As(err, &invalid) {
			w.failAndDeadLetter(ctx, invalid.Lease, job, dispatchErr)
			return
		}
		slog.ErrorContext(ctx, "failed to schedule retry", "job_id", job.ID, "error", err)
		return
	}

	// Non-retryable: 4xx other than 408 and 429, or parameter/method parse
	// errors. Fail immediately, no retry attempted.
	w.failAndDeadLetter(ctx, lease, job, dispatchErr)
}

// failAndDeadLetter marks the lease permanently failed and records it to
// the administrative dead-letter surface. The core queue engine never reads
// this table back; it exists solely for an operator to inspect permanently
// failed jobs without scanning job_queue for status='failed'.
func (w *WebhookWorker) failAndDeadLetter(ctx context.Context, lease queue.LeaseHandle, job *queue.Job, cause error) {
	if err := lease.Fail(ctx, cause); err != nil {
		slog.ErrorContext(ctx, "failed to fail job", "job_id", job.ID, "error", err)
		return
	}
	slog.WarnContext(ctx, "job failed permanently", "job_id", job.ID, "attempt", job.Attempt, "error", cause)

	if w.deadLetter == nil {
		return
	}
	if err := w.deadLetter.Record(ctx, job, cause); err != nil {
		slog.ErrorContext(ctx, "failed to record dead letter job", "job_id", job.ID, "error", err)
	}
}
