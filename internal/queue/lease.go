package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// LeaseHandle is the uniform finalization contract returned by Dequeue and
// DequeueTx, regardless of which visibility mode produced it. Exactly one of
// Complete, Fail, or Retry must be called; calling a second finalizer on an
// already-finalized handle returns an error without touching the database.
type LeaseHandle interface {
	// Job returns the leased row as it looked at dequeue time. Callers must
	// not mutate the fields of the returned pointer.
	Job() *Job

	// Complete marks the job successfully processed.
	Complete(ctx context.Context) error

	// Fail marks the job terminally failed. cause is recorded in the job's
	// error history.
	Fail(ctx context.Context, cause error) error

	// Retry schedules another attempt after interval, optionally onto a
	// different queue. It returns *RetryInvalidError, leaving the handle
	// usable, if the job has already reached max_attempts.
	Retry(ctx context.Context, cause error, interval time.Duration, targetQueue string) error
}

func appendError(existing []json.RawMessage, cause error, at time.Time) []json.RawMessage {
	entry, err := json.Marshal(struct {
		Message string    `json:"message"`
		At      time.Time `json:"at"`
	}{Message: cause.Error(), At: at})
	if err != nil {
		entry = []byte(`{"message":"queue: failed to marshal error entry"}`)
	}
	return append(existing, json.RawMessage(entry))
}

// FlagLease is a LeaseHandle produced by flag-mode Dequeue. Visibility is
// controlled entirely by the status column: the row is already committed
// and visible to every other connection the instant Dequeue returns, and
// only its status='running' value keeps other workers from picking it up.
type FlagLease struct {
	pool *pgxpool.Pool
	job  Job
	done bool
}

func (l *FlagLease) Job() *Job { return &l.job }

func (l *FlagLease) Complete(ctx context.Context) error {
	if l.done {
		return fmt.Errorf("queue: lease for job %d already finalized", l.job.ID)
	}
	tag, err := l.pool.Exec(ctx,
		`UPDATE job_queue SET status = 'completed', last_attempt_finished_at = now()
		 WHERE queue = $1 AND id = $2 AND status = 'running'`,
		l.job.Queue, l.job.ID)
	if err != nil {
		return &QueryError{Command: "complete job", Err: err}
	}
	l.done = true
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("queue: lost ownership of job %d completing it", l.job.ID)
	}
	return nil
}

func (l *FlagLease) Fail(ctx context.Context, cause error) error {
	if l.done {
		return fmt.Errorf("queue: lease for job %d already finalized", l.job.ID)
	}
	entries := appendError(l.job.Errors, cause, time.Now().UTC())
	payload, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("queue: marshaling error history: %w", err)
	}
	tag, err := l.pool.Exec(ctx,
		`UPDATE job_queue
		 SET status = 'failed', last_attempt_finished_at = now(), errors = $3::jsonb
		 WHERE queue = $1 AND id = $2 AND status = 'running'`,
		l.job.Queue, l.job.ID, payload)
	if err != nil {
		return &QueryError{Command: "fail job", Err: err}
	}
	l.done = true
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("queue: lost ownership of job %d failing it", l.job.ID)
	}
	return nil
}

func (l *FlagLease) Retry(ctx context.Context, cause error, interval time.Duration, targetQueue string) error {
	if l.done {
		return fmt.Errorf("queue: lease for job %d already finalized", l.job.ID)
	}
	if l.job.Attempt >= l.job.MaxAttempts {
		return &RetryInvalidError{Lease: l, Attempt: l.job.Attempt, MaxAttempts: l.job.MaxAttempts}
	}
	entries := appendError(l.job.Errors, cause, time.Now().UTC())
	payload, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("queue: marshaling error history: %w", err)
	}
	if targetQueue == "" {
		targetQueue = l.job.Queue
	}
	tag, err := l.pool.Exec(ctx,
		`UPDATE job_queue
		 SET status = 'available', queue = $3, scheduled_at = now() + $4::interval,
		     last_attempt_finished_at = now(), errors = $5::jsonb
		 WHERE queue = $1 AND id = $2 AND status = 'running'`,
		l.job.Queue, l.job.ID, targetQueue, interval, payload)
	if err != nil {
		return &QueryError{Command: "retry job", Err: err}
	}
	l.done = true
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("queue: lost ownership of job %d scheduling retry", l.job.ID)
	}
	return nil
}

// TransactionLease is a LeaseHandle produced by transaction-held Dequeue.
// Visibility is controlled by the open SharedTransaction's row lock: the
// row stays invisible to every other connection (even with status still
// 'available' in storage) until the SharedTransaction commits or rolls
// back. Finalizing writes inside the same transaction, then asks the
// SharedTransaction to commit if this was its last outstanding lease.
type TransactionLease struct {
	shared *SharedTransaction
	job    Job
	done   bool
}

func (l *TransactionLease) Job() *Job { return &l.job }

func (l *TransactionLease) Complete(ctx context.Context) error {
	if l.done {
		return fmt.Errorf("queue: lease for job %d already finalized", l.job.ID)
	}
	if l.shared.isClosed() {
		l.done = true
		return ErrTransactionAlreadyClosed
	}
	_, err := l.shared.tx.Exec(ctx,
		`UPDATE job_queue SET status = 'completed', last_attempt_finished_at = now()
		 WHERE queue = $1 AND id = $2`,
		l.job.Queue, l.job.ID)
	if err != nil {
		l.done = true
		_ = l.shared.drop(ctx)
		return &QueryError{Command: "complete job", Err: err}
	}
	l.done = true
	return l.shared.commitIfLastOwner(ctx)
}

func (l *TransactionLease) Fail(ctx context.Context, cause error) error {
	if l.done {
		return fmt.Errorf("queue: lease for job %d already finalized", l.job.ID)
	}
	if l.shared.isClosed() {
		l.done = true
		return ErrTransactionAlreadyClosed
	}
	entries := appendError(l.job.Errors, cause, time.Now().UTC())
	payload, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("queue: marshaling error history: %w", err)
	}
	_, err = l.shared.tx.Exec(ctx,
		`UPDATE job_queue SET status = 'failed', last_attempt_finished_at = now(), errors = $3::jsonb
		 WHERE queue = $1 AND id = $2`,
		l.job.Queue, l.job.ID, payload)
	if err != nil {
		l.done = true
		_ = l.shared.drop(ctx)
		return &QueryError{Command: "fail job", Err: err}
	}
	l.done = true
	return l.shared.commitIfLastOwner(ctx)
}

func (l *TransactionLease) Retry(ctx context.Context, cause error, interval time.Duration, targetQueue string) error {
	if l.done {
		return fmt.Errorf("queue: lease for job %d already finalized", l.job.ID)
	}
	if l.job.Attempt >= l.job.MaxAttempts {
		return &RetryInvalidError{Lease: l, Attempt: l.job.Attempt, MaxAttempts: l.job.MaxAttempts}
	}
	if l.shared.isClosed() {
		l.done = true
		return ErrTransactionAlreadyClosed
	}
	entries := appendError(l.job.Errors, cause, time.Now().UTC())
	payload, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("queue: marshaling error history: %w", err)
	}
	if targetQueue == "" {
		targetQueue = l.job.Queue
	}
	_, err = l.shared.tx.Exec(ctx,
		`UPDATE job_queue
		 SET status = 'available', queue = $3, scheduled_at = now() + $4::interval,
		     last_attempt_finished_at = now(), errors = $5::jsonb
		 WHERE queue = $1 AND id = $2`,
		l.job.Queue, l.job.ID, targetQueue, interval, payload)
	if err != nil {
		l.done = true
		_ = l.shared.drop(ctx)
		return &QueryError{Command: "retry job", Err: err}
	}
	l.done = true
	return l.shared.commitIfLastOwner(ctx)
}
