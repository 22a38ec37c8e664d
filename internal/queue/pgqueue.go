package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hookrelay/hookrelay/internal/queue/overflow"
)

// defaultInlineThreshold is the parameters size, in bytes, above which
// Enqueue offloads a payload to the configured overflow store instead of
// writing it inline. It is only consulted when an overflow store is set.
const defaultInlineThreshold = 256 * 1024

// PgQueue is bound to a single named queue and implements both dequeue
// visibility modes against a shared job_queue table. A process that needs
// to work more than one queue runs one PgQueue per queue name.
type PgQueue struct {
	pool *pgxpool.Pool
	name string

	// reclaimAfter is how long a running row can go without a fresh
	// attempted_at before flag-mode Dequeue treats it as abandoned and
	// eligible to be picked up again. Zero disables reclaiming.
	reclaimAfter time.Duration

	overflow        overflow.Store
	inlineThreshold int
}

// Option configures optional PgQueue behavior beyond the required
// pool/name/reclaimAfter triple.
type Option func(*PgQueue)

// WithOverflowStore directs Enqueue to offload a parameters payload larger
// than inlineThreshold bytes to store, writing only a reference into the
// row. A zero or negative inlineThreshold falls back to defaultInlineThreshold.
func WithOverflowStore(store overflow.Store, inlineThreshold int) Option {
	return func(q *PgQueue) {
		q.overflow = store
		if inlineThreshold <= 0 {
			inlineThreshold = defaultInlineThreshold
		}
		q.inlineThreshold = inlineThreshold
	}
}

// NewPgQueue binds pool to queue name. reclaimAfter implements the
// flag-mode stuck-job recovery described in the design notes; pass 0 to
// disable it entirely.
func NewPgQueue(pool *pgxpool.Pool, name string, reclaimAfter time.Duration, opts ...Option) *PgQueue {
	q := &PgQueue{pool: pool, name: name, reclaimAfter: reclaimAfter}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Name returns the queue name this PgQueue is bound to.
func (q *PgQueue) Name() string { return q.name }

// Enqueue inserts a new available job onto this queue, scheduled to run
// immediately.
func (q *PgQueue) Enqueue(ctx context.Context, job NewJob) (int64, error) {
	if err := job.validate(); err != nil {
		return 0, err
	}
	metadata := job.Metadata
	if metadata == nil {
		metadata = []byte(`{}`)
	}
	parameters := job.Parameters
	if parameters == nil {
		parameters = []byte(`{}`)
	}
	var id int64
	err := q.pool.QueryRow(ctx,
		`INSERT INTO job_queue (queue, target, status, attempt, max_attempts, created_at, scheduled_at, errors, parameters, metadata)
		 VALUES ($1, $2, 'available', 0, $3, now(), now(), '[]'::jsonb, $4::jsonb, $5::jsonb)
		 RETURNING id`,
		q.name, job.Target, job.MaxAttempts, parameters, metadata).Scan(&id)
	if err != nil {
		return 0, &QueryError{Command: "enqueue job", Err: err}
	}

	if q.overflow != nil && len(parameters) > q.inlineThreshold {
		if err := q.offloadParameters(ctx, id, parameters); err != nil {
			return 0, err
		}
	}

	return id, nil
}

// offloadParameters moves an already-inserted job's parameters to the
// overflow store and rewrites the row to hold only a reference, once the
// literal payload is known to exceed the inline threshold.
func (q *PgQueue) offloadParameters(ctx context.Context, id int64, payload []byte) error {
	ref, err := q.overflow.Put(ctx, id, payload)
	if err != nil {
		return fmt.Errorf("queue: failed to offload parameters for job %d: %w", id, err)
	}
	doc, err := overflow.Reference(ref)
	if err != nil {
		return err
	}
	if _, err := q.pool.Exec(ctx,
		`UPDATE job_queue SET parameters = $2::jsonb WHERE id = $1`, id, doc); err != nil {
		return &QueryError{Command: "rewrite offloaded parameters", Err: err}
	}
	return nil
}

const dequeueSelectClause = `
	id, queue, target, status, attempt, max_attempts, attempted_by,
	attempted_at, last_attempt_finished_at, created_at, scheduled_at,
	errors, parameters, metadata
`

// dequeueCTE composes the SKIP LOCKED candidate-selection with the
// ownership-claiming UPDATE in one round trip, so the window between
// "decide which rows to take" and "mark them taken" never exists for any
// other connection to observe. The reclaim-timeout arm lets a running row
// whose owner died silently be picked up again without a human
// intervening; a fresh running row (inside reclaimAfter) never matches it.
func dequeueCTE() string {
	return fmt.Sprintf(`
		WITH picked AS (
			SELECT id FROM job_queue
			WHERE queue = $1
			  AND scheduled_at <= now()
			  AND (
			    status = 'available'
			    OR (status = 'running' AND $4::interval > '0'::interval AND attempted_at <= now() - $4::interval)
			  )
			ORDER BY attempt ASC, scheduled_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE job_queue
		SET status = 'running',
		    attempt = job_queue.attempt + 1,
		    attempted_at = now(),
		    attempted_by = array_append(job_queue.attempted_by, $3::text)
		FROM picked
		WHERE job_queue.id = picked.id
		RETURNING %s`, dequeueSelectClause)
}

func scanJob(row pgx.Rows) (Job, error) {
	var j Job
	var rawStatus string
	err := row.Scan(&j.ID, &j.Queue, &j.Target, &rawStatus, &j.Attempt, &j.MaxAttempts,
		&j.AttemptedBy, &j.AttemptedAt, &j.LastAttemptFinishedAt, &j.CreatedAt, &j.ScheduledAt,
		&j.Errors, &j.Parameters, &j.Metadata)
	if err != nil {
		return Job{}, err
	}
	status, err := ParseStatus(rawStatus)
	if err != nil {
		return Job{}, err
	}
	j.Status = status
	return j, nil
}

// Dequeue claims up to limit available (or reclaimable) jobs in flag mode:
// each returned lease's row is already committed and visible to every other
// connection, and status='running' is the only thing keeping another
// worker from claiming it too. workerID is recorded in attempted_by.
func (q *PgQueue) Dequeue(ctx context.Context, workerID string, limit int) ([]LeaseHandle, error) {
	rows, err := q.pool.Query(ctx, dequeueCTE(), q.name, limit, workerID, q.reclaimAfter)
	if err != nil {
		return nil, &QueryError{Command: "dequeue", Err: err}
	}
	defer rows.Close()

	var leases []LeaseHandle
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, &QueryError{Command: "scan dequeued job", Err: err}
		}
		leases = append(leases, &FlagLease{pool: q.pool, job: job})
	}
	if err := rows.Err(); err != nil {
		return nil, &QueryError{Command: "dequeue", Err: err}
	}
	return leases, nil
}

// DequeueOne is a single-shot convenience wrapper around Dequeue. It
// returns (nil, nil) when the queue has nothing to offer right now.
func (q *PgQueue) DequeueOne(ctx context.Context, workerID string) (LeaseHandle, error) {
	leases, err := q.Dequeue(ctx, workerID, 1)
	if err != nil {
		return nil, err
	}
	if len(leases) == 0 {
		return nil, nil
	}
	return leases[0], nil
}

// DequeueTx claims up to limit jobs in transaction-held mode: all of them
// share one SharedTransaction whose row locks, taken by the CTE's FOR
// UPDATE, are what actually hides the rows from other connections until
// that transaction commits or rolls back. The reclaim-timeout arm does not
// apply here since a held transaction can never leave a row stuck running
// without also holding its lock.
func (q *PgQueue) DequeueTx(ctx context.Context, workerID string, limit int) ([]LeaseHandle, error) {
	tx, err := q.pool.Begin(ctx)
	if err != nil {
		return nil, &ConnectionError{Err: err}
	}
	rollback := true
	defer func() {
		if rollback {
			_ = tx.Rollback(ctx)
		}
	}()

	rows, err := tx.Query(ctx, dequeueCTE(), q.name, limit, workerID, time.Duration(0))
	if err != nil {
		return nil, &QueryError{Command: "dequeue tx", Err: err}
	}

	var jobs []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			rows.Close()
			return nil, &QueryError{Command: "scan dequeued job", Err: err}
		}
		jobs = append(jobs, job)
	}
	scanErr := rows.Err()
	rows.Close()
	if scanErr != nil {
		return nil, &QueryError{Command: "dequeue tx", Err: scanErr}
	}

	if len(jobs) == 0 {
		// Nothing claimed: roll back immediately rather than hold an idle
		// transaction open, and report an empty batch.
		return nil, nil
	}

	shared := newSharedTransaction(tx, len(jobs))
	rollback = false // ownership of tx's lifecycle now belongs to shared

	leases := make([]LeaseHandle, 0, len(jobs))
	for _, job := range jobs {
		leases = append(leases, &TransactionLease{shared: shared, job: job})
	}
	return leases, nil
}

// DequeueOneTx is a single-shot convenience wrapper around DequeueTx. It
// returns (nil, nil) when the queue has nothing to offer right now.
func (q *PgQueue) DequeueOneTx(ctx context.Context, workerID string) (LeaseHandle, error) {
	leases, err := q.DequeueTx(ctx, workerID, 1)
	if err != nil {
		return nil, err
	}
	if len(leases) == 0 {
		return nil, nil
	}
	return leases[0], nil
}
