package webhook

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hookrelay/hookrelay/internal/queue"
)

// DeadLetterRecorder records a job that failed permanently, either because
// its retries were exhausted or because its failure was non-retryable. The core
// queue engine has no notion of this table; only the worker writes to it,
// as an administrative surface for a human operator to query. It is
// bookkeeping, not a re-processing pipeline: nothing in this module reads
// dead_letter_jobs back into job_queue.
type DeadLetterRecorder interface {
	Record(ctx context.Context, job *queue.Job, lastError error) error
}

// PgDeadLetterRecorder writes to the dead_letter_jobs table alongside the
// job_queue table the worker's PgQueue already talks to.
type PgDeadLetterRecorder struct {
	pool *pgxpool.Pool
}

// NewPgDeadLetterRecorder builds a PgDeadLetterRecorder against pool.
func NewPgDeadLetterRecorder(pool *pgxpool.Pool) *PgDeadLetterRecorder {
	return &PgDeadLetterRecorder{pool: pool}
}

func (r *PgDeadLetterRecorder) Record(ctx context.Context, job *queue.Job, lastError error) error {
	entry, err := json.Marshal(struct {
		Message string `json:"message"`
	}{Message: lastError.Error()})
	if err != nil {
		return fmt.Errorf("webhook: marshaling dead letter error: %w", err)
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO dead_letter_jobs (job_id, queue, target, attempt, max_attempts, last_error, failed_at)
		 VALUES ($1, $2, $3, $4, $5, $6::jsonb, now())`,
		job.ID, job.Queue, job.Target, job.Attempt, job.MaxAttempts, entry)
	if err != nil {
		return fmt.Errorf("webhook: recording dead letter job %d: %w", job.ID, err)
	}
	return nil
}
