// Package janitor implements periodic terminal-row cleanup: it deletes
// job_queue rows already in a terminal state (completed, failed) once they
// age past a retention threshold. The core queue engine has no dependency
// on this package; it merely tolerates rows disappearing out from under it
// once they can no longer be dequeued, retried, or re-observed by a lease.
package janitor

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/hookrelay/hookrelay/internal/queue/overflow"
)

// Config holds the janitor's sweep tunables, translated from
// config.JanitorConfig at wiring time in cmd/janitor.
type Config struct {
	Interval     time.Duration
	RetentionAge time.Duration
	BatchSize    int

	// Overflow, if set, is consulted to delete the out-of-row object backing
	// any swept row whose parameters were offloaded. Nil disables this and
	// leaves orphaned objects in the bucket for separate bucket lifecycle
	// rules to expire.
	Overflow overflow.Store
}

// Janitor periodically deletes terminal rows older than RetentionAge. It
// never touches running, available, cancelled, or discarded rows: cancelled
// and discarded are reserved for an administrative surface this package
// does not implement, and collecting them here would be indistinguishable
// from silently dropping an operator's decision.
type Janitor struct {
	pool    *pgxpool.Pool
	cfg     Config
	deleted metric.Int64Counter
}

// NewJanitor builds a Janitor against pool. meterName is passed to the
// global otel meter provider to name the per-job deletion counter it
// publishes on every sweep.
func NewJanitor(pool *pgxpool.Pool, cfg Config, meterName string) (*Janitor, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	counter, err := otel.Meter(meterName).Int64Counter(
		"hookrelay_janitor_deleted_jobs_total",
		metric.WithDescription("Number of terminal job_queue rows deleted by the janitor"),
	)
	if err != nil {
		return nil, err
	}
	return &Janitor{pool: pool, cfg: cfg, deleted: counter}, nil
}

// Run sweeps on cfg.Interval until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := j.sweepUntilDry(ctx); err != nil {
				slog.ErrorContext(ctx, "janitor sweep failed", "error", err)
			}
		}
	}
}

// sweepUntilDry repeats Sweep until a batch deletes fewer rows than
// BatchSize, so one tick clears an arbitrarily large backlog rather than
// only ever making BatchSize progress per interval.
func (j *Janitor) sweepUntilDry(ctx context.Context) error {
	for {
		n, err := j.Sweep(ctx)
		if err != nil {
			return err
		}
		if n < j.cfg.BatchSize {
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// Sweep deletes up to BatchSize terminal rows older than RetentionAge and
// returns how many were removed. The inner SELECT...LIMIT bounds each
// delete the same way the dequeue CTE bounds its claim, so a large backlog
// never holds row locks for an unbounded duration.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	rows, err := j.pool.Query(ctx, `
		DELETE FROM job_queue
		WHERE id IN (
			SELECT id FROM job_queue
			WHERE status IN ('completed', 'failed')
			  AND last_attempt_finished_at < now() - $1::interval
			LIMIT $2
		)
		RETURNING id, parameters`,
		j.cfg.RetentionAge, j.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	var n int
	var refs []string
	for rows.Next() {
		var id int64
		var parameters json.RawMessage
		if err := rows.Scan(&id, &parameters); err != nil {
			rows.Close()
			return n, err
		}
		n++
		if ref, ok := overflow.ParseReference(parameters); ok {
			refs = append(refs, ref)
		}
	}
	scanErr := rows.Err()
	rows.Close()
	if scanErr != nil {
		return n, scanErr
	}

	j.deleteOverflowRefs(ctx, refs)

	if n > 0 {
		j.deleted.Add(ctx, int64(n))
		slog.InfoContext(ctx, "janitor deleted terminal jobs", "count", n)
	}
	return n, nil
}

// deleteOverflowRefs best-effort deletes the overflow objects backing swept
// rows. A failure here never fails the sweep: the row is already gone, and
// an orphaned object is a bucket-lifecycle concern, not a queue-correctness
// one.
func (j *Janitor) deleteOverflowRefs(ctx context.Context, refs []string) {
	if j.cfg.Overflow == nil {
		return
	}
	for _, ref := range refs {
		if err := j.cfg.Overflow.Delete(ctx, ref); err != nil {
			slog.ErrorContext(ctx, "failed to delete overflow object", "ref", ref, "error", err)
		}
	}
}
