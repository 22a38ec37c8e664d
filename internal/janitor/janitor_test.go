package janitor

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/hookrelay/hookrelay/internal/config"
	"github.com/hookrelay/hookrelay/internal/queue/overflow"
	sqlstorage "github.com/hookrelay/hookrelay/internal/storage/sql"
)

// setupTestPool mirrors internal/queue's integration test harness: skip
// entirely when no database is configured.
func setupTestPool(t *testing.T) (*pgxpool.Pool, context.Context) {
	t.Helper()

	cfg, err := config.LoadTestConfig()
	if err != nil {
		t.Skipf("failed to load test config: %v (set HOOKRELAY_DB_DSN to run integration tests)", err)
	}
	cfg.Database.AutoMigrate = true

	ctx := context.Background()
	pool, err := sqlstorage.NewPool(ctx, cfg.Database)
	require.NoError(t, err)

	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), "TRUNCATE TABLE job_queue, dead_letter_jobs RESTART IDENTITY")
		pool.Close()
	})

	_, err = pool.Exec(ctx, "TRUNCATE TABLE job_queue, dead_letter_jobs RESTART IDENTITY")
	require.NoError(t, err)

	return pool, ctx
}

func insertTerminalRow(t *testing.T, pool *pgxpool.Pool, ctx context.Context, status string, age time.Duration, parameters json.RawMessage) int64 {
	t.Helper()
	if parameters == nil {
		parameters = json.RawMessage(`{}`)
	}
	var id int64
	err := pool.QueryRow(ctx, `
		INSERT INTO job_queue
			(queue, target, status, attempt, max_attempts, created_at, scheduled_at,
			 last_attempt_finished_at, errors, parameters, metadata)
		VALUES
			('webhooks', 'https://example.com', $1, 1, 3,
			 now() - $2::interval, now() - $2::interval,
			 now() - $2::interval, '[]'::jsonb, $3::jsonb, '{}'::jsonb)
		RETURNING id`,
		status, age, parameters).Scan(&id)
	require.NoError(t, err)
	return id
}

func TestJanitor_Sweep_DeletesOldTerminalRows(t *testing.T) {
	pool, ctx := setupTestPool(t)
	insertTerminalRow(t, pool, ctx, "completed", 48*time.Hour, nil)
	insertTerminalRow(t, pool, ctx, "failed", 48*time.Hour, nil)

	j, err := NewJanitor(pool, Config{RetentionAge: time.Hour, BatchSize: 10}, "janitor-test-sweep")
	require.NoError(t, err)

	n, err := j.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	var remaining int
	require.NoError(t, pool.QueryRow(ctx, "SELECT count(*) FROM job_queue").Scan(&remaining))
	require.Zero(t, remaining)
}

func TestJanitor_Sweep_NeverCollectsRunningAvailableOrReservedStatuses(t *testing.T) {
	pool, ctx := setupTestPool(t)
	insertTerminalRow(t, pool, ctx, "running", 48*time.Hour, nil)
	insertTerminalRow(t, pool, ctx, "available", 48*time.Hour, nil)
	insertTerminalRow(t, pool, ctx, "cancelled", 48*time.Hour, nil)
	insertTerminalRow(t, pool, ctx, "discarded", 48*time.Hour, nil)

	j, err := NewJanitor(pool, Config{RetentionAge: time.Hour, BatchSize: 10}, "janitor-test-reserved")
	require.NoError(t, err)

	n, err := j.Sweep(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	var remaining int
	require.NoError(t, pool.QueryRow(ctx, "SELECT count(*) FROM job_queue").Scan(&remaining))
	require.Equal(t, 4, remaining)
}

func TestJanitor_Sweep_LeavesRowsYoungerThanRetentionAge(t *testing.T) {
	pool, ctx := setupTestPool(t)
	insertTerminalRow(t, pool, ctx, "completed", time.Minute, nil)

	j, err := NewJanitor(pool, Config{RetentionAge: time.Hour, BatchSize: 10}, "janitor-test-young")
	require.NoError(t, err)

	n, err := j.Sweep(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}

// fakeOverflowStore is an in-memory overflow.Store recording every ref
// deleted, so tests can assert the janitor cleans up offloaded objects.
type fakeOverflowStore struct {
	deleted []string
}

func (s *fakeOverflowStore) Put(ctx context.Context, jobID int64, payload json.RawMessage) (string, error) {
	panic("not used by these tests")
}

func (s *fakeOverflowStore) Get(ctx context.Context, ref string) (json.RawMessage, error) {
	panic("not used by these tests")
}

func (s *fakeOverflowStore) Delete(ctx context.Context, ref string) error {
	s.deleted = append(s.deleted, ref)
	return nil
}

func TestJanitor_Sweep_DeletesOverflowObjectsForSweptRows(t *testing.T) {
	pool, ctx := setupTestPool(t)

	ref := "gs://test-bucket/job-1/parameters.json"
	doc, err := overflow.Reference(ref)
	require.NoError(t, err)
	insertTerminalRow(t, pool, ctx, "completed", 48*time.Hour, doc)
	insertTerminalRow(t, pool, ctx, "completed", 48*time.Hour, nil)

	store := &fakeOverflowStore{}
	j, err := NewJanitor(pool, Config{RetentionAge: time.Hour, BatchSize: 10, Overflow: store}, "janitor-test-overflow")
	require.NoError(t, err)

	n, err := j.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, []string{ref}, store.deleted)
}
