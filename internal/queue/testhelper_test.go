package queue

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/hookrelay/hookrelay/internal/config"
	sqlstorage "github.com/hookrelay/hookrelay/internal/storage/sql"
)

// setupTestPool opens a pool against HOOKRELAY_DB_DSN with migrations
// applied, truncating job_queue between tests. It skips the test entirely
// when no DSN is configured.
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
