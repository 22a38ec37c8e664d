package queue

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPgQueue_DequeueTx_EmptyQueueReturnsNilNotError(t *testing.T) {
	pool, ctx := setupTestPool(t)
	q := NewPgQueue(pool, "tx-empty", time.Minute)

	lease, err := q.DequeueOneTx(ctx, "worker-1")
	require.NoError(t, err)
	assert.Nil(t, lease)
}

func TestPgQueue_DequeueTx_BatchCommitsOnceLastOwnerFinalizes(t *testing.T) {
	pool, ctx := setupTestPool(t)
	q := NewPgQueue(pool, "tx-batch", time.Minute)

	var ids []int64
	for i := 0; i < 3; i++ {
		id, err := q.Enqueue(ctx, NewJob{Target: "a", MaxAttempts: 3})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	leases, err := q.DequeueTx(ctx, "worker-1", 3)
	require.NoError(t, err)
	require.Len(t, leases, 3)

	// While the batch's transaction is open, a second (flag-mode) dequeue
	// on the same queue must see nothing: the rows are locked, not merely
	// flagged running.
	flagQueue := NewPgQueue(pool, "tx-batch", time.Minute)
	blocked, err := flagQueue.DequeueOne(ctx, "worker-2")
	require.NoError(t, err)
	assert.Nil(t, blocked, "rows held by an open shared transaction must stay invisible")

	require.NoError(t, leases[0].Complete(ctx))
	require.NoError(t, leases[1].Complete(ctx))

	// Still not committed: one owner left.
	blocked, err = flagQueue.DequeueOne(ctx, "worker-2")
	require.NoError(t, err)
	assert.Nil(t, blocked)

	require.NoError(t, leases[2].Complete(ctx))

	// Now the transaction has committed; the rows are all 'completed' and
	// none are dequeueable.
	blocked, err = flagQueue.DequeueOne(ctx, "worker-2")
	require.NoError(t, err)
	assert.Nil(t, blocked)
}

func TestPgQueue_DequeueTx_RetryInvalidDoesNotInvalidateSiblingLeases(t *testing.T) {
	pool, ctx := setupTestPool(t)
	q := NewPgQueue(pool, "tx-invalidate", time.Minute)

	for i := 0; i < 2; i++ {
		_, err := q.Enqueue(ctx, NewJob{Target: "a", MaxAttempts: 1})
		require.NoError(t, err)
	}

	leases, err := q.DequeueTx(ctx, "worker-1", 2)
	require.NoError(t, err)
	require.Len(t, leases, 2)

	// Exhaust retries on the first lease to force a RetryInvalidError,
	// which must not touch the shared transaction, then fail it for real.
	err = leases[0].Retry(ctx, errors.New("boom"), time.Second, "")
	var invalid *RetryInvalidError
	require.ErrorAs(t, err, &invalid)

	require.NoError(t, leases[0].Fail(ctx, errors.New("giving up")))

	// The sibling should still be able to finalize and commit normally,
	// since Fail succeeded rather than dropping the transaction.
	require.NoError(t, leases[1].Complete(ctx))
}

func TestPgQueue_DequeueTx_DoubleFinalizeIsRejected(t *testing.T) {
	pool, ctx := setupTestPool(t)
	q := NewPgQueue(pool, "tx-double-finalize", time.Minute)

	_, err := q.Enqueue(ctx, NewJob{Target: "a", MaxAttempts: 3})
	require.NoError(t, err)

	lease, err := q.DequeueOneTx(ctx, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, lease)

	require.NoError(t, lease.Complete(ctx))
	require.Error(t, lease.Complete(ctx))
}

func TestFlagLease_DoubleFinalizeIsRejected(t *testing.T) {
	pool, ctx := setupTestPool(t)
	q := NewPgQueue(pool, "flag-double-finalize", time.Minute)

	_, err := q.Enqueue(ctx, NewJob{Target: "a", MaxAttempts: 3})
	require.NoError(t, err)

	lease, err := q.DequeueOne(ctx, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, lease)

	require.NoError(t, lease.Complete(ctx))
	require.Error(t, lease.Complete(ctx))
}
