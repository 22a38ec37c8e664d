package queue

import (
	"context"
	"log/slog"
	"runtime"
	"sync"

	"github.com/jackc/pgx/v5"
)

// SharedTransaction wraps a single pgx.Tx shared by every lease dequeued
// together in transaction-held mode. It commits exactly once, when the last
// surviving owner finalizes successfully, and rolls back as soon as any
// owner fails or the batch is invalidated. This is the mechanism behind
// held-transaction visibility: the rows a SharedTransaction locked stay
// invisible to every other connection until this commit or rollback runs.
type SharedTransaction struct {
	mu      sync.Mutex
	tx      pgx.Tx
	owners  int
	closed  bool
	closeBy string
}

// newSharedTransaction wraps tx with an owner count. Every lease handed out
// against the same dequeue batch must call commitIfLastOwner or drop
// exactly once.
func newSharedTransaction(tx pgx.Tx, owners int) *SharedTransaction {
	st := &SharedTransaction{tx: tx, owners: owners}
	runtime.SetFinalizer(st, finalizeLeakedSharedTransaction)
	return st
}

// commitIfLastOwner decrements the owner count and, if this was the last
// remaining owner, commits the underlying transaction. Every other caller
// just decrements and returns nil: the transaction stays open for its
// siblings.
func (st *SharedTransaction) commitIfLastOwner(ctx context.Context) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.closed {
		return ErrTransactionAlreadyClosed
	}

	st.owners--
	if st.owners < 0 {
		panic("queue: SharedTransaction owner count went negative, a lease finalized twice")
	}
	if st.owners > 0 {
		return nil
	}

	st.closed = true
	st.closeBy = "commit"
	runtime.SetFinalizer(st, nil)
	if err := st.tx.Commit(ctx); err != nil {
		return &TransactionError{Command: "COMMIT", Err: err}
	}
	return nil
}

// drop rolls back the shared transaction unconditionally and marks it
// closed, regardless of remaining owners: any sibling lease that later
// tries to finalize gets ErrTransactionAlreadyClosed rather than silently
// succeeding against rows that were never actually committed.
func (st *SharedTransaction) drop(ctx context.Context) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.closed {
		return nil
	}
	st.closed = true
	st.closeBy = "rollback"
	st.owners = 0
	runtime.SetFinalizer(st, nil)
	if err := st.tx.Rollback(ctx); err != nil {
		return &TransactionError{Command: "ROLLBACK", Err: err}
	}
	return nil
}

// isClosed reports whether the shared transaction has already been
// committed or rolled back, without mutating any state.
func (st *SharedTransaction) isClosed() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.closed
}

// finalizeLeakedSharedTransaction is the GC safety net for a
// SharedTransaction whose owning leases were all dropped without any of
// them calling Complete/Fail/Retry. It logs and rolls back rather than
// panicking, since a panic inside a finalizer is unrecoverable and
// invisible to the process that leaked the handle.
func finalizeLeakedSharedTransaction(st *SharedTransaction) {
	st.mu.Lock()
	leaked := !st.closed
	st.mu.Unlock()
	if !leaked {
		return
	}
	slog.Error("queue: shared transaction garbage collected without being finalized, rolling back",
		"owners_remaining", st.owners)
	if err := st.drop(context.Background()); err != nil {
		slog.Error("queue: rollback of leaked shared transaction failed", "error", err)
	}
}
