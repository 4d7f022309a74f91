package executors

import (
	"kiln/disk/structures"
	"kiln/execution"
	"kiln/transaction"
)

// ErrNoRow signals that an executor ran out of rows. It is the normal end of a pipeline, every
// other error is a real failure.
type ErrNoRow struct{}

func (ErrNoRow) Error() string { return "no more rows" }

type IExecutor interface {
	// Init prepares the executor. Blocking executors drain their children here.
	Init() error

	// Next yields the next row from the executor.
	Next(row *structures.Row, rid *structures.Rid) error

	GetExecutorCtx() *execution.ExecutorContext
}

type BaseExecutor struct {
	executorCtx *execution.ExecutorContext
}

func (e *BaseExecutor) GetExecutorCtx() *execution.ExecutorContext {
	return e.executorCtx
}

// lockShared takes a row lock for a read. Read uncommitted scans run bare.
func (e *BaseExecutor) lockShared(rid structures.Rid) error {
	if e.executorCtx.Txn.GetIsolationLevel() == transaction.ReadUncommitted {
		return nil
	}
	return e.executorCtx.Locker.LockShared(e.executorCtx.Txn, rid)
}

// lockExclusive takes a row lock for a write, upgrading when the transaction already reads
// the row.
func (e *BaseExecutor) lockExclusive(rid structures.Rid) error {
	if e.executorCtx.Txn.IsSharedLocked(rid) {
		return e.executorCtx.Locker.LockUpgrade(e.executorCtx.Txn, rid)
	}
	return e.executorCtx.Locker.LockExclusive(e.executorCtx.Txn, rid)
}
