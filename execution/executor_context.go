package execution

import (
	"kiln/buffer"
	"kiln/locker"
	"kiln/transaction"
)

// ExecutorContext carries everything an executor needs to touch storage on behalf of one
// transaction.
type ExecutorContext struct {
	Txn      *transaction.Transaction
	Pool     buffer.Pool
	Locker   *locker.LockManager
	Registry *transaction.Registry
}

func NewExecutorContext(txn *transaction.Transaction, pool buffer.Pool, lockMgr *locker.LockManager, registry *transaction.Registry) *ExecutorContext {
	return &ExecutorContext{
		Txn:      txn,
		Pool:     pool,
		Locker:   lockMgr,
		Registry: registry,
	}
}
