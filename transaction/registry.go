package transaction

import (
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"

	"kiln/disk/structures"
)

// Registry hands out transactions with monotonically increasing ids and resolves ids back to
// transactions. The lock manager uses it to reach a victim when wounding.
type Registry struct {
	nextTxnID atomic.Uint64
	txns      *xsync.MapOf[TxnID, *Transaction]
}

func NewRegistry() *Registry {
	return &Registry{
		txns: xsync.NewMapOf[TxnID, *Transaction](),
	}
}

func (r *Registry) Begin(isolation IsolationLevel) *Transaction {
	txn := &Transaction{
		id:             TxnID(r.nextTxnID.Add(1)),
		isolation:      isolation,
		sharedLocks:    map[structures.Rid]struct{}{},
		exclusiveLocks: map[structures.Rid]struct{}{},
	}
	txn.SetState(Growing)

	r.txns.Store(txn.id, txn)
	return txn
}

func (r *Registry) Get(id TxnID) (*Transaction, bool) {
	return r.txns.Load(id)
}

// Commit marks the transaction committed. Lock release stays the caller's responsibility so
// that isolation levels can decide when locks go.
func (r *Registry) Commit(txn *Transaction) {
	txn.SetState(Committed)
	r.txns.Delete(txn.GetID())
}

func (r *Registry) Abort(txn *Transaction) {
	txn.SetState(Aborted)
	r.txns.Delete(txn.GetID())
}
