package locker

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"kiln/disk/structures"
	"kiln/transaction"
)

type LockMode int

const (
	SharedLock LockMode = iota
	ExclusiveLock
)

type LockRequest struct {
	TxnID   transaction.TxnID
	Mode    LockMode
	Granted bool
}

// requestQueue holds every pending and granted request for one rid. Its condition variable
// shares the manager mutex, so a waiter atomically releases the whole lock table while asleep.
type requestQueue struct {
	requests  []*LockRequest
	cond      *sync.Cond
	upgrading bool
}

// LockManager implements row level two phase locking with wound-wait deadlock prevention: an
// older transaction aborts ("wounds") any younger conflicting holder, a younger transaction
// waits for older ones. Waiting can therefore only ever point from younger to older, which keeps
// the wait graph acyclic.
type LockManager struct {
	mu        sync.Mutex
	lockTable map[structures.Rid]*requestQueue
	registry  *transaction.Registry
}

func NewLockManager(registry *transaction.Registry) *LockManager {
	return &LockManager{
		lockTable: map[structures.Rid]*requestQueue{},
		registry:  registry,
	}
}

// queueFor returns the rid's request queue, creating it lazily. Caller must hold lm.mu.
func (lm *LockManager) queueFor(rid structures.Rid) *requestQueue {
	q, ok := lm.lockTable[rid]
	if !ok {
		q = &requestQueue{cond: sync.NewCond(&lm.mu)}
		lm.lockTable[rid] = q
	}
	return q
}

// LockShared blocks until the transaction holds a shared lock on the rid.
func (lm *LockManager) LockShared(txn *transaction.Transaction, rid structures.Rid) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if txn.GetState() == transaction.Aborted {
		return ErrAlreadyAborted
	}
	if txn.GetIsolationLevel() == transaction.ReadUncommitted {
		return lm.abortTxn(txn, ReasonSharedOnReadUncommitted)
	}
	if txn.GetState() == transaction.Shrinking && txn.GetIsolationLevel() == transaction.RepeatableRead {
		return lm.abortTxn(txn, ReasonLockOnShrinking)
	}
	if txn.IsSharedLocked(rid) || txn.IsExclusiveLocked(rid) {
		return nil
	}

	q := lm.queueFor(rid)
	req := &LockRequest{TxnID: txn.GetID(), Mode: SharedLock}
	q.requests = append(q.requests, req)

	for {
		if lm.woundYounger(q, txn.GetID(), true) {
			q.cond.Broadcast()
		}

		if txn.GetState() == transaction.Aborted {
			lm.dropRequest(q, txn.GetID())
			q.cond.Broadcast()
			return &TxnAbortError{TxnID: txn.GetID(), Reason: ReasonDeadlock}
		}

		if !lm.hasGrantedOlder(q, txn.GetID(), true) {
			break
		}
		q.cond.Wait()
	}

	req.Granted = true
	txn.AddSharedLock(rid)
	return nil
}

// LockExclusive blocks until the transaction holds an exclusive lock on the rid.
func (lm *LockManager) LockExclusive(txn *transaction.Transaction, rid structures.Rid) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if txn.GetState() == transaction.Aborted {
		return ErrAlreadyAborted
	}
	if txn.GetState() == transaction.Shrinking {
		return lm.abortTxn(txn, ReasonLockOnShrinking)
	}
	if txn.IsExclusiveLocked(rid) {
		return nil
	}

	q := lm.queueFor(rid)
	req := &LockRequest{TxnID: txn.GetID(), Mode: ExclusiveLock}
	q.requests = append(q.requests, req)

	for {
		if lm.woundYounger(q, txn.GetID(), false) {
			q.cond.Broadcast()
		}

		if txn.GetState() == transaction.Aborted {
			lm.dropRequest(q, txn.GetID())
			q.cond.Broadcast()
			return &TxnAbortError{TxnID: txn.GetID(), Reason: ReasonDeadlock}
		}

		if !lm.hasGrantedOlder(q, txn.GetID(), false) {
			break
		}
		q.cond.Wait()
	}

	req.Granted = true
	txn.AddExclusiveLock(rid)
	return nil
}

// LockUpgrade turns a held shared lock into an exclusive one. Only a single upgrade may be in
// flight per rid, a second upgrader is aborted right away.
func (lm *LockManager) LockUpgrade(txn *transaction.Transaction, rid structures.Rid) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if txn.GetState() == transaction.Aborted {
		return ErrAlreadyAborted
	}
	if txn.GetState() == transaction.Shrinking {
		return lm.abortTxn(txn, ReasonLockOnShrinking)
	}
	if txn.IsExclusiveLocked(rid) {
		return nil
	}
	if !txn.IsSharedLocked(rid) {
		return ErrNoSharedLock
	}

	q := lm.queueFor(rid)
	if q.upgrading {
		return lm.abortTxn(txn, ReasonUpgradeConflict)
	}
	q.upgrading = true

	for {
		if lm.woundYounger(q, txn.GetID(), false) {
			q.cond.Broadcast()
		}

		if txn.GetState() == transaction.Aborted {
			q.upgrading = false
			lm.dropRequest(q, txn.GetID())
			q.cond.Broadcast()
			return &TxnAbortError{TxnID: txn.GetID(), Reason: ReasonDeadlock}
		}

		// the upgrade conflicts with every other granted holder; younger ones were wounded
		// above, so only older holders can remain.
		if !lm.hasOtherGranted(q, txn.GetID()) {
			break
		}
		q.cond.Wait()
	}

	q.upgrading = false
	for _, r := range q.requests {
		if r.TxnID == txn.GetID() && r.Granted {
			r.Mode = ExclusiveLock
		}
	}
	txn.RemoveSharedLock(rid)
	txn.AddExclusiveLock(rid)
	return nil
}

// Unlock releases the transaction's lock on the rid and wakes every waiter. Under repeatable
// read the first unlock ends the growing phase.
func (lm *LockManager) Unlock(txn *transaction.Transaction, rid structures.Rid) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if !txn.IsSharedLocked(rid) && !txn.IsExclusiveLocked(rid) {
		return ErrLockNotHeld
	}

	if txn.GetIsolationLevel() == transaction.RepeatableRead && txn.GetState() == transaction.Growing {
		txn.SetState(transaction.Shrinking)
	}

	if q, ok := lm.lockTable[rid]; ok {
		lm.dropRequest(q, txn.GetID())
		q.cond.Broadcast()
	}

	if txn.IsSharedLocked(rid) {
		txn.RemoveSharedLock(rid)
	} else {
		txn.RemoveExclusiveLock(rid)
	}
	return nil
}

// ReleaseAllLocks drops every lock the transaction still holds, without phase transitions.
// Rollback of committed-or-aborted transactions goes through here.
func (lm *LockManager) ReleaseAllLocks(txn *transaction.Transaction) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	release := func(rid structures.Rid) {
		if q, ok := lm.lockTable[rid]; ok {
			lm.dropRequest(q, txn.GetID())
			q.cond.Broadcast()
		}
	}

	for _, rid := range txn.GetSharedLockSet() {
		release(rid)
		txn.RemoveSharedLock(rid)
	}
	for _, rid := range txn.GetExclusiveLockSet() {
		release(rid)
		txn.RemoveExclusiveLock(rid)
	}
}

// abortTxn marks the transaction aborted for a policy violation and builds the error the caller
// must surface. Caller must hold lm.mu.
func (lm *LockManager) abortTxn(txn *transaction.Transaction, reason AbortReason) error {
	txn.SetState(transaction.Aborted)
	return &TxnAbortError{TxnID: txn.GetID(), Reason: reason}
}

// woundYounger aborts every younger transaction with a granted request that conflicts with the
// caller and drops their requests. With onlyNonShared set, shared holders are spared, which is
// what a shared requester needs. Returns whether anything was wounded. Caller must hold lm.mu.
func (lm *LockManager) woundYounger(q *requestQueue, me transaction.TxnID, onlyNonShared bool) bool {
	wounded := false
	kept := q.requests[:0]
	for _, r := range q.requests {
		incompatible := !onlyNonShared || r.Mode != SharedLock
		if r.TxnID > me && r.Granted && incompatible {
			if victim, ok := lm.registry.Get(r.TxnID); ok {
				victim.SetState(transaction.Aborted)
			}
			log.WithFields(log.Fields{"victim": r.TxnID, "by": me}).Debug("wounded transaction")
			wounded = true
			continue
		}
		kept = append(kept, r)
	}
	q.requests = kept
	return wounded
}

// hasGrantedOlder reports whether an older transaction holds a granted request the caller is
// incompatible with. Caller must hold lm.mu.
func (lm *LockManager) hasGrantedOlder(q *requestQueue, me transaction.TxnID, onlyNonShared bool) bool {
	for _, r := range q.requests {
		incompatible := !onlyNonShared || r.Mode != SharedLock
		if r.TxnID < me && r.Granted && incompatible {
			return true
		}
	}
	return false
}

// hasOtherGranted reports whether any transaction other than the caller holds a granted
// request. Caller must hold lm.mu.
func (lm *LockManager) hasOtherGranted(q *requestQueue, me transaction.TxnID) bool {
	for _, r := range q.requests {
		if r.TxnID != me && r.Granted {
			return true
		}
	}
	return false
}

// dropRequest removes the transaction's request from the queue. Matching by txn id is enough
// because a transaction queues at most one request per rid. Caller must hold lm.mu.
func (lm *LockManager) dropRequest(q *requestQueue, txnID transaction.TxnID) {
	for i, r := range q.requests {
		if r.TxnID == txnID {
			q.requests = append(q.requests[:i], q.requests[i+1:]...)
			return
		}
	}
}
