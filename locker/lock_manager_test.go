package locker

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kiln/disk/structures"
	"kiln/transaction"
)

func newTestManager() (*LockManager, *transaction.Registry) {
	registry := transaction.NewRegistry()
	return NewLockManager(registry), registry
}

func TestLock_Manager_Shared_Locks_Are_Compatible(t *testing.T) {
	lm, registry := newTestManager()
	rid := structures.NewRid(1, 0)

	t1 := registry.Begin(transaction.RepeatableRead)
	t2 := registry.Begin(transaction.RepeatableRead)

	require.NoError(t, lm.LockShared(t1, rid))
	require.NoError(t, lm.LockShared(t2, rid))

	assert.True(t, t1.IsSharedLocked(rid))
	assert.True(t, t2.IsSharedLocked(rid))
	assert.Equal(t, transaction.Growing, t1.GetState())
	assert.Equal(t, transaction.Growing, t2.GetState())
}

func TestLock_Manager_Shared_Lock_Is_Idempotent(t *testing.T) {
	lm, registry := newTestManager()
	rid := structures.NewRid(1, 0)

	txn := registry.Begin(transaction.RepeatableRead)
	require.NoError(t, lm.LockShared(txn, rid))
	require.NoError(t, lm.LockShared(txn, rid))

	require.NoError(t, lm.Unlock(txn, rid))
	assert.False(t, txn.IsSharedLocked(rid))
}

func TestLock_Manager_Rejects_Shared_Lock_Under_Read_Uncommitted(t *testing.T) {
	lm, registry := newTestManager()
	rid := structures.NewRid(1, 0)

	txn := registry.Begin(transaction.ReadUncommitted)
	err := lm.LockShared(txn, rid)

	var abortErr *TxnAbortError
	require.ErrorAs(t, err, &abortErr)
	assert.Equal(t, ReasonSharedOnReadUncommitted, abortErr.Reason)
	assert.Equal(t, transaction.Aborted, txn.GetState())
}

func TestLock_Manager_Older_Transaction_Wounds_Younger_Holder(t *testing.T) {
	lm, registry := newTestManager()
	rid := structures.NewRid(1, 0)

	older := registry.Begin(transaction.RepeatableRead)
	younger := registry.Begin(transaction.RepeatableRead)

	require.NoError(t, lm.LockExclusive(younger, rid))

	// the older transaction must not wait, the younger holder is wounded instead
	require.NoError(t, lm.LockExclusive(older, rid))

	assert.Equal(t, transaction.Aborted, younger.GetState())
	assert.True(t, older.IsExclusiveLocked(rid))
}

func TestLock_Manager_Younger_Transaction_Waits_For_Older_Holder(t *testing.T) {
	lm, registry := newTestManager()
	rid := structures.NewRid(1, 0)

	older := registry.Begin(transaction.RepeatableRead)
	younger := registry.Begin(transaction.RepeatableRead)

	require.NoError(t, lm.LockExclusive(older, rid))

	acquired := make(chan error, 1)
	go func() {
		acquired <- lm.LockExclusive(younger, rid)
	}()

	select {
	case <-acquired:
		t.Fatal("younger transaction must wait while the older one holds the lock")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, lm.Unlock(older, rid))

	select {
	case err := <-acquired:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("younger transaction was not woken up")
	}

	assert.True(t, younger.IsExclusiveLocked(rid))
	assert.NotEqual(t, transaction.Aborted, younger.GetState())
}

func TestLock_Manager_Waiting_Transaction_Observes_Wound_On_Wake(t *testing.T) {
	lm, registry := newTestManager()
	ridA := structures.NewRid(1, 0)
	ridB := structures.NewRid(2, 0)

	oldest := registry.Begin(transaction.RepeatableRead)
	middle := registry.Begin(transaction.RepeatableRead)

	// middle holds B and waits for A, which oldest holds
	require.NoError(t, lm.LockExclusive(oldest, ridA))
	require.NoError(t, lm.LockExclusive(middle, ridB))

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- lm.LockExclusive(middle, ridA)
	}()
	time.Sleep(50 * time.Millisecond)

	// oldest now wants B and wounds middle
	require.NoError(t, lm.LockExclusive(oldest, ridB))
	require.Equal(t, transaction.Aborted, middle.GetState())

	// middle is still asleep on A's queue, releasing A wakes it into the abort path
	require.NoError(t, lm.Unlock(oldest, ridA))

	select {
	case err := <-waitErr:
		var abortErr *TxnAbortError
		require.ErrorAs(t, err, &abortErr)
		assert.Equal(t, ReasonDeadlock, abortErr.Reason)
	case <-time.After(time.Second):
		t.Fatal("wounded transaction never woke up")
	}

	lm.ReleaseAllLocks(middle)
}

func TestLock_Manager_Enforces_Two_Phase_Locking(t *testing.T) {
	lm, registry := newTestManager()
	ridA := structures.NewRid(1, 0)
	ridB := structures.NewRid(2, 0)

	txn := registry.Begin(transaction.RepeatableRead)
	require.NoError(t, lm.LockShared(txn, ridA))
	require.NoError(t, lm.Unlock(txn, ridA))
	require.Equal(t, transaction.Shrinking, txn.GetState())

	err := lm.LockShared(txn, ridB)
	var abortErr *TxnAbortError
	require.ErrorAs(t, err, &abortErr)
	assert.Equal(t, ReasonLockOnShrinking, abortErr.Reason)
	assert.Equal(t, transaction.Aborted, txn.GetState())

	// an aborted transaction cannot lock anything anymore
	assert.ErrorIs(t, lm.LockExclusive(txn, ridB), ErrAlreadyAborted)
}

func TestLock_Manager_Read_Committed_May_Release_Shared_Locks_Early(t *testing.T) {
	lm, registry := newTestManager()
	ridA := structures.NewRid(1, 0)
	ridB := structures.NewRid(2, 0)

	txn := registry.Begin(transaction.ReadCommitted)
	require.NoError(t, lm.LockShared(txn, ridA))
	require.NoError(t, lm.Unlock(txn, ridA))

	// no phase transition happened, new locks are still allowed
	require.Equal(t, transaction.Growing, txn.GetState())
	require.NoError(t, lm.LockShared(txn, ridB))
}

func TestLock_Manager_Upgrade_Turns_Shared_Into_Exclusive(t *testing.T) {
	lm, registry := newTestManager()
	rid := structures.NewRid(1, 0)

	txn := registry.Begin(transaction.RepeatableRead)
	require.NoError(t, lm.LockShared(txn, rid))
	require.NoError(t, lm.LockUpgrade(txn, rid))

	assert.False(t, txn.IsSharedLocked(rid))
	assert.True(t, txn.IsExclusiveLocked(rid))

	// another reader must now be blocked out until the writer is done
	other := registry.Begin(transaction.RepeatableRead)
	acquired := make(chan error, 1)
	go func() {
		acquired <- lm.LockShared(other, rid)
	}()

	select {
	case <-acquired:
		t.Fatal("shared lock granted besides an exclusive holder")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, lm.Unlock(txn, rid))
	require.NoError(t, <-acquired)
}

func TestLock_Manager_Upgrade_Without_Shared_Lock_Fails(t *testing.T) {
	lm, registry := newTestManager()
	rid := structures.NewRid(1, 0)

	txn := registry.Begin(transaction.RepeatableRead)
	assert.ErrorIs(t, lm.LockUpgrade(txn, rid), ErrNoSharedLock)
}

func TestLock_Manager_Only_One_Upgrade_May_Run_Per_Rid(t *testing.T) {
	lm, registry := newTestManager()
	rid := structures.NewRid(1, 0)

	first := registry.Begin(transaction.RepeatableRead)
	second := registry.Begin(transaction.RepeatableRead)
	third := registry.Begin(transaction.RepeatableRead)

	require.NoError(t, lm.LockShared(first, rid))
	require.NoError(t, lm.LockShared(second, rid))
	require.NoError(t, lm.LockShared(third, rid))

	// the youngest holder starts upgrading and blocks on the two older readers
	upgradeErr := make(chan error, 1)
	go func() {
		upgradeErr <- lm.LockUpgrade(third, rid)
	}()
	time.Sleep(50 * time.Millisecond)

	// a concurrent upgrade on the same rid is refused outright
	err := lm.LockUpgrade(first, rid)
	var abortErr *TxnAbortError
	require.ErrorAs(t, err, &abortErr)
	assert.Equal(t, ReasonUpgradeConflict, abortErr.Reason)
	lm.ReleaseAllLocks(first)

	require.NoError(t, lm.Unlock(second, rid))

	select {
	case err := <-upgradeErr:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("upgrade never completed")
	}
	assert.True(t, third.IsExclusiveLocked(rid))
}

func TestLock_Manager_Older_Upgrade_Wounds_Younger_Readers(t *testing.T) {
	lm, registry := newTestManager()
	rid := structures.NewRid(1, 0)

	older := registry.Begin(transaction.RepeatableRead)
	younger := registry.Begin(transaction.RepeatableRead)

	require.NoError(t, lm.LockShared(older, rid))
	require.NoError(t, lm.LockShared(younger, rid))

	require.NoError(t, lm.LockUpgrade(older, rid))

	assert.Equal(t, transaction.Aborted, younger.GetState())
	assert.True(t, older.IsExclusiveLocked(rid))
	lm.ReleaseAllLocks(younger)
}

func TestLock_Manager_Never_Grants_Conflicting_Modes(t *testing.T) {
	lm, registry := newTestManager()
	rid := structures.NewRid(1, 0)

	// a wounded holder may keep running until it notices its abort, so the invariant is
	// checked over holders that are still alive: among those, at most one writer and never
	// a writer next to readers.
	var mu sync.Mutex
	holders := map[*transaction.Transaction]LockMode{}
	validate := func() {
		writers, readers := 0, 0
		for txn, mode := range holders {
			if txn.GetState() == transaction.Aborted {
				continue
			}
			if mode == ExclusiveLock {
				writers++
			} else {
				readers++
			}
		}
		require.True(t, writers == 0 || (writers == 1 && readers == 0))
	}

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			txn := registry.Begin(transaction.RepeatableRead)

			var err error
			mode := SharedLock
			if i%4 == 0 {
				mode = ExclusiveLock
				err = lm.LockExclusive(txn, rid)
			} else {
				err = lm.LockShared(txn, rid)
			}
			if err != nil {
				lm.ReleaseAllLocks(txn)
				return
			}

			mu.Lock()
			holders[txn] = mode
			validate()
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			validate()
			delete(holders, txn)
			mu.Unlock()

			if txn.GetState() != transaction.Aborted {
				_ = lm.Unlock(txn, rid)
			}
			lm.ReleaseAllLocks(txn)
		}(i)
	}
	wg.Wait()
}
