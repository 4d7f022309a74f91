package transaction

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Should_Hand_Out_Monotonic_Ids(t *testing.T) {
	r := NewRegistry()

	last := TxnID(0)
	for i := 0; i < 100; i++ {
		txn := r.Begin(RepeatableRead)
		assert.Greater(t, txn.GetID(), last)
		last = txn.GetID()
	}
}

func TestRegistry_Should_Resolve_Active_Transactions(t *testing.T) {
	r := NewRegistry()

	txn := r.Begin(ReadCommitted)
	assert.Equal(t, Growing, txn.GetState())
	assert.Equal(t, ReadCommitted, txn.GetIsolationLevel())

	got, ok := r.Get(txn.GetID())
	require.True(t, ok)
	assert.Same(t, txn, got)

	r.Commit(txn)
	assert.Equal(t, Committed, txn.GetState())
	_, ok = r.Get(txn.GetID())
	assert.False(t, ok)
}

func TestRegistry_Should_Survive_Concurrent_Begins(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	ids := make([]TxnID, 64)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i] = r.Begin(RepeatableRead).GetID()
		}(i)
	}
	wg.Wait()

	seen := map[TxnID]bool{}
	for _, id := range ids {
		require.False(t, seen[id])
		seen[id] = true
	}
}
