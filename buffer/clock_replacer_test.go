package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClockReplacer_Should_Return_Error_When_Empty(t *testing.T) {
	r := NewClockReplacer(16)
	_, err := r.ChooseVictim()
	assert.ErrorIs(t, err, ErrNoVictim)
}

func TestClockReplacer_Should_Evict_Every_Candidate_Exactly_Once(t *testing.T) {
	poolSize := 16
	r := NewClockReplacer(poolSize)
	for i := 0; i < poolSize; i++ {
		r.Unpin(i)
	}
	require.Equal(t, poolSize, r.GetSize())

	seen := map[int]bool{}
	for i := 0; i < poolSize; i++ {
		v, err := r.ChooseVictim()
		require.NoError(t, err)
		assert.False(t, seen[v])
		seen[v] = true
	}

	_, err := r.ChooseVictim()
	assert.ErrorIs(t, err, ErrNoVictim)
}

func TestClockReplacer_Should_Not_Choose_Pinned_Frame(t *testing.T) {
	r := NewClockReplacer(4)
	r.Unpin(0)
	r.Unpin(1)
	r.Pin(0)

	v, err := r.ChooseVictim()
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}
