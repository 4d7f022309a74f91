package buffer

import (
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kiln/disk"
)

func newTestDiskManager(t *testing.T) *disk.Manager {
	id, _ := uuid.NewUUID()
	dm, err := disk.NewDiskManager(filepath.Join(t.TempDir(), id.String()+".kiln"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = dm.Close() })
	return dm
}

func TestBuffer_Pool_Should_Write_Pages_To_Disk(t *testing.T) {
	dm := newTestDiskManager(t)
	b := NewBufferPool(dm, 2)

	numPagesToTest := 50

	// generate random page sized byte arrays
	randomPages := make([][]byte, 0)
	for i := 0; i < numPagesToTest; i++ {
		randomPage := make([]byte, disk.PageSize)
		rand.Read(randomPage)
		randomPages = append(randomPages, randomPage)
	}

	// write random pages with a 2 sized buffer pool
	pageIds := make([]uint64, 0)
	for i := 0; i < numPagesToTest; i++ {
		p, err := b.NewPage()
		require.NoError(t, err)
		pageIds = append(pageIds, p.GetPageId())

		n := copy(p.GetData(), randomPages[i])
		require.Equal(t, disk.PageSize, n)

		require.True(t, b.Unpin(p.GetPageId(), true))
	}

	// read each page back and validate content
	for i := 0; i < numPagesToTest; i++ {
		p, err := b.GetPage(pageIds[i])
		require.NoError(t, err)
		assert.Equal(t, randomPages[i], p.GetData())
		b.Unpin(p.GetPageId(), false)
	}
}

func TestBuffer_Pool_Should_Evict_Least_Recently_Unpinned_Page(t *testing.T) {
	dm := newTestDiskManager(t)
	b := NewBufferPool(dm, 10)

	// fill the pool, stamping each page with its index
	pageIds := make([]uint64, 0)
	for i := 0; i < 10; i++ {
		p, err := b.NewPage()
		require.NoError(t, err)
		p.GetData()[0] = byte(i)
		pageIds = append(pageIds, p.GetPageId())
	}

	for _, pageId := range pageIds {
		require.True(t, b.Unpin(pageId, true))
	}

	// an 11th page must evict the least recently unpinned frame, which holds the first page
	p11, err := b.NewPage()
	require.NoError(t, err)
	assert.Equal(t, 0, b.EmptyFrameSize())

	// the evicted page's bytes must have survived the writeback
	p0, err := b.GetPage(pageIds[0])
	require.NoError(t, err)
	assert.Equal(t, byte(0), p0.GetData()[0])

	b.Unpin(p0.GetPageId(), false)
	b.Unpin(p11.GetPageId(), false)
}

func TestBuffer_Pool_Should_Fail_When_All_Pages_Are_Pinned(t *testing.T) {
	dm := newTestDiskManager(t)
	b := NewBufferPool(dm, 4)

	for i := 0; i < 4; i++ {
		_, err := b.NewPage()
		require.NoError(t, err)
	}

	_, err := b.NewPage()
	assert.ErrorIs(t, err, ErrPoolExhausted)
}

func TestBuffer_Pool_Should_Not_Unpin_Below_Zero(t *testing.T) {
	dm := newTestDiskManager(t)
	b := NewBufferPool(dm, 4)

	p, err := b.NewPage()
	require.NoError(t, err)

	assert.True(t, b.Unpin(p.GetPageId(), false))
	assert.False(t, b.Unpin(p.GetPageId(), false))
	assert.False(t, b.Unpin(12345, false))
}

func TestBuffer_Pool_Should_Not_Delete_Pinned_Page(t *testing.T) {
	dm := newTestDiskManager(t)
	b := NewBufferPool(dm, 4)

	p, err := b.NewPage()
	require.NoError(t, err)

	assert.False(t, b.DeletePage(p.GetPageId()))

	b.Unpin(p.GetPageId(), false)
	assert.True(t, b.DeletePage(p.GetPageId()))
	assert.Equal(t, 4, b.EmptyFrameSize())
}

func TestBuffer_Pool_Should_Recycle_Deleted_Page_Ids(t *testing.T) {
	dm := newTestDiskManager(t)
	b := NewBufferPool(dm, 4)

	p, err := b.NewPage()
	require.NoError(t, err)
	deletedId := p.GetPageId()

	b.Unpin(deletedId, false)
	require.True(t, b.DeletePage(deletedId))

	p2, err := b.NewPage()
	require.NoError(t, err)
	assert.Equal(t, deletedId, p2.GetPageId())
}

func TestBuffer_Pool_Should_Flush_Dirty_Pages(t *testing.T) {
	dm := newTestDiskManager(t)
	b := NewBufferPool(dm, 4)

	p, err := b.NewPage()
	require.NoError(t, err)
	p.GetData()[100] = 42
	pageId := p.GetPageId()
	b.Unpin(pageId, true)

	require.NoError(t, b.FlushAll())

	data := make([]byte, disk.PageSize)
	require.NoError(t, dm.ReadPage(pageId, data))
	assert.Equal(t, byte(42), data[100])
	assert.False(t, p.IsDirty())
}

func TestBuffer_Pool_Should_Count_Hits_And_Misses(t *testing.T) {
	dm := newTestDiskManager(t)
	b := NewBufferPool(dm, 4)

	p, err := b.NewPage()
	require.NoError(t, err)
	pageId := p.GetPageId()
	b.Unpin(pageId, true)

	_, err = b.GetPage(pageId)
	require.NoError(t, err)
	b.Unpin(pageId, false)

	assert.Equal(t, int64(1), b.Stats.Get("hit"))
	assert.Equal(t, int64(0), b.Stats.Get("miss"))
}
