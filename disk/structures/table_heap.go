package structures

import (
	"kiln/buffer"
)

// TableHeap stores fixed width rows in a chain of row pages. It does no locking itself, callers
// that need isolation acquire row locks before touching a rid.
type TableHeap struct {
	Pool        buffer.Pool
	FirstPageID uint64
	lastPageID  uint64
	rowSize     uint16
}

func NewTableHeap(pool buffer.Pool, rowSize uint16) (*TableHeap, error) {
	raw, err := pool.NewPage()
	if err != nil {
		return nil, err
	}

	InitRowPage(raw, rowSize)
	pageId := raw.GetPageId()
	pool.Unpin(pageId, true)

	return &TableHeap{
		Pool:        pool,
		FirstPageID: pageId,
		lastPageID:  pageId,
		rowSize:     rowSize,
	}, nil
}

func (t *TableHeap) RowSize() uint16 {
	return t.rowSize
}

// InsertRow appends at the last page of the chain, growing it when full.
func (t *TableHeap) InsertRow(data []byte) (Rid, error) {
	raw, err := t.Pool.GetPage(t.lastPageID)
	if err != nil {
		return Rid{}, err
	}

	for {
		raw.WLatch()
		page := RowPageFromRaw(raw)

		slot, err := page.InsertRow(data)
		if err == nil {
			raw.WUnlatch()
			t.Pool.Unpin(raw.GetPageId(), true)
			return NewRid(page.GetPageId(), slot), nil
		}
		if err != ErrPageFull {
			raw.WUnlatch()
			t.Pool.Unpin(raw.GetPageId(), false)
			return Rid{}, err
		}

		// chain a new page and move on to it
		next, newErr := t.Pool.NewPage()
		if newErr != nil {
			raw.WUnlatch()
			t.Pool.Unpin(raw.GetPageId(), false)
			return Rid{}, newErr
		}

		InitRowPage(next, t.rowSize)
		page.SetNextPageId(next.GetPageId())
		raw.WUnlatch()
		t.Pool.Unpin(raw.GetPageId(), true)

		t.lastPageID = next.GetPageId()
		raw = next
	}
}

func (t *TableHeap) ReadRow(rid Rid, dest *Row) error {
	raw, err := t.Pool.GetPage(rid.PageId)
	if err != nil {
		return err
	}

	raw.RLatch()
	data, err := RowPageFromRaw(raw).ReadRow(int(rid.SlotIdx))
	raw.RUnLatch()
	t.Pool.Unpin(rid.PageId, false)
	if err != nil {
		return err
	}

	dest.Data = data
	dest.Rid = rid
	return nil
}

func (t *TableHeap) UpdateRow(rid Rid, data []byte) error {
	raw, err := t.Pool.GetPage(rid.PageId)
	if err != nil {
		return err
	}

	raw.WLatch()
	err = RowPageFromRaw(raw).UpdateRow(int(rid.SlotIdx), data)
	raw.WUnlatch()
	t.Pool.Unpin(rid.PageId, err == nil)
	return err
}

func (t *TableHeap) DeleteRow(rid Rid) error {
	raw, err := t.Pool.GetPage(rid.PageId)
	if err != nil {
		return err
	}

	raw.WLatch()
	err = RowPageFromRaw(raw).DeleteRow(int(rid.SlotIdx))
	raw.WUnlatch()
	t.Pool.Unpin(rid.PageId, err == nil)
	return err
}
