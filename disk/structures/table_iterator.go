package structures

import (
	"kiln/common"
)

// TableIterator walks a heap's page chain slot by slot, yielding rows in rid order.
type TableIterator struct {
	heap       *TableHeap
	currPageID uint64
	currSlot   int
}

func NewTableIterator(heap *TableHeap) *TableIterator {
	return &TableIterator{
		heap:       heap,
		currPageID: heap.FirstPageID,
		currSlot:   -1,
	}
}

// Next returns the next live row or nil at the end of the heap.
func (it *TableIterator) Next() *Row {
	pool := it.heap.Pool

	for {
		raw, err := pool.GetPage(it.currPageID)
		common.PanicIfErr(err)

		raw.RLatch()
		page := RowPageFromRaw(raw)
		slot := page.NextOccupied(it.currSlot)

		if slot < 0 {
			nextPageID := page.GetNextPageId()
			raw.RUnLatch()
			pool.Unpin(it.currPageID, false)

			if nextPageID == 0 {
				// we came to the end of the heap
				return nil
			}

			it.currPageID = nextPageID
			it.currSlot = -1
			continue
		}

		data, err := page.ReadRow(slot)
		raw.RUnLatch()
		pool.Unpin(it.currPageID, false)
		common.PanicIfErr(err)

		it.currSlot = slot
		return &Row{
			Data: data,
			Rid:  NewRid(it.currPageID, uint16(slot)),
		}
	}
}
