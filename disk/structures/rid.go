package structures

// Rid is the address of a row: the page that holds it and the slot within that page. It is the
// key rows are locked by.
type Rid struct {
	PageId  uint64
	SlotIdx uint16
}

func NewRid(pageId uint64, slotIdx uint16) Rid {
	return Rid{
		PageId:  pageId,
		SlotIdx: slotIdx,
	}
}
