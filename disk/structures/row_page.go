package structures

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"kiln/disk"
	"kiln/disk/pages"
)

var ErrRowNotFound = errors.New("no row at the given slot")
var ErrPageFull = errors.New("no free slot in page")

// RowPage stores fixed width rows in numbered slots:
//
//	| next_page_id (8B) | row_size (2B) | occupancy bitmap | row array |
//
// next_page_id chains heap pages together, 0 terminates the chain (page 0 is the first page a
// fresh pool hands out, so it never becomes a successor unless it is deleted and its id reused).
type RowPage struct {
	raw *pages.RawPage
}

const (
	offsetNextPageId = 0
	offsetRowSize    = 8
	offsetBitmap     = 10
)

// InitRowPage formats a zeroed page for rows of the given width.
func InitRowPage(raw *pages.RawPage, rowSize uint16) *RowPage {
	p := &RowPage{raw: raw}
	binary.BigEndian.PutUint64(raw.Data[offsetNextPageId:], 0)
	binary.BigEndian.PutUint16(raw.Data[offsetRowSize:], rowSize)
	return p
}

// RowPageFromRaw reinterprets an already formatted page.
func RowPageFromRaw(raw *pages.RawPage) *RowPage {
	return &RowPage{raw: raw}
}

func (p *RowPage) GetPageId() uint64 {
	return p.raw.GetPageId()
}

func (p *RowPage) GetNextPageId() uint64 {
	return binary.BigEndian.Uint64(p.raw.Data[offsetNextPageId:])
}

func (p *RowPage) SetNextPageId(pageId uint64) {
	binary.BigEndian.PutUint64(p.raw.Data[offsetNextPageId:], pageId)
}

func (p *RowPage) RowSize() int {
	return int(binary.BigEndian.Uint16(p.raw.Data[offsetRowSize:]))
}

// Capacity returns how many rows of this page's width fit next to the header and bitmap.
func (p *RowPage) Capacity() int {
	rowSize := p.RowSize()
	capacity := (disk.PageSize - offsetBitmap) * 8 / (rowSize*8 + 1)
	for offsetBitmap+(capacity+7)/8+capacity*rowSize > disk.PageSize {
		capacity--
	}
	return capacity
}

func (p *RowPage) bitmapBytes() int {
	return (p.Capacity() + 7) / 8
}

func (p *RowPage) rowOffset(slot int) int {
	return offsetBitmap + p.bitmapBytes() + slot*p.RowSize()
}

func (p *RowPage) IsOccupied(slot int) bool {
	return p.raw.Data[offsetBitmap+slot/8]&(1<<(slot%8)) != 0
}

// InsertRow places data into the first free slot and returns its index.
func (p *RowPage) InsertRow(data []byte) (uint16, error) {
	if len(data) != p.RowSize() {
		return 0, errors.Errorf("row is not %v bytes long: %v", p.RowSize(), len(data))
	}

	for slot := 0; slot < p.Capacity(); slot++ {
		if p.IsOccupied(slot) {
			continue
		}

		copy(p.raw.Data[p.rowOffset(slot):], data)
		p.raw.Data[offsetBitmap+slot/8] |= 1 << (slot % 8)
		return uint16(slot), nil
	}

	return 0, ErrPageFull
}

// ReadRow copies the row at slot into a fresh buffer.
func (p *RowPage) ReadRow(slot int) ([]byte, error) {
	if slot >= p.Capacity() || !p.IsOccupied(slot) {
		return nil, ErrRowNotFound
	}

	data := make([]byte, p.RowSize())
	copy(data, p.raw.Data[p.rowOffset(slot):])
	return data, nil
}

func (p *RowPage) UpdateRow(slot int, data []byte) error {
	if slot >= p.Capacity() || !p.IsOccupied(slot) {
		return ErrRowNotFound
	}
	if len(data) != p.RowSize() {
		return errors.Errorf("row is not %v bytes long: %v", p.RowSize(), len(data))
	}

	copy(p.raw.Data[p.rowOffset(slot):], data)
	return nil
}

func (p *RowPage) DeleteRow(slot int) error {
	if slot >= p.Capacity() || !p.IsOccupied(slot) {
		return ErrRowNotFound
	}

	p.raw.Data[offsetBitmap+slot/8] &^= 1 << (slot % 8)
	return nil
}

// NextOccupied returns the first occupied slot strictly after the given one, or -1.
func (p *RowPage) NextOccupied(after int) int {
	for slot := after + 1; slot < p.Capacity(); slot++ {
		if p.IsOccupied(slot) {
			return slot
		}
	}
	return -1
}
