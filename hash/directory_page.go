package hash

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"kiln/disk/pages"
)

// MaxDepth bounds the global depth. The directory always reserves room for 2^MaxDepth entries
// so that doubling never moves data between pages.
const MaxDepth uint32 = 9

const directoryArraySize = 1 << MaxDepth

// invalidBucketPageId marks unused directory slots. Bucket page ids are stored as 4 byte values,
// page files larger than that are out of reach here.
const invalidBucketPageId = ^uint32(0)

// directoryPage gives structured access to the directory's on-page layout:
//
//	| page_id (4B) | global_depth (4B) | local_depth[2^MaxDepth] (1B each) | bucket_page_id[2^MaxDepth] (4B each) |
type directoryPage struct {
	raw *pages.RawPage
}

const (
	offsetPageId        = 0
	offsetGlobalDepth   = 4
	offsetLocalDepths   = 8
	offsetBucketPageIds = offsetLocalDepths + directoryArraySize
)

func (d *directoryPage) data() []byte { return d.raw.GetData() }

func (d *directoryPage) GetPageId() uint64 {
	return uint64(binary.BigEndian.Uint32(d.data()[offsetPageId:]))
}

func (d *directoryPage) SetPageId(pageId uint64) {
	binary.BigEndian.PutUint32(d.data()[offsetPageId:], uint32(pageId))
}

func (d *directoryPage) GetGlobalDepth() uint32 {
	return binary.BigEndian.Uint32(d.data()[offsetGlobalDepth:])
}

func (d *directoryPage) SetGlobalDepth(depth uint32) {
	binary.BigEndian.PutUint32(d.data()[offsetGlobalDepth:], depth)
}

func (d *directoryPage) IncrGlobalDepth() {
	d.SetGlobalDepth(d.GetGlobalDepth() + 1)
}

func (d *directoryPage) DecrGlobalDepth() {
	d.SetGlobalDepth(d.GetGlobalDepth() - 1)
}

// Size returns the number of live directory entries.
func (d *directoryPage) Size() uint32 {
	return 1 << d.GetGlobalDepth()
}

func (d *directoryPage) GetGlobalDepthMask() uint32 {
	return d.Size() - 1
}

func (d *directoryPage) GetLocalDepth(idx uint32) uint32 {
	return uint32(d.data()[offsetLocalDepths+idx])
}

func (d *directoryPage) SetLocalDepth(idx uint32, depth uint32) {
	d.data()[offsetLocalDepths+idx] = byte(depth)
}

func (d *directoryPage) IncrLocalDepth(idx uint32) {
	d.SetLocalDepth(idx, d.GetLocalDepth(idx)+1)
}

func (d *directoryPage) DecrLocalDepth(idx uint32) {
	d.SetLocalDepth(idx, d.GetLocalDepth(idx)-1)
}

func (d *directoryPage) GetLocalDepthMask(idx uint32) uint32 {
	return (1 << d.GetLocalDepth(idx)) - 1
}

func (d *directoryPage) GetBucketPageId(idx uint32) uint64 {
	return uint64(binary.BigEndian.Uint32(d.data()[offsetBucketPageIds+4*int(idx):]))
}

func (d *directoryPage) SetBucketPageId(idx uint32, pageId uint64) {
	binary.BigEndian.PutUint32(d.data()[offsetBucketPageIds+4*int(idx):], uint32(pageId))
}

// GetMergeImageIndex returns the directory index of the bucket's merge partner, obtained by
// toggling the highest bit in use at the bucket's local depth.
func (d *directoryPage) GetMergeImageIndex(idx uint32) uint32 {
	return idx ^ (1 << (d.GetLocalDepth(idx) - 1))
}

// CanShrink reports whether halving the directory would still cover every live bucket.
func (d *directoryPage) CanShrink() bool {
	if d.GetGlobalDepth() == 0 {
		return false
	}
	for i := uint32(0); i < d.Size(); i++ {
		if d.GetLocalDepth(i) >= d.GetGlobalDepth() {
			return false
		}
	}
	return true
}

func (d *directoryPage) init(pageId uint64) {
	d.SetPageId(pageId)
	d.SetGlobalDepth(0)
	for i := uint32(0); i < directoryArraySize; i++ {
		d.SetLocalDepth(i, 0)
		binary.BigEndian.PutUint32(d.data()[offsetBucketPageIds+4*int(i):], invalidBucketPageId)
	}
}

// VerifyIntegrity checks the directory invariants: every live slot points at an allocated
// bucket, no local depth exceeds the global depth, each bucket page is referenced by exactly
// 2^(global_depth - local_depth) slots, and two slots share a bucket page exactly when they
// agree in their low local depth bits at equal local depths.
func (d *directoryPage) VerifyIntegrity() error {
	globalDepth := d.GetGlobalDepth()
	refCounts := map[uint64]uint32{}

	for i := uint32(0); i < d.Size(); i++ {
		pageId := d.GetBucketPageId(i)
		if pageId == uint64(invalidBucketPageId) {
			return errors.Errorf("directory slot %v points at no bucket", i)
		}
		if d.GetLocalDepth(i) > globalDepth {
			return errors.Errorf("local depth at %v exceeds global depth: %v > %v", i, d.GetLocalDepth(i), globalDepth)
		}
		refCounts[pageId]++
	}

	for i := uint32(0); i < d.Size(); i++ {
		localDepth := d.GetLocalDepth(i)
		if want := uint32(1) << (globalDepth - localDepth); refCounts[d.GetBucketPageId(i)] != want {
			return errors.Errorf("bucket page %v is referenced %v times, want %v", d.GetBucketPageId(i), refCounts[d.GetBucketPageId(i)], want)
		}

		for j := i + 1; j < d.Size(); j++ {
			sameBucket := d.GetBucketPageId(i) == d.GetBucketPageId(j)
			siblings := d.GetLocalDepth(i) == d.GetLocalDepth(j) && (i^j)&d.GetLocalDepthMask(i) == 0
			if sameBucket != siblings {
				return errors.Errorf("directory slots %v and %v break the split image invariant", i, j)
			}
		}
	}

	return nil
}
