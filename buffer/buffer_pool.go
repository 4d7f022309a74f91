package buffer

import (
	"errors"
	"fmt"
	"sync"

	perrors "github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"kiln/common"
	"kiln/disk"
	"kiln/disk/pages"
)

var ErrPoolExhausted = errors.New("no free or evictable frame in the pool")
var ErrPageNotFoundInPageMap = errors.New("page cannot be found in the page map")

type Pool interface {
	// GetPage returns the page pinned. Caller must Unpin it when done.
	GetPage(pageId uint64) (*pages.RawPage, error)

	// NewPage allocates a fresh page and returns it pinned and zeroed.
	NewPage() (*pages.RawPage, error)

	// Unpin decrements the page's pin count and ors isDirty into its dirty flag. It returns false
	// if the page is not resident or its pin count is already zero.
	Unpin(pageId uint64, isDirty bool) bool

	// FlushPage syncs the page to disk and clears its dirty flag. Flushing does not unpin.
	FlushPage(pageId uint64) error

	// FlushAll syncs every resident page.
	FlushAll() error

	// DeletePage drops the page from the pool and deallocates it on disk. It returns false when
	// the page is resident and pinned.
	DeletePage(pageId uint64) bool

	// EmptyFrameSize returns the number of frames which do not hold data of any physical page.
	EmptyFrameSize() int
}

type frame struct {
	page *pages.RawPage
}

var _ Pool = &BufferPool{}

// BufferPool caches disk pages in a fixed set of frames. One mutex protects the frame table,
// the page map, the free list and the replacer, and is held across disk io.
type BufferPool struct {
	poolSize    int
	frames      []*frame
	pageMap     map[uint64]int // physical page_id => frame index which keeps that page
	emptyFrames []int          // list of indexes that point to empty frames in the pool
	Replacer    IReplacer
	DiskManager disk.IDiskManager
	Stats       *common.Stats
	lock        sync.Mutex

	// page id allocation is striped so that page_id mod numInstances always routes back to the
	// instance that allocated it. freedPageIds recycles ids of this instance's residue class.
	numInstances uint64
	instanceIdx  uint64
	nextPageId   uint64
	freedPageIds []uint64
}

func NewBufferPool(dm disk.IDiskManager, poolSize int) *BufferPool {
	return NewBufferPoolInstance(dm, poolSize, 1, 0)
}

func NewBufferPoolInstance(dm disk.IDiskManager, poolSize int, numInstances, instanceIdx uint64) *BufferPool {
	emptyFrames := make([]int, poolSize)
	frames := make([]*frame, poolSize)
	for i := 0; i < poolSize; i++ {
		emptyFrames[i] = i
		frames[i] = &frame{page: pages.NewRawPage(disk.InvalidPageID)}
	}

	log.WithFields(log.Fields{"poolSize": poolSize, "instance": instanceIdx}).Debug("buffer pool created")
	return &BufferPool{
		poolSize:     poolSize,
		frames:       frames,
		pageMap:      map[uint64]int{},
		emptyFrames:  emptyFrames,
		Replacer:     NewLruReplacer(poolSize),
		DiskManager:  dm,
		Stats:        common.NewStats(),
		numInstances: numInstances,
		instanceIdx:  instanceIdx,
		nextPageId:   instanceIdx,
	}
}

func (b *BufferPool) GetPage(pageId uint64) (*pages.RawPage, error) {
	b.lock.Lock()
	defer b.lock.Unlock()

	if frameIdx, ok := b.pageMap[pageId]; ok {
		b.Stats.Incr("hit")
		p := b.frames[frameIdx].page
		p.IncrPinCount()
		b.Replacer.Pin(frameIdx)
		return p, nil
	}

	b.Stats.Incr("miss")
	frameIdx, err := b.reserveFrame()
	if err != nil {
		return nil, err
	}

	p := b.frames[frameIdx].page
	if err := b.DiskManager.ReadPage(pageId, p.GetData()); err != nil {
		b.emptyFrames = append(b.emptyFrames, frameIdx)
		return nil, perrors.Wrapf(err, "could not read page into frame: %v", pageId)
	}

	p.PageId = pageId
	p.PinCount = 1
	p.SetClean()
	b.pageMap[pageId] = frameIdx
	return p, nil
}

func (b *BufferPool) NewPage() (*pages.RawPage, error) {
	b.lock.Lock()
	defer b.lock.Unlock()

	frameIdx, err := b.reserveFrame()
	if err != nil {
		return nil, err
	}

	p := b.frames[frameIdx].page
	p.Reset()
	p.PageId = b.allocatePageId()
	p.PinCount = 1
	b.pageMap[p.PageId] = frameIdx
	return p, nil
}

func (b *BufferPool) Unpin(pageId uint64, isDirty bool) bool {
	b.lock.Lock()
	defer b.lock.Unlock()

	frameIdx, ok := b.pageMap[pageId]
	if !ok {
		return false
	}

	p := b.frames[frameIdx].page
	if isDirty {
		p.SetDirty()
	}

	if p.GetPinCount() <= 0 {
		return false
	}

	p.DecrPinCount()
	if p.GetPinCount() == 0 {
		b.Replacer.Unpin(frameIdx)
	}

	return true
}

func (b *BufferPool) FlushPage(pageId uint64) error {
	b.lock.Lock()
	defer b.lock.Unlock()

	frameIdx, ok := b.pageMap[pageId]
	if !ok {
		return ErrPageNotFoundInPageMap
	}

	p := b.frames[frameIdx].page
	if err := b.DiskManager.WritePage(p.GetData(), pageId); err != nil {
		return perrors.Wrapf(err, "could not flush page: %v", pageId)
	}

	p.SetClean()
	return nil
}

func (b *BufferPool) FlushAll() error {
	b.lock.Lock()
	defer b.lock.Unlock()

	for pageId, frameIdx := range b.pageMap {
		p := b.frames[frameIdx].page
		if !p.IsDirty() {
			continue
		}
		if err := b.DiskManager.WritePage(p.GetData(), pageId); err != nil {
			return perrors.Wrapf(err, "could not flush page: %v", pageId)
		}
		p.SetClean()
	}

	return nil
}

func (b *BufferPool) DeletePage(pageId uint64) bool {
	b.lock.Lock()
	defer b.lock.Unlock()

	frameIdx, ok := b.pageMap[pageId]
	if !ok {
		b.freePageId(pageId)
		return true
	}

	p := b.frames[frameIdx].page
	if p.GetPinCount() > 0 {
		return false
	}

	b.Replacer.Pin(frameIdx)
	delete(b.pageMap, pageId)
	p.Reset()
	b.emptyFrames = append(b.emptyFrames, frameIdx)
	b.freePageId(pageId)
	return true
}

func (b *BufferPool) EmptyFrameSize() int {
	b.lock.Lock()
	defer b.lock.Unlock()

	return len(b.emptyFrames)
}

// reserveFrame returns an empty frame's index, evicting a victim when the free list is exhausted.
// Caller must hold b.lock.
func (b *BufferPool) reserveFrame() (int, error) {
	if len(b.emptyFrames) > 0 {
		frameIdx := b.emptyFrames[0]
		b.emptyFrames = b.emptyFrames[1:]
		return frameIdx, nil
	}

	victimIdx, err := b.Replacer.ChooseVictim()
	if err != nil {
		return 0, ErrPoolExhausted
	}

	victim := b.frames[victimIdx].page
	if victim.GetPinCount() != 0 {
		panic(fmt.Sprintf("a page is chosen as victim while its pin count is not zero. pin count: %v, page_id: %v", victim.GetPinCount(), victim.GetPageId()))
	}

	if victim.IsDirty() {
		if err := b.DiskManager.WritePage(victim.GetData(), victim.GetPageId()); err != nil {
			// put the victim back so the pool stays consistent
			b.Replacer.Unpin(victimIdx)
			return 0, perrors.Wrapf(err, "could not write back victim page: %v", victim.GetPageId())
		}
	}

	b.Stats.Incr("eviction")
	delete(b.pageMap, victim.GetPageId())
	return victimIdx, nil
}

// allocatePageId prefers recycling an id freed by DeletePage, all of which belong to this
// instance's residue class. Caller must hold b.lock.
func (b *BufferPool) allocatePageId() uint64 {
	if n := len(b.freedPageIds); n > 0 {
		pageId := b.freedPageIds[n-1]
		b.freedPageIds = b.freedPageIds[:n-1]
		return pageId
	}

	pageId := b.nextPageId
	b.nextPageId += b.numInstances
	return pageId
}

func (b *BufferPool) freePageId(pageId uint64) {
	b.DiskManager.FreePage(pageId)
	b.freedPageIds = append(b.freedPageIds, pageId)
}
