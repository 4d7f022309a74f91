package buffer

import (
	"sync"

	"kiln/disk"
	"kiln/disk/pages"
)

var _ Pool = &ParallelPool{}

// ParallelPool stripes the page id space across independent buffer pool instances sharing one
// disk manager. A page is owned by instance page_id mod numInstances; since instances allocate
// ids out of their own residue class, a page always routes back to the instance that created it.
type ParallelPool struct {
	instances    []*BufferPool
	numInstances uint64

	// allocateIdx is where the next NewPage starts its round robin. Guarded by allocateLock.
	allocateIdx  uint64
	allocateLock sync.Mutex
}

func NewParallelPool(dm disk.IDiskManager, numInstances uint64, poolSize int) *ParallelPool {
	instances := make([]*BufferPool, numInstances)
	for i := uint64(0); i < numInstances; i++ {
		instances[i] = NewBufferPoolInstance(dm, poolSize, numInstances, i)
	}

	return &ParallelPool{
		instances:    instances,
		numInstances: numInstances,
		allocateIdx:  0,
	}
}

func (p *ParallelPool) instanceFor(pageId uint64) *BufferPool {
	return p.instances[pageId%p.numInstances]
}

func (p *ParallelPool) GetPage(pageId uint64) (*pages.RawPage, error) {
	return p.instanceFor(pageId).GetPage(pageId)
}

// NewPage asks each instance in turn, starting at allocateIdx, until one of them has a frame to
// spare. The next call resumes from the instance after the last attempt.
func (p *ParallelPool) NewPage() (*pages.RawPage, error) {
	p.allocateLock.Lock()
	defer p.allocateLock.Unlock()

	var lastErr error = ErrPoolExhausted
	for i := uint64(0); i < p.numInstances; i++ {
		instance := p.instances[p.allocateIdx]
		p.allocateIdx = (p.allocateIdx + 1) % p.numInstances

		page, err := instance.NewPage()
		if err == nil {
			return page, nil
		}
		lastErr = err
	}

	return nil, lastErr
}

func (p *ParallelPool) Unpin(pageId uint64, isDirty bool) bool {
	return p.instanceFor(pageId).Unpin(pageId, isDirty)
}

func (p *ParallelPool) FlushPage(pageId uint64) error {
	return p.instanceFor(pageId).FlushPage(pageId)
}

func (p *ParallelPool) FlushAll() error {
	for _, instance := range p.instances {
		if err := instance.FlushAll(); err != nil {
			return err
		}
	}
	return nil
}

func (p *ParallelPool) DeletePage(pageId uint64) bool {
	return p.instanceFor(pageId).DeletePage(pageId)
}

func (p *ParallelPool) EmptyFrameSize() int {
	total := 0
	for _, instance := range p.instances {
		total += instance.EmptyFrameSize()
	}
	return total
}

// GetPoolSize returns the total number of frames across all instances.
func (p *ParallelPool) GetPoolSize() int {
	return len(p.instances) * p.instances[0].poolSize
}
