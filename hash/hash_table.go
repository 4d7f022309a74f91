package hash

import (
	"errors"
	"sync"

	"github.com/cespare/xxhash/v2"

	"kiln/buffer"
	"kiln/common"
	"kiln/disk/pages"
)

// ErrDepthExceeded is returned when an insert would require doubling the directory past MaxDepth.
var ErrDepthExceeded = errors.New("directory cannot grow past max depth")

// ExtendibleHashTable is a disk resident hash index. The directory and all buckets live on
// buffer pool pages, so the table survives eviction. NewExtendibleHashTable always formats a new
// directory; there is no constructor that attaches to an existing one.
//
// Concurrency follows a two level protocol: every operation first acquires the table latch, in
// read mode for search, remove and the insert fast path, in write mode for structural changes
// (bucket splits and merges). Bucket pages are additionally latched individually so that read
// mode operations on distinct buckets proceed in parallel.
type ExtendibleHashTable[K any, V any] struct {
	pool       buffer.Pool
	dirPageId  uint64
	keyCodec   Codec[K]
	valCodec   Codec[V]
	tableLatch sync.RWMutex
}

// NewExtendibleHashTable allocates the directory and the first bucket through the pool. With a
// fresh file the directory lands on page 0.
func NewExtendibleHashTable[K any, V any](pool buffer.Pool, keyCodec Codec[K], valCodec Codec[V]) (*ExtendibleHashTable[K, V], error) {
	dirRaw, err := pool.NewPage()
	if err != nil {
		return nil, err
	}
	dir := &directoryPage{raw: dirRaw}
	dir.init(dirRaw.GetPageId())

	bucketRaw, err := pool.NewPage()
	if err != nil {
		pool.Unpin(dirRaw.GetPageId(), false)
		return nil, err
	}

	// a zeroed page is a valid empty bucket, only the directory entry needs setting
	dir.SetLocalDepth(0, 0)
	dir.SetBucketPageId(0, bucketRaw.GetPageId())

	h := &ExtendibleHashTable[K, V]{
		pool:      pool,
		dirPageId: dirRaw.GetPageId(),
		keyCodec:  keyCodec,
		valCodec:  valCodec,
	}

	pool.Unpin(bucketRaw.GetPageId(), true)
	pool.Unpin(dirRaw.GetPageId(), true)
	return h, nil
}

func (h *ExtendibleHashTable[K, V]) hash(key K) uint32 {
	buf := make([]byte, h.keyCodec.Size())
	h.keyCodec.Encode(buf, key)
	return uint32(xxhash.Sum64(buf))
}

func (h *ExtendibleHashTable[K, V]) keyToDirectoryIndex(key K, dir *directoryPage) uint32 {
	return h.hash(key) & dir.GetGlobalDepthMask()
}

func (h *ExtendibleHashTable[K, V]) fetchDirectory() (*directoryPage, error) {
	raw, err := h.pool.GetPage(h.dirPageId)
	if err != nil {
		return nil, err
	}
	return &directoryPage{raw: raw}, nil
}

func (h *ExtendibleHashTable[K, V]) bucketFromRaw(raw *pages.RawPage) *bucketPage[K, V] {
	return newBucketPage[K, V](raw, h.keyCodec, h.valCodec)
}

// GetValue returns every value stored under key.
func (h *ExtendibleHashTable[K, V]) GetValue(key K) ([]V, error) {
	h.tableLatch.RLock()
	defer h.tableLatch.RUnlock()

	dir, err := h.fetchDirectory()
	if err != nil {
		return nil, err
	}

	bucketPageId := dir.GetBucketPageId(h.keyToDirectoryIndex(key, dir))
	raw, err := h.pool.GetPage(bucketPageId)
	if err != nil {
		h.pool.Unpin(h.dirPageId, false)
		return nil, err
	}

	raw.RLatch()
	result := h.bucketFromRaw(raw).GetValue(key)
	raw.RUnLatch()

	h.pool.Unpin(bucketPageId, false)
	h.pool.Unpin(h.dirPageId, false)
	return result, nil
}

// Insert adds the pair to the table. Pairs form a set: inserting an existing (key, value) pair
// returns false, while distinct values under one key accumulate.
func (h *ExtendibleHashTable[K, V]) Insert(key K, value V) (bool, error) {
	h.tableLatch.RLock()

	dir, err := h.fetchDirectory()
	if err != nil {
		h.tableLatch.RUnlock()
		return false, err
	}

	bucketPageId := dir.GetBucketPageId(h.keyToDirectoryIndex(key, dir))
	raw, err := h.pool.GetPage(bucketPageId)
	if err != nil {
		h.pool.Unpin(h.dirPageId, false)
		h.tableLatch.RUnlock()
		return false, err
	}

	raw.WLatch()
	bucket := h.bucketFromRaw(raw)

	if !bucket.IsFull() {
		ok := bucket.Insert(key, value)
		raw.WUnlatch()
		h.tableLatch.RUnlock()
		h.pool.Unpin(bucketPageId, ok)
		h.pool.Unpin(h.dirPageId, false)
		return ok, nil
	}

	// the bucket is full. a duplicate pair is rejected without splitting.
	if bucket.Contains(key, value) {
		raw.WUnlatch()
		h.tableLatch.RUnlock()
		h.pool.Unpin(bucketPageId, false)
		h.pool.Unpin(h.dirPageId, false)
		return false, nil
	}

	raw.WUnlatch()
	h.tableLatch.RUnlock()
	h.pool.Unpin(bucketPageId, false)
	h.pool.Unpin(h.dirPageId, false)

	return h.splitInsert(key, value)
}

// splitInsert retries the insert under the write locked table, splitting the target bucket and
// doubling the directory as needed until the pair finds room.
func (h *ExtendibleHashTable[K, V]) splitInsert(key K, value V) (bool, error) {
	h.tableLatch.Lock()
	defer h.tableLatch.Unlock()

	dir, err := h.fetchDirectory()
	if err != nil {
		return false, err
	}

	oldIndex := h.keyToDirectoryIndex(key, dir)
	oldPageId := dir.GetBucketPageId(oldIndex)
	rawOld, err := h.pool.GetPage(oldPageId)
	if err != nil {
		h.pool.Unpin(h.dirPageId, false)
		return false, err
	}
	rawOld.WLatch()
	oldBucket := h.bucketFromRaw(rawOld)

	// re-check under the write locked table: a concurrent split may have made room, or raced
	// this pair in.
	if !oldBucket.IsFull() {
		ok := oldBucket.Insert(key, value)
		rawOld.WUnlatch()
		h.pool.Unpin(oldPageId, ok)
		h.pool.Unpin(h.dirPageId, false)
		return ok, nil
	}
	if oldBucket.Contains(key, value) {
		rawOld.WUnlatch()
		h.pool.Unpin(oldPageId, false)
		h.pool.Unpin(h.dirPageId, false)
		return false, nil
	}

	dirDirty := false
	for {
		if dir.GetLocalDepth(oldIndex) >= dir.GetGlobalDepth() {
			if dir.GetGlobalDepth() >= MaxDepth {
				rawOld.WUnlatch()
				h.pool.Unpin(oldPageId, false)
				h.pool.Unpin(h.dirPageId, dirDirty)
				return false, ErrDepthExceeded
			}

			// double the directory by mirroring the live half into the new half
			prevSize := dir.Size()
			dir.IncrGlobalDepth()
			for i := prevSize; i < dir.Size(); i++ {
				dir.SetLocalDepth(i, dir.GetLocalDepth(i-prevSize))
				dir.SetBucketPageId(i, dir.GetBucketPageId(i-prevSize))
			}
			dirDirty = true
		}

		rawNew, err := h.pool.NewPage()
		if err != nil {
			rawOld.WUnlatch()
			h.pool.Unpin(oldPageId, false)
			h.pool.Unpin(h.dirPageId, dirDirty)
			return false, err
		}
		rawNew.WLatch()
		newBucket := h.bucketFromRaw(rawNew)
		newPageId := rawNew.GetPageId()

		// the split image differs from oldIndex exactly in the bit that the deeper local
		// depth brings into play
		splitIndex := oldIndex ^ (1 << dir.GetLocalDepth(oldIndex))
		dir.IncrLocalDepth(oldIndex)
		mask := dir.GetLocalDepthMask(oldIndex)
		for i := uint32(0); i < dir.Size(); i++ {
			if i&mask == oldIndex&mask && i != oldIndex {
				dir.IncrLocalDepth(i)
			}
			if i&mask == splitIndex&mask {
				dir.IncrLocalDepth(i)
				dir.SetBucketPageId(i, newPageId)
			}
		}
		dirDirty = true

		// move entries whose low bits now select the split image
		for i := 0; i < oldBucket.Capacity(); i++ {
			if !oldBucket.IsReadable(i) {
				continue
			}
			slotKey := oldBucket.KeyAt(i)
			if h.hash(slotKey)&mask == splitIndex&mask {
				slotValue := oldBucket.ValueAt(i)
				oldBucket.RemoveAt(i)
				newBucket.Insert(slotKey, slotValue)
			}
		}

		newIndex := h.keyToDirectoryIndex(key, dir)
		var insertBucket *bucketPage[K, V]
		var insertRaw *pages.RawPage
		if dir.GetBucketPageId(newIndex) == oldPageId {
			insertBucket, insertRaw = oldBucket, rawOld
			rawNew.WUnlatch()
			h.pool.Unpin(newPageId, true)
		} else {
			insertBucket, insertRaw = newBucket, rawNew
			rawOld.WUnlatch()
			h.pool.Unpin(oldPageId, true)
		}

		if !insertBucket.IsFull() {
			ok := insertBucket.Insert(key, value)
			insertRaw.WUnlatch()
			h.pool.Unpin(insertRaw.GetPageId(), true)
			h.pool.Unpin(h.dirPageId, true)
			return ok, nil
		}

		// the split moved every pair to one side, keep splitting the bucket that should
		// take the new pair
		oldBucket, rawOld = insertBucket, insertRaw
		oldPageId = insertRaw.GetPageId()
		oldIndex = newIndex
	}
}

// Remove unsets the first slot holding the exact pair. Emptying a bucket triggers a merge with
// its image when their local depths agree.
func (h *ExtendibleHashTable[K, V]) Remove(key K, value V) (bool, error) {
	h.tableLatch.RLock()

	dir, err := h.fetchDirectory()
	if err != nil {
		h.tableLatch.RUnlock()
		return false, err
	}

	bucketIndex := h.keyToDirectoryIndex(key, dir)
	bucketPageId := dir.GetBucketPageId(bucketIndex)
	raw, err := h.pool.GetPage(bucketPageId)
	if err != nil {
		h.pool.Unpin(h.dirPageId, false)
		h.tableLatch.RUnlock()
		return false, err
	}

	raw.WLatch()
	bucket := h.bucketFromRaw(raw)
	removed := bucket.Remove(key, value)

	needMerge := false
	if bucket.IsEmpty() && dir.GetGlobalDepth() > 0 && dir.GetLocalDepth(bucketIndex) > 0 {
		mergeIndex := dir.GetMergeImageIndex(bucketIndex)
		if dir.GetLocalDepth(mergeIndex) == dir.GetLocalDepth(bucketIndex) {
			needMerge = true
		}
	}

	raw.WUnlatch()
	h.tableLatch.RUnlock()
	h.pool.Unpin(bucketPageId, removed)
	h.pool.Unpin(h.dirPageId, false)

	if needMerge {
		if err := h.merge(key); err != nil {
			return removed, err
		}
	}

	return removed, nil
}

// merge folds the key's empty bucket into its image, shrinking the directory when possible, and
// keeps cascading until the preconditions no longer hold. Each round re-validates everything
// under the write locked table because the world may have changed since Remove peeked.
func (h *ExtendibleHashTable[K, V]) merge(key K) error {
	for {
		h.tableLatch.Lock()

		dir, err := h.fetchDirectory()
		if err != nil {
			h.tableLatch.Unlock()
			return err
		}

		bucketIndex := h.keyToDirectoryIndex(key, dir)
		bucketPageId := dir.GetBucketPageId(bucketIndex)
		raw, err := h.pool.GetPage(bucketPageId)
		if err != nil {
			h.pool.Unpin(h.dirPageId, false)
			h.tableLatch.Unlock()
			return err
		}

		raw.RLatch()
		empty := h.bucketFromRaw(raw).IsEmpty()
		raw.RUnLatch()
		h.pool.Unpin(bucketPageId, false)

		if !empty || dir.GetGlobalDepth() == 0 || dir.GetLocalDepth(bucketIndex) == 0 {
			h.pool.Unpin(h.dirPageId, false)
			h.tableLatch.Unlock()
			return nil
		}

		mergeIndex := dir.GetMergeImageIndex(bucketIndex)
		mergePageId := dir.GetBucketPageId(mergeIndex)
		if dir.GetLocalDepth(mergeIndex) != dir.GetLocalDepth(bucketIndex) || bucketPageId == mergePageId {
			h.pool.Unpin(h.dirPageId, false)
			h.tableLatch.Unlock()
			return nil
		}

		dir.DecrLocalDepth(bucketIndex)
		dir.DecrLocalDepth(mergeIndex)
		for i := uint32(0); i < dir.Size(); i++ {
			if dir.GetBucketPageId(i) == bucketPageId {
				dir.SetBucketPageId(i, mergePageId)
				dir.SetLocalDepth(i, dir.GetLocalDepth(mergeIndex))
			} else if dir.GetBucketPageId(i) == mergePageId && i != mergeIndex {
				dir.DecrLocalDepth(i)
			}
		}

		if dir.CanShrink() {
			dir.DecrGlobalDepth()
		}

		h.pool.Unpin(h.dirPageId, true)
		h.pool.DeletePage(bucketPageId)
		h.tableLatch.Unlock()
	}
}

// GetGlobalDepth returns the number of low order hash bits used for directory indexing.
func (h *ExtendibleHashTable[K, V]) GetGlobalDepth() uint32 {
	h.tableLatch.RLock()
	defer h.tableLatch.RUnlock()

	dir, err := h.fetchDirectory()
	common.PanicIfErr(err)
	depth := dir.GetGlobalDepth()
	h.pool.Unpin(h.dirPageId, false)
	return depth
}

// VerifyIntegrity checks the directory invariants and returns the first violation found.
func (h *ExtendibleHashTable[K, V]) VerifyIntegrity() error {
	h.tableLatch.RLock()
	defer h.tableLatch.RUnlock()

	dir, err := h.fetchDirectory()
	if err != nil {
		return err
	}
	defer h.pool.Unpin(h.dirPageId, false)

	return dir.VerifyIntegrity()
}
