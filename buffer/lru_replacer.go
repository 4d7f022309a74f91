package buffer

import (
	"container/list"
	"errors"
	"sync"
)

var ErrNoVictim = errors.New("nothing is unpinned")

// LruReplacer keeps victim candidates ordered by recency of their unpin. The least recently
// unpinned frame is chosen as victim. A frame becomes a candidate only on a pin to unpin
// transition, re-unpinning a tracked frame does not refresh its position.
type LruReplacer struct {
	frames   *list.List
	frameMap map[int]*list.Element
	capacity int
	lock     sync.Mutex
}

var _ IReplacer = &LruReplacer{}

func NewLruReplacer(poolSize int) *LruReplacer {
	return &LruReplacer{
		frames:   list.New(),
		frameMap: make(map[int]*list.Element),
		capacity: poolSize,
		lock:     sync.Mutex{},
	}
}

func (l *LruReplacer) Pin(frameId int) {
	l.lock.Lock()
	defer l.lock.Unlock()

	if e, ok := l.frameMap[frameId]; ok {
		l.frames.Remove(e)
		delete(l.frameMap, frameId)
	}
}

func (l *LruReplacer) Unpin(frameId int) {
	l.lock.Lock()
	defer l.lock.Unlock()

	if l.frames.Len() >= l.capacity {
		return
	}
	if _, ok := l.frameMap[frameId]; ok {
		return
	}

	l.frameMap[frameId] = l.frames.PushFront(frameId)
}

func (l *LruReplacer) ChooseVictim() (int, error) {
	l.lock.Lock()
	defer l.lock.Unlock()

	back := l.frames.Back()
	if back == nil {
		return 0, ErrNoVictim
	}

	frameId := back.Value.(int)
	l.frames.Remove(back)
	delete(l.frameMap, frameId)
	return frameId, nil
}

func (l *LruReplacer) GetSize() int {
	l.lock.Lock()
	defer l.lock.Unlock()

	return l.frames.Len()
}
