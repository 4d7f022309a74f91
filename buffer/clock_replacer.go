package buffer

import (
	"sync"
)

// ClockReplacer is an approximation of lru that avoids list maintenance. Each candidate carries
// a reference bit, the clock hand sweeps candidates and evicts the first one whose bit is unset,
// clearing bits as it passes.
type ClockReplacer struct {
	refBit    []bool
	candidate []bool
	hand      int
	size      int
	lock      sync.Mutex
}

var _ IReplacer = &ClockReplacer{}

func NewClockReplacer(poolSize int) *ClockReplacer {
	return &ClockReplacer{
		refBit:    make([]bool, poolSize),
		candidate: make([]bool, poolSize),
	}
}

func (c *ClockReplacer) Pin(frameId int) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.candidate[frameId] {
		c.candidate[frameId] = false
		c.size--
	}
}

func (c *ClockReplacer) Unpin(frameId int) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.candidate[frameId] {
		return
	}

	c.candidate[frameId] = true
	c.refBit[frameId] = true
	c.size++
}

func (c *ClockReplacer) ChooseVictim() (int, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.size == 0 {
		return 0, ErrNoVictim
	}

	for {
		if c.candidate[c.hand] {
			if c.refBit[c.hand] {
				c.refBit[c.hand] = false
			} else {
				victim := c.hand
				c.candidate[victim] = false
				c.size--
				c.hand = (c.hand + 1) % len(c.candidate)
				return victim, nil
			}
		}
		c.hand = (c.hand + 1) % len(c.candidate)
	}
}

func (c *ClockReplacer) GetSize() int {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.size
}
