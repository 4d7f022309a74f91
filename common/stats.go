package common

import (
	"sync"
)

// Stats is a set of named counters. The buffer pool uses it to track cache
// hits, misses and evictions.
type Stats struct {
	counts map[string]int64
	mu     sync.Mutex
}

func NewStats() *Stats {
	return &Stats{
		counts: map[string]int64{},
		mu:     sync.Mutex{},
	}
}

func (s *Stats) Incr(key string) {
	s.mu.Lock()
	s.counts[key]++
	s.mu.Unlock()
}

func (s *Stats) Get(key string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[key]
}
