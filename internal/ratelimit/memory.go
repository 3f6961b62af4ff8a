package ratelimit

import (
	"context"
	"sync"
	"time"
)

type counter struct {
	n       int
	expires time.Time
}

// MemoryStore keeps counters in process. Expired windows are swept lazily.
type MemoryStore struct {
	mu      sync.Mutex
	m       map[string]*counter
	now     func() time.Time
	ops     int
	sweepAt int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{m: map[string]*counter{}, now: time.Now, sweepAt: 1024}
}

func (s *MemoryStore) Take(_ context.Context, key string, quota int, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.ops++
	if s.ops >= s.sweepAt {
		s.ops = 0
		for k, c := range s.m {
			if !now.Before(c.expires) {
				delete(s.m, k)
			}
		}
	}

	c, ok := s.m[key]
	if !ok || !now.Before(c.expires) {
		c = &counter{expires: now.Add(ttl)}
		s.m[key] = c
	}
	if c.n >= quota {
		return false, nil
	}
	c.n++
	return true, nil
}

func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}
