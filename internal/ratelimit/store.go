package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Store counts hits in fixed windows. Hit must increment and report the new
// count atomically for its key.
type Store interface {
	Hit(ctx context.Context, key string, period time.Duration) (count int64, resetIn time.Duration, err error)
	Sweep(ctx context.Context) (int, error)
}

type window struct {
	start  time.Time
	period time.Duration
	count  int64
}

type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string]*window), now: time.Now}
}

// Hit starts a new window when none exists or the current one is older than
// period.
func (s *MemoryStore) Hit(_ context.Context, key string, period time.Duration) (int64, time.Duration, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok || now.Sub(w.start) > period {
		w = &window{start: now, period: period}
		s.windows[key] = w
	}
	w.count++

	return w.count, w.start.Add(period).Sub(now), nil
}

func (s *MemoryStore) Sweep(context.Context) (int, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, w := range s.windows {
		if now.Sub(w.start) > w.period {
			delete(s.windows, key)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}
