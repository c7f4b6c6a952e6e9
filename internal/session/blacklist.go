package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// Blacklist holds tokens invalidated before their natural expiry. Entries are
// keyed by token digest and carry the underlying token's expiry so they can
// be dropped once the token could no longer be accepted anyway.
type Blacklist interface {
	Add(ctx context.Context, token string, expiresAt time.Time) error
	Contains(ctx context.Context, token string) (bool, error)
	Sweep(ctx context.Context, now time.Time) (int, error)
}

func digest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

type blacklistEntry struct {
	addedAt   time.Time
	expiresAt time.Time
}

type MemoryBlacklist struct {
	mu      sync.RWMutex
	entries map[string]blacklistEntry
	now     func() time.Time
}

func NewMemoryBlacklist() *MemoryBlacklist {
	return &MemoryBlacklist{
		entries: make(map[string]blacklistEntry),
		now:     time.Now,
	}
}

func (b *MemoryBlacklist) Add(_ context.Context, token string, expiresAt time.Time) error {
	key := digest(token)

	b.mu.Lock()
	defer b.mu.Unlock()

	if existing, ok := b.entries[key]; ok && existing.expiresAt.After(expiresAt) {
		return nil
	}
	b.entries[key] = blacklistEntry{addedAt: b.now(), expiresAt: expiresAt}
	return nil
}

func (b *MemoryBlacklist) Contains(_ context.Context, token string) (bool, error) {
	key := digest(token)

	b.mu.RLock()
	defer b.mu.RUnlock()

	_, ok := b.entries[key]
	return ok, nil
}

func (b *MemoryBlacklist) Sweep(_ context.Context, now time.Time) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for key, entry := range b.entries {
		if !entry.expiresAt.After(now) {
			delete(b.entries, key)
			removed++
		}
	}
	return removed, nil
}

func (b *MemoryBlacklist) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}
