package cache

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryStore is an in-process Store. Expired entries are hidden from Get
// immediately and reclaimed by Purge.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     Clock
}

// MemoryOption configures a MemoryStore
type MemoryOption func(*MemoryStore)

// WithMemoryClock overrides the time source used for expiry
func WithMemoryClock(clock Clock) MemoryOption {
	return func(s *MemoryStore) {
		s.now = clock
	}
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[key]
	if !ok || !s.now().Before(entry.expiresAt) {
		return nil, false, nil
	}
	return cloneBytes(entry.value), true, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = memoryEntry{
		value:     cloneBytes(value),
		expiresAt: s.now().Add(ttl),
	}
	return nil
}

// Purge removes expired entries and returns how many were dropped
func (s *MemoryStore) Purge(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, entry := range s.entries {
		if !now.Before(entry.expiresAt) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of stored entries, including expired ones not yet purged
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *MemoryStore) Close() error {
	return nil
}
