// Package session holds challenge-issued session tokens and their expiry.
//
// Stores never evict on their own: an entry may be logically expired and
// the caller is responsible for comparing the expiry with the current time
// and deleting stale tokens.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store maps opaque session tokens to absolute expiry instants. Every
// implementation must be safe for concurrent use.
type Store interface {
	Set(ctx context.Context, token string, expiresAt time.Time) error
	Get(ctx context.Context, token string) (time.Time, bool, error)
	Contains(ctx context.Context, token string) (bool, error)
	Delete(ctx context.Context, token string) error
}

// Counter is implemented by stores that can report how many tokens they
// hold, expired or not.
type Counter interface {
	Count(ctx context.Context) (int, error)
}

// NewToken returns a fresh random session token.
func NewToken() string {
	return uuid.NewString()
}

// MemoryStore is an in-process [Store] guarded by a single RWMutex.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]time.Time
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]time.Time)}
}

func (s *MemoryStore) Set(_ context.Context, token string, expiresAt time.Time) error {
	s.mu.Lock()
	s.entries[token] = expiresAt.UTC()
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, token string) (time.Time, bool, error) {
	s.mu.RLock()
	exp, ok := s.entries[token]
	s.mu.RUnlock()
	return exp, ok, nil
}

func (s *MemoryStore) Contains(_ context.Context, token string) (bool, error) {
	s.mu.RLock()
	_, ok := s.entries[token]
	s.mu.RUnlock()
	return ok, nil
}

func (s *MemoryStore) Delete(_ context.Context, token string) error {
	s.mu.Lock()
	delete(s.entries, token)
	s.mu.Unlock()
	return nil
}

// Count returns the number of stored entries, expired or not.
func (s *MemoryStore) Count(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries), nil
}
