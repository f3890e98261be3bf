package store

import (
	"context"
	"sync"
	"time"

	"intake/internal/draft/models"
	id "intake/pkg/domain"
	"intake/pkg/platform/sentinel"
)

type memoryEntry struct {
	snapshot  models.Snapshot
	expiresAt time.Time
}

// InMemoryStore keeps deep-enough copies of snapshots so cache mutations never leak in.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries map[models.Key]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

type MemoryOption func(*InMemoryStore)

func WithMemoryTTL(ttl time.Duration) MemoryOption {
	return func(s *InMemoryStore) { s.ttl = ttlOrDefault(ttl) }
}

func WithMemoryNow(now func() time.Time) MemoryOption {
	return func(s *InMemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

func NewInMemory(opts ...MemoryOption) *InMemoryStore {
	s := &InMemoryStore{
		entries: make(map[models.Key]memoryEntry),
		ttl:     DefaultTTL,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *InMemoryStore) Load(_ context.Context, key models.Key) (*models.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	if !ok || !s.now().Before(e.expiresAt) {
		return nil, sentinel.ErrNotFound
	}
	snap := e.snapshot
	snap.Data = e.snapshot.Data.Clone()
	return &snap, nil
}

func (s *InMemoryStore) Save(_ context.Context, snap *models.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.entries[snap.Key]; ok && s.now().Before(cur.expiresAt) && cur.snapshot.SavedAt.After(snap.SavedAt) {
		return nil
	}
	stored := *snap
	stored.Data = snap.Data.Clone()
	s.entries[snap.Key] = memoryEntry{snapshot: stored, expiresAt: s.now().Add(s.ttl)}
	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, key models.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *InMemoryStore) DeleteOwner(_ context.Context, owner id.UserID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.entries {
		if k.OwnerID == owner {
			delete(s.entries, k)
			n++
		}
	}
	return n, nil
}
