package store

import (
	"context"
	"sort"
	"sync"

	"intake/internal/customer/models"
	id "intake/pkg/domain"
	"intake/pkg/platform/sentinel"
)

// InMemoryStore keeps submitted registrations per owner, newest last.
type InMemoryStore struct {
	mu      sync.RWMutex
	byOwner map[id.UserID][]models.Registration
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{byOwner: make(map[id.UserID][]models.Registration)}
}

func (s *InMemoryStore) Save(_ context.Context, reg *models.Registration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byOwner[reg.OwnerID] = append(s.byOwner[reg.OwnerID], *reg)
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, owner id.UserID, regID id.SubmissionID) (*models.Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.byOwner[owner] {
		if r.ID == regID {
			out := r
			return &out, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

// ListByOwner returns up to limit registrations, newest first.
func (s *InMemoryStore) ListByOwner(_ context.Context, owner id.UserID, limit int) ([]*models.Registration, error) {
	s.mu.RLock()
	regs := make([]*models.Registration, 0, len(s.byOwner[owner]))
	for _, r := range s.byOwner[owner] {
		out := r
		regs = append(regs, &out)
	}
	s.mu.RUnlock()

	sort.SliceStable(regs, func(i, j int) bool { return regs[i].CreatedAt.After(regs[j].CreatedAt) })
	if limit > 0 && len(regs) > limit {
		regs = regs[:limit]
	}
	return regs, nil
}
