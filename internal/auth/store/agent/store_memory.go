package agent

import (
	"context"
	"strings"
	"sync"

	"intake/internal/auth/models"
	id "intake/pkg/domain"
	"intake/pkg/platform/sentinel"
)

// InMemoryAgentStore keeps agents keyed by ID with a lowercase email index.
type InMemoryAgentStore struct {
	mu      sync.RWMutex
	agents  map[id.UserID]*models.Agent
	byEmail map[string]id.UserID
}

func New() *InMemoryAgentStore {
	return &InMemoryAgentStore{
		agents:  make(map[id.UserID]*models.Agent),
		byEmail: make(map[string]id.UserID),
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Save inserts or replaces an agent. A different agent already owning the
// email yields sentinel.ErrConflict.
func (s *InMemoryAgentStore) Save(_ context.Context, agent *models.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := normalizeEmail(agent.Email)
	if existing, ok := s.byEmail[key]; ok && existing != agent.ID {
		return sentinel.ErrConflict
	}
	if prev, ok := s.agents[agent.ID]; ok {
		delete(s.byEmail, normalizeEmail(prev.Email))
	}
	s.agents[agent.ID] = agent
	s.byEmail[key] = agent.ID
	return nil
}

func (s *InMemoryAgentStore) FindByID(_ context.Context, agentID id.UserID) (*models.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if a, ok := s.agents[agentID]; ok {
		return a, nil
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemoryAgentStore) FindByEmail(_ context.Context, email string) (*models.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	agentID, ok := s.byEmail[normalizeEmail(email)]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return s.agents[agentID], nil
}
