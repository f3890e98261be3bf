package session

import (
	"context"
	"sync"
	"time"

	"intake/internal/auth/models"
	id "intake/pkg/domain"
	"intake/pkg/platform/sentinel"
)

// InMemorySessionStore keeps copies of sessions so callers cannot mutate
// stored state without going through Execute.
type InMemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[id.SessionID]models.Session
}

func New() *InMemorySessionStore {
	return &InMemorySessionStore{sessions: make(map[id.SessionID]models.Session)}
}

func (s *InMemorySessionStore) Create(_ context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = *session
	return nil
}

func (s *InMemorySessionStore) FindByID(_ context.Context, sessionID id.SessionID) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &sess, nil
}

func (s *InMemorySessionStore) ListByUser(_ context.Context, userID id.UserID) ([]*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Session
	for _, sess := range s.sessions {
		if sess.UserID == userID {
			c := sess
			out = append(out, &c)
		}
	}
	return out, nil
}

// Execute runs validate then mutate on the stored session under the write lock.
// A validate error leaves the session untouched.
func (s *InMemorySessionStore) Execute(_ context.Context, sessionID id.SessionID, validate func(*models.Session) error, mutate func(*models.Session)) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if err := validate(&sess); err != nil {
		return nil, err
	}
	mutate(&sess)
	s.sessions[sessionID] = sess
	out := sess
	return &out, nil
}

func (s *InMemorySessionStore) RevokeSessionIfActive(ctx context.Context, sessionID id.SessionID, now time.Time, reason models.RevocationReason) error {
	_, err := s.Execute(ctx, sessionID,
		func(sess *models.Session) error {
			if sess.CanRevoke() != nil {
				return ErrSessionRevoked
			}
			return nil
		},
		func(sess *models.Session) {
			sess.ApplyRevocation(now, reason)
		},
	)
	return err
}

// DeleteExpired removes sessions whose expiry is before now.
func (s *InMemorySessionStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for k, sess := range s.sessions {
		if now.After(sess.ExpiresAt) {
			delete(s.sessions, k)
			removed++
		}
	}
	return removed, nil
}
