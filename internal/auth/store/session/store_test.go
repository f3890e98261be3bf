package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"intake/internal/auth/models"
	id "intake/pkg/domain"
	"intake/pkg/platform/sentinel"
)

type store interface {
	Create(ctx context.Context, session *models.Session) error
	FindByID(ctx context.Context, sessionID id.SessionID) (*models.Session, error)
	ListByUser(ctx context.Context, userID id.UserID) ([]*models.Session, error)
	Execute(ctx context.Context, sessionID id.SessionID, validate func(*models.Session) error, mutate func(*models.Session)) (*models.Session, error)
	RevokeSessionIfActive(ctx context.Context, sessionID id.SessionID, now time.Time, reason models.RevocationReason) error
}

// SessionStoreSuite runs the same contract against both implementations.
type SessionStoreSuite struct {
	suite.Suite
	newStore func() store
	store    store
}

func (s *SessionStoreSuite) SetupTest() {
	s.store = s.newStore()
}

func TestInMemorySessionStore(t *testing.T) {
	suite.Run(t, &SessionStoreSuite{newStore: func() store { return New() }})
}

func TestRedisSessionStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	suite.Run(t, &SessionStoreSuite{newStore: func() store {
		mr.FlushAll()
		return NewRedis(client)
	}})
}

func makeSession(userID id.UserID) *models.Session {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &models.Session{
		ID:                 id.SessionID(uuid.New()),
		UserID:             userID,
		Status:             models.SessionStatusActive,
		LastAccessTokenJTI: uuid.NewString(),
		DeviceDisplayName:  "Chrome on macOS",
		CreatedAt:          now,
		ExpiresAt:          now.Add(time.Hour),
		LastSeenAt:         now,
	}
}

func (s *SessionStoreSuite) TestSessionLookup() {
	s.Run("returns stored session when found", func() {
		session := makeSession(id.UserID(uuid.New()))
		s.Require().NoError(s.store.Create(context.Background(), session))

		found, err := s.store.FindByID(context.Background(), session.ID)
		s.Require().NoError(err)
		s.Equal(session.ID, found.ID)
		s.Equal(session.UserID, found.UserID)
		s.Equal(session.LastAccessTokenJTI, found.LastAccessTokenJTI)
		s.True(session.ExpiresAt.Equal(found.ExpiresAt))
	})

	s.Run("returns ErrNotFound when session does not exist", func() {
		_, err := s.store.FindByID(context.Background(), id.SessionID(uuid.New()))
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("lists only the user's sessions", func() {
		userID := id.UserID(uuid.New())
		s.Require().NoError(s.store.Create(context.Background(), makeSession(userID)))
		s.Require().NoError(s.store.Create(context.Background(), makeSession(userID)))
		s.Require().NoError(s.store.Create(context.Background(), makeSession(id.UserID(uuid.New()))))

		sessions, err := s.store.ListByUser(context.Background(), userID)
		s.Require().NoError(err)
		s.Len(sessions, 2)
	})
}

func (s *SessionStoreSuite) TestExecute() {
	s.Run("validation error leaves session unchanged", func() {
		session := makeSession(id.UserID(uuid.New()))
		original := session.LastAccessTokenJTI
		s.Require().NoError(s.store.Create(context.Background(), session))

		_, err := s.store.Execute(context.Background(), session.ID,
			func(*models.Session) error { return sentinel.ErrInvalidState },
			func(sess *models.Session) { sess.LastAccessTokenJTI = "should-not-persist" },
		)
		s.Require().ErrorIs(err, sentinel.ErrInvalidState)

		found, err := s.store.FindByID(context.Background(), session.ID)
		s.Require().NoError(err)
		s.Equal(original, found.LastAccessTokenJTI)
	})

	s.Run("mutation is persisted and returned", func() {
		session := makeSession(id.UserID(uuid.New()))
		s.Require().NoError(s.store.Create(context.Background(), session))

		updated, err := s.store.Execute(context.Background(), session.ID,
			func(*models.Session) error { return nil },
			func(sess *models.Session) { sess.LastAccessTokenJTI = "rotated" },
		)
		s.Require().NoError(err)
		s.Equal("rotated", updated.LastAccessTokenJTI)

		found, err := s.store.FindByID(context.Background(), session.ID)
		s.Require().NoError(err)
		s.Equal("rotated", found.LastAccessTokenJTI)
	})

	s.Run("missing session returns ErrNotFound", func() {
		_, err := s.store.Execute(context.Background(), id.SessionID(uuid.New()),
			func(*models.Session) error { return nil },
			func(*models.Session) {},
		)
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *SessionStoreSuite) TestSessionRevocation() {
	s.Run("revokes active session and sets RevokedAt timestamp", func() {
		session := makeSession(id.UserID(uuid.New()))
		s.Require().NoError(s.store.Create(context.Background(), session))

		err := s.store.RevokeSessionIfActive(context.Background(), session.ID, time.Now(), models.RevocationReasonInactivity)
		s.Require().NoError(err)

		found, err := s.store.FindByID(context.Background(), session.ID)
		s.Require().NoError(err)
		s.Equal(models.SessionStatusRevoked, found.Status)
		s.Equal(models.RevocationReasonInactivity, found.RevocationReason)
		s.Require().NotNil(found.RevokedAt)
	})

	s.Run("revoking already-revoked session returns ErrSessionRevoked", func() {
		session := makeSession(id.UserID(uuid.New()))
		s.Require().NoError(s.store.Create(context.Background(), session))
		s.Require().NoError(s.store.RevokeSessionIfActive(context.Background(), session.ID, time.Now(), models.RevocationReasonManual))

		err := s.store.RevokeSessionIfActive(context.Background(), session.ID, time.Now(), models.RevocationReasonManual)
		s.Require().ErrorIs(err, ErrSessionRevoked)
	})

	s.Run("revoking non-existent session returns ErrNotFound", func() {
		err := s.store.RevokeSessionIfActive(context.Background(), id.SessionID(uuid.New()), time.Now(), models.RevocationReasonManual)
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})
}

func TestRedisStore_PreservesTTLOnExecute(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	store := NewRedis(client)

	session := makeSession(id.UserID(uuid.New()))
	ctx := context.Background()
	if err := store.Create(ctx, session); err != nil {
		t.Fatalf("create: %v", err)
	}
	before := mr.TTL(sessionKey(session.ID))

	if err := store.RevokeSessionIfActive(ctx, session.ID, time.Now(), models.RevocationReasonOffline); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	after := mr.TTL(sessionKey(session.ID))
	if after <= 0 || after > before {
		t.Fatalf("expected TTL to be preserved, before=%s after=%s", before, after)
	}
}
