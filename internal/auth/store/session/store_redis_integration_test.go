//go:build integration

package session_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"intake/internal/auth/models"
	"intake/internal/auth/store/session"
	id "intake/pkg/domain"
	"intake/pkg/testutil/containers"
)

type RedisStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *session.RedisStore
}

func TestRedisStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.redis = mgr.GetRedis(s.T())
	s.store = session.NewRedis(s.redis.Client)
}

func (s *RedisStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func makeSession(userID id.UserID) *models.Session {
	return &models.Session{
		ID:                 id.SessionID(uuid.New()),
		UserID:             userID,
		Status:             models.SessionStatusActive,
		LastAccessTokenJTI: uuid.NewString(),
		DeviceDisplayName:  "Test Device",
		CreatedAt:          time.Now(),
		ExpiresAt:          time.Now().Add(24 * time.Hour),
		LastSeenAt:         time.Now(),
	}
}

// Concurrent revocations of one session: exactly one wins.
func (s *RedisStoreSuite) TestWATCHConflictDetection() {
	ctx := context.Background()
	sess := makeSession(id.UserID(uuid.New()))
	s.Require().NoError(s.store.Create(ctx, sess))

	const goroutines = 20
	var wg sync.WaitGroup
	var successCount, loserCount, otherErrors atomic.Int32

	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.store.RevokeSessionIfActive(ctx, sess.ID, time.Now(), models.RevocationReasonSuspiciousActivity)
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, redis.TxFailedErr), errors.Is(err, session.ErrSessionRevoked):
				loserCount.Add(1)
			default:
				otherErrors.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), successCount.Load(), "exactly one revoke should succeed")
	s.Equal(int32(goroutines-1), loserCount.Load())
	s.Equal(int32(0), otherErrors.Load())
}

func (s *RedisStoreSuite) TestTTLPreservation() {
	ctx := context.Background()
	sess := makeSession(id.UserID(uuid.New()))
	sess.ExpiresAt = time.Now().Add(time.Hour)
	s.Require().NoError(s.store.Create(ctx, sess))

	key := "session:" + sess.ID.String()
	initialTTL, err := s.redis.Client.TTL(ctx, key).Result()
	s.Require().NoError(err)

	_, err = s.store.Execute(ctx, sess.ID,
		func(*models.Session) error { return nil },
		func(session *models.Session) { session.LastAccessTokenJTI = "updated-jti" },
	)
	s.Require().NoError(err)

	newTTL, err := s.redis.Client.TTL(ctx, key).Result()
	s.Require().NoError(err)
	s.InDelta(initialTTL.Seconds(), newTTL.Seconds(), 5.0, "TTL should be preserved")
}

func (s *RedisStoreSuite) TestListByUserUnderConcurrentCreation() {
	ctx := context.Background()
	userID := id.UserID(uuid.New())

	const goroutines = 25
	var wg sync.WaitGroup
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.NoError(s.store.Create(ctx, makeSession(userID)))
		}()
	}
	wg.Wait()

	sessions, err := s.store.ListByUser(ctx, userID)
	s.Require().NoError(err)
	s.Len(sessions, goroutines)
}
