package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	authmodels "intake/internal/auth/models"
	id "intake/pkg/domain"
	dErrors "intake/pkg/domain-errors"
	"intake/pkg/platform/audit"
	"intake/pkg/platform/audit/publisher"
	auditmemory "intake/pkg/platform/audit/store/memory"
)

type stubSignOuter struct {
	userID id.UserID
	err    error
	calls  []authmodels.RevocationReason
}

func (s *stubSignOuter) SignOut(_ context.Context, sessionID id.SessionID, reason authmodels.RevocationReason) (*authmodels.Session, error) {
	s.calls = append(s.calls, reason)
	if s.err != nil {
		return nil, s.err
	}
	return &authmodels.Session{ID: sessionID, UserID: s.userID, Status: authmodels.SessionStatusRevoked}, nil
}

type stubPurger struct {
	owners []id.UserID
	err    error
}

func (p *stubPurger) PurgeOwner(_ context.Context, owner id.UserID) (int, error) {
	p.owners = append(p.owners, owner)
	return 2, p.err
}

func newTerminator(signOut SignOuter, purger DraftPurger) (*SessionTerminator, *auditmemory.InMemoryStore) {
	store := auditmemory.NewInMemoryStore()
	t := NewSessionTerminator(signOut,
		WithDraftPurger(purger),
		WithTerminatorAuditor(publisher.NewPublisher(store)),
		WithTerminatorLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	return t, store
}

func TestSessionTerminator(t *testing.T) {
	ctx := context.Background()

	t.Run("signs out and purges the agent's drafts", func(t *testing.T) {
		signOut := &stubSignOuter{userID: id.NewUserID()}
		purger := &stubPurger{}
		term, store := newTerminator(signOut, purger)

		require.NoError(t, term.Terminate(ctx, signOut.userID, id.NewSessionID(), authmodels.RevocationReasonInactivity))

		assert.Equal(t, []authmodels.RevocationReason{authmodels.RevocationReasonInactivity}, signOut.calls)
		assert.Equal(t, []id.UserID{signOut.userID}, purger.owners)
		events, err := store.ListByAction(ctx, audit.EventSuspiciousActivity)
		require.NoError(t, err)
		assert.Empty(t, events)
	})

	t.Run("suspicious activity is audited as critical", func(t *testing.T) {
		signOut := &stubSignOuter{userID: id.NewUserID()}
		term, store := newTerminator(signOut, &stubPurger{})
		sessionID := id.NewSessionID()

		require.NoError(t, term.Terminate(ctx, signOut.userID, sessionID, authmodels.RevocationReasonSuspiciousActivity))

		events, err := store.ListByAction(ctx, audit.EventSuspiciousActivity)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, audit.SeverityCritical, events[0].Severity)
		assert.Equal(t, sessionID.String(), events[0].SessionID)
		assert.Equal(t, audit.CategorySecurity, events[0].Category)
	})

	t.Run("unknown session is not an error", func(t *testing.T) {
		owner := id.NewUserID()
		signOut := &stubSignOuter{err: dErrors.New(dErrors.CodeNotFound, "session not found")}
		purger := &stubPurger{}
		term, _ := newTerminator(signOut, purger)

		require.NoError(t, term.Terminate(ctx, owner, id.NewSessionID(), authmodels.RevocationReasonManual))
		assert.Equal(t, []id.UserID{owner}, purger.owners)
	})

	t.Run("sign-out failure is returned after purging and auditing", func(t *testing.T) {
		owner := id.NewUserID()
		signOut := &stubSignOuter{err: errors.New("store down")}
		purger := &stubPurger{}
		term, store := newTerminator(signOut, purger)
		sessionID := id.NewSessionID()

		err := term.Terminate(ctx, owner, sessionID, authmodels.RevocationReasonSuspiciousActivity)
		require.Error(t, err)
		assert.Equal(t, []id.UserID{owner}, purger.owners)

		events, lerr := store.ListByAction(ctx, audit.EventSuspiciousActivity)
		require.NoError(t, lerr)
		require.Len(t, events, 1)
		assert.Equal(t, owner, events[0].UserID)
		assert.Equal(t, sessionID.String(), events[0].SessionID)
	})

	t.Run("purge failure does not block logout", func(t *testing.T) {
		signOut := &stubSignOuter{userID: id.NewUserID()}
		term, _ := newTerminator(signOut, &stubPurger{err: errors.New("redis down")})

		require.NoError(t, term.Terminate(ctx, signOut.userID, id.NewSessionID(), authmodels.RevocationReasonOffline))
	})
}
