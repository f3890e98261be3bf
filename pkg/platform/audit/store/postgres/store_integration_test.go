//go:build integration

package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	platformpg "intake/internal/platform/postgres"
	id "intake/pkg/domain"
	audit "intake/pkg/platform/audit"
	auditpg "intake/pkg/platform/audit/store/postgres"
	"intake/pkg/testutil/containers"
)

type PostgresAuditStoreSuite struct {
	suite.Suite
	pg    *containers.PostgresContainer
	store *auditpg.Store
}

func TestPostgresAuditStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresAuditStoreSuite))
}

func (s *PostgresAuditStoreSuite) SetupSuite() {
	s.pg = containers.GetManager().GetPostgres(s.T())
	s.Require().NoError(platformpg.Migrate(context.Background(), s.pg.DB))
}

func (s *PostgresAuditStoreSuite) SetupTest() {
	s.pg.Exec(s.T(), "TRUNCATE audit_events")
	s.store = auditpg.New(s.pg.DB)
}

func (s *PostgresAuditStoreSuite) TestAppendAndListByUser() {
	ctx := context.Background()
	user := id.NewUserID()
	base := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

	s.Require().NoError(s.store.Append(ctx, audit.Event{
		Timestamp: base,
		UserID:    user,
		Action:    string(audit.EventLoginSucceeded),
		IP:        "10.0.0.1",
	}))
	s.Require().NoError(s.store.Append(ctx, audit.Event{
		Timestamp: base.Add(time.Minute),
		UserID:    user,
		SessionID: "sess-1",
		Action:    string(audit.EventSessionLoggedOut),
		Reason:    "inactivity",
		Severity:  audit.SeverityWarning,
	}))
	s.Require().NoError(s.store.Append(ctx, audit.Event{
		Timestamp: base,
		UserID:    id.NewUserID(),
		Action:    string(audit.EventLoginSucceeded),
	}))

	events, err := s.store.ListByUser(ctx, user)
	s.Require().NoError(err)
	s.Require().Len(events, 2)
	s.Equal(string(audit.EventSessionLoggedOut), events[0].Action)
	s.Equal(audit.CategorySecurity, events[0].Category)
	s.Equal("inactivity", events[0].Reason)
	s.Equal(audit.SeverityWarning, events[0].Severity)
	s.Equal(user, events[1].UserID)
	s.Equal("10.0.0.1", events[1].IP)
	s.Equal(audit.CategoryOperations, events[1].Category)
}

func (s *PostgresAuditStoreSuite) TestListByAction() {
	ctx := context.Background()
	s.Require().NoError(s.store.Append(ctx, audit.Event{
		Timestamp: time.Now().UTC(),
		Action:    string(audit.EventLoginFailed),
		Reason:    "invalid credentials",
	}))

	events, err := s.store.ListByAction(ctx, audit.EventLoginFailed)
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	s.True(events[0].UserID.IsNil())

	events, err = s.store.ListByAction(ctx, audit.EventDraftCleared)
	s.Require().NoError(err)
	s.Empty(events)
}
