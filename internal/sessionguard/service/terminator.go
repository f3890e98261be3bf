package service

import (
	"context"
	"log/slog"

	authmodels "intake/internal/auth/models"
	"intake/internal/sessionguard/models"
	id "intake/pkg/domain"
	dErrors "intake/pkg/domain-errors"
	"intake/pkg/platform/audit"
	"intake/pkg/requestcontext"
)

type SignOuter interface {
	SignOut(ctx context.Context, sessionID id.SessionID, reason authmodels.RevocationReason) (*authmodels.Session, error)
}

// DraftPurger removes every cached and persisted draft of an agent.
type DraftPurger interface {
	PurgeOwner(ctx context.Context, owner id.UserID) (int, error)
}

// SessionTerminator signs the session out and wipes the agent's drafts.
type SessionTerminator struct {
	signOut SignOuter
	drafts  DraftPurger
	auditor AuditPublisher
	logger  *slog.Logger
}

type TerminatorOption func(*SessionTerminator)

func WithDraftPurger(drafts DraftPurger) TerminatorOption {
	return func(t *SessionTerminator) { t.drafts = drafts }
}

func WithTerminatorAuditor(auditor AuditPublisher) TerminatorOption {
	return func(t *SessionTerminator) { t.auditor = auditor }
}

func WithTerminatorLogger(logger *slog.Logger) TerminatorOption {
	return func(t *SessionTerminator) {
		if logger != nil {
			t.logger = logger
		}
	}
}

func NewSessionTerminator(signOut SignOuter, opts ...TerminatorOption) *SessionTerminator {
	t := &SessionTerminator{signOut: signOut, logger: slog.Default()}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Terminate signs the session out, then purges the agent's drafts and audits
// suspicious logouts even when the sign-out itself failed. The sign-out error
// is returned so the caller can keep the session blocked.
func (t *SessionTerminator) Terminate(ctx context.Context, userID id.UserID, sessionID id.SessionID, reason models.Reason) error {
	session, err := t.signOut.SignOut(ctx, sessionID, reason)
	switch {
	case err == nil:
		userID = session.UserID
	case dErrors.HasCode(err, dErrors.CodeNotFound):
		t.logger.WarnContext(ctx, "terminating unknown session", "session_id", sessionID.String())
		err = nil
	default:
		t.logger.ErrorContext(ctx, "sign-out failed during forced logout",
			"session_id", sessionID.String(),
			"reason", reason.String(),
			"error", err,
		)
	}

	if !userID.IsNil() {
		t.purgeDrafts(ctx, userID)
	}
	if reason == authmodels.RevocationReasonSuspiciousActivity {
		t.auditSuspicious(ctx, userID, sessionID)
	}
	return err
}

func (t *SessionTerminator) purgeDrafts(ctx context.Context, userID id.UserID) {
	if t.drafts == nil {
		return
	}
	n, err := t.drafts.PurgeOwner(ctx, userID)
	if err != nil {
		t.logger.ErrorContext(ctx, "failed to purge drafts at logout",
			"user_id", userID.String(),
			"error", err,
		)
		return
	}
	if n > 0 {
		t.logger.InfoContext(ctx, "drafts purged at logout",
			"user_id", userID.String(),
			"count", n,
		)
	}
}

func (t *SessionTerminator) auditSuspicious(ctx context.Context, userID id.UserID, sessionID id.SessionID) {
	if t.auditor == nil {
		return
	}
	err := t.auditor.Emit(ctx, audit.Event{
		UserID:    userID,
		SessionID: sessionID.String(),
		Action:    string(audit.EventSuspiciousActivity),
		Reason:    "action_rate_exceeded",
		IP:        requestcontext.ClientIP(ctx),
		RequestID: requestcontext.RequestID(ctx),
		Severity:  audit.SeverityCritical,
	})
	if err != nil {
		t.logger.WarnContext(ctx, "failed to emit audit event", "error", err)
	}
}
