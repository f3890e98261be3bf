package service

import (
	"context"
	"errors"

	"intake/internal/auth/models"
	id "intake/pkg/domain"
	dErrors "intake/pkg/domain-errors"
	"intake/pkg/platform/audit"
	"intake/pkg/platform/sentinel"
	"intake/pkg/requestcontext"
)

var errSessionExpired = dErrors.New(dErrors.CodeSessionExpired, "session expired")

// SignOut revokes the session and its access token. Signing out an already
// revoked session is a no-op that still returns the stored session.
func (s *Service) SignOut(ctx context.Context, sessionID id.SessionID, reason models.RevocationReason) (*models.Session, error) {
	if sessionID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "session ID required")
	}

	now := requestcontext.Now(ctx)
	var alreadyRevoked bool

	session, err := s.sessions.Execute(ctx, sessionID,
		func(sess *models.Session) error {
			if sess.CanRevoke() != nil {
				alreadyRevoked = true
			}
			return nil
		},
		func(sess *models.Session) {
			if !alreadyRevoked {
				sess.ApplyRevocation(now, reason)
			}
		},
	)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "session not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to revoke session")
	}
	if alreadyRevoked {
		return session, nil
	}

	if session.LastAccessTokenJTI != "" {
		if ttl := session.ExpiresAt.Sub(now); ttl > 0 {
			if err := s.trl.RevokeToken(ctx, session.LastAccessTokenJTI, ttl); err != nil {
				// The session itself is revoked, so the token is already rejected by ValidateSession.
				s.metrics.IncrementTRLFailure()
				s.logger.ErrorContext(ctx, "failed to add token to revocation list",
					"error", err,
					"session_id", session.ID.String(),
				)
			}
		}
	}

	s.metrics.IncrementRevoked(reason.String())
	s.logger.InfoContext(ctx, "session signed out",
		"user_id", session.UserID.String(),
		"session_id", session.ID.String(),
		"reason", reason.String(),
	)
	severity := audit.SeverityInfo
	if reason == models.RevocationReasonSuspiciousActivity {
		severity = audit.SeverityCritical
	}
	s.logAudit(ctx, audit.EventSessionLoggedOut, session.UserID, session.ID.String(), reason.String(), severity)

	return session, nil
}

// ValidateSession confirms the session behind an access token is still live.
// Every failure maps to session_expired so clients redirect to login.
func (s *Service) ValidateSession(ctx context.Context, sessionID id.SessionID, jti string) error {
	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return errSessionExpired
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load session")
	}
	if !session.IsActive(requestcontext.Now(ctx)) || session.LastAccessTokenJTI != jti {
		return errSessionExpired
	}
	if session.DeviceFingerprint != "" {
		current := s.device.ComputeFingerprint(requestcontext.UserAgent(ctx))
		if _, drift := s.device.CompareFingerprints(session.DeviceFingerprint, current); drift {
			s.logger.WarnContext(ctx, "device fingerprint drift",
				"session_id", session.ID.String(),
				"user_id", session.UserID.String(),
			)
		}
	}
	return nil
}
