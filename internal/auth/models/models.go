package models

import (
	"errors"
	"time"

	id "intake/pkg/domain"
)

// Agent is a sales agent allowed to register customers.
type Agent struct {
	ID           id.UserID `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash []byte    `json:"-"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

type SessionStatus string

const (
	SessionStatusActive  SessionStatus = "active"
	SessionStatusRevoked SessionStatus = "revoked"
)

// RevocationReason records why a session ended. Guard reasons share these values.
type RevocationReason string

const (
	RevocationReasonManual             RevocationReason = "manual"
	RevocationReasonInactivity         RevocationReason = "inactivity"
	RevocationReasonOffline            RevocationReason = "offline"
	RevocationReasonOutOfHours         RevocationReason = "out_of_hours"
	RevocationReasonSuspiciousActivity RevocationReason = "suspicious_activity"
	RevocationReasonShutdown           RevocationReason = "shutdown"
)

func (r RevocationReason) String() string { return string(r) }

var ErrSessionNotActive = errors.New("session is not active")

// Session is an authenticated agent session bound to one access token.
type Session struct {
	ID                 id.SessionID     `json:"id"`
	UserID             id.UserID        `json:"user_id"`
	Status             SessionStatus    `json:"status"`
	LastAccessTokenJTI string           `json:"last_access_token_jti"`
	DeviceDisplayName  string           `json:"device_display_name"`
	DeviceFingerprint  string           `json:"device_fingerprint,omitempty"`
	ClientIP           string           `json:"client_ip,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
	ExpiresAt          time.Time        `json:"expires_at"`
	LastSeenAt         time.Time        `json:"last_seen_at"`
	RevokedAt          *time.Time       `json:"revoked_at,omitempty"`
	RevocationReason   RevocationReason `json:"revocation_reason,omitempty"`
}

// IsActive reports whether the session may still authorize requests at now.
func (s *Session) IsActive(now time.Time) bool {
	return s.Status == SessionStatusActive && now.Before(s.ExpiresAt)
}

// CanRevoke returns ErrSessionNotActive when the session was already revoked.
func (s *Session) CanRevoke() error {
	if s.Status == SessionStatusRevoked {
		return ErrSessionNotActive
	}
	return nil
}

func (s *Session) ApplyRevocation(now time.Time, reason RevocationReason) {
	s.Status = SessionStatusRevoked
	s.RevokedAt = &now
	s.RevocationReason = reason
}

// LoginResult is returned to the handler after a successful login.
type LoginResult struct {
	AccessToken string    `json:"-"`
	ExpiresAt   time.Time `json:"expires_at"`
	Session     SessionSummary
	Agent       AgentSummary
}

type AgentSummary struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}
