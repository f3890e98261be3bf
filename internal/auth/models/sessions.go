package models

import "time"

type SessionSummary struct {
	SessionID string    `json:"session_id"`
	Device    string    `json:"device"`
	IPAddress string    `json:"ip_address,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Summarize projects a session for API responses.
func Summarize(s *Session) SessionSummary {
	return SessionSummary{
		SessionID: s.ID.String(),
		Device:    s.DeviceDisplayName,
		IPAddress: s.ClientIP,
		CreatedAt: s.CreatedAt,
		ExpiresAt: s.ExpiresAt,
	}
}
