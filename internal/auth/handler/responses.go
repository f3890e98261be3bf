package handler

import (
	"time"

	"intake/internal/auth/models"
)

type LoginResponse struct {
	AccessToken string                `json:"access_token"`
	ExpiresAt   time.Time             `json:"expires_at"`
	Session     models.SessionSummary `json:"session"`
	Agent       models.AgentSummary   `json:"agent"`
}
