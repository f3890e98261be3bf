package service

import (
	"context"
	"errors"

	"golang.org/x/crypto/bcrypt"

	"intake/internal/auth/device"
	"intake/internal/auth/models"
	id "intake/pkg/domain"
	dErrors "intake/pkg/domain-errors"
	"intake/pkg/platform/audit"
	"intake/pkg/platform/sentinel"
	"intake/pkg/requestcontext"
)

// dummyHash keeps the unknown-email path as slow as a real password check.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("intake-dummy-password"), bcrypt.DefaultCost)

var errInvalidCredentials = dErrors.New(dErrors.CodeUnauthorized, "invalid email or password")

// Login checks the agent's credentials and opens a new session bound to a fresh access token.
func (s *Service) Login(ctx context.Context, req *models.LoginRequest) (*models.LoginResult, error) {
	agent, err := s.agents.FindByEmail(ctx, req.Email)
	if err != nil {
		if !errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load agent")
		}
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(req.Password))
		s.loginFailed(ctx, id.UserID{}, "unknown_email")
		return nil, errInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(agent.PasswordHash, []byte(req.Password)); err != nil {
		s.loginFailed(ctx, agent.ID, "bad_password")
		return nil, errInvalidCredentials
	}
	if !agent.Active {
		s.loginFailed(ctx, agent.ID, "agent_inactive")
		return nil, dErrors.New(dErrors.CodeForbidden, "agent account is disabled")
	}

	now := requestcontext.Now(ctx)
	sessionID := id.NewSessionID()
	issued, err := s.tokens.GenerateAccessToken(agent.ID, sessionID, s.tokenTTL)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to issue access token")
	}

	userAgent := requestcontext.UserAgent(ctx)
	session := &models.Session{
		ID:                 sessionID,
		UserID:             agent.ID,
		Status:             models.SessionStatusActive,
		LastAccessTokenJTI: issued.JTI,
		DeviceDisplayName:  device.ParseUserAgent(userAgent),
		DeviceFingerprint:  s.device.ComputeFingerprint(userAgent),
		ClientIP:           requestcontext.ClientIP(ctx),
		CreatedAt:          now,
		ExpiresAt:          issued.ExpiresAt,
		LastSeenAt:         now,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create session")
	}

	s.metrics.IncrementLogin("success")
	s.logger.InfoContext(ctx, "agent logged in",
		"user_id", agent.ID.String(),
		"session_id", sessionID.String(),
		"device", session.DeviceDisplayName,
	)
	s.logAudit(ctx, audit.EventLoginSucceeded, agent.ID, sessionID.String(), "", audit.SeverityInfo)

	return &models.LoginResult{
		AccessToken: issued.Token,
		ExpiresAt:   issued.ExpiresAt,
		Session:     models.Summarize(session),
		Agent: models.AgentSummary{
			ID:    agent.ID.String(),
			Email: agent.Email,
			Name:  agent.Name,
		},
	}, nil
}

func (s *Service) loginFailed(ctx context.Context, userID id.UserID, reason string) {
	s.metrics.IncrementLogin("failure")
	s.logger.WarnContext(ctx, "login failed",
		"reason", reason,
		"client_ip", requestcontext.ClientIP(ctx),
	)
	s.logAudit(ctx, audit.EventLoginFailed, userID, "", reason, audit.SeverityWarning)
}

// SeedAgent registers an agent with a bcrypt-hashed password.
func (s *Service) SeedAgent(ctx context.Context, email, password, name string) (*models.Agent, error) {
	req := &models.LoginRequest{Email: email, Password: password}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to hash password")
	}
	agent := &models.Agent{
		ID:           id.NewUserID(),
		Email:        req.Email,
		Name:         name,
		PasswordHash: hash,
		Active:       true,
		CreatedAt:    requestcontext.Now(ctx),
	}
	if err := s.agents.Save(ctx, agent); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "agent already exists")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save agent")
	}
	return agent, nil
}
