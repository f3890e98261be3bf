package service

import (
	"context"
	"log/slog"
	"time"

	"intake/internal/auth/device"
	"intake/internal/auth/metrics"
	"intake/internal/auth/models"
	jwttoken "intake/internal/jwt_token"
	id "intake/pkg/domain"
	"intake/pkg/platform/audit"
	"intake/pkg/requestcontext"
)

type AgentStore interface {
	Save(ctx context.Context, agent *models.Agent) error
	FindByID(ctx context.Context, agentID id.UserID) (*models.Agent, error)
	FindByEmail(ctx context.Context, email string) (*models.Agent, error)
}

type SessionStore interface {
	Create(ctx context.Context, session *models.Session) error
	FindByID(ctx context.Context, sessionID id.SessionID) (*models.Session, error)
	Execute(ctx context.Context, sessionID id.SessionID, validate func(*models.Session) error, mutate func(*models.Session)) (*models.Session, error)
}

// TokenRevocationList records JTIs that must no longer authorize requests.
type TokenRevocationList interface {
	RevokeToken(ctx context.Context, jti string, ttl time.Duration) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

type TokenIssuer interface {
	GenerateAccessToken(userID id.UserID, sessionID id.SessionID, expiresIn time.Duration) (*jwttoken.IssuedToken, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

const defaultTokenTTL = 8 * time.Hour

// Service owns agent authentication and the session lifecycle.
type Service struct {
	agents   AgentStore
	sessions SessionStore
	trl      TokenRevocationList
	tokens   TokenIssuer
	device   *device.Service
	logger   *slog.Logger
	auditor  AuditPublisher
	metrics  *metrics.Metrics
	tokenTTL time.Duration
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithAuditor(auditor AuditPublisher) Option {
	return func(s *Service) { s.auditor = auditor }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithTokenTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.tokenTTL = ttl
		}
	}
}

func WithDeviceService(d *device.Service) Option {
	return func(s *Service) {
		if d != nil {
			s.device = d
		}
	}
}

func New(agents AgentStore, sessions SessionStore, trl TokenRevocationList, tokens TokenIssuer, opts ...Option) *Service {
	s := &Service{
		agents:   agents,
		sessions: sessions,
		trl:      trl,
		tokens:   tokens,
		device:   device.NewService(true),
		logger:   slog.Default(),
		tokenTTL: defaultTokenTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IsTokenRevoked lets the auth middleware consult the revocation list through the service.
func (s *Service) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	return s.trl.IsRevoked(ctx, jti)
}

func (s *Service) logAudit(ctx context.Context, event audit.AuditEvent, userID id.UserID, sessionID string, reason string, severity audit.Severity) {
	if s.auditor == nil {
		return
	}
	err := s.auditor.Emit(ctx, audit.Event{
		UserID:    userID,
		SessionID: sessionID,
		Action:    string(event),
		Reason:    reason,
		IP:        requestcontext.ClientIP(ctx),
		RequestID: requestcontext.RequestID(ctx),
		Severity:  severity,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "failed to emit audit event",
			"action", string(event),
			"error", err,
		)
	}
}
