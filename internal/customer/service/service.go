// Package service validates and records customer registrations.
package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"intake/internal/customer/metrics"
	"intake/internal/customer/models"
	draftmodels "intake/internal/draft/models"
	id "intake/pkg/domain"
	dErrors "intake/pkg/domain-errors"
	"intake/pkg/platform/audit"
	"intake/pkg/platform/sentinel"
	"intake/pkg/requestcontext"
)

const defaultListLimit = 50

type Store interface {
	Save(ctx context.Context, reg *models.Registration) error
	FindByID(ctx context.Context, owner id.UserID, regID id.SubmissionID) (*models.Registration, error)
	ListByOwner(ctx context.Context, owner id.UserID, limit int) ([]*models.Registration, error)
}

// Drafts is the registration draft the agent typed the record into.
type Drafts interface {
	Draft(ctx context.Context, key draftmodels.Key) (*draftmodels.Draft, error)
	Clear(ctx context.Context, key draftmodels.Key) error
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

type Service struct {
	store   Store
	drafts  Drafts
	clock   clockwork.Clock
	tracer  trace.Tracer
	auditor AuditPublisher
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Service)

func WithDrafts(drafts Drafts) Option {
	return func(s *Service) { s.drafts = drafts }
}

func WithClock(clock clockwork.Clock) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

func WithAuditor(auditor AuditPublisher) Option {
	return func(s *Service) { s.auditor = auditor }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func New(store Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		clock:  clockwork.NewRealClock(),
		tracer: otel.Tracer("intake/customer"),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func draftKey(owner id.UserID) draftmodels.Key {
	return draftmodels.Key{OwnerID: owner, Form: models.FormName}
}

// Submit validates and records a registration, then drops the agent's draft.
// A draft that cannot be cleared does not fail the submission; the record is
// already stored.
func (s *Service) Submit(ctx context.Context, owner id.UserID, req *models.SubmitRequest) (*models.Registration, error) {
	ctx, span := s.tracer.Start(ctx, "customer.submit",
		trace.WithAttributes(attribute.Bool("customer.from_draft", req.FromDraft)),
	)
	defer span.End()

	reg, err := s.submit(ctx, owner, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "submission failed")
		return nil, err
	}
	span.SetAttributes(attribute.String("customer.submission_id", reg.ID.String()))
	span.SetStatus(codes.Ok, "")
	return reg, nil
}

func (s *Service) submit(ctx context.Context, owner id.UserID, req *models.SubmitRequest) (*models.Registration, error) {
	customer := req.Customer
	if req.FromDraft {
		if s.drafts == nil {
			return nil, dErrors.New(dErrors.CodeBadRequest, "drafts are not available")
		}
		draft, err := s.drafts.Draft(ctx, draftKey(owner))
		if err != nil {
			return nil, err
		}
		customer = models.FromDraft(draft.Data).Overlay(req.Customer)
	}

	customer.Normalize()
	now := s.clock.Now().UTC()
	if problems := customer.Problems(now); len(problems) > 0 {
		for _, p := range problems {
			s.metrics.IncrementInvalidField(p.Field)
		}
		s.metrics.IncrementSubmission("invalid")
		return nil, customer.Validate(now)
	}

	reg := &models.Registration{
		ID:        id.NewSubmissionID(),
		OwnerID:   owner,
		Customer:  customer,
		Status:    models.StatusSubmitted,
		CreatedAt: now,
	}
	if err := s.store.Save(ctx, reg); err != nil {
		s.metrics.IncrementSubmission("error")
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store registration")
	}
	s.metrics.IncrementSubmission("ok")

	masked := reg.Masked()
	s.logger.InfoContext(ctx, "customer registration submitted",
		"request_id", requestcontext.RequestID(ctx),
		"user_id", owner.String(),
		"submission_id", reg.ID.String(),
		"cnpj", masked.Customer.CNPJ,
		"cpf", masked.Customer.CPF,
	)
	s.logAudit(ctx, reg)

	if s.drafts != nil {
		if err := s.drafts.Clear(ctx, draftKey(owner)); err != nil {
			s.metrics.IncrementDraftClearFailure()
			s.logger.WarnContext(ctx, "failed to clear registration draft",
				"request_id", requestcontext.RequestID(ctx),
				"user_id", owner.String(),
				"error", err,
			)
		}
	}
	return reg, nil
}

// Get returns one of the owner's registrations with documents masked.
func (s *Service) Get(ctx context.Context, owner id.UserID, regID id.SubmissionID) (*models.Registration, error) {
	reg, err := s.store.FindByID(ctx, owner, regID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "registration not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load registration")
	}
	return reg.Masked(), nil
}

// List returns the owner's recent registrations with documents masked.
func (s *Service) List(ctx context.Context, owner id.UserID) ([]*models.Registration, error) {
	regs, err := s.store.ListByOwner(ctx, owner, defaultListLimit)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list registrations")
	}
	out := make([]*models.Registration, len(regs))
	for i, r := range regs {
		out[i] = r.Masked()
	}
	return out, nil
}

func (s *Service) logAudit(ctx context.Context, reg *models.Registration) {
	if s.auditor == nil {
		return
	}
	var sessionID string
	if sid := requestcontext.SessionID(ctx); !sid.IsNil() {
		sessionID = sid.String()
	}
	err := s.auditor.Emit(ctx, audit.Event{
		UserID:    reg.OwnerID,
		SessionID: sessionID,
		Subject:   reg.ID.String(),
		Action:    string(audit.EventCustomerSubmitted),
		IP:        requestcontext.ClientIP(ctx),
		RequestID: requestcontext.RequestID(ctx),
	})
	if err != nil {
		s.logger.WarnContext(ctx, "failed to emit audit event", "error", err)
	}
}
