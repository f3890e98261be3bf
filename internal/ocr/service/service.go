package service

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	draftmodels "intake/internal/draft/models"
	"intake/internal/ocr/client"
	"intake/internal/ocr/metrics"
	"intake/internal/ocr/models"
	id "intake/pkg/domain"
	dErrors "intake/pkg/domain-errors"
	"intake/pkg/platform/audit"
	"intake/pkg/requestcontext"
)

const (
	DefaultMaxDocumentBytes = 10 << 20
	DefaultDraftForm        = "customer_registration"
	DefaultBatchConcurrency = 2
)

type Relay interface {
	Extract(ctx context.Context, docType models.DocumentType, contentType models.ContentType, content []byte) (*client.Result, error)
}

// DraftUpdater applies extracted fields to the agent's draft through the
// same debounced path as typed edits.
type DraftUpdater interface {
	Update(ctx context.Context, key draftmodels.Key, fields draftmodels.Fields) (*draftmodels.Draft, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

type Service struct {
	relay            Relay
	drafts           DraftUpdater
	draftForm        string
	maxBytes         int
	batchConcurrency int
	clock            clockwork.Clock
	auditor          AuditPublisher
	logger           *slog.Logger
	metrics          *metrics.Metrics
}

type Option func(*Service)

func WithDrafts(drafts DraftUpdater, form string) Option {
	return func(s *Service) {
		s.drafts = drafts
		if form != "" {
			s.draftForm = form
		}
	}
}

func WithMaxDocumentBytes(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxBytes = n
		}
	}
}

// WithBatchConcurrency bounds how many documents of a batch are relayed at once.
func WithBatchConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.batchConcurrency = n
		}
	}
}

func WithClock(clock clockwork.Clock) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
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

func New(relay Relay, opts ...Option) *Service {
	s := &Service{
		relay:            relay,
		draftForm:        DefaultDraftForm,
		maxBytes:         DefaultMaxDocumentBytes,
		batchConcurrency: DefaultBatchConcurrency,
		clock:            clockwork.NewRealClock(),
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MaxDocumentBytes is the decoded size limit.
func (s *Service) MaxDocumentBytes() int { return s.maxBytes }

// ExtractResult is the relay outcome plus the draft when fields were applied.
type ExtractResult struct {
	Extraction *models.Extraction `json:"extraction"`
	Draft      *draftmodels.Draft `json:"draft,omitempty"`
}

// decode checks size and format before anything leaves the process.
func (s *Service) decode(docType models.DocumentType, encoded string) ([]byte, models.ContentType, error) {
	if base64.StdEncoding.DecodedLen(len(encoded)) > s.maxBytes+2 {
		return nil, "", dErrors.New(dErrors.CodePayloadTooBig, "document exceeds the size limit")
	}
	content, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, "", dErrors.New(dErrors.CodeInvalidInput, "content_base64 is not valid base64")
	}
	if len(content) > s.maxBytes {
		return nil, "", dErrors.New(dErrors.CodePayloadTooBig, "document exceeds the size limit")
	}
	contentType, ok := models.DetectContent(content)
	if !ok {
		return nil, "", dErrors.New(dErrors.CodeInvalidInput, "document must be a JPEG, PNG or PDF")
	}
	if contentType == models.ContentPDF && !docType.AcceptsPDF() {
		return nil, "", dErrors.New(dErrors.CodeInvalidInput, "facade photos must be JPEG or PNG")
	}
	return content, contentType, nil
}

// Extract relays one document and optionally applies the extracted fields to
// the owner's registration draft.
func (s *Service) Extract(ctx context.Context, owner id.UserID, req *models.ExtractRequest) (*ExtractResult, error) {
	docType := req.Type()
	content, contentType, err := s.decode(docType, req.ContentBase64)
	if err != nil {
		return nil, err
	}
	extraction, err := s.relayOne(ctx, owner, docType, contentType, content)
	if err != nil {
		return nil, err
	}

	result := &ExtractResult{Extraction: extraction}
	if !req.ApplyToDraft {
		return result, nil
	}
	result.Draft, err = s.applyToDraft(ctx, owner, extraction.DraftFields)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// BatchResult reports every document of a batch. A failed relay does not
// stop the others.
type BatchResult struct {
	Documents map[models.DocumentType]*models.DocumentOutcome `json:"documents"`
	Succeeded int                                             `json:"succeeded"`
	Failed    int                                             `json:"failed"`
	Draft     *draftmodels.Draft                              `json:"draft,omitempty"`
}

type decodedDocument struct {
	docType     models.DocumentType
	contentType models.ContentType
	content     []byte
}

// ExtractBatch relays several documents and, when asked, applies the fields of
// every successful extraction to the draft in a single update. Size and format
// are checked for all documents before any is relayed.
func (s *Service) ExtractBatch(ctx context.Context, owner id.UserID, req *models.BatchExtractRequest) (*BatchResult, error) {
	items := req.Items()
	docs := make([]decodedDocument, len(items))
	for i := range items {
		docType := items[i].Type()
		content, contentType, err := s.decode(docType, items[i].ContentBase64)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeOf(err), string(docType)+": "+dErrors.MessageOf(err))
		}
		docs[i] = decodedDocument{docType: docType, contentType: contentType, content: content}
	}

	outcomes := make([]*models.DocumentOutcome, len(docs))
	var g errgroup.Group
	g.SetLimit(s.batchConcurrency)
	for i, doc := range docs {
		g.Go(func() error {
			extraction, err := s.relayOne(ctx, owner, doc.docType, doc.contentType, doc.content)
			if err != nil {
				outcomes[i] = &models.DocumentOutcome{
					Error:     dErrors.MessageOf(err),
					ErrorCode: string(dErrors.CodeOf(err)),
				}
				return nil
			}
			outcomes[i] = &models.DocumentOutcome{Success: true, Extraction: extraction}
			return nil
		})
	}
	_ = g.Wait()

	result := &BatchResult{Documents: make(map[models.DocumentType]*models.DocumentOutcome, len(docs))}
	fields := make(map[string]string)
	for i, doc := range docs {
		out := outcomes[i]
		result.Documents[doc.docType] = out
		if !out.Success {
			result.Failed++
			continue
		}
		result.Succeeded++
		for k, v := range out.Extraction.DraftFields {
			fields[k] = v
		}
	}
	s.logger.InfoContext(ctx, "document batch relayed",
		"request_id", requestcontext.RequestID(ctx),
		"user_id", owner.String(),
		"documents", len(docs),
		"failed", result.Failed,
	)

	if !req.ApplyToDraft {
		return result, nil
	}
	draft, err := s.applyToDraft(ctx, owner, fields)
	if err != nil {
		return nil, err
	}
	result.Draft = draft
	return result, nil
}

func (s *Service) relayOne(ctx context.Context, owner id.UserID, docType models.DocumentType, contentType models.ContentType, content []byte) (*models.Extraction, error) {
	start := s.clock.Now()
	res, err := s.relay.Extract(ctx, docType, contentType, content)
	elapsed := s.clock.Since(start)
	if err != nil {
		s.metrics.ObserveRelay(string(docType), "error", elapsed)
		s.logger.ErrorContext(ctx, "ocr relay failed",
			"request_id", requestcontext.RequestID(ctx),
			"user_id", owner.String(),
			"document_type", string(docType),
			"error", err,
		)
		return nil, translateRelayError(err)
	}
	s.metrics.ObserveRelay(string(docType), "ok", elapsed)

	fields := models.CleanFields(res.Webhook.ParsedData)
	s.logAudit(ctx, owner, docType)
	return &models.Extraction{
		DocumentType:  docType,
		ContentType:   contentType,
		CorrelationID: res.CorrelationID,
		Fields:        fields,
		DraftFields:   models.ToDraftFields(docType, fields),
		Attempts:      res.Attempts,
		ProcessedAt:   s.clock.Now().UTC(),
	}, nil
}

// applyToDraft returns nil when there is nothing to apply.
func (s *Service) applyToDraft(ctx context.Context, owner id.UserID, fields map[string]string) (*draftmodels.Draft, error) {
	if len(fields) == 0 || s.drafts == nil {
		return nil, nil
	}
	update := make(draftmodels.Fields, len(fields))
	for k, v := range fields {
		update[k] = v
	}
	return s.drafts.Update(ctx, draftmodels.Key{OwnerID: owner, Form: s.draftForm}, update)
}

func translateRelayError(err error) error {
	switch {
	case errors.Is(err, client.ErrBreakerOpen):
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "document extraction is temporarily unavailable")
	case errors.Is(err, client.ErrRejected):
		return dErrors.Wrap(err, dErrors.CodeBadGateway, "document could not be processed")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "document extraction timed out")
	default:
		return dErrors.Wrap(err, dErrors.CodeBadGateway, "document extraction failed")
	}
}

func (s *Service) logAudit(ctx context.Context, owner id.UserID, docType models.DocumentType) {
	if s.auditor == nil {
		return
	}
	err := s.auditor.Emit(ctx, audit.Event{
		UserID:    owner,
		SessionID: sessionIDFrom(ctx),
		Subject:   string(docType),
		Action:    string(audit.EventDocumentRelayed),
		IP:        requestcontext.ClientIP(ctx),
		RequestID: requestcontext.RequestID(ctx),
	})
	if err != nil {
		s.logger.WarnContext(ctx, "failed to emit audit event", "error", err)
	}
}

func sessionIDFrom(ctx context.Context) string {
	if sid := requestcontext.SessionID(ctx); !sid.IsNil() {
		return sid.String()
	}
	return ""
}
