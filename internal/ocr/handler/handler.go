package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"intake/internal/ocr/models"
	"intake/internal/ocr/service"
	id "intake/pkg/domain"
	dErrors "intake/pkg/domain-errors"
	"intake/pkg/platform/httputil"
	"intake/pkg/requestcontext"
)

// envelopeOverhead covers the JSON keys around the base64 payload.
const envelopeOverhead = 4 << 10

type Service interface {
	Extract(ctx context.Context, owner id.UserID, req *models.ExtractRequest) (*service.ExtractResult, error)
	ExtractBatch(ctx context.Context, owner id.UserID, req *models.BatchExtractRequest) (*service.BatchResult, error)
	MaxDocumentBytes() int
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/documents/extract", h.HandleExtract)
	r.Post("/documents/extract-batch", h.HandleExtractBatch)
}

// decode reads an upload body capped at documents times the base64 size of
// the largest accepted document.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, documents int, dst any) bool {
	ctx := r.Context()
	limit := int64(documents)*(int64(h.service.MaxDocumentBytes())*4/3) + envelopeOverhead
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.WriteError(w, dErrors.New(dErrors.CodePayloadTooBig, "document exceeds the size limit"))
			return false
		}
		h.logger.WarnContext(ctx, "failed to decode extract request",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return false
	}
	return true
}

func (h *Handler) owner(w http.ResponseWriter, r *http.Request) (id.UserID, bool) {
	owner := requestcontext.UserID(r.Context())
	if owner.IsNil() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return id.UserID{}, false
	}
	return owner, true
}

// HandleExtract handles POST /documents/extract.
func (h *Handler) HandleExtract(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	var req models.ExtractRequest
	if !h.decode(w, r, 1, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		httputil.WriteError(w, err)
		return
	}

	result, err := h.service.Extract(r.Context(), owner, &req)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

// HandleExtractBatch handles POST /documents/extract-batch. Per-document relay
// failures are reported in the body with a 200.
func (h *Handler) HandleExtractBatch(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	var req models.BatchExtractRequest
	if !h.decode(w, r, len(models.DocumentTypes), &req) {
		return
	}
	if err := req.Validate(); err != nil {
		httputil.WriteError(w, err)
		return
	}

	result, err := h.service.ExtractBatch(r.Context(), owner, &req)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}
