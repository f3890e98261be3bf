package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"intake/internal/customer/models"
	id "intake/pkg/domain"
	dErrors "intake/pkg/domain-errors"
	"intake/pkg/platform/httputil"
	"intake/pkg/requestcontext"
)

type Service interface {
	Submit(ctx context.Context, owner id.UserID, req *models.SubmitRequest) (*models.Registration, error)
	Get(ctx context.Context, owner id.UserID, regID id.SubmissionID) (*models.Registration, error)
	List(ctx context.Context, owner id.UserID) ([]*models.Registration, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/customers", h.HandleSubmit)
	r.Get("/customers", h.HandleList)
	r.Get("/customers/{id}", h.HandleGet)
}

func (h *Handler) owner(w http.ResponseWriter, r *http.Request) (id.UserID, bool) {
	owner := requestcontext.UserID(r.Context())
	if owner.IsNil() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return id.UserID{}, false
	}
	return owner, true
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, owner id.UserID, err error) {
	ctx := r.Context()
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, "customer operation failed",
			"request_id", requestcontext.RequestID(ctx),
			"user_id", owner.String(),
			"error", err,
		)
	}
	httputil.WriteError(w, err)
}

// HandleSubmit handles POST /customers.
func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[models.SubmitRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	reg, err := h.service.Submit(ctx, owner, req)
	if err != nil {
		h.writeError(w, r, owner, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, reg)
}

// HandleList handles GET /customers.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	regs, err := h.service.List(r.Context(), owner)
	if err != nil {
		h.writeError(w, r, owner, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, models.ListResponse{Registrations: regs})
}

// HandleGet handles GET /customers/{id}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	regID, err := id.ParseSubmissionID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid registration id"))
		return
	}
	reg, err := h.service.Get(r.Context(), owner, regID)
	if err != nil {
		h.writeError(w, r, owner, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, reg)
}
