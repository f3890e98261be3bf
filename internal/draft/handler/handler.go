package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"intake/internal/draft/models"
	"intake/internal/draft/service"
	dErrors "intake/pkg/domain-errors"
	"intake/pkg/platform/httputil"
	"intake/pkg/requestcontext"
)

type Service interface {
	Draft(ctx context.Context, key models.Key) (*models.Draft, error)
	Update(ctx context.Context, key models.Key, fields models.Fields) (*models.Draft, error)
	SaveNow(ctx context.Context, key models.Key) (models.Status, error)
	Clear(ctx context.Context, key models.Key) error
}

// Handler exposes an agent's form drafts. Every route runs behind RequireAuth
// and only ever touches the caller's own drafts.
type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Route("/drafts/{form}", func(r chi.Router) {
		r.Get("/", h.HandleGet)
		r.Patch("/", h.HandleUpdate)
		r.Delete("/", h.HandleClear)
		r.Post("/save", h.HandleSave)
		r.Get("/status", h.HandleStatus)
	})
}

func (h *Handler) keyFor(w http.ResponseWriter, r *http.Request) (models.Key, bool) {
	owner := requestcontext.UserID(r.Context())
	if owner.IsNil() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return models.Key{}, false
	}
	form, err := models.ParseForm(chi.URLParam(r, "form"))
	if err != nil {
		httputil.WriteError(w, err)
		return models.Key{}, false
	}
	return models.Key{OwnerID: owner, Form: form}, true
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, key models.Key, err error) {
	ctx := r.Context()
	if errors.Is(err, service.ErrCacheClosed) {
		err = dErrors.New(dErrors.CodeSessionExpired, "session has ended")
	} else if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, "draft operation failed",
			"request_id", requestcontext.RequestID(ctx),
			"user_id", key.OwnerID.String(),
			"form", key.Form,
			"error", err,
		)
	}
	httputil.WriteError(w, err)
}

// HandleGet handles GET /drafts/{form}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	key, ok := h.keyFor(w, r)
	if !ok {
		return
	}
	draft, err := h.service.Draft(r.Context(), key)
	if err != nil {
		h.writeError(w, r, key, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, draft)
}

// HandleUpdate handles PATCH /drafts/{form}.
func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	key, ok := h.keyFor(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[models.UpdateRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	draft, err := h.service.Update(ctx, key, req.Fields)
	if err != nil {
		h.writeError(w, r, key, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, draft)
}

// HandleSave handles POST /drafts/{form}/save.
func (h *Handler) HandleSave(w http.ResponseWriter, r *http.Request) {
	key, ok := h.keyFor(w, r)
	if !ok {
		return
	}
	status, err := h.service.SaveNow(r.Context(), key)
	if err != nil {
		h.writeError(w, r, key, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, status)
}

// HandleStatus handles GET /drafts/{form}/status.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	key, ok := h.keyFor(w, r)
	if !ok {
		return
	}
	draft, err := h.service.Draft(r.Context(), key)
	if err != nil {
		h.writeError(w, r, key, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, draft.Status)
}

// HandleClear handles DELETE /drafts/{form}.
func (h *Handler) HandleClear(w http.ResponseWriter, r *http.Request) {
	key, ok := h.keyFor(w, r)
	if !ok {
		return
	}
	if err := h.service.Clear(r.Context(), key); err != nil {
		h.writeError(w, r, key, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
