package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"intake/internal/auth/models"
	id "intake/pkg/domain"
	dErrors "intake/pkg/domain-errors"
	"intake/pkg/platform/httputil"
	authmw "intake/pkg/platform/middleware/auth"
	"intake/pkg/requestcontext"
)

type Service interface {
	Login(ctx context.Context, req *models.LoginRequest) (*models.LoginResult, error)
}

// Terminator ends a session through the same path forced logouts take.
type Terminator interface {
	Logout(ctx context.Context, userID id.UserID, sessionID id.SessionID, reason models.RevocationReason) error
}

// GuardStarter begins watching a freshly created session.
type GuardStarter interface {
	Start(ctx context.Context, userID id.UserID, sessionID id.SessionID) error
}

type Handler struct {
	service      Service
	terminator   Terminator
	guards       GuardStarter
	logger       *slog.Logger
	cookieName   string
	cookieSecure bool
	loginPath    string
}

type Option func(*Handler)

func WithCookie(name string, secure bool) Option {
	return func(h *Handler) {
		if name != "" {
			h.cookieName = name
		}
		h.cookieSecure = secure
	}
}

func WithLoginPath(path string) Option {
	return func(h *Handler) {
		if path != "" {
			h.loginPath = path
		}
	}
}

func WithGuardStarter(guards GuardStarter) Option {
	return func(h *Handler) { h.guards = guards }
}

func New(service Service, terminator Terminator, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		service:    service,
		terminator: terminator,
		logger:     logger,
		cookieName: authmw.DefaultCookieName,
		loginPath:  authmw.DefaultLoginPath,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterPublic mounts endpoints that need no session.
func (h *Handler) RegisterPublic(r chi.Router) {
	r.Post("/auth/login", h.HandleLogin)
}

// Register mounts endpoints that run behind RequireAuth.
func (h *Handler) Register(r chi.Router) {
	r.Post("/auth/logout", h.HandleLogout)
}

// HandleLogin handles POST /auth/login.
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[models.LoginRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	res, err := h.service.Login(ctx, req)
	if err != nil {
		h.logger.WarnContext(ctx, "login rejected",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	if h.guards != nil {
		userID, _ := id.ParseUserID(res.Agent.ID)
		sessionID, _ := id.ParseSessionID(res.Session.SessionID)
		if err := h.guards.Start(ctx, userID, sessionID); err != nil {
			h.logger.ErrorContext(ctx, "failed to start session guard",
				"request_id", requestID,
				"session_id", res.Session.SessionID,
				"error", err,
			)
			httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to start session"))
			return
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     h.cookieName,
		Value:    res.AccessToken,
		Path:     "/",
		Expires:  res.ExpiresAt,
		MaxAge:   int(time.Until(res.ExpiresAt).Seconds()),
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
	httputil.WriteJSON(w, http.StatusOK, LoginResponse{
		AccessToken: res.AccessToken,
		ExpiresAt:   res.ExpiresAt,
		Session:     res.Session,
		Agent:       res.Agent,
	})
}

// HandleLogout handles POST /auth/logout.
func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	sessionID := requestcontext.SessionID(ctx)
	if sessionID.IsNil() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return
	}

	if err := h.terminator.Logout(ctx, requestcontext.UserID(ctx), sessionID, models.RevocationReasonManual); err != nil {
		h.logger.ErrorContext(ctx, "logout failed",
			"request_id", requestID,
			"session_id", sessionID.String(),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	authmw.ClearSessionCookie(w, h.cookieName)
	httputil.WriteJSON(w, http.StatusOK, models.LogoutResponse{
		Reason:     models.RevocationReasonManual.String(),
		RedirectTo: h.loginPath,
	})
}
