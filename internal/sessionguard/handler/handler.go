package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"

	"intake/internal/sessionguard/models"
	"intake/internal/sessionguard/service"
	id "intake/pkg/domain"
	dErrors "intake/pkg/domain-errors"
	"intake/pkg/platform/httputil"
	authmw "intake/pkg/platform/middleware/auth"
	"intake/pkg/requestcontext"
)

const wsWriteTimeout = 5 * time.Second

type Registry interface {
	Ensure(ctx context.Context, userID id.UserID, sessionID id.SessionID) (*service.Guard, error)
	Get(sessionID id.SessionID) (*service.Guard, bool)
	Ended(sessionID id.SessionID) bool
}

// Handler exposes the session guard to the browser.
type Handler struct {
	registry       Registry
	logger         *slog.Logger
	cookieName     string
	loginPath      string
	originPatterns []string
}

type Option func(*Handler)

func WithCookieName(name string) Option {
	return func(h *Handler) {
		if name != "" {
			h.cookieName = name
		}
	}
}

func WithLoginPath(path string) Option {
	return func(h *Handler) {
		if path != "" {
			h.loginPath = path
		}
	}
}

// WithOriginPatterns allows cross-origin websocket upgrades from the given host patterns.
func WithOriginPatterns(patterns []string) Option {
	return func(h *Handler) { h.originPatterns = patterns }
}

func New(registry Registry, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		registry:   registry,
		logger:     logger,
		cookieName: authmw.DefaultCookieName,
		loginPath:  authmw.DefaultLoginPath,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the guard endpoints; they must run behind RequireAuth.
func (h *Handler) Register(r chi.Router) {
	r.Get("/session/status", h.HandleStatus)
	r.Post("/session/activity", h.HandleActivity)
	r.Post("/session/heartbeat", h.HandleHeartbeat)
	r.Post("/session/connectivity", h.HandleConnectivity)
	r.Post("/session/extend", h.HandleExtend)
	r.Get("/session/events", h.HandleEvents)
}

// Contact counts any authenticated request as proof of connectivity for the
// session's guard and turns away sessions a forced logout has ended.
// It must run after RequireAuth.
func (h *Handler) Contact(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionID := requestcontext.SessionID(r.Context())
		if sessionID.IsNil() {
			next.ServeHTTP(w, r)
			return
		}
		if h.registry.Ended(sessionID) {
			h.writeSessionEnded(w, "")
			return
		}
		if g, ok := h.registry.Get(sessionID); ok {
			if _, err := g.Heartbeat(r.Context()); errors.Is(err, service.ErrGuardStopped) {
				h.writeSessionEnded(w, g.Status(r.Context()).LogoutReason)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) guardFor(w http.ResponseWriter, r *http.Request) (*service.Guard, bool) {
	ctx := r.Context()
	userID := requestcontext.UserID(ctx)
	sessionID := requestcontext.SessionID(ctx)
	if userID.IsNil() || sessionID.IsNil() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return nil, false
	}
	g, err := h.registry.Ensure(ctx, userID, sessionID)
	if errors.Is(err, service.ErrSessionEnded) {
		h.writeSessionEnded(w, "")
		return nil, false
	}
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to resolve session guard",
			"request_id", requestcontext.RequestID(ctx),
			"session_id", sessionID.String(),
			"error", err,
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnavailable, "session guard unavailable"))
		return nil, false
	}
	return g, true
}

// respond writes the guard status, or tells the client its session ended.
func (h *Handler) respond(w http.ResponseWriter, r *http.Request, g *service.Guard, status models.Status, err error) {
	if err != nil {
		if errors.Is(err, service.ErrGuardStopped) || stopped(g) {
			h.writeSessionEnded(w, g.Status(r.Context()).LogoutReason)
			return
		}
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, status)
}

func stopped(g *service.Guard) bool {
	select {
	case <-g.Done():
		return true
	default:
		return false
	}
}

func (h *Handler) writeSessionEnded(w http.ResponseWriter, reason models.Reason) {
	authmw.ClearSessionCookie(w, h.cookieName)
	httputil.WriteJSON(w, http.StatusUnauthorized, SessionEndedResponse{
		Error:            string(dErrors.CodeSessionExpired),
		ErrorDescription: "Session has ended",
		Reason:           string(reason),
		RedirectTo:       h.loginPath,
	})
}

// HandleStatus handles GET /session/status.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	g, ok := h.guardFor(w, r)
	if !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, g.Status(r.Context()))
}

// HandleActivity handles POST /session/activity.
func (h *Handler) HandleActivity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[models.ActivityRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	g, ok := h.guardFor(w, r)
	if !ok {
		return
	}
	status, err := g.RecordActivity(ctx, req.ParsedKind())
	h.respond(w, r, g, status, err)
}

// HandleHeartbeat handles POST /session/heartbeat.
func (h *Handler) HandleHeartbeat(w http.ResponseWriter, r *http.Request) {
	g, ok := h.guardFor(w, r)
	if !ok {
		return
	}
	status, err := g.Heartbeat(r.Context())
	h.respond(w, r, g, status, err)
}

// HandleConnectivity handles POST /session/connectivity.
func (h *Handler) HandleConnectivity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[models.ConnectivityRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	g, ok := h.guardFor(w, r)
	if !ok {
		return
	}
	status, err := g.SetOnline(ctx, *req.Online)
	h.respond(w, r, g, status, err)
}

// HandleExtend handles POST /session/extend.
func (h *Handler) HandleExtend(w http.ResponseWriter, r *http.Request) {
	g, ok := h.guardFor(w, r)
	if !ok {
		return
	}
	status, err := g.Extend(r.Context())
	h.respond(w, r, g, status, err)
}

// HandleEvents handles GET /session/events, streaming guard events over a websocket
// until the guard is torn down or the client goes away.
func (h *Handler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	g, ok := h.guardFor(w, r)
	if !ok {
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.originPatterns})
	if err != nil {
		h.logger.WarnContext(r.Context(), "websocket upgrade failed",
			"request_id", requestcontext.RequestID(r.Context()),
			"error", err,
		)
		return
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, unsubscribe := g.Subscribe()
	defer unsubscribe()

	if err := h.write(ctx, conn, StatusEvent(g.Status(ctx))); err != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "write_failed")
		return
	}

	// CloseRead discards client frames and cancels ctx when the client disconnects.
	ctx = conn.CloseRead(ctx)
	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case ev, ok := <-events:
			if !ok {
				_ = conn.Close(websocket.StatusNormalClosure, "session_ended")
				return
			}
			if err := h.write(ctx, conn, ev); err != nil {
				_ = conn.Close(websocket.StatusNormalClosure, "write_failed")
				return
			}
		}
	}
}

func (h *Handler) write(ctx context.Context, conn *websocket.Conn, v any) error {
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, conn, v)
}
