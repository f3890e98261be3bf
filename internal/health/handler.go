// Package health reports whether the backing stores answer.
package health

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"

	"intake/pkg/platform/httputil"
)

const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"

	checkTimeout = 2 * time.Second
)

// Checker pings one dependency.
type Checker interface {
	Health(ctx context.Context) error
}

type check struct {
	name    string
	checker Checker
}

// Response lists each configured dependency as "ok", "error" or "disabled".
type Response struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp time.Time         `json:"timestamp"`
}

type Handler struct {
	checks []check
	clock  clockwork.Clock
	logger *slog.Logger
}

type Option func(*Handler)

// WithCheck adds a dependency. A nil checker is reported as disabled.
func WithCheck(name string, c Checker) Option {
	return func(h *Handler) { h.checks = append(h.checks, check{name: name, checker: c}) }
}

func WithClock(clock clockwork.Clock) Option {
	return func(h *Handler) {
		if clock != nil {
			h.clock = clock
		}
	}
}

func New(logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{clock: clockwork.NewRealClock(), logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/health", h.HandleHealth)
}

// HandleHealth handles GET /health.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()

	resp := Response{
		Status:    StatusHealthy,
		Checks:    make(map[string]string, len(h.checks)),
		Timestamp: h.clock.Now().UTC(),
	}
	for _, c := range h.checks {
		if c.checker == nil {
			resp.Checks[c.name] = "disabled"
			continue
		}
		if err := c.checker.Health(ctx); err != nil {
			h.logger.WarnContext(ctx, "health check failed", "check", c.name, "error", err)
			resp.Checks[c.name] = "error"
			resp.Status = StatusDegraded
			continue
		}
		resp.Checks[c.name] = "ok"
	}

	status := http.StatusOK
	if resp.Status == StatusDegraded {
		status = http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, status, resp)
}
