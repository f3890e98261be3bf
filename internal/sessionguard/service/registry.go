package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/jonboulle/clockwork"

	"intake/internal/sessionguard/metrics"
	"intake/internal/sessionguard/models"
	id "intake/pkg/domain"
)

var (
	// ErrRegistryClosed is returned by Start after Shutdown.
	ErrRegistryClosed = errors.New("session guard registry closed")
	// ErrSessionEnded is returned for a session whose forced logout could not
	// be completed. No new guard is started for it.
	ErrSessionEnded = errors.New("session ended by forced logout")
)

type guardDeps struct {
	cfg        models.Config
	clock      clockwork.Clock
	hours      *BusinessHours
	counter    ActionCounter
	terminator Terminator
	auditor    AuditPublisher
	logger     *slog.Logger
	metrics    *metrics.Metrics
	onStop     func(*Guard)
}

// Registry owns one Guard per live session.
type Registry struct {
	deps guardDeps

	mu     sync.Mutex
	guards map[id.SessionID]*Guard
	ended  map[id.SessionID]endedSession
	closed bool
}

// endedSession remembers a forced logout that still has to be completed.
type endedSession struct {
	userID id.UserID
	reason models.Reason
}

type Option func(*guardDeps)

func WithConfig(cfg models.Config) Option {
	return func(d *guardDeps) { d.cfg = cfg }
}

func WithClock(clock clockwork.Clock) Option {
	return func(d *guardDeps) {
		if clock != nil {
			d.clock = clock
		}
	}
}

func WithBusinessHours(hours *BusinessHours) Option {
	return func(d *guardDeps) {
		if hours != nil {
			d.hours = hours
		}
	}
}

func WithActionCounter(counter ActionCounter) Option {
	return func(d *guardDeps) {
		if counter != nil {
			d.counter = counter
		}
	}
}

func WithAuditor(auditor AuditPublisher) Option {
	return func(d *guardDeps) { d.auditor = auditor }
}

func WithLogger(logger *slog.Logger) Option {
	return func(d *guardDeps) {
		if logger != nil {
			d.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *guardDeps) { d.metrics = m }
}

func NewRegistry(terminator Terminator, counter ActionCounter, opts ...Option) *Registry {
	r := &Registry{
		deps: guardDeps{
			cfg:        models.DefaultConfig(),
			clock:      clockwork.NewRealClock(),
			hours:      AlwaysOpen(),
			counter:    counter,
			terminator: terminator,
			logger:     slog.Default(),
		},
		guards: make(map[id.SessionID]*Guard),
		ended:  make(map[id.SessionID]endedSession),
	}
	for _, opt := range opts {
		opt(&r.deps)
	}
	r.deps.cfg = r.deps.cfg.WithDefaults()
	r.deps.onStop = r.forget
	return r
}

// Start begins guarding a session. Starting an already guarded session is a no-op.
func (r *Registry) Start(ctx context.Context, userID id.UserID, sessionID id.SessionID) error {
	_, err := r.Ensure(ctx, userID, sessionID)
	return err
}

// Ensure returns the session's guard, starting one if none is running.
func (r *Registry) Ensure(ctx context.Context, userID id.UserID, sessionID id.SessionID) (*Guard, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRegistryClosed
	}
	if g, ok := r.guards[sessionID]; ok {
		r.mu.Unlock()
		return g, nil
	}
	if ended, ok := r.ended[sessionID]; ok {
		r.mu.Unlock()
		r.retryTermination(ctx, sessionID, ended)
		return nil, ErrSessionEnded
	}
	g := newGuard(userID, sessionID, r.deps)
	r.guards[sessionID] = g
	r.mu.Unlock()

	g.Start()
	r.deps.logger.InfoContext(ctx, "session guard started",
		"session_id", sessionID.String(),
		"user_id", userID.String(),
	)
	return g, nil
}

func (r *Registry) Get(sessionID id.SessionID) (*Guard, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.guards[sessionID]
	return g, ok
}

// Remove stops the session's guard without ending the session.
func (r *Registry) Remove(sessionID id.SessionID) {
	if g, ok := r.Get(sessionID); ok {
		g.Stop()
	}
}

// Logout forces the session to end through its guard, or directly through
// the terminator when no guard is running.
func (r *Registry) Logout(ctx context.Context, userID id.UserID, sessionID id.SessionID, reason models.Reason) error {
	if g, ok := r.Get(sessionID); ok {
		return g.Logout(ctx, reason)
	}
	return r.deps.terminator.Terminate(ctx, userID, sessionID, reason)
}

// Ended reports whether the session is blocked by an unfinished forced logout.
func (r *Registry) Ended(sessionID id.SessionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.ended[sessionID]
	return ok
}

// retryTermination runs the forced logout again. The session stays blocked
// either way; a successful retry only stops further attempts.
func (r *Registry) retryTermination(ctx context.Context, sessionID id.SessionID, ended endedSession) {
	if ended.reason == "" {
		return
	}
	tctx, cancel := context.WithTimeout(ctx, terminateTimeout)
	defer cancel()
	if err := r.deps.terminator.Terminate(tctx, ended.userID, sessionID, ended.reason); err != nil {
		r.deps.logger.WarnContext(ctx, "forced logout retry failed",
			"session_id", sessionID.String(),
			"reason", ended.reason.String(),
			"error", err,
		)
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.ended[sessionID]; ok && cur == ended {
		r.ended[sessionID] = endedSession{userID: ended.userID}
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.guards)
}

// Shutdown stops every guard and refuses new ones. Sessions stay valid.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	r.closed = true
	guards := make([]*Guard, 0, len(r.guards))
	for _, g := range r.guards {
		guards = append(guards, g)
	}
	r.mu.Unlock()

	for _, g := range guards {
		g.Stop()
	}
	r.deps.logger.InfoContext(ctx, "session guards stopped", "count", len(guards))
}

func (r *Registry) forget(g *Guard) {
	reason, unfinished := g.unfinishedLogout()
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.guards[g.sessionID]; ok && cur == g {
		delete(r.guards, g.sessionID)
	}
	if unfinished {
		r.ended[g.sessionID] = endedSession{userID: g.userID, reason: reason}
	}
}
