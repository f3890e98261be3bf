package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"intake/internal/draft/metrics"
	"intake/internal/draft/models"
	id "intake/pkg/domain"
	dErrors "intake/pkg/domain-errors"
	"intake/pkg/platform/audit"
	"intake/pkg/platform/sentinel"
	"intake/pkg/requestcontext"
)

const (
	DefaultDebounce   = 2500 * time.Millisecond
	DefaultStaleAfter = 24 * time.Hour
)

// Store persists draft snapshots.
type Store interface {
	Load(ctx context.Context, key models.Key) (*models.Snapshot, error)
	Save(ctx context.Context, snap *models.Snapshot) error
	Delete(ctx context.Context, key models.Key) error
	DeleteOwner(ctx context.Context, owner id.UserID) (int, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

type cacheDeps struct {
	store      Store
	clock      clockwork.Clock
	debounce   time.Duration
	staleAfter time.Duration
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// Manager owns the open draft caches, one per agent and form.
type Manager struct {
	deps    cacheDeps
	forms   map[string]models.Fields
	auditor AuditPublisher

	mu     sync.Mutex
	caches map[models.Key]*Cache
}

type Option func(*Manager)

func WithClock(clock clockwork.Clock) Option {
	return func(m *Manager) {
		if clock != nil {
			m.deps.clock = clock
		}
	}
}

func WithDebounce(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.deps.debounce = d
		}
	}
}

func WithStaleAfter(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.deps.staleAfter = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.deps.logger = logger
		}
	}
}

func WithMetrics(metrics *metrics.Metrics) Option {
	return func(m *Manager) { m.deps.metrics = metrics }
}

func WithAuditor(auditor AuditPublisher) Option {
	return func(m *Manager) { m.auditor = auditor }
}

// WithForm registers a form and the defaults its drafts are merged over.
func WithForm(name string, defaults models.Fields) Option {
	return func(m *Manager) { m.forms[name] = defaults.Clone() }
}

func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		deps: cacheDeps{
			store:      store,
			clock:      clockwork.NewRealClock(),
			debounce:   DefaultDebounce,
			staleAfter: DefaultStaleAfter,
			logger:     slog.Default(),
		},
		forms:  make(map[string]models.Fields),
		caches: make(map[models.Key]*Cache),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func isNotFound(err error) bool {
	return errors.Is(err, sentinel.ErrNotFound)
}

// Open returns the cache for key, loading it from the store on first use.
func (m *Manager) Open(ctx context.Context, key models.Key) (*Cache, error) {
	defaults, ok := m.forms[key.Form]
	if !ok {
		return nil, dErrors.New(dErrors.CodeNotFound, "unknown form")
	}
	if c, ok := m.Get(key); ok {
		return c, nil
	}

	c := newCache(key, defaults, m.deps)
	if err := c.load(ctx); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load draft")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.caches[key]; ok {
		return existing, nil
	}
	m.caches[key] = c
	m.deps.metrics.CacheOpened()
	return c, nil
}

func (m *Manager) Get(key models.Key) (*Cache, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.caches[key]
	return c, ok
}

// Draft returns the current data and status of a form.
func (m *Manager) Draft(ctx context.Context, key models.Key) (*models.Draft, error) {
	c, err := m.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	return &models.Draft{Data: c.Data(), Status: c.Status()}, nil
}

// Update applies field edits to a form's draft.
func (m *Manager) Update(ctx context.Context, key models.Key, fields models.Fields) (*models.Draft, error) {
	c, err := m.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	status, err := c.Update(ctx, fields)
	if err != nil {
		return nil, err
	}
	return &models.Draft{Data: c.Data(), Status: status}, nil
}

// SaveNow flushes a form's draft immediately.
func (m *Manager) SaveNow(ctx context.Context, key models.Key) (models.Status, error) {
	c, err := m.Open(ctx, key)
	if err != nil {
		return models.Status{}, err
	}
	status, err := c.SaveNow(ctx)
	if err != nil && !errors.Is(err, ErrCacheClosed) {
		return status, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save draft")
	}
	return status, err
}

// Clear drops a form's draft after a confirmed submission.
func (m *Manager) Clear(ctx context.Context, key models.Key) error {
	c, err := m.Open(ctx, key)
	if err != nil {
		return err
	}
	if err := c.Clear(ctx); err != nil {
		if errors.Is(err, ErrCacheClosed) {
			return err
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to clear draft")
	}
	m.logAudit(ctx, key, audit.EventDraftCleared, "submitted")
	return nil
}

// takeOwner removes and returns all caches of owner.
func (m *Manager) takeOwner(owner id.UserID) []*Cache {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Cache
	for k, c := range m.caches {
		if k.OwnerID == owner {
			out = append(out, c)
			delete(m.caches, k)
		}
	}
	m.deps.metrics.CachesClosed(len(out))
	return out
}

// Evict drops owner's caches from memory after writing unsaved edits.
// Persisted drafts stay in place.
func (m *Manager) Evict(ctx context.Context, owner id.UserID) int {
	caches := m.takeOwner(owner)
	for _, c := range caches {
		if err := c.closeAndFlush(ctx); err != nil {
			m.deps.logger.ErrorContext(ctx, "failed to flush draft on eviction",
				"user_id", owner.String(),
				"form", c.key.Form,
				"error", err,
			)
		}
	}
	return len(caches)
}

// PurgeOwner discards owner's caches and deletes every persisted draft.
// Forced logout uses it to leave nothing behind on the device.
func (m *Manager) PurgeOwner(ctx context.Context, owner id.UserID) (int, error) {
	for _, c := range m.takeOwner(owner) {
		c.Close()
	}
	n, err := m.deps.store.DeleteOwner(ctx, owner)
	if err != nil {
		return 0, err
	}
	m.deps.metrics.AddPurged(n)
	if n > 0 {
		m.logAudit(ctx, models.Key{OwnerID: owner}, audit.EventDraftCleared, "logout")
	}
	return n, nil
}

// FlushAll writes every dirty cache and closes it. Used at shutdown.
func (m *Manager) FlushAll(ctx context.Context) error {
	m.mu.Lock()
	caches := make([]*Cache, 0, len(m.caches))
	for _, c := range m.caches {
		caches = append(caches, c)
	}
	m.caches = make(map[models.Key]*Cache)
	m.mu.Unlock()
	m.deps.metrics.CachesClosed(len(caches))

	var errs []error
	for _, c := range caches {
		if err := c.closeAndFlush(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.caches)
}

func (m *Manager) logAudit(ctx context.Context, key models.Key, event audit.AuditEvent, reason string) {
	if m.auditor == nil {
		return
	}
	var sessionID string
	if sid := requestcontext.SessionID(ctx); !sid.IsNil() {
		sessionID = sid.String()
	}
	err := m.auditor.Emit(ctx, audit.Event{
		UserID:    key.OwnerID,
		SessionID: sessionID,
		Subject:   key.Form,
		Action:    string(event),
		Reason:    reason,
		RequestID: requestcontext.RequestID(ctx),
	})
	if err != nil {
		m.deps.logger.WarnContext(ctx, "failed to emit audit event",
			"action", string(event),
			"error", err,
		)
	}
}
