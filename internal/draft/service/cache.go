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
	dErrors "intake/pkg/domain-errors"
)

// ErrCacheClosed is returned by a cache that was closed by logout or eviction.
var ErrCacheClosed = errors.New("draft cache closed")

const (
	flushTriggerDebounce = "debounce"
	flushTriggerManual   = "manual"
	flushTriggerEvict    = "evict"
	flushTimeout         = 10 * time.Second
)

// Cache holds one form's draft in memory and writes it to the store after a
// quiet period. A mutation that lands while a flush is in flight keeps the
// cache dirty, so Status never claims data is saved when it is not.
type Cache struct {
	key        models.Key
	defaults   models.Fields
	store      Store
	clock      clockwork.Clock
	debounce   time.Duration
	staleAfter time.Duration
	logger     *slog.Logger
	metrics    *metrics.Metrics

	// flushMu serializes store writes and deletes so lastSavedAt only moves forward.
	flushMu sync.Mutex

	mu          sync.Mutex
	data        models.Fields
	lastSavedAt *time.Time
	dirty       bool
	version     uint64
	timer       clockwork.Timer
	timerGen    uint64
	closed      bool
}

func newCache(key models.Key, defaults models.Fields, d cacheDeps) *Cache {
	return &Cache{
		key:        key,
		defaults:   defaults.Clone(),
		data:       defaults.Clone(),
		store:      d.store,
		clock:      d.clock,
		debounce:   d.debounce,
		staleAfter: d.staleAfter,
		logger:     d.logger,
		metrics:    d.metrics,
	}
}

// load merges the persisted snapshot over the defaults. Keys the form does not
// define are dropped.
func (c *Cache) load(ctx context.Context) error {
	snap, err := c.store.Load(ctx, c.key)
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range snap.Data {
		if _, ok := c.defaults[k]; ok {
			c.data[k] = v
		}
	}
	savedAt := snap.SavedAt
	c.lastSavedAt = &savedAt
	return nil
}

func (c *Cache) Key() models.Key { return c.key }

// Data returns a copy of the current in-memory fields.
func (c *Cache) Data() models.Fields {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data.Clone()
}

// Update merges fields into the draft and restarts the debounce window.
// Fields the form does not define are rejected before anything is applied.
func (c *Cache) Update(_ context.Context, fields models.Fields) (models.Status, error) {
	for k := range fields {
		if _, ok := c.defaults[k]; !ok {
			return models.Status{}, dErrors.New(dErrors.CodeInvalidInput, "unknown field: "+k)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return models.Status{}, ErrCacheClosed
	}
	for k, v := range fields {
		c.data[k] = v
	}
	c.version++
	c.dirty = true
	c.armLocked()
	c.metrics.IncrementUpdates()
	return c.statusLocked(), nil
}

func (c *Cache) armLocked() {
	c.stopTimerLocked()
	gen := c.timerGen
	c.timer = c.clock.AfterFunc(c.debounce, func() {
		c.mu.Lock()
		if c.closed || gen != c.timerGen {
			c.mu.Unlock()
			return
		}
		c.timer = nil
		c.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		defer cancel()
		if err := c.flush(ctx, flushTriggerDebounce, false); err != nil {
			c.logger.ErrorContext(ctx, "debounced draft flush failed",
				"user_id", c.key.OwnerID.String(),
				"form", c.key.Form,
				"error", err,
			)
			c.rearmAfterFailure()
		}
	})
}

// rearmAfterFailure schedules another attempt for edits a failed write left
// unsaved. A timer armed by a newer edit is left alone.
func (c *Cache) rearmAfterFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed && c.dirty && c.timer == nil {
		c.armLocked()
	}
}

// stopTimerLocked invalidates any pending flush, including one whose callback
// is already running but has not taken the lock yet.
func (c *Cache) stopTimerLocked() {
	c.timerGen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// flush writes the current data. Unless force is set, a clean cache is skipped.
func (c *Cache) flush(ctx context.Context, trigger string, force bool) error {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	c.mu.Lock()
	if c.closed && trigger != flushTriggerEvict {
		c.mu.Unlock()
		return ErrCacheClosed
	}
	if !c.dirty && !force {
		c.mu.Unlock()
		return nil
	}
	version := c.version
	snap := &models.Snapshot{Key: c.key, Data: c.data.Clone(), SavedAt: c.clock.Now().UTC()}
	c.mu.Unlock()

	start := time.Now()
	err := c.store.Save(ctx, snap)
	c.metrics.ObserveFlush(trigger, err, time.Since(start))
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	savedAt := snap.SavedAt
	c.lastSavedAt = &savedAt
	if c.version == version {
		c.dirty = false
	}
	return nil
}

// SaveNow cancels any pending debounce and writes immediately.
func (c *Cache) SaveNow(ctx context.Context) (models.Status, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return models.Status{}, ErrCacheClosed
	}
	c.stopTimerLocked()
	c.mu.Unlock()

	if err := c.flush(ctx, flushTriggerManual, true); err != nil {
		c.rearmAfterFailure()
		return c.Status(), err
	}
	return c.Status(), nil
}

// Clear drops the persisted draft and resets the form to its defaults.
func (c *Cache) Clear(ctx context.Context) error {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrCacheClosed
	}
	c.stopTimerLocked()
	c.mu.Unlock()

	if err := c.store.Delete(ctx, c.key); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = c.defaults.Clone()
	c.lastSavedAt = nil
	c.dirty = false
	c.version++
	return nil
}

// Status reports dirtiness and staleness as of the cache clock.
func (c *Cache) Status() models.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

func (c *Cache) statusLocked() models.Status {
	st := models.Status{
		Form:    c.key.Form,
		Dirty:   c.dirty,
		Pending: c.timer != nil,
	}
	if c.lastSavedAt != nil {
		saved := *c.lastSavedAt
		st.LastSavedAt = &saved
		age := c.clock.Since(saved)
		if age > 0 {
			st.AgeSeconds = int64(age / time.Second)
		}
		st.Stale = age > c.staleAfter
	}
	return st
}

// Close cancels the pending flush. Unsaved edits are discarded.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopTimerLocked()
	c.closed = true
}

// closeAndFlush closes the cache and writes any unsaved edits first.
func (c *Cache) closeAndFlush(ctx context.Context) error {
	c.Close()
	return c.flush(ctx, flushTriggerEvict, false)
}
