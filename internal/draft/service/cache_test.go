package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"

	"intake/internal/draft/metrics"
	"intake/internal/draft/models"
	"intake/internal/draft/store"
	id "intake/pkg/domain"
	dErrors "intake/pkg/domain-errors"
	"intake/pkg/platform/audit"
	"intake/pkg/platform/audit/publisher"
	auditmemory "intake/pkg/platform/audit/store/memory"
	"intake/pkg/platform/sentinel"
)

const (
	testForm = "customer_registration"
	waitFor  = time.Second
	tick     = 5 * time.Millisecond
)

func testDefaults() models.Fields {
	return models.Fields{"empresa": "", "cpf": "", "email": "", "celular": ""}
}

// countingStore wraps the in-memory store and counts writes.
type countingStore struct {
	*store.InMemoryStore
	attempts atomic.Int32
	saves    atomic.Int32
	fail     atomic.Bool
}

func (c *countingStore) Save(ctx context.Context, snap *models.Snapshot) error {
	c.attempts.Add(1)
	if c.fail.Load() {
		return errors.New("store unavailable")
	}
	c.saves.Add(1)
	return c.InMemoryStore.Save(ctx, snap)
}

// blockingStore holds Save until release is closed.
type blockingStore struct {
	*store.InMemoryStore
	entered chan struct{}
	release chan struct{}
}

func (b *blockingStore) Save(ctx context.Context, snap *models.Snapshot) error {
	close(b.entered)
	<-b.release
	return b.InMemoryStore.Save(ctx, snap)
}

type CacheSuite struct {
	suite.Suite
	ctx     context.Context
	clock   *clockwork.FakeClock
	store   *countingStore
	audit   *auditmemory.InMemoryStore
	manager *Manager
	owner   id.UserID
	key     models.Key
}

func TestCacheSuite(t *testing.T) {
	suite.Run(t, new(CacheSuite))
}

func (s *CacheSuite) SetupTest() {
	s.ctx = context.Background()
	s.clock = clockwork.NewFakeClockAt(time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC))
	s.store = &countingStore{InMemoryStore: store.NewInMemory(store.WithMemoryNow(s.clock.Now))}
	s.audit = auditmemory.NewInMemoryStore()
	s.manager = s.newManager(s.store)
	s.owner = id.NewUserID()
	s.key = models.Key{OwnerID: s.owner, Form: testForm}
}

func (s *CacheSuite) newManager(st Store) *Manager {
	return NewManager(st,
		WithClock(s.clock),
		WithForm(testForm, testDefaults()),
		WithForm("address_proof", models.Fields{"cep": ""}),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithMetrics(metrics.New(prometheus.NewRegistry())),
		WithAuditor(publisher.NewPublisher(s.audit)),
	)
}

func (s *CacheSuite) open() *Cache {
	c, err := s.manager.Open(s.ctx, s.key)
	s.Require().NoError(err)
	return c
}

func (s *CacheSuite) update(c *Cache, fields models.Fields) models.Status {
	st, err := c.Update(s.ctx, fields)
	s.Require().NoError(err)
	return st
}

func (s *CacheSuite) TestOpenMergesPersistedOverDefaults() {
	savedAt := s.clock.Now().Add(-time.Hour)
	s.Require().NoError(s.store.InMemoryStore.Save(s.ctx, &models.Snapshot{
		Key:     s.key,
		Data:    models.Fields{"empresa": "ACME", "retired_field": "x"},
		SavedAt: savedAt,
	}))

	c := s.open()
	data := c.Data()
	s.Equal("ACME", data["empresa"])
	s.Equal("", data["cpf"])
	s.NotContains(data, "retired_field")

	st := c.Status()
	s.False(st.Dirty)
	s.Require().NotNil(st.LastSavedAt)
	s.True(savedAt.Equal(*st.LastSavedAt))
	s.Equal(int64(3600), st.AgeSeconds)
	s.False(st.Stale)
}

func (s *CacheSuite) TestOpenUnknownForm() {
	_, err := s.manager.Open(s.ctx, models.Key{OwnerID: s.owner, Form: "nope"})
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *CacheSuite) TestOpenReturnsSameCache() {
	s.Same(s.open(), s.open())
	s.Equal(1, s.manager.Len())
}

func (s *CacheSuite) TestRapidEditsProduceOneFlush() {
	c := s.open()
	s.update(c, models.Fields{"empresa": "A"})
	s.clock.Advance(time.Second)
	s.update(c, models.Fields{"empresa": "AC"})
	s.clock.Advance(time.Second)
	st := s.update(c, models.Fields{"empresa": "ACME"})
	s.True(st.Dirty)
	s.True(st.Pending)

	s.clock.Advance(2 * time.Second)
	s.Never(func() bool { return s.store.saves.Load() > 0 }, 50*time.Millisecond, tick)

	s.clock.Advance(500 * time.Millisecond)
	s.Eventually(func() bool { return s.store.saves.Load() == 1 }, waitFor, tick)
	s.Eventually(func() bool { return !c.Status().Dirty }, waitFor, tick)

	s.clock.Advance(10 * time.Second)
	s.Never(func() bool { return s.store.saves.Load() > 1 }, 50*time.Millisecond, tick)

	snap, err := s.store.Load(s.ctx, s.key)
	s.Require().NoError(err)
	s.Equal("ACME", snap.Data["empresa"])
	st = c.Status()
	s.Require().NotNil(st.LastSavedAt)
	s.True(snap.SavedAt.Equal(*st.LastSavedAt))
	s.False(st.Pending)
}

func (s *CacheSuite) TestSaveNowAlwaysFlushes() {
	c := s.open()

	s.Run("clean cache", func() {
		st, err := c.SaveNow(s.ctx)
		s.Require().NoError(err)
		s.EqualValues(1, s.store.saves.Load())
		s.NotNil(st.LastSavedAt)
	})

	s.Run("pending debounce is cancelled", func() {
		s.update(c, models.Fields{"cpf": "52998224725"})
		st, err := c.SaveNow(s.ctx)
		s.Require().NoError(err)
		s.False(st.Dirty)
		s.False(st.Pending)
		s.EqualValues(2, s.store.saves.Load())

		s.clock.Advance(5 * time.Second)
		s.Never(func() bool { return s.store.saves.Load() > 2 }, 50*time.Millisecond, tick)
	})
}

func (s *CacheSuite) TestFailedFlushStaysDirty() {
	c := s.open()
	s.update(c, models.Fields{"empresa": "ACME"})
	s.store.fail.Store(true)

	st, err := c.SaveNow(s.ctx)
	s.Require().Error(err)
	s.True(st.Dirty)
	s.Nil(st.LastSavedAt)
	s.True(st.Pending, "a failed save re-arms the debounce")

	s.store.fail.Store(false)
	s.clock.Advance(DefaultDebounce)
	s.Eventually(func() bool { return !c.Status().Dirty }, waitFor, tick)
}

func (s *CacheSuite) TestFailedDebouncedFlushRetries() {
	c := s.open()
	s.store.fail.Store(true)
	s.update(c, models.Fields{"empresa": "ACME"})

	s.clock.Advance(DefaultDebounce)
	s.Eventually(func() bool {
		return s.store.attempts.Load() == 1 && c.Status().Pending
	}, waitFor, tick, "failed write schedules a retry")
	st := c.Status()
	s.True(st.Dirty)
	s.Nil(st.LastSavedAt)
	s.EqualValues(0, s.store.saves.Load())

	s.store.fail.Store(false)
	s.clock.Advance(DefaultDebounce)
	s.Eventually(func() bool { return !c.Status().Dirty }, waitFor, tick)
	s.EqualValues(1, s.store.saves.Load())
	s.False(c.Status().Pending)

	snap, err := s.store.Load(s.ctx, s.key)
	s.Require().NoError(err)
	s.Equal("ACME", snap.Data["empresa"])
}

func (s *CacheSuite) TestMutationDuringFlushKeepsDirty() {
	blocking := &blockingStore{
		InMemoryStore: store.NewInMemory(),
		entered:       make(chan struct{}),
		release:       make(chan struct{}),
	}
	s.manager = s.newManager(blocking)
	c := s.open()
	s.update(c, models.Fields{"empresa": "ACME"})

	done := make(chan error, 1)
	go func() {
		_, err := c.SaveNow(s.ctx)
		done <- err
	}()
	<-blocking.entered

	s.update(c, models.Fields{"cpf": "52998224725"})
	close(blocking.release)
	s.Require().NoError(<-done)

	st := c.Status()
	s.True(st.Dirty, "edit made during the write is not saved yet")
	s.Require().NotNil(st.LastSavedAt)

	snap, err := blocking.Load(s.ctx, s.key)
	s.Require().NoError(err)
	s.Equal("", snap.Data["cpf"])
	s.True(snap.SavedAt.Equal(*st.LastSavedAt))
}

func (s *CacheSuite) TestClearResetsToDefaults() {
	c := s.open()
	s.update(c, models.Fields{"empresa": "ACME"})
	_, err := c.SaveNow(s.ctx)
	s.Require().NoError(err)
	s.update(c, models.Fields{"cpf": "1"})

	s.Require().NoError(s.manager.Clear(s.ctx, s.key))

	_, err = s.store.Load(s.ctx, s.key)
	s.ErrorIs(err, sentinel.ErrNotFound)
	s.Equal(testDefaults(), c.Data())
	st := c.Status()
	s.False(st.Dirty)
	s.False(st.Pending)
	s.Nil(st.LastSavedAt)

	s.clock.Advance(5 * time.Second)
	s.Never(func() bool { return s.store.saves.Load() > 1 }, 50*time.Millisecond, tick)

	reloaded, err := s.newManager(s.store).Open(s.ctx, s.key)
	s.Require().NoError(err)
	s.Equal(testDefaults(), reloaded.Data())

	events, err := s.audit.ListByAction(s.ctx, audit.EventDraftCleared)
	s.Require().NoError(err)
	s.Len(events, 1)
}

func (s *CacheSuite) TestConcurrentEditsMerge() {
	c := s.open()
	fields := []string{"empresa", "cpf", "email", "celular"}

	var wg sync.WaitGroup
	for _, f := range fields {
		wg.Add(1)
		go func(field string) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				_, _ = c.Update(s.ctx, models.Fields{field: fmt.Sprintf("%s-%d", field, i)})
			}
		}(f)
	}
	wg.Wait()

	_, err := c.SaveNow(s.ctx)
	s.Require().NoError(err)
	snap, err := s.store.Load(s.ctx, s.key)
	s.Require().NoError(err)
	for _, f := range fields {
		s.Equal(f+"-19", snap.Data[f])
	}
}

func (s *CacheSuite) TestUpdateRejectsUnknownField() {
	c := s.open()
	_, err := c.Update(s.ctx, models.Fields{"empresa": "ACME", "hacker": "x"})
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	s.Equal("", c.Data()["empresa"], "nothing is applied when one field is unknown")
	s.False(c.Status().Dirty)
}

func (s *CacheSuite) TestStaleness() {
	s.Require().NoError(s.store.InMemoryStore.Save(s.ctx, &models.Snapshot{
		Key:     s.key,
		Data:    models.Fields{"empresa": "old"},
		SavedAt: s.clock.Now().Add(-25 * time.Hour),
	}))
	s.True(s.open().Status().Stale)
}

func (s *CacheSuite) TestPurgeOwner() {
	c := s.open()
	s.update(c, models.Fields{"empresa": "ACME"})
	_, err := c.SaveNow(s.ctx)
	s.Require().NoError(err)
	other, err := s.manager.Open(s.ctx, models.Key{OwnerID: s.owner, Form: "address_proof"})
	s.Require().NoError(err)
	_, err = other.SaveNow(s.ctx)
	s.Require().NoError(err)
	s.update(c, models.Fields{"cpf": "1"})

	n, err := s.manager.PurgeOwner(s.ctx, s.owner)
	s.Require().NoError(err)
	s.Equal(2, n)
	s.Zero(s.manager.Len())

	_, err = c.Update(s.ctx, models.Fields{"cpf": "2"})
	s.ErrorIs(err, ErrCacheClosed)
	s.clock.Advance(5 * time.Second)
	s.Never(func() bool { return s.store.saves.Load() > 2 }, 50*time.Millisecond, tick)

	_, err = s.store.Load(s.ctx, s.key)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *CacheSuite) TestEvictFlushesUnsavedEdits() {
	c := s.open()
	s.update(c, models.Fields{"empresa": "ACME"})

	s.Equal(1, s.manager.Evict(s.ctx, s.owner))
	s.Zero(s.manager.Len())

	snap, err := s.store.Load(s.ctx, s.key)
	s.Require().NoError(err)
	s.Equal("ACME", snap.Data["empresa"])
}

func (s *CacheSuite) TestFlushAll() {
	c := s.open()
	s.update(c, models.Fields{"email": "ana@example.com"})

	s.Require().NoError(s.manager.FlushAll(s.ctx))
	s.Zero(s.manager.Len())
	snap, err := s.store.Load(s.ctx, s.key)
	s.Require().NoError(err)
	s.Equal("ana@example.com", snap.Data["email"])
}
