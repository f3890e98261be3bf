package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	authmodels "intake/internal/auth/models"
	"intake/internal/sessionguard/metrics"
	"intake/internal/sessionguard/models"
	"intake/internal/sessionguard/store/actions"
	id "intake/pkg/domain"
)

const (
	waitFor = time.Second
	tick    = 5 * time.Millisecond
)

type recordingTerminator struct {
	mu      sync.Mutex
	reasons []models.Reason
	err     error
}

func (r *recordingTerminator) Terminate(_ context.Context, _ id.UserID, _ id.SessionID, reason models.Reason) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reasons = append(r.reasons, reason)
	return r.err
}

func (r *recordingTerminator) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func (r *recordingTerminator) calls() []models.Reason {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Reason(nil), r.reasons...)
}

type GuardSuite struct {
	suite.Suite
	clock      *clockwork.FakeClock
	terminator *recordingTerminator
	metrics    *metrics.Metrics
	registry   *Registry
	guard      *Guard
	ctx        context.Context
}

func TestGuardSuite(t *testing.T) {
	suite.Run(t, new(GuardSuite))
}

// monday10 is inside the default test business hours.
var monday10 = time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC)

func testConfig() models.Config {
	cfg := models.DefaultConfig()
	cfg.HeartbeatTimeout = 0
	cfg.MaxActionsPerMinute = 5
	return cfg
}

func (s *GuardSuite) SetupTest() {
	s.ctx = context.Background()
	s.setup(monday10, testConfig(), AlwaysOpen())
}

func (s *GuardSuite) TearDownTest() {
	if s.registry != nil {
		s.registry.Shutdown(s.ctx)
	}
}

func (s *GuardSuite) setup(start time.Time, cfg models.Config, hours *BusinessHours) {
	if s.registry != nil {
		s.registry.Shutdown(s.ctx)
	}
	s.clock = clockwork.NewFakeClockAt(start)
	s.terminator = &recordingTerminator{}
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.registry = NewRegistry(s.terminator, actions.NewInMemoryCounter(),
		WithConfig(cfg),
		WithClock(s.clock),
		WithBusinessHours(hours),
		WithMetrics(s.metrics),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	g, err := s.registry.Ensure(s.ctx, id.NewUserID(), id.NewSessionID())
	s.Require().NoError(err)
	s.guard = g
}

func (s *GuardSuite) state() models.State {
	return s.guard.Status(s.ctx).State
}

func (s *GuardSuite) waitForState(want models.State) {
	s.Require().Eventually(func() bool { return s.state() == want }, waitFor, tick)
}

func (s *GuardSuite) waitForLogout(want models.Reason) {
	s.Require().Eventually(func() bool { return len(s.terminator.calls()) > 0 }, waitFor, tick)
	s.Equal([]models.Reason{want}, s.terminator.calls())
	<-s.guard.Done()
}

func (s *GuardSuite) assertNoLogout() {
	s.Never(func() bool { return len(s.terminator.calls()) > 0 }, 50*time.Millisecond, tick)
}

func (s *GuardSuite) TestActivityKeepsSessionActive() {
	for range 8 {
		s.clock.Advance(14 * time.Minute)
		status, err := s.guard.RecordActivity(s.ctx, models.ActivityClick)
		s.Require().NoError(err)
		s.Equal(models.StateActive, status.State)
	}
	s.assertNoLogout()
	s.Equal(models.StateActive, s.state())
}

func (s *GuardSuite) TestInactivityWarnsThenLogsOut() {
	s.clock.Advance(15 * time.Minute)
	s.waitForState(models.StateWarned)

	status := s.guard.Status(s.ctx)
	s.Require().NotNil(status.WarningDeadline)
	s.Equal(monday10.Add(16*time.Minute), *status.WarningDeadline)

	s.clock.Advance(60 * time.Second)
	s.waitForLogout(authmodels.RevocationReasonInactivity)
	s.Equal(models.StateExpired, s.state())
	s.Zero(s.registry.Len(), "a logged out guard leaves the registry")
}

func (s *GuardSuite) TestActivityDuringWarningResumes() {
	s.clock.Advance(15 * time.Minute)
	s.waitForState(models.StateWarned)

	status, err := s.guard.RecordActivity(s.ctx, models.ActivityKeydown)
	s.Require().NoError(err)
	s.Equal(models.StateActive, status.State)
	s.Nil(status.WarningDeadline)

	s.clock.Advance(60 * time.Second)
	s.assertNoLogout()
	s.Equal(models.StateActive, s.state())
}

func (s *GuardSuite) TestExtendAcknowledgesWarning() {
	s.clock.Advance(15 * time.Minute)
	s.waitForState(models.StateWarned)

	status, err := s.guard.Extend(s.ctx)
	s.Require().NoError(err)
	s.Equal(models.StateActive, status.State)
	s.clock.Advance(2 * time.Minute)
	s.assertNoLogout()
}

func (s *GuardSuite) TestActionRateCeiling() {
	for range 5 {
		_, err := s.guard.RecordActivity(s.ctx, models.ActivityClick)
		s.Require().NoError(err)
	}

	_, err := s.guard.RecordActivity(s.ctx, models.ActivityClick)
	s.ErrorIs(err, ErrGuardStopped)
	s.waitForLogout(authmodels.RevocationReasonSuspiciousActivity)

	_, err = s.guard.RecordActivity(s.ctx, models.ActivityClick)
	s.ErrorIs(err, ErrGuardStopped)
	s.Len(s.terminator.calls(), 1)
}

func (s *GuardSuite) TestFailedForcedLogoutBlocksSession() {
	s.terminator.fail(errors.New("redis unavailable"))
	for range 5 {
		_, err := s.guard.RecordActivity(s.ctx, models.ActivityClick)
		s.Require().NoError(err)
	}
	_, err := s.guard.RecordActivity(s.ctx, models.ActivityClick)
	s.Require().Error(err)
	<-s.guard.Done()

	s.Zero(s.registry.Len())
	s.True(s.registry.Ended(s.guard.SessionID()))

	g, err := s.registry.Ensure(s.ctx, s.guard.UserID(), s.guard.SessionID())
	s.ErrorIs(err, ErrSessionEnded)
	s.Nil(g)
	s.Zero(s.registry.Len(), "no fresh guard for a session that was forced out")
	s.Equal([]models.Reason{
		authmodels.RevocationReasonSuspiciousActivity,
		authmodels.RevocationReasonSuspiciousActivity,
	}, s.terminator.calls(), "ensure retries the logout")

	s.terminator.fail(nil)
	_, err = s.registry.Ensure(s.ctx, s.guard.UserID(), s.guard.SessionID())
	s.ErrorIs(err, ErrSessionEnded)
	s.Len(s.terminator.calls(), 3)

	_, err = s.registry.Ensure(s.ctx, s.guard.UserID(), s.guard.SessionID())
	s.ErrorIs(err, ErrSessionEnded)
	s.Len(s.terminator.calls(), 3, "a completed logout is not repeated")
}

func (s *GuardSuite) TestActionRateWindowSlides() {
	for range 5 {
		_, err := s.guard.RecordActivity(s.ctx, models.ActivityTouch)
		s.Require().NoError(err)
	}
	s.clock.Advance(61 * time.Second)
	status, err := s.guard.RecordActivity(s.ctx, models.ActivityTouch)
	s.Require().NoError(err)
	s.Equal(1, status.ActionsInWindow)
	s.assertNoLogout()
}

func (s *GuardSuite) TestScrollIsDebounced() {
	_, err := s.guard.RecordActivity(s.ctx, models.ActivityScroll)
	s.Require().NoError(err)
	for range 20 {
		_, err := s.guard.RecordActivity(s.ctx, models.ActivityScroll)
		s.Require().NoError(err)
	}
	s.Equal(1, s.guard.Status(s.ctx).ActionsInWindow)

	s.clock.Advance(time.Second)
	status, err := s.guard.RecordActivity(s.ctx, models.ActivityScroll)
	s.Require().NoError(err)
	s.Equal(2, status.ActionsInWindow)
}

func (s *GuardSuite) TestOfflineTimeout() {
	status, err := s.guard.SetOnline(s.ctx, false)
	s.Require().NoError(err)
	s.False(status.Online)
	s.Require().NotNil(status.OfflineDeadline)

	s.clock.Advance(2 * time.Minute)
	s.waitForLogout(authmodels.RevocationReasonOffline)
}

func (s *GuardSuite) TestReconnectCancelsOfflineTimer() {
	_, err := s.guard.SetOnline(s.ctx, false)
	s.Require().NoError(err)
	s.clock.Advance(time.Minute)

	status, err := s.guard.SetOnline(s.ctx, true)
	s.Require().NoError(err)
	s.True(status.Online)
	s.Nil(status.OfflineDeadline)

	s.clock.Advance(5 * time.Minute)
	s.assertNoLogout()
}

func (s *GuardSuite) TestMissedHeartbeatsGoOffline() {
	cfg := testConfig()
	cfg.HeartbeatTimeout = 45 * time.Second
	s.setup(monday10, cfg, AlwaysOpen())

	s.clock.Advance(30 * time.Second)
	_, err := s.guard.Heartbeat(s.ctx)
	s.Require().NoError(err)

	s.clock.Advance(30 * time.Second)
	s.True(s.guard.Status(s.ctx).Online, "heartbeat re-armed the watchdog")

	s.clock.Advance(15 * time.Second)
	s.Require().Eventually(func() bool { return !s.guard.Status(s.ctx).Online }, waitFor, tick)

	_, err = s.guard.Heartbeat(s.ctx)
	s.Require().NoError(err)
	s.True(s.guard.Status(s.ctx).Online)
	for range 3 {
		s.clock.Advance(40 * time.Second)
		_, err = s.guard.Heartbeat(s.ctx)
		s.Require().NoError(err)
	}
	s.assertNoLogout()
}

func (s *GuardSuite) TestLeavingBusinessHoursStartsGrace() {
	hours, err := ParseBusinessHours("08:00", "18:00", "mon,tue,wed,thu,fri", "UTC", true)
	s.Require().NoError(err)
	start := time.Date(2025, 3, 3, 17, 59, 30, 0, time.UTC)
	s.setup(start, testConfig(), hours)
	s.True(s.guard.Status(s.ctx).InBusinessHours)

	s.clock.Advance(time.Minute)
	s.Require().Eventually(func() bool { return s.guard.Status(s.ctx).OutOfHoursDeadline != nil }, waitFor, tick)
	s.Equal(start.Add(6*time.Minute), *s.guard.Status(s.ctx).OutOfHoursDeadline)

	s.clock.Advance(models.OutOfHoursGrace)
	s.waitForLogout(authmodels.RevocationReasonOutOfHours)
}

func (s *GuardSuite) TestStartingOutOfHoursArmsGraceImmediately() {
	hours, err := ParseBusinessHours("08:00", "18:00", "mon,tue,wed,thu,fri", "UTC", true)
	s.Require().NoError(err)
	saturday := time.Date(2025, 3, 8, 11, 0, 0, 0, time.UTC)
	s.setup(saturday, testConfig(), hours)

	status := s.guard.Status(s.ctx)
	s.False(status.InBusinessHours)
	s.Require().NotNil(status.OutOfHoursDeadline)
	s.Equal(saturday.Add(5*time.Minute), *status.OutOfHoursDeadline)

	_, err = s.guard.RecordActivity(s.ctx, models.ActivityClick)
	s.Require().NoError(err)
	s.clock.Advance(models.OutOfHoursGrace)
	s.waitForLogout(authmodels.RevocationReasonOutOfHours)
}

func (s *GuardSuite) TestLogoutCancelsTimersExactlyOnce() {
	hours, err := ParseBusinessHours("08:00", "18:00", "mon", "UTC", true)
	s.Require().NoError(err)
	cfg := testConfig()
	cfg.HeartbeatTimeout = 45 * time.Second
	s.setup(time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC), cfg, hours)

	s.Require().NoError(s.guard.Logout(s.ctx, authmodels.RevocationReasonManual))
	s.Require().NoError(s.guard.Logout(s.ctx, authmodels.RevocationReasonInactivity))

	s.guard.mu.Lock()
	cancelled := s.guard.timersCancelled
	s.guard.mu.Unlock()
	s.Equal(4, cancelled, "inactivity, heartbeat, hours check and out-of-hours grace")
	s.Equal(float64(4), promtestutil.ToFloat64(s.metrics.TimersCancelled))

	s.clock.Advance(24 * time.Hour)
	s.Never(func() bool { return len(s.terminator.calls()) > 1 }, 50*time.Millisecond, tick)
	s.Equal([]models.Reason{authmodels.RevocationReasonManual}, s.terminator.calls())

	_, err = s.guard.Heartbeat(s.ctx)
	s.ErrorIs(err, ErrGuardStopped)
	_, err = s.guard.SetOnline(s.ctx, false)
	s.ErrorIs(err, ErrGuardStopped)
	_, err = s.guard.Extend(s.ctx)
	s.ErrorIs(err, ErrGuardStopped)
}

func (s *GuardSuite) TestSubscribeStreamsEvents() {
	events, cancel := s.guard.Subscribe()
	defer cancel()

	s.clock.Advance(15 * time.Minute)
	s.Require().Eventually(func() bool { return len(events) > 0 }, waitFor, tick)
	warning := <-events
	s.Equal(models.EventWarning, warning.Type)
	s.Equal(models.StateWarned, warning.State)

	s.Require().NoError(s.guard.Logout(s.ctx, authmodels.RevocationReasonManual))
	logout, ok := <-events
	s.Require().True(ok)
	s.Equal(models.EventLogout, logout.Type)
	s.Equal("/login", logout.RedirectTo)
	s.Equal(authmodels.RevocationReasonManual, logout.Reason)

	_, ok = <-events
	s.False(ok, "channel closes at teardown")

	late, _ := s.guard.Subscribe()
	ev, ok := <-late
	s.Require().True(ok)
	s.Equal(models.EventLogout, ev.Type)
}

func (s *GuardSuite) TestRegistry() {
	s.Run("start is idempotent", func() {
		s.Require().NoError(s.registry.Start(s.ctx, s.guard.UserID(), s.guard.SessionID()))
		g, ok := s.registry.Get(s.guard.SessionID())
		s.Require().True(ok)
		s.Same(s.guard, g)
		s.Equal(1, s.registry.Len())
	})

	s.Run("logout without a guard goes straight to the terminator", func() {
		s.Require().NoError(s.registry.Logout(s.ctx, id.NewUserID(), id.NewSessionID(), authmodels.RevocationReasonManual))
		s.Equal([]models.Reason{authmodels.RevocationReasonManual}, s.terminator.calls())
	})

	s.Run("remove stops without signing out", func() {
		s.registry.Remove(s.guard.SessionID())
		<-s.guard.Done()
		s.Zero(s.registry.Len())
		s.Len(s.terminator.calls(), 1)
	})

	s.Run("shutdown refuses new guards", func() {
		_, err := s.registry.Ensure(s.ctx, id.NewUserID(), id.NewSessionID())
		s.Require().NoError(err)
		s.registry.Shutdown(s.ctx)
		s.Zero(s.registry.Len())
		s.ErrorIs(s.registry.Start(s.ctx, id.NewUserID(), id.NewSessionID()), ErrRegistryClosed)
	})
}
