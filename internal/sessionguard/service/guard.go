package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	authmodels "intake/internal/auth/models"
	"intake/internal/sessionguard/metrics"
	"intake/internal/sessionguard/models"
	id "intake/pkg/domain"
	"intake/pkg/platform/audit"
)

// ErrGuardStopped is returned by calls made after the guard was torn down.
var ErrGuardStopped = errors.New("session guard stopped")

// Terminator performs the side effects of a forced logout.
type Terminator interface {
	Terminate(ctx context.Context, userID id.UserID, sessionID id.SessionID, reason models.Reason) error
}

// ActionCounter counts tracked interactions over a sliding window.
type ActionCounter interface {
	Record(ctx context.Context, key string, now time.Time, window time.Duration) (int, error)
	Count(ctx context.Context, key string, now time.Time, window time.Duration) (int, error)
	Reset(ctx context.Context, key string) error
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

type timerSlot int

const (
	timerInactivity timerSlot = iota
	timerWarning
	timerOffline
	timerOutOfHours
	timerHeartbeat
	timerHoursCheck
	timerSlots
)

const (
	subscriberBuffer = 16
	terminateTimeout = 10 * time.Second
)

// Guard watches one authenticated session and forces logout on inactivity,
// lost connectivity, out-of-hours use or an abnormal action rate.
type Guard struct {
	userID    id.UserID
	sessionID id.SessionID

	cfg        models.Config
	clock      clockwork.Clock
	hours      *BusinessHours
	counter    ActionCounter
	terminator Terminator
	auditor    AuditPublisher
	logger     *slog.Logger
	metrics    *metrics.Metrics
	onStop     func(*Guard)

	mu              sync.Mutex
	state           models.State
	online          bool
	inHours         bool
	lastActivity    time.Time
	lastScroll      time.Time
	lastHeartbeat   time.Time
	warningAt       *time.Time
	offlineAt       *time.Time
	outOfHoursAt    *time.Time
	timers          [timerSlots]clockwork.Timer
	gens            [timerSlots]uint64
	stopped         bool
	logoutReason    models.Reason
	terminateErr    error
	timersCancelled int
	subscribers     map[int]chan models.Event
	nextSubscriber  int

	stopOnce sync.Once
	done     chan struct{}
}

func newGuard(userID id.UserID, sessionID id.SessionID, deps guardDeps) *Guard {
	return &Guard{
		userID:      userID,
		sessionID:   sessionID,
		cfg:         deps.cfg,
		clock:       deps.clock,
		hours:       deps.hours,
		counter:     deps.counter,
		terminator:  deps.terminator,
		auditor:     deps.auditor,
		logger:      deps.logger.With("session_id", sessionID.String(), "user_id", userID.String()),
		metrics:     deps.metrics,
		onStop:      deps.onStop,
		state:       models.StateActive,
		online:      true,
		subscribers: make(map[int]chan models.Event),
		done:        make(chan struct{}),
	}
}

func (g *Guard) UserID() id.UserID       { return g.userID }
func (g *Guard) SessionID() id.SessionID { return g.sessionID }

// Done is closed once the guard has been torn down.
func (g *Guard) Done() <-chan struct{} { return g.done }

// Start arms the inactivity, heartbeat and business-hours timers.
func (g *Guard) Start() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped {
		return
	}
	now := g.clock.Now()
	g.lastActivity = now
	g.lastHeartbeat = now
	g.inHours = g.hours.Contains(now)
	g.armLocked(timerInactivity, g.cfg.InactivityTimeout, g.onInactivity)
	g.armHeartbeatLocked()
	g.armLocked(timerHoursCheck, g.cfg.HoursCheckInterval, g.onHoursCheck)
	if !g.inHours {
		g.enterOutOfHoursLocked(now)
	}
	g.metrics.GuardStarted()
}

// RecordActivity registers a tracked interaction. Scroll events inside the
// debounce window are dropped before they reach the rate counter.
func (g *Guard) RecordActivity(ctx context.Context, kind models.ActivityKind) (models.Status, error) {
	g.mu.Lock()
	if g.stopped {
		g.mu.Unlock()
		return models.Status{}, ErrGuardStopped
	}
	now := g.clock.Now()
	if kind == models.ActivityScroll {
		if !g.lastScroll.IsZero() && now.Sub(g.lastScroll) < g.cfg.ScrollDebounce {
			status := g.statusLocked()
			g.mu.Unlock()
			return status, nil
		}
		g.lastScroll = now
	}
	g.mu.Unlock()

	g.metrics.IncrementActivity(string(kind))
	count, err := g.counter.Record(ctx, g.sessionID.String(), now, g.cfg.RateWindow)
	if err != nil {
		g.logger.WarnContext(ctx, "failed to record guard action", "error", err)
	} else if count > g.cfg.MaxActionsPerMinute {
		g.logger.WarnContext(ctx, "action rate ceiling exceeded",
			"actions", count,
			"ceiling", g.cfg.MaxActionsPerMinute,
		)
		if err := g.Logout(ctx, authmodels.RevocationReasonSuspiciousActivity); err != nil {
			return models.Status{}, err
		}
		return models.Status{}, ErrGuardStopped
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped {
		return models.Status{}, ErrGuardStopped
	}
	g.touchLocked(now)
	g.resumeLocked(now)
	status := g.statusLocked()
	status.ActionsInWindow = count
	return status, nil
}

// Heartbeat records that the browser is still connected.
func (g *Guard) Heartbeat(_ context.Context) (models.Status, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped {
		return models.Status{}, ErrGuardStopped
	}
	g.touchLocked(g.clock.Now())
	return g.statusLocked(), nil
}

// SetOnline applies an explicit connectivity report from the browser.
func (g *Guard) SetOnline(_ context.Context, online bool) (models.Status, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped {
		return models.Status{}, ErrGuardStopped
	}
	now := g.clock.Now()
	if online {
		g.touchLocked(now)
	} else {
		g.goOfflineLocked(now)
	}
	return g.statusLocked(), nil
}

// Extend acknowledges the inactivity warning and returns the guard to Active.
func (g *Guard) Extend(_ context.Context) (models.Status, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped {
		return models.Status{}, ErrGuardStopped
	}
	now := g.clock.Now()
	g.touchLocked(now)
	g.resumeLocked(now)
	return g.statusLocked(), nil
}

// Logout forces the session to end. Only the first call has any effect.
func (g *Guard) Logout(ctx context.Context, reason models.Reason) error {
	return g.teardown(context.WithoutCancel(ctx), reason, true)
}

// Stop releases the guard's timers without ending the session.
func (g *Guard) Stop() {
	_ = g.teardown(context.Background(), authmodels.RevocationReasonShutdown, false)
}

// Status reports the guard's current state.
func (g *Guard) Status(ctx context.Context) models.Status {
	g.mu.Lock()
	status := g.statusLocked()
	stopped := g.stopped
	now := g.clock.Now()
	g.mu.Unlock()

	if !stopped {
		if n, err := g.counter.Count(ctx, g.sessionID.String(), now, g.cfg.RateWindow); err == nil {
			status.ActionsInWindow = n
		}
	}
	return status
}

// Subscribe returns a channel of guard events. The channel is closed at
// teardown; slow subscribers miss events rather than block the guard.
func (g *Guard) Subscribe() (<-chan models.Event, func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch := make(chan models.Event, subscriberBuffer)
	if g.stopped {
		if g.state == models.StateExpired {
			ch <- g.logoutEventLocked(g.clock.Now())
		}
		close(ch)
		return ch, func() {}
	}
	key := g.nextSubscriber
	g.nextSubscriber++
	g.subscribers[key] = ch
	return ch, func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		if sub, ok := g.subscribers[key]; ok {
			delete(g.subscribers, key)
			close(sub)
		}
	}
}

func (g *Guard) teardown(ctx context.Context, reason models.Reason, terminate bool) error {
	var err error
	g.stopOnce.Do(func() {
		g.mu.Lock()
		g.stopped = true
		g.logoutReason = reason
		if terminate {
			g.state = models.StateExpired
		}
		cancelled := 0
		for slot := range timerSlots {
			if g.cancelLocked(slot) {
				cancelled++
			}
		}
		g.timersCancelled = cancelled
		g.mu.Unlock()

		if terminate {
			tctx, cancel := context.WithTimeout(ctx, terminateTimeout)
			err = g.terminator.Terminate(tctx, g.userID, g.sessionID, reason)
			cancel()
			if err != nil {
				g.mu.Lock()
				g.terminateErr = err
				g.mu.Unlock()
				g.logger.ErrorContext(ctx, "forced logout failed", "reason", reason.String(), "error", err)
			} else {
				g.logger.InfoContext(ctx, "session logged out by guard", "reason", reason.String())
			}
			g.metrics.IncrementLogout(reason.String())
		}
		if rerr := g.counter.Reset(ctx, g.sessionID.String()); rerr != nil {
			g.logger.WarnContext(ctx, "failed to reset action counter", "error", rerr)
		}

		g.mu.Lock()
		if terminate {
			g.publishLocked(g.logoutEventLocked(g.clock.Now()))
		}
		for key, ch := range g.subscribers {
			delete(g.subscribers, key)
			close(ch)
		}
		g.mu.Unlock()

		g.metrics.GuardStopped(cancelled)
		if g.onStop != nil {
			g.onStop(g)
		}
		close(g.done)
	})
	return err
}

// unfinishedLogout reports a forced logout whose termination failed.
func (g *Guard) unfinishedLogout() (models.Reason, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.logoutReason, g.state == models.StateExpired && g.terminateErr != nil
}

// armLocked replaces the timer in slot. The generation check drops callbacks
// from timers that were replaced or cancelled after they started firing.
func (g *Guard) armLocked(slot timerSlot, d time.Duration, fire func(now time.Time) func()) {
	g.cancelLocked(slot)
	gen := g.gens[slot]
	g.timers[slot] = g.clock.AfterFunc(d, func() {
		g.mu.Lock()
		if g.stopped || g.gens[slot] != gen {
			g.mu.Unlock()
			return
		}
		g.timers[slot] = nil
		g.gens[slot]++
		after := fire(g.clock.Now())
		g.mu.Unlock()
		if after != nil {
			after()
		}
	})
}

func (g *Guard) cancelLocked(slot timerSlot) bool {
	g.gens[slot]++
	t := g.timers[slot]
	if t == nil {
		return false
	}
	t.Stop()
	g.timers[slot] = nil
	return true
}

func (g *Guard) forceLogout(reason models.Reason) func() {
	return func() {
		_ = g.Logout(context.Background(), reason)
	}
}

func (g *Guard) onInactivity(now time.Time) func() {
	g.state = models.StateWarned
	deadline := now.Add(g.cfg.WarningDuration)
	g.warningAt = &deadline
	g.armLocked(timerWarning, g.cfg.WarningDuration, g.onWarningElapsed)
	g.publishLocked(g.eventLocked(models.EventWarning, now, &deadline))
	g.metrics.IncrementWarning()
	return func() {
		g.logger.Info("session inactive, warning issued", "deadline", deadline)
		g.emitAudit(audit.EventSessionWarned, "inactivity")
	}
}

func (g *Guard) onWarningElapsed(time.Time) func() {
	return g.forceLogout(authmodels.RevocationReasonInactivity)
}

func (g *Guard) onOfflineElapsed(time.Time) func() {
	return g.forceLogout(authmodels.RevocationReasonOffline)
}

func (g *Guard) onOutOfHoursElapsed(time.Time) func() {
	return g.forceLogout(authmodels.RevocationReasonOutOfHours)
}

func (g *Guard) onHeartbeatMissed(now time.Time) func() {
	g.goOfflineLocked(now)
	return nil
}

func (g *Guard) onHoursCheck(now time.Time) func() {
	g.armLocked(timerHoursCheck, g.cfg.HoursCheckInterval, g.onHoursCheck)
	inHours := g.hours.Contains(now)
	if inHours == g.inHours {
		return nil
	}
	g.inHours = inHours
	if !inHours {
		g.enterOutOfHoursLocked(now)
		return nil
	}
	g.cancelLocked(timerOutOfHours)
	g.outOfHoursAt = nil
	g.publishLocked(g.eventLocked(models.EventHours, now, nil))
	return nil
}

func (g *Guard) enterOutOfHoursLocked(now time.Time) {
	deadline := now.Add(models.OutOfHoursGrace)
	g.outOfHoursAt = &deadline
	g.armLocked(timerOutOfHours, models.OutOfHoursGrace, g.onOutOfHoursElapsed)
	g.publishLocked(g.eventLocked(models.EventHours, now, &deadline))
}

// touchLocked records contact from the browser, which also proves connectivity.
func (g *Guard) touchLocked(now time.Time) {
	g.lastHeartbeat = now
	g.armHeartbeatLocked()
	if !g.online {
		g.online = true
		g.offlineAt = nil
		g.cancelLocked(timerOffline)
		g.publishLocked(g.eventLocked(models.EventConnectivity, now, nil))
	}
}

func (g *Guard) armHeartbeatLocked() {
	if g.cfg.HeartbeatTimeout > 0 {
		g.armLocked(timerHeartbeat, g.cfg.HeartbeatTimeout, g.onHeartbeatMissed)
	}
}

func (g *Guard) goOfflineLocked(now time.Time) {
	if !g.online {
		return
	}
	g.online = false
	g.cancelLocked(timerHeartbeat)
	deadline := now.Add(g.cfg.OfflineTimeout)
	g.offlineAt = &deadline
	g.armLocked(timerOffline, g.cfg.OfflineTimeout, g.onOfflineElapsed)
	g.publishLocked(g.eventLocked(models.EventConnectivity, now, &deadline))
}

// resumeLocked restarts the inactivity countdown and clears any pending warning.
func (g *Guard) resumeLocked(now time.Time) {
	g.lastActivity = now
	g.armLocked(timerInactivity, g.cfg.InactivityTimeout, g.onInactivity)
	if g.state == models.StateWarned {
		g.state = models.StateActive
		g.warningAt = nil
		g.cancelLocked(timerWarning)
		g.publishLocked(g.eventLocked(models.EventState, now, nil))
	}
}

func (g *Guard) eventLocked(t models.EventType, now time.Time, deadline *time.Time) models.Event {
	return models.Event{
		Type:     t,
		State:    g.state,
		Online:   g.online,
		InHours:  g.inHours,
		Deadline: deadline,
		At:       now,
	}
}

func (g *Guard) logoutEventLocked(now time.Time) models.Event {
	ev := g.eventLocked(models.EventLogout, now, nil)
	ev.Reason = g.logoutReason
	ev.RedirectTo = g.cfg.LoginPath
	return ev
}

func (g *Guard) publishLocked(ev models.Event) {
	for _, ch := range g.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (g *Guard) statusLocked() models.Status {
	return models.Status{
		SessionID:          g.sessionID.String(),
		UserID:             g.userID.String(),
		State:              g.state,
		Online:             g.online,
		InBusinessHours:    g.inHours,
		LastActivityAt:     g.lastActivity,
		LastHeartbeatAt:    g.lastHeartbeat,
		WarningDeadline:    g.warningAt,
		OfflineDeadline:    g.offlineAt,
		OutOfHoursDeadline: g.outOfHoursAt,
		LogoutReason:       g.logoutReason,
	}
}

func (g *Guard) emitAudit(event audit.AuditEvent, reason string) {
	if g.auditor == nil {
		return
	}
	err := g.auditor.Emit(context.Background(), audit.Event{
		UserID:    g.userID,
		SessionID: g.sessionID.String(),
		Action:    string(event),
		Reason:    reason,
		Severity:  audit.SeverityInfo,
	})
	if err != nil {
		g.logger.Warn("failed to emit audit event", "action", string(event), "error", err)
	}
}
