package circuit

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/suite"
)

type BreakerSuite struct {
	suite.Suite
	clock *clockwork.FakeClock
}

func TestBreakerSuite(t *testing.T) {
	suite.Run(t, new(BreakerSuite))
}

func (s *BreakerSuite) SetupTest() {
	s.clock = clockwork.NewFakeClock()
}

func (s *BreakerSuite) breaker(opts ...Option) *Breaker {
	return New("ocr_webhook", append([]Option{WithClock(s.clock)}, opts...)...)
}

func (s *BreakerSuite) failN(b *Breaker, n int) {
	for range n {
		b.RecordFailure()
	}
}

func (s *BreakerSuite) TestDefaults() {
	b := New("ocr_webhook")
	s.Equal("ocr_webhook", b.Name())
	s.Equal(StateClosed, b.State())
	s.Equal("closed", b.State().String())
	s.True(b.Allow())

	s.failN(b, 4)
	s.False(b.IsOpen())
	_, change := b.RecordFailure()
	s.True(change.Opened, "five consecutive failures open by default")
	s.Equal("open", b.State().String())
}

func (s *BreakerSuite) TestOpensOnlyOnConsecutiveFailures() {
	b := s.breaker(WithFailureThreshold(3))

	s.failN(b, 2)
	usePrimary, _ := b.RecordSuccess()
	s.True(usePrimary)
	s.failN(b, 2)
	s.False(b.IsOpen(), "a success in between restarts the count")

	useFallback, change := b.RecordFailure()
	s.True(useFallback)
	s.True(change.Opened)

	useFallback, change = b.RecordFailure()
	s.True(useFallback)
	s.False(change.Opened, "already open")
}

func (s *BreakerSuite) TestClosesAfterConsecutiveSuccesses() {
	b := s.breaker(WithFailureThreshold(1), WithSuccessThreshold(3))
	b.RecordFailure()

	b.RecordSuccess()
	b.RecordSuccess()
	b.RecordFailure()
	s.True(b.IsOpen(), "a failure while open restarts the success count")

	b.RecordSuccess()
	b.RecordSuccess()
	usePrimary, change := b.RecordSuccess()
	s.True(usePrimary)
	s.True(change.Closed)
	s.False(b.IsOpen())
}

func (s *BreakerSuite) TestSingleTrialPerCooldown() {
	b := s.breaker(WithFailureThreshold(1), WithCooldown(30*time.Second))
	b.RecordFailure()
	s.False(b.Allow())

	s.clock.Advance(29 * time.Second)
	s.False(b.Allow())

	s.clock.Advance(time.Second)
	s.True(b.Allow(), "trial request once the cooldown elapsed")
	s.False(b.Allow())

	b.RecordFailure()
	s.clock.Advance(30 * time.Second)
	s.True(b.Allow(), "next trial request one cooldown after the last")

	b.RecordSuccess()
	s.False(b.IsOpen())
	s.True(b.Allow())
}

func (s *BreakerSuite) TestReset() {
	b := s.breaker(WithFailureThreshold(1))
	b.RecordFailure()
	s.True(b.IsOpen())

	b.Reset()
	s.Equal(StateClosed, b.State())
	s.True(b.Allow())
}
