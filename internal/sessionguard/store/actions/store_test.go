package actions

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"intake/pkg/testutil"
)

type counter interface {
	Record(ctx context.Context, key string, now time.Time, window time.Duration) (int, error)
	Count(ctx context.Context, key string, now time.Time, window time.Duration) (int, error)
	Reset(ctx context.Context, key string) error
}

type CounterSuite struct {
	suite.Suite
	newCounter func(t *testing.T) counter
	counter    counter
	ctx        context.Context
	start      time.Time
}

func TestInMemoryCounter(t *testing.T) {
	suite.Run(t, &CounterSuite{newCounter: func(*testing.T) counter { return NewInMemoryCounter() }})
}

func TestRedisCounter(t *testing.T) {
	suite.Run(t, &CounterSuite{newCounter: func(t *testing.T) counter {
		_, client := testutil.NewMiniRedis(t)
		return NewRedisCounter(client)
	}})
}

func (s *CounterSuite) SetupTest() {
	s.counter = s.newCounter(s.T())
	s.ctx = context.Background()
	s.start = time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC)
}

func (s *CounterSuite) TestSlidingWindow() {
	s.Run("counts actions inside the window", func() {
		for i := range 5 {
			n, err := s.counter.Record(s.ctx, "sess-a", s.start.Add(time.Duration(i)*time.Second), time.Minute)
			s.Require().NoError(err)
			s.Equal(i+1, n)
		}
	})

	s.Run("old actions slide out", func() {
		n, err := s.counter.Record(s.ctx, "sess-a", s.start.Add(62*time.Second), time.Minute)
		s.Require().NoError(err)
		s.Equal(3, n, "actions up to +2s fell out")

		count, err := s.counter.Count(s.ctx, "sess-a", s.start.Add(62*time.Second), time.Minute)
		s.Require().NoError(err)
		s.Equal(3, count)
	})

	s.Run("keys are independent", func() {
		n, err := s.counter.Record(s.ctx, "sess-b", s.start, time.Minute)
		s.Require().NoError(err)
		s.Equal(1, n)
	})
}

func (s *CounterSuite) TestReset() {
	_, err := s.counter.Record(s.ctx, "sess-c", s.start, time.Minute)
	s.Require().NoError(err)
	s.Require().NoError(s.counter.Reset(s.ctx, "sess-c"))

	count, err := s.counter.Count(s.ctx, "sess-c", s.start, time.Minute)
	s.Require().NoError(err)
	s.Zero(count)
}
