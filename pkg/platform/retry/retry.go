// Package retry runs an operation with a bounded, classified retry loop.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
)

type Action int

const (
	Stop  Action = iota // permanent error, abort immediately
	Retry               // transient error, use the strategy delay
	After               // rate-limited, wait at least RateLimitBackoff
)

// Strategy selects how the delay grows between attempts.
type Strategy string

const (
	ExponentialBackoff Strategy = "exponential_backoff"
	FixedDelay         Strategy = "fixed_delay"
	Immediate          Strategy = "immediate"
)

// ParseStrategy maps a config string to a Strategy, defaulting to exponential backoff.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case "", ExponentialBackoff:
		return ExponentialBackoff, nil
	case FixedDelay, Immediate:
		return Strategy(s), nil
	default:
		return "", fmt.Errorf("unknown retry strategy %q", s)
	}
}

// Policy bounds the loop. MaxRetries counts retries after the first attempt.
type Policy struct {
	Strategy         Strategy
	MaxRetries       int
	BaseDelay        time.Duration
	MaxDelay         time.Duration
	RateLimitBackoff time.Duration
	Clock            clockwork.Clock
	OnRetry          func(attempt int, err error, backoff time.Duration)
}

// Delay returns the wait before retry number attempt (0-based).
func (p Policy) Delay(attempt int) time.Duration {
	var d time.Duration
	switch p.Strategy {
	case Immediate:
		return 0
	case FixedDelay:
		d = p.BaseDelay
	default:
		d = p.BaseDelay
		for i := 0; i < attempt && (p.MaxDelay <= 0 || d < p.MaxDelay); i++ {
			d *= 2
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

type Classify func(err error) Action
type Operation[T any] func(attempt int) (T, error)

func Do[T any](ctx context.Context, p Policy, classify Classify, op Operation[T]) (T, error) {
	clock := p.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	attempts := p.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	var zero T
	for attempt := 0; attempt < attempts; attempt++ {
		val, err := op(attempt)
		if err == nil {
			return val, nil
		}

		action := classify(err)
		if action == Stop {
			return zero, &PermanentError{Err: err}
		}

		if attempt == attempts-1 {
			return zero, &ExhaustedError{Attempts: attempts, Err: err}
		}

		backoff := p.Delay(attempt)
		if action == After && backoff < p.RateLimitBackoff {
			backoff = p.RateLimitBackoff
		}

		if p.OnRetry != nil {
			p.OnRetry(attempt+1, err, backoff)
		}

		if backoff <= 0 {
			if ctx.Err() != nil {
				return zero, fmt.Errorf("context cancelled during retry: %w", ctx.Err())
			}
			continue
		}
		select {
		case <-clock.After(backoff):
		case <-ctx.Done():
			return zero, fmt.Errorf("context cancelled during retry: %w", ctx.Err())
		}
	}

	return zero, fmt.Errorf("retry loop ended without result")
}

type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// ExhaustedError is returned when every attempt failed with a transient error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("failed after %d attempts: %v", e.Attempts, e.Err)
}
func (e *ExhaustedError) Unwrap() error { return e.Err }
