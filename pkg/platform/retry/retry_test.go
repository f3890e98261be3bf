package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intake/pkg/platform/retry"
)

var fastPolicy = retry.Policy{
	Strategy:         retry.Immediate,
	MaxRetries:       2,
	RateLimitBackoff: time.Millisecond,
}

func alwaysRetry(error) retry.Action { return retry.Retry }
func alwaysStop(error) retry.Action  { return retry.Stop }

func TestDo_SuccessFirstAttempt(t *testing.T) {
	val, err := retry.Do(context.Background(), fastPolicy, alwaysRetry, func(int) (string, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", val)
}

func TestDo_SuccessAfterRetries(t *testing.T) {
	calls := 0
	_, err := retry.Do(context.Background(), fastPolicy, alwaysRetry, func(int) (struct{}, error) {
		calls++
		if calls < 3 {
			return struct{}{}, errors.New("transient")
		}
		return struct{}{}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_PermanentErrorStopsImmediately(t *testing.T) {
	permanent := errors.New("permanent")
	calls := 0
	_, err := retry.Do(context.Background(), fastPolicy, alwaysStop, func(int) (struct{}, error) {
		calls++
		return struct{}{}, permanent
	})
	var permErr *retry.PermanentError
	require.ErrorAs(t, err, &permErr)
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestDo_ExhaustedRetries(t *testing.T) {
	transient := errors.New("transient")
	calls := 0
	_, err := retry.Do(context.Background(), fastPolicy, alwaysRetry, func(int) (struct{}, error) {
		calls++
		return struct{}{}, transient
	})
	var exhausted *retry.ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.ErrorIs(t, err, transient)
	assert.Equal(t, 3, calls)
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := retry.Policy{Strategy: retry.FixedDelay, MaxRetries: 3, BaseDelay: time.Hour}
	calls := 0
	_, err := retry.Do(ctx, p, alwaysRetry, func(int) (struct{}, error) {
		calls++
		cancel()
		return struct{}{}, errors.New("transient")
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDo_OnRetryReportsAttempts(t *testing.T) {
	var seen []int
	p := fastPolicy
	p.OnRetry = func(attempt int, _ error, _ time.Duration) { seen = append(seen, attempt) }
	_, _ = retry.Do(context.Background(), p, alwaysRetry, func(int) (struct{}, error) {
		return struct{}{}, errors.New("transient")
	})
	assert.Equal(t, []int{1, 2}, seen)
}

func TestPolicy_Delay(t *testing.T) {
	tests := []struct {
		name    string
		policy  retry.Policy
		attempt int
		want    time.Duration
	}{
		{"immediate", retry.Policy{Strategy: retry.Immediate, BaseDelay: time.Second}, 3, 0},
		{"fixed", retry.Policy{Strategy: retry.FixedDelay, BaseDelay: 2 * time.Second}, 4, 2 * time.Second},
		{"exponential first", retry.Policy{Strategy: retry.ExponentialBackoff, BaseDelay: 2 * time.Second, MaxDelay: 30 * time.Second}, 0, 2 * time.Second},
		{"exponential third", retry.Policy{Strategy: retry.ExponentialBackoff, BaseDelay: 2 * time.Second, MaxDelay: 30 * time.Second}, 2, 8 * time.Second},
		{"exponential capped", retry.Policy{Strategy: retry.ExponentialBackoff, BaseDelay: 2 * time.Second, MaxDelay: 30 * time.Second}, 5, 30 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.policy.Delay(tt.attempt))
		})
	}
}

func TestParseStrategy(t *testing.T) {
	s, err := retry.ParseStrategy("")
	require.NoError(t, err)
	assert.Equal(t, retry.ExponentialBackoff, s)

	s, err = retry.ParseStrategy("fixed_delay")
	require.NoError(t, err)
	assert.Equal(t, retry.FixedDelay, s)

	_, err = retry.ParseStrategy("linear")
	assert.Error(t, err)
}
