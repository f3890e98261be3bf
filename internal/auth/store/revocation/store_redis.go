package revocation

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const revokedTokenKeyPrefix = "trl:jti:"

// RedisTRL shares revocations across server instances. Each JTI is one key
// expiring with the token, so nothing needs sweeping.
type RedisTRL struct {
	client  *redis.Client
	observe func(time.Duration)
}

type RedisTRLOption func(*RedisTRL)

// WithCheckObserver receives the latency of every IsRevoked call.
func WithCheckObserver(observe func(time.Duration)) RedisTRLOption {
	return func(t *RedisTRL) {
		if observe != nil {
			t.observe = observe
		}
	}
}

func NewRedisTRL(client *redis.Client, opts ...RedisTRLOption) *RedisTRL {
	t := &RedisTRL{client: client, observe: func(time.Duration) {}}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *RedisTRL) RevokeToken(ctx context.Context, jti string, ttl time.Duration) error {
	if jti == "" {
		return nil
	}
	if err := validateTTL(ttl); err != nil {
		return err
	}
	return t.client.Set(ctx, revokedTokenKeyPrefix+jti, "1", ttl).Err()
}

// IsRevoked runs on every authenticated request.
func (t *RedisTRL) IsRevoked(ctx context.Context, jti string) (bool, error) {
	if jti == "" {
		return false, nil
	}
	start := time.Now()
	n, err := t.client.Exists(ctx, revokedTokenKeyPrefix+jti).Result()
	t.observe(time.Since(start))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Close is a no-op; main owns the client.
func (t *RedisTRL) Close() {}
