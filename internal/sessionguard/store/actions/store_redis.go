package actions

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "guard:actions:"

// RedisCounter keeps each key's actions in a sorted set scored by Unix nanoseconds.
type RedisCounter struct {
	client *redis.Client
	seq    atomic.Uint64
}

func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{client: client}
}

func (s *RedisCounter) Record(ctx context.Context, key string, now time.Time, window time.Duration) (int, error) {
	k := keyPrefix + key
	score := float64(now.UnixNano())
	member := strconv.FormatInt(now.UnixNano(), 10) + "-" + strconv.FormatUint(s.seq.Add(1), 10)

	var card *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, k, "-inf", cutoffScore(now, window))
		pipe.ZAdd(ctx, k, redis.Z{Score: score, Member: member})
		card = pipe.ZCard(ctx, k)
		pipe.Expire(ctx, k, window)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("record action: %w", err)
	}
	return int(card.Val()), nil
}

func (s *RedisCounter) Count(ctx context.Context, key string, now time.Time, window time.Duration) (int, error) {
	n, err := s.client.ZCount(ctx, keyPrefix+key, "("+cutoffScore(now, window), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("count actions: %w", err)
	}
	return int(n), nil
}

func (s *RedisCounter) Reset(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("reset actions: %w", err)
	}
	return nil
}

func cutoffScore(now time.Time, window time.Duration) string {
	return strconv.FormatInt(now.Add(-window).UnixNano(), 10)
}
