package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"intake/internal/draft/models"
	id "intake/pkg/domain"
	"intake/pkg/platform/sentinel"
)

const (
	draftKeyPrefix      = "draft:"
	ownerDraftKeyPrefix = "owner_drafts:"
)

// saveScript writes the snapshot unless the stored one was saved later.
// KEYS: draft hash, owner set. ARGV: snapshot JSON, saved_at (unix µs), ttl (ms), form.
var saveScript = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], 'saved_at')
if current and tonumber(current) > tonumber(ARGV[2]) then
	return 0
end
redis.call('HSET', KEYS[1], 'snapshot', ARGV[1], 'saved_at', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
redis.call('SADD', KEYS[2], ARGV[4])
redis.call('PEXPIRE', KEYS[2], ARGV[3])
return 1
`)

// RedisStore keeps each draft as a hash of its JSON snapshot and save time,
// with a TTL, and indexes an owner's forms in a set so logout can drop them
// all at once.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedis(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttlOrDefault(ttl)}
}

func draftKey(key models.Key) string  { return draftKeyPrefix + key.String() }
func ownerKey(owner id.UserID) string { return ownerDraftKeyPrefix + owner.String() }

func (s *RedisStore) Load(ctx context.Context, key models.Key) (*models.Snapshot, error) {
	raw, err := s.client.HGet(ctx, draftKey(key), "snapshot").Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get draft: %w", err)
	}
	var snap models.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("decode draft: %w", err)
	}
	return &snap, nil
}

func (s *RedisStore) Save(ctx context.Context, snap *models.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal draft: %w", err)
	}
	keys := []string{draftKey(snap.Key), ownerKey(snap.Key.OwnerID)}
	err = saveScript.Run(ctx, s.client, keys,
		data, snap.SavedAt.UnixMicro(), s.ttl.Milliseconds(), snap.Key.Form,
	).Err()
	if err != nil {
		return fmt.Errorf("save draft: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key models.Key) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, draftKey(key))
		pipe.SRem(ctx, ownerKey(key.OwnerID), key.Form)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete draft: %w", err)
	}
	return nil
}

// DeleteOwner removes every indexed draft of owner and returns how many existed.
func (s *RedisStore) DeleteOwner(ctx context.Context, owner id.UserID) (int, error) {
	forms, err := s.client.SMembers(ctx, ownerKey(owner)).Result()
	if err != nil {
		return 0, fmt.Errorf("list owner drafts: %w", err)
	}
	keys := make([]string, 0, len(forms)+1)
	for _, form := range forms {
		keys = append(keys, draftKey(models.Key{OwnerID: owner, Form: form}))
	}
	var deleted *redis.IntCmd
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(keys) > 0 {
			deleted = pipe.Del(ctx, keys...)
		}
		pipe.Del(ctx, ownerKey(owner))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("purge owner drafts: %w", err)
	}
	if deleted == nil {
		return 0, nil
	}
	return int(deleted.Val()), nil
}
