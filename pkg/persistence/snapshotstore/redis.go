package snapshotstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps snapshots in Redis with a TTL. The TTL gives the
// snapshot the same ephemeral character as per-tab browser storage: stale
// sessions age out on their own instead of accumulating.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

var _ Store = &RedisStore{}

const DefaultTTL = 24 * time.Hour

func NewRedisStore(addr string, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		ttl:    ttl,
	}
}

func (s *RedisStore) Save(ctx context.Context, convID string, snap Snapshot) error {
	if s == nil || s.client == nil {
		return errors.New("redis snapshot store: nil store")
	}
	if convID == "" {
		return errors.New("redis snapshot store: convID is empty")
	}
	b, err := json.Marshal(snap)
	if err != nil {
		return errors.Wrap(err, "redis snapshot store: marshal")
	}
	if err := s.client.Set(ctx, Key(convID), b, s.ttl).Err(); err != nil {
		return errors.Wrap(err, "redis snapshot store: set")
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context, convID string) (Snapshot, bool, error) {
	if s == nil || s.client == nil {
		return Snapshot{}, false, errors.New("redis snapshot store: nil store")
	}
	b, err := s.client.Get(ctx, Key(convID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, errors.Wrap(err, "redis snapshot store: get")
	}
	var snap Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return Snapshot{}, false, errors.Wrap(err, "redis snapshot store: unmarshal")
	}
	return snap, true, nil
}

func (s *RedisStore) Clear(ctx context.Context, convID string) error {
	if s == nil || s.client == nil {
		return errors.New("redis snapshot store: nil store")
	}
	if err := s.client.Del(ctx, Key(convID)).Err(); err != nil {
		return errors.Wrap(err, "redis snapshot store: del")
	}
	return nil
}

func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
