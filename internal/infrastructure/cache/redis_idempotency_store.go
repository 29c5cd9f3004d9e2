package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/compliancesync/backend/internal/domain/shared"
	"github.com/redis/go-redis/v9"
)

// DefaultIdempotencyPrefix namespaces idempotency keys
const DefaultIdempotencyPrefix = "csync:idempotency:"

// RedisIdempotencyStore implements IdempotencyStore on Redis so every
// instance shares the same view of handled keys
type RedisIdempotencyStore struct {
	client    redis.UniversalClient
	keyPrefix string
	ownClient bool
}

// NewRedisIdempotencyStore creates a store on a shared client. Close does
// not close a shared client.
func NewRedisIdempotencyStore(client redis.UniversalClient, keyPrefix string) *RedisIdempotencyStore {
	if keyPrefix == "" {
		keyPrefix = DefaultIdempotencyPrefix
	}
	return &RedisIdempotencyStore{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

// MarkProcessed records key for ttl with SET NX.
// Returns true if the key was newly recorded, false if it was already present.
func (s *RedisIdempotencyStore) MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.keyPrefix+key, "1", ttl).Result()
	if err != nil {
		return false, shared.Transient(fmt.Errorf("mark %s processed: %w", key, err))
	}
	return ok, nil
}

// IsProcessed reports whether key is recorded
func (s *RedisIdempotencyStore) IsProcessed(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, s.keyPrefix+key).Result()
	if err != nil {
		return false, shared.Transient(fmt.Errorf("check %s processed: %w", key, err))
	}
	return n > 0, nil
}

// Close closes the client if the store opened it
func (s *RedisIdempotencyStore) Close() error {
	if s.ownClient {
		return s.client.Close()
	}
	return nil
}

var _ shared.IdempotencyStore = (*RedisIdempotencyStore)(nil)
