package sessiondir

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// sessionStateTTL bounds how long a cached ratchet state blob can sit
// in Redis before falling back to Postgres — long enough to absorb a
// burst of back-to-back messages on an active conversation, short
// enough that a stale cache entry doesn't outlive its usefulness.
const sessionStateTTL = 10 * time.Minute

// RedisCache wraps a Directory with a read-through, write-through
// Redis cache for the hot path, mirroring internal/inbox.RedisInbox's
// style of keying everything off a single string key per entity.
type RedisCache struct {
	backing Directory
	client  *redis.Client
}

// NewRedisCache wraps backing with a Redis cache. backing remains the
// source of truth; Redis only ever holds a copy.
func NewRedisCache(backing Directory, client *redis.Client) *RedisCache {
	return &RedisCache{backing: backing, client: client}
}

func stateKey(sessionID string) string {
	return fmt.Sprintf("ratchet_state:%s", sessionID)
}

// GetOrCreate always delegates — session identity/metadata is small and
// rarely re-read outside of the initial handshake, so caching it isn't
// worth the invalidation complexity.
func (c *RedisCache) GetOrCreate(ctx context.Context, userA, userB string) (*Session, error) {
	return c.backing.GetOrCreate(ctx, userA, userB)
}

// Persist writes through to Postgres first, then refreshes the cache —
// if the cache write fails, the next Load just falls back to Postgres,
// so a Redis outage degrades the hot path to the backing store instead
// of losing state.
func (c *RedisCache) Persist(ctx context.Context, sessionID string, state []byte) error {
	if err := c.backing.Persist(ctx, sessionID, state); err != nil {
		return err
	}
	if err := c.client.Set(ctx, stateKey(sessionID), state, sessionStateTTL).Err(); err != nil {
		return nil
	}
	return nil
}

// Load checks Redis first and falls back to the backing Directory on a
// cache miss or Redis error, repopulating the cache on the way out.
func (c *RedisCache) Load(ctx context.Context, sessionID string) ([]byte, error) {
	cached, err := c.client.Get(ctx, stateKey(sessionID)).Bytes()
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, redis.Nil) {
		return c.backing.Load(ctx, sessionID)
	}

	state, err := c.backing.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := c.client.Set(ctx, stateKey(sessionID), state, sessionStateTTL).Err(); err != nil {
		return state, nil
	}
	return state, nil
}

// Wipe removes the session from both the cache and the backing store.
func (c *RedisCache) Wipe(ctx context.Context, sessionID string) error {
	if err := c.backing.Wipe(ctx, sessionID); err != nil {
		return err
	}
	if err := c.client.Del(ctx, stateKey(sessionID)).Err(); err != nil {
		return nil
	}
	return nil
}
