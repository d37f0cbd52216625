package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
	"github.com/wolfman30/smart-care-platform/pkg/logging"
)

type cacheEntry struct {
	user      *User
	expiresAt time.Time
}

// CachedDirectory is a read-through cache: in-process LRU first, then Redis, then the
// wrapped directory. Misses (unknown users) are cached in the LRU only.
type CachedDirectory struct {
	next   Directory
	local  *lru.Cache[string, cacheEntry]
	redis  *redis.Client
	ttl    time.Duration
	now    func() time.Time
	logger *logging.Logger
}

// NewCachedDirectory wraps next. redisClient may be nil.
func NewCachedDirectory(next Directory, size int, ttl time.Duration, redisClient *redis.Client, logger *logging.Logger) (*CachedDirectory, error) {
	if next == nil {
		return nil, errors.New("directory: next directory required")
	}
	if size <= 0 {
		size = 512
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = logging.Default()
	}
	cache, err := lru.New[string, cacheEntry](size)
	if err != nil {
		return nil, fmt.Errorf("directory: create lru: %w", err)
	}
	return &CachedDirectory{
		next:   next,
		local:  cache,
		redis:  redisClient,
		ttl:    ttl,
		now:    time.Now,
		logger: logger,
	}, nil
}

func redisKey(id string) string {
	return fmt.Sprintf("directory:user:%s", id)
}

func (c *CachedDirectory) GetUser(ctx context.Context, id string) (*User, error) {
	if entry, ok := c.local.Get(id); ok {
		if c.now().Before(entry.expiresAt) {
			return entry.user, nil
		}
		c.local.Remove(id)
	}

	if c.redis != nil {
		data, err := c.redis.Get(ctx, redisKey(id)).Bytes()
		switch {
		case err == nil:
			var u User
			if err := json.Unmarshal(data, &u); err == nil {
				c.remember(id, &u)
				return &u, nil
			}
			c.logger.Warn("directory: dropping corrupt cache entry", "user_id", id)
		case !errors.Is(err, redis.Nil):
			c.logger.Warn("directory: redis read failed", "error", err, "user_id", id)
		}
	}

	u, err := c.next.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	c.remember(id, u)
	if u != nil && c.redis != nil {
		if data, err := json.Marshal(u); err == nil {
			if err := c.redis.Set(ctx, redisKey(id), data, c.ttl).Err(); err != nil {
				c.logger.Warn("directory: redis write failed", "error", err, "user_id", id)
			}
		}
	}
	return u, nil
}

// Invalidate drops id from both cache tiers.
func (c *CachedDirectory) Invalidate(ctx context.Context, id string) error {
	c.local.Remove(id)
	if c.redis == nil {
		return nil
	}
	if err := c.redis.Del(ctx, redisKey(id)).Err(); err != nil {
		return fmt.Errorf("directory: invalidate %s: %w", id, err)
	}
	return nil
}

func (c *CachedDirectory) remember(id string, u *User) {
	c.local.Add(id, cacheEntry{user: u, expiresAt: c.now().Add(c.ttl)})
}

var _ Directory = (*CachedDirectory)(nil)
