package redis

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/flowgrow/promo-service/internal/domain"
	"github.com/redis/go-redis/v9"
)

type Cache struct {
	Client *redis.Client
	// FollowerTTL bounds staleness of cached follower counts.
	FollowerTTL time.Duration
}

func New(addr, pass string, db int, followerTTL time.Duration) *Cache {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr, Password: pass, DB: db,
	})
	if followerTTL <= 0 {
		followerTTL = 30 * time.Minute
	}
	return &Cache{Client: rdb, FollowerTTL: followerTTL}
}

func followerKey(platform domain.Platform, handle string) string {
	return "followers:" + strings.ToLower(string(platform)) + ":" + strings.ToLower(handle)
}

func (c *Cache) GetFollowerCount(ctx context.Context, platform domain.Platform, handle string) (int64, error) {
	val, err := c.Client.Get(ctx, followerKey(platform, handle)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, domain.ErrCacheMiss
		}
		return 0, err
	}
	return strconv.ParseInt(val, 10, 64)
}

func (c *Cache) SetFollowerCount(ctx context.Context, platform domain.Platform, handle string, count int64) error {
	return c.Client.Set(ctx, followerKey(platform, handle), count, c.FollowerTTL).Err()
}

// AllowRequest: Simple Fixed Window Rate Limit
func (c *Cache) AllowRequest(ctx context.Context, ip string, limit int, window time.Duration) (bool, error) {
	key := "ratelimit:" + ip
	count, err := c.Client.Incr(ctx, key).Result()
	if err != nil {
		return true, nil // fail open
	}
	if count == 1 {
		_ = c.Client.Expire(ctx, key, window).Err()
	}
	return count <= int64(limit), nil
}
