package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// UsageCache keeps a best-effort daily token counter in Redis so cap checks
// on a busy instance skip the sqlite fold. Sqlite remains the source of
// truth; a cache miss falls back to the ledger.
type UsageCache struct {
	client *redis.Client
}

func NewUsageCache(redisURL string) (*UsageCache, error) {
	url := strings.TrimSpace(redisURL)
	if url == "" {
		return nil, errors.New("redis url is required")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &UsageCache{client: client}, nil
}

func usageKey(profile, day string) string {
	return fmt.Sprintf("usage:%s:%s", strings.TrimSpace(profile), day)
}

// Bump adds tokens to the day counter. Counters expire after 48h so stale
// days clean themselves up.
func (c *UsageCache) Bump(ctx context.Context, profile, day string, tokens int64) error {
	if c == nil || c.client == nil {
		return nil
	}
	key := usageKey(profile, day)
	pipe := c.client.Pipeline()
	pipe.IncrBy(ctx, key, tokens)
	pipe.Expire(ctx, key, 48*time.Hour)
	_, err := pipe.Exec(ctx)
	return err
}

// Get returns the cached total and whether the counter exists.
func (c *UsageCache) Get(ctx context.Context, profile, day string) (int64, bool, error) {
	if c == nil || c.client == nil {
		return 0, false, nil
	}
	val, err := c.client.Get(ctx, usageKey(profile, day)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return val, true, nil
}

// Seed installs the ledger total for a day, used after a cache miss.
func (c *UsageCache) Seed(ctx context.Context, profile, day string, tokens int64) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Set(ctx, usageKey(profile, day), tokens, 48*time.Hour).Err()
}

func (c *UsageCache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
