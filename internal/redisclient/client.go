package redisclient

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/consume_quota.lua
var consumeQuotaScript string

//go:embed scripts/promote_due.lua
var promoteDueScript string

const quotaHashKey = "quota:remaining"

type Client struct {
	rdb           *redis.Client
	consumeScript *redis.Script
	promoteScript *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{
		rdb:           rdb,
		consumeScript: redis.NewScript(consumeQuotaScript),
		promoteScript: redis.NewScript(promoteDueScript),
	}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// InitQuota seeds a key's remaining counter if it has no value yet. The
// counter itself is reset externally on the provider's daily cycle.
func (c *Client) InitQuota(ctx context.Context, keyName string, remaining int) error {
	return c.rdb.HSetNX(ctx, quotaHashKey, keyName, remaining).Err()
}

// GetQuotaRemaining returns the remaining counters for all known keys
func (c *Client) GetQuotaRemaining(ctx context.Context) (map[string]int, error) {
	result, err := c.rdb.HGetAll(ctx, quotaHashKey).Result()
	if err != nil {
		return nil, err
	}

	remaining := make(map[string]int, len(result))
	for name, v := range result {
		var n int
		fmt.Sscanf(v, "%d", &n)
		remaining[name] = n
	}
	return remaining, nil
}

// ConsumeQuota atomically decrements a key's counter when it is positive.
// Returns false if the key was already exhausted.
func (c *Client) ConsumeQuota(ctx context.Context, keyName string) (bool, error) {
	result, err := c.consumeScript.Run(ctx, c.rdb, []string{quotaHashKey}, keyName).Result()
	if err != nil {
		return false, fmt.Errorf("consume quota script failed: %w", err)
	}

	remaining, ok := result.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected script result type")
	}
	return remaining >= 0, nil
}

// PromoteDue moves jobs whose backoff has elapsed from the delayed zset back
// onto the pending list. Atomic so a crashed mover never drops a job.
func (c *Client) PromoteDue(ctx context.Context, delayedKey, pendingKey string, now time.Time) (int64, error) {
	result, err := c.promoteScript.Run(ctx, c.rdb, []string{delayedKey, pendingKey}, now.Unix()).Result()
	if err != nil {
		return 0, fmt.Errorf("promote due script failed: %w", err)
	}
	n, _ := result.(int64)
	return n, nil
}

// AcquireLease takes a short-lived dedupe lease for an enqueue key. Replaces
// the old in-memory active-job set, which did not survive restarts.
func (c *Client) AcquireLease(ctx context.Context, leaseKey string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("lease:%s", leaseKey), "1", ttl).Result()
}

// ReleaseLease drops a dedupe lease
func (c *Client) ReleaseLease(ctx context.Context, leaseKey string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("lease:%s", leaseKey)).Err()
}
