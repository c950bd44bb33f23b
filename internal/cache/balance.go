package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Balance is the cached view of an account's balance.
type Balance struct {
	UserID  string `json:"user_id"`
	Balance int64  `json:"balance"`
}

// BalanceCache is a write-through redis cache: every committed mutation sets
// it before the response goes out, so within one deployment a read hitting
// the cache observes the latest committed balance. A nil *BalanceCache is
// valid and disables caching.
type BalanceCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewBalanceCache(client *redis.Client, ttl time.Duration) *BalanceCache {
	if client == nil {
		return nil
	}
	return &BalanceCache{client: client, ttl: ttl}
}

// Get returns nil, nil on a miss.
func (c *BalanceCache) Get(ctx context.Context, userID string) (*Balance, error) {
	if c == nil {
		return nil, nil
	}
	val, err := c.client.Get(ctx, key(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var cached Balance
	if err := json.Unmarshal([]byte(val), &cached); err != nil {
		return nil, err
	}
	return &cached, nil
}

func (c *BalanceCache) Set(ctx context.Context, b Balance) error {
	if c == nil {
		return nil
	}
	data, err := json.Marshal(b)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key(b.UserID), data, c.ttl).Err()
}

func key(userID string) string {
	return "ledgerpay:balance:" + userID
}
