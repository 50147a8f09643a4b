package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// deleteIfValueScript drops KEYS[1] only while it still holds ARGV[1].
const deleteIfValueScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// IncrWithTTL increments key and attaches ttl if the key has none. ExpireNX runs on every call,
// so a TTL lost after the first increment is restored by the next one.
func (c *Client) IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if c.store == nil {
		return 0, errNotInitialized
	}
	count, err := c.store.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if ttl <= 0 {
		return count, nil
	}
	if err := c.store.ExpireNX(ctx, key, ttl).Err(); err != nil {
		return count, fmt.Errorf("expire %s: %w", key, err)
	}
	return count, nil
}

// FixedWindowAllow counts a hit against scope in the current window. Each window gets its own
// key, so counts never carry over even if a TTL is missing.
func (c *Client) FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error) {
	return c.fixedWindowAllow(ctx, scope, limit, window, time.Now())
}

func (c *Client) fixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration, now time.Time) (bool, int64, error) {
	if window <= 0 {
		return false, 0, errors.New("rate limit window must be positive")
	}
	bucket := strconv.FormatInt(now.UnixNano()/int64(window), 10)
	count, err := c.IncrWithTTL(ctx, c.RateLimitKey(scope+":"+bucket), window)
	if err != nil {
		return false, 0, err
	}
	return count <= limit, count, nil
}

// DeleteIfValue removes key only while it still stores value. Lock owners use it so a release
// after TTL expiry cannot drop another holder's lock.
func (c *Client) DeleteIfValue(ctx context.Context, key, value string) (bool, error) {
	if c.store == nil {
		return false, errNotInitialized
	}
	deleted, err := c.store.Eval(ctx, deleteIfValueScript, []string{key}, value).Int64()
	if err != nil {
		return false, err
	}
	return deleted == 1, nil
}
