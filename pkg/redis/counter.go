package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Counter is a named, expiring counter with atomic increment-if-under-limit
// ⭐ SSOT: 일일 호출 한도 카운터는 여기서만
type Counter struct {
	client *Client
	prefix string
}

// NewCounter creates a new counter helper
func NewCounter(client *Client, prefix string) *Counter {
	return &Counter{
		client: client,
		prefix: prefix,
	}
}

// reserveScript increments KEYS[1] only while it is below ARGV[1]
var reserveScript = redis.NewScript(`
	local key = KEYS[1]
	local limit = tonumber(ARGV[1])
	local ttl_ms = tonumber(ARGV[2])

	local used = tonumber(redis.call('GET', key) or '0')
	if used >= limit then
		return {0, used}
	end

	used = redis.call('INCR', key)
	redis.call('PEXPIRE', key, ttl_ms)
	return {1, used}
`)

// releaseScript decrements KEYS[1] but never below zero
var releaseScript = redis.NewScript(`
	local key = KEYS[1]
	local used = tonumber(redis.call('GET', key) or '0')
	if used <= 0 then
		return 0
	end
	return redis.call('DECR', key)
`)

// Key returns the full key for a counter name within a period (e.g. a UTC day)
func (c *Counter) Key(name, period string) string {
	return fmt.Sprintf("%s:quota:%s:%s", c.prefix, name, period)
}

// Reserve increments the counter if it is below limit and refreshes its ttl.
// Returns (reserved, used after the call, error).
func (c *Counter) Reserve(ctx context.Context, name, period string, limit int, ttl time.Duration) (bool, int, error) {
	if !c.client.Enabled() {
		return false, 0, ErrDisabled
	}

	result, err := reserveScript.Run(ctx, c.client.Redis(), []string{c.Key(name, period)},
		limit,
		ttl.Milliseconds(),
	).Slice()
	if err != nil {
		return false, 0, fmt.Errorf("reserve script failed: %w", err)
	}

	reserved := result[0].(int64) == 1
	used := int(result[1].(int64))

	return reserved, used, nil
}

// Release gives one unit back. Returns the used count after the call.
func (c *Counter) Release(ctx context.Context, name, period string) (int, error) {
	if !c.client.Enabled() {
		return 0, ErrDisabled
	}

	used, err := releaseScript.Run(ctx, c.client.Redis(), []string{c.Key(name, period)}).Int()
	if err != nil {
		return 0, fmt.Errorf("release script failed: %w", err)
	}
	return used, nil
}

// Used returns the current count (zero when the key does not exist)
func (c *Counter) Used(ctx context.Context, name, period string) (int, error) {
	if !c.client.Enabled() {
		return 0, ErrDisabled
	}

	used, err := c.client.Redis().Get(ctx, c.Key(name, period)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("counter read failed: %w", err)
	}
	return used, nil
}
