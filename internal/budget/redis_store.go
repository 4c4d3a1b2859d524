package budget

import (
	"context"
	"time"

	"github.com/wonny/marketdata/pkg/redis"
)

// redisRetention keeps a day's counter long enough for late releases
const redisRetention = 48 * time.Hour

// RedisStore keeps counters in Redis so several processes share one quota
type RedisStore struct {
	counter *redis.Counter
}

// NewRedisStore creates a store on top of a Redis counter
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{counter: redis.NewCounter(client, prefix)}
}

// Reserve increments the counter if it is below limit
func (s *RedisStore) Reserve(ctx context.Context, provider, day string, limit int) (bool, error) {
	ok, _, err := s.counter.Reserve(ctx, provider, day, limit, redisRetention)
	return ok, err
}

// Release decrements the counter, never below zero
func (s *RedisStore) Release(ctx context.Context, provider, day string) error {
	_, err := s.counter.Release(ctx, provider, day)
	return err
}

// Used returns the current count
func (s *RedisStore) Used(ctx context.Context, provider, day string) (int, error) {
	return s.counter.Used(ctx, provider, day)
}
