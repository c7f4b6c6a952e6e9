package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// hitScript increments the window counter and arms its expiry on the first
// hit, returning the count and the remaining window in milliseconds.
// KEYS[1] = key
// ARGV[1] = period in milliseconds
var hitScript = redis.NewScript(`
	local current = redis.call('INCR', KEYS[1])
	if current == 1 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
	end
	local ttl = redis.call('PTTL', KEYS[1])
	if ttl < 0 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
		ttl = tonumber(ARGV[1])
	end
	return {current, ttl}
`)

// RedisStore shares windows between instances. Keys expire with their
// window, so there is nothing to sweep.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "ratelimit:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Hit(ctx context.Context, key string, period time.Duration) (int64, time.Duration, error) {
	res, err := hitScript.Run(ctx, s.client, []string{s.prefix + key}, period.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, 0, fmt.Errorf("redis rate limit hit: %w", err)
	}
	if len(res) != 2 {
		return 0, 0, fmt.Errorf("redis rate limit hit: unexpected reply %v", res)
	}

	return res[0], time.Duration(res[1]) * time.Millisecond, nil
}

func (s *RedisStore) Sweep(context.Context) (int, error) {
	return 0, nil
}
