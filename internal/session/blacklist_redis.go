package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrBlacklistUnavailable = errors.New("token blacklist unavailable")

// RedisBlacklist shares the blacklist between instances. Each entry lives
// exactly as long as the token it shadows, so Redis expiry does the sweeping.
type RedisBlacklist struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewRedisBlacklist(client redis.UniversalClient, prefix string) *RedisBlacklist {
	if prefix == "" {
		prefix = "blacklist"
	}
	return &RedisBlacklist{redis: client, prefix: prefix, now: time.Now}
}

func (b *RedisBlacklist) key(token string) string {
	return b.prefix + ":" + digest(token)
}

func (b *RedisBlacklist) Add(ctx context.Context, token string, expiresAt time.Time) error {
	ttl := expiresAt.Sub(b.now())
	if ttl <= 0 {
		return nil
	}

	if err := b.redis.Set(ctx, b.key(token), b.now().Unix(), ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBlacklistUnavailable, err)
	}
	return nil
}

func (b *RedisBlacklist) Contains(ctx context.Context, token string) (bool, error) {
	n, err := b.redis.Exists(ctx, b.key(token)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrBlacklistUnavailable, err)
	}
	return n > 0, nil
}

// Sweep is a no-op: keys expire on their own.
func (b *RedisBlacklist) Sweep(context.Context, time.Time) (int, error) {
	return 0, nil
}
