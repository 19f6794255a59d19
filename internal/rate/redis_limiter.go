package rate

import (
	"context"
	"fmt"
	"strings"
	"time"

	rdb "github.com/redis/go-redis/v9"
)

// RedisLimiter is the deployment-scale backend: fixed window via INCR+EXPIRE
// plus a separate lockout key armed when the cap is crossed. One atomic
// increment per attempt, threshold checked server-side by value.
type RedisLimiter struct {
	client *rdb.Client
	prefix string
	cfg    Config
}

func NewRedisLimiter(client *rdb.Client, prefix string, cfg Config) *RedisLimiter {
	if prefix == "" {
		prefix = "mfa:rl:"
	}
	return &RedisLimiter{client: client, prefix: prefix, cfg: cfg.withDefaults()}
}

func (l *RedisLimiter) key(identifier, action string, winStart int64) string {
	id := strings.ReplaceAll(identifier, " ", "_")
	return fmt.Sprintf("%s%s:%s:%d", l.prefix, id, action, winStart)
}

func (l *RedisLimiter) lockKey(identifier, action string) string {
	id := strings.ReplaceAll(identifier, " ", "_")
	return fmt.Sprintf("%s%s:%s:lock", l.prefix, id, action)
}

func (l *RedisLimiter) Allow(ctx context.Context, identifier, action string) (Result, error) {
	now := time.Now().UTC()
	lockKey := l.lockKey(identifier, action)

	ttl, err := l.client.TTL(ctx, lockKey).Result()
	if err != nil {
		return Result{}, err
	}
	if ttl > 0 {
		return Result{Allowed: false, RetryAfter: ttl.Round(time.Second)}, nil
	}

	winStart := now.Truncate(l.cfg.Window).Unix()
	key := l.key(identifier, action, winStart)

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, l.cfg.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, err
	}

	hits := incr.Val()
	if hits > l.cfg.Cap {
		if err := l.client.Set(ctx, lockKey, now.Unix(), l.cfg.Lockout).Err(); err != nil {
			return Result{}, err
		}
		return Result{Allowed: false, RetryAfter: l.cfg.Lockout}, nil
	}
	return Result{Allowed: true, Remaining: l.cfg.Cap - hits}, nil
}
