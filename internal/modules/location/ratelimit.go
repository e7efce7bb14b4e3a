// README: Fixed-window per-driver rate limiter for GPS writes.
package location

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"hail/internal/types"
)

// Counter increments a window key and returns the new count. The TTL bounds
// stale windows; it only needs to outlive the window itself.
type Counter interface {
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

type RedisCounter struct {
	client *redis.Client
}

func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{client: client}
}

func (c *RedisCounter) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	pipe := c.client.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// Limiter allows at most limit updates per driver per minute window.
type Limiter struct {
	counter Counter
	limit   int
	now     func() time.Time
}

func NewLimiter(counter Counter, limit int) *Limiter {
	return &Limiter{counter: counter, limit: limit, now: time.Now}
}

func (l *Limiter) Allow(ctx context.Context, driverID types.ID) (bool, error) {
	window := l.now().Unix() / 60
	key := fmt.Sprintf("ratelimit:loc:%s:%d", string(driverID), window)
	n, err := l.counter.Incr(ctx, key, 2*time.Minute)
	if err != nil {
		return false, err
	}
	return n <= int64(l.limit), nil
}
