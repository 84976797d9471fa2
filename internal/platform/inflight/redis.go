package inflight

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// releaseScript deletes the key only if this holder still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisGuard is a Guard shared by every server instance through Redis.
type RedisGuard struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisGuard(client *redis.Client, ttl time.Duration) *RedisGuard {
	return &RedisGuard{client: client, ttl: ttl}
}

// NewRedisClient parses a redis:// URL and verifies the server answers.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return client, nil
}

func (g *RedisGuard) Acquire(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	ok, err := g.client.SetNX(ctx, key, token, g.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquiring %s: %w", key, err)
	}
	if !ok {
		return nil, ErrBusy
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// the caller's ctx may be cancelled by now
			rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = releaseScript.Run(rctx, g.client, []string{key}, token).Err()
		})
	}, nil
}

// Ping lets the health handler report on Redis.
func (g *RedisGuard) Ping(ctx context.Context) error {
	return g.client.Ping(ctx).Err()
}
