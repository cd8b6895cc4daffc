package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis connection tuning constants.
const (
	redisPoolSize     = 10
	redisMinIdleConns = 5
	redisMaxRetries   = 3
	redisDialTimeout  = 5 * time.Second
	redisReadTimeout  = 3 * time.Second
	redisWriteTimeout = 3 * time.Second
)

// RedisKV implements KV on top of a Redis server.
type RedisKV struct {
	client *redis.Client
}

// NewRedisKV connects to Redis using the given URI (redis://...).
func NewRedisKV(uri string) (*RedisKV, error) {
	opt, err := redis.ParseURL(uri)
	if err != nil {
		return nil, err
	}
	opt.PoolSize = redisPoolSize
	opt.MinIdleConns = redisMinIdleConns
	opt.MaxRetries = redisMaxRetries
	opt.DialTimeout = redisDialTimeout
	opt.ReadTimeout = redisReadTimeout
	opt.WriteTimeout = redisWriteTimeout

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), redisDialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	slog.Info("RedisKV connected", "addr", opt.Addr)
	return &RedisKV{client: client}, nil
}

// Get returns the value for key and whether it was present.
func (r *RedisKV) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// Set stores value under key with the given TTL.
func (r *RedisKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

// Delete removes key.
func (r *RedisKV) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

// Incr increments the counter at key, setting ttl when the key is created.
func (r *RedisKV) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	n, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if n == 1 && ttl > 0 {
		if err := r.client.Expire(ctx, key, ttl).Err(); err != nil {
			slog.Warn("RedisKV failed to set counter expiry", "key", key, "error", err)
		}
	}
	return n, nil
}

// Close closes the Redis connection.
func (r *RedisKV) Close() error {
	return r.client.Close()
}
