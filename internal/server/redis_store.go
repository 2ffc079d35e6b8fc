package server

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisConnectStore shares connect-rate counters across relay instances.
type RedisConnectStore struct {
	client  redis.UniversalClient
	timeout time.Duration
}

// NewRedisConnectStore wraps an existing Redis client.
func NewRedisConnectStore(client redis.UniversalClient, timeout time.Duration) *RedisConnectStore {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &RedisConnectStore{client: client, timeout: timeout}
}

// Allow implements ConnectStore with an INCR and a window-long expiry on
// first touch.
func (s *RedisConnectStore) Allow(key string, limit int, window time.Duration) (bool, time.Duration, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, err
	}
	if count == 1 {
		if window < time.Second {
			window = time.Second
		}
		if err := s.client.Expire(ctx, key, window).Err(); err != nil {
			return false, 0, err
		}
	}
	if count <= int64(limit) {
		return true, 0, nil
	}
	ttl, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		return false, 0, err
	}
	if ttl < 0 {
		return false, window, nil
	}
	return false, ttl, nil
}
