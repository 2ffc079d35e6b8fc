package counter

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	redis "github.com/redis/go-redis/v9"
)

const defaultRedisKey = "relaycast:live-counter"

// Redis is a Counter shared across relay instances via a single Redis key.
type Redis struct {
	client redis.UniversalClient
	key    string
}

// NewRedis wraps an existing Redis client. An empty key selects the
// default.
func NewRedis(client redis.UniversalClient, key string) *Redis {
	if strings.TrimSpace(key) == "" {
		key = defaultRedisKey
	}
	return &Redis{client: client, key: key}
}

// Increment implements Counter using INCR.
func (r *Redis) Increment(ctx context.Context) (int64, error) {
	value, err := r.client.Incr(ctx, r.key).Result()
	if err != nil {
		return 0, fmt.Errorf("increment counter: %w", err)
	}
	return value, nil
}

// Value implements Counter. A missing key reads as zero.
func (r *Redis) Value(ctx context.Context) (int64, error) {
	raw, err := r.client.Get(ctx, r.key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read counter: %w", err)
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse counter value %q: %w", raw, err)
	}
	return value, nil
}
