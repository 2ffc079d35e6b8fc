package simulate

import (
	"context"
	"encoding/json"
	"fmt"

	redis "github.com/redis/go-redis/v9"
)

const redisHistoryKeyPrefix = "relaycast:chat:"

// RedisHistory stores chat records in a Redis list per session, trimmed to
// HistoryLimit entries. It lets multiple relay instances share simulated
// chat state for the same session identity space.
type RedisHistory struct {
	client redis.UniversalClient
}

// NewRedisHistory wraps an existing Redis client. The caller owns the
// client's lifecycle.
func NewRedisHistory(client redis.UniversalClient) *RedisHistory {
	return &RedisHistory{client: client}
}

// Append implements History using RPUSH + LTRIM + LRANGE in one pipeline.
func (r *RedisHistory) Append(ctx context.Context, sessionID string, records []ChatRecord) ([]ChatRecord, error) {
	key := redisHistoryKeyPrefix + sessionID
	if len(records) > 0 {
		values := make([]interface{}, 0, len(records))
		for _, record := range records {
			payload, err := json.Marshal(record)
			if err != nil {
				return nil, fmt.Errorf("encode chat record: %w", err)
			}
			values = append(values, payload)
		}
		pipe := r.client.Pipeline()
		pipe.RPush(ctx, key, values...)
		pipe.LTrim(ctx, key, -HistoryLimit, -1)
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("append chat history: %w", err)
		}
	}
	raw, err := r.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read chat history: %w", err)
	}
	out := make([]ChatRecord, 0, len(raw))
	for _, item := range raw {
		var record ChatRecord
		if err := json.Unmarshal([]byte(item), &record); err != nil {
			continue
		}
		out = append(out, record)
	}
	return out, nil
}

// Clear implements History.
func (r *RedisHistory) Clear(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, redisHistoryKeyPrefix+sessionID).Err(); err != nil {
		return fmt.Errorf("clear chat history: %w", err)
	}
	return nil
}
