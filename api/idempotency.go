package api

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const dedupeKeyPrefix = "cmd"

// RedisDeduper stores accepted idempotency keys in Redis so every instance
// skips commands a session has already applied.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func (r *RedisDeduper) key(userID, key string) string {
	return userID + ":" + dedupeKeyPrefix + ":" + key
}

// AddMany attempts to add the provided keys in a single Redis pipeline and
// returns which keys were newly recorded. On error the slice holds the results
// read before the failure so callers may roll those additions back.
func (r *RedisDeduper) AddMany(ctx context.Context, userID string, keys []string) ([]bool, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	results := make([]bool, len(keys))
	cmds, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, key := range keys {
			pipe.SetNX(ctx, r.key(userID, key), 1, r.ttl)
		}
		return nil
	})
	if err != nil {
		return results, err
	}
	if len(cmds) != len(keys) {
		return results, fmt.Errorf("deduper pipeline mismatch: expected %d results, got %d", len(keys), len(cmds))
	}
	for i, cmd := range cmds {
		boolCmd, ok := cmd.(*redis.BoolCmd)
		if !ok {
			return results, fmt.Errorf("unexpected redis response type %T", cmd)
		}
		val, cmdErr := boolCmd.Result()
		if cmdErr != nil {
			return results, cmdErr
		}
		results[i] = val
	}
	return results, nil
}

func (r *RedisDeduper) RemoveMany(ctx context.Context, userID string, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = r.key(userID, k)
	}
	return r.client.Del(ctx, full...).Err()
}
