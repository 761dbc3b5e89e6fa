package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "nrelay:ratelimit:"

// RedisStore keeps each window as a sorted set of hit timestamps so relays
// sharing one Redis share one budget.
type RedisStore struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisStore creates a RedisStore on client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

// Hit implements Store with one MULTI/EXEC round trip.
func (s *RedisStore) Hit(ctx context.Context, key string, period time.Duration, rate int) (bool, error) {
	now := s.now()
	redisKey := redisKeyPrefix + key
	cutoff := strconv.FormatInt(now.Add(-period).UnixMicro(), 10)

	pipe := s.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "-inf", "("+cutoff)
	pipe.ZAdd(ctx, redisKey, redis.Z{
		Score:  float64(now.UnixMicro()),
		Member: uuid.NewString(),
	})
	card := pipe.ZCard(ctx, redisKey)
	pipe.PExpire(ctx, redisKey, period)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limit hit %s: %w", key, err)
	}

	return card.Val() > int64(rate), nil
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
