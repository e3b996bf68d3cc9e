package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "buddy:thread:"

// RedisStore keeps one gzipped state blob per thread in Redis, with an
// optional TTL so idle threads expire on their own.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects to Redis at the given URL
// (redis://[user:pass@]host:port/db). ttl of zero means no expiry.
func NewRedisStore(ctx context.Context, url string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisStore{client: client, ttl: ttl}, nil
}

func redisKey(threadID string) string {
	return redisKeyPrefix + threadID
}

// Get loads a thread's state, or ErrNotFound.
func (s *RedisStore) Get(ctx context.Context, threadID string) (*ThreadState, error) {
	blob, err := s.client.Get(ctx, redisKey(threadID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return decodeState(blob)
}

// Put overwrites a thread's state and refreshes its TTL.
func (s *RedisStore) Put(ctx context.Context, state *ThreadState) error {
	blob, err := encodeState(state)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, redisKey(state.ThreadID), blob, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete removes a thread's state. Deleting a missing thread is not an
// error.
func (s *RedisStore) Delete(ctx context.Context, threadID string) error {
	if err := s.client.Del(ctx, redisKey(threadID)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Close releases the Redis connection.
func (s *RedisStore) Close() error { return s.client.Close() }
