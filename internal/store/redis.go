package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redisv9 "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisOpTimeout = 2 * time.Second

// RedisStore is a Cache backed by Redis. Values are stored as JSON and expire
// through Redis' own key TTL. Redis failures are logged and behave as a miss
// so that a cache outage never fails a lookup.
type RedisStore[V any] struct {
	client *redisv9.Client
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

var _ Cache[string] = (*RedisStore[string])(nil)

// NewRedisStore creates a RedisStore. Keys are namespaced as "<prefix>:<key>".
func NewRedisStore[V any](client *redisv9.Client, prefix string, ttl time.Duration, logger *zap.Logger) *RedisStore[V] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore[V]{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		logger: logger,
	}
}

func (s *RedisStore[V]) key(k string) string {
	if s.prefix == "" {
		return k
	}
	return s.prefix + ":" + k
}

func opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), redisOpTimeout)
}

// Get returns the value for key if Redis still holds it.
func (s *RedisStore[V]) Get(key string) (V, bool) {
	var zero V

	ctx, cancel := opContext()
	defer cancel()

	val, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if !errors.Is(err, redisv9.Nil) {
			s.logger.Warn("redis get failed", zap.String("key", key), zap.Error(err))
		}
		return zero, false
	}

	var v V
	if err := json.Unmarshal(val, &v); err != nil {
		s.logger.Warn("discarding undecodable cache entry", zap.String("key", key), zap.Error(err))
		return zero, false
	}
	return v, true
}

// Set stores value under key with the default TTL.
func (s *RedisStore[V]) Set(key string, value V) {
	s.SetWithTTL(key, value, s.ttl)
}

// SetWithTTL stores value under key with an explicit TTL.
func (s *RedisStore[V]) SetWithTTL(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = s.ttl
	}

	data, err := json.Marshal(value)
	if err != nil {
		s.logger.Error("failed to encode cache entry", zap.String("key", key), zap.Error(err))
		return
	}

	ctx, cancel := opContext()
	defer cancel()

	if err := s.client.Set(ctx, s.key(key), data, ttl).Err(); err != nil {
		s.logger.Warn("redis set failed", zap.String("key", key), zap.Error(err))
	}
}

// Remove deletes key and reports whether it was present. A Redis failure
// is logged and reported as false.
func (s *RedisStore[V]) Remove(key string) bool {
	ctx, cancel := opContext()
	defer cancel()

	n, err := s.client.Del(ctx, s.key(key)).Result()
	if err != nil {
		s.logger.Warn("redis del failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return n > 0
}

// Clear deletes every key under the store's prefix.
func (s *RedisStore[V]) Clear() {
	ctx, cancel := opContext()
	defer cancel()

	pattern := s.key("*")
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		s.logger.Warn("redis scan failed", zap.String("pattern", pattern), zap.Error(err))
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		s.logger.Warn("redis clear failed", zap.Int("keys", len(keys)), zap.Error(err))
	}
}

// Ping checks the connection to Redis.
func (s *RedisStore[V]) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
