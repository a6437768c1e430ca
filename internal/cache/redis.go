package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/lifekiller/rarbg/internal/models"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisStore keeps results in Redis with a per-key TTL, for setups that run
// the proxy next to an existing Redis.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

type RedisOption func(*RedisStore)

func WithPrefix(p string) RedisOption {
	return func(s *RedisStore) { s.prefix = p }
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration, logger *zap.Logger, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		rdb:    rdb,
		prefix: "rarbg:feed",
		ttl:    ttl,
		logger: logger.Named("cache"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) key(k string) string {
	return s.prefix + ":" + k
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]models.TorrentResult, bool) {
	raw, err := s.rdb.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn("Redis get failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}

	var results []models.TorrentResult
	if err := json.Unmarshal(raw, &results); err != nil {
		s.logger.Warn("Dropping undecodable cache entry", zap.String("key", key), zap.Error(err))
		_ = s.rdb.Del(ctx, s.key(key)).Err()
		return nil, false
	}
	return results, true
}

func (s *RedisStore) Set(ctx context.Context, key string, results []models.TorrentResult) {
	raw, err := json.Marshal(results)
	if err != nil {
		s.logger.Warn("Encoding cache entry failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := s.rdb.Set(ctx, s.key(key), raw, s.ttl).Err(); err != nil {
		s.logger.Warn("Redis set failed", zap.String("key", key), zap.Error(err))
	}
}

// Len counts live keys under the prefix. It walks the keyspace with SCAN,
// so keep it off hot paths.
func (s *RedisStore) Len(ctx context.Context) int {
	count := 0
	iter := s.rdb.Scan(ctx, 0, s.prefix+":*", 100).Iterator()
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		s.logger.Warn("Redis scan failed", zap.Error(err))
	}
	return count
}
