package secondary

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClient captures the subset of redis.Client used by the storage.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
}

type redisStorage struct {
	client RedisClient
	prefix string
	owned  *redis.Client
}

func newRedisStorage(_ context.Context, cfg Config) (Storage, error) {
	s := &redisStorage{client: cfg.RedisClient, prefix: cfg.Prefix}
	if s.client == nil {
		if cfg.RedisAddr == "" {
			return nil, errors.New("redis cache requires a client or an address")
		}
		s.owned = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		s.client = s.owned
	}
	return s, nil
}

func (s *redisStorage) Driver() Driver { return DriverRedis }

func (s *redisStorage) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := s.client.Get(ctx, s.cacheKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return value, true, nil
}

// Set stores without expiration; the server's maxmemory policy bounds size.
func (s *redisStorage) Set(ctx context.Context, key string, value []byte) error {
	return s.client.Set(ctx, s.cacheKey(key), value, 0).Err()
}

func (s *redisStorage) Flush(ctx context.Context) error {
	pattern := s.cacheKey("*")
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func (s *redisStorage) Close() error {
	if s.owned != nil {
		return s.owned.Close()
	}
	return nil
}

func (s *redisStorage) cacheKey(key string) string {
	return s.prefix + ":" + key
}
