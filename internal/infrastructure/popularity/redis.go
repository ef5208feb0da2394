package popularity

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/storyweave/lorekeeper/internal/engine/registry"
	"github.com/storyweave/lorekeeper/internal/infrastructure/logging"
	"github.com/storyweave/lorekeeper/pkg/errors"
)

// Config holds the Redis connection parameters.
type Config struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	KeyPrefix    string
}

// commander abstracts the go-redis operations the store uses, so tests can
// substitute a fake.
type commander interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Incr(ctx context.Context, key string) *redis.IntCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// RedisStore keeps confirmation counts in Redis, one key per entity.
type RedisStore struct {
	client commander
	prefix string
	logger logging.Logger

	// reads collapses concurrent lookups of the same entity into one
	// round trip.
	reads singleflight.Group
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg Config, logger logging.Logger) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, errors.InvalidParam("popularity: redis addr is required")
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "lorekeeper"
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, errors.CodePopularityError, "popularity: redis ping failed")
	}

	return &RedisStore{
		client: client,
		prefix: cfg.KeyPrefix,
		logger: logger.Named("popularity"),
	}, nil
}

func (s *RedisStore) key(id registry.EntityID) string {
	return fmt.Sprintf("%s:confirm:%s", s.prefix, id)
}

// Confirmations returns the entity's accumulated confirmation count. A
// missing key reads as zero.
func (s *RedisStore) Confirmations(ctx context.Context, id registry.EntityID) (int64, error) {
	key := s.key(id)
	v, err, _ := s.reads.Do(key, func() (interface{}, error) {
		n, err := s.client.Get(ctx, key).Int64()
		if err == redis.Nil {
			return int64(0), nil
		}
		if err != nil {
			return int64(0), errors.Wrap(err, errors.CodePopularityError, "popularity: read failed")
		}
		return n, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

// RecordConfirmation increments the entity's confirmation count.
func (s *RedisStore) RecordConfirmation(ctx context.Context, id registry.EntityID) error {
	if err := s.client.Incr(ctx, s.key(id)).Err(); err != nil {
		return errors.Wrap(err, errors.CodePopularityError, "popularity: increment failed")
	}
	return nil
}

// Forget drops the entity's count, for registry deletion cascades.
func (s *RedisStore) Forget(ctx context.Context, id registry.EntityID) error {
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return errors.Wrap(err, errors.CodePopularityError, "popularity: delete failed")
	}
	return nil
}

// Close releases the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
