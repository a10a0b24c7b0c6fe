package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Crosschaser/Protos/internal/config"
)

// redisClient is the subset of go-redis used by RedisStore.
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Close() error
}

// RedisStore keeps the token under the key "<namespace>:<key>".
type RedisStore struct {
	client redisClient
}

// OpenRedis connects to cfg and verifies the connection.
func OpenRedis(ctx context.Context, cfg config.RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

func redisKey() string {
	return Namespace + ":" + Key
}

func (s *RedisStore) Get(ctx context.Context) (string, error) {
	token, err := s.client.Get(ctx, redisKey()).Result()
	if errors.Is(err, redis.Nil) || (err == nil && token == "") {
		return "", ErrTokenMissing
	}
	if err != nil {
		return "", fmt.Errorf("get token: %w", err)
	}
	return token, nil
}

func (s *RedisStore) Set(ctx context.Context, token string) error {
	if token == "" {
		return ErrEmptyToken
	}
	if err := s.client.Set(ctx, redisKey(), token, 0).Err(); err != nil {
		return fmt.Errorf("set token: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
