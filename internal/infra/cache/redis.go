package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrCacheMiss is returned by Get when nothing is stored for the URL.
var ErrCacheMiss = errors.New("cache miss")

// KeySetStore shares fetched key set documents between authorizer
// instances. Documents are opaque bytes keyed by the key set URL.
type KeySetStore interface {
	Get(ctx context.Context, url string) ([]byte, error)
	Set(ctx context.Context, url string, doc []byte, ttl time.Duration) error
}

type redisCache struct {
	client *redis.Client
}

func NewRedisClient(url string, poolSize int) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	if poolSize > 0 {
		opt.PoolSize = poolSize
	}

	client := redis.NewClient(opt)

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return client, nil
}

func NewKeySetStore(client *redis.Client) KeySetStore {
	return &redisCache{client: client}
}

func (r *redisCache) Get(ctx context.Context, url string) ([]byte, error) {
	val, err := r.client.Get(ctx, keySetKey(url)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}

	return val, nil
}

func (r *redisCache) Set(ctx context.Context, url string, doc []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, keySetKey(url), doc, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set redis cache: %w", err)
	}

	return nil
}

func keySetKey(url string) string {
	sum := sha256.Sum256([]byte(url))
	return "authorizer:jwks:" + hex.EncodeToString(sum[:])
}
