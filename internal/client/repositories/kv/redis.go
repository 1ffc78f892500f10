package kv

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultNamespace prefixes every key written by RedisRepository.
const DefaultNamespace = "zm:kv:"

const scanBatch = 100

type cmdable interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
}

type RedisRepository struct {
	store     cmdable
	namespace string
	closer    func() error
}

// NewRedisRepository connects to addr and verifies the connection with PING.
func NewRedisRepository(ctx context.Context, addr, password string, db int, namespace string) (*RedisRepository, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return newRedisRepository(client, namespace, client.Close), nil
}

func newRedisRepository(store cmdable, namespace string, closer func() error) *RedisRepository {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &RedisRepository{store: store, namespace: namespace, closer: closer}
}

func (r *RedisRepository) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer()
}

func (r *RedisRepository) key(k string) string { return r.namespace + k }

func (r *RedisRepository) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := r.store.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get kv[%s]: %w", key, err)
	}
	return v, nil
}

func (r *RedisRepository) Set(ctx context.Context, key string, value []byte) error {
	if err := r.store.Set(ctx, r.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("failed to set kv[%s]: %w", key, err)
	}
	return nil
}

func (r *RedisRepository) Delete(ctx context.Context, key string) error {
	if err := r.store.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete kv[%s]: %w", key, err)
	}
	return nil
}

func (r *RedisRepository) List(ctx context.Context, prefix string) (map[string][]byte, error) {
	match := escapeGlob(r.key(prefix)) + "*"
	result := make(map[string][]byte)

	var cursor uint64
	for {
		keys, next, err := r.store.Scan(ctx, cursor, match, scanBatch).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to list kv: %w", err)
		}
		for _, full := range keys {
			v, err := r.store.Get(ctx, full).Bytes()
			if errors.Is(err, redis.Nil) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("failed to get kv[%s]: %w", full, err)
			}
			result[strings.TrimPrefix(full, r.namespace)] = v
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	return result, nil
}

func escapeGlob(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)
	return r.Replace(s)
}
