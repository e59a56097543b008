package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type (
	RedisService struct {
		rdb *redis.Client
	}
)

func NewRedis(rdb *redis.Client) *RedisService {
	return &RedisService{
		rdb: rdb,
	}
}

// Dial connects to addr and checks the server answers.
func Dial(ctx context.Context, addr string) (*RedisService, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return NewRedis(rdb), nil
}

func (r *RedisService) HSet(ctx context.Context, key, field string, value []byte) error {
	return r.rdb.HSet(ctx, key, field, value).Err()
}

func (r *RedisService) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return r.rdb.HGetAll(ctx, key).Result()
}

func (r *RedisService) HDel(ctx context.Context, key, field string) error {
	return r.rdb.HDel(ctx, key, field).Err()
}

func (r *RedisService) Close() error {
	return r.rdb.Close()
}
