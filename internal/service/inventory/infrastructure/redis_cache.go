// internal/service/inventory/infrastructure/redis_cache.go
package infrastructure

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"

	pkgredis "stocknexus/internal/pkg/redis"
)

// RedisCache 是 Cache 端口的实现，值统一 JSON 序列化。
type RedisCache struct {
	client *pkgredis.Client
}

func NewRedisCache(client *pkgredis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := c.client.GetClient().Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		// 缓存里的坏数据当 miss 处理，顺手清掉
		_ = c.client.GetClient().Del(ctx, key).Err()
		return false, nil
	}
	return true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.GetClient().Set(ctx, key, data, ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.GetClient().Del(ctx, key).Err()
}

// DeletePattern 用 SCAN 渐进遍历，不用 KEYS 阻塞实例。
func (c *RedisCache) DeletePattern(ctx context.Context, pattern string) error {
	rdb := c.client.GetClient()
	iter := rdb.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := rdb.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}
