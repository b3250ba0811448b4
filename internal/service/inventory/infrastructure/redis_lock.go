// internal/service/inventory/infrastructure/redis_lock.go
package infrastructure

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	pkgredis "stocknexus/internal/pkg/redis"
	"stocknexus/internal/pkg/resilience"
)

const lockKeyPrefix = "lock:"

// 只删除 token 仍然匹配的锁，防止租约到期后误删下一个持有者。
const releaseLockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`

const releaseScriptName = "release_lock"

// 拿不到锁时的轮询间隔
const lockPollInterval = 100 * time.Millisecond

// RedisLockManager 用 SET NX PX + Lua 比较删除实现 LockManager。
// 单实例 Redis 语义：租约即过期时间，持有者崩溃后锁自动失效。
type RedisLockManager struct {
	client *pkgredis.Client
}

func NewRedisLockManager(client *pkgredis.Client) (*RedisLockManager, error) {
	if err := client.LoadScriptFromContent(releaseScriptName, releaseLockScript); err != nil {
		return nil, err
	}
	return &RedisLockManager{client: client}, nil
}

func (m *RedisLockManager) Acquire(ctx context.Context, key resilience.LockKey, wait, lease time.Duration) (resilience.Token, error) {
	token := resilience.Token(uuid.New().String())
	redisKey := lockKeyPrefix + key.String()
	deadline := time.Now().Add(wait)

	for {
		ok, err := m.client.GetClient().SetNX(ctx, redisKey, string(token), lease).Result()
		if err != nil {
			return "", err
		}
		if ok {
			return token, nil
		}
		if time.Now().After(deadline) {
			return "", resilience.ErrNotAcquired
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(lockPollInterval):
		}
	}
}

func (m *RedisLockManager) Release(ctx context.Context, key resilience.LockKey, token resilience.Token) error {
	_, err := m.client.RunScript(ctx, releaseScriptName, []string{lockKeyPrefix + key.String()}, string(token))
	if err != nil && !errors.Is(err, goredis.Nil) {
		return err
	}
	return nil
}
