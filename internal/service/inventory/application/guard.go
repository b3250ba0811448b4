// internal/service/inventory/application/guard.go
package application

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"stocknexus/internal/pkg/resilience"
	"stocknexus/internal/service/inventory/domain"
)

// guardRunner 是三个变更服务共用的执行骨架:
// 分布式锁 -> 熔断 -> 重试 -> 数据库事务(fn)。
// fn 里的行锁读、实体变更、台账+流水写入构成一个原子单元。
type guardRunner struct {
	guard *resilience.Guard
	tx    domain.TxManager
}

func (g *guardRunner) run(ctx context.Context, name string, key resilience.LockKey, fn func(ctx context.Context) error) error {
	err := g.guard.Execute(ctx, name, key, func(ctx context.Context) error {
		return g.tx.Do(ctx, fn)
	})
	if errors.Is(err, resilience.ErrNotAcquired) {
		return domain.NewLockFailed(key.String())
	}
	return err
}

// runNested 在一次已受 run 防护的执行内再叠一把锁，不另起事务。
// 调用方负责保证全局一致的加锁顺序。
func (g *guardRunner) runNested(ctx context.Context, key resilience.LockKey, fn func(ctx context.Context) error) error {
	err := g.guard.WithLock(ctx, key, fn)
	if errors.Is(err, resilience.ErrNotAcquired) {
		return domain.NewLockFailed(key.String())
	}
	return err
}

// Retryable 是守卫层的重试判定: 领域错误是业务规则失败，重试没有意义。
func Retryable(err error) bool {
	return !domain.IsDomainError(err)
}

// publishAll 事务提交之后投递事件。投递是 fire-and-forget，
// 失败只记日志，缓存一致性靠 TTL 兜底。
func publishAll(ctx context.Context, publisher domain.EventPublisher, events ...domain.Event) {
	for _, ev := range events {
		if err := publisher.Publish(ctx, ev); err != nil {
			log.Error().Err(err).Str("event", ev.EventType()).Str("key", ev.Key()).Msg("failed to publish domain event")
		}
	}
}
