package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"stocknexus/internal/pkg/metrics"
)

// ErrCircuitOpen 对应熔断器打开期间被短路的调用。
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Config 守卫链的配置。零值字段回落到默认值。
type Config struct {
	LockWait  time.Duration // 锁等待超时，默认 30s
	LockLease time.Duration // 锁租约，须 >= 最坏操作耗时，默认 60s

	MaxAttempts        int           // 总尝试次数（含首次），默认 3
	RetryInterval      time.Duration // 重试基础间隔，默认 1s
	ExponentialBackoff bool          // 为 true 时按指数退避

	BreakerFailureRatio float64       // 熔断阈值（错误率），默认 0.5
	BreakerMinRequests  uint32        // 统计窗口内的最小请求数，默认 5
	BreakerResetTimeout time.Duration // 打开后多久进入半开，默认 30s

	// Retryable 判断错误是否为可重试的瞬时故障。
	// 业务规则失败（领域错误）必须返回 false：重试一个逻辑上
	// 不可能成功的操作没有意义，也不应计入熔断统计。
	Retryable func(error) bool
}

func (c *Config) withDefaults() {
	if c.LockWait <= 0 {
		c.LockWait = 30 * time.Second
	}
	if c.LockLease <= 0 {
		c.LockLease = 60 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = time.Second
	}
	if c.BreakerFailureRatio <= 0 {
		c.BreakerFailureRatio = 0.5
	}
	if c.BreakerMinRequests == 0 {
		c.BreakerMinRequests = 5
	}
	if c.BreakerResetTimeout <= 0 {
		c.BreakerResetTimeout = 30 * time.Second
	}
}

// Guard 把每个写操作包进固定的防护链:
//
//	分布式锁(最外层) -> 按操作名熔断 -> 有界重试 -> op(内层数据库事务)
//
// 原实现用方法注解堆叠这几层，这里改为显式的函数组合，
// 每层包裹一个可重试的工作单元，层序固定。
type Guard struct {
	locks LockManager
	cfg   Config

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func NewGuard(locks LockManager, cfg Config) *Guard {
	cfg.withDefaults()
	return &Guard{
		locks:    locks,
		cfg:      cfg,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Execute 以 key 为互斥单元执行 op。拿不到锁时返回 ErrNotAcquired，
// 锁的释放在所有退出路径上都有保证。
func (g *Guard) Execute(ctx context.Context, name string, key LockKey, op func(ctx context.Context) error) error {
	start := time.Now()
	token, err := g.locks.Acquire(ctx, key, g.cfg.LockWait, g.cfg.LockLease)
	metrics.LockWaitSeconds.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.GuardOperations.WithLabelValues(name, "lock_failed").Inc()
		if errors.Is(err, ErrNotAcquired) {
			return ErrNotAcquired
		}
		return err
	}
	defer func() {
		// 释放用独立的短超时上下文，调用方的 ctx 可能已经取消
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if rerr := g.locks.Release(releaseCtx, key, token); rerr != nil {
			log.Warn().Err(rerr).Str("lock_key", key.String()).Msg("failed to release distributed lock")
		}
	}()

	err = g.callThroughBreaker(ctx, name, op)
	if err != nil {
		metrics.GuardOperations.WithLabelValues(name, "error").Inc()
		return err
	}
	metrics.GuardOperations.WithLabelValues(name, "ok").Inc()
	return nil
}

// WithLock 只取锁执行 op，不经过熔断与重试。用于在一次已受 Execute
// 防护的执行内按固定顺序叠加第二把锁（如调拨收货的目的侧）。
func (g *Guard) WithLock(ctx context.Context, key LockKey, op func(ctx context.Context) error) error {
	token, err := g.locks.Acquire(ctx, key, g.cfg.LockWait, g.cfg.LockLease)
	if err != nil {
		if errors.Is(err, ErrNotAcquired) {
			return ErrNotAcquired
		}
		return err
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if rerr := g.locks.Release(releaseCtx, key, token); rerr != nil {
			log.Warn().Err(rerr).Str("lock_key", key.String()).Msg("failed to release distributed lock")
		}
	}()
	return op(ctx)
}

// callThroughBreaker 业务失败直接透传，不计入熔断器的错误统计：
// 一个合法但被规则拒绝的请求不代表依赖不健康。
func (g *Guard) callThroughBreaker(ctx context.Context, name string, op func(ctx context.Context) error) error {
	cb := g.breaker(name)

	var domainErr error
	_, err := cb.Execute(func() (interface{}, error) {
		err := g.retry(ctx, op)
		if err != nil && g.cfg.Retryable != nil && !g.cfg.Retryable(err) {
			domainErr = err
			return nil, nil
		}
		return nil, err
	})
	if domainErr != nil {
		return domainErr
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrCircuitOpen
	}
	return err
}

func (g *Guard) retry(ctx context.Context, op func(ctx context.Context) error) error {
	var b backoff.BackOff
	if g.cfg.ExponentialBackoff {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = g.cfg.RetryInterval
		b = eb
	} else {
		b = backoff.NewConstantBackOff(g.cfg.RetryInterval)
	}
	b = backoff.WithContext(backoff.WithMaxRetries(b, uint64(g.cfg.MaxAttempts-1)), ctx)

	return backoff.Retry(func() error {
		err := op(ctx)
		if err != nil && g.cfg.Retryable != nil && !g.cfg.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b)
}

func (g *Guard) breaker(name string) *gobreaker.CircuitBreaker {
	g.mu.Lock()
	defer g.mu.Unlock()
	if cb, ok := g.breakers[name]; ok {
		return cb
	}
	cfg := g.cfg
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: cfg.BreakerResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= cfg.BreakerMinRequests && ratio >= cfg.BreakerFailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.BreakerTransitions.WithLabelValues(name, to.String()).Inc()
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})
	g.breakers[name] = cb
	return cb
}
