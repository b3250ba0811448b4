package resilience

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrNotAcquired 在等待超时内没有拿到锁。调用方据此映射为业务侧的
// 锁获取失败，绝不允许静默跳过互斥直接执行。
var ErrNotAcquired = errors.New("distributed lock not acquired within wait timeout")

// Token 是持锁凭证（fencing token）。释放时必须回传，
// 后端只会删除 token 仍然匹配的锁，防止慢持有者误删他人的锁。
type Token string

// LockKey 是结构化的锁键: 操作类别 + 实体标识。
// 不用字符串插值拼 key，避免一类意外碰撞的 bug。
type LockKey struct {
	Kind string
	IDs  []string
}

// LedgerLockKey 按 store×product 序列化的互斥键。
func LedgerLockKey(kind, storeID, productID string) LockKey {
	return LockKey{Kind: kind, IDs: []string{storeID, productID}}
}

// TransferLockKey 按调拨单序列化的互斥键。
func TransferLockKey(kind, transferID string) LockKey {
	return LockKey{Kind: kind, IDs: []string{transferID}}
}

func (k LockKey) String() string {
	return k.Kind + ":" + strings.Join(k.IDs, ":")
}

// LockManager 跨进程互斥的端口。Acquire 轮询直到拿到锁或 wait 超时；
// lease 是租约时长，持有者崩溃后锁会自动失效。
// Release 在 token 已不匹配当前持有者时必须是 no-op，不是错误。
type LockManager interface {
	Acquire(ctx context.Context, key LockKey, wait, lease time.Duration) (Token, error)
	Release(ctx context.Context, key LockKey, token Token) error
}
