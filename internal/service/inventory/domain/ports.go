package domain

import (
	"context"
	"time"
)

// 本文件定义领域层与基础设施层之间的出站端口。
// 接口在这里声明，由 infrastructure 层实现（GORM / Redis / Kafka）。

// LedgerRepository 台账持久化。withLock=true 时必须发出阻塞的排他行锁
// (SELECT ... FOR UPDATE)，锁的作用域是外层数据库事务。
// 记录不存在时返回 CodeNotFound 领域错误。
type LedgerRepository interface {
	FindByProductAndStore(ctx context.Context, productID, storeID string, withLock bool) (*StockLedger, error)
	Save(ctx context.Context, ledger *StockLedger) error
	ListByStore(ctx context.Context, storeID string) ([]*StockLedger, error)
	ListLowStock(ctx context.Context, storeID string, threshold int) ([]*StockLedger, error)
}

// ReservationRepository 预约持久化。FindActiveByOrderRef 只匹配仍占用
// 库存的预约（ACTIVE/EXTENDED/PARTIAL）。
type ReservationRepository interface {
	Save(ctx context.Context, r *Reservation) error
	FindByID(ctx context.Context, id string) (*Reservation, error)
	FindActiveByOrderRef(ctx context.Context, orderRef string) (*Reservation, error)
	FindDueForExpiry(ctx context.Context, now time.Time, limit int) ([]*Reservation, error)
}

// TransferFilter 空字段表示不过滤。
type TransferFilter struct {
	StoreID   string
	ProductID string
	Status    TransferStatus
}

type TransferRepository interface {
	Save(ctx context.Context, t *Transfer) error
	FindByID(ctx context.Context, id string) (*Transfer, error)
	List(ctx context.Context, filter TransferFilter) ([]*Transfer, error)
}

// TransactionRepository 审计流水，只有追加和查询。
type TransactionRepository interface {
	Append(ctx context.Context, tx *InventoryTransaction) error
	ListByLedger(ctx context.Context, ledgerID string, limit int) ([]*InventoryTransaction, error)
	ListByReference(ctx context.Context, referenceID string) ([]*InventoryTransaction, error)
}

type StoreRepository interface {
	FindByID(ctx context.Context, id string) (*Store, error)
}

type ProductRepository interface {
	FindByID(ctx context.Context, id string) (*Product, error)
}

// EventPublisher 领域事件的 fire-and-forget 投递。
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

// Cache 只服务于可用性读路径，写路径不碰缓存。
type Cache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeletePattern(ctx context.Context, pattern string) error
}

// TxManager 把 fn 包进一个数据库事务执行。fn 返回错误时整体回滚，
// 台账写入与审计流水因此构成同一个原子单元。
type TxManager interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

// AdjustmentFact 是调整策略的输入。
type AdjustmentFact struct {
	StoreID   string
	ProductID string
	Delta     int
	Actor     string
	Notes     string
}

// AdjustmentPolicy 人工调整的前置策略闸门（CEL 表达式实现）。
type AdjustmentPolicy interface {
	Allow(ctx context.Context, fact AdjustmentFact) (bool, error)
}
