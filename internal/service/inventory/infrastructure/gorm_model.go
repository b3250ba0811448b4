// internal/service/inventory/infrastructure/gorm_model.go
package infrastructure

import (
	"database/sql"
	"time"
)

// LedgerModel 对应数据库中的 stock_ledger 表。
// store×product 唯一，version 乐观版本号随每次保存自增，
// 行级串行化依赖 SELECT ... FOR UPDATE，version 仅用于审计与对账。
type LedgerModel struct {
	ID            string `gorm:"primaryKey;size:36"`
	ProductID     string `gorm:"size:64;uniqueIndex:idx_ledger_product_store"`
	StoreID       string `gorm:"size:64;uniqueIndex:idx_ledger_product_store"`
	OnHand        int
	Available     int
	Reserved      int
	Committed     int
	InTransit     int
	Version       int64
	LastUpdatedBy string `gorm:"size:64"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (LedgerModel) TableName() string {
	return "stock_ledger"
}

// ReservationModel 对应 stock_reservation 表。
// ActiveOrderRef 只在预约仍占用库存时有值，唯一索引由此实现
// 「同一 orderRef 至多一个占用中预约」，终态时置 NULL 让出键位。
type ReservationModel struct {
	ID              string `gorm:"primaryKey;size:36"`
	StoreID         string `gorm:"size:64;index"`
	ProductID       string `gorm:"size:64;index"`
	Qty             int
	Status          string         `gorm:"size:16;index:idx_reservation_due,priority:1"`
	Type            string         `gorm:"size:16"`
	Priority        string         `gorm:"size:16"`
	OrderRef        string         `gorm:"size:128;index"`
	ActiveOrderRef  sql.NullString `gorm:"size:128;uniqueIndex"`
	CustomerID      string         `gorm:"size:64"`
	ExpiresAt       time.Time      `gorm:"index:idx_reservation_due,priority:2"`
	CancelledReason string         `gorm:"size:255"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (ReservationModel) TableName() string {
	return "stock_reservation"
}

// TransferModel 对应 stock_transfer 表。
type TransferModel struct {
	ID          string `gorm:"primaryKey;size:36"`
	FromStoreID string `gorm:"size:64;index"`
	ToStoreID   string `gorm:"size:64;index"`
	ProductID   string `gorm:"size:64;index"`
	Qty         int
	Status      string `gorm:"size:16;index"`
	RequestedBy string `gorm:"size:64"`
	ApprovedBy  string `gorm:"size:64"`
	RequestedAt time.Time
	StartedAt   sql.NullTime
	CompletedAt sql.NullTime
	UpdatedAt   time.Time
}

func (TransferModel) TableName() string {
	return "stock_transfer"
}

// TransactionModel 对应 inventory_transaction 表，只插入不更新。
type TransactionModel struct {
	ID           string `gorm:"primaryKey;size:36"`
	LedgerID     string `gorm:"size:36;index"`
	ProductID    string `gorm:"size:64;index:idx_tx_product_store"`
	StoreID      string `gorm:"size:64;index:idx_tx_product_store"`
	Type         string `gorm:"size:24"`
	Quantity     int
	BalanceAfter int
	Actor        string `gorm:"size:64"`
	ReferenceID  string `gorm:"size:128;index"`
	Notes        string `gorm:"size:255"`
	CreatedAt    time.Time
}

func (TransactionModel) TableName() string {
	return "inventory_transaction"
}

// StoreModel 对应 store 表。
type StoreModel struct {
	ID        string `gorm:"primaryKey;size:64"`
	Name      string `gorm:"size:128"`
	Active    bool
	CreatedAt time.Time
}

func (StoreModel) TableName() string {
	return "store"
}

// ProductModel 对应 product 表。
type ProductModel struct {
	ID        string `gorm:"primaryKey;size:64"`
	SKU       string `gorm:"size:64;uniqueIndex"`
	Name      string `gorm:"size:128"`
	CreatedAt time.Time
}

func (ProductModel) TableName() string {
	return "product"
}
