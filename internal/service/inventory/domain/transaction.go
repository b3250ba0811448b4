package domain

import (
	"time"

	"github.com/google/uuid"
)

// TransactionType 审计流水的操作分类。
type TransactionType string

const (
	TxAdjustIncrease TransactionType = "ADJUST_INCREASE"
	TxAdjustDecrease TransactionType = "ADJUST_DECREASE"
	TxReserve        TransactionType = "RESERVE"
	TxRelease        TransactionType = "RELEASE"
	TxSale           TransactionType = "SALE"
	TxRestock        TransactionType = "RESTOCK"
	TxTransferOut    TransactionType = "TRANSFER_OUT"
	TxTransferIn     TransactionType = "TRANSFER_IN"
)

// InventoryTransaction 只追加的审计流水。每一次影响余额的操作写一行，
// 且与台账变更在同一个数据库事务内落库。永不更新、永不删除。
type InventoryTransaction struct {
	ID           string
	LedgerID     string
	ProductID    string
	StoreID      string
	Type         TransactionType
	Quantity     int
	BalanceAfter int
	Actor        string
	ReferenceID  string
	Notes        string
	CreatedAt    time.Time
}

// NewTransaction 以台账变更后的余额生成一条流水。
func NewTransaction(ledger *StockLedger, t TransactionType, qty int, actor, referenceID, notes string) *InventoryTransaction {
	return &InventoryTransaction{
		ID:           uuid.New().String(),
		LedgerID:     ledger.ID,
		ProductID:    ledger.ProductID,
		StoreID:      ledger.StoreID,
		Type:         t,
		Quantity:     qty,
		BalanceAfter: ledger.OnHand,
		Actor:        actor,
		ReferenceID:  referenceID,
		Notes:        notes,
		CreatedAt:    time.Now(),
	}
}
