package domain

import (
	"time"

	"github.com/google/uuid"
)

// StockLedger 是库存聚合的根实体，每个 store×product 一行。
// 不变量: onHand == available + reserved + committed。
// inTransit 单独记账：已从源门店 onHand 扣除、尚未在目的门店入账的数量。
type StockLedger struct {
	ID            string
	ProductID     string
	StoreID       string
	OnHand        int
	Available     int
	Reserved      int
	Committed     int
	InTransit     int
	Version       int64
	LastUpdatedBy string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewStockLedger 创建一个全零的台账。首次调整/补货时由服务层隐式创建。
func NewStockLedger(productID, storeID, actor string) *StockLedger {
	now := time.Now()
	return &StockLedger{
		ID:            uuid.New().String(),
		ProductID:     productID,
		StoreID:       storeID,
		LastUpdatedBy: actor,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// IsConsistent 是算术不变量的直接检查，用作测试 oracle，不做操作闸门。
func (l *StockLedger) IsConsistent() bool {
	return l.OnHand == l.Available+l.Reserved+l.Committed
}

// CanReserve 判断可用库存是否足够。
func (l *StockLedger) CanReserve(qty int) bool {
	return l.Available >= qty
}

// Reserve 预占库存: available -> reserved。
func (l *StockLedger) Reserve(qty int) error {
	if !l.CanReserve(qty) {
		return NewInsufficientStock(l.ProductID, l.StoreID, qty, l.Available)
	}
	l.Available -= qty
	l.Reserved += qty
	l.touch()
	return nil
}

// Release 释放预占: reserved -> available。
func (l *StockLedger) Release(qty int) error {
	if l.Reserved < qty {
		return NewInconsistency("cannot release %d units, reserved: %d", qty, l.Reserved)
	}
	l.Reserved -= qty
	l.Available += qty
	l.touch()
	return nil
}

// ConfirmSale 核销预占并出账。这是除调整之外唯一会减少 onHand 的操作。
func (l *StockLedger) ConfirmSale(qty int) error {
	if l.Reserved < qty {
		return NewInconsistency("cannot confirm sale of %d units, reserved: %d", qty, l.Reserved)
	}
	l.Reserved -= qty
	l.Committed += qty
	l.OnHand -= qty
	l.touch()
	return nil
}

// AddStock 补货入账，qty 必须为正。
func (l *StockLedger) AddStock(qty int) error {
	if qty <= 0 {
		return NewInvalidState("restock quantity must be positive, got %d", qty)
	}
	l.OnHand += qty
	l.Available += qty
	l.touch()
	return nil
}

// AdjustStock 人工调整。负向调整不允许动用 reserved/committed 部分，
// 也不允许把 onHand 调成负数。
func (l *StockLedger) AdjustStock(delta int) error {
	if l.OnHand+delta < 0 {
		return NewInconsistency("cannot adjust stock by %d, would result in negative onHand", delta)
	}
	if delta < 0 && l.Available < -delta {
		return NewInconsistency("cannot reduce stock by %d, available: %d", -delta, l.Available)
	}
	l.OnHand += delta
	l.Available += delta
	l.touch()
	return nil
}

// MarkInTransit 调拨出库: available/onHand -> inTransit。
func (l *StockLedger) MarkInTransit(qty int) error {
	if l.Available < qty {
		return NewInconsistency("cannot mark %d units in transit, available: %d", qty, l.Available)
	}
	l.Available -= qty
	l.OnHand -= qty
	l.InTransit += qty
	l.touch()
	return nil
}

// ReceiveTransfer 调拨入库，在目的门店落账。
func (l *StockLedger) ReceiveTransfer(qty int) {
	l.OnHand += qty
	l.Available += qty
	l.touch()
}

// ConfirmTransferOut 确认在途数量已被对端接收。
func (l *StockLedger) ConfirmTransferOut(qty int) error {
	if l.InTransit < qty {
		return NewInconsistency("cannot confirm transfer of %d units, inTransit: %d", qty, l.InTransit)
	}
	l.InTransit -= qty
	l.touch()
	return nil
}

func (l *StockLedger) touch() {
	l.UpdatedAt = time.Now()
}

// AvailabilityStatus 是可用性读路径上派生出的状态。
type AvailabilityStatus string

const (
	InStock    AvailabilityStatus = "IN_STOCK"
	LowStock   AvailabilityStatus = "LOW_STOCK"
	OutOfStock AvailabilityStatus = "OUT_OF_STOCK"
)

// StockAvailability 是只读的可用性视图，走缓存，不参与写路径。
type StockAvailability struct {
	ProductID string             `json:"productId"`
	StoreID   string             `json:"storeId"`
	Available int                `json:"available"`
	Reserved  int                `json:"reserved"`
	InTransit int                `json:"inTransit"`
	Status    AvailabilityStatus `json:"status"`
	AsOf      time.Time          `json:"asOf"`
}

// Availability 从当前台账状态派生可用性视图。
func (l *StockLedger) Availability(lowStockThreshold int) *StockAvailability {
	status := InStock
	switch {
	case l.Available <= 0:
		status = OutOfStock
	case l.Available < lowStockThreshold:
		status = LowStock
	}
	return &StockAvailability{
		ProductID: l.ProductID,
		StoreID:   l.StoreID,
		Available: l.Available,
		Reserved:  l.Reserved,
		InTransit: l.InTransit,
		Status:    status,
		AsOf:      time.Now(),
	}
}
