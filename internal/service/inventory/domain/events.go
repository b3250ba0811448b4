package domain

import (
	"time"

	"github.com/google/uuid"
)

// Event 是领域事件的公共契约。Key 用作消息分区键，
// 保证同一 store×product 的事件有序投递。
type Event interface {
	EventType() string
	Key() string
}

// BaseEvent 所有事件携带的公共标识。消费方只依赖 productId/storeId
// 即可失效 availability:{productId}:{storeId} 缓存。
type BaseEvent struct {
	EventID    string    `json:"eventId"`
	Type       string    `json:"type"`
	LedgerID   string    `json:"ledgerId"`
	ProductID  string    `json:"productId"`
	StoreID    string    `json:"storeId"`
	OccurredAt time.Time `json:"occurredAt"`
}

func newBase(eventType, ledgerID, productID, storeID string) BaseEvent {
	return BaseEvent{
		EventID:    uuid.New().String(),
		Type:       eventType,
		LedgerID:   ledgerID,
		ProductID:  productID,
		StoreID:    storeID,
		OccurredAt: time.Now(),
	}
}

func (e BaseEvent) EventType() string { return e.Type }
func (e BaseEvent) Key() string       { return e.ProductID + ":" + e.StoreID }

type InventoryAdjusted struct {
	BaseEvent
	Delta        int    `json:"delta"`
	BalanceAfter int    `json:"balanceAfter"`
	Actor        string `json:"actor"`
}

func NewInventoryAdjusted(l *StockLedger, delta int, actor string) InventoryAdjusted {
	return InventoryAdjusted{BaseEvent: newBase("InventoryAdjusted", l.ID, l.ProductID, l.StoreID), Delta: delta, BalanceAfter: l.OnHand, Actor: actor}
}

type InventoryRestocked struct {
	BaseEvent
	Qty          int    `json:"qty"`
	BalanceAfter int    `json:"balanceAfter"`
	Actor        string `json:"actor"`
}

func NewInventoryRestocked(l *StockLedger, qty int, actor string) InventoryRestocked {
	return InventoryRestocked{BaseEvent: newBase("InventoryRestocked", l.ID, l.ProductID, l.StoreID), Qty: qty, BalanceAfter: l.OnHand, Actor: actor}
}

// InventoryUpdated 是泛化的「台账变了」通知，缓存失效只看它就够。
type InventoryUpdated struct {
	BaseEvent
}

func NewInventoryUpdated(l *StockLedger) InventoryUpdated {
	return InventoryUpdated{BaseEvent: newBase("InventoryUpdated", l.ID, l.ProductID, l.StoreID)}
}

type StockReserved struct {
	BaseEvent
	ReservationID string    `json:"reservationId"`
	Qty           int       `json:"qty"`
	OrderRef      string    `json:"orderRef"`
	ExpiresAt     time.Time `json:"expiresAt"`
}

func NewStockReserved(l *StockLedger, r *Reservation) StockReserved {
	return StockReserved{BaseEvent: newBase("StockReserved", l.ID, l.ProductID, l.StoreID), ReservationID: r.ID, Qty: r.Qty, OrderRef: r.OrderRef, ExpiresAt: r.ExpiresAt}
}

type StockReleased struct {
	BaseEvent
	ReservationID string `json:"reservationId"`
	Qty           int    `json:"qty"`
	OrderRef      string `json:"orderRef"`
}

func NewStockReleased(l *StockLedger, r *Reservation, qty int) StockReleased {
	return StockReleased{BaseEvent: newBase("StockReleased", l.ID, l.ProductID, l.StoreID), ReservationID: r.ID, Qty: qty, OrderRef: r.OrderRef}
}

type SaleConfirmed struct {
	BaseEvent
	ReservationID string `json:"reservationId"`
	Qty           int    `json:"qty"`
	OrderRef      string `json:"orderRef"`
}

func NewSaleConfirmed(l *StockLedger, r *Reservation, qty int) SaleConfirmed {
	return SaleConfirmed{BaseEvent: newBase("SaleConfirmed", l.ID, l.ProductID, l.StoreID), ReservationID: r.ID, Qty: qty, OrderRef: r.OrderRef}
}

type TransferCreated struct {
	BaseEvent
	TransferID  string `json:"transferId"`
	FromStoreID string `json:"fromStoreId"`
	ToStoreID   string `json:"toStoreId"`
	Qty         int    `json:"qty"`
	RequestedBy string `json:"requestedBy"`
}

func NewTransferCreated(t *Transfer) TransferCreated {
	return TransferCreated{
		BaseEvent:   newBase("TransferCreated", "", t.ProductID, t.FromStoreID),
		TransferID:  t.ID,
		FromStoreID: t.FromStoreID,
		ToStoreID:   t.ToStoreID,
		Qty:         t.Qty,
		RequestedBy: t.RequestedBy,
	}
}

type TransferCompletedEvent struct {
	BaseEvent
	TransferID  string `json:"transferId"`
	FromStoreID string `json:"fromStoreId"`
	ToStoreID   string `json:"toStoreId"`
	Qty         int    `json:"qty"`
}

func NewTransferCompleted(t *Transfer) TransferCompletedEvent {
	return TransferCompletedEvent{
		BaseEvent:   newBase("TransferCompleted", "", t.ProductID, t.FromStoreID),
		TransferID:  t.ID,
		FromStoreID: t.FromStoreID,
		ToStoreID:   t.ToStoreID,
		Qty:         t.Qty,
	}
}
