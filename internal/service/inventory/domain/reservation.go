package domain

import (
	"time"

	"github.com/google/uuid"
)

// ReservationStatus 定义了预约的生命周期状态。
type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "ACTIVE"
	ReservationCommitted ReservationStatus = "COMMITTED" // 终态
	ReservationCancelled ReservationStatus = "CANCELLED" // 终态
	ReservationExpired   ReservationStatus = "EXPIRED"   // 终态
	ReservationExtended  ReservationStatus = "EXTENDED"  // 可重入，仍可提交/取消
	ReservationPartial   ReservationStatus = "PARTIAL"   // 部分履约后数量已缩减
)

// ReservationType 预约类型决定默认 TTL。
type ReservationType string

const (
	TypeStandard     ReservationType = "STANDARD"      // 15 分钟
	TypeHighPriority ReservationType = "HIGH_PRIORITY" // 30 分钟
	TypeLayaway      ReservationType = "LAYAWAY"       // 7 天，需绑定客户
)

type ReservationPriority string

const (
	PriorityNormal ReservationPriority = "NORMAL"
	PriorityHigh   ReservationPriority = "HIGH"
)

const (
	standardTTLMinutes     = 15
	highPriorityTTLMinutes = 30
	layawayTTLMinutes      = 7 * 24 * 60
)

// Reservation 是对可用库存的限时占用，orderRef 是幂等键，
// 在所有 ACTIVE 预约中必须唯一。终态记录永不物理删除，保留审计。
type Reservation struct {
	ID              string
	StoreID         string
	ProductID       string
	Qty             int
	Status          ReservationStatus
	Type            ReservationType
	Priority        ReservationPriority
	OrderRef        string
	CustomerID      string
	CreatedAt       time.Time
	ExpiresAt       time.Time
	CancelledReason string
}

// NewReservation 创建标准预约，ttlMinutes<=0 时取默认 15 分钟。
func NewReservation(storeID, productID string, qty int, orderRef string, ttlMinutes int) *Reservation {
	if ttlMinutes <= 0 {
		ttlMinutes = standardTTLMinutes
	}
	now := time.Now()
	return &Reservation{
		ID:        uuid.New().String(),
		StoreID:   storeID,
		ProductID: productID,
		Qty:       qty,
		Status:    ReservationActive,
		Type:      TypeStandard,
		Priority:  PriorityNormal,
		OrderRef:  orderRef,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Duration(ttlMinutes) * time.Minute),
	}
}

// NewHighPriorityReservation 高优先级预约，30 分钟 TTL。
func NewHighPriorityReservation(storeID, productID string, qty int, orderRef string) *Reservation {
	r := NewReservation(storeID, productID, qty, orderRef, highPriorityTTLMinutes)
	r.Type = TypeHighPriority
	r.Priority = PriorityHigh
	return r
}

// NewLayawayReservation 预存预约，7 天 TTL，自行合成幂等键。
func NewLayawayReservation(storeID, productID string, qty int, customerID string) (*Reservation, error) {
	if customerID == "" {
		return nil, NewInvalidReservation("layaway reservation requires a customer")
	}
	r := NewReservation(storeID, productID, qty, "", layawayTTLMinutes)
	r.Type = TypeLayaway
	r.OrderRef = "LAYAWAY-" + r.ID
	r.CustomerID = customerID
	return r, nil
}

// IsActive 预约是否仍占用着台账中的 reserved 数量。
func (r *Reservation) IsActive() bool {
	switch r.Status {
	case ReservationActive, ReservationExtended, ReservationPartial:
		return true
	}
	return false
}

// Cancel 取消预约并记录原因。只允许从占用态取消。
func (r *Reservation) Cancel(reason string) error {
	if !r.IsActive() {
		return NewInvalidReservation("reservation %s is not active, status: %s", r.ID, r.Status)
	}
	r.Status = ReservationCancelled
	r.CancelledReason = reason
	return nil
}

// Commit 提交，终态。
func (r *Reservation) Commit() {
	r.Status = ReservationCommitted
}

// CanExtend 只有 ACTIVE 和已延长过的预约可以再延长。
func (r *Reservation) CanExtend() bool {
	return r.Status == ReservationActive || r.Status == ReservationExtended
}

// Extend 在当前到期时间上顺延。
func (r *Reservation) Extend(minutes int) error {
	if !r.CanExtend() {
		return NewInvalidReservation("reservation %s cannot be extended, status: %s", r.ID, r.Status)
	}
	if minutes <= 0 {
		return NewInvalidReservation("extension minutes must be positive, got %d", minutes)
	}
	r.ExpiresAt = r.ExpiresAt.Add(time.Duration(minutes) * time.Minute)
	r.Status = ReservationExtended
	return nil
}

// UsePartially 部分履约。用量覆盖剩余数量时等同于 Commit。
func (r *Reservation) UsePartially(qtyUsed int) error {
	if !r.IsActive() {
		return NewInvalidReservation("reservation %s is not active, status: %s", r.ID, r.Status)
	}
	if qtyUsed <= 0 {
		return NewInvalidReservation("partial quantity must be positive, got %d", qtyUsed)
	}
	if qtyUsed >= r.Qty {
		r.Commit()
		return nil
	}
	r.Qty -= qtyUsed
	r.Status = ReservationPartial
	return nil
}

// MarkExpired 由清扫器调用，实体自身不做定时。
func (r *Reservation) MarkExpired() {
	r.Status = ReservationExpired
}

// IsExpired 墙钟比较，仅供调用方/清扫器观察。
func (r *Reservation) IsExpired() bool {
	return time.Now().After(r.ExpiresAt)
}
