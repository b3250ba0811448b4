package domain

import (
	"time"

	"github.com/google/uuid"
)

// TransferStatus 调拨状态机: PENDING -> IN_TRANSIT -> {COMPLETED, FAILED}，
// PENDING 也可以直接 FAILED。
type TransferStatus string

const (
	TransferPending   TransferStatus = "PENDING"
	TransferInTransit TransferStatus = "IN_TRANSIT"
	TransferCompleted TransferStatus = "COMPLETED"
	TransferFailed    TransferStatus = "FAILED"
)

// Transfer 是两地多步的调拨工作流。每次状态迁移都与一侧或两侧的
// 台账变更成对出现，编排在 TransferService 里。
type Transfer struct {
	ID          string
	FromStoreID string
	ToStoreID   string
	ProductID   string
	Qty         int
	Status      TransferStatus
	RequestedBy string
	ApprovedBy  string
	RequestedAt time.Time
	StartedAt   time.Time
	CompletedAt time.Time
}

// NewTransfer 校验同店与非正数量，创建 PENDING 调拨单。此时不动台账。
func NewTransfer(fromStoreID, toStoreID, productID string, qty int, requestedBy string) (*Transfer, error) {
	if fromStoreID == toStoreID {
		return nil, NewInvalidState("transfer cannot be created between the same store")
	}
	if qty <= 0 {
		return nil, NewInvalidState("transfer quantity must be positive, got %d", qty)
	}
	return &Transfer{
		ID:          uuid.New().String(),
		FromStoreID: fromStoreID,
		ToStoreID:   toStoreID,
		ProductID:   productID,
		Qty:         qty,
		Status:      TransferPending,
		RequestedBy: requestedBy,
		RequestedAt: time.Now(),
	}, nil
}

// 纯状态守卫，服务层在任何台账变更前先检查。
func (t *Transfer) CanStart() bool    { return t.Status == TransferPending }
func (t *Transfer) CanComplete() bool { return t.Status == TransferInTransit }
func (t *Transfer) CanFail() bool {
	return t.Status == TransferPending || t.Status == TransferInTransit
}

// Start PENDING -> IN_TRANSIT。这是「库存已为本次调拨圈定」的提交点。
func (t *Transfer) Start(actor string) error {
	if !t.CanStart() {
		return NewInvalidState("transfer %s cannot be started, current status: %s", t.ID, t.Status)
	}
	t.Status = TransferInTransit
	t.ApprovedBy = actor
	t.StartedAt = time.Now()
	return nil
}

// Complete IN_TRANSIT -> COMPLETED。
func (t *Transfer) Complete(actor string) error {
	if !t.CanComplete() {
		return NewInvalidState("transfer %s cannot be completed, current status: %s", t.ID, t.Status)
	}
	t.Status = TransferCompleted
	t.ApprovedBy = actor
	t.CompletedAt = time.Now()
	return nil
}

// Fail 终止调拨。IN_TRANSIT 时由服务层先执行补偿（释放源侧预占）。
func (t *Transfer) Fail(actor string) error {
	if !t.CanFail() {
		return NewInvalidState("transfer %s cannot be failed, current status: %s", t.ID, t.Status)
	}
	t.Status = TransferFailed
	t.ApprovedBy = actor
	t.CompletedAt = time.Now()
	return nil
}
