package domain

import (
	"errors"
	"fmt"
)

// ErrorCode 是稳定的、机器可读的失败分类。
// HTTP 状态码映射由表现层负责，这里只定义与传输无关的语义。
type ErrorCode string

const (
	CodeNotFound           ErrorCode = "RESOURCE_NOT_FOUND"
	CodeAlreadyExists      ErrorCode = "ALREADY_EXISTS"
	CodeInvalidReservation ErrorCode = "INVALID_RESERVATION"
	CodeInvalidState       ErrorCode = "INVALID_STATE"
	CodeInsufficientStock  ErrorCode = "INSUFFICIENT_STOCK"
	CodeInconsistency      ErrorCode = "INVENTORY_INCONSISTENCY"
	CodeLockFailed         ErrorCode = "LOCK_ACQUISITION_FAILED"
)

// Severity 与 HTTP 无关的严重级别，供调用方决定重试/补偿/上报。
type Severity string

const (
	SeverityClient      Severity = "CLIENT"      // 请求本身不合法，重试无意义
	SeverityConflict    Severity = "CONFLICT"    // 与当前状态冲突，可能在补偿后重试
	SeverityInternal    Severity = "INTERNAL"    // 不变量被破坏，需要人工介入
	SeverityUnavailable Severity = "UNAVAILABLE" // 依赖暂时不可用，可重试
)

// Error 是领域错误的统一载体。所有业务规则失败都以它表达，
// 守卫层据此区分「业务失败」与「瞬时故障」：业务失败永不重试。
type Error struct {
	Code     ErrorCode
	Severity Severity
	Message  string

	// 携带足够的上下文，调用方无需解析 Message
	ProductID string
	StoreID   string
	Requested int
	Available int
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewNotFound 资源缺失: store/product/ledger/reservation/transfer。
func NewNotFound(resource, param, value string) *Error {
	return &Error{
		Code:     CodeNotFound,
		Severity: SeverityClient,
		Message:  fmt.Sprintf("%s not found with %s: %s", resource, param, value),
	}
}

// NewAlreadyExists 幂等键冲突。
func NewAlreadyExists(resource, field, value string) *Error {
	return &Error{
		Code:     CodeAlreadyExists,
		Severity: SeverityConflict,
		Message:  fmt.Sprintf("%s already exists with %s: %s", resource, field, value),
	}
}

// NewInvalidReservation 预约状态/数量不满足操作要求。
func NewInvalidReservation(format string, args ...interface{}) *Error {
	return &Error{
		Code:     CodeInvalidReservation,
		Severity: SeverityConflict,
		Message:  fmt.Sprintf(format, args...),
	}
}

// NewInvalidState 非法的状态迁移或非法参数。
func NewInvalidState(format string, args ...interface{}) *Error {
	return &Error{
		Code:     CodeInvalidState,
		Severity: SeverityClient,
		Message:  fmt.Sprintf(format, args...),
	}
}

// NewInsufficientStock 可用量不足，带上请求量与实际可用量。
func NewInsufficientStock(productID, storeID string, requested, available int) *Error {
	return &Error{
		Code:      CodeInsufficientStock,
		Severity:  SeverityConflict,
		Message:   fmt.Sprintf("insufficient stock for product %s at store %s, requested: %d, available: %d", productID, storeID, requested, available),
		ProductID: productID,
		StoreID:   storeID,
		Requested: requested,
		Available: available,
	}
}

// NewInconsistency 某个变更会破坏台账算术不变量。
func NewInconsistency(format string, args ...interface{}) *Error {
	return &Error{
		Code:     CodeInconsistency,
		Severity: SeverityInternal,
		Message:  fmt.Sprintf(format, args...),
	}
}

// NewLockFailed 在等待超时内未拿到分布式锁。
func NewLockFailed(lockKey string) *Error {
	return &Error{
		Code:     CodeLockFailed,
		Severity: SeverityUnavailable,
		Message:  fmt.Sprintf("could not acquire distributed lock: %s", lockKey),
	}
}

// IsDomainError 判断 err 是否为领域错误（业务规则失败）。
func IsDomainError(err error) bool {
	var de *Error
	return errors.As(err, &de)
}

// IsCode 判断 err 是否为指定分类的领域错误。
func IsCode(err error, code ErrorCode) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}
