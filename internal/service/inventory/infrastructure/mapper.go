// internal/service/inventory/infrastructure/mapper.go
package infrastructure

import (
	"database/sql"
	"time"

	"stocknexus/internal/service/inventory/domain"
)

// 领域模型与数据库模型的双向转换。领域层不感知 GORM 标签与可空列。

func toDomainLedger(m *LedgerModel) *domain.StockLedger {
	if m == nil {
		return nil
	}
	return &domain.StockLedger{
		ID:            m.ID,
		ProductID:     m.ProductID,
		StoreID:       m.StoreID,
		OnHand:        m.OnHand,
		Available:     m.Available,
		Reserved:      m.Reserved,
		Committed:     m.Committed,
		InTransit:     m.InTransit,
		Version:       m.Version,
		LastUpdatedBy: m.LastUpdatedBy,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func fromDomainLedger(l *domain.StockLedger) *LedgerModel {
	return &LedgerModel{
		ID:            l.ID,
		ProductID:     l.ProductID,
		StoreID:       l.StoreID,
		OnHand:        l.OnHand,
		Available:     l.Available,
		Reserved:      l.Reserved,
		Committed:     l.Committed,
		InTransit:     l.InTransit,
		Version:       l.Version,
		LastUpdatedBy: l.LastUpdatedBy,
		CreatedAt:     l.CreatedAt,
		UpdatedAt:     l.UpdatedAt,
	}
}

func toDomainReservation(m *ReservationModel) *domain.Reservation {
	if m == nil {
		return nil
	}
	return &domain.Reservation{
		ID:              m.ID,
		StoreID:         m.StoreID,
		ProductID:       m.ProductID,
		Qty:             m.Qty,
		Status:          domain.ReservationStatus(m.Status),
		Type:            domain.ReservationType(m.Type),
		Priority:        domain.ReservationPriority(m.Priority),
		OrderRef:        m.OrderRef,
		CustomerID:      m.CustomerID,
		CreatedAt:       m.CreatedAt,
		ExpiresAt:       m.ExpiresAt,
		CancelledReason: m.CancelledReason,
	}
}

func fromDomainReservation(r *domain.Reservation) *ReservationModel {
	m := &ReservationModel{
		ID:              r.ID,
		StoreID:         r.StoreID,
		ProductID:       r.ProductID,
		Qty:             r.Qty,
		Status:          string(r.Status),
		Type:            string(r.Type),
		Priority:        string(r.Priority),
		OrderRef:        r.OrderRef,
		CustomerID:      r.CustomerID,
		ExpiresAt:       r.ExpiresAt,
		CancelledReason: r.CancelledReason,
		CreatedAt:       r.CreatedAt,
	}
	// 占用中的预约持有唯一键位，终态置 NULL 允许同 orderRef 重新预约
	if r.IsActive() {
		m.ActiveOrderRef = sql.NullString{String: r.OrderRef, Valid: true}
	}
	return m
}

func toDomainTransfer(m *TransferModel) *domain.Transfer {
	if m == nil {
		return nil
	}
	t := &domain.Transfer{
		ID:          m.ID,
		FromStoreID: m.FromStoreID,
		ToStoreID:   m.ToStoreID,
		ProductID:   m.ProductID,
		Qty:         m.Qty,
		Status:      domain.TransferStatus(m.Status),
		RequestedBy: m.RequestedBy,
		ApprovedBy:  m.ApprovedBy,
		RequestedAt: m.RequestedAt,
	}
	if m.StartedAt.Valid {
		t.StartedAt = m.StartedAt.Time
	}
	if m.CompletedAt.Valid {
		t.CompletedAt = m.CompletedAt.Time
	}
	return t
}

func fromDomainTransfer(t *domain.Transfer) *TransferModel {
	m := &TransferModel{
		ID:          t.ID,
		FromStoreID: t.FromStoreID,
		ToStoreID:   t.ToStoreID,
		ProductID:   t.ProductID,
		Qty:         t.Qty,
		Status:      string(t.Status),
		RequestedBy: t.RequestedBy,
		ApprovedBy:  t.ApprovedBy,
		RequestedAt: t.RequestedAt,
	}
	if !t.StartedAt.IsZero() {
		m.StartedAt = sql.NullTime{Time: t.StartedAt, Valid: true}
	}
	if !t.CompletedAt.IsZero() {
		m.CompletedAt = sql.NullTime{Time: t.CompletedAt, Valid: true}
	}
	return m
}

func toDomainTransaction(m *TransactionModel) *domain.InventoryTransaction {
	if m == nil {
		return nil
	}
	return &domain.InventoryTransaction{
		ID:           m.ID,
		LedgerID:     m.LedgerID,
		ProductID:    m.ProductID,
		StoreID:      m.StoreID,
		Type:         domain.TransactionType(m.Type),
		Quantity:     m.Quantity,
		BalanceAfter: m.BalanceAfter,
		Actor:        m.Actor,
		ReferenceID:  m.ReferenceID,
		Notes:        m.Notes,
		CreatedAt:    m.CreatedAt,
	}
}

func fromDomainTransaction(tx *domain.InventoryTransaction) *TransactionModel {
	createdAt := tx.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	return &TransactionModel{
		ID:           tx.ID,
		LedgerID:     tx.LedgerID,
		ProductID:    tx.ProductID,
		StoreID:      tx.StoreID,
		Type:         string(tx.Type),
		Quantity:     tx.Quantity,
		BalanceAfter: tx.BalanceAfter,
		Actor:        tx.Actor,
		ReferenceID:  tx.ReferenceID,
		Notes:        tx.Notes,
		CreatedAt:    createdAt,
	}
}

func toDomainStore(m *StoreModel) *domain.Store {
	if m == nil {
		return nil
	}
	return &domain.Store{ID: m.ID, Name: m.Name, Active: m.Active, CreatedAt: m.CreatedAt}
}

func toDomainProduct(m *ProductModel) *domain.Product {
	if m == nil {
		return nil
	}
	return &domain.Product{ID: m.ID, SKU: m.SKU, Name: m.Name, CreatedAt: m.CreatedAt}
}
