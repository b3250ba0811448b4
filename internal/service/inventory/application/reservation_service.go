// internal/service/inventory/application/reservation_service.go
package application

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"stocknexus/internal/pkg/metrics"
	"stocknexus/internal/pkg/resilience"
	"stocknexus/internal/service/inventory/domain"
)

// ReservationService 管理预约生命周期。预约数量与台账的 reserved
// 计数 1:1 镜像：创建时预占，离开占用态前必须释放或核销。
type ReservationService struct {
	guardRunner

	ledgers      domain.LedgerRepository
	reservations domain.ReservationRepository
	transactions domain.TransactionRepository
	publisher    domain.EventPublisher
}

func NewReservationService(
	guard *resilience.Guard,
	tx domain.TxManager,
	ledgers domain.LedgerRepository,
	reservations domain.ReservationRepository,
	transactions domain.TransactionRepository,
	publisher domain.EventPublisher,
) *ReservationService {
	return &ReservationService{
		guardRunner:  guardRunner{guard: guard, tx: tx},
		ledgers:      ledgers,
		reservations: reservations,
		transactions: transactions,
		publisher:    publisher,
	}
}

// ReserveStock 标准预约，15 分钟 TTL。orderRef 是幂等键，
// 与现存 ACTIVE 预约重复时返回 ALREADY_EXISTS 而不是二次预占。
func (s *ReservationService) ReserveStock(ctx context.Context, storeID, productID string, qty int, orderRef string) (*domain.Reservation, error) {
	return s.reserve(ctx, domain.NewReservation(storeID, productID, qty, orderRef, 0))
}

// ReserveHighPriority 高优先级预约，30 分钟 TTL。
func (s *ReservationService) ReserveHighPriority(ctx context.Context, storeID, productID string, qty int, orderRef string) (*domain.Reservation, error) {
	return s.reserve(ctx, domain.NewHighPriorityReservation(storeID, productID, qty, orderRef))
}

// ReserveLayaway 预存预约，7 天 TTL，需绑定客户，幂等键自动合成。
func (s *ReservationService) ReserveLayaway(ctx context.Context, storeID, productID string, qty int, customerID string) (*domain.Reservation, error) {
	r, err := domain.NewLayawayReservation(storeID, productID, qty, customerID)
	if err != nil {
		return nil, err
	}
	return s.reserve(ctx, r)
}

func (s *ReservationService) reserve(ctx context.Context, r *domain.Reservation) (*domain.Reservation, error) {
	ctx, span := tracer.Start(ctx, "reservation.Reserve")
	defer span.End()
	span.SetAttributes(
		attribute.String("store.id", r.StoreID),
		attribute.String("product.id", r.ProductID),
		attribute.String("order.ref", r.OrderRef),
		attribute.Int("qty", r.Qty),
	)

	if r.Qty <= 0 {
		return nil, domain.NewInvalidReservation("reservation quantity must be positive, got %d", r.Qty)
	}

	var ledger *domain.StockLedger
	key := resilience.LedgerLockKey("reservation", r.StoreID, r.ProductID)
	err := s.run(ctx, "reservation-reserve", key, func(ctx context.Context) error {
		existing, err := s.reservations.FindActiveByOrderRef(ctx, r.OrderRef)
		if err != nil && !domain.IsCode(err, domain.CodeNotFound) {
			return err
		}
		if existing != nil {
			return domain.NewAlreadyExists("Reservation", "orderRef", r.OrderRef)
		}

		ledger, err = s.ledgers.FindByProductAndStore(ctx, r.ProductID, r.StoreID, true)
		if err != nil {
			return err
		}
		if err := ledger.Reserve(r.Qty); err != nil {
			return err
		}

		if err := s.reservations.Save(ctx, r); err != nil {
			return err
		}
		if err := s.ledgers.Save(ctx, ledger); err != nil {
			return err
		}
		return s.transactions.Append(ctx, domain.NewTransaction(ledger, domain.TxReserve, r.Qty, "SYSTEM", r.OrderRef, ""))
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "stock reservation failed")
		return nil, err
	}

	publishAll(ctx, s.publisher,
		domain.NewStockReserved(ledger, r),
		domain.NewInventoryUpdated(ledger),
	)
	log.Info().Str("reservation_id", r.ID).Str("order_ref", r.OrderRef).Int("qty", r.Qty).Msg("stock reserved")
	return r, nil
}

// ReleaseStock 取消预约并把数量放回 available。qty 必须与预约的
// 当前数量一致，保证镜像关系完整对账。
func (s *ReservationService) ReleaseStock(ctx context.Context, storeID, productID string, qty int, orderRef string) (*domain.StockLedger, error) {
	ctx, span := tracer.Start(ctx, "reservation.Release")
	defer span.End()
	span.SetAttributes(attribute.String("order.ref", orderRef), attribute.Int("qty", qty))

	var ledger *domain.StockLedger
	var reservation *domain.Reservation
	key := resilience.LedgerLockKey("reservation", storeID, productID)
	err := s.run(ctx, "reservation-release", key, func(ctx context.Context) error {
		var err error
		reservation, err = s.reservations.FindActiveByOrderRef(ctx, orderRef)
		if err != nil {
			return err
		}
		if reservation.Qty != qty {
			return domain.NewInvalidReservation("quantity mismatch, reserved: %d, releasing: %d", reservation.Qty, qty)
		}

		ledger, err = s.ledgers.FindByProductAndStore(ctx, productID, storeID, true)
		if err != nil {
			return err
		}

		if err := reservation.Cancel("released by caller"); err != nil {
			return err
		}
		if err := ledger.Release(qty); err != nil {
			return err
		}

		if err := s.reservations.Save(ctx, reservation); err != nil {
			return err
		}
		if err := s.ledgers.Save(ctx, ledger); err != nil {
			return err
		}
		return s.transactions.Append(ctx, domain.NewTransaction(ledger, domain.TxRelease, qty, "SYSTEM", orderRef, ""))
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "stock release failed")
		return nil, err
	}

	publishAll(ctx, s.publisher,
		domain.NewStockReleased(ledger, reservation, qty),
		domain.NewInventoryUpdated(ledger),
	)
	log.Info().Str("reservation_id", reservation.ID).Str("order_ref", orderRef).Msg("stock released")
	return ledger, nil
}

// ConfirmSale 核销预约并出账: reserved -> committed, onHand 减少。
func (s *ReservationService) ConfirmSale(ctx context.Context, storeID, productID string, qty int, orderRef string) (*domain.StockLedger, error) {
	ctx, span := tracer.Start(ctx, "reservation.ConfirmSale")
	defer span.End()
	span.SetAttributes(attribute.String("order.ref", orderRef), attribute.Int("qty", qty))

	var ledger *domain.StockLedger
	var reservation *domain.Reservation
	key := resilience.LedgerLockKey("sale", storeID, productID)
	err := s.run(ctx, "reservation-confirm", key, func(ctx context.Context) error {
		var err error
		reservation, err = s.reservations.FindActiveByOrderRef(ctx, orderRef)
		if err != nil {
			return err
		}
		if reservation.Qty != qty {
			return domain.NewInvalidReservation("quantity mismatch, reserved: %d, confirming: %d", reservation.Qty, qty)
		}

		ledger, err = s.ledgers.FindByProductAndStore(ctx, productID, storeID, true)
		if err != nil {
			return err
		}

		reservation.Commit()
		if err := ledger.ConfirmSale(qty); err != nil {
			return err
		}

		if err := s.reservations.Save(ctx, reservation); err != nil {
			return err
		}
		if err := s.ledgers.Save(ctx, ledger); err != nil {
			return err
		}
		return s.transactions.Append(ctx, domain.NewTransaction(ledger, domain.TxSale, qty, "SYSTEM", orderRef, ""))
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "sale confirmation failed")
		return nil, err
	}

	publishAll(ctx, s.publisher,
		domain.NewSaleConfirmed(ledger, reservation, qty),
		domain.NewInventoryUpdated(ledger),
	)
	log.Info().Str("reservation_id", reservation.ID).Str("order_ref", orderRef).Msg("sale confirmed")
	return ledger, nil
}

// ExtendReservation 顺延到期时间。只影响预约行，不动台账。
func (s *ReservationService) ExtendReservation(ctx context.Context, storeID, productID, orderRef string, minutes int) (*domain.Reservation, error) {
	var reservation *domain.Reservation
	key := resilience.LedgerLockKey("reservation", storeID, productID)
	err := s.run(ctx, "reservation-extend", key, func(ctx context.Context) error {
		var err error
		reservation, err = s.reservations.FindActiveByOrderRef(ctx, orderRef)
		if err != nil {
			return err
		}
		if err := reservation.Extend(minutes); err != nil {
			return err
		}
		return s.reservations.Save(ctx, reservation)
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("reservation_id", reservation.ID).Int("minutes", minutes).Msg("reservation extended")
	return reservation, nil
}

// UsePartially 部分履约: 核销 qtyUsed，剩余数量继续占用。
// qtyUsed 覆盖剩余数量时整单提交。
func (s *ReservationService) UsePartially(ctx context.Context, storeID, productID, orderRef string, qtyUsed int) (*domain.Reservation, error) {
	ctx, span := tracer.Start(ctx, "reservation.UsePartially")
	defer span.End()
	span.SetAttributes(attribute.String("order.ref", orderRef), attribute.Int("qty.used", qtyUsed))

	var ledger *domain.StockLedger
	var reservation *domain.Reservation
	var consumed int
	key := resilience.LedgerLockKey("sale", storeID, productID)
	err := s.run(ctx, "reservation-partial", key, func(ctx context.Context) error {
		var err error
		reservation, err = s.reservations.FindActiveByOrderRef(ctx, orderRef)
		if err != nil {
			return err
		}

		remaining := reservation.Qty
		if err := reservation.UsePartially(qtyUsed); err != nil {
			return err
		}
		// 整单提交时核销的是全部剩余数量，而不是调用方传入的数字
		consumed = qtyUsed
		if reservation.Status == domain.ReservationCommitted {
			consumed = remaining
		}

		ledger, err = s.ledgers.FindByProductAndStore(ctx, productID, storeID, true)
		if err != nil {
			return err
		}
		if err := ledger.ConfirmSale(consumed); err != nil {
			return err
		}

		if err := s.reservations.Save(ctx, reservation); err != nil {
			return err
		}
		if err := s.ledgers.Save(ctx, ledger); err != nil {
			return err
		}
		return s.transactions.Append(ctx, domain.NewTransaction(ledger, domain.TxSale, consumed, "SYSTEM", orderRef, "partial fulfilment"))
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "partial fulfilment failed")
		return nil, err
	}

	publishAll(ctx, s.publisher,
		domain.NewSaleConfirmed(ledger, reservation, consumed),
		domain.NewInventoryUpdated(ledger),
	)
	return reservation, nil
}

// ExpireDue 清扫到期预约: 释放台账预占并标记 EXPIRED。
// 实体自身不做定时，到期只在这里被观察和执行。
func (s *ReservationService) ExpireDue(ctx context.Context, batch int) (int, error) {
	due, err := s.reservations.FindDueForExpiry(ctx, time.Now(), batch)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, r := range due {
		var ledger *domain.StockLedger
		var swept *domain.Reservation
		key := resilience.LedgerLockKey("reservation", r.StoreID, r.ProductID)
		err := s.run(ctx, "reservation-expire", key, func(ctx context.Context) error {
			// 锁内重读，清扫器可能和正常的释放/核销在竞争
			current, err := s.reservations.FindByID(ctx, r.ID)
			if err != nil {
				return err
			}
			if !current.IsActive() || !current.IsExpired() {
				return nil
			}

			ledger, err = s.ledgers.FindByProductAndStore(ctx, current.ProductID, current.StoreID, true)
			if err != nil {
				return err
			}
			if err := ledger.Release(current.Qty); err != nil {
				return err
			}
			current.MarkExpired()

			if err := s.reservations.Save(ctx, current); err != nil {
				return err
			}
			if err := s.ledgers.Save(ctx, ledger); err != nil {
				return err
			}
			if err := s.transactions.Append(ctx, domain.NewTransaction(ledger, domain.TxRelease, current.Qty, "SWEEPER", current.OrderRef, "reservation expired")); err != nil {
				return err
			}
			swept = current
			return nil
		})
		if err != nil {
			log.Error().Err(err).Str("reservation_id", r.ID).Msg("failed to expire reservation")
			continue
		}
		if swept != nil {
			publishAll(ctx, s.publisher,
				domain.NewStockReleased(ledger, swept, swept.Qty),
				domain.NewInventoryUpdated(ledger),
			)
			expired++
		}
	}
	if expired > 0 {
		metrics.ReservationsExpired.Add(float64(expired))
		log.Info().Int("count", expired).Msg("expired reservations swept")
	}
	return expired, nil
}

// RunExpirySweeper 周期清扫循环，ctx 取消时退出。
func (s *ReservationService) RunExpirySweeper(ctx context.Context, interval time.Duration, batch int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.ExpireDue(ctx, batch); err != nil {
				log.Error().Err(err).Msg("expiry sweep failed")
			}
		}
	}
}
