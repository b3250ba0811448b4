// internal/service/inventory/application/transfer_service.go
package application

import (
	"context"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"stocknexus/internal/pkg/resilience"
	"stocknexus/internal/service/inventory/domain"
)

// TransferService 编排跨门店调拨的多步工作流:
// CREATE(只建单) -> START(源侧圈定库存) -> COMPLETE(两侧落账) / FAIL(补偿)。
// 每一步都是独立的防护链执行，步与步之间允许任意长的间隔。
type TransferService struct {
	guardRunner

	transfers    domain.TransferRepository
	ledgers      domain.LedgerRepository
	stores       domain.StoreRepository
	products     domain.ProductRepository
	transactions domain.TransactionRepository
	publisher    domain.EventPublisher
}

func NewTransferService(
	guard *resilience.Guard,
	tx domain.TxManager,
	transfers domain.TransferRepository,
	ledgers domain.LedgerRepository,
	stores domain.StoreRepository,
	products domain.ProductRepository,
	transactions domain.TransactionRepository,
	publisher domain.EventPublisher,
) *TransferService {
	return &TransferService{
		guardRunner:  guardRunner{guard: guard, tx: tx},
		transfers:    transfers,
		ledgers:      ledgers,
		stores:       stores,
		products:     products,
		transactions: transactions,
		publisher:    publisher,
	}
}

// CreateTransfer 建单。只校验双方门店与商品存在、源侧当前可用量足够，
// 不动任何台账，库存在 StartTransfer 时才真正圈定。
func (s *TransferService) CreateTransfer(ctx context.Context, fromStoreID, toStoreID, productID string, qty int, requestedBy string) (*domain.Transfer, error) {
	ctx, span := tracer.Start(ctx, "transfer.Create")
	defer span.End()
	span.SetAttributes(
		attribute.String("from.store.id", fromStoreID),
		attribute.String("to.store.id", toStoreID),
		attribute.String("product.id", productID),
		attribute.Int("qty", qty),
	)

	transfer, err := domain.NewTransfer(fromStoreID, toStoreID, productID, qty, requestedBy)
	if err != nil {
		return nil, err
	}

	key := resilience.LockKey{Kind: "transfer-create", IDs: []string{fromStoreID, toStoreID, productID}}
	err = s.run(ctx, "transfer-create", key, func(ctx context.Context) error {
		if err := s.requireActiveStore(ctx, fromStoreID); err != nil {
			return err
		}
		if err := s.requireActiveStore(ctx, toStoreID); err != nil {
			return err
		}
		if _, err := s.products.FindByID(ctx, productID); err != nil {
			return err
		}

		source, err := s.ledgers.FindByProductAndStore(ctx, productID, fromStoreID, false)
		if err != nil {
			return err
		}
		if !source.CanReserve(qty) {
			return domain.NewInsufficientStock(productID, fromStoreID, qty, source.Available)
		}

		return s.transfers.Save(ctx, transfer)
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	publishAll(ctx, s.publisher, domain.NewTransferCreated(transfer))
	log.Info().
		Str("transfer_id", transfer.ID).
		Str("from_store_id", fromStoreID).
		Str("to_store_id", toStoreID).
		Str("product_id", productID).
		Int("qty", qty).
		Msg("transfer created")
	return transfer, nil
}

// StartTransfer 发运。源侧台账把数量移入在途 (available/onHand -> inTransit)，
// 自此这批库存对源门店不可售。出库流水记为负数。
func (s *TransferService) StartTransfer(ctx context.Context, transferID, actor string) (*domain.Transfer, error) {
	ctx, span := tracer.Start(ctx, "transfer.Start")
	defer span.End()
	span.SetAttributes(attribute.String("transfer.id", transferID))

	var transfer *domain.Transfer
	var source *domain.StockLedger
	key := resilience.TransferLockKey("transfer", transferID)
	err := s.run(ctx, "transfer-start", key, func(ctx context.Context) error {
		var err error
		transfer, err = s.transfers.FindByID(ctx, transferID)
		if err != nil {
			return err
		}
		if !transfer.CanStart() {
			return domain.NewInvalidState("transfer %s cannot be started, current status: %s", transfer.ID, transfer.Status)
		}

		source, err = s.ledgers.FindByProductAndStore(ctx, transfer.ProductID, transfer.FromStoreID, true)
		if err != nil {
			return err
		}
		if err := source.MarkInTransit(transfer.Qty); err != nil {
			return err
		}
		source.LastUpdatedBy = actor
		if err := transfer.Start(actor); err != nil {
			return err
		}

		if err := s.ledgers.Save(ctx, source); err != nil {
			return err
		}
		if err := s.transfers.Save(ctx, transfer); err != nil {
			return err
		}
		return s.transactions.Append(ctx, domain.NewTransaction(source, domain.TxTransferOut, -transfer.Qty, actor, transfer.ID, "transfer to store "+transfer.ToStoreID))
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	publishAll(ctx, s.publisher, domain.NewInventoryUpdated(source))
	log.Info().
		Str("transfer_id", transfer.ID).
		Str("from_store_id", transfer.FromStoreID).
		Int("qty", transfer.Qty).
		Msg("transfer started")
	return transfer, nil
}

// CompleteTransfer 收货。源侧核销在途，目的侧入账（台账不存在时创建）。
// 两侧锁按 源->目的 的固定顺序获取，避免对向调拨互相死锁。
func (s *TransferService) CompleteTransfer(ctx context.Context, transferID, actor string) (*domain.Transfer, error) {
	ctx, span := tracer.Start(ctx, "transfer.Complete")
	defer span.End()
	span.SetAttributes(attribute.String("transfer.id", transferID))

	transfer, err := s.transfers.FindByID(ctx, transferID)
	if err != nil {
		return nil, err
	}

	var source, dest *domain.StockLedger
	sourceKey := resilience.LedgerLockKey("inventory", transfer.FromStoreID, transfer.ProductID)
	destKey := resilience.LedgerLockKey("inventory", transfer.ToStoreID, transfer.ProductID)
	err = s.run(ctx, "transfer-complete", sourceKey, func(ctx context.Context) error {
		return s.runNested(ctx, destKey, func(ctx context.Context) error {
			// 锁内重读调拨单，建单时的快照可能已经过期
			var err error
			transfer, err = s.transfers.FindByID(ctx, transferID)
			if err != nil {
				return err
			}
			if !transfer.CanComplete() {
				return domain.NewInvalidState("transfer %s cannot be completed, current status: %s", transfer.ID, transfer.Status)
			}

			source, err = s.ledgers.FindByProductAndStore(ctx, transfer.ProductID, transfer.FromStoreID, true)
			if err != nil {
				return err
			}
			if err := source.ConfirmTransferOut(transfer.Qty); err != nil {
				return err
			}
			source.LastUpdatedBy = actor

			dest, err = s.ledgers.FindByProductAndStore(ctx, transfer.ProductID, transfer.ToStoreID, true)
			if err != nil {
				if !domain.IsCode(err, domain.CodeNotFound) {
					return err
				}
				dest = domain.NewStockLedger(transfer.ProductID, transfer.ToStoreID, actor)
			}
			dest.ReceiveTransfer(transfer.Qty)
			dest.LastUpdatedBy = actor

			if err := transfer.Complete(actor); err != nil {
				return err
			}

			if err := s.ledgers.Save(ctx, source); err != nil {
				return err
			}
			if err := s.ledgers.Save(ctx, dest); err != nil {
				return err
			}
			if err := s.transfers.Save(ctx, transfer); err != nil {
				return err
			}
			return s.transactions.Append(ctx, domain.NewTransaction(dest, domain.TxTransferIn, transfer.Qty, actor, transfer.ID, "transfer from store "+transfer.FromStoreID))
		})
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	publishAll(ctx, s.publisher,
		domain.NewTransferCompleted(transfer),
		domain.NewInventoryUpdated(source),
		domain.NewInventoryUpdated(dest),
	)
	log.Info().
		Str("transfer_id", transfer.ID).
		Str("from_store_id", transfer.FromStoreID).
		Str("to_store_id", transfer.ToStoreID).
		Int("qty", transfer.Qty).
		Msg("transfer completed")
	return transfer, nil
}

// FailTransfer 终止调拨。IN_TRANSIT 状态下先把在途数量退回源侧
// (inTransit -> onHand/available)，再落 FAILED；PENDING 直接落 FAILED。
func (s *TransferService) FailTransfer(ctx context.Context, transferID, actor, reason string) (*domain.Transfer, error) {
	ctx, span := tracer.Start(ctx, "transfer.Fail")
	defer span.End()
	span.SetAttributes(attribute.String("transfer.id", transferID))

	var transfer *domain.Transfer
	var source *domain.StockLedger
	key := resilience.TransferLockKey("transfer", transferID)
	err := s.run(ctx, "transfer-fail", key, func(ctx context.Context) error {
		var err error
		transfer, err = s.transfers.FindByID(ctx, transferID)
		if err != nil {
			return err
		}
		if !transfer.CanFail() {
			return domain.NewInvalidState("transfer %s cannot be failed, current status: %s", transfer.ID, transfer.Status)
		}

		if transfer.Status == domain.TransferInTransit {
			source, err = s.ledgers.FindByProductAndStore(ctx, transfer.ProductID, transfer.FromStoreID, true)
			if err != nil {
				return err
			}
			if err := source.ConfirmTransferOut(transfer.Qty); err != nil {
				return err
			}
			if err := source.AddStock(transfer.Qty); err != nil {
				return err
			}
			source.LastUpdatedBy = actor
			if err := s.ledgers.Save(ctx, source); err != nil {
				return err
			}
			if err := s.transactions.Append(ctx, domain.NewTransaction(source, domain.TxRelease, transfer.Qty, actor, transfer.ID, "transfer failed - stock released: "+reason)); err != nil {
				return err
			}
		}

		if err := transfer.Fail(actor); err != nil {
			return err
		}
		return s.transfers.Save(ctx, transfer)
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if source != nil {
		publishAll(ctx, s.publisher, domain.NewInventoryUpdated(source))
	}
	log.Warn().
		Str("transfer_id", transfer.ID).
		Str("reason", reason).
		Msg("transfer failed")
	return transfer, nil
}

func (s *TransferService) GetTransferByID(ctx context.Context, transferID string) (*domain.Transfer, error) {
	return s.transfers.FindByID(ctx, transferID)
}

func (s *TransferService) ListTransfers(ctx context.Context, filter domain.TransferFilter) ([]*domain.Transfer, error) {
	return s.transfers.List(ctx, filter)
}

func (s *TransferService) requireActiveStore(ctx context.Context, storeID string) error {
	store, err := s.stores.FindByID(ctx, storeID)
	if err != nil {
		return err
	}
	if !store.Active {
		return domain.NewInvalidState("store %s is not active", storeID)
	}
	return nil
}
