// internal/service/inventory/application/inventory_service.go
package application

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"stocknexus/internal/pkg/resilience"
	"stocknexus/internal/service/inventory/domain"
)

var tracer = otel.Tracer("inventory-core")

// InventoryService 编排调整/补货与可用性读路径。
// 台账行是唯一的共享可变资源，所有写入都走 guardRunner 的防护链。
type InventoryService struct {
	guardRunner

	ledgers      domain.LedgerRepository
	stores       domain.StoreRepository
	products     domain.ProductRepository
	transactions domain.TransactionRepository
	publisher    domain.EventPublisher
	cache        domain.Cache
	policy       domain.AdjustmentPolicy

	availabilityTTL   time.Duration
	lowStockThreshold int

	sf singleflight.Group
}

func NewInventoryService(
	guard *resilience.Guard,
	tx domain.TxManager,
	ledgers domain.LedgerRepository,
	stores domain.StoreRepository,
	products domain.ProductRepository,
	transactions domain.TransactionRepository,
	publisher domain.EventPublisher,
	cache domain.Cache,
	policy domain.AdjustmentPolicy,
	availabilityTTL time.Duration,
	lowStockThreshold int,
) *InventoryService {
	return &InventoryService{
		guardRunner:       guardRunner{guard: guard, tx: tx},
		ledgers:           ledgers,
		stores:            stores,
		products:          products,
		transactions:      transactions,
		publisher:         publisher,
		cache:             cache,
		policy:            policy,
		availabilityTTL:   availabilityTTL,
		lowStockThreshold: lowStockThreshold,
	}
}

// AdjustStock 人工调整。负向调整不允许动用已预占/已出账的部分。
// 台账不存在时隐式创建。
func (s *InventoryService) AdjustStock(ctx context.Context, storeID, productID string, delta int, actor, referenceID, notes string) (*domain.StockLedger, error) {
	ctx, span := tracer.Start(ctx, "inventory.AdjustStock")
	defer span.End()
	span.SetAttributes(
		attribute.String("store.id", storeID),
		attribute.String("product.id", productID),
		attribute.Int("delta", delta),
	)

	if delta == 0 {
		return nil, domain.NewInvalidState("adjustment delta must be non-zero")
	}

	if s.policy != nil {
		allowed, err := s.policy.Allow(ctx, domain.AdjustmentFact{
			StoreID: storeID, ProductID: productID, Delta: delta, Actor: actor, Notes: notes,
		})
		if err != nil {
			return nil, err
		}
		if !allowed {
			return nil, domain.NewInvalidState("adjustment of %d rejected by policy for product %s at store %s", delta, productID, storeID)
		}
	}

	var ledger *domain.StockLedger
	key := resilience.LedgerLockKey("inventory", storeID, productID)
	err := s.run(ctx, "inventory-adjust", key, func(ctx context.Context) error {
		if err := s.requireStoreAndProduct(ctx, storeID, productID); err != nil {
			return err
		}

		var err error
		ledger, err = s.findOrCreateLedger(ctx, productID, storeID, actor)
		if err != nil {
			return err
		}
		if err := ledger.AdjustStock(delta); err != nil {
			return err
		}
		ledger.LastUpdatedBy = actor

		if err := s.ledgers.Save(ctx, ledger); err != nil {
			return err
		}
		txType := domain.TxAdjustIncrease
		if delta < 0 {
			txType = domain.TxAdjustDecrease
		}
		return s.transactions.Append(ctx, domain.NewTransaction(ledger, txType, delta, actor, referenceID, notes))
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "stock adjustment failed")
		return nil, err
	}

	publishAll(ctx, s.publisher,
		domain.NewInventoryAdjusted(ledger, delta, actor),
		domain.NewInventoryUpdated(ledger),
	)
	log.Info().Str("ledger_id", ledger.ID).Int("delta", delta).Str("actor", actor).Msg("stock adjusted")
	return ledger, nil
}

// Restock 补货入账，数量必须为正。
func (s *InventoryService) Restock(ctx context.Context, storeID, productID string, qty int, actor, referenceID, notes string) (*domain.StockLedger, error) {
	ctx, span := tracer.Start(ctx, "inventory.Restock")
	defer span.End()
	span.SetAttributes(
		attribute.String("store.id", storeID),
		attribute.String("product.id", productID),
		attribute.Int("qty", qty),
	)

	if qty <= 0 {
		return nil, domain.NewInvalidState("restock quantity must be positive, got %d", qty)
	}

	var ledger *domain.StockLedger
	key := resilience.LedgerLockKey("inventory", storeID, productID)
	err := s.run(ctx, "inventory-restock", key, func(ctx context.Context) error {
		if err := s.requireStoreAndProduct(ctx, storeID, productID); err != nil {
			return err
		}

		var err error
		ledger, err = s.findOrCreateLedger(ctx, productID, storeID, actor)
		if err != nil {
			return err
		}
		if err := ledger.AddStock(qty); err != nil {
			return err
		}
		ledger.LastUpdatedBy = actor

		if err := s.ledgers.Save(ctx, ledger); err != nil {
			return err
		}
		return s.transactions.Append(ctx, domain.NewTransaction(ledger, domain.TxRestock, qty, actor, referenceID, notes))
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "restock failed")
		return nil, err
	}

	publishAll(ctx, s.publisher,
		domain.NewInventoryRestocked(ledger, qty, actor),
		domain.NewInventoryUpdated(ledger),
	)
	log.Info().Str("ledger_id", ledger.ID).Int("qty", qty).Str("actor", actor).Msg("restock completed")
	return ledger, nil
}

// GetStockAvailability 可用性读路径: cache-aside + singleflight 防击穿。
// 写路径从不直接写缓存，失效靠事件消费方删除。
func (s *InventoryService) GetStockAvailability(ctx context.Context, productID, storeID string, useCache bool) (*domain.StockAvailability, error) {
	cacheKey := availabilityCacheKey(productID, storeID)

	if useCache {
		var cached domain.StockAvailability
		hit, err := s.cache.Get(ctx, cacheKey, &cached)
		if err != nil {
			log.Warn().Err(err).Str("key", cacheKey).Msg("availability cache read failed")
		} else if hit {
			return &cached, nil
		}
	}

	v, err, _ := s.sf.Do(cacheKey, func() (interface{}, error) {
		ledger, err := s.ledgers.FindByProductAndStore(ctx, productID, storeID, false)
		if err != nil {
			return nil, err
		}
		availability := ledger.Availability(s.lowStockThreshold)
		if cerr := s.cache.Set(ctx, cacheKey, availability, s.availabilityTTL); cerr != nil {
			log.Warn().Err(cerr).Str("key", cacheKey).Msg("availability cache write failed")
		}
		return availability, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.StockAvailability), nil
}

// ListInventoryByStore 列出某门店的全部台账。
func (s *InventoryService) ListInventoryByStore(ctx context.Context, storeID string) ([]*domain.StockLedger, error) {
	if _, err := s.stores.FindByID(ctx, storeID); err != nil {
		return nil, err
	}
	return s.ledgers.ListByStore(ctx, storeID)
}

// ListLowStockItems 低于阈值的台账，阈值 <=0 时取配置默认。
func (s *InventoryService) ListLowStockItems(ctx context.Context, storeID string, threshold int) ([]*domain.StockLedger, error) {
	if _, err := s.stores.FindByID(ctx, storeID); err != nil {
		return nil, err
	}
	if threshold <= 0 {
		threshold = s.lowStockThreshold
	}
	return s.ledgers.ListLowStock(ctx, storeID, threshold)
}

// ListTransactions 审计流水查询。
func (s *InventoryService) ListTransactions(ctx context.Context, ledgerID string, limit int) ([]*domain.InventoryTransaction, error) {
	return s.transactions.ListByLedger(ctx, ledgerID, limit)
}

func (s *InventoryService) requireStoreAndProduct(ctx context.Context, storeID, productID string) error {
	if _, err := s.stores.FindByID(ctx, storeID); err != nil {
		return err
	}
	if _, err := s.products.FindByID(ctx, productID); err != nil {
		return err
	}
	return nil
}

func (s *InventoryService) findOrCreateLedger(ctx context.Context, productID, storeID, actor string) (*domain.StockLedger, error) {
	ledger, err := s.ledgers.FindByProductAndStore(ctx, productID, storeID, true)
	if err != nil {
		if domain.IsCode(err, domain.CodeNotFound) {
			return domain.NewStockLedger(productID, storeID, actor), nil
		}
		return nil, err
	}
	return ledger, nil
}

func availabilityCacheKey(productID, storeID string) string {
	return fmt.Sprintf("availability:%s:%s", productID, storeID)
}
