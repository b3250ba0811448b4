// internal/service/inventory/infrastructure/gorm_repository.go
package infrastructure

import (
	"context"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"stocknexus/internal/service/inventory/domain"
)

// MySQL 唯一键冲突
const mysqlErrDuplicateEntry = 1062

func isDuplicateEntry(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == mysqlErrDuplicateEntry
}

// GormLedgerRepository 是 LedgerRepository 的 GORM 实现。
type GormLedgerRepository struct {
	db *gorm.DB
}

func NewGormLedgerRepository(db *gorm.DB) *GormLedgerRepository {
	return &GormLedgerRepository{db: db}
}

func (r *GormLedgerRepository) FindByProductAndStore(ctx context.Context, productID, storeID string, withLock bool) (*domain.StockLedger, error) {
	tx := dbFromContext(ctx, r.db)
	if withLock {
		// 行锁的作用域是外层事务，务必在 TxManager.Do 内调用
		tx = tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var model LedgerModel
	err := tx.Where("product_id = ? AND store_id = ?", productID, storeID).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewNotFound("stock ledger", "product/store", productID+"/"+storeID)
		}
		return nil, err
	}
	return toDomainLedger(&model), nil
}

// Save 插入或整行更新，版本号在落库前自增。
func (r *GormLedgerRepository) Save(ctx context.Context, ledger *domain.StockLedger) error {
	ledger.Version++
	ledger.UpdatedAt = time.Now()
	model := fromDomainLedger(ledger)
	err := dbFromContext(ctx, r.db).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, UpdateAll: true}).
		Create(model).Error
	if err != nil {
		ledger.Version--
		if isDuplicateEntry(err) {
			return domain.NewAlreadyExists("stock ledger", "product/store", ledger.ProductID+"/"+ledger.StoreID)
		}
		return err
	}
	return nil
}

func (r *GormLedgerRepository) ListByStore(ctx context.Context, storeID string) ([]*domain.StockLedger, error) {
	var models []LedgerModel
	err := dbFromContext(ctx, r.db).
		Where("store_id = ?", storeID).
		Order("product_id").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	ledgers := make([]*domain.StockLedger, 0, len(models))
	for i := range models {
		ledgers = append(ledgers, toDomainLedger(&models[i]))
	}
	return ledgers, nil
}

func (r *GormLedgerRepository) ListLowStock(ctx context.Context, storeID string, threshold int) ([]*domain.StockLedger, error) {
	var models []LedgerModel
	err := dbFromContext(ctx, r.db).
		Where("store_id = ? AND available < ?", storeID, threshold).
		Order("available").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	ledgers := make([]*domain.StockLedger, 0, len(models))
	for i := range models {
		ledgers = append(ledgers, toDomainLedger(&models[i]))
	}
	return ledgers, nil
}

// GormReservationRepository 是 ReservationRepository 的 GORM 实现。
type GormReservationRepository struct {
	db *gorm.DB
}

func NewGormReservationRepository(db *gorm.DB) *GormReservationRepository {
	return &GormReservationRepository{db: db}
}

// Save 插入或整行更新。ActiveOrderRef 的唯一索引兜底并发下的
// 重复 orderRef：两个事务同时插入时，后提交者收到 1062。
func (r *GormReservationRepository) Save(ctx context.Context, reservation *domain.Reservation) error {
	model := fromDomainReservation(reservation)
	err := dbFromContext(ctx, r.db).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, UpdateAll: true}).
		Create(model).Error
	if err != nil {
		if isDuplicateEntry(err) {
			return domain.NewAlreadyExists("reservation", "orderRef", reservation.OrderRef)
		}
		return err
	}
	return nil
}

func (r *GormReservationRepository) FindByID(ctx context.Context, id string) (*domain.Reservation, error) {
	var model ReservationModel
	err := dbFromContext(ctx, r.db).Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewNotFound("reservation", "id", id)
		}
		return nil, err
	}
	return toDomainReservation(&model), nil
}

func (r *GormReservationRepository) FindActiveByOrderRef(ctx context.Context, orderRef string) (*domain.Reservation, error) {
	var model ReservationModel
	err := dbFromContext(ctx, r.db).Where("active_order_ref = ?", orderRef).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewNotFound("reservation", "orderRef", orderRef)
		}
		return nil, err
	}
	return toDomainReservation(&model), nil
}

func (r *GormReservationRepository) FindDueForExpiry(ctx context.Context, now time.Time, limit int) ([]*domain.Reservation, error) {
	var models []ReservationModel
	err := dbFromContext(ctx, r.db).
		Where("status IN ? AND expires_at <= ?", []string{
			string(domain.ReservationActive),
			string(domain.ReservationExtended),
			string(domain.ReservationPartial),
		}, now).
		Order("expires_at").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	reservations := make([]*domain.Reservation, 0, len(models))
	for i := range models {
		reservations = append(reservations, toDomainReservation(&models[i]))
	}
	return reservations, nil
}

// GormTransferRepository 是 TransferRepository 的 GORM 实现。
type GormTransferRepository struct {
	db *gorm.DB
}

func NewGormTransferRepository(db *gorm.DB) *GormTransferRepository {
	return &GormTransferRepository{db: db}
}

func (r *GormTransferRepository) Save(ctx context.Context, t *domain.Transfer) error {
	model := fromDomainTransfer(t)
	return dbFromContext(ctx, r.db).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, UpdateAll: true}).
		Create(model).Error
}

func (r *GormTransferRepository) FindByID(ctx context.Context, id string) (*domain.Transfer, error) {
	var model TransferModel
	err := dbFromContext(ctx, r.db).Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewNotFound("transfer", "id", id)
		}
		return nil, err
	}
	return toDomainTransfer(&model), nil
}

func (r *GormTransferRepository) List(ctx context.Context, filter domain.TransferFilter) ([]*domain.Transfer, error) {
	tx := dbFromContext(ctx, r.db)
	if filter.StoreID != "" {
		tx = tx.Where("from_store_id = ? OR to_store_id = ?", filter.StoreID, filter.StoreID)
	}
	if filter.ProductID != "" {
		tx = tx.Where("product_id = ?", filter.ProductID)
	}
	if filter.Status != "" {
		tx = tx.Where("status = ?", string(filter.Status))
	}
	var models []TransferModel
	if err := tx.Order("requested_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	transfers := make([]*domain.Transfer, 0, len(models))
	for i := range models {
		transfers = append(transfers, toDomainTransfer(&models[i]))
	}
	return transfers, nil
}

// GormTransactionRepository 审计流水仓储，只有 INSERT 和查询。
type GormTransactionRepository struct {
	db *gorm.DB
}

func NewGormTransactionRepository(db *gorm.DB) *GormTransactionRepository {
	return &GormTransactionRepository{db: db}
}

func (r *GormTransactionRepository) Append(ctx context.Context, tx *domain.InventoryTransaction) error {
	return dbFromContext(ctx, r.db).Create(fromDomainTransaction(tx)).Error
}

func (r *GormTransactionRepository) ListByLedger(ctx context.Context, ledgerID string, limit int) ([]*domain.InventoryTransaction, error) {
	tx := dbFromContext(ctx, r.db).Where("ledger_id = ?", ledgerID).Order("created_at DESC")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	var models []TransactionModel
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	txs := make([]*domain.InventoryTransaction, 0, len(models))
	for i := range models {
		txs = append(txs, toDomainTransaction(&models[i]))
	}
	return txs, nil
}

func (r *GormTransactionRepository) ListByReference(ctx context.Context, referenceID string) ([]*domain.InventoryTransaction, error) {
	var models []TransactionModel
	err := dbFromContext(ctx, r.db).
		Where("reference_id = ?", referenceID).
		Order("created_at").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	txs := make([]*domain.InventoryTransaction, 0, len(models))
	for i := range models {
		txs = append(txs, toDomainTransaction(&models[i]))
	}
	return txs, nil
}

// GormStoreRepository / GormProductRepository 只做存在性查询。
type GormStoreRepository struct {
	db *gorm.DB
}

func NewGormStoreRepository(db *gorm.DB) *GormStoreRepository {
	return &GormStoreRepository{db: db}
}

func (r *GormStoreRepository) FindByID(ctx context.Context, id string) (*domain.Store, error) {
	var model StoreModel
	err := dbFromContext(ctx, r.db).Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewNotFound("store", "id", id)
		}
		return nil, err
	}
	return toDomainStore(&model), nil
}

type GormProductRepository struct {
	db *gorm.DB
}

func NewGormProductRepository(db *gorm.DB) *GormProductRepository {
	return &GormProductRepository{db: db}
}

func (r *GormProductRepository) FindByID(ctx context.Context, id string) (*domain.Product, error) {
	var model ProductModel
	err := dbFromContext(ctx, r.db).Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewNotFound("product", "id", id)
		}
		return nil, err
	}
	return toDomainProduct(&model), nil
}
