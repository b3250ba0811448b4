package application

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"stocknexus/internal/pkg/resilience"
	"stocknexus/internal/service/inventory/domain"
)

// 进程内的端口实现。仓储保存/返回副本，模拟数据库的读写快照，
// 服务层必须显式 Save 才能让变更可见。

type memLockManager struct {
	mu   sync.Mutex
	held map[string]resilience.Token
}

func newMemLockManager() *memLockManager {
	return &memLockManager{held: make(map[string]resilience.Token)}
}

func (m *memLockManager) Acquire(ctx context.Context, key resilience.LockKey, wait, lease time.Duration) (resilience.Token, error) {
	deadline := time.Now().Add(wait)
	for {
		m.mu.Lock()
		if _, ok := m.held[key.String()]; !ok {
			token := resilience.Token(time.Now().String())
			m.held[key.String()] = token
			m.mu.Unlock()
			return token, nil
		}
		m.mu.Unlock()
		if time.Now().After(deadline) {
			return "", resilience.ErrNotAcquired
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

func (m *memLockManager) Release(ctx context.Context, key resilience.LockKey, token resilience.Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held[key.String()] == token {
		delete(m.held, key.String())
	}
	return nil
}

type passthroughTx struct{}

func (passthroughTx) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func ledgerKey(productID, storeID string) string { return productID + "|" + storeID }

type memLedgerRepo struct {
	mu      sync.Mutex
	ledgers map[string]domain.StockLedger
}

func newMemLedgerRepo() *memLedgerRepo {
	return &memLedgerRepo{ledgers: make(map[string]domain.StockLedger)}
}

func (r *memLedgerRepo) FindByProductAndStore(ctx context.Context, productID, storeID string, withLock bool) (*domain.StockLedger, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.ledgers[ledgerKey(productID, storeID)]
	if !ok {
		return nil, domain.NewNotFound("stock ledger", "product/store", productID+"/"+storeID)
	}
	copied := l
	return &copied, nil
}

func (r *memLedgerRepo) Save(ctx context.Context, ledger *domain.StockLedger) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ledger.Version++
	r.ledgers[ledgerKey(ledger.ProductID, ledger.StoreID)] = *ledger
	return nil
}

func (r *memLedgerRepo) ListByStore(ctx context.Context, storeID string) ([]*domain.StockLedger, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.StockLedger
	for _, l := range r.ledgers {
		if l.StoreID == storeID {
			copied := l
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *memLedgerRepo) ListLowStock(ctx context.Context, storeID string, threshold int) ([]*domain.StockLedger, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.StockLedger
	for _, l := range r.ledgers {
		if l.StoreID == storeID && l.Available < threshold {
			copied := l
			out = append(out, &copied)
		}
	}
	return out, nil
}

type memReservationRepo struct {
	mu           sync.Mutex
	reservations map[string]domain.Reservation
}

func newMemReservationRepo() *memReservationRepo {
	return &memReservationRepo{reservations: make(map[string]domain.Reservation)}
}

func (r *memReservationRepo) Save(ctx context.Context, reservation *domain.Reservation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reservations[reservation.ID] = *reservation
	return nil
}

func (r *memReservationRepo) FindByID(ctx context.Context, id string) (*domain.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.reservations[id]
	if !ok {
		return nil, domain.NewNotFound("reservation", "id", id)
	}
	copied := res
	return &copied, nil
}

func (r *memReservationRepo) FindActiveByOrderRef(ctx context.Context, orderRef string) (*domain.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, res := range r.reservations {
		if res.OrderRef == orderRef && res.IsActive() {
			copied := res
			return &copied, nil
		}
	}
	return nil, domain.NewNotFound("reservation", "orderRef", orderRef)
}

func (r *memReservationRepo) FindDueForExpiry(ctx context.Context, now time.Time, limit int) ([]*domain.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Reservation
	for _, res := range r.reservations {
		if res.IsActive() && now.After(res.ExpiresAt) {
			copied := res
			out = append(out, &copied)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

type memTransferRepo struct {
	mu        sync.Mutex
	transfers map[string]domain.Transfer
}

func newMemTransferRepo() *memTransferRepo {
	return &memTransferRepo{transfers: make(map[string]domain.Transfer)}
}

func (r *memTransferRepo) Save(ctx context.Context, t *domain.Transfer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transfers[t.ID] = *t
	return nil
}

func (r *memTransferRepo) FindByID(ctx context.Context, id string) (*domain.Transfer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.transfers[id]
	if !ok {
		return nil, domain.NewNotFound("transfer", "id", id)
	}
	copied := t
	return &copied, nil
}

func (r *memTransferRepo) List(ctx context.Context, filter domain.TransferFilter) ([]*domain.Transfer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Transfer
	for _, t := range r.transfers {
		if filter.StoreID != "" && t.FromStoreID != filter.StoreID && t.ToStoreID != filter.StoreID {
			continue
		}
		if filter.ProductID != "" && t.ProductID != filter.ProductID {
			continue
		}
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		copied := t
		out = append(out, &copied)
	}
	return out, nil
}

type memTransactionRepo struct {
	mu   sync.Mutex
	rows []domain.InventoryTransaction
}

func newMemTransactionRepo() *memTransactionRepo { return &memTransactionRepo{} }

func (r *memTransactionRepo) Append(ctx context.Context, tx *domain.InventoryTransaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, *tx)
	return nil
}

func (r *memTransactionRepo) ListByLedger(ctx context.Context, ledgerID string, limit int) ([]*domain.InventoryTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.InventoryTransaction
	for i := range r.rows {
		if r.rows[i].LedgerID == ledgerID {
			copied := r.rows[i]
			out = append(out, &copied)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (r *memTransactionRepo) ListByReference(ctx context.Context, referenceID string) ([]*domain.InventoryTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.InventoryTransaction
	for i := range r.rows {
		if r.rows[i].ReferenceID == referenceID {
			copied := r.rows[i]
			out = append(out, &copied)
		}
	}
	return out, nil
}

// byType 按类型过滤流水，测试断言用。
func (r *memTransactionRepo) byType(t domain.TransactionType) []domain.InventoryTransaction {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.InventoryTransaction
	for _, row := range r.rows {
		if row.Type == t {
			out = append(out, row)
		}
	}
	return out
}

type memStoreRepo struct {
	stores map[string]domain.Store
}

func (r *memStoreRepo) FindByID(ctx context.Context, id string) (*domain.Store, error) {
	s, ok := r.stores[id]
	if !ok {
		return nil, domain.NewNotFound("store", "id", id)
	}
	return &s, nil
}

type memProductRepo struct {
	products map[string]domain.Product
}

func (r *memProductRepo) FindByID(ctx context.Context, id string) (*domain.Product, error) {
	p, ok := r.products[id]
	if !ok {
		return nil, domain.NewNotFound("product", "id", id)
	}
	return &p, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, event domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) eventTypes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.EventType())
	}
	return out
}

type memCache struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func newMemCache() *memCache { return &memCache{entries: make(map[string][]byte)} }

func (c *memCache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.entries[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(data, dest)
}

func (c *memCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = data
	return nil
}

func (c *memCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

func (c *memCache) DeletePattern(ctx context.Context, pattern string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string][]byte)
	return nil
}

type allowAllPolicy struct{}

func (allowAllPolicy) Allow(context.Context, domain.AdjustmentFact) (bool, error) {
	return true, nil
}

type denyAllPolicy struct{}

func (denyAllPolicy) Allow(context.Context, domain.AdjustmentFact) (bool, error) {
	return false, nil
}

// testEnv 把所有假件和三个服务一次装配好。
type testEnv struct {
	ledgers      *memLedgerRepo
	reservations *memReservationRepo
	transfers    *memTransferRepo
	transactions *memTransactionRepo
	publisher    *recordingPublisher
	cache        *memCache

	inventory   *InventoryService
	reservation *ReservationService
	transfer    *TransferService
}

func newTestEnv() *testEnv {
	locks := newMemLockManager()
	guard := resilience.NewGuard(locks, resilience.Config{
		LockWait:      2 * time.Second,
		LockLease:     10 * time.Second,
		MaxAttempts:   1,
		RetryInterval: time.Millisecond,
		Retryable:     Retryable,
	})
	tx := passthroughTx{}

	env := &testEnv{
		ledgers:      newMemLedgerRepo(),
		reservations: newMemReservationRepo(),
		transfers:    newMemTransferRepo(),
		transactions: newMemTransactionRepo(),
		publisher:    &recordingPublisher{},
		cache:        newMemCache(),
	}
	stores := &memStoreRepo{stores: map[string]domain.Store{
		"store-1": {ID: "store-1", Name: "Downtown", Active: true},
		"store-2": {ID: "store-2", Name: "Uptown", Active: true},
		"store-3": {ID: "store-3", Name: "Closed", Active: false},
	}}
	products := &memProductRepo{products: map[string]domain.Product{
		"product-1": {ID: "product-1", SKU: "SKU-1", Name: "Widget"},
	}}

	env.inventory = NewInventoryService(
		guard, tx, env.ledgers, stores, products, env.transactions,
		env.publisher, env.cache, allowAllPolicy{},
		30*time.Second, 10,
	)
	env.reservation = NewReservationService(
		guard, tx, env.ledgers, env.reservations, env.transactions, env.publisher,
	)
	env.transfer = NewTransferService(
		guard, tx, env.transfers, env.ledgers, stores, products, env.transactions, env.publisher,
	)
	return env
}

// seedLedger 直接落一条台账，绕开业务入口。
func (e *testEnv) seedLedger(productID, storeID string, onHand int) *domain.StockLedger {
	l := domain.NewStockLedger(productID, storeID, "seed")
	_ = l.AddStock(onHand)
	_ = e.ledgers.Save(context.Background(), l)
	return l
}
