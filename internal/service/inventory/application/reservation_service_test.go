package application

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stocknexus/internal/service/inventory/domain"
)

func TestReserveStock_HappyPath(t *testing.T) {
	env := newTestEnv()
	env.seedLedger("product-1", "store-1", 100)

	r, err := env.reservation.ReserveStock(context.Background(), "store-1", "product-1", 30, "order-1")
	require.NoError(t, err)

	assert.Equal(t, domain.ReservationActive, r.Status)
	assert.Equal(t, domain.TypeStandard, r.Type)

	ledger, err := env.ledgers.FindByProductAndStore(context.Background(), "product-1", "store-1", false)
	require.NoError(t, err)
	assert.Equal(t, 70, ledger.Available)
	assert.Equal(t, 30, ledger.Reserved)

	rows := env.transactions.byType(domain.TxReserve)
	require.Len(t, rows, 1)
	assert.Equal(t, "SYSTEM", rows[0].Actor)
	assert.Equal(t, "order-1", rows[0].ReferenceID)
	assert.Equal(t, []string{"StockReserved", "InventoryUpdated"}, env.publisher.eventTypes())
}

func TestReserveStock_InsufficientStock(t *testing.T) {
	env := newTestEnv()
	env.seedLedger("product-1", "store-1", 10)

	_, err := env.reservation.ReserveStock(context.Background(), "store-1", "product-1", 11, "order-1")

	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.CodeInsufficientStock))
	assert.Empty(t, env.publisher.eventTypes())
}

func TestReserveStock_DuplicateOrderRef(t *testing.T) {
	env := newTestEnv()
	env.seedLedger("product-1", "store-1", 100)
	ctx := context.Background()

	_, err := env.reservation.ReserveStock(ctx, "store-1", "product-1", 10, "order-1")
	require.NoError(t, err)

	_, err = env.reservation.ReserveStock(ctx, "store-1", "product-1", 10, "order-1")
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.CodeAlreadyExists))

	// 只有第一次预约真正占了库存
	ledger, err := env.ledgers.FindByProductAndStore(ctx, "product-1", "store-1", false)
	require.NoError(t, err)
	assert.Equal(t, 10, ledger.Reserved)
}

func TestReserveStock_OrderRefReusableAfterRelease(t *testing.T) {
	env := newTestEnv()
	env.seedLedger("product-1", "store-1", 100)
	ctx := context.Background()

	_, err := env.reservation.ReserveStock(ctx, "store-1", "product-1", 10, "order-1")
	require.NoError(t, err)
	_, err = env.reservation.ReleaseStock(ctx, "store-1", "product-1", 10, "order-1")
	require.NoError(t, err)

	// 终态让出幂等键
	_, err = env.reservation.ReserveStock(ctx, "store-1", "product-1", 10, "order-1")
	require.NoError(t, err)
}

func TestReserveStock_NonPositiveQty(t *testing.T) {
	env := newTestEnv()

	_, err := env.reservation.ReserveStock(context.Background(), "store-1", "product-1", 0, "order-1")
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.CodeInvalidReservation))
}

func TestReserveStock_UnknownLedger(t *testing.T) {
	env := newTestEnv()

	_, err := env.reservation.ReserveStock(context.Background(), "store-1", "product-1", 5, "order-1")
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.CodeNotFound))
}

func TestReserveHighPriority_ThirtyMinuteTTL(t *testing.T) {
	env := newTestEnv()
	env.seedLedger("product-1", "store-1", 100)

	r, err := env.reservation.ReserveHighPriority(context.Background(), "store-1", "product-1", 5, "order-hp")
	require.NoError(t, err)

	assert.Equal(t, domain.TypeHighPriority, r.Type)
	ttl := time.Until(r.ExpiresAt)
	assert.Greater(t, ttl, 29*time.Minute)
	assert.LessOrEqual(t, ttl, 30*time.Minute)
}

func TestReserveLayaway_SynthesizesOrderRef(t *testing.T) {
	env := newTestEnv()
	env.seedLedger("product-1", "store-1", 100)

	r, err := env.reservation.ReserveLayaway(context.Background(), "store-1", "product-1", 5, "customer-7")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(r.OrderRef, "LAYAWAY-"))
	assert.Equal(t, "customer-7", r.CustomerID)

	_, err = env.reservation.ReserveLayaway(context.Background(), "store-1", "product-1", 5, "")
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.CodeInvalidReservation))
}

func TestReleaseStock_QtyMismatch(t *testing.T) {
	env := newTestEnv()
	env.seedLedger("product-1", "store-1", 100)
	ctx := context.Background()

	_, err := env.reservation.ReserveStock(ctx, "store-1", "product-1", 10, "order-1")
	require.NoError(t, err)

	_, err = env.reservation.ReleaseStock(ctx, "store-1", "product-1", 7, "order-1")
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.CodeInvalidReservation))

	// 失败的释放不动台账
	ledger, err := env.ledgers.FindByProductAndStore(ctx, "product-1", "store-1", false)
	require.NoError(t, err)
	assert.Equal(t, 10, ledger.Reserved)
}

func TestReleaseStock_UnknownOrderRef(t *testing.T) {
	env := newTestEnv()
	env.seedLedger("product-1", "store-1", 100)

	_, err := env.reservation.ReleaseStock(context.Background(), "store-1", "product-1", 10, "order-x")
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.CodeNotFound))
}

func TestConfirmSale_FullLifecycle(t *testing.T) {
	env := newTestEnv()
	env.seedLedger("product-1", "store-1", 100)
	ctx := context.Background()

	r, err := env.reservation.ReserveStock(ctx, "store-1", "product-1", 30, "order-1")
	require.NoError(t, err)

	ledger, err := env.reservation.ConfirmSale(ctx, "store-1", "product-1", 30, "order-1")
	require.NoError(t, err)

	assert.Equal(t, 70, ledger.OnHand)
	assert.Equal(t, 70, ledger.Available)
	assert.Zero(t, ledger.Reserved)
	assert.Equal(t, 30, ledger.Committed)

	saved, err := env.reservations.FindByID(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationCommitted, saved.Status)

	rows := env.transactions.byType(domain.TxSale)
	require.Len(t, rows, 1)
	assert.Equal(t, 70, rows[0].BalanceAfter)
}

func TestConfirmSale_CommittedRefIsGone(t *testing.T) {
	env := newTestEnv()
	env.seedLedger("product-1", "store-1", 100)
	ctx := context.Background()

	_, err := env.reservation.ReserveStock(ctx, "store-1", "product-1", 10, "order-1")
	require.NoError(t, err)
	_, err = env.reservation.ConfirmSale(ctx, "store-1", "product-1", 10, "order-1")
	require.NoError(t, err)

	// 已提交的预约不再是占用态，重复核销报 NotFound
	_, err = env.reservation.ConfirmSale(ctx, "store-1", "product-1", 10, "order-1")
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.CodeNotFound))
}

func TestExtendReservation_OnlyTouchesReservation(t *testing.T) {
	env := newTestEnv()
	env.seedLedger("product-1", "store-1", 100)
	ctx := context.Background()

	r, err := env.reservation.ReserveStock(ctx, "store-1", "product-1", 10, "order-1")
	require.NoError(t, err)
	before := r.ExpiresAt

	extended, err := env.reservation.ExtendReservation(ctx, "store-1", "product-1", "order-1", 20)
	require.NoError(t, err)

	assert.Equal(t, domain.ReservationExtended, extended.Status)
	assert.Equal(t, before.Add(20*time.Minute), extended.ExpiresAt)

	ledger, err := env.ledgers.FindByProductAndStore(ctx, "product-1", "store-1", false)
	require.NoError(t, err)
	assert.Equal(t, 10, ledger.Reserved)
}

func TestUsePartially_ShrinksReservationAndLedger(t *testing.T) {
	env := newTestEnv()
	env.seedLedger("product-1", "store-1", 100)
	ctx := context.Background()

	_, err := env.reservation.ReserveStock(ctx, "store-1", "product-1", 10, "order-1")
	require.NoError(t, err)

	r, err := env.reservation.UsePartially(ctx, "store-1", "product-1", "order-1", 3)
	require.NoError(t, err)

	assert.Equal(t, domain.ReservationPartial, r.Status)
	assert.Equal(t, 7, r.Qty)

	ledger, err := env.ledgers.FindByProductAndStore(ctx, "product-1", "store-1", false)
	require.NoError(t, err)
	assert.Equal(t, 97, ledger.OnHand)
	assert.Equal(t, 7, ledger.Reserved)
	assert.Equal(t, 3, ledger.Committed)
	assert.True(t, ledger.IsConsistent())
}

func TestUsePartially_FullUseCommitsEverything(t *testing.T) {
	env := newTestEnv()
	env.seedLedger("product-1", "store-1", 100)
	ctx := context.Background()

	_, err := env.reservation.ReserveStock(ctx, "store-1", "product-1", 10, "order-1")
	require.NoError(t, err)

	r, err := env.reservation.UsePartially(ctx, "store-1", "product-1", "order-1", 12)
	require.NoError(t, err)

	assert.Equal(t, domain.ReservationCommitted, r.Status)

	// 核销的是全部剩余数量
	ledger, err := env.ledgers.FindByProductAndStore(ctx, "product-1", "store-1", false)
	require.NoError(t, err)
	assert.Zero(t, ledger.Reserved)
	assert.Equal(t, 10, ledger.Committed)
	assert.Equal(t, 90, ledger.OnHand)
}

func TestExpireDue_ReleasesAndMarks(t *testing.T) {
	env := newTestEnv()
	env.seedLedger("product-1", "store-1", 100)
	ctx := context.Background()

	r, err := env.reservation.ReserveStock(ctx, "store-1", "product-1", 10, "order-1")
	require.NoError(t, err)

	// 把到期时间拨到过去
	stored, err := env.reservations.FindByID(ctx, r.ID)
	require.NoError(t, err)
	stored.ExpiresAt = time.Now().Add(-time.Minute)
	require.NoError(t, env.reservations.Save(ctx, stored))

	count, err := env.reservation.ExpireDue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	swept, err := env.reservations.FindByID(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationExpired, swept.Status)

	ledger, err := env.ledgers.FindByProductAndStore(ctx, "product-1", "store-1", false)
	require.NoError(t, err)
	assert.Equal(t, 100, ledger.Available)
	assert.Zero(t, ledger.Reserved)

	rows := env.transactions.byType(domain.TxRelease)
	require.Len(t, rows, 1)
	assert.Equal(t, "SWEEPER", rows[0].Actor)
}

func TestExpireDue_SkipsStillActive(t *testing.T) {
	env := newTestEnv()
	env.seedLedger("product-1", "store-1", 100)
	ctx := context.Background()

	_, err := env.reservation.ReserveStock(ctx, "store-1", "product-1", 10, "order-1")
	require.NoError(t, err)

	count, err := env.reservation.ExpireDue(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, count)

	ledger, err := env.ledgers.FindByProductAndStore(ctx, "product-1", "store-1", false)
	require.NoError(t, err)
	assert.Equal(t, 10, ledger.Reserved)
}

func TestReserveStock_ConcurrentContention(t *testing.T) {
	env := newTestEnv()
	env.seedLedger("product-1", "store-1", 10)

	// 10 个并发请求抢 10 件库存，每单要 10 件：恰好一个成功
	const workers = 10
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := env.reservation.ReserveStock(context.Background(), "store-1", "product-1", 10, "order-"+string(rune('a'+n)))
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	succeeded, failed := 0, 0
	for err := range results {
		if err == nil {
			succeeded++
		} else {
			require.True(t, domain.IsCode(err, domain.CodeInsufficientStock), "unexpected error: %v", err)
			failed++
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, workers-1, failed)

	ledger, err := env.ledgers.FindByProductAndStore(context.Background(), "product-1", "store-1", false)
	require.NoError(t, err)
	assert.Zero(t, ledger.Available)
	assert.Equal(t, 10, ledger.Reserved)
	assert.True(t, ledger.IsConsistent())
}
