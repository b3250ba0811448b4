package application

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stocknexus/internal/service/inventory/domain"
)

func TestCreateTransfer_HappyPath(t *testing.T) {
	env := newTestEnv()
	env.seedLedger("product-1", "store-1", 100)

	tr, err := env.transfer.CreateTransfer(context.Background(), "store-1", "store-2", "product-1", 40, "alice")
	require.NoError(t, err)

	assert.Equal(t, domain.TransferPending, tr.Status)

	// 建单不动台账
	ledger, err := env.ledgers.FindByProductAndStore(context.Background(), "product-1", "store-1", false)
	require.NoError(t, err)
	assert.Equal(t, 100, ledger.Available)
	assert.Zero(t, ledger.InTransit)

	assert.Equal(t, []string{"TransferCreated"}, env.publisher.eventTypes())
}

func TestCreateTransfer_Validation(t *testing.T) {
	env := newTestEnv()
	env.seedLedger("product-1", "store-1", 100)
	ctx := context.Background()

	_, err := env.transfer.CreateTransfer(ctx, "store-1", "store-1", "product-1", 10, "alice")
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.CodeInvalidState))

	_, err = env.transfer.CreateTransfer(ctx, "store-1", "store-2", "product-1", 0, "alice")
	require.Error(t, err)

	_, err = env.transfer.CreateTransfer(ctx, "store-x", "store-2", "product-1", 10, "alice")
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.CodeNotFound))

	// 停用门店拒绝调拨
	_, err = env.transfer.CreateTransfer(ctx, "store-1", "store-3", "product-1", 10, "alice")
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.CodeInvalidState))
}

func TestCreateTransfer_InsufficientSourceStock(t *testing.T) {
	env := newTestEnv()
	env.seedLedger("product-1", "store-1", 10)

	_, err := env.transfer.CreateTransfer(context.Background(), "store-1", "store-2", "product-1", 11, "alice")

	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.CodeInsufficientStock))
}

func TestStartTransfer_MarksInTransit(t *testing.T) {
	env := newTestEnv()
	env.seedLedger("product-1", "store-1", 100)
	ctx := context.Background()

	tr, err := env.transfer.CreateTransfer(ctx, "store-1", "store-2", "product-1", 40, "alice")
	require.NoError(t, err)

	started, err := env.transfer.StartTransfer(ctx, tr.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, domain.TransferInTransit, started.Status)

	ledger, err := env.ledgers.FindByProductAndStore(ctx, "product-1", "store-1", false)
	require.NoError(t, err)
	assert.Equal(t, 60, ledger.OnHand)
	assert.Equal(t, 60, ledger.Available)
	assert.Equal(t, 40, ledger.InTransit)

	rows := env.transactions.byType(domain.TxTransferOut)
	require.Len(t, rows, 1)
	assert.Equal(t, -40, rows[0].Quantity)
	assert.Equal(t, tr.ID, rows[0].ReferenceID)
}

func TestStartTransfer_AvailabilityChangedSinceCreate(t *testing.T) {
	env := newTestEnv()
	env.seedLedger("product-1", "store-1", 50)
	ctx := context.Background()

	tr, err := env.transfer.CreateTransfer(ctx, "store-1", "store-2", "product-1", 40, "alice")
	require.NoError(t, err)

	// 建单之后库存被别人占走
	_, err = env.reservation.ReserveStock(ctx, "store-1", "product-1", 20, "order-z")
	require.NoError(t, err)

	_, err = env.transfer.StartTransfer(ctx, tr.ID, "bob")
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.CodeInconsistency))

	// 失败的发运保持 PENDING
	current, err := env.transfer.GetTransferByID(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransferPending, current.Status)
}

func TestCompleteTransfer_MovesStockAcrossStores(t *testing.T) {
	env := newTestEnv()
	env.seedLedger("product-1", "store-1", 100)
	env.seedLedger("product-1", "store-2", 5)
	ctx := context.Background()

	tr, err := env.transfer.CreateTransfer(ctx, "store-1", "store-2", "product-1", 40, "alice")
	require.NoError(t, err)
	_, err = env.transfer.StartTransfer(ctx, tr.ID, "bob")
	require.NoError(t, err)

	completed, err := env.transfer.CompleteTransfer(ctx, tr.ID, "carol")
	require.NoError(t, err)
	assert.Equal(t, domain.TransferCompleted, completed.Status)

	source, err := env.ledgers.FindByProductAndStore(ctx, "product-1", "store-1", false)
	require.NoError(t, err)
	assert.Equal(t, 60, source.OnHand)
	assert.Zero(t, source.InTransit)

	dest, err := env.ledgers.FindByProductAndStore(ctx, "product-1", "store-2", false)
	require.NoError(t, err)
	assert.Equal(t, 45, dest.OnHand)
	assert.Equal(t, 45, dest.Available)

	// 总量守恒
	assert.Equal(t, 105, source.OnHand+dest.OnHand)

	rows := env.transactions.byType(domain.TxTransferIn)
	require.Len(t, rows, 1)
	assert.Equal(t, 40, rows[0].Quantity)
	assert.Equal(t, "store-2", rows[0].StoreID)
}

func TestCompleteTransfer_CreatesDestinationLedger(t *testing.T) {
	env := newTestEnv()
	env.seedLedger("product-1", "store-1", 100)
	ctx := context.Background()

	tr, err := env.transfer.CreateTransfer(ctx, "store-1", "store-2", "product-1", 40, "alice")
	require.NoError(t, err)
	_, err = env.transfer.StartTransfer(ctx, tr.ID, "bob")
	require.NoError(t, err)
	_, err = env.transfer.CompleteTransfer(ctx, tr.ID, "carol")
	require.NoError(t, err)

	dest, err := env.ledgers.FindByProductAndStore(ctx, "product-1", "store-2", false)
	require.NoError(t, err)
	assert.Equal(t, 40, dest.OnHand)
	assert.True(t, dest.IsConsistent())
}

func TestCompleteTransfer_RequiresInTransit(t *testing.T) {
	env := newTestEnv()
	env.seedLedger("product-1", "store-1", 100)
	ctx := context.Background()

	tr, err := env.transfer.CreateTransfer(ctx, "store-1", "store-2", "product-1", 40, "alice")
	require.NoError(t, err)

	_, err = env.transfer.CompleteTransfer(ctx, tr.ID, "carol")
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.CodeInvalidState))
}

func TestFailTransfer_FromPending(t *testing.T) {
	env := newTestEnv()
	env.seedLedger("product-1", "store-1", 100)
	ctx := context.Background()

	tr, err := env.transfer.CreateTransfer(ctx, "store-1", "store-2", "product-1", 40, "alice")
	require.NoError(t, err)

	failed, err := env.transfer.FailTransfer(ctx, tr.ID, "bob", "cancelled by requester")
	require.NoError(t, err)
	assert.Equal(t, domain.TransferFailed, failed.Status)

	// PENDING 失败无需补偿
	ledger, err := env.ledgers.FindByProductAndStore(ctx, "product-1", "store-1", false)
	require.NoError(t, err)
	assert.Equal(t, 100, ledger.Available)
	assert.Empty(t, env.transactions.byType(domain.TxRelease))
}

func TestFailTransfer_FromInTransitCompensates(t *testing.T) {
	env := newTestEnv()
	env.seedLedger("product-1", "store-1", 100)
	ctx := context.Background()

	tr, err := env.transfer.CreateTransfer(ctx, "store-1", "store-2", "product-1", 40, "alice")
	require.NoError(t, err)
	_, err = env.transfer.StartTransfer(ctx, tr.ID, "bob")
	require.NoError(t, err)

	failed, err := env.transfer.FailTransfer(ctx, tr.ID, "bob", "truck broke down")
	require.NoError(t, err)
	assert.Equal(t, domain.TransferFailed, failed.Status)

	// 在途数量退回源门店
	ledger, err := env.ledgers.FindByProductAndStore(ctx, "product-1", "store-1", false)
	require.NoError(t, err)
	assert.Equal(t, 100, ledger.OnHand)
	assert.Equal(t, 100, ledger.Available)
	assert.Zero(t, ledger.InTransit)
	assert.True(t, ledger.IsConsistent())

	rows := env.transactions.byType(domain.TxRelease)
	require.Len(t, rows, 1)
	assert.Contains(t, rows[0].Notes, "transfer failed")
}

func TestFailTransfer_TerminalStateRejected(t *testing.T) {
	env := newTestEnv()
	env.seedLedger("product-1", "store-1", 100)
	ctx := context.Background()

	tr, err := env.transfer.CreateTransfer(ctx, "store-1", "store-2", "product-1", 40, "alice")
	require.NoError(t, err)
	_, err = env.transfer.StartTransfer(ctx, tr.ID, "bob")
	require.NoError(t, err)
	_, err = env.transfer.CompleteTransfer(ctx, tr.ID, "carol")
	require.NoError(t, err)

	_, err = env.transfer.FailTransfer(ctx, tr.ID, "bob", "too late")
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.CodeInvalidState))
}

func TestListTransfers_Filters(t *testing.T) {
	env := newTestEnv()
	env.seedLedger("product-1", "store-1", 100)
	env.seedLedger("product-1", "store-2", 50)
	ctx := context.Background()

	tr1, err := env.transfer.CreateTransfer(ctx, "store-1", "store-2", "product-1", 10, "alice")
	require.NoError(t, err)
	_, err = env.transfer.CreateTransfer(ctx, "store-2", "store-1", "product-1", 5, "alice")
	require.NoError(t, err)
	_, err = env.transfer.StartTransfer(ctx, tr1.ID, "bob")
	require.NoError(t, err)

	all, err := env.transfer.ListTransfers(ctx, domain.TransferFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	inTransit, err := env.transfer.ListTransfers(ctx, domain.TransferFilter{Status: domain.TransferInTransit})
	require.NoError(t, err)
	require.Len(t, inTransit, 1)
	assert.Equal(t, tr1.ID, inTransit[0].ID)

	byStore, err := env.transfer.ListTransfers(ctx, domain.TransferFilter{StoreID: "store-2"})
	require.NoError(t, err)
	assert.Len(t, byStore, 2)
}
