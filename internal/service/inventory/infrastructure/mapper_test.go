package infrastructure

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stocknexus/internal/service/inventory/domain"
)

func TestReservationMapping_ActiveOrderRefHoldsUniqueSlot(t *testing.T) {
	r := domain.NewReservation("store-1", "product-1", 5, "order-1", 15)

	m := fromDomainReservation(r)
	assert.True(t, m.ActiveOrderRef.Valid)
	assert.Equal(t, "order-1", m.ActiveOrderRef.String)

	// 终态让出唯一键位
	require.NoError(t, r.Cancel("done"))
	m = fromDomainReservation(r)
	assert.False(t, m.ActiveOrderRef.Valid)
	assert.Equal(t, "order-1", m.OrderRef, "audit column keeps the ref")

	back := toDomainReservation(m)
	assert.Equal(t, domain.ReservationCancelled, back.Status)
	assert.Equal(t, "done", back.CancelledReason)
}

func TestTransferMapping_NullableTimestamps(t *testing.T) {
	tr, err := domain.NewTransfer("store-1", "store-2", "product-1", 10, "alice")
	require.NoError(t, err)

	m := fromDomainTransfer(tr)
	assert.False(t, m.StartedAt.Valid)
	assert.False(t, m.CompletedAt.Valid)

	require.NoError(t, tr.Start("bob"))
	require.NoError(t, tr.Complete("carol"))
	m = fromDomainTransfer(tr)
	assert.True(t, m.StartedAt.Valid)
	assert.True(t, m.CompletedAt.Valid)

	back := toDomainTransfer(m)
	assert.Equal(t, domain.TransferCompleted, back.Status)
	assert.False(t, back.StartedAt.IsZero())
}
