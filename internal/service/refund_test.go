package service

import (
	"context"
	"errors"
	"testing"

	"petstore-fulfillment/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func paidOrder(t *testing.T, store *memStore, orders *OrderService) *models.Order {
	t.Helper()
	order := createPendingOrder(t, orders, []models.CartLine{
		{ProductID: 1, SizeLabel: "M", Quantity: 2},
	}, "")
	paid, err := orders.ConfirmPayment(context.Background(), order.ID, "vnp-txn-1")
	require.NoError(t, err)
	require.Equal(t, models.OrderStatusPaid, paid.Status)
	return paid
}

func TestRequestRefundHappyPath(t *testing.T) {
	store, pub, orders := newTestEnv()
	order := paidOrder(t, store, orders)
	require.Equal(t, 3, store.variantQuantity(1, "M"))

	gw := &stubRefundGateway{ref: "rf-001"}
	refunds := NewRefundService(store, gw, pub)

	refund, err := refunds.RequestRefund(context.Background(), order.ID, "changed my mind")
	require.NoError(t, err)
	assert.Equal(t, models.RefundStatusConfirmed, refund.Status)
	assert.Equal(t, "rf-001", refund.GatewayRefundRef)
	assert.Equal(t, order.Total, refund.Amount)
	assert.Equal(t, 1, gw.calls)

	final, err := orders.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusRefunded, final.Status)
	assert.Equal(t, 5, store.variantQuantity(1, "M"))
	assert.Contains(t, pub.kinds(), models.EventTypeOrderRefunded)
}

func TestConfirmRefundRestoresStockOnce(t *testing.T) {
	store, pub, orders := newTestEnv()
	order := paidOrder(t, store, orders)

	gw := &stubRefundGateway{ref: "rf-002"}
	refunds := NewRefundService(store, gw, pub)

	_, err := refunds.RequestRefund(context.Background(), order.ID, "duplicate delivery")
	require.NoError(t, err)
	require.Equal(t, 5, store.variantQuantity(1, "M"))

	// The gateway delivering the same confirmation again is a no-op.
	err = refunds.ConfirmRefund(context.Background(), order.ID, "rf-002")
	require.NoError(t, err)
	assert.Equal(t, 5, store.variantQuantity(1, "M"))

	refunded := 0
	for _, kind := range pub.kinds() {
		if kind == models.EventTypeOrderRefunded {
			refunded++
		}
	}
	assert.Equal(t, 1, refunded)
}

func TestRequestRefundGatewayFailureLeavesRefunding(t *testing.T) {
	store, pub, orders := newTestEnv()
	order := paidOrder(t, store, orders)

	gw := &stubRefundGateway{err: models.ErrGatewayUnavailable}
	refunds := NewRefundService(store, gw, pub)

	refund, err := refunds.RequestRefund(context.Background(), order.ID, "wrong size")
	require.Error(t, err)
	assert.True(t, IsRetryableRefund(err))
	require.NotNil(t, refund)
	assert.Equal(t, models.RefundStatusPending, refund.Status)

	stuck, err := orders.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusRefunding, stuck.Status)
	assert.Equal(t, 3, store.variantQuantity(1, "M"))

	// The retry reuses the same refund record and completes.
	gw.mu.Lock()
	gw.err = nil
	gw.ref = "rf-003"
	gw.mu.Unlock()

	retried, err := refunds.RequestRefund(context.Background(), order.ID, "wrong size")
	require.NoError(t, err)
	assert.Equal(t, refund.ID, retried.ID)
	assert.Equal(t, models.RefundStatusConfirmed, retried.Status)
	assert.Equal(t, 5, store.variantQuantity(1, "M"))
}

func TestConfirmRefundRetryAfterRestoreFailure(t *testing.T) {
	store, pub, orders := newTestEnv()
	order := paidOrder(t, store, orders)

	gw := &stubRefundGateway{ref: "rf-007"}
	refunds := NewRefundService(store, gw, pub)

	store.setRestoreErr(errors.New("connection reset"))

	// The flag flip and the restoration roll back together, so the refund
	// record stays un-restored and the order stays REFUNDING.
	_, err := refunds.RequestRefund(context.Background(), order.ID, "lost parcel")
	require.Error(t, err)

	stuck, err := orders.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusRefunding, stuck.Status)
	assert.Equal(t, 3, store.variantQuantity(1, "M"))

	pending, err := store.GetRefundByOrderID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.False(t, pending.StockRestored)

	store.setRestoreErr(nil)
	retried, err := refunds.RequestRefund(context.Background(), order.ID, "lost parcel")
	require.NoError(t, err)
	assert.Equal(t, models.RefundStatusConfirmed, retried.Status)
	assert.True(t, retried.StockRestored)
	assert.Equal(t, 5, store.variantQuantity(1, "M"))

	final, err := orders.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusRefunded, final.Status)
}

func TestRequestRefundAlreadyRefunded(t *testing.T) {
	store, pub, orders := newTestEnv()
	order := paidOrder(t, store, orders)

	gw := &stubRefundGateway{ref: "rf-004"}
	refunds := NewRefundService(store, gw, pub)

	_, err := refunds.RequestRefund(context.Background(), order.ID, "first")
	require.NoError(t, err)

	_, err = refunds.RequestRefund(context.Background(), order.ID, "second")
	assert.ErrorIs(t, err, models.ErrRefundAlreadyProcessed)
	assert.Equal(t, 1, gw.calls)
}

func TestRequestRefundRequiresPaidOrder(t *testing.T) {
	store, pub, orders := newTestEnv()
	order := createPendingOrder(t, orders, []models.CartLine{
		{ProductID: 1, SizeLabel: "M", Quantity: 1},
	}, "")

	gw := &stubRefundGateway{ref: "rf-005"}
	refunds := NewRefundService(store, gw, pub)

	_, err := refunds.RequestRefund(context.Background(), order.ID, "never paid")
	var inv *models.InvalidTransitionError
	require.ErrorAs(t, err, &inv)
	assert.Equal(t, models.OrderStatusPending, inv.Current)
	assert.Equal(t, 0, gw.calls)
}

func TestRequestRefundOnShippedOrder(t *testing.T) {
	store, pub, orders := newTestEnv()
	order := paidOrder(t, store, orders)
	require.NoError(t, orders.Ship(context.Background(), order.ID))

	gw := &stubRefundGateway{ref: "rf-006"}
	refunds := NewRefundService(store, gw, pub)

	refund, err := refunds.RequestRefund(context.Background(), order.ID, "arrived damaged")
	require.NoError(t, err)
	assert.Equal(t, models.RefundStatusConfirmed, refund.Status)

	final, err := orders.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusRefunded, final.Status)
}
