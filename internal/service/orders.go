package service

import (
	"context"
	"errors"
	"time"

	"petstore-fulfillment/internal/models"
	"petstore-fulfillment/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OrderService owns the order lifecycle. It is the only component that
// mutates order status and variant stock; every transition is guarded by a
// compare-and-set on the stored status so concurrent callbacks, user
// actions, and the expiry sweep cannot clobber each other.
type OrderService struct {
	store     Store
	cart      *CartService
	vouchers  *VoucherService
	publisher EventPublisher
	logger    *zap.Logger
}

// NewOrderService creates a new order service
func NewOrderService(store Store, cart *CartService, vouchers *VoucherService, publisher EventPublisher) *OrderService {
	return &OrderService{
		store:     store,
		cart:      cart,
		vouchers:  vouchers,
		publisher: publisher,
		logger:    util.GetLogger(),
	}
}

// CreateOrderRequest represents a request to create an order
type CreateOrderRequest struct {
	UserID      int64             `json:"user_id"`
	Lines       []models.CartLine `json:"lines" binding:"required,min=1,dive"`
	VoucherCode string            `json:"voucher_code,omitempty"`
}

// Create prices the cart, freezes the voucher discount, and writes the order
// in PENDING with each line's stock decremented in the same transaction.
// Stock is reserved here, at creation time, so the payment round trip cannot
// oversell; if any line cannot be satisfied nothing is decremented.
func (s *OrderService) Create(ctx context.Context, req *CreateOrderRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.Create")
	defer span.End()

	lines, subtotal, err := s.cart.PriceCart(ctx, req.Lines)
	if err != nil {
		return nil, err
	}

	var discount int64
	if req.VoucherCode != "" {
		discount, err = s.vouchers.Evaluate(ctx, req.VoucherCode, req.UserID, subtotal)
		if err != nil {
			return nil, err
		}
	}

	order := &models.Order{
		UserID:      req.UserID,
		VoucherCode: req.VoucherCode,
		Subtotal:    subtotal,
		Discount:    discount,
		Total:       subtotal - discount,
		Status:      models.OrderStatusPending,
		Lines:       lines,
	}

	if err := s.store.CreateOrder(ctx, order); err != nil {
		if errors.Is(err, models.ErrOutOfStock) {
			util.StockReservationsFailed.Inc()
			return nil, err
		}
		util.OrdersFailedTotal.WithLabelValues("db_error").Inc()
		return nil, err
	}

	util.OrdersCreatedTotal.Inc()
	s.logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.Int64("user_id", order.UserID),
		zap.Int64("total", order.Total))
	return order, nil
}

// StartPayment opens a payment attempt for a pending order. Each attempt
// gets its own record; the record id doubles as the gateway transaction
// reference so retries after declined attempts are distinguishable.
func (s *OrderService) StartPayment(ctx context.Context, orderID int64) (*models.PaymentRecord, *models.Order, error) {
	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	if order.Status != models.OrderStatusPending {
		return nil, nil, &models.InvalidTransitionError{
			OrderID:   orderID,
			Current:   order.Status,
			Requested: models.OrderStatusPending,
		}
	}

	payment := &models.PaymentRecord{
		OrderID: orderID,
		Amount:  order.Total,
		Status:  models.PaymentStatusInitiated,
	}
	if err := s.store.CreatePayment(ctx, payment); err != nil {
		return nil, nil, err
	}
	return payment, order, nil
}

// SettlePayment records a verified gateway outcome against a payment attempt
// and forwards the matching order transition. Safe under gateway-side
// callback retries: the underlying transitions are idempotent.
func (s *OrderService) SettlePayment(ctx context.Context, paymentID int64, gatewayTxnID, bankCode, responseCode string, confirmed bool, reason string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.SettlePayment")
	defer span.End()

	payment, err := s.store.GetPaymentByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	if confirmed {
		if err := s.store.UpdatePaymentStatus(ctx, paymentID,
			models.PaymentStatusConfirmed, gatewayTxnID, bankCode, responseCode); err != nil {
			return nil, err
		}
		return s.ConfirmPayment(ctx, payment.OrderID, gatewayTxnID)
	}

	if err := s.store.UpdatePaymentStatus(ctx, paymentID,
		models.PaymentStatusFailed, gatewayTxnID, bankCode, responseCode); err != nil {
		return nil, err
	}
	if err := s.FailPayment(ctx, payment.OrderID, reason); err != nil {
		return nil, err
	}
	return s.store.GetOrderByID(ctx, payment.OrderID)
}

// ConfirmPayment transitions PENDING to PAID and redeems the order's voucher.
// Re-confirming an already paid order is a no-op so duplicate gateway
// callbacks are harmless; the voucher counter is only incremented by the
// call that won the compare-and-set.
func (s *OrderService) ConfirmPayment(ctx context.Context, orderID int64, gatewayTxnID string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ConfirmPayment")
	defer span.End()
	util.SpanOrderID(span, orderID)

	ok, err := s.store.TransitionOrder(ctx, orderID,
		[]string{models.OrderStatusPending}, models.OrderStatusPaid)
	if err != nil {
		return nil, err
	}

	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if !ok {
		if order.Status == models.OrderStatusPaid {
			s.logger.Info("Duplicate payment confirmation ignored", zap.Int64("order_id", orderID))
			return order, nil
		}
		return nil, &models.InvalidTransitionError{
			OrderID:   orderID,
			Current:   order.Status,
			Requested: models.OrderStatusPaid,
		}
	}

	if gatewayTxnID != "" {
		if err := s.store.SetOrderPaymentRef(ctx, orderID, gatewayTxnID); err != nil {
			s.logger.Error("Failed to record payment reference", zap.Int64("order_id", orderID), zap.Error(err))
		}
		order.PaymentRef = gatewayTxnID
	}

	if order.VoucherCode != "" {
		redeemed, err := s.store.RedeemVoucher(ctx, order.VoucherCode, order.UserID)
		if err != nil {
			s.logger.Error("Failed to redeem voucher",
				zap.String("code", order.VoucherCode),
				zap.Int64("order_id", orderID),
				zap.Error(err))
		} else if !redeemed {
			s.logger.Warn("Voucher cap reached at confirmation time",
				zap.String("code", order.VoucherCode),
				zap.Int64("order_id", orderID))
		}
	}

	util.OrdersPaidTotal.Inc()
	s.logger.Info("Order paid", zap.Int64("order_id", orderID), zap.String("txn_id", gatewayTxnID))
	s.publishEvent(ctx, models.EventTypeOrderPaid, order, "")
	order.Status = models.OrderStatusPaid
	return order, nil
}

// FailPayment transitions PENDING to FAILED and restores each line's stock.
// Gateway-initiated; failing an already failed or cancelled order is a no-op.
func (s *OrderService) FailPayment(ctx context.Context, orderID int64, reason string) error {
	ctx, span := util.StartSpan(ctx, "OrderService.FailPayment")
	defer span.End()

	return s.closePending(ctx, orderID, models.OrderStatusFailed, reason)
}

// Cancel transitions PENDING to CANCELLED and restores each line's stock.
// User-initiated; otherwise identical to FailPayment.
func (s *OrderService) Cancel(ctx context.Context, orderID int64, reason string) error {
	ctx, span := util.StartSpan(ctx, "OrderService.Cancel")
	defer span.End()

	return s.closePending(ctx, orderID, models.OrderStatusCancelled, reason)
}

// closePending applies the shared PENDING-to-terminal path: the status
// compare-and-set and the stock restoration happen in one store transaction,
// so a failure leaves the order PENDING and retryable, and only the caller
// that won the transition restores stock.
func (s *OrderService) closePending(ctx context.Context, orderID int64, to, reason string) error {
	ok, err := s.store.TransitionOrderRestoringStock(ctx, orderID,
		[]string{models.OrderStatusPending}, to)
	if err != nil {
		s.logger.Error("Failed to close pending order",
			zap.Int64("order_id", orderID),
			zap.Error(err))
		return err
	}

	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return err
	}

	if !ok {
		if order.Status == models.OrderStatusFailed || order.Status == models.OrderStatusCancelled {
			return nil
		}
		return &models.InvalidTransitionError{
			OrderID:   orderID,
			Current:   order.Status,
			Requested: to,
		}
	}

	switch to {
	case models.OrderStatusFailed:
		util.OrdersFailedTotal.WithLabelValues(reason).Inc()
		s.publishEvent(ctx, models.EventTypeOrderFailed, order, reason)
	case models.OrderStatusCancelled:
		util.OrdersCancelledTotal.Inc()
		s.publishEvent(ctx, models.EventTypeOrderCancelled, order, reason)
	}

	s.logger.Info("Order closed",
		zap.Int64("order_id", orderID),
		zap.String("status", to),
		zap.String("reason", reason))
	return nil
}

// Ship transitions PAID to SHIPPED
func (s *OrderService) Ship(ctx context.Context, orderID int64) error {
	return s.advance(ctx, orderID, models.OrderStatusPaid, models.OrderStatusShipped)
}

// Complete transitions SHIPPED to COMPLETED
func (s *OrderService) Complete(ctx context.Context, orderID int64) error {
	return s.advance(ctx, orderID, models.OrderStatusShipped, models.OrderStatusCompleted)
}

func (s *OrderService) advance(ctx context.Context, orderID int64, from, to string) error {
	ok, err := s.store.TransitionOrder(ctx, orderID, []string{from}, to)
	if err != nil {
		return err
	}
	if !ok {
		order, err := s.store.GetOrderByID(ctx, orderID)
		if err != nil {
			return err
		}
		return &models.InvalidTransitionError{OrderID: orderID, Current: order.Status, Requested: to}
	}
	s.logger.Info("Order advanced", zap.Int64("order_id", orderID), zap.String("status", to))
	return nil
}

// ExpirePending applies the FailPayment path to pending orders older than
// the given age. Used by the background sweep; the compare-and-set guard
// means a genuine late callback and the sweep cannot both win.
func (s *OrderService) ExpirePending(ctx context.Context, maxAge time.Duration) (int, error) {
	orders, err := s.store.ListExpiredPendingOrders(ctx, time.Now().Add(-maxAge))
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, order := range orders {
		if err := s.FailPayment(ctx, order.ID, "payment_window_expired"); err != nil {
			if errors.Is(err, models.ErrInvalidTransition) {
				continue
			}
			s.logger.Error("Failed to expire order", zap.Int64("order_id", order.ID), zap.Error(err))
			continue
		}
		expired++
		util.ExpiredOrdersSwept.Inc()
	}
	return expired, nil
}

// GetOrder retrieves an order with its line snapshots
func (s *OrderService) GetOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	return s.store.GetOrderByID(ctx, orderID)
}

// ListUserOrders retrieves a user's orders, newest first
func (s *OrderService) ListUserOrders(ctx context.Context, userID int64) ([]models.Order, error) {
	return s.store.GetOrdersByUserID(ctx, userID)
}

func (s *OrderService) publishEvent(ctx context.Context, eventType string, order *models.Order, reason string) {
	event := &models.OrderEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: eventType,
			Timestamp: time.Now(),
		},
		OrderID: order.ID,
		UserID:  order.UserID,
		Total:   order.Total,
		Reason:  reason,
	}

	if err := s.publisher.PublishOrderEvent(ctx, event); err != nil {
		s.logger.Error("Failed to publish order event",
			zap.String("event_type", eventType),
			zap.Int64("order_id", order.ID),
			zap.Error(err))
	}
}
