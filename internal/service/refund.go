package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"petstore-fulfillment/internal/models"
	"petstore-fulfillment/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RefundService reconciles cancellations of paid orders against the
// already-decremented stock and the captured payment. An order in REFUNDING
// never reverts to PAID; a failed gateway call just leaves it there for the
// next retry.
type RefundService struct {
	store     Store
	gateway   RefundGateway
	publisher EventPublisher
	logger    *zap.Logger
}

// NewRefundService creates a new refund service
func NewRefundService(store Store, gateway RefundGateway, publisher EventPublisher) *RefundService {
	return &RefundService{
		store:     store,
		gateway:   gateway,
		publisher: publisher,
		logger:    util.GetLogger(),
	}
}

// RequestRefund moves a paid order into REFUNDING, asks the gateway to
// return the captured amount, and on confirmation finalizes the refund.
// Safe to call again after a gateway failure: the existing refund record is
// reused and the REFUNDING guard accepts the retry.
func (rs *RefundService) RequestRefund(ctx context.Context, orderID int64, reason string) (*models.RefundRecord, error) {
	ctx, span := util.StartSpan(ctx, "RefundService.RequestRefund")
	defer span.End()
	util.SpanOrderID(span, orderID)

	order, err := rs.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	ok, err := rs.store.TransitionOrder(ctx, orderID,
		[]string{models.OrderStatusPaid, models.OrderStatusShipped}, models.OrderStatusRefunding)
	if err != nil {
		return nil, err
	}
	if !ok {
		order, err = rs.store.GetOrderByID(ctx, orderID)
		if err != nil {
			return nil, err
		}
		switch order.Status {
		case models.OrderStatusRefunding:
			// Retry of an in-flight refund.
		case models.OrderStatusRefunded:
			return nil, models.ErrRefundAlreadyProcessed
		default:
			return nil, &models.InvalidTransitionError{
				OrderID:   orderID,
				Current:   order.Status,
				Requested: models.OrderStatusRefunding,
			}
		}
	}

	refund, err := rs.store.GetRefundByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if refund == nil {
		refund = &models.RefundRecord{
			OrderID: orderID,
			Reason:  reason,
			Amount:  order.Total,
			Status:  models.RefundStatusPending,
		}
		if err := rs.store.CreateRefund(ctx, refund); err != nil {
			return nil, err
		}
	}

	txnRef := order.PaymentRef
	if txnRef == "" {
		txnRef = fmt.Sprintf("order-%d", orderID)
	}

	gatewayRef, err := rs.gateway.Refund(ctx, txnRef, refund.Amount, reason)
	if err != nil {
		// Order stays REFUNDING so the operation can be retried; it must
		// never revert to PAID while a refund may be in flight.
		rs.logger.Warn("Gateway refund failed, order left in REFUNDING",
			zap.Int64("order_id", orderID),
			zap.Error(err))
		return refund, err
	}

	if err := rs.ConfirmRefund(ctx, orderID, gatewayRef); err != nil {
		return refund, err
	}
	return rs.store.GetRefundByOrderID(ctx, orderID)
}

// ConfirmRefund finalizes a refund the gateway has confirmed: restore each
// line's stock exactly once, mark the refund confirmed, and move the order
// to REFUNDED. Delivering the same confirmation twice restores nothing the
// second time.
func (rs *RefundService) ConfirmRefund(ctx context.Context, orderID int64, gatewayRef string) error {
	ctx, span := util.StartSpan(ctx, "RefundService.ConfirmRefund")
	defer span.End()

	order, err := rs.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return err
	}

	refund, err := rs.store.GetRefundByOrderID(ctx, orderID)
	if err != nil {
		return err
	}
	if refund == nil {
		return fmt.Errorf("no refund record for order %d", orderID)
	}

	// Flag flip and restoration are one transaction: an error here leaves
	// the flag unset and the order REFUNDING, so the retry restores cleanly.
	if _, err := rs.store.RestoreRefundStock(ctx, refund.ID, order.Lines); err != nil {
		rs.logger.Error("Failed to restore stock for refund",
			zap.Int64("order_id", orderID),
			zap.Error(err))
		return err
	}

	if err := rs.store.UpdateRefundStatus(ctx, refund.ID, models.RefundStatusConfirmed, gatewayRef); err != nil {
		return err
	}

	ok, err := rs.store.TransitionOrder(ctx, orderID,
		[]string{models.OrderStatusRefunding}, models.OrderStatusRefunded)
	if err != nil {
		return err
	}
	if !ok {
		order, err = rs.store.GetOrderByID(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status == models.OrderStatusRefunded {
			rs.logger.Info("Duplicate refund confirmation ignored", zap.Int64("order_id", orderID))
			return nil
		}
		return &models.InvalidTransitionError{
			OrderID:   orderID,
			Current:   order.Status,
			Requested: models.OrderStatusRefunded,
		}
	}

	util.OrdersRefundedTotal.Inc()
	rs.logger.Info("Order refunded",
		zap.Int64("order_id", orderID),
		zap.String("gateway_ref", gatewayRef))
	rs.publishEvent(ctx, order)
	return nil
}

func (rs *RefundService) publishEvent(ctx context.Context, order *models.Order) {
	event := &models.OrderEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderRefunded,
			Timestamp: time.Now(),
		},
		OrderID: order.ID,
		UserID:  order.UserID,
		Total:   order.Total,
	}
	if err := rs.publisher.PublishOrderEvent(ctx, event); err != nil {
		rs.logger.Error("Failed to publish refund event",
			zap.Int64("order_id", order.ID),
			zap.Error(err))
	}
}

// IsRetryableRefund reports whether a refund error should be retried by the
// caller rather than treated as terminal.
func IsRetryableRefund(err error) bool {
	return errors.Is(err, models.ErrGatewayUnavailable)
}
