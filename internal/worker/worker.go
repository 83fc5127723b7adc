package worker

import (
	"context"
	"fmt"

	"petstore-fulfillment/internal/broker"
	"petstore-fulfillment/internal/models"
	"petstore-fulfillment/internal/util"

	"go.uber.org/zap"
)

// NotificationStore persists notifications produced from terminal events
type NotificationStore interface {
	CreateNotification(ctx context.Context, n *models.Notification) error
}

// NotificationWorker consumes terminal order events and records best-effort
// user notifications. Failures here are logged and swallowed; they never
// propagate back to the transition that produced the event.
type NotificationWorker struct {
	consumer *broker.Consumer
	handler  *broker.OrderEventHandler
	store    NotificationStore
	logger   *zap.Logger
}

// NewNotificationWorker creates a new notification worker
func NewNotificationWorker(consumer *broker.Consumer, store NotificationStore) *NotificationWorker {
	w := &NotificationWorker{
		consumer: consumer,
		store:    store,
		logger:   util.GetLogger(),
	}

	handler := broker.NewOrderEventHandler()
	handler.OnOrderEvent(w.handleEvent)
	w.handler = handler
	return w
}

// Start starts the worker
func (w *NotificationWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting notification worker")
	return w.consumer.StartConsuming(ctx, w.handler.HandleMessage)
}

// Stop stops the worker
func (w *NotificationWorker) Stop() error {
	w.logger.Info("Stopping notification worker")
	return w.consumer.Close()
}

func (w *NotificationWorker) handleEvent(ctx context.Context, event *models.OrderEvent) error {
	n := &models.Notification{
		UserID:  event.UserID,
		OrderID: event.OrderID,
		Kind:    event.EventType,
		Message: messageFor(event),
	}

	if err := w.store.CreateNotification(ctx, n); err != nil {
		// Best effort only: swallow so the message still commits.
		w.logger.Error("Failed to record notification",
			zap.Int64("order_id", event.OrderID),
			zap.String("kind", event.EventType),
			zap.Error(err))
		return nil
	}

	util.NotificationsWrittenTotal.Inc()
	return nil
}

func messageFor(event *models.OrderEvent) string {
	switch event.EventType {
	case models.EventTypeOrderPaid:
		return fmt.Sprintf("Order #%d has been paid (%d VND).", event.OrderID, event.Total)
	case models.EventTypeOrderFailed:
		return fmt.Sprintf("Payment for order #%d failed. Reserved items have been released.", event.OrderID)
	case models.EventTypeOrderCancelled:
		return fmt.Sprintf("Order #%d has been cancelled.", event.OrderID)
	case models.EventTypeOrderRefunded:
		return fmt.Sprintf("Order #%d has been refunded (%d VND).", event.OrderID, event.Total)
	default:
		return fmt.Sprintf("Order #%d updated.", event.OrderID)
	}
}
