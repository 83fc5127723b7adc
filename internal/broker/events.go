package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"petstore-fulfillment/internal/models"
	"petstore-fulfillment/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher handles publishing terminal order events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishOrderEvent publishes a terminal order transition event, keyed by
// order so events for one order stay ordered within a partition.
func (ep *EventPublisher) PublishOrderEvent(ctx context.Context, event *models.OrderEvent) error {
	key := fmt.Sprintf("order-%d", event.OrderID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// OrderEventHandler routes decoded order events to a registered consumer
type OrderEventHandler struct {
	onOrderEvent func(context.Context, *models.OrderEvent) error
}

// NewOrderEventHandler creates a new handler
func NewOrderEventHandler() *OrderEventHandler {
	return &OrderEventHandler{}
}

// OnOrderEvent registers a handler invoked for every order event
func (eh *OrderEventHandler) OnOrderEvent(handler func(context.Context, *models.OrderEvent) error) {
	eh.onOrderEvent = handler
}

// HandleMessage decodes a kafka message and dispatches it
func (eh *OrderEventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	switch baseEvent.EventType {
	case models.EventTypeOrderPaid,
		models.EventTypeOrderFailed,
		models.EventTypeOrderCancelled,
		models.EventTypeOrderRefunded:
		if eh.onOrderEvent == nil {
			return nil
		}
		var event models.OrderEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			return fmt.Errorf("failed to unmarshal order event: %w", err)
		}
		return eh.onOrderEvent(ctx, &event)

	default:
		util.GetLogger().Debug("Ignoring event type", zap.String("event_type", baseEvent.EventType))
	}

	return nil
}
