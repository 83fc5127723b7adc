package models

import "time"

// Event types for terminal order transitions
const (
	EventTypeOrderPaid      = "ORDER_PAID"
	EventTypeOrderFailed    = "ORDER_FAILED"
	EventTypeOrderCancelled = "ORDER_CANCELLED"
	EventTypeOrderRefunded  = "ORDER_REFUNDED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderEvent is published on every terminal order transition. The
// notification worker consumes these to produce best-effort user
// notifications; failure there never affects the transition itself.
type OrderEvent struct {
	BaseEvent
	OrderID int64  `json:"order_id"`
	UserID  int64  `json:"user_id"`
	Total   int64  `json:"total"`
	Reason  string `json:"reason,omitempty"`
}
