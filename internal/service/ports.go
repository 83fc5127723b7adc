package service

import (
	"context"
	"time"

	"petstore-fulfillment/internal/models"
)

// Store is the persistence surface the services depend on. *store.Store is
// the production implementation; tests substitute an in-memory double that
// honors the same conditional-update contract.
type Store interface {
	GetProductByID(ctx context.Context, id int64) (*models.Product, error)
	GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error)

	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetOrdersByUserID(ctx context.Context, userID int64) ([]models.Order, error)
	TransitionOrder(ctx context.Context, orderID int64, from []string, to string) (bool, error)
	TransitionOrderRestoringStock(ctx context.Context, orderID int64, from []string, to string) (bool, error)
	SetOrderPaymentRef(ctx context.Context, orderID int64, ref string) error
	ListExpiredPendingOrders(ctx context.Context, cutoff time.Time) ([]models.Order, error)

	GetVoucherByCode(ctx context.Context, code string) (*models.Voucher, error)
	GetVoucherUsage(ctx context.Context, code string, userID int64) (int, error)
	RedeemVoucher(ctx context.Context, code string, userID int64) (bool, error)

	CreatePayment(ctx context.Context, payment *models.PaymentRecord) error
	GetPaymentByID(ctx context.Context, id int64) (*models.PaymentRecord, error)
	GetPaymentByOrderID(ctx context.Context, orderID int64) (*models.PaymentRecord, error)
	UpdatePaymentStatus(ctx context.Context, paymentID int64, status, gatewayTxnID, bankCode, responseCode string) error

	CreateRefund(ctx context.Context, refund *models.RefundRecord) error
	GetRefundByOrderID(ctx context.Context, orderID int64) (*models.RefundRecord, error)
	UpdateRefundStatus(ctx context.Context, refundID int64, status, gatewayRefundRef string) error
	RestoreRefundStock(ctx context.Context, refundID int64, lines []models.OrderLine) (bool, error)
}

// EventPublisher delivers terminal-transition events to the notification
// pipeline. Publishing failures are logged and swallowed by callers.
type EventPublisher interface {
	PublishOrderEvent(ctx context.Context, event *models.OrderEvent) error
}

// RefundGateway issues refund requests against the external payment gateway
type RefundGateway interface {
	Refund(ctx context.Context, txnRef string, amount int64, reason string) (string, error)
}
