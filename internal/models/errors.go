package models

import (
	"errors"
	"fmt"
)

// Named failure kinds. Callers discriminate with errors.Is; the typed errors
// below wrap these sentinels and carry the offending identifiers.
var (
	ErrProductUnavailable     = errors.New("product unavailable")
	ErrOutOfStock             = errors.New("out of stock")
	ErrVoucherNotFound        = errors.New("voucher not found")
	ErrVoucherExpired         = errors.New("voucher expired")
	ErrVoucherExhausted       = errors.New("voucher exhausted")
	ErrVoucherAlreadyUsed     = errors.New("voucher already used")
	ErrInvalidTransition      = errors.New("invalid order transition")
	ErrInvalidSignature       = errors.New("invalid gateway signature")
	ErrGatewayUnavailable     = errors.New("payment gateway unavailable")
	ErrRefundAlreadyProcessed = errors.New("refund already processed")
	ErrOrderNotFound          = errors.New("order not found")
	ErrForbidden              = errors.New("caller may not act on this order")
)

// OutOfStockError identifies the cart line that could not be satisfied.
type OutOfStockError struct {
	ProductID int64
	SizeLabel string
	Requested int
}

func (e *OutOfStockError) Error() string {
	return fmt.Sprintf("out of stock: product %d size %q requested %d", e.ProductID, e.SizeLabel, e.Requested)
}

func (e *OutOfStockError) Unwrap() error { return ErrOutOfStock }

// InvalidTransitionError names the stored and the requested order state.
type InvalidTransitionError struct {
	OrderID   int64
	Current   string
	Requested string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("order %d: cannot transition from %s to %s", e.OrderID, e.Current, e.Requested)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }
