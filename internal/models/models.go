package models

import (
	"time"

	"github.com/lib/pq"
)

// Product represents a catalog product with its size variants
type Product struct {
	ID          int64          `db:"id" json:"id"`
	Name        string         `db:"name" json:"name"`
	Description string         `db:"description" json:"description"`
	Images      pq.StringArray `db:"images" json:"images"`
	IsActive    bool           `db:"is_active" json:"is_active"`
	CategoryID  int64          `db:"category_id" json:"category_id"`
	Sizes       []SizeVariant  `db:"-" json:"sizes"`
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
}

// SizeVariant is a purchasable unit of a product. Quantity is the single
// source of truth for sellable stock of that variant.
type SizeVariant struct {
	ProductID   int64  `db:"product_id" json:"-"`
	Label       string `db:"label" json:"label"`
	Quantity    int    `db:"quantity" json:"quantity"`
	Price       int64  `db:"price" json:"price"`
	ImportPrice int64  `db:"import_price" json:"import_price"`
}

// VariantByLabel returns the size variant with the given label, or nil.
func (p *Product) VariantByLabel(label string) *SizeVariant {
	for i := range p.Sizes {
		if p.Sizes[i].Label == label {
			return &p.Sizes[i]
		}
	}
	return nil
}

// Voucher discount types
const (
	DiscountTypePercent = "PERCENT"
	DiscountTypeFixed   = "FIXED"
)

// Voucher represents a discount code
type Voucher struct {
	Code          string    `db:"code" json:"code"`
	DiscountType  string    `db:"discount_type" json:"discount_type"`
	DiscountValue int64     `db:"discount_value" json:"discount_value"`
	ValidFrom     time.Time `db:"valid_from" json:"valid_from"`
	ValidTo       time.Time `db:"valid_to" json:"valid_to"`
	UsageLimit    int       `db:"usage_limit" json:"usage_limit"`
	PerUserLimit  int       `db:"per_user_limit" json:"per_user_limit"`
	UsedCount     int       `db:"used_count" json:"used_count"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// Discount computes the rule-derived discount for a subtotal, clamped so the
// resulting total can never go below zero.
func (v *Voucher) Discount(subtotal int64) int64 {
	var d int64
	switch v.DiscountType {
	case DiscountTypePercent:
		d = subtotal * v.DiscountValue / 100
	case DiscountTypeFixed:
		d = v.DiscountValue
	}
	if d < 0 {
		d = 0
	}
	if d > subtotal {
		d = subtotal
	}
	return d
}

// CartLine is a single requested line from a client cart
type CartLine struct {
	ProductID int64  `json:"product_id" binding:"required"`
	SizeLabel string `json:"size_label" binding:"required"`
	Quantity  int    `json:"quantity" binding:"required,min=1"`
}

// Order represents a customer order. Line prices are snapshots taken at
// creation time; later catalog changes never affect an existing order.
type Order struct {
	ID          int64       `db:"id" json:"id"`
	UserID      int64       `db:"user_id" json:"user_id"`
	VoucherCode string      `db:"voucher_code" json:"voucher_code,omitempty"`
	Subtotal    int64       `db:"subtotal" json:"subtotal"`
	Discount    int64       `db:"discount" json:"discount"`
	Total       int64       `db:"total" json:"total"`
	Status      string      `db:"status" json:"status"`
	PaymentRef  string      `db:"payment_ref" json:"payment_ref,omitempty"`
	Lines       []OrderLine `db:"-" json:"lines"`
	CreatedAt   time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time   `db:"updated_at" json:"updated_at"`
	PaidAt      *time.Time  `db:"paid_at" json:"paid_at,omitempty"`
	ClosedAt    *time.Time  `db:"closed_at" json:"closed_at,omitempty"`
}

// OrderLine is an immutable snapshot of one ordered variant
type OrderLine struct {
	ID          int64  `db:"id" json:"id"`
	OrderID     int64  `db:"order_id" json:"order_id"`
	ProductID   int64  `db:"product_id" json:"product_id"`
	ProductName string `db:"product_name" json:"product_name"`
	SizeLabel   string `db:"size_label" json:"size_label"`
	Quantity    int    `db:"quantity" json:"quantity"`
	UnitPrice   int64  `db:"unit_price" json:"unit_price"`
}

// Order statuses
const (
	OrderStatusPending   = "PENDING"
	OrderStatusPaid      = "PAID"
	OrderStatusShipped   = "SHIPPED"
	OrderStatusCompleted = "COMPLETED"
	OrderStatusCancelled = "CANCELLED"
	OrderStatusFailed    = "FAILED"
	OrderStatusRefunding = "REFUNDING"
	OrderStatusRefunded  = "REFUNDED"
)

// PaymentRecord represents one payment attempt against an order
type PaymentRecord struct {
	ID           int64     `db:"id" json:"id"`
	OrderID      int64     `db:"order_id" json:"order_id"`
	Amount       int64     `db:"amount" json:"amount"`
	GatewayTxnID string    `db:"gateway_txn_id" json:"gateway_txn_id,omitempty"`
	BankCode     string    `db:"bank_code" json:"bank_code,omitempty"`
	ResponseCode string    `db:"response_code" json:"response_code,omitempty"`
	Status       string    `db:"status" json:"status"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Payment statuses
const (
	PaymentStatusInitiated = "INITIATED"
	PaymentStatusConfirmed = "CONFIRMED"
	PaymentStatusFailed    = "FAILED"
)

// RefundRecord represents a refund against a paid order
type RefundRecord struct {
	ID               int64     `db:"id" json:"id"`
	OrderID          int64     `db:"order_id" json:"order_id"`
	Reason           string    `db:"reason" json:"reason"`
	Amount           int64     `db:"amount" json:"amount"`
	StockRestored    bool      `db:"stock_restored" json:"stock_restored"`
	GatewayRefundRef string    `db:"gateway_refund_ref" json:"gateway_refund_ref,omitempty"`
	Status           string    `db:"status" json:"status"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// Refund statuses
const (
	RefundStatusPending   = "PENDING"
	RefundStatusConfirmed = "CONFIRMED"
	RefundStatusFailed    = "FAILED"
)

// Notification is a best-effort user-facing message about a terminal order
// transition. Delivery itself is handled outside this service.
type Notification struct {
	ID        int64     `db:"id" json:"id"`
	UserID    int64     `db:"user_id" json:"user_id"`
	OrderID   int64     `db:"order_id" json:"order_id"`
	Kind      string    `db:"kind" json:"kind"`
	Message   string    `db:"message" json:"message"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Capability is an enumerated permission granted to a caller's role
type Capability string

const (
	CapabilityManageOrders   Capability = "manageOrders"
	CapabilityManageProducts Capability = "manageProducts"
	CapabilityManageVouchers Capability = "manageVouchers"
)

// RoleCapabilities maps role names issued by the auth layer to capabilities.
// "nhanvien" is the staff role name the auth service issues.
var RoleCapabilities = map[string][]Capability{
	"admin":    {CapabilityManageOrders, CapabilityManageProducts, CapabilityManageVouchers},
	"nhanvien": {CapabilityManageOrders, CapabilityManageProducts},
}

// RoleHas reports whether a role carries a capability
func RoleHas(role string, cap Capability) bool {
	for _, c := range RoleCapabilities[role] {
		if c == cap {
			return true
		}
	}
	return false
}
