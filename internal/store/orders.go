package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"petstore-fulfillment/internal/models"

	"github.com/lib/pq"
)

// CreateOrder inserts the order and its line snapshots while decrementing
// each variant's stock, all inside one transaction. Every decrement is a
// conditional update that only applies while enough quantity remains, so two
// concurrent creations against the last units cannot both succeed. Any
// failed line rolls back the whole creation.
func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, line := range order.Lines {
		res, err := tx.ExecContext(ctx,
			`UPDATE product_sizes SET quantity = quantity - $1
			 WHERE product_id = $2 AND label = $3 AND quantity >= $1`,
			line.Quantity, line.ProductID, line.SizeLabel)
		if err != nil {
			return fmt.Errorf("failed to reserve stock: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return &models.OutOfStockError{
				ProductID: line.ProductID,
				SizeLabel: line.SizeLabel,
				Requested: line.Quantity,
			}
		}
	}

	err = tx.GetContext(ctx, order,
		`INSERT INTO orders (user_id, voucher_code, subtotal, discount, total, status)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at, updated_at`,
		order.UserID, order.VoucherCode, order.Subtotal, order.Discount, order.Total, order.Status)
	if err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}

	for i := range order.Lines {
		line := &order.Lines[i]
		line.OrderID = order.ID
		err = tx.GetContext(ctx, &line.ID,
			`INSERT INTO order_lines (order_id, product_id, product_name, size_label, quantity, unit_price)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 RETURNING id`,
			line.OrderID, line.ProductID, line.ProductName, line.SizeLabel, line.Quantity, line.UnitPrice)
		if err != nil {
			return fmt.Errorf("failed to create order line: %w", err)
		}
	}

	return tx.Commit()
}

// GetOrderByID retrieves an order with its line snapshots
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("order %d: %w", id, models.ErrOrderNotFound)
	}
	if err != nil {
		return nil, err
	}

	err = s.db.SelectContext(ctx, &order.Lines,
		"SELECT * FROM order_lines WHERE order_id = $1 ORDER BY id", id)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrdersByUserID retrieves orders for a user, newest first
func (s *Store) GetOrdersByUserID(ctx context.Context, userID int64) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE user_id = $1 ORDER BY created_at DESC", userID)
	return orders, err
}

// TransitionOrder applies a compare-and-set status update: the new status is
// written only if the stored status is one of the expected source states.
// Returns false when the guard did not match, leaving the row untouched.
func (s *Store) TransitionOrder(ctx context.Context, orderID int64, from []string, to string) (bool, error) {
	var stamp string
	switch to {
	case models.OrderStatusPaid:
		stamp = ", paid_at = NOW()"
	case models.OrderStatusCancelled, models.OrderStatusFailed,
		models.OrderStatusCompleted, models.OrderStatusRefunded:
		stamp = ", closed_at = NOW()"
	}

	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE orders SET status = $1, updated_at = NOW()%s WHERE id = $2 AND status = ANY($3)", stamp),
		to, orderID, pq.Array(from))
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// TransitionOrderRestoringStock applies the compare-and-set status update and
// returns every order line's quantity to its variant inside one transaction.
// Used for the PENDING-to-terminal paths where losing the reservation must
// coincide exactly with the status change: an error rolls both back, so the
// caller can retry without the stock being stranded.
func (s *Store) TransitionOrderRestoringStock(ctx context.Context, orderID int64, from []string, to string) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"UPDATE orders SET status = $1, updated_at = NOW(), closed_at = NOW() WHERE id = $2 AND status = ANY($3)",
		to, orderID, pq.Array(from))
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 0 {
		return false, nil
	}

	var lines []models.OrderLine
	if err := tx.SelectContext(ctx, &lines,
		"SELECT * FROM order_lines WHERE order_id = $1", orderID); err != nil {
		return false, err
	}
	if err := restoreLines(ctx, tx, lines); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

// SetOrderPaymentRef records the gateway transaction reference on the order
func (s *Store) SetOrderPaymentRef(ctx context.Context, orderID int64, ref string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE orders SET payment_ref = $1, updated_at = NOW() WHERE id = $2",
		ref, orderID)
	return err
}

// ListExpiredPendingOrders returns pending orders created before the cutoff
func (s *Store) ListExpiredPendingOrders(ctx context.Context, cutoff time.Time) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE status = $1 AND created_at < $2 ORDER BY created_at",
		models.OrderStatusPending, cutoff)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		if err := s.db.SelectContext(ctx, &orders[i].Lines,
			"SELECT * FROM order_lines WHERE order_id = $1 ORDER BY id", orders[i].ID); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

// GetVoucherByCode retrieves a voucher by code
func (s *Store) GetVoucherByCode(ctx context.Context, code string) (*models.Voucher, error) {
	var voucher models.Voucher
	err := s.db.GetContext(ctx, &voucher, "SELECT * FROM vouchers WHERE code = $1", code)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("voucher %s: %w", code, models.ErrVoucherNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &voucher, nil
}

// GetVoucherUsage returns how many times a user has redeemed a voucher
func (s *Store) GetVoucherUsage(ctx context.Context, code string, userID int64) (int, error) {
	var used int
	err := s.db.GetContext(ctx, &used,
		"SELECT COALESCE(SUM(used_count), 0) FROM voucher_usages WHERE code = $1 AND user_id = $2",
		code, userID)
	return used, err
}

// RedeemVoucher increments the voucher's global and per-user usage counters,
// both bounded by their limits in the same conditional statements. Returns
// false without any change when either cap is already reached.
func (s *Store) RedeemVoucher(ctx context.Context, code string, userID int64) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"UPDATE vouchers SET used_count = used_count + 1 WHERE code = $1 AND used_count < usage_limit",
		code)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 0 {
		return false, nil
	}

	res, err = tx.ExecContext(ctx,
		`INSERT INTO voucher_usages (code, user_id, used_count) VALUES ($1, $2, 1)
		 ON CONFLICT (code, user_id) DO UPDATE SET used_count = voucher_usages.used_count + 1
		 WHERE voucher_usages.used_count < (SELECT per_user_limit FROM vouchers WHERE code = $1)`,
		code, userID)
	if err != nil {
		return false, err
	}
	affected, err = res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 0 {
		return false, nil
	}

	return true, tx.Commit()
}

// CreatePayment creates a new payment attempt record
func (s *Store) CreatePayment(ctx context.Context, payment *models.PaymentRecord) error {
	return s.db.GetContext(ctx, payment,
		`INSERT INTO payments (order_id, amount, status)
		 VALUES ($1, $2, $3)
		 RETURNING id, created_at, updated_at`,
		payment.OrderID, payment.Amount, payment.Status)
}

// GetPaymentByID retrieves a payment attempt by ID
func (s *Store) GetPaymentByID(ctx context.Context, id int64) (*models.PaymentRecord, error) {
	var payment models.PaymentRecord
	err := s.db.GetContext(ctx, &payment, "SELECT * FROM payments WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("payment not found: %d", id)
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// GetPaymentByOrderID retrieves the latest payment attempt for an order
func (s *Store) GetPaymentByOrderID(ctx context.Context, orderID int64) (*models.PaymentRecord, error) {
	var payment models.PaymentRecord
	err := s.db.GetContext(ctx, &payment,
		"SELECT * FROM payments WHERE order_id = $1 ORDER BY created_at DESC LIMIT 1", orderID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("payment not found for order: %d", orderID)
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// UpdatePaymentStatus records the gateway outcome on a payment attempt
func (s *Store) UpdatePaymentStatus(ctx context.Context, paymentID int64, status, gatewayTxnID, bankCode, responseCode string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE payments SET status = $1, gateway_txn_id = $2, bank_code = $3, response_code = $4, updated_at = NOW()
		 WHERE id = $5`,
		status, gatewayTxnID, bankCode, responseCode, paymentID)
	return err
}

// CreateRefund creates a new refund record
func (s *Store) CreateRefund(ctx context.Context, refund *models.RefundRecord) error {
	return s.db.GetContext(ctx, refund,
		`INSERT INTO refunds (order_id, reason, amount, status)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at, updated_at`,
		refund.OrderID, refund.Reason, refund.Amount, refund.Status)
}

// GetRefundByOrderID retrieves the refund record for an order, or nil
func (s *Store) GetRefundByOrderID(ctx context.Context, orderID int64) (*models.RefundRecord, error) {
	var refund models.RefundRecord
	err := s.db.GetContext(ctx, &refund,
		"SELECT * FROM refunds WHERE order_id = $1 ORDER BY created_at DESC LIMIT 1", orderID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &refund, nil
}

// UpdateRefundStatus records the gateway outcome on a refund
func (s *Store) UpdateRefundStatus(ctx context.Context, refundID int64, status, gatewayRefundRef string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE refunds SET status = $1, gateway_refund_ref = $2, updated_at = NOW() WHERE id = $3",
		status, gatewayRefundRef, refundID)
	return err
}

// RestoreRefundStock flips the refund's stock-restoration flag and returns
// each line's quantity to its variant, both in one transaction. Returns true
// only for the caller that flipped the flag, so a confirmation delivered
// twice restores nothing the second time. Any error rolls the flag back with
// the stock, keeping the whole step retryable.
func (s *Store) RestoreRefundStock(ctx context.Context, refundID int64, lines []models.OrderLine) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"UPDATE refunds SET stock_restored = TRUE, updated_at = NOW() WHERE id = $1 AND stock_restored = FALSE",
		refundID)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 0 {
		return false, nil
	}

	if err := restoreLines(ctx, tx, lines); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

// CreateNotification records a user notification
func (s *Store) CreateNotification(ctx context.Context, n *models.Notification) error {
	return s.db.GetContext(ctx, &n.ID,
		`INSERT INTO notifications (user_id, order_id, kind, message)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id`,
		n.UserID, n.OrderID, n.Kind, n.Message)
}
