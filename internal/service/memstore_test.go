package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"petstore-fulfillment/internal/models"
)

// memStore is an in-memory Store double for tests. It honors the same
// conditional-update contract as the SQL store: stock decrements, status
// transitions, and voucher redemption are atomic under one mutex.
type memStore struct {
	mu sync.Mutex

	products map[int64]*models.Product
	orders   map[int64]*models.Order
	vouchers map[string]*models.Voucher
	usages   map[string]map[int64]int
	payments map[int64]*models.PaymentRecord
	refunds  map[int64]*models.RefundRecord

	nextOrderID   int64
	nextPaymentID int64
	nextRefundID  int64

	// restoreErr, when set, makes the restore-carrying updates fail before
	// mutating anything, mimicking a store transaction that rolled back.
	restoreErr error
}

func newMemStore() *memStore {
	return &memStore{
		products: make(map[int64]*models.Product),
		orders:   make(map[int64]*models.Order),
		vouchers: make(map[string]*models.Voucher),
		usages:   make(map[string]map[int64]int),
		payments: make(map[int64]*models.PaymentRecord),
		refunds:  make(map[int64]*models.RefundRecord),
	}
}

func (m *memStore) addProduct(p models.Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[p.ID] = &p
}

func (m *memStore) addVoucher(v models.Voucher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vouchers[v.Code] = &v
}

func (m *memStore) variantQuantity(productID int64, label string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.products[productID]; ok {
		if v := p.VariantByLabel(label); v != nil {
			return v.Quantity
		}
	}
	return -1
}

func copyProduct(p *models.Product) models.Product {
	out := *p
	out.Sizes = append([]models.SizeVariant(nil), p.Sizes...)
	return out
}

func copyOrder(o *models.Order) *models.Order {
	out := *o
	out.Lines = append([]models.OrderLine(nil), o.Lines...)
	return &out
}

func (m *memStore) GetProductByID(_ context.Context, id int64) (*models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return nil, fmt.Errorf("product %d: %w", id, models.ErrProductUnavailable)
	}
	out := copyProduct(p)
	return &out, nil
}

func (m *memStore) GetProductsByIDs(_ context.Context, ids []int64) ([]models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Product
	for _, id := range ids {
		if p, ok := m.products[id]; ok {
			out = append(out, copyProduct(p))
		}
	}
	return out, nil
}

func (m *memStore) setRestoreErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.restoreErr = err
}

// restoreLocked reverses a reservation. Callers hold the mutex.
func (m *memStore) restoreLocked(lines []models.OrderLine) {
	for _, line := range lines {
		p, ok := m.products[line.ProductID]
		if !ok {
			continue
		}
		if v := p.VariantByLabel(line.SizeLabel); v != nil {
			v.Quantity += line.Quantity
		}
	}
}

func (m *memStore) CreateOrder(_ context.Context, order *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, line := range order.Lines {
		p, ok := m.products[line.ProductID]
		if !ok {
			return fmt.Errorf("product %d: %w", line.ProductID, models.ErrProductUnavailable)
		}
		v := p.VariantByLabel(line.SizeLabel)
		if v == nil || v.Quantity < line.Quantity {
			return &models.OutOfStockError{
				ProductID: line.ProductID,
				SizeLabel: line.SizeLabel,
				Requested: line.Quantity,
			}
		}
	}
	for _, line := range order.Lines {
		m.products[line.ProductID].VariantByLabel(line.SizeLabel).Quantity -= line.Quantity
	}

	m.nextOrderID++
	order.ID = m.nextOrderID
	order.CreatedAt = time.Now()
	order.UpdatedAt = order.CreatedAt
	for i := range order.Lines {
		order.Lines[i].OrderID = order.ID
	}
	m.orders[order.ID] = copyOrder(order)
	return nil
}

func (m *memStore) backdateOrder(id int64, age time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.orders[id]; ok {
		o.CreatedAt = o.CreatedAt.Add(-age)
	}
}

func (m *memStore) GetOrderByID(_ context.Context, id int64) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", id, models.ErrOrderNotFound)
	}
	return copyOrder(o), nil
}

func (m *memStore) GetOrdersByUserID(_ context.Context, userID int64) ([]models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Order
	for _, o := range m.orders {
		if o.UserID == userID {
			out = append(out, *copyOrder(o))
		}
	}
	return out, nil
}

func (m *memStore) TransitionOrder(_ context.Context, orderID int64, from []string, to string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return false, nil
	}
	for _, f := range from {
		if o.Status == f {
			o.Status = to
			o.UpdatedAt = time.Now()
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) TransitionOrderRestoringStock(_ context.Context, orderID int64, from []string, to string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.restoreErr != nil {
		return false, m.restoreErr
	}
	o, ok := m.orders[orderID]
	if !ok {
		return false, nil
	}
	for _, f := range from {
		if o.Status == f {
			o.Status = to
			o.UpdatedAt = time.Now()
			m.restoreLocked(o.Lines)
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) SetOrderPaymentRef(_ context.Context, orderID int64, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.orders[orderID]; ok {
		o.PaymentRef = ref
	}
	return nil
}

func (m *memStore) ListExpiredPendingOrders(_ context.Context, cutoff time.Time) ([]models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Order
	for _, o := range m.orders {
		if o.Status == models.OrderStatusPending && o.CreatedAt.Before(cutoff) {
			out = append(out, *copyOrder(o))
		}
	}
	return out, nil
}

func (m *memStore) GetVoucherByCode(_ context.Context, code string) (*models.Voucher, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vouchers[code]
	if !ok {
		return nil, fmt.Errorf("voucher %s: %w", code, models.ErrVoucherNotFound)
	}
	out := *v
	return &out, nil
}

func (m *memStore) GetVoucherUsage(_ context.Context, code string, userID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usages[code][userID], nil
}

func (m *memStore) RedeemVoucher(_ context.Context, code string, userID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vouchers[code]
	if !ok {
		return false, fmt.Errorf("voucher %s: %w", code, models.ErrVoucherNotFound)
	}
	if v.UsedCount >= v.UsageLimit {
		return false, nil
	}
	if m.usages[code][userID] >= v.PerUserLimit {
		return false, nil
	}
	v.UsedCount++
	if m.usages[code] == nil {
		m.usages[code] = make(map[int64]int)
	}
	m.usages[code][userID]++
	return true, nil
}

func (m *memStore) CreatePayment(_ context.Context, payment *models.PaymentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextPaymentID++
	payment.ID = m.nextPaymentID
	payment.CreatedAt = time.Now()
	cp := *payment
	m.payments[payment.ID] = &cp
	return nil
}

func (m *memStore) GetPaymentByID(_ context.Context, id int64) (*models.PaymentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return nil, fmt.Errorf("payment not found: %d", id)
	}
	out := *p
	return &out, nil
}

func (m *memStore) GetPaymentByOrderID(_ context.Context, orderID int64) (*models.PaymentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *models.PaymentRecord
	for _, p := range m.payments {
		if p.OrderID == orderID && (latest == nil || p.ID > latest.ID) {
			latest = p
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("payment not found for order: %d", orderID)
	}
	out := *latest
	return &out, nil
}

func (m *memStore) UpdatePaymentStatus(_ context.Context, paymentID int64, status, gatewayTxnID, bankCode, responseCode string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[paymentID]
	if !ok {
		return fmt.Errorf("payment not found: %d", paymentID)
	}
	p.Status = status
	p.GatewayTxnID = gatewayTxnID
	p.BankCode = bankCode
	p.ResponseCode = responseCode
	return nil
}

func (m *memStore) CreateRefund(_ context.Context, refund *models.RefundRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextRefundID++
	refund.ID = m.nextRefundID
	refund.CreatedAt = time.Now()
	cp := *refund
	m.refunds[refund.ID] = &cp
	return nil
}

func (m *memStore) GetRefundByOrderID(_ context.Context, orderID int64) (*models.RefundRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *models.RefundRecord
	for _, r := range m.refunds {
		if r.OrderID == orderID && (latest == nil || r.ID > latest.ID) {
			latest = r
		}
	}
	if latest == nil {
		return nil, nil
	}
	out := *latest
	return &out, nil
}

func (m *memStore) UpdateRefundStatus(_ context.Context, refundID int64, status, gatewayRefundRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.refunds[refundID]
	if !ok {
		return fmt.Errorf("refund not found: %d", refundID)
	}
	r.Status = status
	r.GatewayRefundRef = gatewayRefundRef
	return nil
}

func (m *memStore) RestoreRefundStock(_ context.Context, refundID int64, lines []models.OrderLine) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.restoreErr != nil {
		return false, m.restoreErr
	}
	r, ok := m.refunds[refundID]
	if !ok {
		return false, fmt.Errorf("refund not found: %d", refundID)
	}
	if r.StockRestored {
		return false, nil
	}
	r.StockRestored = true
	m.restoreLocked(lines)
	return true, nil
}

// capturePublisher records published events for assertions
type capturePublisher struct {
	mu     sync.Mutex
	events []*models.OrderEvent
}

func (p *capturePublisher) PublishOrderEvent(_ context.Context, event *models.OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *capturePublisher) kinds() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.EventType
	}
	return out
}

// stubRefundGateway returns a canned refund reference or error
type stubRefundGateway struct {
	mu    sync.Mutex
	ref   string
	err   error
	calls int
}

func (g *stubRefundGateway) Refund(_ context.Context, _ string, _ int64, _ string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.err != nil {
		return "", g.err
	}
	return g.ref, nil
}
