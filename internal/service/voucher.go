package service

import (
	"context"
	"time"

	"petstore-fulfillment/internal/models"
	"petstore-fulfillment/internal/util"

	"go.uber.org/zap"
)

// VoucherService decides voucher applicability and computes the discount.
// It never mutates usage counters; redemption happens only when an order is
// confirmed as paid, so unpaid orders do not consume voucher uses.
type VoucherService struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

// NewVoucherService creates a new voucher service
func NewVoucherService(store Store) *VoucherService {
	return &VoucherService{
		store:  store,
		logger: util.GetLogger(),
		now:    time.Now,
	}
}

// Evaluate checks the voucher against its validity window, global usage
// limit, and the requesting user's usage, then returns the frozen discount
// amount for the subtotal. Each failure kind is distinguishable so callers
// can show a specific message.
func (vs *VoucherService) Evaluate(ctx context.Context, code string, userID int64, subtotal int64) (int64, error) {
	ctx, span := util.StartSpan(ctx, "VoucherService.Evaluate")
	defer span.End()

	voucher, err := vs.store.GetVoucherByCode(ctx, code)
	if err != nil {
		util.VoucherRejectionsTotal.WithLabelValues("not_found").Inc()
		return 0, err
	}

	now := vs.now()
	if now.Before(voucher.ValidFrom) || now.After(voucher.ValidTo) {
		util.VoucherRejectionsTotal.WithLabelValues("expired").Inc()
		return 0, models.ErrVoucherExpired
	}

	if voucher.UsedCount >= voucher.UsageLimit {
		util.VoucherRejectionsTotal.WithLabelValues("exhausted").Inc()
		return 0, models.ErrVoucherExhausted
	}

	used, err := vs.store.GetVoucherUsage(ctx, code, userID)
	if err != nil {
		return 0, err
	}
	if used >= voucher.PerUserLimit {
		util.VoucherRejectionsTotal.WithLabelValues("already_used").Inc()
		return 0, models.ErrVoucherAlreadyUsed
	}

	discount := voucher.Discount(subtotal)
	vs.logger.Debug("Voucher evaluated",
		zap.String("code", code),
		zap.Int64("user_id", userID),
		zap.Int64("discount", discount))
	return discount, nil
}
