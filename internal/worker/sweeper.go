package worker

import (
	"context"
	"time"

	"petstore-fulfillment/internal/redisclient"
	"petstore-fulfillment/internal/service"
	"petstore-fulfillment/internal/util"

	"go.uber.org/zap"
)

const sweepLockKey = "pending-order-sweep"

// ExpirySweeper periodically fails pending orders whose payment window has
// elapsed, returning their reserved stock. The sweep reuses the order state
// machine's compare-and-set path, so it cannot race a genuine late callback:
// whichever transition applies first wins and the other is a no-op.
type ExpirySweeper struct {
	orders   *service.OrderService
	locker   *redisclient.Client
	interval time.Duration
	maxAge   time.Duration
	logger   *zap.Logger
}

// NewExpirySweeper creates a new sweeper
func NewExpirySweeper(orders *service.OrderService, locker *redisclient.Client, interval, maxAge time.Duration) *ExpirySweeper {
	return &ExpirySweeper{
		orders:   orders,
		locker:   locker,
		interval: interval,
		maxAge:   maxAge,
		logger:   util.GetLogger(),
	}
}

// Run sweeps until the context is cancelled
func (es *ExpirySweeper) Run(ctx context.Context) {
	es.logger.Info("Starting expiry sweeper",
		zap.Duration("interval", es.interval),
		zap.Duration("max_age", es.maxAge))

	ticker := time.NewTicker(es.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			es.logger.Info("Expiry sweeper stopped")
			return
		case <-ticker.C:
			es.sweep(ctx)
		}
	}
}

func (es *ExpirySweeper) sweep(ctx context.Context) {
	// One instance sweeps at a time; the lock expiring mid-sweep is fine
	// because every expiry is individually compare-and-set guarded.
	acquired, err := es.locker.AcquireLock(ctx, sweepLockKey, es.interval)
	if err != nil {
		es.logger.Warn("Failed to acquire sweep lock", zap.Error(err))
		return
	}
	if !acquired {
		return
	}
	defer func() {
		if err := es.locker.ReleaseLock(ctx, sweepLockKey); err != nil {
			es.logger.Warn("Failed to release sweep lock", zap.Error(err))
		}
	}()

	expired, err := es.orders.ExpirePending(ctx, es.maxAge)
	if err != nil {
		es.logger.Error("Expiry sweep failed", zap.Error(err))
		return
	}
	if expired > 0 {
		es.logger.Info("Expired pending orders", zap.Int("count", expired))
	}
}
