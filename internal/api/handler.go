package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"petstore-fulfillment/internal/gateway"
	"petstore-fulfillment/internal/models"
	"petstore-fulfillment/internal/service"
	"petstore-fulfillment/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const idempotencyTTL = 24 * time.Hour

// Cache is the subset of the redis client the handlers use for request
// deduplication
type Cache interface {
	ClaimIdempotencyKey(ctx context.Context, key string, ttl time.Duration) (bool, error)
	SetIdempotencyKey(ctx context.Context, key string, orderID int64, ttl time.Duration) error
	ReleaseIdempotencyKey(ctx context.Context, key string) error
	GetIdempotentOrder(ctx context.Context, key string) (int64, error)
	CallbackSeen(ctx context.Context, txnID string) (bool, error)
	MarkCallbackSeen(ctx context.Context, txnID string, ttl time.Duration) (bool, error)
}

// Handler contains HTTP handlers. The routing layer trusts the identity
// headers set by the upstream auth service; this core never authenticates.
type Handler struct {
	orders   *service.OrderService
	refunds  *service.RefundService
	vouchers *service.VoucherService
	gateway  *gateway.Client
	cache    Cache
	logger   *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(
	orders *service.OrderService,
	refunds *service.RefundService,
	vouchers *service.VoucherService,
	gw *gateway.Client,
	cache Cache,
) *Handler {
	return &Handler{
		orders:   orders,
		refunds:  refunds,
		vouchers: vouchers,
		gateway:  gw,
		cache:    cache,
		logger:   util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Gateway return/IPN endpoint; at-least-once delivery.
	router.GET("/vnpay/callback", h.paymentCallback)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/orders", h.createOrder)
		v1.GET("/orders", h.listOrders)
		v1.GET("/orders/:id", h.getOrder)
		v1.POST("/orders/:id/cancel", h.cancelOrder)
		v1.POST("/orders/:id/refund", h.refundOrder)
		v1.POST("/orders/:id/ship", h.shipOrder)
		v1.POST("/orders/:id/complete", h.completeOrder)
		v1.POST("/vouchers/preview", h.previewVoucher)
	}
}

func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "time": time.Now().Unix()})
}

func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ready", "time": time.Now().Unix()})
}

// callerID reads the authenticated user id injected by the auth layer
func callerID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.GetHeader("X-User-ID"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// callerManagesOrders reports whether the caller's role carries the
// manage-orders capability
func callerManagesOrders(c *gin.Context) bool {
	return models.RoleHas(c.GetHeader("X-User-Role"), models.CapabilityManageOrders)
}

// createOrder handles order creation and returns the payment redirect URL
func (h *Handler) createOrder(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing user identity"})
		return
	}

	var req service.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}
	req.UserID = userID

	ctx := c.Request.Context()

	// The key must be claimed before the order exists: checking after
	// creation would let two concurrent requests with the same key both
	// reserve stock.
	key := c.GetHeader("Idempotency-Key")
	claimedKey := false
	if key != "" {
		claimed, err := h.cache.ClaimIdempotencyKey(ctx, key, idempotencyTTL)
		if err != nil {
			h.logger.Warn("Idempotency cache unavailable", zap.String("key", key), zap.Error(err))
		} else if !claimed {
			existing, err := h.cache.GetIdempotentOrder(ctx, key)
			if err != nil {
				h.respondError(c, err)
				return
			}
			if existing == 0 {
				// Claimed but no order recorded yet: the first request is
				// still in flight.
				c.JSON(http.StatusConflict, gin.H{"error": "request with this idempotency key is in progress"})
				return
			}
			order, err := h.orders.GetOrder(ctx, existing)
			if err != nil {
				h.respondError(c, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"order": order})
			return
		} else {
			claimedKey = true
		}
	}

	order, err := h.orders.Create(ctx, &req)
	if err != nil {
		if claimedKey {
			if relErr := h.cache.ReleaseIdempotencyKey(ctx, key); relErr != nil {
				h.logger.Warn("Failed to release idempotency key", zap.String("key", key), zap.Error(relErr))
			}
		}
		h.respondError(c, err)
		return
	}

	if claimedKey {
		if err := h.cache.SetIdempotencyKey(ctx, key, order.ID, idempotencyTTL); err != nil {
			h.logger.Warn("Failed to store idempotency key", zap.String("key", key), zap.Error(err))
		}
	}

	payment, _, err := h.orders.StartPayment(ctx, order.ID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"order":       order,
		"payment_url": h.gateway.BuildPaymentURL(payment, order, c.ClientIP()),
	})
}

// getOrder handles get order by ID for the owner or staff
func (h *Handler) getOrder(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing user identity"})
		return
	}

	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order ID"})
		return
	}

	order, err := h.orders.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	if order.UserID != userID && !callerManagesOrders(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"order": order})
}

// listOrders returns the caller's orders
func (h *Handler) listOrders(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing user identity"})
		return
	}

	orders, err := h.orders.ListUserOrders(c.Request.Context(), userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// cancelOrder cancels a pending order. Owner-only, with a staff override
// for roles carrying the manage-orders capability.
func (h *Handler) cancelOrder(c *gin.Context) {
	order, ok := h.authorizeOrderAction(c)
	if !ok {
		return
	}

	if err := h.orders.Cancel(c.Request.Context(), order.ID, "user_cancelled"); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order_id": order.ID, "status": models.OrderStatusCancelled})
}

// refundOrder starts a refund for a paid order
func (h *Handler) refundOrder(c *gin.Context) {
	order, ok := h.authorizeOrderAction(c)
	if !ok {
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "customer_request"
	}

	refund, err := h.refunds.RequestRefund(c.Request.Context(), order.ID, req.Reason)
	if err != nil {
		if service.IsRetryableRefund(err) {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error":     "refund accepted but gateway unavailable, retry later",
				"order_id":  order.ID,
				"refund_id": refund.ID,
			})
			return
		}
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"refund": refund})
}

// shipOrder marks a paid order as shipped (staff only)
func (h *Handler) shipOrder(c *gin.Context) {
	h.staffTransition(c, h.orders.Ship, models.OrderStatusShipped)
}

// completeOrder marks a shipped order as completed (staff only)
func (h *Handler) completeOrder(c *gin.Context) {
	h.staffTransition(c, h.orders.Complete, models.OrderStatusCompleted)
}

func (h *Handler) staffTransition(c *gin.Context, apply func(ctx context.Context, orderID int64) error, to string) {
	if !callerManagesOrders(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}

	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order ID"})
		return
	}

	if err := apply(c.Request.Context(), orderID); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order_id": orderID, "status": to})
}

// authorizeOrderAction loads the order and enforces owner-or-staff access
func (h *Handler) authorizeOrderAction(c *gin.Context) (*models.Order, bool) {
	userID, ok := callerID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing user identity"})
		return nil, false
	}

	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order ID"})
		return nil, false
	}

	order, err := h.orders.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		h.respondError(c, err)
		return nil, false
	}

	if order.UserID != userID && !callerManagesOrders(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return nil, false
	}
	return order, true
}

// previewVoucher evaluates a voucher against a subtotal without redeeming it
func (h *Handler) previewVoucher(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing user identity"})
		return
	}

	var req struct {
		Code     string `json:"code" binding:"required"`
		Subtotal int64  `json:"subtotal" binding:"required,min=0"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	discount, err := h.vouchers.Evaluate(c.Request.Context(), req.Code, userID, req.Subtotal)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":     req.Code,
		"discount": discount,
		"total":    req.Subtotal - discount,
	})
}

// paymentCallback verifies and settles a gateway callback. Responses use
// the gateway's code convention; processing failures are terminal for this
// delivery because the gateway retries on its own.
func (h *Handler) paymentCallback(c *gin.Context) {
	ctx := c.Request.Context()

	result, err := h.gateway.VerifyCallback(c.Request.URL.Query())
	if err != nil {
		// Full detail stays in the audit log; the gateway only sees a
		// generic rejection.
		h.logger.Warn("Rejected gateway callback", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"RspCode": "97", "Message": "Invalid signature"})
		return
	}

	if result.GatewayTxnID != "" {
		seen, err := h.cache.CallbackSeen(ctx, result.GatewayTxnID)
		if err != nil {
			h.logger.Warn("Callback dedupe cache unavailable", zap.Error(err))
		} else if seen {
			c.JSON(http.StatusOK, gin.H{"RspCode": "00", "Message": "Already processed"})
			return
		}
	}

	confirmed := result.Outcome == gateway.OutcomeConfirmed
	reason := "payment_declined"
	if result.Outcome == gateway.OutcomeCancelled {
		reason = "payment_cancelled"
	}

	order, err := h.orders.SettlePayment(ctx, result.PaymentID,
		result.GatewayTxnID, result.BankCode, result.ResponseCode, confirmed, reason)
	if err != nil {
		if errors.Is(err, models.ErrInvalidTransition) {
			h.logger.Warn("Callback for order in terminal state", zap.Error(err))
			c.JSON(http.StatusOK, gin.H{"RspCode": "02", "Message": "Order already confirmed"})
			return
		}
		h.logger.Error("Failed to settle payment", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"RspCode": "99", "Message": "Unknown error"})
		return
	}

	// The mark goes in only after settlement succeeded; a transient
	// settlement failure must leave the transaction unmarked so the
	// gateway's retry can settle it.
	if result.GatewayTxnID != "" {
		if _, err := h.cache.MarkCallbackSeen(ctx, result.GatewayTxnID, idempotencyTTL); err != nil {
			h.logger.Warn("Failed to record callback dedupe mark", zap.Error(err))
		}
	}

	c.JSON(http.StatusOK, gin.H{"RspCode": "00", "Message": "Confirm success", "OrderStatus": order.Status})
}

// respondError maps the error taxonomy onto HTTP statuses with user-facing
// messages for validation failures and generic ones otherwise
func (h *Handler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, models.ErrOutOfStock),
		errors.Is(err, models.ErrProductUnavailable),
		errors.Is(err, models.ErrVoucherNotFound),
		errors.Is(err, models.ErrVoucherExpired),
		errors.Is(err, models.ErrVoucherExhausted),
		errors.Is(err, models.ErrVoucherAlreadyUsed):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrOrderNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
	case errors.Is(err, models.ErrInvalidTransition),
		errors.Is(err, models.ErrRefundAlreadyProcessed):
		h.logger.Warn("Rejected order operation", zap.Error(err))
		c.JSON(http.StatusConflict, gin.H{"error": "operation not allowed in current order state"})
	case errors.Is(err, models.ErrGatewayUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "payment gateway unavailable"})
	default:
		h.logger.Error("Request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
