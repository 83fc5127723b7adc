package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"petstore-fulfillment/internal/models"
	"petstore-fulfillment/internal/util"

	"go.uber.org/zap"
)

// Response codes reported by the gateway
const (
	responseCodeSuccess       = "00"
	responseCodeUserCancelled = "24"
)

// Outcome is the business result of a payment attempt
type Outcome string

const (
	OutcomeConfirmed Outcome = "confirmed"
	OutcomeDeclined  Outcome = "declined"
	OutcomeCancelled Outcome = "cancelled"
)

// CallbackResult is a verified, decoded gateway callback
type CallbackResult struct {
	PaymentID    int64
	GatewayTxnID string
	BankCode     string
	ResponseCode string
	Amount       int64
	Outcome      Outcome
}

// Config holds the gateway credentials and endpoints
type Config struct {
	TmnCode    string
	HashSecret string
	PayURL     string
	RefundURL  string
	ReturnURL  string
}

// Client builds signed outbound requests and verifies inbound callbacks
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
	now    func() time.Time
}

// NewClient creates a new gateway client
func NewClient(cfg Config) *Client {
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: 15 * time.Second},
		logger: util.GetLogger(),
		now:    time.Now,
	}
}

// BuildPaymentURL builds the signed redirect URL for a payment attempt. The
// payment record id is used as the transaction reference so each retry after
// a failed attempt carries a distinct reference.
func (c *Client) BuildPaymentURL(payment *models.PaymentRecord, order *models.Order, clientIP string) string {
	params := url.Values{}
	params.Set("vnp_Version", "2.1.0")
	params.Set("vnp_Command", "pay")
	params.Set("vnp_TmnCode", c.cfg.TmnCode)
	params.Set("vnp_Amount", strconv.FormatInt(payment.Amount*100, 10))
	params.Set("vnp_CurrCode", "VND")
	params.Set("vnp_TxnRef", strconv.FormatInt(payment.ID, 10))
	params.Set("vnp_OrderInfo", fmt.Sprintf("Thanh toan don hang %d", order.ID))
	params.Set("vnp_OrderType", "other")
	params.Set("vnp_Locale", "vn")
	params.Set("vnp_ReturnUrl", c.cfg.ReturnURL)
	params.Set("vnp_IpAddr", clientIP)
	params.Set("vnp_CreateDate", c.now().Format("20060102150405"))

	signed := signQuery(c.cfg.HashSecret, params)
	params.Set("vnp_SecureHash", signed)

	return c.cfg.PayURL + "?" + params.Encode()
}

// VerifyCallback recomputes the signature over the callback parameters and
// decodes the business outcome. A mismatching or tampered callback fails
// with ErrInvalidSignature and must never reach the order state machine.
func (c *Client) VerifyCallback(params url.Values) (*CallbackResult, error) {
	received := params.Get("vnp_SecureHash")
	if received == "" {
		return nil, fmt.Errorf("missing secure hash: %w", models.ErrInvalidSignature)
	}

	unsigned := url.Values{}
	for k, vs := range params {
		if k == "vnp_SecureHash" || k == "vnp_SecureHashType" {
			continue
		}
		for _, v := range vs {
			unsigned.Add(k, v)
		}
	}

	expected := signQuery(c.cfg.HashSecret, unsigned)
	if !hmac.Equal([]byte(strings.ToLower(received)), []byte(expected)) {
		util.CallbackSignatureFailures.Inc()
		return nil, models.ErrInvalidSignature
	}

	paymentID, err := strconv.ParseInt(params.Get("vnp_TxnRef"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("malformed transaction reference: %w", models.ErrInvalidSignature)
	}

	// Gateway amounts are in hundredths of a dong.
	rawAmount, err := strconv.ParseInt(params.Get("vnp_Amount"), 10, 64)
	if err != nil {
		c.logger.Warn("Unparseable amount in signed callback",
			zap.String("txn_ref", params.Get("vnp_TxnRef")),
			zap.Error(err))
	}

	code := params.Get("vnp_ResponseCode")
	return &CallbackResult{
		PaymentID:    paymentID,
		GatewayTxnID: params.Get("vnp_TransactionNo"),
		BankCode:     params.Get("vnp_BankCode"),
		ResponseCode: code,
		Amount:       rawAmount / 100,
		Outcome:      outcomeForCode(code),
	}, nil
}

func outcomeForCode(code string) Outcome {
	switch code {
	case responseCodeSuccess:
		return OutcomeConfirmed
	case responseCodeUserCancelled:
		return OutcomeCancelled
	default:
		return OutcomeDeclined
	}
}

// refundResponse is the gateway's reply to a refund request
type refundResponse struct {
	ResponseCode  string `json:"vnp_ResponseCode"`
	Message       string `json:"vnp_Message"`
	TransactionNo string `json:"vnp_TransactionNo"`
}

// Refund requests a refund of the captured amount from the gateway. Network
// failures are retried with backoff and surfaced as ErrGatewayUnavailable so
// the caller can leave the order in REFUNDING and try again later.
func (c *Client) Refund(ctx context.Context, txnRef string, amount int64, reason string) (string, error) {
	params := url.Values{}
	params.Set("vnp_Version", "2.1.0")
	params.Set("vnp_Command", "refund")
	params.Set("vnp_TmnCode", c.cfg.TmnCode)
	params.Set("vnp_TxnRef", txnRef)
	params.Set("vnp_Amount", strconv.FormatInt(amount*100, 10))
	params.Set("vnp_OrderInfo", reason)
	params.Set("vnp_CreateDate", c.now().Format("20060102150405"))
	params.Set("vnp_SecureHash", signQuery(c.cfg.HashSecret, params))

	var lastErr error
	backoff := 500 * time.Millisecond
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		start := time.Now()
		ref, err := c.postRefund(ctx, params)
		util.GatewayRequestLatency.WithLabelValues("refund").Observe(time.Since(start).Seconds())
		if err == nil {
			util.GatewayRequestsTotal.WithLabelValues("refund", "ok").Inc()
			return ref, nil
		}

		lastErr = err
		util.GatewayRequestsTotal.WithLabelValues("refund", "error").Inc()
		c.logger.Warn("Gateway refund attempt failed",
			zap.String("txn_ref", txnRef),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}

	return "", fmt.Errorf("%w: %v", models.ErrGatewayUnavailable, lastErr)
}

func (c *Client) postRefund(ctx context.Context, params url.Values) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.RefundURL,
		strings.NewReader(params.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}

	var decoded refundResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("failed to decode refund response: %w", err)
	}
	if decoded.ResponseCode != responseCodeSuccess {
		return "", fmt.Errorf("gateway rejected refund: code=%s message=%s",
			decoded.ResponseCode, decoded.Message)
	}

	return decoded.TransactionNo, nil
}

// signQuery computes the hex HMAC-SHA512 over the sorted, URL-encoded
// parameter set using the shared secret.
func signQuery(secret string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params.Get(k)))
	}

	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write([]byte(b.String()))
	return hex.EncodeToString(mac.Sum(nil))
}
