// Package commerce wraps the Commerce API: order creation, payment
// session creation, payment verification and follow-up orders. It owns
// the wire format, transient-failure retry for session creation, and
// the mapping of known server error messages to stable reason codes.
package commerce

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/avast/retry-go"
	"github.com/google/uuid"

	"github.com/yourorg/checkout-orchestrator/internal/checkout"
	"github.com/yourorg/checkout-orchestrator/internal/commerce/circuitbreaker"
	buyerctx "github.com/yourorg/checkout-orchestrator/internal/context"
)

// Endpoint names; they double as circuit breaker keys.
const (
	EndpointCreateOrder          = "create-order"
	EndpointCreatePaymentSession = "create-payment-session"
	EndpointVerifyPayment        = "verify-payment"
	EndpointCreateFollowUpOrder  = "create-followup-order"
)

const (
	defaultTimeout       = 15 * time.Second
	sessionRetryAttempts = 3
	sessionRetryDelay    = 200 * time.Millisecond
	sessionRetryMaxDelay = 2 * time.Second
	paymentSourcePass    = "PASS"
)

// Client is the HTTP Commerce API client. The circuit breaker guards
// create-order and create-payment-session only: verification and
// follow-up calls run unconditionally because by then money may have
// moved and the server has to be asked.
type Client struct {
	httpClient *http.Client
	baseURL    string
	authToken  string
	breaker    *circuitbreaker.CircuitBreaker
	log        *slog.Logger
}

// NewClient creates a Client. A nil httpClient gets a default with a
// conservative timeout; a nil breaker disables fail-fast behavior.
func NewClient(baseURL, authToken string, httpClient *http.Client, breaker *circuitbreaker.CircuitBreaker, log *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		authToken:  authToken,
		breaker:    breaker,
		log:        log,
	}
}

// CreateOrderRequest carries everything the server needs to create an
// Order for one product.
type CreateOrderRequest struct {
	ProductType checkout.ProductType
	ProductID   string
	CouponCode  string
	// Amount is set only for pay-what-you-want checkouts; otherwise the
	// server prices the order itself.
	Amount *int64
	Buyer  buyerctx.BuyerContext
}

type createOrderWire struct {
	ProductType      string `json:"product_type"`
	ProductID        string `json:"product_id"`
	CouponCode       string `json:"coupon_code,omitempty"`
	Amount           *int64 `json:"amount,omitempty"`
	BuyerID          string `json:"buyer_id,omitempty"`
	Timezone         string `json:"timezone,omitempty"`
	UTCOffsetMinutes int    `json:"utc_offset_minutes"`
}

// CreateOrder creates an Order. Not idempotent: a retry creates a new
// order row, so callers must only retry on explicit user action.
func (c *Client) CreateOrder(ctx context.Context, req CreateOrderRequest) (checkout.Order, error) {
	if !c.allow(EndpointCreateOrder) {
		return checkout.Order{}, c.unavailable(EndpointCreateOrder)
	}
	wire := createOrderWire{
		ProductType:      string(req.ProductType),
		ProductID:        req.ProductID,
		CouponCode:       req.CouponCode,
		Amount:           req.Amount,
		BuyerID:          req.Buyer.BuyerID,
		Timezone:         req.Buyer.Timezone,
		UTCOffsetMinutes: req.Buyer.UTCOffsetMinutes,
	}
	var order checkout.Order
	err := c.post(ctx, EndpointCreateOrder, wire, &order, nil)
	c.record(EndpointCreateOrder, err)
	if err != nil {
		return checkout.Order{}, err
	}
	return order, nil
}

type createSessionWire struct {
	OrderID       string `json:"order_id"`
	OrderType     string `json:"order_type"`
	MethodSubtype string `json:"method_subtype,omitempty"`
}

// CreatePaymentSession creates the single-use gateway credential for an
// order. Safe to retry on transient failures because the Idempotency-Key
// header pins the attempt server-side.
func (c *Client) CreatePaymentSession(ctx context.Context, orderID, orderType, methodSubtype string) (checkout.PaymentSession, error) {
	if !c.allow(EndpointCreatePaymentSession) {
		return checkout.PaymentSession{}, c.unavailable(EndpointCreatePaymentSession)
	}
	wire := createSessionWire{OrderID: orderID, OrderType: orderType, MethodSubtype: methodSubtype}
	headers := map[string]string{"Idempotency-Key": uuid.NewString()}

	var session checkout.PaymentSession
	err := retry.Do(
		func() error {
			return c.post(ctx, EndpointCreatePaymentSession, wire, &session, headers)
		},
		retry.Attempts(sessionRetryAttempts),
		retry.Delay(sessionRetryDelay),
		retry.MaxDelay(sessionRetryMaxDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(isTransient),
	)
	c.record(EndpointCreatePaymentSession, err)
	if err != nil {
		return checkout.PaymentSession{}, err
	}
	return session, nil
}

type verifyWire struct {
	OrderID       string `json:"order_id"`
	OrderType     string `json:"order_type"`
	TransactionID string `json:"transaction_id"`
}

// VerifyPayment asks the server to confirm a gateway-reported success.
// Never retried automatically and never short-circuited by the breaker.
func (c *Client) VerifyPayment(ctx context.Context, orderID, orderType, transactionID string) (checkout.VerificationResult, error) {
	wire := verifyWire{OrderID: orderID, OrderType: orderType, TransactionID: transactionID}
	var result checkout.VerificationResult
	if err := c.post(ctx, EndpointVerifyPayment, wire, &result, nil); err != nil {
		return checkout.VerificationResult{}, err
	}
	return result, nil
}

// FollowUpOrderRequest books or claims a secondary product using a
// freshly purchased pass as the payment source.
type FollowUpOrderRequest struct {
	ProductType checkout.ProductType
	ProductID   string
	SourceID    string // orderId of the pass purchase, proof of entitlement
	IsGift      bool
	Buyer       buyerctx.BuyerContext
}

type followUpWire struct {
	ProductType      string `json:"product_type"`
	ProductID        string `json:"product_id"`
	PaymentSource    string `json:"payment_source"`
	SourceID         string `json:"source_id"`
	IsGift           bool   `json:"is_gift,omitempty"`
	Timezone         string `json:"timezone,omitempty"`
	UTCOffsetMinutes int    `json:"utc_offset_minutes"`
}

// CreateFollowUpOrder issues the bundled secondary order. Not retried:
// the dispatcher owns at-most-once semantics.
func (c *Client) CreateFollowUpOrder(ctx context.Context, req FollowUpOrderRequest) (checkout.Order, error) {
	wire := followUpWire{
		ProductType:      string(req.ProductType),
		ProductID:        req.ProductID,
		PaymentSource:    paymentSourcePass,
		SourceID:         req.SourceID,
		IsGift:           req.IsGift,
		Timezone:         req.Buyer.Timezone,
		UTCOffsetMinutes: req.Buyer.UTCOffsetMinutes,
	}
	var order checkout.Order
	if err := c.post(ctx, EndpointCreateFollowUpOrder, wire, &order, nil); err != nil {
		return checkout.Order{}, err
	}
	return order, nil
}

type serverError struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

func (s serverError) text() string {
	if s.Message != "" {
		return s.Message
	}
	return s.Error
}

// post runs one JSON POST against an endpoint and decodes the response
// into out. All failures come back as *APIError.
func (c *Client) post(ctx context.Context, endpoint string, body any, out any, headers map[string]string) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return &APIError{Endpoint: endpoint, Reason: checkout.ReasonUnknown, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+endpoint, bytes.NewReader(payload))
	if err != nil {
		return &APIError{Endpoint: endpoint, Reason: checkout.ReasonUnknown, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &APIError{Endpoint: endpoint, Reason: checkout.ReasonNetwork, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &APIError{Endpoint: endpoint, StatusCode: resp.StatusCode, Reason: checkout.ReasonNetwork, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var se serverError
		_ = json.Unmarshal(respBody, &se)
		msg := se.text()
		reason := matchServerMessage(msg)
		if reason == checkout.ReasonUnknown && (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError) {
			reason = checkout.ReasonNetwork
		}
		c.log.Warn("commerce call failed",
			slog.String("endpoint", endpoint),
			slog.Int("status", resp.StatusCode),
			slog.String("server_message", msg))
		return &APIError{Endpoint: endpoint, StatusCode: resp.StatusCode, Reason: reason, ServerMessage: msg}
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return &APIError{Endpoint: endpoint, StatusCode: resp.StatusCode, Reason: checkout.ReasonUnknown,
				Err: fmt.Errorf("decoding %s response: %w", endpoint, err)}
		}
	}
	return nil
}

func (c *Client) allow(endpoint string) bool {
	return c.breaker == nil || c.breaker.Allow(endpoint)
}

func (c *Client) record(endpoint string, err error) {
	if c.breaker == nil {
		return
	}
	if err == nil {
		c.breaker.RecordSuccess(endpoint)
		return
	}
	// Only infrastructure failures trip the breaker; a 4xx about coupons
	// or duplicates says nothing about endpoint health.
	if isTransient(err) {
		c.breaker.RecordFailure(endpoint)
	} else {
		c.breaker.RecordSuccess(endpoint)
	}
}

func (c *Client) unavailable(endpoint string) *APIError {
	return &APIError{
		Endpoint: endpoint,
		Reason:   checkout.ReasonCommerceUnavailable,
		Err:      fmt.Errorf("circuit open for %s", endpoint),
	}
}

// isTransient reports whether err is worth retrying: network failures and
// 429/5xx answers.
func isTransient(err error) bool {
	var ae *APIError
	if !errors.As(err, &ae) {
		return false
	}
	if ae.StatusCode == 0 {
		return ae.Reason == checkout.ReasonNetwork
	}
	return ae.StatusCode == http.StatusTooManyRequests || ae.StatusCode >= http.StatusInternalServerError
}
