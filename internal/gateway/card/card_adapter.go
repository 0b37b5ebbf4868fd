// Package card confirms payment sessions through the gateway's direct
// card charge API, including 3-D-Secure step-up continuation.
package card

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/avast/retry-go"

	"github.com/yourorg/checkout-orchestrator/internal/checkout"
	"github.com/yourorg/checkout-orchestrator/internal/gateway"
)

const (
	defaultTimeout    = 30 * time.Second
	transientAttempts = 3
	transientDelay    = 500 * time.Millisecond
)

// Adapter implements gateway.Adapter for direct card charges.
type Adapter struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// New creates a card Adapter. A nil client gets a default with a timeout
// long enough for a synchronous charge but not for a 3-D-Secure modal;
// the challenge wait happens across calls, not inside one.
func New(baseURL, apiKey string, client *http.Client) *Adapter {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &Adapter{httpClient: client, baseURL: baseURL, apiKey: apiKey}
}

func (a *Adapter) Method() string { return gateway.MethodCard }

type confirmRequest struct {
	SessionToken string `json:"session_token"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
	CardToken    string `json:"card_token,omitempty"`
}

type confirmResponse struct {
	Status        string `json:"status"` // succeeded | requires_action | declined
	TransactionID string `json:"transaction_id"`
	DeclineCode   string `json:"decline_code"`
	Message       string `json:"message"`
}

// Confirm charges the session. Amount and currency come from the Order,
// the authoritative source. Transient gateway failures (429/5xx/network)
// are retried; the session token keeps the charge idempotent gateway-side.
func (a *Adapter) Confirm(ctx context.Context, session checkout.PaymentSession, order checkout.Order, payload gateway.MethodPayload) (gateway.Outcome, error) {
	req := confirmRequest{
		SessionToken: session.SessionToken,
		Amount:       order.Price,
		Currency:     order.Currency,
		CardToken:    payload.Fields["card_token"],
	}
	return a.call(ctx, "/v1/confirm", req)
}

type actionRequest struct {
	SessionToken string `json:"session_token"`
}

// CompleteAction runs the pending 3-D-Secure challenge result for the
// session and returns the refreshed outcome.
func (a *Adapter) CompleteAction(ctx context.Context, session checkout.PaymentSession) (gateway.Outcome, error) {
	return a.call(ctx, "/v1/complete-action", actionRequest{SessionToken: session.SessionToken})
}

func (a *Adapter) call(ctx context.Context, path string, body any) (gateway.Outcome, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return gateway.Outcome{}, checkout.NewPaymentError(checkout.ReasonUnknown, "Something went wrong preparing your payment.", err)
	}

	var outcome gateway.Outcome
	err = retry.Do(
		func() error {
			var callErr error
			outcome, callErr = a.doOnce(ctx, path, payload)
			return callErr
		},
		retry.Attempts(transientAttempts),
		retry.Delay(transientDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return checkout.ReasonOf(err) == checkout.ReasonNetwork
		}),
	)
	if err != nil {
		return gateway.Outcome{}, err
	}
	return outcome, nil
}

func (a *Adapter) doOnce(ctx context.Context, path string, payload []byte) (gateway.Outcome, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return gateway.Outcome{}, checkout.NewPaymentError(checkout.ReasonUnknown, "Something went wrong preparing your payment.", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return gateway.Outcome{}, checkout.NewPaymentError(checkout.ReasonNetwork,
			"We couldn't reach the payment provider. Please try again.", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return gateway.Outcome{}, checkout.NewPaymentError(checkout.ReasonNetwork,
			"We couldn't reach the payment provider. Please try again.", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
		return gateway.Outcome{}, checkout.NewPaymentError(checkout.ReasonNetwork,
			"The payment provider is temporarily unavailable. Please try again.",
			fmt.Errorf("gateway HTTP %d: %s", resp.StatusCode, respBody))
	}

	var cr confirmResponse
	if err := json.Unmarshal(respBody, &cr); err != nil {
		return gateway.Outcome{}, checkout.NewPaymentError(checkout.ReasonUnknown,
			"The payment provider returned an unexpected answer.", err)
	}

	if resp.StatusCode >= 400 {
		reason := cr.DeclineCode
		if reason == "" {
			reason = cr.Message
		}
		return gateway.Outcome{Status: gateway.StatusDeclined, DeclineReason: reason}, nil
	}

	switch cr.Status {
	case "succeeded":
		return gateway.Outcome{Status: gateway.StatusConfirmed, TransactionID: cr.TransactionID}, nil
	case "requires_action":
		return gateway.Outcome{Status: gateway.StatusRequiresAction}, nil
	case "declined":
		return gateway.Outcome{Status: gateway.StatusDeclined, DeclineReason: cr.DeclineCode}, nil
	default:
		return gateway.Outcome{}, checkout.NewPaymentError(checkout.ReasonUnknown,
			"The payment provider returned an unexpected answer.",
			fmt.Errorf("unknown gateway status %q", cr.Status))
	}
}
