// Package redirectpay handles bank-redirect payment methods (iDEAL-style):
// confirmation hands the buyer to the bank's site, and the definitive
// outcome only arrives later through the return-URL callback.
package redirectpay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/yourorg/checkout-orchestrator/internal/checkout"
	"github.com/yourorg/checkout-orchestrator/internal/gateway"
)

const defaultTimeout = 15 * time.Second

// Adapter implements gateway.Adapter for bank-redirect methods.
type Adapter struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	// returnURL is the pre-registered callback the bank redirects back
	// to, without query parameters; the resume token is appended here.
	returnURL string
}

// New creates a redirect Adapter.
func New(baseURL, apiKey, returnURL string, client *http.Client) *Adapter {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &Adapter{httpClient: client, baseURL: baseURL, apiKey: apiKey, returnURL: returnURL}
}

func (a *Adapter) Method() string { return gateway.MethodBankRedirect }

type redirectSessionRequest struct {
	SessionToken string `json:"session_token"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
	Bank         string `json:"bank,omitempty"`
	ReturnURL    string `json:"return_url"`
}

type redirectSessionResponse struct {
	RedirectURL string `json:"redirect_url"`
	Message     string `json:"message"`
}

// Confirm registers the redirect with the gateway and returns the bank
// URL to send the buyer to. The return URL carries the full resume token
// so verification can run with no surviving in-memory state.
func (a *Adapter) Confirm(ctx context.Context, session checkout.PaymentSession, order checkout.Order, payload gateway.MethodPayload) (gateway.Outcome, error) {
	token := checkout.ResumeToken{
		OrderID:       order.OrderID,
		OrderType:     order.OrderType,
		TransactionID: session.TransactionID,
	}
	if order.FollowUp != nil {
		token.AdditionalProduct = order.FollowUp.ProductType
		token.AdditionalProductID = order.FollowUp.ProductID
		token.IsGift = order.FollowUp.IsGift
	}

	req := redirectSessionRequest{
		SessionToken: session.SessionToken,
		Amount:       order.Price,
		Currency:     order.Currency,
		Bank:         payload.Fields["bank"],
		ReturnURL:    a.returnURL + "?" + token.Values().Encode(),
	}

	body, err := json.Marshal(req)
	if err != nil {
		return gateway.Outcome{}, checkout.NewPaymentError(checkout.ReasonUnknown,
			"Something went wrong preparing your payment.", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/redirect-sessions", bytes.NewReader(body))
	if err != nil {
		return gateway.Outcome{}, checkout.NewPaymentError(checkout.ReasonUnknown,
			"Something went wrong preparing your payment.", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.httpClient.Do(httpReq)
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

	var rr redirectSessionResponse
	if err := json.Unmarshal(respBody, &rr); err != nil {
		return gateway.Outcome{}, checkout.NewPaymentError(checkout.ReasonUnknown,
			"The payment provider returned an unexpected answer.", err)
	}

	if resp.StatusCode >= 400 {
		return gateway.Outcome{Status: gateway.StatusDeclined, DeclineReason: rr.Message}, nil
	}
	if rr.RedirectURL == "" {
		return gateway.Outcome{}, checkout.NewPaymentError(checkout.ReasonUnknown,
			"The payment provider returned an unexpected answer.",
			fmt.Errorf("redirect session response missing redirect_url"))
	}

	return gateway.Outcome{Status: gateway.StatusRequiresRedirect, RedirectURL: rr.RedirectURL}, nil
}

// CompleteAction never applies to redirect methods: the redirect itself is
// the step-up, and resumption runs through the return-URL callback.
func (a *Adapter) CompleteAction(ctx context.Context, session checkout.PaymentSession) (gateway.Outcome, error) {
	return gateway.Outcome{}, checkout.NewPaymentError(checkout.ReasonUnknown,
		"This payment method resumes through its return link.",
		fmt.Errorf("complete-action is not supported for bank redirects"))
}
