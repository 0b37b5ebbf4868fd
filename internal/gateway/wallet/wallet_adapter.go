// Package wallet confirms one-tap wallet payments. Wallet flows run
// against a browser payment sheet that hangs open until it is told the
// result, so every confirmation here is bounded by a completion window
// and the sheet is always resolved, success or not, inside it.
package wallet

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

// DefaultSheetWindow is how long a confirmation may take before the
// payment sheet is force-resolved with a failure.
const DefaultSheetWindow = 30 * time.Second

// SheetReporter reports the confirmation result back to the originating
// browser payment-sheet API. Implementations live in the UI layer.
type SheetReporter interface {
	Complete(success bool)
}

// SheetResolver maps a payment session to its open sheet. A nil resolver
// or a nil reporter disables sheet handling (server-to-server tests).
type SheetResolver func(sessionToken string) SheetReporter

// Adapter implements gateway.Adapter for wallet one-tap flows.
type Adapter struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	sheetWindow time.Duration
	sheets      SheetResolver
}

// New creates a wallet Adapter. A non-positive window takes the default.
func New(baseURL, apiKey string, sheetWindow time.Duration, sheets SheetResolver, client *http.Client) *Adapter {
	if sheetWindow <= 0 {
		sheetWindow = DefaultSheetWindow
	}
	if client == nil {
		client = &http.Client{Timeout: sheetWindow}
	}
	return &Adapter{
		httpClient:  client,
		baseURL:     baseURL,
		apiKey:      apiKey,
		sheetWindow: sheetWindow,
		sheets:      sheets,
	}
}

func (a *Adapter) Method() string { return gateway.MethodWallet }

type confirmRequest struct {
	SessionToken string `json:"session_token"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
	WalletToken  string `json:"wallet_token"`
	WalletType   string `json:"wallet_type,omitempty"`
}

type confirmResponse struct {
	Status        string `json:"status"`
	TransactionID string `json:"transaction_id"`
	DeclineCode   string `json:"decline_code"`
	Message       string `json:"message"`
}

// Confirm charges the wallet token within the sheet window. Whatever
// happens, the sheet is resolved before this returns.
func (a *Adapter) Confirm(ctx context.Context, session checkout.PaymentSession, order checkout.Order, payload gateway.MethodPayload) (outcome gateway.Outcome, err error) {
	ctx, cancel := context.WithTimeout(ctx, a.sheetWindow)
	defer cancel()

	if a.sheets != nil {
		if sheet := a.sheets(session.SessionToken); sheet != nil {
			defer func() {
				sheet.Complete(err == nil && outcome.Status == gateway.StatusConfirmed)
			}()
		}
	}

	req := confirmRequest{
		SessionToken: session.SessionToken,
		Amount:       order.Price,
		Currency:     order.Currency,
		WalletToken:  payload.Fields["wallet_token"],
		WalletType:   payload.Subtype,
	}
	body, merr := json.Marshal(req)
	if merr != nil {
		err = checkout.NewPaymentError(checkout.ReasonUnknown, "Something went wrong preparing your payment.", merr)
		return
	}

	httpReq, rerr := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/wallet/confirm", bytes.NewReader(body))
	if rerr != nil {
		err = checkout.NewPaymentError(checkout.ReasonUnknown, "Something went wrong preparing your payment.", rerr)
		return
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, derr := a.httpClient.Do(httpReq)
	if derr != nil {
		if ctx.Err() != nil {
			err = checkout.NewPaymentError(checkout.ReasonConfirmationTimeout,
				"The payment took too long to confirm. You have not been charged.", derr)
			return
		}
		err = checkout.NewPaymentError(checkout.ReasonNetwork,
			"We couldn't reach the payment provider. Please try again.", derr)
		return
	}
	defer resp.Body.Close()

	respBody, berr := io.ReadAll(resp.Body)
	if berr != nil {
		err = checkout.NewPaymentError(checkout.ReasonNetwork,
			"We couldn't reach the payment provider. Please try again.", berr)
		return
	}

	var cr confirmResponse
	if uerr := json.Unmarshal(respBody, &cr); uerr != nil {
		err = checkout.NewPaymentError(checkout.ReasonUnknown,
			"The payment provider returned an unexpected answer.", uerr)
		return
	}

	if resp.StatusCode >= 400 {
		reason := cr.DeclineCode
		if reason == "" {
			reason = cr.Message
		}
		outcome = gateway.Outcome{Status: gateway.StatusDeclined, DeclineReason: reason}
		return
	}

	switch cr.Status {
	case "succeeded":
		outcome = gateway.Outcome{Status: gateway.StatusConfirmed, TransactionID: cr.TransactionID}
	case "declined":
		outcome = gateway.Outcome{Status: gateway.StatusDeclined, DeclineReason: cr.DeclineCode}
	default:
		err = checkout.NewPaymentError(checkout.ReasonUnknown,
			"The payment provider returned an unexpected answer.",
			fmt.Errorf("unknown gateway status %q", cr.Status))
	}
	return
}

// CompleteAction does not apply to wallets: the sheet interaction is the
// only step-up a wallet flow has.
func (a *Adapter) CompleteAction(ctx context.Context, session checkout.PaymentSession) (gateway.Outcome, error) {
	return gateway.Outcome{}, checkout.NewPaymentError(checkout.ReasonUnknown,
		"This payment method has no additional confirmation step.",
		fmt.Errorf("complete-action is not supported for wallets"))
}
