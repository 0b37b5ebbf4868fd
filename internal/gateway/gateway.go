// Package gateway defines the uniform contract behind which the
// heterogeneous payment gateway integrations (direct card charge,
// bank redirect, wallet one-tap) are normalized. Adapters own all
// gateway-specific API calls and error mapping; no SDK or transport
// error ever crosses this boundary untranslated.
package gateway

import (
	"context"

	"github.com/yourorg/checkout-orchestrator/internal/checkout"
)

// Method names for the capability lookup.
const (
	MethodCard         = "card"
	MethodBankRedirect = "bank_redirect"
	MethodWallet       = "wallet"
)

// OutcomeStatus is the normalized result of a confirmation attempt.
type OutcomeStatus string

const (
	// StatusConfirmed means the gateway accepted the payment; the
	// transaction must now be verified server-side.
	StatusConfirmed OutcomeStatus = "CONFIRMED"
	// StatusRequiresRedirect means the buyer must be sent to an external
	// URL; the attempt resumes later from the return-URL callback.
	StatusRequiresRedirect OutcomeStatus = "REQUIRES_REDIRECT"
	// StatusDeclined is a definitive gateway refusal.
	StatusDeclined OutcomeStatus = "DECLINED"
	// StatusRequiresAction means a step-up (e.g. 3-D-Secure challenge)
	// must complete before confirmation can be re-polled.
	StatusRequiresAction OutcomeStatus = "REQUIRES_ACTION"
)

// Outcome is the result of one Confirm or CompleteAction call.
type Outcome struct {
	Status        OutcomeStatus
	TransactionID string // set when Confirmed
	RedirectURL   string // set when RequiresRedirect
	DeclineReason string // set when Declined
}

// MethodPayload carries the method-specific confirmation data collected
// by the UI: a card token, a chosen bank, a wallet token.
type MethodPayload struct {
	Method  string
	Subtype string // card brand, wallet type or bank name, if detected
	Fields  map[string]string
}

// Adapter is implemented per concrete payment method. Confirm sends the
// order's authoritative amount and currency; callers must never pass a
// client-recomputed price. Confirm may suspend for an arbitrary external
// duration (a 3-D-Secure modal, a bank page), bounded only by ctx.
type Adapter interface {
	Method() string
	Confirm(ctx context.Context, session checkout.PaymentSession, order checkout.Order, payload MethodPayload) (Outcome, error)
	// CompleteAction runs the pending step-up for the session and
	// returns the refreshed outcome.
	CompleteAction(ctx context.Context, session checkout.PaymentSession) (Outcome, error)
}
