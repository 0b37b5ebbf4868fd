package checkout

import (
	"errors"
	"fmt"
)

// ErrorKind partitions workflow failures into the four categories callers
// are expected to handle differently.
type ErrorKind string

const (
	KindOrderCreation ErrorKind = "ORDER_CREATION"
	KindPayment       ErrorKind = "PAYMENT"
	KindVerification  ErrorKind = "VERIFICATION"
	KindFollowUp      ErrorKind = "FOLLOW_UP"
)

// Reason is a machine-readable failure code, stable across copy changes.
type Reason string

const (
	ReasonDiscountNotApplicable Reason = "DISCOUNT_NOT_APPLICABLE"
	ReasonAlreadyOwned          Reason = "ALREADY_OWNED"
	ReasonUnapprovedUser        Reason = "UNAPPROVED_USER"
	ReasonGatewayDeclined       Reason = "GATEWAY_DECLINED"
	ReasonConfirmationTimeout   Reason = "CONFIRMATION_TIMEOUT"
	ReasonNetwork               Reason = "NETWORK"
	ReasonCommerceUnavailable   Reason = "COMMERCE_UNAVAILABLE"
	ReasonMalformedResumeToken  Reason = "MALFORMED_RESUME_TOKEN"
	ReasonInvalidState          Reason = "INVALID_STATE"
	ReasonUnknown               Reason = "UNKNOWN"
)

// WorkflowError is the single error type crossing the orchestrator
// boundary. Raw transport and SDK errors are wrapped, never exposed.
// Title and Detail are user-facing copy.
type WorkflowError struct {
	Kind   ErrorKind
	Reason Reason
	Title  string
	Detail string
	Err    error
}

func (e *WorkflowError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s/%s: %s: %v", e.Kind, e.Reason, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s/%s: %s", e.Kind, e.Reason, e.Detail)
}

func (e *WorkflowError) Unwrap() error { return e.Err }

// NewOrderCreationError builds an OrderCreationError. The detail is shown
// to the user so they can correct their input and retry.
func NewOrderCreationError(reason Reason, detail string, cause error) *WorkflowError {
	return &WorkflowError{
		Kind:   KindOrderCreation,
		Reason: reason,
		Title:  "We couldn't create your order",
		Detail: detail,
		Err:    cause,
	}
}

// NewPaymentError builds a PaymentError for gateway declines, network
// failures and confirmation timeouts.
func NewPaymentError(reason Reason, detail string, cause error) *WorkflowError {
	return &WorkflowError{
		Kind:   KindPayment,
		Reason: reason,
		Title:  "Your payment didn't go through",
		Detail: detail,
		Err:    cause,
	}
}

// NewVerificationError builds a VerificationError. The gateway reported
// success but the server could not confirm it, so money may have moved:
// the wording stays neutral and never claims the purchase failed.
func NewVerificationError(cause error) *WorkflowError {
	return &WorkflowError{
		Kind:   KindVerification,
		Reason: ReasonNetwork,
		Title:  "We couldn't confirm your payment",
		Detail: "Your payment may have completed. Please check your dashboard before trying again, or contact support.",
		Err:    cause,
	}
}

// NewFollowUpError builds a FollowUpError. The primary purchase remains
// valid; only the bundled action is reported as failed.
func NewFollowUpError(reason Reason, detail string, cause error) *WorkflowError {
	return &WorkflowError{
		Kind:   KindFollowUp,
		Reason: reason,
		Title:  "Your pass was purchased, but the bundled booking failed",
		Detail: detail,
		Err:    cause,
	}
}

// KindOf extracts the ErrorKind from err, or "" when err is not a
// WorkflowError.
func KindOf(err error) ErrorKind {
	var we *WorkflowError
	if errors.As(err, &we) {
		return we.Kind
	}
	return ""
}

// ReasonOf extracts the Reason from err, or ReasonUnknown otherwise.
func ReasonOf(err error) Reason {
	var we *WorkflowError
	if errors.As(err, &we) {
		return we.Reason
	}
	return ReasonUnknown
}
