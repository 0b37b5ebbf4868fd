// Package checkout holds the domain model for a single checkout attempt:
// the product being bought, the server-issued order and payment session,
// the attempt state machine, and the error taxonomy surfaced to callers.
package checkout

// ProductType identifies what kind of product a checkout is for.
type ProductType string

const (
	ProductClass        ProductType = "CLASS"
	ProductVideo        ProductType = "VIDEO"
	ProductCourse       ProductType = "COURSE"
	ProductPass         ProductType = "PASS"
	ProductSubscription ProductType = "SUBSCRIPTION"
)

// KnownProductType reports whether t is one of the supported product types.
func KnownProductType(t ProductType) bool {
	switch t {
	case ProductClass, ProductVideo, ProductCourse, ProductPass, ProductSubscription:
		return true
	}
	return false
}

// ProductSelection is an immutable description of what is being purchased.
// It is created once per checkout attempt and never mutated. Price is in
// the currency's minor units (cents).
type ProductSelection struct {
	ProductType    ProductType
	ProductID      string
	Price          int64
	Currency       string
	PayWhatYouWant bool
	MinimumPrice   int64
}

// FollowUpBookingInfo describes a secondary product grant bundled into a
// PASS purchase (e.g. immediately booking a class with the new pass).
type FollowUpBookingInfo struct {
	ProductType ProductType `json:"product_type"`
	ProductID   string      `json:"product_id"`
	IsGift      bool        `json:"is_gift,omitempty"`
}

// Order is the server-issued record of an attempt to acquire a product.
// Immutable once returned by the Commerce API. Price and Currency are the
// authoritative values for any gateway interaction; client-side numbers
// must never be used in their place.
type Order struct {
	OrderID         string               `json:"order_id"`
	OrderType       string               `json:"order_type"`
	PaymentRequired bool                 `json:"payment_required"`
	Price           int64                `json:"price"`
	Currency        string               `json:"currency"`
	FollowUp        *FollowUpBookingInfo `json:"follow_up_booking_info,omitempty"`
}

// PaymentSession is the ephemeral gateway credential scoped to one Order.
// Single use; the gateway expires it on its own schedule.
type PaymentSession struct {
	TransactionID      string `json:"transaction_id"`
	SessionToken       string `json:"payment_gateway_session_token"`
	PGTransactionRefID string `json:"pg_transaction_ref_id,omitempty"`
}

// VerificationResult is the server-confirmed outcome of a payment. It is
// terminal: once obtained, the transaction is closed.
type VerificationResult struct {
	Success       bool   `json:"success"`
	OrderID       string `json:"order_id"`
	OrderType     string `json:"order_type"`
	TransactionID string `json:"transaction_id"`
}

// State is the position of a checkout attempt in its lifecycle.
type State string

const (
	StateIdle              State = "IDLE"
	StateOrderCreating     State = "ORDER_CREATING"
	StateOrderCreated      State = "ORDER_CREATED"
	StateSessionCreating   State = "SESSION_CREATING"
	StateSessionCreated    State = "SESSION_CREATED"
	StateGatewayConfirming State = "GATEWAY_CONFIRMING"
	StateGatewayConfirmed  State = "GATEWAY_CONFIRMED"
	StateVerifying         State = "VERIFYING"
	StateSucceeded         State = "SUCCEEDED"
	StateGatewayFailed     State = "GATEWAY_FAILED"
	StateVerifyFailed      State = "VERIFY_FAILED"
	StateCancelled         State = "CANCELLED"
)

// Terminal reports whether no further transition is possible from s.
func (s State) Terminal() bool {
	switch s {
	case StateSucceeded, StateGatewayFailed, StateVerifyFailed, StateCancelled:
		return true
	}
	return false
}
