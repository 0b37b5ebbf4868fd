// Package orchestrator drives a single checkout attempt to a terminal
// state: create the order, decide whether payment is required, create the
// payment session, confirm with the gateway, verify with the Commerce
// API, and trigger the bundled follow-up action. It owns the attempt
// state machine and normalizes every collaborator error into the
// workflow taxonomy before it reaches the UI.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/yourorg/checkout-orchestrator/internal/checkout"
	"github.com/yourorg/checkout-orchestrator/internal/commerce"
	buyerctx "github.com/yourorg/checkout-orchestrator/internal/context"
	"github.com/yourorg/checkout-orchestrator/internal/followup"
	"github.com/yourorg/checkout-orchestrator/internal/gateway"
	"github.com/yourorg/checkout-orchestrator/internal/metrics"
	"github.com/yourorg/checkout-orchestrator/internal/presenter"
	"github.com/yourorg/checkout-orchestrator/internal/reporting"
)

// maxActionRounds bounds the step-up delegation loop: how many times a
// RequiresAdditionalAction outcome is handed back to the gateway before
// the confirmation is treated as timed out.
const maxActionRounds = 3

// CommerceClient is the slice of the Commerce API the orchestrator
// drives directly.
type CommerceClient interface {
	CreateOrder(ctx context.Context, req commerce.CreateOrderRequest) (checkout.Order, error)
	CreatePaymentSession(ctx context.Context, orderID, orderType, methodSubtype string) (checkout.PaymentSession, error)
	VerifyPayment(ctx context.Context, orderID, orderType, transactionID string) (checkout.VerificationResult, error)
}

// Dispatcher executes the follow-up action bundled into a pass purchase,
// at most once per source order.
type Dispatcher interface {
	Dispatch(ctx context.Context, sourceOrderID string, info checkout.FollowUpBookingInfo, buyer buyerctx.BuyerContext) *followup.Result
}

// Observer is notified of every attempt state transition.
type Observer interface {
	OnTransition(attemptID string, from, to checkout.State)
}

// Recorder receives one log entry per terminal attempt outcome, feeding
// the retrospective report.
type Recorder interface {
	Record(entry reporting.LogEntry)
}

// Orchestrator holds the injected collaborators shared by all attempts.
type Orchestrator struct {
	commerce  CommerceClient
	gateways  *gateway.Registry
	followUps Dispatcher
	presenter presenter.Presenter
	observer  Observer
	recorder  Recorder
	log       *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithObserver registers a state transition observer.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) { o.observer = obs }
}

// WithRecorder registers a terminal outcome recorder.
func WithRecorder(rec Recorder) Option {
	return func(o *Orchestrator) { o.recorder = rec }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(o *Orchestrator) { o.log = log }
}

// New creates an Orchestrator. Commerce client, gateway registry and
// follow-up dispatcher are required; a nil presenter logs results.
func New(cc CommerceClient, gateways *gateway.Registry, followUps Dispatcher, pres presenter.Presenter, opts ...Option) *Orchestrator {
	if cc == nil {
		panic("commerce client cannot be nil")
	}
	if gateways == nil {
		panic("gateway registry cannot be nil")
	}
	if followUps == nil {
		panic("follow-up dispatcher cannot be nil")
	}
	if pres == nil {
		pres = presenter.NewSlogPresenter(nil)
	}
	o := &Orchestrator{
		commerce:  cc,
		gateways:  gateways,
		followUps: followUps,
		presenter: pres,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Attempt is one checkout attempt for one ProductSelection. Attempts are
// not shared across goroutines except for Cancel, which may be called
// from anywhere.
type Attempt struct {
	ID string

	o         *Orchestrator
	buyer     buyerctx.BuyerContext
	selection checkout.ProductSelection

	mu        sync.Mutex
	state     checkout.State
	order     checkout.Order
	session   checkout.PaymentSession
	cancelled bool
	confirmed bool
	inFlight  bool
	presented bool
	method    string
	startedAt time.Time
}

// NewAttempt starts a fresh attempt in IDLE.
func (o *Orchestrator) NewAttempt(buyer buyerctx.BuyerContext, selection checkout.ProductSelection) *Attempt {
	return &Attempt{
		ID:        uuid.NewString(),
		o:         o,
		buyer:     buyer,
		selection: selection,
		state:     checkout.StateIdle,
	}
}

// State returns the attempt's current state.
func (a *Attempt) State() checkout.State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Order returns the created order, zero until ORDER_CREATED.
func (a *Attempt) Order() checkout.Order {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.order
}

func (a *Attempt) transition(to checkout.State) {
	a.mu.Lock()
	from := a.state
	a.state = to
	a.mu.Unlock()
	if a.o.observer != nil {
		a.o.observer.OnTransition(a.ID, from, to)
	}
	a.o.log.Debug("attempt transition",
		slog.String("attempt_id", a.ID),
		slog.String("from", string(from)),
		slog.String("to", string(to)))
}

// OrderOptions carry the optional order-creation inputs.
type OrderOptions struct {
	CouponCode string
	// Amount overrides the buyer-chosen amount for pay-what-you-want
	// selections; nil keeps the selection's amount.
	Amount *int64
}

// CreateOrder runs IDLE -> ORDER_CREATING -> ORDER_CREATED. When the
// order needs no payment the attempt completes immediately, including
// follow-up dispatch for bundled orders. Failures return the attempt to
// IDLE so the user can correct input and try again; the call itself is
// never retried automatically since a retry creates a new order row.
func (a *Attempt) CreateOrder(tc buyerctx.TraceContext, opts OrderOptions) (checkout.Order, error) {
	tracer := otel.Tracer("orchestrator")
	ctx, span := tracer.Start(tc.Context(), "Orchestrator.CreateOrder")
	defer span.End()
	span.SetAttributes(
		attribute.String("attempt.id", a.ID),
		attribute.String("product.type", string(a.selection.ProductType)),
	)

	tc.NewSpan()
	a.o.log.Debug("creating order",
		slog.String("attempt_id", a.ID),
		slog.String("trace_id", tc.TraceID),
		slog.String("span_id", tc.SpanID))

	a.mu.Lock()
	if a.state != checkout.StateIdle || a.cancelled {
		state := a.state
		a.mu.Unlock()
		return checkout.Order{}, checkout.NewOrderCreationError(checkout.ReasonInvalidState,
			"This checkout is no longer active.", fmt.Errorf("create order in state %s", state))
	}
	a.inFlight = true
	a.startedAt = time.Now()
	a.mu.Unlock()
	defer a.clearInFlight()

	a.transition(checkout.StateOrderCreating)

	req := commerce.CreateOrderRequest{
		ProductType: a.selection.ProductType,
		ProductID:   a.selection.ProductID,
		CouponCode:  opts.CouponCode,
		Buyer:       a.buyer,
	}
	if a.selection.PayWhatYouWant {
		amount := a.selection.Price
		if opts.Amount != nil {
			amount = *opts.Amount
		}
		if amount < a.selection.MinimumPrice {
			a.transition(checkout.StateIdle)
			return checkout.Order{}, checkout.NewOrderCreationError(checkout.ReasonUnknown,
				"The chosen amount is below the minimum price.", nil)
		}
		req.Amount = &amount
	}

	order, err := a.o.commerce.CreateOrder(ctx, req)
	if err != nil {
		metrics.OrdersCreated.WithLabelValues(string(a.selection.ProductType), "error").Inc()
		a.transition(checkout.StateIdle)
		return checkout.Order{}, orderCreationError(err)
	}
	metrics.OrdersCreated.WithLabelValues(string(a.selection.ProductType), "created").Inc()

	a.mu.Lock()
	a.order = order
	a.mu.Unlock()
	a.transition(checkout.StateOrderCreated)

	if a.finishIfCancelled() {
		return order, nil
	}

	if !order.PaymentRequired {
		// Free checkout: immediately terminal, no gateway interaction.
		verification := checkout.VerificationResult{
			Success:   true,
			OrderID:   order.OrderID,
			OrderType: order.OrderType,
		}
		a.succeed(ctx, order, verification)
	}
	return order, nil
}

// PaymentResult is the outcome of CompletePayment or
// VerifyRedirectedPayment.
type PaymentResult struct {
	AttemptID    string
	State        checkout.State
	Verification checkout.VerificationResult
	FollowUp     *followup.Result
	// RedirectURL is set when the buyer must be sent to an external
	// domain; the attempt resumes later via VerifyRedirectedPayment.
	RedirectURL string
}

// CompletePayment runs session creation, gateway confirmation and
// verification, strictly in that order. Confirmation must fully resolve
// before verification is attempted, and no parallel verification for the
// same order can happen because the attempt is single-threaded.
func (a *Attempt) CompletePayment(tc buyerctx.TraceContext, payload gateway.MethodPayload) (PaymentResult, error) {
	tracer := otel.Tracer("orchestrator")
	ctx, span := tracer.Start(tc.Context(), "Orchestrator.CompletePayment")
	defer span.End()
	span.SetAttributes(
		attribute.String("attempt.id", a.ID),
		attribute.String("payment.method", payload.Method),
	)

	tc.NewSpan()
	a.o.log.Debug("completing payment",
		slog.String("attempt_id", a.ID),
		slog.String("payment_method", payload.Method),
		slog.String("trace_id", tc.TraceID),
		slog.String("span_id", tc.SpanID))

	a.mu.Lock()
	if a.state != checkout.StateOrderCreated {
		state := a.state
		a.mu.Unlock()
		return PaymentResult{AttemptID: a.ID, State: state}, checkout.NewPaymentError(checkout.ReasonInvalidState,
			"This checkout is not ready for payment.", fmt.Errorf("complete payment in state %s", state))
	}
	if !a.order.PaymentRequired {
		a.mu.Unlock()
		return PaymentResult{AttemptID: a.ID, State: checkout.StateOrderCreated},
			checkout.NewPaymentError(checkout.ReasonInvalidState,
				"This order does not require payment.", nil)
	}
	order := a.order
	a.method = payload.Method
	a.inFlight = true
	a.mu.Unlock()
	defer a.clearInFlight()

	if a.finishIfCancelled() {
		return PaymentResult{AttemptID: a.ID, State: checkout.StateCancelled}, nil
	}

	// Step 1: payment session.
	a.transition(checkout.StateSessionCreating)
	session, err := a.o.commerce.CreatePaymentSession(ctx, order.OrderID, order.OrderType, payload.Subtype)
	if err != nil {
		werr := paymentError(err, "We couldn't start the payment. You have not been charged.")
		a.fail(checkout.StateGatewayFailed, werr)
		return PaymentResult{AttemptID: a.ID, State: checkout.StateGatewayFailed}, werr
	}
	metrics.PaymentSessionsCreated.Inc()

	a.mu.Lock()
	a.session = session
	a.mu.Unlock()
	a.transition(checkout.StateSessionCreated)

	if a.finishIfCancelled() {
		return PaymentResult{AttemptID: a.ID, State: checkout.StateCancelled}, nil
	}

	// Step 2: gateway confirmation, using the order's authoritative
	// amount and currency.
	adapter, err := a.o.gateways.ForMethod(payload.Method)
	if err != nil {
		werr := paymentError(err, "")
		a.fail(checkout.StateGatewayFailed, werr)
		return PaymentResult{AttemptID: a.ID, State: checkout.StateGatewayFailed}, werr
	}

	a.transition(checkout.StateGatewayConfirming)
	outcome, err := adapter.Confirm(ctx, session, order, payload)
	for round := 0; err == nil && outcome.Status == gateway.StatusRequiresAction; round++ {
		if round >= maxActionRounds {
			err = checkout.NewPaymentError(checkout.ReasonConfirmationTimeout,
				"We couldn't complete the additional authentication. You have not been charged.", nil)
			break
		}
		outcome, err = adapter.CompleteAction(ctx, session)
	}
	if err != nil {
		werr := paymentError(err, "The payment could not be confirmed. You have not been charged.")
		metrics.GatewayConfirms.WithLabelValues(payload.Method, "error").Inc()
		a.fail(checkout.StateGatewayFailed, werr)
		return PaymentResult{AttemptID: a.ID, State: checkout.StateGatewayFailed}, werr
	}
	metrics.GatewayConfirms.WithLabelValues(payload.Method, string(outcome.Status)).Inc()

	switch outcome.Status {
	case gateway.StatusRequiresRedirect:
		// The attempt suspends here; a later VerifyRedirectedPayment
		// call picks it up from the return-URL parameters.
		return PaymentResult{
			AttemptID:   a.ID,
			State:       checkout.StateGatewayConfirming,
			RedirectURL: outcome.RedirectURL,
		}, nil
	case gateway.StatusDeclined:
		werr := checkout.NewPaymentError(checkout.ReasonGatewayDeclined,
			declineDetail(outcome.DeclineReason), nil)
		a.fail(checkout.StateGatewayFailed, werr)
		return PaymentResult{AttemptID: a.ID, State: checkout.StateGatewayFailed}, werr
	case gateway.StatusConfirmed:
		// Money has potentially moved: from here the flow must reach
		// verification, and cancellation becomes a no-op.
		a.mu.Lock()
		a.confirmed = true
		a.cancelled = false
		a.mu.Unlock()
	default:
		werr := checkout.NewPaymentError(checkout.ReasonUnknown,
			"The payment provider returned an unexpected answer.",
			fmt.Errorf("unhandled gateway outcome %q", outcome.Status))
		a.fail(checkout.StateGatewayFailed, werr)
		return PaymentResult{AttemptID: a.ID, State: checkout.StateGatewayFailed}, werr
	}

	a.transition(checkout.StateGatewayConfirmed)

	transactionID := outcome.TransactionID
	if transactionID == "" {
		transactionID = session.TransactionID
	}

	// Step 3: server-side verification. Never retried automatically.
	a.transition(checkout.StateVerifying)
	verification, err := a.o.commerce.VerifyPayment(ctx, order.OrderID, order.OrderType, transactionID)
	if err != nil || !verification.Success {
		if err == nil {
			err = fmt.Errorf("verification rejected for order %s", order.OrderID)
		}
		metrics.Verifications.WithLabelValues("failure").Inc()
		werr := checkout.NewVerificationError(err)
		a.fail(checkout.StateVerifyFailed, werr)
		return PaymentResult{AttemptID: a.ID, State: checkout.StateVerifyFailed}, werr
	}
	metrics.Verifications.WithLabelValues("success").Inc()

	fu := a.succeed(ctx, order, verification)
	return PaymentResult{
		AttemptID:    a.ID,
		State:        checkout.StateSucceeded,
		Verification: verification,
		FollowUp:     fu,
	}, nil
}

// Cancel abandons the attempt, best effort. Once the gateway has
// confirmed, or verification has started, it is a no-op: the flow must
// proceed to verification because money has potentially moved.
func (a *Attempt) Cancel() {
	a.mu.Lock()
	if a.confirmed || a.state == checkout.StateVerifying || a.state.Terminal() {
		a.mu.Unlock()
		return
	}
	a.cancelled = true
	quiescent := !a.inFlight
	a.mu.Unlock()

	// With no operation in flight the attempt settles immediately;
	// otherwise the running operation observes the flag at its next
	// step boundary.
	if quiescent {
		a.finishIfCancelled()
	}
}

// VerifyRedirectedPayment resumes a redirect-suspended checkout purely
// from the return-URL resume token; no in-memory attempt state is
// assumed to survive the redirect. Calling it twice for the same token
// cannot double-dispatch the follow-up action: the dispatcher is keyed
// by order ID.
func (o *Orchestrator) VerifyRedirectedPayment(tc buyerctx.TraceContext, token checkout.ResumeToken, buyer buyerctx.BuyerContext) (PaymentResult, error) {
	tracer := otel.Tracer("orchestrator")
	ctx, span := tracer.Start(tc.Context(), "Orchestrator.VerifyRedirectedPayment")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", token.OrderID))

	tc.NewSpan()
	o.log.Debug("verifying redirected payment",
		slog.String("order_id", token.OrderID),
		slog.String("trace_id", tc.TraceID),
		slog.String("span_id", tc.SpanID))

	verification, err := o.commerce.VerifyPayment(ctx, token.OrderID, token.OrderType, token.TransactionID)
	if err != nil || !verification.Success {
		if err == nil {
			err = fmt.Errorf("verification rejected for order %s", token.OrderID)
		}
		metrics.Verifications.WithLabelValues("failure").Inc()
		werr := checkout.NewVerificationError(err)
		o.recordRedirected(buyer, checkout.StateVerifyFailed, werr.Reason)
		o.presenter.OnFailure(werr.Kind, werr.Title, werr.Detail)
		return PaymentResult{State: checkout.StateVerifyFailed}, werr
	}
	metrics.Verifications.WithLabelValues("success").Inc()
	o.recordRedirected(buyer, checkout.StateSucceeded, "")

	order := checkout.Order{
		OrderID:   token.OrderID,
		OrderType: token.OrderType,
		FollowUp:  token.FollowUp(),
	}

	var fu *followup.Result
	if order.FollowUp != nil {
		fu = o.followUps.Dispatch(ctx, order.OrderID, *order.FollowUp, buyer)
		metrics.FollowUpDispatches.WithLabelValues(string(fu.Status)).Inc()
	}
	o.presenter.OnSuccess(order, verification, fu)

	return PaymentResult{
		State:        checkout.StateSucceeded,
		Verification: verification,
		FollowUp:     fu,
	}, nil
}

// recordRedirected logs a terminal outcome for a redirect-resumed
// payment. The order amount is not carried in the resume token, so the
// entry reflects the outcome and method only.
func (o *Orchestrator) recordRedirected(buyer buyerctx.BuyerContext, state checkout.State, reason checkout.Reason) {
	if o.recorder == nil {
		return
	}
	o.recorder.Record(reporting.LogEntry{
		Timestamp:     time.Now(),
		BuyerID:       buyer.BuyerID,
		TerminalState: state,
		Method:        gateway.MethodBankRedirect,
		ReasonCode:    reason,
	})
}

// succeed moves the attempt to SUCCEEDED, dispatches the bundled
// follow-up action if any, and notifies the presenter exactly once.
func (a *Attempt) succeed(ctx context.Context, order checkout.Order, verification checkout.VerificationResult) *followup.Result {
	a.transition(checkout.StateSucceeded)
	a.recordOutcome(checkout.StateSucceeded, "")

	a.mu.Lock()
	if !a.startedAt.IsZero() {
		metrics.AttemptDuration.Observe(time.Since(a.startedAt).Seconds())
	}
	a.mu.Unlock()

	var fu *followup.Result
	if order.FollowUp != nil {
		fu = a.o.followUps.Dispatch(ctx, order.OrderID, *order.FollowUp, a.buyer)
		metrics.FollowUpDispatches.WithLabelValues(string(fu.Status)).Inc()
	}
	a.presentOnce(func() {
		a.o.presenter.OnSuccess(order, verification, fu)
	})
	return fu
}

// fail moves the attempt to a terminal failure state and notifies the
// presenter exactly once.
func (a *Attempt) fail(state checkout.State, werr *checkout.WorkflowError) {
	a.transition(state)
	a.recordOutcome(state, werr.Reason)
	a.presentOnce(func() {
		a.o.presenter.OnFailure(werr.Kind, werr.Title, werr.Detail)
	})
}

// finishIfCancelled settles a pending cancellation; reports whether the
// attempt is now cancelled.
func (a *Attempt) finishIfCancelled() bool {
	a.mu.Lock()
	if !a.cancelled || a.confirmed || a.state.Terminal() {
		a.mu.Unlock()
		return false
	}
	a.mu.Unlock()

	a.transition(checkout.StateCancelled)
	a.recordOutcome(checkout.StateCancelled, "")
	a.presentOnce(func() {
		a.o.presenter.OnCancelled()
	})
	return true
}

// recordOutcome feeds the terminal state to the retrospective recorder.
func (a *Attempt) recordOutcome(state checkout.State, reason checkout.Reason) {
	if a.o.recorder == nil {
		return
	}
	a.mu.Lock()
	order := a.order
	method := a.method
	a.mu.Unlock()
	a.o.recorder.Record(reporting.LogEntry{
		Timestamp:     time.Now(),
		AttemptID:     a.ID,
		BuyerID:       a.buyer.BuyerID,
		ProductType:   a.selection.ProductType,
		TerminalState: state,
		Amount:        order.Price,
		Currency:      order.Currency,
		Method:        method,
		ReasonCode:    reason,
	})
}

func (a *Attempt) presentOnce(notify func()) {
	a.mu.Lock()
	done := a.presented
	a.presented = true
	a.mu.Unlock()
	if !done {
		notify()
	}
}

func (a *Attempt) clearInFlight() {
	a.mu.Lock()
	a.inFlight = false
	a.mu.Unlock()
}

// orderCreationError converts a commerce failure into the user-facing
// order creation taxonomy, preserving the distinguished reason codes.
func orderCreationError(err error) *checkout.WorkflowError {
	reason := commerce.ReasonFor(err)
	switch reason {
	case checkout.ReasonDiscountNotApplicable:
		return checkout.NewOrderCreationError(reason, "This discount code can't be applied to this order.", err)
	case checkout.ReasonAlreadyOwned:
		return checkout.NewOrderCreationError(reason, "You have already purchased this product.", err)
	case checkout.ReasonUnapprovedUser:
		return checkout.NewOrderCreationError(reason, "Your account isn't approved for purchases yet.", err)
	case checkout.ReasonCommerceUnavailable:
		return checkout.NewOrderCreationError(reason, "The store is temporarily unavailable. Please try again in a moment.", err)
	default:
		var ae *commerce.APIError
		if errors.As(err, &ae) && ae.ServerMessage != "" {
			return checkout.NewOrderCreationError(reason, ae.ServerMessage, err)
		}
		return checkout.NewOrderCreationError(reason, "Something went wrong creating your order. Please try again.", err)
	}
}

// paymentError normalizes any confirmation-path failure into a
// PaymentError, passing already-typed payment errors through untouched.
func paymentError(err error, fallbackDetail string) *checkout.WorkflowError {
	var we *checkout.WorkflowError
	if errors.As(err, &we) && we.Kind == checkout.KindPayment {
		return we
	}
	reason := commerce.ReasonFor(err)
	if fallbackDetail == "" {
		fallbackDetail = "The payment could not be completed."
	}
	return checkout.NewPaymentError(reason, fallbackDetail, err)
}

func declineDetail(declineReason string) string {
	if declineReason == "" {
		return "Your payment was declined. You have not been charged."
	}
	return fmt.Sprintf("Your payment was declined (%s). You have not been charged.", declineReason)
}
