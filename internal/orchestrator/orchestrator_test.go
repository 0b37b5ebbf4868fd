package orchestrator_test

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/checkout-orchestrator/internal/checkout"
	"github.com/yourorg/checkout-orchestrator/internal/commerce"
	buyerctx "github.com/yourorg/checkout-orchestrator/internal/context"
	"github.com/yourorg/checkout-orchestrator/internal/followup"
	"github.com/yourorg/checkout-orchestrator/internal/gateway"
	"github.com/yourorg/checkout-orchestrator/internal/gateway/mock"
	"github.com/yourorg/checkout-orchestrator/internal/orchestrator"
	"github.com/yourorg/checkout-orchestrator/internal/reporting"
)

type fakeCommerce struct {
	mu sync.Mutex

	createOrderFn   func(req commerce.CreateOrderRequest) (checkout.Order, error)
	createSessionFn func(orderID, orderType, subtype string) (checkout.PaymentSession, error)
	verifyFn        func(orderID, orderType, transactionID string) (checkout.VerificationResult, error)

	orderCalls   int
	sessionCalls int
	verifyCalls  int

	lastVerifyTransactionID string
}

func (f *fakeCommerce) CreateOrder(_ context.Context, req commerce.CreateOrderRequest) (checkout.Order, error) {
	f.mu.Lock()
	f.orderCalls++
	f.mu.Unlock()
	if f.createOrderFn != nil {
		return f.createOrderFn(req)
	}
	return checkout.Order{OrderID: "ord_1", OrderType: "standard", PaymentRequired: true, Price: 2000, Currency: "usd"}, nil
}

func (f *fakeCommerce) CreatePaymentSession(_ context.Context, orderID, orderType, subtype string) (checkout.PaymentSession, error) {
	f.mu.Lock()
	f.sessionCalls++
	f.mu.Unlock()
	if f.createSessionFn != nil {
		return f.createSessionFn(orderID, orderType, subtype)
	}
	return checkout.PaymentSession{TransactionID: "txn_1", SessionToken: "sess_tok_1"}, nil
}

func (f *fakeCommerce) VerifyPayment(_ context.Context, orderID, orderType, transactionID string) (checkout.VerificationResult, error) {
	f.mu.Lock()
	f.verifyCalls++
	f.lastVerifyTransactionID = transactionID
	f.mu.Unlock()
	if f.verifyFn != nil {
		return f.verifyFn(orderID, orderType, transactionID)
	}
	return checkout.VerificationResult{Success: true, OrderID: orderID, OrderType: orderType, TransactionID: transactionID}, nil
}

type fakeFollowUpClient struct {
	mu    sync.Mutex
	calls int
	fn    func(req commerce.FollowUpOrderRequest) (checkout.Order, error)
}

func (f *fakeFollowUpClient) CreateFollowUpOrder(_ context.Context, req commerce.FollowUpOrderRequest) (checkout.Order, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(req)
	}
	return checkout.Order{OrderID: "fu_ord_1", OrderType: "follow_up"}, nil
}

type recordingPresenter struct {
	mu        sync.Mutex
	successes []*followup.Result
	failures  []recordedFailure
	cancels   int
}

type recordedFailure struct {
	kind   checkout.ErrorKind
	title  string
	detail string
}

func (p *recordingPresenter) OnSuccess(_ checkout.Order, _ checkout.VerificationResult, fu *followup.Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.successes = append(p.successes, fu)
}

func (p *recordingPresenter) OnFailure(kind checkout.ErrorKind, title, detail string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures = append(p.failures, recordedFailure{kind: kind, title: title, detail: detail})
}

func (p *recordingPresenter) OnCancelled() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancels++
}

type transitionRecorder struct {
	mu          sync.Mutex
	transitions []string
}

func (r *transitionRecorder) OnTransition(_ string, _, to checkout.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, string(to))
}

type rig struct {
	commerce  *fakeCommerce
	followUps *fakeFollowUpClient
	adapter   *mock.Adapter
	presenter *recordingPresenter
	observer  *transitionRecorder
	recorder  *reporting.Recorder
	orch      *orchestrator.Orchestrator
}

func newRig() *rig {
	r := &rig{
		commerce:  &fakeCommerce{},
		followUps: &fakeFollowUpClient{},
		adapter:   mock.New("card"),
		presenter: &recordingPresenter{},
		observer:  &transitionRecorder{},
		recorder:  reporting.NewRecorder(),
	}
	r.orch = orchestrator.New(
		r.commerce,
		gateway.NewRegistry(r.adapter),
		followup.NewDispatcher(r.followUps, nil),
		r.presenter,
		orchestrator.WithObserver(r.observer),
		orchestrator.WithRecorder(r.recorder),
	)
	return r
}

func buyer() buyerctx.BuyerContext {
	return buyerctx.BuyerContext{BuyerID: "buyer_1", Email: "buyer@example.com", Timezone: "Europe/Berlin"}
}

func cardPayload() gateway.MethodPayload {
	return gateway.MethodPayload{Method: "card", Fields: map[string]string{"card_token": "tok_1"}}
}

func TestFreeOrderCompletesWithoutGateway(t *testing.T) {
	r := newRig()
	r.commerce.createOrderFn = func(commerce.CreateOrderRequest) (checkout.Order, error) {
		return checkout.Order{OrderID: "ord_free", OrderType: "standard", PaymentRequired: false}, nil
	}

	a := r.orch.NewAttempt(buyer(), checkout.ProductSelection{ProductType: checkout.ProductClass, ProductID: "cls_1"})
	order, err := a.CreateOrder(buyerctx.NewTraceContext(nil), orchestrator.OrderOptions{})
	require.NoError(t, err)

	assert.False(t, order.PaymentRequired)
	assert.Equal(t, checkout.StateSucceeded, a.State())
	assert.Zero(t, r.commerce.sessionCalls)
	assert.Empty(t, r.adapter.ConfirmCalls)
	require.Len(t, r.presenter.successes, 1)
}

func TestPaidCheckoutSucceeds(t *testing.T) {
	r := newRig()
	r.adapter.ConfirmFunc = func(_ context.Context, session checkout.PaymentSession, _ checkout.Order, _ gateway.MethodPayload) (gateway.Outcome, error) {
		return gateway.Outcome{Status: gateway.StatusConfirmed, TransactionID: "txn_gateway"}, nil
	}

	// The client-side price deliberately disagrees with the server's.
	selection := checkout.ProductSelection{ProductType: checkout.ProductVideo, ProductID: "vid_1", Price: 99, Currency: "eur"}
	a := r.orch.NewAttempt(buyer(), selection)
	tc := buyerctx.NewTraceContext(nil)

	_, err := a.CreateOrder(tc, orchestrator.OrderOptions{})
	require.NoError(t, err)
	require.Equal(t, checkout.StateOrderCreated, a.State())

	res, err := a.CompletePayment(tc, cardPayload())
	require.NoError(t, err)

	assert.Equal(t, checkout.StateSucceeded, res.State)
	assert.True(t, res.Verification.Success)
	assert.Nil(t, res.FollowUp)

	// The gateway saw the order's authoritative amount, not the client's.
	require.Len(t, r.adapter.ConfirmCalls, 1)
	assert.Equal(t, int64(2000), r.adapter.ConfirmCalls[0].Order.Price)
	assert.Equal(t, "usd", r.adapter.ConfirmCalls[0].Order.Currency)

	// Verification used the gateway-issued transaction ID.
	assert.Equal(t, 1, r.commerce.verifyCalls)
	assert.Equal(t, "txn_gateway", r.commerce.lastVerifyTransactionID)

	require.Len(t, r.presenter.successes, 1)
	assert.Empty(t, r.presenter.failures)

	assert.Equal(t, []string{
		"ORDER_CREATING", "ORDER_CREATED",
		"SESSION_CREATING", "SESSION_CREATED",
		"GATEWAY_CONFIRMING", "GATEWAY_CONFIRMED",
		"VERIFYING", "SUCCEEDED",
	}, r.observer.transitions)

	entries := r.recorder.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, checkout.StateSucceeded, entries[0].TerminalState)
	assert.Equal(t, int64(2000), entries[0].Amount)
	assert.Equal(t, "usd", entries[0].Currency)
	assert.Equal(t, "card", entries[0].Method)
	assert.Equal(t, "buyer_1", entries[0].BuyerID)
}

func TestVerificationFailureIsTerminalAndNeverRetried(t *testing.T) {
	r := newRig()
	r.commerce.verifyFn = func(string, string, string) (checkout.VerificationResult, error) {
		return checkout.VerificationResult{}, errors.New("connection reset by peer")
	}

	a := r.orch.NewAttempt(buyer(), checkout.ProductSelection{ProductType: checkout.ProductVideo, ProductID: "vid_1"})
	tc := buyerctx.NewTraceContext(nil)
	_, err := a.CreateOrder(tc, orchestrator.OrderOptions{})
	require.NoError(t, err)

	res, err := a.CompletePayment(tc, cardPayload())
	require.Error(t, err)

	assert.Equal(t, checkout.KindVerification, checkout.KindOf(err))
	assert.Equal(t, checkout.StateVerifyFailed, res.State)
	assert.Equal(t, checkout.StateVerifyFailed, a.State())
	assert.Equal(t, 1, r.commerce.verifyCalls)

	// The copy never claims the payment failed: it may have completed.
	require.Len(t, r.presenter.failures, 1)
	f := r.presenter.failures[0]
	assert.NotContains(t, f.title, "failed")
	assert.NotContains(t, f.detail, "failed")
	assert.Contains(t, f.detail, "may have completed")
}

func TestPassWithAlreadyBookedFollowUpStillSucceeds(t *testing.T) {
	r := newRig()
	r.commerce.createOrderFn = func(commerce.CreateOrderRequest) (checkout.Order, error) {
		return checkout.Order{
			OrderID: "ord_pass", OrderType: "standard", PaymentRequired: true, Price: 5000, Currency: "usd",
			FollowUp: &checkout.FollowUpBookingInfo{ProductType: checkout.ProductClass, ProductID: "cls_9"},
		}, nil
	}
	r.followUps.fn = func(commerce.FollowUpOrderRequest) (checkout.Order, error) {
		return checkout.Order{}, &commerce.APIError{
			Endpoint:      commerce.EndpointCreateOrder,
			StatusCode:    409,
			Reason:        checkout.ReasonAlreadyOwned,
			ServerMessage: "user has already booked this session",
		}
	}

	a := r.orch.NewAttempt(buyer(), checkout.ProductSelection{ProductType: checkout.ProductPass, ProductID: "pass_1"})
	tc := buyerctx.NewTraceContext(nil)
	_, err := a.CreateOrder(tc, orchestrator.OrderOptions{})
	require.NoError(t, err)

	res, err := a.CompletePayment(tc, cardPayload())
	require.NoError(t, err)

	assert.Equal(t, checkout.StateSucceeded, res.State)
	require.NotNil(t, res.FollowUp)
	assert.Equal(t, followup.StatusAlreadyOwned, res.FollowUp.Status)
	assert.NotEmpty(t, res.FollowUp.Notice)

	require.Len(t, r.presenter.successes, 1)
	assert.Empty(t, r.presenter.failures)
}

func TestRejectedCouponReturnsAttemptToIdle(t *testing.T) {
	r := newRig()
	rejected := true
	r.commerce.createOrderFn = func(req commerce.CreateOrderRequest) (checkout.Order, error) {
		if rejected {
			return checkout.Order{}, &commerce.APIError{
				Endpoint:      commerce.EndpointCreateOrder,
				StatusCode:    422,
				Reason:        checkout.ReasonDiscountNotApplicable,
				ServerMessage: "unable to apply discount to order",
			}
		}
		return checkout.Order{OrderID: "ord_2", OrderType: "standard", PaymentRequired: true, Price: 1500, Currency: "usd"}, nil
	}

	a := r.orch.NewAttempt(buyer(), checkout.ProductSelection{ProductType: checkout.ProductCourse, ProductID: "crs_1"})
	tc := buyerctx.NewTraceContext(nil)

	_, err := a.CreateOrder(tc, orchestrator.OrderOptions{CouponCode: "WELCOME10"})
	require.Error(t, err)
	assert.Equal(t, checkout.KindOrderCreation, checkout.KindOf(err))
	assert.Equal(t, checkout.ReasonDiscountNotApplicable, checkout.ReasonOf(err))

	// No payment machinery was touched and the attempt can be retried
	// with corrected input.
	assert.Equal(t, checkout.StateIdle, a.State())
	assert.Zero(t, r.commerce.sessionCalls)
	assert.Empty(t, r.adapter.ConfirmCalls)

	rejected = false
	_, err = a.CreateOrder(tc, orchestrator.OrderOptions{})
	require.NoError(t, err)
	assert.Equal(t, checkout.StateOrderCreated, a.State())
	assert.Equal(t, 2, r.commerce.orderCalls)
}

func TestDeclinedCardFailsWithoutVerification(t *testing.T) {
	r := newRig()
	r.adapter.ConfirmFunc = func(context.Context, checkout.PaymentSession, checkout.Order, gateway.MethodPayload) (gateway.Outcome, error) {
		return gateway.Outcome{Status: gateway.StatusDeclined, DeclineReason: "insufficient_funds"}, nil
	}

	a := r.orch.NewAttempt(buyer(), checkout.ProductSelection{ProductType: checkout.ProductVideo, ProductID: "vid_1"})
	tc := buyerctx.NewTraceContext(nil)
	_, err := a.CreateOrder(tc, orchestrator.OrderOptions{})
	require.NoError(t, err)

	res, err := a.CompletePayment(tc, cardPayload())
	require.Error(t, err)

	assert.Equal(t, checkout.ReasonGatewayDeclined, checkout.ReasonOf(err))
	assert.Equal(t, checkout.StateGatewayFailed, res.State)
	assert.Zero(t, r.commerce.verifyCalls)
	require.Len(t, r.presenter.failures, 1)
	assert.Contains(t, r.presenter.failures[0].detail, "insufficient_funds")

	entries := r.recorder.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, checkout.StateGatewayFailed, entries[0].TerminalState)
	assert.Equal(t, checkout.ReasonGatewayDeclined, entries[0].ReasonCode)
}

func TestStepUpActionResolvesBeforeVerification(t *testing.T) {
	t.Run("single round then confirmed", func(t *testing.T) {
		r := newRig()
		r.adapter.ConfirmFunc = func(context.Context, checkout.PaymentSession, checkout.Order, gateway.MethodPayload) (gateway.Outcome, error) {
			return gateway.Outcome{Status: gateway.StatusRequiresAction}, nil
		}
		r.adapter.CompleteActionFunc = func(_ context.Context, session checkout.PaymentSession) (gateway.Outcome, error) {
			return gateway.Outcome{Status: gateway.StatusConfirmed, TransactionID: session.TransactionID}, nil
		}

		a := r.orch.NewAttempt(buyer(), checkout.ProductSelection{ProductType: checkout.ProductVideo, ProductID: "vid_1"})
		tc := buyerctx.NewTraceContext(nil)
		_, err := a.CreateOrder(tc, orchestrator.OrderOptions{})
		require.NoError(t, err)

		res, err := a.CompletePayment(tc, cardPayload())
		require.NoError(t, err)
		assert.Equal(t, checkout.StateSucceeded, res.State)
		assert.Equal(t, 1, r.adapter.CompleteActionCalls)
		assert.Equal(t, 1, r.commerce.verifyCalls)
	})

	t.Run("never resolving times out", func(t *testing.T) {
		r := newRig()
		r.adapter.ConfirmFunc = func(context.Context, checkout.PaymentSession, checkout.Order, gateway.MethodPayload) (gateway.Outcome, error) {
			return gateway.Outcome{Status: gateway.StatusRequiresAction}, nil
		}
		r.adapter.CompleteActionFunc = func(context.Context, checkout.PaymentSession) (gateway.Outcome, error) {
			return gateway.Outcome{Status: gateway.StatusRequiresAction}, nil
		}

		a := r.orch.NewAttempt(buyer(), checkout.ProductSelection{ProductType: checkout.ProductVideo, ProductID: "vid_1"})
		tc := buyerctx.NewTraceContext(nil)
		_, err := a.CreateOrder(tc, orchestrator.OrderOptions{})
		require.NoError(t, err)

		_, err = a.CompletePayment(tc, cardPayload())
		require.Error(t, err)
		assert.Equal(t, checkout.ReasonConfirmationTimeout, checkout.ReasonOf(err))
		assert.Zero(t, r.commerce.verifyCalls)
	})
}

func TestRedirectSuspendsTheAttempt(t *testing.T) {
	r := newRig()
	r.adapter.ConfirmFunc = func(context.Context, checkout.PaymentSession, checkout.Order, gateway.MethodPayload) (gateway.Outcome, error) {
		return gateway.Outcome{Status: gateway.StatusRequiresRedirect, RedirectURL: "https://bank.example.com/auth"}, nil
	}

	a := r.orch.NewAttempt(buyer(), checkout.ProductSelection{ProductType: checkout.ProductVideo, ProductID: "vid_1"})
	tc := buyerctx.NewTraceContext(nil)
	_, err := a.CreateOrder(tc, orchestrator.OrderOptions{})
	require.NoError(t, err)

	res, err := a.CompletePayment(tc, cardPayload())
	require.NoError(t, err)

	assert.Equal(t, "https://bank.example.com/auth", res.RedirectURL)
	assert.Equal(t, checkout.StateGatewayConfirming, res.State)
	assert.Zero(t, r.commerce.verifyCalls)
	assert.Empty(t, r.presenter.successes)
	assert.Empty(t, r.presenter.failures)
}

func TestVerifyRedirectedPayment(t *testing.T) {
	token := func(t *testing.T, withFollowUp bool) checkout.ResumeToken {
		t.Helper()
		v := url.Values{}
		v.Set("order_id", "ord_r1")
		v.Set("order_type", "standard")
		v.Set("transaction_id", "txn_r1")
		if withFollowUp {
			v.Set("additional_product", "CLASS")
			v.Set("additional_product_id", "cls_7")
		}
		tok, err := checkout.ParseResumeToken(v)
		require.NoError(t, err)
		return tok
	}

	t.Run("success with follow-up", func(t *testing.T) {
		r := newRig()
		res, err := r.orch.VerifyRedirectedPayment(buyerctx.NewTraceContext(nil), token(t, true), buyer())
		require.NoError(t, err)

		assert.Equal(t, checkout.StateSucceeded, res.State)
		require.NotNil(t, res.FollowUp)
		assert.Equal(t, followup.StatusCompleted, res.FollowUp.Status)
		assert.Equal(t, 1, r.followUps.calls)
		require.Len(t, r.presenter.successes, 1)
	})

	t.Run("double arrival dispatches follow-up once", func(t *testing.T) {
		r := newRig()
		tc := buyerctx.NewTraceContext(nil)
		_, err := r.orch.VerifyRedirectedPayment(tc, token(t, true), buyer())
		require.NoError(t, err)
		_, err = r.orch.VerifyRedirectedPayment(tc, token(t, true), buyer())
		require.NoError(t, err)

		assert.Equal(t, 1, r.followUps.calls)
	})

	t.Run("verification failure", func(t *testing.T) {
		r := newRig()
		r.commerce.verifyFn = func(string, string, string) (checkout.VerificationResult, error) {
			return checkout.VerificationResult{Success: false}, nil
		}

		res, err := r.orch.VerifyRedirectedPayment(buyerctx.NewTraceContext(nil), token(t, false), buyer())
		require.Error(t, err)
		assert.Equal(t, checkout.KindVerification, checkout.KindOf(err))
		assert.Equal(t, checkout.StateVerifyFailed, res.State)
		assert.Zero(t, r.followUps.calls)
	})
}

func TestCancel(t *testing.T) {
	t.Run("before payment settles immediately", func(t *testing.T) {
		r := newRig()
		a := r.orch.NewAttempt(buyer(), checkout.ProductSelection{ProductType: checkout.ProductVideo, ProductID: "vid_1"})
		tc := buyerctx.NewTraceContext(nil)
		_, err := a.CreateOrder(tc, orchestrator.OrderOptions{})
		require.NoError(t, err)

		a.Cancel()

		assert.Equal(t, checkout.StateCancelled, a.State())
		assert.Equal(t, 1, r.presenter.cancels)

		_, err = a.CompletePayment(tc, cardPayload())
		require.Error(t, err)
		assert.Equal(t, checkout.ReasonInvalidState, checkout.ReasonOf(err))
	})

	t.Run("after gateway confirmation is a no-op", func(t *testing.T) {
		r := newRig()
		a := r.orch.NewAttempt(buyer(), checkout.ProductSelection{ProductType: checkout.ProductVideo, ProductID: "vid_1"})
		r.adapter.ConfirmFunc = func(context.Context, checkout.PaymentSession, checkout.Order, gateway.MethodPayload) (gateway.Outcome, error) {
			// A cancel racing with the confirmation call.
			a.Cancel()
			return gateway.Outcome{Status: gateway.StatusConfirmed, TransactionID: "txn_x"}, nil
		}

		tc := buyerctx.NewTraceContext(nil)
		_, err := a.CreateOrder(tc, orchestrator.OrderOptions{})
		require.NoError(t, err)

		res, err := a.CompletePayment(tc, cardPayload())
		require.NoError(t, err)

		// The confirmed payment was still verified.
		assert.Equal(t, checkout.StateSucceeded, res.State)
		assert.Equal(t, 1, r.commerce.verifyCalls)
		assert.Zero(t, r.presenter.cancels)
	})

	t.Run("on a terminal attempt does nothing", func(t *testing.T) {
		r := newRig()
		r.commerce.createOrderFn = func(commerce.CreateOrderRequest) (checkout.Order, error) {
			return checkout.Order{OrderID: "ord_free", OrderType: "standard"}, nil
		}
		a := r.orch.NewAttempt(buyer(), checkout.ProductSelection{ProductType: checkout.ProductClass, ProductID: "cls_1"})
		_, err := a.CreateOrder(buyerctx.NewTraceContext(nil), orchestrator.OrderOptions{})
		require.NoError(t, err)
		require.Equal(t, checkout.StateSucceeded, a.State())

		a.Cancel()
		assert.Equal(t, checkout.StateSucceeded, a.State())
		assert.Zero(t, r.presenter.cancels)
	})
}

func TestPayWhatYouWantBelowMinimumIsRejectedLocally(t *testing.T) {
	r := newRig()
	a := r.orch.NewAttempt(buyer(), checkout.ProductSelection{
		ProductType: checkout.ProductClass, ProductID: "cls_1",
		PayWhatYouWant: true, Price: 1000, MinimumPrice: 500, Currency: "usd",
	})

	low := int64(100)
	_, err := a.CreateOrder(buyerctx.NewTraceContext(nil), orchestrator.OrderOptions{Amount: &low})
	require.Error(t, err)
	assert.Equal(t, checkout.KindOrderCreation, checkout.KindOf(err))
	assert.Equal(t, checkout.StateIdle, a.State())
	assert.Zero(t, r.commerce.orderCalls)
}

func TestCompletePaymentRejectsFreeOrders(t *testing.T) {
	r := newRig()
	r.commerce.createOrderFn = func(commerce.CreateOrderRequest) (checkout.Order, error) {
		return checkout.Order{OrderID: "ord_free", OrderType: "standard"}, nil
	}
	a := r.orch.NewAttempt(buyer(), checkout.ProductSelection{ProductType: checkout.ProductClass, ProductID: "cls_1"})
	tc := buyerctx.NewTraceContext(nil)
	_, err := a.CreateOrder(tc, orchestrator.OrderOptions{})
	require.NoError(t, err)

	_, err = a.CompletePayment(tc, cardPayload())
	require.Error(t, err)
	assert.Equal(t, checkout.ReasonInvalidState, checkout.ReasonOf(err))
	assert.Zero(t, r.commerce.sessionCalls)
}
