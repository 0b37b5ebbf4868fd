// Package mock provides a configurable gateway.Adapter double for tests.
package mock

import (
	"context"

	"github.com/google/uuid"

	"github.com/yourorg/checkout-orchestrator/internal/checkout"
	"github.com/yourorg/checkout-orchestrator/internal/gateway"
)

// Adapter records calls and delegates to the configured funcs. With no
// ConfirmFunc it confirms immediately with a fresh transaction ID.
type Adapter struct {
	Name               string
	ConfirmFunc        func(ctx context.Context, session checkout.PaymentSession, order checkout.Order, payload gateway.MethodPayload) (gateway.Outcome, error)
	CompleteActionFunc func(ctx context.Context, session checkout.PaymentSession) (gateway.Outcome, error)

	ConfirmCalls        []ConfirmCall
	CompleteActionCalls int
}

// ConfirmCall captures the arguments of one Confirm invocation.
type ConfirmCall struct {
	Session checkout.PaymentSession
	Order   checkout.Order
	Payload gateway.MethodPayload
}

// New creates a mock Adapter answering for the given method name.
func New(name string) *Adapter {
	return &Adapter{Name: name}
}

func (m *Adapter) Method() string { return m.Name }

func (m *Adapter) Confirm(ctx context.Context, session checkout.PaymentSession, order checkout.Order, payload gateway.MethodPayload) (gateway.Outcome, error) {
	m.ConfirmCalls = append(m.ConfirmCalls, ConfirmCall{Session: session, Order: order, Payload: payload})
	if m.ConfirmFunc != nil {
		return m.ConfirmFunc(ctx, session, order, payload)
	}
	txn := session.TransactionID
	if txn == "" {
		txn = uuid.NewString()
	}
	return gateway.Outcome{Status: gateway.StatusConfirmed, TransactionID: txn}, nil
}

func (m *Adapter) CompleteAction(ctx context.Context, session checkout.PaymentSession) (gateway.Outcome, error) {
	m.CompleteActionCalls++
	if m.CompleteActionFunc != nil {
		return m.CompleteActionFunc(ctx, session)
	}
	return gateway.Outcome{Status: gateway.StatusConfirmed, TransactionID: session.TransactionID}, nil
}
