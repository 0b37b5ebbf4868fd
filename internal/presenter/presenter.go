// Package presenter is the boundary to the UI layer: how a finished
// checkout attempt is surfaced to the buyer. Only the input contract
// lives here; real rendering is the caller's concern.
package presenter

import (
	"log/slog"

	"github.com/yourorg/checkout-orchestrator/internal/checkout"
	"github.com/yourorg/checkout-orchestrator/internal/followup"
)

// Presenter receives exactly one terminal notification per checkout
// attempt.
type Presenter interface {
	// OnSuccess reports a completed purchase. followUp is nil unless the
	// order bundled a secondary action.
	OnSuccess(order checkout.Order, verification checkout.VerificationResult, followUp *followup.Result)
	// OnFailure reports a failed attempt with user-facing copy.
	OnFailure(kind checkout.ErrorKind, title, detail string)
	// OnCancelled reports a user-aborted attempt.
	OnCancelled()
}

// SlogPresenter logs terminal results; the default when no UI presenter
// is wired in.
type SlogPresenter struct {
	Log *slog.Logger
}

// NewSlogPresenter creates a SlogPresenter. A nil logger uses the
// default.
func NewSlogPresenter(log *slog.Logger) *SlogPresenter {
	if log == nil {
		log = slog.Default()
	}
	return &SlogPresenter{Log: log}
}

func (p *SlogPresenter) OnSuccess(order checkout.Order, verification checkout.VerificationResult, followUp *followup.Result) {
	attrs := []any{
		slog.String("order_id", order.OrderID),
		slog.String("order_type", order.OrderType),
		slog.String("transaction_id", verification.TransactionID),
	}
	if followUp != nil {
		attrs = append(attrs, slog.String("follow_up_status", string(followUp.Status)))
	}
	p.Log.Info("checkout succeeded", attrs...)
}

func (p *SlogPresenter) OnFailure(kind checkout.ErrorKind, title, detail string) {
	p.Log.Warn("checkout failed",
		slog.String("kind", string(kind)),
		slog.String("title", title),
		slog.String("detail", detail))
}

func (p *SlogPresenter) OnCancelled() {
	p.Log.Info("checkout cancelled")
}
