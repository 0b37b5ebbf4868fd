// Package followup executes the secondary action bundled into a PASS
// purchase: booking a class or claiming a video with the pass's newly
// granted credit. Dispatch runs only after the primary purchase has been
// verified, and at most once per pass order.
package followup

import (
	"context"
	"log/slog"
	"sync"

	"github.com/yourorg/checkout-orchestrator/internal/checkout"
	"github.com/yourorg/checkout-orchestrator/internal/commerce"
	buyerctx "github.com/yourorg/checkout-orchestrator/internal/context"
)

// CommerceClient is the slice of the Commerce API the dispatcher needs.
type CommerceClient interface {
	CreateFollowUpOrder(ctx context.Context, req commerce.FollowUpOrderRequest) (checkout.Order, error)
}

// Status of one dispatch.
type Status string

const (
	// StatusCompleted means the bundled order was created.
	StatusCompleted Status = "COMPLETED"
	// StatusAlreadyOwned means the buyer already had the product; an
	// informational notice, not a failure.
	StatusAlreadyOwned Status = "ALREADY_OWNED"
	// StatusFailed means the bundled action failed. The pass purchase
	// itself stays valid.
	StatusFailed Status = "FAILED"
)

// Result of dispatching one follow-up action.
type Result struct {
	Status      Status
	ProductType checkout.ProductType
	ProductID   string
	Order       checkout.Order // set when Completed
	Notice      string         // user-facing copy for AlreadyOwned
	Err         error          // set when Failed; always a FollowUpError
}

// Dispatcher issues follow-up orders with at-most-once semantics per
// source order. The registry is in-memory: one process owns a checkout
// attempt end to end, including redirect resumption, and the server
// rejects duplicate follow-up orders as already-owned anyway.
type Dispatcher struct {
	client CommerceClient
	log    *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry // keyed by source order ID
}

// entry is the per-order dispatch slot. done is closed once result is
// set; waiters read result only after done.
type entry struct {
	done   chan struct{}
	result *Result
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(client CommerceClient, log *slog.Logger) *Dispatcher {
	if client == nil {
		panic("commerce client cannot be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		client:  client,
		log:     log,
		entries: make(map[string]*entry),
	}
}

// Dispatch executes the bundled action for a verified pass order. Calling
// it again for the same source order returns the recorded result without
// issuing another order; a call racing an in-flight dispatch waits for
// that dispatch's outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, sourceOrderID string, info checkout.FollowUpBookingInfo, buyer buyerctx.BuyerContext) *Result {
	d.mu.Lock()
	if e, ok := d.entries[sourceOrderID]; ok {
		d.mu.Unlock()
		// A settled entry answers immediately, whatever the caller's
		// context looks like.
		select {
		case <-e.done:
			return e.result
		default:
		}
		select {
		case <-e.done:
			return e.result
		case <-ctx.Done():
			return &Result{
				Status:      StatusFailed,
				ProductType: info.ProductType,
				ProductID:   info.ProductID,
				Err: checkout.NewFollowUpError(checkout.ReasonUnknown,
					"Your pass is active, but the bundled booking is still being processed. Please check your dashboard.", ctx.Err()),
			}
		}
	}
	// Claim the slot before the network call so a concurrent duplicate
	// cannot double-dispatch.
	e := &entry{done: make(chan struct{})}
	d.entries[sourceOrderID] = e
	d.mu.Unlock()

	e.result = d.execute(ctx, sourceOrderID, info, buyer)
	close(e.done)
	return e.result
}

func (d *Dispatcher) execute(ctx context.Context, sourceOrderID string, info checkout.FollowUpBookingInfo, buyer buyerctx.BuyerContext) *Result {
	result := &Result{ProductType: info.ProductType, ProductID: info.ProductID}

	if info.ProductType != checkout.ProductClass && info.ProductType != checkout.ProductVideo {
		result.Status = StatusFailed
		result.Err = checkout.NewFollowUpError(checkout.ReasonUnknown,
			"The bundled product could not be booked automatically.", nil)
		return result
	}

	order, err := d.client.CreateFollowUpOrder(ctx, commerce.FollowUpOrderRequest{
		ProductType: info.ProductType,
		ProductID:   info.ProductID,
		SourceID:    sourceOrderID,
		IsGift:      info.IsGift,
		Buyer:       buyer,
	})
	if err != nil {
		if commerce.ReasonFor(err) == checkout.ReasonAlreadyOwned {
			d.log.Info("follow-up product already owned",
				slog.String("source_order_id", sourceOrderID),
				slog.String("product_id", info.ProductID))
			result.Status = StatusAlreadyOwned
			result.Notice = alreadyOwnedNotice(info.ProductType)
			return result
		}
		d.log.Warn("follow-up dispatch failed",
			slog.String("source_order_id", sourceOrderID),
			slog.String("product_id", info.ProductID),
			slog.Any("error", err))
		result.Status = StatusFailed
		result.Err = checkout.NewFollowUpError(commerce.ReasonFor(err),
			"Your pass is active, but we couldn't complete the bundled booking. You can book it from your dashboard.", err)
		return result
	}

	result.Status = StatusCompleted
	result.Order = order
	return result
}

func alreadyOwnedNotice(pt checkout.ProductType) string {
	if pt == checkout.ProductVideo {
		return "You already have access to this video."
	}
	return "You have already booked this session."
}
