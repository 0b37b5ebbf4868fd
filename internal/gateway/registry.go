package gateway

import "github.com/yourorg/checkout-orchestrator/internal/checkout"

// Registry is the capability lookup from payment method name to the
// adapter that handles it. Replaces per-call-site conditional branching
// on the method.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry builds a Registry from the given adapters, keyed by their
// Method().
func NewRegistry(adapters ...Adapter) *Registry {
	m := make(map[string]Adapter, len(adapters))
	for _, a := range adapters {
		m[a.Method()] = a
	}
	return &Registry{adapters: m}
}

// ForMethod returns the adapter for a payment method. An unknown method
// is a payment error, not a panic: the UI may offer methods this build
// was not configured for.
func (r *Registry) ForMethod(method string) (Adapter, error) {
	a, ok := r.adapters[method]
	if !ok {
		return nil, checkout.NewPaymentError(checkout.ReasonUnknown,
			"This payment method is not available. Please choose another one.", nil)
	}
	return a, nil
}

// Methods lists the configured payment methods.
func (r *Registry) Methods() []string {
	out := make([]string, 0, len(r.adapters))
	for m := range r.adapters {
		out = append(out, m)
	}
	return out
}
