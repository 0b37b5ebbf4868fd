// Package policy evaluates business rules on failed checkout attempts:
// whether the user may be offered a retry and whether the failure should
// be escalated to support. Rules are configurable govaluate expressions
// evaluated against the attempt's failure variables.
package policy

import (
	"fmt"

	"github.com/Knetic/govaluate"

	"github.com/yourorg/checkout-orchestrator/internal/checkout"
)

// Decision is the outcome of evaluating the rules for one failure.
type Decision struct {
	AllowUserRetry  bool
	EscalateSupport bool
	Reason          string // name of the rule that matched, or "default"
}

// RuleConfig is one rule: when Expression evaluates true against the
// failure variables, the rule's decision applies. First match wins.
type RuleConfig struct {
	Name            string
	Expression      string
	AllowUserRetry  bool
	EscalateSupport bool
}

// FailureInput is what a rule expression can see.
type FailureInput struct {
	ErrorKind     checkout.ErrorKind
	Reason        checkout.Reason
	State         checkout.State
	AttemptNumber int
}

// Enforcer holds compiled rules.
type Enforcer struct {
	rules    []RuleConfig
	compiled []*govaluate.EvaluableExpression
}

// NewEnforcer compiles the rule expressions up front so a malformed rule
// fails at construction, not mid-checkout.
func NewEnforcer(rules []RuleConfig) (*Enforcer, error) {
	compiled := make([]*govaluate.EvaluableExpression, len(rules))
	for i, r := range rules {
		expr, err := govaluate.NewEvaluableExpression(r.Expression)
		if err != nil {
			return nil, fmt.Errorf("compiling rule %q: %w", r.Name, err)
		}
		compiled[i] = expr
	}
	return &Enforcer{rules: rules, compiled: compiled}, nil
}

// DefaultRules encode the workflow's ground rules: verification failures
// are never offered as retryable (the charge may have landed) and always
// escalate; gateway declines and order-creation rejections are retryable
// with corrected input.
func DefaultRules() []RuleConfig {
	return []RuleConfig{
		{
			Name:            "VerificationAlwaysEscalates",
			Expression:      "error_kind == 'VERIFICATION'",
			AllowUserRetry:  false,
			EscalateSupport: true,
		},
		{
			Name:            "DeclinedCardRetryable",
			Expression:      "error_kind == 'PAYMENT' && reason == 'GATEWAY_DECLINED'",
			AllowUserRetry:  true,
			EscalateSupport: false,
		},
		{
			Name:            "TransientPaymentRetryable",
			Expression:      "error_kind == 'PAYMENT' && (reason == 'NETWORK' || reason == 'CONFIRMATION_TIMEOUT')",
			AllowUserRetry:  true,
			EscalateSupport: false,
		},
		{
			Name:            "OrderCreationRetryable",
			Expression:      "error_kind == 'ORDER_CREATION'",
			AllowUserRetry:  true,
			EscalateSupport: false,
		},
		{
			Name:            "RepeatedFailuresEscalate",
			Expression:      "attempt_number >= 3",
			AllowUserRetry:  true,
			EscalateSupport: true,
		},
	}
}

// Evaluate runs the rules in order and returns the first match's
// decision. With no match the default is a safe retry-by-user with no
// escalation.
func (e *Enforcer) Evaluate(in FailureInput) (Decision, error) {
	params := map[string]interface{}{
		"error_kind":     string(in.ErrorKind),
		"reason":         string(in.Reason),
		"state":          string(in.State),
		"attempt_number": in.AttemptNumber,
	}

	for i, expr := range e.compiled {
		result, err := expr.Evaluate(params)
		if err != nil {
			return Decision{}, fmt.Errorf("evaluating rule %q: %w", e.rules[i].Name, err)
		}
		matched, ok := result.(bool)
		if !ok {
			return Decision{}, fmt.Errorf("rule %q did not evaluate to a boolean", e.rules[i].Name)
		}
		if matched {
			return Decision{
				AllowUserRetry:  e.rules[i].AllowUserRetry,
				EscalateSupport: e.rules[i].EscalateSupport,
				Reason:          e.rules[i].Name,
			}, nil
		}
	}
	return Decision{AllowUserRetry: true, Reason: "default"}, nil
}
