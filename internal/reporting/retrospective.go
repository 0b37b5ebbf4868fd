// Package reporting aggregates finished checkout attempts into a
// retrospective summary for after-the-fact review.
package reporting

import (
	"time"

	"github.com/yourorg/checkout-orchestrator/internal/checkout"
)

// LogEntry is one terminal checkout attempt.
type LogEntry struct {
	Timestamp     time.Time
	AttemptID     string
	BuyerID       string
	ProductType   checkout.ProductType
	TerminalState checkout.State
	Amount        int64
	Currency      string
	Method        string // payment method used, empty for free checkouts
	ReasonCode    checkout.Reason
}

// RetrospectiveReport summarizes a window of checkout activity.
type RetrospectiveReport struct {
	TotalAttempts        int
	Succeeded            int
	GatewayFailed        int
	VerifyFailed         int
	Cancelled            int
	TotalAmountCollected int64            // SUCCEEDED attempts only
	AmountByCurrency     map[string]int64 // SUCCEEDED attempts only
	ReasonBreakdown      map[checkout.Reason]int
	MethodUsage          map[string]int
	ProductBreakdown     map[checkout.ProductType]int
	DateFrom             time.Time
	DateTo               time.Time
	WindowDuration       time.Duration
}

// Reporter generates retrospective reports from attempt log entries.
type Reporter struct{}

// NewReporter creates a Reporter.
func NewReporter() *Reporter {
	return &Reporter{}
}

// Generate aggregates the entries into a report.
func (r *Reporter) Generate(entries []LogEntry) *RetrospectiveReport {
	report := &RetrospectiveReport{
		AmountByCurrency: make(map[string]int64),
		ReasonBreakdown:  make(map[checkout.Reason]int),
		MethodUsage:      make(map[string]int),
		ProductBreakdown: make(map[checkout.ProductType]int),
	}
	if len(entries) == 0 {
		return report
	}

	report.DateFrom = entries[0].Timestamp
	report.DateTo = entries[0].Timestamp

	for _, e := range entries {
		report.TotalAttempts++
		if e.Timestamp.Before(report.DateFrom) {
			report.DateFrom = e.Timestamp
		}
		if e.Timestamp.After(report.DateTo) {
			report.DateTo = e.Timestamp
		}
		if e.Method != "" {
			report.MethodUsage[e.Method]++
		}
		report.ProductBreakdown[e.ProductType]++

		switch e.TerminalState {
		case checkout.StateSucceeded:
			report.Succeeded++
			report.TotalAmountCollected += e.Amount
			if e.Currency != "" {
				report.AmountByCurrency[e.Currency] += e.Amount
			}
		case checkout.StateGatewayFailed:
			report.GatewayFailed++
			if e.ReasonCode != "" {
				report.ReasonBreakdown[e.ReasonCode]++
			}
		case checkout.StateVerifyFailed:
			report.VerifyFailed++
			if e.ReasonCode != "" {
				report.ReasonBreakdown[e.ReasonCode]++
			}
		case checkout.StateCancelled:
			report.Cancelled++
		}
	}

	report.WindowDuration = report.DateTo.Sub(report.DateFrom)
	return report
}
