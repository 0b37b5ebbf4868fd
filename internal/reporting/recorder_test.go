package reporting

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/checkout-orchestrator/internal/checkout"
)

func TestRecorder_StampsZeroTimestamps(t *testing.T) {
	r := NewRecorder()
	r.Record(LogEntry{AttemptID: "a1", TerminalState: checkout.StateSucceeded})

	entries := r.Entries()
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Timestamp.IsZero())
}

func TestRecorder_Report(t *testing.T) {
	r := NewRecorder()
	r.Record(LogEntry{
		Timestamp: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), AttemptID: "a1",
		ProductType: checkout.ProductVideo, TerminalState: checkout.StateSucceeded,
		Amount: 2000, Currency: "usd", Method: "card",
	})
	r.Record(LogEntry{
		Timestamp: time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC), AttemptID: "a2",
		ProductType: checkout.ProductClass, TerminalState: checkout.StateGatewayFailed,
		Method: "card", ReasonCode: checkout.ReasonGatewayDeclined,
	})

	report := r.Report()
	assert.Equal(t, 2, report.TotalAttempts)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 1, report.GatewayFailed)
	assert.Equal(t, int64(2000), report.AmountByCurrency["usd"])
	assert.Equal(t, 1, report.ReasonBreakdown[checkout.ReasonGatewayDeclined])
}

func TestRecorder_ConcurrentRecords(t *testing.T) {
	r := NewRecorder()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Record(LogEntry{TerminalState: checkout.StateSucceeded, Amount: 100, Currency: "usd"})
		}()
	}
	wg.Wait()

	assert.Len(t, r.Entries(), 16)
	assert.Equal(t, int64(1600), r.Report().TotalAmountCollected)
}
