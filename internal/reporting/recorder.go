package reporting

import (
	"sync"
	"time"
)

// Recorder accumulates terminal attempt entries in memory and feeds them
// to the Reporter on demand. Safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	entries []LogEntry
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Record appends one terminal attempt. A zero timestamp is stamped with
// the current time.
func (r *Recorder) Record(entry LogEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	r.mu.Lock()
	r.entries = append(r.entries, entry)
	r.mu.Unlock()
}

// Entries returns a copy of everything recorded so far.
func (r *Recorder) Entries() []LogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]LogEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Report aggregates the recorded entries into a retrospective.
func (r *Recorder) Report() *RetrospectiveReport {
	return NewReporter().Generate(r.Entries())
}
