// Package circuitbreaker tracks Commerce API endpoint health and fails
// fast when an endpoint is repeatedly erroring. Only the pre-money calls
// (order and session creation) are ever guarded by it; verification is
// exempt because money may already have moved by then.
package circuitbreaker

import (
	"sync"
	"time"
)

// State of one endpoint's circuit.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

const (
	defaultFailureThreshold         = 5
	defaultOpenStateTimeout         = 30 * time.Second
	defaultHalfOpenSuccessThreshold = 2
)

type endpointState struct {
	state                State
	consecutiveFailures  int
	consecutiveSuccesses int
	lastFailureTime      time.Time
	openUntil            time.Time
}

// Settings tunes the breaker. Zero values take the defaults.
type Settings struct {
	FailureThreshold         int
	OpenStateTimeout         time.Duration
	HalfOpenSuccessThreshold int
}

// CircuitBreaker is a basic in-memory breaker keyed by endpoint name.
type CircuitBreaker struct {
	mu                       sync.RWMutex
	endpoints                map[string]*endpointState
	failureThreshold         int
	openStateTimeout         time.Duration
	halfOpenSuccessThreshold int
}

// New creates a CircuitBreaker from the given settings.
func New(s Settings) *CircuitBreaker {
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = defaultFailureThreshold
	}
	if s.OpenStateTimeout <= 0 {
		s.OpenStateTimeout = defaultOpenStateTimeout
	}
	if s.HalfOpenSuccessThreshold <= 0 {
		s.HalfOpenSuccessThreshold = defaultHalfOpenSuccessThreshold
	}
	return &CircuitBreaker{
		endpoints:                make(map[string]*endpointState),
		failureThreshold:         s.FailureThreshold,
		openStateTimeout:         s.OpenStateTimeout,
		halfOpenSuccessThreshold: s.HalfOpenSuccessThreshold,
	}
}

// caller must hold the write lock.
func (cb *CircuitBreaker) getEndpointState(endpoint string) *endpointState {
	es, ok := cb.endpoints[endpoint]
	if !ok {
		es = &endpointState{state: Closed}
		cb.endpoints[endpoint] = es
	}
	return es
}

// Allow reports whether a call to the endpoint may proceed. An Open
// circuit whose timeout has elapsed transitions to HalfOpen here.
func (cb *CircuitBreaker) Allow(endpoint string) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	es := cb.getEndpointState(endpoint)
	switch es.state {
	case Closed:
		return true
	case Open:
		if time.Now().After(es.openUntil) {
			es.state = HalfOpen
			es.consecutiveSuccesses = 0
			return true
		}
		return false
	case HalfOpen:
		return true
	default:
		es.state = Closed
		return true
	}
}

// RecordFailure records a failed call against the endpoint.
func (cb *CircuitBreaker) RecordFailure(endpoint string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	es := cb.getEndpointState(endpoint)
	es.lastFailureTime = time.Now()

	switch es.state {
	case Closed:
		es.consecutiveFailures++
		if es.consecutiveFailures >= cb.failureThreshold {
			es.state = Open
			es.openUntil = time.Now().Add(cb.openStateTimeout)
		}
	case HalfOpen:
		// A failure while probing re-opens the circuit immediately.
		es.state = Open
		es.openUntil = time.Now().Add(cb.openStateTimeout)
		es.consecutiveFailures = 0
		es.consecutiveSuccesses = 0
	case Open:
	}
}

// RecordSuccess records a successful call against the endpoint.
func (cb *CircuitBreaker) RecordSuccess(endpoint string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	es := cb.getEndpointState(endpoint)
	switch es.state {
	case Closed:
		es.consecutiveFailures = 0
	case HalfOpen:
		es.consecutiveSuccesses++
		if es.consecutiveSuccesses >= cb.halfOpenSuccessThreshold {
			es.state = Closed
			es.consecutiveFailures = 0
			es.consecutiveSuccesses = 0
		}
	case Open:
	}
}

// GetState returns the endpoint's current circuit state without causing
// any transition; for tests and monitoring.
func (cb *CircuitBreaker) GetState(endpoint string) State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	es, ok := cb.endpoints[endpoint]
	if !ok {
		return Closed
	}
	return es.state
}
