package qprep

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

/*
CircuitState represents the state of the circuit breaker guarding the
external engine.
*/
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // Normal operation state
	CircuitOpen                         // Engine failing, calls rejected
	CircuitHalfOpen                     // Probationary state, limited calls
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	}
	return "unknown"
}

/*
CircuitBreaker stops calls to the synthesis engine after repeated engine
failures and lets up to halfOpenMax probe calls through once resetTimeout
has passed. Only engine failures are recorded; a rejected input vector says
nothing about engine health.

The breaker also implements Regulator so it can be registered on a pool.
*/
type CircuitBreaker struct {
	mu               sync.Mutex
	maxFailures      int           // Failures before opening the circuit
	resetTimeout     time.Duration // Wait before probing an open circuit
	halfOpenMax      int           // Probes admitted, and successes needed to close again
	failureCount     int
	state            CircuitState
	openTime         time.Time
	halfOpenAdmitted int
	halfOpenSuccess  int
	metrics          *Metrics
}

func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration, halfOpenMax int) *CircuitBreaker {
	if maxFailures < 1 {
		maxFailures = 1
	}
	if halfOpenMax < 1 {
		halfOpenMax = 1
	}
	return &CircuitBreaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		halfOpenMax:  halfOpenMax,
		state:        CircuitClosed,
	}
}

func (cb *CircuitBreaker) Observe(metrics *Metrics) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.metrics = metrics
}

// Limit reports whether the circuit is open. It does not take a half-open probe.
func (cb *CircuitBreaker) Limit() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state == CircuitOpen && time.Since(cb.openTime) <= cb.resetTimeout
}

// Renormalize moves an expired open circuit to half-open.
func (cb *CircuitBreaker) Renormalize() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen && time.Since(cb.openTime) > cb.resetTimeout {
		cb.halfOpen()
		log.Debug("circuit breaker renormalized", "state", cb.state)
	}
}

func (cb *CircuitBreaker) halfOpen() {
	cb.state = CircuitHalfOpen
	cb.halfOpenAdmitted = 0
	cb.halfOpenSuccess = 0
}

// RecordFailure records an engine failure and opens the circuit if needed.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount++

	switch cb.state {
	case CircuitHalfOpen:
		// Any failed probe reopens immediately.
		cb.state = CircuitOpen
		cb.openTime = time.Now()
		log.Warn("circuit breaker reopened from half-open state")
	case CircuitClosed:
		if cb.failureCount >= cb.maxFailures {
			cb.state = CircuitOpen
			cb.openTime = time.Now()
			log.Warn("circuit breaker opened", "failures", cb.failureCount)
		}
	}
}

// RecordSuccess records a successful engine call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitHalfOpen:
		cb.halfOpenSuccess++
		if cb.halfOpenSuccess >= cb.halfOpenMax {
			cb.state = CircuitClosed
			cb.failureCount = 0
			log.Info("circuit breaker closed from half-open")
		}
	case CircuitClosed:
		cb.failureCount = 0
	}
}

// Allow reports whether an engine call may proceed right now.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if time.Since(cb.openTime) > cb.resetTimeout {
			cb.halfOpen()
			cb.halfOpenAdmitted++
			return true
		}
		return false
	case CircuitHalfOpen:
		if cb.halfOpenAdmitted < cb.halfOpenMax {
			cb.halfOpenAdmitted++
			return true
		}
		return false
	default:
		return false
	}
}

/*
Abandon hands back a half-open probe whose call ended without telling
anything about the engine, such as a cancelled call or a rejected input.
*/
func (cb *CircuitBreaker) Abandon() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitHalfOpen && cb.halfOpenAdmitted > cb.halfOpenSuccess {
		cb.halfOpenAdmitted--
	}
}

func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
