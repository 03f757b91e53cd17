package txbuilder

import (
	"sync"
	"time"

	"github.com/solsniper/sniper/internal/config"
	"github.com/solsniper/sniper/internal/logging"
)

// breakerState is the circuit breaker's state. Unlike the CAS-only
// account state elsewhere in the repo, it is a plain field read and
// written only under breaker.mu.
type breakerState int32

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// breaker is a single endpoint's Closed → Open → HalfOpen → Closed
// state machine, per §4.3.7.
type breaker struct {
	mu               sync.Mutex
	state            breakerState
	consecutiveFails int
	successes        int
	openedAt         time.Time
	halfOpenInFlight bool

	cfg config.CircuitBreaker
}

func newBreaker(cfg config.CircuitBreaker) *breaker {
	return &breaker{cfg: cfg}
}

// allow reports whether a request may proceed, transitioning Open to
// HalfOpen once the timeout has elapsed. HalfOpen permits exactly one
// trial request at a time (SPEC_FULL.md's resolution of the otherwise
// unspecified half-open concurrency): a second concurrent caller while
// a trial is in flight is refused.
func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerClosed:
		return true
	case breakerOpen:
		if time.Since(b.openedAt) < b.cfg.Timeout {
			return false
		}
		b.state = breakerHalfOpen
		b.halfOpenInFlight = true
		return true
	case breakerHalfOpen:
		if b.halfOpenInFlight {
			return false
		}
		b.halfOpenInFlight = true
		return true
	default:
		return false
	}
}

// record reports the outcome of a request previously allowed by allow.
func (b *breaker) record(success bool, log *logging.Logger, endpoint string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerHalfOpen:
		b.halfOpenInFlight = false
		if success {
			b.successes++
			if b.successes >= b.cfg.SuccessThreshold {
				b.state = breakerClosed
				b.consecutiveFails = 0
				b.successes = 0
			}
		} else {
			b.state = breakerOpen
			b.openedAt = time.Now()
			b.successes = 0
			if log != nil {
				log.Warn("circuit breaker reopened after half-open trial failure", logging.Fields{Stage: "circuit_breaker"}, "endpoint", endpoint)
			}
		}
	case breakerClosed:
		if success {
			b.consecutiveFails = 0
			return
		}
		b.consecutiveFails++
		if b.consecutiveFails >= b.cfg.FailureThreshold {
			b.state = breakerOpen
			b.openedAt = time.Now()
			if log != nil {
				log.Warn("circuit breaker opened", logging.Fields{Stage: "circuit_breaker"}, "endpoint", endpoint, "consecutive_failures", b.consecutiveFails)
			}
		}
	case breakerOpen:
		// A failure recorded while still nominally Open (a race with the
		// timeout) just resets the open clock.
		if !success {
			b.openedAt = time.Now()
		}
	}
}

// breakerRegistry owns one breaker per RPC endpoint, created lazily.
type breakerRegistry struct {
	mu       sync.Mutex
	byEndpoint map[string]*breaker
	cfg      config.CircuitBreaker
	log      *logging.Logger
}

func newBreakerRegistry(cfg config.CircuitBreaker) *breakerRegistry {
	return &breakerRegistry{byEndpoint: make(map[string]*breaker), cfg: cfg, log: logging.New("txbuilder.breaker")}
}

func (r *breakerRegistry) get(endpoint string) *breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.byEndpoint[endpoint]
	if !ok {
		b = newBreaker(r.cfg)
		r.byEndpoint[endpoint] = b
	}
	return b
}

// isOpen reports whether endpoint currently refuses requests. As a side
// effect (matching allow()'s semantics) this may transition Open to
// HalfOpen; callers that get false back are expected to actually issue
// the request and call record with its outcome.
func (r *breakerRegistry) isOpen(endpoint string) bool {
	return !r.get(endpoint).allow()
}

func (r *breakerRegistry) record(endpoint string, success bool) {
	r.get(endpoint).record(success, r.log, endpoint)
}
