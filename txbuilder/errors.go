// Package txbuilder implements the Transaction Builder (spec.md §4.3):
// execution-context preparation (nonce-vs-blockhash routing), invariant
// instruction ordering, blockhash quorum, compute-unit/priority-fee
// optimization, signing, and the RPC rate-limit/circuit-breaker layer
// guarding every outbound call.
package txbuilder

import (
	"errors"
	"strings"
)

// The remaining closed error-kind set from spec.md §7 not already
// covered by noncemgr's sentinels.
var (
	ErrBlockhashFetch   = errors.New("txbuilder: blockhash quorum failed and no fresh cache entry")
	ErrRpcTransient     = errors.New("txbuilder: transient rpc error")
	ErrRpcPermanent     = errors.New("txbuilder: permanent rpc error")
	ErrRateLimited      = errors.New("txbuilder: rate limiter denied the request")
	ErrCircuitOpen      = errors.New("txbuilder: circuit breaker open for this endpoint")
	ErrCancelled        = errors.New("txbuilder: build cancelled")
	ErrNonceAcquisition = errors.New("txbuilder: nonce acquisition failed and fallback to blockhash is not permitted")
)

// SimulationError wraps a simulation failure with the fatal/advisory
// split of §4.3.4: fatal errors abort the build, advisory errors are
// logged and the build proceeds.
type SimulationError struct {
	Reason string
	Fatal  bool
}

func (e *SimulationError) Error() string { return e.Reason }

// fatalSimulationPatterns are substrings that mark a simulation failure
// as fatal (abort the build) rather than advisory (log and proceed),
// per §4.3.4.
var fatalSimulationPatterns = []string{
	"ComputeBudgetExceeded",
	"InsufficientFunds",
	"InstructionError",
}

func classifySimulationError(reason string) *SimulationError {
	for _, pat := range fatalSimulationPatterns {
		if strings.Contains(reason, pat) {
			return &SimulationError{Reason: reason, Fatal: true}
		}
	}
	return &SimulationError{Reason: reason, Fatal: false}
}
