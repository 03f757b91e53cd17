package txbuilder

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// isRetryable classifies an RPC/send error into the retryable/fatal
// split of §7: network hiccups, timeouts, and rate limiting are
// retryable; signature and balance errors are not.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRpcTransient) || errors.Is(err, ErrRateLimited) || errors.Is(err, ErrCircuitOpen) {
		return true
	}
	if errors.Is(err, ErrRpcPermanent) || errors.Is(err, ErrCancelled) || errors.Is(err, ErrNonceAcquisition) {
		return false
	}

	var simErr *SimulationError
	if errors.As(err, &simErr) {
		return !simErr.Fatal
	}

	msg := err.Error()
	for _, pat := range []string{"timeout", "connection reset", "EOF", "429", "502", "503", "504"} {
		if strings.Contains(msg, pat) {
			return true
		}
	}
	for _, pat := range []string{"invalid signature", "insufficient funds", "insufficient lamports"} {
		if strings.Contains(strings.ToLower(msg), pat) {
			return false
		}
	}
	return false
}

// retryRPC runs op with exponential backoff and jitter via
// cenkalti/backoff/v5, the same generic Retry[T] the sniffer's feed
// reconnect loop uses, retrying only while isRetryable holds and the
// context remains live.
func retryRPC[T any](ctx context.Context, maxElapsed time.Duration, op func(ctx context.Context) (T, error)) (T, error) {
	return backoff.Retry(ctx, func() (T, error) {
		result, err := op(ctx)
		if err != nil && isRetryable(err) {
			return result, err
		}
		if err != nil {
			return result, backoff.Permanent(err)
		}
		return result, nil
	}, backoff.WithMaxElapsedTime(maxElapsed))
}
