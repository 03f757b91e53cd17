package noncemgr

import "errors"

// The closed error-kind set for the nonce manager, per spec.md §7. These
// are sentinel values rather than a type hierarchy; callers compare with
// errors.Is.
var (
	ErrPoolExhausted = errors.New("noncemgr: no available account and permit pool exhausted")
	ErrAcquireTimeout = errors.New("noncemgr: acquire timed out waiting for an available account")
	ErrNonceExpired   = errors.New("noncemgr: account's nonce has lapsed past its valid window")
	ErrNonceTainted   = errors.New("noncemgr: account is tainted and not lendable")
	ErrPoolClosed     = errors.New("noncemgr: pool has been shut down")
)
