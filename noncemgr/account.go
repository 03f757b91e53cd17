// Package noncemgr implements the Durable-Nonce Manager (spec.md §4.2): a
// lock-guarded pool of durable nonce accounts lent out as RAII leases,
// kept fresh by proactive refresh, quarantined on fault, and protected
// from double-lending by a CAS-only acquisition protocol.
package noncemgr

import (
	"sync/atomic"
	"time"

	"github.com/solsniper/sniper/chain"
)

// AccountState is the CAS-only state of a pool-owned nonce account
// (spec.md §4.2.7: "Account state transitions go through CAS only").
type AccountState int32

const (
	StateAvailable AccountState = iota
	StateLeased
	StateRefreshing
	StateTainted
)

func (s AccountState) String() string {
	switch s {
	case StateAvailable:
		return "available"
	case StateLeased:
		return "leased"
	case StateRefreshing:
		return "refreshing"
	case StateTainted:
		return "tainted"
	default:
		return "unknown"
	}
}

// account is the pool's internal representation of a NonceAccount. All
// mutable scalar state is behind atomics so acquisition and refresh never
// hold a lock across a suspension point (§4.2.7).
type account struct {
	pubkey    chain.PublicKey
	authority chain.PublicKey

	state atomic.Int32

	// blockhash is protected by a short-lived mutex-free swap: it is
	// only ever written by the single goroutine currently holding the
	// account in Leased or Refreshing state (enforced by the CAS into
	// those states), so a plain atomic.Pointer swap is race-free without
	// a mutex.
	blockhash atomic.Pointer[chain.BlockHash]

	lastValidSlot      atomic.Uint64
	lastUsedUnixNano    atomic.Int64
	lastRefreshedSlot  atomic.Uint64
	consecutiveFailures atomic.Int32
	refreshing         atomic.Bool // CAS-guarded single-flight flag, belt-and-suspenders over the singleflight.Group

	proof atomic.Pointer[chain.ZkProofData]
}

func newAccount(pubkey, authority chain.PublicKey, bh chain.BlockHash, lastValidSlot chain.SlotNumber) *account {
	a := &account{pubkey: pubkey, authority: authority}
	a.state.Store(int32(StateAvailable))
	a.blockhash.Store(&bh)
	a.lastValidSlot.Store(uint64(lastValidSlot))
	a.lastUsedUnixNano.Store(time.Now().UnixNano())
	return a
}

func (a *account) getState() AccountState {
	return AccountState(a.state.Load())
}

// cas is the single entry point for state transitions.
func (a *account) cas(from, to AccountState) bool {
	return a.state.CompareAndSwap(int32(from), int32(to))
}

func (a *account) currentBlockhash() chain.BlockHash {
	p := a.blockhash.Load()
	if p == nil {
		return chain.BlockHash{}
	}
	return *p
}

func (a *account) setBlockhash(bh chain.BlockHash) {
	a.blockhash.Store(&bh)
}

func (a *account) lastUsed() time.Time {
	return time.Unix(0, a.lastUsedUnixNano.Load())
}

func (a *account) touchUsed() {
	a.lastUsedUnixNano.Store(time.Now().UnixNano())
}

func (a *account) snapshot() chain.NonceAccount {
	var proof *chain.ZkProofData
	if p := a.proof.Load(); p != nil {
		cp := *p
		proof = &cp
	}
	return chain.NonceAccount{
		Pubkey:                a.pubkey,
		Authority:             a.authority,
		CurrentNonceBlockhash: a.currentBlockhash(),
		LastValidSlot:         chain.SlotNumber(a.lastValidSlot.Load()),
		State:                 chain.AccountState(a.getState()),
		LastUsed:              a.lastUsed(),
		LastRefreshedSlot:     chain.SlotNumber(a.lastRefreshedSlot.Load()),
		ConsecutiveFailures:   uint32(a.consecutiveFailures.Load()),
		Proof:                 proof,
	}
}

// isExpired reports whether currentSlot has passed lastValidSlot plus the
// given safety margin (§4.2.1 step 3).
func (a *account) isExpired(currentSlot chain.SlotNumber, margin uint64) bool {
	return uint64(currentSlot) > a.lastValidSlot.Load()+margin
}
