package noncemgr

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/solsniper/sniper/chain"
	"github.com/solsniper/sniper/internal/logging"
)

// releaseOutcome tells the release callback whether the account should
// return to Available or be quarantined into Tainted.
type releaseOutcome int

const (
	releaseOK releaseOutcome = iota
	releaseTaint
)

// NonceLease is an exclusive, time-bounded borrow of one pool-owned
// durable nonce account (spec.md §4.2.2). It contains only owned data —
// no references back into the pool beyond a plain callback closure — so
// it crosses suspension points freely and is safe to hold across a
// network round trip.
//
// Two release paths exist. Release is the explicit, preferred path.
// The finalizer installed in newLease is the drop-path safety net: it
// runs synchronously, never blocks, and never panics out, matching the
// "synchronous, non-awaiting, panic-safe Drop" requirement of §4.2.2.
type NonceLease struct {
	Pubkey     chain.PublicKey
	Authority  chain.PublicKey
	Blockhash  chain.BlockHash
	AcquiredAt int64 // unix nano, for watchdog age checks

	released int32 // atomic best-effort marker, read by finalize to decide whether to warn
	once     sync.Once
	release  func(releaseOutcome)
	log      *logging.Logger
}

func newLease(pubkey, authority chain.PublicKey, bh chain.BlockHash, acquiredAtUnixNano int64, release func(releaseOutcome), log *logging.Logger) *NonceLease {
	l := &NonceLease{
		Pubkey:     pubkey,
		Authority:  authority,
		Blockhash:  bh,
		AcquiredAt: acquiredAtUnixNano,
		release:    release,
		log:        log,
	}
	runtime.SetFinalizer(l, (*NonceLease).finalize)
	return l
}

// Release is the explicit async-capable release path. Idempotent: a
// second call (or a drop-path finalize after this) is a no-op.
func (l *NonceLease) Release() {
	l.releaseWith(releaseOK)
}

// TaintAndRelease releases the lease while flagging the underlying
// account as faulty, per §7's "tainted nonce logged at warn" behavior.
func (l *NonceLease) TaintAndRelease() {
	l.releaseWith(releaseTaint)
}

func (l *NonceLease) releaseWith(outcome releaseOutcome) {
	l.once.Do(func() {
		atomic.StoreInt32(&l.released, 1)
		runtime.SetFinalizer(l, nil)
		cb := l.release
		l.release = nil
		if cb != nil {
			cb(outcome)
		}
	})
}

// finalize is the drop-path safety net invoked by the garbage collector
// if a caller never calls Release. It must never panic and never block:
// sync.Once already makes this idempotent with an explicit Release, and
// the callback itself is wrapped so a panic inside cleanup cannot climb
// out of a finalizer goroutine.
func (l *NonceLease) finalize() {
	wasReleased := atomic.LoadInt32(&l.released) == 1
	func() {
		defer func() {
			if r := recover(); r != nil && l.log != nil {
				l.log.Error("panic in nonce lease release callback", logging.Fields{Mint: l.Pubkey.String(), Stage: "lease_finalize"}, "panic", r)
			}
		}()
		l.releaseWith(releaseOK)
	}()
	if !wasReleased && l.log != nil {
		l.log.Warn("nonce lease dropped without explicit release", logging.Fields{Mint: l.Pubkey.String(), Stage: "lease_finalize"})
	}
}
