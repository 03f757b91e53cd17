// Package noncemgr implements the Durable-Nonce Manager (spec.md §4.2): a
// lock-guarded pool of durable nonce accounts lent out as RAII leases,
// kept fresh by proactive refresh, quarantined on fault, and protected
// from double-lending by a CAS-only acquisition protocol.
package noncemgr

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/solsniper/sniper/chain"
	"github.com/solsniper/sniper/collab"
	"github.com/solsniper/sniper/internal/config"
	"github.com/solsniper/sniper/internal/logging"
	"github.com/solsniper/sniper/internal/telemetry"
)

// Pool owns a set of durable nonce accounts and lends them out as
// leases. It is the sole owner of its accounts' mutable state; callers
// never mutate an account directly.
//
// Concurrency model, grounded on core/txpool/txpool.go's atomics-plus-
// mutex hot pool and coreth's peer/network.go semaphore-gated request
// cap: a counting semaphore bounds how many leases (plus in-progress
// acquisition scans) may be outstanding at once — each lease holds its
// permit until it is released or finalized — a RWMutex guards only the
// slice of account pointers (membership, not their internal state,
// which stays behind per-account atomics), and every state transition
// goes through account.cas.
type Pool struct {
	cfg  config.Nonce
	rpc  collab.RPCPool
	log  *logging.Logger
	reg  *telemetry.Registry

	mu       sync.RWMutex
	accounts []*account

	sem *semaphore.Weighted

	model   *predictiveModel
	proofs  *proofGenerator
	sf      singleflight.Group

	currentSlot atomic.Uint64

	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics *poolMetrics
	gauges  *poolGauges
}

// NewPool constructs a pool with no accounts; seed it via AddAccountAsync
// or SeedAccounts before starting the background loops.
func NewPool(cfg config.Nonce, rpc collab.RPCPool, reg *telemetry.Registry) *Pool {
	p := &Pool{
		cfg:     cfg,
		rpc:     rpc,
		log:     logging.New("noncemgr"),
		reg:     reg,
		sem:     semaphore.NewWeighted(int64(maxInt(cfg.PoolSize, 0))),
		model:   newPredictiveModel(),
		proofs:  newProofGenerator(),
		metrics: newPoolMetrics(),
	}
	if reg != nil {
		p.gauges = registerPoolTelemetry(reg)
	}
	return p
}

func maxInt(v, floor int) int {
	if v < floor {
		return floor
	}
	return v
}

// SeedAccounts registers pre-existing on-chain nonce accounts with the
// pool at construction time (e.g. loaded from persisted state, §6).
func (p *Pool) SeedAccounts(accs []chain.NonceAccount) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, a := range accs {
		p.accounts = append(p.accounts, newAccount(a.Pubkey, a.Authority, a.CurrentNonceBlockhash, a.LastValidSlot))
	}
}

// Start launches the proactive refresh loop and the lease-leak watchdog.
// Both exit promptly on ctx cancellation, per §4.2.7.
func (p *Pool) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.wg.Add(3)
	go func() {
		defer p.wg.Done()
		p.runRefreshLoop(ctx)
	}()
	go func() {
		defer p.wg.Done()
		p.runWatchdog(ctx)
	}()
	go func() {
		defer p.wg.Done()
		p.runTelemetryLoop(ctx)
	}()
}

func (p *Pool) runTelemetryLoop(ctx context.Context) {
	if p.gauges == nil {
		return
	}
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.gauges.publish(p.Stats())
		}
	}
}

// Stop cancels all background loops and waits for them to exit, bounded
// to a short timeout so shutdown is never blocked indefinitely (§4.2.7).
func (p *Pool) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
	}
}

// Acquire implements §4.2.1's race-free acquisition protocol: a permit
// gates overall concurrency, then a CAS-only scan binds exactly one
// account. Returns ErrPoolExhausted immediately if the pool holds no
// accounts, and ErrAcquireTimeout if the context deadline (or the pool's
// configured acquire timeout, whichever is sooner) elapses before a
// permit is obtained, or if the scan after obtaining one finds no
// account that validates.
func (p *Pool) Acquire(ctx context.Context, ttl time.Duration) (*NonceLease, error) {
	start := time.Now()
	defer func() { p.gauges.publishAcquireLatency(float64(time.Since(start).Milliseconds())) }()

	if len(p.snapshotAccounts()) == 0 {
		p.metrics.poolExhausted.add(1)
		return nil, ErrPoolExhausted
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.AcquireTimeout)
	defer cancel()

	if err := p.sem.Acquire(ctx, 1); err != nil {
		p.metrics.acquireTimeouts.add(1)
		return nil, ErrAcquireTimeout
	}

	lease, ok := p.scanAndBind(ttl)
	if ok {
		return lease, nil
	}
	p.sem.Release(1)
	if len(p.snapshotAccounts()) == 0 {
		p.metrics.poolExhausted.add(1)
		return nil, ErrPoolExhausted
	}
	p.metrics.acquireTimeouts.add(1)
	return nil, ErrAcquireTimeout
}

// TryAcquire is the non-blocking variant: it takes the permit only if
// immediately available and never waits on the scan beyond one pass.
func (p *Pool) TryAcquire(ttl time.Duration) (*NonceLease, bool) {
	if !p.sem.TryAcquire(1) {
		return nil, false
	}
	lease, ok := p.scanAndBind(ttl)
	if !ok {
		p.sem.Release(1)
		return nil, false
	}
	return lease, true
}

// scanAndBind is the single critical-section-per-candidate scan from
// §4.2.1: for each Available account, CAS to Leased; validate; on
// validation failure CAS back out and try the next candidate. No
// read-then-write ever occurs outside of a CAS.
func (p *Pool) scanAndBind(ttl time.Duration) (*NonceLease, bool) {
	for _, a := range p.snapshotAccounts() {
		if !a.cas(StateAvailable, StateLeased) {
			continue
		}

		if !p.validateForLease(a) {
			continue
		}

		a.touchUsed()
		a.consecutiveFailures.Store(0)
		p.metrics.leased.add(1)
		l := newLease(a.pubkey, a.authority, a.currentBlockhash(), time.Now().UnixNano(), p.releaseCallback(a), p.log)
		return l, true
	}
	return nil, false
}

// validateForLease re-checks the account bound by scanAndBind's CAS, per
// §4.2.1 step 3: not expired against the pool's last-known slot, and
// proof confidence (if present) at least 0.5. On failure it CASes the
// account onward to Tainted rather than back to Available, since a
// validation failure here means the account is genuinely unfit to lend.
func (p *Pool) validateForLease(a *account) bool {
	slot := chain.SlotNumber(p.currentSlot.Load())
	if slot != 0 && a.isExpired(slot, 0) {
		a.cas(StateLeased, StateTainted)
		p.metrics.tainted.add(1)
		return false
	}
	if proof := a.proof.Load(); proof != nil && proof.Confidence < 0.5 {
		a.cas(StateLeased, StateTainted)
		p.metrics.tainted.add(1)
		return false
	}
	return true
}

// releaseCallback is invoked by the lease's explicit Release or its
// finalizer safety net. It always returns the permit and transitions
// the account back to Available (or Tainted on a flagged failure).
func (p *Pool) releaseCallback(a *account) func(releaseOutcome) {
	return func(outcome releaseOutcome) {
		defer p.sem.Release(1)
		switch outcome {
		case releaseTaint:
			a.cas(StateLeased, StateTainted)
			p.metrics.tainted.add(1)
			p.log.Warn("nonce account tainted on release", logging.Fields{Mint: a.pubkey.String(), Stage: "release"})
		default:
			a.cas(StateLeased, StateAvailable)
		}
		p.metrics.released.add(1)
	}
}

func (p *Pool) snapshotAccounts() []*account {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*account, len(p.accounts))
	copy(out, p.accounts)
	return out
}

// AddAccountAsync registers a newly minted nonce account with the pool
// and grows the semaphore's total permits to match (§4.2 public
// contract). The minting itself is a collaborator concern (§6); this
// method only takes the already-minted account data.
func (p *Pool) AddAccountAsync(acc chain.NonceAccount) {
	p.mu.Lock()
	p.accounts = append(p.accounts, newAccount(acc.Pubkey, acc.Authority, acc.CurrentNonceBlockhash, acc.LastValidSlot))
	p.mu.Unlock()
	// semaphore.Weighted has no resize primitive; since this only ever
	// grows total capacity (pool expansion, §4.2.3 step 4), releasing an
	// extra permit with no matching prior Acquire has the same effect as
	// widening the semaphore's max weight.
	p.sem.Release(1)
	p.metrics.total.add(1)
}

// Taint forcibly marks an account Tainted, e.g. from an authority
// rotation workflow (§4.2.4). A no-op if the account is not found or is
// currently Leased (the lease's own release path owns that transition).
func (p *Pool) Taint(pubkey chain.PublicKey, reason string) {
	for _, a := range p.snapshotAccounts() {
		if a.pubkey != pubkey {
			continue
		}
		if a.cas(StateAvailable, StateTainted) || a.cas(StateRefreshing, StateTainted) {
			p.metrics.tainted.add(1)
			p.log.Warn("nonce account tainted", logging.Fields{Mint: pubkey.String(), Stage: "taint"}, "reason", reason)
		}
		return
	}
}

// EvictUnusedAndTainted removes Tainted accounts and Available accounts
// whose last use predates threshold (§4.2's public contract, §4.2.3 step
// 5). Leased and Refreshing accounts are never evicted.
func (p *Pool) EvictUnusedAndTainted(threshold time.Duration) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	kept := p.accounts[:0]
	evicted := 0
	now := time.Now()
	for _, a := range p.accounts {
		state := a.getState()
		stale := now.Sub(a.lastUsed()) > threshold
		if state == StateTainted || (state == StateAvailable && stale) {
			evicted++
			continue
		}
		kept = append(kept, a)
	}
	p.accounts = kept
	return evicted
}

// Stats reports a breakdown by state plus totals, per §4.2's public
// contract and SPEC_FULL.md's supplemented Stats() detail.
type Stats struct {
	Total       int
	Available   int
	Leased      int
	Refreshing  int
	Tainted     int
}

func (p *Pool) Stats() Stats {
	var s Stats
	for _, a := range p.snapshotAccounts() {
		s.Total++
		switch a.getState() {
		case StateAvailable:
			s.Available++
		case StateLeased:
			s.Leased++
		case StateRefreshing:
			s.Refreshing++
		case StateTainted:
			s.Tainted++
		}
	}
	return s
}

