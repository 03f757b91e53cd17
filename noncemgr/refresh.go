package noncemgr

import (
	"context"
	"time"

	"github.com/solsniper/sniper/chain"
	"github.com/solsniper/sniper/internal/logging"
)

const (
	highLoadTPSThreshold  = 2000.0
	highLoadLagThreshold  = 4 * time.Millisecond
	expandAvailabilityMin = 0.2
	failureProbRefreshGate = 0.4
)

// runRefreshLoop is the proactive refresh loop of §4.2.3: adaptive
// interval, predictive-model-gated refresh, pool expansion, and
// eviction, all in one cycle.
func (p *Pool) runRefreshLoop(ctx context.Context) {
	interval := p.cfg.RefreshIntervalBase
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		cycleStart := time.Now()
		p.refreshCycle(ctx)

		interval = p.nextInterval(time.Since(cycleStart))
		timer.Reset(interval)
	}
}

// nextInterval implements the adaptive cadence: 2s under high load (TPS
// > 2000 or lag > 4ms), 8s under low load, 4s baseline otherwise.
func (p *Pool) nextInterval(lastCycleLatency time.Duration) time.Duration {
	tps := p.model.tpsMean
	switch {
	case tps > highLoadTPSThreshold || lastCycleLatency > highLoadLagThreshold:
		return p.cfg.RefreshIntervalHigh
	case tps > 0 && tps < highLoadTPSThreshold/4:
		return p.cfg.RefreshIntervalLow
	default:
		return p.cfg.RefreshIntervalBase
	}
}

func (p *Pool) refreshCycle(ctx context.Context) {
	currentSlot, err := p.rpc.GetSlot(ctx)
	if err == nil {
		p.currentSlot.Store(uint64(currentSlot))
	}

	validWindow := uint64(150) // approx Solana's ~150-slot nonce validity window
	for _, a := range p.snapshotAccounts() {
		if a.getState() == StateTainted || a.getState() == StateLeased {
			// Never refresh a Leased account (§9 Open Questions); Tainted
			// accounts are handled by eviction, not refresh.
			continue
		}

		sample := predictiveSample{
			currentSlot:       uint64(currentSlot),
			lastRefreshedSlot: a.lastRefreshedSlot.Load(),
			validWindow:       validWindow,
			refreshLatencyMs:  p.model.latencyMean,
			networkTPS:        p.model.tpsMean,
		}
		prob, ok := p.model.failureProbability(sample)
		slotAge := uint64(0)
		if uint64(currentSlot) > a.lastRefreshedSlot.Load() {
			slotAge = uint64(currentSlot) - a.lastRefreshedSlot.Load()
		}
		needsRefresh := (ok && prob > failureProbRefreshGate) || slotAge > validWindow*3/4
		if !needsRefresh {
			continue
		}
		p.refreshOne(ctx, a)
	}

	if p.shouldExpand() {
		p.log.Info("nonce pool below expansion threshold", logging.Fields{Stage: "refresh"})
	}

	evicted := p.EvictUnusedAndTainted(time.Duration(p.cfg.UnusedEvictionThresholdSecs) * time.Second)
	if evicted > 0 {
		p.log.Info("evicted stale nonce accounts", logging.Fields{Stage: "refresh"}, "count", evicted)
	}
}

// shouldExpand reports whether available/total has fallen below the
// configured threshold (§4.2.3 step 4). Minting the new account itself
// is a collaborator concern; this only signals the need.
func (p *Pool) shouldExpand() bool {
	stats := p.Stats()
	if stats.Total == 0 {
		return false
	}
	return float64(stats.Available)/float64(stats.Total) < p.cfg.ExpandOnAvailabilityBelow
}

// refreshOne rebuilds one account's on-chain nonce value. Concurrent
// refresh requests for the same account collapse into a single
// in-flight operation via singleflight, per §4.2.3's idempotence
// requirement.
func (p *Pool) refreshOne(ctx context.Context, a *account) {
	key := a.pubkey.String()
	_, _, _ = p.sf.Do(key, func() (interface{}, error) {
		if !a.refreshing.CompareAndSwap(false, true) {
			return nil, nil
		}
		defer a.refreshing.Store(false)
		if !a.cas(StateAvailable, StateRefreshing) {
			return nil, nil
		}
		defer func() {
			a.cas(StateRefreshing, StateAvailable)
		}()

		callStart := time.Now()
		bh, err := p.rpc.GetLatestBlockhash(ctx)
		latencyMs := float64(time.Since(callStart).Milliseconds())
		p.model.observe(latencyMs, p.model.tpsMean)
		if err != nil {
			n := a.consecutiveFailures.Add(1)
			if int(n) >= p.cfg.ConsecutiveFailureTaintThreshold {
				a.cas(StateRefreshing, StateTainted)
				p.metrics.tainted.add(1)
				p.log.Warn("nonce account tainted after repeated refresh failures", logging.Fields{Mint: a.pubkey.String(), Stage: "refresh"}, "consecutive_failures", n)
			}
			return nil, err
		}

		a.setBlockhash(bh)
		a.lastRefreshedSlot.Store(uint64(bh.Slot))
		a.consecutiveFailures.Store(0)

		proof := p.proofs.Generate(chain.ProofInputs{
			Slot:          bh.Slot,
			TPS:           p.model.tpsMean,
			LatencyMillis: p.model.latencyMean,
		})
		a.proof.Store(&proof)

		return nil, nil
	})
}

// RefreshOnDemand is invoked after a lease is used, updating
// last_valid_slot from the result of the transaction's
// advance_nonce_account (§4.2.3's on-demand path). Unlike the proactive
// path, the account may be Leased at the time of the call.
func (p *Pool) RefreshOnDemand(pubkey chain.PublicKey, newBlockhash chain.BlockHash) {
	for _, a := range p.snapshotAccounts() {
		if a.pubkey != pubkey {
			continue
		}
		a.setBlockhash(newBlockhash)
		a.lastRefreshedSlot.Store(uint64(newBlockhash.Slot))
		return
	}
}
