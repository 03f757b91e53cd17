package noncemgr

import (
	"context"
	"time"

	"github.com/solsniper/sniper/internal/logging"
)

// runWatchdog periodically scans leased accounts and taints any account
// whose lease has outlived the pool's LeaseTTL plus the configured grace
// period (§4.2.2), so it is never lent again. The scan does not return
// the lease's semaphore permit: that happens only when the lease itself
// is released or finalized.
func (p *Pool) runWatchdog(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.WatchdogScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.watchdogScan()
		}
	}
}

func (p *Pool) watchdogScan() {
	ceiling := p.cfg.LeaseTTL + p.cfg.WatchdogGrace
	now := time.Now()
	for _, a := range p.snapshotAccounts() {
		if a.getState() != StateLeased {
			continue
		}
		age := now.Sub(a.lastUsed())
		if age <= ceiling {
			continue
		}
		if a.cas(StateLeased, StateTainted) {
			p.metrics.tainted.add(1)
			p.metrics.watchdogRecoveries.add(1)
			p.log.Warn("watchdog recovered a leaked nonce lease", logging.Fields{Mint: a.pubkey.String(), Stage: "watchdog"}, "age", age.String())
		}
	}
}
