package txbuilder

import (
	"context"
	"time"

	"github.com/solsniper/sniper/chain"
	"github.com/solsniper/sniper/internal/logging"
	"github.com/solsniper/sniper/noncemgr"
)

// buildContext is the resolved routing decision produced by §4.3.1
// before any instruction is assembled: either a leased durable nonce
// account or a quorum-fetched recent blockhash, never both.
type buildContext struct {
	blockhash      chain.BlockHash
	usesNonce      bool
	noncePubkey    chain.PublicKey
	nonceAuthority chain.PublicKey
	lease          *noncemgr.NonceLease
}

// AllowNonceFallback controls whether a failed nonce acquisition for a
// critical-priority operation is allowed to fall back to a blockhash
// transaction instead of failing the build outright. spec.md §4.3.1
// leaves this as a policy choice; DESIGN.md resolves it as an
// explicit, caller-supplied flag rather than a hardcoded default,
// since the right answer differs between a utility build path (fall
// back, stay alive) and a latency-critical one (fail fast, the nonce
// IS the point).
type ExecutionPolicy struct {
	AllowNonceFallback bool
	NonceLeaseTTL      time.Duration
}

// prepareContext resolves routing for one build (§4.3.1): when
// enforce_nonce is set, any non-critical priority is first promoted to
// critical,
// then, if the resulting priority requires a nonce, a lease is taken
// with a single non-blocking try_acquire — never a TOCTTOU availability
// pre-check, since the pool's own semaphore is the only source of
// truth about available permits. On acquisition failure the build falls
// through to the blockhash path only if policy permits it.
func prepareContext(ctx context.Context, priority chain.OperationPriority, enforceNonce bool, pool *noncemgr.Pool, quorum *blockhashQuorum, policy ExecutionPolicy, log *logging.Logger) (buildContext, error) {
	effective := priority
	if enforceNonce && effective != chain.OperationCritical {
		effective = chain.OperationCritical
	}

	if effective.RequiresNonce() {
		var lease *noncemgr.NonceLease
		ok := false
		if pool != nil {
			lease, ok = pool.TryAcquire(policy.NonceLeaseTTL)
		}
		if ok {
			return buildContext{
				blockhash:      lease.Blockhash,
				usesNonce:      true,
				noncePubkey:    lease.Pubkey,
				nonceAuthority: lease.Authority,
				lease:          lease,
			}, nil
		}

		if !policy.AllowNonceFallback {
			return buildContext{}, ErrNonceAcquisition
		}
		log.Warn("nonce acquisition failed for critical build, falling back to blockhash", logging.Fields{Stage: "build_context"})
	}

	bh, err := quorum.fetch(ctx)
	if err != nil {
		return buildContext{}, err
	}
	return buildContext{blockhash: bh, usesNonce: false}, nil
}
