package txbuilder

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/solsniper/sniper/chain"
	"github.com/solsniper/sniper/collab"
	"github.com/solsniper/sniper/internal/config"
	"github.com/solsniper/sniper/internal/logging"
	"github.com/solsniper/sniper/internal/telemetry"
	"github.com/solsniper/sniper/noncemgr"
)

// TxBuildOutput is the result of one successful build (§4.3.6): the
// signed transaction, the required-signer set derived from its message
// header, and, when the build routed through a durable nonce, the lease
// that must be released back to the pool once the transaction has been
// sent (or has failed terminally).
//
// A lease held past the transaction's terminal outcome is a leak, the
// same class of bug NonceLease's own finalizer guards against. Rather
// than inventing a second unrelated safety net, TxBuildOutput installs
// the identical synchronous, panic-safe finalizer pattern: if a caller
// drops the output without calling Release, the lease is released back
// to the pool (as Available, not tainted — the transaction's outcome is
// unknown to the builder) and a warning is logged.
type TxBuildOutput struct {
	Tx              chain.Transaction
	Lease           *noncemgr.NonceLease
	RequiredSigners []chain.PublicKey

	released int32
	log      *logging.Logger
}

func newTxBuildOutput(tx chain.Transaction, lease *noncemgr.NonceLease, signers []chain.PublicKey, log *logging.Logger) *TxBuildOutput {
	out := &TxBuildOutput{Tx: tx, Lease: lease, RequiredSigners: signers, log: log}
	if lease != nil {
		runtime.SetFinalizer(out, (*TxBuildOutput).finalize)
	}
	return out
}

// Release hands the held nonce lease (if any) back to the pool. Safe to
// call on an output with no lease, and safe to call more than once.
func (o *TxBuildOutput) Release() {
	if !atomic.CompareAndSwapInt32(&o.released, 0, 1) {
		return
	}
	runtime.SetFinalizer(o, nil)
	if o.Lease != nil {
		o.Lease.Release()
	}
}

func (o *TxBuildOutput) finalize() {
	wasReleased := atomic.LoadInt32(&o.released) == 1
	func() {
		defer func() { recover() }()
		o.Release()
	}()
	if !wasReleased && o.log != nil {
		o.log.Warn("tx build output dropped with lease still held", logging.Fields{Stage: "build_output_finalize"})
	}
}

// DexBuildConfig wraps a caller-supplied Dex config with the builder's
// current dynamic slippage tolerance (§4.3.4's optional slippage model),
// so a DexInstructionBuilder can honor live, observation-adjusted slippage
// instead of only the statically configured base. Inner is whatever
// venue-specific config the caller passed as BuildRequest.DexConfig, or
// nil if none was supplied.
type DexBuildConfig struct {
	SlippageBps uint32
	Inner       any
}

// BuildRequest is one unit of work for BatchBuild.
type BuildRequest struct {
	Candidate    chain.Candidate
	Payer        chain.PublicKey
	Priority     chain.OperationPriority
	EnforceNonce bool
	Dex          collab.DexInstructionBuilder
	DexConfig    any
	Sell         bool
}

// BuildResult pairs one BuildRequest's outcome with its index so callers
// can correlate results back to requests after concurrent completion.
type BuildResult struct {
	Index  int
	Output *TxBuildOutput
	Err    error
}

// Builder assembles, simulates, prices, and signs transactions per
// §4.3: execution-context routing (nonce vs blockhash), invariant
// instruction ordering, compute-unit/fee optimization, and signing,
// all behind the rate limiter and circuit breaker of §4.3.7.
type Builder struct {
	cfg      config.Builder
	rpc      collab.RPCPool
	signer   collab.SignerService
	noncePool *noncemgr.Pool
	policy   ExecutionPolicy

	quorum    *blockhashQuorum
	limiter   *rateLimiter
	breaker   *breakerRegistry
	simCache  *simulationCache
	cuOpt     *computeUnitOptimizer
	feeOpt    *feeOptimizer
	slippage  *slippageTracker

	buildSem *semaphore.Weighted

	metrics *builderMetrics
	gauges  *builderGauges
	log     *logging.Logger
}

// NewBuilder wires one Builder's collaborators together. noncePool may
// be nil if the deployment never routes through durable nonces (every
// build then falls through to the blockhash path, and any priority that
// RequiresNonce fails with ErrNonceAcquisition unless policy allows
// fallback).
func NewBuilder(cfg config.Builder, rpc collab.RPCPool, signer collab.SignerService, noncePool *noncemgr.Pool, policy ExecutionPolicy, reg *telemetry.Registry) *Builder {
	limiter := newRateLimiter(cfg.RateLimit)
	breaker := newBreakerRegistry(cfg.CircuitBreaker)
	simCache := newSimulationCache(cfg.SimulationCache)

	maxConcurrent := cfg.MaxConcurrentBuilds
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}

	var gauges *builderGauges
	if reg != nil {
		gauges = registerBuilderTelemetry(reg)
	}

	return &Builder{
		cfg:       cfg,
		rpc:       rpc,
		signer:    signer,
		noncePool: noncePool,
		policy:    policy,
		quorum:    newBlockhashQuorum(rpc, cfg.Quorum, cfg.BlockhashCacheTTL, limiter, breaker),
		limiter:   limiter,
		breaker:   breaker,
		simCache:  simCache,
		cuOpt:     newComputeUnitOptimizer(rpc, simCache, limiter, cfg),
		feeOpt:    newFeeOptimizer(rpc, cfg),
		slippage:  newSlippageTracker(cfg.BaseSlippageBps),
		buildSem:  semaphore.NewWeighted(int64(maxConcurrent)),
		metrics:   newBuilderMetrics(),
		gauges:    gauges,
		log:       logging.New("txbuilder.builder"),
	}
}

// BuildBuy assembles a buy transaction for candidate, per §4.3's public
// build_buy contract.
func (b *Builder) BuildBuy(ctx context.Context, req BuildRequest) (*TxBuildOutput, error) {
	return b.build(ctx, req, false)
}

// BuildSell assembles a sell transaction, per §4.3's build_sell
// contract. It shares every routing/optimization/signing step with
// BuildBuy; only the Dex instruction builder's interpretation of Sell
// differs.
func (b *Builder) BuildSell(ctx context.Context, req BuildRequest) (*TxBuildOutput, error) {
	return b.build(ctx, req, true)
}

// ObserveSlippage folds one realized trade's slippage (in bps) into the
// dynamic slippage model, widening or narrowing the tolerance handed to
// future builds' DexBuildConfig. The builder never measures slippage
// itself, since confirming a sent transaction's realized fill is a
// collaborator concern out of scope for this core (§1); the deployment
// calls this once a trade's outcome is known.
func (b *Builder) ObserveSlippage(bps float64) {
	b.slippage.observe(bps)
}

func (b *Builder) build(ctx context.Context, req BuildRequest, sell bool) (*TxBuildOutput, error) {
	start := time.Now()
	route := "blockhash"
	defer func() {
		b.gauges.observeBuildLatency(route, float64(time.Since(start).Microseconds())/1000.0)
	}()

	bctx, err := prepareContext(ctx, req.Priority, req.EnforceNonce, b.noncePool, b.quorum, b.policy, b.log)
	if err != nil {
		b.metrics.buildFailures.add(1)
		return nil, err
	}
	if bctx.usesNonce {
		route = "nonce"
	}

	dexCfg := DexBuildConfig{SlippageBps: b.slippage.slippageBps(), Inner: req.DexConfig}
	dexIx, err := req.Dex.BuildInstruction(ctx, req.Candidate, dexCfg)
	if err != nil {
		if bctx.lease != nil {
			bctx.lease.Release()
		}
		b.metrics.buildFailures.add(1)
		return nil, err
	}

	// Compute-unit estimation simulates without the advance_nonce_account
	// instruction: the simulator doesn't carry the real nonce state, so
	// including it would just burn a simulation slot without affecting
	// the estimate (§4.3.4).
	simInstructions := assembleInstructions(false, chain.PublicKey{}, chain.PublicKey{}, 0, 0, []chain.Instruction{dexIx})
	fee := b.feeOpt.adaptivePriorityFee(ctx, []chain.PublicKey{req.Payer})
	cuLimit, err := b.cuOpt.estimate(ctx, req.Payer, simInstructions, b.cfg.MaxCULimit, fee)
	if err != nil {
		if simErr, ok := err.(*SimulationError); ok {
			if simErr.Fatal {
				if bctx.lease != nil {
					bctx.lease.Release()
				}
				b.metrics.fatalSimErrors.add(1)
				return nil, simErr
			}
			b.metrics.advisorySimErrors.add(1)
			b.log.Warn("advisory simulation error, proceeding with hinted CU limit", logging.Fields{Stage: "compute_budget"}, "reason", simErr.Reason)
			cuLimit = clampCU(b.cfg.MaxCULimit, b.cfg.MinCULimit, b.cfg.MaxCULimit)
		} else {
			if bctx.lease != nil {
				bctx.lease.Release()
			}
			b.metrics.buildFailures.add(1)
			return nil, err
		}
	}

	instructions := assembleInstructions(bctx.usesNonce, bctx.noncePubkey, bctx.nonceAuthority, cuLimit, fee, []chain.Instruction{dexIx})
	if err := checkInstructionOrdering(bctx.usesNonce, instructions); err != nil {
		if bctx.lease != nil {
			bctx.lease.TaintAndRelease()
		}
		b.metrics.buildFailures.add(1)
		return nil, err
	}

	msg := compileMessage(req.Payer, instructions, bctx.blockhash)
	tx, signers, err := sign(ctx, b.signer, msg)
	if err != nil {
		if bctx.lease != nil {
			bctx.lease.Release()
		}
		b.metrics.buildFailures.add(1)
		return nil, err
	}

	if bctx.usesNonce {
		b.metrics.builtWithNonce.add(1)
	} else {
		b.metrics.builtWithBlockhash.add(1)
	}
	return newTxBuildOutput(tx, bctx.lease, signers, b.log), nil
}

// BatchBuild runs every request through BuildBuy/BuildSell concurrently,
// bounded by max_concurrent_builds (§4.3's batch_build contract).
// Results are returned in the same order as requests.
func (b *Builder) BatchBuild(ctx context.Context, requests []BuildRequest) []BuildResult {
	results := make([]BuildResult, len(requests))
	var wg sync.WaitGroup
	inFlight := int64(0)

	for i, req := range requests {
		if err := b.buildSem.Acquire(ctx, 1); err != nil {
			results[i] = BuildResult{Index: i, Err: err}
			continue
		}
		wg.Add(1)
		atomic.AddInt64(&inFlight, 1)
		b.gauges.setInFlight(float64(atomic.LoadInt64(&inFlight)))

		go func(i int, req BuildRequest) {
			defer wg.Done()
			defer b.buildSem.Release(1)
			defer func() {
				atomic.AddInt64(&inFlight, -1)
				b.gauges.setInFlight(float64(atomic.LoadInt64(&inFlight)))
			}()

			var out *TxBuildOutput
			var err error
			if req.Sell {
				out, err = b.BuildSell(ctx, req)
			} else {
				out, err = b.BuildBuy(ctx, req)
			}
			results[i] = BuildResult{Index: i, Output: out, Err: err}
		}(i, req)
	}

	wg.Wait()
	return results
}
