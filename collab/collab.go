// Package collab declares the interfaces to the system's external
// collaborators: the upstream transaction feed, the chain RPC pool, the
// signer service, and DEX instruction builders. None of these are
// implemented here — per spec.md §1 they are out of scope for the core —
// this package exists only to break import cycles between sniffer,
// noncemgr, and txbuilder and their shared dependencies on the outside
// world.
package collab

import (
	"context"

	"github.com/solsniper/sniper/chain"
)

// UpstreamFeed yields raw, opaque transaction byte frames from whatever
// upstream source the deployment is wired to (validator geyser plugin,
// block engine stream, etc).
type UpstreamFeed interface {
	// Recv returns the next frame, or ok=false if the feed has closed.
	Recv(ctx context.Context) (frame []byte, ok bool)
	// Reconnect signals the feed to tear down and re-establish its
	// upstream connection.
	Reconnect(ctx context.Context) error
	// Close releases any resources held by the feed.
	Close() error
}

// SimulationResult is the outcome of a simulated transaction.
type SimulationResult struct {
	UnitsConsumed uint64
	Err           error
}

// PriorityFeeSample is one observed recent priority fee, in micro-lamports
// per compute unit.
type PriorityFeeSample struct {
	MicroLamports uint64
}

// RPCPool is the interface the core consumes from the chain RPC client.
// The pool owns endpoint selection, connection pooling, batching, and
// caching; the core only ever calls through this interface.
type RPCPool interface {
	GetLatestBlockhash(ctx context.Context) (chain.BlockHash, error)
	GetSlot(ctx context.Context) (chain.SlotNumber, error)
	GetAccount(ctx context.Context, pubkey chain.PublicKey) ([]byte, error)
	Simulate(ctx context.Context, tx chain.Transaction) (SimulationResult, error)
	SendTransaction(ctx context.Context, tx chain.Transaction) ([]byte, error)
	// RecentPriorityFees returns recent samples for the given accounts,
	// used to derive the P90 congestion signal in §4.3.4.
	RecentPriorityFees(ctx context.Context, accounts []chain.PublicKey) ([]PriorityFeeSample, error)
	// Endpoints lists the endpoint identifiers this pool fans requests
	// out to, used by the blockhash quorum and the per-endpoint circuit
	// breaker.
	Endpoints() []string
	// CallEndpoint issues GetLatestBlockhash against one specific
	// endpoint, used by the quorum fan-out in txbuilder.
	CallEndpoint(ctx context.Context, endpoint string) (chain.BlockHash, error)
}

// SignerService abstracts local, remote, or hardware signing behind a
// single async interface.
type SignerService interface {
	Sign(ctx context.Context, msg chain.Message, requiredSigners []chain.PublicKey) (chain.Transaction, error)
}

// BuildError is the error returned by a DexInstructionBuilder; its Fatal
// flag mirrors the Fatal/advisory split used elsewhere in the builder
// (§4.3.4, §7).
type BuildError struct {
	Reason string
	Fatal  bool
}

func (e *BuildError) Error() string { return e.Reason }

// DexInstructionBuilder produces the venue-specific buy/sell instruction
// for a candidate. Each concrete DEX (PumpFun, Raydium, Orca, ...)
// implements this out of tree; the core only depends on the interface.
type DexInstructionBuilder interface {
	BuildInstruction(ctx context.Context, candidate chain.Candidate, config any) (chain.Instruction, error)
}
