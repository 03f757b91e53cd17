package main

import (
	"context"
	"crypto/sha256"
	"math/rand"
	"sync"
	"time"

	"github.com/solsniper/sniper/chain"
	"github.com/solsniper/sniper/collab"
)

// The stubs in this file are local, in-memory stand-ins for the real
// upstream feed, RPC pool, signer, and DEX instruction builders, which
// are all out of scope for this core (spec.md §1) and owned by the
// deployment wiring them in. They exist only so `sniper run --dry-run`
// has something to drive against without a live validator connection.

// dryRunFeed synthesizes a steady trickle of plausible-looking frames
// instead of connecting to a real geyser/block-engine stream.
type dryRunFeed struct {
	closed chan struct{}
}

func newDryRunFeed() *dryRunFeed {
	return &dryRunFeed{closed: make(chan struct{})}
}

func (f *dryRunFeed) Recv(ctx context.Context) ([]byte, bool) {
	select {
	case <-f.closed:
		return nil, false
	case <-ctx.Done():
		return nil, false
	case <-time.After(50 * time.Millisecond):
	}
	frame := make([]byte, 256)
	rand.Read(frame)
	return frame, true
}

func (f *dryRunFeed) Reconnect(ctx context.Context) error { return nil }
func (f *dryRunFeed) Close() error {
	select {
	case <-f.closed:
	default:
		close(f.closed)
	}
	return nil
}

// dryRunRPCPool answers every RPC call with locally generated, internally
// consistent values; it never touches the network.
type dryRunRPCPool struct {
	mu   sync.Mutex
	slot chain.SlotNumber
}

func newDryRunRPCPool() *dryRunRPCPool {
	return &dryRunRPCPool{slot: 1}
}

func (r *dryRunRPCPool) tickSlot() chain.SlotNumber {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slot++
	return r.slot
}

func (r *dryRunRPCPool) GetLatestBlockhash(ctx context.Context) (chain.BlockHash, error) {
	slot := r.tickSlot()
	return chain.BlockHash{Hash: digestSlot(slot), Slot: slot}, nil
}

func (r *dryRunRPCPool) GetSlot(ctx context.Context) (chain.SlotNumber, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.slot, nil
}

func (r *dryRunRPCPool) GetAccount(ctx context.Context, pubkey chain.PublicKey) ([]byte, error) {
	return nil, nil
}

func (r *dryRunRPCPool) Simulate(ctx context.Context, tx chain.Transaction) (collab.SimulationResult, error) {
	return collab.SimulationResult{UnitsConsumed: 60_000}, nil
}

func (r *dryRunRPCPool) SendTransaction(ctx context.Context, tx chain.Transaction) ([]byte, error) {
	return []byte("dry-run-signature"), nil
}

func (r *dryRunRPCPool) RecentPriorityFees(ctx context.Context, accounts []chain.PublicKey) ([]collab.PriorityFeeSample, error) {
	return []collab.PriorityFeeSample{{MicroLamports: 1000}, {MicroLamports: 2000}}, nil
}

func (r *dryRunRPCPool) Endpoints() []string { return []string{"dry-run-a", "dry-run-b"} }

func (r *dryRunRPCPool) CallEndpoint(ctx context.Context, endpoint string) (chain.BlockHash, error) {
	return r.GetLatestBlockhash(ctx)
}

func digestSlot(slot chain.SlotNumber) [32]byte {
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(slot >> (8 * i))
	}
	return sha256.Sum256(buf[:])
}

// dryRunSigner stamps a fixed-length placeholder signature per required
// signer rather than performing a real signature.
type dryRunSigner struct{}

func (dryRunSigner) Sign(ctx context.Context, msg chain.Message, required []chain.PublicKey) (chain.Transaction, error) {
	sigs := make([][]byte, len(required))
	for i := range sigs {
		sigs[i] = []byte("dry-run-sig")
	}
	return chain.Transaction{Message: msg, Signatures: sigs}, nil
}

// dryRunDex emits a minimal no-op instruction against a fixed venue
// program id, standing in for a real PumpFun/Raydium/Orca builder.
type dryRunDex struct {
	programID chain.PublicKey
}

func newDryRunDex() *dryRunDex {
	return &dryRunDex{programID: chain.PublicKey{42}}
}

func (d *dryRunDex) BuildInstruction(ctx context.Context, candidate chain.Candidate, cfg any) (chain.Instruction, error) {
	return chain.Instruction{
		ProgramID: d.programID,
		Accounts:  []chain.AccountMeta{{Pubkey: candidate.Mint, IsWritable: true}},
		Data:      []byte{1},
	}, nil
}
