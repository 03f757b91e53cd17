package noncemgr

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"sync"
	"time"

	"github.com/solsniper/sniper/chain"
)

// proofGenerator produces ZkProofData for an account (§4.2.6). No real
// proving system is in scope for this core (it is a collaborator
// concern, §1); this implements the documented fallback strategy: a
// digest over the public inputs stands in for an unavailable prover,
// distinguished from a real proof only by length.
type proofGenerator struct{}

func newProofGenerator() *proofGenerator { return &proofGenerator{} }

// Generate runs as background work from the refresh loop; it never
// blocks acquisition.
func (g *proofGenerator) Generate(inputs chain.ProofInputs) chain.ZkProofData {
	digest := digestInputs(inputs)
	return chain.ZkProofData{
		Proof:        digest[:],
		PublicInputs: inputs,
		Confidence:   1.0,
		GeneratedAt:  time.Now(),
	}
}

func digestInputs(in chain.ProofInputs) [32]byte {
	var buf [8 + 32 + 8 + 8 + 8]byte
	binary.LittleEndian.PutUint64(buf[0:8], uint64(in.Slot))
	copy(buf[8:40], in.BlockhashDigest[:])
	binary.LittleEndian.PutUint64(buf[40:48], math64bits(in.LatencyMillis))
	binary.LittleEndian.PutUint64(buf[48:56], math64bits(in.TPS))
	binary.LittleEndian.PutUint64(buf[56:64], in.Volume)
	return sha256.Sum256(buf[:])
}

func math64bits(f float64) uint64 {
	return uint64(int64(f * 1000))
}

// verifyResult is the outcome of verifying one account's proof.
type verifyResult struct {
	confidence float64
	accept     bool
	warn       bool
}

// verify implements §4.2.6's structural check plus staleness curve:
// confidence derives from how many slots have elapsed since the proof's
// generation slot, gated by a structural re-check that the proof is
// exactly the 32-byte digest of its public inputs (the hash fallback).
func verify(proof chain.ZkProofData, currentSlot chain.SlotNumber) verifyResult {
	structuralOK := len(proof.Proof) == sha256.Size && proof.Proof != nil
	if !structuralOK {
		return verifyResult{confidence: 0, accept: false, warn: false}
	}
	want := digestInputs(proof.PublicInputs)
	if [32]byte(proof.Proof[:32]) != want {
		return verifyResult{confidence: 0, accept: false, warn: false}
	}

	age := int64(currentSlot) - int64(proof.PublicInputs.Slot)
	if age < 0 {
		age = 0
	}
	staleness := stalenessCurve(age)

	switch {
	case staleness >= 0.8:
		return verifyResult{confidence: staleness, accept: true, warn: false}
	case staleness >= 0.5:
		return verifyResult{confidence: staleness, accept: true, warn: true}
	default:
		return verifyResult{confidence: staleness, accept: false, warn: false}
	}
}

func stalenessCurve(ageSlots int64) float64 {
	switch {
	case ageSlots == 0:
		return 1.0
	case ageSlots < 5:
		return 0.95
	case ageSlots < 10:
		return 0.85
	case ageSlots < 20:
		return 0.70
	default:
		return 0.50
	}
}

// batchVerifyThreshold is the size at which verification switches from
// sequential to a parallel fan-out (§4.2.6).
const batchVerifyThreshold = 10

// batchVerify verifies a batch of proofs, dispatching in parallel once
// the batch is large enough to make the fan-out worthwhile.
func batchVerify(ctx context.Context, proofs []chain.ZkProofData, currentSlot chain.SlotNumber) []verifyResult {
	results := make([]verifyResult, len(proofs))
	if len(proofs) < batchVerifyThreshold {
		for i, p := range proofs {
			results[i] = verify(p, currentSlot)
		}
		return results
	}

	var wg sync.WaitGroup
	for i := range proofs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = verify(proofs[i], currentSlot)
		}(i)
	}
	wg.Wait()
	return results
}
