package noncemgr

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/solsniper/sniper/chain"
)

func TestProofGenerateAndVerifyFreshAccepts(t *testing.T) {
	g := newProofGenerator()
	inputs := chain.ProofInputs{Slot: 1000, LatencyMillis: 12, TPS: 900, Volume: 50}
	proof := g.Generate(inputs)

	res := verify(proof, 1000)
	require.True(t, res.accept)
	require.False(t, res.warn)
	require.Equal(t, 1.0, res.confidence)
}

func TestProofVerifyStaleFloorsInWarnBand(t *testing.T) {
	g := newProofGenerator()
	inputs := chain.ProofInputs{Slot: 1000}
	proof := g.Generate(inputs)

	res := verify(proof, 1025)
	require.True(t, res.accept)
	require.True(t, res.warn)
	require.Equal(t, 0.50, res.confidence)
}

func TestProofVerifyWarnBand(t *testing.T) {
	g := newProofGenerator()
	inputs := chain.ProofInputs{Slot: 1000}
	proof := g.Generate(inputs)

	res := verify(proof, 1019)
	require.True(t, res.accept)
	require.True(t, res.warn)
	require.Equal(t, 0.70, res.confidence)
}

func TestProofVerifyTamperedDigestRejects(t *testing.T) {
	g := newProofGenerator()
	inputs := chain.ProofInputs{Slot: 1000}
	proof := g.Generate(inputs)
	proof.PublicInputs.Volume = 999 // mutate inputs without regenerating the digest

	res := verify(proof, 1000)
	require.False(t, res.accept)
	require.Equal(t, 0.0, res.confidence)
}

func TestBatchVerifySequentialBelowThreshold(t *testing.T) {
	g := newProofGenerator()
	proofs := make([]chain.ZkProofData, 3)
	for i := range proofs {
		proofs[i] = g.Generate(chain.ProofInputs{Slot: chain.SlotNumber(i)})
	}
	results := batchVerify(context.Background(), proofs, 0)
	require.Len(t, results, 3)
	for _, r := range results {
		require.True(t, r.accept)
	}
}

func TestBatchVerifyParallelAtThreshold(t *testing.T) {
	g := newProofGenerator()
	proofs := make([]chain.ZkProofData, batchVerifyThreshold)
	for i := range proofs {
		proofs[i] = g.Generate(chain.ProofInputs{Slot: chain.SlotNumber(i)})
	}
	results := batchVerify(context.Background(), proofs, 0)
	require.Len(t, results, batchVerifyThreshold)
	for _, r := range results {
		require.True(t, r.accept)
	}
}
