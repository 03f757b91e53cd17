package sniffer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testIDs() ProgramIDs {
	var ids ProgramIDs
	ids.VoteProgram[0] = 0x01
	ids.DexProgram[0] = 0x02
	ids.SPLTokenProgram[0] = 0x03
	return ids
}

func frameWithIDAt(id [32]byte, offset, total int) []byte {
	buf := make([]byte, total)
	copy(buf[offset:], id[:])
	return buf
}

func TestPrefilterTooShort(t *testing.T) {
	require.Equal(t, prefilterRejectTooShort, prefilter(make([]byte, 10), testIDs()))
	require.Equal(t, prefilterRejectTooShort, prefilter(nil, testIDs()))
}

func TestPrefilterVoteRejected(t *testing.T) {
	ids := testIDs()
	frame := frameWithIDAt(ids.VoteProgram, 100, 600)
	require.Equal(t, prefilterRejectVote, prefilter(frame, ids))
}

func TestPrefilterDexAccepted(t *testing.T) {
	ids := testIDs()
	frame := frameWithIDAt(ids.DexProgram, 200, 600)
	require.Equal(t, prefilterAccept, prefilter(frame, ids))
}

func TestPrefilterSPLAccepted(t *testing.T) {
	ids := testIDs()
	frame := frameWithIDAt(ids.SPLTokenProgram, 90, 600)
	require.Equal(t, prefilterAccept, prefilter(frame, ids))
}

func TestPrefilterNoMatch(t *testing.T) {
	ids := testIDs()
	frame := make([]byte, 600)
	require.Equal(t, prefilterRejectNoMatch, prefilter(frame, ids))
}

func TestPrefilterFullBufferFallback(t *testing.T) {
	ids := testIDs()
	// Place the DEX id beyond the narrow account-keys region so only the
	// full-buffer fallback scan finds it.
	frame := frameWithIDAt(ids.DexProgram, 4000, 4096)
	require.Equal(t, prefilterAccept, prefilter(frame, ids))
}

func TestPrefilterRejectionRateIsHigh(t *testing.T) {
	ids := testIDs()
	const n = 1000
	rejected := 0
	for i := 0; i < n; i++ {
		frame := make([]byte, 600)
		frame[0] = byte(i) // vary content; only the few values that form a program id at offset 0 match
		if prefilter(frame, ids) != prefilterAccept {
			rejected++
		}
	}
	require.GreaterOrEqual(t, float64(rejected)/float64(n), 0.90)
}
