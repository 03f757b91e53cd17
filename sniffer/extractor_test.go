package sniffer

import (
	"testing"

	"github.com/solsniper/sniper/chain"
	"github.com/stretchr/testify/require"
)

func keyAt(b []byte, n byte) [32]byte {
	var k [32]byte
	k[0] = n
	copy(b, k[:])
	return k
}

func TestFastExtractTooSmall(t *testing.T) {
	_, err := fastExtract(make([]byte, 10))
	require.True(t, IsTooSmall(err))
}

func TestFastExtractOutOfBounds(t *testing.T) {
	// Exactly minFrameLen but with no room for even mint+one account.
	frame := make([]byte, minFrameLen)
	_, err := fastExtract(frame)
	require.True(t, IsOutOfBounds(err))
}

func TestFastExtractInvalidMintZero(t *testing.T) {
	frame := make([]byte, 600)
	// mint region left all-zero -> InvalidMint.
	_, err := fastExtract(frame)
	require.True(t, IsInvalidMint(err))
}

func TestFastExtractHappyPath(t *testing.T) {
	frame := make([]byte, 600)
	keyAt(frame[accountKeysRegionLo:], 1) // mint
	keyAt(frame[accountKeysRegionLo+32:], 2)
	keyAt(frame[accountKeysRegionLo+64:], 3)

	ex, err := fastExtract(frame)
	require.NoError(t, err)
	require.Equal(t, byte(1), ex.mint[0])
	require.EqualValues(t, 2, ex.numAccts)
	require.Equal(t, byte(2), ex.accounts[0][0])
	require.Equal(t, byte(3), ex.accounts[1][0])
}

func TestFastExtractCapsAtEightAccounts(t *testing.T) {
	frame := make([]byte, 600)
	keyAt(frame[accountKeysRegionLo:], 1) // mint
	for i := 0; i < 12; i++ {
		start := accountKeysRegionLo + 32*(i+1)
		if start+32 > len(frame) {
			break
		}
		keyAt(frame[start:], byte(10+i))
	}
	ex, err := fastExtract(frame)
	require.NoError(t, err)
	require.LessOrEqual(t, int(ex.numAccts), maxCandidateAccounts)
}

type fakeParser struct {
	keys []chain.PublicKey
	err  error
}

func (f fakeParser) ParseAccountKeys(frame []byte) ([]chain.PublicKey, error) {
	return f.keys, f.err
}

func TestSafeExtractDelegatesToParser(t *testing.T) {
	var mint chain.PublicKey
	mint[0] = 9
	var acct chain.PublicKey
	acct[0] = 8
	p := fakeParser{keys: []chain.PublicKey{mint, acct}}

	ex, err := safeExtract(make([]byte, minFrameLen), p)
	require.NoError(t, err)
	require.Equal(t, mint, ex.mint)
	require.EqualValues(t, 1, ex.numAccts)
	require.Equal(t, acct, ex.accounts[0])
}

func TestSafeExtractRejectsZeroMint(t *testing.T) {
	p := fakeParser{keys: []chain.PublicKey{{}, {}}}
	_, err := safeExtract(make([]byte, minFrameLen), p)
	require.True(t, IsInvalidMint(err))
}

func TestExtractorBoundaryLengths(t *testing.T) {
	for _, n := range []int{0, 1, 127, 128, 4096} {
		frame := make([]byte, n)
		require.NotPanics(t, func() {
			_, _ = fastExtract(frame)
		})
	}
}
