package noncemgr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/solsniper/sniper/chain"
)

func TestAccountCASOnlyTransitions(t *testing.T) {
	a := newAccount(testPubkey(1), testPubkey(2), chain.BlockHash{Slot: 10}, 100)
	require.Equal(t, StateAvailable, a.getState())

	require.True(t, a.cas(StateAvailable, StateLeased))
	require.False(t, a.cas(StateAvailable, StateLeased), "second CAS from a state that no longer holds must fail")
	require.Equal(t, StateLeased, a.getState())

	require.True(t, a.cas(StateLeased, StateAvailable))
}

func TestAccountIsExpired(t *testing.T) {
	a := newAccount(testPubkey(1), testPubkey(2), chain.BlockHash{}, 1000)
	require.False(t, a.isExpired(1000, 0))
	require.False(t, a.isExpired(999, 0))
	require.True(t, a.isExpired(1001, 0))
	require.False(t, a.isExpired(1001, 5))
}

func TestAccountSnapshotReflectsState(t *testing.T) {
	a := newAccount(testPubkey(1), testPubkey(2), chain.BlockHash{Slot: 50}, 500)
	a.cas(StateAvailable, StateLeased)
	a.touchUsed()

	snap := a.snapshot()
	require.Equal(t, chain.AccountLeased, snap.State)
	require.Equal(t, chain.SlotNumber(500), snap.LastValidSlot)
	require.WithinDuration(t, time.Now(), snap.LastUsed, time.Second)
}
