package sniffer

import (
	"context"
	"testing"
	"time"

	"github.com/solsniper/sniper/collab"
	"github.com/solsniper/sniper/internal/config"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeFeed emits a configurable closure's output frame on every Recv.
type fakeFeed struct {
	frames chan []byte
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{frames: make(chan []byte, 1024)}
}

func (f *fakeFeed) Recv(ctx context.Context) ([]byte, bool) {
	select {
	case fr, ok := <-f.frames:
		return fr, ok
	case <-ctx.Done():
		return nil, false
	}
}

func (f *fakeFeed) Reconnect(ctx context.Context) error { return nil }
func (f *fakeFeed) Close() error                        { close(f.frames); return nil }

func dexFrame(ids ProgramIDs, mint byte) []byte {
	frame := make([]byte, 600)
	copy(frame[200:], ids.DexProgram[:])
	keyAt(frame[accountKeysRegionLo:], mint)
	keyAt(frame[accountKeysRegionLo+32:], 0xAA)
	return frame
}

func TestSnifferStartIsIdempotent(t *testing.T) {
	feed := newFakeFeed()
	s := New(Options{
		Config:     config.Sniffer{ChannelCapacity: 16, EMAAlphaShort: 0.2, EMAAlphaLong: 0.05, SendMaxRetries: 1, MinTxBytes: 128, MaxReconnectAttemptsPerOutage: 1},
		ProgramIDs: testIDs(),
		Dial:       func(ctx context.Context) (collab.UpstreamFeed, error) { return feed, nil },
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := s.Start(ctx)
	require.NoError(t, err)

	_, err = s.Start(ctx)
	require.ErrorIs(t, err, ErrAlreadyRunning)

	s.Stop()
}

func TestSnifferEndToEndCandidateFlow(t *testing.T) {
	feed := newFakeFeed()
	ids := testIDs()
	s := New(Options{
		Config:     config.Sniffer{ChannelCapacity: 16, EMAAlphaShort: 0.2, EMAAlphaLong: 0.05, SendMaxRetries: 1, MinTxBytes: 128, MaxReconnectAttemptsPerOutage: 1},
		ProgramIDs: ids,
		Dial:       func(ctx context.Context) (collab.UpstreamFeed, error) { return feed, nil },
	})

	rx, err := s.Start(context.Background())
	require.NoError(t, err)

	feed.frames <- dexFrame(ids, 0x42)

	select {
	case c := <-rx:
		require.Equal(t, byte(0x42), c.Mint[0])
	case <-time.After(2 * time.Second):
		t.Fatal("no candidate received")
	}

	s.Stop()
	require.Equal(t, StateStopped, s.State())
}

func TestSnifferPauseStopsProductionWithoutDisconnect(t *testing.T) {
	feed := newFakeFeed()
	ids := testIDs()
	s := New(Options{
		Config:     config.Sniffer{ChannelCapacity: 16, EMAAlphaShort: 0.2, EMAAlphaLong: 0.05, SendMaxRetries: 1, MinTxBytes: 128, MaxReconnectAttemptsPerOutage: 1},
		ProgramIDs: ids,
		Dial:       func(ctx context.Context) (collab.UpstreamFeed, error) { return feed, nil },
	})
	rx, err := s.Start(context.Background())
	require.NoError(t, err)

	s.Pause()
	feed.frames <- dexFrame(ids, 0x7)

	select {
	case <-rx:
		t.Fatal("candidate produced while paused")
	case <-time.After(100 * time.Millisecond):
	}

	require.True(t, s.connector.Connected())

	s.Resume()
	feed.frames <- dexFrame(ids, 0x7)
	select {
	case c := <-rx:
		require.Equal(t, byte(0x7), c.Mint[0])
	case <-time.After(2 * time.Second):
		t.Fatal("no candidate after resume")
	}

	s.Stop()
}

func TestSnifferHealth(t *testing.T) {
	feed := newFakeFeed()
	s := New(Options{
		Config:     config.Sniffer{ChannelCapacity: 16, EMAAlphaShort: 0.2, EMAAlphaLong: 0.05, SendMaxRetries: 1, MinTxBytes: 128, MaxReconnectAttemptsPerOutage: 1},
		ProgramIDs: testIDs(),
		Dial:       func(ctx context.Context) (collab.UpstreamFeed, error) { return feed, nil },
	})
	_, err := s.Start(context.Background())
	require.NoError(t, err)
	// Give the connector goroutine a moment to dial.
	require.Eventually(t, func() bool { return s.Health(5) }, time.Second, 5*time.Millisecond)
	s.Stop()
	require.False(t, s.Health(5))
}
