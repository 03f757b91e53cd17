package sniffer

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"

	"github.com/solsniper/sniper/collab"
)

// ErrMaxAttemptsExhausted is returned by connectWithBackoff when the
// per-outage attempt ceiling (spec.md §4.1 stage 1, default 5) is hit.
var ErrMaxAttemptsExhausted = errors.New("sniffer: max reconnect attempts exhausted for this outage")

// feedConnector owns the upstream connection lifecycle: exponential
// backoff with jitter inside one outage, then an outer auto-reconnect
// loop every 10s until a connection succeeds or shutdown, per spec.md
// §4.1 stage 1.
type feedConnector struct {
	dial            func(ctx context.Context) (collab.UpstreamFeed, error)
	maxAttempts      int
	outerRetryPeriod time.Duration

	connected atomic.Bool
	current   atomic.Pointer[collab.UpstreamFeed]
}

func newFeedConnector(dial func(ctx context.Context) (collab.UpstreamFeed, error), maxAttempts int, outerRetryPeriod time.Duration) *feedConnector {
	return &feedConnector{dial: dial, maxAttempts: maxAttempts, outerRetryPeriod: outerRetryPeriod}
}

func (f *feedConnector) Connected() bool {
	return f.connected.Load()
}

func (f *feedConnector) feed() collab.UpstreamFeed {
	p := f.current.Load()
	if p == nil {
		return nil
	}
	return *p
}

// connectWithBackoff attempts up to maxAttempts dials, backing off
// exponentially (base 100ms, cap 30s, ±20% jitter) between attempts,
// grounded on the cenkalti/backoff/v5 generic Retry helper pinned
// (indirectly) across the whole example pack.
func (f *feedConnector) connectWithBackoff(ctx context.Context) error {
	bo := func() backoff.BackOff {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = 100 * time.Millisecond
		eb.MaxInterval = 30 * time.Second
		eb.RandomizationFactor = 0.2
		eb.Multiplier = 2.0
		return eb
	}

	feed, err := backoff.Retry(ctx, func() (collab.UpstreamFeed, error) {
		return f.dial(ctx)
	}, backoff.WithBackOff(bo()), backoff.WithMaxTries(uint(f.maxAttempts)))
	if err != nil {
		f.connected.Store(false)
		return ErrMaxAttemptsExhausted
	}
	f.current.Store(&feed)
	f.connected.Store(true)
	return nil
}

// runReconnectLoop is the outer auto-reconnect loop: re-enters
// connectWithBackoff every outerRetryPeriod until one connect succeeds
// (it then returns) or ctx is cancelled (shutdown), independent of how
// many inner attempts each outage used.
func (f *feedConnector) runReconnectLoop(ctx context.Context, onReconnected func(), reconnectCount *atomicCounter) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := f.connectWithBackoff(ctx); err == nil {
			onReconnected()
			reconnectCount.add(1)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(f.outerRetryPeriod):
		}
	}
}

// wsFeed is a concrete, optional UpstreamFeed backed by a gorilla
// websocket connection. spec.md names the upstream feed only as an
// abstract collaborator interface (§6); this adapter is a real-transport
// dial option for deployments (cmd/sniper does not wire it; its run
// command uses in-memory stand-ins only), grounded on gorilla/websocket being pinned across the whole example
// pack (go-ethereum, luxfi-evm, coreth all carry it).
type wsFeed struct {
	url  string
	conn *websocket.Conn
}

func dialWSFeed(url string) func(ctx context.Context) (collab.UpstreamFeed, error) {
	return func(ctx context.Context) (collab.UpstreamFeed, error) {
		dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
		conn, _, err := dialer.DialContext(ctx, url, nil)
		if err != nil {
			return nil, err
		}
		return &wsFeed{url: url, conn: conn}, nil
	}
}

func (w *wsFeed) Recv(ctx context.Context) ([]byte, bool) {
	type result struct {
		data []byte
		err  error
	}
	resultCh := make(chan result, 1)
	go func() {
		_, data, err := w.conn.ReadMessage()
		resultCh <- result{data: data, err: err}
	}()
	select {
	case <-ctx.Done():
		// Unblock the reader goroutine above by closing the connection;
		// otherwise it would sit blocked in ReadMessage forever.
		_ = w.conn.Close()
		<-resultCh
		return nil, false
	case r := <-resultCh:
		if r.err != nil {
			return nil, false
		}
		return r.data, true
	}
}

func (w *wsFeed) Reconnect(ctx context.Context) error {
	_ = w.conn.Close()
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := dialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return err
	}
	w.conn = conn
	return nil
}

func (w *wsFeed) Close() error {
	return w.conn.Close()
}
