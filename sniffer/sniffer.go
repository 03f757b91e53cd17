// Package sniffer implements the Sniffer Pipeline (spec.md §4.1): a
// zero-allocation hot path that prefilters a high-rate transaction
// stream, extracts candidate tokens, applies predictive prioritization,
// and hands bounded work downstream.
package sniffer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/solsniper/sniper/chain"
	"github.com/solsniper/sniper/collab"
	"github.com/solsniper/sniper/internal/config"
	"github.com/solsniper/sniper/internal/logging"
	"github.com/solsniper/sniper/internal/telemetry"
)

// ErrAlreadyRunning is returned by Start on an already-running sniffer.
var ErrAlreadyRunning = errors.New("sniffer: already running")

// Options configures a Sniffer at construction. ProgramIDs and Parser are
// deployment constants / collaborators; Config is the tunable surface
// from internal/config.
type Options struct {
	Config     config.Sniffer
	ProgramIDs ProgramIDs
	Parser     MessageParser // required only when Config.SafeOffsets is true
	Dial       func(ctx context.Context) (collab.UpstreamFeed, error)
	Telemetry  *telemetry.Registry
	Workers    int // number of process tasks draining the internal buffer; default 1
}

// Sniffer is the top-level pipeline. It owns the feed connector, the
// hot-path stage pipeline, the predictive analytics, and the handoff
// queue.
type Sniffer struct {
	opts Options
	log  *logging.Logger

	state   stateBox
	pauseMu sync.RWMutex // guards nothing hot; only toggled rarely by pause/resume
	paused  bool

	connector *feedConnector
	analytics *predictiveAnalytics
	queue     *handoffQueue
	counters  snifferCounters
	gauges    *telemetryGauges

	internalBuf chan []byte

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Sniffer in the Initialized state. It does not start
// any goroutines.
func New(opts Options) *Sniffer {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	low := time.Duration(opts.Config.AdaptiveLowThresholdMicros) * time.Microsecond
	high := time.Duration(opts.Config.AdaptiveHighThresholdMicros) * time.Microsecond

	s := &Sniffer{
		opts:        opts,
		log:         logging.New("sniffer"),
		analytics:   newPredictiveAnalytics(opts.Config.EMAAlphaShort, opts.Config.EMAAlphaLong),
		queue:       newHandoffQueue(opts.Config.ChannelCapacity, opts.Config.DropPolicy, opts.Config.SendMaxRetries, low, high),
		internalBuf: make(chan []byte, opts.Config.ChannelCapacity),
	}
	if opts.Telemetry != nil {
		s.gauges = registerTelemetry(opts.Telemetry)
	}
	s.connector = newFeedConnector(opts.Dial, maxInt(opts.Config.MaxReconnectAttemptsPerOutage, 1), 10*time.Second)
	return s
}

func maxInt(v, floor int) int {
	if v < floor {
		return floor
	}
	return v
}

// Start begins ingestion and returns the consumer channel for
// downstream Candidates. Idempotent: calling on an already-running
// sniffer fails with ErrAlreadyRunning.
func (s *Sniffer) Start(ctx context.Context) (<-chan chain.Candidate, error) {
	if !s.state.cas(StateInitialized, StateRunning) {
		if !s.state.cas(StateStopped, StateRunning) {
			return nil, ErrAlreadyRunning
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.connector.runReconnectLoop(runCtx, func() {}, &s.counters.reconnectCount)
		s.pumpFeed(runCtx)
	}()

	for i := 0; i < s.opts.Workers; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.processLoop(runCtx)
		}()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.analytics.runEMALoop(runCtx, 200*time.Millisecond)
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.analytics.runThresholdLoop(runCtx, 1*time.Second)
	}()

	if s.gauges != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runTelemetryLoop(runCtx, 2*time.Second)
		}()
	}

	return s.queue.receiver(), nil
}

// pumpFeed is the single task that reads frames off the upstream feed
// into the bounded internal buffer (§4.1 "Concurrency": "one task pumps
// the feed into a bounded internal buffer").
func (s *Sniffer) pumpFeed(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		f := s.connector.feed()
		if f == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(50 * time.Millisecond):
				continue
			}
		}
		frame, ok := f.Recv(ctx)
		if !ok {
			if ctx.Err() != nil {
				return
			}
			s.connector.runReconnectLoop(ctx, func() {}, &s.counters.reconnectCount)
			continue
		}
		select {
		case s.internalBuf <- frame:
		default:
			// Internal buffer full: the bounded-backpressure contract
			// applies here too. Dropping the raw frame is acceptable
			// per spec.md's failure semantics ("in-flight bytes are
			// lost, and that is acceptable").
		}
	}
}

// processLoop drains the internal buffer and executes the hot-path
// stage pipeline: prefilter -> extract -> security sanity -> analytics
// classify -> handoff. No suspension points occur inside this loop body
// other than receiving from the channel itself and the handoff queue's
// bounded waits (retry spin-yields, the 2ms brief-block branch). Frames
// received while paused are discarded, not held for after Resume.
func (s *Sniffer) processLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-s.internalBuf:
			if !ok {
				return
			}
			if s.isPaused() {
				continue
			}
			s.handleFrame(frame)
		}
	}
}

func (s *Sniffer) handleFrame(frame []byte) {
	s.counters.framesSeen.add(1)

	switch prefilter(frame, s.opts.ProgramIDs) {
	case prefilterRejectTooShort:
		s.counters.rejectedTooShort.add(1)
		return
	case prefilterRejectVote:
		s.counters.rejectedVote.add(1)
		return
	case prefilterRejectNoMatch:
		s.counters.rejectedNoMatch.add(1)
		return
	}

	var (
		ex  extracted
		err error
	)
	if s.opts.Config.SafeOffsets && s.opts.Parser != nil {
		ex, err = safeExtract(frame, s.opts.Parser)
	} else {
		ex, err = fastExtract(frame)
	}
	if err != nil {
		switch {
		case IsTooSmall(err):
			s.counters.extractTooSmall.add(1)
		case IsOutOfBounds(err):
			s.counters.extractOutOfBounds.add(1)
		case IsInvalidMint(err):
			s.counters.extractInvalidMint.add(1)
		}
		return
	}

	if !securitySanityCheck(ex, len(frame), s.opts.Config.MinTxBytes) {
		s.counters.securityDrops.add(1)
		return
	}

	s.analytics.recordArrival()
	priority := s.analytics.classify()

	// PriceHint requires a priced instruction decode, which fast mode
	// deliberately skips for speed; it is left at its zero value there
	// and only populated when a MessageParser is available (safe mode).
	var priceHint float64
	if parser, ok := s.opts.Parser.(priceHinter); ok && s.opts.Config.SafeOffsets {
		priceHint = parser.PriceHint(frame)
	}

	c := chain.Candidate{
		Mint:      ex.mint,
		Accounts:  ex.accounts,
		NumAccts:  ex.numAccts,
		PriceHint: priceHint,
		TraceID:   newTraceID(),
		Priority:  priority,
	}
	s.queue.offer(c)
}

// securitySanityCheck is §4.1 stage 5: account count in [1,8], mint not
// default, size >= configured minimum.
func securitySanityCheck(ex extracted, frameLen, minBytes int) bool {
	if ex.numAccts < 1 || ex.numAccts > maxCandidateAccounts {
		return false
	}
	if ex.mint.IsZero() {
		return false
	}
	if frameLen < minBytes {
		return false
	}
	return true
}

func (s *Sniffer) runTelemetryLoop(ctx context.Context, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.gauges.publish(s.MetricsSnapshot())
		}
	}
}

// Stop signals shutdown by cancelling every task, then waits up to 5s for
// them to exit. Frames still in the internal buffer are not drained: the
// hot path returns on cancellation without processing them.
func (s *Sniffer) Stop() {
	if !s.state.cas(StateRunning, StateStopping) {
		s.state.cas(StatePaused, StateStopping)
	}
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
	}
	s.state.store(StateStopped)
}

// Pause toggles candidate production off without tearing down the
// upstream connection.
func (s *Sniffer) Pause() {
	s.state.cas(StateRunning, StatePaused)
	s.pauseMu.Lock()
	s.paused = true
	s.pauseMu.Unlock()
}

// Resume toggles candidate production back on.
func (s *Sniffer) Resume() {
	s.state.cas(StatePaused, StateRunning)
	s.pauseMu.Lock()
	s.paused = false
	s.pauseMu.Unlock()
}

func (s *Sniffer) isPaused() bool {
	s.pauseMu.RLock()
	defer s.pauseMu.RUnlock()
	return s.paused
}

// Health is true iff the feed is connected, the queue is open, and the
// reconnect count is below a configured ceiling.
func (s *Sniffer) Health(reconnectCeiling uint64) bool {
	if s.state.load() == StateStopped {
		return false
	}
	if !s.connector.Connected() {
		return false
	}
	if s.counters.reconnectCount.load() >= reconnectCeiling {
		return false
	}
	return true
}

// MetricsSnapshot returns a point-in-time copy of the pipeline's counters.
func (s *Sniffer) MetricsSnapshot() SnifferMetrics {
	return s.counters.snapshot(s.queue)
}

// State returns the current lifecycle state.
func (s *Sniffer) State() State {
	return s.state.load()
}

var traceIDSeq atomicCounter

func newTraceID() uint64 {
	traceIDSeq.add(1)
	return traceIDSeq.load()
}
