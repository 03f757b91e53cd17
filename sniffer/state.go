package sniffer

import "sync/atomic"

// State is the sniffer lifecycle state (§4.1 "State machine").
type State int32

const (
	StateInitialized State = iota
	StateRunning
	StatePaused
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInitialized:
		return "initialized"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

type stateBox struct {
	v atomic.Int32
}

func (b *stateBox) load() State {
	return State(b.v.Load())
}

func (b *stateBox) store(s State) {
	b.v.Store(int32(s))
}

// cas is the single CAS entry point for state transitions; callers never
// read-then-write.
func (b *stateBox) cas(from, to State) bool {
	return b.v.CompareAndSwap(int32(from), int32(to))
}
