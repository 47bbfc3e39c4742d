package node

import (
	"sync"
	"sync/atomic"
)

// State captures the lifecycle state of an Astreum node: Initializing,
// Running, or Shutdown
type State uint32

const (
	// Initializing is the state before Init has completed.
	Initializing State = iota
	// Running is the normal operating state.
	Running
	// Shutdown is shutdown
	Shutdown
)

// String ...
func (s State) String() string {
	switch s {
	case Initializing:
		return "Initializing"
	case Running:
		return "Running"
	case Shutdown:
		return "Shutdown"
	default:
		return "Unknown"
	}
}

type state struct {
	cur uint32

	wg sync.WaitGroup
}

func (s *state) getState() State {
	return State(atomic.LoadUint32(&s.cur))
}

func (s *state) setState(n State) {
	atomic.StoreUint32(&s.cur, uint32(n))
}

// goFunc runs a routine counted by the shutdown barrier.
func (s *state) goFunc(f func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		f()
	}()
}

func (s *state) waitRoutines() {
	s.wg.Wait()
}
