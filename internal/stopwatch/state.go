// Package stopwatch holds the elapsed-time model of the stopwatch and the
// background loop that samples it and publishes display text.
package stopwatch

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/squebler/stopwatch/internal/options"
)

// WithClock sets the time source used to measure segments.
func WithClock(c clock.Clock) options.Option[State] {
	return options.New(func(s *State) {
		if c != nil {
			s.clock = c
		}
	})
}

// State is the authoritative accumulated-duration model. Start, Stop and
// Reset are called by the presentation shell; the sampling side reads it
// through observe and sample. All fields are guarded by mu.
type State struct {
	clock clock.Clock

	mu             sync.Mutex
	running        bool
	resetRequested bool
	startedAt      time.Time
	accumulated    time.Duration // all completed segments
	epoch          uint64        // incremented every time a segment begins

	changed chan struct{}
}

// NewState returns a stopped State with zero elapsed time.
func NewState(opts ...options.Option[State]) *State {
	s := &State{
		clock:   clock.New(),
		changed: make(chan struct{}, 1),
	}
	options.ApplyAll(s, opts...)
	return s
}

// Start begins a new segment. Starting a running stopwatch has no effect.
// Resuming continues from the accumulated value; time spent stopped is never
// counted.
func (s *State) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.running = true
	s.startedAt = s.clock.Now()
	s.epoch++
	s.notify()
}

// Stop ends the current segment and folds its length into the accumulated
// total. Stopping a stopped stopwatch has no effect. Because sampling computes
// under the same lock, Stop never returns while a sample is mid-computation.
func (s *State) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.accumulated += s.sinceStart()
	s.running = false
	s.notify()
}

// Reset stops the stopwatch, discards any in-flight segment and zeroes the
// accumulated total. It raises the reset flag so the loop republishes the
// zero display exactly once.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.running = false
	s.resetRequested = true
	s.accumulated = 0
	s.notify()
}

// Running reports whether a segment is open.
func (s *State) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Elapsed returns the total elapsed time: the accumulated total plus the
// current segment while running.
func (s *State) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total()
}

// Epoch identifies the most recent segment. It is incremented by every Start
// that begins a segment.
func (s *State) Epoch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch
}

// Changed is signalled after every control operation that changed the state.
// Signals coalesce; a receiver must re-read the state rather than count them.
func (s *State) Changed() <-chan struct{} {
	return s.changed
}

// observation is a consistent view of the state taken under one lock.
type observation struct {
	running bool
	epoch   uint64
	reset   bool
	total   time.Duration
}

// observe returns the current state and consumes the reset flag.
func (s *State) observe() observation {
	s.mu.Lock()
	defer s.mu.Unlock()

	o := observation{
		running: s.running,
		epoch:   s.epoch,
		reset:   s.resetRequested,
		total:   s.total(),
	}
	s.resetRequested = false
	return o
}

// sample measures the segment identified by epoch. It returns false once that
// segment has ended, after which the caller must not publish.
func (s *State) sample(epoch uint64) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running || s.epoch != epoch {
		return 0, false
	}
	return s.total(), true
}

func (s *State) total() time.Duration {
	if !s.running {
		return s.accumulated
	}
	return s.accumulated + s.sinceStart()
}

func (s *State) sinceStart() time.Duration {
	d := s.clock.Now().Sub(s.startedAt)
	if d < 0 {
		return 0
	}
	return d
}

func (s *State) notify() {
	select {
	case s.changed <- struct{}{}:
	default:
	}
}
