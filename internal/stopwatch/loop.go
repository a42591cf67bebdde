package stopwatch

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/charmbracelet/log"
	"github.com/squebler/stopwatch/internal/options"
)

const (
	DefaultPollInterval   = time.Millisecond
	DefaultSampleInterval = time.Millisecond
)

// Publisher receives formatted elapsed-time text. Publish is called from the
// loop's goroutines and must neither block nor touch presentation state
// directly.
type Publisher interface {
	Publish(text string)
}

// WithPollInterval sets how often the loop checks the state when no change
// signal arrives.
func WithPollInterval(d time.Duration) options.Option[Loop] {
	return options.New(func(l *Loop) {
		if d > 0 {
			l.pollInterval = d
		}
	})
}

// WithSampleInterval sets how often a running segment is sampled and
// published.
func WithSampleInterval(d time.Duration) options.Option[Loop] {
	return options.New(func(l *Loop) {
		if d > 0 {
			l.sampleInterval = d
		}
	})
}

// WithLoopClock sets the clock that drives the poll and sample tickers.
func WithLoopClock(c clock.Clock) options.Option[Loop] {
	return options.New(func(l *Loop) {
		if c != nil {
			l.clock = c
		}
	})
}

func WithLogger(logger *log.Logger) options.Option[Loop] {
	return options.New(func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	})
}

// Loop watches a State for run, stop and reset transitions. While the state
// is running it keeps exactly one sampler goroutine alive, which publishes the
// formatted total at the sample interval. The loop itself is the only other
// publisher and only publishes after joining the sampler, so publications are
// never reordered.
type Loop struct {
	state *State
	pub   Publisher

	clock          clock.Clock
	pollInterval   time.Duration
	sampleInterval time.Duration
	logger         *log.Logger

	sampling atomic.Bool
	settled  atomic.Uint64 // epoch+1 of the last stop fully handled, 0 while running
	seen     uint64        // last epoch observed by reconcile; owned by Run
}

type sampler struct {
	epoch  uint64
	cancel context.CancelFunc
	done   chan struct{}
}

func NewLoop(state *State, pub Publisher, opts ...options.Option[Loop]) *Loop {
	l := &Loop{
		state:          state,
		pub:            pub,
		clock:          clock.New(),
		pollInterval:   DefaultPollInterval,
		sampleInterval: DefaultSampleInterval,
		logger:         log.Default(),
	}
	options.ApplyAll(l, opts...)
	return l
}

// Sampling reports whether a sampler goroutine is alive.
func (l *Loop) Sampling() bool {
	return l.sampling.Load()
}

// Settled reports whether the loop has observed the state stopped at the
// given segment epoch, joined that segment's sampler and published the final
// value. It is false until the loop has caught up with the state.
func (l *Loop) Settled(epoch uint64) bool {
	return l.settled.Load() == epoch+1
}

// Run drives the loop until ctx is done. Before returning it cancels and
// joins any sampler, so no goroutine started by the loop outlives Run.
func (l *Loop) Run(ctx context.Context) error {
	ticker := l.clock.Ticker(l.pollInterval)
	defer ticker.Stop()

	var s *sampler
	defer func() {
		if s != nil {
			l.join(s)
			l.sampling.Store(false)
		}
		l.logger.Debug("timekeeping loop stopped")
	}()

	l.logger.Debug("timekeeping loop started", "poll", l.pollInterval, "sample", l.sampleInterval)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-l.state.Changed():
		case <-ticker.C:
		}
		s = l.reconcile(ctx, s)
	}
}

// reconcile brings the sampler in line with the state and publishes the
// stopped or reset value. It returns the sampler that should be alive.
func (l *Loop) reconcile(ctx context.Context, s *sampler) *sampler {
	o := l.state.observe()

	stopped := false
	if s != nil && (!o.running || o.epoch != s.epoch) {
		l.join(s)
		s = nil
		stopped = true
	}
	// A segment that began and ended between two observations.
	if s == nil && !o.running && o.epoch != l.seen {
		stopped = true
	}
	l.seen = o.epoch

	switch {
	case o.reset:
		l.logger.Debug("reset consumed")
		l.pub.Publish(Zero)
	case stopped:
		l.pub.Publish(Format(o.total))
	}
	if s == nil {
		l.sampling.Store(false)
	}

	if o.running {
		l.settled.Store(0)
		if s == nil {
			s = l.spawn(ctx, o.epoch)
		}
		return s
	}
	// Stored only after the final value is out, so a caller that sees the
	// epoch settled also sees the frozen display text.
	l.settled.Store(o.epoch + 1)
	return s
}

func (l *Loop) spawn(ctx context.Context, epoch uint64) *sampler {
	sctx, cancel := context.WithCancel(ctx)
	s := &sampler{
		epoch:  epoch,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	l.sampling.Store(true)
	l.logger.Debug("sampler started", "epoch", epoch)
	go l.sample(sctx, s)
	return s
}

func (l *Loop) join(s *sampler) {
	s.cancel()
	<-s.done
	l.logger.Debug("sampler joined", "epoch", s.epoch)
}

func (l *Loop) sample(ctx context.Context, s *sampler) {
	defer close(s.done)

	ticker := l.clock.Ticker(l.sampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		total, ok := l.state.sample(s.epoch)
		if !ok {
			return
		}
		l.pub.Publish(Format(total))
	}
}
