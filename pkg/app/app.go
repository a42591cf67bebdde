package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"time"

	"github.com/avast/retry-go"
	"github.com/benbjohnson/clock"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/squebler/stopwatch/internal/display"
	"github.com/squebler/stopwatch/internal/options"
	"github.com/squebler/stopwatch/internal/stopwatch"
	"github.com/squebler/stopwatch/internal/terminal"
	"golang.org/x/sync/errgroup"
)

// ErrSamplingInFlight is returned when the timekeeping loop did not confirm
// the final stop within the close timeout.
var ErrSamplingInFlight = errors.New("sampling still in flight")

type Config struct {
	PollInterval    time.Duration
	SampleInterval  time.Duration
	RefreshInterval time.Duration
	CloseTimeout    time.Duration
}

func DefaultConfig() Config {
	return Config{
		PollInterval:    stopwatch.DefaultPollInterval,
		SampleInterval:  stopwatch.DefaultSampleInterval,
		RefreshInterval: terminal.DefaultRefreshInterval,
		CloseTimeout:    5 * time.Second,
	}
}

func WithLogger(logger *log.Logger) options.Option[App] {
	return options.New(func(a *App) {
		if logger != nil {
			a.logger = logger
		}
	})
}

// WithStateClock sets the clock elapsed time is measured with.
func WithStateClock(c clock.Clock) options.Option[App] {
	return options.New(func(a *App) {
		a.stateClock = c
	})
}

// App is one stopwatch session: the timer state, the timekeeping loop, the
// mailbox between them and the terminal shell.
type App struct {
	ID string

	cfg        Config
	logger     *log.Logger
	stateClock clock.Clock

	state   *stopwatch.State
	mailbox *display.Mailbox
	loop    *stopwatch.Loop
	shell   *terminal.Shell
}

func New(cfg Config, in io.Reader, out io.Writer, opts ...options.Option[App]) *App {
	a := &App{
		ID:     uuid.New().String(),
		cfg:    cfg,
		logger: log.Default(),
	}
	options.ApplyAll(a, opts...)
	a.logger = a.logger.With("session", a.ID)

	a.state = stopwatch.NewState(stopwatch.WithClock(a.stateClock))
	a.mailbox = display.NewMailbox()
	a.loop = stopwatch.NewLoop(a.state, a.mailbox,
		stopwatch.WithPollInterval(cfg.PollInterval),
		stopwatch.WithSampleInterval(cfg.SampleInterval),
		stopwatch.WithLogger(a.logger),
	)
	a.shell = terminal.NewShell(in, out, a.state, a.mailbox.Updates(),
		terminal.WithRefreshInterval(cfg.RefreshInterval),
		terminal.WithLogger(a.logger),
		terminal.WithCloseHandler(a.close),
	)
	return a
}

// State returns the timer state the shell controls.
func (a *App) State() *stopwatch.State {
	return a.state
}

// Run blocks until the shell closes. The loop runs on its own context so it
// keeps sampling, and then acknowledges the stop, while the shell's close
// handler waits for it; only then is the loop cancelled and joined.
func (a *App) Run(ctx context.Context) error {
	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()

	a.logger.Info("Starting stopwatch")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(guard("timekeeping loop", func() error {
		return a.loop.Run(loopCtx)
	}))
	g.Go(guard("terminal shell", func() error {
		defer stopLoop()
		return a.shell.Run(gctx)
	}))

	if err := g.Wait(); err != nil {
		a.logger.Error("Stopwatch stopped with error", "error", err)
		return err
	}

	a.logger.Info("Stopwatch closed", "elapsed", stopwatch.Format(a.state.Elapsed()), "redraws_skipped", a.mailbox.Replaced())
	return nil
}

// close stops the timer and polls until the loop has settled the segment
// that was current at the stop: its sampler joined and the frozen value
// published. Once the close timeout is spent it reports ErrSamplingInFlight.
func (a *App) close() error {
	a.state.Stop()
	epoch := a.state.Epoch()

	delay := a.cfg.PollInterval
	if delay <= 0 {
		delay = stopwatch.DefaultPollInterval
	}
	attempts := uint(a.cfg.CloseTimeout / delay)
	if attempts == 0 {
		attempts = 1
	}

	err := retry.Do(
		func() error {
			if !a.loop.Settled(epoch) {
				return ErrSamplingInFlight
			}
			return nil
		},
		retry.Attempts(attempts),
		retry.Delay(delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return fmt.Errorf("failed to close after %v: %w", a.cfg.CloseTimeout, err)
	}

	a.logger.Debug("Close acknowledged by timekeeping loop")
	return nil
}

// guard turns a panic in fn into an error so the group unwinds, the terminal
// is restored and the caller can terminate the process.
func guard(name string, fn func() error) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic in %s: %v\n%s", name, r, debug.Stack())
			}
		}()
		return fn()
	}
}
