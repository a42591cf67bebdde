// Package terminal is the presentation shell of the stopwatch: it maps key
// presses to control operations and repaints the elapsed time on a single
// line. One goroutine owns the output writer for the whole session.
package terminal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/charmbracelet/log"
	"github.com/moby/term"
	"github.com/squebler/stopwatch/internal/options"
	"github.com/squebler/stopwatch/internal/stopwatch"
)

const DefaultRefreshInterval = 10 * time.Millisecond

const help = "s: start   x: stop   r: reset   q: quit"

// Controls are the operations the shell's keys drive.
type Controls interface {
	Start()
	Stop()
	Reset()
}

func WithRefreshInterval(d time.Duration) options.Option[Shell] {
	return options.New(func(s *Shell) {
		if d > 0 {
			s.refresh = d
		}
	})
}

func WithClock(c clock.Clock) options.Option[Shell] {
	return options.New(func(s *Shell) {
		if c != nil {
			s.clock = c
		}
	})
}

func WithLogger(logger *log.Logger) options.Option[Shell] {
	return options.New(func(s *Shell) {
		if logger != nil {
			s.logger = logger
		}
	})
}

// WithCloseHandler sets the function run when the user asks to quit. The
// shell keeps its output until the handler returns, then paints the final
// value and exits.
func WithCloseHandler(handler func() error) options.Option[Shell] {
	return options.New(func(s *Shell) {
		s.closeHandler = handler
	})
}

type Shell struct {
	in       io.Reader
	out      io.Writer
	controls Controls
	updates  <-chan string

	refresh      time.Duration
	clock        clock.Clock
	logger       *log.Logger
	closeHandler func() error

	current string
}

func NewShell(in io.Reader, out io.Writer, controls Controls, updates <-chan string, opts ...options.Option[Shell]) *Shell {
	s := &Shell{
		in:           in,
		out:          out,
		controls:     controls,
		updates:      updates,
		refresh:      DefaultRefreshInterval,
		clock:        clock.New(),
		logger:       log.Default(),
		closeHandler: func() error { return nil },
		current:      stopwatch.Zero,
	}
	options.ApplyAll(s, opts...)
	return s
}

type action int

const (
	actionNone action = iota
	actionStart
	actionStop
	actionReset
	actionQuit
)

func keyAction(b byte) action {
	switch b {
	case 's', 'S':
		return actionStart
	case 'x', 'X':
		return actionStop
	case 'r', 'R':
		return actionReset
	case 'q', 'Q', 0x03, 0x04: // Ctrl-C, Ctrl-D
		return actionQuit
	default:
		return actionNone
	}
}

// Run owns the terminal until the user quits, the input ends or ctx is done.
// All three count as a close request and run the close handler. When the
// input is a terminal it is switched to raw mode and restored on return.
func (s *Shell) Run(ctx context.Context) error {
	if fd, isTerminal := term.GetFdInfo(s.in); isTerminal {
		state, err := term.MakeRaw(fd)
		if err != nil {
			return fmt.Errorf("failed to set raw mode: %w", err)
		}
		defer func() {
			if err := term.RestoreTerminal(fd, state); err != nil {
				s.logger.Error("Failed to restore terminal", "error", err)
			}
		}()
	}

	done := make(chan struct{})
	defer close(done)
	keys := make(chan byte)
	readErr := make(chan error, 1)
	go s.readKeys(keys, readErr, done)

	s.printf("%s\r\n", help)
	s.paint()

	ticker := s.clock.Ticker(s.refresh)
	defer ticker.Stop()

	dirty := false
	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("shell context done")
			return s.close()

		case err := <-readErr:
			if errors.Is(err, io.EOF) {
				s.logger.Debug("input closed")
				return s.close()
			}
			closeErr := s.close()
			return errors.Join(fmt.Errorf("failed to read input: %w", err), closeErr)

		case b := <-keys:
			switch keyAction(b) {
			case actionStart:
				s.controls.Start()
			case actionStop:
				s.controls.Stop()
			case actionReset:
				s.controls.Reset()
			case actionQuit:
				return s.close()
			}

		case text := <-s.updates:
			if text != s.current {
				s.current = text
				dirty = true
			}

		case <-ticker.C:
			if dirty {
				s.paint()
				dirty = false
			}
		}
	}
}

// close runs the close handler, then paints whatever the loop published last.
func (s *Shell) close() error {
	err := s.closeHandler()

	select {
	case text := <-s.updates:
		s.current = text
	default:
	}
	s.paint()
	s.printf("\r\n")
	return err
}

func (s *Shell) paint() {
	s.printf("\r%s\x1b[K", s.current)
}

func (s *Shell) printf(format string, args ...any) {
	if _, err := fmt.Fprintf(s.out, format, args...); err != nil {
		s.logger.Debug("Failed to write output", "error", err)
	}
}

// readKeys forwards input bytes until the reader fails or done is closed. A
// blocked Read cannot be interrupted; the goroutine ends with the next byte or
// when the input is closed.
func (s *Shell) readKeys(keys chan<- byte, readErr chan<- error, done <-chan struct{}) {
	buf := make([]byte, 64)
	for {
		n, err := s.in.Read(buf)
		for _, b := range buf[:n] {
			select {
			case keys <- b:
			case <-done:
				return
			}
		}
		if err != nil {
			select {
			case readErr <- err:
			case <-done:
			}
			return
		}
	}
}
