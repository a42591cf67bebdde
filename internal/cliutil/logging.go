package cliutil

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
)

// ConfigureLogging sets the level of the default logger and, when file is not
// empty, sends its output there so it does not interleave with the display.
// The returned function closes the log file.
func ConfigureLogging(level, file string) (func() error, error) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	log.SetLevel(lvl)
	log.SetReportTimestamp(true)

	if file == "" {
		return func() error { return nil }, nil
	}

	f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	log.SetOutput(f)
	return func() error {
		log.SetOutput(os.Stderr)
		return f.Close()
	}, nil
}
