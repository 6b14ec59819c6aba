// ABOUTME: Logrus configuration shared by every command
// ABOUTME: Text or JSON output, level selection and an optional file hook
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
)

// Options selects how logs are written.
type Options struct {
	Debug bool
	JSON  bool

	// File, when set, receives every entry at or above the configured level.
	File string

	// Quiet disables the stdout writer; entries still reach File.
	// Used while a TUI owns the terminal.
	Quiet bool

	// Out overrides stdout. Tests only.
	Out io.Writer
}

// Configure builds a logger from opts. The returned close func releases
// the log file, if one was opened.
func Configure(opts Options) (*logrus.Logger, func() error, error) {
	log := logrus.New()
	log.SetFormatter(formatter(opts.JSON))

	log.SetLevel(logrus.WarnLevel)
	if opts.Debug {
		log.SetLevel(logrus.DebugLevel)
	}

	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	if opts.Quiet {
		out = io.Discard
	}
	log.SetOutput(out)

	closer := func() error { return nil }
	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		log.AddHook(lfshook.NewHook(f, formatter(opts.JSON)))
		closer = f.Close
	}

	return log, closer, nil
}

func formatter(json bool) logrus.Formatter {
	if json {
		return &logrus.JSONFormatter{}
	}
	return &logrus.TextFormatter{FullTimestamp: true, DisableColors: true}
}
