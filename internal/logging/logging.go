// Package logging builds the zerolog logger shared by the CLI and the HTTP
// server.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Options struct {
	Verbose bool
	Quiet   bool
	// File, when set, receives a rotated JSON copy of every entry.
	File string
	// Console overrides the stderr writer. Tests pass a buffer here.
	Console io.Writer
}

// Logger owns the optional log file so callers can close it on shutdown.
type Logger struct {
	zerolog.Logger
	file io.WriteCloser
}

func New(opts Options) (Logger, error) {
	console := opts.Console
	if console == nil {
		console = stderrWriter()
	}
	out := console
	var file io.WriteCloser
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o750); err != nil {
			return Logger{}, fmt.Errorf("create log directory: %w", err)
		}
		file = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     28,
			Compress:   true,
		}
		out = zerolog.MultiLevelWriter(console, file)
	}
	zl := zerolog.New(out).Level(Level(opts.Verbose, opts.Quiet)).With().Timestamp().Logger()
	return Logger{Logger: zl, file: file}, nil
}

func (l Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Level picks the threshold from the CLI flags. Verbose wins over quiet.
func Level(verbose, quiet bool) zerolog.Level {
	switch {
	case verbose:
		return zerolog.DebugLevel
	case quiet:
		return zerolog.WarnLevel
	default:
		return zerolog.InfoLevel
	}
}

func stderrWriter() io.Writer {
	if term.IsTerminal(int(os.Stderr.Fd())) && os.Getenv("NO_COLOR") == "" {
		return zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	}
	return os.Stderr
}
