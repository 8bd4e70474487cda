// Package logging provides structured zerolog loggers for btctx.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Logger is the process-wide logger. Library packages take an injected
// zerolog.Logger instead of reading this.
var Logger zerolog.Logger

// Component loggers.
var (
	Payment zerolog.Logger
	Network zerolog.Logger
	Store   zerolog.Logger
	CLI     zerolog.Logger
)

func init() {
	// Diagnostics go to stderr so command output on stdout stays clean.
	Logger = NewConsoleLogger(os.Stderr, "info")
	initComponentLoggers()
}

// Init configures Logger. When file is non-empty, logs go to both the console
// and the file; the file is always JSON.
func Init(level string, jsonOutput bool, file string) (io.Closer, error) {
	var closer io.Closer = nopCloser{}
	if file != "" {
		f, err := os.OpenFile(file, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			return nil, err
		}
		closer = f

		var consoleWriter io.Writer
		if jsonOutput {
			consoleWriter = os.Stderr
		} else {
			consoleWriter = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
		}
		Logger = zerolog.New(zerolog.MultiLevelWriter(consoleWriter, f)).
			Level(ParseLevel(level)).
			With().
			Timestamp().
			Logger()
	} else if jsonOutput {
		Logger = NewJSONLogger(os.Stderr, level)
	} else {
		Logger = NewConsoleLogger(os.Stderr, level)
	}

	initComponentLoggers()
	return closer, nil
}

// NewConsoleLogger creates a human-readable console logger.
func NewConsoleLogger(w io.Writer, level string) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: "15:04:05",
	}
	return zerolog.New(output).
		Level(ParseLevel(level)).
		With().
		Timestamp().
		Logger()
}

// NewJSONLogger creates a structured JSON logger.
func NewJSONLogger(w io.Writer, level string) zerolog.Logger {
	return zerolog.New(w).
		Level(ParseLevel(level)).
		With().
		Timestamp().
		Logger()
}

// ParseLevel converts a level name to a zerolog.Level. Unknown names mean info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func initComponentLoggers() {
	Payment = WithComponent("payment")
	Network = WithComponent("network")
	Store = WithComponent("store")
	CLI = WithComponent("cli")
}

// WithComponent returns a logger with a component field.
func WithComponent(name string) zerolog.Logger {
	return Logger.With().Str("component", name).Logger()
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
