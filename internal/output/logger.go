// Package output holds the leveled logger consulted by every workflow step
// and the terminal presenter used for the final, user-facing lines.
package output

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Verbosity determines how much progress output nedots produces.
type Verbosity int

const (
	// Quiet prints nothing but the final outcome.
	Quiet Verbosity = iota
	// Low reports workflow stages.
	Low
	// Medium adds per-file copy lines.
	Medium
	// High adds the git command lines being run.
	High
	// Debug logs everything, including raw git output.
	Debug
)

func (v Verbosity) String() string {
	switch v {
	case Quiet:
		return "quiet"
	case Low:
		return "low"
	case Medium:
		return "medium"
	case High:
		return "high"
	case Debug:
		return "debug"
	default:
		return fmt.Sprintf("verbosity(%d)", int(v))
	}
}

// FromCount maps a repeated -v flag to a Verbosity; four or more reach
// Debug. debug overrides the count.
func FromCount(count int, debug bool) Verbosity {
	if debug {
		return Debug
	}
	switch {
	case count <= 0:
		return Quiet
	case count >= int(Debug):
		return Debug
	default:
		return Verbosity(count)
	}
}

// slogLevel places each verbosity on the slog scale so a plain slog handler
// can still filter the stream.
func (v Verbosity) slogLevel() slog.Level {
	switch v {
	case Debug:
		return slog.LevelDebug
	case High, Medium:
		return slog.LevelDebug + 2
	default:
		return slog.LevelInfo
	}
}

// Logger is the single logging facility: callers pass a level, the logger
// owns the gate.
type Logger struct {
	verbosity Verbosity
	slog      *slog.Logger
}

// New creates a Logger writing through handler.
func New(verbosity Verbosity, handler slog.Handler) *Logger {
	return &Logger{verbosity: verbosity, slog: slog.New(handler)}
}

// NewText creates a Logger with a slog text or json handler on w. Every
// record that passes the verbosity gate is written.
func NewText(w io.Writer, verbosity Verbosity, format string) *Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelDebug}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return New(verbosity, handler)
}

// Discard returns a Logger that drops everything.
func Discard() *Logger {
	return NewText(io.Discard, Quiet, "text")
}

// Verbosity returns the configured level.
func (l *Logger) Verbosity() Verbosity {
	return l.verbosity
}

// Enabled reports whether a message at level would be written.
func (l *Logger) Enabled(level Verbosity) bool {
	if l == nil {
		return false
	}
	return level <= l.verbosity
}

// Log writes msg when the configured verbosity is at least level.
func (l *Logger) Log(level Verbosity, msg string, args ...any) {
	if !l.Enabled(level) {
		return
	}
	l.slog.Log(context.Background(), level.slogLevel(), msg, args...)
}

// Warn is never gated; it is used for conditions the user must see.
func (l *Logger) Warn(msg string, args ...any) {
	if l == nil {
		return
	}
	l.slog.Warn(msg, args...)
}

// Error is never gated.
func (l *Logger) Error(msg string, args ...any) {
	if l == nil {
		return
	}
	l.slog.Error(msg, args...)
}

// Slog exposes the underlying logger for code that wants plain slog.
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}
