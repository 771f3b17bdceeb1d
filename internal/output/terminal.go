package output

import (
	"errors"
	"fmt"
	"io"

	"github.com/fatih/color"
)

// Terminal prints the final outcome of a command. Colors are dropped
// automatically when w is not a terminal or NO_COLOR is set.
type Terminal struct {
	w     io.Writer
	debug bool

	ok   *color.Color
	warn *color.Color
	fail *color.Color
	dim  *color.Color
}

// NewTerminal creates a Terminal. In debug mode Failure also prints the
// structured error detail.
func NewTerminal(w io.Writer, debug bool) *Terminal {
	return &Terminal{
		w:     w,
		debug: debug,
		ok:    color.New(color.FgHiGreen),
		warn:  color.New(color.FgYellow),
		fail:  color.New(color.FgRed, color.Bold),
		dim:   color.New(color.Faint),
	}
}

// Success prints a green status line.
func (t *Terminal) Success(format string, args ...any) {
	_, _ = t.ok.Fprintf(t.w, "✓ "+format+"\n", args...)
}

// Warning prints a yellow status line.
func (t *Terminal) Warning(format string, args ...any) {
	_, _ = t.warn.Fprintf(t.w, "! "+format+"\n", args...)
}

// Info prints an uncolored line.
func (t *Terminal) Info(format string, args ...any) {
	_, _ = fmt.Fprintf(t.w, format+"\n", args...)
}

// Failure prints err in red. Errors that carry raw command output (see
// Detailer) have it printed verbatim below the message.
func (t *Terminal) Failure(err error) {
	if err == nil {
		return
	}
	_, _ = t.fail.Fprintf(t.w, "✗ %v\n", err)

	var d Detailer
	if errors.As(err, &d) {
		if detail := d.Detail(); detail != "" {
			_, _ = fmt.Fprintln(t.w, detail)
		}
	}

	if t.debug {
		_, _ = t.dim.Fprintf(t.w, "%+v\n", err)
	}
}

// Detailer is implemented by errors that carry user-actionable output, such
// as the stderr of a rejected git push.
type Detailer interface {
	Detail() string
}
