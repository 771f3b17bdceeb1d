package sync

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/nedots/nedots/internal/output"
)

// ErrDivergedHistory aborts a pull when the local branch cannot be
// fast-forwarded to the remote one.
var ErrDivergedHistory = errors.New("local and remote history have diverged, resolve it manually with git")

// WorkflowError reports the stage a workflow failed at. RestoreErr is set
// when popping the stash also failed; it never replaces Reason.
type WorkflowError struct {
	Workflow   string
	At         Stage
	Reason     error
	RestoreErr error
	Trail      []Stage
}

func (e *WorkflowError) Error() string {
	msg := fmt.Sprintf("%s failed at %s: %v", e.Workflow, e.At, e.Reason)
	if e.RestoreErr != nil {
		msg += fmt.Sprintf(" (restoring stashed changes also failed: %v)", e.RestoreErr)
	}
	return msg
}

func (e *WorkflowError) Unwrap() []error {
	if e.RestoreErr != nil {
		return []error{e.Reason, e.RestoreErr}
	}
	return []error{e.Reason}
}

// Detail returns the raw output attached to the reason and the restore
// failure, if any.
func (e *WorkflowError) Detail() string {
	var parts []string
	for _, err := range []error{e.Reason, e.RestoreErr} {
		var d output.Detailer
		if err != nil && errors.As(err, &d) {
			if s := d.Detail(); s != "" {
				parts = append(parts, s)
			}
		}
	}
	return strings.Join(parts, "\n")
}

// Format prints the stage trail with %+v.
func (e *WorkflowError) Format(f fmt.State, verb rune) {
	switch {
	case verb == 'v' && f.Flag('+'):
		stages := make([]string, 0, len(e.Trail))
		for _, s := range e.Trail {
			stages = append(stages, s.String())
		}
		_, _ = fmt.Fprintf(f, "%s\n  stages: %s\n  failed at: %s\n  reason: %v",
			e.Error(), strings.Join(stages, " -> "), e.At, e.Reason)
		if e.RestoreErr != nil {
			_, _ = fmt.Fprintf(f, "\n  restore: %v", e.RestoreErr)
		}
	default:
		_, _ = io.WriteString(f, e.Error())
	}
}

// LocalChangesError lists local files that changed after the managed
// directory was last updated and would be overwritten by a pull.
type LocalChangesError struct {
	Paths []string
}

func (e *LocalChangesError) Error() string {
	if len(e.Paths) == 1 {
		return fmt.Sprintf("%s was modified more recently than the latest changes, use --force to overwrite it", e.Paths[0])
	}
	return fmt.Sprintf("%d files were modified more recently than the latest changes, use --force to overwrite them", len(e.Paths))
}

// Detail lists every modified file.
func (e *LocalChangesError) Detail() string {
	lines := make([]string, 0, len(e.Paths))
	for _, p := range e.Paths {
		lines = append(lines, "  "+p)
	}
	return strings.Join(lines, "\n")
}
