package sync

import (
	"fmt"
	"strings"
)

// Stage is a point in a sync workflow.
type Stage int

const (
	Start Stage = iota
	Protected
	Copied
	Registered
	Committed
	Published
	Fetched
	FastForwarded
	Aborted
	Reconciled
	Restored
	Done
	Failed
)

func (s Stage) String() string {
	switch s {
	case Start:
		return "start"
	case Protected:
		return "protected"
	case Copied:
		return "copied"
	case Registered:
		return "registered"
	case Committed:
		return "committed"
	case Published:
		return "published"
	case Fetched:
		return "fetched"
	case FastForwarded:
		return "fast-forwarded"
	case Aborted:
		return "aborted"
	case Reconciled:
		return "reconciled"
	case Restored:
		return "restored"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// WorkflowState tracks the stages a single workflow run has passed through.
// It lives for one run and is never shared.
type WorkflowState struct {
	name    string
	trail   []Stage
	failed  bool
	failAt  Stage
	stashed bool
	// protected is true once Protect succeeded, with or without a stash.
	protected bool
}

func newWorkflowState(name string) *WorkflowState {
	return &WorkflowState{name: name, trail: []Stage{Start}}
}

// Current returns the most recent stage.
func (w *WorkflowState) Current() Stage {
	if w.failed {
		return Failed
	}
	return w.trail[len(w.trail)-1]
}

// Trail returns every stage reached so far, in order.
func (w *WorkflowState) Trail() []Stage {
	return append([]Stage(nil), w.trail...)
}

// Reached reports whether s is in the trail.
func (w *WorkflowState) Reached(s Stage) bool {
	for _, t := range w.trail {
		if t == s {
			return true
		}
	}
	return false
}

// NeedsRestore reports whether the Restore stage must run before the
// workflow ends.
func (w *WorkflowState) NeedsRestore() bool {
	return w.protected && !w.Reached(Restored)
}

func (w *WorkflowState) advance(s Stage) {
	w.trail = append(w.trail, s)
	if s == Protected {
		w.protected = true
	}
}

func (w *WorkflowState) fail(at Stage) {
	w.failed = true
	w.failAt = at
}

func (w *WorkflowState) String() string {
	parts := make([]string, 0, len(w.trail)+1)
	for _, s := range w.trail {
		parts = append(parts, s.String())
	}
	if w.failed {
		parts = append(parts, fmt.Sprintf("failed at %s", w.failAt))
	}
	return w.name + ": " + strings.Join(parts, " -> ")
}
