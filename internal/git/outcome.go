package git

import (
	"fmt"
	"strings"
)

// Kind names the repository operation an Outcome belongs to.
type Kind int

const (
	Protect Kind = iota
	Register
	Commit
	Push
	Restore
	Fetch
	Integrate
)

func (k Kind) String() string {
	switch k {
	case Protect:
		return "protect"
	case Register:
		return "register"
	case Commit:
		return "commit"
	case Push:
		return "push"
	case Restore:
		return "restore"
	case Fetch:
		return "fetch"
	case Integrate:
		return "integrate"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Status classifies how an operation ended.
type Status int

const (
	Success Status = iota
	// NothingToDo means the command succeeded without changing anything,
	// e.g. a clean tree when stashing or nothing new to add.
	NothingToDo
	Conflict
	AuthFailure
	TransportFailure
	Unknown
)

func (s Status) String() string {
	switch s {
	case Success:
		return "success"
	case NothingToDo:
		return "nothing to do"
	case Conflict:
		return "conflict"
	case AuthFailure:
		return "authentication failure"
	case TransportFailure:
		return "transport failure"
	case Unknown:
		return "unknown failure"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Outcome is the classified result of one git invocation.
type Outcome struct {
	Kind     Kind
	Status   Status
	ExitCode int
	Stdout   string
	Stderr   string

	// startErr is set when git could not be started at all.
	startErr error
}

// OK reports whether the operation succeeded, with or without changes.
func (o Outcome) OK() bool {
	return o.Status == Success || o.Status == NothingToDo
}

// Err returns nil for Success and NothingToDo, otherwise a *RepoError.
func (o Outcome) Err() error {
	if o.OK() {
		return nil
	}
	return &RepoError{
		Kind:     o.Kind,
		Status:   o.Status,
		ExitCode: o.ExitCode,
		Output:   o.output(),
		cause:    o.startErr,
	}
}

func (o Outcome) output() string {
	out := strings.TrimSpace(o.Stderr)
	if stdout := strings.TrimSpace(o.Stdout); stdout != "" {
		if out != "" {
			out += "\n"
		}
		out += stdout
	}
	return out
}

// RepoError is a failed repository operation. Output holds the raw git
// output so the user can act on it.
type RepoError struct {
	Kind     Kind
	Status   Status
	ExitCode int
	Output   string

	cause error
}

func (e *RepoError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("git %s failed (%s): %v", e.Kind, e.Status, e.cause)
	}
	if line := headline(e.Output); line != "" {
		return fmt.Sprintf("git %s failed (%s): %s", e.Kind, e.Status, line)
	}
	return fmt.Sprintf("git %s failed (%s) with exit code %d", e.Kind, e.Status, e.ExitCode)
}

// Detail returns the raw git output.
func (e *RepoError) Detail() string {
	return e.Output
}

func (e *RepoError) Unwrap() error { return e.cause }

// headline picks the most telling line of git output: a conflict or
// rejection first, then a fatal or error line, else the first line.
func headline(s string) string {
	var lines []string
	for _, l := range strings.Split(strings.TrimSpace(s), "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) == 0 {
		return ""
	}
	for _, prefixes := range [][]string{{"CONFLICT", "! ["}, {"fatal:", "error:"}} {
		for _, l := range lines {
			for _, p := range prefixes {
				if strings.HasPrefix(l, p) {
					return l
				}
			}
		}
	}
	return lines[0]
}
