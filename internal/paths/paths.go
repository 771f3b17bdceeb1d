// Package paths resolves the configured dotfile locations into SyncTargets.
//
// Resolution is fail-complete: every configured entry is attempted and all
// broken entries are reported together, so a single run shows the user
// every path that needs fixing.
package paths

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is wrapped by PathError when a path cannot be canonicalized.
var ErrNotFound = errors.New("path not found")

// Owner says which privilege level a target needs to be read.
type Owner int

const (
	// User targets live under the invoking user's home directory.
	User Owner = iota
	// Root targets need elevated privilege.
	Root
)

func (o Owner) String() string {
	if o == Root {
		return "root"
	}
	return "user"
}

// SyncTarget is a configured file or directory designated for copying into
// the managed directory.
type SyncTarget struct {
	// SourcePath is absolute and canonical.
	SourcePath string
	IsDir      bool
	Owner      Owner
	// Spec is the string as written in the configuration.
	Spec string
}

// PathError reports a single unresolvable entry.
type PathError struct {
	Spec string
	Err  error
}

func (e *PathError) Error() string {
	return fmt.Sprintf("could not resolve path %q: %v", e.Spec, e.Err)
}

func (e *PathError) Unwrap() []error { return []error{ErrNotFound, e.Err} }

// BadPathsError aggregates every unresolvable entry of a batch.
type BadPathsError struct {
	Paths []string
}

func (e *BadPathsError) Error() string {
	return fmt.Sprintf("could not resolve paths: %s", strings.Join(e.Paths, ", "))
}

func (e *BadPathsError) Unwrap() error { return ErrNotFound }

// Resolution is the outcome for one input entry.
type Resolution struct {
	Spec string
	Path string
	Err  error
}

// Resolve canonicalizes each spec against base. Output is 1:1 with input
// and in the same order; failures are recorded per entry.
func Resolve(base string, specs []string) []Resolution {
	out := make([]Resolution, 0, len(specs))
	for _, spec := range specs {
		path, err := canonicalize(base, spec)
		out = append(out, Resolution{Spec: spec, Path: path, Err: err})
	}
	return out
}

// ResolveAll resolves every spec and, only after the whole list has been
// processed, returns a BadPathsError naming all entries that failed.
func ResolveAll(base string, specs []string) ([]string, error) {
	if err := checkBase(base); err != nil {
		return nil, err
	}

	var (
		resolved []string
		bad      []string
	)
	for _, r := range Resolve(base, specs) {
		if r.Err != nil {
			bad = append(bad, r.Spec)
			continue
		}
		resolved = append(resolved, r.Path)
	}

	if len(bad) > 0 {
		return nil, &BadPathsError{Paths: bad}
	}
	return resolved, nil
}

// Targets resolves the root list against "/" and the user list against
// home. Bad paths from both lists are reported in one BadPathsError.
func Targets(root, user []string, home string) ([]SyncTarget, error) {
	if err := checkBase(home); err != nil {
		return nil, err
	}

	var (
		targets []SyncTarget
		bad     []string
	)

	collect := func(base string, specs []string, owner Owner) {
		for _, r := range Resolve(base, specs) {
			if r.Err != nil {
				bad = append(bad, r.Spec)
				continue
			}
			info, err := os.Stat(r.Path)
			if err != nil {
				bad = append(bad, r.Spec)
				continue
			}
			targets = append(targets, SyncTarget{
				SourcePath: r.Path,
				IsDir:      info.IsDir(),
				Owner:      owner,
				Spec:       r.Spec,
			})
		}
	}

	collect(string(filepath.Separator), root, Root)
	collect(home, user, User)

	if len(bad) > 0 {
		return nil, &BadPathsError{Paths: bad}
	}
	return targets, nil
}

// ByOwner returns the targets with the given owner, preserving order.
func ByOwner(targets []SyncTarget, owner Owner) []SyncTarget {
	var out []SyncTarget
	for _, t := range targets {
		if t.Owner == owner {
			out = append(out, t)
		}
	}
	return out
}

func checkBase(base string) error {
	info, err := os.Stat(base)
	if err != nil {
		return fmt.Errorf("base directory %q: %w", base, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("base directory %q is not a directory", base)
	}
	return nil
}

func canonicalize(base, spec string) (string, error) {
	if spec == "" {
		return "", &PathError{Spec: spec, Err: errors.New("empty path")}
	}

	path := spec
	if !filepath.IsAbs(path) {
		path = filepath.Join(base, path)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", &PathError{Spec: spec, Err: err}
	}

	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", &PathError{Spec: spec, Err: err}
	}
	return canonical, nil
}
