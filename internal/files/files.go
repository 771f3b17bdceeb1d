// Package files copies configured dotfiles into and out of the managed
// directory.
package files

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	// ErrInvalidFileName marks a source with no usable base name, such as a
	// path ending in "..".
	ErrInvalidFileName = errors.New("path has no file name, is it relative or malformed?")
	// ErrSymlink marks a symlink the filesystem cannot recreate.
	ErrSymlink = errors.New("symlinks are not followed and cannot be recreated on this filesystem")
	// ErrNotRegular marks sockets, devices and pipes.
	ErrNotRegular = errors.New("not a regular file")
)

// Outcome of copying one leaf file.
type Outcome int

const (
	Copied Outcome = iota
	Failed
)

func (o Outcome) String() string {
	if o == Failed {
		return "failed"
	}
	return "copied"
}

// CopyResult records what happened to one leaf file.
type CopyResult struct {
	SourcePath      string
	DestinationPath string
	Outcome         Outcome
	// Err is set when Outcome is Failed.
	Err error
}

// Failures returns the failed results, preserving order.
func Failures(results []CopyResult) []CopyResult {
	var out []CopyResult
	for _, r := range results {
		if r.Outcome == Failed {
			out = append(out, r)
		}
	}
	return out
}

// Err returns a *CopyError when any result failed, nil otherwise.
func Err(results []CopyResult) error {
	failed := Failures(results)
	if len(failed) == 0 {
		return nil
	}
	return &CopyError{Failed: failed, Total: len(results)}
}

// CopyError aggregates the failed entries of a batch.
type CopyError struct {
	Failed []CopyResult
	Total  int
}

func (e *CopyError) Error() string {
	first := e.Failed[0]
	if len(e.Failed) == 1 {
		return fmt.Sprintf("failed to copy %s: %v", first.SourcePath, first.Err)
	}
	return fmt.Sprintf("%d of %d files failed to copy, first %s: %v", len(e.Failed), e.Total, first.SourcePath, first.Err)
}

// Detail lists every failed entry, one per line.
func (e *CopyError) Detail() string {
	lines := make([]string, 0, len(e.Failed))
	for _, r := range e.Failed {
		lines = append(lines, fmt.Sprintf("  %s: %v", r.SourcePath, r.Err))
	}
	return strings.Join(lines, "\n")
}

// Is lets errors.Is find the sentinel of any failed entry.
func (e *CopyError) Is(target error) bool {
	for _, r := range e.Failed {
		if errors.Is(r.Err, target) {
			return true
		}
	}
	return false
}

// Mirror returns where an absolute source path lives inside the managed
// directory: /etc/hosts under ~/.nedots is ~/.nedots/etc/hosts.
func Mirror(managedDir, source string) string {
	return filepath.Join(managedDir, source)
}
