package files

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/nedots/nedots/internal/output"
	"github.com/nedots/nedots/internal/paths"
	"github.com/spf13/afero"
)

// Params configures an Engine.
type Params struct {
	// Fs defaults to the OS filesystem when nil.
	Fs     afero.Fs
	Logger *output.Logger
	// FailFast stops the batch at the first failed leaf.
	FailFast bool
}

// Engine copies sources into a destination tree. It holds no state between
// calls.
type Engine struct {
	fs       afero.Fs
	logger   *output.Logger
	failFast bool
}

// NewEngine creates a new copy engine
func NewEngine(p Params) *Engine {
	fs := p.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	logger := p.Logger
	if logger == nil {
		logger = output.Discard()
	}
	return &Engine{fs: fs, logger: logger, failFast: p.FailFast}
}

// run accumulates results for one Copy call.
type run struct {
	*Engine
	results []CopyResult
	stopped bool
}

// Copy copies every source into dest and returns one result per leaf file.
//
// A file source lands at dest, or at dest/<name> when dest is an existing
// directory. A directory source has its contents copied into dest with the
// relative structure kept. The batch is not atomic: files copied before a
// failure stay in place.
func (e *Engine) Copy(sources []paths.SyncTarget, dest string) []CopyResult {
	r := &run{Engine: e}
	for _, src := range sources {
		if r.stopped {
			break
		}
		r.copySource(src.SourcePath, dest)
	}
	return r.results
}

func (r *run) record(src, dst string, err error) {
	if err != nil {
		r.logger.Log(output.Medium, "copy failed", "source", src, "dest", dst, "error", err)
		r.results = append(r.results, CopyResult{SourcePath: src, DestinationPath: dst, Outcome: Failed, Err: err})
		if r.failFast {
			r.stopped = true
		}
		return
	}
	r.logger.Log(output.Medium, "copied", "source", src, "dest", dst)
	r.results = append(r.results, CopyResult{SourcePath: src, DestinationPath: dst, Outcome: Copied})
}

func (r *run) copySource(src, dest string) {
	name := filepath.Base(src)
	if name == ".." || name == "." || name == string(filepath.Separator) {
		r.record(src, dest, fmt.Errorf("%s: %w", src, ErrInvalidFileName))
		return
	}

	info, err := r.lstat(src)
	if err != nil {
		r.record(src, dest, err)
		return
	}

	switch {
	case info.Mode()&os.ModeSymlink != 0:
		r.record(src, dest, r.copyLink(src, r.fileDest(src, dest)))
	case info.IsDir():
		r.copyDir(src, dest, info.Mode().Perm())
	default:
		dst := r.fileDest(src, dest)
		r.record(src, dst, r.copyFile(src, dst, info))
	}
}

// fileDest appends the base name when dest is an existing directory.
func (r *run) fileDest(src, dest string) string {
	if ok, _ := afero.IsDir(r.fs, dest); ok {
		return filepath.Join(dest, filepath.Base(src))
	}
	return dest
}

func (r *run) copyDir(src, dst string, perm os.FileMode) {
	if err := r.fs.MkdirAll(dst, perm|0o700); err != nil {
		r.record(src, dst, fmt.Errorf("failed to create directory: %w", err))
		return
	}

	entries, err := afero.ReadDir(r.fs, src)
	if err != nil {
		r.record(src, dst, fmt.Errorf("failed to read directory: %w", err))
		return
	}

	for _, entry := range entries {
		if r.stopped {
			return
		}

		from := filepath.Join(src, entry.Name())
		to := filepath.Join(dst, entry.Name())

		switch {
		case entry.Mode()&os.ModeSymlink != 0:
			// Never followed, so a link back up the tree cannot loop.
			r.record(from, to, r.copyLink(from, to))
		case entry.IsDir():
			r.copyDir(from, to, entry.Mode().Perm())
		default:
			r.record(from, to, r.copyFile(from, to, entry))
		}
	}
}

// copyFile copies a file from src to dst with atomic write
func (r *run) copyFile(src, dst string, info os.FileInfo) error {
	if !info.Mode().IsRegular() {
		return ErrNotRegular
	}

	if err := r.fs.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	srcFile, err := r.fs.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		_ = srcFile.Close()
	}()

	tmpFile, err := afero.TempFile(r.fs, filepath.Dir(dst), ".nedots-tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = r.fs.Remove(tmpPath)
	}()

	if _, err := io.Copy(tmpFile, srcFile); err != nil {
		_ = tmpFile.Close()
		return err
	}

	if err := tmpFile.Close(); err != nil {
		return err
	}

	if err := r.fs.Chmod(tmpPath, info.Mode().Perm()); err != nil {
		return err
	}

	return r.fs.Rename(tmpPath, dst)
}

// copyLink recreates the link at dst pointing at the same target.
func (r *run) copyLink(src, dst string) error {
	reader, okRead := r.fs.(afero.LinkReader)
	linker, okLink := r.fs.(afero.Linker)
	if !okRead || !okLink {
		return ErrSymlink
	}

	target, err := reader.ReadlinkIfPossible(src)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSymlink, err)
	}

	if err := r.fs.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	if err := r.fs.Remove(dst); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return linker.SymlinkIfPossible(target, dst)
}

func (e *Engine) lstat(path string) (os.FileInfo, error) {
	if l, ok := e.fs.(afero.Lstater); ok {
		info, _, err := l.LstatIfPossible(path)
		return info, err
	}
	return e.fs.Stat(path)
}

// LocallyModified walks src and returns every counterpart under dst that
// exists, differs in content and was modified after since. src and dst are
// paired paths: a file maps to a file, a directory to a directory.
func (e *Engine) LocallyModified(src, dst string, since time.Time) ([]string, error) {
	var modified []string

	err := afero.Walk(e.fs, src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		local := filepath.Join(dst, rel)

		localInfo, err := e.fs.Stat(local)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		if !localInfo.ModTime().After(since) {
			return nil
		}

		same, err := e.sameContent(path, local)
		if err != nil {
			return err
		}
		if !same {
			modified = append(modified, local)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to compare %s with %s: %w", src, dst, err)
	}

	return modified, nil
}

func (e *Engine) sameContent(a, b string) (bool, error) {
	ha, err := e.fileHash(a)
	if err != nil {
		return false, err
	}
	hb, err := e.fileHash(b)
	if err != nil {
		return false, err
	}
	return ha == hb, nil
}

// fileHash computes the SHA256 hash of a file
func (e *Engine) fileHash(path string) (string, error) {
	f, err := e.fs.Open(path)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = f.Close()
	}()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
