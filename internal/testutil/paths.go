// Package testutil holds fixtures shared by tests that need a real
// filesystem and a real git binary.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// TempDir returns t.TempDir with symlinks resolved, so paths compare equal
// to the canonical paths nedots produces (on macOS /var is a symlink).
func TempDir(t *testing.T) string {
	t.Helper()
	dir, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatalf("resolve temp dir: %v", err)
	}
	return dir
}

// TempHome points $HOME at a fresh canonical temp directory for the rest of
// the test and returns it.
func TempHome(t *testing.T) string {
	t.Helper()
	home := TempDir(t)
	t.Setenv("HOME", home)
	return home
}

// WriteFile creates path and its parents with the given content.
func WriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

// ReadFile returns the content of path, failing the test if it is missing.
func ReadFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}
