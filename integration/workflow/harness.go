//go:build integration

package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/nedots/nedots/internal/testutil"
)

const defaultTimeout = 2 * time.Minute

// Harness builds the nedots binary once and runs it against a machine that
// shares a bare remote with commits made elsewhere.
type Harness struct {
	t      *testing.T
	binary string
	Remote string
}

// Machine is a home directory with its own clone of the managed repository.
type Machine struct {
	h       *Harness
	Name    string
	Home    string
	Managed string
	Config  string
}

// NewHarness builds the binary and creates an empty bare remote.
func NewHarness(t *testing.T) *Harness {
	t.Helper()
	testutil.RequireGit(t)

	projectRoot, err := findProjectRoot()
	if err != nil {
		t.Fatalf("get project root: %v", err)
	}

	binary := filepath.Join(t.TempDir(), "nedots")
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "go", "build", "-o", binary, "./cmd/nedots")
	cmd.Dir = projectRoot
	cmd.Stdout = &testWriter{t: t, prefix: "[build] "}
	cmd.Stderr = &testWriter{t: t, prefix: "[build] "}
	if err := cmd.Run(); err != nil {
		t.Fatalf("go build: %v", err)
	}

	remote := testutil.TempDir(t)
	testutil.InitBare(t, remote, "main")

	return &Harness{t: t, binary: binary, Remote: remote}
}

// Seed pushes an initial commit so machines can clone a non-empty remote.
func (h *Harness) Seed() {
	h.t.Helper()
	seed := filepath.Join(testutil.TempDir(h.t), "seed")
	testutil.InitWithRemote(h.t, seed, h.Remote, "main")
	testutil.CommitFile(h.t, seed, "README", "dotfiles\n", "init")
	testutil.Git(h.t, seed, "push", "-u", "origin", "main")
}

// Machine clones the remote into a fresh home and writes a config listing
// the given user paths.
func (h *Harness) Machine(name string, user ...string) *Machine {
	h.t.Helper()

	home := filepath.Join(testutil.TempDir(h.t), name)
	if err := os.MkdirAll(home, 0755); err != nil {
		h.t.Fatalf("create home: %v", err)
	}
	managed := filepath.Join(home, ".nedots")
	testutil.Clone(h.t, h.Remote, managed)

	cfg := map[string]any{"path": managed, "user": user, "branch": "main"}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		h.t.Fatalf("marshal config: %v", err)
	}
	cfgPath := filepath.Join(home, "nedots.json")
	testutil.WriteFile(h.t, cfgPath, string(data))

	return &Machine{h: h, Name: name, Home: home, Managed: managed, Config: cfgPath}
}

// Run executes nedots with HOME pointing at the machine.
func (m *Machine) Run(args ...string) (string, string, int) {
	m.h.t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	full := append([]string{"--config", m.Config, "-vv"}, args...)
	cmd := exec.CommandContext(ctx, m.h.binary, full...)
	cmd.Dir = m.Home
	cmd.Env = append(os.Environ(), "HOME="+m.Home, "XDG_CONFIG_HOME="+filepath.Join(m.Home, ".config"))

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = io.MultiWriter(&stderr, &testWriter{t: m.h.t, prefix: "[" + m.Name + "] "})

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		exitErr, ok := err.(*exec.ExitError)
		if !ok {
			m.h.t.Fatalf("run nedots: %v", err)
		}
		exitCode = exitErr.ExitCode()
	}
	return stdout.String(), stderr.String(), exitCode
}

// MustRun runs nedots and fails the test on a non-zero exit.
func (m *Machine) MustRun(args ...string) string {
	m.h.t.Helper()
	stdout, stderr, code := m.Run(args...)
	if code != 0 {
		m.h.t.Fatalf("nedots %v exited %d\nstdout: %s\nstderr: %s", args, code, stdout, stderr)
	}
	return stdout
}

// Elsewhere commits content at the managed location of rel from a separate
// clone and pushes it, as another machine with the same home would.
func (m *Machine) Elsewhere(rel, content, msg string) {
	m.h.t.Helper()
	clone := filepath.Join(testutil.TempDir(m.h.t), "elsewhere")
	testutil.Clone(m.h.t, m.h.Remote, clone)
	testutil.CommitFile(m.h.t, clone, strings.TrimPrefix(m.Path(rel), "/"), content, msg)
	testutil.Git(m.h.t, clone, "push", "origin", "main")
}

// Path returns an absolute path inside the machine's home.
func (m *Machine) Path(rel string) string {
	return filepath.Join(m.Home, rel)
}

// Write creates a file in the machine's home with its mtime pushed into the
// past, so it never looks newer than a commit made in the same second.
func (m *Machine) Write(rel, content string) {
	m.h.t.Helper()
	p := m.Path(rel)
	testutil.WriteFile(m.h.t, p, content)
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(p, past, past); err != nil {
		m.h.t.Fatalf("chtimes %s: %v", p, err)
	}
}

// Touch writes a file with a current mtime.
func (m *Machine) Touch(rel, content string) {
	m.h.t.Helper()
	p := m.Path(rel)
	testutil.WriteFile(m.h.t, p, content)
	future := time.Now().Add(time.Hour)
	if err := os.Chtimes(p, future, future); err != nil {
		m.h.t.Fatalf("chtimes %s: %v", p, err)
	}
}

// Read returns a file from the machine's home.
func (m *Machine) Read(rel string) string {
	m.h.t.Helper()
	return testutil.ReadFile(m.h.t, m.Path(rel))
}

// Mirrored returns the path of a home file inside the managed directory.
func (m *Machine) Mirrored(rel string) string {
	return filepath.Join(m.Managed, strings.TrimPrefix(m.Path(rel), "/"))
}

// testWriter wraps test logging for command output
type testWriter struct {
	t      *testing.T
	prefix string
}

func (w *testWriter) Write(p []byte) (n int, err error) {
	for _, line := range strings.Split(string(p), "\n") {
		if line != "" {
			w.t.Log(w.prefix + line)
		}
	}
	return len(p), nil
}

var _ io.Writer = (*testWriter)(nil)

// findProjectRoot walks up from this file to the directory holding go.mod.
func findProjectRoot() (string, error) {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		return "", fmt.Errorf("failed to get caller information")
	}

	dir := filepath.Dir(filename)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod not found in any parent directory")
		}
		dir = parent
	}
}
