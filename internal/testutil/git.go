package testutil

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// RequireGit skips the test when git is not installed.
func RequireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
}

// Git runs git in dir and returns its trimmed combined output. Any failure
// fails the test.
func Git(t *testing.T, dir string, args ...string) string {
	t.Helper()
	out, err := GitResult(dir, args...)
	if err != nil {
		t.Fatalf("git %s: %v: %s", strings.Join(args, " "), err, out)
	}
	return out
}

// GitResult runs git in dir without failing the test.
func GitResult(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
	cmd.Env = append(cmd.Environ(), "LC_ALL=C", "GIT_TERMINAL_PROMPT=0")
	out, err := cmd.CombinedOutput()
	return strings.TrimSpace(string(out)), err
}

// InitRepo creates a repository on branch with a committer identity set.
func InitRepo(t *testing.T, dir, branch string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	Git(t, dir, "init", "-b", branch)
	configure(t, dir)
}

// InitWithRemote creates a repository on branch with remote registered as
// origin. Use it instead of Clone when remote has no commits yet.
func InitWithRemote(t *testing.T, dir, remote, branch string) {
	t.Helper()
	InitRepo(t, dir, branch)
	Git(t, dir, "remote", "add", "origin", remote)
}

// InitBare creates a bare repository to act as a remote.
func InitBare(t *testing.T, dir, branch string) {
	t.Helper()
	Git(t, dir, "init", "--bare", "-b", branch)
}

// Clone clones a non-empty remote into dir and sets a committer identity.
func Clone(t *testing.T, remote, dir string) {
	t.Helper()
	Git(t, filepath.Dir(dir), "clone", remote, dir)
	configure(t, dir)
}

// CommitFile creates or overwrites name in repo and commits it.
func CommitFile(t *testing.T, repo, name, content, msg string) {
	t.Helper()
	WriteFile(t, filepath.Join(repo, name), content)
	Git(t, repo, "add", name)
	Git(t, repo, "commit", "-m", msg)
}

// StashCount returns the number of stash entries in repo.
func StashCount(t *testing.T, repo string) int {
	t.Helper()
	out := Git(t, repo, "stash", "list")
	if out == "" {
		return 0
	}
	return len(strings.Split(out, "\n"))
}

func configure(t *testing.T, dir string) {
	t.Helper()
	Git(t, dir, "config", "user.email", "test@test.com")
	Git(t, dir, "config", "user.name", "Test")
	Git(t, dir, "config", "commit.gpgsign", "false")
}
