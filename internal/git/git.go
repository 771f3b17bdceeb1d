// Package git drives the git executable against the managed directory.
// Every operation is a single "git -C <repo> ..." invocation whose exit
// code and output are classified into an Outcome.
package git

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/nedots/nedots/internal/output"
)

// DefaultBinary is the git executable looked up on PATH.
const DefaultBinary = "git"

// TimestampLayout formats the time embedded in commit and stash messages.
const TimestampLayout = "2006-01-02 15:04:05.000000 -07:00"

// ErrToolMissing is returned by Preflight when git cannot be found.
var ErrToolMissing = errors.New("git executable not found, is it installed and on PATH?")

// Params configures a Gateway.
type Params struct {
	// Repo is the working tree every command runs against.
	Repo string
	// Runner defaults to ExecRunner.
	Runner Runner
	// Binary defaults to DefaultBinary.
	Binary string
	Logger *output.Logger
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// Gateway issues the repository operations used by the sync workflows.
type Gateway struct {
	repo     string
	runner   Runner
	binary   string
	logger   *output.Logger
	clock    func() time.Time
	lookPath func(string) (string, error)
}

// NewGateway creates a new gateway for the repository at p.Repo
func NewGateway(p Params) *Gateway {
	g := &Gateway{
		repo:     p.Repo,
		runner:   p.Runner,
		binary:   p.Binary,
		logger:   p.Logger,
		clock:    p.Clock,
		lookPath: exec.LookPath,
	}
	if g.runner == nil {
		g.runner = ExecRunner{}
	}
	if g.binary == "" {
		g.binary = DefaultBinary
	}
	if g.logger == nil {
		g.logger = output.Discard()
	}
	if g.clock == nil {
		g.clock = time.Now
	}
	return g
}

// Repo returns the working tree the gateway operates on.
func (g *Gateway) Repo() string {
	return g.repo
}

// Preflight checks that git can be found.
func (g *Gateway) Preflight() error {
	path, err := g.lookPath(g.binary)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrToolMissing, err)
	}
	g.logger.Log(output.Debug, "found git", "path", path)
	return nil
}

// Protect stashes uncommitted work, untracked files included. A clean tree,
// or a repository without any commit yet, yields NothingToDo and creates no
// stash entry.
func (g *Gateway) Protect(ctx context.Context) Outcome {
	msg := "nedots " + g.timestamp()
	o := g.run(ctx, Protect, "stash", "push", "--include-untracked", "--message", msg)
	if o.startErr != nil {
		return o
	}
	switch {
	case o.ExitCode != 0 && strings.Contains(o.Stderr, "do not have the initial commit yet"):
		g.logger.Log(output.Low, "repository has no commits yet, nothing to stash")
		o.Status = NothingToDo
	case o.ExitCode != 0:
		o.Status = Unknown
	case strings.Contains(o.Stdout, "No local changes to save"):
		o.Status = NothingToDo
	}
	return o
}

// Register stages every change in the working tree.
func (g *Gateway) Register(ctx context.Context) Outcome {
	o := g.run(ctx, Register, "add", "--all", "--verbose", ".")
	if o.startErr != nil {
		return o
	}
	switch {
	case o.ExitCode == 0 && strings.TrimSpace(o.Stdout) == "":
		o.Status = NothingToDo
	case o.ExitCode == 128 && strings.Contains(o.Stderr, "did not match any files"):
		o.Status = NothingToDo
	case o.ExitCode != 0:
		o.Status = Unknown
	}
	return o
}

// Commit records the staged changes as "Latest (<timestamp>)".
func (g *Gateway) Commit(ctx context.Context) Outcome {
	o := g.run(ctx, Commit, "commit", "--message", CommitMessage(g.clock()))
	if o.startErr != nil {
		return o
	}
	if o.ExitCode != 0 {
		o.Status = Conflict
	}
	return o
}

// Push publishes the current branch. An empty branch lets git pick the
// upstream.
func (g *Gateway) Push(ctx context.Context, remote, branch string) Outcome {
	o := g.run(ctx, Push, withBranch([]string{"push", remote}, branch)...)
	if o.startErr != nil || o.ExitCode == 0 {
		return o
	}
	switch {
	case matchesAny(o.Stderr, authPatterns):
		o.Status = AuthFailure
	case matchesAny(o.Stderr, networkPatterns):
		o.Status = TransportFailure
	case matchesAny(o.Stderr, rejectedPatterns):
		o.Status = Conflict
	default:
		o.Status = AuthFailure
	}
	return o
}

// Restore pops the stash entry created by Protect. A failure here is never
// retried.
func (g *Gateway) Restore(ctx context.Context) Outcome {
	o := g.run(ctx, Restore, "stash", "pop")
	if o.startErr != nil {
		return o
	}
	if o.ExitCode != 0 {
		o.Status = Unknown
	}
	return o
}

// Fetch downloads remote history into the remote-tracking refs without
// touching the working tree.
func (g *Gateway) Fetch(ctx context.Context, remote, branch string) Outcome {
	o := g.run(ctx, Fetch, withBranch([]string{"fetch", remote}, branch)...)
	if o.startErr != nil || o.ExitCode == 0 {
		return o
	}
	if matchesAny(o.Stderr, authPatterns) {
		o.Status = AuthFailure
	} else {
		o.Status = TransportFailure
	}
	return o
}

// Integrate fast-forwards the current branch to <remote>/<branch>. It never
// creates a merge commit.
func (g *Gateway) Integrate(ctx context.Context, remote, branch string) Outcome {
	o := g.run(ctx, Integrate, "merge", "--ff-only", remote+"/"+branch)
	if o.startErr != nil {
		return o
	}
	switch {
	case o.ExitCode == 0 && alreadyUpToDate(o.Stdout):
		o.Status = NothingToDo
	case o.ExitCode == 0:
	case matchesAny(o.Stderr, conflictPatterns):
		o.Status = Conflict
	default:
		o.Status = Unknown
	}
	return o
}

// Head returns the commit hash HEAD points at.
func (g *Gateway) Head(ctx context.Context) (string, error) {
	res, err := g.runner.Run(ctx, g.binary, []string{"-C", g.repo, "rev-parse", "HEAD"}, "")
	if err != nil {
		return "", fmt.Errorf("git rev-parse failed: %w", err)
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("git rev-parse failed: %s", strings.TrimSpace(res.Stderr))
	}
	return strings.TrimSpace(res.Stdout), nil
}

// CommitMessage returns the message used for every nedots commit.
func CommitMessage(t time.Time) string {
	return "Latest (" + t.Format(TimestampLayout) + ")"
}

func (g *Gateway) timestamp() string {
	return g.clock().Format(TimestampLayout)
}

// run executes one git subcommand and records the raw result. Status is
// Success on exit 0, Unknown when git could not be started; callers refine
// the rest.
func (g *Gateway) run(ctx context.Context, kind Kind, args ...string) Outcome {
	argv := append([]string{"-C", g.repo}, args...)
	g.logger.Log(output.High, "running git", "op", kind.String(), "args", strings.Join(argv, " "))

	res, err := g.runner.Run(ctx, g.binary, argv, "")
	o := Outcome{
		Kind:     kind,
		ExitCode: res.ExitCode,
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
	}
	if err != nil {
		o.Status = Unknown
		o.startErr = err
		g.logger.Log(output.High, "git did not run", "op", kind.String(), "error", err)
		return o
	}

	g.logger.Log(output.Debug, "git finished", "op", kind.String(), "exit", res.ExitCode,
		"stdout", res.Stdout, "stderr", res.Stderr)
	return o
}

func withBranch(args []string, branch string) []string {
	if branch != "" {
		args = append(args, branch)
	}
	return args
}

var (
	authPatterns = []string{
		"authentication failed",
		"permission denied",
		"could not read username",
		"could not read password",
		"invalid username or password",
		"terminal prompts disabled",
		"host key verification failed",
		"the requested url returned error: 401",
		"the requested url returned error: 403",
	}
	networkPatterns = []string{
		"could not resolve host",
		"could not resolve hostname",
		"connection refused",
		"connection timed out",
		"operation timed out",
		"network is unreachable",
		"no route to host",
		"unable to access",
		"could not read from remote repository",
		"does not appear to be a git repository",
	}
	rejectedPatterns = []string{
		"[rejected]",
		"[remote rejected]",
		"non-fast-forward",
		"fetch first",
	}
	conflictPatterns = []string{
		"not possible to fast-forward",
		"would be overwritten",
		"diverging branches can't be fast-forwarded",
	}
)

func matchesAny(s string, patterns []string) bool {
	s = strings.ToLower(s)
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// alreadyUpToDate matches both "Already up to date." and the older
// "Already up-to-date." spelling.
func alreadyUpToDate(stdout string) bool {
	s := strings.ReplaceAll(strings.ToLower(stdout), "-", " ")
	return strings.Contains(s, "already up to date")
}
