// Package sync runs the nedots workflows: pushing local dotfiles into the
// managed repository and pulling remote changes back out.
//
// Both workflows stash uncommitted work in the managed directory before
// touching it and pop it again as the last action, on every exit path.
package sync

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/nedots/nedots/internal/config"
	"github.com/nedots/nedots/internal/files"
	"github.com/nedots/nedots/internal/git"
	"github.com/nedots/nedots/internal/history"
	"github.com/nedots/nedots/internal/output"
	"github.com/nedots/nedots/internal/paths"
	"github.com/spf13/afero"
)

// Repository is the set of git operations the workflows issue.
type Repository interface {
	Preflight() error
	Protect(ctx context.Context) git.Outcome
	Register(ctx context.Context) git.Outcome
	Commit(ctx context.Context) git.Outcome
	Push(ctx context.Context, remote, branch string) git.Outcome
	Restore(ctx context.Context) git.Outcome
	Fetch(ctx context.Context, remote, branch string) git.Outcome
	Integrate(ctx context.Context, remote, branch string) git.Outcome
	Head(ctx context.Context) (string, error)
}

// History answers commit graph questions about the managed directory.
type History interface {
	CurrentBranch() (string, error)
	Relation(remote, branch string) (history.Relation, error)
	HeadTime() (time.Time, error)
}

// Params configures an Orchestrator.
type Params struct {
	// ManagedDir is the working tree of the dotfiles repository.
	ManagedDir string
	// Targets are the resolved configured paths.
	Targets []paths.SyncTarget
	Repo    Repository
	// History opens the managed directory's history. It is called again
	// after every fetch so newly fetched objects are visible. Defaults to
	// history.OpenPath(ManagedDir).
	History func() (History, error)
	// Fs defaults to the OS filesystem.
	Fs     afero.Fs
	Logger *output.Logger
}

// Orchestrator sequences the repository and file operations of a workflow.
type Orchestrator struct {
	managed string
	targets []paths.SyncTarget
	repo    Repository
	history func() (History, error)
	fs      afero.Fs
	files   *files.Engine
	logger  *output.Logger
}

// NewOrchestrator creates a new orchestrator
func NewOrchestrator(p Params) *Orchestrator {
	o := &Orchestrator{
		managed: p.ManagedDir,
		targets: p.Targets,
		repo:    p.Repo,
		history: p.History,
		fs:      p.Fs,
		logger:  p.Logger,
	}
	if o.fs == nil {
		o.fs = afero.NewOsFs()
	}
	if o.logger == nil {
		o.logger = output.Discard()
	}
	if o.history == nil {
		dir := p.ManagedDir
		o.history = func() (History, error) {
			return history.OpenPath(dir)
		}
	}
	o.files = files.NewEngine(files.Params{Fs: o.fs, Logger: o.logger, FailFast: true})
	return o
}

// PushOptions configures AddChanges.
type PushOptions struct {
	// Publish pushes the commit to Remote.
	Publish bool
	Remote  string
	// Branch may be empty to let git push the current branch upstream.
	Branch string
	// Elevated includes root-owned targets.
	Elevated bool
}

// PullOptions configures UpdateLocal.
type PullOptions struct {
	Remote string
	// Branch defaults to the current branch.
	Branch string
	// Only restricts reconciliation to matching targets.
	Only []string
	// Force overwrites local files even when they changed after the
	// latest remote changes.
	Force    bool
	Elevated bool
}

// Report summarizes what a workflow did. It is returned alongside an error
// too, describing the work done before the failure.
type Report struct {
	Stages []Stage
	// Stashed is true when Protect saved uncommitted work.
	Stashed bool

	Copies []files.CopyResult
	// NothingToCommit is true when the copied files matched the repository.
	NothingToCommit bool
	Commit          string
	Published       bool

	Relation   history.Relation
	Integrated bool
	Reconciled []files.CopyResult
	// Skipped lists targets that were left alone, e.g. root targets without
	// elevated privilege.
	Skipped []string
}

// stageError carries the stage a step failed at back to the workflow.
type stageError struct {
	at  Stage
	err error
}

func failAt(at Stage, err error) *stageError {
	return &stageError{at: at, err: err}
}

// AddChanges copies every target into the managed directory and commits
// the result, pushing it when opts.Publish is set.
func (o *Orchestrator) AddChanges(ctx context.Context, opts PushOptions) (*Report, error) {
	w := newWorkflowState("add-changes")
	report := &Report{}

	if err := o.preflight(); err != nil {
		return o.finish(ctx, w, report, failAt(Start, err))
	}

	if serr := o.protect(ctx, w, report); serr != nil {
		return o.finish(ctx, w, report, serr)
	}

	return o.finish(ctx, w, report, o.push(ctx, w, report, opts))
}

func (o *Orchestrator) push(ctx context.Context, w *WorkflowState, report *Report, opts PushOptions) *stageError {
	if err := ctx.Err(); err != nil {
		return failAt(Copied, err)
	}

	results, skipped, err := o.collect(opts.Elevated)
	report.Copies = results
	report.Skipped = skipped
	if err != nil {
		return failAt(Copied, err)
	}
	o.stage(w, Copied, "files", len(results))

	if err := ctx.Err(); err != nil {
		return failAt(Registered, err)
	}
	reg := o.repo.Register(ctx)
	if !reg.OK() {
		return failAt(Registered, reg.Err())
	}
	o.stage(w, Registered)
	if reg.Status == git.NothingToDo {
		report.NothingToCommit = true
		o.logger.Log(output.Low, "nothing new to commit")
		return nil
	}

	if err := ctx.Err(); err != nil {
		return failAt(Committed, err)
	}
	commit := o.repo.Commit(ctx)
	if !commit.OK() {
		return failAt(Committed, commit.Err())
	}
	if head, err := o.repo.Head(ctx); err == nil {
		report.Commit = head
	} else {
		o.logger.Log(output.High, "could not read new commit", "error", err)
	}
	o.stage(w, Committed, "commit", report.Commit)

	if !opts.Publish {
		return nil
	}

	if err := ctx.Err(); err != nil {
		return failAt(Published, err)
	}
	remote := remoteOr(opts.Remote)
	pushed := o.repo.Push(ctx, remote, opts.Branch)
	if !pushed.OK() {
		return failAt(Published, pushed.Err())
	}
	report.Published = true
	o.stage(w, Published, "remote", remote)
	return nil
}

// collect copies root targets (when elevated) and then user targets into
// the managed directory. The user batch is skipped if the root batch
// failed.
func (o *Orchestrator) collect(elevated bool) ([]files.CopyResult, []string, error) {
	var (
		results []files.CopyResult
		skipped []string
	)

	root := paths.ByOwner(o.targets, paths.Root)
	if elevated {
		results = append(results, o.copyIn(root)...)
		if err := files.Err(results); err != nil {
			return results, skipped, err
		}
	} else {
		for _, t := range root {
			skipped = append(skipped, t.SourcePath)
		}
		if len(root) > 0 {
			o.logger.Warn("skipping root paths, run with elevated privilege to include them", "count", len(root))
		}
	}

	results = append(results, o.copyIn(paths.ByOwner(o.targets, paths.User))...)
	return results, skipped, files.Err(results)
}

func (o *Orchestrator) copyIn(targets []paths.SyncTarget) []files.CopyResult {
	var results []files.CopyResult
	for _, t := range targets {
		res := o.files.Copy([]paths.SyncTarget{t}, files.Mirror(o.managed, t.SourcePath))
		results = append(results, res...)
		if files.Err(res) != nil {
			break
		}
	}
	return results
}

// UpdateLocal fetches the remote, fast-forwards the managed directory when
// possible and copies the selected targets back to their local paths.
func (o *Orchestrator) UpdateLocal(ctx context.Context, opts PullOptions) (*Report, error) {
	w := newWorkflowState("update-local")
	report := &Report{}

	selected, err := SelectTargets(o.targets, opts.Only)
	if err != nil {
		return o.finish(ctx, w, report, failAt(Start, err))
	}

	if err := o.preflight(); err != nil {
		return o.finish(ctx, w, report, failAt(Start, err))
	}

	if serr := o.protect(ctx, w, report); serr != nil {
		return o.finish(ctx, w, report, serr)
	}

	return o.finish(ctx, w, report, o.pull(ctx, w, report, opts, selected))
}

func (o *Orchestrator) pull(ctx context.Context, w *WorkflowState, report *Report, opts PullOptions, selected []paths.SyncTarget) *stageError {
	remote := remoteOr(opts.Remote)

	hist, branch, serr := o.fetch(ctx, remote, opts.Branch)
	if serr != nil {
		return serr
	}
	o.stage(w, Fetched, "remote", remote, "branch", branch)

	rel, err := hist.Relation(remote, branch)
	if err != nil {
		return failAt(FastForwarded, err)
	}
	report.Relation = rel

	switch rel {
	case history.Diverged:
		o.stage(w, Aborted, "relation", rel)
		return failAt(Aborted, fmt.Errorf("%w: %s and %s/%s", ErrDivergedHistory, branch, remote, branch))
	case history.Behind:
		if err := ctx.Err(); err != nil {
			return failAt(FastForwarded, err)
		}
		merged := o.repo.Integrate(ctx, remote, branch)
		if !merged.OK() {
			return failAt(FastForwarded, merged.Err())
		}
		report.Integrated = merged.Status == git.Success
	default:
		o.logger.Log(output.Low, "nothing to integrate", "relation", rel)
	}
	o.stage(w, FastForwarded, "integrated", report.Integrated)

	if err := ctx.Err(); err != nil {
		return failAt(Reconciled, err)
	}
	results, skipped, err := o.reconcile(hist, selected, opts)
	report.Reconciled = results
	report.Skipped = skipped
	if err != nil {
		return failAt(Reconciled, err)
	}
	o.stage(w, Reconciled, "files", len(results))
	return nil
}

// fetch downloads the remote and opens the history afterwards so the new
// objects are visible. An empty branch resolves to the current branch.
func (o *Orchestrator) fetch(ctx context.Context, remote, branch string) (History, string, *stageError) {
	if err := ctx.Err(); err != nil {
		return nil, "", failAt(Fetched, err)
	}
	fetched := o.repo.Fetch(ctx, remote, branch)
	if !fetched.OK() {
		return nil, "", failAt(Fetched, fetched.Err())
	}

	hist, err := o.history()
	if err != nil {
		return nil, "", failAt(Fetched, err)
	}

	if branch == "" {
		branch, err = hist.CurrentBranch()
		if err != nil {
			return nil, "", failAt(Fetched, err)
		}
	}
	return hist, branch, nil
}

// reconcile copies the managed copies of targets back to their source
// paths. Without opts.Force nothing is written if any local file changed
// after the HEAD commit.
func (o *Orchestrator) reconcile(hist History, selected []paths.SyncTarget, opts PullOptions) ([]files.CopyResult, []string, error) {
	var (
		pending []paths.SyncTarget
		skipped []string
	)
	for _, t := range selected {
		if t.Owner == paths.Root && !opts.Elevated {
			o.logger.Log(output.Low, "root path needs elevated privilege, skipping", "path", t.SourcePath)
			skipped = append(skipped, t.SourcePath)
			continue
		}
		exists, err := afero.Exists(o.fs, files.Mirror(o.managed, t.SourcePath))
		if err != nil {
			return nil, skipped, err
		}
		if !exists {
			o.logger.Log(output.Low, "not in managed directory, skipping", "path", t.SourcePath)
			skipped = append(skipped, t.SourcePath)
			continue
		}
		pending = append(pending, t)
	}
	if !opts.Force {
		since, err := hist.HeadTime()
		if err != nil {
			return nil, skipped, err
		}
		var modified []string
		for _, t := range pending {
			m, err := o.files.LocallyModified(files.Mirror(o.managed, t.SourcePath), t.SourcePath, since)
			if err != nil {
				return nil, skipped, err
			}
			modified = append(modified, m...)
		}
		if len(modified) > 0 {
			return nil, skipped, &LocalChangesError{Paths: modified}
		}
	}

	var results []files.CopyResult
	for _, t := range pending {
		src := t
		src.SourcePath = files.Mirror(o.managed, t.SourcePath)
		res := o.files.Copy([]paths.SyncTarget{src}, t.SourcePath)
		results = append(results, res...)
		if err := files.Err(res); err != nil {
			return results, skipped, err
		}
	}
	return results, skipped, nil
}

// Check fetches the remote and reports how the managed directory relates
// to it. The working tree is never touched.
func (o *Orchestrator) Check(ctx context.Context, remote, branch string) (history.Relation, error) {
	if err := o.preflight(); err != nil {
		return 0, err
	}

	remote = remoteOr(remote)
	hist, branch, serr := o.fetch(ctx, remote, branch)
	if serr != nil {
		return 0, serr.err
	}

	rel, err := hist.Relation(remote, branch)
	if err != nil {
		return 0, err
	}
	o.logger.Log(output.Low, "checked remote", "remote", remote, "branch", branch, "relation", rel)
	return rel, nil
}

// preflight verifies git is installed and the managed directory is a
// repository before anything is changed.
func (o *Orchestrator) preflight() error {
	if err := o.repo.Preflight(); err != nil {
		return err
	}
	if _, err := o.history(); err != nil {
		return err
	}
	return nil
}

func (o *Orchestrator) protect(ctx context.Context, w *WorkflowState, report *Report) *stageError {
	if err := ctx.Err(); err != nil {
		return failAt(Protected, err)
	}
	out := o.repo.Protect(ctx)
	if !out.OK() {
		return failAt(Protected, out.Err())
	}
	w.stashed = out.Status == git.Success
	report.Stashed = w.stashed
	o.stage(w, Protected, "stashed", w.stashed)
	return nil
}

// finish runs Restore when Protect succeeded and builds the final error.
// Restore ignores cancellation of ctx so an interrupted run still gives
// back the user's uncommitted work.
func (o *Orchestrator) finish(ctx context.Context, w *WorkflowState, report *Report, serr *stageError) (*Report, error) {
	var restoreErr error
	if w.NeedsRestore() {
		restoreErr = o.restore(context.WithoutCancel(ctx), w)
	}

	var err error
	switch {
	case serr != nil:
		w.fail(serr.at)
		err = &WorkflowError{Workflow: w.name, At: serr.at, Reason: serr.err, RestoreErr: restoreErr, Trail: w.Trail()}
	case restoreErr != nil:
		w.fail(Restored)
		err = &WorkflowError{Workflow: w.name, At: Restored, Reason: restoreErr, Trail: w.Trail()}
	default:
		o.stage(w, Done)
	}

	report.Stages = w.Trail()
	if err != nil {
		o.logger.Log(output.Low, "workflow failed", "state", w.String())
	}
	return report, err
}

func (o *Orchestrator) restore(ctx context.Context, w *WorkflowState) error {
	if !w.stashed {
		o.stage(w, Restored, "stashed", false)
		return nil
	}

	out := o.repo.Restore(ctx)
	if !out.OK() {
		err := out.Err()
		o.logger.Error("failed to restore stashed changes, run 'git stash pop' in the managed directory", "dir", o.managed, "error", err)
		return err
	}
	o.stage(w, Restored, "stashed", true)
	return nil
}

func (o *Orchestrator) stage(w *WorkflowState, s Stage, args ...any) {
	w.advance(s)
	o.logger.Log(output.Low, "stage "+s.String(), append([]any{"workflow", w.name}, args...)...)
}

func remoteOr(remote string) string {
	if remote == "" {
		return config.DefaultRemote
	}
	return remote
}

// SelectTargets returns the targets matched by only, in configuration
// order. An entry matches a target when it equals the configured spec or
// the absolute path, when the target lies beneath it, or when it equals the
// target's base name. Every entry must match at least one target.
func SelectTargets(targets []paths.SyncTarget, only []string) ([]paths.SyncTarget, error) {
	if len(only) == 0 {
		return targets, nil
	}

	var (
		selected  []paths.SyncTarget
		unmatched []string
	)
	used := make(map[int]bool)
	for _, entry := range only {
		entry = filepath.Clean(entry)
		found := false
		for i, t := range targets {
			if !matches(t, entry) {
				continue
			}
			found = true
			used[i] = true
		}
		if !found {
			unmatched = append(unmatched, entry)
		}
	}
	if len(unmatched) > 0 {
		return nil, fmt.Errorf("%w: --only %s matches no configured path", paths.ErrNotFound, strings.Join(unmatched, ", "))
	}

	for i, t := range targets {
		if used[i] {
			selected = append(selected, t)
		}
	}
	return selected, nil
}

func matches(t paths.SyncTarget, entry string) bool {
	for _, candidate := range []string{filepath.Clean(t.Spec), t.SourcePath} {
		if candidate == entry || within(candidate, entry) {
			return true
		}
	}
	return filepath.Base(t.SourcePath) == entry
}

func within(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

// IsDiverged reports whether err aborted a pull because of diverged
// history.
func IsDiverged(err error) bool {
	return errors.Is(err, ErrDivergedHistory)
}
