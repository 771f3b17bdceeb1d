package sync

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/nedots/nedots/internal/files"
	"github.com/nedots/nedots/internal/git"
	"github.com/nedots/nedots/internal/history"
	"github.com/nedots/nedots/internal/paths"
	"github.com/nedots/nedots/internal/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockRepo implements Repository for testing. Every call is recorded by
// name; outcomes default to Success.
type mockRepo struct {
	calls        []string
	outcomes     map[git.Kind]git.Outcome
	preflightErr error
	head         string

	// hooks run before the outcome is returned
	onRegister  func()
	onIntegrate func()

	restoreCtxErr error
}

func newMockRepo() *mockRepo {
	return &mockRepo{outcomes: map[git.Kind]git.Outcome{}, head: "abc123"}
}

func (m *mockRepo) set(kind git.Kind, status git.Status, stderr string) {
	m.outcomes[kind] = git.Outcome{Kind: kind, Status: status, ExitCode: 1, Stderr: stderr}
}

func (m *mockRepo) outcome(kind git.Kind, call string) git.Outcome {
	m.calls = append(m.calls, call)
	if o, ok := m.outcomes[kind]; ok {
		return o
	}
	return git.Outcome{Kind: kind, Status: git.Success}
}

func (m *mockRepo) Preflight() error { return m.preflightErr }

func (m *mockRepo) Protect(context.Context) git.Outcome { return m.outcome(git.Protect, "protect") }

func (m *mockRepo) Register(context.Context) git.Outcome {
	if m.onRegister != nil {
		m.onRegister()
	}
	return m.outcome(git.Register, "register")
}

func (m *mockRepo) Commit(context.Context) git.Outcome { return m.outcome(git.Commit, "commit") }

func (m *mockRepo) Push(_ context.Context, remote, branch string) git.Outcome {
	return m.outcome(git.Push, "push "+remote+" "+branch)
}

func (m *mockRepo) Restore(ctx context.Context) git.Outcome {
	m.restoreCtxErr = ctx.Err()
	return m.outcome(git.Restore, "restore")
}

func (m *mockRepo) Fetch(_ context.Context, remote, branch string) git.Outcome {
	return m.outcome(git.Fetch, "fetch "+remote+" "+branch)
}

func (m *mockRepo) Integrate(_ context.Context, remote, branch string) git.Outcome {
	if m.onIntegrate != nil {
		m.onIntegrate()
	}
	return m.outcome(git.Integrate, "integrate "+remote+"/"+branch)
}

func (m *mockRepo) Head(context.Context) (string, error) { return m.head, nil }

func (m *mockRepo) count(call string) int {
	n := 0
	for _, c := range m.calls {
		if c == call {
			n++
		}
	}
	return n
}

// mockHistory implements History for testing.
type mockHistory struct {
	branch   string
	relation history.Relation
	headTime time.Time
	openErr  error
	opens    int
}

func (m *mockHistory) CurrentBranch() (string, error) { return m.branch, nil }

func (m *mockHistory) Relation(string, string) (history.Relation, error) {
	return m.relation, nil
}

func (m *mockHistory) HeadTime() (time.Time, error) { return m.headTime, nil }

const managed = "/dots"

type fixture struct {
	fs   afero.Fs
	repo *mockRepo
	hist *mockHistory
	orc  *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/etc/hosts", "127.0.0.1 localhost")
	writeFile(t, fs, "/home/u/.bashrc", "alias ll='ls -l'")
	writeFile(t, fs, "/home/u/.config/nvim/init.lua", "vim.o.number = true")
	writeFile(t, fs, "/home/u/.config/nvim/lua/plugins.lua", "return {}")
	require.NoError(t, fs.MkdirAll(managed, 0755))

	f := &fixture{
		fs:   fs,
		repo: newMockRepo(),
		hist: &mockHistory{branch: "main", headTime: time.Now().Add(time.Hour)},
	}
	f.orc = NewOrchestrator(Params{
		ManagedDir: managed,
		Targets: []paths.SyncTarget{
			{SourcePath: "/etc/hosts", Owner: paths.Root, Spec: "/etc/hosts"},
			{SourcePath: "/home/u/.bashrc", Owner: paths.User, Spec: ".bashrc"},
			{SourcePath: "/home/u/.config/nvim", IsDir: true, Owner: paths.User, Spec: ".config/nvim"},
		},
		Repo: f.repo,
		History: func() (History, error) {
			f.hist.opens++
			if f.hist.openErr != nil {
				return nil, f.hist.openErr
			}
			return f.hist, nil
		},
		Fs: fs,
	})
	return f
}

// seedManaged places copies of the targets in the managed directory as a
// previous add-changes would have.
func (f *fixture) seedManaged(t *testing.T) {
	t.Helper()
	writeFile(t, f.fs, "/dots/etc/hosts", "127.0.0.1 localhost")
	writeFile(t, f.fs, "/dots/home/u/.bashrc", "alias ll='ls -l'")
	writeFile(t, f.fs, "/dots/home/u/.config/nvim/init.lua", "vim.o.number = true")
	writeFile(t, f.fs, "/dots/home/u/.config/nvim/lua/plugins.lua", "return {}")
}

func writeFile(t *testing.T, fs afero.Fs, path, content string) {
	t.Helper()
	require.NoError(t, fs.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, afero.WriteFile(fs, path, []byte(content), 0644))
}

func readFile(t *testing.T, fs afero.Fs, path string) string {
	t.Helper()
	b, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	return string(b)
}

func exists(t *testing.T, fs afero.Fs, path string) bool {
	t.Helper()
	ok, err := afero.Exists(fs, path)
	require.NoError(t, err)
	return ok
}

func TestAddChanges(t *testing.T) {
	f := newFixture(t)

	report, err := f.orc.AddChanges(context.Background(), PushOptions{Publish: true, Remote: "origin", Branch: "main"})
	require.NoError(t, err)

	assert.Equal(t, []string{"protect", "register", "commit", "push origin main", "restore"}, f.repo.calls)
	assert.Equal(t, []Stage{Start, Protected, Copied, Registered, Committed, Published, Restored, Done}, report.Stages)
	assert.True(t, report.Stashed)
	assert.True(t, report.Published)
	assert.Equal(t, "abc123", report.Commit)

	assert.Equal(t, "alias ll='ls -l'", readFile(t, f.fs, "/dots/home/u/.bashrc"))
	assert.Equal(t, "return {}", readFile(t, f.fs, "/dots/home/u/.config/nvim/lua/plugins.lua"))
	assert.Len(t, report.Copies, 3)

	// root targets need elevated privilege
	assert.False(t, exists(t, f.fs, "/dots/etc/hosts"))
	assert.Equal(t, []string{"/etc/hosts"}, report.Skipped)
}

func TestAddChanges_Elevated(t *testing.T) {
	f := newFixture(t)

	report, err := f.orc.AddChanges(context.Background(), PushOptions{Elevated: true})
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1 localhost", readFile(t, f.fs, "/dots/etc/hosts"))
	assert.Len(t, report.Copies, 4)
	assert.Equal(t, "/etc/hosts", report.Copies[0].SourcePath)
	assert.Empty(t, report.Skipped)

	// not published
	assert.Equal(t, []string{"protect", "register", "commit", "restore"}, f.repo.calls)
}

func TestAddChanges_NothingToCommit(t *testing.T) {
	f := newFixture(t)
	f.repo.outcomes[git.Register] = git.Outcome{Kind: git.Register, Status: git.NothingToDo}

	report, err := f.orc.AddChanges(context.Background(), PushOptions{Publish: true})
	require.NoError(t, err)

	assert.Equal(t, []string{"protect", "register", "restore"}, f.repo.calls)
	assert.True(t, report.NothingToCommit)
	assert.False(t, report.Published)
	assert.Empty(t, report.Commit)
}

// The first run against a freshly initialised managed directory has no
// HEAD to stash against.
func TestAddChanges_FirstCommit(t *testing.T) {
	testutil.RequireGit(t)

	home := testutil.TempHome(t)
	managed := filepath.Join(home, ".nedots")
	testutil.InitRepo(t, managed, "main")
	testutil.WriteFile(t, filepath.Join(home, ".bashrc"), "alias ll='ls -l'\n")

	targets, err := paths.Targets(nil, []string{".bashrc"}, home)
	require.NoError(t, err)

	orc := NewOrchestrator(Params{
		ManagedDir: managed,
		Targets:    targets,
		Repo:       git.NewGateway(git.Params{Repo: managed}),
	})

	report, err := orc.AddChanges(context.Background(), PushOptions{})
	require.NoError(t, err)

	assert.Equal(t, []Stage{Start, Protected, Copied, Registered, Committed, Restored, Done}, report.Stages)
	assert.False(t, report.Stashed)
	assert.NotEmpty(t, report.Commit)
	assert.Equal(t, report.Commit, testutil.Git(t, managed, "rev-parse", "HEAD"))
	assert.Equal(t, "alias ll='ls -l'\n", testutil.ReadFile(t, files.Mirror(managed, filepath.Join(home, ".bashrc"))))
	assert.Equal(t, 0, testutil.StashCount(t, managed))
}

// Restore must run exactly once, as the last repository call, whatever
// step fails after Protect.
func TestAddChanges_RestorePairing(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(f *fixture)
		wantAt Stage
	}{
		{
			name: "copy fails",
			setup: func(f *fixture) {
				_ = f.fs.Remove("/home/u/.bashrc")
			},
			wantAt: Copied,
		},
		{
			name:   "register fails",
			setup:  func(f *fixture) { f.repo.set(git.Register, git.Unknown, "fatal: index.lock exists") },
			wantAt: Registered,
		},
		{
			name:   "commit conflict",
			setup:  func(f *fixture) { f.repo.set(git.Commit, git.Conflict, "unmerged files") },
			wantAt: Committed,
		},
		{
			name:   "push rejected",
			setup:  func(f *fixture) { f.repo.set(git.Push, git.Conflict, "[rejected] main -> main (fetch first)") },
			wantAt: Published,
		},
		{
			name:   "push auth",
			setup:  func(f *fixture) { f.repo.set(git.Push, git.AuthFailure, "Authentication failed") },
			wantAt: Published,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.setup(f)

			report, err := f.orc.AddChanges(context.Background(), PushOptions{Publish: true})
			require.Error(t, err)

			var wfErr *WorkflowError
			require.True(t, errors.As(err, &wfErr))
			assert.Equal(t, tt.wantAt, wfErr.At)
			assert.NoError(t, wfErr.RestoreErr)

			assert.Equal(t, 1, f.repo.count("restore"))
			assert.Equal(t, "restore", f.repo.calls[len(f.repo.calls)-1])
			assert.Equal(t, Restored, report.Stages[len(report.Stages)-1])
		})
	}
}

func TestAddChanges_ConflictSurfaced(t *testing.T) {
	f := newFixture(t)
	f.repo.set(git.Commit, git.Conflict, "error: Committing is not possible because you have unmerged files.")

	_, err := f.orc.AddChanges(context.Background(), PushOptions{Publish: true})

	var wfErr *WorkflowError
	require.True(t, errors.As(err, &wfErr))
	assert.Equal(t, Committed, wfErr.At)

	var repoErr *git.RepoError
	require.True(t, errors.As(err, &repoErr))
	assert.Equal(t, git.Conflict, repoErr.Status)
	assert.Contains(t, wfErr.Detail(), "unmerged files")

	assert.NotContains(t, f.repo.calls, "push origin ")
	assert.Equal(t, []string{"protect", "register", "commit", "restore"}, f.repo.calls)
}

func TestAddChanges_CopyFailureSkipsRepository(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.fs.RemoveAll("/home/u/.config/nvim"))

	report, err := f.orc.AddChanges(context.Background(), PushOptions{})
	require.Error(t, err)

	assert.Equal(t, []string{"protect", "restore"}, f.repo.calls)
	assert.Equal(t, []Stage{Start, Protected, Restored}, report.Stages)

	// files copied before the failure stay in place
	assert.True(t, exists(t, f.fs, "/dots/home/u/.bashrc"))
}

func TestAddChanges_CleanTreeSkipsPop(t *testing.T) {
	f := newFixture(t)
	f.repo.outcomes[git.Protect] = git.Outcome{Kind: git.Protect, Status: git.NothingToDo}
	f.repo.set(git.Commit, git.Conflict, "conflict")

	report, err := f.orc.AddChanges(context.Background(), PushOptions{})
	require.Error(t, err)

	assert.Zero(t, f.repo.count("restore"), "no stash was created so nothing may be popped")
	assert.False(t, report.Stashed)
	assert.Contains(t, report.Stages, Restored)
}

func TestAddChanges_ProtectFails(t *testing.T) {
	f := newFixture(t)
	f.repo.set(git.Protect, git.Unknown, "You do not have the initial commit yet")

	report, err := f.orc.AddChanges(context.Background(), PushOptions{})

	var wfErr *WorkflowError
	require.True(t, errors.As(err, &wfErr))
	assert.Equal(t, Protected, wfErr.At)
	assert.Equal(t, []string{"protect"}, f.repo.calls)
	assert.Equal(t, []Stage{Start}, report.Stages)
	assert.False(t, exists(t, f.fs, "/dots/home/u/.bashrc"))
}

func TestAddChanges_RestoreFailureDoesNotMask(t *testing.T) {
	f := newFixture(t)
	f.repo.set(git.Commit, git.Conflict, "conflict in commit")
	f.repo.set(git.Restore, git.Unknown, "CONFLICT (content): Merge conflict in home/u/.bashrc")

	_, err := f.orc.AddChanges(context.Background(), PushOptions{})

	var wfErr *WorkflowError
	require.True(t, errors.As(err, &wfErr))
	assert.Equal(t, Committed, wfErr.At)
	require.Error(t, wfErr.RestoreErr)

	var repoErr *git.RepoError
	require.True(t, errors.As(wfErr.Reason, &repoErr))
	assert.Equal(t, git.Commit, repoErr.Kind)

	require.True(t, errors.As(wfErr.RestoreErr, &repoErr))
	assert.Equal(t, git.Restore, repoErr.Kind)
	assert.Equal(t, 1, f.repo.count("restore"))
}

func TestAddChanges_RestoreFailureAfterSuccess(t *testing.T) {
	f := newFixture(t)
	f.repo.set(git.Restore, git.Unknown, "CONFLICT")

	_, err := f.orc.AddChanges(context.Background(), PushOptions{})

	var wfErr *WorkflowError
	require.True(t, errors.As(err, &wfErr))
	assert.Equal(t, Restored, wfErr.At)
	assert.Nil(t, wfErr.RestoreErr)
}

func TestAddChanges_InterruptStillRestores(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.repo.onRegister = cancel
	f.repo.set(git.Register, git.Unknown, "signal: killed")

	_, err := f.orc.AddChanges(ctx, PushOptions{Publish: true})
	require.Error(t, err)

	assert.Equal(t, []string{"protect", "register", "restore"}, f.repo.calls)
	assert.NoError(t, f.repo.restoreCtxErr)
}

func TestAddChanges_Preflight(t *testing.T) {
	f := newFixture(t)
	f.repo.preflightErr = git.ErrToolMissing

	_, err := f.orc.AddChanges(context.Background(), PushOptions{})
	assert.ErrorIs(t, err, git.ErrToolMissing)
	assert.Empty(t, f.repo.calls)

	f = newFixture(t)
	f.hist.openErr = history.ErrNotRepository

	_, err = f.orc.AddChanges(context.Background(), PushOptions{})
	assert.ErrorIs(t, err, history.ErrNotRepository)
	assert.Empty(t, f.repo.calls)
}

func TestUpdateLocal_FastForward(t *testing.T) {
	f := newFixture(t)
	f.seedManaged(t)
	f.hist.relation = history.Behind
	f.repo.onIntegrate = func() {
		writeFile(t, f.fs, "/dots/home/u/.bashrc", "alias ll='ls -la'")
	}

	report, err := f.orc.UpdateLocal(context.Background(), PullOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{"protect", "fetch origin ", "integrate origin/main", "restore"}, f.repo.calls)
	assert.Equal(t, []Stage{Start, Protected, Fetched, FastForwarded, Reconciled, Restored, Done}, report.Stages)
	assert.True(t, report.Integrated)
	assert.Equal(t, 2, f.hist.opens, "history is reopened after the fetch")
	assert.Equal(t, "alias ll='ls -la'", readFile(t, f.fs, "/home/u/.bashrc"))
	assert.Len(t, report.Reconciled, 3)
	assert.Equal(t, []string{"/etc/hosts"}, report.Skipped)
}

func TestUpdateLocal_Diverged(t *testing.T) {
	f := newFixture(t)
	f.seedManaged(t)
	writeFile(t, f.fs, "/dots/home/u/.bashrc", "remote")
	f.hist.relation = history.Diverged

	report, err := f.orc.UpdateLocal(context.Background(), PullOptions{Branch: "main"})
	require.Error(t, err)

	assert.ErrorIs(t, err, ErrDivergedHistory)
	assert.True(t, IsDiverged(err))

	var wfErr *WorkflowError
	require.True(t, errors.As(err, &wfErr))
	assert.Equal(t, Aborted, wfErr.At)

	assert.Zero(t, f.repo.count("integrate origin/main"))
	assert.Equal(t, []string{"protect", "fetch origin main", "restore"}, f.repo.calls)
	assert.Equal(t, []Stage{Start, Protected, Fetched, Aborted, Restored}, report.Stages)
	assert.Equal(t, "alias ll='ls -l'", readFile(t, f.fs, "/home/u/.bashrc"))
}

func TestUpdateLocal_UpToDateSkipsIntegrate(t *testing.T) {
	f := newFixture(t)
	f.seedManaged(t)
	f.hist.relation = history.UpToDate

	report, err := f.orc.UpdateLocal(context.Background(), PullOptions{Remote: "upstream"})
	require.NoError(t, err)

	assert.Equal(t, []string{"protect", "fetch upstream ", "restore"}, f.repo.calls)
	assert.False(t, report.Integrated)
	assert.Contains(t, report.Stages, Reconciled)
}

func TestUpdateLocal_FetchFails(t *testing.T) {
	f := newFixture(t)
	f.repo.set(git.Fetch, git.TransportFailure, "Could not resolve host: example.com")

	_, err := f.orc.UpdateLocal(context.Background(), PullOptions{})

	var wfErr *WorkflowError
	require.True(t, errors.As(err, &wfErr))
	assert.Equal(t, Fetched, wfErr.At)
	assert.Equal(t, []string{"protect", "fetch origin ", "restore"}, f.repo.calls)
}

func TestUpdateLocal_IntegrateConflict(t *testing.T) {
	f := newFixture(t)
	f.hist.relation = history.Behind
	f.repo.set(git.Integrate, git.Conflict, "would be overwritten by merge")

	_, err := f.orc.UpdateLocal(context.Background(), PullOptions{})

	var wfErr *WorkflowError
	require.True(t, errors.As(err, &wfErr))
	assert.Equal(t, FastForwarded, wfErr.At)
	assert.Equal(t, 1, f.repo.count("restore"))
}

func TestUpdateLocal_LocalChanges(t *testing.T) {
	f := newFixture(t)
	f.seedManaged(t)
	writeFile(t, f.fs, "/dots/home/u/.bashrc", "remote version")
	f.hist.headTime = time.Now().Add(-time.Hour)

	_, err := f.orc.UpdateLocal(context.Background(), PullOptions{})
	require.Error(t, err)

	var changes *LocalChangesError
	require.True(t, errors.As(err, &changes))
	assert.Equal(t, []string{"/home/u/.bashrc"}, changes.Paths)
	assert.Equal(t, "alias ll='ls -l'", readFile(t, f.fs, "/home/u/.bashrc"))
	assert.Equal(t, 1, f.repo.count("restore"))

	t.Run("force overwrites", func(t *testing.T) {
		f.repo.calls = nil
		_, err := f.orc.UpdateLocal(context.Background(), PullOptions{Force: true})
		require.NoError(t, err)
		assert.Equal(t, "remote version", readFile(t, f.fs, "/home/u/.bashrc"))
	})
}

func TestUpdateLocal_Only(t *testing.T) {
	f := newFixture(t)
	f.seedManaged(t)
	writeFile(t, f.fs, "/dots/home/u/.bashrc", "remote bashrc")
	writeFile(t, f.fs, "/dots/home/u/.config/nvim/init.lua", "remote init")

	report, err := f.orc.UpdateLocal(context.Background(), PullOptions{Only: []string{"nvim"}})
	require.NoError(t, err)

	assert.Equal(t, "remote init", readFile(t, f.fs, "/home/u/.config/nvim/init.lua"))
	assert.Equal(t, "alias ll='ls -l'", readFile(t, f.fs, "/home/u/.bashrc"))
	assert.Len(t, report.Reconciled, 2)
}

func TestUpdateLocal_OnlyUnknownEntry(t *testing.T) {
	f := newFixture(t)

	_, err := f.orc.UpdateLocal(context.Background(), PullOptions{Only: []string{".zshrc"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, paths.ErrNotFound)
	assert.Empty(t, f.repo.calls)
}

func TestUpdateLocal_MissingManagedCopyIsSkipped(t *testing.T) {
	f := newFixture(t)
	writeFile(t, f.fs, "/dots/home/u/.bashrc", "remote bashrc")

	report, err := f.orc.UpdateLocal(context.Background(), PullOptions{})
	require.NoError(t, err)

	assert.Equal(t, "remote bashrc", readFile(t, f.fs, "/home/u/.bashrc"))
	assert.Contains(t, report.Skipped, "/home/u/.config/nvim")
}

func TestCheck(t *testing.T) {
	f := newFixture(t)
	f.hist.relation = history.Behind

	rel, err := f.orc.Check(context.Background(), "", "")
	require.NoError(t, err)
	assert.Equal(t, history.Behind, rel)
	assert.Equal(t, []string{"fetch origin "}, f.repo.calls)

	f.repo.set(git.Fetch, git.AuthFailure, "Authentication failed")
	_, err = f.orc.Check(context.Background(), "origin", "main")

	var repoErr *git.RepoError
	require.True(t, errors.As(err, &repoErr))
	assert.Equal(t, git.AuthFailure, repoErr.Status)
}

func TestSelectTargets(t *testing.T) {
	targets := []paths.SyncTarget{
		{SourcePath: "/etc/hosts", Owner: paths.Root, Spec: "/etc/hosts"},
		{SourcePath: "/home/u/.bashrc", Spec: ".bashrc"},
		{SourcePath: "/home/u/.config/nvim", IsDir: true, Spec: ".config/nvim"},
		{SourcePath: "/home/u/.config/kitty", IsDir: true, Spec: ".config/kitty"},
	}

	tests := []struct {
		name    string
		only    []string
		want    []string
		wantErr bool
	}{
		{name: "empty selects all", only: nil, want: []string{"/etc/hosts", "/home/u/.bashrc", "/home/u/.config/nvim", "/home/u/.config/kitty"}},
		{name: "spec", only: []string{".bashrc"}, want: []string{"/home/u/.bashrc"}},
		{name: "absolute path", only: []string{"/etc/hosts"}, want: []string{"/etc/hosts"}},
		{name: "parent directory", only: []string{".config"}, want: []string{"/home/u/.config/nvim", "/home/u/.config/kitty"}},
		{name: "base name", only: []string{"kitty"}, want: []string{"/home/u/.config/kitty"}},
		{name: "keeps config order", only: []string{"kitty", ".bashrc"}, want: []string{"/home/u/.bashrc", "/home/u/.config/kitty"}},
		{name: "trailing slash", only: []string{".config/nvim/"}, want: []string{"/home/u/.config/nvim"}},
		{name: "unknown entry", only: []string{".bashrc", "nope"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SelectTargets(targets, tt.only)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "nope")
				return
			}
			require.NoError(t, err)

			var gotPaths []string
			for _, g := range got {
				gotPaths = append(gotPaths, g.SourcePath)
			}
			assert.Equal(t, tt.want, gotPaths)
		})
	}
}

func TestWorkflowErrorFormat(t *testing.T) {
	err := &WorkflowError{
		Workflow:   "add-changes",
		At:         Committed,
		Reason:     errors.New("git commit failed (conflict)"),
		RestoreErr: errors.New("git restore failed (unknown failure)"),
		Trail:      []Stage{Start, Protected, Copied, Registered, Restored},
	}

	assert.Equal(t, "add-changes failed at committed: git commit failed (conflict) (restoring stashed changes also failed: git restore failed (unknown failure))", err.Error())

	verbose := fmt.Sprintf("%+v", err)
	assert.Contains(t, verbose, "stages: start -> protected -> copied -> registered -> restored")
	assert.Contains(t, verbose, "restore: git restore failed")
}
