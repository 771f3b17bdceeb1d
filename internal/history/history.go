// Package history answers questions about the managed directory's commit
// graph by reading the object database directly, without running git.
package history

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/cache"
	"github.com/go-git/go-git/v5/storage/filesystem"
)

// ErrNotRepository is returned when the directory holds no git repository.
var ErrNotRepository = errors.New("not a git repository")

// ErrNoRemoteRef is returned when the remote-tracking branch does not
// exist, usually because nothing has been fetched yet.
var ErrNoRemoteRef = errors.New("remote-tracking branch does not exist")

// ErrDetachedHead is returned by CurrentBranch when HEAD is not a branch.
var ErrDetachedHead = errors.New("HEAD is detached")

// Relation describes where the local branch stands relative to the fetched
// remote branch.
type Relation int

const (
	// UpToDate means both point at the same commit.
	UpToDate Relation = iota
	// Behind means the remote has new commits and the local branch can be
	// fast-forwarded.
	Behind
	// Ahead means the local branch has commits the remote lacks.
	Ahead
	// Diverged means both sides have commits the other lacks.
	Diverged
)

func (r Relation) String() string {
	switch r {
	case UpToDate:
		return "up to date"
	case Behind:
		return "behind"
	case Ahead:
		return "ahead"
	case Diverged:
		return "diverged"
	default:
		return fmt.Sprintf("relation(%d)", int(r))
	}
}

// Inspector reads commit history from a repository.
type Inspector struct {
	repo *git.Repository
}

// Open opens the repository whose worktree is fs. The object database is
// read from fs/.git.
func Open(fs billy.Filesystem) (*Inspector, error) {
	dotGit, err := fs.Chroot(git.GitDirName)
	if err != nil {
		return nil, fmt.Errorf("failed to access .git directory: %w", err)
	}

	storage := filesystem.NewStorage(dotGit, cache.NewObjectLRUDefault())
	repo, err := git.Open(storage, fs)
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, ErrNotRepository
		}
		return nil, fmt.Errorf("failed to open repository: %w", err)
	}

	return &Inspector{repo: repo}, nil
}

// OpenPath opens the repository at dir on the OS filesystem.
func OpenPath(dir string) (*Inspector, error) {
	in, err := Open(osfs.New(dir))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", dir, err)
	}
	return in, nil
}

// CurrentBranch returns the short name of the checked out branch.
func (in *Inspector) CurrentBranch() (string, error) {
	head, err := in.repo.Head()
	if err != nil {
		return "", fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	if !head.Name().IsBranch() {
		return "", ErrDetachedHead
	}
	return head.Name().Short(), nil
}

// HeadTime returns the committer time of HEAD, i.e. when the local copy of
// the managed directory last changed through git.
func (in *Inspector) HeadTime() (time.Time, error) {
	head, err := in.repo.Head()
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	commit, err := in.repo.CommitObject(head.Hash())
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read HEAD commit: %w", err)
	}
	return commit.Committer.When, nil
}

// Relation compares HEAD with refs/remotes/<remote>/<branch>.
func (in *Inspector) Relation(remote, branch string) (Relation, error) {
	head, err := in.repo.Head()
	if err != nil {
		return 0, fmt.Errorf("failed to resolve HEAD: %w", err)
	}

	name := plumbing.NewRemoteReferenceName(remote, branch)
	upstream, err := in.repo.Reference(name, true)
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return 0, fmt.Errorf("%w: %s", ErrNoRemoteRef, name.Short())
		}
		return 0, fmt.Errorf("failed to resolve %s: %w", name.Short(), err)
	}

	if head.Hash() == upstream.Hash() {
		return UpToDate, nil
	}

	local, err := in.repo.CommitObject(head.Hash())
	if err != nil {
		return 0, fmt.Errorf("failed to read HEAD commit: %w", err)
	}
	theirs, err := in.repo.CommitObject(upstream.Hash())
	if err != nil {
		return 0, fmt.Errorf("failed to read %s commit: %w", name.Short(), err)
	}

	behind, err := local.IsAncestor(theirs)
	if err != nil {
		return 0, fmt.Errorf("failed to walk history: %w", err)
	}
	if behind {
		return Behind, nil
	}

	ahead, err := theirs.IsAncestor(local)
	if err != nil {
		return 0, fmt.Errorf("failed to walk history: %w", err)
	}
	if ahead {
		return Ahead, nil
	}

	return Diverged, nil
}
