package repository

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"rflow/internal/log"
)

// Git implements Repository against a local working directory.
type Git struct {
	path   string
	remote string
	repo   *git.Repository
}

// Open returns a Git repository rooted at path. remote defaults to "origin".
func Open(path, remote string) *Git {
	if remote == "" {
		remote = "origin"
	}
	return &Git{path: path, remote: remote}
}

func (g *Git) Path() string   { return g.path }
func (g *Git) Remote() string { return g.remote }

func (g *Git) open() (*git.Repository, error) {
	if g.repo != nil {
		return g.repo, nil
	}
	repo, err := git.PlainOpen(g.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open repository %s: %w", g.path, err)
	}
	g.repo = repo
	return repo, nil
}

// run executes git -C path args... and returns trimmed stdout.
func (g *Git) run(ctx context.Context, args ...string) (string, error) {
	baseArgs := []string{"-C", g.path}
	cmd := exec.CommandContext(ctx, "git", append(baseArgs, args...)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.DebugLog.Printf("git -C %s %s", g.path, strings.Join(args, " "))
	err := cmd.Run()
	// Refs were likely changed; drop the cached go-git handle.
	g.repo = nil
	if err != nil {
		status := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			status = exitErr.ExitCode()
		}
		return "", &ExecError{Args: args, Status: status, Stdout: stdout.String(), Stderr: stderr.String(), Err: err}
	}
	return strings.TrimSpace(stdout.String()), nil
}

func (g *Git) Checkout(ctx context.Context, ref string) error {
	_, err := g.run(ctx, "checkout", ref)
	return err
}

func (g *Git) CheckoutDetached(ctx context.Context, ref string) error {
	_, err := g.run(ctx, "checkout", "--detach", ref)
	return err
}

func (g *Git) CreateBranch(ctx context.Context, name, startPoint string, force bool) error {
	flag := "-b"
	if force {
		flag = "-B"
	}
	args := []string{"checkout", flag, name}
	if startPoint != "" {
		args = append(args, startPoint)
	}
	_, err := g.run(ctx, args...)
	return err
}

func (g *Git) Fetch(ctx context.Context, refs ...string) error {
	args := append([]string{"fetch", "--tags", g.remote}, refs...)
	_, err := g.run(ctx, args...)
	return err
}

// Push pushes refs to the remote; with no refs it pushes the current branch.
func (g *Git) Push(ctx context.Context, refs ...string) error {
	args := []string{"push", g.remote}
	if len(refs) == 0 {
		args = append(args, "HEAD")
	}
	args = append(args, refs...)
	_, err := g.run(ctx, args...)
	return err
}

func (g *Git) Tag(ctx context.Context, name, message string) error {
	_, err := g.run(ctx, "tag", "-a", name, "-m", message)
	return err
}

func (g *Git) Merge(ctx context.Context, ref string, strategy MergeStrategy, message string) error {
	args := []string{"merge", "--" + strategy.String()}
	if strategy == MergeNoFastForward && message != "" {
		args = append(args, "-m", message)
	}
	args = append(args, ref)
	_, err := g.run(ctx, args...)
	return err
}

func (g *Git) HasLocalChanges(ctx context.Context) (bool, error) {
	out, err := g.run(ctx, "status", "--porcelain")
	if err != nil {
		return false, fmt.Errorf("failed to check worktree status: %w", err)
	}
	return len(out) > 0, nil
}

func (g *Git) IsMergeInProgress(ctx context.Context) (bool, error) {
	_, err := g.run(ctx, "rev-parse", "-q", "--verify", "MERGE_HEAD")
	if err == nil {
		return true, nil
	}
	var ee *ExecError
	if errors.As(err, &ee) && ee.Status == 1 {
		return false, nil
	}
	return false, err
}

func (g *Git) AbortMergeInProgress(ctx context.Context) error {
	_, err := g.run(ctx, "merge", "--abort")
	return err
}

func (g *Git) HeadCommitID(target string) (string, error) {
	repo, err := g.open()
	if err != nil {
		return "", err
	}
	hash, err := repo.ResolveRevision(plumbing.Revision(target))
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", target, err)
	}
	return hash.String(), nil
}

func (g *Git) HasRef(ref string) bool {
	_, err := g.HeadCommitID(ref)
	return err == nil
}

func (g *Git) DoesBranchContainCommitID(branch, commitID string) (bool, error) {
	return g.contains(branch, commitID)
}

func (g *Git) DoesTagContainCommitID(tag, commitID string) (bool, error) {
	return g.contains("refs/tags/"+tag, commitID)
}

func (g *Git) contains(ref, commitID string) (bool, error) {
	repo, err := g.open()
	if err != nil {
		return false, err
	}
	headID, err := g.HeadCommitID(ref)
	if err != nil {
		return false, err
	}
	if headID == commitID {
		return true, nil
	}
	head, err := repo.CommitObject(plumbing.NewHash(headID))
	if err != nil {
		return false, fmt.Errorf("load %s: %w", ref, err)
	}
	target, err := repo.CommitObject(plumbing.NewHash(commitID))
	if errors.Is(err, plumbing.ErrObjectNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load commit %s: %w", commitID, err)
	}
	return target.IsAncestor(head)
}

func (g *Git) CommitHistory(fromID, toRef string) ([]Commit, error) {
	repo, err := g.open()
	if err != nil {
		return nil, err
	}
	toID, err := g.HeadCommitID(toRef)
	if err != nil {
		return nil, err
	}
	to, err := repo.CommitObject(plumbing.NewHash(toID))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", toRef, err)
	}

	seen := make(map[plumbing.Hash]bool)
	if fromID != "" {
		from, err := repo.CommitObject(plumbing.NewHash(fromID))
		if err != nil {
			return nil, fmt.Errorf("load commit %s: %w", fromID, err)
		}
		iter := object.NewCommitPreorderIter(from, nil, nil)
		err = iter.ForEach(func(c *object.Commit) error {
			seen[c.Hash] = true
			return nil
		})
		iter.Close()
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", fromID, err)
		}
	}

	var out []Commit
	iter := object.NewCommitIterCTime(to, seen, nil)
	defer iter.Close()
	err = iter.ForEach(func(c *object.Commit) error {
		if seen[c.Hash] {
			return nil
		}
		parents := make([]string, 0, len(c.ParentHashes))
		for _, p := range c.ParentHashes {
			parents = append(parents, p.String())
		}
		out = append(out, Commit{
			ID:        c.Hash.String(),
			Parents:   parents,
			Committer: c.Committer.Name,
			When:      c.Committer.When,
			Message:   c.Message,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", toRef, err)
	}
	// A parent only enters the ctime heap after its child was emitted, so
	// out[0] is always toRef itself.
	return out, nil
}
