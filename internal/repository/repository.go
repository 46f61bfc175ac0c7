// Package repository is the capability the core uses to talk to Git.
//
// Mutating operations shell out to the git binary; read-side queries (ref
// resolution, ancestry, history) go through go-git so they do not depend on
// porcelain output formats.
package repository

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Commit is one entry of a commit history query.
type Commit struct {
	ID        string    `json:"id"`
	Parents   []string  `json:"parents,omitempty"`
	Committer string    `json:"committer"`
	When      time.Time `json:"when"`
	Message   string    `json:"message"`
}

type MergeStrategy int

const (
	// MergeFastForward refuses to create a merge commit.
	MergeFastForward MergeStrategy = iota
	// MergeNoFastForward always records a merge commit.
	MergeNoFastForward
)

func (s MergeStrategy) String() string {
	switch s {
	case MergeFastForward:
		return "ff-only"
	case MergeNoFastForward:
		return "no-ff"
	default:
		return "unknown"
	}
}

// Repository is the set of Git operations workers and the review protocol
// rely on. Implementations are used by a single goroutine at a time.
type Repository interface {
	Checkout(ctx context.Context, ref string) error
	CheckoutDetached(ctx context.Context, ref string) error
	CreateBranch(ctx context.Context, name, startPoint string, force bool) error
	Fetch(ctx context.Context, refs ...string) error
	Push(ctx context.Context, refs ...string) error
	Tag(ctx context.Context, name, message string) error
	Merge(ctx context.Context, ref string, strategy MergeStrategy, message string) error

	// HeadCommitID resolves target (branch, tag, remote ref or id) to a commit id.
	HeadCommitID(target string) (string, error)
	HasRef(ref string) bool
	DoesBranchContainCommitID(branch, commitID string) (bool, error)
	DoesTagContainCommitID(tag, commitID string) (bool, error)

	// CommitHistory lists commits reachable from toRef but not from fromID,
	// most recent first.
	CommitHistory(fromID, toRef string) ([]Commit, error)

	HasLocalChanges(ctx context.Context) (bool, error)
	IsMergeInProgress(ctx context.Context) (bool, error)
	AbortMergeInProgress(ctx context.Context) error
}

// ExecError is returned when a git invocation exits unsuccessfully.
type ExecError struct {
	Args   []string
	Status int
	Stdout string
	Stderr string
	Err    error
}

func (e *ExecError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		msg = strings.TrimSpace(e.Stdout)
	}
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("git %s: exit status %d: %s", strings.Join(e.Args, " "), e.Status, msg)
}

func (e *ExecError) Unwrap() error { return e.Err }
