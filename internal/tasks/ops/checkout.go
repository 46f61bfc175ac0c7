// Package ops holds the per-project tasks workers run. Each task registers
// itself with the tasks registry at init time.
package ops

import (
	"context"
	"errors"
	"fmt"

	"rflow/internal/project"
	"rflow/internal/tasks"
)

// ErrLocalChanges refuses to switch branches over uncommitted work.
var ErrLocalChanges = errors.New("working copy has local changes")

// Checkout fetches and checks out the project's changeset branch. With
// params create=true a missing branch is created at start-at.
type Checkout struct{}

type CheckoutResult struct {
	Branch  string `json:"branch"`
	Head    string `json:"head"`
	Created bool   `json:"created,omitempty"`
}

func (r *CheckoutResult) String() string {
	verb := "on"
	if r.Created {
		verb = "created"
	}
	return fmt.Sprintf("%s %s @ %s", verb, r.Branch, short(r.Head))
}

func (t *Checkout) Kind() string { return "checkout" }

func (t *Checkout) Description() string {
	return "Fetches the remote and checks out the changeset branch, aborting a stale merge first."
}

func (t *Checkout) Accepts(k project.Kind) bool { return true }

func (t *Checkout) Run(ctx context.Context, env *tasks.Env, rep tasks.Reporter) (any, error) {
	repo := env.Repo
	branch := project.Branch(env.Project)
	if branch == "" {
		return nil, errors.New("project has no changeset branch")
	}

	_ = rep.SendInterim("fetch")
	if err := repo.Fetch(ctx); err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}

	merging, err := repo.IsMergeInProgress(ctx)
	if err != nil {
		return nil, err
	}
	if merging {
		_ = rep.SendInterim(", abort merge")
		if err := repo.AbortMergeInProgress(ctx); err != nil {
			return nil, fmt.Errorf("abort merge: %w", err)
		}
	}
	dirty, err := repo.HasLocalChanges(ctx)
	if err != nil {
		return nil, err
	}
	if dirty {
		return nil, ErrLocalChanges
	}

	res := &CheckoutResult{Branch: branch}
	_ = rep.SendInterim(", checkout")
	switch {
	case repo.HasRef(branch) || repo.HasRef(remoteRef(env.Project, branch)):
		if err := repo.Checkout(ctx, branch); err != nil {
			return nil, fmt.Errorf("checkout %s: %w", branch, err)
		}
	case env.Param("create", "") == "true":
		start := env.Param("start-at", "")
		if start == "" {
			return nil, fmt.Errorf("branch %s does not exist and no start point was given", branch)
		}
		if err := repo.CreateBranch(ctx, branch, start, false); err != nil {
			return nil, fmt.Errorf("create %s: %w", branch, err)
		}
		res.Created = true
	default:
		return nil, fmt.Errorf("branch %s does not exist", branch)
	}

	res.Head, err = repo.HeadCommitID("HEAD")
	if err != nil {
		return nil, err
	}
	return res, nil
}

func remoteRef(p project.Project, branch string) string {
	remote := p.Reference().Remote
	if remote == "" {
		remote = "origin"
	}
	return remote + "/" + branch
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	tasks.Register(&Checkout{})
}
