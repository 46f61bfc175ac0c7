package ops

import (
	"context"
	"errors"
	"fmt"

	"rflow/internal/graph"
	"rflow/internal/project"
	"rflow/internal/repository"
	"rflow/internal/tasks"
)

// Merge merges params ref into the changeset branch. It fast-forwards when
// the branch head is an ancestor of ref and otherwise records a merge
// commit tagged with the changeset's tracking id. push=true pushes after.
type Merge struct{}

type MergeResult struct {
	Ref      string `json:"ref"`
	Strategy string `json:"strategy,omitempty"`
	Head     string `json:"head"`
	UpToDate bool   `json:"up_to_date,omitempty"`
	Pushed   bool   `json:"pushed,omitempty"`
}

func (r *MergeResult) String() string {
	if r.UpToDate {
		return fmt.Sprintf("%s already merged", r.Ref)
	}
	return fmt.Sprintf("merged %s (%s) @ %s", r.Ref, r.Strategy, short(r.Head))
}

func (t *Merge) Kind() string { return "merge" }

func (t *Merge) Description() string {
	return "Merges a ref into the changeset branch, fast-forwarding when possible."
}

func (t *Merge) Accepts(k project.Kind) bool { return true }

func (t *Merge) Run(ctx context.Context, env *tasks.Env, rep tasks.Reporter) (any, error) {
	ref := env.Param("ref", "")
	if ref == "" {
		return nil, errors.New("no ref to merge")
	}
	repo := env.Repo
	branch := project.Branch(env.Project)

	if err := repo.Checkout(ctx, branch); err != nil {
		return nil, fmt.Errorf("checkout %s: %w", branch, err)
	}
	head, err := repo.HeadCommitID("HEAD")
	if err != nil {
		return nil, err
	}
	theirs, err := repo.HeadCommitID(ref)
	if err != nil {
		return nil, err
	}

	res := &MergeResult{Ref: ref}
	merged, err := repo.DoesBranchContainCommitID(branch, theirs)
	if err != nil {
		return nil, err
	}
	if merged {
		res.UpToDate = true
		res.Head = head
		return res, nil
	}

	strategy := repository.MergeNoFastForward
	if ff, err := repo.DoesBranchContainCommitID(ref, head); err == nil && ff {
		strategy = repository.MergeFastForward
	}
	res.Strategy = strategy.String()
	_ = rep.SendInterim("merge " + ref)
	msg := fmt.Sprintf("Merge %s into %s\n\n%s", ref, branch, graph.Trailer(env.Config.Changeset.ID))
	if err := repo.Merge(ctx, ref, strategy, msg); err != nil {
		if merging, _ := repo.IsMergeInProgress(ctx); merging {
			err = errors.Join(err, repo.AbortMergeInProgress(ctx))
		}
		return nil, fmt.Errorf("merge %s: %w", ref, err)
	}
	if res.Head, err = repo.HeadCommitID("HEAD"); err != nil {
		return nil, err
	}

	if env.Param("push", "") == "true" {
		_ = rep.SendInterim(", push")
		if err := repo.Push(ctx, branch); err != nil {
			return nil, fmt.Errorf("push %s: %w", branch, err)
		}
		res.Pushed = true
	}
	return res, nil
}

func init() {
	tasks.Register(&Merge{})
}
