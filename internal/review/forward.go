package review

import (
	"context"
	"errors"
	"fmt"

	"rflow/internal/config"
	"rflow/internal/github"
	"rflow/internal/graph"
	"rflow/internal/project"
	"rflow/internal/repository"
)

// PullRequester opens review pull requests. *github.Client implements it.
type PullRequester interface {
	EnsurePullRequest(ctx context.Context, owner, repo, head, base, title, body string) (*github.PullRequest, error)
}

// ForwardResult reports what Forward did for one project.
type ForwardResult struct {
	Status      *Status             `json:"status"`
	Created     bool                `json:"created"`
	Forwarded   int                 `json:"forwarded"`
	Strategy    string              `json:"strategy,omitempty"`
	PullRequest *github.PullRequest `json:"pull_request,omitempty"`
}

func (r *ForwardResult) String() string {
	if r.Forwarded == 0 {
		return "nothing to forward"
	}
	s := fmt.Sprintf("forwarded %d commits (%s)", r.Forwarded, r.Strategy)
	if r.Created {
		s = "created review branches, " + s
	}
	if r.PullRequest != nil {
		s += fmt.Sprintf(", PR #%d", r.PullRequest.Number)
	}
	return s
}

// Reporter receives progress text.
type Reporter interface {
	SendInterim(text string) error
}

// Forward brings every changeset commit not yet in review onto the review
// source branch, creating both review branches at the approval frontier
// when they do not exist, and pushes the result. The changeset branch is
// checked out again afterwards.
func Forward(ctx context.Context, repo repository.Repository, src *project.Source, snap config.Snapshot, prs PullRequester, rep Reporter) (res *ForwardResult, err error) {
	st, err := Compute(ctx, repo, src, snap)
	if err != nil {
		return nil, err
	}
	res = &ForwardResult{Status: st}
	if n := len(st.MissingMergeCommits); n > 0 {
		return res, &MissingMergeCommitsError{Count: 1, Op: "review forward"}
	}
	if !st.NeedsAction() {
		return res, nil
	}

	br := st.Branches
	if !st.HasBranches {
		start := st.ApprovedTo
		if start == "" {
			start = st.FromRefID
		}
		if start == "" {
			return res, errors.New("cannot create review branches: project has no approval source")
		}
		_ = rep.SendInterim("create review branches")
		for _, b := range []string{br.Target, br.Source} {
			if repo.HasRef(remoteRef(src, b)) {
				continue
			}
			if err := repo.CreateBranch(ctx, b, start, true); err != nil {
				return res, fmt.Errorf("create %s: %w", b, err)
			}
			if err := repo.Push(ctx, b); err != nil {
				return res, fmt.Errorf("push %s: %w", b, err)
			}
		}
		res.Created = true
	}

	_ = rep.SendInterim("forward")
	// Reset the local review source to the remote one before merging.
	if err := repo.CreateBranch(ctx, br.Source, remoteRef(src, br.Source), true); err != nil {
		return res, fmt.Errorf("checkout %s: %w", br.Source, err)
	}
	defer func() {
		if cerr := repo.Checkout(ctx, br.Changeset); cerr != nil && err == nil {
			err = fmt.Errorf("checkout %s: %w", br.Changeset, cerr)
		}
	}()

	tip := st.NotInReview[len(st.NotInReview)-1]
	sourceHead, err := repo.HeadCommitID(br.Source)
	if err != nil {
		return res, err
	}
	strategy := repository.MergeNoFastForward
	if ff, err := repo.DoesBranchContainCommitID(tip, sourceHead); err == nil && ff {
		strategy = repository.MergeFastForward
	}
	res.Strategy = strategy.String()
	msg := fmt.Sprintf("Merge %s into %s\n\n%s", br.Changeset, br.Source, graph.Trailer(snap.Changeset.ID))
	if err := repo.Merge(ctx, tip, strategy, msg); err != nil {
		if aborted := abortMerge(ctx, repo); aborted != nil {
			err = errors.Join(err, aborted)
		}
		return res, fmt.Errorf("merge into %s: %w", br.Source, err)
	}
	if err := repo.Push(ctx, br.Source); err != nil {
		return res, fmt.Errorf("push %s: %w", br.Source, err)
	}
	res.Forwarded = len(st.NotInReview)

	if snap.Review.PullRequests && prs != nil {
		owner, name, ok := github.ParseRemote(src.URL, "")
		if !ok {
			_ = rep.SendInterim("no GitHub remote, pull request skipped")
			return res, nil
		}
		title := fmt.Sprintf("Review %s (%s)", snap.Changeset.ID, src.Name)
		pr, err := prs.EnsurePullRequest(ctx, owner, name, br.Source, br.Target, title, "")
		if err != nil {
			return res, err
		}
		res.PullRequest = pr
	}
	return res, nil
}

func abortMerge(ctx context.Context, repo repository.Repository) error {
	merging, err := repo.IsMergeInProgress(ctx)
	if err != nil || !merging {
		return err
	}
	return repo.AbortMergeInProgress(ctx)
}
