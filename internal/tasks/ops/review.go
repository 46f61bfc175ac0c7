package ops

import (
	"context"
	"errors"
	"os"

	"rflow/internal/github"
	"rflow/internal/project"
	"rflow/internal/review"
	"rflow/internal/tasks"
)

// ReviewStatus computes a source project's review status and advances its
// approval frontier.
type ReviewStatus struct{}

func (t *ReviewStatus) Kind() string { return review.KindStatus }

func (t *ReviewStatus) Description() string {
	return "Classifies unapproved changeset commits against the review branches."
}

func (t *ReviewStatus) Accepts(k project.Kind) bool { return k == project.KindSource }

func (t *ReviewStatus) Run(ctx context.Context, env *tasks.Env, rep tasks.Reporter) (any, error) {
	src, ok := env.Project.(*project.Source)
	if !ok {
		return nil, errors.New("review status needs a source project")
	}
	_ = rep.SendInterim("status")
	return review.Compute(ctx, env.Repo, src, env.Config)
}

// ReviewForward forwards commits not yet in review onto the review source
// branch and, when configured, opens the review pull request.
type ReviewForward struct{}

func (t *ReviewForward) Kind() string { return review.KindForward }

func (t *ReviewForward) Description() string {
	return "Creates review branches if needed and forwards new changeset commits into review."
}

func (t *ReviewForward) Accepts(k project.Kind) bool { return k == project.KindSource }

func (t *ReviewForward) Run(ctx context.Context, env *tasks.Env, rep tasks.Reporter) (any, error) {
	src, ok := env.Project.(*project.Source)
	if !ok {
		return nil, errors.New("review forward needs a source project")
	}

	var prs review.PullRequester
	if env.Config.Review.PullRequests {
		if token := env.Config.Credentials.GitHubToken; token != "" {
			c, err := github.NewClient(ctx, token, github.WithVerbose(env.Config.Verbose, os.Stderr))
			if err != nil {
				return nil, err
			}
			prs = c
		} else {
			_ = rep.SendInterim("no GitHub token, pull request skipped; ")
		}
	}
	return review.Forward(ctx, env.Repo, src, env.Config, prs, rep)
}

func init() {
	tasks.Register(&ReviewStatus{})
	tasks.Register(&ReviewForward{})
}
