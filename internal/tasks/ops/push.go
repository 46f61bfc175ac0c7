package ops

import (
	"context"
	"fmt"

	"rflow/internal/project"
	"rflow/internal/tasks"
)

// Push publishes the changeset branch.
type Push struct{}

type PushResult struct {
	Branch string `json:"branch"`
	Head   string `json:"head"`
}

func (r *PushResult) String() string {
	return fmt.Sprintf("pushed %s @ %s", r.Branch, short(r.Head))
}

func (t *Push) Kind() string                { return "push" }
func (t *Push) Description() string         { return "Pushes the changeset branch to its remote." }
func (t *Push) Accepts(k project.Kind) bool { return true }

func (t *Push) Run(ctx context.Context, env *tasks.Env, rep tasks.Reporter) (any, error) {
	branch := project.Branch(env.Project)
	head, err := env.Repo.HeadCommitID(branch)
	if err != nil {
		return nil, err
	}
	_ = rep.SendInterim("push")
	if err := env.Repo.Push(ctx, branch); err != nil {
		return nil, fmt.Errorf("push %s: %w", branch, err)
	}
	return &PushResult{Branch: branch, Head: head}, nil
}

func init() {
	tasks.Register(&Push{})
}
