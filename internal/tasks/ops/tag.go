package ops

import (
	"context"
	"errors"
	"fmt"

	"rflow/internal/graph"
	"rflow/internal/project"
	"rflow/internal/tasks"
)

// Tag creates an annotated tag on the changeset branch head and pushes it.
// The tag name comes from params tag, or the version of a build project.
type Tag struct{}

type TagResult struct {
	Tag    string `json:"tag"`
	Commit string `json:"commit"`
}

func (r *TagResult) String() string {
	return fmt.Sprintf("tagged %s @ %s", r.Tag, short(r.Commit))
}

func (t *Tag) Kind() string { return "tag" }

func (t *Tag) Description() string {
	return "Tags the changeset branch head and pushes the tag."
}

func (t *Tag) Accepts(k project.Kind) bool { return true }

func (t *Tag) Run(ctx context.Context, env *tasks.Env, rep tasks.Reporter) (any, error) {
	name := env.Param("tag", "")
	if b, ok := env.Project.(*project.Build); ok && name == "" {
		name = b.Version
	}
	if name == "" {
		return nil, errors.New("no tag name given")
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
	if repo.HasRef(name) {
		tagged, err := repo.DoesTagContainCommitID(name, head)
		if err != nil {
			return nil, err
		}
		if !tagged {
			return nil, fmt.Errorf("tag %s already exists on another commit", name)
		}
	} else {
		msg := env.Param("message", "Release "+name)
		msg += "\n\n" + graph.Trailer(env.Config.Changeset.ID)
		_ = rep.SendInterim("tag")
		if err := repo.Tag(ctx, name, msg); err != nil {
			return nil, fmt.Errorf("tag %s: %w", name, err)
		}
	}

	_ = rep.SendInterim(", push")
	if err := repo.Push(ctx, "refs/tags/"+name); err != nil {
		return nil, fmt.Errorf("push tag %s: %w", name, err)
	}
	return &TagResult{Tag: name, Commit: head}, nil
}

func init() {
	tasks.Register(&Tag{})
}
