// Package tasks defines the per-project operations a worker process can run
// and the registry the dispatcher and workers resolve them from.
package tasks

import (
	"context"

	"rflow/internal/config"
	"rflow/internal/project"
	"rflow/internal/repository"
)

type Task interface {
	Kind() string
	Description() string

	// Accepts reports whether the task can run against projects of kind k.
	Accepts(k project.Kind) bool

	// Run performs the task inside a worker. The returned value becomes the
	// data of the final progress message; mutations to env.Project are sent
	// back to the driver.
	Run(ctx context.Context, env *Env, rep Reporter) (any, error)
}

// Reporter streams interim status text for the running project.
type Reporter interface {
	SendInterim(text string) error
}

// Env is everything a task sees. Workers build one per task.
type Env struct {
	Config  config.Snapshot
	Project project.Project
	Params  map[string]string
	Repo    repository.Repository
}

// Param returns the named parameter or def when unset.
func (e *Env) Param(name, def string) string {
	if v, ok := e.Params[name]; ok && v != "" {
		return v
	}
	return def
}
