package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"

	"rflow/internal/config"
	"rflow/internal/project"
)

var (
	// ErrUnknownProject rejects a batch holding a task without a recognized project.
	ErrUnknownProject = errors.New("task has no recognized project")

	// ErrInterrupted is returned when the batch was cancelled; no partial
	// result is returned with it.
	ErrInterrupted = errors.New("batch interrupted")

	// ErrProjectNotFound is reported by a worker that could not locate its
	// assigned project. It aborts the whole batch.
	ErrProjectNotFound = errors.New("worker could not locate its project")
)

// ExitProjectNotFound is the worker process exit code for ErrProjectNotFound.
const ExitProjectNotFound = 3

// Envelope is the single message a worker receives.
type Envelope struct {
	Kind   string          `json:"kind"`
	Config config.Snapshot `json:"config"`
	Input  Input           `json:"input"`
}

type Input struct {
	Project *project.Encoded  `json:"project,omitempty"`
	Params  map[string]string `json:"params,omitempty"`
}

// ProgressMessage is sent by a worker zero or more times as an interim
// update and exactly once with Complete set.
type ProgressMessage struct {
	Dirname  string  `json:"dirname"`
	Update   string  `json:"update,omitempty"`
	Complete bool    `json:"complete,omitempty"`
	Success  bool    `json:"success,omitempty"`
	Output   *Output `json:"output,omitempty"`
}

type Output struct {
	// Project carries the worker's copy of the project after the task ran.
	Project *project.Encoded `json:"project,omitempty"`
	Data    json.RawMessage  `json:"data,omitempty"`
	Error   string           `json:"error,omitempty"`

	// Summary is the final status line; the dispatcher fills it in.
	Summary string `json:"summary,omitempty"`
}

// BatchResult aggregates one dispatch. Outputs and Errors are keyed by dirname.
type BatchResult struct {
	Success      bool
	FailureCount int
	Outputs      map[string]Output
	Errors       map[string]string
}

// Err returns a *BatchError naming op when any task failed.
func (r *BatchResult) Err(op string) error {
	if r == nil || r.FailureCount == 0 {
		return nil
	}
	return &BatchError{Op: op, FailureCount: r.FailureCount, Total: r.FailureCount + len(r.Outputs)}
}

type BatchError struct {
	Op           string
	FailureCount int
	Total        int
}

func (e *BatchError) Error() string {
	noun := "projects"
	if e.Total == 1 {
		noun = "project"
	}
	return fmt.Sprintf("%s failed for %d of %d %s", e.Op, e.FailureCount, e.Total, noun)
}

// Task is one unit of a batch.
type Task struct {
	Project project.Project
	Params  map[string]string
}
