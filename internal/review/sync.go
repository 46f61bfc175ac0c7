package review

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"rflow/internal/config"
	"rflow/internal/dispatch"
	"rflow/internal/log"
	"rflow/internal/project"
)

// ErrNotStable is returned when forwarding keeps finding new work.
var ErrNotStable = errors.New("review branches did not settle")

// MissingMergeCommitsError stops a changeset whose tool merge commits were
// never pushed.
type MissingMergeCommitsError struct {
	Count int
	Op    string
}

func (e *MissingMergeCommitsError) Error() string {
	noun := "projects are"
	if e.Count == 1 {
		noun = "project is"
	}
	return fmt.Sprintf("%s: %d %s missing merge commits; push the changeset branch first", e.Op, e.Count, noun)
}

// Runner is the dispatch entry point.
type Runner interface {
	Run(ctx context.Context, kind string, snap config.Snapshot, batch []dispatch.Task) (*dispatch.BatchResult, error)
}

type Synchronizer struct {
	Runner    Runner
	Snapshot  config.Snapshot
	MaxRounds int
}

// Report is the outcome of Sync.
type Report struct {
	Rounds   int
	Statuses map[string]*Status
	// Forwarded counts projects forwarded across all rounds.
	Forwarded int
}

func sourceTasks(projects []project.Project) []dispatch.Task {
	var out []dispatch.Task
	for _, p := range projects {
		if _, ok := p.(*project.Source); ok {
			out = append(out, dispatch.Task{Project: p})
		}
	}
	return out
}

// Status computes the review status of every source project in one batch.
// Approval frontiers advanced by the workers are applied to projects.
func (s *Synchronizer) Status(ctx context.Context, projects []project.Project) (map[string]*Status, error) {
	res, err := s.Runner.Run(ctx, KindStatus, s.Snapshot, sourceTasks(projects))
	if err != nil {
		return nil, err
	}
	statuses := make(map[string]*Status, len(res.Outputs))
	for dirname, out := range res.Outputs {
		var st Status
		if err := json.Unmarshal(out.Data, &st); err != nil {
			return nil, fmt.Errorf("review status %s: %w", dirname, err)
		}
		statuses[dirname] = &st
	}
	if err := res.Err("review status"); err != nil {
		return statuses, err
	}

	missing := 0
	for _, st := range statuses {
		if len(st.MissingMergeCommits) > 0 {
			missing++
		}
	}
	if missing > 0 {
		return statuses, &MissingMergeCommitsError{Count: missing, Op: "review status"}
	}
	return statuses, nil
}

// Sync alternates status and forward batches until no project has
// commits outside review, for at most MaxRounds rounds.
func (s *Synchronizer) Sync(ctx context.Context, projects []project.Project) (*Report, error) {
	rounds := s.MaxRounds
	if rounds <= 0 {
		rounds = 1
	}
	report := &Report{}
	for round := 1; round <= rounds; round++ {
		report.Rounds = round
		statuses, err := s.Status(ctx, projects)
		report.Statuses = statuses
		if err != nil {
			var missing *MissingMergeCommitsError
			if errors.As(err, &missing) {
				missing.Op = "review sync"
			}
			return report, err
		}

		var pending []dispatch.Task
		for _, p := range projects {
			if st, ok := statuses[project.Dirname(p)]; ok && st.NeedsAction() {
				pending = append(pending, dispatch.Task{Project: p})
			}
		}
		if len(pending) == 0 {
			return report, nil
		}
		log.InfoLog.Printf("review sync round %d: forwarding %d projects", round, len(pending))

		res, err := s.Runner.Run(ctx, KindForward, s.Snapshot, pending)
		if err != nil {
			return report, err
		}
		report.Forwarded += len(res.Outputs)
		if err := res.Err("review forward"); err != nil {
			return report, err
		}
	}
	return report, fmt.Errorf("review sync: %w after %d rounds", ErrNotStable, rounds)
}
