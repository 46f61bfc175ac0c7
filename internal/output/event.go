package output

import (
	"encoding/json"

	"rflow/internal/dispatch"
)

type Status string

const (
	StatusOK   Status = "OK"
	StatusFail Status = "FAIL"
)

// Result is the outcome of one task for one project.
type Result struct {
	Op      string          `json:"op"`
	Project string          `json:"project"`
	Status  Status          `json:"status"`
	Summary string          `json:"summary,omitempty"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Event is a lifecycle record for NDJSON streaming output.
//
// In NDJSON mode, sinks emit Events (one JSON object per line):
// - run.started
// - project.finished
// - batch.finished
// - run.finished
//
// JSON mode remains an aggregate of Result values.
type Event struct {
	Type string `json:"type"`
	Op   string `json:"op,omitempty"`
	*Result
	Projects int    `json:"projects,omitempty"`
	Failures int    `json:"failures,omitempty"`
	ExitCode int    `json:"exit_code,omitempty"`
	Message  string `json:"message,omitempty"`
}

func eventFromResult(r Result) Event {
	return Event{Type: "project.finished", Op: r.Op, Result: &r}
}

// Results flattens a batch into per-project results in batch order.
// Projects that never reported (an interrupted batch) are left out.
func Results(op string, order []string, res *dispatch.BatchResult) []Result {
	if res == nil {
		return nil
	}
	out := make([]Result, 0, len(order))
	for _, dirname := range order {
		if o, ok := res.Outputs[dirname]; ok {
			out = append(out, Result{Op: op, Project: dirname, Status: StatusOK, Summary: o.Summary, Data: o.Data})
			continue
		}
		if reason, ok := res.Errors[dirname]; ok {
			out = append(out, Result{Op: op, Project: dirname, Status: StatusFail, Error: reason})
		}
	}
	return out
}
