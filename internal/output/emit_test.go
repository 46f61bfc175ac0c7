package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

// feed writes a two-batch run: checkout (ok) then push (one failure).
func feed(t *testing.T, s Sink) {
	t.Helper()
	writes := []any{
		Event{Type: "run.started", Op: "review", Projects: 2},
		Result{Op: "review-status", Project: "core", Status: StatusOK, Summary: "1 to forward"},
		Result{Op: "review-status", Project: "docs", Status: StatusOK},
		Event{Type: "batch.finished", Op: "review-status", Projects: 2},
		Result{Op: "review-forward", Project: "core", Status: StatusFail, Error: "push rejected"},
		Event{Type: "batch.finished", Op: "review-forward", Projects: 1, Failures: 1},
		Event{Type: "run.finished", ExitCode: 1, Message: "review-forward failed for 1 of 1 projects"},
		"not an event",
	}
	for _, v := range writes {
		if err := s.Write(v); err != nil {
			t.Fatalf("Write(%v): %v", v, err)
		}
	}
}

func TestEmitSink_JSONReport(t *testing.T) {
	var buf bytes.Buffer
	s, err := NewEmitSink(&buf, "json")
	if err != nil {
		t.Fatalf("NewEmitSink: %v", err)
	}
	feed(t, s)
	if buf.Len() != 0 {
		t.Fatalf("json output must wait for Close, got %q", buf.String())
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	var rep Report
	if err := json.Unmarshal(buf.Bytes(), &rep); err != nil {
		t.Fatalf("invalid report: %v\n%s", err, buf.String())
	}
	if rep.Op != "review" || rep.ExitCode != 1 || !strings.Contains(rep.Message, "1 of 1") {
		t.Fatalf("unexpected run fields: %+v", rep)
	}
	if len(rep.Results) != 3 || rep.Results[2].Error != "push rejected" {
		t.Fatalf("unexpected results: %+v", rep.Results)
	}
	if len(rep.Batches) != 2 || rep.Batches[1].Op != "review-forward" || rep.Batches[1].Failures != 1 {
		t.Fatalf("unexpected batches: %+v", rep.Batches)
	}
}

func TestEmitSink_JSONReport_EmptyRunUsesArrays(t *testing.T) {
	var buf bytes.Buffer
	s, err := NewEmitSink(&buf, "json")
	if err != nil {
		t.Fatalf("NewEmitSink: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	for _, want := range []string{`"results": []`, `"batches": []`, `"exit_code": 0`} {
		if !strings.Contains(buf.String(), want) {
			t.Fatalf("expected %s in %s", want, buf.String())
		}
	}
}

func TestEmitSink_NDJSONStream(t *testing.T) {
	var buf bytes.Buffer
	s, err := NewEmitSink(&buf, "ndjson")
	if err != nil {
		t.Fatalf("NewEmitSink: %v", err)
	}
	feed(t, s)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	var types []string
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var e Event
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			t.Fatalf("invalid line %q: %v", line, err)
		}
		if e.Type == "project.finished" && (e.Result == nil || e.Op != e.Result.Op) {
			t.Fatalf("project event without its result: %q", line)
		}
		types = append(types, e.Type)
	}
	want := "run.started project.finished project.finished batch.finished project.finished batch.finished run.finished"
	if got := strings.Join(types, " "); got != want {
		t.Fatalf("event sequence\nwant: %s\ngot:  %s", want, got)
	}
}

func TestEmitSink_NDJSON_InlinesTaskData(t *testing.T) {
	var buf bytes.Buffer
	s, err := NewEmitSink(&buf, "ndjson")
	if err != nil {
		t.Fatalf("NewEmitSink: %v", err)
	}
	if err := s.Write(Result{Op: "checkout", Project: "core", Status: StatusOK, Data: json.RawMessage(`{"branch":"cs"}`)}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !strings.Contains(buf.String(), `"data":{"branch":"cs"}`) {
		t.Fatalf("expected task data inline, got %q", buf.String())
	}
}

func TestNewEmitSink_Rejects(t *testing.T) {
	if _, err := NewEmitSink(&bytes.Buffer{}, "text"); err == nil {
		t.Fatalf("expected error for text format")
	}
	if _, err := NewEmitSink(nil, "json"); err == nil {
		t.Fatalf("expected error for nil writer")
	}
}
