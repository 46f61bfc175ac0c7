package output

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// Report is the json form of a whole run: every project result, one
// entry per batch, and how the run ended.
type Report struct {
	Op       string   `json:"op,omitempty"`
	Results  []Result `json:"results"`
	Batches  []Event  `json:"batches"`
	ExitCode int      `json:"exit_code"`
	Message  string   `json:"message,omitempty"`
}

// recorder is shared by the stdout and file sinks. In ndjson mode it
// streams events; in json mode it folds them into a Report written by finish.
type recorder struct {
	mu     sync.Mutex
	w      io.Writer
	format string
	report Report
}

func checkFormat(format string) error {
	if format != "json" && format != "ndjson" {
		return fmt.Errorf("unsupported output format: %s", format)
	}
	return nil
}

func (r *recorder) record(v any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.format == "ndjson" {
		return encodeEvent(r.w, v)
	}
	switch t := v.(type) {
	case Result:
		r.report.Results = append(r.report.Results, t)
	case Event:
		switch t.Type {
		case "run.started":
			r.report.Op = t.Op
		case "batch.finished":
			r.report.Batches = append(r.report.Batches, t)
		case "run.finished":
			r.report.ExitCode = t.ExitCode
			r.report.Message = t.Message
		}
	}
	return nil
}

func (r *recorder) finish() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.format != "json" {
		return nil
	}
	rep := r.report
	if rep.Results == nil {
		rep.Results = []Result{}
	}
	if rep.Batches == nil {
		rep.Batches = []Event{}
	}
	enc := json.NewEncoder(r.w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rep); err != nil {
		return err
	}
	return flushIfPossible(r.w)
}

// EmitSink writes an additional structured stream (--emit).
//
// Formats:
//   - json: one Report document written on Close
//   - ndjson: Event values streamed one per line
type EmitSink struct {
	rec *recorder
}

func NewEmitSink(w io.Writer, format string) (*EmitSink, error) {
	if w == nil {
		return nil, fmt.Errorf("emit sink writer must not be nil")
	}
	if err := checkFormat(format); err != nil {
		return nil, fmt.Errorf("emit: %w", err)
	}
	return &EmitSink{rec: &recorder{w: w, format: format}}, nil
}

func (s *EmitSink) Write(v any) error { return s.rec.record(v) }

func (s *EmitSink) Close() error { return s.rec.finish() }

// encodeEvent writes v as one NDJSON line. Values other than Event and
// Result are ignored.
func encodeEvent(w io.Writer, v any) error {
	var e Event
	switch t := v.(type) {
	case Event:
		e = t
	case Result:
		e = eventFromResult(t)
	default:
		return nil
	}
	if err := json.NewEncoder(w).Encode(e); err != nil {
		return err
	}
	return flushIfPossible(w)
}

// flushIfPossible pushes buffered writers (bufio, gzip) through so each
// event is visible to readers immediately.
func flushIfPossible(w io.Writer) error {
	if f, ok := w.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}
