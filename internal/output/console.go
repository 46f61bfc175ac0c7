package output

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
)

// ConsoleSink prints one line per project result and a total per batch.
// json and ndjson formats fall back to the structured recorder.
type ConsoleSink struct {
	writer io.Writer
	format string
	rec    *recorder
	allow  map[Status]bool
}

// NewConsoleSink writes to w (stdout when nil). filterStatuses limits which
// project results get through; lifecycle events always do.
func NewConsoleSink(w io.Writer, format string, filterStatuses []string) *ConsoleSink {
	if w == nil {
		w = os.Stdout
	}
	if format == "" {
		format = "text"
	}
	s := &ConsoleSink{writer: w, format: format}
	if checkFormat(format) == nil {
		s.rec = &recorder{w: w, format: format}
	}
	for _, st := range filterStatuses {
		if s.allow == nil {
			s.allow = make(map[Status]bool)
		}
		s.allow[Status(strings.ToUpper(st))] = true
	}
	return s
}

func (s *ConsoleSink) Write(v any) error {
	if r, ok := v.(Result); ok && s.allow != nil && !s.allow[r.Status] {
		return nil
	}
	if s.rec != nil {
		return s.rec.record(v)
	}
	if s.format != "text" {
		return fmt.Errorf("unsupported console format: %s", s.format)
	}
	line, ok := textLine(v)
	if !ok {
		return nil
	}
	if _, err := fmt.Fprintln(s.writer, line); err != nil {
		return err
	}
	return flushIfPossible(s.writer)
}

func textLine(v any) (string, bool) {
	switch t := v.(type) {
	case Result:
		status, detail := color.GreenString(string(t.Status)), t.Summary
		if t.Status == StatusFail {
			status, detail = color.RedString(string(t.Status)), t.Error
		}
		if detail == "" {
			return fmt.Sprintf("[%s] %s", status, t.Project), true
		}
		return fmt.Sprintf("[%s] %s: %s", status, t.Project, detail), true
	case Event:
		if t.Type != "batch.finished" {
			return "", false
		}
		if t.Failures == 0 {
			return fmt.Sprintf("%s: %d projects ok", t.Op, t.Projects), true
		}
		return fmt.Sprintf("%s: %d of %d projects failed", t.Op, t.Failures, t.Projects), true
	}
	return "", false
}

func (s *ConsoleSink) Close() error {
	if s.rec != nil {
		return s.rec.finish()
	}
	if s.format != "text" {
		return fmt.Errorf("unsupported console format: %s", s.format)
	}
	return nil
}
