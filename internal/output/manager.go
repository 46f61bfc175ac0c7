package output

import (
	"errors"
	"fmt"

	"rflow/internal/dispatch"
)

// Sink receives Result and Event values. Sinks ignore values they do not
// understand.
type Sink interface {
	Write(v any) error
	Close() error
}

// Manager fans every value out to all attached sinks. A failing sink does
// not stop the others.
type Manager struct {
	sinks []Sink
}

func NewManager() *Manager {
	return &Manager{}
}

func (m *Manager) AddSink(s Sink) error {
	if m == nil {
		return errors.New("output manager is nil")
	}
	if s == nil {
		return errors.New("sink must not be nil")
	}
	m.sinks = append(m.sinks, s)
	return nil
}

// Len reports how many sinks are attached.
func (m *Manager) Len() int {
	if m == nil {
		return 0
	}
	return len(m.sinks)
}

func (m *Manager) each(verb, gerund string, fn func(Sink) error) error {
	if m == nil {
		return errors.New("output manager is nil")
	}
	var errs []error
	for _, s := range m.sinks {
		if err := fn(s); err != nil {
			errs = append(errs, fmt.Errorf("%s %T: %w", verb, s, err))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("errors %s sinks: %w", gerund, errors.Join(errs...))
}

func (m *Manager) Write(v any) error {
	return m.each("write", "writing", func(s Sink) error { return s.Write(v) })
}

// WriteBatch writes one Result per project, in batch order, followed by a
// batch.finished event.
func (m *Manager) WriteBatch(op string, order []string, res *dispatch.BatchResult) error {
	results := Results(op, order, res)
	done := Event{Type: "batch.finished", Op: op, Projects: len(results)}
	var errs []error
	for _, r := range results {
		if r.Status == StatusFail {
			done.Failures++
		}
		errs = append(errs, m.Write(r))
	}
	errs = append(errs, m.Write(done))
	return errors.Join(errs...)
}

func (m *Manager) Close() error {
	return m.each("close", "closing", func(s Sink) error { return s.Close() })
}
