package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"rflow/internal/project"
)

// State is the review progress persisted between runs, keyed by dirname.
type State struct {
	Reviews map[string]project.Review `yaml:"reviews"`
}

type reviewState struct {
	ApprovedFrom string `yaml:"approved_from,omitempty"`
	ApprovedTo   string `yaml:"approved_to,omitempty"`
}

// LoadState reads the state file. A missing file yields an empty state.
func LoadState(path string) (State, error) {
	state := State{Reviews: map[string]project.Review{}}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return state, nil
	}
	if err != nil {
		return state, fmt.Errorf("read state %s: %w", path, err)
	}
	var raw struct {
		Reviews map[string]reviewState `yaml:"reviews"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return state, fmt.Errorf("parse state %s: %w", path, err)
	}
	for dirname, r := range raw.Reviews {
		state.Reviews[dirname] = project.Review{ApprovedFrom: r.ApprovedFrom, ApprovedTo: r.ApprovedTo}
	}
	return state, nil
}

// Record stores the review state of every source project in projects.
func (s *State) Record(projects []project.Project) {
	if s.Reviews == nil {
		s.Reviews = map[string]project.Review{}
	}
	for _, p := range projects {
		if src, ok := p.(*project.Source); ok {
			s.Reviews[src.Dirname] = src.Review
		}
	}
}

// SaveState writes the state file atomically.
func SaveState(path string, state State) error {
	raw := struct {
		Reviews map[string]reviewState `yaml:"reviews"`
	}{Reviews: make(map[string]reviewState, len(state.Reviews))}
	for dirname, r := range state.Reviews {
		raw.Reviews[dirname] = reviewState{ApprovedFrom: r.ApprovedFrom, ApprovedTo: r.ApprovedTo}
	}
	data, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".rflow-state-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
