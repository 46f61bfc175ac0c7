package tasks

import (
	"fmt"
	"sort"
	"sync"
)

var (
	registry = make(map[string]Task)
	mu       sync.RWMutex
)

func Register(t Task) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := registry[t.Kind()]; exists {
		panic(fmt.Sprintf("task %s already registered", t.Kind()))
	}
	registry[t.Kind()] = t
}

// Lookup returns the task registered under kind.
func Lookup(kind string) (Task, error) {
	mu.RLock()
	defer mu.RUnlock()
	t, ok := registry[kind]
	if !ok {
		return nil, fmt.Errorf("task not found: %s", kind)
	}
	return t, nil
}

func List() []Task {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]Task, 0, len(registry))
	for _, t := range registry {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Kind() < out[j].Kind()
	})
	return out
}
