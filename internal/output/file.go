package output

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileSink mirrors the run to --out. ndjson lines are written as they
// happen so a crashed run still leaves a partial log behind.
type FileSink struct {
	file *os.File
	rec  *recorder
}

// formatFor picks json or ndjson from the file extension.
func formatFor(path string) (string, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		return "json", nil
	case ".ndjson", ".jsonl":
		return "ndjson", nil
	default:
		return "", fmt.Errorf("cannot infer output format from file extension %q; pass --out-format", ext)
	}
}

func NewFileSink(path string, format string) (*FileSink, error) {
	if path == "" {
		return nil, errors.New("output path required")
	}
	if format == "" {
		f, err := formatFor(path)
		if err != nil {
			return nil, err
		}
		format = f
	}
	if err := checkFormat(format); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create output file: %w", err)
	}
	return &FileSink{file: f, rec: &recorder{w: f, format: format}}, nil
}

func (s *FileSink) Write(v any) error { return s.rec.record(v) }

func (s *FileSink) Close() error {
	return errors.Join(s.rec.finish(), s.file.Close())
}
