package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"rflow/internal/project"
)

// DefaultFile is the workspace file looked up when --config is not given.
const DefaultFile = "rflow.yaml"

type Config struct {
	// MAINTAINER NOTE: If you add/change/remove fields that flags override,
	// keep the flag wiring in internal/cli/root.go in sync.
	Workspace Workspace `yaml:"workspace"`
	Changeset Changeset `yaml:"changeset"`
	Review    Review    `yaml:"review"`
	Runtime   Runtime   `yaml:"runtime"`
	Output    Output    `yaml:"output"`
}

type Workspace struct {
	// Root is the directory project paths are resolved against. Defaults to
	// the directory holding the workspace file.
	Root string `yaml:"root"`

	// StateFile records approval frontiers between runs (relative to Root).
	StateFile string `yaml:"state_file"`

	Projects []ProjectSpec `yaml:"projects"`
}

// ProjectSpec is the YAML form of a project; Type selects the kind.
type ProjectSpec struct {
	Type    project.Kind `yaml:"type"`
	Name    string       `yaml:"name"`
	Dirname string       `yaml:"dirname"`
	Path    string       `yaml:"path"`
	Remote  string       `yaml:"remote"`
	URL     string       `yaml:"url"`
	Bundle  string       `yaml:"bundle"`
	Version string       `yaml:"version"`

	// ApprovedFrom seeds the review state of source projects.
	ApprovedFrom string `yaml:"approved_from"`
}

type Changeset struct {
	ID     string `yaml:"id" json:"id"`
	Branch string `yaml:"branch" json:"branch"`

	// TrackingIDs mark commits generated for this changeset. Defaults to [ID].
	TrackingIDs []string `yaml:"tracking_ids" json:"tracking_ids"`
}

type Review struct {
	// SourcePrefix and TargetPrefix name the review branches: prefix + changeset id.
	SourcePrefix string `yaml:"source_prefix" json:"source_prefix"`
	TargetPrefix string `yaml:"target_prefix" json:"target_prefix"`

	// MaxRounds bounds status/action rounds of one synchronization.
	MaxRounds int `yaml:"max_rounds" json:"max_rounds"`

	// PullRequests opens GitHub pull requests for review branches.
	PullRequests bool `yaml:"pull_requests" json:"pull_requests"`
}

type Runtime struct {
	// Concurrency is the maximum number of live worker processes (see --concurrency).
	Concurrency int `yaml:"concurrency"`

	// Timeout bounds one command run (see --timeout).
	Timeout time.Duration `yaml:"timeout"`

	// SideChannelDir holds payload relay spill files.
	SideChannelDir string `yaml:"side_channel_dir"`

	// Verbose enables [verbose] diagnostics on stderr (see --verbose).
	Verbose bool `yaml:"verbose"`
}

type Output struct {
	// Emit writes an additional structured stream to stdout: json|ndjson (see --emit).
	Emit []string `yaml:"emit"`

	// NoConsole suppresses the live status board and text summary (see --no-console).
	NoConsole bool `yaml:"no_console"`

	// Out writes structured results to a file (see --out). OutFormat is
	// json|ndjson, inferred from the extension when empty.
	Out       string `yaml:"out"`
	OutFormat string `yaml:"out_format"`
}

func New() *Config {
	return &Config{
		Workspace: Workspace{
			StateFile: ".rflow-state.yaml",
		},
		Review: Review{
			SourcePrefix: "review/source/",
			TargetPrefix: "review/target/",
			MaxRounds:    3,
		},
		Runtime: Runtime{
			Concurrency: 4,
			Timeout:     30 * time.Minute,
		},
	}
}

// Load reads a workspace file over the defaults. Root defaults to the
// file's directory.
func Load(path string) (*Config, error) {
	cfg := New()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.Workspace.Root == "" {
		abs, err := filepath.Abs(filepath.Dir(path))
		if err != nil {
			return nil, err
		}
		cfg.Workspace.Root = abs
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Runtime.Concurrency <= 0 {
		return errors.New("--concurrency must be >= 1")
	}
	if c.Runtime.Timeout <= 0 {
		return errors.New("--timeout must be > 0")
	}
	if c.Review.MaxRounds <= 0 {
		return errors.New("review.max_rounds must be >= 1")
	}

	c.Changeset.ID = strings.TrimSpace(c.Changeset.ID)
	c.Changeset.Branch = strings.TrimSpace(c.Changeset.Branch)
	if c.Changeset.ID == "" {
		return errors.New("changeset.id is required")
	}
	if c.Changeset.Branch == "" {
		c.Changeset.Branch = "changeset/" + c.Changeset.ID
	}
	c.Changeset.TrackingIDs = splitCommaList(c.Changeset.TrackingIDs)
	if len(c.Changeset.TrackingIDs) == 0 {
		c.Changeset.TrackingIDs = []string{c.Changeset.ID}
	}

	c.Output.Emit = splitCommaList(c.Output.Emit)
	for i, emit := range c.Output.Emit {
		v := normalizeEnumValue(emit)
		if v != "json" && v != "ndjson" {
			return fmt.Errorf("unsupported --emit value: %s (must be one of: json, ndjson)", emit)
		}
		c.Output.Emit[i] = v
	}
	c.Output.OutFormat = normalizeEnumValue(c.Output.OutFormat)
	if c.Output.OutFormat != "" && c.Output.OutFormat != "json" && c.Output.OutFormat != "ndjson" {
		return fmt.Errorf("unsupported --out-format value: %s (must be one of: json, ndjson)", c.Output.OutFormat)
	}
	if c.Output.OutFormat != "" && c.Output.Out == "" {
		return errors.New("--out-format requires --out")
	}

	if c.Workspace.Root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return err
		}
		c.Workspace.Root = wd
	}

	seen := make(map[string]bool, len(c.Workspace.Projects))
	for i := range c.Workspace.Projects {
		p := &c.Workspace.Projects[i]
		p.Dirname = strings.TrimSpace(p.Dirname)
		if p.Dirname == "" {
			p.Dirname = strings.TrimSpace(p.Name)
		}
		if p.Dirname == "" {
			return fmt.Errorf("project #%d: name or dirname is required", i+1)
		}
		if seen[p.Dirname] {
			return fmt.Errorf("project %s: duplicate dirname", p.Dirname)
		}
		seen[p.Dirname] = true
		if p.Name == "" {
			p.Name = p.Dirname
		}

		p.Type = project.Kind(normalizeEnumValue(string(p.Type)))
		if p.Type == "" {
			p.Type = project.KindSource
		}
		if p.Type != project.KindSource && p.Type != project.KindBuild {
			return fmt.Errorf("project %s: unsupported type %q (must be one of: source, build)", p.Dirname, p.Type)
		}
		if p.Type == project.KindBuild && p.Bundle == "" {
			return fmt.Errorf("project %s: build projects require a bundle", p.Dirname)
		}

		if p.Path == "" {
			p.Path = p.Dirname
		}
		if !filepath.IsAbs(p.Path) {
			p.Path = filepath.Join(c.Workspace.Root, p.Path)
		}
	}
	return nil
}

// Projects builds live project values, applying persisted review state.
func (c *Config) Projects(state State) []project.Project {
	out := make([]project.Project, 0, len(c.Workspace.Projects))
	for _, spec := range c.Workspace.Projects {
		ref := project.Ref{
			Name:    spec.Name,
			Dirname: spec.Dirname,
			Path:    spec.Path,
			Remote:  spec.Remote,
			URL:     spec.URL,
		}
		switch spec.Type {
		case project.KindBuild:
			out = append(out, &project.Build{
				Ref:     ref,
				Branch:  c.Changeset.Branch,
				Bundle:  spec.Bundle,
				Version: spec.Version,
			})
		default:
			review := project.Review{ApprovedFrom: spec.ApprovedFrom}
			if saved, ok := state.Reviews[spec.Dirname]; ok {
				if saved.ApprovedFrom != "" {
					review.ApprovedFrom = saved.ApprovedFrom
				}
				review.ApprovedTo = saved.ApprovedTo
			}
			out = append(out, &project.Source{Ref: ref, Branch: c.Changeset.Branch, Review: review})
		}
	}
	return out
}

// Select returns the projects named in names (all when names is empty).
func Select(all []project.Project, names []string) ([]project.Project, error) {
	names = splitCommaList(names)
	if len(names) == 0 {
		return all, nil
	}
	byName := make(map[string]project.Project, len(all))
	for _, p := range all {
		byName[p.Reference().Dirname] = p
		byName[p.Reference().Name] = p
	}
	out := make([]project.Project, 0, len(names))
	for _, n := range names {
		p, ok := byName[n]
		if !ok {
			return nil, fmt.Errorf("unknown project %q", n)
		}
		out = append(out, p)
	}
	return out, nil
}

// StatePath returns the absolute path of the review state file.
func (c *Config) StatePath() string {
	if filepath.IsAbs(c.Workspace.StateFile) {
		return c.Workspace.StateFile
	}
	return filepath.Join(c.Workspace.Root, c.Workspace.StateFile)
}

func normalizeEnumValue(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

func splitCommaList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
