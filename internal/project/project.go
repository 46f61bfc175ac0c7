// Package project models the repositories a changeset spans.
//
// A Project is a closed sum type: Source for plain source repositories and
// Build for bundle build repositories. Values cross the process boundary
// through the discriminated JSON form produced by Marshal.
package project

import (
	"encoding/json"
	"errors"
	"fmt"
)

type Kind string

const (
	KindSource Kind = "source"
	KindBuild  Kind = "build"
)

var ErrUnknownKind = errors.New("unknown project kind")

// Ref holds what every project kind shares.
type Ref struct {
	Name string `json:"name" yaml:"name"`

	// Dirname is the stable correlation key used throughout a batch.
	Dirname string `json:"dirname" yaml:"dirname"`

	// Path is the local working directory (absolute once config is validated).
	Path string `json:"path" yaml:"path"`

	Remote string `json:"remote,omitempty" yaml:"remote,omitempty"`

	// URL is the remote clone URL; GitHub URLs enable review pull requests.
	URL string `json:"url,omitempty" yaml:"url,omitempty"`
}

type Project interface {
	Kind() Kind
	Reference() *Ref
	isProject()
}

// Review tracks how far a project's changeset commits have been approved.
type Review struct {
	// ApprovedFrom is the last-known approval source; commit graphs start here.
	ApprovedFrom string `json:"approved_from,omitempty" yaml:"approved_from,omitempty"`

	// ApprovedTo is the frontier commit id up to which changeset commits are reviewed.
	ApprovedTo string `json:"approved_to,omitempty" yaml:"approved_to,omitempty"`
}

type Source struct {
	Ref
	Branch string `json:"branch" yaml:"branch"`
	Review Review `json:"review" yaml:"review"`
}

func (*Source) Kind() Kind        { return KindSource }
func (s *Source) Reference() *Ref { return &s.Ref }
func (*Source) isProject()        {}

type Build struct {
	Ref
	Branch  string `json:"branch" yaml:"branch"`
	Bundle  string `json:"bundle" yaml:"bundle"`
	Version string `json:"version,omitempty" yaml:"version,omitempty"`
}

func (*Build) Kind() Kind        { return KindBuild }
func (b *Build) Reference() *Ref { return &b.Ref }
func (*Build) isProject()        {}

// Dirname returns the correlation key for p, or "" for a nil project.
func Dirname(p Project) string {
	if p == nil {
		return ""
	}
	return p.Reference().Dirname
}

// Branch returns the working branch of either kind.
func Branch(p Project) string {
	switch v := p.(type) {
	case *Source:
		return v.Branch
	case *Build:
		return v.Branch
	default:
		return ""
	}
}

type wire struct {
	Type    Kind            `json:"type"`
	Project json.RawMessage `json:"project"`
}

// Marshal encodes p with its kind discriminant.
func Marshal(p Project) ([]byte, error) {
	if p == nil {
		return nil, errors.New("project is nil")
	}
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal %s project: %w", p.Kind(), err)
	}
	return json.Marshal(wire{Type: p.Kind(), Project: body})
}

// Unmarshal reconstitutes a project from its discriminated form.
func Unmarshal(data []byte) (Project, error) {
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode project: %w", err)
	}
	var p Project
	switch w.Type {
	case KindSource:
		p = &Source{}
	case KindBuild:
		p = &Build{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, w.Type)
	}
	if len(w.Project) == 0 {
		return nil, fmt.Errorf("decode %s project: missing body", w.Type)
	}
	if err := json.Unmarshal(w.Project, p); err != nil {
		return nil, fmt.Errorf("decode %s project: %w", w.Type, err)
	}
	return p, nil
}

// Valid reports whether p is one of the recognized project kinds.
func Valid(p Project) bool {
	switch v := p.(type) {
	case *Source:
		return v != nil && v.Dirname != ""
	case *Build:
		return v != nil && v.Dirname != ""
	default:
		return false
	}
}

// Overlay copies the state of src onto dst so holders of dst observe
// mutations made elsewhere (typically inside a worker).
func Overlay(dst, src Project) error {
	if err := CheckOverlay(dst, src); err != nil {
		return err
	}
	switch d := dst.(type) {
	case *Source:
		*d = *src.(*Source)
	case *Build:
		*d = *src.(*Build)
	}
	return nil
}

// CheckOverlay reports whether Overlay(dst, src) would succeed without
// touching dst.
func CheckOverlay(dst, src Project) error {
	if dst == nil || src == nil {
		return errors.New("overlay: nil project")
	}
	if dst.Kind() != src.Kind() {
		return fmt.Errorf("overlay: kind mismatch %s != %s", dst.Kind(), src.Kind())
	}
	if Dirname(dst) != Dirname(src) {
		return fmt.Errorf("overlay: dirname mismatch %q != %q", Dirname(dst), Dirname(src))
	}
	return nil
}

// Encoded wraps a Project so it can sit inside other JSON documents.
type Encoded struct {
	Project
}

func (e Encoded) MarshalJSON() ([]byte, error) {
	if e.Project == nil {
		return []byte("null"), nil
	}
	return Marshal(e.Project)
}

func (e *Encoded) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		e.Project = nil
		return nil
	}
	p, err := Unmarshal(data)
	if err != nil {
		return err
	}
	e.Project = p
	return nil
}
