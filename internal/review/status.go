// Package review keeps per-project review branches in step with the
// changeset branch and advances each project's approval frontier as
// reviewed commits land on the review target.
package review

import (
	"context"
	"fmt"
	"strings"

	"rflow/internal/config"
	"rflow/internal/graph"
	"rflow/internal/project"
	"rflow/internal/repository"
)

// Task kinds registered by the ops package.
const (
	KindStatus  = "review-status"
	KindForward = "review-forward"
)

type Branches struct {
	Changeset string `json:"changeset"`
	Source    string `json:"source"`
	Target    string `json:"target"`
}

// BranchesFor names the changeset and review branches of p.
func BranchesFor(snap config.Snapshot, p project.Project) Branches {
	return Branches{
		Changeset: project.Branch(p),
		Source:    snap.Review.SourcePrefix + snap.Changeset.ID,
		Target:    snap.Review.TargetPrefix + snap.Changeset.ID,
	}
}

// Status is the review state of one project.
type Status struct {
	Dirname     string   `json:"dirname"`
	Branches    Branches `json:"branches"`
	HasBranches bool     `json:"has_branches"`

	// FromRefID is the resolved approval source; ApprovedTo the frontier
	// after this computation.
	FromRefID  string `json:"from_ref_id,omitempty"`
	ApprovedTo string `json:"approved_to,omitempty"`

	ChangesetCommits []string `json:"changeset_commits,omitempty"`

	// MergedCount counts unapproved commits found on the review target.
	MergedCount int `json:"merged_count"`
	// TargetMergeIDs are merge commits on the review target newer than the
	// frontier, newest first.
	TargetMergeIDs []string `json:"target_merge_ids,omitempty"`
	// ApprovedMergeParents are the changeset commits those merges brought
	// into the review target.
	ApprovedMergeParents []string `json:"approved_merge_parents,omitempty"`
	// Bypassed counts tool commits approved without review branches.
	Bypassed int `json:"bypassed"`

	// InReview holds commits on the review source awaiting merge.
	InReview []string `json:"in_review,omitempty"`
	// NotInReview holds commits that still need forwarding, oldest first.
	NotInReview []string `json:"not_in_review,omitempty"`

	// MissingMergeCommits are tool merge commits absent from the remote
	// changeset branch: a push was skipped.
	MissingMergeCommits []string `json:"missing_merge_commits,omitempty"`
}

// NeedsAction reports whether commits must be forwarded into review.
func (s *Status) NeedsAction() bool {
	return len(s.NotInReview) > 0
}

func (s *Status) String() string {
	var parts []string
	if n := s.MergedCount + s.Bypassed; n > 0 {
		parts = append(parts, fmt.Sprintf("%d approved", n))
	}
	if n := len(s.InReview); n > 0 {
		parts = append(parts, fmt.Sprintf("%d in review", n))
	}
	if n := len(s.NotInReview); n > 0 {
		parts = append(parts, fmt.Sprintf("%d to forward", n))
	}
	if n := len(s.MissingMergeCommits); n > 0 {
		parts = append(parts, fmt.Sprintf("%d missing merge commits", n))
	}
	if len(parts) == 0 {
		return "up to date"
	}
	return strings.Join(parts, ", ")
}

func remoteRef(p project.Project, branch string) string {
	remote := p.Reference().Remote
	if remote == "" {
		remote = "origin"
	}
	return remote + "/" + branch
}

// Compute fetches the project's remote and classifies every changeset
// commit the approval frontier has not reached yet. It advances
// src.Review.ApprovedTo past commits merged to the review target or, when
// review branches do not exist, past leading tool commits.
func Compute(ctx context.Context, repo repository.Repository, src *project.Source, snap config.Snapshot) (*Status, error) {
	if err := repo.Fetch(ctx); err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}

	br := BranchesFor(snap, src)
	g, err := graph.Create(repo, src.Dirname, src.Review.ApprovedFrom, br.Changeset, src.Review.ApprovedTo,
		graph.Context{TrackingIDs: snap.Changeset.TrackingIDs})
	if err != nil {
		return nil, err
	}

	st := &Status{Dirname: src.Dirname, Branches: br, FromRefID: g.FromRefID()}
	for _, c := range g.Commits() {
		st.ChangesetCommits = append(st.ChangesetCommits, c.ID)
	}

	st.MissingMergeCommits, err = missingMergeCommits(repo, g, remoteRef(src, br.Changeset))
	if err != nil {
		return nil, err
	}

	source, target := remoteRef(src, br.Source), remoteRef(src, br.Target)
	st.HasBranches = repo.HasRef(source) && repo.HasRef(target)

	var merged, bypassed []string
	unapproved := g.UnapprovedCommits()
	if st.HasBranches {
		st.TargetMergeIDs, st.ApprovedMergeParents, err = targetMerges(repo, g, target)
		if err != nil {
			return nil, err
		}
		for _, c := range unapproved {
			onTarget, err := repo.DoesBranchContainCommitID(target, c.ID)
			if err != nil {
				return nil, err
			}
			if onTarget {
				merged = append(merged, c.ID)
				st.MergedCount++
				continue
			}
			inReview, err := repo.DoesBranchContainCommitID(source, c.ID)
			if err != nil {
				return nil, err
			}
			if inReview {
				st.InReview = append(st.InReview, c.ID)
			} else {
				st.NotInReview = append(st.NotInReview, c.ID)
			}
		}
	} else {
		// Without review branches only the tool's own commits may be
		// approved; the first human commit stops the bypass.
		i := 0
		for ; i < len(unapproved); i++ {
			c := unapproved[i]
			if c.System == nil || !c.System.Ours {
				break
			}
			bypassed = append(bypassed, c.ID)
			st.Bypassed++
		}
		for _, c := range unapproved[i:] {
			st.NotInReview = append(st.NotInReview, c.ID)
		}
	}

	// Merged commits may sit on parallel lines: only a commit that
	// descends from all of them is a safe frontier.
	frontiers := bypassed
	if len(merged) > 0 || len(st.ApprovedMergeParents) > 0 {
		pending := unapprovedOf(g, st.ApprovedMergeParents)
		f := g.NewestDescendant(union(merged, pending))
		if f == "" {
			f = g.NewestDescendant(pending)
		}
		frontiers = []string{f}
	}
	for _, f := range frontiers {
		if _, err := g.UpdatedApprovedTo(f); err != nil {
			return nil, err
		}
	}
	st.ApprovedTo = src.Review.ApprovedTo
	if to := g.ApprovedTo(); to != "" {
		st.ApprovedTo = to
		src.Review.ApprovedTo = to
	}
	return st, nil
}

// targetMerges lists merge commits on the review target newer than the
// frontier and the changeset commits reached through their non-first
// parents.
func targetMerges(repo repository.Repository, g *graph.Graph, target string) (merges, parents []string, err error) {
	from := g.ApprovedTo()
	if from == "" {
		from = g.FromRefID()
	}
	history, err := repo.CommitHistory(from, target)
	if err != nil {
		return nil, nil, fmt.Errorf("review target history: %w", err)
	}
	byID := make(map[string]repository.Commit, len(history))
	for _, c := range history {
		byID[c.ID] = c
	}

	seen := make(map[string]bool)
	for _, m := range history {
		if len(m.Parents) < 2 {
			continue
		}
		merges = append(merges, m.ID)
		stack := append([]string(nil), m.Parents[1:]...)
		for len(stack) > 0 {
			id := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if seen[id] {
				continue
			}
			seen[id] = true
			if c, ok := g.Commit(id); ok && c.In {
				parents = append(parents, id)
				continue
			}
			if c, ok := byID[id]; ok {
				stack = append(stack, c.Parents...)
			}
		}
	}
	return merges, parents, nil
}

func unapprovedOf(g *graph.Graph, ids []string) []string {
	var out []string
	for _, id := range ids {
		if !g.IsCommitIDApproved(id) {
			out = append(out, id)
		}
	}
	return out
}

func union(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, id := range append(append([]string(nil), a...), b...) {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func missingMergeCommits(repo repository.Repository, g *graph.Graph, remoteBranch string) ([]string, error) {
	hasRemote := repo.HasRef(remoteBranch)
	var missing []string
	for _, c := range g.Commits() {
		if !c.IsMerge() || c.System == nil || !c.System.Ours {
			continue
		}
		pushed := false
		if hasRemote {
			var err error
			pushed, err = repo.DoesBranchContainCommitID(remoteBranch, c.ID)
			if err != nil {
				return nil, err
			}
		}
		if !pushed {
			missing = append(missing, c.ID)
		}
	}
	return missing, nil
}
