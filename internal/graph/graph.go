// Package graph classifies the commits between two references of a project.
//
// A Graph is built in two passes. The candidate pass decides, for every
// commit, whether it belongs to our lineage. The changeset pass walks
// forward from the tail of that lineage and splits our commits into those
// at or below the approval frontier (approved) and those above it.
package graph

import (
	"errors"
	"fmt"
	"time"

	"rflow/internal/log"
	"rflow/internal/repository"
)

var (
	ErrInfiniteLoop  = errors.New("infinite loop detected")
	ErrNotConverged  = errors.New("candidate classification did not converge")
	ErrUnknownCommit = errors.New("commit is not part of the graph")
)

// Error reports a structural problem found while classifying a graph.
// It is never retried.
type Error struct {
	Project  string
	CommitID string
	Err      error
}

func (e *Error) Error() string {
	if e.CommitID == "" {
		return fmt.Sprintf("commit graph %s: %v", e.Project, e.Err)
	}
	return fmt.Sprintf("commit graph %s: %v at %s", e.Project, e.Err, e.CommitID)
}

func (e *Error) Unwrap() error { return e.Err }

// Source is the part of the repository capability a graph needs.
type Source interface {
	HeadCommitID(target string) (string, error)
	CommitHistory(fromID, toRef string) ([]repository.Commit, error)
}

// Ownership records whether a commit belongs to the changeset.
type Ownership struct {
	Ours bool `json:"ours"`
}

// Commit is one history entry with its classification. In marks
// changeset membership; Approved marks commits at or below the frontier.
type Commit struct {
	ID        string    `json:"id"`
	Parents   []string  `json:"parents,omitempty"`
	Committer string    `json:"committer"`
	When      time.Time `json:"when"`
	Message   string    `json:"message"`

	// System is set for commits carrying tool tracking trailers.
	System *Ownership `json:"system,omitempty"`
	// Candidate is set once the candidate pass classified the commit.
	Candidate *Ownership `json:"candidate,omitempty"`

	In       bool `json:"in"`
	Approved bool `json:"approved"`
}

// IsMerge reports whether c has more than one parent.
func (c *Commit) IsMerge() bool { return len(c.Parents) > 1 }

// Context carries what the invoking changeset knows about itself.
type Context struct {
	// TrackingIDs identify commits generated by this tool for the current changeset.
	TrackingIDs []string
}

// Graph is the classified history between the approval source and the
// changeset head. It is not safe for concurrent use.
type Graph struct {
	project    string
	fromRefID  string
	approvedTo string
	ctx        Context

	commits  []*Commit // head first
	byID     map[string]*Commit
	index    map[string]int
	children map[string][]string // newest child first

	tailID     string
	approved   map[string]bool
	unapproved map[string]bool
}

// Create resolves fromRef, loads the history up to toRef and classifies it
// against the approval frontier approvedTo.
func Create(src Source, project, fromRef, toRef, approvedTo string, ctx Context) (*Graph, error) {
	fromRefID := ""
	if fromRef != "" {
		id, err := src.HeadCommitID(fromRef)
		if err != nil {
			return nil, fmt.Errorf("commit graph %s: resolve %s: %w", project, fromRef, err)
		}
		fromRefID = id
	}
	history, err := src.CommitHistory(fromRefID, toRef)
	if err != nil {
		return nil, fmt.Errorf("commit graph %s: history %s..%s: %w", project, fromRef, toRef, err)
	}
	return New(project, fromRefID, history, approvedTo, ctx)
}

// New classifies an already loaded history (most recent first).
func New(project, fromRefID string, history []repository.Commit, approvedTo string, ctx Context) (*Graph, error) {
	g := &Graph{
		project:   project,
		fromRefID: fromRefID,
		ctx:       ctx,
		byID:      make(map[string]*Commit, len(history)),
		index:     make(map[string]int, len(history)),
		children:  make(map[string][]string, len(history)),
	}
	tracking := make(map[string]bool, len(ctx.TrackingIDs))
	for _, id := range ctx.TrackingIDs {
		tracking[id] = true
	}

	for i, h := range history {
		if _, dup := g.byID[h.ID]; dup {
			return nil, &Error{Project: project, CommitID: h.ID, Err: errors.New("duplicate commit in history")}
		}
		c := &Commit{
			ID:        h.ID,
			Parents:   h.Parents,
			Committer: h.Committer,
			When:      h.When,
			Message:   h.Message,
			System:    systemOwnership(h.Message, tracking),
		}
		g.commits = append(g.commits, c)
		g.byID[c.ID] = c
		g.index[c.ID] = i
	}
	for _, c := range g.commits {
		for _, p := range c.Parents {
			if _, ok := g.byID[p]; ok {
				g.children[p] = append(g.children[p], c.ID)
			}
		}
	}

	if approvedTo != "" {
		if _, ok := g.byID[approvedTo]; ok {
			g.approvedTo = approvedTo
		} else {
			log.DebugLog.Printf("%s: approved frontier %s outside graph, nothing approved", project, approvedTo)
		}
	}

	if err := g.identifyCandidateCommits(); err != nil {
		return nil, err
	}
	if err := g.identifyChangesetCommits(); err != nil {
		return nil, err
	}
	return g, nil
}

func systemOwnership(message string, tracking map[string]bool) *Ownership {
	ids := TrackingIDs(message)
	if len(ids) == 0 {
		return nil
	}
	for _, id := range ids {
		if tracking[id] {
			return &Ownership{Ours: true}
		}
	}
	return &Ownership{Ours: false}
}

func (g *Graph) classify(c *Commit, ours bool) {
	c.Candidate = &Ownership{Ours: ours}
	if !ours {
		return
	}
	first := ""
	if len(c.Parents) > 0 {
		first = c.Parents[0]
	}
	isTail := first == g.fromRefID && (first != "" || len(c.Parents) == 0)
	if !isTail {
		return
	}
	if g.tailID == "" || g.index[c.ID] > g.index[g.tailID] {
		g.tailID = c.ID
	}
}

// identifyCandidateCommits runs the first-parent walk from head and then
// repairs the rest of the graph to a fixed point.
func (g *Graph) identifyCandidateCommits() error {
	g.tailID = ""
	for _, c := range g.commits {
		c.Candidate = nil
	}
	if len(g.commits) == 0 {
		return nil
	}

	ours := true
	seen := make(map[string]bool)
	for c := g.commits[0]; c != nil && !seen[c.ID]; {
		seen[c.ID] = true
		if c.System != nil && c.System.Ours != ours {
			ours = c.System.Ours
		}
		g.classify(c, ours)
		if len(c.Parents) == 0 {
			break
		}
		c = g.byID[c.Parents[0]]
	}

	if _, err := g.repairCandidates(); err != nil {
		return err
	}
	if g.tailID == "" {
		// fromRef is not an ancestor of our lineage; start at our oldest commit.
		for i := len(g.commits) - 1; i >= 0; i-- {
			if c := g.commits[i]; c.Candidate != nil && c.Candidate.Ours {
				g.tailID = c.ID
				break
			}
		}
	}
	return nil
}

// repairCandidates classifies every unclassified commit that has an already
// classified child, repeating until a pass changes nothing. Each productive
// pass classifies at least one commit, so more passes than commits means the
// input is inconsistent.
func (g *Graph) repairCandidates() (int, error) {
	total := 0
	for pass := 0; ; pass++ {
		if pass > len(g.commits) {
			return total, &Error{Project: g.project, Err: ErrNotConverged}
		}
		changes := 0
		for _, c := range g.commits {
			if c.Candidate != nil {
				continue
			}
			ours, ok := g.inheritFromChild(c)
			if !ok {
				continue
			}
			g.classify(c, ours)
			changes++
		}
		total += changes
		if changes == 0 {
			return total, nil
		}
	}
}

func (g *Graph) inheritFromChild(c *Commit) (ours bool, ok bool) {
	var from *Commit
	viaFirst := false
	for _, id := range g.children[c.ID] {
		child := g.byID[id]
		if child.Candidate == nil {
			continue
		}
		first := child.Parents[0] == c.ID
		if from == nil || (first && !viaFirst) {
			from, viaFirst = child, first
		}
	}
	if from == nil {
		return false, false
	}
	if c.System != nil {
		return c.System.Ours, true
	}
	// A tool merge of ours brings some other lineage in through its side parents.
	if !viaFirst && from.System != nil && from.System.Ours && from.IsMerge() {
		return false, true
	}
	return from.Candidate.Ours, true
}

type trail struct {
	ids []string
	on  map[string]bool
}

func (t *trail) push(id string) {
	t.ids = append(t.ids, id)
	t.on[id] = true
}

func (t *trail) pop() {
	id := t.ids[len(t.ids)-1]
	t.ids = t.ids[:len(t.ids)-1]
	delete(t.on, id)
}

// identifyChangesetCommits walks forward from the tail and decides which
// of our commits are approved.
func (g *Graph) identifyChangesetCommits() error {
	g.approved = make(map[string]bool)
	g.unapproved = make(map[string]bool)
	for _, c := range g.commits {
		c.In = false
		c.Approved = false
	}
	if g.tailID == "" {
		return nil
	}

	t := &trail{on: make(map[string]bool)}
	if _, err := g.walk(g.tailID, t); err != nil {
		return err
	}
	// Lineages of ours rooted on the base or on foreign commits never pass
	// through the tail.
	for i := len(g.commits) - 1; i >= 0; i-- {
		c := g.commits[i]
		if c.Candidate == nil || !c.Candidate.Ours || g.visited(c.ID) || g.hasOursParent(c) {
			continue
		}
		if _, err := g.walk(c.ID, t); err != nil {
			return err
		}
	}

	for _, c := range g.commits {
		if c.Candidate == nil || !c.Candidate.Ours || !g.visited(c.ID) {
			continue
		}
		c.In = true
		c.Approved = g.approved[c.ID]
	}
	return nil
}

func (g *Graph) visited(id string) bool {
	return g.approved[id] || g.unapproved[id]
}

func (g *Graph) hasOursParent(c *Commit) bool {
	for _, p := range c.Parents {
		if pc, ok := g.byID[p]; ok && pc.Candidate != nil && pc.Candidate.Ours {
			return true
		}
	}
	return false
}

// walk returns whether id is at or below the approval frontier.
func (g *Graph) walk(id string, t *trail) (bool, error) {
	if t.on[id] {
		return false, &Error{Project: g.project, CommitID: id, Err: ErrInfiniteLoop}
	}
	if g.approved[id] {
		g.markTrailApproved(t)
		return true, nil
	}
	if g.unapproved[id] {
		return false, nil
	}

	t.push(id)
	approved := id == g.approvedTo
	if approved {
		g.markTrailApproved(t)
	}
	for _, childID := range g.children[id] {
		if g.byID[childID].Candidate == nil {
			continue
		}
		ok, err := g.walk(childID, t)
		if err != nil {
			return false, err
		}
		approved = approved || ok
	}
	t.pop()

	if approved {
		g.approved[id] = true
		delete(g.unapproved, id)
	} else if !g.approved[id] {
		g.unapproved[id] = true
	}
	return approved, nil
}

func (g *Graph) markTrailApproved(t *trail) {
	for _, id := range t.ids {
		g.approved[id] = true
		delete(g.unapproved, id)
	}
}

// UpdatedApprovedTo moves the approval frontier forward and reclassifies
// membership without recomputing lineage. A frontier that does not descend
// from the current one is ignored: approval never moves backwards or
// sideways.
func (g *Graph) UpdatedApprovedTo(frontier string) (string, error) {
	if frontier == "" || frontier == g.approvedTo {
		return g.approvedTo, nil
	}
	if _, ok := g.byID[frontier]; !ok {
		return g.approvedTo, &Error{Project: g.project, CommitID: frontier, Err: ErrUnknownCommit}
	}
	if g.approvedTo != "" && !g.DescendsFrom(frontier, g.approvedTo) {
		log.DebugLog.Printf("%s: ignoring approval frontier %s, not a descendant of %s", g.project, frontier, g.approvedTo)
		return g.approvedTo, nil
	}
	g.approvedTo = frontier
	if err := g.identifyChangesetCommits(); err != nil {
		return g.approvedTo, err
	}
	return g.approvedTo, nil
}

// DescendsFrom reports whether ancestor is id itself or reachable from id
// through parents inside the graph.
func (g *Graph) DescendsFrom(id, ancestor string) bool {
	if id == ancestor {
		return true
	}
	seen := make(map[string]bool)
	stack := []string{id}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		c, ok := g.byID[cur]
		if !ok || seen[cur] {
			continue
		}
		seen[cur] = true
		for _, p := range c.Parents {
			if p == ancestor {
				return true
			}
			stack = append(stack, p)
		}
	}
	return false
}

// NewestDescendant returns the candidate that descends from every other
// candidate and from the current frontier, or "" when none does.
func (g *Graph) NewestDescendant(candidates []string) string {
	for _, c := range candidates {
		if _, ok := g.byID[c]; !ok {
			continue
		}
		if g.approvedTo != "" && !g.DescendsFrom(c, g.approvedTo) {
			continue
		}
		all := true
		for _, other := range candidates {
			if !g.DescendsFrom(c, other) {
				all = false
				break
			}
		}
		if all {
			return c
		}
	}
	return ""
}

func (g *Graph) filter(keep func(*Commit) bool) []*Commit {
	var out []*Commit
	for i := len(g.commits) - 1; i >= 0; i-- {
		if c := g.commits[i]; keep(c) {
			out = append(out, c)
		}
	}
	return out
}

// Commits returns every changeset commit, oldest first.
func (g *Graph) Commits() []*Commit {
	return g.filter(func(c *Commit) bool { return c.In })
}

func (g *Graph) ApprovedCommits() []*Commit {
	return g.filter(func(c *Commit) bool { return c.In && c.Approved })
}

func (g *Graph) UnapprovedCommits() []*Commit {
	return g.filter(func(c *Commit) bool { return c.In && !c.Approved })
}

func (g *Graph) IsCommitIDApproved(id string) bool { return g.approved[id] }

func (g *Graph) ApprovedTo() string { return g.approvedTo }
func (g *Graph) FromRefID() string  { return g.fromRefID }
func (g *Graph) TailID() string     { return g.tailID }
func (g *Graph) Len() int           { return len(g.commits) }

// Head returns the most recent commit, or nil for an empty graph.
func (g *Graph) Head() *Commit {
	if len(g.commits) == 0 {
		return nil
	}
	return g.commits[0]
}

func (g *Graph) Commit(id string) (*Commit, bool) {
	c, ok := g.byID[id]
	return c, ok
}

// Index returns the position of id, 0 being head.
func (g *Graph) Index(id string) (int, bool) {
	i, ok := g.index[id]
	return i, ok
}
