package graph

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rflow/internal/repository"
	"rflow/internal/repository/repositorytest"
)

var testCtx = Context{TrackingIDs: []string{"cs-1"}}

func ids(commits []*Commit) []string {
	out := make([]string, 0, len(commits))
	for _, c := range commits {
		out = append(out, c.ID)
	}
	return out
}

// linear builds X <- A <- B <- ... with branch "cs" at the last commit.
func linear(t *testing.T, names ...string) *repositorytest.Fake {
	t.Helper()
	f := repositorytest.New()
	f.AddCommit("X", "base")
	prev := "X"
	for _, n := range names {
		f.AddCommit(n, "change "+n, prev)
		prev = n
	}
	f.SetRef("base", "X")
	f.SetRef("cs", prev)
	return f
}

func history(commits ...repository.Commit) []repository.Commit { return commits }

func commit(id, message string, parents ...string) repository.Commit {
	return repository.Commit{ID: id, Message: message, Parents: parents}
}

func TestCreate_LinearApprovalSplit(t *testing.T) {
	f := linear(t, "A", "B", "C", "D")

	g, err := Create(f, "core", "base", "cs", "B", testCtx)
	require.NoError(t, err)

	assert.Equal(t, "X", g.FromRefID())
	assert.Equal(t, "A", g.TailID())
	assert.Equal(t, "D", g.Head().ID)
	assert.Equal(t, []string{"A", "B", "C", "D"}, ids(g.Commits()))
	assert.Equal(t, []string{"A", "B"}, ids(g.ApprovedCommits()))
	assert.Equal(t, []string{"C", "D"}, ids(g.UnapprovedCommits()))
	assert.True(t, g.IsCommitIDApproved("B"))
	assert.False(t, g.IsCommitIDApproved("C"))
}

func TestCreate_NoFrontierLeavesEverythingUnapproved(t *testing.T) {
	f := linear(t, "A", "B")

	g, err := Create(f, "core", "base", "cs", "", testCtx)
	require.NoError(t, err)

	assert.Empty(t, g.ApprovedCommits())
	assert.Equal(t, []string{"A", "B"}, ids(g.UnapprovedCommits()))
}

func TestCreate_FrontierOutsideGraphIsIgnored(t *testing.T) {
	f := linear(t, "A", "B")

	g, err := Create(f, "core", "base", "cs", "X", testCtx)
	require.NoError(t, err)

	assert.Equal(t, "", g.ApprovedTo())
	assert.Empty(t, g.ApprovedCommits())
}

func TestUpdatedApprovedTo_IsMonotonic(t *testing.T) {
	f := linear(t, "A", "B", "C", "D", "E")
	g, err := Create(f, "core", "base", "cs", "", testCtx)
	require.NoError(t, err)

	prevIdx := g.Len()
	for _, frontier := range []string{"A", "B", "B", "D", "E"} {
		got, err := g.UpdatedApprovedTo(frontier)
		require.NoError(t, err)
		idx, ok := g.Index(got)
		require.True(t, ok)
		assert.LessOrEqual(t, idx, prevIdx, "frontier %s moved backwards", frontier)
		prevIdx = idx
	}
	assert.Equal(t, []string{"A", "B", "C", "D", "E"}, ids(g.ApprovedCommits()))

	got, err := g.UpdatedApprovedTo("C")
	require.NoError(t, err)
	assert.Equal(t, "E", got, "older frontier must be ignored")
	assert.Empty(t, g.UnapprovedCommits())
}

// diamond builds A <- {B, C} <- M, with M merging two changeset lines.
func diamond(t *testing.T, approvedTo string) *Graph {
	t.Helper()
	h := history(
		commit("M", "Merge pull request", "B", "C"),
		commit("C", "c", "A"),
		commit("B", "b", "A"),
		commit("A", "a", "X"),
	)
	g, err := New("core", "X", h, approvedTo, testCtx)
	require.NoError(t, err)
	return g
}

func TestUpdatedApprovedTo_IgnoresSiblingFrontier(t *testing.T) {
	g := diamond(t, "B")
	require.Equal(t, []string{"A", "B"}, ids(g.ApprovedCommits()))

	got, err := g.UpdatedApprovedTo("C")
	require.NoError(t, err)
	assert.Equal(t, "B", got)
	assert.Equal(t, []string{"A", "B"}, ids(g.ApprovedCommits()), "B stays approved")
	assert.Equal(t, []string{"C", "M"}, ids(g.UnapprovedCommits()))

	got, err = g.UpdatedApprovedTo("M")
	require.NoError(t, err)
	assert.Equal(t, "M", got)
	assert.Equal(t, []string{"A", "B", "C", "M"}, ids(g.ApprovedCommits()))
}

func TestDescendsFrom(t *testing.T) {
	g := diamond(t, "")

	assert.True(t, g.DescendsFrom("M", "C"))
	assert.True(t, g.DescendsFrom("M", "A"))
	assert.True(t, g.DescendsFrom("B", "B"))
	assert.False(t, g.DescendsFrom("C", "B"))
	assert.False(t, g.DescendsFrom("A", "M"))
}

func TestNewestDescendant(t *testing.T) {
	g := diamond(t, "A")

	assert.Equal(t, "", g.NewestDescendant([]string{"B", "C"}), "siblings have no common descendant")
	assert.Equal(t, "M", g.NewestDescendant([]string{"B", "C", "M"}))
	assert.Equal(t, "C", g.NewestDescendant([]string{"C"}))

	g = diamond(t, "B")
	assert.Equal(t, "", g.NewestDescendant([]string{"C"}), "must descend from the current frontier")
}

func TestUpdatedApprovedTo_UnknownCommit(t *testing.T) {
	f := linear(t, "A", "B")
	g, err := Create(f, "core", "base", "cs", "A", testCtx)
	require.NoError(t, err)

	got, err := g.UpdatedApprovedTo("nope")
	require.ErrorIs(t, err, ErrUnknownCommit)
	assert.Equal(t, "A", got)
}

func TestUpdatedApprovedTo_ReusesCandidates(t *testing.T) {
	f := linear(t, "A", "B", "C")
	g, err := Create(f, "core", "base", "cs", "A", testCtx)
	require.NoError(t, err)

	before := g.Head().Candidate
	_, err = g.UpdatedApprovedTo("C")
	require.NoError(t, err)
	assert.Same(t, before, g.Head().Candidate)
	assert.Equal(t, []string{"A", "B", "C"}, ids(g.ApprovedCommits()))
}

func TestNew_CycleInChildTraversalIsFatal(t *testing.T) {
	// B lists C as a parent while C descends from B.
	h := history(
		commit("D", "d", "C"),
		commit("C", "c", "B"),
		commit("B", "b", "A", "C"),
		commit("A", "a", "X"),
	)

	_, err := New("core", "X", h, "", testCtx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInfiniteLoop))

	var gerr *Error
	require.True(t, errors.As(err, &gerr))
	assert.Equal(t, "core", gerr.Project)
	assert.Equal(t, "B", gerr.CommitID)
}

func TestNew_DuplicateCommitRejected(t *testing.T) {
	_, err := New("core", "X", history(commit("A", "a", "X"), commit("A", "a", "X")), "", testCtx)
	require.Error(t, err)
}

func TestCandidates_HumanMergeKeepsSideBranch(t *testing.T) {
	// M merges a feature branch F1..F2 into the changeset.
	h := history(
		commit("M", "Merge pull request", "C", "F2"),
		commit("F2", "f2", "F1"),
		commit("C", "c", "A"),
		commit("F1", "f1", "A"),
		commit("A", "a", "X"),
	)
	g, err := New("core", "X", h, "C", testCtx)
	require.NoError(t, err)

	for _, id := range []string{"M", "F2", "C", "F1", "A"} {
		c, _ := g.Commit(id)
		require.NotNil(t, c.Candidate, id)
		assert.True(t, c.Candidate.Ours, id)
	}
	assert.Equal(t, []string{"A", "C"}, ids(g.ApprovedCommits()))
	assert.ElementsMatch(t, []string{"F1", "F2", "M"}, ids(g.UnapprovedCommits()))
}

func TestCandidates_ToolMergeOfExternalLineage(t *testing.T) {
	h := history(
		commit("M", "Merge master into changeset\n\n"+Trailer("cs-1"), "C", "U2"),
		commit("U2", "upstream 2", "U1"),
		commit("C", "c", "A"),
		commit("U1", "upstream 1", "X"),
		commit("A", "a", "X"),
	)
	g, err := New("core", "X", h, "", testCtx)
	require.NoError(t, err)

	m, _ := g.Commit("M")
	require.NotNil(t, m.System)
	assert.True(t, m.System.Ours)

	for _, id := range []string{"U1", "U2"} {
		c, _ := g.Commit(id)
		require.NotNil(t, c.Candidate, id)
		assert.False(t, c.Candidate.Ours, id)
		assert.False(t, c.In, id)
	}
	assert.Equal(t, "A", g.TailID())
	assert.Equal(t, []string{"A", "C", "M"}, ids(g.Commits()))
}

func TestCandidates_ForeignToolCommitFlipsContext(t *testing.T) {
	h := history(
		commit("D", "ours again\n\n"+Trailer("cs-1"), "O"),
		commit("O", "other changeset\n\n"+Trailer("cs-9"), "A"),
		commit("A", "a", "X"),
	)
	g, err := New("core", "X", h, "", testCtx)
	require.NoError(t, err)

	o, _ := g.Commit("O")
	a, _ := g.Commit("A")
	assert.False(t, o.Candidate.Ours)
	assert.False(t, a.Candidate.Ours)
	assert.Equal(t, []string{"D"}, ids(g.Commits()))
}

func TestRepairCandidates_ReachesFixedPoint(t *testing.T) {
	// Out-of-order history (parent listed before a child) needs repair passes.
	h := history(
		commit("M", "merge", "C", "S2"),
		commit("S1", "s1", "A"),
		commit("S2", "s2", "S1"),
		commit("C", "c", "A"),
		commit("A", "a", "X"),
	)
	g, err := New("core", "X", h, "", testCtx)
	require.NoError(t, err)

	s1, _ := g.Commit("S1")
	require.NotNil(t, s1.Candidate)

	changes, err := g.repairCandidates()
	require.NoError(t, err)
	assert.Equal(t, 0, changes)

	changes, err = g.repairCandidates()
	require.NoError(t, err)
	assert.Equal(t, 0, changes)
}

func TestNew_EmptyHistory(t *testing.T) {
	g, err := New("core", "X", nil, "", testCtx)
	require.NoError(t, err)
	assert.Nil(t, g.Head())
	assert.Empty(t, g.Commits())
}

func TestTrackingIDs(t *testing.T) {
	msg := "Merge release\n\nSigned-off-by: someone\nRflow-Tracking-Id: cs-1\nrflow-tracking-id:  bundle-7 \n"
	assert.Equal(t, []string{"cs-1", "bundle-7"}, TrackingIDs(msg))
	assert.Empty(t, TrackingIDs("plain message"))
}
