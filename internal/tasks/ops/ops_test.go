package ops

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rflow/internal/config"
	"rflow/internal/graph"
	"rflow/internal/project"
	"rflow/internal/repository/repositorytest"
	"rflow/internal/review"
	"rflow/internal/tasks"
)

const branch = "changeset/cs-1"

type recorder struct{ updates []string }

func (r *recorder) SendInterim(text string) error {
	r.updates = append(r.updates, text)
	return nil
}

func newRepo() *repositorytest.Fake {
	f := repositorytest.New()
	f.AddCommit("X", "base")
	f.AddCommit("A", "change A", "X")
	f.SetRef("main", "X")
	f.SetRef("origin/main", "X")
	f.SetRef(branch, "A")
	f.SetRef("origin/"+branch, "A")
	return f
}

func newEnv(f *repositorytest.Fake, p project.Project, params map[string]string) *tasks.Env {
	return &tasks.Env{
		Config: config.Snapshot{
			Changeset: config.Changeset{ID: "cs-1", Branch: branch, TrackingIDs: []string{"cs-1"}},
			Review:    config.Review{SourcePrefix: "review/source/", TargetPrefix: "review/target/"},
		},
		Project: p,
		Params:  params,
		Repo:    f,
	}
}

func source() *project.Source {
	return &project.Source{Ref: project.Ref{Name: "core", Dirname: "core", Path: "/src/core"}, Branch: branch}
}

func TestRegistered(t *testing.T) {
	for _, kind := range []string{"checkout", "tag", "push", "merge", review.KindStatus, review.KindForward} {
		task, err := tasks.Lookup(kind)
		require.NoError(t, err, kind)
		assert.Equal(t, kind, task.Kind())
		assert.NotEmpty(t, task.Description())
	}
}

func TestCheckout_ExistingBranch(t *testing.T) {
	f := newRepo()
	f.Merging = true

	out, err := (&Checkout{}).Run(context.Background(), newEnv(f, source(), nil), &recorder{})
	require.NoError(t, err)

	res := out.(*CheckoutResult)
	assert.Equal(t, branch, res.Branch)
	assert.Equal(t, "A", res.Head)
	assert.False(t, res.Created)
	assert.Equal(t, branch, f.CurrentBranch())
	assert.Contains(t, f.Calls, "merge-abort", "stale merge aborted")
}

func TestCheckout_TracksRemoteBranch(t *testing.T) {
	f := repositorytest.New()
	f.AddCommit("X", "base")
	f.SetRef("origin/"+branch, "X")

	out, err := (&Checkout{}).Run(context.Background(), newEnv(f, source(), nil), &recorder{})
	require.NoError(t, err)
	assert.Equal(t, "X", out.(*CheckoutResult).Head)
	assert.Equal(t, "X", f.Ref(branch))
}

func TestCheckout_CreatesAtStartPoint(t *testing.T) {
	f := repositorytest.New()
	f.AddCommit("X", "base")
	f.SetRef("main", "X")

	_, err := (&Checkout{}).Run(context.Background(), newEnv(f, source(), nil), &recorder{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")

	out, err := (&Checkout{}).Run(context.Background(),
		newEnv(f, source(), map[string]string{"create": "true", "start-at": "main"}), &recorder{})
	require.NoError(t, err)
	res := out.(*CheckoutResult)
	assert.True(t, res.Created)
	assert.Equal(t, "X", res.Head)
	assert.Equal(t, "created changeset/cs-1 @ X", res.String())
}

func TestCheckout_RefusesLocalChanges(t *testing.T) {
	f := newRepo()
	f.Dirty = true

	_, err := (&Checkout{}).Run(context.Background(), newEnv(f, source(), nil), &recorder{})
	assert.ErrorIs(t, err, ErrLocalChanges)
}

func TestCheckout_FetchFailure(t *testing.T) {
	f := newRepo()
	f.Fail["fetch"] = errors.New("no route")

	_, err := (&Checkout{}).Run(context.Background(), newEnv(f, source(), nil), &recorder{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch: no route")
}

func TestTag_UsesBuildVersion(t *testing.T) {
	f := newRepo()
	build := &project.Build{Ref: project.Ref{Dirname: "bundle"}, Branch: branch, Bundle: "core", Version: "1.2.0"}

	out, err := (&Tag{}).Run(context.Background(), newEnv(f, build, nil), &recorder{})
	require.NoError(t, err)

	res := out.(*TagResult)
	assert.Equal(t, "1.2.0", res.Tag)
	assert.Equal(t, "A", res.Commit)
	assert.Equal(t, "A", f.Ref("refs/tags/1.2.0"))
	assert.Equal(t, "A", f.Ref("origin/refs/tags/1.2.0"), "tag pushed")
}

func TestTag_ExistingTag(t *testing.T) {
	f := newRepo()
	f.SetRef("refs/tags/v1", "A")

	_, err := (&Tag{}).Run(context.Background(), newEnv(f, source(), map[string]string{"tag": "v1"}), &recorder{})
	require.NoError(t, err, "tag on the same commit is reused")
	assert.NotContains(t, f.Calls, "tagv1")

	f.SetRef("refs/tags/v1", "X")
	_, err = (&Tag{}).Run(context.Background(), newEnv(f, source(), map[string]string{"tag": "v1"}), &recorder{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists on another commit")
}

func TestTag_RequiresName(t *testing.T) {
	_, err := (&Tag{}).Run(context.Background(), newEnv(newRepo(), source(), nil), &recorder{})
	assert.EqualError(t, err, "no tag name given")
}

func TestPush(t *testing.T) {
	f := newRepo()
	f.AddCommit("B", "change B", "A")
	f.SetRef(branch, "B")

	out, err := (&Push{}).Run(context.Background(), newEnv(f, source(), nil), &recorder{})
	require.NoError(t, err)
	assert.Equal(t, "B", f.Ref("origin/"+branch))
	assert.Equal(t, "pushed changeset/cs-1 @ B", out.(*PushResult).String())
}

func TestMerge_FastForward(t *testing.T) {
	f := newRepo()
	f.AddCommit("U", "upstream", "A")
	f.SetRef("origin/main", "U")

	out, err := (&Merge{}).Run(context.Background(),
		newEnv(f, source(), map[string]string{"ref": "origin/main", "push": "true"}), &recorder{})
	require.NoError(t, err)

	res := out.(*MergeResult)
	assert.Equal(t, "ff-only", res.Strategy)
	assert.Equal(t, "U", res.Head)
	assert.True(t, res.Pushed)
	assert.Equal(t, "U", f.Ref("origin/"+branch))
}

func TestMerge_RecordsTrackedMergeCommit(t *testing.T) {
	f := newRepo()
	f.AddCommit("U", "upstream", "X")
	f.SetRef("origin/main", "U")

	out, err := (&Merge{}).Run(context.Background(),
		newEnv(f, source(), map[string]string{"ref": "origin/main"}), &recorder{})
	require.NoError(t, err)

	res := out.(*MergeResult)
	assert.Equal(t, "no-ff", res.Strategy)
	assert.False(t, res.Pushed)
	merge, ok := f.Commit(res.Head)
	require.True(t, ok)
	assert.Equal(t, []string{"A", "U"}, merge.Parents)
	assert.Equal(t, []string{"cs-1"}, graph.TrackingIDs(merge.Message))
	assert.Equal(t, "A", f.Ref("origin/"+branch), "not pushed")
}

func TestMerge_UpToDate(t *testing.T) {
	f := newRepo()

	out, err := (&Merge{}).Run(context.Background(),
		newEnv(f, source(), map[string]string{"ref": "main"}), &recorder{})
	require.NoError(t, err)
	res := out.(*MergeResult)
	assert.True(t, res.UpToDate)
	assert.Equal(t, "main already merged", res.String())
}

func TestMerge_AbortsOnFailure(t *testing.T) {
	f := newRepo()
	f.AddCommit("U", "upstream", "X")
	f.SetRef("origin/main", "U")
	f.Fail["merge"] = errors.New("conflict")
	f.Merging = true

	_, err := (&Merge{}).Run(context.Background(),
		newEnv(f, source(), map[string]string{"ref": "origin/main"}), &recorder{})
	require.Error(t, err)
	assert.Contains(t, f.Calls, "merge-abort")
	assert.Equal(t, "A", f.Ref(branch))
}

func TestReviewTasks_AcceptSourceOnly(t *testing.T) {
	for _, task := range []tasks.Task{&ReviewStatus{}, &ReviewForward{}} {
		assert.True(t, task.Accepts(project.KindSource))
		assert.False(t, task.Accepts(project.KindBuild))
	}
}

func TestReviewStatus_AdvancesFrontier(t *testing.T) {
	f := newRepo()
	f.SetRef("origin/review/target/cs-1", "A")
	f.SetRef("origin/review/source/cs-1", "A")
	src := source()
	src.Review.ApprovedFrom = "main"

	out, err := (&ReviewStatus{}).Run(context.Background(), newEnv(f, src, nil), &recorder{})
	require.NoError(t, err)

	st := out.(*review.Status)
	assert.Equal(t, 1, st.MergedCount)
	assert.Equal(t, "A", src.Review.ApprovedTo)
}

func TestReviewForward_WithoutTokenSkipsPullRequest(t *testing.T) {
	f := newRepo()
	f.SetRef("origin/review/target/cs-1", "X")
	f.SetRef("origin/review/source/cs-1", "X")
	src := source()
	src.Review.ApprovedFrom = "main"
	env := newEnv(f, src, nil)
	env.Config.Review.PullRequests = true
	rep := &recorder{}

	out, err := (&ReviewForward{}).Run(context.Background(), env, rep)
	require.NoError(t, err)

	res := out.(*review.ForwardResult)
	assert.Equal(t, 1, res.Forwarded)
	assert.Nil(t, res.PullRequest)
	assert.Equal(t, "A", f.Ref("origin/review/source/cs-1"))
	assert.Contains(t, rep.updates, "no GitHub token, pull request skipped; ")
}
