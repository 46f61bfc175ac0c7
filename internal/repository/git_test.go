package repository

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// gitEnv pins identity and config so tests do not depend on the host.
func gitEnv(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	t.Setenv("GIT_AUTHOR_NAME", "tester")
	t.Setenv("GIT_AUTHOR_EMAIL", "tester@example.com")
	t.Setenv("GIT_COMMITTER_NAME", "tester")
	t.Setenv("GIT_COMMITTER_EMAIL", "tester@example.com")
	t.Setenv("GIT_CONFIG_GLOBAL", os.DevNull)
	t.Setenv("GIT_CONFIG_NOSYSTEM", "1")
}

func runGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return strings.TrimSpace(string(out))
}

// clone sets up a bare origin with one commit on main and a working clone.
func clone(t *testing.T) (work, origin string) {
	t.Helper()
	gitEnv(t)
	root := t.TempDir()
	origin = filepath.Join(root, "origin.git")
	work = filepath.Join(root, "work")
	runGit(t, root, "init", "-q", "--bare", "-b", "main", origin)
	runGit(t, root, "clone", "-q", origin, work)
	runGit(t, work, "checkout", "-q", "-b", "main")
	commitFile(t, work, "README", "base")
	runGit(t, work, "push", "-q", "origin", "main")
	return work, origin
}

func commitFile(t *testing.T, dir, name, message string) string {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(message+"\n"), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	runGit(t, dir, "add", name)
	runGit(t, dir, "commit", "-q", "-m", message)
	return runGit(t, dir, "rev-parse", "HEAD")
}

func TestGit_BranchMergePush(t *testing.T) {
	work, origin := clone(t)
	ctx := context.Background()
	repo := Open(work, "")

	if err := repo.Fetch(ctx); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if err := repo.CreateBranch(ctx, "cs", "origin/main", false); err != nil {
		t.Fatalf("CreateBranch: %v", err)
	}
	a := commitFile(t, work, "a.txt", "change a")

	if err := repo.Checkout(ctx, "main"); err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if err := repo.Merge(ctx, "cs", MergeFastForward, ""); err != nil {
		t.Fatalf("Merge ff: %v", err)
	}
	head, err := repo.HeadCommitID("HEAD")
	if err != nil || head != a {
		t.Fatalf("HeadCommitID = %q, %v; want %q", head, err, a)
	}

	if err := repo.Push(ctx, "cs"); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if got := runGit(t, origin, "rev-parse", "cs"); got != a {
		t.Fatalf("origin cs = %s, want %s", got, a)
	}
	if err := repo.Fetch(ctx); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !repo.HasRef("origin/cs") {
		t.Fatalf("expected origin/cs after fetch")
	}
	if repo.HasRef("origin/nope") {
		t.Fatalf("unexpected origin/nope")
	}
}

func TestGit_NoFastForwardMergeRecordsMessage(t *testing.T) {
	work, _ := clone(t)
	ctx := context.Background()
	repo := Open(work, "origin")

	base, _ := repo.HeadCommitID("HEAD")
	if err := repo.CreateBranch(ctx, "side", "", false); err != nil {
		t.Fatalf("CreateBranch: %v", err)
	}
	side := commitFile(t, work, "side.txt", "side")
	if err := repo.Checkout(ctx, "main"); err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	mainID := commitFile(t, work, "main.txt", "main")

	if err := repo.Merge(ctx, "side", MergeFastForward, ""); err == nil {
		t.Fatalf("expected ff-only merge to fail on diverged branches")
	}
	if err := repo.Merge(ctx, "side", MergeNoFastForward, "Merge side\n\nRflow-Tracking-Id: cs-1"); err != nil {
		t.Fatalf("Merge no-ff: %v", err)
	}

	history, err := repo.CommitHistory(base, "HEAD")
	if err != nil {
		t.Fatalf("CommitHistory: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("history length = %d, want 3", len(history))
	}
	merge := history[0]
	if len(merge.Parents) != 2 || merge.Parents[0] != mainID || merge.Parents[1] != side {
		t.Fatalf("unexpected merge parents %v", merge.Parents)
	}
	if !strings.Contains(merge.Message, "Rflow-Tracking-Id: cs-1") {
		t.Fatalf("merge message lost trailer: %q", merge.Message)
	}

	for _, id := range []string{side, mainID, base} {
		ok, err := repo.DoesBranchContainCommitID("main", id)
		if err != nil || !ok {
			t.Fatalf("main should contain %s (err=%v)", id, err)
		}
	}
	ok, err := repo.DoesBranchContainCommitID("side", mainID)
	if err != nil || ok {
		t.Fatalf("side should not contain %s (err=%v)", mainID, err)
	}
}

func TestGit_TagAndLocalChanges(t *testing.T) {
	work, origin := clone(t)
	ctx := context.Background()
	repo := Open(work, "")

	dirty, err := repo.HasLocalChanges(ctx)
	if err != nil || dirty {
		t.Fatalf("HasLocalChanges = %v, %v; want clean", dirty, err)
	}
	if err := os.WriteFile(filepath.Join(work, "wip.txt"), []byte("wip"), 0o644); err != nil {
		t.Fatal(err)
	}
	dirty, err = repo.HasLocalChanges(ctx)
	if err != nil || !dirty {
		t.Fatalf("HasLocalChanges = %v, %v; want dirty", dirty, err)
	}

	head, _ := repo.HeadCommitID("HEAD")
	if err := repo.Tag(ctx, "v1", "Release v1"); err != nil {
		t.Fatalf("Tag: %v", err)
	}
	ok, err := repo.DoesTagContainCommitID("v1", head)
	if err != nil || !ok {
		t.Fatalf("tag v1 should contain head (err=%v)", err)
	}
	if err := repo.Push(ctx, "refs/tags/v1"); err != nil {
		t.Fatalf("Push tag: %v", err)
	}
	if got := runGit(t, origin, "rev-parse", "v1^{commit}"); got != head {
		t.Fatalf("origin v1 = %s, want %s", got, head)
	}

	merging, err := repo.IsMergeInProgress(ctx)
	if err != nil || merging {
		t.Fatalf("IsMergeInProgress = %v, %v", merging, err)
	}
}

func TestGit_ExecErrorCarriesStderr(t *testing.T) {
	work, _ := clone(t)
	err := Open(work, "").Checkout(context.Background(), "does-not-exist")

	var ee *ExecError
	if !errors.As(err, &ee) {
		t.Fatalf("expected *ExecError, got %T: %v", err, err)
	}
	if ee.Status == 0 || ee.Stderr == "" {
		t.Fatalf("unexpected exec error %+v", ee)
	}
}
