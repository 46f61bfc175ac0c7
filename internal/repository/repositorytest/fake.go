// Package repositorytest provides an in-memory repository.Repository.
package repositorytest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"rflow/internal/repository"
)

// Fake is an in-memory commit DAG with named refs. Commit ids are caller
// supplied so tests can use readable names.
type Fake struct {
	mu      sync.Mutex
	commits map[string]repository.Commit
	refs    map[string]string
	head    string // checked out branch, or "" when detached
	detach  string
	seq     int
	clock   time.Time

	// Remote prefixes remote-tracking refs; defaults to "origin".
	Remote string
	// Dirty makes HasLocalChanges report true.
	Dirty bool
	// Merging makes IsMergeInProgress report true until aborted.
	Merging bool
	// Fail injects an error for the named operation ("push", "merge", ...).
	Fail map[string]error

	Calls []string
}

func New() *Fake {
	return &Fake{
		commits: make(map[string]repository.Commit),
		refs:    make(map[string]string),
		clock:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Remote:  "origin",
		Fail:    make(map[string]error),
	}
}

// AddCommit records a commit with the given parents.
func (f *Fake) AddCommit(id, message string, parents ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addLocked(id, message, parents...)
}

func (f *Fake) addLocked(id, message string, parents ...string) {
	f.clock = f.clock.Add(time.Minute)
	f.commits[id] = repository.Commit{
		ID:        id,
		Parents:   append([]string(nil), parents...),
		Committer: "tester",
		When:      f.clock,
		Message:   message,
	}
}

// SetRef points ref at commit id.
func (f *Fake) SetRef(ref, id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refs[ref] = id
}

// Ref returns the commit ref points at.
func (f *Fake) Ref(ref string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refs[ref]
}

// CurrentBranch returns the checked out branch.
func (f *Fake) CurrentBranch() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.head
}

// Commit returns a recorded commit.
func (f *Fake) Commit(id string) (repository.Commit, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.commits[id]
	return c, ok
}

func (f *Fake) record(op string, args ...any) error {
	f.Calls = append(f.Calls, fmt.Sprint(append([]any{op}, args...)...))
	if err := f.Fail[op]; err != nil {
		return err
	}
	return nil
}

func (f *Fake) resolveLocked(target string) (string, bool) {
	if id, ok := f.refs[target]; ok {
		return id, true
	}
	if id, ok := f.refs["refs/tags/"+target]; ok {
		return id, true
	}
	if target == "HEAD" {
		return f.headIDLocked()
	}
	if _, ok := f.commits[target]; ok {
		return target, true
	}
	return "", false
}

func (f *Fake) headIDLocked() (string, bool) {
	if f.head != "" {
		id, ok := f.refs[f.head]
		return id, ok
	}
	return f.detach, f.detach != ""
}

func (f *Fake) ancestorsLocked(id string) map[string]bool {
	seen := make(map[string]bool)
	stack := []string{id}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == "" || seen[cur] {
			continue
		}
		seen[cur] = true
		stack = append(stack, f.commits[cur].Parents...)
	}
	return seen
}

func (f *Fake) Checkout(ctx context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("checkout", ref); err != nil {
		return err
	}
	if _, ok := f.refs[ref]; ok {
		f.head = ref
		return nil
	}
	// Mirror git's DWIM: create a local branch tracking the remote one.
	if id, ok := f.refs[f.Remote+"/"+ref]; ok {
		f.refs[ref] = id
		f.head = ref
		return nil
	}
	return &repository.ExecError{Args: []string{"checkout", ref}, Status: 1, Stderr: "pathspec did not match"}
}

func (f *Fake) CheckoutDetached(ctx context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("checkout-detached", ref); err != nil {
		return err
	}
	id, ok := f.resolveLocked(ref)
	if !ok {
		return &repository.ExecError{Args: []string{"checkout", "--detach", ref}, Status: 128}
	}
	f.head = ""
	f.detach = id
	return nil
}

func (f *Fake) CreateBranch(ctx context.Context, name, startPoint string, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("create-branch", name, startPoint); err != nil {
		return err
	}
	if _, exists := f.refs[name]; exists && !force {
		return &repository.ExecError{Args: []string{"checkout", "-b", name}, Status: 128, Stderr: "already exists"}
	}
	id, ok := f.headIDLocked()
	if startPoint != "" {
		id, ok = f.resolveLocked(startPoint)
	}
	if !ok {
		return &repository.ExecError{Args: []string{"checkout", "-b", name, startPoint}, Status: 128}
	}
	f.refs[name] = id
	f.head = name
	return nil
}

func (f *Fake) Fetch(ctx context.Context, refs ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record("fetch", refs)
}

func (f *Fake) Push(ctx context.Context, refs ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("push", refs); err != nil {
		return err
	}
	if len(refs) == 0 {
		if f.head == "" {
			return &repository.ExecError{Args: []string{"push"}, Status: 1, Stderr: "detached HEAD"}
		}
		refs = []string{f.head}
	}
	for _, r := range refs {
		if id, ok := f.refs[r]; ok {
			f.refs[f.Remote+"/"+r] = id
		}
	}
	return nil
}

func (f *Fake) Tag(ctx context.Context, name, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("tag", name); err != nil {
		return err
	}
	id, ok := f.headIDLocked()
	if !ok {
		return &repository.ExecError{Args: []string{"tag", name}, Status: 128}
	}
	f.refs["refs/tags/"+name] = id
	return nil
}

func (f *Fake) Merge(ctx context.Context, ref string, strategy repository.MergeStrategy, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("merge", ref, strategy); err != nil {
		return err
	}
	if f.head == "" {
		return &repository.ExecError{Args: []string{"merge", ref}, Status: 128, Stderr: "detached HEAD"}
	}
	headID := f.refs[f.head]
	theirs, ok := f.resolveLocked(ref)
	if !ok {
		return &repository.ExecError{Args: []string{"merge", ref}, Status: 1, Stderr: "not something we can merge"}
	}
	if f.ancestorsLocked(headID)[theirs] {
		return nil
	}
	if f.ancestorsLocked(theirs)[headID] && strategy == repository.MergeFastForward {
		f.refs[f.head] = theirs
		return nil
	}
	if strategy == repository.MergeFastForward {
		return &repository.ExecError{Args: []string{"merge", "--ff-only", ref}, Status: 128, Stderr: "Not possible to fast-forward"}
	}
	f.seq++
	id := fmt.Sprintf("merge-%d", f.seq)
	f.addLocked(id, message, headID, theirs)
	f.refs[f.head] = id
	return nil
}

func (f *Fake) HeadCommitID(target string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.resolveLocked(target)
	if !ok {
		return "", fmt.Errorf("resolve %s: reference not found", target)
	}
	return id, nil
}

func (f *Fake) HasRef(ref string) bool {
	_, err := f.HeadCommitID(ref)
	return err == nil
}

func (f *Fake) DoesBranchContainCommitID(branch, commitID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.resolveLocked(branch)
	if !ok {
		return false, fmt.Errorf("resolve %s: reference not found", branch)
	}
	return f.ancestorsLocked(id)[commitID], nil
}

func (f *Fake) DoesTagContainCommitID(tag, commitID string) (bool, error) {
	return f.DoesBranchContainCommitID("refs/tags/"+tag, commitID)
}

// CommitHistory returns commits in (fromID, toRef], children before parents.
func (f *Fake) CommitHistory(fromID, toRef string) ([]repository.Commit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	toID, ok := f.resolveLocked(toRef)
	if !ok {
		return nil, fmt.Errorf("resolve %s: reference not found", toRef)
	}
	exclude := map[string]bool{}
	if fromID != "" {
		exclude = f.ancestorsLocked(fromID)
	}

	var post []string
	visited := make(map[string]bool)
	var visit func(id string)
	visit = func(id string) {
		if visited[id] || exclude[id] {
			return
		}
		visited[id] = true
		c, ok := f.commits[id]
		if !ok {
			return
		}
		for _, p := range c.Parents {
			visit(p)
		}
		post = append(post, id)
	}
	visit(toID)

	out := make([]repository.Commit, 0, len(post))
	for i := len(post) - 1; i >= 0; i-- {
		out = append(out, f.commits[post[i]])
	}
	return out, nil
}

func (f *Fake) HasLocalChanges(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Dirty, f.record("status")
}

func (f *Fake) IsMergeInProgress(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Merging, nil
}

func (f *Fake) AbortMergeInProgress(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("merge-abort"); err != nil {
		return err
	}
	f.Merging = false
	return nil
}

var _ repository.Repository = (*Fake)(nil)
