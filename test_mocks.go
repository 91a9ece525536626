package subtree

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// fakeBackend implements Backend entirely in memory for testing the engine
// without a real repository. Commits are content-addressed so grafting a
// revision under its original parents yields the original revision, the
// same property the git backend has.
type fakeBackend struct {
	commits  map[Revision]*fakeCommit
	byKey    map[string]Revision
	pointers map[string]Revision

	head   Revision
	dirty  bool
	locked bool

	// pulls records every Pull invocation's source URL.
	pulls   []string
	pullErr error

	// selectors maps revision selectors ("HEAD", branch or tag names) to
	// revisions, standing in for the most recently pulled source.
	selectors map[string]Revision
}

var _ Backend = (*fakeBackend)(nil)

type fakeCommit struct {
	snap    Snapshot
	parents []Revision
	message string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		commits:   make(map[Revision]*fakeCommit),
		byKey:     make(map[string]Revision),
		pointers:  make(map[string]Revision),
		selectors: make(map[string]Revision),
	}
}

// addCommit stores a commit and returns its content-addressed revision.
func (f *fakeBackend) addCommit(snap Snapshot, parents []Revision, message string) Revision {
	key := contentKey(snap, parents, message)
	if rev, ok := f.byKey[key]; ok {
		return rev
	}
	sum := sha256.Sum256([]byte(key))
	rev := Revision(hex.EncodeToString(sum[:20]))
	f.commits[rev] = &fakeCommit{snap: snap.Clone(), parents: append([]Revision(nil), parents...), message: message}
	f.byKey[key] = rev
	return rev
}

func contentKey(snap Snapshot, parents []Revision, message string) string {
	paths := snap.Paths()
	sort.Strings(paths)
	var b strings.Builder
	for _, p := range paths {
		fmt.Fprintf(&b, "%s=%s:%o;", p, snap[p].Hash, snap[p].Mode)
	}
	for _, p := range parents {
		fmt.Fprintf(&b, "^%s", p)
	}
	b.WriteString("|" + message)
	return b.String()
}

// reachable returns the set of revisions reachable from rev, inclusive.
func (f *fakeBackend) reachable(rev Revision) map[Revision]bool {
	seen := make(map[Revision]bool)
	var walk func(Revision)
	walk = func(r Revision) {
		if r == NoRevision || seen[r] {
			return
		}
		seen[r] = true
		if c, ok := f.commits[r]; ok {
			for _, p := range c.parents {
				walk(p)
			}
		}
	}
	walk(rev)
	return seen
}

func (f *fakeBackend) Pull(ctx context.Context, source string, force bool) error {
	f.pulls = append(f.pulls, source)
	return f.pullErr
}

func (f *fakeBackend) Resolve(ctx context.Context, selector string) (Revision, error) {
	if rev, ok := f.selectors[selector]; ok {
		return rev, nil
	}
	if _, ok := f.commits[Revision(selector)]; ok {
		return Revision(selector), nil
	}
	return NoRevision, WrapErrorf(ErrResolveFailed, "selector %q", selector)
}

func (f *fakeBackend) NewRevisions(ctx context.Context, old, tip Revision) ([]Revision, error) {
	if _, ok := f.commits[tip]; !ok {
		return nil, WrapErrorf(ErrResolveFailed, "no revision %s", tip)
	}
	seen := make(map[Revision]bool)
	if old != NoRevision {
		seen = f.reachable(old)
	}

	var sorted []Revision
	visited := make(map[Revision]bool)
	var walk func(Revision)
	walk = func(r Revision) {
		if r == NoRevision || visited[r] || seen[r] {
			return
		}
		visited[r] = true
		for _, p := range f.commits[r].parents {
			walk(p)
		}
		sorted = append(sorted, r)
	}
	walk(tip)
	return sorted, nil
}

func (f *fakeBackend) Graft(ctx context.Context, rev Revision, parents []Revision) (Revision, error) {
	c, ok := f.commits[rev]
	if !ok {
		return NoRevision, WrapErrorf(ErrResolveFailed, "no revision %s", rev)
	}
	return f.addCommit(c.snap, parents, c.message), nil
}

func (f *fakeBackend) CommitSnapshot(ctx context.Context, snap Snapshot, parents []Revision, message string) (Revision, error) {
	return f.addCommit(snap, parents, message), nil
}

func (f *fakeBackend) Merge(ctx context.Context, ours, theirs Revision, message string) (Revision, []string, error) {
	if ours == NoRevision {
		f.head = theirs
		return theirs, nil, nil
	}
	if anc, _ := f.IsAncestor(ctx, theirs, ours); anc {
		return ours, nil, nil
	}
	if anc, _ := f.IsAncestor(ctx, ours, theirs); anc {
		f.head = theirs
		return theirs, nil, nil
	}

	base := make(Snapshot)
	if baseRev := f.commonAncestor(ours, theirs); baseRev != NoRevision {
		base = f.commits[baseRev].snap
	}
	merged, conflicts := mergeSnapshots(base, f.commits[ours].snap, f.commits[theirs].snap)
	if len(conflicts) > 0 {
		f.dirty = true
		return NoRevision, conflicts, nil
	}

	rev := f.addCommit(merged, []Revision{ours, theirs}, message)
	f.head = rev
	return rev, nil, nil
}

// commonAncestor returns some revision reachable from both sides, or
// NoRevision for unrelated histories. Newest-first breadth gives a usable
// merge base for the linear histories the tests build.
func (f *fakeBackend) commonAncestor(a, b Revision) Revision {
	inA := f.reachable(a)
	queue := []Revision{b}
	visited := make(map[Revision]bool)
	for len(queue) > 0 {
		r := queue[0]
		queue = queue[1:]
		if visited[r] {
			continue
		}
		visited[r] = true
		if inA[r] {
			return r
		}
		if c, ok := f.commits[r]; ok {
			queue = append(queue, c.parents...)
		}
	}
	return NoRevision
}

func (f *fakeBackend) IsAncestor(ctx context.Context, a, b Revision) (bool, error) {
	if a == b {
		return true, nil
	}
	if _, ok := f.commits[b]; !ok {
		return false, WrapErrorf(ErrResolveFailed, "no revision %s", b)
	}
	return f.reachable(b)[a], nil
}

func (f *fakeBackend) Parents(ctx context.Context, rev Revision) ([]Revision, error) {
	c, ok := f.commits[rev]
	if !ok {
		return nil, WrapErrorf(ErrResolveFailed, "no revision %s", rev)
	}
	return append([]Revision(nil), c.parents...), nil
}

func (f *fakeBackend) Pointer(ctx context.Context, name string) (Revision, bool, error) {
	rev, ok := f.pointers[name]
	return rev, ok, nil
}

func (f *fakeBackend) SetPointer(ctx context.Context, name string, rev Revision) error {
	f.pointers[name] = rev
	return nil
}

func (f *fakeBackend) Snapshot(ctx context.Context, rev Revision) (Snapshot, error) {
	if rev == NoRevision {
		return make(Snapshot), nil
	}
	c, ok := f.commits[rev]
	if !ok {
		return nil, WrapErrorf(ErrResolveFailed, "no revision %s", rev)
	}
	return c.snap.Clone(), nil
}

func (f *fakeBackend) Message(ctx context.Context, rev Revision) (string, error) {
	c, ok := f.commits[rev]
	if !ok {
		return "", WrapErrorf(ErrResolveFailed, "no revision %s", rev)
	}
	return c.message, nil
}

func (f *fakeBackend) Head(ctx context.Context) (Revision, error) {
	return f.head, nil
}

func (f *fakeBackend) IsClean(ctx context.Context) (bool, error) {
	return !f.dirty, nil
}

func (f *fakeBackend) Lock(ctx context.Context) (func() error, error) {
	if f.locked {
		return nil, ErrLockHeld
	}
	f.locked = true
	return func() error {
		f.locked = false
		return nil
	}, nil
}
