package subtree

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// upstreamChain seeds the fake backend with a linear external history and
// points the HEAD selector at its tip. Returns the revisions oldest first.
func upstreamChain(t *testing.T, backend *fakeBackend, messages ...string) []Revision {
	t.Helper()

	var revs []Revision
	var parent []Revision
	for _, msg := range messages {
		snap := Snapshot{"file.txt": {Hash: msg, Mode: 0o100644}}
		rev := backend.addCommit(snap, parent, msg)
		parent = []Revision{rev}
		revs = append(revs, rev)
	}
	backend.selectors[DefaultSelector] = revs[len(revs)-1]
	return revs
}

func testSpec(collapse bool) SubtreeSpec {
	return SubtreeSpec{
		Name:     "lib",
		Source:   "https://example.com/lib.git",
		Collapse: collapse,
	}
}

// TestImportFirstRunGraft tests the initial full-history import
func TestImportFirstRunGraft(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	revs := upstreamChain(t, backend, "one", "two", "three")

	importer := NewImporter(backend, NewPointerTracker(backend, ""), MessageTemplates{}, nil, nil)
	result, err := importer.Import(ctx, testSpec(false), ImportOverrides{})
	require.NoError(t, err)

	assert.False(t, result.Skipped)
	assert.Equal(t, []string{"https://example.com/lib.git"}, backend.pulls)
	assert.Equal(t, revs[2], result.Upstream)

	// Grafting with unchanged parents is the identity on a
	// content-addressed store.
	assert.Equal(t, revs, result.Grafted)
	assert.Equal(t, revs[2], result.Head)
}

// TestImportIncrementalGraft tests importing only what is new
func TestImportIncrementalGraft(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	revs := upstreamChain(t, backend, "one", "two", "three")

	tracker := NewPointerTracker(backend, "")
	require.NoError(t, tracker.Set(ctx, "lib", PointerState{Head: revs[1], Upstream: revs[1]}))

	importer := NewImporter(backend, tracker, MessageTemplates{}, nil, nil)
	result, err := importer.Import(ctx, testSpec(false), ImportOverrides{})
	require.NoError(t, err)

	assert.False(t, result.Skipped)
	assert.Equal(t, []Revision{revs[2]}, result.Grafted, "only the new revision is imported")
	assert.Equal(t, revs[2], result.Head)
}

// TestImportSkipsWhenNothingNew tests no-op detection
func TestImportSkipsWhenNothingNew(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	revs := upstreamChain(t, backend, "one", "two")

	tracker := NewPointerTracker(backend, "")
	require.NoError(t, tracker.Set(ctx, "lib", PointerState{Head: revs[1], Upstream: revs[1]}))

	importer := NewImporter(backend, tracker, MessageTemplates{}, nil, nil)
	result, err := importer.Import(ctx, testSpec(false), ImportOverrides{})
	require.NoError(t, err)

	assert.True(t, result.Skipped)
	assert.Empty(t, result.Grafted)
	assert.Equal(t, NoRevision, result.Head)
}

// TestImportReanchorsDisjointHistory tests grafting after upstream rewrote
// its history
func TestImportReanchorsDisjointHistory(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	old := upstreamChain(t, backend, "one", "two")

	// Upstream force-pushed an unrelated line.
	rewritten := backend.addCommit(Snapshot{"file.txt": ref("rewritten")}, nil, "rewritten")
	backend.selectors[DefaultSelector] = rewritten

	tracker := NewPointerTracker(backend, "")
	require.NoError(t, tracker.Set(ctx, "lib", PointerState{Head: old[1], Upstream: old[1]}))

	importer := NewImporter(backend, tracker, MessageTemplates{}, nil, nil)
	result, err := importer.Import(ctx, testSpec(false), ImportOverrides{})
	require.NoError(t, err)

	require.Len(t, result.Grafted, 1)
	parents, err := backend.Parents(ctx, result.Head)
	require.NoError(t, err)
	assert.Equal(t, []Revision{old[1]}, parents, "batch root should anchor onto the prior head")
}

// TestImportKeepsLineConnectedAfterReanchor tests that an upstream branch
// point older than a re-anchored import maps onto the imported line instead
// of linking back to the external revision
func TestImportKeepsLineConnectedAfterReanchor(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	tracker := NewPointerTracker(backend, "")
	importer := NewImporter(backend, tracker, MessageTemplates{}, nil, nil)

	a1 := backend.addCommit(Snapshot{"file.txt": ref("a1")}, nil, "a1")
	backend.selectors[DefaultSelector] = a1
	first, err := importer.Import(ctx, testSpec(false), ImportOverrides{})
	require.NoError(t, err)
	require.NoError(t, tracker.Set(ctx, "lib", PointerState{Head: first.Head, Upstream: first.Upstream}))

	// Upstream force-pushed an unrelated line, so the next import anchors
	// its grafts onto a1 and host-side revisions diverge from external ones.
	b1 := backend.addCommit(Snapshot{"file.txt": ref("b1")}, nil, "b1")
	b2 := backend.addCommit(Snapshot{"file.txt": ref("b2")}, []Revision{b1}, "b2")
	backend.selectors[DefaultSelector] = b2
	second, err := importer.Import(ctx, testSpec(false), ImportOverrides{})
	require.NoError(t, err)
	require.NotEqual(t, b2, second.Head, "re-anchored grafts are new revisions")
	require.NoError(t, tracker.Set(ctx, "lib", PointerState{Head: second.Head, Upstream: second.Upstream}))

	// Upstream merges a branch that forked from b1, behind the re-anchor.
	c1 := backend.addCommit(Snapshot{"file.txt": ref("b1"), "side.txt": ref("c")}, []Revision{b1}, "c1")
	m := backend.addCommit(Snapshot{"file.txt": ref("b2"), "side.txt": ref("c")}, []Revision{b2, c1}, "m")
	backend.selectors[DefaultSelector] = m

	third, err := importer.Import(ctx, testSpec(false), ImportOverrides{})
	require.NoError(t, err)
	require.Len(t, third.Grafted, 2)

	// The branch root must anchor onto the imported line, not onto the
	// external b1 the line no longer contains.
	branchParents, err := backend.Parents(ctx, third.Grafted[0])
	require.NoError(t, err)
	assert.Equal(t, []Revision{second.Head}, branchParents)

	mergeParents, err := backend.Parents(ctx, third.Head)
	require.NoError(t, err)
	assert.Equal(t, []Revision{second.Head, third.Grafted[0]}, mergeParents)

	// Everything imported stays reachable from the anchor.
	connected, err := backend.IsAncestor(ctx, a1, third.Head)
	require.NoError(t, err)
	assert.True(t, connected)
}

// TestImportCollapse tests the history-flattening strategy
func TestImportCollapse(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	revs := upstreamChain(t, backend, "feat: one", "feat: two", "fix: three")

	importer := NewImporter(backend, NewPointerTracker(backend, ""), MessageTemplates{}, nil, nil)
	result, err := importer.Import(ctx, testSpec(true), ImportOverrides{})
	require.NoError(t, err)

	assert.False(t, result.Skipped)
	assert.Equal(t, revs[2], result.Upstream)
	assert.NotEqual(t, revs[2], result.Head, "collapse synthesizes a new commit")

	// One parentless commit carrying the tip's content.
	parents, err := backend.Parents(ctx, result.Head)
	require.NoError(t, err)
	assert.Empty(t, parents)

	snap, err := backend.Snapshot(ctx, result.Head)
	require.NoError(t, err)
	tipSnap, err := backend.Snapshot(ctx, revs[2])
	require.NoError(t, err)
	assert.Equal(t, tipSnap, snap)

	msg, err := backend.Message(ctx, result.Head)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(msg, "subtree: collapse lib at "), msg)
	assert.Contains(t, msg, "feat:\n  - one\n  - two")
	assert.Contains(t, msg, "fix:\n  - three")
}

// TestImportCollapseChains tests that successive collapses form a line
func TestImportCollapseChains(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	revs := upstreamChain(t, backend, "feat: one", "feat: two")
	tracker := NewPointerTracker(backend, "")

	importer := NewImporter(backend, tracker, MessageTemplates{}, nil, nil)
	first, err := importer.Import(ctx, testSpec(true), ImportOverrides{})
	require.NoError(t, err)
	require.NoError(t, tracker.Set(ctx, "lib", PointerState{Head: first.Head, Upstream: first.Upstream}))

	// New upstream work arrives.
	third := backend.addCommit(Snapshot{"file.txt": ref("three")}, []Revision{revs[1]}, "feat: three")
	backend.selectors[DefaultSelector] = third

	second, err := importer.Import(ctx, testSpec(true), ImportOverrides{})
	require.NoError(t, err)

	parents, err := backend.Parents(ctx, second.Head)
	require.NoError(t, err)
	assert.Equal(t, []Revision{first.Head}, parents, "collapse commits chain onto each other")

	msg, err := backend.Message(ctx, second.Head)
	require.NoError(t, err)
	assert.Contains(t, msg, "feat:\n  - three")
	assert.NotContains(t, msg, "- one", "already collapsed subjects must not repeat")
}

// TestImportOverrides tests invocation-time source and rev overrides
func TestImportOverrides(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	revs := upstreamChain(t, backend, "one", "two")
	backend.selectors["v1.0.0"] = revs[0]

	importer := NewImporter(backend, NewPointerTracker(backend, ""), MessageTemplates{}, nil, nil)
	result, err := importer.Import(ctx, testSpec(false), ImportOverrides{
		Source: "https://mirror.internal/lib.git",
		Rev:    "v1.0.0",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"https://mirror.internal/lib.git"}, backend.pulls)
	assert.Equal(t, revs[0], result.Upstream, "pinned selector wins over HEAD")
}

// TestImportPullFailure tests backend unavailability surfacing
func TestImportPullFailure(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	upstreamChain(t, backend, "one")
	backend.pullErr = errors.New("connection refused")

	importer := NewImporter(backend, NewPointerTracker(backend, ""), MessageTemplates{}, nil, nil)
	_, err := importer.Import(ctx, testSpec(false), ImportOverrides{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBackendUnavailable), "pull failures should wrap ErrBackendUnavailable")
}

// TestImportUnresolvableSelector tests selector resolution failure
func TestImportUnresolvableSelector(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	upstreamChain(t, backend, "one")

	spec := testSpec(false)
	spec.Rev = "no-such-tag"

	importer := NewImporter(backend, NewPointerTracker(backend, ""), MessageTemplates{}, nil, nil)
	_, err := importer.Import(ctx, spec, ImportOverrides{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrResolveFailed))
}
