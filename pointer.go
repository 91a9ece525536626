// Package subtree synchronizes external repositories into a host repository.
// This file contains the per-source sync pointer tracker.
package subtree

import "context"

// DefaultPointerPrefix is the namespace prefix for sync pointer names.
const DefaultPointerPrefix = "subtree@"

// upstreamSuffix namespaces the companion pointer that records which
// external revision the host-side pointer corresponds to. The two live in
// separate object lineages in collapsing mode, so both are needed to
// answer "what is new upstream".
const upstreamSuffix = "-upstream"

// PointerState is the persisted synchronization point of one subtree.
type PointerState struct {
	// Head is the host-repository revision that stands in for the last
	// imported external revision: the graft of the external head in
	// non-collapsing mode, the latest collapse commit otherwise.
	Head Revision

	// Upstream is the external revision Head corresponds to.
	Upstream Revision
}

// PointerTracker owns the mapping from subtree name to its persisted
// synchronization point. It is a thin layer over the backend's named
// pointer storage so the engine never hard-codes pointer names.
type PointerTracker struct {
	backend Backend
	prefix  string
}

// NewPointerTracker returns a tracker using the given pointer name prefix.
// An empty prefix selects DefaultPointerPrefix.
func NewPointerTracker(backend Backend, prefix string) *PointerTracker {
	if prefix == "" {
		prefix = DefaultPointerPrefix
	}
	return &PointerTracker{backend: backend, prefix: prefix}
}

// Get reads the synchronization point for name. ok is false on first run,
// before any successful sync persisted a pointer.
func (t *PointerTracker) Get(ctx context.Context, name string) (state PointerState, ok bool, err error) {
	head, ok, err := t.backend.Pointer(ctx, t.prefix+name)
	if err != nil {
		return PointerState{}, false, WrapErrorf(err, "failed to read sync pointer for %q", name)
	}
	if !ok {
		return PointerState{}, false, nil
	}

	upstream, upOK, err := t.backend.Pointer(ctx, t.prefix+name+upstreamSuffix)
	if err != nil {
		return PointerState{}, false, WrapErrorf(err, "failed to read upstream pointer for %q", name)
	}
	if !upOK {
		// Non-collapsing imports place the external revision itself at the
		// head of the imported line, so the head doubles as the upstream
		// mark when no companion pointer was written.
		upstream = head
	}

	return PointerState{Head: head, Upstream: upstream}, true, nil
}

// Set persists the synchronization point for name. It is called only after
// a successful merge, so an interrupted invocation retries from the prior
// point on its next run.
func (t *PointerTracker) Set(ctx context.Context, name string, state PointerState) error {
	if err := t.backend.SetPointer(ctx, t.prefix+name, state.Head); err != nil {
		return WrapErrorf(err, "failed to write sync pointer for %q", name)
	}
	if err := t.backend.SetPointer(ctx, t.prefix+name+upstreamSuffix, state.Upstream); err != nil {
		return WrapErrorf(err, "failed to write upstream pointer for %q", name)
	}
	return nil
}
