// Package subtree synchronizes external repositories into a host repository.
// This file contains the capability interface the engine requires from a
// version-control backend.
package subtree

import "context"

// Revision is an opaque revision identifier produced by the backend.
// The engine never interprets it beyond equality; ancestry and content
// questions always go through the Backend.
type Revision string

// NoRevision is the zero Revision, used for "absent" parents and heads.
const NoRevision Revision = ""

// FileRef is an opaque handle to a file's content within the backend's
// object store. The engine only rearranges FileRefs between paths; their
// fields carry meaning for the backend alone.
type FileRef struct {
	// Hash identifies the file content.
	Hash string

	// Mode is the backend's file mode bits (e.g. regular vs executable).
	Mode uint32
}

// Snapshot is the full file listing of a revision, mapping slash-separated
// relative paths to content references.
type Snapshot map[string]FileRef

// Clone returns an independent copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for p, ref := range s {
		out[p] = ref
	}
	return out
}

// Paths returns the set of paths in the snapshot in unspecified order.
func (s Snapshot) Paths() []string {
	paths := make([]string, 0, len(s))
	for p := range s {
		paths = append(paths, p)
	}
	return paths
}

// Backend is the capability interface the synchronization engine consumes.
// A concrete VCS backend (see GitBackend) implements revision storage,
// transfer, and merging; the engine only orchestrates these operations.
//
// All methods honor context timeout/cancellation where the underlying
// operation allows it.
type Backend interface {
	// Pull fetches and stores the foreign history of source. With force,
	// it accepts history that shares no ancestry with the host repository.
	// Pull never alters the working line.
	Pull(ctx context.Context, source string, force bool) error

	// Resolve maps a symbolic revision selector (branch, tag, hash, or
	// "HEAD" for the source's default head) to a concrete Revision within
	// the most recently pulled history.
	Resolve(ctx context.Context, selector string) (Revision, error)

	// NewRevisions enumerates revisions reachable from tip but not from
	// old, in topological order, oldest first. An empty old yields the
	// entire ancestry of tip.
	NewRevisions(ctx context.Context, old, tip Revision) ([]Revision, error)

	// Graft replicates a foreign revision's content and message into the
	// host graph under the given parents. An empty parent list produces a
	// parentless commit. Grafting with parents identical to the original
	// may yield the original revision itself.
	Graft(ctx context.Context, rev Revision, parents []Revision) (Revision, error)

	// CommitSnapshot creates a commit whose content equals the snapshot,
	// with the given parents and message. It does not move the working line.
	CommitSnapshot(ctx context.Context, snap Snapshot, parents []Revision, message string) (Revision, error)

	// Merge performs a two-parent merge of the working line head ours with
	// theirs. On a clean merge it commits the result with message, advances
	// the working line, and returns the merge revision. On conflict it
	// returns the disputed paths, leaves the working tree conflict-marked,
	// and creates no commit.
	Merge(ctx context.Context, ours, theirs Revision, message string) (Revision, []string, error)

	// IsAncestor reports whether a is an ancestor of b or equal to it.
	IsAncestor(ctx context.Context, a, b Revision) (bool, error)

	// Parents returns the parent revisions of rev in commit order.
	Parents(ctx context.Context, rev Revision) ([]Revision, error)

	// Pointer reads a named mutable pointer. ok is false when the pointer
	// does not exist.
	Pointer(ctx context.Context, name string) (rev Revision, ok bool, err error)

	// SetPointer creates or moves a named mutable pointer.
	SetPointer(ctx context.Context, name string, rev Revision) error

	// Snapshot returns the full file listing of a revision. NoRevision
	// yields an empty snapshot.
	Snapshot(ctx context.Context, rev Revision) (Snapshot, error)

	// Message returns a revision's commit message.
	Message(ctx context.Context, rev Revision) (string, error)

	// Head returns the current head of the working line, or NoRevision in
	// an empty repository.
	Head(ctx context.Context) (Revision, error)

	// IsClean reports whether the working copy has no uncommitted changes.
	IsClean(ctx context.Context) (bool, error)

	// Lock acquires the exclusive repository lock for the invocation and
	// returns its release function. It returns ErrLockHeld when another
	// invocation holds the lock.
	Lock(ctx context.Context) (release func() error, err error)
}
