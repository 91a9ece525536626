// Package subtree synchronizes external repositories into a host repository.
// This file contains the git backend's merge operation: a file-level
// three-way merge with conflict marking in the working tree.
package subtree

import (
	"bytes"
	"context"
	"errors"
	"path"
	"sort"

	"github.com/go-git/go-billy/v5/util"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// Merge performs a two-parent merge of the working line head ours with
// theirs. Files are merged at file granularity against the common
// ancestor: a path changed on both sides relative to the ancestor is a
// conflict. On a clean merge the result is committed with message, the
// working line ref advances, and the working tree is reset to it. On
// conflict the disputed paths are returned, marker files are written into
// the working tree, and no commit is created.
//
// Context timeout/cancellation is honored during the operation.
func (b *GitBackend) Merge(ctx context.Context, ours, theirs Revision, message string) (Revision, []string, error) {
	if theirs == NoRevision {
		return NoRevision, nil, WrapError(ErrResolveFailed, "nothing to merge")
	}

	// An empty repository adopts the incoming line wholesale.
	if ours == NoRevision {
		if err := b.advanceHead(theirs); err != nil {
			return NoRevision, nil, err
		}
		return theirs, nil, nil
	}

	if done, err := b.IsAncestor(ctx, theirs, ours); err != nil {
		return NoRevision, nil, err
	} else if done {
		return ours, nil, nil
	}
	if ff, err := b.IsAncestor(ctx, ours, theirs); err != nil {
		return NoRevision, nil, err
	} else if ff {
		// theirs already contains ours, so the merged snapshot IS theirs:
		// the line fast-forwards without a merge commit or message.
		if err := b.advanceHead(theirs); err != nil {
			return NoRevision, nil, err
		}
		return theirs, nil, nil
	}

	base, err := b.mergeBaseSnapshot(ours, theirs)
	if err != nil {
		return NoRevision, nil, err
	}
	ourSnap, err := b.Snapshot(ctx, ours)
	if err != nil {
		return NoRevision, nil, err
	}
	theirSnap, err := b.Snapshot(ctx, theirs)
	if err != nil {
		return NoRevision, nil, err
	}

	merged, conflicts := mergeSnapshots(base, ourSnap, theirSnap)
	if len(conflicts) > 0 {
		if err := b.markConflicts(conflicts, ourSnap, theirSnap); err != nil {
			return NoRevision, nil, err
		}
		return NoRevision, conflicts, nil
	}

	commit, err := b.CommitSnapshot(ctx, merged, []Revision{ours, theirs}, message)
	if err != nil {
		return NoRevision, nil, err
	}
	if err := b.advanceHead(commit); err != nil {
		return NoRevision, nil, err
	}
	return commit, nil, nil
}

// mergeBaseSnapshot returns the snapshot of the common ancestor of the two
// revisions, or an empty snapshot for unrelated histories.
func (b *GitBackend) mergeBaseSnapshot(ours, theirs Revision) (Snapshot, error) {
	ourCommit, err := b.commit(ours)
	if err != nil {
		return nil, err
	}
	theirCommit, err := b.commit(theirs)
	if err != nil {
		return nil, err
	}

	bases, err := ourCommit.MergeBase(theirCommit)
	if err != nil {
		return nil, WrapError(err, "failed to compute merge base")
	}
	if len(bases) == 0 {
		return make(Snapshot), nil
	}
	return b.Snapshot(context.Background(), Revision(bases[0].Hash.String()))
}

// mergeSnapshots merges two snapshots against their common ancestor at
// file granularity. A path is taken from whichever side changed it; a path
// changed differently on both sides is a conflict.
func mergeSnapshots(base, ours, theirs Snapshot) (Snapshot, []string) {
	paths := make(map[string]bool, len(base)+len(ours)+len(theirs))
	for p := range base {
		paths[p] = true
	}
	for p := range ours {
		paths[p] = true
	}
	for p := range theirs {
		paths[p] = true
	}

	merged := make(Snapshot, len(paths))
	var conflicts []string

	for p := range paths {
		b, inBase := base[p]
		o, inOurs := ours[p]
		t, inTheirs := theirs[p]

		switch {
		case inOurs && inTheirs && o == t:
			merged[p] = o
		case !inOurs && !inTheirs:
			// Deleted everywhere (or never present on either side).
		case sideUnchanged(inOurs, o, inBase, b):
			if inTheirs {
				merged[p] = t
			}
		case sideUnchanged(inTheirs, t, inBase, b):
			if inOurs {
				merged[p] = o
			}
		default:
			conflicts = append(conflicts, p)
		}
	}

	sort.Strings(conflicts)
	return merged, conflicts
}

// sideUnchanged reports whether one side left the path exactly as the
// ancestor had it (same content or same absence).
func sideUnchanged(present bool, ref FileRef, inBase bool, baseRef FileRef) bool {
	if present != inBase {
		return false
	}
	return !present || ref == baseRef
}

// markConflicts writes conflict-marked files for the disputed paths into
// the working tree so they can be resolved manually.
func (b *GitBackend) markConflicts(conflicts []string, ours, theirs Snapshot) error {
	for _, p := range conflicts {
		var ourData, theirData []byte
		var err error
		if ref, ok := ours[p]; ok {
			if ourData, err = b.blobContent(plumbing.NewHash(ref.Hash)); err != nil {
				return err
			}
		}
		if ref, ok := theirs[p]; ok {
			if theirData, err = b.blobContent(plumbing.NewHash(ref.Hash)); err != nil {
				return err
			}
		}

		var buf bytes.Buffer
		buf.WriteString("<<<<<<< working line\n")
		buf.Write(ourData)
		if len(ourData) > 0 && ourData[len(ourData)-1] != '\n' {
			buf.WriteByte('\n')
		}
		buf.WriteString("=======\n")
		buf.Write(theirData)
		if len(theirData) > 0 && theirData[len(theirData)-1] != '\n' {
			buf.WriteByte('\n')
		}
		buf.WriteString(">>>>>>> imported subtree\n")

		if dir := path.Dir(p); dir != "." {
			if err := b.worktreeFS.MkdirAll(dir, 0o755); err != nil {
				return WrapErrorf(err, "failed to create %q", dir)
			}
		}
		if err := util.WriteFile(b.worktreeFS, p, buf.Bytes(), 0o644); err != nil {
			return WrapErrorf(err, "failed to write conflict markers to %q", p)
		}
	}
	return nil
}

// advanceHead moves the working line ref to rev and resets the working
// tree to match.
func (b *GitBackend) advanceHead(rev Revision) error {
	hash := plumbing.NewHash(string(rev))

	headRef, err := b.repo.Reference(plumbing.HEAD, false)
	if err != nil && !errors.Is(err, plumbing.ErrReferenceNotFound) {
		return WrapError(err, "failed to read HEAD")
	}

	target := plumbing.HEAD
	if err == nil && headRef.Type() == plumbing.SymbolicReference {
		target = headRef.Target()
	}
	if err := b.repo.Storer.SetReference(plumbing.NewHashReference(target, hash)); err != nil {
		return WrapError(err, "failed to advance working line")
	}

	if err := b.worktree.Reset(&git.ResetOptions{Commit: hash, Mode: git.HardReset}); err != nil {
		return WrapError(err, "failed to reset working tree")
	}
	return nil
}
