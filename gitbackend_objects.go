// Package subtree synchronizes external repositories into a host repository.
// This file contains the git backend's object synthesis: snapshots, tree
// building, grafting, and snapshot commits.
package subtree

import (
	"context"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Snapshot returns the full file listing of a revision. NoRevision yields
// an empty snapshot.
func (b *GitBackend) Snapshot(ctx context.Context, rev Revision) (Snapshot, error) {
	snap := make(Snapshot)
	if rev == NoRevision {
		return snap, nil
	}

	commit, err := b.commit(rev)
	if err != nil {
		return nil, err
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, WrapErrorf(err, "failed to get tree of %s", rev)
	}

	err = tree.Files().ForEach(func(f *object.File) error {
		snap[f.Name] = FileRef{Hash: f.Hash.String(), Mode: uint32(f.Mode)}
		return nil
	})
	if err != nil {
		return nil, WrapErrorf(err, "failed to list files of %s", rev)
	}
	return snap, nil
}

// Graft replicates a foreign revision's tree, author, and message into the
// host graph under the given parents. When the mapped parents equal the
// original ones, content addressing makes the graft the original revision.
func (b *GitBackend) Graft(ctx context.Context, rev Revision, parents []Revision) (Revision, error) {
	src, err := b.commit(rev)
	if err != nil {
		return NoRevision, err
	}

	grafted := &object.Commit{
		Author:       src.Author,
		Committer:    src.Committer,
		Message:      src.Message,
		TreeHash:     src.TreeHash,
		ParentHashes: toHashes(parents),
	}
	hash, err := b.storeObject(grafted)
	if err != nil {
		return NoRevision, WrapErrorf(err, "failed to graft %s", rev)
	}
	return Revision(hash.String()), nil
}

// CommitSnapshot creates a commit whose content equals the snapshot, with
// the given parents and message. The working line is not moved.
func (b *GitBackend) CommitSnapshot(ctx context.Context, snap Snapshot, parents []Revision, message string) (Revision, error) {
	treeHash, err := b.writeTree(snap)
	if err != nil {
		return NoRevision, err
	}

	sig := b.signature()
	commit := &object.Commit{
		Author:       sig,
		Committer:    sig,
		Message:      message,
		TreeHash:     treeHash,
		ParentHashes: toHashes(parents),
	}
	hash, err := b.storeObject(commit)
	if err != nil {
		return NoRevision, WrapError(err, "failed to store snapshot commit")
	}
	return Revision(hash.String()), nil
}

// storeObject encodes an object into the repository's object store.
func (b *GitBackend) storeObject(obj interface {
	Encode(plumbing.EncodedObject) error
},
) (plumbing.Hash, error) {
	encoded := b.repo.Storer.NewEncodedObject()
	if err := obj.Encode(encoded); err != nil {
		return plumbing.ZeroHash, err
	}
	return b.repo.Storer.SetEncodedObject(encoded)
}

// treeBuilder accumulates a directory level of a snapshot while nested
// trees are written bottom-up.
type treeBuilder struct {
	files map[string]FileRef
	dirs  map[string]*treeBuilder
}

func newTreeBuilder() *treeBuilder {
	return &treeBuilder{
		files: make(map[string]FileRef),
		dirs:  make(map[string]*treeBuilder),
	}
}

func (t *treeBuilder) insert(path string, ref FileRef) {
	dir, rest, nested := strings.Cut(path, "/")
	if !nested {
		t.files[path] = ref
		return
	}
	child, ok := t.dirs[dir]
	if !ok {
		child = newTreeBuilder()
		t.dirs[dir] = child
	}
	child.insert(rest, ref)
}

// writeTree writes the snapshot as nested tree objects and returns the
// root tree hash. An empty snapshot produces the empty tree.
func (b *GitBackend) writeTree(snap Snapshot) (plumbing.Hash, error) {
	root := newTreeBuilder()
	for path, ref := range snap {
		root.insert(path, ref)
	}
	return b.writeTreeLevel(root)
}

func (b *GitBackend) writeTreeLevel(t *treeBuilder) (plumbing.Hash, error) {
	entries := make([]object.TreeEntry, 0, len(t.files)+len(t.dirs))

	for name, child := range t.dirs {
		hash, err := b.writeTreeLevel(child)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		entries = append(entries, object.TreeEntry{
			Name: name,
			Mode: filemode.Dir,
			Hash: hash,
		})
	}
	for name, ref := range t.files {
		mode := filemode.FileMode(ref.Mode)
		if mode == filemode.Empty {
			mode = filemode.Regular
		}
		entries = append(entries, object.TreeEntry{
			Name: name,
			Mode: mode,
			Hash: plumbing.NewHash(ref.Hash),
		})
	}

	// Git orders tree entries byte-wise with directory names compared as
	// if they carried a trailing slash.
	sort.Slice(entries, func(i, j int) bool {
		return treeEntrySortKey(entries[i]) < treeEntrySortKey(entries[j])
	})

	hash, err := b.storeObject(&object.Tree{Entries: entries})
	if err != nil {
		return plumbing.ZeroHash, WrapError(err, "failed to store tree")
	}
	return hash, nil
}

func treeEntrySortKey(e object.TreeEntry) string {
	if e.Mode == filemode.Dir {
		return e.Name + "/"
	}
	return e.Name
}

func toHashes(revs []Revision) []plumbing.Hash {
	if len(revs) == 0 {
		return nil
	}
	hashes := make([]plumbing.Hash, 0, len(revs))
	for _, rev := range revs {
		hashes = append(hashes, plumbing.NewHash(string(rev)))
	}
	return hashes
}
