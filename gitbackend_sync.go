// Package subtree synchronizes external repositories into a host repository.
// This file contains the git backend's pull and revision resolution
// operations.
package subtree

import (
	"context"
	"errors"
	"sort"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
)

const (
	// incomingHeadsPrefix is where pulled branch heads are stored.
	incomingHeadsPrefix = "refs/subtree/incoming/heads/"

	// incomingTagsPrefix is where pulled tags are stored.
	incomingTagsPrefix = "refs/subtree/incoming/tags/"
)

// Pull fetches the foreign history of source into the host repository's
// object store, under a dedicated incoming ref namespace. With force,
// incoming refs may move backwards or to unrelated history. The working
// line is never altered.
//
// Context timeout/cancellation is honored during the operation.
func (b *GitBackend) Pull(ctx context.Context, source string, force bool) error {
	if source == "" {
		return WrapError(ErrInvalidSpec, "source cannot be empty")
	}

	remote := git.NewRemote(b.repo.Storer, &gitconfig.RemoteConfig{
		Name: incomingRemoteName,
		URLs: []string{source},
	})

	var auth transport.AuthMethod
	if b.options.Auth != nil {
		method, err := b.options.Auth.Method(source)
		if err != nil {
			return WrapError(err, "failed to get authentication method")
		}
		auth = method
	}

	refs, err := remote.ListContext(ctx, &git.ListOptions{Auth: auth})
	if err != nil {
		return WrapErrorf(err, "failed to list %q", source)
	}
	b.incomingDefault = ""
	for _, ref := range refs {
		if ref.Name() == plumbing.HEAD && ref.Type() == plumbing.SymbolicReference {
			b.incomingDefault = ref.Target()
			break
		}
	}

	heads := gitconfig.RefSpec("refs/heads/*:" + incomingHeadsPrefix + "*")
	tags := gitconfig.RefSpec("refs/tags/*:" + incomingTagsPrefix + "*")
	if force {
		heads = gitconfig.RefSpec("+" + string(heads))
		tags = gitconfig.RefSpec("+" + string(tags))
	}

	err = remote.FetchContext(ctx, &git.FetchOptions{
		RefSpecs: []gitconfig.RefSpec{heads, tags},
		Auth:     auth,
		Tags:     git.NoTags,
		Force:    force,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return WrapErrorf(err, "failed to fetch from %q", source)
	}

	b.log.Debug("pulled source", "source", source, "default", b.incomingDefault)
	return nil
}

// Resolve maps a revision selector to a concrete revision within the most
// recently pulled history. "HEAD" (or an empty selector) resolves to the
// source's default branch head; otherwise branch names, tag names, and
// commit hashes are tried in that order.
func (b *GitBackend) Resolve(ctx context.Context, selector string) (Revision, error) {
	if selector == "" || selector == DefaultSelector {
		return b.resolveDefault()
	}

	if rev, ok := b.lookupIncoming(incomingHeadsPrefix + selector); ok {
		return rev, nil
	}
	if rev, ok := b.lookupIncoming(incomingTagsPrefix + selector); ok {
		return rev, nil
	}

	if hash, err := b.repo.ResolveRevision(plumbing.Revision(selector)); err == nil {
		if rev, ok := b.peel(*hash); ok {
			return rev, nil
		}
	}

	return NoRevision, WrapErrorf(ErrResolveFailed, "selector %q", selector)
}

// resolveDefault resolves the pulled source's default branch head, falling
// back to conventional branch names when the transport did not advertise
// HEAD.
func (b *GitBackend) resolveDefault() (Revision, error) {
	var candidates []string
	if b.incomingDefault != "" {
		candidates = append(candidates, incomingHeadsPrefix+b.incomingDefault.Short())
	}
	candidates = append(candidates, incomingHeadsPrefix+"main", incomingHeadsPrefix+"master")

	for _, name := range candidates {
		if rev, ok := b.lookupIncoming(name); ok {
			return rev, nil
		}
	}
	return NoRevision, WrapError(ErrResolveFailed, "pulled source has no default head")
}

// lookupIncoming resolves a ref name to a commit revision, peeling
// annotated tags.
func (b *GitBackend) lookupIncoming(name string) (Revision, bool) {
	ref, err := b.repo.Reference(plumbing.ReferenceName(name), true)
	if err != nil {
		return NoRevision, false
	}
	return b.peel(ref.Hash())
}

// peel resolves a hash to the commit it names, unwrapping annotated tags.
func (b *GitBackend) peel(hash plumbing.Hash) (Revision, bool) {
	if _, err := b.repo.CommitObject(hash); err == nil {
		return Revision(hash.String()), true
	}
	if tag, err := b.repo.TagObject(hash); err == nil {
		commit, err := tag.Commit()
		if err == nil {
			return Revision(commit.Hash.String()), true
		}
	}
	return NoRevision, false
}

// NewRevisions enumerates revisions reachable from tip but not from old,
// in topological order, oldest first. An empty old yields the entire
// ancestry of tip.
func (b *GitBackend) NewRevisions(ctx context.Context, old, tip Revision) ([]Revision, error) {
	seen := make(map[plumbing.Hash]bool)
	if old != NoRevision {
		oldCommit, err := b.commit(old)
		if err != nil {
			return nil, err
		}
		iter := object.NewCommitPreorderIter(oldCommit, nil, nil)
		err = iter.ForEach(func(c *object.Commit) error {
			seen[c.Hash] = true
			return nil
		})
		if err != nil {
			return nil, WrapError(err, "failed to walk imported history")
		}
	}

	tipCommit, err := b.commit(tip)
	if err != nil {
		return nil, err
	}

	// Collect the batch: everything reachable from tip that is not
	// already imported.
	batch := make(map[plumbing.Hash]*object.Commit)
	iter := object.NewCommitPreorderIter(tipCommit, seen, nil)
	err = iter.ForEach(func(c *object.Commit) error {
		if !seen[c.Hash] {
			batch[c.Hash] = c
		}
		return nil
	})
	if err != nil {
		return nil, WrapError(err, "failed to walk pulled history")
	}

	return topoSort(batch), nil
}

// topoSort orders a commit set parents-first. Ready commits are taken
// oldest committer time first (hash as tie-break) so the order is stable.
func topoSort(batch map[plumbing.Hash]*object.Commit) []Revision {
	indegree := make(map[plumbing.Hash]int, len(batch))
	children := make(map[plumbing.Hash][]plumbing.Hash, len(batch))
	for h, c := range batch {
		for _, p := range c.ParentHashes {
			if _, ok := batch[p]; ok {
				indegree[h]++
				children[p] = append(children[p], h)
			}
		}
	}

	var ready []*object.Commit
	for h, c := range batch {
		if indegree[h] == 0 {
			ready = append(ready, c)
		}
	}

	sorted := make([]Revision, 0, len(batch))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool {
			ti, tj := ready[i].Committer.When, ready[j].Committer.When
			if !ti.Equal(tj) {
				return ti.Before(tj)
			}
			return ready[i].Hash.String() < ready[j].Hash.String()
		})
		next := ready[0]
		ready = ready[1:]
		sorted = append(sorted, Revision(next.Hash.String()))

		for _, childHash := range children[next.Hash] {
			indegree[childHash]--
			if indegree[childHash] == 0 {
				ready = append(ready, batch[childHash])
			}
		}
	}
	return sorted
}
