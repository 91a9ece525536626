// Package subtree synchronizes external repositories into a host repository.
// This file contains the go-git backed implementation of the Backend
// capability interface: repository discovery, pointers, locking, and the
// working line.
package subtree

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	gobilly "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/storage"
	"github.com/input-output-hk/catalyst-forge-libs/fs"

	"github.com/input-output-hk/catalyst-forge-libs/subtree/internal/fsbridge"
)

const (
	// DefaultStorerCacheSize is the default size for the LRU object cache.
	DefaultStorerCacheSize = 1000

	// DefaultWorkdir is the default worktree directory name.
	DefaultWorkdir = "."

	// lockFileName is the repository lock file, created inside .git.
	lockFileName = "subtree.lock"

	// incomingRemoteName names the anonymous remote used for pulls.
	incomingRemoteName = "subtree-incoming"
)

// AuthProvider resolves authentication methods for pull operations.
// Implementations should handle different URL schemes and credential sources.
type AuthProvider interface {
	// Method returns the appropriate transport.AuthMethod for the given
	// source URL. Returns nil if no authentication is needed/available for
	// this URL. Returns an error if authentication cannot be resolved.
	Method(sourceURL string) (transport.AuthMethod, error)
}

// Signature identifies the author/committer of synthesized commits.
type Signature struct {
	// Name is the committer's name.
	Name string

	// Email is the committer's email address.
	Email string
}

// BackendOptions configures the git backend.
type BackendOptions struct {
	// FS is the REQUIRED native filesystem root (OS or in-memory).
	// All repository state lives within this filesystem.
	FS fs.Filesystem

	// Workdir is the path within FS for the worktree root.
	// Defaults to "." (current directory in FS).
	Workdir string

	// StorerCacheSize sets the LRU objects cache entries.
	// Defaults to DefaultStorerCacheSize.
	StorerCacheSize int

	// Author signs the commits the engine synthesizes (collapse,
	// transform, merge). Defaults to a "subtree" bot identity.
	Author Signature

	// Auth is an optional provider that resolves per-URL AuthMethod.
	// If nil, no authentication will be available.
	Auth AuthProvider

	// Logger receives structured operation logs. Nil discards them.
	Logger *slog.Logger
}

// Validate checks that the BackendOptions are properly configured.
func (o *BackendOptions) Validate() error {
	if o.FS == nil {
		return WrapError(ErrInvalidSpec, "FS is required")
	}
	if o.StorerCacheSize < 0 {
		return WrapError(ErrInvalidSpec, "StorerCacheSize cannot be negative")
	}
	return nil
}

// applyDefaults sets default values for any unset fields.
func (o *BackendOptions) applyDefaults() {
	if o.Workdir == "" {
		o.Workdir = DefaultWorkdir
	}
	if o.StorerCacheSize == 0 {
		o.StorerCacheSize = DefaultStorerCacheSize
	}
	if o.Author.Name == "" {
		o.Author.Name = "subtree"
	}
	if o.Author.Email == "" {
		o.Author.Email = "subtree@localhost"
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
}

// GitBackend implements Backend on top of go-git, operating exclusively
// through the project's native filesystem abstraction. The host repository
// must be non-bare: merging rewrites the working copy.
type GitBackend struct {
	repo       *git.Repository
	worktree   *git.Worktree
	worktreeFS gobilly.Filesystem
	dotgitFS   gobilly.Filesystem
	options    BackendOptions
	log        *slog.Logger

	// incomingDefault is the default branch of the most recently pulled
	// source, used to resolve the "HEAD" selector.
	incomingDefault plumbing.ReferenceName
}

// OpenGitBackend opens an existing non-bare repository as a backend.
func OpenGitBackend(ctx context.Context, opts *BackendOptions) (*GitBackend, error) {
	return setupGitBackend(ctx, opts, git.Open)
}

// InitGitBackend initializes a new non-bare repository and returns it as a
// backend. Intended for tests and bootstrap tooling.
func InitGitBackend(ctx context.Context, opts *BackendOptions) (*GitBackend, error) {
	return setupGitBackend(ctx, opts, git.Init)
}

// setupGitBackend performs the shared storage and worktree wiring.
func setupGitBackend(
	ctx context.Context,
	opts *BackendOptions,
	construct func(storer storage.Storer, worktree gobilly.Filesystem) (*git.Repository, error),
) (*GitBackend, error) {
	if err := opts.Validate(); err != nil {
		return nil, WrapError(err, "invalid options")
	}
	opts.applyDefaults()

	billyFS, err := fsbridge.ToBillyFilesystem(opts.FS)
	if err != nil {
		return nil, WrapError(err, "filesystem conversion failed")
	}

	scopedFS, err := billyFS.Chroot(opts.Workdir)
	if err != nil {
		return nil, WrapErrorf(err, "failed to chroot to workdir %q", opts.Workdir)
	}

	dotGitFS, err := scopedFS.Chroot(".git")
	if err != nil {
		return nil, WrapError(err, "failed to access .git directory")
	}
	storage := fsbridge.NewStorage(dotGitFS, opts.StorerCacheSize)

	repo, err := construct(storage, scopedFS)
	if err != nil {
		return nil, WrapError(err, "failed to open repository")
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return nil, WrapError(err, "failed to get worktree")
	}

	return &GitBackend{
		repo:       repo,
		worktree:   worktree,
		worktreeFS: scopedFS,
		dotgitFS:   dotGitFS,
		options:    *opts,
		log:        opts.Logger,
	}, nil
}

// Head returns the current head of the working line, or NoRevision in an
// empty repository.
func (b *GitBackend) Head(ctx context.Context) (Revision, error) {
	ref, err := b.repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return NoRevision, nil
		}
		return NoRevision, WrapError(err, "failed to read HEAD")
	}
	return Revision(ref.Hash().String()), nil
}

// IsClean reports whether the working copy has no uncommitted changes.
func (b *GitBackend) IsClean(ctx context.Context) (bool, error) {
	status, err := b.worktree.Status()
	if err != nil {
		return false, WrapError(err, "failed to get worktree status")
	}
	return status.IsClean(), nil
}

// Lock acquires the exclusive repository lock by creating a lock file in
// the .git directory. The returned release function removes it.
func (b *GitBackend) Lock(ctx context.Context) (func() error, error) {
	f, err := b.dotgitFS.OpenFile(lockFileName, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) || os.IsExist(err) {
			return nil, ErrLockHeld
		}
		return nil, WrapError(err, "failed to create lock file")
	}
	_ = f.Close()

	return func() error {
		return b.dotgitFS.Remove(lockFileName)
	}, nil
}

// Pointer reads a named mutable pointer from the repository's reference
// namespace.
func (b *GitBackend) Pointer(ctx context.Context, name string) (Revision, bool, error) {
	ref, err := b.repo.Reference(pointerRefName(name), true)
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return NoRevision, false, nil
		}
		return NoRevision, false, WrapErrorf(err, "failed to read pointer %q", name)
	}
	return Revision(ref.Hash().String()), true, nil
}

// SetPointer creates or moves a named mutable pointer.
func (b *GitBackend) SetPointer(ctx context.Context, name string, rev Revision) error {
	ref := plumbing.NewHashReference(pointerRefName(name), plumbing.NewHash(string(rev)))
	if err := b.repo.Storer.SetReference(ref); err != nil {
		return WrapErrorf(err, "failed to write pointer %q", name)
	}
	return nil
}

// pointerRefName maps an engine pointer name to a git reference name:
// "subtree@ext" becomes "refs/subtree/ext".
func pointerRefName(name string) plumbing.ReferenceName {
	return plumbing.ReferenceName("refs/" + strings.ReplaceAll(name, "@", "/"))
}

// Message returns a revision's commit message.
func (b *GitBackend) Message(ctx context.Context, rev Revision) (string, error) {
	commit, err := b.commit(rev)
	if err != nil {
		return "", err
	}
	return commit.Message, nil
}

// Parents returns the parent revisions of rev in commit order.
func (b *GitBackend) Parents(ctx context.Context, rev Revision) ([]Revision, error) {
	commit, err := b.commit(rev)
	if err != nil {
		return nil, err
	}
	parents := make([]Revision, 0, commit.NumParents())
	for _, h := range commit.ParentHashes {
		parents = append(parents, Revision(h.String()))
	}
	return parents, nil
}

// IsAncestor reports whether a is an ancestor of b or equal to it.
func (b *GitBackend) IsAncestor(ctx context.Context, a, bb Revision) (bool, error) {
	if a == bb {
		return true, nil
	}
	ca, err := b.commit(a)
	if err != nil {
		return false, err
	}
	cb, err := b.commit(bb)
	if err != nil {
		return false, err
	}
	anc, err := ca.IsAncestor(cb)
	if err != nil {
		return false, WrapError(err, "failed ancestry walk")
	}
	return anc, nil
}

// commit resolves a Revision to its commit object.
func (b *GitBackend) commit(rev Revision) (*object.Commit, error) {
	if rev == NoRevision {
		return nil, WrapError(ErrResolveFailed, "empty revision")
	}
	commit, err := b.repo.CommitObject(plumbing.NewHash(string(rev)))
	if err != nil {
		return nil, WrapErrorf(ErrResolveFailed, "no commit %s (%s)", rev, err)
	}
	return commit, nil
}

// signature returns the configured author signature stamped with now.
func (b *GitBackend) signature() object.Signature {
	return object.Signature{
		Name:  b.options.Author.Name,
		Email: b.options.Author.Email,
		When:  time.Now(),
	}
}

// blobContent reads the full content of a blob.
func (b *GitBackend) blobContent(hash plumbing.Hash) ([]byte, error) {
	blob, err := b.repo.BlobObject(hash)
	if err != nil {
		return nil, WrapErrorf(err, "no blob %s", hash)
	}
	r, err := blob.Reader()
	if err != nil {
		return nil, WrapError(err, "failed to open blob")
	}
	defer func() {
		_ = r.Close()
	}()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, WrapError(err, "failed to read blob")
	}
	return data, nil
}
