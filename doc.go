// Package subtree synchronizes external repositories into a host repository.
//
// The package imports commits from a configured external source, rewrites
// their directory layout through a declarative transform script, and merges
// the rewritten content into the host's working line. A durable sync
// pointer records how far each source has been imported, making repeated
// runs idempotent: a run with no new upstream content is a no-op.
//
// # Design Principles
//
// The package follows these core principles:
//   - Declarative layout - a small script of mkdir/move/copy operations
//     describes where external content lands in the host tree
//   - Durable progress - sync pointers live in the repository itself and
//     only advance after a fully successful merge
//   - Testability by construction - in-memory FS, capability interface
//     for the repository backend
//   - Go idioms - accepts interfaces, returns concrete types
//
// # Basic Usage
//
// Describe the subtrees in a .subtree.yaml file:
//
//	subtrees:
//	  - name: vendorlib
//	    source: https://example.com/vendorlib.git
//	    script:
//	      - mkdir ext/vendorlib
//	      - move * ext/vendorlib
//
// Load the configuration, open the host repository, and run the
// orchestrator:
//
//	import (
//	    "context"
//	    billyfs "github.com/input-output-hk/catalyst-forge-libs/fs/billy"
//	    "github.com/input-output-hk/catalyst-forge-libs/subtree"
//	)
//
//	cfg, err := subtree.Load(".subtree.yaml")
//	specs, err := cfg.Specs()
//
//	backend, err := subtree.OpenGitBackend(ctx, &subtree.BackendOptions{
//	    FS: billyfs.NewOSFS("/path/to/host"),
//	})
//
//	orch := subtree.NewOrchestrator(backend, cfg.Templates(), cfg.PointerPrefix, logger)
//	outcomes, err := orch.Run(ctx, specs, subtree.RunOptions{})
//
// Each Outcome reports what happened to one subtree: Skipped when the
// source had nothing new, Merged with the new working line head, or
// Conflict with the disputed paths left marked in the working tree.
//
// # Import Strategies
//
// Two strategies bring external history into the host:
//
//   - Graft (the default) rebuilds each new upstream commit inside the
//     host object store, preserving per-commit history. Parents that fall
//     outside the imported range are re-anchored onto the prior pointer.
//   - Collapse (collapse: true) squashes all new upstream content into a
//     single commit whose body summarizes the upstream subjects.
//
// # Transform Scripts
//
// A script is an ordered list of operations applied to the imported
// snapshot:
//
//	mkdir <path>           ensure a directory exists in the result
//	move <pattern> <dest>  relocate matching files under dest
//	copy <pattern> <dest>  duplicate matching files under dest
//
// Patterns use path.Match syntax and also match whole directories, so
// "docs/*" moves everything below docs. Literal leading segments of the
// pattern are stripped before the remainder is joined to the destination.
// Later operations overwrite earlier ones on the same destination path.
//
// # Sync Pointers
//
// Progress is tracked per subtree under refs/subtree/<name> in the host
// repository, together with a companion ref naming the last imported
// upstream revision. The orchestrator writes the pointer only after the
// merge commits cleanly; a conflicted or failed run leaves the pointer
// untouched so the next run retries the same work.
//
// # Error Handling
//
// The package provides sentinel errors for common conditions:
//
//	outcomes, err := orch.Run(ctx, specs, opts)
//	if errors.Is(err, subtree.ErrDirtyWorktree) {
//	    // Commit or stash local changes first.
//	}
//	if errors.Is(err, subtree.ErrLockHeld) {
//	    // Another sync is in progress.
//	}
//
// # In-Memory Operations
//
// The git backend runs entirely in memory for testing:
//
//	memFS := billyfs.NewInMemoryFS()
//	backend, err := subtree.InitGitBackend(ctx, &subtree.BackendOptions{
//	    FS:      memFS,
//	    Workdir: "/",
//	})
//
// # Thread Safety
//
// An Orchestrator serializes runs through a repository lock file, but a
// single GitBackend instance is not safe for concurrent writes. Read
// operations (Resolve, Snapshot, Pointer) can be called concurrently.
//
// # Limitations
//
// This package intentionally does not support:
//   - Content-level (hunk) merging; conflicts are reported per file
//   - Pushing results to a remote
//   - Nested subtrees (a subtree sourced from another subtree)
package subtree
