// Package subtree provides sentinel errors for subtree synchronization.
// All errors can be checked using errors.Is() for programmatic handling.
package subtree

import (
	"errors"
	"fmt"
)

// Common sentinel errors that can be checked with errors.Is().
// These wrap underlying backend errors while providing a stable API for consumers.

// ErrInvalidSpec is returned when a subtree specification is malformed:
// a missing name or source, an unknown transform operation, or a name
// filter that does not match any configured subtree. It aborts a run
// before any repository mutation.
var ErrInvalidSpec = errors.New("invalid subtree spec")

// ErrBackendUnavailable is returned when a pull, commit, or merge call fails
// at the transport or storage layer. It is surfaced per subtree; processing
// continues with the next one.
var ErrBackendUnavailable = errors.New("backend unavailable")

// ErrMergeConflict is returned when merging a transformed import into the
// working line produced overlapping changes that cannot be automatically
// resolved. The conflicting paths are carried in the per-subtree outcome.
var ErrMergeConflict = errors.New("merge conflict")

// ErrNoNewContent signals that the external source has nothing newer than
// the last imported revision. It is a normal skip condition, not a failure.
var ErrNoNewContent = errors.New("no new content")

// ErrDirtyWorktree is returned when the host repository's working copy has
// uncommitted changes. Synchronization rewrites the working copy, so it
// refuses to start on a dirty tree.
var ErrDirtyWorktree = errors.New("uncommitted changes in working copy")

// ErrLockHeld is returned when another invocation already holds the
// repository lock.
var ErrLockHeld = errors.New("repository lock held")

// ErrPointerMissing is returned when a sync pointer read is required but
// the pointer does not exist.
var ErrPointerMissing = errors.New("sync pointer missing")

// ErrResolveFailed is returned when a revision selector cannot be resolved
// to a concrete revision in the pulled history.
var ErrResolveFailed = errors.New("cannot resolve revision")

// WrapError wraps an error with additional context while preserving
// the ability to check against sentinel errors using errors.Is().
func WrapError(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// WrapErrorf wraps an error with formatted additional context while preserving
// the ability to check against sentinel errors using errors.Is().
func WrapErrorf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}
