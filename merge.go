// Package subtree synchronizes external repositories into a host repository.
// This file contains the merge coordinator: the component that folds a
// transformed import into the working line.
package subtree

import (
	"context"
	"log/slog"
)

// MergeResult is the outcome of merging a transformed import into the
// working line. Exactly one of Head and Conflicts is populated, so callers
// branch on the result instead of unwinding through errors.
type MergeResult struct {
	// Head is the new working line head after a clean merge.
	Head Revision

	// Conflicts names the paths with overlapping changes when the merge
	// could not complete. No commit was created and the sync pointer is
	// left untouched; the working tree holds the backend's native
	// conflict markers for manual resolution.
	Conflicts []string
}

// Conflicted reports whether the merge stopped on conflicts.
func (r *MergeResult) Conflicted() bool {
	return len(r.Conflicts) > 0
}

// Merger merges transformed imports into the working line.
type Merger struct {
	backend Backend
	msgs    MessageTemplates
	edit    MessageEditor
	log     *slog.Logger
}

// NewMerger returns a merger using the given backend.
func NewMerger(backend Backend, msgs MessageTemplates, edit MessageEditor, log *slog.Logger) *Merger {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Merger{backend: backend, msgs: msgs.withDefaults(), edit: edit, log: log}
}

// Merge performs a two-parent merge of workingLine and transformedHead.
// On a clean merge the result is committed with the update message
// template and becomes the working line for the next subtree in the same
// invocation.
//
// Context timeout/cancellation is honored during the operation.
func (m *Merger) Merge(ctx context.Context, spec SubtreeSpec, workingLine, transformedHead Revision) (*MergeResult, error) {
	message := renderMessage(m.msgs.Update, spec.Name, scriptDestination(spec.Script), shortRev(transformedHead))
	if m.edit != nil {
		var err error
		if message, err = m.edit(message); err != nil {
			return nil, WrapError(err, "message edit aborted")
		}
	}

	head, conflicts, err := m.backend.Merge(ctx, workingLine, transformedHead, message)
	if err != nil {
		return nil, WrapErrorf(err, "failed to merge %q into working line", spec.Name)
	}
	if len(conflicts) > 0 {
		m.log.Warn("merge conflict", "subtree", spec.Name, "paths", conflicts)
		return &MergeResult{Conflicts: conflicts}, nil
	}

	m.log.Info("merged into working line", "subtree", spec.Name, "head", head)
	return &MergeResult{Head: head}, nil
}
