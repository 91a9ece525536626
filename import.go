// Package subtree synchronizes external repositories into a host repository.
// This file contains the history importer: the component that brings
// external revisions into the host graph, verbatim or collapsed.
package subtree

import (
	"context"
	"log/slog"
)

// DefaultSelector is the revision selector used when neither the spec nor
// the invocation pins one. The backend resolves it to the source's default
// head.
const DefaultSelector = "HEAD"

// ImportOverrides carries invocation-time overrides for one import.
// Zero values defer to the spec.
type ImportOverrides struct {
	// Source replaces the spec's source URL.
	Source string

	// Rev replaces the spec's revision selector.
	Rev string
}

// ImportResult reports what an import brought into the host repository.
type ImportResult struct {
	// Head is the host-side revision standing in for the imported external
	// head: the graft of the external head in non-collapsing mode, the new
	// collapse commit otherwise. Unset when Skipped.
	Head Revision

	// Upstream is the external revision Head corresponds to.
	Upstream Revision

	// Skipped is true when the source had nothing newer than the last
	// imported revision. No commits were created and no pointer moved.
	Skipped bool

	// Grafted lists the host-side revisions created (or adopted) for the
	// batch in non-collapsing mode, oldest first.
	Grafted []Revision
}

// Importer brings external history into the host repository's revision
// graph. The sync pointer is consulted at the start of an import to decide
// what is new; persisting the advanced pointer is the orchestrator's job,
// after the merge succeeds, so a conflicted run retries from the same
// point.
type Importer struct {
	backend Backend
	tracker *PointerTracker
	msgs    MessageTemplates
	edit    MessageEditor
	log     *slog.Logger
}

// NewImporter returns an importer using the given backend and tracker.
func NewImporter(backend Backend, tracker *PointerTracker, msgs MessageTemplates, edit MessageEditor, log *slog.Logger) *Importer {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Importer{
		backend: backend,
		tracker: tracker,
		msgs:    msgs.withDefaults(),
		edit:    edit,
		log:     log,
	}
}

// Import pulls the spec's source and imports whatever is newer than the
// persisted sync pointer: grafting the foreign revisions verbatim, or
// synthesizing one flattened commit when the spec collapses history.
//
// Context timeout/cancellation is honored during the operation.
func (im *Importer) Import(ctx context.Context, spec SubtreeSpec, ov ImportOverrides) (*ImportResult, error) {
	source := spec.Source
	if ov.Source != "" {
		source = ov.Source
	}
	selector := DefaultSelector
	if spec.Rev != "" {
		selector = spec.Rev
	}
	if ov.Rev != "" {
		selector = ov.Rev
	}

	im.log.Info("pulling source", "subtree", spec.Name, "source", source, "selector", selector)
	if err := im.backend.Pull(ctx, source, true); err != nil {
		return nil, WrapErrorf(ErrBackendUnavailable, "pull of %q failed (%s)", source, err)
	}

	newHead, err := im.backend.Resolve(ctx, selector)
	if err != nil {
		return nil, WrapErrorf(err, "failed to resolve selector %q for %q", selector, spec.Name)
	}

	prior, havePrior, err := im.tracker.Get(ctx, spec.Name)
	if err != nil {
		return nil, err
	}

	if havePrior {
		imported, err := im.backend.IsAncestor(ctx, newHead, prior.Upstream)
		if err != nil {
			return nil, WrapErrorf(err, "failed ancestry check for %q", spec.Name)
		}
		if imported {
			im.log.Info("no changes, nothing for subtree to do", "subtree", spec.Name)
			return &ImportResult{Upstream: newHead, Skipped: true}, nil
		}
	}

	if spec.Collapse {
		return im.collapse(ctx, spec, newHead, prior, havePrior)
	}
	return im.graft(ctx, spec, newHead, prior, havePrior)
}

// graft replicates every external revision between the last imported one
// and newHead into the host graph, preserving messages and parent/child
// structure. The batch's root revisions are re-anchored onto the prior
// imported head; on a first run they stay parentless.
func (im *Importer) graft(ctx context.Context, spec SubtreeSpec, newHead Revision, prior PointerState, havePrior bool) (*ImportResult, error) {
	old := NoRevision
	if havePrior {
		old = prior.Upstream
	}
	revs, err := im.backend.NewRevisions(ctx, old, newHead)
	if err != nil {
		return nil, WrapErrorf(err, "failed to enumerate new revisions for %q", spec.Name)
	}

	grafts := make(map[Revision]Revision, len(revs))
	result := &ImportResult{Upstream: newHead, Grafted: make([]Revision, 0, len(revs))}

	for _, rev := range revs {
		parents, err := im.backend.Parents(ctx, rev)
		if err != nil {
			return nil, WrapErrorf(err, "failed to read parents of %s", rev)
		}

		mapped := make([]Revision, 0, len(parents))
		for _, p := range parents {
			if g, ok := grafts[p]; ok {
				mapped = append(mapped, g)
				continue
			}
			if !havePrior {
				// First run imports the full ancestry, so any parent not in
				// the batch does not exist and cannot be kept.
				continue
			}
			if p == prior.Upstream {
				mapped = append(mapped, prior.Head)
				continue
			}
			anc, err := im.backend.IsAncestor(ctx, p, prior.Upstream)
			if err != nil {
				return nil, WrapErrorf(err, "failed ancestry check for parent %s", p)
			}
			if anc {
				// An already-imported external parent doubles as its own
				// graft only while external and host-side revisions
				// coincide. A re-anchored line breaks that, so the parent
				// must itself sit on the imported line to keep the link.
				inLine, err := im.backend.IsAncestor(ctx, p, prior.Head)
				if err != nil {
					return nil, WrapErrorf(err, "failed ancestry check for parent %s", p)
				}
				if inLine {
					mapped = append(mapped, p)
				}
			}
			// Parents on lines never imported are dropped.
		}
		if len(mapped) == 0 && havePrior {
			// Batch root with no imported ancestry: anchor it onto the
			// prior imported head so the line stays connected.
			mapped = append(mapped, prior.Head)
		}

		grafted, err := im.backend.Graft(ctx, rev, mapped)
		if err != nil {
			return nil, WrapErrorf(err, "failed to graft %s for %q", rev, spec.Name)
		}
		grafts[rev] = grafted
		result.Grafted = append(result.Grafted, grafted)
	}

	head, ok := grafts[newHead]
	if !ok {
		return nil, WrapErrorf(ErrResolveFailed, "resolved head %s was not part of the pulled batch", newHead)
	}
	result.Head = head

	im.log.Info("grafted external revisions",
		"subtree", spec.Name, "count", len(result.Grafted), "head", head)
	return result, nil
}

// collapse creates exactly one commit whose content equals newHead's
// snapshot, chained onto the previous collapse commit. The commit body
// summarizes the collapsed upstream subjects.
func (im *Importer) collapse(ctx context.Context, spec SubtreeSpec, newHead Revision, prior PointerState, havePrior bool) (*ImportResult, error) {
	snap, err := im.backend.Snapshot(ctx, newHead)
	if err != nil {
		return nil, WrapErrorf(err, "failed to read snapshot of %s", newHead)
	}

	old := NoRevision
	var parents []Revision
	if havePrior {
		old = prior.Upstream
		parents = []Revision{prior.Head}
	}

	revs, err := im.backend.NewRevisions(ctx, old, newHead)
	if err != nil {
		return nil, WrapErrorf(err, "failed to enumerate new revisions for %q", spec.Name)
	}
	subjects := make([]string, 0, len(revs))
	for _, rev := range revs {
		msg, err := im.backend.Message(ctx, rev)
		if err != nil {
			return nil, WrapErrorf(err, "failed to read message of %s", rev)
		}
		subjects = append(subjects, subjectLine(msg))
	}

	message := renderMessage(im.msgs.Collapse, spec.Name, scriptDestination(spec.Script), shortRev(newHead))
	if body := collapseChangelog(subjects); body != "" {
		message += "\n\n" + body
	}
	if im.edit != nil {
		if message, err = im.edit(message); err != nil {
			return nil, WrapError(err, "message edit aborted")
		}
	}

	head, err := im.backend.CommitSnapshot(ctx, snap, parents, message)
	if err != nil {
		return nil, WrapErrorf(err, "failed to create collapse commit for %q", spec.Name)
	}

	im.log.Info("collapsed external revisions",
		"subtree", spec.Name, "count", len(revs), "head", head)
	return &ImportResult{Head: head, Upstream: newHead}, nil
}

// shortRev abbreviates a revision identifier for display and messages.
func shortRev(rev Revision) Revision {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}
