// Package subtree synchronizes external repositories into a host repository.
// This file contains the sync orchestrator: the top-level loop that runs
// import, transform, merge, and pointer update per configured subtree.
package subtree

import (
	"context"
	"log/slog"
)

// OutcomeKind classifies the result of processing one subtree.
type OutcomeKind int

const (
	// OutcomeSkipped means the source had nothing newer than the sync
	// pointer; no commits were created.
	OutcomeSkipped OutcomeKind = iota

	// OutcomeMerged means the import was transformed and merged; the
	// working line advanced and the sync pointer was persisted.
	OutcomeMerged

	// OutcomeConflict means the merge stopped on overlapping changes; the
	// sync pointer is unchanged and the working tree holds conflict
	// markers.
	OutcomeConflict

	// OutcomeFailed means a backend call failed; the subtree's pointer is
	// unchanged and processing continued with the next subtree.
	OutcomeFailed

	// OutcomeNotAttempted means an earlier conflict left the working tree
	// unusable, so this subtree was not processed.
	OutcomeNotAttempted
)

// String returns a human-readable string representation of the OutcomeKind.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSkipped:
		return "skipped"
	case OutcomeMerged:
		return "merged"
	case OutcomeConflict:
		return "conflict"
	case OutcomeFailed:
		return "failed"
	case OutcomeNotAttempted:
		return "not-attempted"
	default:
		return "unknown"
	}
}

// Outcome is the per-subtree record of a run.
type Outcome struct {
	// Name is the subtree's name.
	Name string

	// Kind classifies what happened.
	Kind OutcomeKind

	// Head is the new working line head for OutcomeMerged.
	Head Revision

	// Conflicts lists disputed paths for OutcomeConflict.
	Conflicts []string

	// Err carries the failure for OutcomeFailed.
	Err error
}

// RunOptions carries invocation-time options for a run.
type RunOptions struct {
	// Only restricts processing to the named subtrees, in spec order.
	// Empty processes every spec. Naming an unknown subtree is an
	// ErrInvalidSpec.
	Only []string

	// Source overrides the processed spec's source URL. Valid only when
	// exactly one subtree is selected; otherwise Run rejects the
	// invocation with ErrInvalidSpec.
	Source string

	// Rev overrides every processed spec's revision selector.
	Rev string

	// EditMessage optionally rewrites each generated commit message before
	// it is used.
	EditMessage MessageEditor
}

// Orchestrator runs the synchronization loop over a set of subtree specs.
type Orchestrator struct {
	backend Backend
	tracker *PointerTracker
	msgs    MessageTemplates
	log     *slog.Logger
}

// NewOrchestrator returns an orchestrator for the backend. A nil logger
// discards log output; an empty pointerPrefix selects the default.
func NewOrchestrator(backend Backend, msgs MessageTemplates, pointerPrefix string, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Orchestrator{
		backend: backend,
		tracker: NewPointerTracker(backend, pointerPrefix),
		msgs:    msgs.withDefaults(),
		log:     log,
	}
}

// Run processes the selected specs in order. Each spec runs import,
// transform, and merge against the working line left by the previous one;
// its sync pointer is persisted only after a successful merge. Conflicts
// and backend failures are recorded per subtree and do not abort the run,
// except that a conflict which dirties the working tree marks the
// remaining subtrees as not attempted.
//
// Run refuses to start when the working copy has uncommitted changes, and
// holds the repository lock for the whole invocation.
func (o *Orchestrator) Run(ctx context.Context, specs []SubtreeSpec, opts RunOptions) ([]Outcome, error) {
	selected, err := selectSpecs(specs, opts.Only)
	if err != nil {
		return nil, err
	}
	if opts.Source != "" && len(selected) != 1 {
		return nil, WrapError(ErrInvalidSpec, "source override requires exactly one selected subtree")
	}

	release, err := o.backend.Lock(ctx)
	if err != nil {
		return nil, WrapError(err, "failed to lock repository")
	}
	defer func() {
		if rerr := release(); rerr != nil {
			o.log.Warn("failed to release repository lock", "error", rerr)
		}
	}()

	clean, err := o.backend.IsClean(ctx)
	if err != nil {
		return nil, WrapError(err, "failed to check working copy state")
	}
	if !clean {
		return nil, ErrDirtyWorktree
	}

	workingLine, err := o.backend.Head(ctx)
	if err != nil {
		return nil, WrapError(err, "failed to read working line head")
	}

	importer := NewImporter(o.backend, o.tracker, o.msgs, opts.EditMessage, o.log)
	transformer := NewTransformer(o.backend, o.msgs, opts.EditMessage, o.log)
	merger := NewMerger(o.backend, o.msgs, opts.EditMessage, o.log)
	overrides := ImportOverrides{Source: opts.Source, Rev: opts.Rev}

	outcomes := make([]Outcome, 0, len(selected))
	halted := false

	for _, spec := range selected {
		if halted {
			outcomes = append(outcomes, Outcome{Name: spec.Name, Kind: OutcomeNotAttempted})
			continue
		}

		outcome, newHead := o.runSpec(ctx, spec, overrides, workingLine, importer, transformer, merger)
		outcomes = append(outcomes, outcome)

		if outcome.Kind == OutcomeMerged {
			workingLine = newHead
		}
		if outcome.Kind == OutcomeConflict {
			// A conflict leaves marker files behind; later merges need a
			// clean tree, so the rest of the run is reported untouched.
			clean, cerr := o.backend.IsClean(ctx)
			if cerr != nil || !clean {
				halted = true
			}
		}
	}

	return outcomes, nil
}

// runSpec processes one subtree and returns its outcome together with the
// working line head it produced (unchanged unless merged).
func (o *Orchestrator) runSpec(
	ctx context.Context,
	spec SubtreeSpec,
	overrides ImportOverrides,
	workingLine Revision,
	importer *Importer,
	transformer *Transformer,
	merger *Merger,
) (Outcome, Revision) {
	imported, err := importer.Import(ctx, spec, overrides)
	if err != nil {
		return Outcome{Name: spec.Name, Kind: OutcomeFailed, Err: err}, workingLine
	}
	if imported.Skipped {
		return Outcome{Name: spec.Name, Kind: OutcomeSkipped}, workingLine
	}

	transformed, err := transformer.Apply(ctx, spec, imported.Head)
	if err != nil {
		return Outcome{Name: spec.Name, Kind: OutcomeFailed, Err: err}, workingLine
	}

	merged, err := merger.Merge(ctx, spec, workingLine, transformed)
	if err != nil {
		return Outcome{Name: spec.Name, Kind: OutcomeFailed, Err: err}, workingLine
	}
	if merged.Conflicted() {
		return Outcome{Name: spec.Name, Kind: OutcomeConflict, Conflicts: merged.Conflicts}, workingLine
	}

	// The merge held, so the import becomes the durable retry point.
	state := PointerState{Head: imported.Head, Upstream: imported.Upstream}
	if err := o.tracker.Set(ctx, spec.Name, state); err != nil {
		return Outcome{Name: spec.Name, Kind: OutcomeFailed, Err: err}, workingLine
	}

	return Outcome{Name: spec.Name, Kind: OutcomeMerged, Head: merged.Head}, merged.Head
}

// selectSpecs validates the specs and applies the name filter, preserving
// spec order.
func selectSpecs(specs []SubtreeSpec, only []string) ([]SubtreeSpec, error) {
	byName := make(map[string]SubtreeSpec, len(specs))
	for _, spec := range specs {
		if err := spec.Validate(); err != nil {
			return nil, err
		}
		if _, dup := byName[spec.Name]; dup {
			return nil, WrapErrorf(ErrInvalidSpec, "duplicate subtree name %q", spec.Name)
		}
		byName[spec.Name] = spec
	}

	if len(only) == 0 {
		return specs, nil
	}

	wanted := make(map[string]bool, len(only))
	for _, name := range only {
		if _, ok := byName[name]; !ok {
			return nil, WrapErrorf(ErrInvalidSpec, "unknown subtree %q", name)
		}
		wanted[name] = true
	}

	selected := make([]SubtreeSpec, 0, len(wanted))
	for _, spec := range specs {
		if wanted[spec.Name] {
			selected = append(selected, spec)
		}
	}
	return selected, nil
}
