// Package subtree synchronizes external repositories into a host repository.
// This file contains the transform engine: the declarative reorganization
// of an imported snapshot before it merges into the working line.
package subtree

import (
	"context"
	"log/slog"
	pathpkg "path"
	"sort"
	"strings"
)

// Transformer applies a subtree's reorganization script to an imported
// snapshot and commits the result as a child of the imported head.
type Transformer struct {
	backend Backend
	msgs    MessageTemplates
	edit    MessageEditor
	log     *slog.Logger
}

// NewTransformer returns a transformer using the given backend.
func NewTransformer(backend Backend, msgs MessageTemplates, edit MessageEditor, log *slog.Logger) *Transformer {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Transformer{backend: backend, msgs: msgs.withDefaults(), edit: edit, log: log}
}

// Apply runs the script against the snapshot at importedHead and commits
// the reorganized snapshot with importedHead as its single parent.
//
// Context timeout/cancellation is honored during the operation.
func (t *Transformer) Apply(ctx context.Context, spec SubtreeSpec, importedHead Revision) (Revision, error) {
	original, err := t.backend.Snapshot(ctx, importedHead)
	if err != nil {
		return NoRevision, WrapErrorf(err, "failed to read snapshot of %s", importedHead)
	}

	working := transformSnapshot(original, spec.Script, spec.Keep)

	message := renderMessage(t.msgs.Move, spec.Name, scriptDestination(spec.Script), shortRev(importedHead))
	if t.edit != nil {
		if message, err = t.edit(message); err != nil {
			return NoRevision, WrapError(err, "message edit aborted")
		}
	}

	head, err := t.backend.CommitSnapshot(ctx, working, []Revision{importedHead}, message)
	if err != nil {
		return NoRevision, WrapErrorf(err, "failed to commit transformed snapshot for %q", spec.Name)
	}

	t.log.Info("transformed import",
		"subtree", spec.Name, "files", len(working), "head", head)
	return head, nil
}

// transformSnapshot computes the reorganized snapshot. Move and Copy match
// their patterns against the original snapshot's file list; their effects
// accumulate on the working snapshot, later destinations overwriting
// earlier ones. Unless keep is set, original files never touched by a Move
// are dropped, except where a Move or Copy wrote a destination over them.
func transformSnapshot(original Snapshot, script []TransformOp, keep bool) Snapshot {
	working := original.Clone()

	// Stable iteration so overlapping destinations resolve the same way
	// on every run.
	paths := original.Paths()
	sort.Strings(paths)

	moved := make(map[string]bool)
	dests := make(map[string]bool)

	for _, op := range script {
		switch op.Kind {
		case OpMkDir:
			// Directories materialize with their files; nothing to do on a
			// content-addressed snapshot.
		case OpMove, OpCopy:
			for _, p := range paths {
				if !globMatch(op.Pattern, p) {
					continue
				}
				dst := destinationPath(op, p)
				working[dst] = original[p]
				dests[dst] = true
				if op.Kind == OpMove {
					moved[p] = true
					if dst != p {
						delete(working, p)
					}
				}
			}
		}
	}

	if !keep {
		for _, p := range paths {
			if !moved[p] && !dests[p] {
				delete(working, p)
			}
		}
	}

	return working
}

// destinationPath relocates a matched path under the op's destination,
// preserving the structure beneath the pattern's literal leading
// directories. For "move docs/* manual", docs/guide/x.md lands at
// manual/guide/x.md; for "move * ext/sub", a.txt lands at ext/sub/a.txt.
func destinationPath(op TransformOp, matched string) string {
	rel := matched
	if base := literalBase(op.Pattern); base != "" {
		rel = strings.TrimPrefix(matched, base+"/")
	}
	return pathpkg.Join(op.Dest, rel)
}

// literalBase returns the pattern's leading path segments that contain no
// glob metacharacters. A fully literal pattern contributes its directory
// portion only, so the matched file keeps its base name.
func literalBase(pattern string) string {
	segs := strings.Split(pattern, "/")
	n := 0
	for _, seg := range segs {
		if strings.ContainsAny(seg, "*?[\\") {
			break
		}
		n++
	}
	if n == len(segs) && n > 0 {
		n--
	}
	return strings.Join(segs[:n], "/")
}

// globMatch reports whether the pattern matches the path directly or
// matches one of the path's ancestor directories, so a pattern naming a
// directory captures everything beneath it. Matching is segment-wise in
// the manner of path.Match; a malformed pattern matches nothing.
func globMatch(pattern, path string) bool {
	if ok, err := pathpkg.Match(pattern, path); err != nil {
		return false
	} else if ok {
		return true
	}
	dir := path
	for {
		i := strings.LastIndexByte(dir, '/')
		if i < 0 {
			return false
		}
		dir = dir[:i]
		if ok, _ := pathpkg.Match(pattern, dir); ok {
			return true
		}
	}
}
