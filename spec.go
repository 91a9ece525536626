// Package subtree synchronizes external repositories into a host repository.
// This file contains the subtree specification and transform operation model.
package subtree

import (
	"fmt"
	"strings"
)

// OpKind represents the type of a transform operation.
type OpKind int

const (
	// OpMkDir ensures a directory path exists in the working snapshot.
	// On content-addressed backends that do not track empty directories
	// it is a no-op, but it remains valid in scripts.
	OpMkDir OpKind = iota

	// OpMove relocates every file matched by the pattern under the
	// destination directory.
	OpMove

	// OpCopy duplicates every file matched by the pattern under the
	// destination directory, leaving the source in place.
	OpCopy
)

// String returns a human-readable string representation of the OpKind.
func (k OpKind) String() string {
	switch k {
	case OpMkDir:
		return "mkdir"
	case OpMove:
		return "move"
	case OpCopy:
		return "copy"
	default:
		return "unknown"
	}
}

// TransformOp is one step of a subtree's reorganization script.
// Operations apply in order; Move and Copy resolve their glob pattern
// against the original imported snapshot's file list, while their effects
// accumulate on the working snapshot under construction.
type TransformOp struct {
	// Kind selects the operation.
	Kind OpKind

	// Pattern is the glob matched against imported file paths.
	// It matches a file either directly or through one of the file's
	// ancestor directories. Unused for MkDir.
	Pattern string

	// Dest is the destination directory for Move/Copy, or the directory
	// to create for MkDir.
	Dest string
}

// String returns the script form of the operation, e.g. "move docs/* manual".
func (op TransformOp) String() string {
	if op.Kind == OpMkDir {
		return fmt.Sprintf("%s %s", op.Kind, op.Dest)
	}
	return fmt.Sprintf("%s %s %s", op.Kind, op.Pattern, op.Dest)
}

// ParseOp parses a single script line into a TransformOp.
// Supported forms:
//
//	mkdir <path>
//	move <pattern> <dest>
//	copy <pattern> <dest>
func ParseOp(line string) (TransformOp, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return TransformOp{}, WrapError(ErrInvalidSpec, "empty transform operation")
	}

	switch fields[0] {
	case "mkdir":
		if len(fields) != 2 {
			return TransformOp{}, WrapErrorf(ErrInvalidSpec, "mkdir takes one argument, got %q", line)
		}
		return TransformOp{Kind: OpMkDir, Dest: cleanRelPath(fields[1])}, nil
	case "move":
		if len(fields) != 3 {
			return TransformOp{}, WrapErrorf(ErrInvalidSpec, "move takes two arguments, got %q", line)
		}
		return TransformOp{Kind: OpMove, Pattern: fields[1], Dest: cleanRelPath(fields[2])}, nil
	case "copy":
		if len(fields) != 3 {
			return TransformOp{}, WrapErrorf(ErrInvalidSpec, "copy takes two arguments, got %q", line)
		}
		return TransformOp{Kind: OpCopy, Pattern: fields[1], Dest: cleanRelPath(fields[2])}, nil
	default:
		return TransformOp{}, WrapErrorf(ErrInvalidSpec, "unknown transform operation %q", fields[0])
	}
}

// cleanRelPath normalizes a script path to a slash-separated relative path.
func cleanRelPath(p string) string {
	p = strings.Trim(strings.ReplaceAll(p, "\\", "/"), "/")
	if p == "." {
		return ""
	}
	return p
}

// SubtreeSpec describes one external source to synchronize into the host
// repository. Specs are immutable inputs, created once per invocation.
type SubtreeSpec struct {
	// Name uniquely identifies the subtree within an invocation. It
	// namespaces the sync pointer and the commit message templates.
	Name string

	// Source is the URL or path of the external repository.
	Source string

	// Script is the ordered reorganization applied to each import.
	Script []TransformOp

	// Collapse squashes each batch of newly pulled revisions into a single
	// host commit instead of grafting the foreign history verbatim.
	Collapse bool

	// Rev optionally pins the revision selector to import. Empty means the
	// source's default head.
	Rev string

	// Keep preserves files the script never touched at their original
	// paths instead of dropping them from the transformed snapshot.
	Keep bool
}

// Validate checks that the spec is well-formed.
// It returns ErrInvalidSpec (wrapped) if required fields are missing.
func (s *SubtreeSpec) Validate() error {
	if s.Name == "" {
		return WrapError(ErrInvalidSpec, "name is required")
	}
	if strings.ContainsAny(s.Name, " \t/") {
		return WrapErrorf(ErrInvalidSpec, "name %q must not contain spaces or slashes", s.Name)
	}
	if s.Source == "" {
		return WrapErrorf(ErrInvalidSpec, "subtree %q has no source", s.Name)
	}
	for _, op := range s.Script {
		switch op.Kind {
		case OpMkDir:
			if op.Dest == "" {
				return WrapErrorf(ErrInvalidSpec, "subtree %q: mkdir needs a path", s.Name)
			}
		case OpMove, OpCopy:
			if op.Pattern == "" {
				return WrapErrorf(ErrInvalidSpec, "subtree %q: %s needs a pattern", s.Name, op.Kind)
			}
		default:
			return WrapErrorf(ErrInvalidSpec, "subtree %q: unknown operation kind %d", s.Name, op.Kind)
		}
	}
	return nil
}
