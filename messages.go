// Package subtree synchronizes external repositories into a host repository.
// This file contains commit message templates and collapse changelog building.
package subtree

import (
	"fmt"
	"sort"
	"strings"

	"github.com/leodido/go-conventionalcommits"
	"github.com/leodido/go-conventionalcommits/parser"
)

// Default commit message templates. Placeholders: {name} is the subtree
// name, {destination} the script's first Move/Copy destination, {rev} the
// imported external revision identifier.
const (
	DefaultMoveMessage     = "subtree: move {name} to {destination}"
	DefaultUpdateMessage   = "subtree: update {name}"
	DefaultCollapseMessage = "subtree: collapse {name} at {rev}"
)

// MessageTemplates holds the templates for the three commit kinds the
// engine creates. Zero-value fields fall back to the defaults.
type MessageTemplates struct {
	// Move is the template for the reorganization commit.
	Move string

	// Update is the template for the merge commit into the working line.
	Update string

	// Collapse is the template for the flattened import commit.
	Collapse string
}

// withDefaults returns a copy with empty templates replaced by defaults.
func (m MessageTemplates) withDefaults() MessageTemplates {
	if m.Move == "" {
		m.Move = DefaultMoveMessage
	}
	if m.Update == "" {
		m.Update = DefaultUpdateMessage
	}
	if m.Collapse == "" {
		m.Collapse = DefaultCollapseMessage
	}
	return m
}

// MessageEditor optionally rewrites a generated commit message before it is
// used, e.g. by handing it to an interactive editor. Returning an error
// aborts the current subtree's processing.
type MessageEditor func(message string) (string, error)

// renderMessage substitutes the template placeholders.
func renderMessage(tmpl, name, destination string, rev Revision) string {
	return strings.NewReplacer(
		"{name}", name,
		"{destination}", destination,
		"{rev}", string(rev),
	).Replace(tmpl)
}

// scriptDestination returns the destination used for the {destination}
// placeholder: the first Move or Copy destination in the script.
func scriptDestination(script []TransformOp) string {
	for _, op := range script {
		if op.Kind == OpMove || op.Kind == OpCopy {
			return op.Dest
		}
	}
	return ""
}

// collapseChangelog renders the body of a collapse commit from the subject
// lines of the collapsed upstream revisions. Subjects that parse as
// conventional commits are grouped by type; everything else lands in a
// trailing "other" group. Returns "" when there is nothing to report.
func collapseChangelog(subjects []string) string {
	if len(subjects) == 0 {
		return ""
	}

	machine := parser.NewMachine(conventionalcommits.WithTypes(conventionalcommits.TypesConventional))

	groups := make(map[string][]string)
	var other []string
	for _, subject := range subjects {
		subject = strings.TrimSpace(subject)
		if subject == "" {
			continue
		}
		msg, err := machine.Parse([]byte(subject))
		if err != nil {
			other = append(other, subject)
			continue
		}
		cc, ok := msg.(*conventionalcommits.ConventionalCommit)
		if !ok {
			other = append(other, subject)
			continue
		}
		groups[cc.Type] = append(groups[cc.Type], cc.Description)
	}

	types := make([]string, 0, len(groups))
	for t := range groups {
		types = append(types, t)
	}
	sort.Strings(types)

	var b strings.Builder
	for _, t := range types {
		fmt.Fprintf(&b, "%s:\n", t)
		for _, desc := range groups[t] {
			fmt.Fprintf(&b, "  - %s\n", desc)
		}
	}
	if len(other) > 0 {
		if b.Len() > 0 {
			b.WriteString("other:\n")
			for _, s := range other {
				fmt.Fprintf(&b, "  - %s\n", s)
			}
		} else {
			// Nothing parsed; keep a plain list without a group header.
			for _, s := range other {
				fmt.Fprintf(&b, "- %s\n", s)
			}
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// subjectLine returns the first line of a commit message.
func subjectLine(message string) string {
	if i := strings.IndexByte(message, '\n'); i >= 0 {
		return message[:i]
	}
	return message
}
