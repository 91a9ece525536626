package subtree

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ref(content string) FileRef {
	return FileRef{Hash: content, Mode: 0o100644}
}

// TestTransformSnapshot tests the pure reorganization of a snapshot
func TestTransformSnapshot(t *testing.T) {
	tests := []struct {
		name     string
		original Snapshot
		script   string
		keep     bool
		want     []string
	}{
		{
			name: "move everything under a prefix",
			original: Snapshot{
				"a.txt":     ref("a"),
				"dir/b.txt": ref("b"),
			},
			script: "mkdir ext/sub\nmove * ext/sub",
			want:   []string{"ext/sub/a.txt", "ext/sub/dir/b.txt"},
		},
		{
			name: "directory glob preserves structure beneath the literal base",
			original: Snapshot{
				"docs/guide/x.md": ref("x"),
				"src/main.c":      ref("m"),
			},
			script: "move docs/* manual",
			want:   []string{"manual/guide/x.md"},
		},
		{
			name: "keep preserves untouched originals",
			original: Snapshot{
				"docs/guide/x.md": ref("x"),
				"src/main.c":      ref("m"),
			},
			script: "move docs/* manual",
			keep:   true,
			want:   []string{"manual/guide/x.md", "src/main.c"},
		},
		{
			name: "fully literal pattern keeps the base name",
			original: Snapshot{
				"LICENSE":    ref("l"),
				"src/main.c": ref("m"),
			},
			script: "move LICENSE legal",
			want:   []string{"legal/LICENSE"},
		},
		{
			name: "copy duplicates without keeping the unmoved original",
			original: Snapshot{
				"LICENSE": ref("l"),
			},
			script: "copy LICENSE ext",
			want:   []string{"ext/LICENSE"},
		},
		{
			name: "copy with keep retains both",
			original: Snapshot{
				"LICENSE": ref("l"),
			},
			script: "copy LICENSE ext",
			keep:   true,
			want:   []string{"LICENSE", "ext/LICENSE"},
		},
		{
			name: "empty script drops everything",
			original: Snapshot{
				"a.txt": ref("a"),
			},
			script: "",
			want:   []string{},
		},
		{
			name: "empty script with keep is the identity",
			original: Snapshot{
				"a.txt": ref("a"),
			},
			script: "",
			keep:   true,
			want:   []string{"a.txt"},
		},
		{
			name: "move onto an original path keeps the destination",
			original: Snapshot{
				"lib/util.c": ref("u"),
				"util.c":     ref("old"),
			},
			script: "move lib/* .",
			want:   []string{"util.c"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := transformSnapshot(tt.original, parseScript(t, tt.script), tt.keep)
			assert.ElementsMatch(t, tt.want, got.Paths())
		})
	}
}

// TestTransformSnapshotLastOpWins tests overlapping destinations
func TestTransformSnapshotLastOpWins(t *testing.T) {
	original := Snapshot{
		"a/x.txt": ref("from-a"),
		"b/x.txt": ref("from-b"),
	}
	script := parseScript(t, "move a/* out\nmove b/* out")

	got := transformSnapshot(original, script, false)

	require.Contains(t, got, "out/x.txt")
	assert.Equal(t, ref("from-b"), got["out/x.txt"], "later operation should overwrite")
}

// TestTransformSnapshotContentPreserved tests that file references survive
// relocation untouched
func TestTransformSnapshotContentPreserved(t *testing.T) {
	original := Snapshot{
		"docs/guide/x.md": {Hash: "abc", Mode: 0o100755},
	}
	got := transformSnapshot(original, parseScript(t, "move docs/* manual"), false)

	assert.Equal(t, original["docs/guide/x.md"], got["manual/guide/x.md"])
}

func TestLiteralBase(t *testing.T) {
	tests := []struct {
		pattern string
		want    string
	}{
		{pattern: "*", want: ""},
		{pattern: "docs/*", want: "docs"},
		{pattern: "LICENSE", want: ""},
		{pattern: "docs/guide/x.md", want: "docs/guide"},
		{pattern: "src/*/testdata", want: "src"},
		{pattern: "a/b/*.md", want: "a/b"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, literalBase(tt.pattern), tt.pattern)
	}
}

func TestGlobMatch(t *testing.T) {
	tests := []struct {
		pattern string
		path    string
		want    bool
	}{
		{pattern: "*", path: "a.txt", want: true},
		{pattern: "*", path: "dir/b.txt", want: true},
		{pattern: "docs/*", path: "docs/x.md", want: true},
		{pattern: "docs/*", path: "docs/guide/x.md", want: true},
		{pattern: "docs/*", path: "src/main.c", want: false},
		{pattern: "LICENSE", path: "LICENSE", want: true},
		{pattern: "LICENSE", path: "sub/LICENSE", want: false},
		{pattern: "docs", path: "docs/guide/x.md", want: true},
		{pattern: "*.md", path: "README.md", want: true},
		{pattern: "*.md", path: "docs/README.md", want: false},
		{pattern: "[", path: "anything", want: false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, globMatch(tt.pattern, tt.path), "%s vs %s", tt.pattern, tt.path)
	}
}

// TestTransformerApply tests the commit side of the transform
func TestTransformerApply(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	imported, err := backend.CommitSnapshot(ctx, Snapshot{
		"a.txt":     ref("a"),
		"dir/b.txt": ref("b"),
	}, nil, "import")
	require.NoError(t, err)

	spec := SubtreeSpec{
		Name:   "sub",
		Source: "https://example.com/sub.git",
		Script: parseScript(t, "mkdir ext/sub\nmove * ext/sub"),
	}

	transformer := NewTransformer(backend, MessageTemplates{}, nil, nil)
	head, err := transformer.Apply(ctx, spec, imported)
	require.NoError(t, err)

	snap, err := backend.Snapshot(ctx, head)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"ext/sub/a.txt", "ext/sub/dir/b.txt"}, snap.Paths())

	parents, err := backend.Parents(ctx, head)
	require.NoError(t, err)
	assert.Equal(t, []Revision{imported}, parents, "transform commit should chain onto the import")

	msg, err := backend.Message(ctx, head)
	require.NoError(t, err)
	assert.Equal(t, "subtree: move sub to ext/sub", msg)
}

// TestTransformerApplyEditAbort tests that a failing message editor stops
// the transform before any commit
func TestTransformerApplyEditAbort(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	imported, err := backend.CommitSnapshot(ctx, Snapshot{"a.txt": ref("a")}, nil, "import")
	require.NoError(t, err)

	edit := func(string) (string, error) { return "", assert.AnError }
	transformer := NewTransformer(backend, MessageTemplates{}, edit, nil)

	_, err = transformer.Apply(ctx, SubtreeSpec{Name: "sub", Source: "s"}, imported)
	require.Error(t, err)
}

// parseScript parses newline-separated script lines, skipping blanks.
func parseScript(t *testing.T, script string) []TransformOp {
	t.Helper()

	var ops []TransformOp
	for _, line := range splitLines(script) {
		op, err := ParseOp(line)
		require.NoError(t, err, "script line %q", line)
		ops = append(ops, op)
	}
	return ops
}

func splitLines(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == '\n' {
			if line := s[start:i]; line != "" {
				out = append(out, line)
			}
			start = i + 1
		}
	}
	return out
}
