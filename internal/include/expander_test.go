// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package include

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/unicode/norm"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// writeFiles creates files under a fresh project root.
func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		path := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	return root
}

func problemsOfType[T error](res *Result) []T {
	var out []T
	for _, p := range res.Problems {
		var target T
		if errors.As(p, &target) {
			out = append(out, target)
		}
	}
	return out
}

// =============================================================================
// EXPANSION TESTS
// =============================================================================

func TestExpand_NoMarkers(t *testing.T) {
	content := "plain text\nwith <!-- a comment --> and `code`"
	res := Expand(content, t.TempDir(), nil)

	assert.Equal(t, content, res.Text)
	assert.False(t, res.HasProblems())
	assert.Empty(t, res.Included)
}

func TestExpand_SingleAndNested(t *testing.T) {
	root := writeFiles(t, map[string]string{
		"a.md":       "A[<!-- include: sub/b.md -->]",
		"sub/b.md":   "B",
		"sub/c.md":   "C",
		"other.md":   "<!--include:sub/c.md-->",
		"spaced.md":  "<!--   include:   \"sub/b.md\"   -->",
	})

	res := Expand("start <!-- include: a.md --> end", root, nil)
	assert.Equal(t, "start A[B] end", res.Text)
	assert.False(t, res.HasProblems())
	assert.Len(t, res.Included, 2)

	assert.Equal(t, "C", Expand("<!-- include: other.md -->", root, nil).Text)
	assert.Equal(t, "B", Expand("<!-- include: spaced.md -->", root, nil).Text)
}

func TestExpand_AbsolutePath(t *testing.T) {
	root := writeFiles(t, map[string]string{"abs.md": "absolute"})
	abs := filepath.Join(root, "abs.md")

	res := Expand("<!-- include: "+abs+" -->", t.TempDir(), nil)
	assert.Equal(t, "absolute", res.Text)
}

func TestExpand_Cycle(t *testing.T) {
	root := writeFiles(t, map[string]string{
		"a.md": "a(<!-- include: b.md -->)",
		"b.md": "b(<!-- include: a.md -->)",
	})

	res := Expand("<!-- include: a.md -->", root, nil)

	assert.True(t, strings.HasPrefix(res.Text, "a(b("))
	assert.Contains(t, res.Text, "[include skipped: a.md would include itself]")
	cycles := problemsOfType[*CycleError](res)
	require.Len(t, cycles, 1)
	assert.Equal(t, "a.md", cycles[0].Target)
}

func TestExpand_SelfInclude(t *testing.T) {
	root := writeFiles(t, map[string]string{
		"self.md": "x <!-- include: self.md --> y",
	})

	res := Expand("<!-- include: self.md -->", root, nil)
	assert.Equal(t, "x [include skipped: self.md would include itself] y", res.Text)
	assert.Len(t, problemsOfType[*CycleError](res), 1)
}

func TestExpand_Diamond(t *testing.T) {
	root := writeFiles(t, map[string]string{
		"top.md":    "<!-- include: left.md -->|<!-- include: right.md -->",
		"left.md":   "L<!-- include: shared.md -->",
		"right.md":  "R<!-- include: shared.md -->",
		"shared.md": "S",
	})

	res := Expand("<!-- include: top.md -->", root, nil)
	assert.Equal(t, "LS|RS", res.Text)
	assert.False(t, res.HasProblems(), res.ProblemSummary())
	assert.Len(t, res.Included, 4, "shared file listed once")
}

func TestExpand_SameFileTwiceInOneSlice(t *testing.T) {
	root := writeFiles(t, map[string]string{"x.md": "X"})

	res := Expand("<!-- include: x.md --> and <!-- include: x.md -->", root, nil)
	assert.Equal(t, "X and X", res.Text)
	assert.False(t, res.HasProblems())
}

func TestExpand_MissingTarget(t *testing.T) {
	root := writeFiles(t, map[string]string{
		"ok.md": "fine",
	})

	res := Expand("<!-- include: missing.md --> <!-- include: ok.md -->", root, nil)

	assert.Contains(t, res.Text, "[include failed: missing.md: file not found")
	assert.True(t, strings.HasSuffix(res.Text, " fine"))
	resolution := problemsOfType[*ResolutionError](res)
	require.Len(t, resolution, 1)
	assert.ErrorIs(t, resolution[0], os.ErrNotExist)
}

func TestExpand_DirectoryAndEmptyTarget(t *testing.T) {
	root := writeFiles(t, map[string]string{"dir/file.md": "x"})

	res := Expand("<!-- include: dir --><!-- include: -->", root, nil)
	resolution := problemsOfType[*ResolutionError](res)
	require.Len(t, resolution, 2)
	assert.ErrorIs(t, resolution[0], ErrIsDirectory)
}

func TestExpand_TooLarge(t *testing.T) {
	root := writeFiles(t, map[string]string{"big.md": strings.Repeat("x", 100)})

	e := &Expander{Root: root, MaxFileSize: 10}
	res := e.Expand("<!-- include: big.md -->", nil)
	resolution := problemsOfType[*ResolutionError](res)
	require.Len(t, resolution, 1)
	assert.ErrorIs(t, resolution[0], ErrTooLarge)
}

func TestExpand_DepthGuard(t *testing.T) {
	files := map[string]string{}
	for i := 0; i < 10; i++ {
		files[filepath.Join("chain", string(rune('a'+i))+".md")] = "<!-- include: chain/" + string(rune('a'+i+1)) + ".md -->"
	}
	root := writeFiles(t, files)

	e := &Expander{Root: root, MaxDepth: 3}
	res := e.Expand("<!-- include: chain/a.md -->", nil)

	resolution := problemsOfType[*ResolutionError](res)
	require.Len(t, resolution, 1)
	assert.ErrorIs(t, resolution[0], ErrTooDeep)
	assert.Empty(t, problemsOfType[*CycleError](res))
}

func TestExpand_VisitedRestored(t *testing.T) {
	root := writeFiles(t, map[string]string{
		"a.md": "<!-- include: b.md -->",
		"b.md": "b",
	})

	visited := map[string]bool{"/some/ancestor.md": true}
	Expand("<!-- include: a.md -->", root, visited)

	assert.Equal(t, map[string]bool{"/some/ancestor.md": true}, visited)
}

func TestExpand_CallerVisitedRejectsAncestor(t *testing.T) {
	root := writeFiles(t, map[string]string{"parent.md": "p"})
	_, key := (&Expander{Root: root}).resolve("parent.md")

	res := Expand("<!-- include: parent.md -->", root, map[string]bool{key: true})
	assert.Len(t, problemsOfType[*CycleError](res), 1)
}

func TestExpand_SymlinkIsSameNode(t *testing.T) {
	root := writeFiles(t, map[string]string{
		"real.md": "r<!-- include: link.md -->",
	})
	if err := os.Symlink(filepath.Join(root, "real.md"), filepath.Join(root, "link.md")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	res := Expand("<!-- include: real.md -->", root, nil)
	assert.Len(t, problemsOfType[*CycleError](res), 1)
}

func TestExpand_UnicodeSpellingsAreOneNode(t *testing.T) {
	root := t.TempDir()
	composed := norm.NFC.String("café.md")
	decomposed := norm.NFD.String("café.md")
	require.NotEqual(t, composed, decomposed)

	key := CanonicalKey(filepath.Join(root, composed))
	res := Expand("<!-- include: "+decomposed+" -->", root, map[string]bool{key: true})

	assert.Len(t, problemsOfType[*CycleError](res), 1)
}

func TestExpand_CachedReadInvalidatedOnChange(t *testing.T) {
	root := writeFiles(t, map[string]string{"c.md": "one"})
	e := NewExpander(root)

	assert.Equal(t, "one", e.Expand("<!-- include: c.md -->", nil).Text)
	assert.Equal(t, "one", e.Expand("<!-- include: c.md -->", nil).Text)
	assert.Equal(t, int64(1), e.Cache.Stats().Hits)

	require.NoError(t, os.WriteFile(filepath.Join(root, "c.md"), []byte("changed"), 0644))
	assert.Equal(t, "changed", e.Expand("<!-- include: c.md -->", nil).Text)
}

func TestMarkers(t *testing.T) {
	got := Markers("a <!-- include: x.md --> b <!--include:'y z.md'-->")
	assert.Equal(t, []string{"x.md", "y z.md"}, got)
}
