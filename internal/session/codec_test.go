// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.md")

	s := New(path, WithClock(fakeClock()))
	s.SetHeader(Header{
		Title:       "Refactor plan",
		Description: "quoted \"text\" and\nnewline",
		Extra:       map[string]string{"project": "slicebook", "owner": "ops"},
	})
	s.AppendSlice(RoleSystem, "You are a careful reviewer.")
	s.AppendSlice(RoleUser, "<!-- include: notes/context.md -->\n\n```go\nfmt.Println(\"x\")\n```")
	s.AppendSlice(RoleAssistant, "")
	s.AppendSlice(RoleUser, "trailing newline\n")
	s.AppendSlice(RoleUser, "windows\r\nline\r")
	s.AppendSlice(RoleAssistant, "## User looks like a header\n+++\n````` five")

	require.NoError(t, s.Save(""))
	assert.False(t, s.IsDirty())

	loaded, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, s.Slices(), loaded.Slices())
	assert.Equal(t, s.Header(), loaded.Header())
	assert.Equal(t, path, loaded.Path())
	assert.False(t, loaded.IsDirty())
}

func TestEncode_Deterministic(t *testing.T) {
	s := New("x.md")
	s.SetHeader(Header{Title: "t", Extra: map[string]string{"b": "2", "a": "1", "c": "3"}})
	s.AppendSlice(RoleUser, "hi")

	first, err := s.Marshal()
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := s.Marshal()
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	assert.True(t, strings.HasPrefix(string(first), "+++\ntitle = \"t\"\na = \"1\"\n"))
}

func TestEncode_FenceLongerThanContentRuns(t *testing.T) {
	s := New("x.md")
	s.AppendSlice(RoleUser, "has ```` four")

	data, err := s.Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(data), "\n`````\nhas ```` four\n`````\n")
}

func TestParse_EmptyDocument(t *testing.T) {
	s, err := Parse(strings.NewReader(""), "empty.md")
	require.NoError(t, err)
	assert.Equal(t, 0, s.Len())

	s, err = Parse(strings.NewReader("\n\n"), "blank.md")
	require.NoError(t, err)
	assert.Equal(t, 0, s.Len())
}

func TestParse_IgnoresStrayLines(t *testing.T) {
	doc := "# Notes\n\nsome prose\n## Heading that is not a role\n\n## User\n\n```\nhello\n```\n\nmore prose\n## Assistant @ 2026-01-02 03:04:05\n```\nhi\n```\n"

	s, err := Parse(strings.NewReader(doc), "x.md")
	require.NoError(t, err)

	slices := s.Slices()
	require.Len(t, slices, 2)
	assert.Equal(t, Slice{Role: RoleUser, Content: "hello"}, slices[0])
	assert.Equal(t, Slice{Role: RoleAssistant, Content: "hi", Timestamp: "2026-01-02 03:04:05"}, slices[1])
}

func TestParse_CRLFDocument(t *testing.T) {
	doc := "+++\r\ntitle = \"win\"\r\n+++\r\n\r\n## User @ 2026-01-01 00:00:00\r\n\r\n```\r\nline one\r\n```\r\n"

	s, err := Parse(strings.NewReader(doc), "win.md")
	require.NoError(t, err)
	require.Equal(t, 1, s.Len())
	sl, _ := s.Slice(0)
	assert.Equal(t, "2026-01-01 00:00:00", sl.Timestamp)
	assert.Equal(t, "line one\r", sl.Content)
	assert.Equal(t, "win", s.Header().Title)
}

func TestParse_FormatErrors(t *testing.T) {
	tests := []struct {
		name   string
		doc    string
		line   int
		reason string
	}{
		{"missing block", "## User\n\n", 1, "no content block"},
		{"not a fence", "## User\n\nplain text\n", 3, "expected opening fence"},
		{"short fence", "## System\n``\nx\n``\n", 2, "expected opening fence"},
		{"unterminated", "## User\n```\ncontent\n", 2, "unterminated fence"},
		{"mismatched close", "## User\n````\ncontent\n```\n", 2, "unterminated fence"},
		{"unterminated front matter", "+++\ntitle = \"x\"\n", 1, "unterminated front matter"},
		{"bad front matter", "+++\ntitle = \n+++\n", 1, "invalid front matter"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Parse(strings.NewReader(tt.doc), "bad.md")
			assert.Nil(t, s)

			var dfe *DocumentFormatError
			require.True(t, errors.As(err, &dfe), "got %v", err)
			assert.Equal(t, tt.line, dfe.Line)
			assert.Contains(t, dfe.Reason, tt.reason)
			assert.Contains(t, dfe.Error(), "bad.md:")
		})
	}
}

func TestParse_FailureIsWhole(t *testing.T) {
	doc := "## User\n```\nok\n```\n## Assistant\n```\nnever closed\n"

	s, err := Parse(strings.NewReader(doc), "partial.md")
	assert.Nil(t, s)
	var dfe *DocumentFormatError
	assert.ErrorAs(t, err, &dfe)
}

func TestParse_NonStringFrontMatter(t *testing.T) {
	doc := "+++\ntitle = \"x\"\nversion = 3\n+++\n"

	s, err := Parse(strings.NewReader(doc), "x.md")
	require.NoError(t, err)
	assert.Equal(t, "3", s.Header().Extra["version"])
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.md"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestSave_RebindsPath(t *testing.T) {
	dir := t.TempDir()
	s := New(filepath.Join(dir, "a.md"))
	s.AppendSlice(RoleUser, "x")

	other := filepath.Join(dir, "b.md")
	require.NoError(t, s.Save(other))
	assert.Equal(t, other, s.Path())

	_, err := os.Stat(other)
	assert.NoError(t, err)
}

func TestSave_NoPath(t *testing.T) {
	assert.Error(t, New("").Save(""))
}
