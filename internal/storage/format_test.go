// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"strings"
	"testing"
	"time"
)

func TestFormatSessionList(t *testing.T) {
	if got := FormatSessionList(nil, 80); got != "No sessions found.\n" {
		t.Errorf("empty list = %q", got)
	}

	metas := []SessionMeta{
		{Path: "release.md", Title: "Release notes", SliceCount: 3, ModTime: time.Now()},
		{Path: "notes/untitled.md", Preview: "what is the plan", SliceCount: 1, ModTime: time.Now().Add(-3 * time.Hour)},
		{Path: "bad.md", ParseError: "bad.md:3: unterminated fence", ModTime: time.Now().Add(-72 * time.Hour)},
	}
	out := FormatSessionList(metas, 90)
	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d lines:\n%s", len(lines), out)
	}
	if !strings.HasPrefix(lines[0], "PATH") {
		t.Errorf("header = %q", lines[0])
	}

	checks := []struct {
		line int
		want []string
	}{
		{1, []string{"release.md", "Release notes", "3", "just now"}},
		{2, []string{"notes/untitled.md", "what is the plan", "3h ago"}},
		{3, []string{"bad.md", "(invalid)", "3d ago"}},
	}
	for _, c := range checks {
		for _, w := range c.want {
			if !strings.Contains(lines[c.line], w) {
				t.Errorf("line %d %q missing %q", c.line, lines[c.line], w)
			}
		}
	}

	// columns line up
	col := strings.Index(lines[0], "TITLE")
	if strings.Index(lines[1], "Release notes") != col {
		t.Errorf("title column misaligned:\n%s", out)
	}
}

func TestFormatAge(t *testing.T) {
	tests := map[time.Duration]string{
		10 * time.Second: "just now",
		5 * time.Minute:  "5m ago",
		2 * time.Hour:    "2h ago",
		50 * time.Hour:   "2d ago",
	}
	for d, want := range tests {
		if got := FormatAge(d); got != want {
			t.Errorf("FormatAge(%v) = %q, want %q", d, got, want)
		}
	}
}
