// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"

	"github.com/jeranaias/slicebook/internal/util"
)

// FormatSessionList renders metas as aligned columns for a terminal of the
// given width.
func FormatSessionList(metas []SessionMeta, width int) string {
	if len(metas) == 0 {
		return "No sessions found.\n"
	}
	if width <= 0 {
		width = 100
	}

	pathWidth := 4
	for _, m := range metas {
		if w := runewidth.StringWidth(m.Path); w > pathWidth {
			pathWidth = w
		}
	}
	pathWidth = min(pathWidth, 40)
	const (
		sliceWidth = 6
		ageWidth   = 10
	)
	titleWidth := max(width-pathWidth-sliceWidth-ageWidth-6, 10)

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s  %s  %s  %s\n",
		util.PadRight("PATH", pathWidth),
		util.PadRight("TITLE", titleWidth),
		util.PadRight("SLICES", sliceWidth),
		"UPDATED")
	for _, m := range metas {
		title := m.DisplayTitle()
		if !m.Valid() {
			title = "(invalid) " + m.ParseError
		} else if m.Preview != "" && m.Title == "" {
			title = m.Preview
		}
		fmt.Fprintf(&sb, "%s  %s  %s  %s\n",
			util.PadRight(util.TruncateWidth(m.Path, pathWidth), pathWidth),
			util.PadRight(util.TruncateWidth(title, titleWidth), titleWidth),
			util.PadRight(fmt.Sprint(m.SliceCount), sliceWidth),
			FormatAge(time.Since(m.ModTime)))
	}
	return sb.String()
}

// FormatAge renders a duration as a short relative age.
func FormatAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
