// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/glamour"
)

var (
	rendererMu sync.Mutex
	renderers  = make(map[int]*glamour.TermRenderer)
)

// markdownRenderer returns a cached renderer wrapping at width.
func markdownRenderer(width int) *glamour.TermRenderer {
	rendererMu.Lock()
	defer rendererMu.Unlock()

	if r, ok := renderers[width]; ok {
		return r
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		r = nil
	}
	renderers[width] = r
	return r
}

// renderMarkdown renders markdown for terminal display. The original content
// is returned if rendering fails.
func renderMarkdown(content string, width int) string {
	r := markdownRenderer(width)
	if r == nil {
		return content
	}
	rendered, err := r.Render(content)
	if err != nil {
		return content
	}
	return rendered
}

// displayMarkdown writes content to w, rendered when w is a terminal and
// render is set. Piped output is never rendered.
func displayMarkdown(w io.Writer, content string, render bool) {
	if render && isTerminalWriter(w) {
		fmt.Fprint(w, renderMarkdown(content, GetTerminalWidth()-2))
		return
	}
	fmt.Fprint(w, content)
	if content != "" && content[len(content)-1] != '\n' {
		fmt.Fprintln(w)
	}
}
