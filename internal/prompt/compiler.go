// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package prompt compiles a session into what the backend and the reader see:
// include markers expanded, roles mapped, slices joined.
package prompt

import (
	"path/filepath"
	"strings"

	"github.com/jeranaias/slicebook/internal/backend"
	"github.com/jeranaias/slicebook/internal/include"
	"github.com/jeranaias/slicebook/internal/session"
)

// sliceSeparator divides slices in a compiled document.
const sliceSeparator = "\n\n---\n\n"

// Compiler turns sessions into expanded slices, documents and messages.
type Compiler struct {
	// Expander resolves include markers. When nil, each session gets an
	// uncached expander rooted at the session file's directory.
	Expander *include.Expander
}

// NewCompiler creates a compiler using exp.
func NewCompiler(exp *include.Expander) *Compiler {
	return &Compiler{Expander: exp}
}

func (c *Compiler) expanderFor(s *session.Session) *include.Expander {
	if c.Expander != nil {
		return c.Expander
	}
	root := "."
	if p := s.Path(); p != "" {
		root = filepath.Dir(p)
	}
	return &include.Expander{Root: root}
}

// ExpandedSlices returns a copy of the session's slices with every include
// marker expanded. Each slice starts with an empty visited set. Command pipe
// tokens pass through untouched. The returned problems come from all slices.
func (c *Compiler) ExpandedSlices(s *session.Session) ([]session.Slice, []error) {
	exp := c.expanderFor(s)
	slices := s.Slices()

	var problems []error
	for i := range slices {
		res := exp.Expand(slices[i].Content, nil)
		slices[i].Content = res.Text
		problems = append(problems, res.Problems...)
	}
	return slices, problems
}

// CompileDocument joins the expanded slices with role headings, for
// presentation and export.
func (c *Compiler) CompileDocument(s *session.Session) string {
	slices, _ := c.ExpandedSlices(s)
	return FormatDocument(slices)
}

// FormatDocument renders slices as a single markdown document.
func FormatDocument(slices []session.Slice) string {
	var sb strings.Builder
	for i, sl := range slices {
		if i > 0 {
			sb.WriteString(sliceSeparator)
		}
		sb.WriteString("## ")
		sb.WriteString(sl.Role.String())
		sb.WriteString("\n\n")
		sb.WriteString(sl.Content)
	}
	return sb.String()
}

// Messages returns the expanded slices as backend messages, in order.
func (c *Compiler) Messages(s *session.Session) []backend.Message {
	slices, _ := c.ExpandedSlices(s)
	return ToMessages(slices)
}

// ToMessages maps slices to backend messages, one per slice, in order.
func ToMessages(slices []session.Slice) []backend.Message {
	out := make([]backend.Message, len(slices))
	for i, sl := range slices {
		out[i] = backend.Message{Role: MapRole(sl.Role), Content: sl.Content}
	}
	return out
}

// MapRole maps a slice role to its backend counterpart.
func MapRole(r session.Role) backend.Role {
	switch r {
	case session.RoleSystem:
		return backend.RoleSystem
	case session.RoleUser:
		return backend.RoleUser
	case session.RoleAssistant:
		return backend.RoleAssistant
	default:
		return backend.RoleUnknown
	}
}
