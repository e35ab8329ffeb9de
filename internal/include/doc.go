// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package include expands include markers in slice content.
//
// A marker has the form
//
//	<!-- include: notes/context.md -->
//
// and is replaced by the recursively expanded contents of the named file.
// Relative paths resolve against the project root.
//
// The cycle guard is branch scoped: a file is rejected only while it is an
// ancestor of the marker being expanded, so the same file may be included
// from two sibling branches (a diamond) but never from inside itself.
// Cycles and unreadable targets do not fail expansion; the marker is
// replaced by a placeholder and the problem is recorded in the Result.
//
// # Usage
//
//	exp := include.NewExpander("/path/to/project")
//	res := exp.Expand(content, nil)
//	if res.HasProblems() {
//	    log.Printf("include problems: %s", res.ProblemSummary())
//	}
package include
