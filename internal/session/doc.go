// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session is the slice store: an ordered list of role-tagged slices
// persisted as a markdown document.
//
// A session only ever grows by appending, edits a slice in place, or is
// truncated to a prefix. Array order is the only ordering; slice timestamps
// are informational.
//
// # Key Types
//
//   - Session: the slice list with header metadata and command pipe outputs
//   - Slice: one role-tagged block of raw markdown
//   - Role: System, User or Assistant
//   - DocumentFormatError: a load failure with the offending line
//
// # Document Format
//
//	+++
//	title = "Refactor plan"
//	+++
//
//	## System @ 2026-10-14 09:12:55
//
//	```
//	You are a careful reviewer.
//	```
//
// Each record is a "## <Role>" header followed by a fenced block. The fence
// is made longer than any backtick run in the content, so content is
// reproduced byte for byte.
//
// # Usage
//
//	s, err := session.Load("plan.md")
//	if err != nil {
//	    return err
//	}
//	s.AppendSlice(session.RoleUser, "Summarise the plan.")
//	err = s.Save("")
package session
