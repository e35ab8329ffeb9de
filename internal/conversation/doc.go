// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package conversation drives one turn at a time through a session.
//
// A turn appends the user's text as a User slice, compiles the session into
// backend messages, appends an empty Assistant slice and starts a request.
// Partial output is written into that slice as it arrives and persisted at a
// bounded rate; the finished text replaces it and the session is saved.
//
// Usage:
//
//	var runner *conversation.Runner
//	eng := cloud.New(cfg, func(ev backend.Event) { runner.Handle(ev) })
//	runner = conversation.NewRunner(sess, eng)
//	if _, err := runner.Send("What changed?", nil); err != nil { ... }
//	result, err := runner.Wait(ctx)
package conversation
