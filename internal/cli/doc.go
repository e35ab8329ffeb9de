// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the slicebook command line.
//
// # Commands
//
//   - show:     print the slices of a session document
//   - compile:  print the session with includes expanded, or its messages
//   - append:   add a slice
//   - edit:     replace a slice's content
//   - truncate: drop every slice after an index
//   - ask:      run one turn against the configured backend
//   - chat:     interactive turns with line editing and history
//   - list:     list the sessions under a directory
//   - index:    refresh, or watch, the session catalog
//   - config:   inspect and change the configuration file
//
// Command handlers return errors; Execute displays them and maps them to an
// exit code (see errors.go).
package cli
