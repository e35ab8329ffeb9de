// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package backend defines the contract between a session and a language
// model backend.
//
// A Capability starts cancelable requests identified by id and reports their
// progress as Events delivered to a Handler. Events for one id arrive in
// order: StatusChanged(started) first, then any PartialResponse events, then
// exactly one terminal outcome (Finished followed by StatusChanged(completed),
// ErrorOccurred followed by StatusChanged(error), or StatusChanged(cancelled)).
//
// # Key Types
//
//   - Capability: start/cancel requests, expose the backend config store
//   - Config: mutex-guarded flat key/value settings
//   - Params: per-request overrides that never persist in Config
//   - Event, Handler: asynchronous progress notifications
//   - Recorder: thread-safe Handler that collects events
package backend
