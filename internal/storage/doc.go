// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage keeps a catalog of the session documents under a
// directory.
//
// The session files themselves are the source of truth. The catalog is a
// SQLite index of their front matter and shape (slice count, last role,
// preview) so that listing a large sessions directory does not parse every
// document. A Watcher keeps the catalog current while a command runs.
//
// Usage:
//
//	cat, err := storage.Open(storage.DefaultConfig(dir))
//	if err != nil { ... }
//	defer cat.Close()
//	if _, err := cat.Refresh(ctx); err != nil { ... }
//	metas, err := cat.List(ctx, storage.ListOptions{Query: "release"})
package storage
