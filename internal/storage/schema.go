// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

// SchemaVersion tracks the catalog schema version.
const SchemaVersion = 1

// Schema creates the catalog tables.
const Schema = `
CREATE TABLE IF NOT EXISTS metadata (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
) WITHOUT ROWID;

-- One row per session document, keyed by slash-separated path relative to root.
CREATE TABLE IF NOT EXISTS sessions (
    path TEXT PRIMARY KEY,
    title TEXT NOT NULL DEFAULT '',
    description TEXT NOT NULL DEFAULT '',
    slice_count INTEGER NOT NULL DEFAULT 0,
    last_role TEXT NOT NULL DEFAULT '',
    last_timestamp TEXT NOT NULL DEFAULT '',
    preview TEXT NOT NULL DEFAULT '',
    mod_time INTEGER NOT NULL,  -- Unix nanoseconds
    size INTEGER NOT NULL,
    indexed_at INTEGER NOT NULL, -- Unix nanoseconds
    parse_error TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_sessions_mod_time ON sessions(mod_time);
`

// InitMetadata seeds the metadata table.
const InitMetadata = `
INSERT OR IGNORE INTO metadata (key, value) VALUES ('schema_version', '1');
INSERT OR IGNORE INTO metadata (key, value) VALUES ('created_at', strftime('%s', 'now'));
INSERT OR IGNORE INTO metadata (key, value) VALUES ('root_path', '');
`
