// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/slicebook/internal/logging"
	"github.com/jeranaias/slicebook/internal/session"
	"github.com/jeranaias/slicebook/internal/util"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	ErrSessionNotFound = errors.New("session not found in catalog")
	ErrInvalidPath     = errors.New("invalid path")
	ErrOutsideRoot     = errors.New("path is outside the catalog root")
)

// previewLength is the rune limit for stored previews.
const previewLength = 80

// =============================================================================
// CONFIG
// =============================================================================

// Config holds catalog configuration.
type Config struct {
	// Root is the sessions directory.
	Root string

	// DatabasePath is the SQLite file. ":memory:" keeps the catalog in memory.
	DatabasePath string

	// Extension selects session documents.
	Extension string

	// MaxFileSize skips larger documents (bytes).
	MaxFileSize int64

	// IgnoreDirs are directory names never descended into.
	IgnoreDirs []string

	// WatchDebounce is the quiet period before a changed file is re-indexed.
	WatchDebounce time.Duration
}

// DefaultConfig returns the configuration for a sessions directory, with
// the database inside it.
func DefaultConfig(root string) Config {
	return Config{
		Root:          root,
		DatabasePath:  filepath.Join(root, ".slicebook", "catalog.db"),
		Extension:     ".md",
		MaxFileSize:   10 * 1024 * 1024,
		IgnoreDirs:    []string{".git", ".svn", ".hg", ".slicebook", "node_modules", "vendor"},
		WatchDebounce: 500 * time.Millisecond,
	}
}

// =============================================================================
// CATALOG
// =============================================================================

// SessionMeta is one catalog row.
type SessionMeta struct {
	// Path is relative to the catalog root, slash separated.
	Path          string
	Title         string
	Description   string
	SliceCount    int
	LastRole      string
	LastTimestamp string
	Preview       string
	ModTime       time.Time
	Size          int64
	IndexedAt     time.Time
	// ParseError is set when the document could not be loaded.
	ParseError string
}

// Valid reports whether the document parsed.
func (m SessionMeta) Valid() bool {
	return m.ParseError == ""
}

// DisplayTitle returns the title, or the file name when there is none.
func (m SessionMeta) DisplayTitle() string {
	if m.Title != "" {
		return m.Title
	}
	return strings.TrimSuffix(filepath.Base(filepath.FromSlash(m.Path)), filepath.Ext(m.Path))
}

// RefreshStats reports what a Refresh did.
type RefreshStats struct {
	Scanned   int
	Indexed   int
	Unchanged int
	Removed   int
	Invalid   int
	Duration  time.Duration
}

// Catalog indexes session documents under a root directory.
type Catalog struct {
	db     *sql.DB
	root   string
	config Config
	log    zerolog.Logger

	// refreshMu serializes full refreshes.
	refreshMu sync.Mutex
}

// Open opens or creates the catalog database.
func Open(cfg Config) (*Catalog, error) {
	if cfg.Extension == "" {
		cfg.Extension = ".md"
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrInvalidPath, root)
	}

	if cfg.DatabasePath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	c := &Catalog{
		db:     db,
		root:   root,
		config: cfg,
		log:    logging.Component("catalog"),
	}
	if err := c.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return c, nil
}

func (c *Catalog) initSchema() error {
	if _, err := c.db.Exec(Schema); err != nil {
		return err
	}
	if _, err := c.db.Exec(InitMetadata); err != nil {
		return err
	}
	_, err := c.db.Exec("UPDATE metadata SET value = ? WHERE key = 'root_path'", c.root)
	return err
}

// Root returns the absolute catalog root.
func (c *Catalog) Root() string {
	return c.root
}

// Close closes the database.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// =============================================================================
// INDEXING
// =============================================================================

// Refresh walks the root, re-indexes documents whose size or modification
// time changed and drops rows for documents that no longer exist.
func (c *Catalog) Refresh(ctx context.Context) (RefreshStats, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	start := time.Now()
	var stats RefreshStats

	known, err := c.fileStates(ctx)
	if err != nil {
		return stats, err
	}
	seen := make(map[string]bool)

	err = filepath.WalkDir(c.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable entries
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if path != c.root && c.ignoreDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !c.wants(path) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}

		rel, _ := c.rel(path)
		seen[rel] = true
		stats.Scanned++

		if st, ok := known[rel]; ok && st.modTime == info.ModTime().UnixNano() && st.size == info.Size() {
			stats.Unchanged++
			return nil
		}
		if info.Size() > c.config.MaxFileSize && c.config.MaxFileSize > 0 {
			return nil
		}
		meta, err := c.indexPath(ctx, path, info)
		if err != nil {
			return err
		}
		stats.Indexed++
		if !meta.Valid() {
			stats.Invalid++
		}
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("failed to scan %s: %w", c.root, err)
	}

	for rel := range known {
		if seen[rel] {
			continue
		}
		if _, err := c.db.ExecContext(ctx, "DELETE FROM sessions WHERE path = ?", rel); err != nil {
			return stats, fmt.Errorf("failed to remove %s: %w", rel, err)
		}
		stats.Removed++
	}

	stats.Duration = time.Since(start)
	c.log.Debug().
		Int("scanned", stats.Scanned).
		Int("indexed", stats.Indexed).
		Int("removed", stats.Removed).
		Dur("elapsed", stats.Duration).
		Msg("catalog refreshed")
	return stats, nil
}

type fileState struct {
	modTime int64
	size    int64
}

func (c *Catalog) fileStates(ctx context.Context) (map[string]fileState, error) {
	rows, err := c.db.QueryContext(ctx, "SELECT path, mod_time, size FROM sessions")
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	defer rows.Close()

	out := make(map[string]fileState)
	for rows.Next() {
		var path string
		var st fileState
		if err := rows.Scan(&path, &st.modTime, &st.size); err != nil {
			return nil, err
		}
		out[path] = st
	}
	return out, rows.Err()
}

// IndexFile indexes one document immediately, or removes it from the
// catalog when it no longer exists.
func (c *Catalog) IndexFile(ctx context.Context, path string) (SessionMeta, error) {
	abs, err := c.abs(path)
	if err != nil {
		return SessionMeta{}, err
	}
	info, err := os.Stat(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return SessionMeta{}, c.Remove(ctx, abs)
	}
	if err != nil {
		return SessionMeta{}, err
	}
	if info.IsDir() {
		return SessionMeta{}, fmt.Errorf("%w: %s is a directory", ErrInvalidPath, path)
	}
	return c.indexPath(ctx, abs, info)
}

func (c *Catalog) indexPath(ctx context.Context, abs string, info fs.FileInfo) (SessionMeta, error) {
	rel, err := c.rel(abs)
	if err != nil {
		return SessionMeta{}, err
	}
	meta := SessionMeta{
		Path:      rel,
		ModTime:   info.ModTime(),
		Size:      info.Size(),
		IndexedAt: time.Now(),
	}

	sess, err := session.Load(abs)
	if err != nil {
		meta.ParseError = util.OneLine(err.Error())
		c.log.Debug().Str("path", rel).Err(err).Msg("session document invalid")
	} else {
		describe(&meta, sess)
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO sessions (path, title, description, slice_count, last_role, last_timestamp,
			preview, mod_time, size, indexed_at, parse_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			slice_count = excluded.slice_count,
			last_role = excluded.last_role,
			last_timestamp = excluded.last_timestamp,
			preview = excluded.preview,
			mod_time = excluded.mod_time,
			size = excluded.size,
			indexed_at = excluded.indexed_at,
			parse_error = excluded.parse_error`,
		meta.Path, meta.Title, meta.Description, meta.SliceCount, meta.LastRole, meta.LastTimestamp,
		meta.Preview, meta.ModTime.UnixNano(), meta.Size, meta.IndexedAt.UnixNano(), meta.ParseError)
	if err != nil {
		return SessionMeta{}, fmt.Errorf("failed to index %s: %w", rel, err)
	}
	return meta, nil
}

// describe fills the summary columns from a loaded session.
func describe(meta *SessionMeta, sess *session.Session) {
	h := sess.Header()
	meta.Title = h.Title
	meta.Description = h.Description

	slices := sess.Slices()
	meta.SliceCount = len(slices)
	if len(slices) > 0 {
		last := slices[len(slices)-1]
		meta.LastRole = last.Role.String()
		meta.LastTimestamp = last.Timestamp
	}
	for _, sl := range slices {
		if sl.Role == session.RoleUser && strings.TrimSpace(sl.Content) != "" {
			meta.Preview = util.TruncateRunes(util.OneLine(sl.Content), previewLength)
			break
		}
	}
}

// Remove drops a document from the catalog. Unknown paths are ignored.
func (c *Catalog) Remove(ctx context.Context, path string) error {
	rel, err := c.rel(path)
	if err != nil {
		return err
	}
	if _, err := c.db.ExecContext(ctx, "DELETE FROM sessions WHERE path = ?", rel); err != nil {
		return fmt.Errorf("failed to remove %s: %w", rel, err)
	}
	return nil
}

// =============================================================================
// QUERIES
// =============================================================================

// ListOptions filters List.
type ListOptions struct {
	// Query matches title, description, preview or path, case-insensitively.
	Query string
	// Limit caps the result count; zero means no limit.
	Limit int
	// IncludeInvalid includes documents that failed to parse.
	IncludeInvalid bool
}

const selectColumns = `SELECT path, title, description, slice_count, last_role, last_timestamp,
	preview, mod_time, size, indexed_at, parse_error FROM sessions`

// List returns catalog rows, most recently modified first.
func (c *Catalog) List(ctx context.Context, opts ListOptions) ([]SessionMeta, error) {
	var (
		where []string
		args  []any
	)
	if !opts.IncludeInvalid {
		where = append(where, "parse_error = ''")
	}
	if q := strings.TrimSpace(opts.Query); q != "" {
		like := "%" + escapeLike(strings.ToLower(q)) + "%"
		where = append(where, `(lower(title) LIKE ? ESCAPE '\' OR lower(description) LIKE ? ESCAPE '\'
			OR lower(preview) LIKE ? ESCAPE '\' OR lower(path) LIKE ? ESCAPE '\')`)
		args = append(args, like, like, like, like)
	}

	query := selectColumns
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY mod_time DESC, path ASC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionMeta
	for rows.Next() {
		m, err := scanMeta(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Get returns the row for path.
func (c *Catalog) Get(ctx context.Context, path string) (SessionMeta, error) {
	rel, err := c.rel(path)
	if err != nil {
		return SessionMeta{}, err
	}
	m, err := scanMeta(c.db.QueryRowContext(ctx, selectColumns+" WHERE path = ?", rel))
	if errors.Is(err, sql.ErrNoRows) {
		return SessionMeta{}, fmt.Errorf("%w: %s", ErrSessionNotFound, rel)
	}
	return m, err
}

// Count returns the number of valid documents in the catalog.
func (c *Catalog) Count(ctx context.Context) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sessions WHERE parse_error = ''").Scan(&n)
	return n, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMeta(row scanner) (SessionMeta, error) {
	var (
		m                  SessionMeta
		modTime, indexedAt int64
	)
	err := row.Scan(&m.Path, &m.Title, &m.Description, &m.SliceCount, &m.LastRole, &m.LastTimestamp,
		&m.Preview, &modTime, &m.Size, &indexedAt, &m.ParseError)
	if err != nil {
		return SessionMeta{}, err
	}
	m.ModTime = time.Unix(0, modTime)
	m.IndexedAt = time.Unix(0, indexedAt)
	return m, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// =============================================================================
// PATHS
// =============================================================================

func (c *Catalog) wants(path string) bool {
	return strings.EqualFold(filepath.Ext(path), c.config.Extension)
}

func (c *Catalog) ignoreDir(name string) bool {
	for _, d := range c.config.IgnoreDirs {
		if name == d {
			return true
		}
	}
	return false
}

// abs resolves path against the root.
func (c *Catalog) abs(path string) (string, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(c.root, filepath.FromSlash(path))
	}
	return filepath.Clean(path), nil
}

// rel returns the catalog key for path.
func (c *Catalog) rel(path string) (string, error) {
	abs, _ := c.abs(path)
	rel, err := filepath.Rel(c.root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, path)
	}
	return filepath.ToSlash(rel), nil
}
