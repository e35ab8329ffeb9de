// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package include

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

const (
	// DefaultMaxDepth bounds recursion on deep acyclic include trees.
	DefaultMaxDepth = 32
	// DefaultMaxFileSize is the largest include target read (1 MiB).
	DefaultMaxFileSize = 1 << 20
)

var markerPattern = regexp.MustCompile(`<!--\s*include:\s*(.*?)\s*-->`)

// =============================================================================
// EXPANDER
// =============================================================================

// Expander rewrites include markers into file contents.
type Expander struct {
	// Root is the directory relative marker paths resolve against.
	Root string
	// MaxDepth limits nesting. Zero means DefaultMaxDepth.
	MaxDepth int
	// MaxFileSize limits the size of a single target. Zero means
	// DefaultMaxFileSize.
	MaxFileSize int64
	// Cache, when set, serves unchanged files without re-reading them.
	Cache *FileCache
}

// NewExpander creates an expander rooted at root with a file cache.
func NewExpander(root string) *Expander {
	return &Expander{
		Root:  root,
		Cache: NewFileCache(DefaultCacheEntries),
	}
}

// Expand replaces every marker in content. A nil visited set is treated as
// empty. visited holds canonical paths of the files currently being expanded
// and is returned to its original state.
func Expand(content, projectRoot string, visited map[string]bool) *Result {
	e := &Expander{Root: projectRoot}
	return e.Expand(content, visited)
}

// Expand replaces every marker in content using the expander's settings.
func (e *Expander) Expand(content string, visited map[string]bool) *Result {
	if visited == nil {
		visited = make(map[string]bool)
	}
	res := &Result{}
	seen := make(map[string]bool)
	res.Text = e.expand(content, visited, 0, res, seen)
	return res
}

func (e *Expander) maxDepth() int {
	if e.MaxDepth > 0 {
		return e.MaxDepth
	}
	return DefaultMaxDepth
}

func (e *Expander) maxFileSize() int64 {
	if e.MaxFileSize > 0 {
		return e.MaxFileSize
	}
	return DefaultMaxFileSize
}

func (e *Expander) expand(content string, visited map[string]bool, depth int, res *Result, seen map[string]bool) string {
	matches := markerPattern.FindAllStringSubmatchIndex(content, -1)
	if len(matches) == 0 {
		return content
	}

	var sb strings.Builder
	last := 0
	for _, m := range matches {
		sb.WriteString(content[last:m[0]])
		last = m[1]

		target := unquote(content[m[2]:m[3]])
		sb.WriteString(e.substitute(target, visited, depth, res, seen))
	}
	sb.WriteString(content[last:])
	return sb.String()
}

// substitute returns the replacement text for one marker.
func (e *Expander) substitute(target string, visited map[string]bool, depth int, res *Result, seen map[string]bool) string {
	if target == "" {
		err := &ResolutionError{Target: target, Err: errors.New("empty include path")}
		res.Problems = append(res.Problems, err)
		return errorPlaceholder(target, err.Err)
	}

	readPath, key := e.resolve(target)

	if visited[key] {
		res.Problems = append(res.Problems, &CycleError{Target: target, Path: key})
		return cyclePlaceholder(target)
	}
	if depth >= e.maxDepth() {
		err := &ResolutionError{Target: target, Path: key, Err: ErrTooDeep}
		res.Problems = append(res.Problems, err)
		return errorPlaceholder(target, err.Err)
	}

	text, err := e.read(readPath)
	if err != nil {
		res.Problems = append(res.Problems, &ResolutionError{Target: target, Path: key, Err: err})
		return errorPlaceholder(target, err)
	}

	if !seen[key] {
		seen[key] = true
		res.Included = append(res.Included, key)
	}

	visited[key] = true
	expanded := e.expand(text, visited, depth+1, res, seen)
	delete(visited, key)
	return expanded
}

// resolve returns the path to read and the identity key for target.
func (e *Expander) resolve(target string) (string, string) {
	p := target
	if !filepath.IsAbs(p) {
		p = filepath.Join(e.Root, p)
	}
	if abs, err := filepath.Abs(p); err == nil {
		p = abs
	}
	p = filepath.Clean(p)
	if resolved, err := filepath.EvalSymlinks(p); err == nil {
		p = resolved
	}
	return p, CanonicalKey(p)
}

// CanonicalKey normalises an absolute path to the form used for identity.
func CanonicalKey(path string) string {
	return norm.NFC.String(filepath.Clean(path))
}

func (e *Expander) read(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("file not found: %w", err)
		}
		return "", err
	}
	if info.IsDir() {
		return "", ErrIsDirectory
	}
	if info.Size() > e.maxFileSize() {
		return "", fmt.Errorf("%w: %d bytes", ErrTooLarge, info.Size())
	}

	if e.Cache != nil {
		if content, ok := e.Cache.Get(path, info.ModTime(), info.Size()); ok {
			return content, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	content := string(data)
	if e.Cache != nil {
		e.Cache.Put(path, content, info.ModTime(), info.Size())
	}
	return content, nil
}

func unquote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return strings.TrimSpace(s[1 : len(s)-1])
		}
	}
	return s
}

// Markers returns the target of every include marker in content, in order.
func Markers(content string) []string {
	matches := markerPattern.FindAllStringSubmatch(content, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, unquote(m[1]))
	}
	return out
}
