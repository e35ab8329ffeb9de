// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/slicebook/internal/util"
)

const (
	frontMatterDelim = "+++"
	headerPrefix     = "## "
	timestampSep     = " @ "
	minFence         = 3
)

// DocumentFormatError reports a malformed session document. Loading fails as
// a whole; no partial session is returned.
type DocumentFormatError struct {
	Path   string
	Line   int
	Reason string
	Err    error
}

func (e *DocumentFormatError) Error() string {
	loc := e.Path
	if loc == "" {
		loc = "<session>"
	}
	msg := fmt.Sprintf("%s:%d: %s", loc, e.Line, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DocumentFormatError) Unwrap() error {
	return e.Err
}

// =============================================================================
// LOADING
// =============================================================================

// Load reads and parses the session document at path.
func Load(path string, opts ...Option) (*Session, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open session: %w", err)
	}
	defer f.Close()
	return Parse(f, path, opts...)
}

// Parse decodes a session document. path is recorded as the session's path
// and used in error messages.
func Parse(r io.Reader, path string, opts ...Option) (*Session, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}

	p := &parser{path: path, lines: strings.Split(string(data), "\n")}
	s := New(path, opts...)

	header, err := p.frontMatter()
	if err != nil {
		return nil, err
	}
	s.header = header

	for p.pos < len(p.lines) {
		line := trimCR(p.lines[p.pos])
		role, ts, ok := parseHeaderLine(line)
		if !ok {
			p.pos++
			continue
		}
		headerLine := p.pos + 1
		p.pos++

		content, err := p.block(role, headerLine)
		if err != nil {
			return nil, err
		}
		s.slices = append(s.slices, Slice{Role: role, Content: content, Timestamp: ts})
	}
	return s, nil
}

type parser struct {
	path  string
	lines []string
	pos   int
}

func (p *parser) errorf(line int, err error, format string, args ...any) error {
	return &DocumentFormatError{Path: p.path, Line: line, Reason: fmt.Sprintf(format, args...), Err: err}
}

func (p *parser) frontMatter() (Header, error) {
	var h Header
	if len(p.lines) == 0 || trimCR(strings.TrimPrefix(p.lines[0], "\ufeff")) != frontMatterDelim {
		return h, nil
	}

	end := -1
	for i := 1; i < len(p.lines); i++ {
		if trimCR(p.lines[i]) == frontMatterDelim {
			end = i
			break
		}
	}
	if end < 0 {
		return h, p.errorf(1, nil, "unterminated front matter")
	}

	raw := make(map[string]any)
	bodyLines := make([]string, 0, end-1)
	for _, l := range p.lines[1:end] {
		bodyLines = append(bodyLines, trimCR(l))
	}
	body := strings.Join(bodyLines, "\n")
	if _, err := toml.Decode(body, &raw); err != nil {
		return h, p.errorf(1, err, "invalid front matter")
	}
	for k, v := range raw {
		str, ok := v.(string)
		if !ok {
			str = fmt.Sprint(v)
		}
		switch k {
		case "title":
			h.Title = str
		case "description":
			h.Description = str
		default:
			if h.Extra == nil {
				h.Extra = make(map[string]string)
			}
			h.Extra[k] = str
		}
	}
	p.pos = end + 1
	return h, nil
}

// block consumes the fenced content that must follow a role header.
func (p *parser) block(role Role, headerLine int) (string, error) {
	for p.pos < len(p.lines) && strings.TrimSpace(p.lines[p.pos]) == "" {
		p.pos++
	}
	if p.pos >= len(p.lines) {
		return "", p.errorf(headerLine, nil, "%s header has no content block", role)
	}

	fence := strings.TrimSpace(p.lines[p.pos])
	if !isFence(fence) {
		return "", p.errorf(p.pos+1, nil, "expected opening fence after %s header, found %q", role, util.TruncateRunes(fence, 40))
	}
	openLine := p.pos + 1
	p.pos++

	start := p.pos
	for ; p.pos < len(p.lines); p.pos++ {
		if trimCR(p.lines[p.pos]) == fence {
			content := strings.Join(p.lines[start:p.pos], "\n")
			p.pos++
			return content, nil
		}
	}
	return "", p.errorf(openLine, nil, "unterminated fence for %s content", role)
}

func parseHeaderLine(line string) (Role, string, bool) {
	rest, ok := strings.CutPrefix(line, headerPrefix)
	if !ok {
		return "", "", false
	}
	name, ts, _ := strings.Cut(rest, timestampSep)
	role, err := ParseRole(name)
	if err != nil {
		return "", "", false
	}
	return role, strings.TrimSpace(ts), true
}

func isFence(s string) bool {
	if len(s) < minFence {
		return false
	}
	return strings.Trim(s, "`") == ""
}

func trimCR(s string) string {
	return strings.TrimSuffix(s, "\r")
}

// =============================================================================
// SAVING
// =============================================================================

// Encode writes the session document to w. Output is deterministic.
func (s *Session) Encode(w io.Writer) error {
	s.mu.RLock()
	header := s.header.clone()
	slices := make([]Slice, len(s.slices))
	copy(slices, s.slices)
	s.mu.RUnlock()

	var buf bytes.Buffer
	if !header.IsZero() {
		if err := encodeFrontMatter(&buf, header); err != nil {
			return err
		}
	}
	for i, sl := range slices {
		if i > 0 || buf.Len() > 0 {
			buf.WriteByte('\n')
		}
		buf.WriteString(headerPrefix)
		buf.WriteString(sl.Role.String())
		if sl.Timestamp != "" {
			buf.WriteString(timestampSep)
			buf.WriteString(sl.Timestamp)
		}
		buf.WriteString("\n\n")

		fence := fenceFor(sl.Content)
		buf.WriteString(fence)
		buf.WriteByte('\n')
		buf.WriteString(sl.Content)
		buf.WriteByte('\n')
		buf.WriteString(fence)
		buf.WriteByte('\n')
	}

	_, err := w.Write(buf.Bytes())
	return err
}

// Marshal returns the encoded session document.
func (s *Session) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	if err := s.Encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Save writes the session atomically. An empty path saves to the session's
// own path; a non-empty path rebinds the session to it.
func (s *Session) Save(path string) error {
	if path == "" {
		path = s.Path()
	}
	if path == "" {
		return fmt.Errorf("session has no path")
	}

	data, err := s.Marshal()
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := util.AtomicWriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	s.mu.Lock()
	s.path = path
	s.dirty = false
	s.mu.Unlock()
	return nil
}

func encodeFrontMatter(buf *bytes.Buffer, h Header) error {
	fields := make(map[string]string, len(h.Extra)+2)
	for k, v := range h.Extra {
		fields[k] = v
	}
	if h.Title != "" {
		fields["title"] = h.Title
	}
	if h.Description != "" {
		fields["description"] = h.Description
	}

	// title and description lead; the rest follow in key order
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if k != "title" && k != "description" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range []string{"description", "title"} {
		if _, ok := fields[k]; ok {
			keys = append([]string{k}, keys...)
		}
	}

	buf.WriteString(frontMatterDelim + "\n")
	for _, k := range keys {
		var line bytes.Buffer
		if err := toml.NewEncoder(&line).Encode(map[string]string{k: fields[k]}); err != nil {
			return fmt.Errorf("failed to encode front matter: %w", err)
		}
		buf.Write(line.Bytes())
	}
	buf.WriteString(frontMatterDelim + "\n")
	return nil
}

// fenceFor returns a backtick fence longer than any backtick run in content.
func fenceFor(content string) string {
	longest, run := 0, 0
	for i := 0; i < len(content); i++ {
		if content[i] == '`' {
			run++
			if run > longest {
				longest = run
			}
		} else {
			run = 0
		}
	}
	n := longest + 1
	if n < minFence {
		n = minFence
	}
	return strings.Repeat("`", n)
}
