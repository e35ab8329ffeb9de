// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// TimestampLayout is the layout of Slice.Timestamp.
const TimestampLayout = "2006-01-02 15:04:05"

// ErrIndexOutOfRange is returned for a slice index outside the session.
var ErrIndexOutOfRange = errors.New("slice index out of range")

// =============================================================================
// SLICE
// =============================================================================

// Slice is one role-tagged block of raw markdown.
type Slice struct {
	Role      Role
	Content   string
	Timestamp string
}

// =============================================================================
// HEADER
// =============================================================================

// Header is the document's front matter.
type Header struct {
	Title       string
	Description string
	Extra       map[string]string
}

// IsZero reports whether the header carries no metadata.
func (h Header) IsZero() bool {
	return h.Title == "" && h.Description == "" && len(h.Extra) == 0
}

func (h Header) clone() Header {
	out := Header{Title: h.Title, Description: h.Description}
	if len(h.Extra) > 0 {
		out.Extra = make(map[string]string, len(h.Extra))
		for k, v := range h.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// =============================================================================
// SESSION
// =============================================================================

// Session is an ordered slice list bound to a document path.
// It is safe for concurrent use.
type Session struct {
	mu sync.RWMutex

	path    string
	slices  []Slice
	header  Header
	pipes   map[string]string
	dirty   bool
	nowFunc func() time.Time
}

// Option configures a Session.
type Option func(*Session)

// WithClock sets the clock used for slice timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		if now != nil {
			s.nowFunc = now
		}
	}
}

// New creates an empty session bound to path. Nothing is written until Save.
func New(path string, opts ...Option) *Session {
	s := &Session{
		path:    path,
		pipes:   make(map[string]string),
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) timestamp() string {
	return s.nowFunc().Format(TimestampLayout)
}

// Path returns the document path the session is bound to.
func (s *Session) Path() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.path
}

// Len returns the number of slices.
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.slices)
}

// Slices returns a copy of the slice list.
func (s *Session) Slices() []Slice {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Slice, len(s.slices))
	copy(out, s.slices)
	return out
}

// Slice returns the slice at index.
func (s *Session) Slice(index int) (Slice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if index < 0 || index >= len(s.slices) {
		return Slice{}, fmt.Errorf("%w: %d (len %d)", ErrIndexOutOfRange, index, len(s.slices))
	}
	return s.slices[index], nil
}

// Last returns the newest slice, or false for an empty session.
func (s *Session) Last() (Slice, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.slices) == 0 {
		return Slice{}, false
	}
	return s.slices[len(s.slices)-1], true
}

// AppendSlice appends a slice stamped with the current time and returns its
// index. Content is stored as given.
func (s *Session) AppendSlice(role Role, content string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slices = append(s.slices, Slice{Role: role, Content: content, Timestamp: s.timestamp()})
	s.dirty = true
	return len(s.slices) - 1
}

// EditSliceContent replaces the content of the slice at index and refreshes
// its timestamp.
func (s *Session) EditSliceContent(index int, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.slices) {
		return fmt.Errorf("%w: %d (len %d)", ErrIndexOutOfRange, index, len(s.slices))
	}
	s.slices[index].Content = content
	s.slices[index].Timestamp = s.timestamp()
	s.dirty = true
	return nil
}

// TruncateAfter keeps slices [0, index] and discards the rest.
func (s *Session) TruncateAfter(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.slices) {
		return fmt.Errorf("%w: %d (len %d)", ErrIndexOutOfRange, index, len(s.slices))
	}
	if index == len(s.slices)-1 {
		return nil
	}
	clear(s.slices[index+1:])
	s.slices = s.slices[:index+1]
	s.dirty = true
	return nil
}

// DeleteSlice removes the slice at index; later slices shift down.
func (s *Session) DeleteSlice(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.slices) {
		return fmt.Errorf("%w: %d (len %d)", ErrIndexOutOfRange, index, len(s.slices))
	}
	s.slices = append(s.slices[:index], s.slices[index+1:]...)
	s.dirty = true
	return nil
}

// Header returns a copy of the header metadata.
func (s *Session) Header() Header {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.header.clone()
}

// SetHeader replaces the header metadata.
func (s *Session) SetHeader(h Header) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.header = h.clone()
	s.dirty = true
}

// SetCommandPipeOutput records the captured output of a named command pipe.
// Pipe outputs live in memory only.
func (s *Session) SetCommandPipeOutput(name, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pipes[name] = text
}

// CommandPipeOutputs returns a copy of the captured command pipe outputs.
func (s *Session) CommandPipeOutputs() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.pipes))
	for k, v := range s.pipes {
		out[k] = v
	}
	return out
}

// IsDirty reports whether the session changed since it was loaded or saved.
func (s *Session) IsDirty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dirty
}
