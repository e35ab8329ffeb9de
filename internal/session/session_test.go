// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock returns successive seconds starting at a fixed instant.
func fakeClock() func() time.Time {
	t := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func TestParseRole(t *testing.T) {
	for in, want := range map[string]Role{
		"System":     RoleSystem,
		"user":       RoleUser,
		" ASSISTANT": RoleAssistant,
	} {
		got, err := ParseRole(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	_, err := ParseRole("tool")
	assert.Error(t, err)
	assert.False(t, Role("tool").Valid())
	assert.True(t, RoleUser.Valid())
}

func TestAppendSlice(t *testing.T) {
	s := New("x.md", WithClock(fakeClock()))

	assert.Equal(t, 0, s.AppendSlice(RoleSystem, "sys"))
	assert.Equal(t, 1, s.AppendSlice(RoleUser, ""))
	assert.Equal(t, 2, s.Len())
	assert.True(t, s.IsDirty())

	last, ok := s.Last()
	require.True(t, ok)
	assert.Equal(t, RoleUser, last.Role)
	assert.Equal(t, "2026-10-14 09:00:02", last.Timestamp)
}

func TestEditSliceContent(t *testing.T) {
	s := New("x.md", WithClock(fakeClock()))
	s.AppendSlice(RoleAssistant, "")

	require.NoError(t, s.EditSliceContent(0, "Hello"))

	sl, err := s.Slice(0)
	require.NoError(t, err)
	assert.Equal(t, "Hello", sl.Content)
	assert.Equal(t, "2026-10-14 09:00:02", sl.Timestamp, "edit should refresh timestamp")

	err = s.EditSliceContent(5, "nope")
	assert.True(t, errors.Is(err, ErrIndexOutOfRange))
	err = s.EditSliceContent(-1, "nope")
	assert.True(t, errors.Is(err, ErrIndexOutOfRange))
}

func TestTruncateAfter(t *testing.T) {
	s := New("x.md")
	for _, c := range []string{"a", "b", "c", "d"} {
		s.AppendSlice(RoleUser, c)
	}
	before := s.Slices()

	require.NoError(t, s.TruncateAfter(1))
	after := s.Slices()
	require.Len(t, after, 2)
	assert.Equal(t, before[:2], after)

	require.NoError(t, s.TruncateAfter(1), "truncate at last index is a no-op")
	assert.Equal(t, 2, s.Len())

	assert.ErrorIs(t, s.TruncateAfter(2), ErrIndexOutOfRange)
	assert.ErrorIs(t, New("").TruncateAfter(0), ErrIndexOutOfRange)
}

func TestDeleteSlice(t *testing.T) {
	s := New("x.md")
	for _, c := range []string{"a", "b", "c"} {
		s.AppendSlice(RoleUser, c)
	}

	require.NoError(t, s.DeleteSlice(1))
	got := s.Slices()
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Content)
	assert.Equal(t, "c", got[1].Content)

	require.NoError(t, s.DeleteSlice(0))
	require.NoError(t, s.DeleteSlice(0))
	assert.Zero(t, s.Len())
	assert.ErrorIs(t, s.DeleteSlice(0), ErrIndexOutOfRange)
}

func TestSlices_ReturnsCopy(t *testing.T) {
	s := New("x.md")
	s.AppendSlice(RoleUser, "original")

	copied := s.Slices()
	copied[0].Content = "mutated"

	sl, _ := s.Slice(0)
	assert.Equal(t, "original", sl.Content)
}

func TestHeaderAndPipes_Copy(t *testing.T) {
	s := New("x.md")
	s.SetHeader(Header{Title: "T", Extra: map[string]string{"k": "v"}})

	h := s.Header()
	h.Extra["k"] = "changed"
	assert.Equal(t, "v", s.Header().Extra["k"])

	s.SetCommandPipeOutput("git-log", "abc123")
	pipes := s.CommandPipeOutputs()
	pipes["git-log"] = "changed"
	assert.Equal(t, "abc123", s.CommandPipeOutputs()["git-log"])
}

func TestLast_Empty(t *testing.T) {
	_, ok := New("").Last()
	assert.False(t, ok)
}

func TestSession_ConcurrentEdits(t *testing.T) {
	s := New("x.md")
	idx := s.AppendSlice(RoleAssistant, "")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = s.EditSliceContent(idx, "partial")
		}()
		go func() {
			defer wg.Done()
			_ = s.Slices()
			_, _ = s.Marshal()
		}()
	}
	wg.Wait()

	sl, err := s.Slice(idx)
	require.NoError(t, err)
	assert.Equal(t, "partial", sl.Content)
}
