// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
	}{
		{"DEBUG", DebugLevel},
		{"  debug  ", DebugLevel},
		{"info", InfoLevel},
		{"WARNING", WarnLevel},
		{"error", ErrorLevel},
		{"off", Disabled},
		{"", InfoLevel},
		{"bogus", InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseLevel(tt.input))
		})
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Init(Config{Level: WarnLevel, Output: &buf}))
	t.Cleanup(func() { _ = Init(DefaultConfig()) })

	Debug().Msg("debug message")
	Info().Msg("info message")
	Warn().Msg("warn message")
	Error().Msg("error message")

	out := buf.String()
	assert.NotContains(t, out, "debug message")
	assert.NotContains(t, out, "info message")
	assert.Contains(t, out, "warn message")
	assert.Contains(t, out, "error message")
}

func TestComponentField(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Init(Config{Level: InfoLevel, Output: &buf}))
	t.Cleanup(func() { _ = Init(DefaultConfig()) })

	log := Component("cloud")
	log.Info().Str("request_id", "r1").Msg("started")

	out := buf.String()
	assert.Contains(t, out, `"component":"cloud"`)
	assert.Contains(t, out, `"request_id":"r1"`)
}

func TestFilePathAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "slicebook.log")

	require.NoError(t, Init(Config{Level: InfoLevel, Output: &bytes.Buffer{}, FilePath: path}))
	Info().Msg("to file")
	Close()
	t.Cleanup(func() { _ = Init(DefaultConfig()) })

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to file")
}

func TestPrettyOutput(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Init(Config{Level: InfoLevel, Output: &buf, Pretty: true}))
	t.Cleanup(func() { _ = Init(DefaultConfig()) })

	Info().Msg("pretty test")
	assert.Contains(t, buf.String(), "pretty test")
}
