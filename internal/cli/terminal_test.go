// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTerminalDetection_NonTerminals(t *testing.T) {
	var buf bytes.Buffer
	assert.False(t, isTerminalWriter(&buf))
	assert.False(t, isTerminalReader(strings.NewReader("x")))

	f, err := os.Create(filepath.Join(t.TempDir(), "out.txt"))
	require.NoError(t, err)
	defer f.Close()
	assert.False(t, isTerminalWriter(f), "regular files are not terminals")
	assert.False(t, isTerminalReader(f))
}

func TestGetTerminalWidth_Floor(t *testing.T) {
	assert.GreaterOrEqual(t, GetTerminalWidth(), MinTerminalWidth)
}
