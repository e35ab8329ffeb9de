// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// slicebook keeps LLM conversations as markdown session documents and
// streams completions into them.
package main

import (
	"os"

	"github.com/jeranaias/slicebook/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
