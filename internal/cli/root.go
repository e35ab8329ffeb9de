// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// NewRootCommand builds the command tree around a fresh app.
func NewRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "slicebook",
		Short: "Turn-structured prompt sessions with streaming completions",
		Long: `slicebook keeps a conversation as a markdown document of role-tagged
slices, expands <!-- include: path --> markers when compiling it, and streams
completions from an OpenAI-compatible backend into the newest slice.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.teardown()
		},
	}
	root.SetVersionTemplate(fmt.Sprintf("slicebook %s (%s, %s)\n", Version, GitCommit, BuildDate))

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "Config file (default ~/.slicebook/config.toml)")
	flags.StringVar(&a.logLevel, "log-level", "", "Log level (DEBUG|INFO|WARN|ERROR|OFF)")
	flags.StringVar(&a.projectRoot, "project-root", "", "Directory include paths resolve against")
	flags.BoolVar(&a.jsonOutput, "json", false, "Machine-readable JSON output")

	root.AddCommand(
		newShowCommand(a),
		newCompileCommand(a),
		newAppendCommand(a),
		newEditCommand(a),
		newTruncateCommand(a),
		newAskCommand(a),
		newChatCommand(a),
		newListCommand(a),
		newIndexCommand(a),
		newConfigCommand(a),
	)
	return root
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	root := NewRootCommand()
	cmd, err := root.ExecuteC()
	if err == nil {
		return ExitSuccess
	}

	jsonMode, _ := root.PersistentFlags().GetBool("json")
	DisplayError(os.Stderr, cmd.Name(), err, jsonMode)
	return GetExitCode(err)
}
