// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/slicebook/internal/config"
)

// secretKeys are masked when printed.
var secretKeys = map[string]bool{
	"backend.api_key": true,
}

func maskSecret(value string) string {
	if value == "" {
		return ""
	}
	if len(value) <= 8 {
		return "****"
	}
	return value[:3] + "..." + value[len(value)-4:]
}

func newConfigCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show and change configuration",
		Long: `Read and edit the TOML configuration file. Keys use section.key notation,
for example backend.model or project.sessions_dir.`,
	}
	cmd.AddCommand(
		newConfigShowCommand(a),
		newConfigGetCommand(a),
		newConfigSetCommand(a),
		newConfigPathCommand(a),
		newConfigInitCommand(a),
	)
	return cmd
}

func newConfigShowCommand(a *app) *cobra.Command {
	var reveal bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			flat := cfg.Flat()
			if !reveal {
				for k := range secretKeys {
					flat[k] = maskSecret(flat[k])
				}
			}
			if a.jsonOutput {
				return a.printJSON("config show", flat)
			}
			section := ""
			for _, key := range cfg.Keys() {
				sec, name, _ := strings.Cut(key, ".")
				if sec != section {
					if section != "" {
						fmt.Fprintln(a.out)
					}
					fmt.Fprintln(a.out, TitleStyle.Render("["+sec+"]"))
					section = sec
				}
				fmt.Fprintln(a.out, RenderLabel(name, flat[key]))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&reveal, "reveal", false, "Print secrets unmasked")
	return cmd
}

func newConfigGetCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print one configuration value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			value, err := cfg.Get(args[0])
			if err != nil {
				return NewValidationError("key", args[0], err.Error())
			}
			if a.jsonOutput {
				return a.printJSON("config get", map[string]string{"key": args[0], "value": value})
			}
			fmt.Fprintln(a.out, value)
			return nil
		},
	}
}

func newConfigSetCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "set <key> <value>",
		Short:   "Change one value in the configuration file",
		Example: "  slicebook config set backend.model gpt-4o\n  slicebook config set backend.temperature 0.2",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := a.configFile()
			if err != nil {
				return err
			}
			cfg, err := config.LoadFile(path)
			if err != nil {
				return err
			}
			key, value := args[0], args[1]
			if err := cfg.Set(key, value); err != nil {
				return NewValidationError("key", key, err.Error())
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			if err := config.SaveTo(cfg, path); err != nil {
				return err
			}

			shown := value
			if secretKeys[key] {
				shown = maskSecret(value)
			}
			if a.jsonOutput {
				return a.printJSON("config set", map[string]string{"key": key, "value": shown, "path": path})
			}
			fmt.Fprintf(a.out, "%s %s = %s\n", SuccessStyle.Render("Set"), key, shown)
			return nil
		},
	}
}

func newConfigPathCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the configuration file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := a.configFile()
			if err != nil {
				return err
			}
			_, statErr := os.Stat(path)
			exists := statErr == nil
			if a.jsonOutput {
				return a.printJSON("config path", map[string]any{"path": path, "exists": exists})
			}
			fmt.Fprintln(a.out, path)
			return nil
		},
	}
}

func newConfigInitCommand(a *app) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file with default values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := a.configFile()
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); err == nil && !force {
				return &CommandError{Command: "config init", Reason: "config file already exists at " + path + " (use --force to overwrite)"}
			} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}
			if err := config.SaveTo(config.Default(), path); err != nil {
				return err
			}
			if a.jsonOutput {
				return a.printJSON("config init", map[string]string{"path": path})
			}
			fmt.Fprintf(a.out, "%s %s\n", SuccessStyle.Render("Wrote"), path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	return cmd
}
