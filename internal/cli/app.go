// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/slicebook/internal/backend"
	"github.com/jeranaias/slicebook/internal/cloud"
	"github.com/jeranaias/slicebook/internal/config"
	"github.com/jeranaias/slicebook/internal/include"
	"github.com/jeranaias/slicebook/internal/logging"
	"github.com/jeranaias/slicebook/internal/prompt"
	"github.com/jeranaias/slicebook/internal/session"
)

// app carries the state shared by every command of one invocation.
type app struct {
	// flags
	configPath  string
	logLevel    string
	projectRoot string
	jsonOutput  bool

	cfg *config.Config
	out io.Writer
	err io.Writer
	in  io.Reader
}

// setup loads configuration and initializes logging.
func (a *app) setup(cmd *cobra.Command) error {
	a.out = cmd.OutOrStdout()
	a.err = cmd.ErrOrStderr()
	a.in = cmd.InOrStdin()

	// config subcommands must work even when the file does not validate
	if isConfigCommand(cmd) {
		return nil
	}
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	a.cfg = cfg

	logCfg := logging.DefaultConfig()
	logCfg.Output = a.err
	logCfg.Level = logging.ParseLevel(cfg.Logging.Level)
	if a.logLevel != "" {
		logCfg.Level = logging.ParseLevel(a.logLevel)
	}
	logCfg.Pretty = cfg.Logging.Pretty
	logCfg.FilePath = cfg.Logging.File
	if err := logging.Init(logCfg); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	if a.projectRoot != "" {
		a.cfg.Project.Root = a.projectRoot
	}
	return nil
}

func (a *app) teardown() error {
	logging.Close()
	return nil
}

func isConfigCommand(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Name() == "config" && c.Parent() != nil && c.Parent().Parent() == nil {
			return true
		}
	}
	return false
}

// loadConfig loads --config when given, otherwise the default file.
func (a *app) loadConfig() (*config.Config, error) {
	if a.configPath != "" {
		return config.LoadFromPath(a.configPath)
	}
	return config.Load()
}

// configFile returns the path config writes go to.
func (a *app) configFile() (string, error) {
	if a.configPath != "" {
		return a.configPath, nil
	}
	return config.ConfigPath()
}

// =============================================================================
// SESSION HELPERS
// =============================================================================

// openSession loads the document at path. When create is set a missing file
// yields an empty session bound to path.
func (a *app) openSession(path string, create bool) (*session.Session, error) {
	s, err := session.Load(path)
	if err == nil {
		return s, nil
	}
	if create && errors.Is(err, fs.ErrNotExist) {
		return session.New(path), nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &NotFoundError{Resource: "session", ID: path}
	}
	return nil, err
}

// compiler returns a compiler whose includes resolve against the project
// root, or the session's directory when none is configured.
func (a *app) compiler(s *session.Session) *prompt.Compiler {
	root := ""
	if a.cfg != nil {
		root = a.cfg.Project.Root
	}
	if root == "" {
		root = filepath.Dir(s.Path())
	}
	return prompt.NewCompiler(include.NewExpander(root))
}

// newEngine creates a streaming engine seeded from the backend config.
func (a *app) newEngine(handler backend.Handler) *cloud.Engine {
	cfg := backend.NewConfig(a.cfg.BackendValues())
	return cloud.New(cfg, handler, cloud.WithLogger(logging.Component("cloud")))
}

// readText joins args, or reads stdin when args are empty or "-".
func (a *app) readText(args []string) (string, error) {
	if (len(args) == 1 && args[0] == "-") || (len(args) == 0 && !isTerminalReader(a.in)) {
		data, err := io.ReadAll(a.in)
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		return strings.TrimRight(string(data), "\n"), nil
	}
	return strings.Join(args, " "), nil
}

func (a *app) warnf(format string, args ...any) {
	fmt.Fprintf(a.err, "%s %s\n", WarningStyle.Render("[WARN]"), fmt.Sprintf(format, args...))
}

// reportProblems prints include problems as warnings.
func (a *app) reportProblems(problems []error) {
	for _, p := range problems {
		a.warnf("%v", p)
	}
}

// printJSON writes a successful JSON envelope.
func (a *app) printJSON(command string, data any) error {
	return NewJSONResponse(command, data).Print(a.out)
}
