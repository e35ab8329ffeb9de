// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for slicebook.
//
// Configuration is a single TOML file with sensible defaults, environment
// variable overrides, and validation.
//
// # Key Types
//
//   - Config: Main configuration structure with all settings
//   - BackendConfig: chat-completions endpoint, credential and sampling knobs
//   - ProjectConfig: project root and sessions directory
//   - LoggingConfig: log level, format and optional log file
//   - CatalogConfig: location of the session catalog database
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (SLICEBOOK_*)
//   - ~/.slicebook/config.toml, or the path given with --config
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	store := backend.NewConfig(cfg.BackendValues())
package config
