// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/jeranaias/slicebook/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete slicebook configuration.
type Config struct {
	Backend BackendConfig `toml:"backend"`
	Project ProjectConfig `toml:"project"`
	Logging LoggingConfig `toml:"logging"`
	Catalog CatalogConfig `toml:"catalog"`
}

// BackendConfig seeds the backend key/value store. Field tags double as the
// store keys.
type BackendConfig struct {
	// APIKey is the bearer credential. Required before any request starts.
	APIKey string `toml:"api_key"`
	// BaseURL is the root of the OpenAI-compatible API.
	BaseURL      string `toml:"base_url"`
	Organization string `toml:"organization"`
	Model        string `toml:"model"`

	MaxTokens        int     `toml:"max_tokens"`
	Temperature      float64 `toml:"temperature"`
	TopP             float64 `toml:"top_p"`
	FrequencyPenalty float64 `toml:"frequency_penalty"`
	PresencePenalty  float64 `toml:"presence_penalty"`

	// Stop is a comma-separated list of stop sequences.
	Stop string `toml:"stop"`
	User string `toml:"user"`
	// LogitBias is a JSON object mapping token ids to bias values.
	LogitBias string `toml:"logit_bias"`
	// Stream selects server-sent event streaming. False requests one full body.
	Stream bool `toml:"stream"`
}

// ProjectConfig locates project files.
type ProjectConfig struct {
	// Root is the directory include paths resolve against. Empty means the
	// directory of the session file being compiled.
	Root string `toml:"root"`
	// SessionsDir is the directory scanned by the session catalog.
	SessionsDir string `toml:"sessions_dir"`
}

// LoggingConfig controls the process logger.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Pretty bool   `toml:"pretty"`
	// File, when set, receives a JSON copy of every log line.
	File string `toml:"file"`
}

// CatalogConfig controls the session catalog.
type CatalogConfig struct {
	// Database is the SQLite file path. Empty means .slicebook/catalog.db
	// inside the sessions directory.
	Database string `toml:"database"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			BaseURL:          "https://api.openai.com/v1",
			Model:            "gpt-4o-mini",
			MaxTokens:        1024,
			Temperature:      0.7,
			TopP:             1,
			FrequencyPenalty: 0,
			PresencePenalty:  0,
			Stream:           true,
		},
		Project: ProjectConfig{
			SessionsDir: ".",
		},
		Logging: LoggingConfig{
			Level: "warn",
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the slicebook configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".slicebook"), nil
}

// ConfigPath returns the default configuration file path.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// CatalogPath returns the catalog database path for a sessions directory.
// Without a configured database it lives in the directory itself.
func (c *Config) CatalogPath(sessionsDir string) string {
	if c.Catalog.Database != "" {
		return c.Catalog.Database
	}
	return filepath.Join(sessionsDir, ".slicebook", "catalog.db")
}

// =============================================================================
// LOADING
// =============================================================================

// Load loads configuration from the default path. A missing file is not an
// error: defaults with environment overrides are returned.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		cfg := Default()
		cfg.ApplyEnvOverrides()
		return cfg, cfg.Validate()
	}
	if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
		cfg := Default()
		cfg.ApplyEnvOverrides()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
		return cfg, nil
	}
	return LoadFromPath(path)
}

// LoadFromPath loads configuration from a specific TOML file. Keys absent
// from the file keep their default values.
func LoadFromPath(path string) (*Config, error) {
	cfg, err := decodeFile(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadFile reads the file as written, without environment overrides or
// validation. A missing file yields the defaults. Use it to edit a file in
// place.
func LoadFile(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return decodeFile(path)
}

func decodeFile(path string) (*Config, error) {
	cfg := Default()

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown config keys in %s: %s", path, strings.Join(keys, ", "))
	}
	return cfg, nil
}

// =============================================================================
// SAVING
// =============================================================================

// Save saves the configuration to the default path.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return SaveTo(cfg, path)
}

// SaveTo writes the configuration as TOML. The file holds a credential, so it
// is written owner read/write only.
func SaveTo(cfg *Config, path string) error {
	var buf bytes.Buffer
	fmt.Fprintln(&buf, "# slicebook configuration file")
	fmt.Fprintln(&buf, "# Generated by slicebook - edit with care")
	fmt.Fprintln(&buf, "")

	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies SLICEBOOK_* environment variables on top of the
// loaded values. OPENAI_API_KEY is honoured when no key is configured.
func (c *Config) ApplyEnvOverrides() {
	if key := os.Getenv("SLICEBOOK_API_KEY"); key != "" {
		c.Backend.APIKey = key
	} else if c.Backend.APIKey == "" {
		c.Backend.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if v := os.Getenv("SLICEBOOK_BASE_URL"); v != "" {
		c.Backend.BaseURL = v
	}
	if v := os.Getenv("SLICEBOOK_MODEL"); v != "" {
		c.Backend.Model = v
	}
	if v := os.Getenv("SLICEBOOK_PROJECT_ROOT"); v != "" {
		c.Project.Root = v
	}
	if v := os.Getenv("SLICEBOOK_SESSIONS_DIR"); v != "" {
		c.Project.SessionsDir = v
	}
	if v := os.Getenv("SLICEBOOK_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("SLICEBOOK_CATALOG_DB"); v != "" {
		c.Catalog.Database = v
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks value ranges. A missing API key is not a validation error;
// the backend reports it when a request is attempted.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if c.Backend.BaseURL != "" {
		u, err := url.Parse(c.Backend.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, ValidationError{
				Field:   "backend.base_url",
				Message: fmt.Sprintf("invalid URL '%s', must be http or https", c.Backend.BaseURL),
			})
		}
	}
	if c.Backend.MaxTokens < 0 {
		errs = append(errs, ValidationError{Field: "backend.max_tokens", Message: "must not be negative"})
	}
	if c.Backend.Temperature < 0 || c.Backend.Temperature > 2 {
		errs = append(errs, ValidationError{Field: "backend.temperature", Message: "must be between 0 and 2"})
	}
	if c.Backend.TopP < 0 || c.Backend.TopP > 1 {
		errs = append(errs, ValidationError{Field: "backend.top_p", Message: "must be between 0 and 1"})
	}
	if c.Backend.FrequencyPenalty < -2 || c.Backend.FrequencyPenalty > 2 {
		errs = append(errs, ValidationError{Field: "backend.frequency_penalty", Message: "must be between -2 and 2"})
	}
	if c.Backend.PresencePenalty < -2 || c.Backend.PresencePenalty > 2 {
		errs = append(errs, ValidationError{Field: "backend.presence_penalty", Message: "must be between -2 and 2"})
	}
	if c.Backend.LogitBias != "" {
		var bias map[string]float64
		if err := json.Unmarshal([]byte(c.Backend.LogitBias), &bias); err != nil {
			errs = append(errs, ValidationError{Field: "backend.logit_bias", Message: "must be a JSON object of numbers"})
		}
	}

	switch strings.ToLower(strings.TrimSpace(c.Logging.Level)) {
	case "", "debug", "info", "warn", "warning", "error", "off", "none", "disabled":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid level '%s', must be one of: debug, info, warn, error, off", c.Logging.Level),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// FLAT VIEW AND DOT-NOTATION ACCESS
// =============================================================================

// Flat returns every setting as a "section.key" → string map.
func (c *Config) Flat() map[string]string {
	out := make(map[string]string)
	v := reflect.ValueOf(c).Elem()
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		section := tomlName(t.Field(i))
		sv := v.Field(i)
		st := sv.Type()
		for j := 0; j < st.NumField(); j++ {
			out[section+"."+tomlName(st.Field(j))] = formatValue(sv.Field(j))
		}
	}
	return out
}

// Keys returns all configuration keys in dot notation, sorted.
func (c *Config) Keys() []string {
	flat := c.Flat()
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// BackendValues returns the non-empty backend settings keyed the way the
// backend config store expects them (without the section prefix).
func (c *Config) BackendValues() map[string]string {
	out := make(map[string]string)
	for k, v := range c.Flat() {
		name, ok := strings.CutPrefix(k, "backend.")
		if !ok || v == "" {
			continue
		}
		out[name] = v
	}
	return out
}

// Get retrieves a configuration value using dot notation (e.g., "backend.model").
func (c *Config) Get(key string) (string, error) {
	field, err := c.lookup(key)
	if err != nil {
		return "", err
	}
	return formatValue(field), nil
}

// Set sets a configuration value from its string form using dot notation.
func (c *Config) Set(key, value string) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	return setFieldValue(field, value)
}

func (c *Config) lookup(key string) (reflect.Value, error) {
	section, name, ok := strings.Cut(key, ".")
	if !ok || section == "" || name == "" {
		return reflect.Value{}, fmt.Errorf("invalid key: %q (want section.key)", key)
	}

	v := reflect.ValueOf(c).Elem()
	sv, found := fieldByTag(v, section)
	if !found {
		return reflect.Value{}, fmt.Errorf("unknown section: %s", section)
	}
	field, found := fieldByTag(sv, name)
	if !found {
		return reflect.Value{}, fmt.Errorf("unknown field: %s", key)
	}
	return field, nil
}

func fieldByTag(v reflect.Value, name string) (reflect.Value, bool) {
	name = strings.ReplaceAll(strings.ToLower(name), "-", "_")
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		if tomlName(t.Field(i)) == name {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

func tomlName(f reflect.StructField) string {
	tag, _, _ := strings.Cut(f.Tag.Get("toml"), ",")
	if tag == "" {
		return strings.ToLower(f.Name)
	}
	return tag
}

func formatValue(v reflect.Value) string {
	switch v.Kind() {
	case reflect.String:
		return v.String()
	case reflect.Int, reflect.Int64:
		return strconv.FormatInt(v.Int(), 10)
	case reflect.Float64:
		return strconv.FormatFloat(v.Float(), 'g', -1, 64)
	case reflect.Bool:
		return strconv.FormatBool(v.Bool())
	default:
		return fmt.Sprint(v.Interface())
	}
}

// setFieldValue sets a reflect.Value from its string form with type conversion.
func setFieldValue(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer value: %w", err)
		}
		field.SetInt(n)
	case reflect.Float64:
		f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return fmt.Errorf("invalid float value: %w", err)
		}
		field.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("invalid boolean value: %w", err)
		}
		field.SetBool(b)
	default:
		return fmt.Errorf("cannot assign to %s", field.Type())
	}
	return nil
}
