// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"sort"
	"sync"
)

// Config is a flat key/value settings store safe for concurrent use.
// Readers always receive copies.
type Config struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewConfig creates a store seeded with a copy of values.
func NewConfig(values map[string]string) *Config {
	c := &Config{values: make(map[string]string, len(values))}
	for k, v := range values {
		c.values[k] = v
	}
	return c
}

// Get returns the value for key.
func (c *Config) Get(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[key]
	return v, ok
}

// Set stores value under key.
func (c *Config) Set(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
}

// Delete removes key.
func (c *Config) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.values, key)
}

// Snapshot returns a copy of all settings.
func (c *Config) Snapshot() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// Keys returns the configured keys, sorted.
func (c *Config) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.values))
	for k := range c.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Resolved is a read-only view of params layered over a config snapshot.
type Resolved struct {
	params   Params
	snapshot map[string]string
}

// Resolve captures the settings for one request. params win over config.
func (c *Config) Resolve(params Params) Resolved {
	p := make(Params, len(params))
	for k, v := range params {
		p[k] = v
	}
	return Resolved{params: p, snapshot: c.Snapshot()}
}

// Lookup returns the value for key from params, then config.
func (r Resolved) Lookup(key string) (string, bool) {
	if v, ok := r.params[key]; ok {
		return v, true
	}
	v, ok := r.snapshot[key]
	return v, ok
}
