// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cloud is the streaming backend engine for OpenAI-compatible
// chat-completions APIs.
//
// An Engine multiplexes any number of concurrent requests. Each request owns
// a receive buffer, a durable text sink (a temporary file) and a transport
// cancel function; all three are released by a single deregistration on
// every exit path.
//
// # Concurrency
//
// One loop goroutine per engine owns the request registry and delivers every
// event. Transport goroutines only read HTTP bodies and post chunks to the
// loop through an unbounded queue, so posting never blocks and event
// handlers may call StartRequest or CancelRequest re-entrantly.
//
// # Usage
//
//	eng := cloud.New(backend.NewConfig(cfg.BackendValues()), handler)
//	defer eng.Close()
//
//	id, err := eng.StartRequest(messages, backend.Params{"model": "gpt-4o"}, "")
//
// # Security
//
// API keys and request bodies are never logged.
package cloud
