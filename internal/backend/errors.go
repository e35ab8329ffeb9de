// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"errors"
	"fmt"
)

// ErrDuplicateRequest is returned when a request id is already in flight.
var ErrDuplicateRequest = errors.New("request id already in flight")

// ErrClosed is returned by a capability that has been shut down.
var ErrClosed = errors.New("backend closed")

// ConfigurationError reports a missing or unusable setting. The request never
// reaches the network.
type ConfigurationError struct {
	Key     string
	Message string
	Err     error
}

func (e *ConfigurationError) Error() string {
	msg := fmt.Sprintf("configuration error: %s: %s", e.Key, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// TransportError reports a failed connection, a non-success HTTP status or a
// body that ended before the response was complete.
type TransportError struct {
	// StatusCode is the HTTP status, or zero when no response was received.
	StatusCode int
	// Code is the API error code, when the server supplied one.
	Code    string
	Message string
	Err     error
}

func (e *TransportError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Code != "":
		return fmt.Sprintf("API error [%s] (HTTP %d): %s", e.Code, e.StatusCode, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("API error (HTTP %d): %s", e.StatusCode, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("transport error: %s: %v", e.Message, e.Err)
	default:
		return "transport error: " + e.Message
	}
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ProtocolError reports a response frame that could not be decoded.
type ProtocolError struct {
	// Frame is the offending payload, possibly truncated.
	Frame string
	Err   error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: malformed frame %q: %v", e.Frame, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}
