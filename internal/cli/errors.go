// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"

	"github.com/jeranaias/slicebook/internal/backend"
	"github.com/jeranaias/slicebook/internal/cloud"
	"github.com/jeranaias/slicebook/internal/config"
	"github.com/jeranaias/slicebook/internal/session"
	"github.com/jeranaias/slicebook/internal/storage"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	// ExitSuccess indicates successful execution
	ExitSuccess = 0
	// ExitGeneralError indicates a general/unknown error
	ExitGeneralError = 1
	// ExitUsageError indicates invalid command usage or arguments
	ExitUsageError = 2
	// ExitConfigError indicates configuration file or settings error
	ExitConfigError = 3
	// ExitAuthError indicates the backend rejected the credentials
	ExitAuthError = 4
	// ExitNetworkError indicates network or backend failure
	ExitNetworkError = 5
	// ExitDocumentError indicates a malformed session document
	ExitDocumentError = 6
	// ExitNotFoundError indicates a resource was not found
	ExitNotFoundError = 7
	// ExitTimeoutError indicates an operation timed out
	ExitTimeoutError = 8
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// CommandError represents a CLI command error with context.
type CommandError struct {
	Command string // Command that failed (e.g., "ask", "truncate")
	Reason  string // Human-readable reason
	Err     error  // Underlying error (if any)
}

func (e *CommandError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s failed: %s: %v", e.Command, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s failed: %s", e.Command, e.Reason)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// ValidationError represents a validation failure for user input.
type ValidationError struct {
	Field   string
	Value   string
	Reason  string
	Example string
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	if e.Value != "" {
		msg += fmt.Sprintf(" (got: %s)", e.Value)
	}
	if e.Example != "" {
		msg += fmt.Sprintf("\nExample: %s", e.Example)
	}
	return msg
}

// NotFoundError represents a resource not found error.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// RequestError carries the failure a backend reported for a turn. Err keeps
// the typed start error when the request never started.
type RequestError struct {
	RequestID string
	Message   string
	Err       error
}

func (e *RequestError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// =============================================================================
// ERROR CONSTRUCTION HELPERS
// =============================================================================

// NewValidationError creates a new validation error.
func NewValidationError(field, value, reason string) error {
	return &ValidationError{Field: field, Value: value, Reason: reason}
}

// ErrMissingArgument creates an error for missing required arguments.
func ErrMissingArgument(argName, usage string) error {
	return &ValidationError{Field: argName, Reason: "required argument missing", Example: usage}
}

// ErrInvalidFormat creates an error for invalid format.
func ErrInvalidFormat(field, value, expected string) error {
	return &ValidationError{Field: field, Value: value, Reason: "invalid format", Example: expected}
}

// =============================================================================
// ERROR DISPLAY
// =============================================================================

// DisplayError writes err in a consistent format. In JSON mode the error is
// written as a JSONResponse.
func DisplayError(w io.Writer, command string, err error, jsonMode bool) {
	if err == nil {
		return
	}
	if jsonMode {
		_ = NewJSONErrorResponse(command, err).Print(w)
		return
	}
	fmt.Fprintf(w, "%s %s\n", ErrorStyle.Render("[ERROR]"), err.Error())
}

// errorDetails returns the structured fields reported in JSON error output.
func errorDetails(err error) map[string]any {
	out := map[string]any{"error_type": "generic_error", "exit_code": GetExitCode(err)}

	var (
		cmdErr  *CommandError
		valErr  *ValidationError
		nfErr   *NotFoundError
		docErr  *session.DocumentFormatError
		cfgErr  *backend.ConfigurationError
		tErr    *backend.TransportError
		protErr *backend.ProtocolError
	)
	switch {
	case errors.As(err, &valErr):
		out["error_type"] = "validation_error"
		out["field"] = valErr.Field
	case errors.As(err, &nfErr):
		out["error_type"] = "not_found_error"
		out["resource"] = nfErr.Resource
		out["id"] = nfErr.ID
	case errors.As(err, &docErr):
		out["error_type"] = "document_error"
		out["path"] = docErr.Path
		out["line"] = docErr.Line
	case errors.As(err, &cfgErr):
		out["error_type"] = "configuration_error"
		out["key"] = cfgErr.Key
	case errors.As(err, &tErr):
		out["error_type"] = "transport_error"
		if tErr.StatusCode != 0 {
			out["status_code"] = tErr.StatusCode
		}
	case errors.As(err, &protErr):
		out["error_type"] = "protocol_error"
	case errors.As(err, &cmdErr):
		out["error_type"] = "command_error"
		out["command"] = cmdErr.Command
	}
	return out
}

// =============================================================================
// EXIT CODE MAPPING
// =============================================================================

// GetExitCode determines the appropriate exit code for an error.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var (
		valErr  *ValidationError
		nfErr   *NotFoundError
		docErr  *session.DocumentFormatError
		cfgErr  *backend.ConfigurationError
		cfgVal  config.ValidateErrors
		tErr    *backend.TransportError
		protErr *backend.ProtocolError
	)
	switch {
	case errors.As(err, &valErr):
		return ExitUsageError
	case errors.As(err, &nfErr), errors.Is(err, fs.ErrNotExist), errors.Is(err, storage.ErrSessionNotFound):
		return ExitNotFoundError
	case errors.As(err, &docErr):
		return ExitDocumentError
	case errors.As(err, &cfgErr), errors.As(err, &cfgVal):
		return ExitConfigError
	case errors.Is(err, cloud.ErrAuthFailed):
		return ExitAuthError
	case errors.Is(err, context.DeadlineExceeded):
		return ExitTimeoutError
	case errors.As(err, &tErr), errors.As(err, &protErr):
		return ExitNetworkError
	}

	// Errors reported by a backend event arrive as text only.
	errMsg := strings.ToLower(err.Error())
	switch {
	case strings.HasPrefix(errMsg, "configuration error"), strings.Contains(errMsg, "config"):
		return ExitConfigError
	case strings.Contains(errMsg, "(http 401)"), strings.Contains(errMsg, "(http 403)"):
		return ExitAuthError
	case strings.HasPrefix(errMsg, "transport error"), strings.HasPrefix(errMsg, "api error"),
		strings.HasPrefix(errMsg, "protocol error"):
		return ExitNetworkError
	case strings.Contains(errMsg, "timed out"), strings.Contains(errMsg, "deadline exceeded"):
		return ExitTimeoutError
	}
	return ExitGeneralError
}

// WrapError wraps an error with additional context.
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// =============================================================================
// JSON OUTPUT
// =============================================================================

// JSONResponse is the response envelope for --json output.
type JSONResponse struct {
	Success bool           `json:"success"`
	Command string         `json:"command,omitempty"`
	Data    any            `json:"data"`
	Error   *string        `json:"error"`
	Details map[string]any `json:"details,omitempty"`
}

// NewJSONResponse creates a successful response.
func NewJSONResponse(command string, data any) *JSONResponse {
	return &JSONResponse{Success: true, Command: command, Data: data}
}

// NewJSONErrorResponse creates an error response.
func NewJSONErrorResponse(command string, err error) *JSONResponse {
	msg := err.Error()
	return &JSONResponse{Command: command, Error: &msg, Details: errorDetails(err)}
}

// Print writes the response as indented JSON.
func (r *JSONResponse) Print(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}
