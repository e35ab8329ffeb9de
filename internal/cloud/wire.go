// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/jeranaias/slicebook/internal/backend"
	"github.com/jeranaias/slicebook/internal/util"
)

// Error variables for common API failures. They are the Err of the
// *backend.TransportError reported for the matching HTTP status.
var (
	ErrAuthFailed          = errors.New("authentication failed")
	ErrRateLimited         = errors.New("rate limited")
	ErrModelNotFound       = errors.New("model not found")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrServer              = errors.New("server error")
)

// ChatRequest is the chat-completions request body.
type ChatRequest struct {
	Model            string             `json:"model"`
	Messages         []backend.Message  `json:"messages"`
	MaxTokens        int                `json:"max_tokens"`
	Temperature      float64            `json:"temperature"`
	TopP             float64            `json:"top_p"`
	FrequencyPenalty float64            `json:"frequency_penalty"`
	PresencePenalty  float64            `json:"presence_penalty"`
	Stream           bool               `json:"stream"`
	Stop             []string           `json:"stop,omitempty"`
	User             string             `json:"user,omitempty"`
	LogitBias        map[string]float64 `json:"logit_bias,omitempty"`
}

// APIError is the error object carried by error responses and error frames.
type APIError struct {
	Message string          `json:"message"`
	Type    string          `json:"type"`
	Code    json.RawMessage `json:"code"`
}

// CodeString returns the error code as text. Providers send it as a string,
// a number or null.
func (e *APIError) CodeString() string {
	if len(e.Code) == 0 || string(e.Code) == "null" {
		return e.Type
	}
	var s string
	if err := json.Unmarshal(e.Code, &s); err == nil {
		return s
	}
	return string(e.Code)
}

// StreamChunk is one decoded "data:" frame of a streaming response.
type StreamChunk struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
			Role    string `json:"role,omitempty"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *APIError `json:"error,omitempty"`
}

// GetContent returns the content from the first choice's delta.
func (c *StreamChunk) GetContent() string {
	if len(c.Choices) > 0 {
		return c.Choices[0].Delta.Content
	}
	return ""
}

// GetFinishReason returns the finish reason if streaming is complete.
func (c *StreamChunk) GetFinishReason() string {
	if len(c.Choices) > 0 {
		return c.Choices[0].FinishReason
	}
	return ""
}

// ChatResponse is a non-streaming chat-completions response.
type ChatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *APIError `json:"error,omitempty"`
}

// GetContent returns the content of the first choice, or empty string if none.
func (r *ChatResponse) GetContent() string {
	if len(r.Choices) > 0 {
		return r.Choices[0].Message.Content
	}
	return ""
}

// apiErrorResponse represents an error response from the API.
type apiErrorResponse struct {
	Error *APIError `json:"error"`
}

// handleErrorResponse converts an HTTP error response into a TransportError
// carrying the API's own message when it supplied one.
func handleErrorResponse(statusCode int, body []byte) *backend.TransportError {
	terr := &backend.TransportError{StatusCode: statusCode, Err: statusSentinel(statusCode)}

	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error != nil && apiErr.Error.Message != "" {
		terr.Code = apiErr.Error.CodeString()
		terr.Message = apiErr.Error.Message
		return terr
	}

	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(statusCode)
	}
	terr.Message = util.TruncateRunes(util.OneLine(msg), 200)
	return terr
}

func statusSentinel(statusCode int) error {
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return ErrAuthFailed
	case statusCode == http.StatusPaymentRequired:
		return ErrInsufficientCredits
	case statusCode == http.StatusNotFound:
		return ErrModelNotFound
	case statusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case statusCode >= 500:
		return ErrServer
	default:
		return nil
	}
}

// frameError converts an error frame into a request error.
func frameError(statusCode int, apiErr *APIError) *backend.TransportError {
	msg := apiErr.Message
	if msg == "" {
		msg = "error frame without message"
	}
	return &backend.TransportError{StatusCode: statusCode, Code: apiErr.CodeString(), Message: msg}
}
