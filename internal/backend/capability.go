// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Capability is the backend contract.
type Capability interface {
	// StartRequest begins a request and returns its id, generating one when
	// requestID is empty. Progress is reported through events.
	StartRequest(messages []Message, params Params, requestID string) (string, error)
	// CancelRequest cancels one request, or every request when requestID is
	// empty. Unknown ids are ignored.
	CancelRequest(requestID string)
	// Config returns the settings store.
	Config() *Config
}

// NewRequestID returns an id unique for the process lifetime.
func NewRequestID() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("%d-%s", time.Now().UnixNano(), suffix)
}
