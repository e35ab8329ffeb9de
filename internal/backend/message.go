// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

// Role is the backend-side message role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	// RoleUnknown marks a slice role the backend has no counterpart for.
	RoleUnknown Role = "unknown"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// Message is one entry of the conversation sent to the backend.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Params overrides config keys for a single request.
type Params map[string]string
