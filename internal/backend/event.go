// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import "fmt"

// EventKind identifies the type of an Event.
type EventKind int

const (
	// PartialResponse carries one newly received fragment in Text.
	PartialResponse EventKind = iota
	// Finished carries the complete response text in Text.
	Finished
	// ErrorOccurred carries a human-readable message in Text.
	ErrorOccurred
	// StatusChanged carries the new Status.
	StatusChanged
)

// String returns the string representation of the kind.
func (k EventKind) String() string {
	switch k {
	case PartialResponse:
		return "partial"
	case Finished:
		return "finished"
	case ErrorOccurred:
		return "error"
	case StatusChanged:
		return "status"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Status is a request lifecycle state reported through StatusChanged.
type Status string

const (
	StatusStarted   Status = "started"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusError     Status = "error"
)

// Terminal reports whether no further events follow this status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusError
}

// Event is an asynchronous notification about one request.
type Event struct {
	Kind      EventKind
	RequestID string
	Text      string
	Status    Status
}

// Handler receives events. Implementations must not block for long; they may
// call back into the Capability.
type Handler func(Event)

// Partial builds a PartialResponse event.
func Partial(id, fragment string) Event {
	return Event{Kind: PartialResponse, RequestID: id, Text: fragment}
}

// Done builds a Finished event.
func Done(id, fullText string) Event {
	return Event{Kind: Finished, RequestID: id, Text: fullText}
}

// Failure builds an ErrorOccurred event.
func Failure(id, message string) Event {
	return Event{Kind: ErrorOccurred, RequestID: id, Text: message}
}

// StatusEvent builds a StatusChanged event.
func StatusEvent(id string, status Status) Event {
	return Event{Kind: StatusChanged, RequestID: id, Status: status}
}
