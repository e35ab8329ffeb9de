// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package backendtest provides a scriptable backend.Capability for tests.
package backendtest

import (
	"strings"
	"sync"

	"github.com/jeranaias/slicebook/internal/backend"
)

// Call records one StartRequest invocation.
type Call struct {
	ID       string
	Messages []backend.Message
	Params   backend.Params
}

// Fake is a backend.Capability whose responses are driven by the test.
// Events are delivered synchronously on the calling goroutine.
type Fake struct {
	mu      sync.Mutex
	handler backend.Handler
	config  *backend.Config
	calls   []Call
	active  map[string]bool

	// StartErr, when set, is returned by StartRequest before anything starts.
	StartErr error
}

var _ backend.Capability = (*Fake)(nil)

// New creates a fake delivering events to handler.
func New(handler backend.Handler) *Fake {
	return &Fake{
		handler: handler,
		config:  backend.NewConfig(nil),
		active:  make(map[string]bool),
	}
}

// SetHandler replaces the event handler.
func (f *Fake) SetHandler(h backend.Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = h
}

// StartRequest records the call and emits StatusChanged(started).
func (f *Fake) StartRequest(messages []backend.Message, params backend.Params, requestID string) (string, error) {
	f.mu.Lock()
	if f.StartErr != nil {
		err := f.StartErr
		f.mu.Unlock()
		return "", err
	}
	if requestID == "" {
		requestID = backend.NewRequestID()
	}
	if f.active[requestID] {
		f.mu.Unlock()
		return "", backend.ErrDuplicateRequest
	}
	msgs := make([]backend.Message, len(messages))
	copy(msgs, messages)
	p := make(backend.Params, len(params))
	for k, v := range params {
		p[k] = v
	}
	f.calls = append(f.calls, Call{ID: requestID, Messages: msgs, Params: p})
	f.active[requestID] = true
	f.mu.Unlock()

	f.Emit(backend.StatusEvent(requestID, backend.StatusStarted))
	return requestID, nil
}

// CancelRequest emits StatusChanged(cancelled) for each matching active request.
func (f *Fake) CancelRequest(requestID string) {
	f.mu.Lock()
	var ids []string
	for id := range f.active {
		if requestID == "" || id == requestID {
			ids = append(ids, id)
			delete(f.active, id)
		}
	}
	f.mu.Unlock()

	for _, id := range ids {
		f.Emit(backend.StatusEvent(id, backend.StatusCancelled))
	}
}

// Config returns the settings store.
func (f *Fake) Config() *backend.Config {
	return f.config
}

// Calls returns the recorded StartRequest calls.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// LastCall returns the most recent call, or false if none.
func (f *Fake) LastCall() (Call, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return Call{}, false
	}
	return f.calls[len(f.calls)-1], true
}

// Active reports whether id is in flight.
func (f *Fake) Active(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active[id]
}

// Emit delivers ev to the handler unconditionally.
func (f *Fake) Emit(ev backend.Event) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h != nil {
		h(ev)
	}
}

// Partial emits one fragment for id.
func (f *Fake) Partial(id, fragment string) {
	f.Emit(backend.Partial(id, fragment))
}

// Finish emits Finished and StatusChanged(completed) and retires id.
func (f *Fake) Finish(id, fullText string) {
	f.retire(id)
	f.Emit(backend.Done(id, fullText))
	f.Emit(backend.StatusEvent(id, backend.StatusCompleted))
}

// Fail emits ErrorOccurred and StatusChanged(error) and retires id.
func (f *Fake) Fail(id, message string) {
	f.retire(id)
	f.Emit(backend.Failure(id, message))
	f.Emit(backend.StatusEvent(id, backend.StatusError))
}

// Stream emits each fragment as a partial and then finishes with their
// concatenation.
func (f *Fake) Stream(id string, fragments ...string) {
	for _, frag := range fragments {
		f.Partial(id, frag)
	}
	f.Finish(id, strings.Join(fragments, ""))
}

func (f *Fake) retire(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.active, id)
}
