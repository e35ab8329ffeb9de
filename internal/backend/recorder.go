// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"strings"
	"sync"
	"time"
)

// Recorder collects events. Its Handle method is a Handler. The zero value
// is ready to use.
type Recorder struct {
	mu     sync.Mutex
	cond   *sync.Cond
	events []Event
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// condLocked returns the condition variable. r.mu must be held.
func (r *Recorder) condLocked() *sync.Cond {
	if r.cond == nil {
		r.cond = sync.NewCond(&r.mu)
	}
	return r.cond
}

// Handle records ev.
func (r *Recorder) Handle(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	r.condLocked().Broadcast()
}

// Events returns a copy of all recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// For returns the events recorded for one request id.
func (r *Recorder) For(id string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.RequestID == id {
			out = append(out, ev)
		}
	}
	return out
}

// Partials returns the concatenated partial fragments for id.
func (r *Recorder) Partials(id string) string {
	var sb strings.Builder
	for _, ev := range r.For(id) {
		if ev.Kind == PartialResponse {
			sb.WriteString(ev.Text)
		}
	}
	return sb.String()
}

// WaitTerminal blocks until id reaches a terminal status or timeout elapses,
// and returns that status.
func (r *Recorder) WaitTerminal(id string, timeout time.Duration) (Status, bool) {
	deadline := time.Now().Add(timeout)

	r.mu.Lock()
	defer r.mu.Unlock()
	cond := r.condLocked()
	timer := time.AfterFunc(timeout, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		cond.Broadcast()
	})
	defer timer.Stop()

	for {
		for _, ev := range r.events {
			if ev.RequestID == id && ev.Kind == StatusChanged && ev.Status.Terminal() {
				return ev.Status, true
			}
		}
		if !time.Now().Before(deadline) {
			return "", false
		}
		cond.Wait()
	}
}
