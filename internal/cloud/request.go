// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jeranaias/slicebook/internal/backend"
)

// request is the registry entry for one in-flight call. All fields are
// owned by the loop goroutine.
type request struct {
	id     string
	spec   *requestSpec
	ctx    context.Context
	cancel context.CancelFunc

	// buf holds received bytes not yet terminated by a newline.
	buf []byte
	// sink accumulates response text durably.
	sink *os.File

	statusCode   int
	finishReason string
	frames       int
	received     int64
	started      time.Time
}

// begin registers the request, emits started and launches its transport.
func (e *Engine) begin(id string, spec *requestSpec) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &request{
		id:      id,
		spec:    spec,
		ctx:     ctx,
		cancel:  cancel,
		started: time.Now(),
	}
	e.requests[id] = r

	sink, err := os.CreateTemp(e.sinkDir, "slicebook-sink-*")
	r.sink = sink

	e.log.Debug().Str("request_id", id).Str("model", spec.model).Bool("stream", spec.stream).Msg("request started")
	e.emit(backend.StatusEvent(id, backend.StatusStarted))

	if !e.current(r) {
		// cancelled before it began, or by the started handler
		e.cancel(r)
		return
	}
	if err != nil {
		e.fail(r, fmt.Errorf("failed to create response sink: %w", err))
		return
	}

	e.transports.Add(1)
	go e.transport(r)
}

// registered reports whether r is still the registry entry for its id.
func (e *Engine) registered(r *request) bool {
	return e.requests[r.id] == r
}

// current reports whether work for r should still run: it is registered and
// no cancel is pending for it.
func (e *Engine) current(r *request) bool {
	if !e.registered(r) {
		return false
	}
	e.qmu.Lock()
	defer e.qmu.Unlock()
	return !e.cancelled[r.id]
}

// deregister removes r and releases its transport, buffer and sink. It is
// the only place request resources are released.
func (e *Engine) deregister(r *request, status backend.Status) {
	if !e.registered(r) {
		return
	}
	delete(e.requests, r.id)
	r.cancel()
	r.buf = nil
	if r.sink != nil {
		name := r.sink.Name()
		r.sink.Close()
		if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
			e.log.Warn().Str("request_id", r.id).Err(err).Msg("failed to remove response sink")
		}
		r.sink = nil
	}

	e.qmu.Lock()
	delete(e.live, r.id)
	delete(e.cancelled, r.id)
	e.qmu.Unlock()

	e.log.Debug().
		Str("request_id", r.id).
		Str("status", string(status)).
		Int("frames", r.frames).
		Int64("bytes", r.received).
		Dur("elapsed", time.Since(r.started)).
		Msg("request finished")
}

// finish reads the sink in full and reports completion.
func (e *Engine) finish(r *request) {
	if _, err := r.sink.Seek(0, io.SeekStart); err != nil {
		e.fail(r, fmt.Errorf("failed to read response sink: %w", err))
		return
	}
	data, err := io.ReadAll(r.sink)
	if err != nil {
		e.fail(r, fmt.Errorf("failed to read response sink: %w", err))
		return
	}
	e.deregister(r, backend.StatusCompleted)
	e.emit(backend.Done(r.id, string(data)))
	e.emit(backend.StatusEvent(r.id, backend.StatusCompleted))
}

// fail aborts r and reports err.
func (e *Engine) fail(r *request, err error) {
	e.deregister(r, backend.StatusError)
	e.emit(backend.Failure(r.id, err.Error()))
	e.emit(backend.StatusEvent(r.id, backend.StatusError))
}

// cancel aborts r; nothing but the cancelled status follows.
func (e *Engine) cancel(r *request) {
	e.deregister(r, backend.StatusCancelled)
	e.emit(backend.StatusEvent(r.id, backend.StatusCancelled))
}

func (e *Engine) cancelAll() {
	all := make([]*request, 0, len(e.requests))
	for _, r := range e.requests {
		all = append(all, r)
	}
	for _, r := range all {
		e.cancel(r)
	}
}

// appendText writes one fragment to the sink and reports it.
func (e *Engine) appendText(r *request, fragment string) bool {
	if _, err := r.sink.WriteString(fragment); err != nil {
		e.fail(r, fmt.Errorf("failed to write response sink: %w", err))
		return false
	}
	e.emit(backend.Partial(r.id, fragment))
	return true
}
