// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/jeranaias/slicebook/internal/backend"
	"github.com/jeranaias/slicebook/internal/logging"
	"github.com/jeranaias/slicebook/internal/prompt"
	"github.com/jeranaias/slicebook/internal/session"
)

// DefaultSaveInterval is the minimum time between saves of partial output.
const DefaultSaveInterval = 2 * time.Second

var (
	// ErrBusy is returned by Send while a turn is in flight.
	ErrBusy = errors.New("a request is already in flight")

	// ErrIdle is returned by Wait when no turn has been started.
	ErrIdle = errors.New("no request has been started")
)

// Result describes how a turn ended.
type Result struct {
	RequestID string
	Status    backend.Status
	// Text is the content of the assistant slice when the turn ended.
	Text string
	// Err is set when the backend reported an error.
	Err error
	// SaveErr is the last persistence failure during the turn, if any.
	SaveErr error
}

// Runner feeds backend events for its current request into a session.
type Runner struct {
	sess     *session.Session
	backend  backend.Capability
	compiler *prompt.Compiler
	log      zerolog.Logger
	limiter  *rate.Limiter
	observer func(backend.Event)

	mu      sync.Mutex
	current string
	index   int
	text    strings.Builder
	result  Result
	done    chan struct{}
}

// Option configures a Runner.
type Option func(*Runner)

// WithCompiler sets the compiler used to build request messages.
func WithCompiler(c *prompt.Compiler) Option {
	return func(r *Runner) {
		if c != nil {
			r.compiler = c
		}
	}
}

// WithSaveInterval sets the minimum time between saves of partial output.
// Zero saves only when the turn ends.
func WithSaveInterval(d time.Duration) Option {
	return func(r *Runner) {
		if d <= 0 {
			r.limiter = nil
			return
		}
		r.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

// WithObserver registers fn to see every event of the current request after
// the session has been updated. fn runs outside the runner's lock.
func WithObserver(fn func(backend.Event)) Option {
	return func(r *Runner) {
		r.observer = fn
	}
}

// WithLogger sets the runner logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Runner) {
		r.log = l
	}
}

// NewRunner creates a runner writing into sess and sending through b. The
// backend's handler must forward events to Handle.
func NewRunner(sess *session.Session, b backend.Capability, opts ...Option) *Runner {
	r := &Runner{
		sess:     sess,
		backend:  b,
		compiler: prompt.NewCompiler(nil),
		log:      logging.Component("conversation"),
		limiter:  rate.NewLimiter(rate.Every(DefaultSaveInterval), 1),
		index:    -1,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Compiler returns the compiler used to build request messages.
func (r *Runner) Compiler() *prompt.Compiler {
	return r.compiler
}

// Session returns the session the runner writes into.
func (r *Runner) Session() *session.Session {
	return r.sess
}

// Busy reports whether a turn is in flight.
func (r *Runner) Busy() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current != ""
}

// Current returns the id of the request in flight, or "".
func (r *Runner) Current() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Send starts a turn. A non-empty text is appended as a User slice first;
// an empty text re-asks with the session as it stands. The returned id
// identifies the request. When the backend refuses the request the
// placeholder Assistant slice is removed again and the error is returned.
func (r *Runner) Send(text string, params backend.Params) (string, error) {
	r.mu.Lock()
	if r.current != "" {
		r.mu.Unlock()
		return "", ErrBusy
	}
	id := backend.NewRequestID()
	r.current = id
	r.index = -1
	r.text.Reset()
	r.result = Result{RequestID: id}
	r.done = make(chan struct{})
	r.mu.Unlock()

	// Compiling reads include files, so it runs without r.mu held.
	if text != "" {
		r.sess.AppendSlice(session.RoleUser, text)
	}
	messages := r.compiler.Messages(r.sess)

	r.mu.Lock()
	r.index = r.sess.AppendSlice(session.RoleAssistant, "")
	r.mu.Unlock()

	if _, err := r.backend.StartRequest(messages, params, id); err != nil {
		r.abandon(id, err)
		return id, fmt.Errorf("failed to start request: %w", err)
	}
	r.log.Debug().Str("request_id", id).Int("messages", len(messages)).Msg("turn started")
	return id, nil
}

// abandon undoes Send after the backend refused the request.
func (r *Runner) abandon(id string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != id {
		return
	}
	if r.index >= 0 {
		_ = r.sess.DeleteSlice(r.index)
	}
	r.result.Status = backend.StatusError
	r.result.Err = err
	r.current = ""
	r.index = -1
	close(r.done)
	r.done = nil
}

// Cancel cancels the turn in flight. It is a no-op when idle.
func (r *Runner) Cancel() {
	id := r.Current()
	if id != "" {
		r.backend.CancelRequest(id)
	}
}

// Wait blocks until the current turn ends or ctx is done.
func (r *Runner) Wait(ctx context.Context) (Result, error) {
	r.mu.Lock()
	done := r.done
	if done == nil {
		res := r.result
		r.mu.Unlock()
		if res.RequestID == "" {
			return Result{}, ErrIdle
		}
		return res, nil
	}
	r.mu.Unlock()

	select {
	case <-done:
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Handle applies a backend event to the session. Events for any request
// other than the current one are dropped.
func (r *Runner) Handle(ev backend.Event) {
	r.mu.Lock()
	if ev.RequestID == "" || ev.RequestID != r.current {
		r.mu.Unlock()
		r.log.Debug().Str("request_id", ev.RequestID).Str("kind", ev.Kind.String()).Msg("dropping stale event")
		return
	}

	switch ev.Kind {
	case backend.PartialResponse:
		r.text.WriteString(ev.Text)
		r.edit(r.text.String())
		if r.limiter != nil && r.limiter.Allow() {
			r.save()
		}

	case backend.Finished:
		r.text.Reset()
		r.text.WriteString(ev.Text)
		r.edit(ev.Text)

	case backend.ErrorOccurred:
		r.result.Err = errors.New(ev.Text)

	case backend.StatusChanged:
		if ev.Status.Terminal() {
			r.complete(ev.Status)
		}
	}
	observer := r.observer
	r.mu.Unlock()

	if observer != nil {
		observer(ev)
	}
}

// edit writes text into the assistant slice. Caller holds r.mu.
func (r *Runner) edit(text string) {
	if err := r.sess.EditSliceContent(r.index, text); err != nil {
		r.log.Warn().Err(err).Int("index", r.index).Msg("assistant slice no longer exists")
	}
}

// save persists the session when it is bound to a file. Caller holds r.mu.
func (r *Runner) save() {
	if r.sess.Path() == "" {
		return
	}
	if err := r.sess.Save(""); err != nil {
		r.result.SaveErr = err
		r.log.Error().Err(err).Str("path", r.sess.Path()).Msg("failed to save session")
	}
}

// complete ends the turn. Caller holds r.mu.
func (r *Runner) complete(status backend.Status) {
	r.save()
	r.result.Status = status
	r.result.Text = r.text.String()
	r.log.Debug().
		Str("request_id", r.current).
		Str("status", string(status)).
		Int("chars", len(r.result.Text)).
		Msg("turn finished")

	r.current = ""
	r.index = -1
	if r.done != nil {
		close(r.done)
		r.done = nil
	}
}
