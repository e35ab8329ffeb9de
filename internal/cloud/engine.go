// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeranaias/slicebook/internal/backend"
	"github.com/jeranaias/slicebook/internal/logging"
)

// UserAgent is sent with every request.
const UserAgent = "slicebook/0.1.0"

// defaultHTTPClient has no overall timeout; streaming requests are bounded by
// their cancel function instead.
var defaultHTTPClient = &http.Client{
	Transport: &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	},
}

// =============================================================================
// ENGINE
// =============================================================================

// Engine implements backend.Capability over HTTP.
type Engine struct {
	config  *backend.Config
	handler backend.Handler
	client  *http.Client
	log     zerolog.Logger
	sinkDir string

	// requests is owned by the loop goroutine.
	requests map[string]*request

	qmu    sync.Mutex
	queue  []func()
	live   map[string]bool
	closed bool
	// cancelled holds live ids whose cancel is pending on the loop. Work for
	// them is dropped from the moment CancelRequest returns.
	cancelled map[string]bool

	wake       chan struct{}
	done       chan struct{}
	transports sync.WaitGroup
}

var _ backend.Capability = (*Engine)(nil)

// Option configures an Engine.
type Option func(*Engine)

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Engine) {
		if c != nil {
			e.client = c
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) {
		e.log = l
	}
}

// WithSinkDir sets the directory for per-request sink files. Empty means the
// system temporary directory.
func WithSinkDir(dir string) Option {
	return func(e *Engine) {
		e.sinkDir = dir
	}
}

// New creates an engine and starts its loop. handler receives every event on
// the loop goroutine. Call Close to release it.
func New(cfg *backend.Config, handler backend.Handler, opts ...Option) *Engine {
	if cfg == nil {
		cfg = backend.NewConfig(nil)
	}
	if handler == nil {
		handler = func(backend.Event) {}
	}
	e := &Engine{
		config:    cfg,
		handler:   handler,
		client:    defaultHTTPClient,
		log:       logging.Component("cloud"),
		requests:  make(map[string]*request),
		live:      make(map[string]bool),
		cancelled: make(map[string]bool),
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	go e.run()
	return e
}

// Config returns the engine's settings store.
func (e *Engine) Config() *backend.Config {
	return e.config
}

// StartRequest validates settings and schedules the request. The returned id
// is generated when requestID is empty. A *backend.ConfigurationError is
// returned together with the id, and an ErrorOccurred event for that id is
// delivered; no status events follow because the request never started.
func (e *Engine) StartRequest(messages []backend.Message, params backend.Params, requestID string) (string, error) {
	if requestID == "" {
		requestID = backend.NewRequestID()
	}
	spec, buildErr := buildRequest(e.config.Resolve(params), messages)

	e.qmu.Lock()
	if e.closed {
		e.qmu.Unlock()
		return "", backend.ErrClosed
	}
	if e.live[requestID] {
		e.qmu.Unlock()
		return "", fmt.Errorf("%w: %s", backend.ErrDuplicateRequest, requestID)
	}
	if buildErr != nil {
		msg := buildErr.Error()
		e.queue = append(e.queue, func() {
			e.emit(backend.Failure(requestID, msg))
		})
		e.qmu.Unlock()
		e.signal()
		e.log.Debug().Str("request_id", requestID).Err(buildErr).Msg("request rejected")
		return requestID, buildErr
	}
	e.live[requestID] = true
	e.queue = append(e.queue, func() {
		e.begin(requestID, spec)
	})
	e.qmu.Unlock()
	e.signal()
	return requestID, nil
}

// CancelRequest cancels requestID, or every request when it is empty.
// Unknown ids are ignored. No partial, finished or error event is delivered
// for a cancelled id once CancelRequest returns, including when it is called
// from a Handler in the middle of a chunk.
func (e *Engine) CancelRequest(requestID string) {
	e.qmu.Lock()
	if requestID == "" {
		for id := range e.live {
			e.cancelled[id] = true
		}
	} else if e.live[requestID] {
		e.cancelled[requestID] = true
	} else {
		e.qmu.Unlock()
		return
	}
	e.qmu.Unlock()

	e.post(func() {
		if requestID == "" {
			e.cancelAll()
			return
		}
		if r, ok := e.requests[requestID]; ok {
			e.cancel(r)
		}
	})
}

// InFlight returns the ids of requests that are scheduled or streaming.
func (e *Engine) InFlight() []string {
	e.qmu.Lock()
	defer e.qmu.Unlock()
	ids := make([]string, 0, len(e.live))
	for id := range e.live {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close cancels every request, stops the loop and waits for transports to
// exit. It must not be called from a Handler.
func (e *Engine) Close() error {
	e.qmu.Lock()
	if !e.closed {
		for id := range e.live {
			e.cancelled[id] = true
		}
		e.queue = append(e.queue, e.cancelAll)
		e.closed = true
	}
	e.qmu.Unlock()
	e.signal()

	<-e.done
	e.transports.Wait()
	return nil
}

// =============================================================================
// LOOP
// =============================================================================

// post schedules task on the loop. It never blocks and reports false once
// the engine is closed.
func (e *Engine) post(task func()) bool {
	e.qmu.Lock()
	if e.closed {
		e.qmu.Unlock()
		return false
	}
	e.queue = append(e.queue, task)
	e.qmu.Unlock()
	e.signal()
	return true
}

func (e *Engine) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Engine) run() {
	defer close(e.done)
	for {
		e.qmu.Lock()
		tasks := e.queue
		e.queue = nil
		closed := e.closed
		e.qmu.Unlock()

		for _, task := range tasks {
			task()
		}
		if len(tasks) == 0 {
			if closed {
				return
			}
			<-e.wake
		}
	}
}

func (e *Engine) emit(ev backend.Event) {
	e.handler(ev)
}
