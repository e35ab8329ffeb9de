// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/slicebook/internal/backend"
)

const waitTimeout = 5 * time.Second

// =============================================================================
// TEST HELPERS
// =============================================================================

func deltaFrame(content string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{{"delta": map[string]string{"content": content}}},
	})
	return string(b)
}

func finishFrame(reason string) string {
	return fmt.Sprintf(`{"choices":[{"delta":{},"finish_reason":%q}]}`, reason)
}

// writeFrames writes each payload as a data line and flushes.
func writeFrames(w http.ResponseWriter, payloads ...string) {
	flusher, _ := w.(http.Flusher)
	for _, p := range payloads {
		fmt.Fprintf(w, "data: %s\n\n", p)
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func sseHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
}

type harness struct {
	eng     *Engine
	rec     *backend.Recorder
	sinkDir string
	hits    atomic.Int32
}

// newHarness starts a test server and an engine pointed at it. onEvent, when
// set, runs on the loop goroutine after the event is recorded.
func newHarness(t *testing.T, handler http.HandlerFunc, onEvent func(*Engine, backend.Event)) *harness {
	t.Helper()
	h := &harness{rec: backend.NewRecorder(), sinkDir: t.TempDir()}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.hits.Add(1)
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	cfg := backend.NewConfig(map[string]string{
		KeyAPIKey:  "sk-test",
		KeyBaseURL: server.URL + "/v1",
	})
	h.eng = New(cfg, func(ev backend.Event) {
		h.rec.Handle(ev)
		if onEvent != nil {
			onEvent(h.eng, ev)
		}
	}, WithSinkDir(h.sinkDir), WithHTTPClient(server.Client()))
	t.Cleanup(func() { _ = h.eng.Close() })
	return h
}

func (h *harness) wait(t *testing.T, id string) backend.Status {
	t.Helper()
	status, ok := h.rec.WaitTerminal(id, waitTimeout)
	require.True(t, ok, "request %s did not reach a terminal state", id)
	return status
}

func (h *harness) assertSinksRemoved(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(h.sinkDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "sink files must be removed")
}

func kinds(events []backend.Event) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		if ev.Kind == backend.StatusChanged {
			out[i] = "status:" + string(ev.Status)
		} else {
			out[i] = ev.Kind.String()
		}
	}
	return out
}

func userMessages(text string) []backend.Message {
	return []backend.Message{{Role: backend.RoleUser, Content: text}}
}

// =============================================================================
// STREAMING
// =============================================================================

func TestEngine_StreamingReconstruction(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		sseHeaders(w)
		writeFrames(w, deltaFrame("Hel"), deltaFrame("lo, "), deltaFrame("world"), "[DONE]")
	}, nil)

	id, err := h.eng.StartRequest(userMessages("hi"), nil, "")
	require.NoError(t, err)
	require.Equal(t, backend.StatusCompleted, h.wait(t, id))

	events := h.rec.For(id)
	assert.Equal(t, []string{"status:started", "partial", "partial", "partial", "finished", "status:completed"}, kinds(events))
	assert.Equal(t, "Hel", events[1].Text)
	assert.Equal(t, "lo, ", events[2].Text)
	assert.Equal(t, "world", events[3].Text)
	assert.Equal(t, "Hello, world", events[4].Text)

	assert.Empty(t, h.eng.InFlight())
	h.assertSinksRemoved(t)
}

func TestEngine_FramesSplitAcrossReads(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		sseHeaders(w)
		flusher := w.(http.Flusher)
		raw := "data: " + deltaFrame("split") + "\r\n\r\n: keep-alive\n\nevent: ping\ndata:\n\ndata: " + deltaFrame(" frame") + "\n\ndata: [DONE]"
		for i := 0; i < len(raw); i += 7 {
			end := min(i+7, len(raw))
			io.WriteString(w, raw[i:end])
			flusher.Flush()
		}
	}, nil)

	id, err := h.eng.StartRequest(userMessages("hi"), nil, "")
	require.NoError(t, err)
	require.Equal(t, backend.StatusCompleted, h.wait(t, id))

	assert.Equal(t, "split frame", h.rec.Partials(id))
	events := h.rec.For(id)
	assert.Equal(t, "split frame", events[len(events)-2].Text)
}

func TestEngine_RequestBody(t *testing.T) {
	var (
		mu   sync.Mutex
		body ChatRequest
		hdr  http.Header
		path string
	)
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		_ = json.NewDecoder(r.Body).Decode(&body)
		hdr = r.Header.Clone()
		path = r.URL.Path
		mu.Unlock()
		sseHeaders(w)
		writeFrames(w, "[DONE]")
	}, nil)
	h.eng.Config().Set(KeyModel, "config-model")
	h.eng.Config().Set(KeyOrganization, "org-1")

	id, err := h.eng.StartRequest(userMessages("hello"), backend.Params{
		KeyModel: "param-model",
		KeyStop:  "END, STOP",
		KeyUser:  "u-1",
	}, "")
	require.NoError(t, err)
	h.wait(t, id)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "/v1/chat/completions", path)
	assert.Equal(t, "Bearer sk-test", hdr.Get("Authorization"))
	assert.Equal(t, "org-1", hdr.Get("OpenAI-Organization"))
	assert.Equal(t, "param-model", body.Model)
	assert.Equal(t, DefaultMaxTokens, body.MaxTokens)
	assert.Equal(t, DefaultTemperature, body.Temperature)
	assert.Equal(t, DefaultTopP, body.TopP)
	assert.True(t, body.Stream)
	assert.Equal(t, []string{"END", "STOP"}, body.Stop)
	assert.Equal(t, "u-1", body.User)
	assert.Equal(t, userMessages("hello"), body.Messages)

	model, _ := h.eng.Config().Get(KeyModel)
	assert.Equal(t, "config-model", model, "params must not persist into config")
	_, ok := h.eng.Config().Get(KeyStop)
	assert.False(t, ok)
}

// =============================================================================
// CONFIGURATION ERRORS
// =============================================================================

func TestEngine_MissingAPIKey(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {}, nil)
	h.eng.Config().Delete(KeyAPIKey)

	id, err := h.eng.StartRequest(userMessages("hi"), nil, "req-1")
	var cfgErr *backend.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, KeyAPIKey, cfgErr.Key)
	assert.Equal(t, "req-1", id)

	require.Eventually(t, func() bool { return len(h.rec.For("req-1")) == 1 }, waitTimeout, 5*time.Millisecond)
	ev := h.rec.For("req-1")[0]
	assert.Equal(t, backend.ErrorOccurred, ev.Kind)
	assert.Contains(t, ev.Text, "API key")
	assert.Zero(t, h.hits.Load(), "no network call")
	assert.Empty(t, h.eng.InFlight())
}

func TestEngine_InvalidNumericSetting(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {}, nil)

	for _, key := range []string{KeyMaxTokens, KeyTemperature, KeyTopP, KeyStream, KeyLogitBias} {
		_, err := h.eng.StartRequest(nil, backend.Params{key: "not-a-number"}, "")
		var cfgErr *backend.ConfigurationError
		require.True(t, errors.As(err, &cfgErr), key)
		assert.Equal(t, key, cfgErr.Key)
	}
	assert.Zero(t, h.hits.Load())
}

// =============================================================================
// CANCELLATION AND REGISTRY
// =============================================================================

// blockingStream sends one fragment and then holds the connection open.
func blockingStream(w http.ResponseWriter, r *http.Request) {
	sseHeaders(w)
	writeFrames(w, deltaFrame("first"))
	<-r.Context().Done()
}

func TestEngine_CancelFromHandler(t *testing.T) {
	h := newHarness(t, blockingStream, func(eng *Engine, ev backend.Event) {
		if ev.Kind == backend.PartialResponse {
			eng.CancelRequest(ev.RequestID)
		}
	})

	id, err := h.eng.StartRequest(userMessages("hi"), nil, "")
	require.NoError(t, err)
	require.Equal(t, backend.StatusCancelled, h.wait(t, id))

	// give a stale transport time to post anything it still holds
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []string{"status:started", "partial", "status:cancelled"}, kinds(h.rec.For(id)))

	h.eng.CancelRequest(id)
	h.eng.CancelRequest("no-such-id")
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, h.rec.For(id), 3, "cancelling again is a no-op")
	assert.Empty(t, h.rec.For("no-such-id"))
	h.assertSinksRemoved(t)
}

func TestEngine_CancelMidChunk(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		sseHeaders(w)
		// one write, so every frame lands in the same read
		fmt.Fprintf(w, "data: %s\n\ndata: %s\n\ndata: %s\n\ndata: [DONE]\n\n",
			deltaFrame("a"), deltaFrame("b"), deltaFrame("c"))
	}, func(eng *Engine, ev backend.Event) {
		if ev.Kind == backend.PartialResponse && ev.Text == "a" {
			eng.CancelRequest(ev.RequestID)
		}
	})

	id, err := h.eng.StartRequest(userMessages("hi"), nil, "")
	require.NoError(t, err)
	require.Equal(t, backend.StatusCancelled, h.wait(t, id))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []string{"status:started", "partial", "status:cancelled"}, kinds(h.rec.For(id)))
	assert.Empty(t, h.eng.InFlight())
	h.assertSinksRemoved(t)
}

func TestEngine_CancelFromOtherGoroutineDropsQueuedWork(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		sseHeaders(w)
		writeFrames(w, deltaFrame("first"))
		<-release
		writeFrames(w, deltaFrame("late"), "[DONE]")
	}, nil)
	t.Cleanup(func() {
		select {
		case <-release:
		default:
			close(release)
		}
	})

	id, err := h.eng.StartRequest(userMessages("hi"), nil, "")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.rec.Partials(id) == "first" }, waitTimeout, 5*time.Millisecond)

	h.eng.CancelRequest(id)
	close(release)
	require.Equal(t, backend.StatusCancelled, h.wait(t, id))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []string{"status:started", "partial", "status:cancelled"}, kinds(h.rec.For(id)))
}

func TestEngine_CancelFromStartedHandler(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		sseHeaders(w)
		writeFrames(w, deltaFrame("never"), "[DONE]")
	}, func(eng *Engine, ev backend.Event) {
		if ev.Kind == backend.StatusChanged && ev.Status == backend.StatusStarted {
			eng.CancelRequest(ev.RequestID)
		}
	})

	id, err := h.eng.StartRequest(userMessages("hi"), nil, "")
	require.NoError(t, err)
	require.Equal(t, backend.StatusCancelled, h.wait(t, id))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []string{"status:started", "status:cancelled"}, kinds(h.rec.For(id)))
	assert.Zero(t, h.hits.Load(), "a request cancelled before its transport starts sends nothing")
	h.assertSinksRemoved(t)
}

func TestEngine_DuplicateRequestID(t *testing.T) {
	h := newHarness(t, blockingStream, nil)

	_, err := h.eng.StartRequest(userMessages("a"), nil, "dup")
	require.NoError(t, err)
	_, err = h.eng.StartRequest(userMessages("b"), nil, "dup")
	assert.ErrorIs(t, err, backend.ErrDuplicateRequest)
	assert.Equal(t, []string{"dup"}, h.eng.InFlight())

	h.eng.CancelRequest("dup")
	require.Equal(t, backend.StatusCancelled, h.wait(t, "dup"))
	assert.Empty(t, h.eng.InFlight())

	_, err = h.eng.StartRequest(userMessages("c"), nil, "dup")
	assert.NoError(t, err, "id is reusable after deregistration")
}

func TestEngine_CancelAll(t *testing.T) {
	h := newHarness(t, blockingStream, nil)

	a, _ := h.eng.StartRequest(userMessages("a"), nil, "")
	b, _ := h.eng.StartRequest(userMessages("b"), nil, "")
	require.Eventually(t, func() bool {
		return h.rec.Partials(a) != "" && h.rec.Partials(b) != ""
	}, waitTimeout, 5*time.Millisecond)

	h.eng.CancelRequest("")
	assert.Equal(t, backend.StatusCancelled, h.wait(t, a))
	assert.Equal(t, backend.StatusCancelled, h.wait(t, b))
	h.assertSinksRemoved(t)
}

func TestEngine_Close(t *testing.T) {
	h := newHarness(t, blockingStream, nil)

	id, err := h.eng.StartRequest(userMessages("a"), nil, "")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.rec.Partials(id) != "" }, waitTimeout, 5*time.Millisecond)

	require.NoError(t, h.eng.Close())
	status, ok := h.rec.WaitTerminal(id, time.Millisecond)
	require.True(t, ok)
	assert.Equal(t, backend.StatusCancelled, status)
	h.assertSinksRemoved(t)

	_, err = h.eng.StartRequest(nil, nil, "")
	assert.ErrorIs(t, err, backend.ErrClosed)
	assert.NoError(t, h.eng.Close(), "Close is idempotent")
}

// =============================================================================
// ERRORS AND ISOLATION
// =============================================================================

func TestEngine_MultiplexingIsolation(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		sseHeaders(w)
		switch req.Model {
		case "good":
			writeFrames(w, deltaFrame("a1"))
			time.Sleep(20 * time.Millisecond)
			writeFrames(w, deltaFrame("a2"), "[DONE]")
		case "bad":
			writeFrames(w, deltaFrame("b1"), `{"choices": [`)
			<-r.Context().Done()
		}
	}, nil)

	good, err := h.eng.StartRequest(userMessages("x"), backend.Params{KeyModel: "good"}, "good")
	require.NoError(t, err)
	bad, err := h.eng.StartRequest(userMessages("y"), backend.Params{KeyModel: "bad"}, "bad")
	require.NoError(t, err)

	assert.Equal(t, backend.StatusError, h.wait(t, bad))
	assert.Equal(t, backend.StatusCompleted, h.wait(t, good))

	badEvents := h.rec.For(bad)
	assert.Equal(t, []string{"status:started", "partial", "error", "status:error"}, kinds(badEvents))
	assert.Contains(t, badEvents[2].Text, "protocol error")

	goodEvents := h.rec.For(good)
	assert.Equal(t, "a1a2", goodEvents[len(goodEvents)-2].Text)
	h.assertSinksRemoved(t)
}

func TestEngine_HTTPErrorStatus(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error","code":"invalid_api_key"}}`)
	}, nil)

	id, _ := h.eng.StartRequest(userMessages("hi"), nil, "")
	require.Equal(t, backend.StatusError, h.wait(t, id))

	events := h.rec.For(id)
	assert.Equal(t, []string{"status:started", "error", "status:error"}, kinds(events))
	assert.Equal(t, "API error [invalid_api_key] (HTTP 401): Incorrect API key provided", events[1].Text)
	h.assertSinksRemoved(t)
}

func TestEngine_ErrorFrame(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		sseHeaders(w)
		writeFrames(w, deltaFrame("partial"), `{"error":{"message":"overloaded","code":null,"type":"server_error"}}`)
	}, nil)

	id, _ := h.eng.StartRequest(userMessages("hi"), nil, "")
	require.Equal(t, backend.StatusError, h.wait(t, id))
	events := h.rec.For(id)
	assert.Contains(t, events[len(events)-2].Text, "overloaded")
}

func TestEngine_EndOfBody(t *testing.T) {
	t.Run("after finish reason completes", func(t *testing.T) {
		h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
			sseHeaders(w)
			writeFrames(w, deltaFrame("done"), finishFrame("stop"))
		}, nil)

		id, _ := h.eng.StartRequest(userMessages("hi"), nil, "")
		require.Equal(t, backend.StatusCompleted, h.wait(t, id))
		events := h.rec.For(id)
		assert.Equal(t, "done", events[len(events)-2].Text)
	})

	t.Run("without finish reason fails", func(t *testing.T) {
		h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
			sseHeaders(w)
			writeFrames(w, deltaFrame("cut"))
		}, nil)

		id, _ := h.eng.StartRequest(userMessages("hi"), nil, "")
		require.Equal(t, backend.StatusError, h.wait(t, id))
		events := h.rec.For(id)
		assert.Contains(t, events[len(events)-2].Text, "stream ended before [DONE]")
		h.assertSinksRemoved(t)
	})
}

func TestEngine_NonStreaming(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Stream {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"x","choices":[{"message":{"role":"assistant","content":"whole answer"},"finish_reason":"stop"}]}`)
	}, nil)

	id, err := h.eng.StartRequest(userMessages("hi"), backend.Params{KeyStream: "false"}, "")
	require.NoError(t, err)
	require.Equal(t, backend.StatusCompleted, h.wait(t, id))

	events := h.rec.For(id)
	assert.Equal(t, []string{"status:started", "finished", "status:completed"}, kinds(events))
	assert.Equal(t, "whole answer", events[1].Text)
	h.assertSinksRemoved(t)
}

func TestEngine_ConnectionRefused(t *testing.T) {
	rec := backend.NewRecorder()
	cfg := backend.NewConfig(map[string]string{KeyAPIKey: "k", KeyBaseURL: "http://127.0.0.1:1"})
	eng := New(cfg, rec.Handle, WithSinkDir(t.TempDir()))
	defer eng.Close()

	id, err := eng.StartRequest(userMessages("hi"), nil, "")
	require.NoError(t, err)
	status, ok := rec.WaitTerminal(id, waitTimeout)
	require.True(t, ok)
	assert.Equal(t, backend.StatusError, status)

	failure := rec.For(id)[1]
	assert.True(t, strings.HasPrefix(failure.Text, "transport error: request failed"), failure.Text)
}

func TestEngine_ManyConcurrentRequests(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		sseHeaders(w)
		text := req.Messages[0].Content
		for _, ch := range text {
			writeFrames(w, deltaFrame(string(ch)))
		}
		writeFrames(w, "[DONE]")
	}, nil)

	ids := make(map[string]string)
	for i := 0; i < 20; i++ {
		text := fmt.Sprintf("request-%02d", i)
		id, err := h.eng.StartRequest(userMessages(text), nil, "")
		require.NoError(t, err)
		ids[id] = text
	}
	for id, text := range ids {
		require.Equal(t, backend.StatusCompleted, h.wait(t, id))
		assert.Equal(t, text, h.rec.Partials(id))
	}
	h.assertSinksRemoved(t)
}
