// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/jeranaias/slicebook/internal/backend"
	"github.com/jeranaias/slicebook/internal/util"
)

const (
	// MaxFrameSize is the longest line accepted without a newline (1MB).
	MaxFrameSize = 1 << 20

	// MaxResponseSize bounds non-streaming and error bodies (10MB).
	MaxResponseSize = 10 << 20

	readChunkSize = 32 * 1024
)

var (
	dataPrefix = []byte("data:")
	doneMarker = []byte("[DONE]")
)

// =============================================================================
// TRANSPORT
// =============================================================================

// transport performs the HTTP exchange for r. It runs on its own goroutine
// and only posts work to the loop.
func (e *Engine) transport(r *request) {
	defer e.transports.Done()

	req, err := http.NewRequestWithContext(r.ctx, http.MethodPost, r.spec.url, bytes.NewReader(r.spec.body))
	if err != nil {
		e.postFail(r, &backend.TransportError{Message: "failed to create request", Err: err})
		return
	}
	req.Header.Set("Authorization", "Bearer "+r.spec.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", UserAgent)
	if r.spec.organization != "" {
		req.Header.Set("OpenAI-Organization", r.spec.organization)
	}
	if r.spec.stream {
		req.Header.Set("Accept", "text/event-stream")
		req.Header.Set("Cache-Control", "no-cache")
	}

	resp, err := e.client.Do(req)
	if err != nil {
		if r.ctx.Err() == nil {
			e.postFail(r, &backend.TransportError{Message: "request failed", Err: err})
		}
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
		e.postFail(r, handleErrorResponse(resp.StatusCode, body))
		return
	}

	status := resp.StatusCode
	if !r.spec.stream {
		body, err := readResponse(resp.Body)
		if err != nil {
			if r.ctx.Err() == nil {
				e.postFail(r, &backend.TransportError{Message: "failed to read response", Err: err})
			}
			return
		}
		e.post(func() {
			if e.current(r) {
				r.statusCode = status
				e.completeBody(r, body)
			}
		})
		return
	}

	for {
		buf := make([]byte, readChunkSize)
		n, err := resp.Body.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			e.post(func() {
				if e.current(r) {
					r.statusCode = status
					e.receive(r, chunk)
				}
			})
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				e.post(func() {
					if e.current(r) {
						e.endOfBody(r)
					}
				})
			} else if r.ctx.Err() == nil {
				e.postFail(r, &backend.TransportError{Message: "stream interrupted", Err: err})
			}
			return
		}
	}
}

func (e *Engine) postFail(r *request, err error) {
	e.post(func() {
		if e.current(r) {
			e.fail(r, err)
		}
	})
}

// readResponse reads a body with a size limit.
func readResponse(body io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(body, MaxResponseSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > MaxResponseSize {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", MaxResponseSize)
	}
	return data, nil
}

// =============================================================================
// FRAME PROCESSING (loop goroutine)
// =============================================================================

// receive appends chunk to the receive buffer and processes every complete
// line in it.
func (e *Engine) receive(r *request, chunk []byte) {
	r.received += int64(len(chunk))
	r.buf = append(r.buf, chunk...)

	for {
		idx := bytes.IndexByte(r.buf, '\n')
		if idx < 0 {
			break
		}
		line := r.buf[:idx]
		rest := r.buf[idx+1:]
		if done := e.handleLine(r, line); done {
			return
		}
		r.buf = rest
	}

	if len(r.buf) > MaxFrameSize {
		e.fail(r, &backend.ProtocolError{
			Frame: util.TruncateRunes(string(r.buf), 64),
			Err:   fmt.Errorf("frame exceeds %d bytes", MaxFrameSize),
		})
		return
	}
	// compact so the buffer does not pin consumed bytes
	r.buf = append([]byte(nil), r.buf...)
}

// handleLine processes one line and reports whether the request reached a
// terminal state.
func (e *Engine) handleLine(r *request, line []byte) bool {
	line = bytes.TrimSuffix(line, []byte("\r"))
	if !bytes.HasPrefix(line, dataPrefix) {
		return false
	}
	payload := bytes.TrimSpace(line[len(dataPrefix):])
	if len(payload) == 0 {
		return false
	}
	r.frames++

	if bytes.Equal(payload, doneMarker) {
		e.finish(r)
		return true
	}

	var chunk StreamChunk
	if err := json.Unmarshal(payload, &chunk); err != nil {
		e.fail(r, &backend.ProtocolError{Frame: util.TruncateRunes(string(payload), 64), Err: err})
		return true
	}
	if chunk.Error != nil {
		e.fail(r, frameError(r.statusCode, chunk.Error))
		return true
	}
	if reason := chunk.GetFinishReason(); reason != "" {
		r.finishReason = reason
	}
	if content := chunk.GetContent(); content != "" {
		if !e.appendText(r, content) {
			return true
		}
	}
	return !e.current(r)
}

// endOfBody handles a body that closed. A final unterminated line is still
// processed; without [DONE] the request completes only if the server already
// reported a finish reason.
func (e *Engine) endOfBody(r *request) {
	if len(r.buf) > 0 {
		line := r.buf
		r.buf = nil
		if e.handleLine(r, line) {
			return
		}
	}
	if r.finishReason != "" {
		e.finish(r)
		return
	}
	e.fail(r, &backend.TransportError{Message: "stream ended before [DONE]", Err: io.ErrUnexpectedEOF})
}

// completeBody handles a non-streaming response.
func (e *Engine) completeBody(r *request, body []byte) {
	r.received = int64(len(body))
	r.frames = 1

	var resp ChatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		e.fail(r, &backend.ProtocolError{Frame: util.TruncateRunes(string(body), 64), Err: err})
		return
	}
	if resp.Error != nil {
		e.fail(r, frameError(r.statusCode, resp.Error))
		return
	}
	if len(resp.Choices) == 0 {
		e.fail(r, &backend.ProtocolError{Frame: util.TruncateRunes(string(body), 64), Err: errors.New("response has no choices")})
		return
	}
	if _, err := r.sink.WriteString(resp.GetContent()); err != nil {
		e.fail(r, fmt.Errorf("failed to write response sink: %w", err))
		return
	}
	e.finish(r)
}
