// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/slicebook/internal/backend"
	"github.com/jeranaias/slicebook/internal/cloud"
	"github.com/jeranaias/slicebook/internal/conversation"
)

// cancelGrace bounds the wait for a cancelled request to report its status.
const cancelGrace = 5 * time.Second

// =============================================================================
// REQUEST FLAGS
// =============================================================================

// requestFlags are the per-request overrides shared by ask and chat. Only
// flags set on the command line become params.
type requestFlags struct {
	model       string
	temperature float64
	maxTokens   int
	noStream    bool
	params      []string
}

func (f *requestFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVarP(&f.model, "model", "m", "", "Model for this request")
	flags.Float64VarP(&f.temperature, "temperature", "t", 0, "Sampling temperature for this request")
	flags.IntVar(&f.maxTokens, "max-tokens", 0, "Completion token limit for this request")
	flags.BoolVar(&f.noStream, "no-stream", false, "Request the whole response at once")
	flags.StringArrayVarP(&f.params, "param", "p", nil, "Extra request setting as key=value (repeatable)")
}

func (f *requestFlags) build(cmd *cobra.Command) (backend.Params, error) {
	params := make(backend.Params)
	for _, kv := range f.params {
		key, value, ok := strings.Cut(kv, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, ErrInvalidFormat("param", kv, "key=value, e.g. --param top_p=0.9")
		}
		params[key] = value
	}
	flags := cmd.Flags()
	if flags.Changed("model") {
		params[cloud.KeyModel] = f.model
	}
	if flags.Changed("temperature") {
		params[cloud.KeyTemperature] = strconv.FormatFloat(f.temperature, 'g', -1, 64)
	}
	if flags.Changed("max-tokens") {
		params[cloud.KeyMaxTokens] = strconv.Itoa(f.maxTokens)
	}
	if f.noStream {
		params[cloud.KeyStream] = "false"
	}
	return params, nil
}

// =============================================================================
// TURN OUTPUT
// =============================================================================

// turnPrinter writes the output of the current turn as it arrives. With
// quiet set nothing is written and the caller renders the final text.
type turnPrinter struct {
	w     io.Writer
	quiet bool

	mu      sync.Mutex
	printed bool
}

func (p *turnPrinter) reset() {
	p.mu.Lock()
	p.printed = false
	p.mu.Unlock()
}

func (p *turnPrinter) observe(ev backend.Event) {
	if p.quiet {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	switch ev.Kind {
	case backend.PartialResponse:
		fmt.Fprint(p.w, ev.Text)
		p.printed = p.printed || ev.Text != ""
	case backend.Finished:
		// non-streaming responses arrive only here
		if !p.printed {
			fmt.Fprint(p.w, ev.Text)
			p.printed = ev.Text != ""
		}
	}
}

// finish ends the streamed output with a newline.
func (p *turnPrinter) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.printed {
		fmt.Fprintln(p.w)
	}
}

// =============================================================================
// TURN EXECUTION
// =============================================================================

// runTurn sends one turn and waits for it. When ctx ends first the request
// is cancelled and its final state is still returned.
func runTurn(ctx context.Context, runner *conversation.Runner, text string, params backend.Params) (conversation.Result, error) {
	if _, err := runner.Send(text, params); err != nil {
		return conversation.Result{}, err
	}
	res, err := runner.Wait(ctx)
	if err == nil {
		return res, nil
	}

	runner.Cancel()
	graceCtx, cancel := context.WithTimeout(context.Background(), cancelGrace)
	defer cancel()
	res, waitErr := runner.Wait(graceCtx)
	if waitErr != nil {
		return res, fmt.Errorf("request did not stop after cancel: %w", waitErr)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return res, fmt.Errorf("request timed out: %w", err)
	}
	return res, nil
}

// turnError converts a failed result into an error.
func turnError(res conversation.Result) error {
	if res.Status != backend.StatusError {
		return nil
	}
	msg := "request failed"
	if res.Err != nil {
		msg = res.Err.Error()
	}
	return &RequestError{RequestID: res.RequestID, Message: msg}
}
