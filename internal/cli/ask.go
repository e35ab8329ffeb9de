// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/slicebook/internal/backend"
	"github.com/jeranaias/slicebook/internal/conversation"
)

func newAskCommand(a *app) *cobra.Command {
	var (
		rf      requestFlags
		render  bool
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "ask <session> [text...]",
		Short: "Run one turn and stream the answer into the session",
		Long: `Append the text as a User slice, send the compiled session to the backend
and stream the answer into a new Assistant slice. With no text the session is
sent as it stands. Ctrl+C cancels the request and keeps the partial answer.`,
		Example: `  slicebook ask notes.md "Summarize the open questions"
  git diff | slicebook ask review.md -
  slicebook ask notes.md --model gpt-4o --param top_p=0.9 "Try again, shorter"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := rf.build(cmd)
			if err != nil {
				return err
			}
			s, err := a.openSession(args[0], true)
			if err != nil {
				return err
			}
			text, err := a.readText(args[1:])
			if err != nil {
				return err
			}
			if text == "" && s.Len() == 0 {
				return ErrMissingArgument("text", `slicebook ask notes.md "your question"`)
			}

			printer := &turnPrinter{w: a.out, quiet: a.jsonOutput || (render && isTerminalWriter(a.out))}
			var runner *conversation.Runner
			eng := a.newEngine(func(ev backend.Event) { runner.Handle(ev) })
			defer eng.Close()
			runner = conversation.NewRunner(s, eng,
				conversation.WithCompiler(a.compiler(s)),
				conversation.WithObserver(printer.observe))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			res, err := runTurn(ctx, runner, text, params)
			printer.finish()
			if err != nil {
				return err
			}
			if res.SaveErr != nil {
				a.warnf("session not saved: %v", res.SaveErr)
			}

			if a.jsonOutput {
				data := map[string]any{
					"request_id": res.RequestID,
					"status":     string(res.Status),
					"text":       res.Text,
					"path":       s.Path(),
				}
				if err := turnError(res); err != nil {
					return err
				}
				return a.printJSON("ask", data)
			}
			if printer.quiet && res.Text != "" {
				displayMarkdown(a.out, res.Text, true)
			}
			if res.Status == backend.StatusCancelled {
				a.warnf("request cancelled; partial answer kept in %s", s.Path())
			}
			return turnError(res)
		},
	}
	rf.register(cmd)
	cmd.Flags().BoolVar(&render, "render", false, "Render the answer as markdown when done (terminal only)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Cancel the request after this long (e.g. 2m)")
	return cmd
}
