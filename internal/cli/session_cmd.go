// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jeranaias/slicebook/internal/prompt"
	"github.com/jeranaias/slicebook/internal/session"
)

// sliceView is the JSON form of a slice.
type sliceView struct {
	Index     int    `json:"index"`
	Role      string `json:"role"`
	Timestamp string `json:"timestamp"`
	Content   string `json:"content"`
}

func sliceViews(slices []session.Slice) []sliceView {
	out := make([]sliceView, len(slices))
	for i, sl := range slices {
		out[i] = sliceView{Index: i, Role: sl.Role.String(), Timestamp: sl.Timestamp, Content: sl.Content}
	}
	return out
}

// =============================================================================
// SHOW
// =============================================================================

func newShowCommand(a *app) *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "show <session>",
		Short: "Print the slices of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openSession(args[0], false)
			if err != nil {
				return err
			}
			if a.jsonOutput {
				h := s.Header()
				return a.printJSON("show", map[string]any{
					"path":        s.Path(),
					"title":       h.Title,
					"description": h.Description,
					"extra":       h.Extra,
					"slices":      sliceViews(s.Slices()),
				})
			}
			if raw {
				return s.Encode(a.out)
			}
			printSession(a, s)
			return nil
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "Print the document as stored")
	return cmd
}

func printSession(a *app, s *session.Session) {
	h := s.Header()
	if h.Title != "" {
		fmt.Fprintln(a.out, TitleStyle.Render(h.Title))
	}
	if h.Description != "" {
		fmt.Fprintln(a.out, DimStyle.Render(h.Description))
	}
	if !h.IsZero() {
		fmt.Fprintln(a.out)
	}
	for i, sl := range s.Slices() {
		if i > 0 {
			fmt.Fprintln(a.out)
		}
		fmt.Fprintf(a.out, "%s %s %s\n",
			DimStyle.Render(fmt.Sprintf("[%d]", i)),
			RoleStyle(sl.Role).Render(sl.Role.String()),
			DimStyle.Render(sl.Timestamp))
		fmt.Fprintln(a.out, sl.Content)
	}
}

// =============================================================================
// APPEND / EDIT / TRUNCATE
// =============================================================================

func newAppendCommand(a *app) *cobra.Command {
	var roleName string
	cmd := &cobra.Command{
		Use:   "append <session> [text...]",
		Short: "Append a slice (text from args or stdin)",
		Long: `Append a slice to a session, creating the document if needed.
With no text arguments, or "-", the content is read from stdin.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			role, err := session.ParseRole(roleName)
			if err != nil {
				return NewValidationError("role", roleName, "must be system, user or assistant")
			}
			s, err := a.openSession(args[0], true)
			if err != nil {
				return err
			}
			text, err := a.readText(args[1:])
			if err != nil {
				return err
			}
			idx := s.AppendSlice(role, text)
			if err := s.Save(""); err != nil {
				return WrapError(err, "failed to save session")
			}
			if a.jsonOutput {
				return a.printJSON("append", map[string]any{"index": idx, "role": role.String()})
			}
			fmt.Fprintf(a.out, "%s appended %s slice [%d]\n", SuccessStyle.Render("[OK]"), role, idx)
			return nil
		},
	}
	cmd.Flags().StringVarP(&roleName, "role", "r", "user", "Slice role (system|user|assistant)")
	return cmd
}

func parseIndex(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, ErrInvalidFormat("index", s, "a non-negative slice index, e.g. 2")
	}
	return n, nil
}

func newEditCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "edit <session> <index> [text...]",
		Short: "Replace the content of a slice",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := parseIndex(args[1])
			if err != nil {
				return err
			}
			s, err := a.openSession(args[0], false)
			if err != nil {
				return err
			}
			text, err := a.readText(args[2:])
			if err != nil {
				return err
			}
			if err := s.EditSliceContent(idx, text); err != nil {
				return &CommandError{Command: "edit", Reason: "no such slice", Err: err}
			}
			if err := s.Save(""); err != nil {
				return WrapError(err, "failed to save session")
			}
			if a.jsonOutput {
				return a.printJSON("edit", map[string]any{"index": idx})
			}
			fmt.Fprintf(a.out, "%s updated slice [%d]\n", SuccessStyle.Render("[OK]"), idx)
			return nil
		},
	}
}

func newTruncateCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "truncate <session> <index>",
		Short: "Keep slices up to and including index",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := parseIndex(args[1])
			if err != nil {
				return err
			}
			s, err := a.openSession(args[0], false)
			if err != nil {
				return err
			}
			before := s.Len()
			if err := s.TruncateAfter(idx); err != nil {
				return &CommandError{Command: "truncate", Reason: "no such slice", Err: err}
			}
			if s.IsDirty() {
				if err := s.Save(""); err != nil {
					return WrapError(err, "failed to save session")
				}
			}
			removed := before - s.Len()
			if a.jsonOutput {
				return a.printJSON("truncate", map[string]any{"kept": s.Len(), "removed": removed})
			}
			fmt.Fprintf(a.out, "%s kept %d slices, removed %d\n", SuccessStyle.Render("[OK]"), s.Len(), removed)
			return nil
		},
	}
}

// =============================================================================
// COMPILE
// =============================================================================

func newCompileCommand(a *app) *cobra.Command {
	var (
		messages bool
		render   bool
	)
	cmd := &cobra.Command{
		Use:   "compile <session>",
		Short: "Print the session with include markers expanded",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openSession(args[0], false)
			if err != nil {
				return err
			}
			c := a.compiler(s)
			slices, problems := c.ExpandedSlices(s)
			a.reportProblems(problems)

			if messages || a.jsonOutput {
				return a.printJSON("compile", map[string]any{
					"messages": prompt.ToMessages(slices),
					"problems": len(problems),
				})
			}
			displayMarkdown(a.out, prompt.FormatDocument(slices), render)
			return nil
		},
	}
	cmd.Flags().BoolVar(&messages, "messages", false, "Print the backend messages as JSON")
	cmd.Flags().BoolVar(&render, "render", true, "Render markdown when writing to a terminal")
	return cmd
}
