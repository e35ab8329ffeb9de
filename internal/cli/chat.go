// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/jeranaias/slicebook/internal/backend"
	"github.com/jeranaias/slicebook/internal/cloud"
	"github.com/jeranaias/slicebook/internal/config"
	"github.com/jeranaias/slicebook/internal/conversation"
	"github.com/jeranaias/slicebook/internal/prompt"
	"github.com/jeranaias/slicebook/internal/session"
)

// =============================================================================
// INPUT
// =============================================================================

// lineReader reads one line of user input per call. io.EOF ends the chat.
type lineReader interface {
	Prompt(prompt string) (string, error)
	Close() error
}

// historyReader provides line editing and persistent history on a terminal.
type historyReader struct {
	line        *liner.State
	historyFile string
}

func newHistoryReader() *historyReader {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	dir, err := config.ConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	r := &historyReader{line: line, historyFile: filepath.Join(dir, "chat_history")}
	if f, err := os.Open(r.historyFile); err == nil {
		_, _ = r.line.ReadHistory(f)
		f.Close()
	}
	return r
}

func (r *historyReader) Prompt(prompt string) (string, error) {
	input, err := r.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		r.line.AppendHistory(input)
	}
	return input, nil
}

// Close saves history owner-readable only and restores the terminal.
func (r *historyReader) Close() error {
	if err := os.MkdirAll(filepath.Dir(r.historyFile), 0700); err == nil {
		if f, err := os.OpenFile(r.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
			_, _ = r.line.WriteHistory(f)
			f.Close()
		}
	}
	return r.line.Close()
}

// scanReader reads piped input line by line without echoing a prompt.
type scanReader struct {
	sc *bufio.Scanner
}

func newScanReader(r io.Reader) *scanReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &scanReader{sc: sc}
}

func (r *scanReader) Prompt(string) (string, error) {
	if r.sc.Scan() {
		return r.sc.Text(), nil
	}
	if err := r.sc.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

func (r *scanReader) Close() error { return nil }

// =============================================================================
// COMMAND
// =============================================================================

func newChatCommand(a *app) *cobra.Command {
	var rf requestFlags
	cmd := &cobra.Command{
		Use:   "chat <session>",
		Short: "Start an interactive chat on a session document",
		Long: `Read lines from the terminal and run each as a turn on the session. Answers
stream into the document as they arrive. Lines starting with / are chat
commands; type /help to list them. Ctrl+C cancels the current answer and
Ctrl+D exits.`,
		Example: `  slicebook chat notes.md
  slicebook chat notes.md --model gpt-4o`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := rf.build(cmd)
			if err != nil {
				return err
			}
			s, err := a.openSession(args[0], true)
			if err != nil {
				return err
			}

			var reader lineReader
			interactive := isTerminalReader(a.in) && isTerminalWriter(a.out)
			if interactive {
				reader = newHistoryReader()
			} else {
				reader = newScanReader(a.in)
			}
			defer reader.Close()

			c := newChat(a, s, params, reader)
			defer c.close()
			if interactive {
				c.banner()
			}
			return c.run(cmd.Context())
		},
	}
	rf.register(cmd)
	return cmd
}

// =============================================================================
// CHAT LOOP
// =============================================================================

type chat struct {
	a       *app
	sess    *session.Session
	reader  lineReader
	printer *turnPrinter
	runner  *conversation.Runner
	eng     *cloud.Engine
	params  backend.Params
	quit    bool
}

func newChat(a *app, s *session.Session, params backend.Params, reader lineReader) *chat {
	c := &chat{
		a:       a,
		sess:    s,
		reader:  reader,
		printer: &turnPrinter{w: a.out},
		params:  params,
	}
	c.eng = a.newEngine(func(ev backend.Event) { c.runner.Handle(ev) })
	c.runner = conversation.NewRunner(s, c.eng,
		conversation.WithCompiler(a.compiler(s)),
		conversation.WithObserver(c.printer.observe))
	return c
}

func (c *chat) close() {
	c.eng.Close()
}

func (c *chat) banner() {
	fmt.Fprintln(c.a.out, TitleStyle.Render("slicebook chat")+" "+DimStyle.Render(c.sess.Path()))
	fmt.Fprintln(c.a.out, DimStyle.Render(fmt.Sprintf("%d slices. Type /help for commands, Ctrl+D to exit.", c.sess.Len())))
}

func (c *chat) run(ctx context.Context) error {
	for !c.quit {
		if ctx.Err() != nil {
			return nil
		}
		input, err := c.reader.Prompt(PromptStyle.Render("> "))
		if errors.Is(err, liner.ErrPromptAborted) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}
		input = strings.TrimSpace(input)
		switch {
		case input == "":
			continue
		case strings.HasPrefix(input, "/"):
			if err := c.command(ctx, input); err != nil {
				fmt.Fprintln(c.a.err, ErrorStyle.Render("Error: ")+err.Error())
			}
		default:
			if err := c.turn(ctx, input); err != nil {
				fmt.Fprintln(c.a.err, ErrorStyle.Render("Error: ")+err.Error())
			}
		}
	}
	return nil
}

// turn runs one request. Ctrl+C while it streams cancels only the request.
func (c *chat) turn(ctx context.Context, text string) error {
	turnCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	c.printer.reset()
	res, err := runTurn(turnCtx, c.runner, text, c.params)
	c.printer.finish()
	if err != nil {
		return err
	}
	if res.SaveErr != nil {
		c.a.warnf("session not saved: %v", res.SaveErr)
	}
	if res.Status == backend.StatusCancelled {
		c.a.warnf("cancelled")
	}
	return turnError(res)
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

const chatHelp = `Commands:
  /help               Show this help
  /show               Print the session
  /compile            Print the session with includes expanded
  /truncate N         Keep slices 0..N and drop the rest
  /retry              Drop the last answer and ask again
  /model [NAME]       Show or set the model for later turns
  /param KEY=VALUE    Set a request setting for later turns (KEY= clears it)
  /title [TEXT]       Show or set the document title
  /save               Write the session to disk
  /quit, /exit        Leave the chat`

func (c *chat) command(ctx context.Context, input string) error {
	name, arg, _ := strings.Cut(input, " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(name) {
	case "/help", "/h":
		fmt.Fprintln(c.a.out, chatHelp)
	case "/quit", "/exit", "/q":
		c.quit = true
	case "/show":
		printSession(c.a, c.sess)
	case "/compile":
		slices, problems := c.runner.Compiler().ExpandedSlices(c.sess)
		c.a.reportProblems(problems)
		displayMarkdown(c.a.out, prompt.FormatDocument(slices), true)
	case "/truncate":
		index, err := parseIndex(arg)
		if err != nil {
			return err
		}
		if err := c.sess.TruncateAfter(index); err != nil {
			return err
		}
		fmt.Fprintf(c.a.out, "%d slices kept\n", c.sess.Len())
		return c.save()
	case "/retry":
		last, ok := c.sess.Last()
		if ok && last.Role == session.RoleAssistant {
			if err := c.sess.DeleteSlice(c.sess.Len() - 1); err != nil {
				return err
			}
		}
		if c.sess.Len() == 0 {
			return errors.New("nothing to retry")
		}
		return c.turn(ctx, "")
	case "/model":
		if arg == "" {
			fmt.Fprintln(c.a.out, RenderLabel("model", c.model()))
			return nil
		}
		c.params[cloud.KeyModel] = arg
	case "/param":
		if arg == "" {
			c.printParams()
			return nil
		}
		key, value, ok := strings.Cut(arg, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return ErrInvalidFormat("param", arg, "KEY=VALUE")
		}
		if value == "" {
			delete(c.params, key)
		} else {
			c.params[key] = strings.TrimSpace(value)
		}
	case "/title":
		h := c.sess.Header()
		if arg == "" {
			fmt.Fprintln(c.a.out, RenderLabel("title", h.Title))
			return nil
		}
		h.Title = arg
		c.sess.SetHeader(h)
		return c.save()
	case "/save":
		if err := c.save(); err != nil {
			return err
		}
		fmt.Fprintln(c.a.out, SuccessStyle.Render("saved ")+c.sess.Path())
	default:
		return fmt.Errorf("unknown command %s (try /help)", name)
	}
	return nil
}

func (c *chat) save() error {
	if c.sess.Path() == "" {
		return nil
	}
	return c.sess.Save("")
}

func (c *chat) model() string {
	if m := c.params[cloud.KeyModel]; m != "" {
		return m
	}
	return c.a.cfg.Backend.Model
}

func (c *chat) printParams() {
	if len(c.params) == 0 {
		fmt.Fprintln(c.a.out, DimStyle.Render("no overrides"))
		return
	}
	keys := make([]string, 0, len(c.params))
	for k := range c.params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintln(c.a.out, RenderLabel(k, c.params[k]))
	}
}
