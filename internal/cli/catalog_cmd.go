// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/slicebook/internal/storage"
)

// openCatalog opens the catalog for dir, or the configured sessions
// directory when dir is empty.
func (a *app) openCatalog(dir string) (*storage.Catalog, error) {
	if dir == "" {
		dir = a.cfg.Project.SessionsDir
	}
	if dir == "" {
		dir = "."
	}
	cfg := storage.DefaultConfig(dir)
	cfg.DatabasePath = a.cfg.CatalogPath(dir)
	cat, err := storage.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open session catalog: %w", err)
	}
	return cat, nil
}

func optionalArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return ""
}

// sessionMetaView is the JSON shape of a catalog row.
type sessionMetaView struct {
	Path          string    `json:"path"`
	Title         string    `json:"title"`
	Description   string    `json:"description,omitempty"`
	Slices        int       `json:"slices"`
	LastRole      string    `json:"last_role,omitempty"`
	LastTimestamp string    `json:"last_timestamp,omitempty"`
	Preview       string    `json:"preview,omitempty"`
	Modified      time.Time `json:"modified"`
	Size          int64     `json:"size"`
	Error         string    `json:"error,omitempty"`
}

func metaViews(metas []storage.SessionMeta) []sessionMetaView {
	views := make([]sessionMetaView, len(metas))
	for i, m := range metas {
		views[i] = sessionMetaView{
			Path:          m.Path,
			Title:         m.DisplayTitle(),
			Description:   m.Description,
			Slices:        m.SliceCount,
			LastRole:      m.LastRole,
			LastTimestamp: m.LastTimestamp,
			Preview:       m.Preview,
			Modified:      m.ModTime,
			Size:          m.Size,
			Error:         m.ParseError,
		}
	}
	return views
}

// =============================================================================
// LIST
// =============================================================================

func newListCommand(a *app) *cobra.Command {
	var (
		query string
		limit int
		all   bool
	)
	cmd := &cobra.Command{
		Use:   "list [dir]",
		Short: "List session documents, most recently changed first",
		Long: `Refresh the session catalog for a directory and list its documents. The
directory defaults to project.sessions_dir. Documents that fail to parse are
hidden unless --all is given.`,
		Example: `  slicebook list
  slicebook list ~/notes --query review --limit 5`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := a.openCatalog(optionalArg(args))
			if err != nil {
				return err
			}
			defer cat.Close()

			ctx := cmd.Context()
			if _, err := cat.Refresh(ctx); err != nil {
				return err
			}
			metas, err := cat.List(ctx, storage.ListOptions{Query: query, Limit: limit, IncludeInvalid: all})
			if err != nil {
				return err
			}
			if a.jsonOutput {
				return a.printJSON("list", map[string]any{
					"root":     cat.Root(),
					"sessions": metaViews(metas),
				})
			}
			fmt.Fprint(a.out, storage.FormatSessionList(metas, GetTerminalWidth()))
			return nil
		},
	}
	cmd.Flags().StringVarP(&query, "query", "q", "", "Only list sessions whose path, title or description contains this text")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum number of sessions to list")
	cmd.Flags().BoolVarP(&all, "all", "a", false, "Include documents that failed to parse")
	return cmd
}

// =============================================================================
// INDEX
// =============================================================================

func newIndexCommand(a *app) *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "index [dir]",
		Short: "Rebuild the session catalog for a directory",
		Long: `Scan a sessions directory and update its catalog. With --watch the command
keeps running and re-indexes documents as they change until interrupted.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := a.openCatalog(optionalArg(args))
			if err != nil {
				return err
			}
			defer cat.Close()

			stats, err := cat.Refresh(cmd.Context())
			if err != nil {
				return err
			}
			if a.jsonOutput {
				if err := a.printJSON("index", map[string]any{
					"root":        cat.Root(),
					"scanned":     stats.Scanned,
					"indexed":     stats.Indexed,
					"unchanged":   stats.Unchanged,
					"removed":     stats.Removed,
					"invalid":     stats.Invalid,
					"duration_ms": stats.Duration.Milliseconds(),
				}); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(a.out, "%s %s\n", SuccessStyle.Render("Indexed"), cat.Root())
				fmt.Fprintln(a.out, RenderLabel("Scanned", fmt.Sprint(stats.Scanned)))
				fmt.Fprintln(a.out, RenderLabel("Updated", fmt.Sprint(stats.Indexed)))
				fmt.Fprintln(a.out, RenderLabel("Unchanged", fmt.Sprint(stats.Unchanged)))
				fmt.Fprintln(a.out, RenderLabel("Removed", fmt.Sprint(stats.Removed)))
				if stats.Invalid > 0 {
					fmt.Fprintln(a.out, RenderLabel("Invalid", WarningStyle.Render(fmt.Sprint(stats.Invalid))))
				}
				fmt.Fprintln(a.out, RenderLabel("Took", stats.Duration.Round(time.Millisecond).String()))
			}

			if !watch {
				return nil
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.watchCatalog(ctx, cat)
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Keep re-indexing documents as they change")
	return cmd
}

func (a *app) watchCatalog(ctx context.Context, cat *storage.Catalog) error {
	w, err := storage.NewWatcher(cat, storage.OnChange(func(path string, meta storage.SessionMeta, err error) {
		switch {
		case err != nil:
			a.warnf("%s: %v", path, err)
		case meta.Path == "":
			fmt.Fprintf(a.out, "%s %s\n", DimStyle.Render("removed"), path)
		case !meta.Valid():
			fmt.Fprintf(a.out, "%s %s: %s\n", WarningStyle.Render("invalid"), meta.Path, meta.ParseError)
		default:
			fmt.Fprintf(a.out, "%s %s (%d slices)\n", SuccessStyle.Render("indexed"), meta.Path, meta.SliceCount)
		}
	}))
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := w.Start(); err != nil {
		w.Close()
		return fmt.Errorf("failed to start watcher: %w", err)
	}
	if !a.jsonOutput {
		fmt.Fprintln(a.out, DimStyle.Render("Watching for changes. Press Ctrl+C to stop."))
	}
	<-ctx.Done()
	return w.Close()
}
