/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"ophthograph/internal/classify"
	"ophthograph/internal/domain"
	"ophthograph/internal/library"
	"ophthograph/internal/storage"
)

const titleColumn = 56

// formatItems renders one line per item: seq, chapter, day, title.
func formatItems(items []domain.LibraryItem) string {
	if len(items) == 0 {
		return "No items.\n"
	}
	var b strings.Builder
	for _, it := range items {
		day := it.Date
		if t, ok := it.Time(); ok {
			day = t.UTC().Format("2006-01-02")
		}
		title := runewidth.Truncate(it.Title, titleColumn, "...")
		fmt.Fprintf(&b, "%4d  %-13s  %-10s  %s\n", it.SeqID, it.ChapterID, day, title)
	}
	return b.String()
}

func notFound(err error) error {
	if errors.Is(err, library.ErrNotFound) {
		return WrapExitError(ExitFailure, "not found", err)
	}
	return err
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	var chapter string
	var recent int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List library items, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app) error {
				var (
					items []domain.LibraryItem
					err   error
				)
				if recent > 0 {
					items, err = a.lib.Recent(ctx, recent)
				} else {
					items, err = a.lib.List(ctx, chapter)
				}
				if err != nil {
					return a.out.Fail(err)
				}
				return a.out.Emit(formatItems(items), items)
			})
		},
	}
	cmd.Flags().StringVarP(&chapter, "chapter", "c", "", "only items of this chapter id")
	cmd.Flags().IntVar(&recent, "recent", 0, "only the N most recent items")
	return cmd
}

// NewAddCommand creates the add command.
func NewAddCommand(rootOpts *RootOptions) *cobra.Command {
	var in library.NewItem
	var dataFile string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Save a new infographic to the library",
		Long: `Save a new infographic. The title and summary default to the "title" and
"summary" fields of the document given with --data; the chapter is derived from the
title when not given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dataFile != "" {
				b, err := os.ReadFile(dataFile)
				if err != nil {
					return WrapExitError(ExitCommandError, "read data", err)
				}
				in.Data = b
			}
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app) error {
				it, err := a.lib.Add(ctx, in)
				if err != nil {
					return a.out.Fail(err)
				}
				return a.out.Emit(fmt.Sprintf("Added #%d %s (%s)\n", it.SeqID, it.Title, it.ChapterID), it)
			})
		},
	}
	cmd.Flags().StringVarP(&in.Title, "title", "t", "", "item title")
	cmd.Flags().StringVarP(&in.Summary, "summary", "s", "", "item summary")
	cmd.Flags().StringVarP(&in.ChapterID, "chapter", "c", "", "chapter id (default: classify the title)")
	cmd.Flags().StringVar(&dataFile, "data", "", "path to the infographic JSON document")
	return cmd
}

// NewRenameCommand creates the rename command.
func NewRenameCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <id|#seq> <title>",
		Short: "Rename a library item",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app) error {
				it, err := a.lib.Rename(ctx, args[0], args[1])
				if err != nil {
					return a.out.Fail(notFound(err))
				}
				return a.out.Emit(fmt.Sprintf("Renamed #%d to %s\n", it.SeqID, it.Title), it)
			})
		},
	}
}

// NewChapterCommand creates the chapter command.
func NewChapterCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "chapter <id|#seq> <chapter-id>",
		Short: "Assign an item to a chapter",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app) error {
				it, err := a.lib.SetChapter(ctx, args[0], args[1])
				if errors.Is(err, library.ErrInvalidChapter) {
					return a.out.Fail(WrapExitError(ExitCommandError, "see 'ophthograph chapters'", err))
				}
				if err != nil {
					return a.out.Fail(notFound(err))
				}
				return a.out.Emit(fmt.Sprintf("#%d %s is now in %s\n", it.SeqID, it.Title, it.ChapterID), it)
			})
		},
	}
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	var remoteToo bool
	cmd := &cobra.Command{
		Use:   "delete <id|#seq>...",
		Short: "Delete library items",
		Long:  "Delete items locally. With --remote they are also deleted on the library server, which needs the admin secret.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app) error {
				res, err := a.orch.DeleteItems(ctx, args, remoteToo)
				if err != nil {
					return a.out.Fail(notFound(err))
				}
				text := fmt.Sprintf("Deleted %d items.\n", len(res.Removed))
				if remoteToo {
					if res.RemoteErr != nil {
						text += fmt.Sprintf("Server delete failed: %v\n", res.RemoteErr)
					} else {
						text += fmt.Sprintf("Deleted %d items on the server.\n", res.RemoteDeleted)
					}
				}
				return a.out.Emit(text, map[string]any{
					"removed":        res.Removed,
					"remote_deleted": res.RemoteDeleted,
					"remote_error":   errString(res.RemoteErr),
				})
			})
		},
	}
	cmd.Flags().BoolVar(&remoteToo, "remote", false, "also delete on the library server")
	return cmd
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.json>",
		Short: "Merge an exported library file into the library",
		Long:  "Merge a library export. Items whose title matches an existing item are skipped.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := storage.ImportJSON(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "read import file", err)
			}
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app) error {
				res, err := a.lib.Import(ctx, items)
				if err != nil {
					return a.out.Fail(err)
				}
				return a.out.Emit(fmt.Sprintf("Imported %d items, %d updated, %d skipped as duplicates.\n",
					res.Added, res.Updated, res.SkippedDuplicates), map[string]any{
					"added":   res.Added,
					"updated": res.Updated,
					"skipped": res.SkippedDuplicates,
					"titles":  res.AddedTitles,
				})
			})
		},
	}
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "export <file.json>",
		Short: "Write the whole library to a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app) error {
				items, err := a.lib.Items(ctx)
				if err != nil {
					return a.out.Fail(err)
				}
				if err := storage.ExportJSON(args[0], items); err != nil {
					return a.out.Fail(err)
				}
				return a.out.Emit(fmt.Sprintf("Exported %d items to %s\n", len(items), args[0]),
					map[string]any{"count": len(items), "path": args[0]})
			})
		},
	}
}

// NewSearchCommand creates the search command.
func NewSearchCommand(rootOpts *RootOptions) *cobra.Command {
	var q storage.SearchQuery
	cmd := &cobra.Command{
		Use:   "search <text>...",
		Short: "Full-text search over titles and summaries",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q.Text = strings.Join(args, " ")
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app) error {
				hits, err := a.store.Search(ctx, q)
				if err != nil {
					return a.out.Fail(err)
				}
				var b strings.Builder
				if len(hits) == 0 {
					b.WriteString("No matches.\n")
				}
				for _, h := range hits {
					fmt.Fprintf(&b, "%4d  %-13s  %s\n", h.SeqID, h.ChapterID, runewidth.Truncate(h.Title, titleColumn, "..."))
					if h.Snippet != "" {
						fmt.Fprintf(&b, "      %s\n", h.Snippet)
					}
				}
				return a.out.Emit(b.String(), hits)
			})
		},
	}
	cmd.Flags().StringVarP(&q.ChapterID, "chapter", "c", "", "only items of this chapter id")
	cmd.Flags().IntVar(&q.Limit, "limit", 20, "maximum number of results")
	cmd.Flags().IntVar(&q.Offset, "offset", 0, "skip this many results")
	return cmd
}

// NewChaptersCommand creates the chapters command.
func NewChaptersCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "chapters",
		Short: "List the chapter taxonomy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(rootOpts, cmd)
			chapters := domain.DefaultChapters()
			var b strings.Builder
			for _, c := range chapters {
				fmt.Fprintf(&b, "%-13s  %s  %s\n", c.ID, c.Color, c.Name)
			}
			fmt.Fprintf(&b, "%-13s  %s  %s\n", domain.Uncategorized, "       ", "Uncategorized")
			return out.Emit(b.String(), chapters)
		},
	}
}

// NewClassifyCommand creates the classify command.
func NewClassifyCommand(rootOpts *RootOptions) *cobra.Command {
	var explain bool
	cmd := &cobra.Command{
		Use:   "classify <title>...",
		Short: "Show the chapter a title would be filed under",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(rootOpts, cmd)
			title := strings.Join(args, " ")
			id, keyword, ok := classify.Explain(title)
			text := id + "\n"
			if explain {
				if ok {
					text = fmt.Sprintf("%s (matched %q)\n", id, keyword)
				} else {
					text = fmt.Sprintf("%s (no keyword matched)\n", id)
				}
			}
			return out.Emit(text, map[string]any{"title": title, "chapterId": id, "keyword": keyword})
		},
	}
	cmd.Flags().BoolVar(&explain, "explain", false, "show the keyword that matched")
	return cmd
}
