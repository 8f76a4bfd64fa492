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
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"ophthograph/internal/auth"
	"ophthograph/internal/domain"
	"ophthograph/internal/library"
	"ophthograph/internal/syncer"
)

// startupTimeout bounds the open command when the remote hangs.
const startupTimeout = 2 * time.Minute

func syncFailure(err error) error {
	switch {
	case errors.Is(err, auth.ErrUnauthorized), errors.Is(err, auth.ErrNoSecret):
		return WrapExitError(ExitFailure, "not authorized", err)
	case errors.Is(err, syncer.ErrNoSource):
		return WrapExitError(ExitCommandError, "configure sync.static_feed_url, sync.community_url or backend.base_url", err)
	}
	return err
}

// NewOpenCommand creates the open command.
func NewOpenCommand(rootOpts *RootOptions) *cobra.Command {
	var noSync bool
	cmd := &cobra.Command{
		Use:   "open",
		Short: "Open the library: remove duplicates, sync silently, show an overview",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app) error {
				if !noSync {
					sctx, cancel := context.WithTimeout(ctx, startupTimeout)
					err := a.orch.Startup(sctx, a.cfg.Sync.StartupDelay())
					cancel()
					if err != nil {
						a.log.Warn("startup sync did not finish", slog.Any("err", err))
					}
				}
				items, err := a.lib.Items(ctx)
				if err != nil {
					return a.out.Fail(err)
				}
				counts := map[string]int{}
				for _, it := range items {
					counts[it.ChapterID]++
				}
				var b strings.Builder
				fmt.Fprintf(&b, "Library: %d items in %s\n", len(items), a.store.Dir())
				for _, c := range domain.DefaultChapters() {
					if n := counts[c.ID]; n > 0 {
						fmt.Fprintf(&b, "  %-40s %4d\n", c.Name, n)
					}
				}
				if n := counts[domain.Uncategorized]; n > 0 {
					fmt.Fprintf(&b, "  %-40s %4d\n", "Uncategorized", n)
				}
				return a.out.Emit(b.String(), map[string]any{"items": len(items), "chapters": counts, "dir": a.store.Dir()})
			})
		},
	}
	cmd.Flags().BoolVar(&noSync, "no-sync", false, "skip the startup duplicate pass and pull")
	return cmd
}

// NewPullCommand creates the pull command.
func NewPullCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pull",
		Short: "Merge the remote library into the local one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app) error {
				res, err := a.orch.Pull(ctx, false)
				if err != nil {
					return a.out.Fail(syncFailure(err))
				}
				text := res.Summary
				if len(res.Pushed) > 0 {
					text += syncer.SummarizePush(res.Pushed, a.cfg.Sync.SummaryLimit)
				}
				return a.out.Emit(text, map[string]any{
					"mode":    res.Mode,
					"added":   res.Merge.Added,
					"updated": res.Merge.Updated,
					"skipped": res.Merge.SkippedDuplicates,
					"pushed":  len(res.Pushed),
				})
			})
		},
	}
}

// NewPushCommand creates the push command.
func NewPushCommand(rootOpts *RootOptions) *cobra.Command {
	var all bool
	var user string
	cmd := &cobra.Command{
		Use:   "push [id|#seq]...",
		Short: "Upload items to the server, or submit them to the community pool",
		Long: `Upload items to the library server. Without a server the items are submitted to
the community pool instead, attributed to --user (default: sync.user_name).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && len(args) == 0 {
				return NewExitError(ExitCommandError, "name items to push or use --all")
			}
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app) error {
				items, err := a.selectItems(ctx, args, all)
				if err != nil {
					return a.out.Fail(notFound(err))
				}
				name := user
				if name == "" {
					name = a.cfg.Sync.UserName
				}
				res, err := a.orch.Push(ctx, items, syncer.PushOptions{UserName: name})
				if errors.Is(err, syncer.ErrAttributionRequired) {
					return a.out.Fail(WrapExitError(ExitCommandError, "pass --user or set sync.user_name", err))
				}
				if err != nil {
					return a.out.Fail(syncFailure(err))
				}
				if err := a.out.Emit(res.Summary, map[string]any{
					"mode": res.Mode, "succeeded": res.Succeeded, "failed": res.Failed,
				}); err != nil {
					return err
				}
				if res.Failed > 0 {
					return NewExitError(ExitFailure, fmt.Sprintf("%d of %d items failed", res.Failed, len(res.Outcomes)))
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "push every item")
	cmd.Flags().StringVar(&user, "user", "", "name credited for community submissions")
	return cmd
}

func (a *app) selectItems(ctx context.Context, refs []string, all bool) ([]domain.LibraryItem, error) {
	if all {
		return a.lib.Items(ctx)
	}
	out := make([]domain.LibraryItem, 0, len(refs))
	for _, ref := range refs {
		it, err := a.lib.Get(ctx, ref)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, nil
}

// NewDedupCommand creates the dedup command.
func NewDedupCommand(rootOpts *RootOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "dedup",
		Short: "List duplicate titles and delete the newer copies",
		Long: `List items whose titles only differ in case, spacing or punctuation. After
confirmation and the admin secret the newer copies are deleted; the oldest item stays.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app) error {
				w := cmd.ErrOrStderr()
				rep, err := a.orch.ResolveDuplicates(ctx, func(_ context.Context, groups []library.DuplicateGroup) bool {
					n := 0
					for _, g := range groups {
						fmt.Fprintf(w, "keep   #%d %s\n", g.Keep.SeqID, g.Keep.Title)
						for _, r := range g.Remove {
							fmt.Fprintf(w, "delete #%d %s\n", r.SeqID, r.Title)
							n++
						}
					}
					return a.confirm(w, fmt.Sprintf("Delete %d duplicate items?", n), yes)
				})
				if err != nil {
					return a.out.Fail(syncFailure(err))
				}
				text := syncer.SummarizeDedup(rep, a.cfg.Sync.SummaryLimit)
				if len(rep.Groups) > 0 && len(rep.Removed) == 0 {
					text = "Nothing deleted.\n"
				}
				return a.out.Emit(text, map[string]any{"groups": len(rep.Groups), "removed": rep.Removed})
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}
