/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package syncer decides when and against what the library is reconciled: the silent
// startup pass, explicit pulls and pushes, duplicate resolution and deletion.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"ophthograph/internal/auth"
	"ophthograph/internal/classify"
	"ophthograph/internal/domain"
	"ophthograph/internal/library"
	applog "ophthograph/internal/log"
	"ophthograph/internal/remote"
	"ophthograph/internal/telemetry"
)

var (
	// ErrSyncInProgress is returned when an operation starts while another is running.
	ErrSyncInProgress = errors.New("a sync operation is already running")
	// ErrAttributionRequired is returned by static-mode pushes without a user name.
	ErrAttributionRequired = remote.ErrAttributionRequired
	// ErrNoCommunity means static-mode push has no community pool configured.
	ErrNoCommunity = errors.New("no community pool configured")
	// ErrNoSource means no remote is configured at all.
	ErrNoSource = errors.New("no remote source configured")
)

// DefaultSummaryLimit is how many titles per category a summary lists.
const DefaultSummaryLimit = 5

// annotationTTL is how long recency markers are kept after a pull.
const annotationTTL = 24 * time.Hour

// Submitter writes items to the community pool.
type Submitter interface {
	Submit(ctx context.Context, it domain.LibraryItem, userName string) (domain.Submission, error)
}

// RemoteDeleter removes items from a live backend.
type RemoteDeleter interface {
	Delete(ctx context.Context, ids []string) (int, error)
}

// Options wires an Orchestrator. Repo is required; everything else may be nil.
type Options struct {
	Repo         library.Repository
	Source       remote.Source
	Community    Submitter
	Deleter      RemoteDeleter
	Gate         auth.Gate
	Notifier     Notifier
	Telemetry    telemetry.Sink
	SummaryLimit int
	Classify     func(string) string
	Now          func() time.Time
}

// Orchestrator runs one library operation at a time.
type Orchestrator struct {
	repo      library.Repository
	lib       *library.Service
	source    remote.Source
	community Submitter
	deleter   RemoteDeleter
	gate      auth.Gate
	notify    Notifier
	events    telemetry.Sink
	limit     int
	classify  func(string) string
	now       func() time.Time
	log       *slog.Logger

	busy atomic.Bool
	ann  *library.Annotations
}

func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		repo:      opts.Repo,
		lib:       library.NewService(opts.Repo),
		source:    opts.Source,
		community: opts.Community,
		deleter:   opts.Deleter,
		gate:      opts.Gate,
		notify:    opts.Notifier,
		events:    opts.Telemetry,
		limit:     opts.SummaryLimit,
		classify:  opts.Classify,
		now:       opts.Now,
		log:       applog.WithComponent("syncer"),
		ann:       library.NewAnnotations(),
	}
	if o.notify == nil {
		o.notify = NopNotifier{}
	}
	if o.limit <= 0 {
		o.limit = DefaultSummaryLimit
	}
	if o.classify == nil {
		o.classify = classify.Chapter
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o
}

// Annotations exposes the recency markers collected by pulls.
func (o *Orchestrator) Annotations() *library.Annotations { return o.ann }

func (o *Orchestrator) begin() error {
	if !o.busy.CompareAndSwap(false, true) {
		return ErrSyncInProgress
	}
	return nil
}

func (o *Orchestrator) end() { o.busy.Store(false) }

func (o *Orchestrator) event(name string, props map[string]any) {
	if o.events != nil {
		o.events.Event(name, props)
	}
}

// PullResult describes one pull.
type PullResult struct {
	Mode    remote.Mode
	Merge   library.MergeResult
	Pushed  []remote.Outcome
	Summary string
	// Offline is set when a silent pull could not reach the remote.
	Offline bool
}

// Pull fetches the remote collection, merges it into the local library and saves the
// result when anything changed. In server mode local-only items are then uploaded.
//
// A silent pull never notifies. Remote failures are only logged and return a zero result
// with Offline set. An explicit pull notifies the summary or the failure and returns it.
func (o *Orchestrator) Pull(ctx context.Context, silent bool) (PullResult, error) {
	if err := o.begin(); err != nil {
		return PullResult{}, err
	}
	defer o.end()
	l := applog.WithOperation(o.log, "pull").With(slog.Bool("silent", silent))

	if o.source == nil {
		if silent {
			return PullResult{Offline: true}, nil
		}
		return PullResult{}, ErrNoSource
	}
	res := PullResult{Mode: o.source.Mode()}
	l = l.With(slog.String("mode", string(res.Mode)))

	snap, err := o.source.FetchAll(ctx)
	if err != nil {
		l.Warn("remote unavailable", slog.Any("err", err))
		if silent {
			res.Offline = true
			return res, nil
		}
		o.notify.Notify(ctx, Notice{Level: LevelWarning, Title: "Sync failed", Body: err.Error()})
		return res, fmt.Errorf("fetch remote: %w", err)
	}

	local, repaired, err := o.load(ctx)
	if err != nil {
		return res, err
	}
	res.Merge = library.Merge(library.MergeInput{
		Local:    local,
		Remote:   snap.Items,
		Approved: snap.Approved,
		Now:      o.now(),
		FromSync: true,
		Classify: o.classify,
	})
	res.Merge.Changed = res.Merge.Changed || repaired
	if res.Merge.Changed {
		if err := o.repo.Save(ctx, res.Merge.Merged); err != nil {
			return res, fmt.Errorf("save library: %w", err)
		}
	}
	o.ann.Absorb(res.Merge.Annotations)
	o.ann.Prune(o.now().Add(-annotationTTL))

	if res.Mode == remote.ModeServer && len(res.Merge.LocalOnly) > 0 {
		res.Pushed = o.source.PushLocalOnly(ctx, res.Merge.LocalOnly)
		l.Info("local-only items pushed", slog.Int("count", len(res.Pushed)), slog.Int("failed", failures(res.Pushed)))
	}

	res.Summary = SummarizePull(res.Merge, o.limit)
	l.Info("pull finished",
		slog.Int("added", res.Merge.Added),
		slog.Int("updated", res.Merge.Updated),
		slog.Int("skipped", res.Merge.SkippedDuplicates),
		slog.Int("local_only", len(res.Merge.LocalOnly)),
		slog.Bool("changed", res.Merge.Changed))
	o.event(telemetry.EventLibraryPull, map[string]any{
		"mode":    string(res.Mode),
		"silent":  silent,
		"added":   res.Merge.Added,
		"updated": res.Merge.Updated,
		"skipped": res.Merge.SkippedDuplicates,
		"pushed":  len(res.Pushed),
	})
	if !silent {
		body := res.Summary
		if len(res.Pushed) > 0 {
			body += SummarizePush(res.Pushed, o.limit)
		}
		o.notify.Notify(ctx, Notice{Level: LevelInfo, Title: "Sync complete", Body: body})
	}
	return res, nil
}

// PushOptions carries per-push settings.
type PushOptions struct {
	// UserName attributes community submissions. Required in static mode.
	UserName string
}

// PushResult holds one outcome per pushed item.
type PushResult struct {
	Mode      remote.Mode
	Outcomes  []remote.Outcome
	Succeeded int
	Failed    int
	Summary   string
}

// Push sends items upstream. Server mode uploads each item to the backend; static mode
// submits each item to the community pool. Failed items neither stop the batch nor undo
// earlier successes, and nothing is retried.
func (o *Orchestrator) Push(ctx context.Context, items []domain.LibraryItem, opts PushOptions) (PushResult, error) {
	if err := o.begin(); err != nil {
		return PushResult{}, err
	}
	defer o.end()
	if o.source == nil {
		return PushResult{}, ErrNoSource
	}
	res := PushResult{Mode: o.source.Mode()}
	l := applog.WithOperation(o.log, "push").With(slog.String("mode", string(res.Mode)))

	switch res.Mode {
	case remote.ModeServer:
		res.Outcomes = o.source.PushLocalOnly(ctx, items)
	default:
		if o.community == nil {
			return res, ErrNoCommunity
		}
		if opts.UserName == "" {
			return res, ErrAttributionRequired
		}
		res.Outcomes = make([]remote.Outcome, 0, len(items))
		for _, it := range items {
			_, err := o.community.Submit(ctx, it, opts.UserName)
			if err != nil {
				l.Warn("community submission failed", slog.String("id", it.ID), slog.Any("err", err))
			}
			res.Outcomes = append(res.Outcomes, remote.Outcome{ID: it.ID, Title: it.Title, Err: err})
		}
	}
	res.Failed = failures(res.Outcomes)
	res.Succeeded = len(res.Outcomes) - res.Failed
	res.Summary = SummarizePush(res.Outcomes, o.limit)

	l.Info("push finished", slog.Int("succeeded", res.Succeeded), slog.Int("failed", res.Failed))
	o.event(telemetry.EventLibraryPush, map[string]any{
		"mode":      string(res.Mode),
		"succeeded": res.Succeeded,
		"failed":    res.Failed,
	})
	level := LevelInfo
	if res.Failed > 0 {
		level = LevelWarning
	}
	o.notify.Notify(ctx, Notice{Level: level, Title: "Push complete", Body: res.Summary})
	return res, nil
}

// Startup runs the background pass once the store is available: a silent duplicate
// removal, then after delay a silent pull. It returns early when ctx ends.
func (o *Orchestrator) Startup(ctx context.Context, delay time.Duration) error {
	if _, err := o.removeDuplicatesSilently(ctx); err != nil {
		o.log.Warn("startup duplicate pass failed", slog.Any("err", err))
	}
	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	_, err := o.Pull(ctx, true)
	return err
}

func (o *Orchestrator) removeDuplicatesSilently(ctx context.Context) (library.DedupReport, error) {
	if err := o.begin(); err != nil {
		return library.DedupReport{}, err
	}
	defer o.end()
	items, repaired, err := o.load(ctx)
	if err != nil {
		return library.DedupReport{}, err
	}
	kept, rep := library.RemoveDuplicates(items)
	if len(rep.Removed) == 0 {
		if repaired {
			return rep, o.saveSorted(ctx, items)
		}
		return rep, nil
	}
	if err := o.saveSorted(ctx, kept); err != nil {
		return rep, err
	}
	o.log.Info("startup removed duplicates", slog.Int("removed", len(rep.Removed)))
	o.event(telemetry.EventLibraryDedup, map[string]any{"removed": len(rep.Removed), "silent": true})
	return rep, nil
}

// ConfirmFunc is shown the duplicate groups and decides whether to delete them.
type ConfirmFunc func(ctx context.Context, groups []library.DuplicateGroup) bool

// ResolveDuplicates is the interactive duplicate pass. Nothing is removed unless confirm
// approves the listed groups and the gate authorizes auth.ActionDedup.
func (o *Orchestrator) ResolveDuplicates(ctx context.Context, confirm ConfirmFunc) (library.DedupReport, error) {
	if err := o.begin(); err != nil {
		return library.DedupReport{}, err
	}
	defer o.end()

	items, repaired, err := o.load(ctx)
	if err != nil {
		return library.DedupReport{}, err
	}
	if repaired {
		if err := o.saveSorted(ctx, items); err != nil {
			return library.DedupReport{}, err
		}
	}
	groups := library.FindDuplicates(items)
	if len(groups) == 0 {
		o.notify.Notify(ctx, Notice{Level: LevelInfo, Title: "Duplicates", Body: SummarizeDedup(library.DedupReport{}, o.limit)})
		return library.DedupReport{}, nil
	}
	if confirm == nil || !confirm(ctx, groups) {
		return library.DedupReport{Groups: groups}, nil
	}
	if err := auth.Require(ctx, o.gate, auth.ActionDedup); err != nil {
		o.notify.Notify(ctx, Notice{Level: LevelError, Title: "Duplicates", Body: "Not authorized."})
		return library.DedupReport{Groups: groups}, err
	}
	kept, rep := library.RemoveDuplicates(items)
	if err := o.saveSorted(ctx, kept); err != nil {
		return rep, err
	}
	o.event(telemetry.EventLibraryDedup, map[string]any{"removed": len(rep.Removed), "silent": false})
	o.notify.Notify(ctx, Notice{Level: LevelInfo, Title: "Duplicates", Body: SummarizeDedup(rep, o.limit)})
	return rep, nil
}

// DeleteResult reports a deletion.
type DeleteResult struct {
	Removed       []domain.LibraryItem
	RemoteDeleted int
	RemoteErr     error
}

// DeleteItems removes refs (ids or seq numbers) locally and, when remote is set, from the
// backend too. Remote deletion needs auth.ActionDelete. A remote failure does not undo
// the local deletion; it is returned in RemoteErr.
func (o *Orchestrator) DeleteItems(ctx context.Context, refs []string, remoteToo bool) (DeleteResult, error) {
	if err := o.begin(); err != nil {
		return DeleteResult{}, err
	}
	defer o.end()

	if remoteToo {
		if o.deleter == nil {
			return DeleteResult{}, ErrNoSource
		}
		if err := auth.Require(ctx, o.gate, auth.ActionDelete); err != nil {
			o.notify.Notify(ctx, Notice{Level: LevelError, Title: "Delete", Body: "Not authorized."})
			return DeleteResult{}, err
		}
	}
	removed, err := o.lib.Delete(ctx, refs...)
	if err != nil {
		return DeleteResult{}, err
	}
	res := DeleteResult{Removed: removed}
	if remoteToo {
		ids := make([]string, 0, len(removed))
		for _, it := range removed {
			if it.ID != "" {
				ids = append(ids, it.ID)
			}
		}
		res.RemoteDeleted, res.RemoteErr = o.deleter.Delete(ctx, ids)
		if res.RemoteErr != nil {
			o.log.Warn("remote delete failed", slog.Any("err", res.RemoteErr))
			o.notify.Notify(ctx, Notice{Level: LevelWarning, Title: "Delete",
				Body: fmt.Sprintf("Deleted %d items locally; server delete failed: %v", len(removed), res.RemoteErr)})
			return res, nil
		}
	}
	o.notify.Notify(ctx, Notice{Level: LevelInfo, Title: "Delete",
		Body: fmt.Sprintf("Deleted %d items.", len(removed))})
	return res, nil
}

// load reads the library and repairs invalid chapter ids the way library.Service does.
// repaired reports whether the caller has to persist the result.
func (o *Orchestrator) load(ctx context.Context) (items []domain.LibraryItem, repaired bool, err error) {
	items, err = o.repo.Load(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("load library: %w", err)
	}
	if library.Sanitize(items) {
		o.log.Info("normalized invalid chapter ids", slog.Int("items", len(items)))
		repaired = true
	}
	return items, repaired, nil
}

func (o *Orchestrator) saveSorted(ctx context.Context, items []domain.LibraryItem) error {
	library.AssignSequenceIDs(items)
	library.SortNewestFirst(items)
	if err := o.repo.Save(ctx, items); err != nil {
		return fmt.Errorf("save library: %w", err)
	}
	return nil
}

func failures(outcomes []remote.Outcome) int {
	n := 0
	for _, o := range outcomes {
		if !o.OK() {
			n++
		}
	}
	return n
}
