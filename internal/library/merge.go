/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package library

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"ophthograph/internal/classify"
	"ophthograph/internal/domain"
)

// MergeInput is everything a merge looks at. Local and Remote are never modified.
type MergeInput struct {
	Local    []domain.LibraryItem
	Remote   []domain.LibraryItem
	Approved []domain.Submission
	Now      time.Time
	// FromSync marks touched and admitted items as server synced. Set it when Remote is
	// the sync source of truth rather than an import file.
	FromSync bool
	// Classify overrides the chapter classifier; nil uses classify.Chapter.
	Classify func(title string) string
}

// MergeResult describes the reconciled collection and what happened to get there.
type MergeResult struct {
	Merged            []domain.LibraryItem
	Added             int
	Updated           int
	SkippedDuplicates int
	AddedTitles       []string
	UpdatedTitles     []string
	SkippedTitles     []string
	// LocalOnly are items whose join key is absent from the remote set, candidates for
	// an upstream push.
	LocalOnly []domain.LibraryItem
	// Changed is true when Merged differs from Local and must be persisted.
	Changed     bool
	Annotations *Annotations
}

// Merge reconciles a local collection with a remote one plus approved community
// submissions.
//
// Remote items whose join key matches a local item update it: the remote chapter wins
// unless both sides are uncategorized, in which case the title is classified; title,
// summary and data are copied only until the first successful sync sets ServerSynced.
// Remote items without a match are admitted unless a local (or already admitted) item has
// the same normalized title. Sequence ids are reassigned afterwards and, when anything
// changed, Merged is ordered newest first.
func Merge(in MergeInput) MergeResult {
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}
	classifyFn := in.Classify
	if classifyFn == nil {
		classifyFn = classify.Chapter
	}

	res := MergeResult{Annotations: NewAnnotations()}
	merged := make([]domain.LibraryItem, len(in.Local))
	copy(merged, in.Local)

	remote := make([]domain.LibraryItem, 0, len(in.Remote)+len(in.Approved))
	remote = append(remote, in.Remote...)
	for _, s := range in.Approved {
		remote = append(remote, s.ToItem())
	}

	byKey := make(map[string]int, len(merged))
	titles := make(map[string]bool, len(merged))
	for i, it := range merged {
		k := JoinKey(it)
		if _, seen := byKey[k]; !seen {
			byKey[k] = i
		}
		titles[NormalizeTitle(it.Title)] = true
	}

	remoteKeys := make(map[string]bool, len(remote))
	flagsChanged := false
	for _, r := range remote {
		k := JoinKey(r)
		remoteKeys[k] = true

		if idx, ok := byKey[k]; ok {
			u := applyRemote(&merged[idx], r, in.FromSync, classifyFn)
			if u.chapter {
				res.Annotations.MarkChapterUpdated(k, now)
			}
			if u.fields() {
				res.Updated++
				res.UpdatedTitles = append(res.UpdatedTitles, merged[idx].Title)
			}
			flagsChanged = flagsChanged || u.flag
			continue
		}

		n := NormalizeTitle(r.Title)
		if titles[n] {
			res.SkippedDuplicates++
			res.SkippedTitles = append(res.SkippedTitles, r.Title)
			continue
		}
		it := admit(r, in.FromSync, classifyFn)
		merged = append(merged, it)
		byKey[k] = len(merged) - 1
		titles[n] = true
		res.Annotations.MarkImported(k, now)
		res.Added++
		res.AddedTitles = append(res.AddedTitles, it.Title)
	}

	seqChanged := AssignSequenceIDs(merged)
	res.Changed = res.Added > 0 || res.Updated > 0 || seqChanged || flagsChanged
	if res.Changed {
		SortNewestFirst(merged)
	}
	res.Merged = merged

	for _, it := range merged {
		if !remoteKeys[JoinKey(it)] {
			res.LocalOnly = append(res.LocalOnly, it)
		}
	}
	return res
}

type update struct {
	chapter bool // chapter reassigned
	content bool // title, summary or data copied
	flag    bool // ServerSynced or a stored value normalized without visible change
}

func (u update) fields() bool { return u.chapter || u.content }

// applyRemote applies the per-field policy of a matching remote record to local.
func applyRemote(local *domain.LibraryItem, r domain.LibraryItem, fromSync bool, classifyFn func(string) string) update {
	var u update

	current := domain.NormalizeChapter(local.ChapterID)
	next := domain.NormalizeChapter(r.ChapterID)
	if next == domain.Uncategorized && current == domain.Uncategorized {
		title := local.Title
		if strings.TrimSpace(title) == "" {
			title = r.Title
		}
		if strings.TrimSpace(title) != "" {
			if c := classifyFn(title); domain.ValidChapter(c) {
				next = c
			}
		}
	}
	if next != current {
		u.chapter = true
	}
	if next != local.ChapterID {
		local.ChapterID = next
		u.flag = true
	}

	// A record without a title is malformed; it may move chapters but never content.
	if !local.ServerSynced && strings.TrimSpace(r.Title) != "" {
		if r.Title != local.Title {
			local.Title = r.Title
			u.content = true
		}
		if r.Summary != local.Summary {
			local.Summary = r.Summary
			u.content = true
		}
		if len(r.Data) > 0 && !bytes.Equal(r.Data, local.Data) {
			local.Data = append(json.RawMessage(nil), r.Data...)
			u.content = true
		}
		if fromSync {
			local.ServerSynced = true
			u.flag = true
		}
	}

	if local.SeqID <= 0 && r.SeqID > 0 {
		local.SeqID = r.SeqID
	}
	return u
}

// admit prepares an unmatched remote record for insertion into the local collection.
func admit(r domain.LibraryItem, fromSync bool, classifyFn func(string) string) domain.LibraryItem {
	it := r
	if len(r.Data) > 0 {
		it.Data = append(json.RawMessage(nil), r.Data...)
	}
	it.SeqID = 0
	it.ChapterID = domain.NormalizeChapter(it.ChapterID)
	if it.ChapterID == domain.Uncategorized && strings.TrimSpace(it.Title) != "" {
		if c := classifyFn(it.Title); domain.ValidChapter(c) {
			it.ChapterID = c
		}
	}
	it.ServerSynced = fromSync
	return it
}
