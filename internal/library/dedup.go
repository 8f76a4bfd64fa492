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
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"ophthograph/internal/domain"
)

// NormalizeTitle reduces a title to its comparison form: accents removed, case folded,
// everything except letters and digits dropped. "Glaucoma Basics" and "glaucoma basics!!"
// normalize to the same key.
func NormalizeTitle(title string) string {
	decomposed := norm.NFKD.String(strings.TrimSpace(title))
	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return cases.Fold().String(b.String())
}

// DuplicateGroup is a set of items sharing a normalized title.
type DuplicateGroup struct {
	Key    string
	Keep   domain.LibraryItem
	Remove []domain.LibraryItem
}

// RemovedItem records one item dropped by the resolver.
type RemovedItem struct {
	ID     string
	Title  string
	KeptID string
}

// DedupReport lists what RemoveDuplicates dropped.
type DedupReport struct {
	Groups  []DuplicateGroup
	Removed []RemovedItem
}

// Titles returns the removed titles in removal order.
func (r DedupReport) Titles() []string {
	out := make([]string, 0, len(r.Removed))
	for _, it := range r.Removed {
		out = append(out, it.Title)
	}
	return out
}

// FindDuplicates groups items by normalized title. In every group the item with the
// earliest date is kept; equal or missing dates fall back to input order. Titles that
// normalize to nothing ("", "!!!") share the empty key and group like any other title.
// Groups appear in order of first occurrence.
func FindDuplicates(items []domain.LibraryItem) []DuplicateGroup {
	var out []DuplicateGroup
	for _, g := range duplicateIndexes(items) {
		dg := DuplicateGroup{Key: g.key, Keep: items[g.keep]}
		for _, idx := range g.remove {
			dg.Remove = append(dg.Remove, items[idx])
		}
		out = append(out, dg)
	}
	return out
}

// RemoveDuplicates returns items without the duplicates FindDuplicates marks for removal,
// preserving input order, together with a report of what was dropped. The input slice is
// not modified.
func RemoveDuplicates(items []domain.LibraryItem) ([]domain.LibraryItem, DedupReport) {
	var report DedupReport
	drop := make(map[int]bool)
	for _, g := range duplicateIndexes(items) {
		dg := DuplicateGroup{Key: g.key, Keep: items[g.keep]}
		for _, idx := range g.remove {
			drop[idx] = true
			dg.Remove = append(dg.Remove, items[idx])
			report.Removed = append(report.Removed, RemovedItem{ID: items[idx].ID, Title: items[idx].Title, KeptID: items[g.keep].ID})
		}
		report.Groups = append(report.Groups, dg)
	}
	out := make([]domain.LibraryItem, 0, len(items)-len(drop))
	for i, it := range items {
		if !drop[i] {
			out = append(out, it)
		}
	}
	return out, report
}

type indexGroup struct {
	key    string
	keep   int
	remove []int
}

func duplicateIndexes(items []domain.LibraryItem) []indexGroup {
	var keys []string
	members := make(map[string][]int)
	for i, it := range items {
		k := NormalizeTitle(it.Title)
		if _, ok := members[k]; !ok {
			keys = append(keys, k)
		}
		members[k] = append(members[k], i)
	}

	var out []indexGroup
	for _, k := range keys {
		idxs := members[k]
		if len(idxs) < 2 {
			continue
		}
		keep := idxs[0]
		keepStamp := stampOf(items[keep])
		for _, idx := range idxs[1:] {
			if s := stampOf(items[idx]); s.before(keepStamp) {
				keep, keepStamp = idx, s
			}
		}
		g := indexGroup{key: k, keep: keep}
		for _, idx := range idxs {
			if idx != keep {
				g.remove = append(g.remove, idx)
			}
		}
		out = append(out, g)
	}
	return out
}
