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
	"sort"
	"time"

	"ophthograph/internal/domain"
)

// stamp is a parsed item date. Items without a usable date order after all dated ones.
type stamp struct {
	t  time.Time
	ok bool
}

func stampOf(it domain.LibraryItem) stamp {
	t, ok := it.Time()
	return stamp{t: t, ok: ok}
}

// before is a strict weak order: dated before undated, then chronological.
func (a stamp) before(b stamp) bool {
	if a.ok != b.ok {
		return a.ok
	}
	return a.ok && a.t.Before(b.t)
}

// chronological returns item indexes oldest first. Equal dates keep input order.
func chronological(items []domain.LibraryItem) []int {
	stamps := make([]stamp, len(items))
	order := make([]int, len(items))
	for i := range items {
		stamps[i] = stampOf(items[i])
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return stamps[order[a]].before(stamps[order[b]])
	})
	return order
}

// AssignSequenceIDs numbers items 1..N from oldest to newest, writing only values that
// differ. It reports whether any item changed. Running it twice is a no-op the second time.
func AssignSequenceIDs(items []domain.LibraryItem) bool {
	changed := false
	for rank, idx := range chronological(items) {
		if items[idx].SeqID != rank+1 {
			items[idx].SeqID = rank + 1
			changed = true
		}
	}
	return changed
}

// SortNewestFirst orders items by date descending in place. Equal dates keep input order.
func SortNewestFirst(items []domain.LibraryItem) {
	sort.SliceStable(items, func(i, j int) bool {
		return stampOf(items[j]).before(stampOf(items[i]))
	})
}
