/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package library holds the pure reconciliation logic of the infographic library:
// sequence numbering, duplicate resolution, the local/remote merge and the local
// mutation service. Persistence is reached only through the Repository interface.
package library

import (
	"context"
	"errors"
	"strings"

	"ophthograph/internal/domain"
)

var (
	ErrNotFound       = errors.New("library item not found")
	ErrInvalidChapter = errors.New("invalid chapter")
	ErrDuplicateID    = errors.New("library item id already exists")
	ErrEmptyTitle     = errors.New("title is required")
)

// Repository loads and stores the whole library collection.
type Repository interface {
	Load(ctx context.Context) ([]domain.LibraryItem, error)
	Save(ctx context.Context, items []domain.LibraryItem) error
}

// JoinKey is the merge identity of an item: its id, or title and date for legacy records
// written before ids existed.
func JoinKey(it domain.LibraryItem) string {
	if id := strings.TrimSpace(it.ID); id != "" {
		return "id:" + id
	}
	return "legacy:" + it.Title + "|" + it.Date
}

// Sanitize repairs stored values that would break invariants: unknown chapter ids become
// uncategorized. It reports whether anything changed.
func Sanitize(items []domain.LibraryItem) bool {
	changed := false
	for i := range items {
		if c := domain.NormalizeChapter(items[i].ChapterID); c != items[i].ChapterID {
			items[i].ChapterID = c
			changed = true
		}
	}
	return changed
}
