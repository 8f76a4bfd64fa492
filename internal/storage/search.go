/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"ophthograph/internal/domain"
	"ophthograph/internal/library"
)

// SearchQuery describes a library search.
// Text uses SQLite FTS5 syntax (terms, phrases in quotes, AND/OR/NOT) over title and
// summary; an empty Text lists everything. ChapterID optionally restricts the chapter.
// Limit/Offset implement pagination; Limit defaults to 100.
type SearchQuery struct {
	Text      string
	ChapterID string
	Limit     int
	Offset    int
}

// SearchResult is one matching item. Snippet highlights matches with [ ] when Text is set.
type SearchResult struct {
	ItemID    string
	SeqID     int
	Title     string
	ChapterID string
	Date      string
	Snippet   string
}

// Search runs q against the index built by the last Save.
func (s *Store) Search(ctx context.Context, q SearchQuery) ([]SearchResult, error) {
	var args []any
	var sb strings.Builder
	useFTS := strings.TrimSpace(q.Text) != ""
	if useFTS {
		sb.WriteString("SELECT i.item_id, i.seq_id, i.title, i.chapter_id, i.date, snippet(fts_items, -1, '[', ']', '…', 10)\n")
		sb.WriteString("FROM fts_items JOIN items i ON fts_items.rowid = i.id\n")
		sb.WriteString("WHERE fts_items MATCH ?\n")
		args = append(args, q.Text)
	} else {
		sb.WriteString("SELECT i.item_id, i.seq_id, i.title, i.chapter_id, i.date, ''\n")
		sb.WriteString("FROM items i\nWHERE 1=1\n")
	}
	if c := strings.TrimSpace(q.ChapterID); c != "" {
		sb.WriteString(" AND i.chapter_id = ?\n")
		args = append(args, c)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	if useFTS {
		sb.WriteString("ORDER BY bm25(fts_items), i.seq_id DESC\n")
	} else {
		sb.WriteString("ORDER BY i.seq_id DESC\n")
	}
	sb.WriteString("LIMIT ? OFFSET ?")
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("search query: %w", err)
	}
	defer rows.Close()
	var out []SearchResult
	for rows.Next() {
		var r SearchResult
		var sn sql.NullString
		if err := rows.Scan(&r.ItemID, &r.SeqID, &r.Title, &r.ChapterID, &r.Date, &sn); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		if sn.Valid {
			r.Snippet = sn.String
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// reindex replaces the items table, and through its triggers the FTS index, with items.
func reindex(ctx context.Context, tx *sql.Tx, items []domain.LibraryItem) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM items`); err != nil {
		return fmt.Errorf("clear items: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO items(item_key, item_id, seq_id, title, summary, chapter_id, date) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare item insert: %w", err)
	}
	defer stmt.Close()
	for _, it := range items {
		if _, err := stmt.ExecContext(ctx, library.JoinKey(it), it.ID, it.SeqID, it.Title, it.Summary, domain.NormalizeChapter(it.ChapterID), it.Date); err != nil {
			return fmt.Errorf("index item %q: %w", it.Title, err)
		}
	}
	return nil
}
