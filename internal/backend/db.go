/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package backend

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"ophthograph/internal/domain"
	applog "ophthograph/internal/log"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PGStore is an ItemStore on Postgres, reached through the pgx database/sql driver.
type PGStore struct {
	db *sql.DB
}

// OpenPG connects to dsn, checks the connection and applies pending migrations.
func OpenPG(ctx context.Context, dsn string) (*PGStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if err := applyMigrations(pctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &PGStore{db: db}, nil
}

func (s *PGStore) Close() error { return s.db.Close() }

func (s *PGStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *PGStore) List(ctx context.Context) ([]domain.LibraryItem, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, seq_id, title, summary, date, chapter_id, data, source, submitted_by
		FROM library_items ORDER BY date DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.LibraryItem
	for rows.Next() {
		var (
			it   domain.LibraryItem
			data []byte
		)
		if err := rows.Scan(&it.ID, &it.SeqID, &it.Title, &it.Summary, &it.Date, &it.ChapterID, &data, &it.Source, &it.SubmittedBy); err != nil {
			return nil, err
		}
		if len(data) > 0 {
			it.Data = json.RawMessage(data)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *PGStore) Upsert(ctx context.Context, items []domain.LibraryItem, uploadedBy string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO library_items
		(id, seq_id, title, summary, date, chapter_id, data, source, submitted_by, uploaded_by, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
		ON CONFLICT (id) DO UPDATE SET
			seq_id = EXCLUDED.seq_id, title = EXCLUDED.title, summary = EXCLUDED.summary,
			date = EXCLUDED.date, chapter_id = EXCLUDED.chapter_id, data = EXCLUDED.data,
			source = EXCLUDED.source, submitted_by = EXCLUDED.submitted_by,
			uploaded_by = EXCLUDED.uploaded_by, updated_at = now()`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, it := range items {
		var data any
		if len(it.Data) > 0 {
			data = string(it.Data)
		}
		if _, err := stmt.ExecContext(ctx, it.ID, it.SeqID, it.Title, it.Summary, it.Date,
			domain.NormalizeChapter(it.ChapterID), data, it.Source, it.SubmittedBy, uploadedBy); err != nil {
			return fmt.Errorf("upsert %s: %w", it.ID, err)
		}
	}
	return tx.Commit()
}

func (s *PGStore) Delete(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM library_items WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// applyMigrations applies embedded SQL migrations in filename order.
func applyMigrations(ctx context.Context, db *sql.DB) error {
	l := applog.WithComponent("backend")
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if name := e.Name(); strings.HasSuffix(strings.ToLower(name), ".sql") {
			files = append(files, name)
		}
	}
	sort.Strings(files)

	// dialect=PostgreSQL
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version BIGINT PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}

	applied := map[int64]bool{}
	rows, err := db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("select schema_migrations: %w", err)
	}
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			_ = rows.Close()
			return err
		}
		applied[v] = true
	}
	if err := rows.Close(); err != nil {
		return err
	}

	for _, fname := range files {
		version, err := parseVersion(fname)
		if err != nil {
			return err
		}
		if applied[version] {
			continue
		}
		b, err := migrationsFS.ReadFile(path.Join("migrations", fname))
		if err != nil {
			return err
		}
		if strings.TrimSpace(string(b)) == "" {
			continue
		}
		l.Info("applying migration", slog.String("file", fname))
		if _, err := db.ExecContext(ctx, string(b)); err != nil {
			return fmt.Errorf("apply %s: %w", fname, err)
		}
	}
	return nil
}

func parseVersion(name string) (int64, error) {
	base := path.Base(name)
	prefix, _, ok := strings.Cut(base, "_")
	if !ok {
		return 0, errors.New("invalid migration filename: " + name)
	}
	v, err := strconv.ParseInt(prefix, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse version from %s: %w", name, err)
	}
	return v, nil
}
