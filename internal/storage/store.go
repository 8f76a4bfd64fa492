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
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"ophthograph/internal/domain"
	applog "ophthograph/internal/log"
)

const (
	// LibraryKey holds the JSON array of library items.
	LibraryKey = "infographic_library"
	// ChaptersKey holds the taxonomy as older clients stored it. It is written once and
	// never read back; the taxonomy is compiled in.
	ChaptersKey = "infographic_chapters"

	DefaultSnapshotLimit = 20
)

// ErrCorrupt is returned when the stored library and every snapshot fail to decode.
var ErrCorrupt = errors.New("stored library is corrupt")

// Store is the local entity store: a SQLite key/value table holding the library blob,
// its snapshot history and a derived full-text index.
type Store struct {
	db   *sql.DB
	dir  string
	keep int
	log  *slog.Logger
	now  func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithSnapshotLimit sets how many previous library versions are kept. Zero keeps none.
func WithSnapshotLimit(n int) Option {
	return func(s *Store) { s.keep = n }
}

// Open opens or creates the store in dir.
func Open(dir string, opts ...Option) (*Store, error) {
	db, err := openDB(dir)
	if err != nil {
		return nil, err
	}
	s := &Store{
		db:   db,
		dir:  dir,
		keep: DefaultSnapshotLimit,
		log:  applog.WithComponent("storage"),
		now:  time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// OpenOrRecover opens the store and, when the database file is unreadable or fails its
// integrity check, moves it into the backups directory and starts a fresh one. recovered
// reports whether that happened.
func OpenOrRecover(ctx context.Context, dir string, opts ...Option) (st *Store, recovered bool, err error) {
	l := applog.WithOperation(applog.WithComponent("storage"), "open_or_recover")
	path := DBPath(dir)
	st, err = Open(dir, opts...)
	if err == nil {
		if healthy(ctx, st.db) {
			return st, false, nil
		}
		_ = st.Close()
		err = errors.New("integrity check failed")
	}
	bak := backupDBFile(path)
	l.Warn("database unusable, starting fresh", slog.Any("err", err), slog.String("backup", bak))
	for _, suffix := range []string{"", "-wal", "-shm"} {
		_ = os.Remove(path + suffix)
	}
	st, oerr := Open(dir, opts...)
	if oerr != nil {
		return nil, false, fmt.Errorf("reopen after failure: %w (open err: %v)", oerr, err)
	}
	return st, true, nil
}

// Close releases the database.
func (s *Store) Close() error { return s.db.Close() }

// Dir returns the data directory.
func (s *Store) Dir() string { return s.dir }

// GetRaw returns the stored value of key. ok is false when the key is absent.
func (s *Store) GetRaw(ctx context.Context, key string) (value []byte, ok bool, err error) {
	err = s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read %s: %w", key, err)
	}
	return value, true, nil
}

// PutRaw stores value under key without snapshotting or reindexing.
func (s *Store) PutRaw(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, upsertKVSQL, key, value, s.now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

// language=SQL
// dialect=SQLite
const upsertKVSQL = `INSERT INTO kv(key, value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`

// Load returns the stored library. A missing library is empty. When the stored blob no
// longer decodes, the newest snapshot that does is returned instead.
func (s *Store) Load(ctx context.Context) ([]domain.LibraryItem, error) {
	l := applog.WithOperation(s.log, "load")
	raw, ok, err := s.GetRaw(ctx, LibraryKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	items, dropped, derr := domain.DecodeItems(raw)
	if derr == nil {
		if dropped > 0 {
			l.Warn("dropped malformed library entries", slog.Int("dropped", dropped))
		}
		return items, nil
	}

	l.Error("stored library unreadable, trying snapshots", slog.Any("err", derr))
	snaps, err := s.ListSnapshots(ctx, LibraryKey, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %v (snapshots: %v)", ErrCorrupt, derr, err)
	}
	for _, snap := range snaps {
		items, _, serr := domain.DecodeItems(snap.Blob)
		if serr != nil {
			continue
		}
		l.Warn("library restored from snapshot", slog.Time("ts", snap.TS), slog.Int("items", len(items)))
		return items, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrCorrupt, derr)
}

// Save replaces the stored library. The previous blob becomes a snapshot, the search
// index is rebuilt, and both happen in one transaction with the write.
func (s *Store) Save(ctx context.Context, items []domain.LibraryItem) error {
	if items == nil {
		items = []domain.LibraryItem{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("marshal library: %w", err)
	}
	now := s.now().UTC()
	ts := now.Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var prev []byte
	err = tx.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, LibraryKey).Scan(&prev)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("read previous library: %w", err)
	case s.keep > 0 && !bytes.Equal(prev, data):
		if _, err := tx.ExecContext(ctx, insertSnapshotSQL, LibraryKey, ts, prev); err != nil {
			return fmt.Errorf("snapshot library: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, upsertKVSQL, LibraryKey, data, ts); err != nil {
		return fmt.Errorf("write library: %w", err)
	}
	if err := ensureLegacyChapters(ctx, tx, ts); err != nil {
		return err
	}
	if err := reindex(ctx, tx, items); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}

	if s.keep > 0 {
		if n, err := s.PruneSnapshots(ctx, LibraryKey, s.keep); err != nil {
			s.log.Warn("prune snapshots failed", slog.Any("err", err))
		} else if n > 0 {
			s.log.Debug("pruned snapshots", slog.Int64("deleted", n))
		}
	}
	return nil
}

func ensureLegacyChapters(ctx context.Context, tx *sql.Tx, ts string) error {
	chapters, err := json.Marshal(domain.DefaultChapters())
	if err != nil {
		return fmt.Errorf("marshal chapters: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO kv(key, value, updated_at) VALUES (?, ?, ?)`, ChaptersKey, chapters, ts); err != nil {
		return fmt.Errorf("write chapters: %w", err)
	}
	return nil
}
