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
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"ophthograph/internal/domain"
)

func openTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	st, err := Open(t.TempDir(), opts...)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func sampleItems() []domain.LibraryItem {
	return []domain.LibraryItem{
		{ID: "b", SeqID: 2, Title: "Diabetic Retinopathy", Summary: "staging and laser", Date: "2024-02-01T00:00:00.000Z", ChapterID: "retina", ServerSynced: true},
		{ID: "a", SeqID: 1, Title: "Acute Angle Closure", Summary: "pupillary block and iridotomy", Date: "2024-01-01T00:00:00.000Z", ChapterID: "glaucoma",
			Data: json.RawMessage(`{"title":"Acute Angle Closure","sections":[]}`)},
	}
}

func TestStore_LoadEmpty(t *testing.T) {
	st := openTestStore(t)
	items, err := st.Load(context.Background())
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("Load on fresh store returned %d items", len(items))
	}
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	want := sampleItems()
	if err := st.Save(ctx, want); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	got, err := st.Load(ctx)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("Load returned %d items, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].ID != want[i].ID || got[i].Title != want[i].Title || got[i].SeqID != want[i].SeqID || got[i].ServerSynced != want[i].ServerSynced {
			t.Fatalf("item %d = %+v, want %+v", i, got[i], want[i])
		}
	}
	if string(got[1].Data) != string(want[1].Data) {
		t.Fatalf("Data = %s, want %s", got[1].Data, want[1].Data)
	}

	raw, ok, err := st.GetRaw(ctx, ChaptersKey)
	if err != nil || !ok {
		t.Fatalf("chapters key missing: ok=%v err=%v", ok, err)
	}
	var chapters []domain.Chapter
	if err := json.Unmarshal(raw, &chapters); err != nil || len(chapters) != len(domain.DefaultChapters()) {
		t.Fatalf("chapters blob = %s (err %v)", raw, err)
	}
}

func TestStore_SnapshotsArePruned(t *testing.T) {
	st := openTestStore(t, WithSnapshotLimit(3))
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	st.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	items := sampleItems()
	for i := 0; i < 6; i++ {
		items[0].Summary = string(rune('a' + i))
		if err := st.Save(ctx, items); err != nil {
			t.Fatalf("Save %d: %v", i, err)
		}
	}
	// saving identical content does not add a snapshot
	if err := st.Save(ctx, items); err != nil {
		t.Fatalf("Save identical: %v", err)
	}

	snaps, err := st.ListSnapshots(ctx, LibraryKey, 0)
	if err != nil {
		t.Fatalf("ListSnapshots: %v", err)
	}
	if len(snaps) != 3 {
		t.Fatalf("ListSnapshots returned %d, want 3", len(snaps))
	}
	latest, ok, err := st.LatestSnapshot(ctx, LibraryKey)
	if err != nil || !ok {
		t.Fatalf("LatestSnapshot ok=%v err=%v", ok, err)
	}
	prev, _, err := domain.DecodeItems(latest.Blob)
	if err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if prev[0].Summary != "e" {
		t.Fatalf("latest snapshot summary = %q, want %q", prev[0].Summary, "e")
	}
}

func TestStore_CorruptBlobFallsBackToSnapshot(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	if err := st.Save(ctx, sampleItems()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := st.Save(ctx, sampleItems()[:1]); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := st.PutRaw(ctx, LibraryKey, []byte(`{"not":"an array"`)); err != nil {
		t.Fatalf("PutRaw: %v", err)
	}
	items, err := st.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("Load returned %d items, want the 2 from the snapshot", len(items))
	}
}

func TestStore_CorruptWithoutSnapshots(t *testing.T) {
	st := openTestStore(t, WithSnapshotLimit(0))
	ctx := context.Background()
	if err := st.PutRaw(ctx, LibraryKey, []byte(`garbage`)); err != nil {
		t.Fatalf("PutRaw: %v", err)
	}
	if _, err := st.Load(ctx); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("Load err = %v, want ErrCorrupt", err)
	}
}

func TestStore_LoadDropsMalformedEntries(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	if err := st.PutRaw(ctx, LibraryKey, []byte(`[{"id":1718000000000,"title":"Legacy","date":1718000000000}, "oops", 3]`)); err != nil {
		t.Fatalf("PutRaw: %v", err)
	}
	items, err := st.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(items) != 1 || items[0].ID != "1718000000000" {
		t.Fatalf("items = %+v", items)
	}
}

func TestOpenOrRecover_ReplacesJunkFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(DBPath(dir), []byte("THIS IS NOT SQLITE"), 0o644); err != nil {
		t.Fatalf("write junk: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	st, recovered, err := OpenOrRecover(ctx, dir)
	if err != nil {
		t.Fatalf("OpenOrRecover: %v", err)
	}
	defer st.Close()
	if !recovered {
		t.Fatalf("expected recovery to occur")
	}
	if err := st.Save(ctx, sampleItems()); err != nil {
		t.Fatalf("Save after recovery: %v", err)
	}
	entries, _ := os.ReadDir(filepath.Join(dir, BackupsDirName))
	if len(entries) == 0 {
		t.Fatalf("expected backup file in %s", filepath.Join(dir, BackupsDirName))
	}
}

func TestOpenOrRecover_HealthyStore(t *testing.T) {
	dir := t.TempDir()
	st, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_ = st.Close()
	st, recovered, err := OpenOrRecover(context.Background(), dir)
	if err != nil {
		t.Fatalf("OpenOrRecover: %v", err)
	}
	defer st.Close()
	if recovered {
		t.Fatalf("healthy store should not be recovered")
	}
}
