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
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"ophthograph/internal/domain"
	"ophthograph/internal/remote"
)

func newTestServer(t *testing.T) (*httptest.Server, *MemoryStore, *Server) {
	t.Helper()
	store := NewMemoryStore()
	s := NewServer(store, "test-secret")
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts, store, s
}

func issueToken(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	resp, err := http.Post(ts.URL+"/api/auth/token", "application/json", strings.NewReader(`{"subject":"tester"}`))
	if err != nil {
		t.Fatalf("token request: %v", err)
	}
	defer resp.Body.Close()
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || out.Token == "" {
		t.Fatalf("decode token: %v (%q)", err, out.Token)
	}
	return out.Token
}

func TestHealthAndVersion(t *testing.T) {
	ts, _, _ := newTestServer(t)
	for _, p := range []string{"/healthz", "/readyz", "/version"} {
		resp, err := http.Get(ts.URL + p)
		if err != nil {
			t.Fatalf("GET %s: %v", p, err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET %s status = %d, want 200", p, resp.StatusCode)
		}
	}
}

func TestUploadRequiresToken(t *testing.T) {
	ts, store, _ := newTestServer(t)
	body := `{"id":"1","title":"Glaucoma","date":"2025-01-01"}`
	resp, err := http.Post(ts.URL+"/api/library/upload", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	if items, _ := store.List(context.Background()); len(items) != 0 {
		t.Fatalf("store changed without auth: %+v", items)
	}
}

func TestUploadRejectsInvalidItem(t *testing.T) {
	ts, _, _ := newTestServer(t)
	tok := issueToken(t, ts)
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/library/upload",
		strings.NewReader(`[{"id":"1","title":"ok","date":"2025-01-01"},{"id":"2"}]`))
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	if resp.StatusCode != http.StatusBadRequest || out.Success {
		t.Fatalf("status = %d success = %v, want 400/false", resp.StatusCode, out.Success)
	}
	if !strings.Contains(out.Error, "item 1") {
		t.Fatalf("error = %q, want it to name item 1", out.Error)
	}
}

func TestServerSourceRoundTrip(t *testing.T) {
	ts, store, _ := newTestServer(t)
	tok := issueToken(t, ts)
	src := remote.NewServerSource(ts.URL, tok, 2*time.Second, false)
	ctx := context.Background()

	items := []domain.LibraryItem{
		{ID: "a", Title: "Glaucoma basics", Date: "2025-01-01T00:00:00.000Z", ChapterID: "glaucoma", ServerSynced: true},
		{ID: "b", Title: "Retina", Date: "2025-02-01T00:00:00.000Z", ChapterID: "retina", Data: json.RawMessage(`{"title":"Retina"}`)},
	}
	for _, o := range src.PushLocalOnly(ctx, items) {
		if !o.OK() {
			t.Fatalf("push %s: %v", o.ID, o.Err)
		}
	}
	snap, err := src.FetchAll(ctx)
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	if len(snap.Items) != 2 || snap.Items[0].ID != "b" || snap.Items[1].ID != "a" {
		t.Fatalf("items = %+v, want b then a", snap.Items)
	}
	if snap.Items[1].ServerSynced {
		t.Fatalf("client sync flag must not be stored")
	}
	if !bytes.Equal(snap.Items[0].Data, []byte(`{"title":"Retina"}`)) {
		t.Fatalf("data = %s", snap.Items[0].Data)
	}

	n, err := src.Delete(ctx, []string{"a", "missing"})
	if err != nil || n != 1 {
		t.Fatalf("Delete = (%d, %v), want 1", n, err)
	}
	left, _ := store.List(ctx)
	if len(left) != 1 || left[0].ID != "b" {
		t.Fatalf("left = %+v", left)
	}
}

func TestVerifyToken(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tok, err := signToken("s", "alice", now.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if sub, err := verifyToken("s", tok, now); err != nil || sub != "alice" {
		t.Fatalf("verify = (%q, %v), want alice", sub, err)
	}
	if _, err := verifyToken("other", tok, now); err != errTokenSignature {
		t.Fatalf("wrong secret err = %v", err)
	}
	if _, err := verifyToken("s", tok, now.Add(2*time.Hour)); err != errTokenExpired {
		t.Fatalf("expired err = %v", err)
	}
	if _, err := verifyToken("s", "garbage", now); err != errTokenFormat {
		t.Fatalf("format err = %v", err)
	}
}

func TestParseVersion(t *testing.T) {
	if v, err := parseVersion("migrations/0001_library_items.sql"); err != nil || v != 1 {
		t.Fatalf("parseVersion = (%d, %v)", v, err)
	}
	if _, err := parseVersion("library.sql"); err == nil {
		t.Fatalf("expected error for unversioned file")
	}
}

func openPGForTest(t *testing.T) *PGStore {
	t.Helper()
	dsn := os.Getenv("OPH_DATABASE_URL")
	if dsn == "" {
		t.Skip("OPH_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, err := OpenPG(ctx, dsn)
	if err != nil {
		t.Skipf("postgres not available: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestPGStore(t *testing.T) {
	st := openPGForTest(t)
	ctx := context.Background()
	if _, err := st.db.ExecContext(ctx, `DELETE FROM library_items WHERE id LIKE 'pgtest-%'`); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	items := []domain.LibraryItem{
		{ID: "pgtest-1", Title: "Cornea", Date: "2099-01-01T00:00:00.000Z", ChapterID: "cornea", Data: json.RawMessage(`{"a":1}`)},
		{ID: "pgtest-2", Title: "Lens", Date: "2099-01-02T00:00:00.000Z", ChapterID: "nope"},
	}
	if err := st.Upsert(ctx, items, "tester"); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	got, err := st.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) < 2 || got[0].ID != "pgtest-2" || got[0].ChapterID != domain.Uncategorized {
		t.Fatalf("List head = %+v", got[:min(2, len(got))])
	}
	n, err := st.Delete(ctx, []string{"pgtest-1", "pgtest-2"})
	if err != nil || n != 2 {
		t.Fatalf("Delete = (%d, %v)", n, err)
	}
	var count int
	if err := st.db.QueryRowContext(ctx, `SELECT count(*) FROM schema_migrations WHERE version = 1`).Scan(&count); err != nil && err != sql.ErrNoRows {
		t.Fatalf("schema_migrations: %v", err)
	}
	if count != 1 {
		t.Fatalf("migration 1 recorded %d times", count)
	}
}

func TestRequestToken(t *testing.T) {
	ts, _, s := newTestServer(t)
	tok, err := remote.NewServerSource(ts.URL, "", time.Second, false).RequestToken(context.Background(), "ana")
	if err != nil {
		t.Fatalf("RequestToken: %v", err)
	}
	if sub, err := verifyToken(s.secret, tok, time.Now()); err != nil || sub != "ana" {
		t.Fatalf("verify = (%q, %v), want ana", sub, err)
	}
}
