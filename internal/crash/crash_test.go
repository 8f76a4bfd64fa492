/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package crash

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ophthograph/internal/domain"
	"ophthograph/internal/storage"
)

func TestWriteReportCreatesFileInTemp(t *testing.T) {
	path, err := writeReport(nil, "boom", []byte("stacktrace"))
	if err != nil {
		t.Fatalf("writeReport error: %v", err)
	}
	t.Cleanup(func() { _ = os.Remove(path) })
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	s := string(b)
	if !strings.Contains(s, "Ophthograph Crash Report") {
		t.Fatalf("report header missing")
	}
	if !strings.Contains(s, "Panic: boom") {
		t.Fatalf("panic content missing: %s", s)
	}
}

func TestWriteReportCreatesFileInBackups(t *testing.T) {
	dir := t.TempDir()
	path, err := writeReport(&Handle{DataDir: dir}, "kaboom", []byte("stack"))
	if err != nil {
		t.Fatalf("writeReport error: %v", err)
	}
	if !strings.HasPrefix(path, filepath.Join(dir, storage.BackupsDirName)) {
		t.Fatalf("expected crash report under backups dir, got %s", path)
	}
	b, _ := os.ReadFile(path)
	if !strings.Contains(string(b), "DataDir: "+dir) {
		t.Fatalf("report does not name the data dir: %s", b)
	}
}

func TestDumpLibrarySkipsWithoutItems(t *testing.T) {
	path, err := dumpLibrary(&Handle{DataDir: t.TempDir()})
	if err != nil || path != "" {
		t.Fatalf("dumpLibrary = (%q, %v), want empty", path, err)
	}
}

func TestRecover_WritesReportAndLibraryDump(t *testing.T) {
	oldStderr := os.Stderr
	r, w, _ := os.Pipe()
	os.Stderr = w
	defer func() {
		_ = w.Close()
		os.Stderr = oldStderr
		_, _ = io.Copy(io.Discard, r)
	}()

	called := 0
	oldExit := exitFn
	exitFn = func(code int) { called = code }
	defer func() { exitFn = oldExit }()

	dir := t.TempDir()
	items := []domain.LibraryItem{{ID: "a", Title: "Retinal detachment", Date: "2025-01-02T00:00:00.000Z", SeqID: 1}}
	h := &Handle{DataDir: dir, Items: func() []domain.LibraryItem { return items }}

	func() {
		defer Recover(h)
		panic("boom")
	}()

	if called != 2 {
		t.Fatalf("exit code = %d, want 2", called)
	}
	files, err := os.ReadDir(filepath.Join(dir, storage.BackupsDirName))
	if err != nil {
		t.Fatalf("read backups: %v", err)
	}
	var report, dump string
	for _, f := range files {
		switch {
		case strings.HasPrefix(f.Name(), "crash-library-"):
			dump = filepath.Join(dir, storage.BackupsDirName, f.Name())
		case strings.HasPrefix(f.Name(), "crash-") && strings.HasSuffix(f.Name(), ".log"):
			report = filepath.Join(dir, storage.BackupsDirName, f.Name())
		}
	}
	if report == "" || dump == "" {
		t.Fatalf("missing crash files: report=%q dump=%q", report, dump)
	}
	got, err := storage.ImportJSON(dump)
	if err != nil {
		t.Fatalf("ImportJSON: %v", err)
	}
	if len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("dumped items = %+v", got)
	}
}
