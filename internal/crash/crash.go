/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package crash turns a panic into a logged error, a report file, and a best-effort
// JSON dump of the in-memory library.
package crash

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"time"

	"ophthograph/internal/domain"
	applog "ophthograph/internal/log"
	"ophthograph/internal/storage"
	"ophthograph/internal/telemetry"
	"ophthograph/internal/version"
)

// exitFn is used to allow testing of Recover without terminating the test process.
var exitFn = os.Exit

// Handle describes what a crashing process knows about its library.
// Items, when set, returns the last library state held in memory.
type Handle struct {
	DataDir string
	Items   func() []domain.LibraryItem
}

// Recover captures a panic, logs it with a stacktrace, writes an error report file
// and dumps the in-memory library next to it (if h provides one).
//
// Usage: defer crash.Recover(h)
func Recover(h *Handle) {
	if r := recover(); r != nil {
		l := applog.WithComponent("crash")
		stack := debug.Stack()
		l.Error("panic recovered", slog.Any("panic", r), slog.String("stack", string(stack)))

		reportPath, _ := writeReport(h, r, stack)
		if path, err := dumpLibrary(h); err != nil {
			l.Error("library crash dump failed", slog.Any("err", err))
		} else if path != "" {
			l.Info("library crash dump written", slog.String("path", path))
		}

		if _, err := fmt.Fprintf(os.Stderr, "A fatal error occurred. A crash report was saved to: %s\n", reportPath); err != nil {
			l.Error("failed to write crash message to stderr", slog.Any("err", err))
		}
		if _, err := fmt.Fprintf(os.Stderr, "Version: %s\nOS/Arch: %s/%s\n", version.String(), runtime.GOOS, runtime.GOARCH); err != nil {
			l.Error("failed to write version info to stderr", slog.Any("err", err))
		}
		exitFn(2)
	}
}

func reportDir(h *Handle) string {
	if h == nil || h.DataDir == "" {
		return os.TempDir()
	}
	dir := filepath.Join(h.DataDir, storage.BackupsDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return os.TempDir()
	}
	return dir
}

func writeReport(h *Handle, panicVal any, stack []byte) (string, error) {
	stamp := time.Now().Format("20060102-150405")
	path := filepath.Join(reportDir(h), fmt.Sprintf("crash-%s.log", stamp))

	var buf bytes.Buffer
	_, _ = fmt.Fprintf(&buf, "Ophthograph Crash Report\n")
	_, _ = fmt.Fprintf(&buf, "Timestamp: %s\n", time.Now().Format(time.RFC3339))
	_, _ = fmt.Fprintf(&buf, "Version: %s\n", version.String())
	_, _ = fmt.Fprintf(&buf, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	if h != nil && h.DataDir != "" {
		_, _ = fmt.Fprintf(&buf, "DataDir: %s\n", h.DataDir)
	}
	_, _ = fmt.Fprintf(&buf, "\nPanic: %v\n\n", panicVal)
	_, _ = fmt.Fprintf(&buf, "Stack:\n%s\n", string(stack))

	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return path, err
	}

	// Report text holds no library content, only the stack.
	telemetry.Default().UploadCrash(buf.Bytes())
	return path, nil
}

func dumpLibrary(h *Handle) (string, error) {
	if h == nil || h.Items == nil || h.DataDir == "" {
		return "", nil
	}
	items := h.Items()
	if len(items) == 0 {
		return "", nil
	}
	stamp := time.Now().Format("20060102-150405")
	path := filepath.Join(reportDir(h), fmt.Sprintf("crash-library-%s.json", stamp))
	return path, storage.ExportJSON(path, items)
}
