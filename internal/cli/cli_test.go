/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

type cliEnv struct {
	t       *testing.T
	dataDir string
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	keyring.MockInit()
	t.Setenv("OPH_CONFIG", filepath.Join(t.TempDir(), "config.yaml"))
	t.Setenv("OPH_MODE", "auto")
	t.Setenv("OPH_BACKEND_URL", "")
	t.Setenv("OPH_STATIC_FEED_URL", "")
	t.Setenv("OPH_COMMUNITY_URL", "")
	t.Setenv("OPH_STARTUP_DELAY_MS", "0")
	t.Setenv("OPH_TELEMETRY_OPT_IN", "")
	return &cliEnv{t: t, dataDir: t.TempDir()}
}

// run executes the root command and returns stdout.
func (e *cliEnv) run(stdin string, args ...string) (string, error) {
	e.t.Helper()
	out := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--data-dir", e.dataDir}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func (e *cliEnv) mustRun(args ...string) string {
	e.t.Helper()
	out, err := e.run("", args...)
	require.NoError(e.t, err, "ophthograph %v", args)
	return out
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "ophthograph", cmd.Use)
	assert.Contains(t, cmd.Long, "duplicate detection")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"open", "pull", "push", "dedup", "list", "add", "rename", "chapter", "delete",
		"import", "export", "search", "chapters", "classify", "login", "admin-secret", "serve", "version"}

	for _, name := range commands {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()
	verbose := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verbose)
	assert.Equal(t, "v", verbose.Shorthand)
	assert.Equal(t, "text", cmd.PersistentFlags().Lookup("format").DefValue)
	assert.NotNil(t, cmd.PersistentFlags().Lookup("config"))
	assert.NotNil(t, cmd.PersistentFlags().Lookup("data-dir"))
}

func TestInvalidFormat(t *testing.T) {
	e := newCLIEnv(t)
	_, err := e.run("", "--format", "xml", "version")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestLibraryCommands(t *testing.T) {
	e := newCLIEnv(t)

	out := e.mustRun("add", "--title", "Acute Angle Closure Glaucoma Management")
	assert.Equal(t, "Added #1 Acute Angle Closure Glaucoma Management (glaucoma)\n", out)

	out = e.mustRun("add", "--title", "Cataract surgery steps", "--summary", "phaco basics")
	assert.Contains(t, out, "Added #2")
	assert.Contains(t, out, "(lens)")

	out = e.mustRun("list")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, out, "Cataract surgery steps")
	assert.Contains(t, out, "glaucoma")

	out = e.mustRun("list", "--chapter", "lens")
	assert.NotContains(t, out, "Glaucoma")

	out = e.mustRun("rename", "#1", "Angle closure crisis")
	assert.Equal(t, "Renamed #1 to Angle closure crisis\n", out)

	out = e.mustRun("chapter", "#1", "retina")
	assert.Contains(t, out, "is now in retina")

	_, err := e.run("", "chapter", "#1", "bogus")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = e.run("", "rename", "#9", "x")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	out = e.mustRun("search", "phaco")
	assert.Contains(t, out, "Cataract surgery steps")

	out = e.mustRun("delete", "#1")
	assert.Equal(t, "Deleted 1 items.\n", out)
	out = e.mustRun("list")
	assert.NotContains(t, out, "Angle closure")
}

func TestExportImport(t *testing.T) {
	e := newCLIEnv(t)
	e.mustRun("add", "--title", "Keratoconus")
	e.mustRun("add", "--title", "Optic neuritis")
	file := filepath.Join(t.TempDir(), "library.json")
	assert.Contains(t, e.mustRun("export", file), "Exported 2 items")

	other := &cliEnv{t: t, dataDir: t.TempDir()}
	other.mustRun("add", "--title", "keratoconus!")
	out := other.mustRun("import", file)
	assert.Equal(t, "Imported 1 items, 0 updated, 1 skipped as duplicates.\n", out)
}

func TestJSONOutput(t *testing.T) {
	e := newCLIEnv(t)
	out := e.mustRun("--format", "json", "classify", "--explain", "Retinal detachment repair")
	var resp struct {
		Status string            `json:"status"`
		Data   map[string]string `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "retina", resp.Data["chapterId"])
	assert.Equal(t, "retina", resp.Data["keyword"])

	out = e.mustRun("classify", "--explain", "Slit lamp photography")
	assert.Equal(t, "uncategorized (no keyword matched)\n", out)
}

func TestPullFromStaticFeed(t *testing.T) {
	e := newCLIEnv(t)
	feed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[
			{"id":"f1","title":"Glaucoma Basics","chapterId":"glaucoma","date":"2025-01-01T00:00:00.000Z"},
			{"id":"f2","title":"Uveitis workup","chapterId":"uveitis","date":"2025-01-02T00:00:00.000Z"},
			{"id":"f3","title":"glaucoma basics!!","chapterId":"glaucoma","date":"2025-01-03T00:00:00.000Z"}
		]`)
	}))
	defer feed.Close()
	t.Setenv("OPH_STATIC_FEED_URL", feed.URL)

	out := e.mustRun("pull")
	assert.Contains(t, out, "2 added, 0 updated, 1 skipped as duplicates")

	// f3 keeps colliding with f1 on every pull.
	out = e.mustRun("pull")
	assert.Contains(t, out, "0 added, 0 updated, 1 skipped as duplicates")

	out = e.mustRun("open")
	assert.Contains(t, out, "Library: 2 items")
	assert.Contains(t, out, "Glaucoma")
}

func TestPullWithoutRemote(t *testing.T) {
	e := newCLIEnv(t)
	_, err := e.run("", "pull")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestPushNeedsUserNameInStaticMode(t *testing.T) {
	e := newCLIEnv(t)
	t.Setenv("OPH_COMMUNITY_URL", "http://127.0.0.1:1/pool")
	t.Setenv("OPH_USER_NAME", "")
	e.mustRun("add", "--title", "Ptosis repair")

	_, err := e.run("", "push", "#1")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "--user")

	_, err = e.run("", "push")
	require.Error(t, err)
}

func TestDedupNeedsConfirmationAndSecret(t *testing.T) {
	e := newCLIEnv(t)
	e.mustRun("add", "--title", "Glaucoma Basics")
	e.mustRun("add", "--title", "glaucoma   basics")

	_, err := e.run("s3cret\n", "admin-secret")
	require.NoError(t, err)

	out, err := e.run("n\n", "dedup")
	require.NoError(t, err)
	assert.Equal(t, "Nothing deleted.\n", out)

	_, err = e.run("wrong\n", "dedup", "--yes")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	out, err = e.run("s3cret\n", "dedup", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "Removed 1 duplicate items.")

	out = e.mustRun("dedup")
	assert.Equal(t, "No duplicates found.\n", out)
}

func TestVersionJSON(t *testing.T) {
	e := newCLIEnv(t)
	out := e.mustRun("--format", "json", "version")
	assert.Contains(t, out, `"version":"dev"`)
}

func TestServeNeedsStore(t *testing.T) {
	e := newCLIEnv(t)
	t.Setenv("OPH_DATABASE_URL", "")
	_, err := e.run("", "serve")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestAddReadsDataFile(t *testing.T) {
	e := newCLIEnv(t)
	doc := filepath.Join(t.TempDir(), "doc.json")
	require.NoError(t, os.WriteFile(doc, []byte(`{"title":"Diabetic retinopathy","summary":"grading"}`), 0o644))
	out := e.mustRun("add", "--data", doc)
	assert.Equal(t, "Added #1 Diabetic retinopathy (retina)\n", out)
}
