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
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taski/internal/backend"
	"taski/internal/config"
	"taski/internal/domain"
	"taski/internal/realtime"
	"taski/internal/storage"
)

func isolate(t *testing.T) {
	t.Helper()
	t.Setenv(config.EnvConfigPath, filepath.Join(t.TempDir(), "config.yaml"))
	t.Setenv(config.EnvBackendURL, "")
	t.Setenv(config.EnvUserID, "")
	t.Setenv(config.EnvTelemetryOptIn, "")
	t.Cleanup(config.SetTokenStore(&config.MemoryTokenStore{}))
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := runCLI(t, args...)
	require.NoError(t, err, "taski %s\n%s", strings.Join(args, " "), out)
	return out
}

func startServer(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	repo, err := storage.OpenSQLite(filepath.Join(dir, "taski.db"))
	require.NoError(t, err)
	hub := realtime.NewHub()
	s := backend.NewServer(repo, hub, backend.DiskFiles{Dir: filepath.Join(dir, "files")}, "cli-secret")
	s.DevTokens = true
	srv := httptest.NewServer(s.Router())
	t.Cleanup(func() {
		srv.Close()
		hub.Close()
		_ = repo.Close()
	})
	return srv.URL
}

func TestVersion(t *testing.T) {
	isolate(t)
	out := mustRun(t, "version")
	assert.True(t, strings.HasPrefix(out, "taski "), out)

	out = mustRun(t, "version", "--json")
	var v map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	assert.NotEmpty(t, v["version"])
}

func TestConfigSetShow(t *testing.T) {
	isolate(t)
	mustRun(t, "config", "set", "backend.base_url", "https://taski.test")
	mustRun(t, "config", "set", "backend.codec", "cbor")

	out := mustRun(t, "config", "show")
	assert.Contains(t, out, "base_url: https://taski.test")
	assert.Contains(t, out, "codec: cbor")

	_, err := runCLI(t, "config", "set", "backend.codec", "xml")
	assert.Error(t, err)
	_, err = runCLI(t, "config", "set", "nope", "1")
	assert.Error(t, err)
}

func TestCommandsNeedToken(t *testing.T) {
	isolate(t)
	_, err := runCLI(t, "projects", "list")
	assert.Error(t, err)
	_, err = runCLI(t, "board", "show", "p1")
	assert.Error(t, err)
}

func TestBoardWorkflow(t *testing.T) {
	isolate(t)
	url := startServer(t)
	mustRun(t, "config", "set", "backend.base_url", url)

	out := mustRun(t, "config", "login", "--dev", "alice")
	assert.Contains(t, out, "logged in as alice")

	var created struct{ Data domain.Project }
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, "projects", "create", "Sprint")), &created))
	pid := created.Data.ID
	require.NotEmpty(t, pid)
	assert.Equal(t, "alice", created.Data.OwnerID)

	var list struct{ Data []domain.Project }
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, "projects", "list")), &list))
	require.Len(t, list.Data, 1)
	assert.Equal(t, "Sprint", list.Data[0].Name)

	mustRun(t, "projects", "share", pid, "bob")
	mustRun(t, "projects", "rename", pid, "Sprint 2")
	var shown struct{ Data domain.Project }
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, "projects", "show", pid)), &shown))
	assert.Equal(t, "Sprint 2", shown.Data.Name)
	assert.Equal(t, []string{"bob"}, shown.Data.CollabIDs)

	var card struct{ Data domain.Element }
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, "board", "add", pid, "--x", "10", "--y", "20", "--content", "ship it")), &card))
	assert.Equal(t, "New Card", card.Data.Title)
	mustRun(t, "board", "add", pid, "--type", "text", "--x", "300", "--content", "note")

	var snap storage.BoardSnapshot
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, "board", "show", pid)), &snap))
	require.Len(t, snap.Elements, 2)
	assert.Equal(t, card.Data.ID, snap.Elements[0].ID)
	assert.Less(t, snap.Elements[0].ZIndex, snap.Elements[1].ZIndex)

	mustRun(t, "board", "edit", pid, card.Data.ID, "--title", "Renamed")
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, "board", "show", pid)), &snap))
	assert.Equal(t, "Renamed", snap.Elements[0].Title)

	dir := t.TempDir()
	out = mustRun(t, "board", "save", pid, "--dir", dir)
	file := storage.BoardFilePath(dir, pid)
	assert.Contains(t, out, file)
	var sum struct{ Data boardSummary }
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, "board", "open", file)), &sum))
	assert.Equal(t, 2, sum.Data.Elements)
	assert.Equal(t, map[string]int{"card": 1, "text": 1}, sum.Data.ByType)

	outDir := t.TempDir()
	mustRun(t, "export", pid, "--format", "svg,png", "-o", outDir)
	for _, ext := range []string{"svg", "png"} {
		_, err := os.Stat(filepath.Join(outDir, "web", pid+"."+ext))
		assert.NoError(t, err, ext)
	}
	mustRun(t, "export", "--file", file, "--preset", "print", "--format", "pdf", "--name", "offline", "-o", outDir)
	_, err := os.Stat(filepath.Join(outDir, "print", "offline.pdf"))
	assert.NoError(t, err)

	mustRun(t, "board", "rm", pid, card.Data.ID)
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, "board", "show", pid)), &snap))
	assert.Len(t, snap.Elements, 1)

	mustRun(t, "projects", "delete", pid)
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, "projects", "list")), &list))
	assert.Empty(t, list.Data)

	mustRun(t, "config", "logout")
	_, err = runCLI(t, "projects", "list")
	assert.Error(t, err)
}

func TestSummarize(t *testing.T) {
	snap := storage.BoardSnapshot{
		Project: domain.Project{ID: "p1", Name: "Demo"},
		Elements: []domain.Element{
			{ID: "a", Type: domain.TypeImage, ImageRef: "z.png"},
			{ID: "b", Type: domain.TypeImage, ImageRef: "a.png"},
			{ID: "c", Type: domain.TypeCard},
		},
	}
	s := summarize("/tmp/p1.taski.json", snap)
	assert.Equal(t, "p1.taski.json", s.File)
	assert.Equal(t, 3, s.Elements)
	assert.Equal(t, []string{"a.png", "z.png"}, s.Images)
	assert.Empty(t, s.SavedAt)
}

func TestContentTypeFor(t *testing.T) {
	assert.Equal(t, "image/jpeg", contentTypeFor("a/b.JPG"))
	assert.Equal(t, "image/png", contentTypeFor("x.png"))
	assert.Equal(t, "application/octet-stream", contentTypeFor("x.txt"))
}

func TestBoardImport(t *testing.T) {
	isolate(t)
	mustRun(t, "config", "set", "backend.base_url", startServer(t))
	mustRun(t, "config", "login", "--dev", "alice")
	var created struct{ Data domain.Project }
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, "projects", "create", "Imported")), &created))
	pid := created.Data.ID

	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.txt")
	require.NoError(t, os.WriteFile(bad, []byte("  orphan\n"), 0o600))
	out, err := runCLI(t, "board", "import", pid, bad)
	require.Error(t, err)
	assert.Contains(t, out, "bad.txt:1:1")

	good := filepath.Join(dir, "plan.txt")
	require.NoError(t, os.WriteFile(good, []byte("# Todo\n- Write docs\n  - [ ] api\nfree text\n"), 0o600))
	var res struct{ Data []domain.Element }
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, "board", "import", pid, good, "--x", "100")), &res))
	require.Len(t, res.Data, 3)
	assert.Equal(t, domain.TypeCard, res.Data[1].Type)
	assert.Equal(t, "- [ ] api", res.Data[1].Content)

	var snap storage.BoardSnapshot
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, "board", "show", pid)), &snap))
	require.Len(t, snap.Elements, 3)
	assert.Equal(t, "Todo", snap.Elements[0].Content)
	assert.Equal(t, 100.0, snap.Elements[0].X)
}

func TestBoardPackUnpack(t *testing.T) {
	isolate(t)
	mustRun(t, "config", "set", "backend.base_url", startServer(t))
	mustRun(t, "config", "login", "--dev", "alice")
	var created struct{ Data domain.Project }
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, "projects", "create", "Source")), &created))
	pid := created.Data.ID
	mustRun(t, "board", "add", pid, "--title", "Keep me", "--x", "42")

	out := filepath.Join(t.TempDir(), "source.taski.zip")
	mustRun(t, "board", "pack", pid, "-o", out)

	var res struct {
		Data struct {
			Project  domain.Project `json:"project"`
			Elements int            `json:"elements"`
		}
	}
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, "board", "unpack", out, "--name", "Copy")), &res))
	assert.Equal(t, "Copy", res.Data.Project.Name)
	assert.NotEqual(t, pid, res.Data.Project.ID)
	assert.Equal(t, 1, res.Data.Elements)

	var snap storage.BoardSnapshot
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, "board", "show", res.Data.Project.ID)), &snap))
	require.Len(t, snap.Elements, 1)
	assert.Equal(t, "Keep me", snap.Elements[0].Title)
	assert.Equal(t, 42.0, snap.Elements[0].X)
}

func TestBoardHistory(t *testing.T) {
	isolate(t)
	mustRun(t, "config", "set", "backend.base_url", startServer(t))
	mustRun(t, "config", "login", "--dev", "alice")
	var created struct{ Data domain.Project }
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, "projects", "create", "Tracked")), &created))
	pid := created.Data.ID
	db := filepath.Join(t.TempDir(), "history.db")

	assert.Contains(t, mustRun(t, "board", "history", "record", pid, "--db", db), "0 pruned")
	mustRun(t, "board", "add", pid, "--title", "Later")
	assert.Contains(t, mustRun(t, "board", "history", "record", pid, "--db", db, "--keep", "1"), "1 pruned")

	var list struct {
		Data []struct {
			Name     string `json:"name"`
			Elements int    `json:"elements"`
		}
	}
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, "board", "history", "list", pid, "--db", db)), &list))
	require.Len(t, list.Data, 1)
	assert.Equal(t, "Tracked", list.Data[0].Name)
	assert.Equal(t, 1, list.Data[0].Elements)

	dir := t.TempDir()
	mustRun(t, "board", "history", "checkout", pid, "--db", db, "--dir", dir)
	snap, err := storage.ReadBoardSnapshot(storage.BoardFilePath(dir, pid))
	require.NoError(t, err)
	require.Len(t, snap.Elements, 1)
	assert.Equal(t, "Later", snap.Elements[0].Title)

	_, err = runCLI(t, "board", "history", "checkout", "missing", "--db", db)
	assert.Error(t, err)
}
