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
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"taski/internal/domain"
	"taski/internal/storage"
)

func TestWriteReportCreatesFileInTemp(t *testing.T) {
	path, err := writeReport("", "boom", []byte("stacktrace"))
	if err != nil {
		t.Fatalf("writeReport error: %v", err)
	}
	t.Cleanup(func() { _ = os.Remove(path) })
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	s := string(b)
	if !strings.Contains(s, "Taski Crash Report") || !strings.Contains(s, "Panic: boom") {
		t.Fatalf("unexpected report: %s", s)
	}
}

func TestBoardAutosaver(t *testing.T) {
	dir := t.TempDir()
	a := BoardAutosaver{Dir: dir, Snapshot: func() (storage.BoardSnapshot, bool) {
		return storage.NewBoardSnapshot(
			domain.Project{ID: "p1", Name: "Plan", OwnerID: "alice", CollabIDs: []string{}},
			[]domain.Element{{ID: "e1", ProjectID: "p1", Type: domain.TypeCard, Title: "x"}},
		), true
	}}
	path, err := a.Autosave()
	if err != nil {
		t.Fatalf("autosave: %v", err)
	}
	snap, err := storage.ReadBoardSnapshot(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if snap.Project.ID != "p1" || len(snap.Elements) != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if a.ReportDir() != filepath.Join(dir, storage.BackupsDirName) {
		t.Fatalf("report dir = %s", a.ReportDir())
	}

	none := BoardAutosaver{Dir: dir, Snapshot: func() (storage.BoardSnapshot, bool) { return storage.BoardSnapshot{}, false }}
	if _, err := none.Autosave(); !errors.Is(err, ErrNothingOpen) {
		t.Fatalf("err = %v, want ErrNothingOpen", err)
	}
}

func TestRecoverWritesReportAndAutosaves(t *testing.T) {
	oldStderr := os.Stderr
	r, w, _ := os.Pipe()
	os.Stderr = w
	defer func() {
		_ = w.Close()
		os.Stderr = oldStderr
		_, _ = io.Copy(io.Discard, r)
	}()

	code := 0
	oldExit := exitFn
	exitFn = func(c int) { code = c }
	defer func() { exitFn = oldExit }()

	dir := t.TempDir()
	a := BoardAutosaver{Dir: dir, Snapshot: func() (storage.BoardSnapshot, bool) {
		return storage.NewBoardSnapshot(domain.Project{ID: "p1", Name: "Plan", OwnerID: "alice", CollabIDs: []string{}}, nil), true
	}}
	func() {
		defer Recover(a)
		panic("boom")
	}()

	if code != 2 {
		t.Fatalf("exit code = %d, want 2", code)
	}
	files, _ := os.ReadDir(filepath.Join(dir, storage.BackupsDirName))
	found := false
	for _, f := range files {
		if strings.HasPrefix(f.Name(), "crash-") && strings.HasSuffix(f.Name(), ".log") {
			found = true
		}
	}
	if !found {
		t.Fatalf("no crash report under backups")
	}
	if _, err := os.Stat(storage.BoardFilePath(dir, "crash-p1")); err != nil {
		t.Fatalf("autosave missing: %v", err)
	}
}
