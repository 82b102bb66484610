/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package bundle

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

func sampleSnapshot() storage.BoardSnapshot {
	return storage.NewBoardSnapshot(domain.Project{ID: "p1", Name: "Plan", OwnerID: "alice"}, []domain.Element{
		{ID: "a", ProjectID: "p1", Type: domain.TypeCard, Title: "A", ZIndex: 1},
		{ID: "b", ProjectID: "p1", Type: domain.TypeImage, ImageRef: "x.png", ZIndex: 2},
		{ID: "c", ProjectID: "p1", Type: domain.TypeImage, ImageRef: "x.png", ZIndex: 3},
		{ID: "d", ProjectID: "p1", Type: domain.TypeImage, ImageRef: "gone.png", ZIndex: 4},
	})
}

func TestWriteOpenRoundTrip(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "out", "plan"+Ext)
	fetched := 0
	fetch := func(ref string, w io.Writer) error {
		fetched++
		if ref == "gone.png" {
			return errors.New("not found")
		}
		_, err := io.WriteString(w, "png:"+ref)
		return err
	}
	if err := Write(dest, sampleSnapshot(), fetch); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if fetched != 2 {
		t.Fatalf("fetched %d files, want 2 distinct refs", fetched)
	}

	r, err := Open(dest)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()
	if r.Snapshot.Project.Name != "Plan" || len(r.Snapshot.Elements) != 4 {
		t.Fatalf("snapshot = %+v", r.Snapshot)
	}
	if !r.HasFile("x.png") {
		t.Fatalf("x.png not bundled")
	}
	rc, err := r.File("x.png")
	if err != nil {
		t.Fatal(err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "png:x.png" {
		t.Fatalf("file content = %q", data)
	}
	if _, err := r.File("other.png"); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("missing file err = %v", err)
	}
}

func TestWriteWithoutFiles(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "b"+Ext)
	if err := Write(dest, sampleSnapshot(), nil); err != nil {
		t.Fatal(err)
	}
	r, err := Open(dest)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if r.HasFile("x.png") {
		t.Fatalf("no files expected")
	}
}

func TestOpenRejectsForeignZip(t *testing.T) {
	if _, err := Open(filepath.Join(t.TempDir(), "missing.zip")); err == nil {
		t.Fatalf("expected error for missing file")
	}
	if err := Write("", sampleSnapshot(), nil); err == nil || !strings.Contains(err.Error(), "required") {
		t.Fatalf("empty path err = %v", err)
	}
}

func TestFailedFetchLeavesNoEntry(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "b"+Ext)
	fetch := func(ref string, w io.Writer) error { return errors.New("offline") }
	if err := Write(dest, sampleSnapshot(), fetch); err != nil {
		t.Fatal(err)
	}
	r, err := Open(dest)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if r.HasFile("gone.png") || r.HasFile("x.png") {
		t.Fatalf("failed fetches must not leave entries")
	}
}
