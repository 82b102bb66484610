/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package bundle packs a board and its image files into one zip archive so
// it can be moved between servers.
package bundle

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	applog "taski/internal/log"
	"taski/internal/storage"
)

const (
	manifestName = "taski.manifest.txt"
	boardName    = "board.json"
	filesDir     = "files/"
)

// Ext is the conventional bundle file extension.
const Ext = ".taski.zip"

// FetchFunc copies the stored file ref to w.
type FetchFunc func(ref string, w io.Writer) error

// Write creates the archive at dest with the snapshot and, when fetch is not
// nil, every image file it references. A file that cannot be fetched is
// logged and left out; the element keeps its reference.
func Write(dest string, snap storage.BoardSnapshot, fetch FetchFunc) (err error) {
	l := applog.WithOperation(applog.WithComponent("bundle"), "write").With(slog.String("project", snap.Project.ID))
	if strings.TrimSpace(dest) == "" {
		return errors.New("bundle path is required")
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("ensure bundle dir: %w", err)
	}
	_ = os.Remove(dest)

	zf, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create bundle: %w", err)
	}
	defer func() {
		if cerr := zf.Close(); err == nil {
			err = cerr
		}
	}()
	zw := zip.NewWriter(zf)
	defer func() {
		if cerr := zw.Close(); err == nil {
			err = cerr
		}
	}()

	manifest := fmt.Sprintf("Taski board bundle\nCreated: %s\nProject: %s (%s)\nElements: %d\n",
		time.Now().UTC().Format(time.RFC3339), snap.Project.Name, snap.Project.ID, len(snap.Elements))
	if err := writeEntry(zw, manifestName, []byte(manifest)); err != nil {
		return err
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode board: %w", err)
	}
	if err := writeEntry(zw, boardName, data); err != nil {
		return err
	}

	added := 0
	if fetch != nil {
		for _, ref := range imageRefs(snap) {
			var buf bytes.Buffer
			if err := fetch(ref, &buf); err != nil {
				l.Warn("image not bundled", slog.String("ref", ref), slog.Any("err", err))
				continue
			}
			if err := writeEntry(zw, filesDir+ref, buf.Bytes()); err != nil {
				return err
			}
			added++
		}
	}
	l.Info("bundle written", slog.String("path", dest), slog.Int("elements", len(snap.Elements)), slog.Int("files", added))
	return nil
}

func writeEntry(zw *zip.Writer, name string, data []byte) error {
	w, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("add %s: %w", name, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// imageRefs returns the distinct image references of snap, sorted.
func imageRefs(snap storage.BoardSnapshot) []string {
	seen := map[string]bool{}
	var refs []string
	for _, e := range snap.Elements {
		if e.ImageRef != "" && !seen[e.ImageRef] {
			seen[e.ImageRef] = true
			refs = append(refs, e.ImageRef)
		}
	}
	sort.Strings(refs)
	return refs
}

// Reader is an opened bundle.
type Reader struct {
	Snapshot storage.BoardSnapshot

	zr    *zip.ReadCloser
	files map[string]*zip.File
}

// Open reads the board of the bundle at p. Close the reader when done.
func Open(p string) (*Reader, error) {
	zr, err := zip.OpenReader(p)
	if err != nil {
		return nil, fmt.Errorf("open bundle: %w", err)
	}
	r := &Reader{zr: zr, files: map[string]*zip.File{}}
	var board *zip.File
	for _, f := range zr.File {
		name := path.Clean(f.Name)
		switch {
		case name == boardName:
			board = f
		case strings.HasPrefix(name, filesDir) && !f.FileInfo().IsDir():
			r.files[strings.TrimPrefix(name, filesDir)] = f
		}
	}
	if board == nil {
		_ = zr.Close()
		return nil, fmt.Errorf("open bundle: %s missing", boardName)
	}
	rc, err := board.Open()
	if err != nil {
		_ = zr.Close()
		return nil, err
	}
	defer rc.Close()
	if err := json.NewDecoder(rc).Decode(&r.Snapshot); err != nil {
		_ = zr.Close()
		return nil, fmt.Errorf("decode board: %w", err)
	}
	return r, nil
}

// HasFile reports whether the bundle carries the file for ref.
func (r *Reader) HasFile(ref string) bool {
	_, ok := r.files[ref]
	return ok
}

// File opens the bundled file for ref.
func (r *Reader) File(ref string) (io.ReadCloser, error) {
	f, ok := r.files[ref]
	if !ok {
		return nil, fmt.Errorf("bundle: no file %q: %w", ref, os.ErrNotExist)
	}
	return f.Open()
}

func (r *Reader) Close() error { return r.zr.Close() }
