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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"taski/internal/domain"
	"taski/internal/schema"
)

const (
	// BoardFileExt is the extension of board snapshot files.
	BoardFileExt   = ".taski.json"
	BackupsDirName = "backups"

	boardFormatVersion = 1
)

// BoardSnapshot is a self-contained copy of one board: the project facts and
// its elements in render order.
type BoardSnapshot struct {
	Version  int              `json:"version"`
	SavedAt  time.Time        `json:"savedAt,omitzero"`
	Project  domain.Project   `json:"project"`
	Elements []domain.Element `json:"elements"`
}

// NewBoardSnapshot stamps a snapshot of p and els.
func NewBoardSnapshot(p domain.Project, els []domain.Element) BoardSnapshot {
	return BoardSnapshot{Version: boardFormatVersion, SavedAt: time.Now().UTC(), Project: p.Clone(), Elements: append([]domain.Element(nil), els...)}
}

// BoardFilePath returns the snapshot path for projectID inside dir.
func BoardFilePath(dir, projectID string) string {
	return filepath.Join(dir, projectID+BoardFileExt)
}

// WriteBoardSnapshot writes snap to path with transactional semantics and a
// timestamped backup of the previous file (if present).
func WriteBoardSnapshot(path string, snap BoardSnapshot) error {
	if strings.TrimSpace(path) == "" {
		return errors.New("snapshot path is required")
	}
	if snap.Version == 0 {
		snap.Version = boardFormatVersion
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	bdir := filepath.Join(dir, BackupsDirName)
	if err := os.MkdirAll(bdir, 0o755); err != nil {
		return fmt.Errorf("ensure backups dir: %w", err)
	}
	if _, statErr := os.Stat(path); statErr == nil {
		stamp := time.Now().Format("20060102-150405.000")
		bpath := filepath.Join(bdir, fmt.Sprintf("%s.%s.bak", filepath.Base(path), stamp))
		if cerr := copyFile(path, bpath); cerr != nil {
			return fmt.Errorf("backup current snapshot: %w", cerr)
		}
	}

	temp := filepath.Join(dir, fmt.Sprintf(".%s.tmp-%d-%d", filepath.Base(path), os.Getpid(), rand.Int()))
	if werr := writeFileSync(temp, data); werr != nil {
		return fmt.Errorf("write temp snapshot: %w", werr)
	}
	// On Windows, replace by removing destination first if needed
	if _, err := os.Stat(path); err == nil {
		_ = os.Remove(path)
	}
	if rerr := os.Rename(temp, path); rerr != nil {
		_ = os.Remove(temp)
		return fmt.Errorf("replace snapshot: %w", rerr)
	}
	return nil
}

// ReadBoardSnapshot loads and validates a snapshot. If the file is missing,
// unreadable or invalid, the latest backup is tried.
func ReadBoardSnapshot(path string) (BoardSnapshot, error) {
	snap, err := readBoardFile(path)
	if err == nil {
		return snap, nil
	}
	bsnap, berr := readLatestBackup(path)
	if berr != nil {
		return BoardSnapshot{}, fmt.Errorf("open snapshot: %w; backup attempt: %v", err, berr)
	}
	return bsnap, nil
}

func readBoardFile(path string) (BoardSnapshot, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return BoardSnapshot{}, err
	}
	if err := schema.Validate(schema.Snapshot, b); err != nil {
		return BoardSnapshot{}, err
	}
	var snap BoardSnapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return BoardSnapshot{}, fmt.Errorf("parse snapshot: %w", err)
	}
	return snap, nil
}

func readLatestBackup(path string) (BoardSnapshot, error) {
	bdir := filepath.Join(filepath.Dir(path), BackupsDirName)
	ents, err := os.ReadDir(bdir)
	if err != nil {
		return BoardSnapshot{}, fmt.Errorf("read backups dir: %w", err)
	}
	prefix := filepath.Base(path) + "."
	var candidates []string
	for _, e := range ents {
		name := e.Name()
		if strings.HasPrefix(name, prefix) && strings.HasSuffix(name, ".bak") {
			candidates = append(candidates, filepath.Join(bdir, name))
		}
	}
	if len(candidates) == 0 {
		return BoardSnapshot{}, errors.New("no backups found")
	}
	sort.Strings(candidates) // timestamp in name yields lexicographic order
	return readBoardFile(candidates[len(candidates)-1])
}

// writeFileSync writes data to a file, ensures it is flushed to disk.
func writeFileSync(path string, data []byte) (err error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	if _, err := f.Write(data); err != nil {
		return err
	}
	return f.Sync()
}

// copyFile copies a file from src to dst (overwrites dst if exists).
func copyFile(src, dst string) (err error) {
	sf, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := sf.Close(); err == nil {
			err = cerr
		}
	}()
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	df, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := df.Close(); err == nil {
			err = cerr
		}
	}()
	if _, err := io.Copy(df, sf); err != nil {
		return err
	}
	return df.Sync()
}
