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
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// language=SQL
// dialect=SQLite
const insertSnapshotSQL = `INSERT INTO snapshots(project_id, ts, body) VALUES (?, ?, ?)`

// language=SQL
// dialect=SQLite
const selectLatestSnapshotSQL = `SELECT ts, body FROM snapshots WHERE project_id = ? ORDER BY ts DESC, id DESC LIMIT 1`

// language=SQL
// dialect=SQLite
const listSnapshotsSQL = `SELECT ts, body FROM snapshots WHERE project_id = ? ORDER BY ts DESC, id DESC LIMIT ?`

// language=SQL
// dialect=SQLite
const pruneOldSnapshotsSQL = `DELETE FROM snapshots WHERE project_id = ? AND id NOT IN (
	SELECT id FROM snapshots WHERE project_id = ? ORDER BY ts DESC, id DESC LIMIT ?
)`

// SaveSnapshot records a board snapshot in the project's history.
func (r *SQLiteRepository) SaveSnapshot(ctx context.Context, snap BoardSnapshot) error {
	if snap.Project.ID == "" {
		return errors.New("snapshot without project id")
	}
	if snap.SavedAt.IsZero() {
		snap.SavedAt = time.Now().UTC()
	}
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	_, err = r.db.ExecContext(ctx, insertSnapshotSQL, snap.Project.ID, snap.SavedAt.UTC().Format(time.RFC3339Nano), body)
	return err
}

// LatestSnapshot returns the newest snapshot of projectID; ok is false when there is none.
func (r *SQLiteRepository) LatestSnapshot(ctx context.Context, projectID string) (snap BoardSnapshot, ok bool, err error) {
	var ts string
	var body []byte
	err = r.db.QueryRowContext(ctx, selectLatestSnapshotSQL, projectID).Scan(&ts, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return BoardSnapshot{}, false, nil
	}
	if err != nil {
		return BoardSnapshot{}, false, err
	}
	if err := json.Unmarshal(body, &snap); err != nil {
		return BoardSnapshot{}, false, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, true, nil
}

// ListSnapshots returns up to limit most recent snapshots of projectID.
func (r *SQLiteRepository) ListSnapshots(ctx context.Context, projectID string, limit int) ([]BoardSnapshot, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, listSnapshotsSQL, projectID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []BoardSnapshot
	for rows.Next() {
		var ts string
		var body []byte
		if err := rows.Scan(&ts, &body); err != nil {
			return nil, err
		}
		var snap BoardSnapshot
		if err := json.Unmarshal(body, &snap); err != nil {
			return nil, fmt.Errorf("decode snapshot: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// PruneOldSnapshots keeps at most keepLast snapshots of projectID and deletes older ones.
func (r *SQLiteRepository) PruneOldSnapshots(ctx context.Context, projectID string, keepLast int) (int64, error) {
	if keepLast <= 0 {
		return 0, nil
	}
	res, err := r.db.ExecContext(ctx, pruneOldSnapshotsSQL, projectID, projectID, keepLast)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
