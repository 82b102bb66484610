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
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"taski/internal/backend"
	"taski/internal/domain"
	applog "taski/internal/log"
	"taski/internal/version"

	// Pure-Go SQLite driver (CGO-free)
	_ "modernc.org/sqlite"
)

// schemaVersion tracks the SQLite schema. Bump it and add a step to
// runMigrations for every schema change.
const schemaVersion = 2

// SQLiteRepository is the embedded backend.Repository used by
// `taski serve --driver sqlite` and by tests.
type SQLiteRepository struct {
	db   *sql.DB
	path string
	log  *slog.Logger
}

var _ backend.Repository = (*SQLiteRepository)(nil)

// OpenSQLite opens or creates the database at path, enables WAL mode and
// brings the schema up to date.
func OpenSQLite(path string) (*SQLiteRepository, error) {
	l := applog.WithOperation(applog.WithComponent("storage"), "sqlite_open").With(slog.String("path", path))
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", filepath.ToSlash(path))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		l.Error("sqlite open failed", slog.Any("err", err))
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer; keeps transactions serialized for the embedded server.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
		_ = db.Close()
		l.Error("enable WAL failed", slog.Any("err", err))
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if err := ensureMetaAndVersion(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := ensureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	l.Info("database ready")
	return &SQLiteRepository{db: db, path: path, log: applog.WithComponent("storage")}, nil
}

func (r *SQLiteRepository) Path() string { return r.path }

func (r *SQLiteRepository) Ping(ctx context.Context) error { return r.db.PingContext(ctx) }

func (r *SQLiteRepository) Close() error { return r.db.Close() }

func ensureMetaAndVersion(ctx context.Context, db *sql.DB) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS version (
			id          INTEGER PRIMARY KEY CHECK(id=1),
			schema      INTEGER NOT NULL,
			app         TEXT,
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL
		);`,
	}
	for _, q := range ddl {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	now := time.Now().UTC().Format(time.RFC3339)
	appv := version.String()
	var curSchema int
	err := db.QueryRowContext(ctx, `SELECT schema FROM version WHERE id=1`).Scan(&curSchema)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// A fresh database starts at schema 1; runMigrations takes it from there.
		if _, err := db.ExecContext(ctx, `INSERT INTO version (id, schema, app, created_at, updated_at) VALUES(1, 1, ?, ?, ?)`, appv, now, now); err != nil {
			return fmt.Errorf("insert version: %w", err)
		}
	case err != nil:
		return fmt.Errorf("read version: %w", err)
	default:
		if _, err := db.ExecContext(ctx, `UPDATE version SET app=?, updated_at=? WHERE id=1`, appv, now); err != nil {
			return fmt.Errorf("update version: %w", err)
		}
	}
	return nil
}

func ensureSchema(ctx context.Context, db *sql.DB) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS projects (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL DEFAULT '',
			owner_id    TEXT NOT NULL,
			is_public   INTEGER NOT NULL DEFAULT 0,
			collab_ids  TEXT NOT NULL DEFAULT '[]',
			created_at  TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_projects_owner ON projects(owner_id);`,
		`CREATE TABLE IF NOT EXISTS elements (
			id          TEXT PRIMARY KEY,
			project_id  TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
			type        TEXT NOT NULL CHECK (type IN ('card', 'text', 'image')),
			x           REAL NOT NULL DEFAULT 0,
			y           REAL NOT NULL DEFAULT 0,
			z_index     INTEGER NOT NULL DEFAULT 0,
			title       TEXT NOT NULL DEFAULT '',
			content     TEXT NOT NULL DEFAULT '',
			image_ref   TEXT NOT NULL DEFAULT '',
			created_at  TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_elements_project ON elements(project_id);`,
	}
	for _, q := range ddl {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// runMigrations applies incremental schema migrations up to schemaVersion.
func runMigrations(ctx context.Context, db *sql.DB) error {
	var cur int
	if err := db.QueryRowContext(ctx, `SELECT schema FROM version WHERE id=1`).Scan(&cur); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	for cur < schemaVersion {
		next := cur + 1
		var stmts []string
		switch next {
		case 2:
			// Board history and render-order index.
			stmts = []string{
				`CREATE TABLE IF NOT EXISTS snapshots (
					id         INTEGER PRIMARY KEY,
					project_id TEXT NOT NULL,
					ts         TEXT NOT NULL,
					body       BLOB NOT NULL
				);`,
				`CREATE INDEX IF NOT EXISTS idx_snapshots_project_ts ON snapshots(project_id, ts);`,
				`CREATE INDEX IF NOT EXISTS idx_elements_project_z ON elements(project_id, z_index);`,
			}
		}
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", next, err)
		}
		for _, q := range stmts {
			if _, err := tx.ExecContext(ctx, q); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("migration %d stmt failed: %w", next, err)
			}
		}
		if _, err := tx.ExecContext(ctx, `UPDATE version SET schema=?, updated_at=? WHERE id=1`, next, time.Now().UTC().Format(time.RFC3339)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d update version: %w", next, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %d commit: %w", next, err)
		}
		cur = next
	}
	return nil
}

// SchemaVersion returns the schema version recorded in the database.
func (r *SQLiteRepository) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	err := r.db.QueryRowContext(ctx, `SELECT schema FROM version WHERE id=1`).Scan(&v)
	return v, err
}

// language=SQL
// dialect=SQLite
const projectCols = `id, name, owner_id, is_public, collab_ids, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanProject(row scanner) (domain.Project, error) {
	var (
		p       domain.Project
		collabs string
		created string
	)
	err := row.Scan(&p.ID, &p.Name, &p.OwnerID, &p.IsPublic, &collabs, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return p, backend.ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if err := json.Unmarshal([]byte(collabs), &p.CollabIDs); err != nil {
		return p, fmt.Errorf("decode collab_ids of %s: %w", p.ID, err)
	}
	if p.CollabIDs == nil {
		p.CollabIDs = []string{}
	}
	p.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return p, nil
}

func (r *SQLiteRepository) ListProjects(ctx context.Context, userID string) ([]domain.Project, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+projectCols+` FROM projects
		WHERE owner_id = ? OR EXISTS (SELECT 1 FROM json_each(projects.collab_ids) WHERE value = ?)
		ORDER BY created_at DESC, id`, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return scanProject(r.db.QueryRowContext(ctx, `SELECT `+projectCols+` FROM projects WHERE id = ?`, id))
}

func (r *SQLiteRepository) CreateProject(ctx context.Context, p domain.Project) (domain.Project, error) {
	p.Normalize()
	if err := p.Validate(); err != nil {
		return domain.Project{}, err
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	collabs, err := encodeCollabs(p.CollabIDs)
	if err != nil {
		return domain.Project{}, err
	}
	_, err = r.db.ExecContext(ctx, `INSERT INTO projects(id, name, owner_id, is_public, collab_ids, created_at) VALUES(?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.OwnerID, p.IsPublic, collabs, p.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return domain.Project{}, mapSQLiteError(err)
	}
	return r.GetProject(ctx, p.ID)
}

func (r *SQLiteRepository) UpdateProject(ctx context.Context, id string, patch domain.ProjectPatch) (domain.Project, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer func() { _ = tx.Rollback() }()
	cur, err := scanProject(tx.QueryRowContext(ctx, `SELECT `+projectCols+` FROM projects WHERE id = ?`, id))
	if err != nil {
		return domain.Project{}, err
	}
	next := patch.ApplyTo(cur)
	collabs, err := encodeCollabs(next.CollabIDs)
	if err != nil {
		return domain.Project{}, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE projects SET name = ?, is_public = ?, collab_ids = ? WHERE id = ?`,
		next.Name, next.IsPublic, collabs, id); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	if next.CollabIDs == nil {
		next.CollabIDs = []string{}
	}
	return next, nil
}

func (r *SQLiteRepository) DeleteProject(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return backend.ErrNotFound
	}
	return nil
}

// language=SQL
// dialect=SQLite
const elementCols = `id, project_id, type, x, y, z_index, title, content, image_ref, created_at`

func scanElement(row scanner) (domain.Element, error) {
	var (
		e       domain.Element
		typ     string
		created string
	)
	err := row.Scan(&e.ID, &e.ProjectID, &typ, &e.X, &e.Y, &e.ZIndex, &e.Title, &e.Content, &e.ImageRef, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return e, backend.ErrNotFound
	}
	if err != nil {
		return e, err
	}
	e.Type = domain.ElementType(typ)
	e.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return e, nil
}

func (r *SQLiteRepository) FetchElements(ctx context.Context, projectID string) ([]domain.Element, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+elementCols+` FROM elements WHERE project_id = ? ORDER BY z_index, created_at, id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("fetch elements: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []domain.Element
	for rows.Next() {
		e, err := scanElement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) GetElement(ctx context.Context, id string) (domain.Element, error) {
	return scanElement(r.db.QueryRowContext(ctx, `SELECT `+elementCols+` FROM elements WHERE id = ?`, id))
}

func (r *SQLiteRepository) CreateElement(ctx context.Context, e domain.Element) (domain.Element, error) {
	if err := e.Validate(); err != nil {
		return domain.Element{}, err
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO elements(id, project_id, type, x, y, z_index, title, content, image_ref, created_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ProjectID, string(e.Type), e.X, e.Y, e.ZIndex, e.Title, e.Content, e.ImageRef, e.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return domain.Element{}, mapSQLiteError(err)
	}
	return r.GetElement(ctx, e.ID)
}

func (r *SQLiteRepository) UpdateElement(ctx context.Context, id string, patch domain.Patch) (domain.Element, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Element{}, err
	}
	defer func() { _ = tx.Rollback() }()
	cur, err := scanElement(tx.QueryRowContext(ctx, `SELECT `+elementCols+` FROM elements WHERE id = ?`, id))
	if err != nil {
		return domain.Element{}, err
	}
	next := patch.ApplyTo(cur)
	if _, err := tx.ExecContext(ctx, `UPDATE elements SET x = ?, y = ?, z_index = ?, title = ?, content = ?, image_ref = ? WHERE id = ?`,
		next.X, next.Y, next.ZIndex, next.Title, next.Content, next.ImageRef, id); err != nil {
		return domain.Element{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Element{}, err
	}
	return next, nil
}

func (r *SQLiteRepository) DeleteElement(ctx context.Context, id string) (domain.Element, error) {
	e, err := r.GetElement(ctx, id)
	if err != nil {
		return domain.Element{}, err
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM elements WHERE id = ?`, id); err != nil {
		return domain.Element{}, fmt.Errorf("delete element: %w", err)
	}
	return e, nil
}

func encodeCollabs(ids []string) (string, error) {
	if ids == nil {
		ids = []string{}
	}
	b, err := json.Marshal(ids)
	return string(b), err
}

// mapSQLiteError maps constraint failures to the backend sentinels. The
// driver reports them in the message text.
func mapSQLiteError(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"), strings.Contains(msg, "PRIMARY KEY"):
		return fmt.Errorf("%w: %v", backend.ErrConflict, err)
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return fmt.Errorf("%w: %v", backend.ErrNotFound, err)
	}
	return err
}
