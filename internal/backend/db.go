/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package backend

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"taski/internal/domain"
	applog "taski/internal/log"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PGRepository is the Postgres Repository.
type PGRepository struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// OpenPG connects to dsn, checks the connection and applies migrations.
func OpenPG(ctx context.Context, dsn string) (*PGRepository, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	r := &PGRepository{pool: pool, log: applog.WithComponent("backend.pg")}
	if err := r.applyMigrations(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return r, nil
}

// Pool exposes the connection pool for the change listener.
func (r *PGRepository) Pool() *pgxpool.Pool { return r.pool }

func (r *PGRepository) Ping(ctx context.Context) error { return r.pool.Ping(ctx) }

func (r *PGRepository) Close() error {
	r.pool.Close()
	return nil
}

// applyMigrations applies embedded SQL migrations in filename order and
// records each applied version.
func (r *PGRepository) applyMigrations(ctx context.Context) error {
	files, err := migrationFiles()
	if err != nil {
		return err
	}
	if _, err := r.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version BIGINT PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}

	applied := map[int64]bool{}
	rows, err := r.pool.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("select schema_migrations: %w", err)
	}
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return err
		}
		applied[v] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, fname := range files {
		version, err := parseVersion(fname)
		if err != nil {
			return err
		}
		if applied[version] {
			continue
		}
		b, err := migrationsFS.ReadFile(path.Join("migrations", fname))
		if err != nil {
			return err
		}
		r.log.Info("applying migration", slog.String("file", fname))
		err = pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, string(b)); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `INSERT INTO schema_migrations(version, name) VALUES($1, $2)`, version, fname)
			return err
		})
		if err != nil {
			return fmt.Errorf("apply %s: %w", fname, err)
		}
	}
	return nil
}

func migrationFiles() ([]string, error) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(strings.ToLower(e.Name()), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

func parseVersion(name string) (int64, error) {
	base := path.Base(name)
	prefix, _, ok := strings.Cut(base, "_")
	if !ok {
		return 0, errors.New("invalid migration filename: " + name)
	}
	v, err := strconv.ParseInt(prefix, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse version from %s: %w", name, err)
	}
	return v, nil
}

const projectCols = `id, name, owner_id, is_public, collab_ids, created_at`

func scanProject(row pgx.Row) (domain.Project, error) {
	var p domain.Project
	err := row.Scan(&p.ID, &p.Name, &p.OwnerID, &p.IsPublic, &p.CollabIDs, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return p, ErrNotFound
	}
	if p.CollabIDs == nil {
		p.CollabIDs = []string{}
	}
	return p, err
}

func (r *PGRepository) ListProjects(ctx context.Context, userID string) ([]domain.Project, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+projectCols+` FROM projects
		WHERE owner_id = $1 OR $1 = ANY (collab_ids)
		ORDER BY created_at DESC, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()
	var out []domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *PGRepository) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return scanProject(r.pool.QueryRow(ctx, `SELECT `+projectCols+` FROM projects WHERE id = $1`, id))
}

func (r *PGRepository) CreateProject(ctx context.Context, p domain.Project) (domain.Project, error) {
	p.Normalize()
	if err := p.Validate(); err != nil {
		return domain.Project{}, err
	}
	if p.CollabIDs == nil {
		p.CollabIDs = []string{}
	}
	saved, err := scanProject(r.pool.QueryRow(ctx, `INSERT INTO projects(id, name, owner_id, is_public, collab_ids)
		VALUES($1, $2, $3, $4, $5) RETURNING `+projectCols,
		p.ID, p.Name, p.OwnerID, p.IsPublic, p.CollabIDs))
	return saved, mapPGError(err)
}

func (r *PGRepository) UpdateProject(ctx context.Context, id string, patch domain.ProjectPatch) (domain.Project, error) {
	var saved domain.Project
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		cur, err := scanProject(tx.QueryRow(ctx, `SELECT `+projectCols+` FROM projects WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return err
		}
		next := patch.ApplyTo(cur)
		if next.CollabIDs == nil {
			next.CollabIDs = []string{}
		}
		saved, err = scanProject(tx.QueryRow(ctx, `UPDATE projects SET name = $2, is_public = $3, collab_ids = $4
			WHERE id = $1 RETURNING `+projectCols, id, next.Name, next.IsPublic, next.CollabIDs))
		return err
	})
	return saved, err
}

func (r *PGRepository) DeleteProject(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const elementCols = `id, project_id, type, x, y, z_index, title, content, image_ref, created_at`

func scanElement(row pgx.Row) (domain.Element, error) {
	var e domain.Element
	var typ string
	err := row.Scan(&e.ID, &e.ProjectID, &typ, &e.X, &e.Y, &e.ZIndex, &e.Title, &e.Content, &e.ImageRef, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return e, ErrNotFound
	}
	e.Type = domain.ElementType(typ)
	return e, err
}

func (r *PGRepository) FetchElements(ctx context.Context, projectID string) ([]domain.Element, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+elementCols+` FROM elements WHERE project_id = $1 ORDER BY z_index, created_at, id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("fetch elements: %w", err)
	}
	defer rows.Close()
	var out []domain.Element
	for rows.Next() {
		e, err := scanElement(rows)
		if err != nil {
			return nil, fmt.Errorf("scan element: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *PGRepository) GetElement(ctx context.Context, id string) (domain.Element, error) {
	return scanElement(r.pool.QueryRow(ctx, `SELECT `+elementCols+` FROM elements WHERE id = $1`, id))
}

func (r *PGRepository) CreateElement(ctx context.Context, e domain.Element) (domain.Element, error) {
	if err := e.Validate(); err != nil {
		return domain.Element{}, err
	}
	saved, err := scanElement(r.pool.QueryRow(ctx, `INSERT INTO elements(id, project_id, type, x, y, z_index, title, content, image_ref)
		VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING `+elementCols,
		e.ID, e.ProjectID, string(e.Type), e.X, e.Y, e.ZIndex, e.Title, e.Content, e.ImageRef))
	return saved, mapPGError(err)
}

func (r *PGRepository) UpdateElement(ctx context.Context, id string, patch domain.Patch) (domain.Element, error) {
	if patch.Empty() {
		return r.GetElement(ctx, id)
	}
	var (
		args []any
		sets []string
	)
	place := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	idArg := place(id)
	if patch.X != nil {
		sets = append(sets, "x = "+place(*patch.X))
	}
	if patch.Y != nil {
		sets = append(sets, "y = "+place(*patch.Y))
	}
	if patch.ZIndex != nil {
		sets = append(sets, "z_index = "+place(*patch.ZIndex))
	}
	if patch.Title != nil {
		sets = append(sets, "title = "+place(*patch.Title))
	}
	if patch.Content != nil {
		sets = append(sets, "content = "+place(*patch.Content))
	}
	if patch.ImageRef != nil {
		sets = append(sets, "image_ref = "+place(*patch.ImageRef))
	}
	q := `UPDATE elements SET ` + strings.Join(sets, ", ") + ` WHERE id = ` + idArg + ` RETURNING ` + elementCols
	return scanElement(r.pool.QueryRow(ctx, q, args...))
}

func (r *PGRepository) DeleteElement(ctx context.Context, id string) (domain.Element, error) {
	return scanElement(r.pool.QueryRow(ctx, `DELETE FROM elements WHERE id = $1 RETURNING `+elementCols, id))
}

func mapPGError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", ErrConflict, pgErr.Detail)
		case "23503":
			return fmt.Errorf("%w: %s", ErrNotFound, pgErr.Detail)
		}
	}
	return err
}
