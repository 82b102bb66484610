/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package backend is the persistence and realtime service behind the board:
// a REST client used by the desktop app, the HTTP/websocket server, and the
// Postgres repository with its change listener.
package backend

import (
	"context"
	"errors"

	"taski/internal/domain"
)

var (
	ErrNotFound     = errors.New("backend: not found")
	ErrConflict     = errors.New("backend: already exists")
	ErrUnauthorized = errors.New("backend: unauthorized")
	ErrForbidden    = errors.New("backend: forbidden")
)

// Repository stores projects and elements. The Postgres and SQLite
// implementations satisfy it; missing rows map to ErrNotFound and duplicate
// ids to ErrConflict.
type Repository interface {
	ListProjects(ctx context.Context, userID string) ([]domain.Project, error)
	GetProject(ctx context.Context, id string) (domain.Project, error)
	CreateProject(ctx context.Context, p domain.Project) (domain.Project, error)
	UpdateProject(ctx context.Context, id string, patch domain.ProjectPatch) (domain.Project, error)
	DeleteProject(ctx context.Context, id string) error

	FetchElements(ctx context.Context, projectID string) ([]domain.Element, error)
	GetElement(ctx context.Context, id string) (domain.Element, error)
	CreateElement(ctx context.Context, e domain.Element) (domain.Element, error)
	UpdateElement(ctx context.Context, id string, patch domain.Patch) (domain.Element, error)
	DeleteElement(ctx context.Context, id string) (domain.Element, error)

	Ping(ctx context.Context) error
	Close() error
}
