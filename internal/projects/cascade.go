/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package projects

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"taski/internal/board"
	"taski/internal/domain"
	applog "taski/internal/log"
)

// ErrCascadeAborted reports that an element could not be deleted, so the
// project row was left in place.
var ErrCascadeAborted = errors.New("projects: cascade delete aborted")

// ElementService is the part of the element service a cascade needs.
// board.Persistence satisfies it.
type ElementService interface {
	FetchElements(ctx context.Context, projectID string) ([]domain.Element, error)
	DeleteElement(ctx context.Context, id string) error
}

// ProjectDeleter removes a project row.
type ProjectDeleter interface {
	DeleteProject(ctx context.Context, id string) error
}

// DeleteCascade deletes every element of projectID and then the project.
// The first element that fails stops the cascade and the project is not
// deleted, so no client is left holding elements of a vanished project.
// Image files are removed before their rows; a file failure does not stop
// the cascade. A nil els skips straight to the project row.
func DeleteCascade(ctx context.Context, els ElementService, files board.FileRemover, projects ProjectDeleter, projectID string) error {
	if els != nil {
		list, err := els.FetchElements(ctx, projectID)
		if err != nil {
			return fmt.Errorf("%w: list elements: %w", ErrCascadeAborted, err)
		}
		for _, e := range list {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("%w: %w", ErrCascadeAborted, err)
			}
			if e.Type == domain.TypeImage && e.ImageRef != "" && files != nil {
				if err := files.DeleteFile(ctx, e.ImageRef); err != nil {
					applog.WithOperation(applog.WithComponent("projects"), "delete_cascade").Warn("delete image file failed",
						slog.String("project", projectID), slog.String("element", e.ID), slog.Any("err", err))
				}
			}
			if err := els.DeleteElement(ctx, e.ID); err != nil {
				return fmt.Errorf("%w: element %s: %w", ErrCascadeAborted, e.ID, err)
			}
		}
	}
	if err := projects.DeleteProject(ctx, projectID); err != nil {
		return fmt.Errorf("delete project %s: %w", projectID, err)
	}
	return nil
}
