/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package board

import (
	"context"
	"log/slog"

	"taski/internal/domain"
	"taski/internal/geom"
)

// BeginDrag marks the element as dragging. Remote updates received while
// dragging keep the local position and zIndex.
func (s *Store) BeginDrag(id string) error {
	if err := s.allow("begin_drag"); err != nil {
		return err
	}
	return s.mutate(id, func(e *domain.Element) bool {
		if e.Local.Dragging {
			return false
		}
		e.Local.Dragging = true
		return true
	})
}

// MoveLocal sets the element position in world coordinates. Nothing is persisted.
func (s *Store) MoveLocal(id string, pos geom.Pt) error {
	if err := s.allow("move"); err != nil {
		return err
	}
	return s.mutate(id, func(e *domain.Element) bool {
		if e.X == pos.X && e.Y == pos.Y {
			return false
		}
		e.X, e.Y = pos.X, pos.Y
		return true
	})
}

// EndDrag clears the dragging flag without persisting.
func (s *Store) EndDrag(id string) {
	_ = s.mutate(id, func(e *domain.Element) bool {
		if !e.Local.Dragging {
			return false
		}
		e.Local.Dragging = false
		return true
	})
}

// CommitPlacement ends a drag and issues exactly one update carrying the final
// position and zIndex. Persist failures are logged and not retried; the next
// commit overwrites.
func (s *Store) CommitPlacement(ctx context.Context, id string) error {
	if err := s.allow("commit_placement"); err != nil {
		return err
	}
	s.EndDrag(id)
	e, ok := s.Get(id)
	if !ok {
		return ErrNotFound
	}
	patch := domain.PlacementPatch(e)
	s.async(ctx, func(ctx context.Context) {
		if err := s.api.UpdateElement(ctx, id, patch); err != nil {
			s.log.Warn("persist placement failed", slog.String("element", id), slog.Any("err", err))
		}
	})
	return nil
}

// mutate applies fn to the cached element and publishes when fn reports a change.
func (s *Store) mutate(id string, fn func(e *domain.Element) bool) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	cur, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	changed := fn(cur)
	s.mu.Unlock()
	if changed {
		s.publish()
	}
	return nil
}
