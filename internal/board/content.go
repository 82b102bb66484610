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
	"regexp"
	"strings"

	"taski/internal/domain"
)

// ContentEdit carries the edited text fields; nil leaves a field unchanged.
type ContentEdit struct {
	Title   *string
	Content *string
}

// SetEditing toggles the local editing flag. Entering edit mode requires mutation rights.
func (s *Store) SetEditing(id string, editing bool) error {
	if editing {
		if err := s.allow("edit"); err != nil {
			return err
		}
	}
	return s.mutate(id, func(e *domain.Element) bool {
		if e.Local.Editing == editing {
			return false
		}
		e.Local.Editing = editing
		return true
	})
}

// SaveContent applies an inline edit when editing ends. An element left
// without content is deleted instead of saved; an edit that changes nothing
// issues no request.
func (s *Store) SaveContent(ctx context.Context, id string, edit ContentEdit) (deleted bool, err error) {
	if err := s.allow("save_content"); err != nil {
		return false, err
	}
	s.mu.Lock()
	cur, ok := s.byID[id]
	if !ok || s.closed {
		s.mu.Unlock()
		if !ok {
			return false, ErrNotFound
		}
		return false, ErrClosed
	}
	next := *cur
	next.Local.Editing = false
	var patch domain.Patch
	if edit.Title != nil && *edit.Title != cur.Title {
		t := *edit.Title
		next.Title = t
		patch.Title = &t
	}
	if edit.Content != nil && *edit.Content != cur.Content {
		c := *edit.Content
		next.Content = c
		patch.Content = &c
	}
	if next.IsEmpty() {
		s.mu.Unlock()
		_ = s.SetEditing(id, false)
		return true, s.Delete(ctx, id)
	}
	flagChanged := cur.Local.Editing
	*cur = next
	s.mu.Unlock()
	if patch.Empty() {
		if flagChanged {
			s.publish()
		}
		return false, nil
	}
	s.publish()
	s.async(ctx, func(ctx context.Context) {
		if err := s.api.UpdateElement(ctx, id, patch); err != nil {
			s.log.Warn("persist content failed", slog.String("element", id), slog.Any("err", err))
		}
	})
	return false, nil
}

// SetImage replaces the image of an image element. The row is updated first;
// the previous file is deleted only after the update succeeded. An empty ref
// removes the image.
func (s *Store) SetImage(ctx context.Context, id, ref string) error {
	if err := s.allow("set_image"); err != nil {
		return err
	}
	var old string
	err := s.mutate(id, func(e *domain.Element) bool {
		old = e.ImageRef
		if e.ImageRef == ref {
			return false
		}
		e.ImageRef = ref
		return true
	})
	if err != nil {
		return err
	}
	if old == ref {
		return nil
	}
	r := ref
	s.async(ctx, func(ctx context.Context) {
		if err := s.api.UpdateElement(ctx, id, domain.Patch{ImageRef: &r}); err != nil {
			s.log.Warn("persist image failed", slog.String("element", id), slog.Any("err", err))
			return
		}
		if old != "" && s.files != nil {
			if err := s.files.DeleteFile(ctx, old); err != nil {
				s.log.Warn("delete replaced image failed", slog.String("ref", old), slog.Any("err", err))
			}
		}
	})
	return nil
}

// ToggleChecklist flips the checkbox on the given content line and saves the result.
func (s *Store) ToggleChecklist(ctx context.Context, id string, line int) error {
	e, ok := s.Get(id)
	if !ok {
		return ErrNotFound
	}
	next, ok := ToggleChecklistLine(e.Content, line)
	if !ok {
		return nil
	}
	_, err := s.SaveContent(ctx, id, ContentEdit{Content: &next})
	return err
}

var checklistRe = regexp.MustCompile(`^(- )?\[( |x)\] `)

// ToggleChecklistLine flips "[ ]" and "[x]" on a line of the form "- [ ] item"
// or "[x] item". ok is false when the line is out of range or not a checklist item.
func ToggleChecklistLine(content string, line int) (string, bool) {
	lines := strings.Split(content, "\n")
	if line < 0 || line >= len(lines) {
		return content, false
	}
	m := checklistRe.FindStringSubmatchIndex(lines[line])
	if m == nil {
		return content, false
	}
	mark := m[4] // start of the status character
	l := lines[line]
	status := "x"
	if l[mark] == 'x' {
		status = " "
	}
	lines[line] = l[:mark] + status + l[mark+1:]
	return strings.Join(lines, "\n"), true
}

// IsChecklistLine reports whether line renders as a checkbox and whether it is checked.
func IsChecklistLine(line string) (isItem, checked bool) {
	m := checklistRe.FindStringSubmatch(line)
	if m == nil {
		return false, false
	}
	return true, m[2] == "x"
}

// Restore sets the position and text of an element back to target's, as
// undo and redo do. zIndex is kept. Elements that are being dragged or edited
// are left alone.
func (s *Store) Restore(ctx context.Context, target domain.Element) error {
	if err := s.allow("restore"); err != nil {
		return err
	}
	var patch domain.Patch
	err := s.mutate(target.ID, func(e *domain.Element) bool {
		if e.Local.Dragging || e.Local.Editing {
			return false
		}
		if e.X != target.X || e.Y != target.Y {
			x, y := target.X, target.Y
			e.X, e.Y = x, y
			patch.X, patch.Y = &x, &y
		}
		if e.Title != target.Title {
			t := target.Title
			e.Title = t
			patch.Title = &t
		}
		if e.Content != target.Content {
			c := target.Content
			e.Content = c
			patch.Content = &c
		}
		return !patch.Empty()
	})
	if err != nil || patch.Empty() {
		return err
	}
	s.async(ctx, func(ctx context.Context) {
		if err := s.api.UpdateElement(ctx, target.ID, patch); err != nil {
			s.log.Warn("persist restore failed", slog.String("element", target.ID), slog.Any("err", err))
		}
	})
	return nil
}
