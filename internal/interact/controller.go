/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package interact turns pointer and edit gestures on elements into board
// mutations: drag with pointer capture and commit-on-release, inline editing
// with draft cancel, and drop-to-create from the tool palette.
package interact

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"taski/internal/board"
	"taski/internal/domain"
	"taski/internal/geom"
	applog "taski/internal/log"
)

// DefaultCardTitle is given to cards created from the palette.
const DefaultCardTitle = "New Card"

// CameraSource supplies the current camera (viewport.Controller satisfies it).
type CameraSource interface {
	Camera() geom.Camera
}

// PointerInput is a pointer-down on an element.
type PointerInput struct {
	PointerID int
	Pos       geom.Pt // screen coordinates
	OnHandle  bool    // pointer is on the element's drag handle
}

// History receives completed moves and content edits.
type History interface {
	Record(before, after domain.Element)
}

type drag struct {
	elementID string
	offset    geom.Pt // pointer world position minus element position
	start     domain.Element
}

// Controller owns per-element drag state and edit drafts. It is safe for concurrent use.
type Controller struct {
	store   *board.Store
	cams    CameraSource
	log     *slog.Logger
	history History

	mu        sync.Mutex
	captured  map[int]*drag  // pointer id -> drag
	byElement map[string]int // element id -> capturing pointer
	originals map[string]domain.Element
}

func New(store *board.Store, cams CameraSource) *Controller {
	return &Controller{
		store:     store,
		cams:      cams,
		log:       applog.WithComponent("interact"),
		captured:  map[int]*drag{},
		byElement: map[string]int{},
		originals: map[string]domain.Element{},
	}
}

// SetHistory installs h to be told about committed moves and edits.
// Call it before the controller is used.
func (c *Controller) SetHistory(h History) { c.history = h }

// PointerDown starts dragging element id. It refuses when the pointer is not
// on the handle, the element is being edited or already dragged, or the viewer
// may not mutate. On success the pointer is captured and the element promoted
// to the front.
func (c *Controller) PointerDown(id string, in PointerInput) bool {
	if !in.OnHandle {
		return false
	}
	e, ok := c.store.Get(id)
	if !ok || e.Local.Editing {
		return false
	}
	c.mu.Lock()
	_, elemBusy := c.byElement[id]
	_, ptrBusy := c.captured[in.PointerID]
	if elemBusy || ptrBusy {
		c.mu.Unlock()
		return false
	}
	// Reserve the element before touching the store.
	c.byElement[id] = in.PointerID
	c.mu.Unlock()

	if err := c.store.BeginDrag(id); err != nil {
		if !errors.Is(err, board.ErrMutationRejected) {
			c.log.Debug("begin drag failed", slog.String("element", id), slog.Any("err", err))
		}
		c.mu.Lock()
		delete(c.byElement, id)
		c.mu.Unlock()
		return false
	}
	if _, _, err := c.store.MoveToFront(id); err != nil {
		c.log.Debug("move to front failed", slog.String("element", id), slog.Any("err", err))
	}
	world := geom.ScreenToWorld(in.Pos, c.cams.Camera())
	c.mu.Lock()
	c.captured[in.PointerID] = &drag{elementID: id, offset: world.Sub(geom.Pt{X: e.X, Y: e.Y}), start: e}
	c.mu.Unlock()
	return true
}

// PointerMove repositions the captured element. Moves are local only.
func (c *Controller) PointerMove(pointerID int, pos geom.Pt) {
	c.mu.Lock()
	d, ok := c.captured[pointerID]
	c.mu.Unlock()
	if !ok {
		return
	}
	world := geom.ScreenToWorld(pos, c.cams.Camera())
	if err := c.store.MoveLocal(d.elementID, world.Sub(d.offset)); err != nil {
		c.log.Debug("move failed", slog.String("element", d.elementID), slog.Any("err", err))
	}
}

// PointerUp releases the capture and persists the final placement once.
func (c *Controller) PointerUp(ctx context.Context, pointerID int) error {
	c.mu.Lock()
	d, ok := c.captured[pointerID]
	if ok {
		delete(c.captured, pointerID)
		delete(c.byElement, d.elementID)
	}
	c.mu.Unlock()
	if !ok {
		return nil
	}
	if err := c.store.CommitPlacement(ctx, d.elementID); err != nil {
		c.store.EndDrag(d.elementID)
		return err
	}
	if after, ok := c.store.Get(d.elementID); ok && c.history != nil && (after.X != d.start.X || after.Y != d.start.Y) {
		c.history.Record(d.start, after)
	}
	return nil
}

// Dragging reports whether element id is captured by a pointer.
func (c *Controller) Dragging(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.byElement[id]
	return ok
}

// BeginEdit enters inline editing and remembers the values to restore on cancel.
func (c *Controller) BeginEdit(id string) bool {
	if c.Dragging(id) {
		return false
	}
	e, ok := c.store.Get(id)
	if !ok {
		return false
	}
	if err := c.store.SetEditing(id, true); err != nil {
		return false
	}
	c.mu.Lock()
	c.originals[id] = e
	c.mu.Unlock()
	return true
}

// CommitEdit ends editing and saves the draft. deleted is true when the
// element was left empty and removed instead.
func (c *Controller) CommitEdit(ctx context.Context, id string, edit board.ContentEdit) (deleted bool, err error) {
	c.mu.Lock()
	before, hadOrig := c.originals[id]
	delete(c.originals, id)
	c.mu.Unlock()
	if !hadOrig {
		before, _ = c.store.Get(id)
	}
	deleted, err = c.store.SaveContent(ctx, id, edit)
	if err != nil || deleted || c.history == nil {
		return deleted, err
	}
	if after, ok := c.store.Get(id); ok && (after.Title != before.Title || after.Content != before.Content) {
		c.history.Record(before, after)
	}
	return false, nil
}

// CancelEdit leaves editing without saving and returns the values the draft
// should be reset to.
func (c *Controller) CancelEdit(id string) (domain.Element, bool) {
	c.mu.Lock()
	orig, ok := c.originals[id]
	delete(c.originals, id)
	c.mu.Unlock()
	_ = c.store.SetEditing(id, false)
	if !ok {
		return c.store.Get(id)
	}
	return orig, true
}

// Drop creates an element of toolType at the world point under screen.
// Unknown tool types are ignored and report created=false.
func (c *Controller) Drop(ctx context.Context, toolType string, screen geom.Pt) (e domain.Element, created bool, err error) {
	typ, perr := domain.ParseElementType(toolType)
	if perr != nil {
		c.log.Debug("ignoring drop", slog.String("tool", toolType))
		return domain.Element{}, false, nil
	}
	world := geom.ScreenToWorld(screen, c.cams.Camera())
	d := domain.Draft{Type: typ, X: world.X, Y: world.Y, ZIndex: c.store.MaxZ() + 1}
	if typ == domain.TypeCard {
		d.Title = DefaultCardTitle
	}
	e, err = c.store.CreateOptimistic(ctx, d)
	if err != nil {
		return domain.Element{}, false, err
	}
	return e, true, nil
}
