/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package ui hosts the desktop board canvas. The widget itself needs fyne and
// is built with -tags fyne; the scene projection and hit testing here are
// plain Go so they can be tested headless.
package ui

import (
	"taski/internal/board"
	"taski/internal/domain"
	"taski/internal/export"
	"taski/internal/geom"
)

// HandleHeight is the screen-space height of the drag strip at the top of every element.
const HandleHeight = 20

// Item is one element as drawn on screen.
type Item struct {
	ID       string
	Type     domain.ElementType
	Box      geom.Rect // screen coordinates
	Lines    []string
	Pending  bool // optimistic, not yet confirmed
	Editing  bool
	Dragging bool
}

// Scene projects snap through cam. Items keep the snapshot's render order.
func Scene(snap board.Snapshot, cam geom.Camera) []Item {
	s := cam.Scale
	if s == 0 {
		s = 1
	}
	out := make([]Item, 0, len(snap))
	for _, e := range snap {
		sz := export.ElementSize(e.Type)
		tl := geom.WorldToScreen(geom.Pt{X: e.X, Y: e.Y}, cam)
		out = append(out, Item{
			ID:       e.ID,
			Type:     e.Type,
			Box:      geom.R(tl.X, tl.Y, sz.W*s, sz.H*s),
			Lines:    export.Lines(e),
			Pending:  e.Local.Optimistic,
			Editing:  e.Local.Editing,
			Dragging: e.Local.Dragging,
		})
	}
	return out
}

// HitTest returns the top-most item under the screen point p.
func HitTest(items []Item, p geom.Pt) (Item, bool) {
	for i := len(items) - 1; i >= 0; i-- {
		if items[i].Box.Contains(p) {
			return items[i], true
		}
	}
	return Item{}, false
}

// OnHandle reports whether p lies in the item's drag strip.
func OnHandle(it Item, p geom.Pt) bool {
	h := float64(HandleHeight)
	if h > it.Box.H {
		h = it.Box.H
	}
	return geom.R(it.Box.X, it.Box.Y, it.Box.W, h).Contains(p)
}

// Visible drops items entirely outside a viewport of size view.
func Visible(items []Item, view geom.Size) []Item {
	out := items[:0:0]
	for _, it := range items {
		if it.Box.X > view.W || it.Box.Y > view.H || it.Box.X+it.Box.W < 0 || it.Box.Y+it.Box.H < 0 {
			continue
		}
		out = append(out, it)
	}
	return out
}
