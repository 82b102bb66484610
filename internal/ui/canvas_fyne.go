//go:build fyne

/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package ui

import (
	"context"
	"image/color"
	"log/slog"
	"sync"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/driver/desktop"
	"fyne.io/fyne/v2/widget"

	"taski/internal/board"
	"taski/internal/domain"
	"taski/internal/geom"
	"taski/internal/interact"
	applog "taski/internal/log"
	"taski/internal/session"
	"taski/internal/viewport"
)

// mousePointer is the pointer id used for the single desktop mouse.
const mousePointer = 1

var (
	canvasBg    = color.RGBA{R: 30, G: 30, B: 34, A: 255}
	cardFill    = color.RGBA{R: 250, G: 250, B: 245, A: 255}
	textFill    = color.RGBA{R: 0, G: 0, B: 0, A: 0}
	imageFill   = color.RGBA{R: 210, G: 215, B: 225, A: 255}
	strokeCol   = color.RGBA{R: 60, G: 60, B: 60, A: 255}
	handleCol   = color.RGBA{R: 0, G: 170, B: 255, A: 120}
	selectedCol = color.RGBA{R: 0, G: 170, B: 255, A: 255}
	inkCol      = color.RGBA{R: 20, G: 20, B: 20, A: 255}
	lightInk    = color.RGBA{R: 230, G: 230, B: 230, A: 255}
)

// BoardCanvas draws a session board and routes pointer, wheel and key input
// to its viewport and interaction controllers.
type BoardCanvas struct {
	widget.BaseWidget

	b   *session.Board
	log *slog.Logger

	mu       sync.Mutex
	selected string
	dragging bool // an element is captured by the mouse
	panning  bool
	modifier bool // Ctrl/Cmd held, tracked by the window

	// OnEdit is called on double-tap over an element.
	OnEdit func(id string)
	// OnError receives persistence errors from drag commits.
	OnError func(error)

	cancels []func()
}

func NewBoardCanvas(b *session.Board) *BoardCanvas {
	c := &BoardCanvas{b: b, log: applog.WithComponent("ui.canvas")}
	c.ExtendBaseWidget(c)
	refresh := func() { fyne.Do(c.Refresh) }
	c.cancels = append(c.cancels,
		b.Store.Subscribe(func(board.Snapshot) { refresh() }),
		b.Viewport.Subscribe(func(viewport.State) { refresh() }),
	)
	return c
}

// Detach stops listening to the board.
func (c *BoardCanvas) Detach() {
	for _, cancel := range c.cancels {
		cancel()
	}
	c.cancels = nil
}

// Selected returns the last element clicked, or "".
func (c *BoardCanvas) Selected() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selected
}

// SetModifier records whether Ctrl/Cmd is held; fyne scroll events carry no modifiers.
func (c *BoardCanvas) SetModifier(down bool) {
	c.mu.Lock()
	c.modifier = down
	c.mu.Unlock()
}

func (c *BoardCanvas) Resize(size fyne.Size) {
	c.b.Viewport.SetViewportSize(float64(size.Width), float64(size.Height))
	c.BaseWidget.Resize(size)
}

func (c *BoardCanvas) MinSize() fyne.Size { return fyne.NewSize(640, 480) }

func (c *BoardCanvas) items() []Item {
	return Scene(c.b.Store.Elements(), c.b.Viewport.Camera())
}

func toPt(p fyne.Position) geom.Pt { return geom.Pt{X: float64(p.X), Y: float64(p.Y)} }

func toButton(b desktop.MouseButton) viewport.Button {
	switch b {
	case desktop.MouseButtonSecondary:
		return viewport.ButtonSecondary
	case desktop.MouseButtonTertiary:
		return viewport.ButtonMiddle
	}
	return viewport.ButtonPrimary
}

// MouseDown starts an element drag on a handle, or a pan on empty canvas.
func (c *BoardCanvas) MouseDown(ev *desktop.MouseEvent) {
	p := toPt(ev.Position)
	it, over := HitTest(c.items(), p)
	c.mu.Lock()
	if over {
		c.selected = it.ID
	} else {
		c.selected = ""
	}
	c.mu.Unlock()

	if over && ev.Button == desktop.MouseButtonPrimary &&
		c.b.Interact.PointerDown(it.ID, interact.PointerInput{PointerID: mousePointer, Pos: p, OnHandle: OnHandle(it, p)}) {
		c.mu.Lock()
		c.dragging = true
		c.mu.Unlock()
		return
	}
	if c.b.Viewport.PointerDown(viewport.PointerInput{Pos: p, Button: toButton(ev.Button), Kind: viewport.Mouse, OverElement: over}) {
		c.mu.Lock()
		c.panning = true
		c.mu.Unlock()
	}
	c.Refresh()
}

func (c *BoardCanvas) MouseUp(*desktop.MouseEvent) { c.release() }

func (c *BoardCanvas) Dragged(ev *fyne.DragEvent) {
	p := toPt(ev.Position)
	c.mu.Lock()
	dragging, panning := c.dragging, c.panning
	c.mu.Unlock()
	switch {
	case dragging:
		c.b.Interact.PointerMove(mousePointer, p)
	case panning:
		c.b.Viewport.PointerMove(p)
	}
}

func (c *BoardCanvas) DragEnd() { c.release() }

// release ends whatever the mouse captured. It runs for both DragEnd and
// MouseUp, so the second call is a no-op.
func (c *BoardCanvas) release() {
	c.mu.Lock()
	dragging, panning := c.dragging, c.panning
	c.dragging, c.panning = false, false
	c.mu.Unlock()
	if panning {
		c.b.Viewport.PointerUp()
	}
	if dragging {
		go func() {
			if err := c.b.Interact.PointerUp(context.Background(), mousePointer); err != nil {
				c.log.Warn("placement not saved", slog.Any("err", err))
				if c.OnError != nil {
					fyne.Do(func() { c.OnError(err) })
				}
			}
		}()
	}
}

func (c *BoardCanvas) Scrolled(ev *fyne.ScrollEvent) {
	c.mu.Lock()
	mod := c.modifier
	c.mu.Unlock()
	// fyne reports positive DY for scrolling up; the controller expects wheel deltas.
	c.b.Viewport.Wheel(viewport.WheelInput{
		Pos:      toPt(ev.Position),
		DeltaX:   -float64(ev.Scrolled.DX),
		DeltaY:   -float64(ev.Scrolled.DY),
		Modifier: mod,
	})
}

func (c *BoardCanvas) DoubleTapped(ev *fyne.PointEvent) {
	if it, ok := HitTest(c.items(), toPt(ev.Position)); ok && c.OnEdit != nil {
		c.OnEdit(it.ID)
	}
}

// Drop creates an element of tool at the canvas center.
func (c *BoardCanvas) Drop(ctx context.Context, tool string) (domain.Element, bool, error) {
	sz := c.Size()
	return c.b.Interact.Drop(ctx, tool, geom.Pt{X: float64(sz.Width) / 2, Y: float64(sz.Height) / 2})
}

func (c *BoardCanvas) CreateRenderer() fyne.WidgetRenderer {
	bg := canvas.NewRectangle(canvasBg)
	return &boardRenderer{c: c, bg: bg, objects: []fyne.CanvasObject{bg}}
}

type boardRenderer struct {
	c       *BoardCanvas
	bg      *canvas.Rectangle
	objects []fyne.CanvasObject
}

func (r *boardRenderer) Destroy()                     {}
func (r *boardRenderer) Objects() []fyne.CanvasObject { return r.objects }
func (r *boardRenderer) MinSize() fyne.Size           { return r.c.MinSize() }
func (r *boardRenderer) Refresh()                     { r.Layout(r.c.Size()); canvas.Refresh(r.c) }

// Layout rebuilds the scene; boards are small enough that diffing is not worth it.
func (r *boardRenderer) Layout(size fyne.Size) {
	r.bg.Resize(size)
	r.bg.Move(fyne.NewPos(0, 0))
	objs := []fyne.CanvasObject{r.bg}

	cam := r.c.b.Viewport.Camera()
	selected := r.c.Selected()
	items := Visible(r.c.items(), geom.Size{W: float64(size.Width), H: float64(size.Height)})
	fontSize := float32(12 * cam.Scale)
	for _, it := range items {
		pos := fyne.NewPos(float32(it.Box.X), float32(it.Box.Y))
		box := fyne.NewSize(float32(it.Box.W), float32(it.Box.H))

		body := canvas.NewRectangle(fillFor(it.Type))
		body.StrokeColor = strokeCol
		body.StrokeWidth = 1
		if it.Type == domain.TypeCard {
			body.CornerRadius = float32(6 * cam.Scale)
		}
		if it.ID == selected {
			body.StrokeColor = selectedCol
			body.StrokeWidth = 2
		}
		if it.Pending {
			body.StrokeColor = color.RGBA{R: 160, G: 160, B: 160, A: 255}
		}
		body.Move(pos)
		body.Resize(box)
		objs = append(objs, body)

		strip := canvas.NewRectangle(handleCol)
		strip.Move(pos)
		strip.Resize(fyne.NewSize(box.Width, min(float32(HandleHeight), box.Height)))
		objs = append(objs, strip)

		ink := inkCol
		if it.Type == domain.TypeText {
			ink = lightInk
		}
		y := pos.Y + float32(HandleHeight)
		for i, line := range it.Lines {
			if y+fontSize > pos.Y+box.Height {
				break
			}
			txt := canvas.NewText(line, ink)
			txt.TextSize = fontSize
			txt.TextStyle = fyne.TextStyle{Bold: i == 0 && it.Type == domain.TypeCard}
			txt.Move(fyne.NewPos(pos.X+6, y))
			objs = append(objs, txt)
			y += fontSize * 1.3
		}
	}
	r.objects = objs
}

func fillFor(t domain.ElementType) color.Color {
	switch t {
	case domain.TypeCard:
		return cardFill
	case domain.TypeImage:
		return imageFill
	}
	return textFill
}
