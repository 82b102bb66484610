/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package geom

// Camera is a client's private pan/zoom state. A world point w is drawn at
// screen position w*Scale + Offset.
type Camera struct {
	OffsetX, OffsetY float64
	Scale            float64
}

// DefaultCamera is the unpanned, unzoomed view.
func DefaultCamera() Camera { return Camera{Scale: 1} }

// Offset returns the pan offset as a point.
func (c Camera) Offset() Pt { return Pt{c.OffsetX, c.OffsetY} }

func (c Camera) scale() float64 {
	if c.Scale == 0 {
		return 1
	}
	return c.Scale
}

// Transform returns the world-to-screen matrix.
func (c Camera) Transform() Affine2D {
	s := c.scale()
	return Translate(c.OffsetX, c.OffsetY).Mul(Scale(s, s))
}

// ScreenToWorld maps a screen point into world coordinates: (p - offset) / scale.
func ScreenToWorld(p Pt, c Camera) Pt {
	s := c.scale()
	return Pt{(p.X - c.OffsetX) / s, (p.Y - c.OffsetY) / s}
}

// WorldToScreen is the inverse of ScreenToWorld.
func WorldToScreen(p Pt, c Camera) Pt {
	s := c.scale()
	return Pt{p.X*s + c.OffsetX, p.Y*s + c.OffsetY}
}

// ZoomAt returns c rescaled to newScale while keeping the world point under
// origin (screen coordinates) fixed:
//
//	newOffset = origin - (origin - oldOffset) * (newScale / oldScale)
func ZoomAt(c Camera, origin Pt, newScale float64) Camera {
	ratio := newScale / c.scale()
	return Camera{
		OffsetX: origin.X - (origin.X-c.OffsetX)*ratio,
		OffsetY: origin.Y - (origin.Y-c.OffsetY)*ratio,
		Scale:   newScale,
	}
}

// Pan shifts the camera by a screen-space delta.
func (c Camera) Pan(d Pt) Camera {
	c.OffsetX += d.X
	c.OffsetY += d.Y
	return c
}

// VisibleWorld returns the world rectangle covered by a viewport of the given size.
func (c Camera) VisibleWorld(view Size) Rect {
	min := ScreenToWorld(Pt{}, c)
	max := ScreenToWorld(Pt{view.W, view.H}, c)
	return Rect{X: min.X, Y: min.Y, W: max.X - min.X, H: max.Y - min.Y}
}
