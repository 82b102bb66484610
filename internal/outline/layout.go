/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package outline

import (
	"taski/internal/domain"
	"taski/internal/export"
	"taski/internal/geom"
)

// DefaultGap separates columns and the elements stacked in them.
const DefaultGap = 24

// Placed is a positioned element ready for creation. Path is set for images
// whose file still has to be uploaded.
type Placed struct {
	Draft domain.Draft
	Path  string
	Line  int
}

// Layout places the outline in columns starting at origin, left to right,
// each column stacked top to bottom in source order. zIndex counts up from
// baseZ in that order.
func Layout(o Outline, origin geom.Pt, gap float64, baseZ int64) []Placed {
	if gap <= 0 {
		gap = DefaultGap
	}
	colW := 0.0
	for _, t := range []domain.ElementType{domain.TypeCard, domain.TypeText, domain.TypeImage} {
		colW = max(colW, export.ElementSize(t).W)
	}
	out := make([]Placed, 0, o.Len())
	z := baseZ
	push := func(d domain.Draft, path string, line int, y *float64) {
		z++
		d.ZIndex = z
		out = append(out, Placed{Draft: d, Path: path, Line: line})
		*y += export.ElementSize(d.Type).H + gap
	}
	for i, c := range o.Columns {
		x := origin.X + float64(i)*(colW+gap)
		y := origin.Y
		if c.Title != "" {
			push(domain.Draft{Type: domain.TypeText, X: x, Y: y, Content: c.Title}, "", c.Line, &y)
		}
		for _, it := range c.Items {
			d := domain.Draft{X: x, Y: y}
			switch it.Kind {
			case ItemCard:
				d.Type, d.Title, d.Content = domain.TypeCard, it.Title, it.Content
			case ItemImage:
				d.Type = domain.TypeImage
			default:
				d.Type, d.Content = domain.TypeText, it.Content
			}
			push(d, it.Path, it.Line, &y)
		}
	}
	return out
}
