/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package export renders a board snapshot to PNG, SVG and PDF.
//
// The canvas is unbounded, so every exporter first arranges the elements with
// Arrange: nominal sizes per element type, render order by zIndex, and a page
// that is the union of all element boxes plus a margin.
package export

import (
	"image/color"
	"sort"
	"strings"

	"taski/internal/domain"
	"taski/internal/geom"
)

// Nominal world sizes per element type.
var elementSize = map[domain.ElementType]geom.Size{
	domain.TypeCard:  {W: 240, H: 160},
	domain.TypeText:  {W: 220, H: 48},
	domain.TypeImage: {W: 240, H: 180},
}

// ElementSize returns the nominal box size used for rendering t.
func ElementSize(t domain.ElementType) geom.Size {
	if s, ok := elementSize[t]; ok {
		return s
	}
	return geom.Size{W: 160, H: 80}
}

// Style controls colors and spacing. Zero fields fall back to DefaultStyle.
type Style struct {
	Background  color.RGBA
	CardFill    color.RGBA
	CardStroke  color.RGBA
	TextColor   color.RGBA
	ImageFill   color.RGBA
	StrokeWidth float64
	Margin      float64
	Padding     float64
}

func DefaultStyle() Style {
	return Style{
		Background:  color.RGBA{R: 250, G: 250, B: 250, A: 255},
		CardFill:    color.RGBA{R: 255, G: 255, B: 255, A: 255},
		CardStroke:  color.RGBA{R: 60, G: 60, B: 60, A: 255},
		TextColor:   color.RGBA{R: 20, G: 20, B: 20, A: 255},
		ImageFill:   color.RGBA{R: 225, G: 228, B: 235, A: 255},
		StrokeWidth: 1,
		Margin:      40,
		Padding:     8,
	}
}

func (s Style) withDefaults() Style {
	d := DefaultStyle()
	if s.Background == (color.RGBA{}) {
		s.Background = d.Background
	}
	if s.CardFill == (color.RGBA{}) {
		s.CardFill = d.CardFill
	}
	if s.CardStroke == (color.RGBA{}) {
		s.CardStroke = d.CardStroke
	}
	if s.TextColor == (color.RGBA{}) {
		s.TextColor = d.TextColor
	}
	if s.ImageFill == (color.RGBA{}) {
		s.ImageFill = d.ImageFill
	}
	if s.StrokeWidth <= 0 {
		s.StrokeWidth = d.StrokeWidth
	}
	if s.Margin <= 0 {
		s.Margin = d.Margin
	}
	if s.Padding <= 0 {
		s.Padding = d.Padding
	}
	return s
}

// Item is one element placed on the export page. Box is in page units,
// with the page origin at the top-left of Layout.Bounds.
type Item struct {
	Element domain.Element
	Box     geom.Rect
}

// Layout is an arranged board ready to draw.
type Layout struct {
	Width, Height float64
	// Origin is the world point mapped to the page's top-left corner.
	Origin geom.Pt
	Items  []Item
}

// Arrange places els on a page in render order (ascending zIndex, stable).
// An empty board yields a page of 2*margin square.
func Arrange(els []domain.Element, margin float64) Layout {
	sorted := append([]domain.Element(nil), els...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ZIndex < sorted[j].ZIndex })

	var bounds geom.Rect
	for _, e := range sorted {
		sz := ElementSize(e.Type)
		bounds = bounds.Union(geom.R(e.X, e.Y, sz.W, sz.H))
	}
	origin := geom.Pt{X: bounds.X - margin, Y: bounds.Y - margin}
	l := Layout{
		Width:  bounds.W + 2*margin,
		Height: bounds.H + 2*margin,
		Origin: origin,
		Items:  make([]Item, 0, len(sorted)),
	}
	for _, e := range sorted {
		sz := ElementSize(e.Type)
		p := geom.Pt{X: e.X, Y: e.Y}.Sub(origin)
		l.Items = append(l.Items, Item{Element: e, Box: geom.R(p.X, p.Y, sz.W, sz.H)})
	}
	return l
}

// Lines returns the text lines drawn for e: the card title first, then the
// content split on newlines. Image elements show their reference.
func Lines(e domain.Element) []string {
	var out []string
	switch e.Type {
	case domain.TypeCard:
		if t := strings.TrimSpace(e.Title); t != "" {
			out = append(out, t)
		}
		if e.Content != "" {
			out = append(out, strings.Split(e.Content, "\n")...)
		}
	case domain.TypeText:
		out = strings.Split(e.Content, "\n")
	case domain.TypeImage:
		if e.ImageRef != "" {
			out = append(out, e.ImageRef)
		}
	}
	return out
}

// wrap breaks s into lines of at most width runes on word boundaries.
// Words longer than width are split.
func wrap(s string, width int) []string {
	if width <= 0 {
		return []string{s}
	}
	words := strings.Fields(s)
	if len(words) == 0 {
		return []string{""}
	}
	var out []string
	var cur []rune
	for _, w := range words {
		r := []rune(w)
		for len(r) > width {
			if len(cur) > 0 {
				out = append(out, string(cur))
				cur = cur[:0]
			}
			out = append(out, string(r[:width]))
			r = r[width:]
		}
		switch {
		case len(cur) == 0:
			cur = append(cur, r...)
		case len(cur)+1+len(r) <= width:
			cur = append(append(cur, ' '), r...)
		default:
			out = append(out, string(cur))
			cur = append(cur[:0:0], r...)
		}
	}
	if len(cur) > 0 {
		out = append(out, string(cur))
	}
	return out
}

// fitLines wraps every line of e to width runes and keeps at most maxLines.
func fitLines(e domain.Element, width, maxLines int) []string {
	var out []string
	for _, l := range Lines(e) {
		out = append(out, wrap(l, width)...)
		if maxLines > 0 && len(out) >= maxLines {
			return out[:maxLines]
		}
	}
	return out
}
