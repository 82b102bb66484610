/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package export

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"os"
	"path/filepath"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"taski/internal/domain"
)

// ImageSource resolves an image element's reference to pixels.
type ImageSource func(ref string) (image.Image, error)

// PNGOptions controls raster export.
type PNGOptions struct {
	Style Style
	// Scale is output pixels per world unit; 1 when zero.
	Scale float64
	// Images draws image elements; placeholders are drawn when nil or on error.
	Images ImageSource
}

// BoardPNG renders els as a single PNG to w.
func BoardPNG(w io.Writer, els []domain.Element, opt PNGOptions) error {
	img := RenderImage(els, opt)
	if err := png.Encode(w, img); err != nil {
		return fmt.Errorf("encode png: %w", err)
	}
	return nil
}

// BoardPNGFile writes the PNG to path, creating parent directories.
func BoardPNGFile(path string, els []domain.Element, opt PNGOptions) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ensure out dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create png: %w", err)
	}
	if err := BoardPNG(f, els, opt); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close png: %w", err)
	}
	return nil
}

// RenderImage rasterizes the board.
func RenderImage(els []domain.Element, opt PNGOptions) *image.RGBA {
	st := opt.Style.withDefaults()
	scale := opt.Scale
	if scale <= 0 {
		scale = 1
	}
	l := Arrange(els, st.Margin)
	px := func(v float64) int { return int(math.Round(v * scale)) }

	img := image.NewRGBA(image.Rect(0, 0, px(l.Width), px(l.Height)))
	xdraw.Draw(img, img.Bounds(), &image.Uniform{C: st.Background}, image.Point{}, xdraw.Src)

	face := basicfont.Face7x13
	lineH := face.Metrics().Height.Ceil()
	pad := px(st.Padding)
	for _, it := range l.Items {
		x0, y0 := px(it.Box.X), px(it.Box.Y)
		x1, y1 := px(it.Box.X+it.Box.W)-1, px(it.Box.Y+it.Box.H)-1
		e := it.Element
		switch e.Type {
		case domain.TypeCard:
			fillRect(img, x0, y0, x1, y1, st.CardFill)
			strokeRect(img, x0, y0, x1, y1, st.CardStroke)
		case domain.TypeImage:
			if drawSourceImage(img, image.Rect(x0, y0, x1+1, y1+1), e.ImageRef, opt.Images) {
				continue
			}
			fillRect(img, x0, y0, x1, y1, st.ImageFill)
			strokeRect(img, x0, y0, x1, y1, st.CardStroke)
		}
		// basicfont is 7px wide per glyph.
		cols := (x1 - x0 - 2*pad) / 7
		rows := (y1 - y0 - 2*pad) / lineH
		d := &font.Drawer{Dst: img, Src: image.NewUniform(st.TextColor), Face: face}
		for i, line := range fitLines(e, cols, rows) {
			d.Dot = fixed.P(x0+pad, y0+pad+face.Metrics().Ascent.Ceil()+i*lineH)
			d.DrawString(line)
		}
	}
	return img
}

func drawSourceImage(dst *image.RGBA, r image.Rectangle, ref string, src ImageSource) bool {
	if src == nil || ref == "" {
		return false
	}
	m, err := src(ref)
	if err != nil || m == nil {
		return false
	}
	xdraw.ApproxBiLinear.Scale(dst, r, m, m.Bounds(), xdraw.Over, nil)
	return true
}

// strokeRect draws a 1px axis-aligned rectangle border inclusive of endpoints.
func strokeRect(img *image.RGBA, x0, y0, x1, y1 int, col color.RGBA) {
	for x := x0; x <= x1; x++ {
		img.SetRGBA(x, y0, col)
		img.SetRGBA(x, y1, col)
	}
	for y := y0; y <= y1; y++ {
		img.SetRGBA(x0, y, col)
		img.SetRGBA(x1, y, col)
	}
}

func fillRect(img *image.RGBA, x0, y0, x1, y1 int, col color.RGBA) {
	if x1 < x0 {
		x0, x1 = x1, x0
	}
	if y1 < y0 {
		y0, y1 = y1, y0
	}
	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			img.SetRGBA(x, y, col)
		}
	}
}
