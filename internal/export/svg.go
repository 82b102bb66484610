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
	"bytes"
	"fmt"
	"image/color"
	"io"
	"os"
	"path/filepath"

	"taski/internal/domain"
)

// SVGOptions controls vector export. The viewBox uses world units.
type SVGOptions struct {
	Style Style
	// FontFamily is a hint only; fonts are not embedded.
	FontFamily string
	FontSize   float64
	// ImageHref maps an image reference to a URL; images render as placeholders when nil.
	ImageHref func(ref string) string
}

// BoardSVG writes the board as a standalone SVG document.
func BoardSVG(w io.Writer, els []domain.Element, opt SVGOptions) error {
	st := opt.Style.withDefaults()
	fam := opt.FontFamily
	if fam == "" {
		fam = "Helvetica, Arial, sans-serif"
	}
	fsz := opt.FontSize
	if fsz <= 0 {
		fsz = 12
	}
	l := Arrange(els, st.Margin)

	var buf bytes.Buffer
	var werr error
	wf := func(format string, args ...any) {
		if werr != nil {
			return
		}
		_, werr = fmt.Fprintf(&buf, format, args...)
	}

	wf("<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n")
	wf("<svg xmlns=\"http://www.w3.org/2000/svg\" xmlns:xlink=\"http://www.w3.org/1999/xlink\" version=\"1.1\" width=\"%g\" height=\"%g\" viewBox=\"0 0 %g %g\">\n", l.Width, l.Height, l.Width, l.Height)
	wf("  <rect x=\"0\" y=\"0\" width=\"%g\" height=\"%g\" fill=\"%s\"/>\n", l.Width, l.Height, svgColor(st.Background))

	for _, it := range l.Items {
		e, b := it.Element, it.Box
		wf("  <g data-id=\"%s\" data-type=\"%s\">\n", escAttr(e.ID), e.Type)
		switch e.Type {
		case domain.TypeCard:
			wf("    <rect x=\"%g\" y=\"%g\" width=\"%g\" height=\"%g\" rx=\"6\" fill=\"%s\" stroke=\"%s\" stroke-width=\"%g\"/>\n", b.X, b.Y, b.W, b.H, svgColor(st.CardFill), svgColor(st.CardStroke), st.StrokeWidth)
		case domain.TypeImage:
			if opt.ImageHref != nil && e.ImageRef != "" {
				wf("    <image x=\"%g\" y=\"%g\" width=\"%g\" height=\"%g\" xlink:href=\"%s\"/>\n", b.X, b.Y, b.W, b.H, escAttr(opt.ImageHref(e.ImageRef)))
				wf("  </g>\n")
				continue
			}
			wf("    <rect x=\"%g\" y=\"%g\" width=\"%g\" height=\"%g\" fill=\"%s\" stroke=\"%s\" stroke-width=\"%g\"/>\n", b.X, b.Y, b.W, b.H, svgColor(st.ImageFill), svgColor(st.CardStroke), st.StrokeWidth)
		}
		// Roughly 0.55em per glyph for sans-serif.
		cols := int((b.W - 2*st.Padding) / (fsz * 0.55))
		rows := int((b.H - 2*st.Padding) / (fsz * 1.2))
		cy := b.Y + st.Padding + fsz
		for i, line := range fitLines(e, cols, rows) {
			weight := ""
			if i == 0 && e.Type == domain.TypeCard && e.Title != "" {
				weight = " font-weight=\"bold\""
			}
			wf("    <text x=\"%g\" y=\"%g\" font-family=\"%s\" font-size=\"%g\"%s fill=\"%s\">%s</text>\n", b.X+st.Padding, cy, escAttr(fam), fsz, weight, svgColor(st.TextColor), escText(line))
			cy += fsz * 1.2
		}
		wf("  </g>\n")
	}
	wf("</svg>\n")
	if werr != nil {
		return fmt.Errorf("build svg: %w", werr)
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write svg: %w", err)
	}
	return nil
}

// BoardSVGFile writes the SVG to path, creating parent directories.
func BoardSVGFile(path string, els []domain.Element, opt SVGOptions) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ensure out dir: %w", err)
	}
	var buf bytes.Buffer
	if err := BoardSVG(&buf, els, opt); err != nil {
		return err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write svg: %w", err)
	}
	return nil
}

func svgColor(c color.RGBA) string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

func escAttr(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch ch := s[i]; ch {
		case '"':
			out = append(out, "&quot;"...)
		case '&':
			out = append(out, "&amp;"...)
		case '<':
			out = append(out, "&lt;"...)
		case '\n':
			out = append(out, ' ')
		case '\r':
		default:
			out = append(out, ch)
		}
	}
	return string(out)
}

func escText(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch ch := s[i]; ch {
		case '&':
			out = append(out, "&amp;"...)
		case '<':
			out = append(out, "&lt;"...)
		case '>':
			out = append(out, "&gt;"...)
		default:
			out = append(out, ch)
		}
	}
	return string(out)
}
