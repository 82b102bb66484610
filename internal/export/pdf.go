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
	"image/color"
	"io"
	"os"
	"path/filepath"

	"github.com/jung-kurt/gofpdf"

	"taski/internal/domain"
)

// PDFOptions controls PDF export. One world unit maps to one point.
// Text uses the built-in Helvetica, so only Latin-1 renders faithfully.
type PDFOptions struct {
	Style    Style
	Title    string
	FontSize float64
}

// BoardPDF writes the board as a single-page PDF sized to the arranged board.
func BoardPDF(w io.Writer, els []domain.Element, opt PDFOptions) error {
	pdf := buildPDF(els, opt)
	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	return nil
}

// BoardPDFFile writes the PDF to path, creating parent directories.
func BoardPDFFile(path string, els []domain.Element, opt PDFOptions) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ensure out dir: %w", err)
	}
	pdf := buildPDF(els, opt)
	if err := pdf.OutputFileAndClose(path); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	return nil
}

func buildPDF(els []domain.Element, opt PDFOptions) *gofpdf.Fpdf {
	st := opt.Style.withDefaults()
	fsz := opt.FontSize
	if fsz <= 0 {
		fsz = 11
	}
	l := Arrange(els, st.Margin)
	size := gofpdf.SizeType{Wd: l.Width, Ht: l.Height}

	pdf := gofpdf.NewCustom(&gofpdf.InitType{UnitStr: "pt", Size: size})
	if opt.Title != "" {
		pdf.SetTitle(opt.Title, true)
	}
	pdf.SetCreator("taski", false)
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetMargins(0, 0, 0)
	pdf.AddPageFormat("", size)

	setFillColor(pdf, st.Background)
	pdf.Rect(0, 0, l.Width, l.Height, "F")

	tr := pdf.UnicodeTranslatorFromDescriptor("")
	for _, it := range l.Items {
		e, b := it.Element, it.Box
		pdf.SetLineWidth(st.StrokeWidth)
		setDrawColor(pdf, st.CardStroke)
		switch e.Type {
		case domain.TypeCard:
			setFillColor(pdf, st.CardFill)
			pdf.RoundedRect(b.X, b.Y, b.W, b.H, 6, "1234", "FD")
		case domain.TypeImage:
			setFillColor(pdf, st.ImageFill)
			pdf.Rect(b.X, b.Y, b.W, b.H, "FD")
		}
		setTextColor(pdf, st.TextColor)
		cols := int((b.W - 2*st.Padding) / (fsz * 0.5))
		rows := int((b.H - 2*st.Padding) / (fsz * 1.2))
		cy := b.Y + st.Padding + fsz
		for i, line := range fitLines(e, cols, rows) {
			style := ""
			if i == 0 && e.Type == domain.TypeCard && e.Title != "" {
				style = "B"
			}
			pdf.SetFont("Helvetica", style, fsz)
			pdf.Text(b.X+st.Padding, cy, tr(line))
			cy += fsz * 1.2
		}
	}
	return pdf
}

func setDrawColor(pdf *gofpdf.Fpdf, c color.RGBA) {
	pdf.SetDrawColor(int(c.R), int(c.G), int(c.B))
}

func setFillColor(pdf *gofpdf.Fpdf, c color.RGBA) {
	pdf.SetFillColor(int(c.R), int(c.G), int(c.B))
}

func setTextColor(pdf *gofpdf.Fpdf, c color.RGBA) {
	pdf.SetTextColor(int(c.R), int(c.G), int(c.B))
}
