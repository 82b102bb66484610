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
	"path/filepath"
	"strings"

	"taski/internal/domain"
)

// PresetName represents a named export preset.
type PresetName string

const (
	PresetWeb   PresetName = "web"
	PresetPrint PresetName = "print"
)

// BatchOptions controls exporting one board to several formats at once.
//
// Files are named <Name>.<format> inside OutDir/<preset>/.
type BatchOptions struct {
	Preset    PresetName
	Formats   []string // pdf, png, svg; empty means preset defaults
	Name      string   // base file name; "board" when empty
	Title     string
	OutDir    string
	Scale     float64 // png pixels per world unit, preset default when zero
	Images    ImageSource
	ImageHref func(ref string) string // svg image links
	Style     Style
}

// BatchExport writes the board in every requested format and returns the paths written.
func BatchExport(els []domain.Element, opt BatchOptions) ([]string, error) {
	formats := opt.Formats
	if len(formats) == 0 {
		formats = presetDefaultFormats(opt.Preset)
	}
	name := opt.Name
	if name == "" {
		name = "board"
	}
	base := opt.OutDir
	if opt.Preset != "" {
		base = filepath.Join(base, string(opt.Preset))
	}
	scale := opt.Scale
	if scale <= 0 {
		scale = presetScale(opt.Preset)
	}

	var written []string
	for _, f := range formats {
		f = strings.ToLower(strings.TrimSpace(f))
		out := filepath.Join(base, name+"."+f)
		var err error
		switch f {
		case "pdf":
			err = BoardPDFFile(out, els, PDFOptions{Style: opt.Style, Title: opt.Title})
		case "png":
			err = BoardPNGFile(out, els, PNGOptions{Style: opt.Style, Scale: scale, Images: opt.Images})
		case "svg":
			err = BoardSVGFile(out, els, SVGOptions{Style: opt.Style, ImageHref: opt.ImageHref})
		default:
			return written, fmt.Errorf("unknown format: %s", f)
		}
		if err != nil {
			return written, fmt.Errorf("%s export: %w", f, err)
		}
		written = append(written, out)
	}
	return written, nil
}

func presetDefaultFormats(p PresetName) []string {
	switch p {
	case PresetWeb:
		return []string{"png", "svg"}
	case PresetPrint:
		return []string{"pdf", "png"}
	default:
		return []string{"png"}
	}
}

func presetScale(p PresetName) float64 {
	if p == PresetPrint {
		return 300.0 / 72.0
	}
	return 1
}
