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
	"bufio"
	"regexp"
	"strings"
)

var (
	reHeading = regexp.MustCompile(`^#+\s*(.*)$`)
	reCard    = regexp.MustCompile(`^[-*](?:\s+(.*))?$`)
	reImage   = regexp.MustCompile(`^!\[([^\]]*)\]\(([^)]*)\)\s*$`)
)

// Parse parses outline text. Items before the first heading go to an
// untitled column. Malformed lines are reported and skipped.
func Parse(input string) (Outline, []Error) {
	var (
		o    Outline
		errs []Error
		col  Column
		last *Item
	)
	flush := func() {
		if col.Title != "" || len(col.Items) > 0 {
			o.Columns = append(o.Columns, col)
		}
	}
	add := func(it Item) {
		col.Items = append(col.Items, it)
		last = &col.Items[len(col.Items)-1]
	}

	scanner := bufio.NewScanner(strings.NewReader(input))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r\n")
		trim := strings.TrimSpace(line)
		if trim == "" {
			continue
		}

		// Continuation of the previous card or text
		if strings.HasPrefix(line, "  ") || strings.HasPrefix(line, "\t") {
			if last == nil || last.Kind == ItemImage {
				errs = append(errs, Error{Line: lineNo, Column: 1, Message: "indented line has no card or text to continue"})
				continue
			}
			if last.Content != "" {
				last.Content += "\n"
			}
			last.Content += trim
			continue
		}

		if strings.HasPrefix(trim, ";") {
			continue
		}
		if m := reHeading.FindStringSubmatch(trim); m != nil {
			flush()
			col = Column{Title: strings.TrimSpace(m[1]), Line: lineNo}
			last = nil
			continue
		}
		if m := reImage.FindStringSubmatch(trim); m != nil {
			path := strings.TrimSpace(m[2])
			if path == "" {
				errs = append(errs, Error{Line: lineNo, Column: strings.Index(line, "(") + 2, Message: "image has no path"})
				continue
			}
			add(Item{Kind: ItemImage, Title: strings.TrimSpace(m[1]), Path: path, Line: lineNo})
			continue
		}
		if m := reCard.FindStringSubmatch(trim); m != nil {
			title := strings.TrimSpace(m[1])
			if title == "" {
				errs = append(errs, Error{Line: lineNo, Column: 1, Message: "card has no title"})
				continue
			}
			add(Item{Kind: ItemCard, Title: title, Line: lineNo})
			continue
		}
		add(Item{Kind: ItemText, Content: trim, Line: lineNo})
	}
	flush()

	if err := scanner.Err(); err != nil {
		errs = append(errs, Error{Line: lineNo, Column: 1, Message: err.Error()})
	}
	return o, errs
}
