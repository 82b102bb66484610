/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package outline turns a plain-text outline into board elements.
//
// Syntax:
//   - "# Title" starts a column; the title becomes a text element on top of it.
//   - "- Title" or "* Title" adds a card. Lines indented by two or more spaces
//     below it become the card content, "- [ ] task" checklists included.
//   - "![caption](path)" adds an image element for the file at path.
//   - "; comment" lines are ignored.
//   - Any other line becomes a text element; indented lines continue it.
package outline

import "fmt"

// ItemKind is the element kind an outline item turns into.
type ItemKind int

const (
	ItemText ItemKind = iota
	ItemCard
	ItemImage
)

func (k ItemKind) String() string {
	switch k {
	case ItemCard:
		return "card"
	case ItemImage:
		return "image"
	}
	return "text"
}

// Item is one element of the outline.
// For images Title holds the caption and Path the file.
type Item struct {
	Kind    ItemKind
	Title   string
	Content string
	Path    string
	Line    int // 1-based line in the source
}

type Column struct {
	Title string
	Line  int
	Items []Item
}

type Outline struct {
	Columns []Column
}

// Len returns the number of elements the outline produces, headings included.
func (o Outline) Len() int {
	n := 0
	for _, c := range o.Columns {
		if c.Title != "" {
			n++
		}
		n += len(c.Items)
	}
	return n
}

// Error represents a parse error with position context.
type Error struct {
	Line    int
	Column  int
	Message string
}

func (e Error) Error() string { return fmt.Sprintf("%d:%d: %s", e.Line, e.Column, e.Message) }
