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
	"strings"
	"testing"

	"taski/internal/domain"
	"taski/internal/geom"
)

const sample = `; sprint board
# Todo
- Write docs
  - [ ] api
  - [ ] cli
- Release
Loose note
  continued

# Done
![Architecture](img/arch.png)
* Ship v1`

func TestParseColumnsAndItems(t *testing.T) {
	o, errs := Parse(sample)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %+v", errs)
	}
	if len(o.Columns) != 2 {
		t.Fatalf("columns = %d, want 2", len(o.Columns))
	}
	todo := o.Columns[0]
	if todo.Title != "Todo" || todo.Line != 2 || len(todo.Items) != 3 {
		t.Fatalf("todo column = %+v", todo)
	}
	if it := todo.Items[0]; it.Kind != ItemCard || it.Title != "Write docs" || it.Content != "- [ ] api\n- [ ] cli" {
		t.Fatalf("first card = %+v", it)
	}
	if it := todo.Items[2]; it.Kind != ItemText || it.Content != "Loose note\ncontinued" || it.Line != 7 {
		t.Fatalf("text item = %+v", it)
	}
	done := o.Columns[1]
	if it := done.Items[0]; it.Kind != ItemImage || it.Path != "img/arch.png" || it.Title != "Architecture" {
		t.Fatalf("image item = %+v", it)
	}
	if it := done.Items[1]; it.Kind != ItemCard || it.Title != "Ship v1" {
		t.Fatalf("star card = %+v", it)
	}
	if o.Len() != 7 {
		t.Fatalf("Len = %d, want 7", o.Len())
	}
}

func TestParseErrors(t *testing.T) {
	o, errs := Parse("  orphan\n- \n![x]()\n- ok")
	if len(errs) != 3 {
		t.Fatalf("errors = %+v, want 3", errs)
	}
	if errs[0].Line != 1 || errs[1].Line != 2 || errs[2].Line != 3 {
		t.Fatalf("error lines = %+v", errs)
	}
	if !strings.HasPrefix(errs[2].Error(), "3:") {
		t.Fatalf("Error() = %q", errs[2].Error())
	}
	if len(o.Columns) != 1 || o.Columns[0].Title != "" || len(o.Columns[0].Items) != 1 {
		t.Fatalf("untitled column = %+v", o.Columns)
	}
}

func TestLayoutColumns(t *testing.T) {
	o, _ := Parse(sample)
	placed := Layout(o, geom.Pt{X: 10, Y: 20}, 20, 5)
	if len(placed) != o.Len() {
		t.Fatalf("placed = %d, want %d", len(placed), o.Len())
	}
	head := placed[0].Draft
	if head.Type != domain.TypeText || head.Content != "Todo" || head.X != 10 || head.Y != 20 || head.ZIndex != 6 {
		t.Fatalf("heading = %+v", head)
	}
	// heading text is 48 high, then the gap
	if card := placed[1].Draft; card.Type != domain.TypeCard || card.Y != 88 {
		t.Fatalf("first card = %+v", card)
	}
	// second column is one card width plus gap to the right
	if done := placed[4].Draft; done.Content != "Done" || done.X != 10+240+20 || done.Y != 20 {
		t.Fatalf("second heading = %+v", done)
	}
	if img := placed[5]; img.Draft.Type != domain.TypeImage || img.Path != "img/arch.png" {
		t.Fatalf("image = %+v", img)
	}
	if last := placed[len(placed)-1].Draft; last.ZIndex != 5+int64(len(placed)) {
		t.Fatalf("last zIndex = %d", last.ZIndex)
	}
}
