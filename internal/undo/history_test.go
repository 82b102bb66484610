/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package undo

import (
	"testing"
	"time"

	"taski/internal/domain"
)

func el(id string, x float64, content string) domain.Element {
	return domain.Element{ID: id, Type: domain.TypeCard, X: x, Title: "t", Content: content}
}

func TestUndoRedo(t *testing.T) {
	m := NewManager(Config{MinInterval: time.Millisecond})
	t0 := time.Now()
	m.Push(Change{Board: "p", Before: el("a", 0, "x"), After: el("a", 10, "x"), TS: t0})
	m.Push(Change{Board: "p", Before: el("b", 0, "x"), After: el("b", 5, "x"), TS: t0.Add(time.Second)})
	if _, boards, n := m.Stats(); boards != 1 || n != 2 {
		t.Fatalf("Stats boards=%d changes=%d, want 1 and 2", boards, n)
	}
	c, ok := m.Undo("p")
	if !ok || c.ElementID() != "b" || c.Before.X != 0 {
		t.Fatalf("Undo = %+v, %v", c, ok)
	}
	if !m.CanRedo("p") {
		t.Fatalf("expected redo available")
	}
	c, ok = m.Redo("p")
	if !ok || c.After.X != 5 {
		t.Fatalf("Redo = %+v, %v", c, ok)
	}
	if _, ok := m.Undo("other"); ok {
		t.Fatalf("boards must not share stacks")
	}
}

func TestPushClearsRedo(t *testing.T) {
	m := NewManager(Config{MinInterval: time.Millisecond})
	t0 := time.Now()
	m.Push(Change{Board: "p", Before: el("a", 0, ""), After: el("a", 1, ""), TS: t0})
	m.Undo("p")
	m.Push(Change{Board: "p", Before: el("a", 0, ""), After: el("a", 2, ""), TS: t0.Add(time.Second)})
	if m.CanRedo("p") {
		t.Fatalf("new change must clear redo")
	}
}

func TestCoalesceSameElement(t *testing.T) {
	m := NewManager(Config{MinInterval: 50 * time.Millisecond})
	t0 := time.Now()
	m.Push(Change{Board: "p", Before: el("a", 0, ""), After: el("a", 1, ""), TS: t0})
	m.Push(Change{Board: "p", Before: el("a", 1, ""), After: el("a", 2, ""), TS: t0.Add(10 * time.Millisecond)})
	m.Push(Change{Board: "p", Before: el("b", 0, ""), After: el("b", 1, ""), TS: t0.Add(20 * time.Millisecond)})
	if _, _, n := m.Stats(); n != 2 {
		t.Fatalf("changes = %d, want 2", n)
	}
	m.Undo("p")
	c, _ := m.Undo("p")
	if c.Before.X != 0 || c.After.X != 2 {
		t.Fatalf("merged change = %v -> %v, want 0 -> 2", c.Before.X, c.After.X)
	}
}

func TestCaps(t *testing.T) {
	m := NewManager(Config{MaxPerBoard: 2, MinInterval: time.Nanosecond})
	t0 := time.Now()
	for i := 0; i < 5; i++ {
		id := string(rune('a' + i))
		m.Push(Change{Board: "p", Before: el(id, 0, ""), After: el(id, 1, ""), TS: t0.Add(time.Duration(i) * time.Second)})
	}
	if _, _, n := m.Stats(); n != 2 {
		t.Fatalf("depth cap: changes = %d, want 2", n)
	}

	small := NewManager(Config{MaxBytes: 2*entryOverhead + 10, MaxPerBoard: -1, MinInterval: time.Nanosecond})
	for i := 0; i < 5; i++ {
		id := string(rune('a' + i))
		small.Push(Change{Board: "p", Before: el(id, 0, ""), After: el(id, 1, ""), TS: t0.Add(time.Duration(i) * time.Second)})
	}
	total, _, n := small.Stats()
	if n != 2 || total > 2*entryOverhead+10 {
		t.Fatalf("byte cap: total=%d changes=%d", total, n)
	}
	c, _ := small.Undo("p")
	if c.ElementID() != "e" {
		t.Fatalf("newest change pruned: %q", c.ElementID())
	}
}

func TestForgetAndClear(t *testing.T) {
	m := NewManager(Config{MinInterval: time.Nanosecond})
	t0 := time.Now()
	m.Push(Change{Board: "p", Before: el("a", 0, ""), After: el("a", 1, ""), TS: t0})
	m.Push(Change{Board: "p", Before: el("b", 0, ""), After: el("b", 1, ""), TS: t0.Add(time.Second)})
	m.Forget("p", "a")
	if _, _, n := m.Stats(); n != 1 {
		t.Fatalf("after Forget changes = %d, want 1", n)
	}
	m.Clear("p")
	if total, boards, n := m.Stats(); total != 0 || boards != 0 || n != 0 {
		t.Fatalf("after Clear total=%d boards=%d changes=%d", total, boards, n)
	}
}
