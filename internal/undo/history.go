/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package undo keeps per-board undo and redo stacks of element edits.
package undo

import (
	"sync"
	"time"

	"taski/internal/domain"
)

// Change is one reversible edit of an element: its state before and after.
type Change struct {
	Board  string
	Before domain.Element
	After  domain.Element
	TS     time.Time
}

// ElementID returns the id of the edited element.
func (c Change) ElementID() string { return c.After.ID }

// entryOverhead approximates the fixed cost of a change besides its text.
const entryOverhead = 256

func (c Change) size() int {
	return entryOverhead + len(c.Before.Title) + len(c.Before.Content) + len(c.After.Title) + len(c.After.Content)
}

// Config controls memory and depth caps and coalescing behavior.
type Config struct {
	// MaxBytes is a soft cap; the oldest changes are pruned when exceeded.
	MaxBytes int
	// MaxPerBoard limits the undo depth of one board; 100 when zero, unlimited when negative.
	MaxPerBoard int
	// MinInterval merges consecutive changes of the same element captured
	// within the interval into one.
	MinInterval time.Duration
}

// Manager holds undo and redo stacks per board. It is safe for concurrent use.
type Manager struct {
	cfg Config
	mu  sync.Mutex

	undo       map[string][]Change
	redo       map[string][]Change
	totalBytes int
}

func NewManager(cfg Config) *Manager {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 4 * 1024 * 1024
	}
	if cfg.MaxPerBoard == 0 {
		cfg.MaxPerBoard = 100
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = 250 * time.Millisecond
	}
	return &Manager{cfg: cfg, undo: map[string][]Change{}, redo: map[string][]Change{}}
}

// Push records c and clears the board's redo stack. A change of the same
// element within MinInterval of the previous one extends it instead.
func (m *Manager) Push(c Change) {
	if c.TS.IsZero() {
		c.TS = time.Now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropRedoLocked(c.Board)
	stack := m.undo[c.Board]
	if n := len(stack); n > 0 {
		last := stack[n-1]
		if last.ElementID() == c.ElementID() && c.TS.Sub(last.TS) < m.cfg.MinInterval {
			merged := Change{Board: c.Board, Before: last.Before, After: c.After, TS: c.TS}
			m.totalBytes += merged.size() - last.size()
			stack[n-1] = merged
			m.enforceCapsLocked(c.Board)
			return
		}
	}
	m.undo[c.Board] = append(stack, c)
	m.totalBytes += c.size()
	m.enforceCapsLocked(c.Board)
}

// Undo pops the newest change of board and moves it to the redo stack.
func (m *Manager) Undo(board string) (Change, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stack := m.undo[board]
	if len(stack) == 0 {
		return Change{}, false
	}
	c := stack[len(stack)-1]
	m.undo[board] = stack[:len(stack)-1]
	m.redo[board] = append(m.redo[board], c)
	return c, true
}

// Redo pops the newest undone change and moves it back to the undo stack.
func (m *Manager) Redo(board string) (Change, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.redo[board]
	if len(r) == 0 {
		return Change{}, false
	}
	c := r[len(r)-1]
	m.redo[board] = r[:len(r)-1]
	m.undo[board] = append(m.undo[board], c)
	return c, true
}

// CanUndo and CanRedo report whether the stacks of board are non-empty.
func (m *Manager) CanUndo(board string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.undo[board]) > 0
}

func (m *Manager) CanRedo(board string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.redo[board]) > 0
}

// Forget drops every change of element id, e.g. after it was deleted.
func (m *Manager) Forget(board, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keep := func(in []Change) []Change {
		out := in[:0]
		for _, c := range in {
			if c.ElementID() == id {
				m.totalBytes -= c.size()
				continue
			}
			out = append(out, c)
		}
		return out
	}
	m.undo[board] = keep(m.undo[board])
	m.redo[board] = keep(m.redo[board])
}

// Clear drops both stacks of board.
func (m *Manager) Clear(board string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.undo[board] {
		m.totalBytes -= c.size()
	}
	m.dropRedoLocked(board)
	delete(m.undo, board)
	if m.totalBytes < 0 {
		m.totalBytes = 0
	}
}

// Stats returns current sizes for diagnostics.
func (m *Manager) Stats() (totalBytes int, boards int, changes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.undo {
		if len(v) > 0 {
			boards++
		}
		changes += len(v)
	}
	return m.totalBytes, boards, changes
}

func (m *Manager) dropRedoLocked(board string) {
	for _, c := range m.redo[board] {
		m.totalBytes -= c.size()
	}
	delete(m.redo, board)
}

func (m *Manager) enforceCapsLocked(board string) {
	if m.cfg.MaxPerBoard > 0 {
		stack := m.undo[board]
		if extra := len(stack) - m.cfg.MaxPerBoard; extra > 0 {
			for _, c := range stack[:extra] {
				m.totalBytes -= c.size()
			}
			m.undo[board] = append([]Change(nil), stack[extra:]...)
		}
	}
	// prune the oldest change across all boards
	for m.totalBytes > m.cfg.MaxBytes {
		oldest := ""
		var oldestTS time.Time
		for b, stack := range m.undo {
			if len(stack) == 0 {
				continue
			}
			if oldest == "" || stack[0].TS.Before(oldestTS) {
				oldest, oldestTS = b, stack[0].TS
			}
		}
		if oldest == "" {
			break
		}
		stack := m.undo[oldest]
		m.totalBytes -= stack[0].size()
		m.undo[oldest] = stack[1:]
		if len(m.undo[oldest]) == 0 {
			delete(m.undo, oldest)
		}
	}
}
