/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package viewport

import (
	"sync"
	"time"
)

// FrameScheduler runs a callback on the next animation frame.
type FrameScheduler interface {
	Request(fn func()) (cancel func())
}

// TickerFrames schedules callbacks on a fixed frame interval using timers.
type TickerFrames struct {
	Interval time.Duration
}

// NewTickerFrames returns a scheduler for the given frame rate (60 when <= 0).
func NewTickerFrames(fps int) *TickerFrames {
	if fps <= 0 {
		fps = 60
	}
	return &TickerFrames{Interval: time.Second / time.Duration(fps)}
}

func (t *TickerFrames) Request(fn func()) (cancel func()) {
	timer := time.AfterFunc(t.Interval, fn)
	return func() { timer.Stop() }
}

// ManualFrames queues callbacks until Step is called. Used by tests and by
// hosts that drive frames from their own render loop.
type ManualFrames struct {
	mu      sync.Mutex
	next    int
	pending map[int]func()
	order   []int
}

func NewManualFrames() *ManualFrames { return &ManualFrames{pending: map[int]func(){}} }

func (m *ManualFrames) Request(fn func()) (cancel func()) {
	m.mu.Lock()
	id := m.next
	m.next++
	m.pending[id] = fn
	m.order = append(m.order, id)
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.pending, id)
		m.mu.Unlock()
	}
}

// Step runs the callbacks queued before the call. Callbacks requested while
// stepping run on the next Step. It returns the number of callbacks run.
func (m *ManualFrames) Step() int {
	m.mu.Lock()
	order := m.order
	m.order = nil
	fns := make([]func(), 0, len(order))
	for _, id := range order {
		if fn, ok := m.pending[id]; ok {
			fns = append(fns, fn)
			delete(m.pending, id)
		}
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
	return len(fns)
}

// Pending reports how many callbacks wait for the next Step.
func (m *ManualFrames) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// RunUntilIdle steps until no callback is pending or max frames ran.
func (m *ManualFrames) RunUntilIdle(max int) int {
	frames := 0
	for frames < max && m.Pending() > 0 {
		m.Step()
		frames++
	}
	return frames
}
