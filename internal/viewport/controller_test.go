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
	"math"
	"sync"
	"testing"

	"taski/internal/geom"
)

func newTestController() (*Controller, *ManualFrames) {
	f := NewManualFrames()
	c := New(DefaultConfig(), f)
	c.SetViewportSize(800, 600)
	return c, f
}

func TestPanOnlyWithSecondaryButtonOrSingleTouch(t *testing.T) {
	c, _ := newTestController()
	cases := []struct {
		in   PointerInput
		want bool
	}{
		{PointerInput{Button: ButtonPrimary, Kind: Mouse}, false},
		{PointerInput{Button: ButtonSecondary, Kind: Mouse, OverElement: true}, false},
		{PointerInput{Kind: Touch, Touches: 2}, false},
		{PointerInput{Kind: Touch, Touches: 1}, true},
		{PointerInput{Button: ButtonSecondary, Kind: Mouse}, true},
	}
	for i, cs := range cases {
		if got := c.PointerDown(cs.in); got != cs.want {
			t.Fatalf("case %d: PointerDown = %v, want %v", i, got, cs.want)
		}
		c.PointerUp()
	}
}

func TestPanTracksPointerOneToOne(t *testing.T) {
	c, _ := newTestController()
	if !c.PointerDown(PointerInput{Pos: geom.Pt{X: 10, Y: 10}, Button: ButtonSecondary}) {
		t.Fatalf("pan did not start")
	}
	if c.State().Mode != Panning {
		t.Fatalf("mode = %v", c.State().Mode)
	}
	c.PointerMove(geom.Pt{X: 30, Y: 5})
	c.PointerMove(geom.Pt{X: 50, Y: 0})
	cam := c.Camera()
	if cam.OffsetX != 40 || cam.OffsetY != -10 || cam.Scale != 1 {
		t.Fatalf("camera = %+v", cam)
	}
	c.PointerUp()
	if c.State().Mode != Idle {
		t.Fatalf("mode after release = %v", c.State().Mode)
	}
	c.PointerMove(geom.Pt{X: 500, Y: 500})
	if c.Camera() != cam {
		t.Fatalf("camera moved after release")
	}
}

func TestAnimatedZoomKeepsOriginAndSnaps(t *testing.T) {
	c, f := newTestController()
	c.SetCamera(geom.Camera{OffsetX: 37, OffsetY: -12, Scale: 1})
	origin := geom.Pt{X: 400, Y: 300}
	anchor := geom.ScreenToWorld(origin, c.Camera())

	c.ZoomIn()
	if st := c.State(); st.Mode != Zooming || math.Abs(st.TargetScale-1.2) > 1e-12 {
		t.Fatalf("state after ZoomIn = %+v", st)
	}
	frames := 0
	for f.Pending() > 0 {
		f.Step()
		frames++
		if got := geom.ScreenToWorld(origin, c.Camera()); !got.Near(anchor, 1e-6) {
			t.Fatalf("frame %d: anchor drifted to %+v, want %+v", frames, got, anchor)
		}
		if frames > 100 {
			t.Fatalf("animation did not terminate")
		}
	}
	st := c.State()
	if st.Mode != Idle || st.Camera.Scale != 1.2 {
		t.Fatalf("final state = %+v", st)
	}
	if frames < 2 {
		t.Fatalf("expected several frames, got %d", frames)
	}
}

func TestZoomClampsToRange(t *testing.T) {
	c, f := newTestController()
	c.ZoomTo(50, geom.Pt{})
	f.RunUntilIdle(200)
	if s := c.Camera().Scale; s != 5 {
		t.Fatalf("scale = %v, want 5", s)
	}
	c.ZoomTo(0.001, geom.Pt{})
	f.RunUntilIdle(200)
	if s := c.Camera().Scale; s != 0.1 {
		t.Fatalf("scale = %v, want 0.1", s)
	}
}

func TestNewTargetOverridesInFlightAnimation(t *testing.T) {
	c, f := newTestController()
	c.ZoomIn()
	f.Step()
	c.ZoomOut() // back towards 1.0 from target 1.2
	if f.Pending() != 1 {
		t.Fatalf("pending frames = %d, want a single loop", f.Pending())
	}
	f.RunUntilIdle(200)
	if s := c.Camera().Scale; math.Abs(s-1) > 1e-12 {
		t.Fatalf("scale = %v, want 1", s)
	}
}

func TestWheelWithModifierZoomsAtCursorImmediately(t *testing.T) {
	c, f := newTestController()
	cursor := geom.Pt{X: 120, Y: 80}
	anchor := geom.ScreenToWorld(cursor, c.Camera())
	c.Wheel(WheelInput{Pos: cursor, DeltaY: -300, Modifier: true}) // clamped to -150
	if f.Pending() != 0 {
		t.Fatalf("wheel zoom should not animate")
	}
	want := math.Pow(2, 150.0/300.0)
	if s := c.Camera().Scale; math.Abs(s-want) > 1e-12 {
		t.Fatalf("scale = %v, want %v", s, want)
	}
	if got := geom.ScreenToWorld(cursor, c.Camera()); !got.Near(anchor, 1e-6) {
		t.Fatalf("cursor anchor drifted: %+v vs %+v", got, anchor)
	}
}

func TestPlainWheelPans(t *testing.T) {
	c, _ := newTestController()
	c.Wheel(WheelInput{DeltaX: 5, DeltaY: 20})
	cam := c.Camera()
	if cam.Scale != 1 || cam.OffsetX != -5 || cam.OffsetY != -20 {
		t.Fatalf("camera = %+v", cam)
	}
}

func TestKeyShortcuts(t *testing.T) {
	c, f := newTestController()
	if c.Key(KeyInput{Key: "+"}) {
		t.Fatalf("shortcut without modifier consumed")
	}
	if !c.Key(KeyInput{Key: "=", Ctrl: true}) {
		t.Fatalf("ctrl+= not consumed")
	}
	f.RunUntilIdle(200)
	if s := c.Camera().Scale; math.Abs(s-1.2) > 1e-12 {
		t.Fatalf("scale = %v", s)
	}
	c.Key(KeyInput{Key: "-", Meta: true})
	c.Key(KeyInput{Key: "-", Meta: true})
	f.RunUntilIdle(200)
	if s := c.Camera().Scale; math.Abs(s-1/1.2) > 1e-9 {
		t.Fatalf("scale = %v", s)
	}
	c.Key(KeyInput{Key: "0", Ctrl: true})
	f.RunUntilIdle(200)
	if s := c.Camera().Scale; s != 1 {
		t.Fatalf("reset scale = %v", s)
	}
	if c.Key(KeyInput{Key: "k", Ctrl: true}) {
		t.Fatalf("unrelated key consumed")
	}
}

// firedFrames never cancels: a callback handed out keeps running, like a
// timer that fired just before Stop.
type firedFrames struct{ fns []func() }

func (f *firedFrames) Request(fn func()) func() {
	f.fns = append(f.fns, fn)
	return func() {}
}

func TestStaleFrameAfterRestartIsIgnored(t *testing.T) {
	f := &firedFrames{}
	c := New(DefaultConfig(), f)
	c.SetViewportSize(800, 600)

	c.ZoomTo(2, geom.Pt{X: 400, Y: 300})
	stale := f.fns[0]
	c.Wheel(WheelInput{DeltaY: -30, Pos: geom.Pt{X: 400, Y: 300}, Modifier: true})
	c.ZoomTo(3, geom.Pt{X: 400, Y: 300})
	if len(f.fns) != 2 {
		t.Fatalf("requests = %d, want 2", len(f.fns))
	}
	before := c.Camera().Scale

	stale()
	if got := c.Camera().Scale; got != before {
		t.Fatalf("stale frame moved scale %v -> %v", before, got)
	}
	if len(f.fns) != 2 {
		t.Fatalf("stale frame requested another frame")
	}

	f.fns[1]()
	if c.Camera().Scale == before {
		t.Fatalf("current frame did not advance")
	}
	if len(f.fns) != 3 {
		t.Fatalf("requests = %d, want one chain", len(f.fns))
	}
	// Running the stale callback again after the chain moved on is still a no-op.
	mid := c.Camera().Scale
	stale()
	f.fns[1]()
	if c.Camera().Scale != mid || len(f.fns) != 3 {
		t.Fatalf("superseded callbacks advanced the animation")
	}
}

func TestCloseCancelsAnimation(t *testing.T) {
	c, f := newTestController()
	c.ZoomIn()
	c.Close()
	if f.Pending() != 0 {
		t.Fatalf("frame still pending after Close")
	}
	c.ZoomIn()
	if c.State().Mode != Idle {
		t.Fatalf("closed controller accepted zoom")
	}
}

func TestSubscribeReceivesStates(t *testing.T) {
	c, f := newTestController()
	var mu sync.Mutex
	var modes []Mode
	cancel := c.Subscribe(func(s State) {
		mu.Lock()
		modes = append(modes, s.Mode)
		mu.Unlock()
	})
	c.ZoomIn()
	f.RunUntilIdle(200)
	cancel()
	c.ZoomIn()
	mu.Lock()
	defer mu.Unlock()
	if len(modes) < 2 || modes[0] != Zooming || modes[len(modes)-1] != Idle {
		t.Fatalf("modes = %v", modes)
	}
}
