/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package viewport owns the client camera: pan gestures, animated zoom towards
// a fixed screen origin, wheel zoom anchored at the cursor and keyboard shortcuts.
package viewport

import (
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"

	"taski/internal/config"
	"taski/internal/geom"
	applog "taski/internal/log"
)

// Mode is the controller state.
type Mode int

const (
	Idle Mode = iota
	Panning
	Zooming
)

func (m Mode) String() string {
	switch m {
	case Panning:
		return "panning"
	case Zooming:
		return "zooming"
	}
	return "idle"
}

// Config holds the zoom tuning constants.
type Config struct {
	MinScale     float64
	MaxScale     float64
	ZoomStep     float64 // factor per discrete zoom in/out
	Smoothing    float64 // fraction of the remaining delta applied per frame
	Epsilon      float64 // remaining delta below which the animation snaps
	WheelClamp   float64 // max |delta| honored per wheel event
	WheelDivisor float64 // scale *= 2^(-delta/WheelDivisor)
}

// DefaultConfig mirrors config.Defaults().Canvas.
func DefaultConfig() Config { return ConfigFrom(config.Defaults().Canvas) }

// ConfigFrom converts the user canvas section.
func ConfigFrom(c config.CanvasConfig) Config {
	return Config{
		MinScale:     c.MinScale,
		MaxScale:     c.MaxScale,
		ZoomStep:     c.ZoomStep,
		Smoothing:    c.Smoothing,
		Epsilon:      c.Epsilon,
		WheelClamp:   c.WheelClamp,
		WheelDivisor: c.WheelDivisor,
	}
}

// State is the published view state.
type State struct {
	Camera      geom.Camera
	TargetScale float64
	Mode        Mode
}

// Button identifies a mouse button.
type Button int

const (
	ButtonPrimary Button = iota
	ButtonSecondary
	ButtonMiddle
)

// PointerKind distinguishes mouse from touch input.
type PointerKind int

const (
	Mouse PointerKind = iota
	Touch
)

// PointerInput describes a pointer-down on the canvas surface.
type PointerInput struct {
	Pos         geom.Pt // screen coordinates
	Button      Button
	Kind        PointerKind
	Touches     int  // active touch points for Touch input
	OverElement bool // pointer is over an interactive element
}

// WheelInput is one wheel event. Modifier is Ctrl (or Cmd) held.
type WheelInput struct {
	Pos      geom.Pt
	DeltaX   float64
	DeltaY   float64
	Modifier bool
}

// KeyInput is a key press with modifier state.
type KeyInput struct {
	Key  string
	Ctrl bool
	Meta bool
}

// Controller is the camera state machine over idle, panning and zooming.
// It is safe for concurrent use: input handlers and frame callbacks may run
// on different goroutines.
type Controller struct {
	cfg    Config
	frames FrameScheduler
	log    *slog.Logger

	mu          sync.Mutex
	cam         geom.Camera
	target      float64
	mode        Mode
	origin      geom.Pt
	lastPointer geom.Pt
	view        geom.Size
	cancelFrame func()
	frameGen    uint64 // bumped whenever the pending frame is replaced or cancelled
	closed      bool

	subMu     sync.Mutex
	listeners map[int]func(State)
	nextSub   int
	deliverMu sync.Mutex
}

// New returns a controller with the default camera. A nil scheduler uses TickerFrames at 60 fps.
func New(cfg Config, frames FrameScheduler) *Controller {
	def := DefaultConfig()
	if cfg.MinScale <= 0 {
		cfg.MinScale = def.MinScale
	}
	if cfg.MaxScale < cfg.MinScale {
		cfg.MaxScale = def.MaxScale
	}
	if cfg.ZoomStep <= 1 {
		cfg.ZoomStep = def.ZoomStep
	}
	if cfg.Smoothing <= 0 || cfg.Smoothing > 1 {
		cfg.Smoothing = def.Smoothing
	}
	if cfg.Epsilon <= 0 {
		cfg.Epsilon = def.Epsilon
	}
	if cfg.WheelClamp <= 0 {
		cfg.WheelClamp = def.WheelClamp
	}
	if cfg.WheelDivisor <= 0 {
		cfg.WheelDivisor = def.WheelDivisor
	}
	if frames == nil {
		frames = NewTickerFrames(60)
	}
	cam := geom.DefaultCamera()
	return &Controller{
		cfg:       cfg,
		frames:    frames,
		log:       applog.WithComponent("viewport"),
		cam:       cam,
		target:    cam.Scale,
		listeners: map[int]func(State){},
	}
}

// State returns the current view state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

// Camera returns the current camera.
func (c *Controller) Camera() geom.Camera {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cam
}

// Subscribe registers fn to receive the state after every change.
func (c *Controller) Subscribe(fn func(State)) (cancel func()) {
	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.listeners[id] = fn
	c.subMu.Unlock()
	return func() {
		c.subMu.Lock()
		delete(c.listeners, id)
		c.subMu.Unlock()
	}
}

// SetViewportSize records the canvas size; discrete zoom anchors at its center.
func (c *Controller) SetViewportSize(w, h float64) {
	c.mu.Lock()
	c.view = geom.Size{W: w, H: h}
	c.mu.Unlock()
}

// SetCamera replaces the camera, cancelling any animation.
func (c *Controller) SetCamera(cam geom.Camera) {
	c.mu.Lock()
	c.stopAnimationLocked()
	cam.Scale = geom.Clamp(cam.Scale, c.cfg.MinScale, c.cfg.MaxScale)
	c.cam = cam
	c.target = cam.Scale
	c.mode = Idle
	c.mu.Unlock()
	c.publish()
}

// PointerDown starts a pan on the secondary mouse button or a single touch,
// never over an interactive element. It reports whether a pan started.
func (c *Controller) PointerDown(in PointerInput) bool {
	if in.OverElement {
		return false
	}
	switch in.Kind {
	case Mouse:
		if in.Button != ButtonSecondary {
			return false
		}
	case Touch:
		if in.Touches != 1 {
			return false
		}
	default:
		return false
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.stopAnimationLocked()
	c.target = c.cam.Scale
	c.mode = Panning
	c.lastPointer = in.Pos
	c.mu.Unlock()
	c.publish()
	return true
}

// PointerMove tracks the pointer 1:1 while panning.
func (c *Controller) PointerMove(pos geom.Pt) {
	c.mu.Lock()
	if c.mode != Panning {
		c.mu.Unlock()
		return
	}
	d := pos.Sub(c.lastPointer)
	c.lastPointer = pos
	c.cam = c.cam.Pan(d)
	c.mu.Unlock()
	c.publish()
}

// PointerUp ends a pan. There is no inertia.
func (c *Controller) PointerUp() {
	c.mu.Lock()
	if c.mode != Panning {
		c.mu.Unlock()
		return
	}
	c.mode = Idle
	c.mu.Unlock()
	c.publish()
}

// ZoomIn animates towards target*ZoomStep around the viewport center.
func (c *Controller) ZoomIn() { c.zoomStep(c.cfg.ZoomStep) }

// ZoomOut animates towards target/ZoomStep around the viewport center.
func (c *Controller) ZoomOut() { c.zoomStep(1 / c.cfg.ZoomStep) }

// ResetZoom animates back to scale 1 around the viewport center.
func (c *Controller) ResetZoom() {
	c.mu.Lock()
	origin := c.view.Center()
	c.mu.Unlock()
	c.ZoomTo(1, origin)
}

func (c *Controller) zoomStep(factor float64) {
	c.mu.Lock()
	target := c.target * factor
	origin := c.view.Center()
	c.mu.Unlock()
	c.ZoomTo(target, origin)
}

// ZoomTo animates the scale towards scale (clamped) while keeping the world
// point under origin fixed. A new target replaces an in-flight animation.
func (c *Controller) ZoomTo(scale float64, origin geom.Pt) {
	c.mu.Lock()
	if c.closed || c.mode == Panning {
		c.mu.Unlock()
		return
	}
	c.target = geom.Clamp(scale, c.cfg.MinScale, c.cfg.MaxScale)
	c.origin = origin
	if math.Abs(c.target-c.cam.Scale) < c.cfg.Epsilon {
		c.stopAnimationLocked()
		c.cam = geom.ZoomAt(c.cam, origin, c.target)
		c.mode = Idle
		c.mu.Unlock()
		c.publish()
		return
	}
	c.mode = Zooming
	if c.cancelFrame == nil {
		c.requestFrameLocked()
	}
	c.mu.Unlock()
	c.publish()
}

// requestFrameLocked schedules the next animation frame. A callback from an
// earlier request that fires anyway is ignored by frame.
func (c *Controller) requestFrameLocked() {
	c.frameGen++
	gen := c.frameGen
	c.cancelFrame = c.frames.Request(func() { c.frame(gen) })
}

// frame advances the zoom animation by one step of exponential smoothing.
func (c *Controller) frame(gen uint64) {
	c.mu.Lock()
	if gen != c.frameGen {
		c.mu.Unlock()
		return
	}
	c.cancelFrame = nil
	if c.closed || c.mode != Zooming {
		c.mu.Unlock()
		return
	}
	cur := c.cam.Scale
	next := cur + (c.target-cur)*c.cfg.Smoothing
	done := math.Abs(c.target-next) < c.cfg.Epsilon
	if done {
		next = c.target
	}
	c.cam = geom.ZoomAt(c.cam, c.origin, next)
	if done {
		c.mode = Idle
		c.log.Debug("zoom settled", slog.Float64("scale", next))
	} else {
		c.requestFrameLocked()
	}
	c.mu.Unlock()
	c.publish()
}

// Wheel handles a wheel event. With the modifier held the scale changes
// immediately around the cursor; otherwise the camera pans by the raw delta.
func (c *Controller) Wheel(in WheelInput) {
	c.mu.Lock()
	if c.closed || c.mode == Panning {
		c.mu.Unlock()
		return
	}
	if !in.Modifier {
		c.cam = c.cam.Pan(geom.Pt{X: -in.DeltaX, Y: -in.DeltaY})
		c.mu.Unlock()
		c.publish()
		return
	}
	c.stopAnimationLocked()
	delta := geom.Clamp(in.DeltaY, -c.cfg.WheelClamp, c.cfg.WheelClamp)
	scale := c.cam.Scale * math.Pow(2, -delta/c.cfg.WheelDivisor)
	scale = geom.Clamp(scale, c.cfg.MinScale, c.cfg.MaxScale)
	c.cam = geom.ZoomAt(c.cam, in.Pos, scale)
	c.target = scale
	c.mode = Idle
	c.mu.Unlock()
	c.publish()
}

// Key handles the zoom shortcuts: Ctrl/Cmd with "+" or "=" zooms in, "-"
// zooms out and "0" resets. It reports whether the key was consumed.
func (c *Controller) Key(in KeyInput) bool {
	if !in.Ctrl && !in.Meta {
		return false
	}
	switch strings.ToLower(in.Key) {
	case "+", "=", "plus", "equal":
		c.ZoomIn()
	case "-", "minus":
		c.ZoomOut()
	case "0":
		c.ResetZoom()
	default:
		return false
	}
	return true
}

// Close stops any animation; later input is ignored.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.stopAnimationLocked()
	c.mode = Idle
	c.mu.Unlock()
	c.subMu.Lock()
	c.listeners = map[int]func(State){}
	c.subMu.Unlock()
}

func (c *Controller) stopAnimationLocked() {
	c.frameGen++
	if c.cancelFrame != nil {
		c.cancelFrame()
		c.cancelFrame = nil
	}
	if c.mode == Zooming {
		c.mode = Idle
	}
}

func (c *Controller) stateLocked() State {
	return State{Camera: c.cam, TargetScale: c.target, Mode: c.mode}
}

func (c *Controller) publish() {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()
	c.subMu.Lock()
	ids := make([]int, 0, len(c.listeners))
	for id := range c.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(State), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, c.listeners[id])
	}
	c.subMu.Unlock()
	if len(fns) == 0 {
		return
	}
	st := c.State()
	for _, fn := range fns {
		fn(st)
	}
}
