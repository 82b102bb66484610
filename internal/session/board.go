/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package session owns one open board: it loads the project and its
// elements, keeps them live through realtime subscriptions, and tears all of
// it down on Close.
//
// A project update that takes away the viewer's mutation rights leaves the
// board open read-only. When the viewer can no longer view the project, or
// the project is deleted, the board is revoked and the caller should leave.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"taski/internal/board"
	"taski/internal/domain"
	"taski/internal/interact"
	applog "taski/internal/log"
	"taski/internal/perm"
	"taski/internal/realtime"
	"taski/internal/storage"
	"taski/internal/undo"
	"taski/internal/viewport"
)

// ErrNotViewable is returned by Open when the user may not view the project.
var ErrNotViewable = errors.New("session: project not viewable")

// ProjectSource fetches a single project.
type ProjectSource interface {
	GetProject(ctx context.Context, id string) (domain.Project, error)
}

// Deps are the collaborators of a board session.
type Deps struct {
	User      string
	Projects  ProjectSource
	Elements  board.Persistence
	Files     board.FileRemover
	// Transport enables live updates. Nil opens the board without them.
	Transport realtime.Transport
	Recorder  board.Recorder
	Frames    viewport.FrameScheduler
	Viewport  viewport.Config
	Logger    *slog.Logger
	// Executor overrides the store's background executor.
	Executor  board.Executor

	OnCreationFailed func(*board.CreationFailedError)
	OnRevoked        func(projectID string)
	OnReadOnly       func(readOnly bool)
	OnRealtime       func(realtime.Status, error)
}

// Board is one open project.
type Board struct {
	ID       string
	Gate     *perm.Gate
	Store    *board.Store
	Viewport *viewport.Controller
	Interact *interact.Controller
	// History holds the local undo and redo stacks of moves and edits.
	History *undo.Manager

	deps     Deps
	log      *slog.Logger
	elements *realtime.Manager
	project  *realtime.Manager

	closed   atomic.Bool
	revoked  chan struct{}
	revoke   sync.Once
	readOnly atomic.Bool
}

// Open fetches the project, checks that the user may view it, loads its
// elements and binds the realtime channels.
func Open(ctx context.Context, d Deps, projectID string) (*Board, error) {
	log := d.Logger
	if log == nil {
		log = applog.WithComponent("session")
	}
	log = log.With(slog.String("project", projectID))

	p, err := d.Projects.GetProject(ctx, projectID)
	if err != nil {
		log.Error("fetch project failed", slog.Any("err", err))
		return nil, errors.Join(board.ErrFetch, err)
	}
	p.Normalize()
	if !perm.CanView(p, d.User) {
		return nil, fmt.Errorf("%w: %s", ErrNotViewable, projectID)
	}

	b := &Board{ID: projectID, deps: d, log: log, revoked: make(chan struct{})}
	b.Gate = perm.NewGate(d.User, p)
	b.readOnly.Store(!b.Gate.CanMutate())

	opts := []board.Option{board.WithGate(b.Gate), board.WithLogger(applog.WithComponent("board"))}
	if d.Files != nil {
		opts = append(opts, board.WithFiles(d.Files))
	}
	if d.Recorder != nil {
		opts = append(opts, board.WithRecorder(d.Recorder))
	}
	if d.Executor != nil {
		opts = append(opts, board.WithExecutor(d.Executor))
	}
	if d.OnCreationFailed != nil {
		opts = append(opts, board.OnCreationFailed(d.OnCreationFailed))
	}
	b.Store = board.New(projectID, d.Elements, opts...)
	if err := b.Store.Load(ctx); err != nil {
		b.Store.Close()
		return nil, err
	}

	frames := d.Frames
	if frames == nil {
		frames = viewport.NewTickerFrames(60)
	}
	b.Viewport = viewport.New(d.Viewport, frames)
	b.Interact = interact.New(b.Store, b.Viewport)
	b.History = undo.NewManager(undo.Config{})
	b.Interact.SetHistory(boardHistory{b})

	if d.Transport != nil {
		mopts := []realtime.ManagerOption{realtime.OnStatus(b.onStatus)}
		b.elements = realtime.NewManager(d.Transport, mopts...)
		b.project = realtime.NewManager(d.Transport, mopts...)
		b.elements.Bind(context.WithoutCancel(ctx), projectID, realtime.ElementsChannel(projectID), b.onElement)
		b.project.Bind(context.WithoutCancel(ctx), projectID, realtime.ChannelProjects, b.onProject)
	}
	if d.Recorder != nil {
		d.Recorder.Event("board_opened", map[string]any{"elements": b.Store.Len(), "read_only": b.ReadOnly()})
	}
	log.Info("board opened", slog.Int("elements", b.Store.Len()), slog.Bool("read_only", b.ReadOnly()))
	return b, nil
}

func (b *Board) onElement(kind domain.EventKind, m realtime.Message) {
	if b.closed.Load() {
		return
	}
	e, err := realtime.DecodeElement(m)
	if err != nil {
		b.log.Debug("dropping malformed element message", slog.String("id", m.ID), slog.Any("err", err))
		return
	}
	b.Store.ApplyRemoteEvent(kind, e)
	if kind == domain.Deleted {
		b.History.Forget(b.ID, e.ID)
	}
}

func (b *Board) onProject(kind domain.EventKind, m realtime.Message) {
	if b.closed.Load() {
		return
	}
	p, err := realtime.DecodeProject(m)
	if err != nil {
		b.log.Debug("dropping malformed project message", slog.String("id", m.ID), slog.Any("err", err))
		return
	}
	if p.ID != b.ID {
		return
	}
	if kind == domain.Deleted {
		b.revokeWith("project deleted")
		return
	}
	p.Normalize()
	canView, canMutate := b.Gate.Update(p)
	if !canView {
		b.revokeWith("access removed")
		return
	}
	if was := b.readOnly.Swap(!canMutate); was != !canMutate {
		b.log.Info("board access changed", slog.Bool("read_only", !canMutate))
		if b.deps.OnReadOnly != nil {
			b.deps.OnReadOnly(!canMutate)
		}
	}
}

func (b *Board) onStatus(s realtime.Status, err error) {
	if s == realtime.Degraded && b.deps.Recorder != nil {
		b.deps.Recorder.Event("subscription_degraded", nil)
	}
	if b.deps.OnRealtime != nil {
		b.deps.OnRealtime(s, err)
	}
}

func (b *Board) revokeWith(reason string) {
	b.revoke.Do(func() {
		b.readOnly.Store(true)
		b.log.Info("board revoked", slog.String("reason", reason))
		close(b.revoked)
		if b.deps.OnRevoked != nil {
			b.deps.OnRevoked(b.ID)
		}
	})
}

// Revoked is closed when the viewer lost access to the project.
func (b *Board) Revoked() <-chan struct{} { return b.revoked }

// ReadOnly reports whether the viewer currently lacks mutation rights.
func (b *Board) ReadOnly() bool { return b.readOnly.Load() }

// RealtimeStatus reports the element channel status.
func (b *Board) RealtimeStatus() (realtime.Status, error) {
	if b.elements == nil {
		return realtime.Unbound, nil
	}
	return b.elements.Status()
}

// Wait blocks until pending subscription setups and background persistence finish.
func (b *Board) Wait() {
	if b.elements != nil {
		b.elements.Wait()
		b.project.Wait()
	}
	b.Store.Wait()
}

type boardHistory struct{ b *Board }

func (h boardHistory) Record(before, after domain.Element) {
	h.b.History.Push(undo.Change{Board: h.b.ID, Before: before, After: after, TS: time.Now()})
}

// Undo reverts the newest local move or edit. It reports false when there
// was nothing left to undo. Changes of elements that no longer exist are
// skipped.
func (b *Board) Undo(ctx context.Context) (bool, error) {
	return b.step(ctx, b.History.Undo, func(c undo.Change) domain.Element { return c.Before })
}

// Redo reapplies the newest undone change.
func (b *Board) Redo(ctx context.Context) (bool, error) {
	return b.step(ctx, b.History.Redo, func(c undo.Change) domain.Element { return c.After })
}

func (b *Board) step(ctx context.Context, pop func(string) (undo.Change, bool), target func(undo.Change) domain.Element) (bool, error) {
	if b.ReadOnly() {
		return false, board.ErrMutationRejected
	}
	for {
		c, ok := pop(b.ID)
		if !ok {
			return false, nil
		}
		err := b.Store.Restore(ctx, target(c))
		if errors.Is(err, board.ErrNotFound) {
			b.History.Forget(b.ID, c.ElementID())
			continue
		}
		return err == nil, err
	}
}

// Snapshot copies the current project and elements into a board file snapshot.
func (b *Board) Snapshot() storage.BoardSnapshot {
	return storage.NewBoardSnapshot(b.Gate.Project(), b.Store.Elements())
}

// Close unbinds the subscriptions, stops animations and discards the store.
// Late network completions become no-ops.
func (b *Board) Close() {
	if !b.closed.CompareAndSwap(false, true) {
		return
	}
	if b.elements != nil {
		b.elements.Unbind()
		b.project.Unbind()
	}
	b.Viewport.Close()
	b.Store.Close()
	b.log.Debug("board closed")
}
