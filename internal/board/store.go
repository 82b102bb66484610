/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package board holds the element cache for one open project. Local mutations
// are applied optimistically and persisted asynchronously; server-pushed events
// are reconciled idempotently against the same cache.
package board

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"taski/internal/domain"
	applog "taski/internal/log"
	"taski/internal/perm"
)

// Persistence is the element CRUD service. Implementations may fail at any call.
type Persistence interface {
	FetchElements(ctx context.Context, projectID string) ([]domain.Element, error)
	CreateElement(ctx context.Context, e domain.Element) (domain.Element, error)
	UpdateElement(ctx context.Context, id string, p domain.Patch) error
	DeleteElement(ctx context.Context, id string) error
}

// FileRemover deletes stored image files.
type FileRemover interface {
	DeleteFile(ctx context.Context, ref string) error
}

// Recorder receives anonymous usage events (telemetry.Client satisfies it).
type Recorder interface {
	Event(name string, props map[string]any)
}

// Executor runs persistence work off the caller's goroutine.
type Executor func(func())

// Snapshot is the render-ordered element list published to subscribers.
type Snapshot []domain.Element

// Store is the element cache for one project. It is safe for concurrent use.
type Store struct {
	projectID string
	api       Persistence

	gate     perm.Checker
	files    FileRemover
	rec      Recorder
	newID    func() string
	exec     Executor
	onFailed func(*CreationFailedError)
	log      *slog.Logger

	mu     sync.Mutex
	order  []string // insertion order; ties in zIndex render in this order
	byID   map[string]*domain.Element
	closed bool

	subMu     sync.Mutex
	listeners map[int]func(Snapshot)
	nextSub   int
	deliverMu sync.Mutex // serializes publish so snapshots arrive in change order

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Store.
type Option func(*Store)

func WithGate(c perm.Checker) Option         { return func(s *Store) { s.gate = c } }
func WithFiles(f FileRemover) Option         { return func(s *Store) { s.files = f } }
func WithRecorder(r Recorder) Option         { return func(s *Store) { s.rec = r } }
func WithLogger(l *slog.Logger) Option       { return func(s *Store) { s.log = l } }
func WithIDGenerator(f func() string) Option { return func(s *Store) { s.newID = f } }

// WithExecutor replaces the default goroutine executor. Tests pass a synchronous one.
func WithExecutor(e Executor) Option { return func(s *Store) { s.exec = e } }

// OnCreationFailed registers the callback fired once per rolled-back optimistic create.
func OnCreationFailed(f func(*CreationFailedError)) Option {
	return func(s *Store) { s.onFailed = f }
}

// New returns an empty store for projectID. Call Load to populate it.
func New(projectID string, api Persistence, opts ...Option) *Store {
	s := &Store{
		projectID: projectID,
		api:       api,
		gate:      perm.Allow{},
		newID:     uuid.NewString,
		byID:      make(map[string]*domain.Element),
		listeners: make(map[int]func(Snapshot)),
	}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		s.log = applog.WithComponent("board")
	}
	s.log = s.log.With(slog.String("project", projectID))
	if s.exec == nil {
		s.exec = func(f func()) { go f() }
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// ProjectID returns the project this store is bound to.
func (s *Store) ProjectID() string { return s.projectID }

// Load replaces the collection with a full fetch. Local flags of elements that
// survive the reload are kept, as are optimistic elements not yet persisted.
func (s *Store) Load(ctx context.Context) error {
	els, err := s.api.FetchElements(ctx, s.projectID)
	if err != nil {
		s.log.Error("load elements failed", slog.Any("err", err))
		return errors.Join(ErrFetch, err)
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	prev := s.byID
	prevOrder := s.order
	s.byID = make(map[string]*domain.Element, len(els))
	s.order = s.order[:0:0]
	for _, e := range els {
		if e.ProjectID != s.projectID {
			continue
		}
		if old, ok := prev[e.ID]; ok {
			e.Local = old.Local
			e.Local.Optimistic = false
		}
		s.insertLocked(e)
	}
	for _, id := range prevOrder {
		if old := prev[id]; old.Local.Optimistic {
			if _, ok := s.byID[id]; !ok {
				s.insertLocked(*old)
			}
		}
	}
	n := len(s.order)
	s.mu.Unlock()
	s.log.Debug("elements loaded", slog.Int("count", n))
	s.publish()
	return nil
}

// CreateOptimistic inserts a new element with a client-generated id and
// persists it in the background. The returned element's id is final. When the
// persist call fails the element is removed again and the creation-failed
// callback fires exactly once.
func (s *Store) CreateOptimistic(ctx context.Context, d domain.Draft) (domain.Element, error) {
	if err := s.allow("create"); err != nil {
		return domain.Element{}, err
	}
	if _, err := domain.ParseElementType(string(d.Type)); err != nil {
		return domain.Element{}, err
	}
	e := domain.Element{
		ID:        s.newID(),
		ProjectID: s.projectID,
		Type:      d.Type,
		X:         d.X,
		Y:         d.Y,
		ZIndex:    d.ZIndex,
		Title:     d.Title,
		Content:   d.Content,
		ImageRef:  d.ImageRef,
		Local:     domain.LocalFlags{Optimistic: true},
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.Element{}, ErrClosed
	}
	s.insertLocked(e)
	s.mu.Unlock()
	s.publish()

	wire := e
	wire.Local = domain.LocalFlags{}
	s.async(ctx, func(ctx context.Context) {
		saved, err := s.api.CreateElement(ctx, wire)
		if err != nil {
			s.rollbackCreate(e.ID, err)
			return
		}
		s.confirmCreate(saved)
	})
	if s.rec != nil {
		s.rec.Event("element_created", map[string]any{"type": string(e.Type)})
	}
	return e, nil
}

func (s *Store) rollbackCreate(id string, cause error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	_, present := s.byID[id]
	if present {
		s.removeLocked(id)
	}
	s.mu.Unlock()
	s.log.Warn("create element failed, rolled back", slog.String("element", id), slog.Any("err", cause))
	if present {
		s.publish()
	}
	if s.onFailed != nil {
		s.onFailed(&CreationFailedError{ID: id, Err: cause})
	}
}

// confirmCreate clears the optimistic marker and merges server defaults into
// fields the client left zero-valued.
func (s *Store) confirmCreate(saved domain.Element) {
	s.mu.Lock()
	cur, ok := s.byID[saved.ID]
	if s.closed || !ok {
		s.mu.Unlock()
		return
	}
	cur.Local.Optimistic = false
	if cur.CreatedAt.IsZero() {
		cur.CreatedAt = saved.CreatedAt
	}
	if cur.Title == "" {
		cur.Title = saved.Title
	}
	if cur.Content == "" {
		cur.Content = saved.Content
	}
	if cur.ImageRef == "" {
		cur.ImageRef = saved.ImageRef
	}
	s.mu.Unlock()
	s.publish()
}

// ApplyRemoteEvent reconciles one server event. Events for other projects are
// discarded. Create is a no-op for a known id, update replaces (or inserts an
// unknown id) and delete removes if present. Applying the same event twice
// leaves the same state as applying it once.
func (s *Store) ApplyRemoteEvent(kind domain.EventKind, e domain.Element) {
	if e.ProjectID != s.projectID || e.ID == "" {
		return
	}
	e.Local = domain.LocalFlags{}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	changed := false
	switch kind {
	case domain.Created:
		if cur, ok := s.byID[e.ID]; ok {
			changed = cur.Local.Optimistic
			cur.Local.Optimistic = false
		} else {
			s.insertLocked(e)
			changed = true
		}
	case domain.Updated:
		cur, ok := s.byID[e.ID]
		if !ok {
			s.insertLocked(e)
			changed = true
			break
		}
		local := cur.Local
		if local.Dragging {
			e.X, e.Y, e.ZIndex = cur.X, cur.Y, cur.ZIndex
		}
		local.Optimistic = false
		e.Local = local
		if *cur != e {
			*cur = e
			changed = true
		}
	case domain.Deleted:
		if _, ok := s.byID[e.ID]; ok {
			s.removeLocked(e.ID)
			changed = true
		}
	default:
		s.log.Debug("ignoring unknown event kind", slog.Int("kind", int(kind)))
	}
	s.mu.Unlock()
	if changed {
		s.publish()
	}
}

// MoveToFront sets the element's zIndex to max+1 unless it already holds the
// maximum. It returns the resulting zIndex and whether anything changed. The
// change is local; CommitPlacement persists it.
func (s *Store) MoveToFront(id string) (int64, bool, error) {
	if err := s.allow("move_to_front"); err != nil {
		return 0, false, err
	}
	s.mu.Lock()
	cur, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return 0, false, ErrNotFound
	}
	top := s.maxZLocked()
	if cur.ZIndex == top {
		s.mu.Unlock()
		return top, false, nil
	}
	cur.ZIndex = top + 1
	z := cur.ZIndex
	s.mu.Unlock()
	s.publish()
	return z, true, nil
}

// MaxZ returns the highest zIndex in the store, or 0 when it is empty.
func (s *Store) MaxZ() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxZLocked()
}

// Remove drops an element locally without any request. Used after a confirmed
// delete so the initiating client does not wait for its own echo.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	_, ok := s.byID[id]
	if ok {
		s.removeLocked(id)
	}
	s.mu.Unlock()
	if ok {
		s.publish()
	}
}

// Delete removes an element on the server and then locally. For images the
// stored file is deleted first; a file failure is logged and the row delete
// still proceeds.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.allow("delete"); err != nil {
		return err
	}
	e, ok := s.Get(id)
	if !ok {
		return ErrNotFound
	}
	s.async(ctx, func(ctx context.Context) {
		if e.Type == domain.TypeImage && e.ImageRef != "" && s.files != nil {
			if err := s.files.DeleteFile(ctx, e.ImageRef); err != nil {
				s.log.Warn("delete image file failed", slog.String("element", id), slog.Any("err", err))
			}
		}
		if err := s.api.DeleteElement(ctx, id); err != nil {
			s.log.Warn("delete element failed", slog.String("element", id), slog.Any("err", err))
			return
		}
		s.Remove(id)
		if s.rec != nil {
			s.rec.Event("element_deleted", map[string]any{"type": string(e.Type)})
		}
	})
	return nil
}

// Get returns a copy of the element with id.
func (s *Store) Get(id string) (domain.Element, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byID[id]
	if !ok {
		return domain.Element{}, false
	}
	return *e, true
}

// Len returns the number of cached elements.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// Elements returns a render-ordered copy: ascending zIndex, insertion order on ties.
func (s *Store) Elements() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Subscribe registers fn to receive a snapshot after every change. Snapshots
// are delivered one at a time, in change order; fn must not mutate the store
// synchronously. The returned func unregisters.
func (s *Store) Subscribe(fn func(Snapshot)) (cancel func()) {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.listeners[id] = fn
	s.subMu.Unlock()
	return func() {
		s.subMu.Lock()
		delete(s.listeners, id)
		s.subMu.Unlock()
	}
}

// Wait blocks until in-flight background persistence has finished.
func (s *Store) Wait() { s.wg.Wait() }

// Close discards the store. In-flight requests are cancelled and their
// completions become no-ops.
func (s *Store) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	s.subMu.Lock()
	s.listeners = map[int]func(Snapshot){}
	s.subMu.Unlock()
}

func (s *Store) allow(op string) error {
	if s.gate.CanMutate() {
		return nil
	}
	s.log.Debug("mutation rejected", slog.String("op", op))
	return ErrMutationRejected
}

// async runs fn on the executor with a context that keeps the caller's values
// but is cancelled when the store closes.
func (s *Store) async(ctx context.Context, fn func(ctx context.Context)) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.wg.Add(1)
	s.exec(func() {
		defer s.wg.Done()
		rctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		stop := context.AfterFunc(s.ctx, cancel)
		defer func() {
			stop()
			cancel()
		}()
		fn(rctx)
	})
}

func (s *Store) publish() {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	s.subMu.Lock()
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(Snapshot), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.listeners[id])
	}
	s.subMu.Unlock()
	if len(fns) == 0 {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()
	for _, fn := range fns {
		fn(snap)
	}
}

func (s *Store) snapshotLocked() Snapshot {
	out := make(Snapshot, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.byID[id])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ZIndex < out[j].ZIndex })
	return out
}

func (s *Store) insertLocked(e domain.Element) {
	cp := e
	s.byID[e.ID] = &cp
	s.order = append(s.order, e.ID)
}

func (s *Store) removeLocked(id string) {
	delete(s.byID, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// maxZLocked returns the highest zIndex, or 0 for an empty store.
func (s *Store) maxZLocked() int64 {
	var top int64
	first := true
	for _, e := range s.byID {
		if first || e.ZIndex > top {
			top, first = e.ZIndex, false
		}
	}
	return top
}
