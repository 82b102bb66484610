/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package projects keeps the list of projects visible to one user in sync
// with the server. Membership in the list is decided by relevance: the user
// owns the project or is one of its collaborators.
package projects

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"taski/internal/board"
	"taski/internal/domain"
	applog "taski/internal/log"
	"taski/internal/perm"
)

// Persistence is the project CRUD service.
type Persistence interface {
	ListProjects(ctx context.Context, userID string) ([]domain.Project, error)
	GetProject(ctx context.Context, id string) (domain.Project, error)
	CreateProject(ctx context.Context, p domain.Project) (domain.Project, error)
	UpdateProject(ctx context.Context, id string, patch domain.ProjectPatch) error
	DeleteProject(ctx context.Context, id string) error
}

// Store is the project list of one user. It is safe for concurrent use.
type Store struct {
	user     string
	api      Persistence
	elements ElementService
	files    board.FileRemover
	rec      board.Recorder
	newID    func() string
	exec     board.Executor
	onFailed func(*board.CreationFailedError)
	log      *slog.Logger

	mu      sync.Mutex
	order   []string
	byID    map[string]*domain.Project
	pending map[string]bool // optimistic creates not yet confirmed
	closed  bool

	subMu     sync.Mutex
	listeners map[int]func([]domain.Project)
	nextSub   int
	deliverMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type Option func(*Store)

// WithElements enables cascading delete through svc.
func WithElements(svc ElementService) Option { return func(s *Store) { s.elements = svc } }
func WithFiles(f board.FileRemover) Option   { return func(s *Store) { s.files = f } }
func WithRecorder(r board.Recorder) Option   { return func(s *Store) { s.rec = r } }
func WithLogger(l *slog.Logger) Option       { return func(s *Store) { s.log = l } }
func WithIDGenerator(f func() string) Option { return func(s *Store) { s.newID = f } }
func WithExecutor(e board.Executor) Option   { return func(s *Store) { s.exec = e } }
func OnCreationFailed(f func(*board.CreationFailedError)) Option {
	return func(s *Store) { s.onFailed = f }
}

func New(user string, api Persistence, opts ...Option) *Store {
	s := &Store{
		user:      strings.TrimSpace(user),
		api:       api,
		newID:     uuid.NewString,
		byID:      map[string]*domain.Project{},
		pending:   map[string]bool{},
		listeners: map[int]func([]domain.Project){},
	}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		s.log = applog.WithComponent("projects")
	}
	if s.exec == nil {
		s.exec = func(f func()) { go f() }
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// User returns the id the list is scoped to.
func (s *Store) User() string { return s.user }

// Relevant reports whether p belongs in the list.
func (s *Store) Relevant(p domain.Project) bool { return perm.CanMutate(p, s.user) }

// Load replaces the list with the server's. Optimistic creates still in
// flight are kept.
func (s *Store) Load(ctx context.Context) error {
	ps, err := s.api.ListProjects(ctx, s.user)
	if err != nil {
		s.log.Error("load projects failed", slog.Any("err", err))
		return errors.Join(board.ErrFetch, err)
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return board.ErrClosed
	}
	prev, prevOrder := s.byID, s.order
	s.byID = make(map[string]*domain.Project, len(ps))
	s.order = nil
	for _, p := range ps {
		p.Normalize()
		if !s.Relevant(p) {
			continue
		}
		if _, dup := s.byID[p.ID]; dup {
			continue
		}
		delete(s.pending, p.ID)
		s.insertLocked(p)
	}
	for _, id := range prevOrder {
		if s.pending[id] {
			if _, ok := s.byID[id]; !ok {
				s.insertLocked(*prev[id])
			}
		}
	}
	n := len(s.order)
	s.mu.Unlock()
	s.log.Debug("projects loaded", slog.Int("count", n))
	s.publish()
	return nil
}

// ApplyRemoteEvent reconciles a project event by relevance. A create or
// update that makes a project relevant inserts it, an update that makes it
// irrelevant removes it, and delete removes it.
func (s *Store) ApplyRemoteEvent(kind domain.EventKind, p domain.Project) {
	if p.ID == "" {
		return
	}
	p.Normalize()
	relevant := s.Relevant(p)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	cur, present := s.byID[p.ID]
	changed := false
	switch kind {
	case domain.Created:
		delete(s.pending, p.ID)
		if !present && relevant {
			s.insertLocked(p)
			changed = true
		}
	case domain.Updated:
		delete(s.pending, p.ID)
		switch {
		case present && !relevant:
			s.removeLocked(p.ID)
			changed = true
		case present:
			if p.CreatedAt.IsZero() {
				p.CreatedAt = cur.CreatedAt
			}
			*cur = p.Clone()
			changed = true
		case relevant:
			s.insertLocked(p)
			changed = true
		}
	case domain.Deleted:
		delete(s.pending, p.ID)
		if present {
			s.removeLocked(p.ID)
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

// CreateOptimistic appends a project owned by the user with a client-generated
// id and persists it in the background. A failed persist removes it again and
// fires the creation-failed callback once.
func (s *Store) CreateOptimistic(ctx context.Context, name string) (domain.Project, error) {
	if s.user == "" {
		return domain.Project{}, board.ErrMutationRejected
	}
	p := domain.Project{ID: s.newID(), Name: name, OwnerID: s.user}
	p.Normalize()
	if err := p.Validate(); err != nil {
		return domain.Project{}, err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.Project{}, board.ErrClosed
	}
	s.insertLocked(p)
	s.pending[p.ID] = true
	s.mu.Unlock()
	s.publish()

	s.async(ctx, func(ctx context.Context) {
		saved, err := s.api.CreateProject(ctx, p)
		if err != nil {
			s.rollbackCreate(p.ID, err)
			return
		}
		s.mu.Lock()
		cur, ok := s.byID[p.ID]
		if s.closed || !ok {
			s.mu.Unlock()
			return
		}
		delete(s.pending, p.ID)
		if cur.CreatedAt.IsZero() {
			cur.CreatedAt = saved.CreatedAt
		}
		s.mu.Unlock()
		s.publish()
	})
	if s.rec != nil {
		s.rec.Event("project_created", nil)
	}
	return p, nil
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
	delete(s.pending, id)
	s.mu.Unlock()
	s.log.Warn("create project failed, rolled back", slog.String("project", id), slog.Any("err", cause))
	if present {
		s.publish()
	}
	if s.onFailed != nil {
		s.onFailed(&board.CreationFailedError{ID: id, Err: cause})
	}
}

// UpdateSettings renames the project and sets its visibility. Owner only.
func (s *Store) UpdateSettings(ctx context.Context, id, name string, isPublic bool) error {
	name = strings.TrimSpace(name)
	return s.ownerUpdate(ctx, id, "update_settings", domain.ProjectPatch{Name: &name, IsPublic: &isPublic})
}

// AddCollaborator grants userID mutation rights. Owner only. Adding the owner
// is an error; adding an existing collaborator does nothing.
func (s *Store) AddCollaborator(ctx context.Context, id, userID string) error {
	userID = strings.TrimSpace(userID)
	p, ok := s.Get(id)
	if !ok {
		return board.ErrNotFound
	}
	if userID == "" {
		return domain.ErrMissingID
	}
	if userID == p.OwnerID {
		return domain.ErrOwnerIsCollab
	}
	if p.HasCollaborator(userID) {
		return nil
	}
	ids := append(p.CollabIDs, userID)
	return s.ownerUpdate(ctx, id, "add_collaborator", domain.ProjectPatch{CollabIDs: &ids})
}

// RemoveCollaborator revokes userID's rights. Owner only; unknown ids are ignored.
func (s *Store) RemoveCollaborator(ctx context.Context, id, userID string) error {
	p, ok := s.Get(id)
	if !ok {
		return board.ErrNotFound
	}
	if !p.HasCollaborator(userID) {
		return nil
	}
	ids := make([]string, 0, len(p.CollabIDs))
	for _, c := range p.CollabIDs {
		if c != userID {
			ids = append(ids, c)
		}
	}
	return s.ownerUpdate(ctx, id, "remove_collaborator", domain.ProjectPatch{CollabIDs: &ids})
}

func (s *Store) ownerUpdate(ctx context.Context, id, op string, patch domain.ProjectPatch) error {
	s.mu.Lock()
	cur, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return board.ErrNotFound
	}
	if !perm.IsOwner(*cur, s.user) {
		s.mu.Unlock()
		s.log.Debug("mutation rejected", slog.String("op", op), slog.String("project", id))
		return board.ErrMutationRejected
	}
	*cur = patch.ApplyTo(*cur)
	s.mu.Unlock()
	s.publish()

	s.async(ctx, func(ctx context.Context) {
		if err := s.api.UpdateProject(ctx, id, patch); err != nil {
			s.log.Warn("update project failed", slog.String("op", op), slog.String("project", id), slog.Any("err", err))
		}
	})
	return nil
}

// Delete removes the project with all its elements. Owner only. The element
// cascade stops at the first failure and the project row is kept; see
// DeleteCascade.
func (s *Store) Delete(ctx context.Context, id string) error {
	p, ok := s.Get(id)
	if !ok {
		return board.ErrNotFound
	}
	if !perm.IsOwner(p, s.user) {
		s.log.Debug("mutation rejected", slog.String("op", "delete"), slog.String("project", id))
		return board.ErrMutationRejected
	}
	if err := DeleteCascade(ctx, s.elements, s.files, s.api, id); err != nil {
		s.log.Warn("delete project failed", slog.String("project", id), slog.Any("err", err))
		return err
	}
	s.mu.Lock()
	if _, ok := s.byID[id]; ok {
		s.removeLocked(id)
	}
	s.mu.Unlock()
	s.publish()
	if s.rec != nil {
		s.rec.Event("project_deleted", nil)
	}
	return nil
}

// Get returns a copy of the project with id.
func (s *Store) Get(id string) (domain.Project, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok {
		return domain.Project{}, false
	}
	return p.Clone(), true
}

// Pending reports whether id is an optimistic create not yet confirmed.
func (s *Store) Pending(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending[id]
}

// Projects returns the list sorted by creation time, newest first; projects
// without a timestamp (optimistic) come first in insertion order.
func (s *Store) Projects() []domain.Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Subscribe registers fn to receive the list after every change.
func (s *Store) Subscribe(fn func([]domain.Project)) (cancel func()) {
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

// Wait blocks until background persistence has finished.
func (s *Store) Wait() { s.wg.Wait() }

// Close discards the store; late completions become no-ops.
func (s *Store) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	s.subMu.Lock()
	s.listeners = map[int]func([]domain.Project){}
	s.subMu.Unlock()
}

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
	fns := make([]func([]domain.Project), 0, len(ids))
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

func (s *Store) snapshotLocked() []domain.Project {
	out := make([]domain.Project, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id].Clone())
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].CreatedAt, out[j].CreatedAt
		if a.IsZero() || b.IsZero() {
			return a.IsZero() && !b.IsZero()
		}
		return a.After(b)
	})
	return out
}

func (s *Store) insertLocked(p domain.Project) {
	cp := p.Clone()
	s.byID[p.ID] = &cp
	s.order = append(s.order, p.ID)
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
