/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"taski/internal/board"
	"taski/internal/board/boardtest"
	"taski/internal/domain"
	"taski/internal/realtime"
	"taski/internal/viewport"
)

type projectSource struct {
	p   domain.Project
	err error
}

func (s projectSource) GetProject(context.Context, string) (domain.Project, error) {
	return s.p, s.err
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func publish(t *testing.T, hub *realtime.Hub, channel, table, id string, kind domain.EventKind, payload any) {
	t.Helper()
	m, err := realtime.NewMessage(channel, table, id, kind, payload)
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	hub.Publish(m)
}

func openBoard(t *testing.T, p domain.Project, hub *realtime.Hub, d Deps) *Board {
	t.Helper()
	d.Projects = projectSource{p: p}
	if d.User == "" {
		d.User = "alice"
	}
	if d.Elements == nil {
		d.Elements = boardtest.NewPersistence(domain.Element{ID: "e1", ProjectID: p.ID, Type: domain.TypeCard, ZIndex: 1})
	}
	d.Frames = viewport.NewManualFrames()
	d.Executor = boardtest.SyncExec
	if hub != nil {
		d.Transport = hub
	}
	b, err := Open(context.Background(), d, p.ID)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(b.Close)
	b.Wait()
	return b
}

func TestOpenRejectsPrivateProject(t *testing.T) {
	d := Deps{User: "mallory", Projects: projectSource{p: domain.Project{ID: "p", OwnerID: "alice"}}}
	_, err := Open(context.Background(), d, "p")
	if !errors.Is(err, ErrNotViewable) {
		t.Fatalf("Open err = %v, want ErrNotViewable", err)
	}
}

func TestOpenFetchFailure(t *testing.T) {
	d := Deps{User: "alice", Projects: projectSource{err: errors.New("offline")}}
	if _, err := Open(context.Background(), d, "p"); !errors.Is(err, board.ErrFetch) {
		t.Fatalf("Open err = %v, want ErrFetch", err)
	}
	els := boardtest.NewPersistence()
	els.FetchErr = errors.New("offline")
	d = Deps{User: "alice", Projects: projectSource{p: domain.Project{ID: "p", OwnerID: "alice"}}, Elements: els}
	if _, err := Open(context.Background(), d, "p"); !errors.Is(err, board.ErrFetch) {
		t.Fatalf("Open err = %v, want ErrFetch", err)
	}
}

func TestPublicProjectIsReadOnly(t *testing.T) {
	b := openBoard(t, domain.Project{ID: "p", OwnerID: "bob", IsPublic: true}, nil, Deps{User: "alice"})
	if !b.ReadOnly() {
		t.Fatalf("viewer of public project can mutate")
	}
	if _, err := b.Store.CreateOptimistic(context.Background(), domain.Draft{Type: domain.TypeText}); !errors.Is(err, board.ErrMutationRejected) {
		t.Fatalf("CreateOptimistic err = %v", err)
	}
	if st, _ := b.RealtimeStatus(); st != realtime.Unbound {
		t.Fatalf("status without transport = %v", st)
	}
}

func TestLiveElementEvents(t *testing.T) {
	hub := realtime.NewHub()
	defer hub.Close()
	b := openBoard(t, domain.Project{ID: "p", OwnerID: "alice"}, hub, Deps{})
	if st, err := b.RealtimeStatus(); st != realtime.Live {
		t.Fatalf("status = %v (%v), want live", st, err)
	}
	publish(t, hub, realtime.ElementsChannel("p"), "elements", "e2", domain.Created,
		domain.Element{ID: "e2", ProjectID: "p", Type: domain.TypeText, Content: "hi"})
	waitFor(t, "remote create", func() bool { _, ok := b.Store.Get("e2"); return ok })

	publish(t, hub, realtime.ElementsChannel("p"), "elements", "e1", domain.Deleted,
		domain.Element{ID: "e1", ProjectID: "p", Type: domain.TypeCard})
	waitFor(t, "remote delete", func() bool { _, ok := b.Store.Get("e1"); return !ok })
}

func TestCollaboratorRemovedBecomesReadOnly(t *testing.T) {
	hub := realtime.NewHub()
	defer hub.Close()
	changes := make(chan bool, 1)
	p := domain.Project{ID: "p", OwnerID: "bob", CollabIDs: []string{"alice"}, IsPublic: true}
	b := openBoard(t, p, hub, Deps{OnReadOnly: func(ro bool) { changes <- ro }})
	if b.ReadOnly() {
		t.Fatalf("collaborator opened read-only")
	}
	p.CollabIDs = nil
	publish(t, hub, realtime.ChannelProjects, "projects", "p", domain.Updated, p)
	select {
	case ro := <-changes:
		if !ro {
			t.Fatalf("OnReadOnly(false)")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no read-only transition")
	}
	if b.Gate.CanMutate() {
		t.Fatalf("gate still allows mutation")
	}
	select {
	case <-b.Revoked():
		t.Fatalf("public project revoked")
	default:
	}
}

func TestAccessRemovedRevokes(t *testing.T) {
	hub := realtime.NewHub()
	defer hub.Close()
	revoked := make(chan string, 1)
	p := domain.Project{ID: "p", OwnerID: "bob", CollabIDs: []string{"alice"}}
	b := openBoard(t, p, hub, Deps{OnRevoked: func(id string) { revoked <- id }})

	// Other projects are ignored.
	publish(t, hub, realtime.ChannelProjects, "projects", "q", domain.Deleted, domain.Project{ID: "q", OwnerID: "bob"})
	p.CollabIDs = []string{"carol"}
	publish(t, hub, realtime.ChannelProjects, "projects", "p", domain.Updated, p)
	select {
	case id := <-revoked:
		if id != "p" {
			t.Fatalf("revoked %q", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("not revoked")
	}
	<-b.Revoked()
	if !b.ReadOnly() {
		t.Fatalf("revoked board still writable")
	}
}

func TestProjectDeletedRevokes(t *testing.T) {
	hub := realtime.NewHub()
	defer hub.Close()
	p := domain.Project{ID: "p", OwnerID: "alice"}
	b := openBoard(t, p, hub, Deps{})
	publish(t, hub, realtime.ChannelProjects, "projects", "p", domain.Deleted, p)
	select {
	case <-b.Revoked():
	case <-time.After(2 * time.Second):
		t.Fatalf("not revoked")
	}
}

func TestCloseUnsubscribes(t *testing.T) {
	hub := realtime.NewHub()
	defer hub.Close()
	b := openBoard(t, domain.Project{ID: "p", OwnerID: "alice"}, hub, Deps{})
	if n := hub.Subscribers(realtime.ElementsChannel("p")); n != 1 {
		t.Fatalf("subscribers = %d, want 1", n)
	}
	b.Close()
	b.Close()
	if n := hub.Subscribers(realtime.ElementsChannel("p")); n != 0 {
		t.Fatalf("subscribers after close = %d", n)
	}
	if st, _ := b.RealtimeStatus(); st != realtime.Unbound {
		t.Fatalf("status after close = %v", st)
	}
}

func TestDegradedWhenSubscribeFails(t *testing.T) {
	hub := realtime.NewHub()
	hub.Close()
	statuses := make(chan realtime.Status, 8)
	b := openBoard(t, domain.Project{ID: "p", OwnerID: "alice"}, hub, Deps{OnRealtime: func(s realtime.Status, _ error) { statuses <- s }})
	st, err := b.RealtimeStatus()
	if st != realtime.Degraded || !errors.Is(err, board.ErrSubscription) {
		t.Fatalf("status = %v, %v", st, err)
	}
	// The board still works from its snapshot.
	if _, ok := b.Store.Get("e1"); !ok {
		t.Fatalf("snapshot lost")
	}
}

func TestUndoRedoEdit(t *testing.T) {
	p := domain.Project{ID: "p", Name: "P", OwnerID: "alice"}
	api := boardtest.NewPersistence(domain.Element{ID: "e1", ProjectID: "p", Type: domain.TypeCard, Title: "old", ZIndex: 1})
	b := openBoard(t, p, nil, Deps{Elements: api})
	ctx := context.Background()

	if ok, err := b.Undo(ctx); ok || err != nil {
		t.Fatalf("empty history: Undo = %v, %v", ok, err)
	}
	title := "new"
	if !b.Interact.BeginEdit("e1") {
		t.Fatalf("BeginEdit refused")
	}
	if _, err := b.Interact.CommitEdit(ctx, "e1", board.ContentEdit{Title: &title}); err != nil {
		t.Fatal(err)
	}
	if ok, err := b.Undo(ctx); !ok || err != nil {
		t.Fatalf("Undo = %v, %v", ok, err)
	}
	if e, _ := b.Store.Get("e1"); e.Title != "old" {
		t.Fatalf("after undo title = %q", e.Title)
	}
	if row, _ := api.Row("e1"); row.Title != "old" {
		t.Fatalf("undo not persisted: %q", row.Title)
	}
	if ok, _ := b.Redo(ctx); !ok {
		t.Fatalf("Redo reported nothing to redo")
	}
	if e, _ := b.Store.Get("e1"); e.Title != "new" {
		t.Fatalf("after redo title = %q", e.Title)
	}

	b.Store.Remove("e1")
	if ok, err := b.Undo(ctx); ok || err != nil {
		t.Fatalf("undo of removed element = %v, %v", ok, err)
	}
}

func TestUndoReadOnly(t *testing.T) {
	p := domain.Project{ID: "p", OwnerID: "bob", IsPublic: true}
	b := openBoard(t, p, nil, Deps{})
	if _, err := b.Undo(context.Background()); !errors.Is(err, board.ErrMutationRejected) {
		t.Fatalf("read-only Undo err = %v", err)
	}
}
