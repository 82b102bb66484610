/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package board

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"taski/internal/board/boardtest"
	"taski/internal/domain"
	"taski/internal/geom"
)

func el(id string, z int64) domain.Element {
	return domain.Element{ID: id, ProjectID: "p1", Type: domain.TypeCard, Title: "t" + id, ZIndex: z}
}

func newTestStore(t *testing.T, api *boardtest.Persistence, opts ...Option) *Store {
	t.Helper()
	opts = append([]Option{WithExecutor(boardtest.SyncExec), WithIDGenerator(seqIDs("e"))}, opts...)
	s := New("p1", api, opts...)
	t.Cleanup(s.Close)
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return s
}

func seqIDs(prefix string) func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s%d", prefix, n)
	}
}

func ids(snap Snapshot) []string {
	out := make([]string, len(snap))
	for i, e := range snap {
		out[i] = e.ID
	}
	return out
}

func TestLoadFiltersForeignProjectAndOrdersByZ(t *testing.T) {
	foreign := el("x", 0)
	foreign.ProjectID = "p2"
	s := newTestStore(t, boardtest.NewPersistence(el("a", 5), el("b", 1), foreign))
	if got := ids(s.Elements()); !reflect.DeepEqual(got, []string{"b", "a"}) {
		t.Fatalf("Elements = %v, want [b a]", got)
	}
}

func TestLoadFailureIsFetchError(t *testing.T) {
	api := boardtest.NewPersistence()
	api.FetchErr = errors.New("401")
	s := New("p1", api)
	defer s.Close()
	err := s.Load(context.Background())
	if !errors.Is(err, ErrFetch) {
		t.Fatalf("Load err = %v, want ErrFetch", err)
	}
	if s.Len() != 0 {
		t.Fatalf("store should stay empty")
	}
}

func TestLoadKeepsLocalFlagsAndPendingOptimistic(t *testing.T) {
	api := boardtest.NewPersistence(el("a", 1))
	s := newTestStore(t, api)
	if err := s.SetEditing("a", true); err != nil {
		t.Fatal(err)
	}
	// A pending create the server has not stored yet.
	s.mu.Lock()
	s.insertLocked(domain.Element{ID: "pending", ProjectID: "p1", Type: domain.TypeText, Content: "x", Local: domain.LocalFlags{Optimistic: true}})
	s.mu.Unlock()

	if err := s.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	a, _ := s.Get("a")
	if !a.Local.Editing {
		t.Fatalf("editing flag lost on reload")
	}
	if _, ok := s.Get("pending"); !ok {
		t.Fatalf("pending optimistic element dropped on reload")
	}
}

func TestCreateOptimisticThenEchoKeepsSingleEntry(t *testing.T) {
	api := boardtest.NewPersistence()
	s := newTestStore(t, api)
	e, err := s.CreateOptimistic(context.Background(), domain.Draft{Type: domain.TypeText, X: 10, Y: 10, Content: "hi"})
	if err != nil {
		t.Fatalf("CreateOptimistic: %v", err)
	}
	if e.ID != "e1" {
		t.Fatalf("id = %q, want client generated e1", e.ID)
	}
	echo := e
	echo.Local = domain.LocalFlags{}
	s.ApplyRemoteEvent(domain.Created, echo)
	s.ApplyRemoteEvent(domain.Created, echo)
	if got := ids(s.Elements()); !reflect.DeepEqual(got, []string{"e1"}) {
		t.Fatalf("Elements = %v, want exactly [e1]", got)
	}
	got, _ := s.Get("e1")
	if got.Local.Optimistic {
		t.Fatalf("optimistic flag should be cleared after persist")
	}
	if c, _, _ := api.Calls(); c != 1 {
		t.Fatalf("creates = %d, want 1", c)
	}
}

func TestCreateOptimisticRollbackEmitsOnce(t *testing.T) {
	api := boardtest.NewPersistence()
	api.CreateErr = errors.New("network down")
	var failures []*CreationFailedError
	s := newTestStore(t, api, OnCreationFailed(func(e *CreationFailedError) { failures = append(failures, e) }))

	var seen []int
	cancel := s.Subscribe(func(snap Snapshot) { seen = append(seen, len(snap)) })
	defer cancel()

	e, err := s.CreateOptimistic(context.Background(), domain.Draft{Type: domain.TypeText, X: 10, Y: 10})
	if err != nil {
		t.Fatalf("CreateOptimistic: %v", err)
	}
	if _, ok := s.Get(e.ID); ok {
		t.Fatalf("element should have been rolled back")
	}
	if len(failures) != 1 {
		t.Fatalf("CreationFailed emitted %d times, want 1", len(failures))
	}
	if !errors.Is(failures[0], ErrCreationFailed) || failures[0].ID != e.ID {
		t.Fatalf("unexpected failure: %v", failures[0])
	}
	if !reflect.DeepEqual(seen, []int{1, 0}) {
		t.Fatalf("snapshots = %v, want inserted then removed", seen)
	}
}

func TestCreateMergesServerDefaults(t *testing.T) {
	api := &defaultingAPI{Persistence: boardtest.NewPersistence()}
	s := newTestStore(t, api.Persistence)
	s.api = api
	e, err := s.CreateOptimistic(context.Background(), domain.Draft{Type: domain.TypeCard, Title: "mine"})
	if err != nil {
		t.Fatal(err)
	}
	got, _ := s.Get(e.ID)
	if got.Title != "mine" || got.Content != "server default" {
		t.Fatalf("merge = %+v", got)
	}
}

type defaultingAPI struct{ *boardtest.Persistence }

func (d *defaultingAPI) CreateElement(ctx context.Context, e domain.Element) (domain.Element, error) {
	saved, err := d.Persistence.CreateElement(ctx, e)
	saved.Title = "server title"
	saved.Content = "server default"
	return saved, err
}

func TestRemoteUpdateUnknownIDInserts(t *testing.T) {
	s := newTestStore(t, boardtest.NewPersistence())
	s.ApplyRemoteEvent(domain.Updated, domain.Element{ID: "9", ProjectID: "p1", Type: domain.TypeText, X: 5, Y: 5, Content: "c"})
	got, ok := s.Get("9")
	if !ok || got.X != 5 || got.Y != 5 {
		t.Fatalf("update fallback = %+v, %v", got, ok)
	}
}

func TestRemoteEventsAreIdempotent(t *testing.T) {
	s := newTestStore(t, boardtest.NewPersistence(el("a", 1), el("b", 2)))
	upd := el("a", 7)
	upd.Title = "changed"
	s.ApplyRemoteEvent(domain.Updated, upd)
	once := s.Elements()
	s.ApplyRemoteEvent(domain.Updated, upd)
	if !reflect.DeepEqual(once, s.Elements()) {
		t.Fatalf("second update changed state")
	}
	s.ApplyRemoteEvent(domain.Deleted, el("b", 0))
	once = s.Elements()
	s.ApplyRemoteEvent(domain.Deleted, el("b", 0))
	if !reflect.DeepEqual(once, s.Elements()) || len(once) != 1 {
		t.Fatalf("second delete changed state: %v", ids(s.Elements()))
	}
}

func TestRemoteEventForOtherProjectDiscarded(t *testing.T) {
	s := newTestStore(t, boardtest.NewPersistence(el("a", 1)))
	other := el("a", 9)
	other.ProjectID = "p2"
	s.ApplyRemoteEvent(domain.Deleted, other)
	s.ApplyRemoteEvent(domain.Created, domain.Element{ID: "z", ProjectID: "p2"})
	if got := ids(s.Elements()); !reflect.DeepEqual(got, []string{"a"}) {
		t.Fatalf("Elements = %v", got)
	}
}

func TestRemoteUpdateWhileDraggingKeepsLocalPlacement(t *testing.T) {
	s := newTestStore(t, boardtest.NewPersistence(el("a", 1)))
	if err := s.BeginDrag("a"); err != nil {
		t.Fatal(err)
	}
	if err := s.MoveLocal("a", geom.Pt{X: 100, Y: 200}); err != nil {
		t.Fatal(err)
	}
	remote := el("a", 1)
	remote.Title = "renamed"
	s.ApplyRemoteEvent(domain.Updated, remote)
	got, _ := s.Get("a")
	if got.X != 100 || got.Y != 200 || got.Title != "renamed" || !got.Local.Dragging {
		t.Fatalf("got %+v", got)
	}
}

func TestMoveToFront(t *testing.T) {
	s := newTestStore(t, boardtest.NewPersistence(el("1", 1), el("2", 3)))
	z, changed, err := s.MoveToFront("1")
	if err != nil || !changed || z != 4 {
		t.Fatalf("MoveToFront = %d,%v,%v want 4,true", z, changed, err)
	}
	two, _ := s.Get("2")
	if two.ZIndex != 3 {
		t.Fatalf("element 2 zIndex changed to %d", two.ZIndex)
	}
	before := s.Elements()
	if _, changed, _ := s.MoveToFront("1"); changed {
		t.Fatalf("topmost element should not move")
	}
	if !reflect.DeepEqual(before, s.Elements()) {
		t.Fatalf("no-op MoveToFront changed state")
	}
	if _, _, err := s.MoveToFront("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing = %v", err)
	}
}

func TestMoveToFrontNegativeZ(t *testing.T) {
	s := newTestStore(t, boardtest.NewPersistence(el("a", -3), el("b", -5)))
	if got := s.MaxZ(); got != -3 {
		t.Fatalf("MaxZ = %d, want -3", got)
	}
	if z, changed, err := s.MoveToFront("a"); err != nil || changed || z != -3 {
		t.Fatalf("MoveToFront(top) = %d,%v,%v want -3,false", z, changed, err)
	}
	if a, _ := s.Get("a"); a.ZIndex != -3 {
		t.Fatalf("a zIndex = %d, want -3", a.ZIndex)
	}
	if z, changed, err := s.MoveToFront("b"); err != nil || !changed || z != -2 {
		t.Fatalf("MoveToFront(b) = %d,%v,%v want -2,true", z, changed, err)
	}
	if got := newTestStore(t, boardtest.NewPersistence()).MaxZ(); got != 0 {
		t.Fatalf("empty MaxZ = %d, want 0", got)
	}
}

func TestCommitPlacementPersistsOnce(t *testing.T) {
	api := boardtest.NewPersistence(el("a", 1), el("b", 2))
	s := newTestStore(t, api)
	_ = s.BeginDrag("a")
	_, _, _ = s.MoveToFront("a")
	for i := 0; i < 50; i++ {
		_ = s.MoveLocal("a", geom.Pt{X: float64(i), Y: float64(i * 2)})
	}
	if _, u, _ := api.Calls(); u != 0 {
		t.Fatalf("drag moves persisted %d times", u)
	}
	if err := s.CommitPlacement(context.Background(), "a"); err != nil {
		t.Fatal(err)
	}
	if len(api.Updates()) != 1 {
		t.Fatalf("updates = %d, want 1", len(api.Updates()))
	}
	p := api.Updates()[0]
	if *p.X != 49 || *p.Y != 98 || *p.ZIndex != 3 {
		t.Fatalf("patch = x%v y%v z%v", *p.X, *p.Y, *p.ZIndex)
	}
	if got, _ := s.Get("a"); got.Local.Dragging {
		t.Fatalf("still dragging after commit")
	}
}

func TestPermissionDenialIsSilentAndLocal(t *testing.T) {
	api := boardtest.NewPersistence(el("a", 1), el("b", 3))
	s := newTestStore(t, api, WithGate(boardtest.Deny{}))
	before := s.Elements()
	title := "x"
	checks := []error{
		s.CommitPlacement(context.Background(), "a"),
		s.Delete(context.Background(), "a"),
		s.BeginDrag("a"),
		s.MoveLocal("a", geom.Pt{X: 9}),
	}
	_, err := s.SaveContent(context.Background(), "a", ContentEdit{Title: &title})
	checks = append(checks, err)
	_, _, err = s.MoveToFront("a")
	checks = append(checks, err)
	_, err = s.CreateOptimistic(context.Background(), domain.Draft{Type: domain.TypeCard})
	checks = append(checks, err)
	for i, err := range checks {
		if !errors.Is(err, ErrMutationRejected) {
			t.Fatalf("check %d: err = %v, want ErrMutationRejected", i, err)
		}
	}
	if c, u, d := api.Calls(); c+u+d != 0 {
		t.Fatalf("persistence called: creates=%d updates=%d deletes=%d", c, u, d)
	}
	if !reflect.DeepEqual(before, s.Elements()) {
		t.Fatalf("local state changed under denial")
	}
}

func TestDeleteRemovesAfterConfirmAndImageFileFirst(t *testing.T) {
	img := domain.Element{ID: "i", ProjectID: "p1", Type: domain.TypeImage, ImageRef: "f1"}
	api := boardtest.NewPersistence(img)
	files := &boardtest.Files{Err: errors.New("gone")}
	s := newTestStore(t, api, WithFiles(files))
	if err := s.Delete(context.Background(), "i"); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(files.Deleted(), []string{"f1"}) {
		t.Fatalf("files deleted = %v", files.Deleted())
	}
	if _, ok := s.Get("i"); ok {
		t.Fatalf("element should be removed after confirmed delete")
	}
	if len(api.Deletes()) != 1 {
		t.Fatalf("row delete not issued despite file failure")
	}
}

func TestDeleteFailureKeepsElement(t *testing.T) {
	api := boardtest.NewPersistence(el("a", 1))
	api.DeleteErr = errors.New("boom")
	s := newTestStore(t, api)
	if err := s.Delete(context.Background(), "a"); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.Get("a"); !ok {
		t.Fatalf("element removed although delete failed")
	}
}

func TestAsyncExecutorAndWait(t *testing.T) {
	api := boardtest.NewPersistence()
	s := New("p1", api)
	defer s.Close()
	if err := s.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 20; i++ {
		if _, err := s.CreateOptimistic(context.Background(), domain.Draft{Type: domain.TypeText, Content: "x"}); err != nil {
			t.Fatal(err)
		}
	}
	s.Wait()
	if c, _, _ := api.Calls(); c != 20 {
		t.Fatalf("creates = %d, want 20", c)
	}
	for _, e := range s.Elements() {
		if e.Local.Optimistic {
			t.Fatalf("element %s still optimistic after Wait", e.ID)
		}
	}
}

func TestClosedStoreIgnoresLateCompletions(t *testing.T) {
	api := boardtest.NewPersistence()
	api.CreateErr = errors.New("late failure")
	var pending func()
	fired := 0
	s := New("p1", api,
		WithExecutor(func(f func()) { pending = f }),
		OnCreationFailed(func(*CreationFailedError) { fired++ }))
	if _, err := s.CreateOptimistic(context.Background(), domain.Draft{Type: domain.TypeText, Content: "x"}); err != nil {
		t.Fatal(err)
	}
	s.Close()
	pending()
	if fired != 0 {
		t.Fatalf("callback fired after close")
	}
	s.ApplyRemoteEvent(domain.Created, domain.Element{ID: "n", ProjectID: "p1", Type: domain.TypeText})
	if _, ok := s.Get("n"); ok {
		t.Fatalf("closed store accepted an event")
	}
}
