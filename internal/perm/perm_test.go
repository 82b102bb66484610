/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package perm

import (
	"reflect"
	"sync"
	"testing"

	"taski/internal/domain"
)

func TestCanMutateAndView(t *testing.T) {
	p := domain.Project{ID: "p", OwnerID: "owner", CollabIDs: []string{"c1"}}
	cases := []struct {
		user            string
		public          bool
		mutate, canView bool
	}{
		{"owner", false, true, true},
		{"c1", false, true, true},
		{"stranger", false, false, false},
		{"stranger", true, false, true},
		{"", true, false, true},
		{"", false, false, false},
	}
	for _, c := range cases {
		pp := p
		pp.IsPublic = c.public
		if got := CanMutate(pp, c.user); got != c.mutate {
			t.Fatalf("CanMutate(%q, public=%v) = %v, want %v", c.user, c.public, got, c.mutate)
		}
		if got := CanView(pp, c.user); got != c.canView {
			t.Fatalf("CanView(%q, public=%v) = %v, want %v", c.user, c.public, got, c.canView)
		}
	}
	if IsOwner(p, "c1") || !IsOwner(p, "owner") {
		t.Fatalf("IsOwner mismatch")
	}
}

func TestGateUpdateReflectsRevocation(t *testing.T) {
	g := NewGate("c1", domain.Project{ID: "p", OwnerID: "o", CollabIDs: []string{"c1"}})
	if !g.CanMutate() {
		t.Fatalf("collaborator should mutate")
	}
	view, mutate := g.Update(domain.Project{ID: "p", OwnerID: "o", IsPublic: true})
	if !view || mutate {
		t.Fatalf("after removal on public project: view=%v mutate=%v", view, mutate)
	}
	if g.CanMutate() {
		t.Fatalf("gate still allows mutation")
	}
	view, _ = g.Update(domain.Project{ID: "p", OwnerID: "o"})
	if view || g.CanView() {
		t.Fatalf("private project without membership must not be viewable")
	}
}

func TestGateConcurrentAccess(t *testing.T) {
	g := NewGate("u", domain.Project{ID: "p", OwnerID: "u"})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				g.Update(domain.Project{ID: "p", OwnerID: "u", CollabIDs: []string{"x"}})
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				_ = g.CanMutate()
				_ = g.Project()
			}
		}()
	}
	wg.Wait()
}

func TestDisplayCollaborators(t *testing.T) {
	p := domain.Project{OwnerID: "o", CollabIDs: []string{"a", "b", "me", "c"}}
	got := DisplayCollaborators(p, "me", 2)
	want := Collaborators{Visible: []string{"a", "o"}, Remaining: 2}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("DisplayCollaborators = %+v, want %+v", got, want)
	}
	got = DisplayCollaborators(p, "o", 10)
	if !reflect.DeepEqual(got.Visible, []string{"a", "b", "me", "c"}) || got.Remaining != 0 {
		t.Fatalf("owner viewer = %+v", got)
	}
}
