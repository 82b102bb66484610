/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package schema

import (
	"encoding/json"
	"errors"
	"testing"

	"taski/internal/domain"
)

func TestElementPayloads(t *testing.T) {
	good, _ := json.Marshal(domain.Element{ID: "e1", ProjectID: "p1", Type: domain.TypeCard, X: 1.5, ZIndex: 2, Title: "t"})
	if err := Validate(Element, good); err != nil {
		t.Fatalf("valid element rejected: %v", err)
	}
	bad := []string{
		`{"projectId":"p1","type":"card"}`,
		`{"id":"e1","projectId":"p1","type":"sticker"}`,
		`{"id":"e1","projectId":"p1","type":"text","zIndex":1.5}`,
		`[1,2]`,
	}
	for _, doc := range bad {
		if err := Validate(Element, []byte(doc)); !errors.Is(err, ErrInvalid) {
			t.Fatalf("Validate(%s) = %v, want ErrInvalid", doc, err)
		}
	}
}

func TestProjectPayloads(t *testing.T) {
	good, _ := json.Marshal(domain.Project{ID: "p", OwnerID: "u", CollabIDs: []string{"a", "b"}})
	if err := Validate(Project, good); err != nil {
		t.Fatalf("valid project rejected: %v", err)
	}
	if err := Validate(Project, []byte(`{"id":"p","ownerId":"u","collabIds":["a","a"]}`)); err == nil {
		t.Fatalf("duplicate collaborators accepted")
	}
}

func TestSnapshotResolvesRefs(t *testing.T) {
	doc := `{"version":1,"project":{"id":"p","ownerId":"u"},"elements":[{"id":"e","projectId":"p","type":"text"}]}`
	if err := Validate(Snapshot, []byte(doc)); err != nil {
		t.Fatalf("snapshot rejected: %v", err)
	}
	doc = `{"version":1,"project":{"id":"p","ownerId":"u"},"elements":[{"id":"e","type":"text"}]}`
	if err := Validate(Snapshot, []byte(doc)); !errors.Is(err, ErrInvalid) {
		t.Fatalf("nested element without projectId accepted: %v", err)
	}
}

func TestUnknownKind(t *testing.T) {
	if err := Validate(Kind("nope"), []byte(`{}`)); err == nil {
		t.Fatalf("unknown kind accepted")
	}
}
