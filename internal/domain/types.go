/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package domain defines the Taski data model shared by the client stores,
// the realtime layer and the persistence backend.
package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Project is a shared canvas. Exactly one owner; CollabIDs never contains OwnerID.
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	OwnerID   string    `json:"ownerId"`
	IsPublic  bool      `json:"isPublic"`
	CollabIDs []string  `json:"collabIds"`
	CreatedAt time.Time `json:"createdAt,omitzero"`
}

var (
	ErrMissingID     = errors.New("domain: missing id")
	ErrMissingOwner  = errors.New("domain: missing owner")
	ErrOwnerIsCollab = errors.New("domain: owner listed as collaborator")
	ErrUnknownType   = errors.New("domain: unknown element type")
)

// Normalize trims the name, drops the owner and duplicates from CollabIDs and sorts them.
func (p *Project) Normalize() {
	p.Name = strings.TrimSpace(p.Name)
	seen := make(map[string]struct{}, len(p.CollabIDs))
	out := p.CollabIDs[:0:0]
	for _, id := range p.CollabIDs {
		id = strings.TrimSpace(id)
		if id == "" || id == p.OwnerID {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	p.CollabIDs = out
}

// Validate checks the project invariants.
func (p Project) Validate() error {
	if p.ID == "" {
		return ErrMissingID
	}
	if p.OwnerID == "" {
		return ErrMissingOwner
	}
	if p.HasCollaborator(p.OwnerID) {
		return ErrOwnerIsCollab
	}
	return nil
}

// HasCollaborator reports whether userID is listed in CollabIDs.
func (p Project) HasCollaborator(userID string) bool {
	for _, id := range p.CollabIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (p Project) Clone() Project {
	p.CollabIDs = append([]string(nil), p.CollabIDs...)
	return p
}

// ElementType is the kind of canvas object.
type ElementType string

const (
	TypeCard  ElementType = "card"
	TypeText  ElementType = "text"
	TypeImage ElementType = "image"
)

// ParseElementType accepts the tool palette strings.
func ParseElementType(s string) (ElementType, error) {
	switch t := ElementType(strings.ToLower(strings.TrimSpace(s))); t {
	case TypeCard, TypeText, TypeImage:
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownType, s)
}

// Element is a positioned canvas object. X/Y are world coordinates.
type Element struct {
	ID        string      `json:"id"`
	ProjectID string      `json:"projectId"`
	Type      ElementType `json:"type"`
	X         float64     `json:"x"`
	Y         float64     `json:"y"`
	ZIndex    int64       `json:"zIndex"`
	Title     string      `json:"title,omitempty"`
	Content   string      `json:"content,omitempty"`
	ImageRef  string      `json:"imageId,omitempty"`
	CreatedAt time.Time   `json:"createdAt,omitzero"`

	// Local is client-only state; it is never serialized.
	Local LocalFlags `json:"-"`
}

// LocalFlags are transient markers held only in the client cache.
type LocalFlags struct {
	Optimistic bool // created locally, persist not yet acknowledged
	Editing    bool
	Dragging   bool
}

// Validate checks the fields every persisted element must carry.
func (e Element) Validate() error {
	if e.ID == "" || e.ProjectID == "" {
		return ErrMissingID
	}
	if _, err := ParseElementType(string(e.Type)); err != nil {
		return err
	}
	return nil
}

// IsEmpty reports whether the element has no user content left. Images are never empty.
func (e Element) IsEmpty() bool {
	switch e.Type {
	case TypeText:
		return strings.TrimSpace(e.Content) == ""
	case TypeCard:
		return strings.TrimSpace(e.Title) == "" && strings.TrimSpace(e.Content) == ""
	}
	return false
}

// Draft is the input to an optimistic create. ID is assigned by the store.
type Draft struct {
	Type     ElementType
	X, Y     float64
	ZIndex   int64
	Title    string
	Content  string
	ImageRef string
}

// Patch is a partial update; nil fields are left untouched.
type Patch struct {
	X        *float64 `json:"x,omitempty"`
	Y        *float64 `json:"y,omitempty"`
	ZIndex   *int64   `json:"zIndex,omitempty"`
	Title    *string  `json:"title,omitempty"`
	Content  *string  `json:"content,omitempty"`
	ImageRef *string  `json:"imageId,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.X == nil && p.Y == nil && p.ZIndex == nil && p.Title == nil && p.Content == nil && p.ImageRef == nil
}

// ApplyTo returns e with the patch applied.
func (p Patch) ApplyTo(e Element) Element {
	if p.X != nil {
		e.X = *p.X
	}
	if p.Y != nil {
		e.Y = *p.Y
	}
	if p.ZIndex != nil {
		e.ZIndex = *p.ZIndex
	}
	if p.Title != nil {
		e.Title = *p.Title
	}
	if p.Content != nil {
		e.Content = *p.Content
	}
	if p.ImageRef != nil {
		e.ImageRef = *p.ImageRef
	}
	return e
}

// PlacementPatch builds the patch persisted when a drag ends.
func PlacementPatch(e Element) Patch {
	x, y, z := e.X, e.Y, e.ZIndex
	return Patch{X: &x, Y: &y, ZIndex: &z}
}

// ProjectPatch is a partial project settings update.
type ProjectPatch struct {
	Name      *string   `json:"name,omitempty"`
	IsPublic  *bool     `json:"isPublic,omitempty"`
	CollabIDs *[]string `json:"collabIds,omitempty"`
}

// ApplyTo returns p with the patch applied and normalized.
func (pp ProjectPatch) ApplyTo(p Project) Project {
	p = p.Clone()
	if pp.Name != nil {
		p.Name = *pp.Name
	}
	if pp.IsPublic != nil {
		p.IsPublic = *pp.IsPublic
	}
	if pp.CollabIDs != nil {
		p.CollabIDs = append([]string(nil), (*pp.CollabIDs)...)
	}
	p.Normalize()
	return p
}

// EventKind is the closed set of reconciliation events.
type EventKind int

const (
	Created EventKind = iota + 1
	Updated
	Deleted
)

func (k EventKind) String() string {
	switch k {
	case Created:
		return "create"
	case Updated:
		return "update"
	case Deleted:
		return "delete"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// ParseEventKind maps a wire verb to an EventKind.
func ParseEventKind(s string) (EventKind, bool) {
	switch s {
	case "create":
		return Created, true
	case "update":
		return Updated, true
	case "delete":
		return Deleted, true
	}
	return 0, false
}
