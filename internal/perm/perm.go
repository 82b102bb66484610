/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package perm derives mutation and view capabilities from project facts.
//
// Rules:
//   - The owner and every listed collaborator may mutate.
//   - Anyone who may mutate may view; public projects are viewable by everyone.
//   - An empty user id never matches (anonymous viewers can only view public projects).
package perm

import (
	"strings"
	"sync"

	"taski/internal/domain"
)

// CanMutate reports whether userID owns or collaborates on p.
func CanMutate(p domain.Project, userID string) bool {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return false
	}
	return p.OwnerID == userID || p.HasCollaborator(userID)
}

// CanView reports whether userID may open p.
func CanView(p domain.Project, userID string) bool {
	return p.IsPublic || CanMutate(p, userID)
}

// IsOwner reports whether userID owns p. Settings and collaborator management are owner-only.
func IsOwner(p domain.Project, userID string) bool {
	return userID != "" && p.OwnerID == userID
}

// Checker is consulted by stores before every mutation.
type Checker interface {
	CanMutate() bool
}

// Allow is a Checker that always permits.
type Allow struct{}

func (Allow) CanMutate() bool { return true }

// Gate holds the live project facts for one viewer and answers capability
// queries. It is safe for concurrent use; the realtime path swaps the project
// while UI handlers read it.
type Gate struct {
	mu      sync.RWMutex
	userID  string
	project domain.Project
}

func NewGate(userID string, p domain.Project) *Gate {
	return &Gate{userID: userID, project: p.Clone()}
}

// Update replaces the project facts and reports the capabilities after the change.
func (g *Gate) Update(p domain.Project) (canView, canMutate bool) {
	g.mu.Lock()
	g.project = p.Clone()
	g.mu.Unlock()
	return CanView(p, g.userID), CanMutate(p, g.userID)
}

func (g *Gate) CanMutate() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return CanMutate(g.project, g.userID)
}

func (g *Gate) CanView() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return CanView(g.project, g.userID)
}

func (g *Gate) Project() domain.Project {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.project.Clone()
}

func (g *Gate) UserID() string { return g.userID }

// Collaborators is the presence summary shown next to a board title.
type Collaborators struct {
	Visible   []string
	Remaining int
}

// DisplayCollaborators lists everyone on p except the viewer, keeping the first
// limit ids (owner first, then collaborators in order) and moving the owner to
// the end of the visible slice. Remaining counts the ids that did not fit.
func DisplayCollaborators(p domain.Project, viewerID string, limit int) Collaborators {
	var ids []string
	seen := map[string]bool{}
	add := func(id string) {
		if id == "" || id == viewerID || seen[id] {
			return
		}
		seen[id] = true
		ids = append(ids, id)
	}
	add(p.OwnerID)
	for _, id := range p.CollabIDs {
		add(id)
	}
	if limit < 0 {
		limit = 0
	}
	n := min(limit, len(ids))
	visible := make([]string, 0, n)
	ownerShown := false
	for _, id := range ids[:n] {
		if id == p.OwnerID {
			ownerShown = true
			continue
		}
		visible = append(visible, id)
	}
	if ownerShown {
		visible = append(visible, p.OwnerID)
	}
	return Collaborators{Visible: visible, Remaining: len(ids) - n}
}
