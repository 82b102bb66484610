/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package boardtest provides in-memory collaborators for testing code built on
// the board store.
package boardtest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"taski/internal/domain"
)

// Persistence is an in-memory element service that records calls. Set the
// *Err fields to make the corresponding call fail.
type Persistence struct {
	FetchErr  error
	CreateErr error
	UpdateErr error
	DeleteErr error

	mu      sync.Mutex
	rows    map[string]domain.Element
	creates int
	updates []domain.Patch
	deletes []string
}

func NewPersistence(els ...domain.Element) *Persistence {
	p := &Persistence{rows: map[string]domain.Element{}}
	for _, e := range els {
		p.rows[e.ID] = e
	}
	return p
}

func (p *Persistence) FetchElements(_ context.Context, projectID string) ([]domain.Element, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FetchErr != nil {
		return nil, p.FetchErr
	}
	var out []domain.Element
	for _, e := range p.rows {
		if e.ProjectID == projectID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (p *Persistence) CreateElement(_ context.Context, e domain.Element) (domain.Element, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.creates++
	if p.CreateErr != nil {
		return domain.Element{}, p.CreateErr
	}
	if e.Local != (domain.LocalFlags{}) {
		return domain.Element{}, errors.New("boardtest: local flags sent to server")
	}
	p.rows[e.ID] = e
	return e, nil
}

func (p *Persistence) UpdateElement(_ context.Context, id string, patch domain.Patch) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, patch)
	if p.UpdateErr != nil {
		return p.UpdateErr
	}
	e, ok := p.rows[id]
	if !ok {
		return fmt.Errorf("boardtest: no row %s", id)
	}
	p.rows[id] = patch.ApplyTo(e)
	return nil
}

func (p *Persistence) DeleteElement(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deletes = append(p.deletes, id)
	if p.DeleteErr != nil {
		return p.DeleteErr
	}
	delete(p.rows, id)
	return nil
}

// Calls returns the number of create, update and delete calls so far.
func (p *Persistence) Calls() (creates, updates, deletes int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.creates, len(p.updates), len(p.deletes)
}

// Updates returns the patches received, in order.
func (p *Persistence) Updates() []domain.Patch {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.Patch(nil), p.updates...)
}

// Deletes returns the deleted ids, in order.
func (p *Persistence) Deletes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.deletes...)
}

// Row returns the stored element.
func (p *Persistence) Row(id string) (domain.Element, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.rows[id]
	return e, ok
}

// Files is an in-memory FileRemover.
type Files struct {
	Err error

	mu      sync.Mutex
	deleted []string
}

func (f *Files) DeleteFile(_ context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, ref)
	return f.Err
}

// Deleted returns the refs passed to DeleteFile.
func (f *Files) Deleted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

// Deny is a permission checker that refuses every mutation.
type Deny struct{}

func (Deny) CanMutate() bool { return false }

// SyncExec runs persistence work inline.
func SyncExec(f func()) { f() }
