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
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"taski/internal/backend"
	"taski/internal/config"
	"taski/internal/domain"
	"taski/internal/geom"
	"taski/internal/realtime"
	"taski/internal/storage"
	"taski/internal/viewport"
)

func TestTokenSubject(t *testing.T) {
	tok, _, err := backend.IssueToken("s", "alice", time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if sub, err := TokenSubject(tok); err != nil || sub != "alice" {
		t.Fatalf("TokenSubject = %q, %v; want alice", sub, err)
	}
	if _, err := TokenSubject("garbage"); err == nil {
		t.Fatalf("garbage token accepted")
	}
}

func TestConnectRequiresToken(t *testing.T) {
	if _, _, err := Connect(context.Background(), config.Defaults(), "", "p", Deps{}); !errors.Is(err, ErrNoToken) {
		t.Fatalf("err = %v, want ErrNoToken", err)
	}
}

func TestConnectAgainstServer(t *testing.T) {
	dir := t.TempDir()
	repo, err := storage.OpenSQLite(filepath.Join(dir, "taski.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	hub := realtime.NewHub()
	srv := httptest.NewServer(backend.NewServer(repo, hub, backend.DiskFiles{Dir: filepath.Join(dir, "files")}, "secret").Router())
	t.Cleanup(func() {
		srv.Close()
		hub.Close()
		_ = repo.Close()
	})
	ctx := context.Background()
	if _, err := repo.CreateProject(ctx, domain.Project{ID: "p", Name: "Board", OwnerID: "alice", CollabIDs: []string{"bob"}}); err != nil {
		t.Fatalf("seed project: %v", err)
	}

	cfg := config.Defaults()
	cfg.Backend.BaseURL = srv.URL
	cfg.Backend.Codec = "cbor"
	tok, _, _ := backend.IssueToken("secret", "alice", time.Hour)
	b, client, err := Connect(ctx, cfg, tok, "p", Deps{Frames: viewport.NewManualFrames()})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer b.Close()
	if client == nil || b.ReadOnly() {
		t.Fatalf("expected a writable board with a client")
	}
	waitFor(t, "live", func() bool { s, _ := b.RealtimeStatus(); return s == realtime.Live })

	e, created, err := b.Interact.Drop(ctx, "card", geom.Pt{X: 10, Y: 20})
	if err != nil || !created {
		t.Fatalf("drop = %v, %v", created, err)
	}
	b.Store.Wait()
	saved, err := repo.GetElement(ctx, e.ID)
	if err != nil {
		t.Fatalf("element not persisted: %v", err)
	}
	if saved.Title != "New Card" {
		t.Fatalf("title = %q, want New Card", saved.Title)
	}

	// A collaborator's create arrives over the websocket.
	bobTok, _, _ := backend.IssueToken("secret", "bob", time.Hour)
	bob := backend.NewClient(srv.URL, bobTok)
	if _, err := bob.CreateElement(ctx, domain.Element{ID: "from-bob", ProjectID: "p", Type: domain.TypeText, Content: "hi"}); err != nil {
		t.Fatalf("bob create: %v", err)
	}
	waitFor(t, "remote element", func() bool { _, ok := b.Store.Get("from-bob"); return ok })
}
