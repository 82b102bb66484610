/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"taski/internal/domain"
	applog "taski/internal/log"
)

// NotifyChannel is the Postgres channel the change triggers notify on.
const NotifyChannel = "taski_changes"

// change is the trigger payload. It names the row; the row itself is read
// back from the repository.
type change struct {
	Table     string `json:"table"`
	Op        string `json:"op"`
	ID        string `json:"id"`
	ProjectID string `json:"projectId,omitempty"`
	Type      string `json:"type,omitempty"`
	OwnerID   string `json:"ownerId,omitempty"`
}

func (c change) kind() (domain.EventKind, bool) {
	switch c.Op {
	case "insert":
		return domain.Created, true
	case "update":
		return domain.Updated, true
	case "delete":
		return domain.Deleted, true
	}
	return 0, false
}

// PGListener turns database change notifications into realtime events, so
// writes from any server instance (or straight SQL) reach every subscriber.
type PGListener struct {
	Repo   *PGRepository
	Events Events
	// Backoff between reconnect attempts; one second when zero.
	Backoff time.Duration

	log *slog.Logger
}

func NewPGListener(repo *PGRepository, events Events) *PGListener {
	return &PGListener{Repo: repo, Events: events, Backoff: time.Second, log: applog.WithComponent("backend.listen")}
}

// Run listens until ctx ends, reconnecting after connection errors.
func (l *PGListener) Run(ctx context.Context) error {
	backoff := l.Backoff
	if backoff <= 0 {
		backoff = time.Second
	}
	for {
		err := l.listen(ctx)
		if ctx.Err() != nil {
			return nil
		}
		l.log.Warn("listener disconnected, retrying", slog.Any("err", err), slog.Duration("backoff", backoff))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
	}
}

func (l *PGListener) listen(ctx context.Context) error {
	conn, err := l.Repo.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire: %w", err)
	}
	defer conn.Release()
	if _, err := conn.Exec(ctx, "LISTEN "+NotifyChannel); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	l.log.Info("listening for changes", slog.String("channel", NotifyChannel))
	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		if err := l.Dispatch(ctx, []byte(n.Payload)); err != nil {
			l.log.Warn("dropping change notification", slog.String("payload", n.Payload), slog.Any("err", err))
		}
	}
}

// Dispatch decodes one notification payload and emits the matching event.
// Created and updated rows are read back; a row that is already gone again
// is skipped because its delete notification follows.
func (l *PGListener) Dispatch(ctx context.Context, payload []byte) error {
	var c change
	if err := json.Unmarshal(payload, &c); err != nil {
		return err
	}
	kind, ok := c.kind()
	if !ok {
		return fmt.Errorf("unknown op %q", c.Op)
	}
	switch c.Table {
	case "projects":
		if kind == domain.Deleted {
			l.Events.ProjectChanged(kind, domain.Project{ID: c.ID, OwnerID: c.OwnerID, CollabIDs: []string{}})
			return nil
		}
		p, err := l.Repo.GetProject(ctx, c.ID)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		l.Events.ProjectChanged(kind, p)
	case "elements":
		if kind == domain.Deleted {
			l.Events.ElementChanged(kind, domain.Element{ID: c.ID, ProjectID: c.ProjectID, Type: domain.ElementType(c.Type)})
			return nil
		}
		e, err := l.Repo.GetElement(ctx, c.ID)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		l.Events.ElementChanged(kind, e)
	default:
		return fmt.Errorf("unknown table %q", c.Table)
	}
	return nil
}
