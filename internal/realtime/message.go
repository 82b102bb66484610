/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package realtime carries server-pushed change events to clients. It defines
// the wire message, codecs, an in-process hub, a websocket transport and the
// subscription manager that binds a channel to the lifetime of a view.
package realtime

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/oklog/ulid/v2"

	"taski/internal/domain"
	"taski/internal/schema"
)

// Channel names.
const (
	ChannelProjects = "projects"
	ChannelElements = "elements"
)

// ElementsChannel returns the project-scoped element channel.
func ElementsChannel(projectID string) string { return ChannelElements + "." + projectID }

// Message is one delivery on a channel. Events holds one or more tags of the
// form "tables.<table>.rows.<id>.<verb>"; a message may carry several.
type Message struct {
	ID      string          `json:"id"`
	Channel string          `json:"channel"`
	Events  []string        `json:"events"`
	Payload json.RawMessage `json:"payload"`
}

// EventTags builds the tags for a row change.
func EventTags(table, rowID string, kind domain.EventKind) []string {
	verb := kind.String()
	return []string{
		fmt.Sprintf("tables.%s.rows.%s.%s", table, rowID, verb),
		fmt.Sprintf("tables.%s.rows.*.%s", table, verb),
	}
}

// NewMessage marshals payload and assigns a sortable id.
func NewMessage(channel, table, rowID string, kind domain.EventKind, payload any) (Message, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{
		ID:      ulid.Make().String(),
		Channel: channel,
		Events:  EventTags(table, rowID, kind),
		Payload: b,
	}, nil
}

// DecodeKinds maps event tags to the distinct kinds they carry, in the order
// Created, Updated, Deleted. Unknown tags are skipped.
func DecodeKinds(events []string) []domain.EventKind {
	var seen [4]bool
	for _, ev := range events {
		verb := ev
		if i := strings.LastIndexByte(ev, '.'); i >= 0 {
			verb = ev[i+1:]
		}
		if k, ok := domain.ParseEventKind(verb); ok {
			seen[k] = true
		}
	}
	var out []domain.EventKind
	for _, k := range []domain.EventKind{domain.Created, domain.Updated, domain.Deleted} {
		if seen[k] {
			out = append(out, k)
		}
	}
	return out
}

// DecodeElement validates and decodes an element payload.
func DecodeElement(m Message) (domain.Element, error) {
	if err := schema.Validate(schema.Element, m.Payload); err != nil {
		return domain.Element{}, err
	}
	var e domain.Element
	if err := json.Unmarshal(m.Payload, &e); err != nil {
		return domain.Element{}, err
	}
	return e, nil
}

// DecodeProject validates and decodes a project payload.
func DecodeProject(m Message) (domain.Project, error) {
	if err := schema.Validate(schema.Project, m.Payload); err != nil {
		return domain.Project{}, err
	}
	var p domain.Project
	if err := json.Unmarshal(m.Payload, &p); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}
