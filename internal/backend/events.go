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
	"log/slog"

	"taski/internal/domain"
	applog "taski/internal/log"
	"taski/internal/realtime"
)

// Events receives row changes for realtime fan-out.
type Events interface {
	ProjectChanged(kind domain.EventKind, p domain.Project)
	ElementChanged(kind domain.EventKind, e domain.Element)
}

// HubEvents publishes changes on an in-process hub. Project changes go to
// the projects channel; element changes go to the collection channel and the
// project-scoped one.
type HubEvents struct {
	Hub *realtime.Hub
}

func (h HubEvents) ProjectChanged(kind domain.EventKind, p domain.Project) {
	h.publish(realtime.ChannelProjects, "projects", p.ID, kind, p)
}

func (h HubEvents) ElementChanged(kind domain.EventKind, e domain.Element) {
	h.publish(realtime.ChannelElements, "elements", e.ID, kind, e)
	h.publish(realtime.ElementsChannel(e.ProjectID), "elements", e.ID, kind, e)
}

func (h HubEvents) publish(channel, table, id string, kind domain.EventKind, payload any) {
	m, err := realtime.NewMessage(channel, table, id, kind, payload)
	if err != nil {
		applog.WithComponent("backend").Error("encode event", slog.String("table", table), slog.Any("err", err))
		return
	}
	h.Hub.Publish(m)
}
