/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"taski/internal/board"
	"taski/internal/domain"
	applog "taski/internal/log"
)

// Status of a Manager binding.
type Status int

const (
	Unbound Status = iota
	Connecting
	Live
	// Degraded means the channel failed to open or was lost. The view keeps
	// its last snapshot but receives no pushes.
	Degraded
)

func (s Status) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Live:
		return "live"
	case Degraded:
		return "degraded"
	}
	return "unbound"
}

// Handler receives one decoded event kind of a message. A message tagged
// with several kinds is dispatched once per kind.
type Handler func(kind domain.EventKind, m Message)

// Manager binds one channel subscription to the lifetime of a subject (a
// project id or a collection). Rebinding to another subject or calling
// Unbind tears the previous subscription down; a subscription whose setup
// completes after teardown is closed immediately and never dispatches.
type Manager struct {
	tr       Transport
	log      *slog.Logger
	onStatus func(Status, error)

	gen atomic.Uint64

	mu      sync.Mutex
	subject string
	channel string
	sub     Subscription
	status  Status
	err     error
	cancel  context.CancelFunc

	wg sync.WaitGroup
}

type ManagerOption func(*Manager)

// OnStatus registers a callback for status transitions.
func OnStatus(fn func(Status, error)) ManagerOption { return func(m *Manager) { m.onStatus = fn } }

// WithManagerLogger sets the logger.
func WithManagerLogger(l *slog.Logger) ManagerOption { return func(m *Manager) { m.log = l } }

func NewManager(tr Transport, opts ...ManagerOption) *Manager {
	m := &Manager{tr: tr}
	for _, o := range opts {
		o(m)
	}
	if m.log == nil {
		m.log = applog.WithComponent("realtime")
	}
	return m
}

// Bind subscribes channel for subject and dispatches decoded events to h.
// Setup runs asynchronously; use Status or Wait to observe it. Binding the
// subject and channel that are already live or connecting is a no-op.
func (m *Manager) Bind(ctx context.Context, subject, channel string, h Handler) {
	m.mu.Lock()
	if m.subject == subject && m.channel == channel && (m.status == Connecting || m.status == Live) {
		m.mu.Unlock()
		return
	}
	m.teardownLocked()
	gen := m.gen.Add(1)
	m.subject, m.channel = subject, channel
	m.status, m.err = Connecting, nil
	sctx, cancel := context.WithCancel(applog.ContextWith(ctx, slog.String("channel", channel), slog.String("subject", subject)))
	m.cancel = cancel
	m.mu.Unlock()
	m.notify(Connecting, nil)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.setup(sctx, gen, channel, h)
	}()
}

func (m *Manager) setup(ctx context.Context, gen uint64, channel string, h Handler) {
	sub, err := m.tr.Subscribe(ctx, channel, func(msg Message) { m.dispatch(gen, h, msg) })

	m.mu.Lock()
	if m.gen.Load() != gen {
		m.mu.Unlock()
		if sub != nil {
			_ = sub.Close()
			m.log.DebugContext(ctx, "closed subscription resolved after teardown")
		}
		return
	}
	if err != nil {
		m.status = Degraded
		m.err = fmt.Errorf("%w: %s: %w", board.ErrSubscription, channel, err)
		serr := m.err
		m.mu.Unlock()
		m.log.WarnContext(ctx, "subscription failed, continuing without live updates", slog.Any("err", err))
		m.notify(Degraded, serr)
		return
	}
	m.sub = sub
	m.status = Live
	m.mu.Unlock()
	m.log.DebugContext(ctx, "subscribed")
	m.notify(Live, nil)

	go func() {
		<-sub.Done()
		m.mu.Lock()
		if m.gen.Load() != gen || m.sub != sub {
			m.mu.Unlock()
			return
		}
		m.sub = nil
		m.status = Degraded
		m.err = fmt.Errorf("%w: %s: connection lost", board.ErrSubscription, channel)
		serr := m.err
		m.mu.Unlock()
		m.log.WarnContext(ctx, "subscription lost, continuing without live updates")
		m.notify(Degraded, serr)
	}()
}

func (m *Manager) dispatch(gen uint64, h Handler, msg Message) {
	kinds := DecodeKinds(msg.Events)
	if len(kinds) == 0 {
		m.log.Debug("message without known event kind", slog.String("id", msg.ID), slog.Any("events", msg.Events))
		return
	}
	for _, k := range kinds {
		if m.gen.Load() != gen {
			return
		}
		h(k, msg)
	}
}

// Unbind tears the current subscription down. Messages still in flight for it are dropped.
func (m *Manager) Unbind() {
	m.mu.Lock()
	was := m.status
	m.teardownLocked()
	m.subject, m.channel = "", ""
	m.status, m.err = Unbound, nil
	m.mu.Unlock()
	if was != Unbound {
		m.notify(Unbound, nil)
	}
}

func (m *Manager) teardownLocked() {
	m.gen.Add(1)
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.sub != nil {
		_ = m.sub.Close()
		m.sub = nil
	}
}

// Status returns the binding status and, when degraded, the cause (wrapping board.ErrSubscription).
func (m *Manager) Status() (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status, m.err
}

// Wait blocks until pending subscription setups have finished.
func (m *Manager) Wait() { m.wg.Wait() }

func (m *Manager) notify(s Status, err error) {
	if m.onStatus != nil {
		m.onStatus(s, err)
	}
}

// IsSubscriptionError reports whether err came from a failed or lost subscription.
func IsSubscriptionError(err error) bool { return errors.Is(err, board.ErrSubscription) }
