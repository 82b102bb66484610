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
	"log/slog"
	"sync"

	"github.com/oklog/ulid/v2"

	applog "taski/internal/log"
)

// Transport opens channel subscriptions. Delivery is at-least-once and not
// necessarily ordered or deduplicated across channels.
type Transport interface {
	Subscribe(ctx context.Context, channel string, fn func(Message)) (Subscription, error)
}

// Subscription is an open channel. Done is closed when the subscription ends
// for any reason, including Close.
type Subscription interface {
	Close() error
	Done() <-chan struct{}
}

// subscriberQueue is the per-subscriber backlog. Publish closes a subscriber
// whose backlog is full instead of waiting for it.
const subscriberQueue = 64

// ErrHubClosed is returned by Subscribe on a closed hub.
var ErrHubClosed = errors.New("realtime: hub closed")

// Hub is an in-process fan-out of messages to channel subscribers. Each
// subscriber receives its messages in publish order on its own goroutine.
// Publish never blocks on a subscriber.
type Hub struct {
	log *slog.Logger

	mu     sync.RWMutex
	subs   map[string]map[*hubSub]struct{}
	closed bool
}

func NewHub() *Hub {
	return &Hub{log: applog.WithComponent("realtime.hub"), subs: map[string]map[*hubSub]struct{}{}}
}

type hubSub struct {
	hub     *Hub
	channel string
	q       chan Message
	done    chan struct{}
	once    sync.Once
}

// Subscribe registers fn for channel until the subscription is closed or ctx ends.
func (h *Hub) Subscribe(ctx context.Context, channel string, fn func(Message)) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := &hubSub{hub: h, channel: channel, q: make(chan Message, subscriberQueue), done: make(chan struct{})}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrHubClosed
	}
	set := h.subs[channel]
	if set == nil {
		set = map[*hubSub]struct{}{}
		h.subs[channel] = set
	}
	set[s] = struct{}{}
	h.mu.Unlock()

	go func() {
		for {
			select {
			case <-s.done:
				return
			case <-ctx.Done():
				_ = s.Close()
				return
			case m := <-s.q:
				fn(m)
			}
		}
	}()
	return s, nil
}

// Publish delivers m to every subscriber of m.Channel and returns how many
// were reached. An empty ID is filled with a new ULID.
func (h *Hub) Publish(m Message) int {
	if m.ID == "" {
		m.ID = ulid.Make().String()
	}
	h.mu.RLock()
	targets := make([]*hubSub, 0, len(h.subs[m.Channel]))
	for s := range h.subs[m.Channel] {
		targets = append(targets, s)
	}
	h.mu.RUnlock()
	n := 0
	for _, s := range targets {
		select {
		case s.q <- m:
			n++
		case <-s.done:
		default:
			h.log.Warn("subscriber backlog full, closing it", slog.String("channel", m.Channel))
			_ = s.Close()
		}
	}
	h.log.Debug("published", slog.String("channel", m.Channel), slog.String("id", m.ID), slog.Int("subscribers", n))
	return n
}

// Subscribers returns the number of open subscriptions on channel.
func (h *Hub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[channel])
}

// Close ends every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	var all []*hubSub
	for _, set := range h.subs {
		for s := range set {
			all = append(all, s)
		}
	}
	h.mu.Unlock()
	for _, s := range all {
		_ = s.Close()
	}
}

func (s *hubSub) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.hub.mu.Lock()
		if set := s.hub.subs[s.channel]; set != nil {
			delete(set, s)
			if len(set) == 0 {
				delete(s.hub.subs, s.channel)
			}
		}
		s.hub.mu.Unlock()
	})
	return nil
}

func (s *hubSub) Done() <-chan struct{} { return s.done }
