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
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	gorilla "github.com/gorilla/websocket"

	applog "taski/internal/log"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// WSTransport subscribes to channels on a Taski server over websocket, one
// connection per subscription.
type WSTransport struct {
	// URL is the realtime endpoint, e.g. ws://localhost:8080/realtime.
	URL string
	// Token returns the bearer token sent on the handshake. May be nil.
	Token func() string
	// Codec selects the subprotocol; JSON when nil.
	Codec  Codec
	Dialer *gorilla.Dialer

	log *slog.Logger
}

// NewWSTransport returns a transport for endpoint using codec.
func NewWSTransport(endpoint string, codec Codec, token func() string) *WSTransport {
	return &WSTransport{URL: endpoint, Codec: codec, Token: token, log: applog.WithComponent("realtime.ws")}
}

func (t *WSTransport) Subscribe(ctx context.Context, channel string, fn func(Message)) (Subscription, error) {
	codec := t.Codec
	if codec == nil {
		codec = JSONCodec{}
	}
	u, err := url.Parse(t.URL)
	if err != nil {
		return nil, fmt.Errorf("realtime url: %w", err)
	}
	q := u.Query()
	q.Set("channel", channel)
	u.RawQuery = q.Encode()

	dialer := t.Dialer
	if dialer == nil {
		dialer = &gorilla.Dialer{
			Proxy:            gorilla.DefaultDialer.Proxy,
			HandshakeTimeout: gorilla.DefaultDialer.HandshakeTimeout,
		}
	}
	d := *dialer
	d.Subprotocols = []string{codec.Name()}

	header := http.Header{}
	if t.Token != nil {
		if tok := t.Token(); tok != "" {
			header.Set("Authorization", "Bearer "+tok)
		}
	}
	conn, resp, err := d.DialContext(ctx, u.String(), header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("realtime dial %s: %s: %w", channel, resp.Status, err)
		}
		return nil, fmt.Errorf("realtime dial %s: %w", channel, err)
	}
	if p := conn.Subprotocol(); p != "" && p != codec.Name() {
		codec = CodecFor(p)
	}
	log := t.log
	if log == nil {
		log = applog.WithComponent("realtime.ws")
	}
	s := &wsSub{conn: conn, codec: codec, done: make(chan struct{}), log: log.With(slog.String("channel", channel))}
	go s.readLoop(fn)
	return s, nil
}

type wsSub struct {
	conn  *gorilla.Conn
	codec Codec
	log   *slog.Logger

	writeMu sync.Mutex
	once    sync.Once
	done    chan struct{}
	err     error
}

func (s *wsSub) Done() <-chan struct{} { return s.done }

// Err reports why the subscription ended; nil after a local Close.
func (s *wsSub) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

func (s *wsSub) Close() error {
	var err error
	s.once.Do(func() {
		s.writeMu.Lock()
		_ = s.conn.WriteControl(gorilla.CloseMessage,
			gorilla.FormatCloseMessage(gorilla.CloseNormalClosure, ""), time.Now().Add(writeWait))
		s.writeMu.Unlock()
		err = s.conn.Close()
		close(s.done)
	})
	return err
}

func (s *wsSub) closeWithError(err error) {
	s.once.Do(func() {
		s.err = err
		_ = s.conn.Close()
		close(s.done)
	})
}

func (s *wsSub) readLoop(fn func(Message)) {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) || gorilla.IsCloseError(err, gorilla.CloseNormalClosure, gorilla.CloseGoingAway) {
				s.closeWithError(err)
				return
			}
			s.log.Warn("realtime connection lost", slog.Any("err", err))
			s.closeWithError(err)
			return
		}
		var m Message
		if err := s.codec.Unmarshal(data, &m); err != nil {
			s.log.Warn("dropping undecodable message", slog.Any("err", err))
			continue
		}
		fn(m)
	}
}

// Filter reports whether m may be written to one subscriber. It runs on the
// connection's writer goroutine, one message at a time.
type Filter func(ctx context.Context, m Message) bool

// Authorizer decides whether the request may subscribe to channel and returns
// the per-message filter for the connection. A nil Filter delivers everything.
type Authorizer func(r *http.Request, channel string) (Filter, error)

// Endpoint upgrades requests on the realtime endpoint and streams hub messages
// for the requested channel to the client.
type Endpoint struct {
	Hub       *Hub
	Authorize Authorizer
	Upgrader  gorilla.Upgrader

	log *slog.Logger
}

func NewEndpoint(hub *Hub, authorize Authorizer) *Endpoint {
	return &Endpoint{
		Hub:       hub,
		Authorize: authorize,
		Upgrader:  gorilla.Upgrader{Subprotocols: Subprotocols},
		log:       applog.WithComponent("realtime.handler"),
	}
}

func (h *Endpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	channel := r.URL.Query().Get("channel")
	if channel == "" {
		http.Error(w, "missing channel", http.StatusBadRequest)
		return
	}
	var filter Filter
	if h.Authorize != nil {
		f, err := h.Authorize(r, channel)
		if err != nil {
			http.Error(w, err.Error(), http.StatusForbidden)
			return
		}
		filter = f
	}
	conn, err := h.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade failed", slog.Any("err", err))
		return
	}
	codec := CodecFor(conn.Subprotocol())
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	out := make(chan Message, 64)
	sub, err := h.Hub.Subscribe(ctx, channel, func(m Message) {
		select {
		case out <- m:
		case <-ctx.Done():
		}
	})
	if err != nil {
		_ = conn.WriteControl(gorilla.CloseMessage,
			gorilla.FormatCloseMessage(gorilla.CloseTryAgainLater, err.Error()), time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}
	defer sub.Close()

	// Reader: handles pongs and notices the client going away.
	go func() {
		defer cancel()
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(pongWait)) })
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	log := h.log.With(slog.String("channel", channel), slog.String("codec", codec.Name()))
	log.Debug("client subscribed")
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	defer conn.Close()
	for {
		select {
		case <-ctx.Done():
			log.Debug("client gone")
			return
		case <-sub.Done():
			_ = conn.WriteControl(gorilla.CloseMessage,
				gorilla.FormatCloseMessage(gorilla.CloseGoingAway, ""), time.Now().Add(writeWait))
			return
		case m := <-out:
			if filter != nil && !filter(ctx, m) {
				continue
			}
			b, err := codec.Marshal(m)
			if err != nil {
				log.Error("encode message", slog.Any("err", err))
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(codec.FrameType(), b); err != nil {
				log.Debug("write failed", slog.Any("err", err))
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(gorilla.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
