/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */


// Package telemetry sends opt-in anonymous usage events and crash reports.
// Nothing is sent unless the user opted in and an endpoint is configured.
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"taski/internal/config"
	applog "taski/internal/log"
	"taski/internal/version"
)

// Environment variables read by FromEnv. The opt-in flag is shared with the
// user config (general.telemetry_opt_in).
const (
	EnvEventsURL = "TASKI_TELEMETRY_URL"
	EnvCrashURL  = "TASKI_CRASH_UPLOAD_URL"
	EnvTimeoutMs = "TASKI_TELEMETRY_TIMEOUT_MS"
	EnvDebug     = "TASKI_TELEMETRY_DEBUG"
)

type Config struct {
	OptIn        bool
	EventsURL    string
	CrashURL     string
	Timeout      time.Duration
	DebugLogging bool
	// QueueSize bounds pending events; 64 when zero.
	QueueSize int
}

func FromEnv() Config {
	cfg := Config{
		OptIn:        parseBool(os.Getenv(config.EnvTelemetryOptIn)),
		EventsURL:    strings.TrimSpace(os.Getenv(EnvEventsURL)),
		CrashURL:     strings.TrimSpace(os.Getenv(EnvCrashURL)),
		Timeout:      1500 * time.Millisecond,
		DebugLogging: os.Getenv(EnvDebug) != "",
	}
	if ms := strings.TrimSpace(os.Getenv(EnvTimeoutMs)); ms != "" {
		if v, err := time.ParseDuration(ms + "ms"); err == nil {
			cfg.Timeout = v
		}
	}
	return cfg
}

// FromConfig is FromEnv with the opt-in taken from the loaded app config,
// which already reflects the environment override.
func FromConfig(app config.AppConfig) Config {
	cfg := FromEnv()
	cfg.OptIn = app.General.TelemetryOptIn
	return cfg
}

func parseBool(v string) bool {
	s := strings.ToLower(strings.TrimSpace(v))
	return s == "1" || s == "true" || s == "yes" || s == "on"
}

// Client is an async sender. It never blocks the caller: events are queued
// and dropped when the queue is full or a send fails.
type Client struct {
	cfg     Config
	log     *slog.Logger
	cli     *http.Client
	install string
	q       chan map[string]any
	wg      sync.WaitGroup
	once    sync.Once
	closed  chan struct{}

	sent    atomic.Int64
	dropped atomic.Int64
}

var (
	defaultClient *Client
	defaultOnce   sync.Once
)

// InitDefault installs the package-level client from the environment on first use.
func InitDefault() {
	defaultOnce.Do(func() {
		if defaultClient == nil {
			defaultClient = New(FromEnv())
		}
	})
}

// NewDefault installs a client built from cfg as the package-level client.
func NewDefault(cfg Config) *Client {
	defaultOnce.Do(func() {})
	defaultClient = New(cfg)
	return defaultClient
}

// Default returns the package-level client.
func Default() *Client {
	InitDefault()
	return defaultClient
}

func New(cfg Config) *Client {
	size := cfg.QueueSize
	if size <= 0 {
		size = 64
	}
	c := &Client{
		cfg:     cfg,
		log:     applog.WithComponent("telemetry"),
		cli:     &http.Client{Timeout: cfg.Timeout},
		install: uuid.NewString(),
		q:       make(chan map[string]any, size),
		closed:  make(chan struct{}),
	}
	c.wg.Add(1)
	go c.loop()
	return c
}

// Enabled reports whether events will be sent.
func (c *Client) Enabled() bool { return c != nil && c.cfg.OptIn && c.cfg.EventsURL != "" }

// Event queues a named event. Only scalar props are forwarded so ids and
// content never leave the process by accident.
func (c *Client) Event(name string, props map[string]any) {
	if !c.Enabled() || name == "" {
		return
	}
	payload := map[string]any{
		"name":    name,
		"ts":      time.Now().UTC().Format(time.RFC3339Nano),
		"install": c.install,
		"version": version.String(),
		"os":      runtime.GOOS,
		"arch":    runtime.GOARCH,
	}
	for k, v := range props {
		switch v.(type) {
		case string, bool, int, int64, float64:
			if _, reserved := payload[k]; !reserved {
				payload[k] = v
			}
		}
	}
	select {
	case <-c.closed:
		c.dropped.Add(1)
	case c.q <- payload:
	default:
		c.dropped.Add(1)
	}
}

// Event sends through the default client.
func Event(name string, props map[string]any) { Default().Event(name, props) }

// Stats returns the number of events sent and dropped so far.
func (c *Client) Stats() (sent, dropped int64) { return c.sent.Load(), c.dropped.Load() }

// Flush waits up to 500ms for the queue to drain.
func (c *Client) Flush(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	deadline := time.Now().Add(500 * time.Millisecond)
	for len(c.q) > 0 && time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return
		case <-time.After(25 * time.Millisecond):
		}
	}
}

// Close stops the sender. Queued events not yet sent are dropped.
func (c *Client) Close() {
	c.once.Do(func() { close(c.closed) })
	c.wg.Wait()
}

func (c *Client) loop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.closed:
			return
		case item := <-c.q:
			c.send(item)
		}
	}
}

func (c *Client) send(item map[string]any) {
	buf, err := json.Marshal(item)
	if err != nil {
		c.dropped.Add(1)
		return
	}
	if err := c.post(c.cfg.EventsURL, "application/json", buf); err != nil {
		c.dropped.Add(1)
		if c.cfg.DebugLogging {
			c.log.Debug("telemetry send failed", slog.Any("err", err))
		}
		return
	}
	c.sent.Add(1)
}

func (c *Client) post(url, contentType string, body []byte) error {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	resp, err := c.cli.Do(req)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

// UploadCrash posts a crash report when opted in. It returns immediately.
func (c *Client) UploadCrash(report []byte) {
	if c == nil || !c.cfg.OptIn || c.cfg.CrashURL == "" {
		return
	}
	b := append([]byte(nil), report...)
	go func() {
		if err := c.post(c.cfg.CrashURL, "text/plain; charset=utf-8", b); err != nil && c.cfg.DebugLogging {
			c.log.Debug("crash upload failed", slog.Any("err", err))
		}
	}()
}

// UploadCrash uploads through the default client.
func UploadCrash(report []byte) { Default().UploadCrash(report) }
