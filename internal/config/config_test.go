/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func useTempConfig(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	t.Setenv(EnvConfigPath, p)
	t.Cleanup(SetTokenStore(&MemoryTokenStore{}))
	return p
}

func TestEnvOverridesBackendURL(t *testing.T) {
	useTempConfig(t)
	t.Setenv(EnvBackendURL, "https://example.test:8443")
	cfg, _, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if got, want := cfg.Backend.BaseURL, "https://example.test:8443"; got != want {
		t.Fatalf("Backend.BaseURL = %q, want %q", got, want)
	}
	if got, want := cfg.Backend.RealtimeEndpoint(), "wss://example.test:8443/realtime"; got != want {
		t.Fatalf("RealtimeEndpoint = %q, want %q", got, want)
	}
	if name, ok := EnvOverrideFor("backend.base_url"); !ok || name != EnvBackendURL {
		t.Fatalf("EnvOverrideFor = %q,%v", name, ok)
	}
	if _, ok := EnvOverrideFor("backend.codec"); ok {
		t.Fatalf("codec should not be reported as overridden")
	}
}

func TestEnvOverridesTelemetryAndUser(t *testing.T) {
	useTempConfig(t)
	t.Setenv(EnvTelemetryOptIn, "yes")
	t.Setenv(EnvUserID, "u-42")
	cfg, _, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !cfg.General.TelemetryOptIn {
		t.Fatalf("General.TelemetryOptIn expected true from env override")
	}
	if cfg.General.UserID != "u-42" {
		t.Fatalf("UserID = %q, want u-42", cfg.General.UserID)
	}
}

func TestSaveLoadRoundTripKeepsTokenOutOfFile(t *testing.T) {
	path := useTempConfig(t)
	cfg := Defaults()
	cfg.Canvas.MaxScale = 3
	cfg.Server.Driver = "postgres"
	if err := Save(cfg, "secret-token"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if strings.Contains(string(data), "secret-token") {
		t.Fatalf("token leaked into config file")
	}
	got, tok, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if tok != "secret-token" {
		t.Fatalf("token = %q", tok)
	}
	if got.Canvas.MaxScale != 3 || got.Server.Driver != "postgres" || got.Canvas.MinScale != 0.1 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if err := ClearToken(); err != nil {
		t.Fatalf("ClearToken: %v", err)
	}
	if _, tok, _ = Load(); tok != "" {
		t.Fatalf("token still present after clear")
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := useTempConfig(t)
	if err := os.WriteFile(path, []byte("canvas: [unterminated"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, _, err := Load(); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestMergeIncludesLogging(t *testing.T) {
	dst := Defaults()
	src := AppConfig{Logging: LoggingConfig{Level: " DEBUG ", Format: "json", Source: true, File: "/tmp/taski.log"}}
	mergeInto(&dst, &src)
	if dst.Logging.Level != "debug" || dst.Logging.Format != "json" || !dst.Logging.Source || dst.Logging.File != "/tmp/taski.log" {
		t.Fatalf("logging fields not merged correctly: %#v", dst.Logging)
	}
	if dst.Canvas.ZoomStep != 1.2 {
		t.Fatalf("zero canvas values must keep defaults: %#v", dst.Canvas)
	}
}

func TestBackendTimeout(t *testing.T) {
	if got := (BackendConfig{}).Timeout(); got != 15*time.Second {
		t.Fatalf("default timeout = %v", got)
	}
	if got := (BackendConfig{TimeoutMs: 250}).Timeout(); got != 250*time.Millisecond {
		t.Fatalf("timeout = %v", got)
	}
}


func TestSetKeys(t *testing.T) {
	cfg := Defaults()
	for _, kv := range [][2]string{
		{"backend.base_url", "https://taski.test"},
		{"backend.codec", "CBOR"},
		{"backend.timeout_ms", "2500"},
		{"server.driver", "postgres"},
		{"general.telemetry_opt_in", "yes"},
	} {
		if err := Set(&cfg, kv[0], kv[1]); err != nil {
			t.Fatalf("Set(%s) error: %v", kv[0], err)
		}
	}
	if cfg.Backend.BaseURL != "https://taski.test" || cfg.Backend.Codec != "cbor" || cfg.Backend.TimeoutMs != 2500 {
		t.Fatalf("backend = %+v", cfg.Backend)
	}
	if cfg.Server.Driver != "postgres" || !cfg.General.TelemetryOptIn {
		t.Fatalf("server/general not applied: %+v %+v", cfg.Server, cfg.General)
	}
	if err := Set(&cfg, "backend.codec", "xml"); err == nil {
		t.Fatalf("expected unsupported codec error")
	}
	if err := Set(&cfg, "backend.timeout_ms", "soon"); err == nil {
		t.Fatalf("expected parse error")
	}
	if err := Set(&cfg, "nope", "1"); err == nil {
		t.Fatalf("expected unknown key error")
	}
	if len(Keys()) != len(envKeys) {
		t.Fatalf("Keys() = %d entries, want %d", len(Keys()), len(envKeys))
	}
}

func TestLoadFileIgnoresEnv(t *testing.T) {
	p := useTempConfig(t)
	if err := os.WriteFile(p, []byte("backend:\n  base_url: https://file.test\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvBackendURL, "https://env.test")
	cfg, err := LoadFile()
	if err != nil {
		t.Fatalf("LoadFile() error: %v", err)
	}
	if cfg.Backend.BaseURL != "https://file.test" {
		t.Fatalf("BaseURL = %q, want file value", cfg.Backend.BaseURL)
	}
	if cfg.Canvas.FrameRate != Defaults().Canvas.FrameRate {
		t.Fatalf("defaults not applied: %+v", cfg.Canvas)
	}
}
