/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package log

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func TestInitWritesJSONFileWithStaticAttrs(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "taski.log")
	var console bytes.Buffer
	Init(Options{Level: "debug", Format: "json", File: file, Writer: &console})

	WithOperation(WithComponent("board"), "create").Info("element created", slog.String("element", "e1"))

	f, err := os.Open(file)
	if err != nil {
		t.Fatalf("open log file: %v", err)
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		t.Fatalf("no line in log file")
	}
	var m map[string]any
	if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
		t.Fatalf("invalid json line: %v", err)
	}
	if m["app"] != "taski" {
		t.Fatalf("app attr mismatch: %v", m["app"])
	}
	if m["component"] != "board" || m["op"] != "create" {
		t.Fatalf("component/op mismatch: %v / %v", m["component"], m["op"])
	}
	if m["msg"] != "element created" || m["element"] != "e1" {
		t.Fatalf("msg mismatch: %v", m)
	}
	if !strings.Contains(console.String(), "element created") {
		t.Fatalf("console output missing record: %q", console.String())
	}
}

func TestContextAttrsAreAppended(t *testing.T) {
	var buf bytes.Buffer
	Init(Options{Level: "info", Format: "json", Writer: &buf})
	ctx := ContextWith(context.Background(), slog.String("project", "p1"))
	ctx = ContextWith(ctx, slog.String("channel", "elements.p1"))
	L().InfoContext(ctx, "subscribed")

	var m map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &m); err != nil {
		t.Fatalf("invalid json: %v (%q)", err, buf.String())
	}
	if m["project"] != "p1" || m["channel"] != "elements.p1" {
		t.Fatalf("context attrs missing: %v", m)
	}
}

func TestPrettyTextHandlerSource(t *testing.T) {
	var buf bytes.Buffer
	h := &prettyTextHandler{opts: prettyOpts{Level: slog.LevelInfo, AddSource: true}, w: &buf}
	var pcs [1]uintptr
	runtime.Callers(1, pcs[:])
	r := slog.NewRecord(time.Now(), slog.LevelInfo, "here", pcs[0])
	if err := h.Handle(context.Background(), r); err != nil {
		t.Fatalf("handle error: %v", err)
	}
	if out := buf.String(); !strings.Contains(out, "src=") || !strings.Contains(out, "logger_test.go:") {
		t.Fatalf("source missing: %q", out)
	}

	buf.Reset()
	if err := h.Handle(context.Background(), slog.NewRecord(time.Now(), slog.LevelInfo, "nowhere", 0)); err != nil {
		t.Fatalf("handle error: %v", err)
	}
	if strings.Contains(buf.String(), "src=") {
		t.Fatalf("unexpected source for zero pc: %q", buf.String())
	}
}

func TestFromEnvAndGetenv(t *testing.T) {
	t.Setenv("TASKI_LOG_LEVEL", "warn")
	t.Setenv("TASKI_LOG_FORMAT", "json")
	t.Setenv("TASKI_LOG_SOURCE", "true")
	t.Setenv("TASKI_LOG_FILE", "")

	opts := FromEnv()
	if opts.Level != "warn" || opts.Format != "json" || !opts.AddSource || opts.File != "" {
		t.Fatalf("FromEnv mismatch: %+v", opts)
	}
	if v := getenv("TASKI_SOME_UNSET_VAR", "fallback"); v != "fallback" {
		t.Fatalf("getenv fallback failed: %q", v)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug, "WARN": slog.LevelWarn, "warning": slog.LevelWarn,
		"error": slog.LevelError, "": slog.LevelInfo, "nonsense": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in).Level(); got != want {
			t.Fatalf("parseLevel(%q)=%v want %v", in, got, want)
		}
	}
}

func TestPrettyTextHandler_Behavior(t *testing.T) {
	var buf bytes.Buffer
	h := &prettyTextHandler{opts: prettyOpts{Level: slog.LevelWarn, AddSource: true}, w: &buf}

	if h.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatalf("info should not be enabled at warn level")
	}
	if !h.Enabled(context.Background(), slog.LevelError) {
		t.Fatalf("error should be enabled at warn level")
	}

	h2 := h.WithAttrs([]slog.Attr{slog.String("k", "v")})
	h2 = h2.WithGroup("grp")

	r := slog.Record{Time: time.Now(), Level: slog.LevelError, Message: "boom"}
	r.AddAttrs(slog.Int("n", 42), slog.Float64("pi", 3.14), slog.Bool("ok", true), slog.String("s", "two words"))
	if err := h2.Handle(context.Background(), r); err != nil {
		t.Fatalf("handle error: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "boom") || !strings.Contains(out, "k=v") {
		t.Fatalf("output missing expected content: %q", out)
	}
	if !strings.Contains(out, "grp.n=42") {
		t.Fatalf("grouped attr missing or malformed: %q", out)
	}
	if !strings.Contains(out, "ERR") {
		t.Fatalf("expected ERR level tag in output: %q", out)
	}
	if !strings.Contains(out, "pi=3.14") {
		t.Fatalf("expected trimmed float: %q", out)
	}
	if !strings.Contains(out, `s="two words"`) {
		t.Fatalf("expected quoted string: %q", out)
	}
}
