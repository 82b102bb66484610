/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package crash

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"time"

	applog "taski/internal/log"
	"taski/internal/storage"
	"taski/internal/telemetry"
	"taski/internal/version"
)

// exitFn is swapped in tests so Recover does not end the test binary.
var exitFn = os.Exit

// ErrNothingOpen is returned by an Autosaver with nothing to save.
var ErrNothingOpen = errors.New("crash: no board open")

// Autosaver writes a recovery copy of whatever the process has open and
// returns where it went.
type Autosaver interface {
	Autosave() (path string, err error)
	// ReportDir is where crash reports go; the temp dir when empty.
	ReportDir() string
}

// BoardAutosaver saves the open board as a board file in Dir.
type BoardAutosaver struct {
	Dir string
	// Snapshot returns the board to save, or false when none is open.
	Snapshot func() (storage.BoardSnapshot, bool)
}

func (a BoardAutosaver) Autosave() (string, error) {
	if a.Snapshot == nil {
		return "", ErrNothingOpen
	}
	snap, ok := a.Snapshot()
	if !ok {
		return "", ErrNothingOpen
	}
	path := storage.BoardFilePath(a.Dir, "crash-"+snap.Project.ID)
	if err := storage.WriteBoardSnapshot(path, snap); err != nil {
		return "", err
	}
	return path, nil
}

func (a BoardAutosaver) ReportDir() string {
	if a.Dir == "" {
		return ""
	}
	return filepath.Join(a.Dir, storage.BackupsDirName)
}

// Recover captures a panic, logs it with the stack, writes a crash report,
// autosaves through a (which may be nil) and exits with status 2.
//
// Usage: defer crash.Recover(saver)
func Recover(a Autosaver) {
	r := recover()
	if r == nil {
		return
	}
	handle(a, r, debug.Stack())
}

func handle(a Autosaver, r any, stack []byte) {
	l := applog.WithComponent("crash")
	l.Error("panic recovered", slog.Any("panic", r), slog.String("stack", string(stack)))

	dir := ""
	if a != nil {
		dir = a.ReportDir()
	}
	reportPath, err := writeReport(dir, r, stack)
	if err != nil {
		l.Error("write crash report failed", slog.Any("err", err))
	}
	if a != nil {
		if path, err := a.Autosave(); err != nil {
			if !errors.Is(err, ErrNothingOpen) {
				l.Error("autosave failed", slog.Any("err", err))
			}
		} else {
			l.Info("autosave written", slog.String("path", path))
		}
	}

	if _, err := fmt.Fprintf(os.Stderr, "A fatal error occurred. A crash report was saved to: %s\n", reportPath); err != nil {
		l.Error("failed to write crash message to stderr", slog.Any("err", err))
	}
	if _, err := fmt.Fprintf(os.Stderr, "Version: %s\nOS/Arch: %s/%s\n", version.String(), runtime.GOOS, runtime.GOARCH); err != nil {
		l.Error("failed to write version info to stderr", slog.Any("err", err))
	}
	exitFn(2)
}

func writeReport(dir string, panicVal any, stack []byte) (string, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("crash-%s.log", time.Now().Format("20060102-150405")))

	var buf bytes.Buffer
	_, _ = fmt.Fprintf(&buf, "Taski Crash Report\n")
	_, _ = fmt.Fprintf(&buf, "Timestamp: %s\n", time.Now().Format(time.RFC3339))
	_, _ = fmt.Fprintf(&buf, "Version: %s\n", version.String())
	_, _ = fmt.Fprintf(&buf, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	_, _ = fmt.Fprintf(&buf, "\nPanic: %v\n\n", panicVal)
	_, _ = fmt.Fprintf(&buf, "Stack:\n%s\n", stack)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return path, err
	}
	defer func() {
		if err := f.Close(); err != nil {
			applog.WithComponent("crash").Error("failed to close crash report file", slog.Any("err", err), slog.String("path", path))
		}
	}()
	if _, err := f.Write(buf.Bytes()); err != nil {
		return path, err
	}
	_ = f.Sync()

	telemetry.UploadCrash(buf.Bytes())
	return path, nil
}
