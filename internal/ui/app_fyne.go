//go:build fyne && cgo

/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package ui

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/driver/desktop"
	fstorage "fyne.io/fyne/v2/storage"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"

	"taski/internal/backend"
	"taski/internal/board"
	"taski/internal/crash"
	"taski/internal/export"
	applog "taski/internal/log"
	"taski/internal/realtime"
	"taski/internal/session"
	"taski/internal/storage"
	"taski/internal/version"
	"taski/internal/viewport"
)

// Run opens the board window and blocks until it is closed.
func Run(opts Options) error {
	l := applog.WithComponent("ui")
	l.Info("starting UI", slog.String("project", opts.ProjectID))

	var open atomic.Pointer[session.Board]
	defer crash.Recover(crash.BoardAutosaver{Dir: opts.AutosaveDir, Snapshot: func() (storage.BoardSnapshot, bool) {
		b := open.Load()
		if b == nil {
			return storage.BoardSnapshot{}, false
		}
		return b.Snapshot(), true
	}})

	fyneApp := app.NewWithID("dev.taski.desktop")
	w := fyneApp.NewWindow("Taski")
	prefs := fyneApp.Preferences()
	w.Resize(fyne.NewSize(
		float32(max(prefs.IntWithFallback("window.width", 1200), 800)),
		float32(max(prefs.IntWithFallback("window.height", 800), 600)),
	))

	status := widget.NewLabel("Connecting…")
	mode := widget.NewLabel("")
	setStatus := func(s string) { fyne.Do(func() { status.SetText(s) }) }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b, client, err := session.Connect(ctx, opts.Config, opts.Token, opts.ProjectID, session.Deps{
		Recorder: opts.Recorder,
		OnCreationFailed: func(e *board.CreationFailedError) {
			fyne.Do(func() { dialog.ShowError(fmt.Errorf("could not create element: %w", e), w) })
		},
		OnRevoked: func(string) {
			fyne.Do(func() {
				d := dialog.NewInformation("Board closed", "You no longer have access to this board.", w)
				d.SetOnClosed(w.Close)
				d.Show()
			})
		},
		OnReadOnly: func(ro bool) {
			fyne.Do(func() { mode.SetText(modeText(ro)) })
		},
		OnRealtime: func(s realtime.Status, err error) {
			switch s {
			case realtime.Live:
				setStatus("Live")
			case realtime.Degraded:
				setStatus("Offline: changes by others will not appear")
			case realtime.Connecting:
				setStatus("Connecting…")
			}
			if err != nil {
				l.Warn("realtime degraded", slog.Any("err", err))
			}
		},
	})
	if err != nil {
		return err
	}
	open.Store(b)
	defer b.Close()
	mode.SetText(modeText(b.ReadOnly()))
	w.SetTitle(fmt.Sprintf("Taski: %s", b.Gate.Project().Name))

	cv := NewBoardCanvas(b)
	defer cv.Detach()
	cv.OnError = func(err error) { dialog.ShowError(err, w) }
	cv.OnEdit = func(id string) { showEditDialog(ctx, w, b, id) }

	drop := func(tool string) {
		if _, _, err := cv.Drop(ctx, tool); err != nil && !errors.Is(err, board.ErrMutationRejected) {
			dialog.ShowError(err, w)
		}
	}
	step := func(fn func(context.Context) (bool, error)) func() {
		return func() {
			if _, err := fn(ctx); err != nil && !errors.Is(err, board.ErrMutationRejected) {
				dialog.ShowError(err, w)
			}
		}
	}
	undoFn, redoFn := step(b.Undo), step(b.Redo)
	toolbar := widget.NewToolbar(
		widget.NewToolbarAction(theme.DocumentCreateIcon(), func() { drop("card") }),
		widget.NewToolbarAction(theme.ContentAddIcon(), func() { drop("text") }),
		widget.NewToolbarAction(theme.FileImageIcon(), func() { addImage(ctx, w, cv, b, client) }),
		widget.NewToolbarSeparator(),
		widget.NewToolbarAction(theme.ContentUndoIcon(), undoFn),
		widget.NewToolbarAction(theme.ContentRedoIcon(), redoFn),
		widget.NewToolbarSeparator(),
		widget.NewToolbarAction(theme.ZoomInIcon(), b.Viewport.ZoomIn),
		widget.NewToolbarAction(theme.ZoomOutIcon(), b.Viewport.ZoomOut),
		widget.NewToolbarAction(theme.ZoomFitIcon(), b.Viewport.ResetZoom),
		widget.NewToolbarSeparator(),
		widget.NewToolbarAction(theme.DeleteIcon(), func() {
			if id := cv.Selected(); id != "" {
				if err := b.Store.Delete(ctx, id); err != nil && !errors.Is(err, board.ErrMutationRejected) {
					dialog.ShowError(err, w)
				}
			}
		}),
		widget.NewToolbarAction(theme.DownloadIcon(), func() { exportPNG(w, b, client) }),
	)

	for key, name := range map[fyne.KeyName]string{fyne.KeyEqual: "=", fyne.KeyPlus: "+", fyne.KeyMinus: "-", fyne.Key0: "0"} {
		w.Canvas().AddShortcut(&desktop.CustomShortcut{KeyName: key, Modifier: fyne.KeyModifierShortcutDefault}, func(fyne.Shortcut) {
			b.Viewport.Key(viewport.KeyInput{Key: name, Ctrl: runtime.GOOS != "darwin", Meta: runtime.GOOS == "darwin"})
		})
	}
	w.Canvas().AddShortcut(&desktop.CustomShortcut{KeyName: fyne.KeyZ, Modifier: fyne.KeyModifierShortcutDefault}, func(fyne.Shortcut) { undoFn() })
	w.Canvas().AddShortcut(&desktop.CustomShortcut{KeyName: fyne.KeyZ, Modifier: fyne.KeyModifierShortcutDefault | fyne.KeyModifierShift}, func(fyne.Shortcut) { redoFn() })
	if dc, ok := w.Canvas().(desktop.Canvas); ok {
		isMod := func(k fyne.KeyName) bool {
			return k == desktop.KeyControlLeft || k == desktop.KeyControlRight || k == desktop.KeySuperLeft || k == desktop.KeySuperRight
		}
		dc.SetOnKeyDown(func(ev *fyne.KeyEvent) {
			if isMod(ev.Name) {
				cv.SetModifier(true)
			}
		})
		dc.SetOnKeyUp(func(ev *fyne.KeyEvent) {
			if isMod(ev.Name) {
				cv.SetModifier(false)
			}
		})
	}

	about := fyne.NewMenuItem("About Taski", func() {
		dialog.ShowInformation("About", fmt.Sprintf("Taski\nVersion: %s\nOS: %s/%s", version.String(), runtime.GOOS, runtime.GOARCH), w)
	})
	w.SetMainMenu(fyne.NewMainMenu(fyne.NewMenu("Help", about)))

	w.SetContent(container.NewBorder(toolbar, container.NewHBox(status, mode), nil, nil, cv))
	w.SetCloseIntercept(func() {
		sz := w.Canvas().Size()
		prefs.SetInt("window.width", int(sz.Width))
		prefs.SetInt("window.height", int(sz.Height))
		w.Close()
	})
	w.ShowAndRun()
	b.Wait()
	return nil
}

func modeText(readOnly bool) string {
	if readOnly {
		return "Read-only"
	}
	return ""
}

func showEditDialog(ctx context.Context, w fyne.Window, b *session.Board, id string) {
	e, ok := b.Store.Get(id)
	if !ok || !b.Interact.BeginEdit(id) {
		return
	}
	title := widget.NewEntry()
	title.SetText(e.Title)
	content := widget.NewMultiLineEntry()
	content.SetText(e.Content)
	items := []*widget.FormItem{widget.NewFormItem("Content", content)}
	if e.Type == "card" {
		items = append([]*widget.FormItem{widget.NewFormItem("Title", title)}, items...)
	}
	dialog.ShowForm("Edit", "Save", "Cancel", items, func(save bool) {
		if !save {
			b.Interact.CancelEdit(id)
			return
		}
		edit := board.ContentEdit{Content: &content.Text}
		if e.Type == "card" {
			edit.Title = &title.Text
		}
		if _, err := b.Interact.CommitEdit(ctx, id, edit); err != nil && !errors.Is(err, board.ErrMutationRejected) {
			dialog.ShowError(err, w)
		}
	}, w)
}

func addImage(ctx context.Context, w fyne.Window, cv *BoardCanvas, b *session.Board, client *backend.Client) {
	fd := dialog.NewFileOpen(func(r fyne.URIReadCloser, err error) {
		if err != nil || r == nil {
			return
		}
		defer r.Close()
		ct := r.URI().MimeType()
		if backend.ExtFor(ct) == "" {
			ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(r.URI().Name())), ".")
			if ext == "jpg" {
				ext = "jpeg"
			}
			ct = "image/" + ext
		}
		ref, err := client.UploadFile(ctx, r, ct)
		if err != nil {
			dialog.ShowError(err, w)
			return
		}
		e, created, err := cv.Drop(ctx, "image")
		if err != nil || !created {
			_ = client.DeleteFile(ctx, ref)
			if err != nil {
				dialog.ShowError(err, w)
			}
			return
		}
		if err := b.Store.SetImage(ctx, e.ID, ref); err != nil {
			dialog.ShowError(err, w)
		}
	}, w)
	fd.SetFilter(fstorage.NewExtensionFileFilter([]string{".png", ".jpg", ".jpeg", ".gif", ".webp"}))
	fd.Show()
}

func exportPNG(w fyne.Window, b *session.Board, client *backend.Client) {
	save := dialog.NewFileSave(func(wc fyne.URIWriteCloser, err error) {
		if err != nil || wc == nil {
			return
		}
		defer wc.Close()
		images := func(ref string) (image.Image, error) {
			var buf bytes.Buffer
			if err := client.DownloadFile(context.Background(), ref, &buf); err != nil {
				return nil, err
			}
			m, _, err := image.Decode(&buf)
			return m, err
		}
		if err := export.BoardPNG(wc, b.Store.Elements(), export.PNGOptions{Images: images}); err != nil {
			dialog.ShowError(err, w)
		}
	}, w)
	save.SetFileName(b.Gate.Project().Name + ".png")
	save.SetFilter(fstorage.NewExtensionFileFilter([]string{".png"}))
	save.Show()
}
