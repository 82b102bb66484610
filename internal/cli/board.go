/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"taski/internal/backend"
	"taski/internal/board"
	"taski/internal/bundle"
	"taski/internal/domain"
	"taski/internal/geom"
	"taski/internal/outline"
	"taski/internal/session"
	"taski/internal/storage"
	"taski/internal/viewport"

	"github.com/spf13/cobra"
)

func newBoardCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "board",
		Aliases: []string{"b"},
		Short:   "Inspect and edit the elements of a board",
	}
	cmd.AddCommand(
		newBoardShowCmd(app),
		newBoardSaveCmd(app),
		newBoardOpenCmd(app),
		newBoardAddCmd(app),
		newBoardEditCmd(app),
		newBoardRemoveCmd(app),
		newBoardImportCmd(app),
		newBoardPackCmd(app),
		newBoardUnpackCmd(app),
		newBoardHistoryCmd(app),
	)
	return cmd
}

// openBoard opens projectID without live updates. Creation failures are
// stored in *failed.
func openBoard(ctx context.Context, app *App, projectID string, failed *error) (*session.Board, *backend.Client, error) {
	c, err := app.client()
	if err != nil {
		return nil, nil, err
	}
	user, err := app.user()
	if err != nil {
		return nil, nil, err
	}
	d := session.Deps{
		User:     user,
		Projects: c,
		Elements: c,
		Files:    c,
		Recorder: app.tel,
		Frames:   viewport.NewManualFrames(),
		Viewport: viewport.ConfigFrom(app.Config.Canvas),
	}
	if failed != nil {
		d.OnCreationFailed = func(e *board.CreationFailedError) { *failed = e }
	}
	b, err := session.Open(ctx, d, projectID)
	if err != nil {
		return nil, nil, err
	}
	return b, c, nil
}

// mutateBoard opens projectID, runs fn and waits for its persistence calls.
func mutateBoard(cmd *cobra.Command, app *App, projectID string, fn func(context.Context, *session.Board, *backend.Client) (any, error)) error {
	ctx := app.context(cmd)
	var failed error
	b, c, err := openBoard(ctx, app, projectID, &failed)
	if err != nil {
		return err
	}
	defer b.Close()
	if b.ReadOnly() {
		return fmt.Errorf("%w: board %s is read-only for you", board.ErrMutationRejected, projectID)
	}
	out, err := fn(ctx, b, c)
	if err != nil {
		return err
	}
	b.Store.Wait()
	if failed != nil {
		return failed
	}
	if out == nil {
		return nil
	}
	return writeOut(cmd, app, map[string]any{"data": out})
}

func newBoardShowCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "show <project-id>",
		Short: "Print the board with its elements in render order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, _, err := openBoard(app.context(cmd), app, args[0], nil)
			if err != nil {
				return err
			}
			defer b.Close()
			return writeOut(cmd, app, b.Snapshot())
		},
	}
}

func newBoardSaveCmd(app *App) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "save <project-id>",
		Short: "Write a local board file (keeps a backup of the previous one)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, _, err := openBoard(app.context(cmd), app, args[0], nil)
			if err != nil {
				return err
			}
			defer b.Close()
			path := storage.BoardFilePath(dir, args[0])
			if err := storage.WriteBoardSnapshot(path, b.Snapshot()); err != nil {
				return err
			}
			writeLine(cmd, "saved %s", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", ".", "Directory for the board file")
	return cmd
}

func newBoardOpenCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "open <file>",
		Short: "Summarize a local board file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := storage.ReadBoardSnapshot(args[0])
			if err != nil {
				return err
			}
			return writeOut(cmd, app, map[string]any{"data": summarize(args[0], snap)})
		},
	}
}

type boardSummary struct {
	File     string         `json:"file"`
	Project  string         `json:"project"`
	Name     string         `json:"name"`
	SavedAt  string         `json:"savedAt,omitempty"`
	Elements int            `json:"elements"`
	ByType   map[string]int `json:"byType"`
	Images   []string       `json:"images,omitempty"`
}

func summarize(path string, snap storage.BoardSnapshot) boardSummary {
	s := boardSummary{
		File:     filepath.Base(path),
		Project:  snap.Project.ID,
		Name:     snap.Project.Name,
		Elements: len(snap.Elements),
		ByType:   map[string]int{},
	}
	if !snap.SavedAt.IsZero() {
		s.SavedAt = snap.SavedAt.Format("2006-01-02T15:04:05Z07:00")
	}
	for _, e := range snap.Elements {
		s.ByType[string(e.Type)]++
		if e.ImageRef != "" {
			s.Images = append(s.Images, e.ImageRef)
		}
	}
	sort.Strings(s.Images)
	return s
}

func newBoardAddCmd(app *App) *cobra.Command {
	var (
		typ            string
		x, y           float64
		title, content string
		imagePath      string
	)
	cmd := &cobra.Command{
		Use:   "add <project-id>",
		Short: "Add a card, text or image element",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := domain.ParseElementType(typ)
			if err != nil {
				return err
			}
			if t == domain.TypeImage && imagePath == "" {
				return errors.New("image elements need --file")
			}
			return mutateBoard(cmd, app, args[0], func(ctx context.Context, b *session.Board, c *backend.Client) (any, error) {
				d := domain.Draft{Type: t, X: x, Y: y, ZIndex: b.Store.MaxZ() + 1, Title: title, Content: content}
				if t == domain.TypeCard && d.Title == "" {
					d.Title = "New Card"
				}
				if t == domain.TypeImage {
					ref, err := uploadImage(ctx, c, imagePath)
					if err != nil {
						return nil, err
					}
					d.ImageRef = ref
				}
				e, err := b.Store.CreateOptimistic(ctx, d)
				if err != nil {
					return nil, err
				}
				return e, nil
			})
		},
	}
	cmd.Flags().StringVar(&typ, "type", "card", "Element type (card|text|image)")
	cmd.Flags().Float64Var(&x, "x", 0, "World x coordinate")
	cmd.Flags().Float64Var(&y, "y", 0, "World y coordinate")
	cmd.Flags().StringVar(&title, "title", "", "Card title")
	cmd.Flags().StringVar(&content, "content", "", "Card or text content")
	cmd.Flags().StringVar(&imagePath, "file", "", "Image file to upload for image elements")
	return cmd
}

func uploadImage(ctx context.Context, c *backend.Client, path string) (string, error) {
	ct := contentTypeFor(path)
	if backend.ExtFor(ct) == "" {
		return "", fmt.Errorf("unsupported image type %q", filepath.Ext(path))
	}
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return c.UploadFile(ctx, f, ct)
}

func contentTypeFor(path string) string {
	switch filepath.Ext(path) {
	case ".png", ".PNG":
		return "image/png"
	case ".jpg", ".jpeg", ".JPG", ".JPEG":
		return "image/jpeg"
	case ".gif", ".GIF":
		return "image/gif"
	case ".webp", ".WEBP":
		return "image/webp"
	case ".svg", ".SVG":
		return "image/svg+xml"
	}
	return "application/octet-stream"
}

func newBoardEditCmd(app *App) *cobra.Command {
	var title, content string
	cmd := &cobra.Command{
		Use:   "edit <project-id> <element-id>",
		Short: "Change an element's title or content (empty content deletes it)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var edit board.ContentEdit
			if cmd.Flags().Changed("title") {
				edit.Title = &title
			}
			if cmd.Flags().Changed("content") {
				edit.Content = &content
			}
			if edit.Title == nil && edit.Content == nil {
				return errors.New("nothing to change; pass --title or --content")
			}
			return mutateBoard(cmd, app, args[0], func(ctx context.Context, b *session.Board, _ *backend.Client) (any, error) {
				deleted, err := b.Store.SaveContent(ctx, args[1], edit)
				if err != nil {
					return nil, err
				}
				if deleted {
					writeLine(cmd, "deleted %s (no content left)", args[1])
					return nil, nil
				}
				e, _ := b.Store.Get(args[1])
				return e, nil
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "New title")
	cmd.Flags().StringVar(&content, "content", "", "New content")
	return cmd
}

func newBoardRemoveCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <project-id> <element-id>",
		Aliases: []string{"delete"},
		Short:   "Delete an element",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := mutateBoard(cmd, app, args[0], func(ctx context.Context, b *session.Board, _ *backend.Client) (any, error) {
				return nil, b.Store.Delete(ctx, args[1])
			})
			if err == nil {
				writeLine(cmd, "deleted %s", args[1])
			}
			return err
		},
	}
}

func newBoardImportCmd(app *App) *cobra.Command {
	var x, y, gap float64
	cmd := &cobra.Command{
		Use:   "import <project-id> <outline-file>",
		Short: "Create cards, text and images from a plain-text outline",
		Long: `Headings ("# Todo") start columns, "- item" lines become cards with
indented lines as content, "![caption](file)" uploads an image and any
other line becomes a text element.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			o, errs := outline.Parse(string(data))
			if len(errs) > 0 {
				for _, e := range errs {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s:%s\n", args[1], e.Error())
				}
				return fmt.Errorf("%d outline errors", len(errs))
			}
			base := filepath.Dir(args[1])
			return mutateBoard(cmd, app, args[0], func(ctx context.Context, b *session.Board, c *backend.Client) (any, error) {
				placed := outline.Layout(o, geom.Pt{X: x, Y: y}, gap, b.Store.MaxZ())
				created := make([]domain.Element, 0, len(placed))
				for _, p := range placed {
					if p.Path != "" {
						path := p.Path
						if !filepath.IsAbs(path) {
							path = filepath.Join(base, path)
						}
						ref, err := uploadImage(ctx, c, path)
						if err != nil {
							return created, fmt.Errorf("line %d: %w", p.Line, err)
						}
						p.Draft.ImageRef = ref
					}
					e, err := b.Store.CreateOptimistic(ctx, p.Draft)
					if err != nil {
						return created, fmt.Errorf("line %d: %w", p.Line, err)
					}
					created = append(created, e)
				}
				return created, nil
			})
		},
	}
	cmd.Flags().Float64Var(&x, "x", 0, "World x of the first column")
	cmd.Flags().Float64Var(&y, "y", 0, "World y of the first row")
	cmd.Flags().Float64Var(&gap, "gap", outline.DefaultGap, "Spacing between columns and rows")
	return cmd
}

func newBoardPackCmd(app *App) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "pack <project-id>",
		Short: "Bundle a board with its images into one zip file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := app.context(cmd)
			b, c, err := openBoard(ctx, app, args[0], nil)
			if err != nil {
				return err
			}
			defer b.Close()
			if out == "" {
				out = args[0] + bundle.Ext
			}
			fetch := func(ref string, w io.Writer) error { return c.DownloadFile(ctx, ref, w) }
			if err := bundle.Write(out, b.Snapshot(), fetch); err != nil {
				return err
			}
			writeLine(cmd, "packed %s", out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Bundle path (default <project-id>"+bundle.Ext+")")
	return cmd
}

func newBoardUnpackCmd(app *App) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "unpack <bundle>",
		Short: "Create a new board from a bundle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := app.context(cmd)
			r, err := bundle.Open(args[0])
			if err != nil {
				return err
			}
			defer r.Close()
			if name == "" {
				name = r.Snapshot.Project.Name
			}

			var failed error
			ps, err := openProjects(ctx, app, &failed)
			if err != nil {
				return err
			}
			p, err := ps.CreateOptimistic(ctx, name)
			if err != nil {
				ps.Close()
				return err
			}
			ps.Wait()
			ps.Close()
			if failed != nil {
				return failed
			}

			return mutateBoard(cmd, app, p.ID, func(ctx context.Context, b *session.Board, c *backend.Client) (any, error) {
				refs := map[string]string{}
				n := 0
				for _, e := range r.Snapshot.Elements {
					d := domain.Draft{Type: e.Type, X: e.X, Y: e.Y, ZIndex: e.ZIndex, Title: e.Title, Content: e.Content}
					if e.ImageRef != "" {
						ref, err := copyBundledFile(ctx, r, c, e.ImageRef, refs)
						if err != nil {
							return nil, err
						}
						d.ImageRef = ref
					}
					if _, err := b.Store.CreateOptimistic(ctx, d); err != nil {
						return nil, err
					}
					n++
				}
				return map[string]any{"project": p, "elements": n}, nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Name of the new board (defaults to the bundled name)")
	return cmd
}

// copyBundledFile uploads the bundled file for ref once and returns the new
// reference. Files missing from the bundle yield an empty reference.
func copyBundledFile(ctx context.Context, r *bundle.Reader, c *backend.Client, ref string, done map[string]string) (string, error) {
	if nr, ok := done[ref]; ok {
		return nr, nil
	}
	if !r.HasFile(ref) {
		done[ref] = ""
		return "", nil
	}
	f, err := r.File(ref)
	if err != nil {
		return "", err
	}
	defer f.Close()
	nr, err := c.UploadFile(ctx, f, contentTypeFor(ref))
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", ref, err)
	}
	done[ref] = nr
	return nr, nil
}
