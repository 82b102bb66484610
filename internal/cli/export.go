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
	"bytes"
	"context"
	"errors"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"net/url"

	"taski/internal/backend"
	"taski/internal/export"
	"taski/internal/storage"

	"github.com/spf13/cobra"
)

func newExportCmd(app *App) *cobra.Command {
	var (
		file    string
		preset  string
		formats []string
		outDir  string
		name    string
		scale   float64
	)
	cmd := &cobra.Command{
		Use:   "export [project-id]",
		Short: "Render a board to PNG, SVG or PDF",
		Long: `Render a board from the backend, or from a local board file with --file.
Files are written to <out>/<preset>/<name>.<format>.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := app.context(cmd)
			opt := export.BatchOptions{
				Preset:  export.PresetName(preset),
				Formats: formats,
				Name:    name,
				OutDir:  outDir,
				Scale:   scale,
			}
			var snap storage.BoardSnapshot
			switch {
			case file != "":
				s, err := storage.ReadBoardSnapshot(file)
				if err != nil {
					return err
				}
				snap = s
			case len(args) == 1:
				b, c, err := openBoard(ctx, app, args[0], nil)
				if err != nil {
					return err
				}
				snap = b.Snapshot()
				b.Close()
				opt.Images = remoteImages(ctx, c)
				opt.ImageHref = func(ref string) string { return c.BaseURL + "/api/files/" + url.PathEscape(ref) }
			default:
				return errors.New("pass a project id or --file")
			}
			if opt.Name == "" {
				opt.Name = snap.Project.ID
			}
			opt.Title = snap.Project.Name
			written, err := export.BatchExport(snap.Elements, opt)
			for _, p := range written {
				writeLine(cmd, "wrote %s", p)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "Export a local board file instead of a remote board")
	cmd.Flags().StringVar(&preset, "preset", string(export.PresetWeb), "Export preset (web|print)")
	cmd.Flags().StringSliceVar(&formats, "format", nil, "Formats to write (png,svg,pdf); preset defaults when empty")
	cmd.Flags().StringVarP(&outDir, "out", "o", "exports", "Output directory")
	cmd.Flags().StringVar(&name, "name", "", "Base file name (defaults to the project id)")
	cmd.Flags().Float64Var(&scale, "scale", 0, "PNG pixels per world unit")
	return cmd
}

// remoteImages fetches and decodes image elements for raster export.
func remoteImages(ctx context.Context, c *backend.Client) export.ImageSource {
	return func(ref string) (image.Image, error) {
		var buf bytes.Buffer
		if err := c.DownloadFile(ctx, ref, &buf); err != nil {
			return nil, err
		}
		m, _, err := image.Decode(&buf)
		return m, err
	}
}
