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
	"os"
	"path/filepath"

	"taski/internal/ui"

	"github.com/spf13/cobra"
)

func newUICmd(app *App) *cobra.Command {
	var autosave string
	cmd := &cobra.Command{
		Use:   "ui <project-id>",
		Short: "Open a board in the desktop canvas",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if autosave == "" {
				autosave = defaultAutosaveDir()
			}
			return ui.Run(ui.Options{
				ProjectID:   args[0],
				Config:      app.Config,
				Token:       app.Token,
				Recorder:    app.tel,
				AutosaveDir: autosave,
			})
		},
	}
	cmd.Flags().StringVar(&autosave, "autosave-dir", "", "Where crash autosaves and reports go")
	return cmd
}

func defaultAutosaveDir() string {
	if dir, err := os.UserConfigDir(); err == nil && dir != "" {
		return filepath.Join(dir, "taski", "autosave")
	}
	return filepath.Join(os.TempDir(), "taski-autosave")
}
