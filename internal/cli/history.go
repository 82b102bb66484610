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
	"fmt"
	"os"
	"path/filepath"
	"time"

	"taski/internal/storage"

	"github.com/spf13/cobra"
)

func newBoardHistoryCmd(app *App) *cobra.Command {
	var db string
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Keep local point-in-time copies of boards",
	}
	cmd.PersistentFlags().StringVar(&db, "db", "", "History database (default: user config dir)")
	cmd.AddCommand(newHistoryRecordCmd(app, &db), newHistoryListCmd(app, &db), newHistoryCheckoutCmd(app, &db))
	return cmd
}

func openHistory(db string) (*storage.SQLiteRepository, error) {
	if db == "" {
		db = defaultHistoryPath()
	}
	return storage.OpenSQLite(db)
}

func defaultHistoryPath() string {
	if dir, err := os.UserConfigDir(); err == nil && dir != "" {
		return filepath.Join(dir, "taski", "history.db")
	}
	return filepath.Join(os.TempDir(), "taski-history.db")
}

func newHistoryRecordCmd(app *App, db *string) *cobra.Command {
	var keep int
	cmd := &cobra.Command{
		Use:   "record <project-id>",
		Short: "Store the current state of a board",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := app.context(cmd)
			b, _, err := openBoard(ctx, app, args[0], nil)
			if err != nil {
				return err
			}
			snap := b.Snapshot()
			b.Close()

			h, err := openHistory(*db)
			if err != nil {
				return err
			}
			defer func() { _ = h.Close() }()
			if err := h.SaveSnapshot(ctx, snap); err != nil {
				return err
			}
			pruned, err := h.PruneOldSnapshots(ctx, args[0], keep)
			if err != nil {
				return err
			}
			writeLine(cmd, "recorded %s (%d elements, %d pruned)", args[0], len(snap.Elements), pruned)
			return nil
		},
	}
	cmd.Flags().IntVar(&keep, "keep", 20, "Snapshots to keep per board (0 keeps all)")
	return cmd
}

type historyEntry struct {
	SavedAt  string `json:"savedAt"`
	Name     string `json:"name"`
	Elements int    `json:"elements"`
}

func newHistoryListCmd(app *App, db *string) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list <project-id>",
		Short: "List recorded snapshots, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := openHistory(*db)
			if err != nil {
				return err
			}
			defer func() { _ = h.Close() }()
			snaps, err := h.ListSnapshots(app.context(cmd), args[0], limit)
			if err != nil {
				return err
			}
			out := make([]historyEntry, 0, len(snaps))
			for _, s := range snaps {
				out = append(out, historyEntry{
					SavedAt:  s.SavedAt.UTC().Format(time.RFC3339),
					Name:     s.Project.Name,
					Elements: len(s.Elements),
				})
			}
			return writeOut(cmd, app, map[string]any{"data": out})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "Maximum entries")
	return cmd
}

func newHistoryCheckoutCmd(app *App, db *string) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "checkout <project-id>",
		Short: "Write the newest recorded snapshot as a local board file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := openHistory(*db)
			if err != nil {
				return err
			}
			defer func() { _ = h.Close() }()
			snap, ok, err := h.LatestSnapshot(app.context(cmd), args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no recorded snapshot for %s", args[0])
			}
			path := storage.BoardFilePath(dir, args[0])
			if err := storage.WriteBoardSnapshot(path, snap); err != nil {
				return err
			}
			writeLine(cmd, "wrote %s", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", ".", "Directory for the board file")
	return cmd
}
