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
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"taski/internal/backend"
	"taski/internal/config"
	applog "taski/internal/log"
	"taski/internal/realtime"
	"taski/internal/storage"

	"github.com/spf13/cobra"
)

type serveOptions struct {
	Addr        string
	Driver      string
	DatabaseURL string
	SQLitePath  string
	FilesDir    string
	DevTokens   bool
}

func newServeCmd(app *App) *cobra.Command {
	var opts serveOptions
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Taski backend (REST + realtime)",
		RunE: func(cmd *cobra.Command, args []string) error {
			srv := app.Config.Server
			if !cmd.Flags().Changed("addr") {
				opts.Addr = srv.Addr
			}
			if !cmd.Flags().Changed("driver") {
				opts.Driver = srv.Driver
			}
			if !cmd.Flags().Changed("database-url") {
				opts.DatabaseURL = srv.DatabaseURL
			}
			if !cmd.Flags().Changed("sqlite") {
				opts.SQLitePath = srv.SQLitePath
			}
			if !cmd.Flags().Changed("files") {
				opts.FilesDir = srv.FilesDir
			}
			ctx, stop := signal.NotifyContext(app.context(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts, os.Getenv(config.EnvAuthSecret))
		},
	}
	cmd.Flags().StringVar(&opts.Addr, "addr", "", "Listen address")
	cmd.Flags().StringVar(&opts.Driver, "driver", "", "Database driver (sqlite|postgres)")
	cmd.Flags().StringVar(&opts.DatabaseURL, "database-url", "", "Postgres connection string")
	cmd.Flags().StringVar(&opts.SQLitePath, "sqlite", "", "SQLite database file")
	cmd.Flags().StringVar(&opts.FilesDir, "files", "", "Directory for uploaded images")
	cmd.Flags().BoolVar(&opts.DevTokens, "dev-tokens", false, "Enable POST /api/auth/token for local development")
	return cmd
}

// runServe opens the configured repository and serves until ctx ends.
// With postgres, changes reach the hub through LISTEN/NOTIFY instead of the
// request handlers so writes from other processes are broadcast as well.
func runServe(ctx context.Context, opts serveOptions, secret string) error {
	l := applog.WithComponent("serve")
	hub := realtime.NewHub()

	var (
		repo     backend.Repository
		listener *backend.PGListener
	)
	switch opts.Driver {
	case "", "sqlite":
		r, err := storage.OpenSQLite(opts.SQLitePath)
		if err != nil {
			return fmt.Errorf("open sqlite: %w", err)
		}
		defer r.Close()
		repo = r
	case "postgres":
		if opts.DatabaseURL == "" {
			return fmt.Errorf("postgres driver needs --database-url or %s", config.EnvDatabaseURL)
		}
		r, err := backend.OpenPG(ctx, opts.DatabaseURL)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		defer r.Close()
		repo = r
		listener = backend.NewPGListener(r, backend.HubEvents{Hub: hub})
	default:
		return fmt.Errorf("unsupported driver %q", opts.Driver)
	}

	srv := backend.NewServer(repo, hub, backend.DiskFiles{Dir: opts.FilesDir}, secret)
	srv.DevTokens = opts.DevTokens
	if listener != nil {
		srv.Events = nil
		go func() {
			if err := listener.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				l.Error("listener stopped", slog.Any("err", err))
			}
		}()
	}
	l.Info("serving", slog.String("driver", opts.Driver), slog.String("addr", opts.Addr), slog.Bool("dev_tokens", opts.DevTokens))
	return srv.ListenAndServe(ctx, opts.Addr)
}
