/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package cli wires the taski command tree.
package cli

import (
	"context"
	"log/slog"
	"strings"

	"taski/internal/backend"
	"taski/internal/config"
	applog "taski/internal/log"
	"taski/internal/session"
	"taski/internal/telemetry"

	"github.com/spf13/cobra"
)

// App carries the loaded configuration and global flags of one invocation.
type App struct {
	Config config.AppConfig
	Token  string
	Pretty bool

	backendURL string
	tokenFlag  string
	loaded     bool
	tel        *telemetry.Client
}

func NewRootCmd() *cobra.Command {
	app := &App{}

	cmd := &cobra.Command{
		Use:          "taski",
		Short:        "Taski collaborative canvas: server, client and exports",
		SilenceUsage: true,
		Example: strings.TrimSpace(`
  # Run a local server backed by SQLite
  taski serve --dev-tokens

  # Sign in against it and create a board
  taski config login --dev alice
  taski projects create "Sprint planning"

  # Open the desktop canvas (build with -tags fyne)
  taski ui <project-id>
`),
	}

	cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return app.load()
	}
	cmd.PersistentPostRunE = func(cmd *cobra.Command, args []string) error {
		if app.tel != nil {
			app.tel.Close()
		}
		return nil
	}

	cmd.PersistentFlags().StringVar(&app.backendURL, "backend", "", "Backend base URL (overrides backend.base_url)")
	cmd.PersistentFlags().StringVar(&app.tokenFlag, "token", "", "Bearer token (overrides the keyring token)")
	cmd.PersistentFlags().BoolVar(&app.Pretty, "pretty", false, "Pretty-print JSON output")

	cmd.AddCommand(newServeCmd(app))
	cmd.AddCommand(newProjectsCmd(app))
	cmd.AddCommand(newBoardCmd(app))
	cmd.AddCommand(newExportCmd(app))
	cmd.AddCommand(newUICmd(app))
	cmd.AddCommand(newConfigCmd(app))
	cmd.AddCommand(newVersionCmd(app))

	return cmd
}

func (app *App) load() error {
	if app.loaded {
		return nil
	}
	cfg, tok, err := config.Load()
	if err != nil {
		return err
	}
	if app.backendURL != "" {
		cfg.Backend.BaseURL = app.backendURL
	}
	if app.tokenFlag != "" {
		tok = app.tokenFlag
	}
	app.Config, app.Token, app.loaded = cfg, tok, true
	applog.Init(applog.Options{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		AddSource: cfg.Logging.Source,
		File:      cfg.Logging.File,
	})
	app.tel = telemetry.NewDefault(telemetry.FromConfig(cfg))
	applog.WithComponent("cli").Debug("config loaded", slog.String("backend", cfg.Backend.BaseURL), slog.Bool("token", tok != ""))
	return nil
}

// client returns a backend client; it fails without a token.
func (app *App) client() (*backend.Client, error) {
	if app.Token == "" {
		return nil, session.ErrNoToken
	}
	return backend.NewClientFromConfig(app.Config.Backend, app.Token), nil
}

// user resolves the acting user id from config or the token subject.
func (app *App) user() (string, error) {
	if app.Config.General.UserID != "" {
		return app.Config.General.UserID, nil
	}
	if app.Token == "" {
		return "", session.ErrNoToken
	}
	return session.TokenSubject(app.Token)
}

func (app *App) context(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
