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
	"errors"
	"fmt"
	"strings"

	"taski/internal/backend"
	"taski/internal/config"
	"taski/internal/session"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show and change the user configuration",
	}
	cmd.AddCommand(
		newConfigShowCmd(app),
		newConfigPathCmd(app),
		newConfigSetCmd(app),
		newConfigLoginCmd(app),
		newConfigLogoutCmd(app),
	)
	return cmd
}

func newConfigShowCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := yaml.Marshal(app.Config)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), string(out))
			for _, k := range config.Keys() {
				if env, ok := config.EnvOverrideFor(k); ok {
					writeLine(cmd, "# %s overridden by %s", k, env)
				}
			}
			if app.Token != "" {
				writeLine(cmd, "# token: set")
			}
			return nil
		},
	}
}

func newConfigPathCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file location",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := config.ConfigPath()
			if err != nil {
				return err
			}
			writeLine(cmd, "%s", p)
			return nil
		},
	}
}

func newConfigSetCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a config key, e.g. backend.base_url",
		Long:  "Keys: " + strings.Join(config.Keys(), ", "),
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			// Start from the file contents, not the env-overridden view.
			cfg, err := config.LoadFile()
			if err != nil {
				return err
			}
			if err := config.Set(&cfg, args[0], args[1]); err != nil {
				return err
			}
			if err := config.Save(cfg, ""); err != nil {
				return err
			}
			if env, ok := config.EnvOverrideFor(args[0]); ok {
				writeLine(cmd, "saved; note %s currently overrides %s", env, args[0])
				return nil
			}
			writeLine(cmd, "saved %s", args[0])
			return nil
		},
	}
}

func newConfigLoginCmd(app *App) *cobra.Command {
	var dev string
	cmd := &cobra.Command{
		Use:   "login [token]",
		Short: "Store a backend token in the OS keyring",
		Long:  "Pass a token, or --dev <user> to have a development server sign one.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var tok string
			switch {
			case len(args) == 1:
				tok = strings.TrimSpace(args[0])
			case dev != "":
				c := backend.NewClientFromConfig(app.Config.Backend, "")
				t, err := c.DevToken(app.context(cmd), dev)
				if err != nil {
					return fmt.Errorf("request dev token: %w", err)
				}
				tok = t
			default:
				return errors.New("pass a token or --dev <user>")
			}
			sub, err := session.TokenSubject(tok)
			if err != nil {
				return err
			}
			cfg, err := config.LoadFile()
			if err != nil {
				return err
			}
			if err := config.Save(cfg, tok); err != nil {
				return err
			}
			writeLine(cmd, "logged in as %s", sub)
			return nil
		},
	}
	cmd.Flags().StringVar(&dev, "dev", "", "Request a development token for this user id")
	return cmd
}

func newConfigLogoutCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored backend token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.ClearToken(); err != nil {
				return err
			}
			writeLine(cmd, "logged out")
			return nil
		},
	}
}
