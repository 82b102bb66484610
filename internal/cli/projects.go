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

	"taski/internal/board"
	"taski/internal/domain"
	"taski/internal/projects"

	"github.com/spf13/cobra"
)

func newProjectsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "projects",
		Aliases: []string{"project", "p"},
		Short:   "List and manage boards",
	}
	cmd.AddCommand(
		newProjectsListCmd(app),
		newProjectsCreateCmd(app),
		newProjectsShowCmd(app),
		newProjectsRenameCmd(app),
		newProjectsVisibilityCmd(app),
		newProjectsShareCmd(app, true),
		newProjectsShareCmd(app, false),
		newProjectsDeleteCmd(app),
	)
	return cmd
}

// openProjects loads the caller's project list. The creation-failed callback
// stores the failure in *failed so callers can report it after Wait.
func openProjects(ctx context.Context, app *App, failed *error) (*projects.Store, error) {
	c, err := app.client()
	if err != nil {
		return nil, err
	}
	user, err := app.user()
	if err != nil {
		return nil, err
	}
	opts := []projects.Option{projects.WithElements(c), projects.WithFiles(c), projects.WithRecorder(app.tel)}
	if failed != nil {
		opts = append(opts, projects.OnCreationFailed(func(e *board.CreationFailedError) { *failed = e }))
	}
	s := projects.New(user, c, opts...)
	if err := s.Load(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func newProjectsListCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List boards you own or collaborate on",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openProjects(app.context(cmd), app, nil)
			if err != nil {
				return err
			}
			defer s.Close()
			return writeOut(cmd, app, map[string]any{"data": s.Projects()})
		},
	}
}

func newProjectsCreateCmd(app *App) *cobra.Command {
	var public bool
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a board",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := app.context(cmd)
			var failed error
			s, err := openProjects(ctx, app, &failed)
			if err != nil {
				return err
			}
			defer s.Close()
			p, err := s.CreateOptimistic(ctx, args[0])
			if err != nil {
				return err
			}
			s.Wait()
			if failed != nil {
				return failed
			}
			if public {
				if err := s.UpdateSettings(ctx, p.ID, p.Name, true); err != nil {
					return err
				}
				s.Wait()
				p.IsPublic = true
			}
			return writeOut(cmd, app, map[string]any{"data": p})
		},
	}
	cmd.Flags().BoolVar(&public, "public", false, "Make the board viewable by anyone")
	return cmd
}

func newProjectsShowCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "show <project-id>",
		Short: "Show one board's settings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := app.client()
			if err != nil {
				return err
			}
			p, err := c.GetProject(app.context(cmd), args[0])
			if err != nil {
				return err
			}
			return writeOut(cmd, app, map[string]any{"data": p})
		},
	}
}

// updateProject runs fn against a loaded store and prints the resulting project.
func updateProject(cmd *cobra.Command, app *App, id string, fn func(context.Context, *projects.Store, domain.Project) error) error {
	ctx := app.context(cmd)
	s, err := openProjects(ctx, app, nil)
	if err != nil {
		return err
	}
	defer s.Close()
	p, ok := s.Get(id)
	if !ok {
		return board.ErrNotFound
	}
	if err := fn(ctx, s, p); err != nil {
		if errors.Is(err, board.ErrMutationRejected) {
			return errors.New("only the owner can change this board")
		}
		return err
	}
	s.Wait()
	p, _ = s.Get(id)
	return writeOut(cmd, app, map[string]any{"data": p})
}

func newProjectsRenameCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <project-id> <name>",
		Short: "Rename a board",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return updateProject(cmd, app, args[0], func(ctx context.Context, s *projects.Store, p domain.Project) error {
				return s.UpdateSettings(ctx, p.ID, args[1], p.IsPublic)
			})
		},
	}
}

func newProjectsVisibilityCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:       "visibility <project-id> public|private",
		Short:     "Change who can view a board",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"public", "private"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var public bool
			switch args[1] {
			case "public":
				public = true
			case "private":
			default:
				return errors.New("visibility must be public or private")
			}
			return updateProject(cmd, app, args[0], func(ctx context.Context, s *projects.Store, p domain.Project) error {
				return s.UpdateSettings(ctx, p.ID, p.Name, public)
			})
		},
	}
}

func newProjectsShareCmd(app *App, add bool) *cobra.Command {
	use, short := "share <project-id> <user-id>", "Add a collaborator"
	if !add {
		use, short = "unshare <project-id> <user-id>", "Remove a collaborator"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return updateProject(cmd, app, args[0], func(ctx context.Context, s *projects.Store, p domain.Project) error {
				if add {
					return s.AddCollaborator(ctx, p.ID, args[1])
				}
				return s.RemoveCollaborator(ctx, p.ID, args[1])
			})
		},
	}
}

func newProjectsDeleteCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <project-id>",
		Short: "Delete a board with all its elements",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := app.context(cmd)
			s, err := openProjects(ctx, app, nil)
			if err != nil {
				return err
			}
			defer s.Close()
			if err := s.Delete(ctx, args[0]); err != nil {
				return err
			}
			writeLine(cmd, "deleted %s", args[0])
			return nil
		},
	}
}
