package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskline/internal/config"
	"taskline/internal/engine"
	"taskline/internal/engine/auth"
	"taskline/internal/repo"
)

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectUpdateCmd())
	return prj
}

func projectUpdateCmd() *cobra.Command {
	var status, desc string
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Change the project's status or description",
		RunE: func(cmd *cobra.Command, args []string) error {
			var description *string
			if cmd.Flags().Changed("description") {
				description = &desc
			}
			if status == "" && description == nil {
				return fmt.Errorf("nothing to update; pass --status or --description")
			}
			return authorized(cmd.Context(), auth.PermRBACManage, func(ctx context.Context, e engine.Engine) error {
				p, err := e.UpdateProject(ctx, e.Config.Project.ID, status, description, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "active, paused or closed")
	cmd.Flags().StringVar(&desc, "description", "", "new description")
	return cmd
}

func projectCreateCmd() *cobra.Command {
	var id, desc, file string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a project; the calling actor becomes its owner",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default(id)
			if file != "" {
				loaded, err := config.FromFile(file)
				if err != nil {
					return err
				}
				cfg = loaded
				cfg.Project.ID = id
			}
			ctx := cmd.Context()
			conn, err := openDB(ctx)
			if err != nil {
				return err
			}
			defer conn.Close()
			e := engine.New(conn, cfg)
			e.Logger = logger.Logger
			p, err := e.InitProject(ctx, id, desc, actorID(), cfg)
			if err != nil {
				return err
			}
			return printJSONOrTable(p)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "project id")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().StringVar(&file, "config", "", "seed from this YAML config instead of the defaults")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func projectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the project with task counts by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return authorized(cmd.Context(), auth.PermTaskRead, func(ctx context.Context, e engine.Engine) error {
				p, err := e.Repo.GetProject(ctx, e.Config.Project.ID)
				if err != nil {
					return err
				}
				counts, err := e.Repo.CountTasksByStatus(ctx, p.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"project": p, "task_counts": counts})
				}
				fmt.Printf("%s (%s, %s)\n", p.ID, p.Kind, p.Status)
				if p.Description != "" {
					fmt.Println(p.Description)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Status", "Tasks"})
				statuses := make([]string, 0, len(counts))
				for s := range counts {
					statuses = append(statuses, s)
				}
				sort.Strings(statuses)
				for _, s := range statuses {
					tw.AppendRow(table.Row{s, counts[s]})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func projectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects in the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			conn, err := openDB(ctx)
			if err != nil {
				return err
			}
			defer conn.Close()
			items, err := repo.Repo{DB: conn}.ListProjects(ctx)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(items)
			}
			tw := newTable()
			tw.AppendHeader(table.Row{"ID", "Kind", "Status", "Created"})
			for _, p := range items {
				tw.AppendRow(table.Row{p.ID, p.Kind, p.Status, p.CreatedAt})
			}
			tw.Render()
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage the project config stored in the DB",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configImportCmd())
	cfg.AddCommand(configDefaultCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the project config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return authorized(cmd.Context(), auth.PermRBACManage, func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
}

func configImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Validate a YAML config and store it for the project",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromFile(filePath)
			if err != nil {
				return err
			}
			return authorized(cmd.Context(), auth.PermRBACManage, func(ctx context.Context, e engine.Engine) error {
				projectID := e.Config.Project.ID
				cfg.Project.ID = projectID
				if err := e.ImportConfig(ctx, projectID, cfg, actorID()); err != nil {
					return err
				}
				return printJSONOrTable(cfg)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func configDefaultCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "default",
		Short: "Print the default YAML config",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprint(os.Stdout, config.GenerateDefault(id))
			return err
		},
	}
	cmd.Flags().StringVar(&id, "id", "my-project", "project id written into the config")
	return cmd
}

func rbacCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rbac",
		Short: "Role management",
	}
	cmd.AddCommand(rbacWhoamiCmd())
	cmd.AddCommand(rbacGrantCmd())
	cmd.AddCommand(rbacRevokeCmd())
	cmd.AddCommand(rbacAPIKeyCmd())
	return cmd
}

func rbacWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the actor's roles and permissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				access, err := e.ActorAccess(ctx, e.Config.Project.ID, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(access)
			})
		},
	}
}

func rbacGrantCmd() *cobra.Command {
	var target, role string
	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Grant a role to an actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return authorized(cmd.Context(), auth.PermRBACManage, func(ctx context.Context, e engine.Engine) error {
				return e.GrantRole(ctx, e.Config.Project.ID, target, role, actorID())
			})
		},
	}
	cmd.Flags().StringVar(&target, "actor", "", "actor id")
	cmd.Flags().StringVar(&role, "role", "", "role id")
	_ = cmd.MarkFlagRequired("actor")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func rbacRevokeCmd() *cobra.Command {
	var target, role string
	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke a role from an actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return authorized(cmd.Context(), auth.PermRBACManage, func(ctx context.Context, e engine.Engine) error {
				return e.RevokeRole(ctx, e.Config.Project.ID, target, role, actorID())
			})
		},
	}
	cmd.Flags().StringVar(&target, "actor", "", "actor id")
	cmd.Flags().StringVar(&role, "role", "", "role id")
	_ = cmd.MarkFlagRequired("actor")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func rbacAPIKeyCmd() *cobra.Command {
	var target, name string
	cmd := &cobra.Command{
		Use:   "api-key",
		Short: "Issue an API key for an actor; the secret is printed once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return authorized(cmd.Context(), auth.PermRBACManage, func(ctx context.Context, e engine.Engine) error {
				if target == "" {
					target = actorID()
				}
				tx, err := e.DB.BeginTx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				if err := e.Repo.EnsureActor(ctx, tx, target, e.Now().UTC().Format(time.RFC3339)); err != nil {
					return err
				}
				key, secret, err := e.Repo.IssueAPIKey(ctx, tx, target, name)
				if err != nil {
					return err
				}
				if err := tx.Commit(); err != nil {
					return err
				}
				e.Logger.Info().Str("actor_id", target).Str("key_id", key.ID).Msg("api key issued")
				return printJSONOrTable(map[string]string{"id": key.ID, "actor_id": target, "key": secret})
			})
		},
	}
	cmd.Flags().StringVar(&target, "actor", "", "actor id (defaults to --actor-id)")
	cmd.Flags().StringVar(&name, "name", "", "label for the key")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the newest events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return authorized(cmd.Context(), auth.PermProjectEventsRead, func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, repo.EventFilters{
					ProjectID:  e.Config.Project.ID,
					Type:       evtType,
					EntityKind: entityKind,
					EntityID:   entityID,
					Limit:      n,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Time", "Type", "Entity", "Actor", "Payload"})
				for _, evt := range events {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.EntityKind + ":" + evt.EntityID, evt.ActorID, evt.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind (project, task, actor)")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}
