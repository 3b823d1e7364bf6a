package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskline/internal/app"
	"taskline/internal/db"
	"taskline/internal/engine"
	"taskline/internal/logging"
	"taskline/internal/migrate"
	"taskline/internal/repo"
	"taskline/internal/workflow"
)

var logger logging.Logger

var rootCmd = &cobra.Command{
	Use:   "tl",
	Short: "Taskline CLI",
	Long: `Taskline moves client work through a reviewed lifecycle.
- Workspace: the .taskline directory holding the SQLite database.
- Project: owns tasks, roles and the workflow config (stored in the DB, imported explicitly).
- Tasks: draft -> in_progress -> submitted_for_qa -> qa_in_review -> sent_to_pm -> sent_to_client -> client_approved -> completed.
  Holds, QA rejections and client rejections loop back to in_progress; archive is the exit.
- Checklist: every item must be done before a task can be submitted for QA.
- QA reviews: one open session per task; approval moves on, rejection returns the task.
- Event log: every change is recorded, view it with 'tl log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		logFile := viper.GetString("log-file")
		if logFile != "" && !filepath.IsAbs(logFile) {
			logFile = filepath.Join(workspace, logFile)
		}
		l, err := logging.New(logging.Options{
			Verbose: viper.GetBool("verbose"),
			Quiet:   viper.GetBool("quiet"),
			File:    logFile,
		})
		if err != nil {
			return err
		}
		logger = l
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return logger.Close()
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TASKLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.Bool("json", false, "output JSON")
	flags.String("actor-id", "local-user", "actor identifier")
	flags.String("project", "", "project id (defaults to the only project in the workspace)")
	flags.String("db", "", "database file (defaults to <workspace>/.taskline/taskline.db)")
	flags.String("log-file", "", "also write JSON logs to this file (rotated)")
	flags.BoolP("verbose", "v", false, "debug logging")
	flags.BoolP("quiet", "q", false, "only log warnings and errors")
	for _, name := range []string{"workspace", "json", "actor-id", "project", "db", "log-file", "verbose", "quiet"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(checklistCmd())
	rootCmd.AddCommand(qaCmd())
	rootCmd.AddCommand(rbacCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

// --- helpers ---

func actorID() string {
	return strings.TrimSpace(viper.GetString("actor-id"))
}

// openDB opens and migrates the workspace database.
func openDB(ctx context.Context) (*sql.DB, error) {
	conn, err := db.Open(db.Config{
		Workspace: viper.GetString("workspace"),
		File:      viper.GetString("db"),
	})
	if err != nil {
		return nil, err
	}
	version, err := migrate.Migrate(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	logger.Debug().Int("schema_version", version).Msg("database ready")
	return conn, nil
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	conn, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	res, err := app.Resolve(ctx, repo.Repo{DB: conn}, viper.GetString("project"), actorID())
	if err != nil {
		return err
	}
	if res.Created {
		logger.Info().Str("project_id", res.ProjectID).Str("owner", actorID()).Msg("created project with default config")
	}
	e := engine.New(conn, res.Config)
	e.Logger = logger.With().Str("project_id", res.ProjectID).Logger()
	return fn(ctx, e)
}

// authorized runs fn after checking the CLI actor holds perm in the active
// project.
func authorized(ctx context.Context, perm string, fn func(context.Context, engine.Engine) error) error {
	return withEngine(ctx, func(ctx context.Context, e engine.Engine) error {
		if err := e.Authorize(ctx, e.Config.Project.ID, actorID(), perm); err != nil {
			return err
		}
		return fn(ctx, e)
	})
}

// printResult reports an applied move, or turns a rejected one into an
// error so the process exits non-zero.
func printResult(res workflow.Result, err error) error {
	if err != nil {
		return err
	}
	if !res.OK() {
		return fmt.Errorf("%s: %w", res.Operation, res.Err())
	}
	if viper.GetBool("json") {
		return printJSON(res)
	}
	fmt.Printf("%s: %s -> %s (%s)\n", res.Task.ID, res.From, res.To, res.Operation)
	return nil
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(table.StyleLight)
	return tw
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
