package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskline/internal/domain"
	"taskline/internal/engine"
	"taskline/internal/engine/auth"
	"taskline/internal/repo"
	"taskline/internal/workflow"
)

type moveCommand struct {
	use   string
	short string
	perm  string
	run   func(engine.Engine, context.Context, string, string, string) (workflow.Result, error)
	// reason commands require --reason instead of taking --notes.
	reason bool
}

var moveCommands = []moveCommand{
	{use: "start", short: "Start work on a draft task", perm: auth.PermTaskTransition, run: engine.Engine.Start},
	{use: "hold", short: "Put a task on hold, or resume it", perm: auth.PermTaskTransition, run: engine.Engine.ToggleHold},
	{use: "submit", short: "Submit for QA (checklist must be complete)", perm: auth.PermTaskTransition, run: engine.Engine.SubmitForQA},
	{use: "send-to-pm", short: "Hand a reviewed task to the PM", perm: auth.PermTaskTransition, run: engine.Engine.SendToPM},
	{use: "pm-reject", short: "Send a task back from PM review", perm: auth.PermTaskClientReview, run: engine.Engine.PMReject, reason: true},
	{use: "send-to-client", short: "Deliver to the client", perm: auth.PermTaskClientReview, run: engine.Engine.SendToClient},
	{use: "client-approve", short: "Record client approval", perm: auth.PermTaskClientReview, run: engine.Engine.ClientApprove},
	{use: "client-reject", short: "Record client rejection", perm: auth.PermTaskClientReview, run: engine.Engine.ClientReject, reason: true},
	{use: "return", short: "Resume work after a client rejection", perm: auth.PermTaskTransition, run: engine.Engine.ReturnToProgress},
	{use: "complete", short: "Close an approved task", perm: auth.PermTaskTransition, run: engine.Engine.Complete},
	{use: "archive", short: "Archive a task", perm: auth.PermTaskArchive, run: engine.Engine.Archive},
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
	}
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskGetCmd())
	task.AddCommand(taskAssignCmd())
	task.AddCommand(taskHistoryCmd())
	task.AddCommand(taskTransitionsCmd())
	for _, mc := range moveCommands {
		task.AddCommand(taskMoveCmd(mc))
	}
	return task
}

func taskCreateCmd() *cobra.Command {
	var opts engine.TaskCreateOptions
	var estimate float64
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a draft task",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = actorID()
			if cmd.Flags().Changed("estimate") {
				opts.EstimatedHours = &estimate
			}
			return authorized(cmd.Context(), auth.PermTaskCreate, func(ctx context.Context, e engine.Engine) error {
				opts.ProjectID = e.Config.Project.ID
				t, err := e.CreateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.ParentID, "parent", "", "parent task id")
	cmd.Flags().IntVar(&opts.Priority, "priority", 3, "priority 1-5")
	cmd.Flags().StringVar(&opts.DueDate, "due", "", "due date (YYYY-MM-DD)")
	cmd.Flags().Float64Var(&estimate, "estimate", 0, "estimated hours")
	cmd.Flags().StringVar(&opts.AssigneeID, "assignee", "", "assignee actor id")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskListCmd() *cobra.Command {
	var status, parent, assignee string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if status != "" && !domain.TaskStatus(status).Valid() {
				return fmt.Errorf("invalid status %q", status)
			}
			return authorized(cmd.Context(), auth.PermTaskRead, func(ctx context.Context, e engine.Engine) error {
				tasks, err := e.ListTasks(ctx, repo.TaskFilters{
					ProjectID:  e.Config.Project.ID,
					Status:     status,
					ParentID:   parent,
					AssigneeID: assignee,
					Limit:      limit,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Priority", "Assignee", "Due"})
				for _, t := range tasks {
					tw.AppendRow(table.Row{t.ID, t.Title, t.Status.Label(), t.Priority, deref(t.AssigneeID), deref(t.DueDate)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringVar(&parent, "parent", "", "parent task id")
	cmd.Flags().StringVar(&assignee, "assignee", "", "assignee actor id")
	cmd.Flags().IntVar(&limit, "limit", 50, "max tasks")
	return cmd
}

func taskGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return authorized(cmd.Context(), auth.PermTaskRead, func(ctx context.Context, e engine.Engine) error {
				t, err := e.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func taskAssignCmd() *cobra.Command {
	var assignee string
	cmd := &cobra.Command{
		Use:   "assign <id>",
		Short: "Assign a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return authorized(cmd.Context(), auth.PermTaskAssign, func(ctx context.Context, e engine.Engine) error {
				return printResult(e.Assign(ctx, args[0], assignee, actorID()))
			})
		},
	}
	cmd.Flags().StringVar(&assignee, "to", "", "assignee actor id")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func taskMoveCmd(mc moveCommand) *cobra.Command {
	var text string
	cmd := &cobra.Command{
		Use:   mc.use + " <id>",
		Short: mc.short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return authorized(cmd.Context(), mc.perm, func(ctx context.Context, e engine.Engine) error {
				return printResult(mc.run(e, ctx, args[0], actorID(), text))
			})
		},
	}
	if mc.reason {
		cmd.Flags().StringVar(&text, "reason", "", "why the task is sent back")
	} else {
		cmd.Flags().StringVar(&text, "notes", "", "note recorded in the history")
	}
	return cmd
}

func taskHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <id>",
		Short: "Show status history, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return authorized(cmd.Context(), auth.PermTaskRead, func(ctx context.Context, e engine.Engine) error {
				entries, err := e.TaskHistory(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"When", "From", "To", "Actor", "Notes"})
				for _, h := range entries {
					tw.AppendRow(table.Row{h.CreatedAt, h.FromStatus.Label(), h.ToStatus.Label(), h.ActorID, deref(h.Notes)})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func taskTransitionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "transitions <id>",
		Short: "List the moves available from the task's status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return authorized(cmd.Context(), auth.PermTaskRead, func(ctx context.Context, e engine.Engine) error {
				items, err := e.AvailableTransitions(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Operation", "Target", "Label"})
				for _, it := range items {
					tw.AppendRow(table.Row{it.Operation, it.Target, it.Label})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func checklistCmd() *cobra.Command {
	cl := &cobra.Command{
		Use:   "checklist",
		Short: "Manage a task's checklist",
	}
	cl.AddCommand(checklistListCmd())
	cl.AddCommand(checklistAddCmd())
	cl.AddCommand(checklistSetCmd("check", "Mark an item done", domain.ChecklistDone))
	cl.AddCommand(checklistSetCmd("uncheck", "Mark an item not done", domain.ChecklistTodo))
	cl.AddCommand(checklistRemoveCmd())
	return cl
}

func checklistListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <task-id>",
		Short: "List checklist items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return authorized(cmd.Context(), auth.PermTaskRead, func(ctx context.Context, e engine.Engine) error {
				items, err := e.ChecklistItems(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"#", "ID", "Item", "Done", "By"})
				for _, it := range items {
					done := ""
					if it.Status == domain.ChecklistDone {
						done = "x"
					}
					tw.AppendRow(table.Row{it.Position, it.ID, it.Text, done, deref(it.CompletedBy)})
				}
				tw.AppendFooter(table.Row{"", "", "progress", workflow.ChecklistProgress(items), ""})
				tw.Render()
				return nil
			})
		},
	}
}

func checklistAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <task-id> <text>",
		Short: "Append a checklist item",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return authorized(cmd.Context(), auth.PermChecklistWrite, func(ctx context.Context, e engine.Engine) error {
				item, err := e.AddChecklistItem(ctx, args[0], strings.Join(args[1:], " "), actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(item)
			})
		},
	}
}

func checklistSetCmd(use, short string, status domain.ChecklistStatus) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <task-id> <item-id>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return authorized(cmd.Context(), auth.PermChecklistWrite, func(ctx context.Context, e engine.Engine) error {
				item, err := e.SetChecklistItemStatus(ctx, args[0], args[1], status, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(item)
			})
		},
	}
}

func checklistRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <task-id> <item-id>",
		Short: "Remove a checklist item",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return authorized(cmd.Context(), auth.PermChecklistWrite, func(ctx context.Context, e engine.Engine) error {
				return e.RemoveChecklistItem(ctx, args[0], args[1], actorID())
			})
		},
	}
}

func qaCmd() *cobra.Command {
	qa := &cobra.Command{
		Use:   "qa",
		Short: "QA review sessions",
	}
	qa.AddCommand(qaStartCmd())
	qa.AddCommand(qaCompleteCmd())
	qa.AddCommand(qaListCmd())
	return qa
}

func qaStartCmd() *cobra.Command {
	var opts engine.StartQAReviewOptions
	cmd := &cobra.Command{
		Use:   "start <task-id>",
		Short: "Open a review session as the calling actor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return authorized(cmd.Context(), auth.PermTaskQAReview, func(ctx context.Context, e engine.Engine) error {
				res, err := e.StartQAReview(ctx, args[0], actorID(), opts)
				if err == nil && res.OK() && !viper.GetBool("json") {
					fmt.Printf("review %s opened\n", res.Review.ID)
				}
				return printResult(res, err)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Template, "template", "", "qa template whose checks the session copies")
	cmd.Flags().StringVar(&opts.Notes, "notes", "", "note recorded in the history")
	return cmd
}

func qaCompleteCmd() *cobra.Command {
	var approve, reject bool
	var passed, failed []string
	var notes string
	cmd := &cobra.Command{
		Use:   "complete <review-id>",
		Short: "Approve or reject an open session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if approve == reject {
				return fmt.Errorf("exactly one of --approve or --reject is required")
			}
			results := make(map[string]domain.QACheckResult, len(passed)+len(failed))
			for _, key := range passed {
				results[key] = domain.QACheckResult{Passed: true}
			}
			for _, key := range failed {
				results[key] = domain.QACheckResult{Passed: false}
			}
			return authorized(cmd.Context(), auth.PermTaskQAReview, func(ctx context.Context, e engine.Engine) error {
				return printResult(e.CompleteQAReview(ctx, args[0], engine.CompleteQAReviewOptions{
					Approved: approve,
					Results:  results,
					Notes:    notes,
				}, actorID()))
			})
		},
	}
	cmd.Flags().BoolVar(&approve, "approve", false, "approve the work")
	cmd.Flags().BoolVar(&reject, "reject", false, "reject the work")
	cmd.Flags().StringSliceVar(&passed, "pass", nil, "check keys that passed")
	cmd.Flags().StringSliceVar(&failed, "fail", nil, "check keys that failed")
	cmd.Flags().StringVar(&notes, "notes", "", "review notes (the rejection reason when rejecting)")
	return cmd
}

func qaListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <task-id>",
		Short: "List a task's review sessions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return authorized(cmd.Context(), auth.PermTaskRead, func(ctx context.Context, e engine.Engine) error {
				reviews, err := e.ListQAReviews(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(reviews)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Reviewer", "Template", "Status", "Started", "Completed"})
				for _, rv := range reviews {
					tw.AppendRow(table.Row{rv.ID, rv.ReviewerID, deref(rv.Template), rv.Status, rv.StartedAt, deref(rv.CompletedAt)})
				}
				tw.Render()
				return nil
			})
		},
	}
}
