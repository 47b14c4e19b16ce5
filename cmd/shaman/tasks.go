package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"shaman/internal/domain"
	"shaman/internal/engine"
	"shaman/internal/export"
	"shaman/internal/intake"
	"shaman/internal/views"
)

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
		Long:  "Tasks are requests handed to the worker. New tasks start pending and are mirrored to the worker queue; the worker moves them along and may ask for input.",
	}
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskGetCmd())
	task.AddCommand(taskUpdateCmd())
	task.AddCommand(taskDeleteCmd())
	task.AddCommand(taskRestartCmd())
	task.AddCommand(taskInputCmd())
	task.AddCommand(taskWatchCmd())
	task.AddCommand(taskExportCmd())
	task.AddCommand(taskStatsCmd())
	task.AddCommand(taskPendingCmd())
	return task
}

func taskCreateCmd() *cobra.Command {
	var text, title, description, priority, category, model, scheduledFor, recurring, estimated string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		Long:  "Create a task from free text (--text) or from explicit fields (--title).",
		RunE: func(cmd *cobra.Command, args []string) error {
			var draft domain.TaskDraft
			if text != "" {
				var err error
				draft, err = intake.NewDraft(text, intake.DraftOptions{
					Priority:      domain.Priority(priority),
					Category:      domain.Category(category),
					Model:         domain.Model(model),
					EstimatedTime: estimated,
					ScheduledFor:  scheduledFor,
					Recurring:     domain.RecurringPattern(recurring),
				})
				if err != nil {
					return err
				}
			} else {
				if title == "" {
					return fmt.Errorf("--text or --title required")
				}
				draft = domain.TaskDraft{
					Title:         title,
					Description:   description,
					Priority:      domain.Priority(priority),
					Category:      domain.Category(category),
					Model:         domain.Model(model),
					ScheduledFor:  optionalString(scheduledFor),
					EstimatedTime: optionalString(estimated),
				}
				if recurring != "" {
					pattern := domain.RecurringPattern(recurring)
					isRecurring := true
					draft.RecurringPattern = &pattern
					draft.IsRecurring = &isRecurring
				}
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt runtime) error {
				userID, err := rt.userID(ctx)
				if err != nil {
					return err
				}
				id, err := rt.Engine.CreateTask(ctx, userID, draft)
				if err != nil {
					return err
				}
				t, err := rt.Engine.GetTask(ctx, userID, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "free-text request; the title is derived from it")
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&priority, "priority", "", "low, medium or high")
	cmd.Flags().StringVar(&category, "category", "", "document, web-task, form or other")
	cmd.Flags().StringVar(&model, "model", "", "shaman-light or shaman-pro")
	cmd.Flags().StringVar(&scheduledFor, "scheduled-for", "", "RFC 3339 time to run the task")
	cmd.Flags().StringVar(&recurring, "recurring", "", "daily, weekly or monthly")
	cmd.Flags().StringVar(&estimated, "estimated-time", "", "free-form estimate, e.g. 2h")
	return cmd
}

func taskListCmd() *cobra.Command {
	var status, query, sortBy string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt runtime) error {
				userID, err := rt.userID(ctx)
				if err != nil {
					return err
				}
				if !cmd.Flags().Changed("sort") {
					sortBy = string(rt.Settings.Snapshot().DefaultSort)
				}
				by, err := views.ParseSort(sortBy)
				if err != nil {
					return err
				}
				tasks, err := rt.Engine.ListTasks(ctx, userID)
				if err != nil {
					return err
				}
				tasks = views.SortTasks(views.FilterTasks(tasks, views.Filter{Status: status, Query: query}), by)
				if limit > 0 && len(tasks) > limit {
					tasks = tasks[:limit]
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				printTasks(tasks)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", views.StatusAll, "status filter")
	cmd.Flags().StringVarP(&query, "query", "q", "", "search title and description")
	cmd.Flags().StringVar(&sortBy, "sort", "", "newest, oldest, priority or scheduled (default from settings)")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of tasks")
	return cmd
}

func taskGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt runtime) error {
				userID, err := rt.userID(ctx)
				if err != nil {
					return err
				}
				t, err := rt.Engine.GetTask(ctx, userID, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func taskUpdateCmd() *cobra.Command {
	var title, description, status, priority, neededData, errorMessage string
	var progress int
	var force bool
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a task",
		Long:  "Status changes follow the transition table; --force skips it.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch domain.TaskPatch
			if cmd.Flags().Changed("title") {
				patch.Title = &title
			}
			if cmd.Flags().Changed("description") {
				patch.Description = &description
			}
			st, err := statusFlag(status)
			if err != nil {
				return err
			}
			if st != nil {
				patch.Status = st
			}
			if priority != "" {
				p := domain.Priority(priority)
				patch.Priority = &p
			}
			if cmd.Flags().Changed("progress") {
				patch.Progress = &progress
			}
			if cmd.Flags().Changed("needed-data") {
				patch.NeededData = &neededData
			}
			if cmd.Flags().Changed("error") {
				isError := errorMessage != ""
				patch.IsError = &isError
				patch.ErrorMessage = optionalString(errorMessage)
			}
			if patch.Empty() {
				return fmt.Errorf("nothing to update")
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt runtime) error {
				userID, err := rt.userID(ctx)
				if err != nil {
					return err
				}
				t, err := rt.Engine.UpdateTask(ctx, userID, args[0], patch, engine.UpdateOptions{Force: force})
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&status, "status", "", "new status")
	cmd.Flags().StringVar(&priority, "priority", "", "low, medium or high")
	cmd.Flags().IntVar(&progress, "progress", 0, "progress percentage")
	cmd.Flags().StringVar(&neededData, "needed-data", "", "what the worker needs from the user")
	cmd.Flags().StringVar(&errorMessage, "error", "", "flag the task as failed with this message (empty clears it)")
	cmd.Flags().BoolVar(&force, "force", false, "skip the status transition table")
	return cmd
}

func taskDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt runtime) error {
				userID, err := rt.userID(ctx)
				if err != nil {
					return err
				}
				if err := rt.Engine.DeleteTask(ctx, userID, args[0]); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
}

func taskRestartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restart <id>",
		Short: "Put a task back to pending and clear its error",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt runtime) error {
				userID, err := rt.userID(ctx)
				if err != nil {
					return err
				}
				t, err := rt.Engine.RestartTask(ctx, userID, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func taskInputCmd() *cobra.Command {
	var data string
	cmd := &cobra.Command{
		Use:   "input <id>",
		Short: "Answer a task waiting for input",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt runtime) error {
				userID, err := rt.userID(ctx)
				if err != nil {
					return err
				}
				t, err := rt.Engine.ProvideInput(ctx, userID, args[0], data)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&data, "data", "", "the requested information")
	_ = cmd.MarkFlagRequired("data")
	return cmd
}

func taskWatchCmd() *cobra.Command {
	var failedOnly bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print the task list on every change",
		Long:  "Prints the task list now and after every change until interrupted. Changes made by other processes show up only with stores that can watch, such as firestore.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withRuntime(ctx, func(ctx context.Context, rt runtime) error {
				userID, err := rt.userID(ctx)
				if err != nil {
					return err
				}
				subscribe := rt.Engine.SubscribeTasks
				if failedOnly {
					subscribe = rt.Engine.SubscribeTaskErrors
				}
				unsubscribe, err := subscribe(ctx, userID, func(tasks []domain.Task) {
					if viper.GetBool("json") {
						_ = writeJSON(os.Stdout, tasks)
						return
					}
					printTasks(tasks)
				})
				if err != nil {
					return err
				}
				defer unsubscribe()
				<-ctx.Done()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&failedOnly, "errors", false, "only show tasks the worker flagged as failed")
	return cmd
}

func taskExportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export tasks to an XLSX workbook",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt runtime) error {
				userID, err := rt.userID(ctx)
				if err != nil {
					return err
				}
				tasks, err := rt.Engine.ListTasks(ctx, userID)
				if err != nil {
					return err
				}
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				if err := export.WriteTasks(f, tasks); err != nil {
					f.Close()
					return err
				}
				if err := f.Close(); err != nil {
					return err
				}
				fmt.Printf("wrote %d tasks to %s\n", len(tasks), out)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "tasks.xlsx", "output file")
	return cmd
}

func taskStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show task counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt runtime) error {
				userID, err := rt.userID(ctx)
				if err != nil {
					return err
				}
				tasks, err := rt.Engine.ListTasks(ctx, userID)
				if err != nil {
					return err
				}
				stats := views.Summarize(tasks)
				if viper.GetBool("json") {
					return printJSON(stats)
				}
				tw := newTable("Status", "Count")
				for _, st := range domain.Statuses() {
					tw.AppendRow(row(st, stats.ByStatus[st]))
				}
				tw.AppendFooter(row("total", stats.Total))
				tw.Render()
				fmt.Printf("Errors: %d  Completion: %d%%\n", stats.Errors, stats.CompletionRate)
				return nil
			})
		},
	}
}

func taskPendingCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "Show the worker's pending queue",
		Long:  "Lists the mirrored pending tasks the worker picks up, across all users.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt runtime) error {
				tasks, err := rt.Engine.Store.ListPendingTasks(ctx, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := newTable("ID", "User", "Title", "Created")
				for _, t := range tasks {
					tw.AppendRow(row(t.ID, t.UserID, t.Title, t.CreatedAt))
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of tasks")
	return cmd
}

func notificationCmd() *cobra.Command {
	n := &cobra.Command{
		Use:     "notification",
		Aliases: []string{"notifications"},
		Short:   "Manage notifications",
	}
	n.AddCommand(notificationListCmd())
	n.AddCommand(notificationAddCmd())
	n.AddCommand(notificationReadCmd())
	n.AddCommand(notificationDeleteCmd())
	n.AddCommand(notificationClearCmd())
	return n
}

func notificationListCmd() *cobra.Command {
	var filter string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt runtime) error {
				userID, err := rt.userID(ctx)
				if err != nil {
					return err
				}
				items, err := rt.Engine.ListNotifications(ctx, userID)
				if err != nil {
					return err
				}
				unread := views.UnreadCount(items)
				items = views.FilterNotifications(items, views.NotificationFilter(filter))
				if viper.GetBool("json") {
					return printJSON(map[string]any{"items": items, "unread": unread})
				}
				tw := newTable("ID", "Type", "Title", "Time", "Read", "Action")
				for _, item := range items {
					action := ""
					if item.Actionable {
						action = "yes"
						if doc := deref(item.DocumentName); doc != "" {
							action = doc
						}
					}
					tw.AppendRow(row(item.ID, item.Type, item.Title, item.CreatedAt, item.Read, action))
				}
				tw.Render()
				fmt.Printf("%d unread\n", unread)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&filter, "filter", string(views.NotificationsAll), "all, unread or actionable")
	return cmd
}

func notificationAddCmd() *cobra.Command {
	var d engine.NotificationDraft
	var kind, document, taskID string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a notification",
		RunE: func(cmd *cobra.Command, args []string) error {
			d.Type = domain.NotificationType(kind)
			d.DocumentName = optionalString(document)
			d.TaskID = optionalString(taskID)
			return withRuntime(cmd.Context(), func(ctx context.Context, rt runtime) error {
				userID, err := rt.userID(ctx)
				if err != nil {
					return err
				}
				n, err := rt.Engine.CreateNotification(ctx, userID, d)
				if err != nil {
					return err
				}
				return printJSONOrTable(n)
			})
		},
	}
	cmd.Flags().StringVar(&kind, "type", "", "info, success, warning or error")
	cmd.Flags().StringVar(&d.Title, "title", "", "title")
	cmd.Flags().StringVar(&d.Message, "message", "", "message")
	cmd.Flags().BoolVar(&d.Actionable, "actionable", false, "the user has to act on it")
	cmd.Flags().StringVar(&document, "document", "", "related document name")
	cmd.Flags().StringVar(&taskID, "task", "", "related task id")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func notificationReadCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "read [id]",
		Short: "Mark one or all notifications read",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && len(args) == 0 {
				return fmt.Errorf("notification id or --all required")
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt runtime) error {
				userID, err := rt.userID(ctx)
				if err != nil {
					return err
				}
				if all {
					return rt.Engine.MarkAllNotificationsRead(ctx, userID)
				}
				return rt.Engine.MarkNotificationRead(ctx, userID, args[0])
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "mark every notification read")
	return cmd
}

func notificationDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a notification",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt runtime) error {
				userID, err := rt.userID(ctx)
				if err != nil {
					return err
				}
				return rt.Engine.DeleteNotification(ctx, userID, args[0])
			})
		},
	}
}

func notificationClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete all notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt runtime) error {
				userID, err := rt.userID(ctx)
				if err != nil {
					return err
				}
				return rt.Engine.ClearNotifications(ctx, userID)
			})
		},
	}
}

func newTable(headers ...any) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row(headers))
	return tw
}

func row(cells ...any) table.Row {
	return table.Row(cells)
}

func printTasks(tasks []domain.Task) {
	tw := newTable("ID", "Title", "Status", "Priority", "Created", "Progress")
	for _, t := range tasks {
		status := string(t.Status)
		if t.HasError() {
			status += " (error)"
		}
		progress := ""
		if t.Progress != nil {
			progress = fmt.Sprintf("%d%%", *t.Progress)
		}
		tw.AppendRow(row(t.ID, truncate(t.Title, 50), status, t.Priority, t.CreatedAt, progress))
	}
	tw.Render()
}

func truncate(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n-1]) + "…"
}
