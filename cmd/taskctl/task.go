package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"tasktrack/pkg/task"
	"tasktrack/pkg/tracker"
)

func parseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return nil, fmt.Errorf("due date %q: want YYYY-MM-DD", s)
	}
	return &t, nil
}

// explain turns service errors into something readable on a terminal.
func explain(err error) error {
	var derr *tracker.DecisionError
	if errors.As(err, &derr) {
		return fmt.Errorf("denied: %w", err)
	}
	return err
}

func (c *cli) taskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Task operations",
	}

	var title, description, assignee, due string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a pending task",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := parseDate(due)
			if err != nil {
				return err
			}
			v, err := c.app.Service.Create(cmd.Context(), tracker.NewTask{
				Title:       title,
				Description: description,
				AssigneeID:  assignee,
				DueDate:     d,
			}, c.actor)
			if err != nil {
				return explain(err)
			}
			return c.printJSON(v)
		},
	}
	create.Flags().StringVar(&title, "title", "", "Task title (required)")
	create.Flags().StringVar(&description, "description", "", "Task description")
	create.Flags().StringVar(&assignee, "assignee", "", "Assigned user id")
	create.Flags().StringVar(&due, "due", "", "Due date, YYYY-MM-DD")

	var listStatus, listAssignee, dueFrom, dueTo string
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List tasks, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := task.Filter{Status: task.Status(listStatus), AssigneeID: listAssignee, Limit: limit}
			var err error
			if f.DueFrom, err = parseDate(dueFrom); err != nil {
				return err
			}
			if f.DueTo, err = parseDate(dueTo); err != nil {
				return err
			}
			views, err := c.app.Service.List(cmd.Context(), f)
			if err != nil {
				return explain(err)
			}
			return c.printViews(views)
		},
	}
	list.Flags().StringVar(&listStatus, "status", "", "Only tasks with this status")
	list.Flags().StringVar(&listAssignee, "assignee", "", "Only tasks assigned to this user id")
	list.Flags().StringVar(&dueFrom, "due-from", "", "Due on or after, YYYY-MM-DD")
	list.Flags().StringVar(&dueTo, "due-to", "", "Due on or before, YYYY-MM-DD")
	list.Flags().IntVar(&limit, "limit", 20, "Maximum number of tasks")

	get := &cobra.Command{
		Use:   "get <id>",
		Short: "Show a task with its dependencies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := c.app.Service.Get(cmd.Context(), args[0])
			if err != nil {
				return explain(err)
			}
			return c.printJSON(v)
		},
	}

	var upTitle, upDescription, upAssignee, upDue, upStatus string
	var clearDue bool
	update := &cobra.Command{
		Use:   "update <id>",
		Short: "Change task fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var p task.Patch
			flags := cmd.Flags()
			if flags.Changed("title") {
				p.Title = &upTitle
			}
			if flags.Changed("description") {
				p.Description = &upDescription
			}
			if flags.Changed("assignee") {
				p.AssigneeID = &upAssignee
			}
			if flags.Changed("status") {
				st := task.Status(upStatus)
				p.Status = &st
			}
			if clearDue {
				p.ClearDue = true
			} else if upDue != "" {
				d, err := parseDate(upDue)
				if err != nil {
					return err
				}
				p.DueDate = d
			}
			if p.Empty() {
				return errors.New("no updates specified")
			}
			v, err := c.app.Service.Update(cmd.Context(), args[0], p, c.actor)
			if err != nil {
				return explain(err)
			}
			return c.printJSON(v)
		},
	}
	update.Flags().StringVar(&upTitle, "title", "", "New title")
	update.Flags().StringVar(&upDescription, "description", "", "New description")
	update.Flags().StringVar(&upAssignee, "assignee", "", "New assignee user id (empty to unassign)")
	update.Flags().StringVar(&upDue, "due", "", "New due date, YYYY-MM-DD")
	update.Flags().BoolVar(&clearDue, "clear-due", false, "Remove the due date")
	update.Flags().StringVar(&upStatus, "status", "", "New status")

	complete := c.statusShortcut("complete", task.StatusCompleted)
	cancel := c.statusShortcut("cancel", task.StatusCanceled)
	reopen := c.statusShortcut("reopen", task.StatusPending)

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a task and its dependency edges",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.app.Service.Delete(cmd.Context(), args[0], c.actor); err != nil {
				return explain(err)
			}
			return c.printJSON(map[string]string{"status": "ok", "deleted": args[0]})
		},
	}

	cmd.AddCommand(create, list, get, update, complete, cancel, reopen, del)
	return cmd
}

func (c *cli) statusShortcut(name string, st task.Status) *cobra.Command {
	return &cobra.Command{
		Use:   name + " <id>",
		Short: "Set the task status to " + string(st),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := c.app.Service.UpdateStatus(cmd.Context(), args[0], st, c.actor)
			if err != nil {
				return explain(err)
			}
			return c.printJSON(v)
		},
	}
}

func (c *cli) depCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dep",
		Short: "Dependency operations",
	}
	add := &cobra.Command{
		Use:   "add <task-id> <depends-on-id>",
		Short: "Make a task depend on another",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := c.app.Service.AttachDependency(cmd.Context(), args[0], args[1], c.actor)
			if err != nil {
				return explain(err)
			}
			return c.printJSON(v)
		},
	}
	remove := &cobra.Command{
		Use:   "remove <task-id> <depends-on-id>",
		Short: "Remove a dependency",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := c.app.Service.DetachDependency(cmd.Context(), args[0], args[1], c.actor)
			if err != nil {
				return explain(err)
			}
			return c.printJSON(v)
		},
	}
	dependents := &cobra.Command{
		Use:   "dependents <task-id>",
		Short: "List tasks that depend on a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := c.app.Service.Dependents(cmd.Context(), args[0])
			if err != nil {
				return explain(err)
			}
			return c.printJSON(deps)
		},
	}
	cmd.AddCommand(add, remove, dependents)
	return cmd
}
