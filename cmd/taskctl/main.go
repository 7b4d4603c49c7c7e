// Command taskctl administers the task tracker directly against the
// configured store, through the same service the HTTP API uses.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"tasktrack/internal/app"
	"tasktrack/internal/config"
	"tasktrack/internal/logging"
	"tasktrack/pkg/activity"
	"tasktrack/pkg/task"
	"tasktrack/pkg/tracker"
)

type opener func(ctx context.Context, cfg *config.Config) (*app.App, error)

// cli holds the state shared by every subcommand.
type cli struct {
	open  opener
	app   *app.App
	out   io.Writer
	actor string
	short bool

	configPath string
	store      string
}

func main() {
	if err := newRootCmd(app.Open).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "taskctl:", err)
		os.Exit(1)
	}
}

func newRootCmd(open opener) *cobra.Command {
	c := &cli{open: open}
	root := &cobra.Command{
		Use:           "taskctl",
		Short:         "Administer tasks, dependencies, users and activity",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			c.out = cmd.OutOrStdout()
			if c.app != nil {
				return nil
			}
			cfg, err := config.Load(c.configPath, func(cfg *config.Config) {
				if c.store != "" {
					cfg.Database.Backend = c.store
				}
			})
			if err != nil {
				return err
			}
			logging.Setup(cfg.Log.Level, cfg.Log.Format)
			a, err := c.open(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			c.app = a
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.app != nil {
				c.app.Close()
			}
		},
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "Path to tasktrack.toml config file")
	root.PersistentFlags().StringVar(&c.store, "store", "", "Store backend: postgres or memory")
	root.PersistentFlags().StringVar(&c.actor, "as", "", "User id recorded as the actor of changes")
	root.PersistentFlags().BoolVar(&c.short, "short", false, "One line per item instead of JSON")

	root.AddCommand(
		c.initCmd(),
		c.statusCmd(),
		c.taskCmd(),
		c.depCmd(),
		c.userCmd(),
		c.eventCmd(),
	)
	return root
}

func (c *cli) initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create missing database tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.app.EnsureTables(cmd.Context()); err != nil {
				return err
			}
			return c.printJSON(map[string]string{"status": "ok", "message": "all tables initialized"})
		},
	}
}

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show task and activity counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			total, err := c.app.Tasks.Count(ctx)
			if err != nil {
				return err
			}
			events, err := c.app.Events.Count(ctx)
			if err != nil {
				return err
			}
			users, err := c.app.Users.List(ctx)
			if err != nil {
				return err
			}
			status := map[string]any{
				"tasks":  total,
				"events": events,
				"users":  len(users),
			}
			for _, st := range task.Statuses() {
				n, err := c.app.Tasks.CountByStatus(ctx, st)
				if err != nil {
					return err
				}
				status[string(st)] = n
			}
			return c.printJSON(status)
		},
	}
}

func (c *cli) printJSON(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func truncStr(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func (c *cli) printViews(views []tracker.View) error {
	if !c.short {
		return c.printJSON(views)
	}
	for _, v := range views {
		blocked := ""
		if !v.CanBeCompleted {
			blocked = "blocked"
		}
		fmt.Fprintf(c.out, "%-36s  %-10s  %-7s  %s\n", v.ID, v.Status, blocked, truncStr(v.Title, 60))
	}
	return nil
}

func (c *cli) printEvents(events []activity.Event) error {
	if !c.short {
		return c.printJSON(events)
	}
	for _, e := range events {
		content := ""
		if b, err := json.Marshal(e.Content); err == nil {
			content = string(b)
		}
		fmt.Fprintf(c.out, "%-8s  %-22s  %-36s  %s\n",
			e.Timestamp.Format("15:04:05"), e.Type, e.TaskID, truncStr(content, 80))
	}
	return nil
}
