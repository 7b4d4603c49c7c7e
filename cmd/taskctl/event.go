package main

import (
	"github.com/spf13/cobra"
)

func (c *cli) eventCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "event",
		Short: "Activity log operations",
	}

	var limit int
	var taskID string
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent activity, or one task's history with --task",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if taskID != "" {
				events, err := c.app.Service.Events(cmd.Context(), taskID, limit)
				if err != nil {
					return explain(err)
				}
				return c.printEvents(events)
			}
			events, err := c.app.Events.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return c.printEvents(events)
		},
	}
	list.Flags().IntVar(&limit, "limit", 20, "Maximum number of events")
	list.Flags().StringVar(&taskID, "task", "", "Only events for this task id")

	verify := &cobra.Command{
		Use:   "verify",
		Short: "Verify the activity hash chain",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.app.Events.VerifyChain(cmd.Context()); err != nil {
				return err
			}
			n, err := c.app.Events.Count(cmd.Context())
			if err != nil {
				return err
			}
			return c.printJSON(map[string]any{"status": "ok", "events": n})
		},
	}

	cmd.AddCommand(list, verify)
	return cmd
}
