package main

import (
	"github.com/spf13/cobra"
)

func (c *cli) userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "User operations",
	}

	var name, email string
	register := &cobra.Command{
		Use:   "register",
		Short: "Register a user (idempotent on email)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := c.app.Users.Register(cmd.Context(), name, email)
			if err != nil {
				return err
			}
			return c.printJSON(u)
		},
	}
	register.Flags().StringVar(&name, "name", "", "Display name")
	register.Flags().StringVar(&email, "email", "", "Email address")
	_ = register.MarkFlagRequired("name")
	_ = register.MarkFlagRequired("email")

	list := &cobra.Command{
		Use:   "list",
		Short: "List users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			users, err := c.app.Users.List(cmd.Context())
			if err != nil {
				return err
			}
			return c.printJSON(users)
		},
	}

	get := &cobra.Command{
		Use:   "get <id>",
		Short: "Show a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := c.app.Users.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return c.printJSON(u)
		},
	}

	cmd.AddCommand(register, list, get)
	return cmd
}
