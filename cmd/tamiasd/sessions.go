package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newSessionsCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sessions",
		Aliases: []string{"session"},
		Short:   "Inspect sessions on the daemon",
	}

	var all bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List sessions, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := c.client()
			if err != nil {
				return err
			}
			sessions, err := api.ListSessions(cmd.Context(), all)
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), gray("no sessions"))
				return nil
			}
			return printSessions(cmd.OutOrStdout(), sessions, time.Now())
		},
	}
	list.Flags().BoolVarP(&all, "all", "a", false, "include sub-agents")

	del := &cobra.Command{
		Use:   "delete <id>...",
		Short: "Delete sessions",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := c.client()
			if err != nil {
				return err
			}
			for _, id := range args {
				if err := api.DeleteSession(cmd.Context(), id); err != nil {
					return fmt.Errorf("delete %s: %w", id, err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), green("deleted ")+id)
			}
			return nil
		},
	}

	cmd.AddCommand(list, del)
	return cmd
}
