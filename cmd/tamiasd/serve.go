package main

import (
	"github.com/desduvauchelle/tamias-sub001/internal/delivery/server/bootstrap"

	"github.com/spf13/cobra"
)

func newServeCommand(c *cli) *cobra.Command {
	var noWatch bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := bootstrap.Options{
				ConfigPath:  c.configPath(),
				SkipWatcher: noWatch,
				Terminal:    cmd.OutOrStdout(),
			}
			if c.debug() {
				opts.LogLevel = "debug"
			}
			return bootstrap.RunServer(cmd.Context(), opts, c.debug())
		},
	}
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "do not reload the config file on change")
	return cmd
}
