package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/desduvauchelle/tamias-sub001/internal/infra/usage"
	"github.com/desduvauchelle/tamias-sub001/internal/shared/config"
	fsutil "github.com/desduvauchelle/tamias-sub001/internal/shared/filestore"

	"github.com/spf13/cobra"
)

func newUsageCommand(c *cli) *cobra.Command {
	var since time.Duration
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Summarize model usage from the local usage log",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := config.Load(config.WithConfigPath(c.configPath()))
			if err != nil {
				return err
			}
			var from time.Time
			if since > 0 {
				from = time.Now().Add(-since)
			}
			path := fsutil.ResolvePath(cfg.Usage.Path, config.DefaultUsagePath)
			totals, err := usage.Summarize(cmd.Context(), path, from)
			if err != nil {
				return err
			}
			if len(totals) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), gray("no usage recorded"))
				return nil
			}
			return printTotals(cmd.OutOrStdout(), totals)
		},
	}
	cmd.Flags().DurationVar(&since, "since", 0, "only count records newer than this (e.g. 24h)")
	return cmd
}

func printTotals(w io.Writer, totals []usage.Totals) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MODEL\tCALLS\tFAILED\tPROMPT\tCOMPLETION\tTIME")
	var calls, prompt, completion int
	for _, t := range totals {
		fmt.Fprintf(tw, "%s/%s\t%d\t%d\t%d\t%d\t%s\n", t.Connection, t.Model, t.Calls, t.Failures,
			t.PromptTokens, t.CompletionTokens, (time.Duration(t.DurationMS) * time.Millisecond).Round(time.Millisecond))
		calls += t.Calls
		prompt += t.PromptTokens
		completion += t.CompletionTokens
	}
	fmt.Fprintf(tw, "%s\t%d\t\t%d\t%d\t\n", bold("total"), calls, prompt, completion)
	return tw.Flush()
}
