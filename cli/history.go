package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/yllada/wg-manager/common"
	"github.com/yllada/wg-manager/history"
)

func (c *CLI) historyCommand() *cobra.Command {
	var (
		limit int
		prune time.Duration
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := history.OpenDefault()
			if err != nil {
				return err
			}
			defer store.Close()

			if prune > 0 {
				n, err := store.Prune(cmd.Context(), time.Now().Add(-prune))
				if err != nil {
					return err
				}
				fmt.Fprintf(c.out, "✓ Pruned %d sessions\n", n)
				return nil
			}

			records, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			printHistory(c.out, records)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of sessions to show")
	cmd.Flags().DurationVar(&prune, "prune", 0, "delete sessions older than this instead of listing")
	return cmd
}

func printHistory(out io.Writer, records []history.Record) {
	if len(records) == 0 {
		fmt.Fprintln(out, "No sessions recorded.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tPROFILE\tENDPOINT\tSTATE\tDURATION\tREASON")
	for _, r := range records {
		duration := "-"
		if !r.ConnectedAt.IsZero() {
			duration = common.FormatDuration(r.Duration())
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.StartedAt.Format("2006-01-02 15:04:05"), r.Name, r.Endpoint, r.State, duration, orDash(r.Reason))
	}
	w.Flush()
}
