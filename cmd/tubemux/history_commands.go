package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"tubemux/internal/api"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect finished jobs recorded by the daemon",
	}
	historyCmd.AddCommand(newHistoryListCommand(ctx))
	historyCmd.AddCommand(newHistoryClearCommand(ctx))
	return historyCmd
}

func newHistoryListCommand(ctx *commandContext) *cobra.Command {
	var (
		stage      string
		batchID    string
		limit      int
		jsonOutput bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List finished jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				records, err := client.History(cmd.Context(), stage, batchID, limit)
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, records)
				}
				out := cmd.OutOrStdout()
				if len(records) == 0 {
					fmt.Fprintln(out, "No finished jobs recorded")
					return nil
				}
				now := time.Now()
				rows := make([][]string, 0, len(records))
				for _, rec := range records {
					detail := rec.Title
					if rec.ErrorKind != "" {
						detail = rec.ErrorDetail
					}
					rows = append(rows, []string{
						rec.ItemID,
						rec.BatchID,
						rec.Stage.Label(),
						rec.EncodingID,
						strconv.Itoa(rec.Attempts),
						humanize.RelTime(rec.FinishedAt, now, "ago", "from now"),
						detail,
					})
				}
				fmt.Fprintln(out, renderTable([]column{
					textCol("Item"), textCol("Batch"), textCol("Outcome"), textCol("Encoding"),
					numCol("Attempts"), textCol("Finished"), textCol("Title / Error"),
				}, rows))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&stage, "stage", "", "Only show outcomes in this stage (completed or failed)")
	cmd.Flags().StringVar(&batchID, "batch", "", "Only show items of this batch")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum number of records")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newHistoryClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete every recorded outcome",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				removed, err := client.ClearHistory(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d history records\n", removed)
				return nil
			})
		},
	}
}
