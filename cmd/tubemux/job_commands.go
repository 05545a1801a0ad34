package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"tubemux/internal/api"
	"tubemux/internal/job"
)

const pollInterval = 500 * time.Millisecond

func newJobCommand(ctx *commandContext) *cobra.Command {
	jobCmd := &cobra.Command{
		Use:   "job",
		Short: "Run and inspect standalone downloads",
	}
	jobCmd.AddCommand(newJobCreateCommand(ctx))
	jobCmd.AddCommand(newJobShowCommand(ctx))
	jobCmd.AddCommand(newJobDownloadCommand(ctx))
	jobCmd.AddCommand(newJobDeleteCommand(ctx))
	return jobCmd
}

func newJobCreateCommand(ctx *commandContext) *cobra.Command {
	var encoding string
	var wait bool
	cmd := &cobra.Command{
		Use:   "create <source-url>",
		Short: "Start a download for one source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				id, err := client.CreateJob(cmd.Context(), args[0], encoding)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Job %s created\n", id)
				if !wait {
					return nil
				}
				final, err := waitForJob(cmd.Context(), client, id)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, jobDetail(final))
				if final.Stage == string(job.StageFailed) {
					return fmt.Errorf("job %s failed: %s", id, final.ErrorDetail)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&encoding, "encoding", "e", "", "Encoding id to download (defaults to the best muxed encoding)")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Wait for the job to finish")
	return cmd
}

func newJobShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show job progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				view, err := client.Job(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, view)
				}
				fmt.Fprintln(cmd.OutOrStdout(), jobDetail(view))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newJobDownloadCommand(ctx *commandContext) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "download <id>",
		Short: "Download a finished job's file",
		Long:  "Download a finished job's file. The daemon deletes standalone jobs shortly after a complete download.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return ctx.withClient(func(client *api.Client) error {
				return saveDownload(cmd, output, id, func(w io.Writer) (string, int64, error) {
					return client.DownloadJob(cmd.Context(), id, w)
				})
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Destination file or directory")
	return cmd
}

func newJobDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Cancel a job and remove its files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				if err := client.DeleteJob(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job %s deleted\n", args[0])
				return nil
			})
		},
	}
}

func waitForJob(ctx context.Context, client *api.Client, id string) (*api.Job, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		view, err := client.Job(ctx, id)
		if err != nil {
			return nil, err
		}
		if job.Stage(view.Stage).IsTerminal() {
			return view, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func jobDetail(view *api.Job) string {
	stage := job.Stage(view.Stage)
	lines := []string{
		fmt.Sprintf("ID:        %s", view.ID),
		fmt.Sprintf("Source:    %s", view.SourceRef),
	}
	if view.Title != "" {
		lines = append(lines, fmt.Sprintf("Title:     %s", view.Title))
	}
	if view.Encoding != "" {
		lines = append(lines, fmt.Sprintf("Encoding:  %s", view.Encoding))
	}
	lines = append(lines,
		fmt.Sprintf("Stage:     %s", stage.Label()),
		fmt.Sprintf("Progress:  %s", formatPercent(view.Progress)),
	)
	if view.Attempts > 1 {
		lines = append(lines, fmt.Sprintf("Attempts:  %d", view.Attempts))
	}
	if view.ErrorDetail != "" {
		lines = append(lines, fmt.Sprintf("Error:     %s", view.ErrorDetail))
	}
	return strings.Join(lines, "\n")
}

func formatPercent(value float64) string {
	return fmt.Sprintf("%.1f%%", value)
}
