package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"tubemux/internal/api"
	"tubemux/internal/workflow"
)

func newBatchCommand(ctx *commandContext) *cobra.Command {
	batchCmd := &cobra.Command{
		Use:   "batch",
		Short: "Download many sources as one batch",
	}
	batchCmd.AddCommand(newBatchCreateCommand(ctx))
	batchCmd.AddCommand(newBatchResolveCommand(ctx))
	batchCmd.AddCommand(newBatchStartCommand(ctx))
	batchCmd.AddCommand(newBatchShowCommand(ctx))
	batchCmd.AddCommand(newBatchBundleCommand(ctx))
	batchCmd.AddCommand(newBatchItemCommand(ctx))
	batchCmd.AddCommand(newBatchDeleteCommand(ctx))
	return batchCmd
}

func newBatchCreateCommand(ctx *commandContext) *cobra.Command {
	var encoding string
	var fromFile string
	cmd := &cobra.Command{
		Use:   "create [source-url...]",
		Short: "Register a batch of sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			refs := append([]string(nil), args...)
			if fromFile != "" {
				listed, err := readRefs(cmd.InOrStdin(), fromFile)
				if err != nil {
					return err
				}
				refs = append(refs, listed...)
			}
			return ctx.withClient(func(client *api.Client) error {
				created, err := client.CreateBatch(cmd.Context(), refs, encoding)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Batch %s created with %d items\n", created.ID, created.Items)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&encoding, "encoding", "e", "", "Default encoding id for items that list it")
	cmd.Flags().StringVarP(&fromFile, "file", "f", "", "Read source URLs from a file, one per line (- for stdin)")
	return cmd
}

func newBatchResolveCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "resolve <batch-id>",
		Short: "Fetch source information for every item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				result, err := client.ResolveBatch(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, result)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Ready: %d  Failed: %d\n", result.Ready, result.Failed)
				fmt.Fprintln(out, renderItemTable(result.Items))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newBatchStartCommand(ctx *commandContext) *cobra.Command {
	var overrides []string
	cmd := &cobra.Command{
		Use:   "start <batch-id>",
		Short: "Queue every ready item for download",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := parseOverrides(overrides)
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *api.Client) error {
				queued, err := client.StartBatch(cmd.Context(), args[0], parsed)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued %d items\n", queued)
				return nil
			})
		},
	}
	cmd.Flags().StringArrayVar(&overrides, "override", nil, "Per-item encoding as <item-id>=<encoding-id> (repeatable)")
	return cmd
}

func newBatchShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "show <batch-id>",
		Short: "Show batch status and per-item progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				view, err := client.Batch(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, view)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Batch %s: %s (%s)\n", view.ID, view.Status, formatPercent(view.Progress))
				fmt.Fprintf(out, "Completed %d, failed %d, active %d of %d\n",
					view.Counts.Completed, view.Counts.Failed, view.Counts.Active, view.Counts.Total)
				fmt.Fprintln(out, renderItemTable(view.Items))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newBatchBundleCommand(ctx *commandContext) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "bundle <batch-id>",
		Short: "Download every completed item as one zip archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return ctx.withClient(func(client *api.Client) error {
				return saveDownload(cmd, output, "bundle-"+id+".zip", func(w io.Writer) (string, int64, error) {
					return client.DownloadBundle(cmd.Context(), id, w)
				})
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Destination file or directory")
	return cmd
}

func newBatchItemCommand(ctx *commandContext) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "item <batch-id> <item-id>",
		Short: "Download one completed batch item",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			batchID, itemID := args[0], args[1]
			return ctx.withClient(func(client *api.Client) error {
				return saveDownload(cmd, output, itemID, func(w io.Writer) (string, int64, error) {
					return client.DownloadBatchItem(cmd.Context(), batchID, itemID, w)
				})
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Destination file or directory")
	return cmd
}

func newBatchDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <batch-id>",
		Short: "Cancel a batch and remove every file it produced",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				if err := client.DeleteBatch(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Batch %s deleted\n", args[0])
				return nil
			})
		},
	}
}

func renderItemTable(items []workflow.ItemSummary) string {
	if len(items) == 0 {
		return "No items"
	}
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		detail := item.ErrorDetail
		if detail == "" {
			detail = item.Title
		}
		rows = append(rows, []string{
			item.ID,
			item.Stage.Label(),
			item.Encoding,
			formatPercent(item.Progress),
			strconv.Itoa(item.Attempts),
			detail,
		})
	}
	return renderTable([]column{
		textCol("Item"), textCol("Stage"), textCol("Encoding"),
		numCol("Progress"), numCol("Attempts"), textCol("Title / Error"),
	}, rows)
}

func parseOverrides(values []string) (map[string]string, error) {
	if len(values) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(values))
	for _, value := range values {
		itemID, encodingID, ok := strings.Cut(value, "=")
		itemID, encodingID = strings.TrimSpace(itemID), strings.TrimSpace(encodingID)
		if !ok || itemID == "" || encodingID == "" {
			return nil, fmt.Errorf("invalid override %q (want <item-id>=<encoding-id>)", value)
		}
		out[itemID] = encodingID
	}
	return out, nil
}

func readRefs(stdin io.Reader, path string) ([]string, error) {
	reader := stdin
	if path != "-" {
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open source list: %w", err)
		}
		defer file.Close()
		reader = file
	}
	var refs []string
	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		refs = append(refs, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read source list: %w", err)
	}
	if len(refs) == 0 && path != "-" {
		return nil, errors.New("source list is empty")
	}
	return refs, nil
}
