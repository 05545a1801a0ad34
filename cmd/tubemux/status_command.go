package main

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"tubemux/internal/api"
	"tubemux/internal/job"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, dependency, and directory status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				status, err := client.Status(cmd.Context())
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, status)
				}
				renderDaemonStatus(cmd, status)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func renderDaemonStatus(cmd *cobra.Command, status *api.DaemonStatus) {
	stdout := cmd.OutOrStdout()
	colorize := shouldColorize(stdout)
	section := func(title string, lines []string) {
		for _, line := range renderSectionHeader(title, colorize) {
			fmt.Fprintln(stdout, line)
		}
		for _, line := range lines {
			fmt.Fprintln(stdout, line)
		}
		fmt.Fprintln(stdout)
	}

	wf := status.Workflow
	system := []string{
		renderStatusLine("Daemon", statusOK, fmt.Sprintf("Running (pid %d)", status.PID), colorize),
		renderStatusLine("Lock file", statusInfo, status.LockFilePath, colorize),
	}
	if wf.HistoryEnabled {
		historyKind := statusOK
		detail := status.HistoryPath
		if wf.HistoryFailures > 0 {
			historyKind = statusWarn
			detail = fmt.Sprintf("%s (%d write failures)", status.HistoryPath, wf.HistoryFailures)
		}
		system = append(system, renderStatusLine("History", historyKind, detail, colorize))
	} else {
		system = append(system, renderStatusLine("History", statusWarn, "Disabled", colorize))
	}
	section("System Status", system)
	section("Dependencies", dependencyLines(status.Dependencies, colorize))
	section("Directories", directoryLines(wf.Directories, colorize))

	work := []string{
		renderStatusLine("Jobs", statusInfo, strconv.Itoa(wf.Jobs), colorize),
		renderStatusLine("Batches", statusInfo, strconv.Itoa(wf.Batches), colorize),
		renderStatusLine("Active executors", statusInfo, strconv.Itoa(wf.ActiveItems), colorize),
		renderStatusLine("Batch slots", statusInfo, fmt.Sprintf("%d of %d in use", wf.AdmittedBatch, wf.AdmissionLimit), colorize),
	}
	section("Work", work)

	if len(wf.StageCounts) == 0 {
		return
	}
	stages := make([]job.Stage, 0, len(wf.StageCounts))
	for stage := range wf.StageCounts {
		stages = append(stages, stage)
	}
	sort.Slice(stages, func(i, j int) bool { return stages[i] < stages[j] })
	rows := make([][]string, 0, len(stages))
	for _, stage := range stages {
		rows = append(rows, []string{stage.Label(), strconv.Itoa(wf.StageCounts[stage])})
	}
	fmt.Fprintln(stdout, renderTable([]column{textCol("Stage"), numCol("Items")}, rows))
}
