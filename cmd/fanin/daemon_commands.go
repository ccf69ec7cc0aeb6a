package main

import (
	"errors"
	"fmt"
	"slices"
	"strconv"

	"github.com/spf13/cobra"

	"fanin/internal/daemonrun"
	"fanin/internal/ipc"
)

func newDaemonRunCommand(ctx *commandContext) *cobra.Command {
	var logLevel string
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the fanin daemon in the foreground",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{LogLevel: logLevel})
		},
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override logging.level (debug, info, warn, error)")
	return cmd
}

func newDaemonCommands(ctx *commandContext) []*cobra.Command {
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Resume batch coordination in a running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Start()
				if err != nil {
					return err
				}
				if !resp.Started {
					return errors.New(resp.Message)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Daemon started")
				return nil
			})
		},
	}

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Pause batch coordination without exiting the daemon process",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				if _, err := client.Stop(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Daemon stopped")
				return nil
			})
		},
	}

	var statusJSON bool
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, gate, and batch status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				status, err := client.Status()
				if err != nil {
					return err
				}
				if statusJSON {
					return writeJSON(cmd, status)
				}
				renderDaemonStatus(cmd, status)
				return nil
			})
		},
	}
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output as JSON")

	return []*cobra.Command{startCmd, stopCmd, statusCmd}
}

func renderDaemonStatus(cmd *cobra.Command, status *ipc.StatusResponse) {
	stdout := cmd.OutOrStdout()
	colorize := shouldColorize(stdout)

	for _, line := range renderSectionHeader("Daemon", colorize) {
		fmt.Fprintln(stdout, line)
	}
	if status.Running {
		fmt.Fprintln(stdout, renderStatusLine("Coordinator", statusOK, "Running (pid "+strconv.Itoa(status.PID)+")", colorize))
	} else {
		fmt.Fprintln(stdout, renderStatusLine("Coordinator", statusWarn, "Stopped", colorize))
	}
	if status.Coordinator.LastError != "" {
		fmt.Fprintln(stdout, renderStatusLine("Last error", statusError, status.Coordinator.LastError, colorize))
	}
	fmt.Fprintln(stdout, renderStatusLine("Database", statusInfo, status.DatabasePath, colorize))
	bind := status.APIBind
	if bind == "" {
		bind = "disabled"
	}
	fmt.Fprintln(stdout, renderStatusLine("HTTP API", statusInfo, bind, colorize))
	fmt.Fprintln(stdout, renderStatusLine("Dispatch mode", statusInfo, status.DispatchMode, colorize))
	fmt.Fprintln(stdout)

	for _, line := range renderSectionHeader("Worker Gate", colorize) {
		fmt.Fprintln(stdout, line)
	}
	if status.Gate.Held {
		detail := fmt.Sprintf("held by %s, expires %s", status.Gate.Holder, formatWhen(status.Gate.ExpiresAt))
		fmt.Fprintln(stdout, renderStatusLine(status.Gate.Name, statusWarn, detail, colorize))
	} else {
		fmt.Fprintln(stdout, renderStatusLine(status.Gate.Name, statusOK, "free", colorize))
	}
	fmt.Fprintln(stdout)

	for _, line := range renderSectionHeader("Batches", colorize) {
		fmt.Fprintln(stdout, line)
	}
	rows := batchCountRows(status.Coordinator.BatchCounts)
	if len(rows) == 0 {
		fmt.Fprintln(stdout, "No batches")
		return
	}
	fmt.Fprint(stdout, renderTable([]string{"Status", "Count"}, rows, 1))
}

func batchCountRows(counts map[string]int) [][]string {
	statuses := make([]string, 0, len(counts))
	for status, count := range counts {
		if count > 0 {
			statuses = append(statuses, status)
		}
	}
	slices.Sort(statuses)
	rows := make([][]string, 0, len(statuses))
	for _, status := range statuses {
		rows = append(rows, []string{batchStatusLabel(status), strconv.Itoa(counts[status])})
	}
	return rows
}
