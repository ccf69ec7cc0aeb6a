package main

import (
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"fanin/internal/api"
	"fanin/internal/ipc"
)

func newBatchCommand(ctx *commandContext) *cobra.Command {
	batchCmd := &cobra.Command{
		Use:   "batch",
		Short: "Create and inspect batches",
	}

	batchCmd.AddCommand(newBatchCreateCommand(ctx))
	batchCmd.AddCommand(newBatchShowCommand(ctx))
	batchCmd.AddCommand(newBatchListCommand(ctx))
	batchCmd.AddCommand(newBatchAwaitCommand(ctx))

	return batchCmd
}

func newBatchCreateCommand(ctx *commandContext) *cobra.Command {
	var batchID string
	var timeout time.Duration
	var fromFile string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "create [item...]",
		Short: "Start a batch over a set of item ids",
		Long:  "Start a batch over the given item ids. Use --from - to read one id per line from stdin.",
		RunE: func(cmd *cobra.Command, args []string) error {
			items := append([]string(nil), args...)
			if fromFile != "" {
				read, err := readItems(cmd, fromFile)
				if err != nil {
					return err
				}
				items = append(items, read...)
			}
			req := ipc.CreateBatchRequest{
				BatchID:        strings.TrimSpace(batchID),
				Items:          items,
				TimeoutSeconds: int(timeout / time.Second),
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.CreateBatch(req)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Batch %s created with %d items\n", resp.BatchID, resp.ExpectedCount)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&batchID, "id", "", "Batch id (generated when empty)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Wait window without progress before the batch times out (default from config)")
	cmd.Flags().StringVar(&fromFile, "from", "", "Read item ids from a file, one per line (- for stdin)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func readItems(cmd *cobra.Command, path string) ([]string, error) {
	var r io.Reader
	if path == "-" {
		r = cmd.InOrStdin()
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open item list: %w", err)
		}
		defer f.Close()
		r = f
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read item list: %w", err)
	}
	var items []string
	for line := range strings.Lines(string(data)) {
		if item := strings.TrimSpace(line); item != "" {
			items = append(items, item)
		}
	}
	return items, nil
}

func newBatchShowCommand(ctx *commandContext) *cobra.Command {
	var withItems bool
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <batch-id>",
		Short: "Show the current result of a batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Batch(args[0], withItems)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp.Batch)
				}
				renderBatchResult(cmd, resp.Batch)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&withItems, "items", false, "Include per-item detail")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newBatchListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List batches",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.BatchList(statuses)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp)
				}
				stdout := cmd.OutOrStdout()
				if len(resp.Batches) == 0 {
					fmt.Fprintln(stdout, "No batches")
					return nil
				}
				fmt.Fprint(stdout, renderTable(
					[]string{"Batch", "Status", "Completed", "Bytes", "Created"},
					batchSummaryRows(resp.Batches),
					2, 3,
				))
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by status (running, completed, timed_out)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func batchSummaryRows(batches []api.BatchSummary) [][]string {
	rows := make([][]string, 0, len(batches))
	for _, b := range batches {
		rows = append(rows, []string{
			b.BatchID,
			batchStatusLabel(b.Status),
			fmt.Sprintf("%d/%d", b.CompletedCount, b.ExpectedCount),
			formatBytes(b.TotalBytes),
			formatWhen(b.CreatedAt),
		})
	}
	return rows
}

func newBatchAwaitCommand(ctx *commandContext) *cobra.Command {
	var timeout time.Duration
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "await <batch-id>",
		Short: "Block until a batch completes or times out",
		Long: "Block until the batch completes or its wait window closes. With --timeout the batch " +
			"is closed as timed out when the timeout elapses first.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Await(args[0], timeout)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp.Batch)
				}
				renderBatchResult(cmd, resp.Batch)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Maximum time to wait (default: the batch's own window)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func renderBatchResult(cmd *cobra.Command, result api.BatchResult) {
	stdout := cmd.OutOrStdout()
	colorize := shouldColorize(stdout)

	for _, line := range renderSectionHeader("Batch "+result.BatchID, colorize) {
		fmt.Fprintln(stdout, line)
	}
	fmt.Fprintln(stdout, renderStatusLine("Status", batchStatusKind(result.Status), batchStatusLabel(result.Status), colorize))
	fmt.Fprintln(stdout, renderStatusLine("Completed", statusInfo,
		fmt.Sprintf("%d of %d", len(result.Completed), result.ExpectedCount), colorize))
	fmt.Fprintln(stdout, renderStatusLine("Total size", statusInfo, formatBytes(result.TotalBytes), colorize))
	fmt.Fprintln(stdout, renderStatusLine("Created", statusInfo, formatWhen(result.CreatedAt), colorize))
	if result.FinishedAt != "" {
		fmt.Fprintln(stdout, renderStatusLine("Finished", statusInfo, formatWhen(result.FinishedAt), colorize))
	}
	if len(result.Pending) > 0 {
		fmt.Fprintln(stdout, renderStatusLine("Pending", statusWarn, strings.Join(result.Pending, ", "), colorize))
	}
	for _, item := range slices.Sorted(maps.Keys(result.DispatchErrors)) {
		fmt.Fprintln(stdout, renderStatusLine("Dispatch "+item, statusError, result.DispatchErrors[item], colorize))
	}

	if len(result.Items) == 0 {
		return
	}
	fmt.Fprintln(stdout)
	rows := make([][]string, 0, len(result.Items))
	for _, item := range result.Items {
		rows = append(rows, []string{
			item.ItemID,
			yesNo(item.Completed),
			formatBytes(item.Bytes),
			item.DispatchState,
			orDash(item.DispatchError),
		})
	}
	fmt.Fprint(stdout, renderTable([]string{"Item", "Done", "Bytes", "Dispatch", "Error"}, rows, 2))
}

func orDash(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}
