package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"fanin/internal/ipc"
)

func newSignalCommand(ctx *commandContext) *cobra.Command {
	var itemID string
	var payload string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "signal <event-name>",
		Short: "Deliver a completion signal",
		Long: "Deliver a completion signal such as \"ItemCompleted:<batch-id>\". The item id comes " +
			"from --item or from the payload's itemId or fileName field.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := ipc.SignalRequest{
				EventName: strings.TrimSpace(args[0]),
				ItemID:    strings.TrimSpace(itemID),
			}
			if payload = strings.TrimSpace(payload); payload != "" {
				if !json.Valid([]byte(payload)) {
					return fmt.Errorf("payload is not valid JSON")
				}
				req.Payload = json.RawMessage(payload)
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Signal(req)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp)
				}
				printOutcome(cmd, resp)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&itemID, "item", "", "Completed item id")
	cmd.Flags().StringVar(&payload, "payload", "", "Raw JSON payload")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newWorkDoneCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "work-done <batch-id> <item-id>",
		Short: "Report that the worker finished a dispatched item",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.WorkDone(ipc.WorkDoneRequest{BatchID: args[0], ItemID: args[1]})
				if err != nil {
					return err
				}
				printOutcome(cmd, resp)
				return nil
			})
		},
	}
}

func printOutcome(cmd *cobra.Command, resp *ipc.SignalResponse) {
	out := cmd.OutOrStdout()
	target := strings.Trim(resp.BatchID+"/"+resp.ItemID, "/")
	switch {
	case target != "" && resp.Detail != "":
		fmt.Fprintf(out, "%s: %s (%s)\n", target, resp.Outcome, resp.Detail)
	case target != "":
		fmt.Fprintf(out, "%s: %s\n", target, resp.Outcome)
	case resp.Detail != "":
		fmt.Fprintf(out, "%s (%s)\n", resp.Outcome, resp.Detail)
	default:
		fmt.Fprintln(out, resp.Outcome)
	}
}
