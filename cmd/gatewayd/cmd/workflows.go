package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/chaoschain/gateway/client"
	"github.com/chaoschain/gateway/id"
	"github.com/chaoschain/gateway/workflow"
)

var (
	serverURL string

	listState  string
	listType   string
	listSigner string
	listLimit  int
)

var workflowsCmd = &cobra.Command{
	Use:     "workflows",
	Aliases: []string{"wf"},
	Short:   "Inspect and resume workflows on a running gatewayd",
}

var workflowsGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Print one workflow record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		wfID, err := id.ParseWorkflowID(args[0])
		if err != nil {
			return err
		}
		rec, err := remote().Get(cmd.Context(), wfID)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), rec)
	},
}

var workflowsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List workflow records",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		recs, err := remote().List(cmd.Context(), workflow.ListOpts{
			State:  workflow.State(listState),
			Type:   workflow.Type(listType),
			Signer: listSigner,
			Limit:  listLimit,
		})
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), recs)
	},
}

var workflowsResumeCmd = &cobra.Command{
	Use:   "resume <id>",
	Short: "Queue a STALLED or RUNNING workflow for another attempt",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		wfID, err := id.ParseWorkflowID(args[0])
		if err != nil {
			return err
		}
		rec, err := remote().Resume(cmd.Context(), wfID)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), rec)
	},
}

var workflowsWatchCmd = &cobra.Command{
	Use:   "watch [topic...]",
	Short: "Stream lifecycle events as JSON lines",
	Long: `Stream lifecycle events until interrupted. Topics are workflows,
workflow:<id>, type:<WorkSubmission|ScoreSubmission|CloseEpoch> or
signer:<address>; none means every workflow.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		w, err := remote().Watch(ctx, args...)
		if err != nil {
			return err
		}
		defer w.Close()

		enc := json.NewEncoder(cmd.OutOrStdout())
		for evt := range w.Events() {
			if err := enc.Encode(evt); err != nil {
				return err
			}
		}
		return w.Err()
	},
}

func init() {
	workflowsCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "gatewayd base URL")

	workflowsListCmd.Flags().StringVar(&listState, "state", "", "filter by state")
	workflowsListCmd.Flags().StringVar(&listType, "type", "", "filter by workflow type")
	workflowsListCmd.Flags().StringVar(&listSigner, "signer", "", "filter by signer address")
	workflowsListCmd.Flags().IntVar(&listLimit, "limit", 0, "maximum records (server default 100)")

	workflowsCmd.AddCommand(workflowsGetCmd, workflowsListCmd, workflowsResumeCmd, workflowsWatchCmd)
	rootCmd.AddCommand(workflowsCmd)
}

func remote() *client.Client {
	return client.New(serverURL, client.WithLogger(logger))
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
