package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Resume every RUNNING and STALLED workflow once, then exit",
	Long: `Run a single reconciliation sweep.

Each active workflow is checked against the chain before its current step
runs again, so steps that already landed are recorded instead of resent.`,
	RunE: runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)
}

func runReconcile(cmd *cobra.Command, _ []string) (err error) {
	ctx := cmd.Context()

	gw, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := gw.close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	n, err := gw.engine.Workflows().ReconcileAllActive(ctx)
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "reconciled %d workflows\n", n)
	return nil
}
