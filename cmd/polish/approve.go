package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"polish/internal/approval"
	"polish/internal/server"
)

func newApproveCmd() *cobra.Command {
	var (
		addr     string
		action   string
		feedback string
	)
	cmd := &cobra.Command{
		Use:   "approve <checkpoint-id>",
		Short: "Decide a pending checkpoint on a running polish process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := server.NewClient("http://" + addr)
			result, err := client.Decide(cmd.Context(), args[0], approval.Action(action), feedback, nil)
			if err != nil {
				return err
			}
			if !result.Accepted {
				fmt.Fprintf(cmd.OutOrStdout(), "not accepted: %s\n", result.Reason)
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "decision accepted")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:7328", "approval server address")
	cmd.Flags().StringVar(&action, "action", "approve", "approve, reject, or skip")
	cmd.Flags().StringVar(&feedback, "feedback", "", "reviewer feedback (stored with the decision)")
	return cmd
}

func newStatusCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "List pending checkpoints on a running polish process",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client := server.NewClient("http://" + addr)
			pending, err := client.Pending(cmd.Context())
			if err != nil {
				return err
			}
			if len(pending) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no pending checkpoints")
				return nil
			}
			for _, req := range pending {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s iteration %d  risk=%s  ~%d¢\n",
					req.CheckpointID, req.Phase, req.Iteration, req.Risk, req.EstimatedCostCents)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:7328", "approval server address")
	return cmd
}
