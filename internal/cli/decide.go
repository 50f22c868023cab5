package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// decisionResult is the JSON payload of approve/reject.
type decisionResult struct {
	ApprovalID string   `json:"approval_id"`
	Status     string   `json:"status"`
	Mutations  []string `json:"mutations"`
}

// NewApproveCommand creates the approve command.
func NewApproveCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		by      string
		comment string
	)

	cmd := &cobra.Command{
		Use:   "approve <approval-id>",
		Short: "Approve a pending approval request",
		Long: `Approve a pending approval request and release its gated
mutations to the execution queue.

Fails with CONFLICT when the request has already been decided, and
with EXPIRED_APPROVAL when its expiry window has lapsed.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)

			eng, st, _, err := openEngine(rootOpts, cmd)
			if err != nil {
				return formatter.Fail(err)
			}
			defer st.Close()

			decided, err := eng.Approve(cmd.Context(), args[0], by, comment)
			if err != nil {
				return formatter.Fail(err)
			}

			out := decisionResult{
				ApprovalID: decided.ID,
				Status:     string(decided.Status),
				Mutations:  decided.MutationIDs,
			}
			if rootOpts.Format == "json" {
				return formatter.Success(out)
			}
			fmt.Fprintf(formatter.Writer, "approval %s %s; %d mutation(s) queued\n",
				out.ApprovalID, out.Status, len(out.Mutations))
			return nil
		},
	}

	cmd.Flags().StringVar(&by, "by", "", "approving identity (required)")
	cmd.Flags().StringVar(&comment, "comment", "", "optional decision comment")
	_ = cmd.MarkFlagRequired("by")

	return cmd
}

// NewRejectCommand creates the reject command.
func NewRejectCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		by     string
		reason string
	)

	cmd := &cobra.Command{
		Use:           "reject <approval-id>",
		Short:         "Reject a pending approval request",
		Long:          "Reject a pending approval request. A non-empty --reason is mandatory.",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)

			eng, st, _, err := openEngine(rootOpts, cmd)
			if err != nil {
				return formatter.Fail(err)
			}
			defer st.Close()

			decided, err := eng.Reject(cmd.Context(), args[0], by, reason)
			if err != nil {
				return formatter.Fail(err)
			}

			out := decisionResult{
				ApprovalID: decided.ID,
				Status:     string(decided.Status),
				Mutations:  decided.MutationIDs,
			}
			if rootOpts.Format == "json" {
				return formatter.Success(out)
			}
			fmt.Fprintf(formatter.Writer, "approval %s %s\n", out.ApprovalID, out.Status)
			return nil
		},
	}

	cmd.Flags().StringVar(&by, "by", "", "rejecting identity (required)")
	cmd.Flags().StringVar(&reason, "reason", "", "rejection reason (required)")
	_ = cmd.MarkFlagRequired("by")
	_ = cmd.MarkFlagRequired("reason")

	return cmd
}

// NewCancelCommand creates the cancel command.
func NewCancelCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		by     string
		reason string
	)

	cmd := &cobra.Command{
		Use:           "cancel <mutation-id>",
		Short:         "Cancel a mutation before execution begins",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)

			eng, st, _, err := openEngine(rootOpts, cmd)
			if err != nil {
				return formatter.Fail(err)
			}
			defer st.Close()

			m, err := eng.Cancel(cmd.Context(), args[0], by, reason)
			if err != nil {
				return formatter.Fail(err)
			}

			if rootOpts.Format == "json" {
				return formatter.Success(map[string]string{
					"mutation_id": m.ID,
					"status":      string(m.Status),
				})
			}
			fmt.Fprintf(formatter.Writer, "mutation %s cancelled\n", m.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&by, "by", "", "cancelling identity (required)")
	cmd.Flags().StringVar(&reason, "reason", "", "optional cancellation reason")
	_ = cmd.MarkFlagRequired("by")

	return cmd
}
