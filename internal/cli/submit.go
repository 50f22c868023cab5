package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/specmut/internal/mutation"
)

// submitResult is the JSON payload of a successful submit.
type submitResult struct {
	MutationID string `json:"mutation_id"`
	Status     string `json:"status"`
	Risk       string `json:"risk"`
	ApprovalID string `json:"approval_id,omitempty"`
	Estimate   string `json:"estimate"`
}

// NewSubmitCommand creates the submit command.
func NewSubmitCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		projectID   string
		operation   string
		changesJSON string
		description string
		resources   []string
		autoApprove bool
		requestedBy string
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a mutation request",
		Long: `Submit a mutation request for risk assessment.

Low-risk requests with --auto-approve go straight to the execution
queue; anything else opens an approval request and waits.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)

			var changes map[string]any
			dec := json.NewDecoder(strings.NewReader(changesJSON))
			dec.UseNumber()
			if err := dec.Decode(&changes); err != nil {
				return formatter.Fail(fmt.Errorf("parse --changes: %w", err))
			}

			eng, st, _, err := openEngine(rootOpts, cmd)
			if err != nil {
				return formatter.Fail(err)
			}
			defer st.Close()

			res, err := eng.Submit(cmd.Context(), mutation.Request{
				ProjectID:         projectID,
				Operation:         mutation.OperationKind(operation),
				Changes:           changes,
				Description:       description,
				AffectedResources: resources,
				AutoApprove:       autoApprove,
				RequestedBy:       requestedBy,
			})
			if err != nil {
				return formatter.Fail(err)
			}

			out := submitResult{
				MutationID: res.Mutation.ID,
				Status:     string(res.Mutation.Status),
				Risk:       string(res.Mutation.Risk),
				Estimate:   res.Estimate.Round(time.Second).String(),
			}
			if res.Approval != nil {
				out.ApprovalID = res.Approval.ID
			}

			if rootOpts.Format == "json" {
				return formatter.Success(out)
			}

			fmt.Fprintf(formatter.Writer, "mutation %s\n", out.MutationID)
			fmt.Fprintf(formatter.Writer, "  status:   %s\n", out.Status)
			fmt.Fprintf(formatter.Writer, "  risk:     %s\n", out.Risk)
			fmt.Fprintf(formatter.Writer, "  estimate: %s\n", out.Estimate)
			if out.ApprovalID != "" {
				fmt.Fprintf(formatter.Writer, "  awaiting approval %s\n", out.ApprovalID)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&projectID, "project", "", "project id (required)")
	cmd.Flags().StringVar(&operation, "op", "", "operation type (required)")
	cmd.Flags().StringVar(&changesJSON, "changes", "", "changes payload as JSON (required)")
	cmd.Flags().StringVar(&description, "description", "", "human-readable description")
	cmd.Flags().StringArrayVar(&resources, "resource", nil, "affected resource (repeatable)")
	cmd.Flags().BoolVar(&autoApprove, "auto-approve", false, "execute without approval when risk is low")
	cmd.Flags().StringVar(&requestedBy, "by", "", "submitting identity (required)")
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("op")
	_ = cmd.MarkFlagRequired("changes")
	_ = cmd.MarkFlagRequired("by")

	return cmd
}
