package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/specmut/internal/mutation"
	"github.com/roach88/specmut/internal/store"
)

// NewListCommand creates the list command for mutations.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	var projectID string

	cmd := &cobra.Command{
		Use:           "list",
		Short:         "List mutations",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)

			eng, st, _, err := openEngine(rootOpts, cmd)
			if err != nil {
				return formatter.Fail(err)
			}
			defer st.Close()

			muts, err := eng.ListMutations(cmd.Context(), projectID)
			if err != nil {
				return formatter.Fail(err)
			}

			if rootOpts.Format == "json" {
				return formatter.Success(muts)
			}

			w := tabwriter.NewWriter(formatter.Writer, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tPROJECT\tOPERATION\tRISK\tSTATUS\tCREATED")
			for _, m := range muts {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					m.ID, m.ProjectID, m.Operation, m.Risk, m.Status,
					m.CreatedAt.Format("2006-01-02 15:04:05"))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&projectID, "project", "", "filter by project id")
	return cmd
}

// NewApprovalsCommand creates the approvals listing command.
func NewApprovalsCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		status   string
		priority string
		risk     string
		assignee string
	)

	cmd := &cobra.Command{
		Use:           "approvals",
		Short:         "List approval requests, highest priority first",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)

			eng, st, _, err := openEngine(rootOpts, cmd)
			if err != nil {
				return formatter.Fail(err)
			}
			defer st.Close()

			approvals, err := eng.ListApprovals(cmd.Context(), store.ApprovalFilter{
				Status:     mutation.ApprovalStatus(status),
				Priority:   mutation.Priority(priority),
				Risk:       mutation.RiskLevel(risk),
				AssignedTo: assignee,
			})
			if err != nil {
				return formatter.Fail(err)
			}

			if rootOpts.Format == "json" {
				return formatter.Success(approvals)
			}

			w := tabwriter.NewWriter(formatter.Writer, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tPRIORITY\tRISK\tSTATUS\tMUTATIONS\tEXPIRES")
			for _, a := range approvals {
				expires := "-"
				if a.ExpiresAt != nil {
					expires = a.ExpiresAt.Format("2006-01-02 15:04:05")
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
					a.ID, a.Priority, a.Risk, a.Status, len(a.MutationIDs), expires)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "filter by status (pending|approved|rejected|cancelled|expired)")
	cmd.Flags().StringVar(&priority, "priority", "", "filter by priority (low|medium|high|critical)")
	cmd.Flags().StringVar(&risk, "risk", "", "filter by risk (low|medium|high)")
	cmd.Flags().StringVar(&assignee, "assignee", "", "filter by assignee")
	return cmd
}
