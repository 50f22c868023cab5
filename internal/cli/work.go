package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewClaimCommand creates the claim command for execution collaborators.
func NewClaimCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "claim",
		Short: "Claim the oldest queued mutation for execution",
		Long: `Claim the oldest queued mutation, moving it to executing.

Exits 0 with the claimed record, or exits 0 with no record when the
queue is empty. Racing executors never claim the same mutation twice.`,
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

			claimed, err := eng.ClaimNext(cmd.Context())
			if err != nil {
				return formatter.Fail(err)
			}

			if claimed == nil {
				if rootOpts.Format == "json" {
					return formatter.Success(map[string]any{"claimed": false})
				}
				fmt.Fprintln(formatter.Writer, "queue empty")
				return nil
			}

			if rootOpts.Format == "json" {
				return formatter.Success(map[string]any{"claimed": true, "mutation": claimed})
			}
			fmt.Fprintf(formatter.Writer, "claimed %s (%s %s)\n",
				claimed.ID, claimed.Operation, claimed.ProjectID)
			return nil
		},
	}

	return cmd
}

// NewProgressCommand creates the progress reporting command.
func NewProgressCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		percent int
		message string
	)

	cmd := &cobra.Command{
		Use:           "progress <mutation-id>",
		Short:         "Report execution progress for an executing mutation",
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

			if err := eng.ReportProgress(cmd.Context(), args[0], percent, message); err != nil {
				return formatter.Fail(err)
			}

			if rootOpts.Format == "json" {
				return formatter.Success(map[string]any{"mutation_id": args[0], "progress": percent})
			}
			fmt.Fprintf(formatter.Writer, "mutation %s at %d%%\n", args[0], percent)
			return nil
		},
	}

	cmd.Flags().IntVar(&percent, "percent", 0, "progress percentage 0-100 (required)")
	cmd.Flags().StringVar(&message, "message", "", "optional progress message")
	_ = cmd.MarkFlagRequired("percent")

	return cmd
}

// NewReportCommand creates the outcome reporting command.
func NewReportCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		success bool
		failure bool
		detail  string
		logs    []string
	)

	cmd := &cobra.Command{
		Use:           "report <mutation-id>",
		Short:         "Report the execution outcome for an executing mutation",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)

			if success == failure {
				return formatter.Fail(fmt.Errorf("exactly one of --success or --failure is required"))
			}

			eng, st, _, err := openEngine(rootOpts, cmd)
			if err != nil {
				return formatter.Fail(err)
			}
			defer st.Close()

			m, err := eng.ReportOutcome(cmd.Context(), args[0], success, detail, logs)
			if err != nil {
				return formatter.Fail(err)
			}

			if rootOpts.Format == "json" {
				return formatter.Success(map[string]string{
					"mutation_id": m.ID,
					"status":      string(m.Status),
				})
			}
			fmt.Fprintf(formatter.Writer, "mutation %s %s\n", m.ID, m.Status)
			return nil
		},
	}

	cmd.Flags().BoolVar(&success, "success", false, "execution succeeded")
	cmd.Flags().BoolVar(&failure, "failure", false, "execution failed")
	cmd.Flags().StringVar(&detail, "detail", "", "result summary or error description")
	cmd.Flags().StringArrayVar(&logs, "log", nil, "execution log entry (repeatable)")

	return cmd
}
