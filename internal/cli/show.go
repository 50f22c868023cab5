package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/specmut/internal/mutation"
)

// showResult is the JSON payload of show.
type showResult struct {
	Mutation mutation.Mutation      `json:"mutation"`
	Log      []mutation.LogEntry    `json:"log"`
	Events   []mutation.StatusEvent `json:"events"`
}

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "show <mutation-id>",
		Short:         "Show a mutation's record, execution log, and event history",
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

			ctx := cmd.Context()
			m, err := eng.GetMutation(ctx, args[0])
			if err != nil {
				return formatter.Fail(err)
			}
			log, err := eng.ReadLog(ctx, m.ID)
			if err != nil {
				return formatter.Fail(err)
			}
			events, err := st.EventsSince(ctx, mutation.SubjectMutation, m.ID, 0)
			if err != nil {
				return formatter.Fail(err)
			}

			if rootOpts.Format == "json" {
				return formatter.Success(showResult{Mutation: m, Log: log, Events: events})
			}

			w := formatter.Writer
			fmt.Fprintf(w, "mutation %s\n", m.ID)
			fmt.Fprintf(w, "  project:   %s\n", m.ProjectID)
			fmt.Fprintf(w, "  operation: %s\n", m.Operation)
			fmt.Fprintf(w, "  status:    %s\n", m.Status)
			fmt.Fprintf(w, "  risk:      %s\n", m.Risk)
			fmt.Fprintf(w, "  hash:      %s\n", m.ChangesHash)
			if m.Description != "" {
				fmt.Fprintf(w, "  description: %s\n", m.Description)
			}
			if m.ErrorDetail != "" {
				fmt.Fprintf(w, "  error:     %s\n", m.ErrorDetail)
			}

			if len(events) > 0 {
				fmt.Fprintln(w, "events:")
				for _, ev := range events {
					if ev.Progress != nil {
						fmt.Fprintf(w, "  %3d  %s (%d%%) %s\n", ev.Seq, ev.Status, *ev.Progress, ev.Message)
						continue
					}
					fmt.Fprintf(w, "  %3d  %s  %s\n", ev.Seq, ev.Status, ev.Message)
				}
			}

			if len(log) > 0 {
				fmt.Fprintln(w, "log:")
				for _, entry := range log {
					fmt.Fprintf(w, "  %s  %s\n", entry.LoggedAt.Format("15:04:05"), entry.Entry)
				}
			}
			return nil
		},
	}

	return cmd
}
