package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		interval time.Duration
		once     bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream status events from the record store",
		Long: `Stream status events as they are committed.

Polls the durable event log with a cursor, so no event is ever missed
or printed twice within one watch session. Use --once to drain the
current log and exit.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)

			_, st, _, err := openEngine(rootOpts, cmd)
			if err != nil {
				return formatter.Fail(err)
			}
			defer st.Close()

			ctx := cmd.Context()
			var cursor int64
			for {
				events, next, err := st.EventsAfter(ctx, cursor)
				if err != nil {
					return formatter.Fail(err)
				}
				cursor = next

				for _, ev := range events {
					if rootOpts.Format == "json" {
						if err := formatter.Success(ev); err != nil {
							return err
						}
						continue
					}
					if ev.Progress != nil {
						fmt.Fprintf(formatter.Writer, "%s %s/%s seq=%d %s (%d%%) %s\n",
							ev.EmittedAt.Format(time.RFC3339), ev.Subject, ev.SubjectID,
							ev.Seq, ev.Status, *ev.Progress, ev.Message)
						continue
					}
					fmt.Fprintf(formatter.Writer, "%s %s/%s seq=%d %s %s\n",
						ev.EmittedAt.Format(time.RFC3339), ev.Subject, ev.SubjectID,
						ev.Seq, ev.Status, ev.Message)
				}

				if once {
					return nil
				}
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(interval):
				}
			}
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", time.Second, "poll interval")
	cmd.Flags().BoolVar(&once, "once", false, "drain the current log and exit")

	return cmd
}

// NewPruneCommand creates the prune command.
func NewPruneCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete status events past the configured retention window",
		Long: `Delete status events older than the configured retention window.

The newest event of every subject is always retained so consumers can
still detect how far behind they are; anyone who missed pruned events
recovers with a full re-fetch.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)

			_, st, cfg, err := openEngine(rootOpts, cmd)
			if err != nil {
				return formatter.Fail(err)
			}
			defer st.Close()

			retention := cfg.Events.Retention.Std()
			if retention == 0 {
				if rootOpts.Format == "json" {
					return formatter.Success(map[string]any{"pruned": 0})
				}
				fmt.Fprintln(formatter.Writer, "retention disabled, nothing to prune")
				return nil
			}

			n, err := st.PruneEvents(cmd.Context(), time.Now().Add(-retention))
			if err != nil {
				return formatter.Fail(err)
			}

			if rootOpts.Format == "json" {
				return formatter.Success(map[string]any{"pruned": n})
			}
			fmt.Fprintf(formatter.Writer, "pruned %d event(s)\n", n)
			return nil
		},
	}

	return cmd
}
