package cli

import (
	"fmt"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"alertrelay/internal/drain"
	"alertrelay/internal/storage"
	logx "alertrelay/pkg/logx"
)

func newStatusCmd(a *app) *cobra.Command {
	var (
		queueDir string
		asJSON   bool
		recent   int
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Summarize the failure queue and recent deliveries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st := buildStack(a.settings, a.log, queueDir)
			defer st.close()

			now := time.Now()
			status, err := drain.Summarize(st.queue, now)
			if err != nil {
				return err
			}
			var entries []storage.Entry
			if st.journal != nil && recent > 0 {
				if entries, err = st.journal.Recent(cmd.Context(), recent); err != nil {
					a.log.Warn("journal read failed", logx.Err(err))
				}
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return printJSON(out, struct {
					drain.Status
					Recent []storage.Entry `json:"recent,omitempty"`
				}{status, entries})
			}

			fmt.Fprintf(out, "Queue:    %s\n", status.QueueDir)
			fmt.Fprintf(out, "Pending:  %d\n", status.Total)
			dests := make([]string, 0, len(status.ByDestination))
			for d := range status.ByDestination {
				dests = append(dests, d)
			}
			sort.Strings(dests)
			for _, d := range dests {
				fmt.Fprintf(out, "  %-10s %d\n", d, status.ByDestination[d])
			}
			if status.Oldest != nil {
				fmt.Fprintf(out, "Oldest:   %s (%s)\n", status.OldestAge, status.Oldest.Format(time.RFC3339))
			}
			if len(entries) > 0 {
				fmt.Fprintln(out, "Recent deliveries:")
				for _, e := range entries {
					line := fmt.Sprintf("  %-14s %-9s %-13s %s", humanize.RelTime(e.At, now, "ago", "from now"), e.Destination, e.Outcome, e.Tag)
					if e.Error != "" {
						line += "  (" + e.Error + ")"
					}
					fmt.Fprintln(out, line)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&queueDir, "queue-dir", "", "queue directory (default: queue.dir)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	cmd.Flags().IntVar(&recent, "recent", 10, "journal entries to show (0 hides them)")
	return cmd
}
