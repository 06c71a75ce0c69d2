package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"alertrelay/internal/drain"
	"alertrelay/internal/notifier"
	"alertrelay/internal/queue"
)

type drainOptions struct {
	queueDir       string
	dests          []string
	max            int
	dryRun         bool
	verbose        bool
	jsonStatus     bool
	alertThreshold int
	alertTag       string
	alertSite      string
	maxAttempts    int
	strict         bool
}

func newDrainCmd(a *app) *cobra.Command {
	o := &drainOptions{}
	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Replay the failure queue once",
		Long: `Drain retries every pending queue record oldest first. Delivered records
are removed; failed ones stay with their attempt count raised.

Runs must not overlap. Schedule drain from one place only (a timer unit,
cron, or "alertrelay serve"), never several.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runDrain(cmd, o)
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.queueDir, "queue-dir", "", "queue directory (default: queue.dir)")
	f.StringArrayVar(&o.dests, "dest", nil, "only retry this destination: webhook or broadcast (repeatable)")
	f.IntVar(&o.max, "max", 0, "maximum records to process (0 = all)")
	f.BoolVar(&o.dryRun, "dry-run", false, "decide outcomes without sending or changing files")
	f.BoolVarP(&o.verbose, "verbose", "v", false, "print every record, not only failures")
	f.BoolVar(&o.jsonStatus, "json-status", false, "print a JSON queue summary at the end")
	f.IntVar(&o.alertThreshold, "alert-threshold", -1, "raise a backlog alert at this many remaining records (0 disables; default: drain.alert_threshold)")
	f.StringVar(&o.alertTag, "alert-tag", "", "backlog alert tag (default: drain.alert_tag or "+drain.DefaultAlertTag+")")
	f.StringVar(&o.alertSite, "alert-site", "", "backlog alert site (default: drain.alert_site or the host name)")
	f.IntVar(&o.maxAttempts, "max-attempts", -1, "dead-letter records after this many failed retries (0 = never; default: queue.max_attempts)")
	f.BoolVar(&o.strict, "strict", false, "exit 1 when failed records remain")
	return cmd
}

func (a *app) resolveDrainOptions(o *drainOptions) drain.Options {
	s := a.settings
	opts := drain.Options{
		MaxRecords:     o.max,
		DryRun:         o.dryRun,
		MaxAttempts:    s.Queue.MaxAttempts,
		AlertThreshold: s.Drain.AlertThreshold,
		AlertTag:       firstNonEmpty(o.alertTag, s.Drain.AlertTag),
		AlertSite:      firstNonEmpty(o.alertSite, s.Drain.AlertSite),
	}
	if o.maxAttempts >= 0 {
		opts.MaxAttempts = o.maxAttempts
	}
	if o.alertThreshold >= 0 {
		opts.AlertThreshold = o.alertThreshold
	}
	dests := o.dests
	if len(dests) == 0 {
		dests = s.Drain.Destinations
	}
	opts.Destinations = parseDestinations(dests)
	return opts
}

func (a *app) runDrain(cmd *cobra.Command, o *drainOptions) error {
	out := cmd.OutOrStdout()
	dir := firstNonEmpty(o.queueDir, a.settings.Queue.Dir)

	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(out, "Queue directory %s does not exist; nothing to do.\n", dir)
		if o.jsonStatus {
			return printJSON(out, drain.Status{QueueDir: dir, ByDestination: map[string]int{}})
		}
		return nil
	}

	st := buildStack(a.settings, a.log, dir)
	defer st.close()

	if n, err := st.queue.Count(); err == nil && n == 0 {
		fmt.Fprintln(out, "Queue is empty.")
		if o.jsonStatus {
			return printJSON(out, drain.Status{QueueDir: dir, ByDestination: map[string]int{}})
		}
		return nil
	}

	opts := a.resolveDrainOptions(o)
	res := st.drainer.Drain(cmd.Context(), opts)
	printDrain(out, res, opts, o.verbose)

	if o.jsonStatus {
		status, err := drain.Summarize(st.queue, time.Now())
		if err != nil {
			return err
		}
		if err := printJSON(out, status); err != nil {
			return err
		}
	}
	if o.strict && !opts.DryRun && res.Failed > res.DeadLettered {
		return exitError{code: 1, reason: fmt.Sprintf("%d record(s) still pending", res.Failed-res.DeadLettered)}
	}
	return nil
}

func printDrain(w io.Writer, res drain.Result, opts drain.Options, verbose bool) {
	for _, r := range res.Records {
		ok := r.Status == drain.StatusDelivered || r.Status == drain.StatusResolved
		if !verbose && ok {
			continue
		}
		prefix := "[OK]"
		if !ok {
			prefix = "[FAIL]"
		}
		info := r.Info
		if r.Status == drain.StatusDeadLettered {
			info += " (dead-lettered)"
		}
		fmt.Fprintf(w, "%s %s: %s -> %s\n", prefix, r.Name, r.Destination, info)
	}

	succeeded := fmt.Sprint(res.Delivered + res.Resolved)
	if opts.DryRun {
		succeeded = "dry-run"
	}
	fmt.Fprintf(w, "Processed %d record(s); %s succeeded.\n", res.Processed, succeeded)
	if res.Skipped > 0 {
		fmt.Fprintf(w, "Skipped %d unreadable record(s).\n", res.Skipped)
	}
	if opts.DryRun {
		return
	}
	if pending := res.Failed - res.DeadLettered; pending > 0 {
		fmt.Fprintf(w, "%d record(s) still pending.\n", pending)
	}
	if res.DeadLettered > 0 {
		fmt.Fprintf(w, "%d record(s) moved to %s/.\n", res.DeadLettered, queue.DeadDir)
	}

	al := res.Alert
	switch {
	case al == nil:
	case al.Filtered:
		fmt.Fprintf(w, "[ALERT] Suppressed backlog alert (tag=%s, severity=%s) due to notification filters.\n", al.Tag, al.Severity)
	default:
		fmt.Fprintf(w, "[ALERT] notification queue backlog detected (remaining=%d); webhooks delivered: %d.\n", al.Remaining, al.Result.Webhooks)
		switch al.Result.Broadcast.Info {
		case notifier.InfoSent:
			fmt.Fprintln(w, "[ALERT] Telegram notification dispatched.")
		case notifier.InfoFiltered:
		default:
			fmt.Fprintf(w, "[ALERT] Telegram notification skipped: %s.\n", al.Result.Broadcast.Info)
		}
	}
}

func parseDestinations(raw []string) []queue.Destination {
	out := make([]queue.Destination, 0, len(raw))
	for _, r := range raw {
		for _, part := range strings.Split(r, ",") {
			if d := queue.ParseDestination(part); d != "" {
				out = append(out, d)
			}
		}
	}
	return out
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
