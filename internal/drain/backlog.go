package drain

import (
	"context"
	"strconv"
	"strings"

	"alertrelay/internal/notifier"
	"alertrelay/internal/policy"
	logx "alertrelay/pkg/logx"
	"alertrelay/pkg/msgfmt"
)

// BacklogAlert reports the queue backlog alert of a drain run.
type BacklogAlert struct {
	Severity  string          `json:"severity"`
	Tag       string          `json:"tag"`
	Site      string          `json:"site"`
	Remaining int             `json:"remaining"`
	Threshold int             `json:"threshold"`
	Filtered  bool            `json:"filtered"`
	Result    notifier.Result `json:"result"`
}

// BacklogSeverity maps the remaining count to an alert severity. It returns
// false when no alert is due.
func BacklogSeverity(remaining, threshold int) (policy.Severity, bool) {
	if threshold <= 0 || remaining < threshold {
		return policy.Info, false
	}
	if remaining >= 2*threshold {
		return policy.Critical, true
	}
	return policy.Warning, true
}

func (d *Drainer) maybeAlert(ctx context.Context, res Result, opts Options) *BacklogAlert {
	sev, due := BacklogSeverity(res.Remaining, opts.AlertThreshold)
	if !due {
		return nil
	}

	tag := strings.TrimSpace(opts.AlertTag)
	if tag == "" {
		tag = DefaultAlertTag
	}
	// The alert site names the reporting host.
	site := strings.TrimSpace(opts.AlertSite)
	if site == "" {
		site = d.host()
	}

	out := &BacklogAlert{
		Severity:  sev.String(),
		Tag:       tag,
		Site:      site,
		Remaining: res.Remaining,
		Threshold: opts.AlertThreshold,
	}
	if !d.n.ShouldSend(ctx, tag, sev, site) {
		out.Filtered = true
		d.log.Debug("backlog alert filtered by policy", logx.String("tag", tag))
		return out
	}

	alert := notifier.Alert{
		Tag:      tag,
		Severity: sev,
		Site:     site,
		Message:  backlogMessage(site, d.q.Dir(), res, opts),
		Payload: map[string]any{
			"severity":     sev.String(),
			"site":         site,
			"remaining":    res.Remaining,
			"queue_dir":    d.q.Dir(),
			"processed":    res.Processed,
			"delivered":    res.Delivered,
			"threshold":    opts.AlertThreshold,
			"destinations": destinationNames(opts),
		},
	}
	out.Result = d.n.NotifyBestEffort(ctx, alert)
	d.log.Warn("queue backlog alert raised",
		logx.String("severity", sev.String()),
		logx.Int("remaining", res.Remaining),
		logx.Int("threshold", opts.AlertThreshold),
		logx.Int("webhooks", out.Result.Webhooks),
		logx.String("broadcast", out.Result.Broadcast.Info),
	)
	return out
}

func backlogMessage(host, dir string, res Result, opts Options) msgfmt.Message {
	limit := "all"
	if opts.MaxRecords > 0 {
		limit = strconv.Itoa(opts.MaxRecords)
	}
	filter := "any"
	if names := destinationNames(opts); len(names) > 0 {
		filter = strings.Join(names, ",")
	}
	return msgfmt.FormatBlock("NOTIFICATION QUEUE", strings.ToUpper(host), []msgfmt.Field{
		msgfmt.F("Host", host),
		msgfmt.F("QueueDir", dir),
		msgfmt.F("Remaining", strconv.Itoa(res.Remaining)),
		msgfmt.F("Processed", strconv.Itoa(res.Processed)),
		msgfmt.F("Delivered", strconv.Itoa(res.Delivered)),
		msgfmt.F("BatchLimit", limit),
		msgfmt.F("DestFilter", filter),
		msgfmt.F("Threshold", strconv.Itoa(opts.AlertThreshold)),
	})
}

func destinationNames(opts Options) []string {
	out := make([]string, 0, len(opts.Destinations))
	for _, d := range opts.Destinations {
		out = append(out, string(d))
	}
	return out
}
