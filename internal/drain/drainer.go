package drain

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"alertrelay/internal/metrics"
	"alertrelay/internal/notifier"
	"alertrelay/internal/policy"
	"alertrelay/internal/queue"
	"alertrelay/internal/storage"
	"alertrelay/internal/topics"
	logx "alertrelay/pkg/logx"
	"alertrelay/pkg/msgfmt"
)

// DefaultAlertTag is the tag of backlog alerts.
const DefaultAlertTag = "alertrelay/monitor/notification_queue"

// Options select what a drain run does.
type Options struct {
	// Destinations limits the run to these destinations; empty means all.
	Destinations []queue.Destination
	// MaxRecords caps processed records; 0 means all.
	MaxRecords int
	// DryRun decides outcomes without network I/O or file changes.
	DryRun bool
	// MaxAttempts moves a record to the dead-letter directory once a failed
	// retry brings its attempts to this value; 0 keeps records forever.
	MaxAttempts int
	// AlertThreshold raises a backlog alert when at least this many records
	// remain after the run; 0 disables it.
	AlertThreshold int
	AlertTag       string
	// AlertSite defaults to the host name.
	AlertSite string
}

// Record statuses.
const (
	StatusDelivered    = "delivered"
	StatusResolved     = "resolved"
	StatusFailed       = "failed"
	StatusDeadLettered = "dead_lettered"
)

// RecordResult reports what happened to one record.
type RecordResult struct {
	Name        string `json:"name"`
	Destination string `json:"destination"`
	Tag         string `json:"tag"`
	Status      string `json:"status"`
	Info        string `json:"info"`
	Attempts    int    `json:"attempts"`
	DryRun      bool   `json:"dry_run,omitempty"`
}

// Result summarizes a drain run. In a dry run the counters describe what
// would have happened.
type Result struct {
	Processed    int            `json:"processed"`
	Delivered    int            `json:"delivered"`
	Resolved     int            `json:"resolved"`
	Failed       int            `json:"failed"`
	DeadLettered int            `json:"dead_lettered"`
	Skipped      int            `json:"skipped"`
	Remaining    int            `json:"remaining"`
	Alert        *BacklogAlert  `json:"alert,omitempty"`
	Records      []RecordResult `json:"records"`
}

// Drainer retries queued records through the notifier's channels.
type Drainer struct {
	q       *queue.Queue
	n       *notifier.Notifier
	journal notifier.Recorder
	log     logx.Logger
	now     func() time.Time
	host    func() string
}

type Option func(*Drainer)

func WithJournal(j notifier.Recorder) Option { return func(d *Drainer) { d.journal = j } }
func WithLogger(l logx.Logger) Option        { return func(d *Drainer) { d.log = l } }

// WithClock overrides the time source for attempt stamps.
func WithClock(now func() time.Time) Option { return func(d *Drainer) { d.now = now } }

func New(q *queue.Queue, n *notifier.Notifier, opts ...Option) *Drainer {
	d := &Drainer{q: q, n: n, now: time.Now, host: hostname}
	for _, o := range opts {
		if o != nil {
			o(d)
		}
	}
	if d.log.IsZero() {
		d.log = logx.Nop()
	}
	d.log = d.log.With(logx.String("comp", "drain"))
	return d
}

func (d *Drainer) Queue() *queue.Queue { return d.q }

// Drain runs one pass over the queue.
func (d *Drainer) Drain(ctx context.Context, opts Options) Result {
	res := Result{Records: []RecordResult{}}

	entries, err := d.q.List()
	if err != nil {
		d.log.Error("queue listing failed", logx.String("dir", d.q.Dir()), logx.Err(err))
		return res
	}

	for _, e := range entries {
		if opts.MaxRecords > 0 && res.Processed >= opts.MaxRecords {
			break
		}
		if ctx.Err() != nil {
			break
		}
		rec, err := d.q.Read(e)
		if err != nil {
			var pe *queue.ParseError
			if errors.As(err, &pe) {
				d.log.Warn("skipping unparseable queue record", logx.String("record", e.Name), logx.Err(err))
				res.Skipped++
				metrics.DrainRecord("skipped")
			} else {
				d.log.Debug("queue record vanished", logx.String("record", e.Name), logx.Err(err))
			}
			continue
		}
		if !selected(rec.Destination, opts.Destinations) {
			continue
		}

		res.Processed++
		rr := d.process(ctx, rec, opts)
		switch rr.Status {
		case StatusDelivered:
			res.Delivered++
		case StatusResolved:
			res.Resolved++
		case StatusDeadLettered:
			res.DeadLettered++
			res.Failed++
		default:
			res.Failed++
		}
		res.Records = append(res.Records, rr)
		if !opts.DryRun {
			metrics.DrainRecord(rr.Status)
		}
	}

	if n, err := d.q.Count(); err == nil {
		res.Remaining = n
	} else {
		d.log.Warn("queue count failed", logx.Err(err))
	}

	if !opts.DryRun {
		metrics.DrainRun()
		metrics.QueuePending(res.Remaining)
		res.Alert = d.maybeAlert(ctx, res, opts)
	}

	d.log.Info("drain finished",
		logx.Int("processed", res.Processed),
		logx.Int("delivered", res.Delivered),
		logx.Int("resolved", res.Resolved),
		logx.Int("failed", res.Failed),
		logx.Int("skipped", res.Skipped),
		logx.Int("remaining", res.Remaining),
		logx.Bool("dry_run", opts.DryRun),
	)
	return res
}

func selected(dest queue.Destination, filter []queue.Destination) bool {
	if len(filter) == 0 {
		return true
	}
	for _, f := range filter {
		if f == dest {
			return true
		}
	}
	return false
}

// attempt is the decision for one record before any file change.
type attempt struct {
	status string
	info   string
	err    error
}

func (d *Drainer) process(ctx context.Context, rec queue.Record, opts Options) RecordResult {
	var a attempt
	switch rec.Destination {
	case queue.Webhook:
		a = d.retryWebhook(ctx, rec, opts.DryRun)
	case queue.Broadcast:
		a = d.retryBroadcast(ctx, rec, opts.DryRun)
	default:
		a = fail(fmt.Errorf("unsupported destination %q", rec.Destination))
	}

	rr := RecordResult{
		Name:        rec.Name(),
		Destination: string(rec.Destination),
		Tag:         rec.Tag,
		Status:      a.status,
		Info:        a.info,
		Attempts:    rec.Attempts,
		DryRun:      opts.DryRun,
	}
	if opts.DryRun {
		return rr
	}

	log := d.log.With(logx.String("record", rec.Name()), logx.String("destination", string(rec.Destination)), logx.String("tag", rec.Tag))
	entry := storage.Entry{At: d.now().UTC(), Destination: string(rec.Destination), Tag: rec.Tag, Record: rec.Name(), Attempts: rec.Attempts}

	switch a.status {
	case StatusDelivered, StatusResolved:
		if err := d.q.Delete(rec); err != nil && !errors.Is(err, queue.ErrNotFound) {
			log.Error("queue delete failed", logx.Err(err))
		}
		entry.Outcome = storage.OutcomeDelivered
		if a.status == StatusResolved {
			entry.Outcome = storage.OutcomeResolved
			log.Info("queued broadcast now filtered; resolved")
		} else {
			log.Info("queued record delivered", logx.Int("attempts", rec.Attempts))
		}
	default:
		rec = rec.MarkFailed(a.err, d.now())
		rr.Attempts = rec.Attempts
		entry.Attempts = rec.Attempts
		entry.Error = rec.Error
		entry.Outcome = storage.OutcomeRetried
		dead := false
		if opts.MaxAttempts > 0 && rec.Attempts >= opts.MaxAttempts {
			if err := d.q.DeadLetter(rec); err != nil {
				log.Error("dead-letter failed; keeping record pending", logx.Err(err))
			} else {
				dead = true
				rr.Status = StatusDeadLettered
				entry.Outcome = storage.OutcomeDeadLettered
				log.Warn("queued record exceeded max attempts; moved to dead-letter", logx.Int("attempts", rec.Attempts), logx.Err(a.err))
			}
		}
		if dead {
			break
		}
		if err := d.q.Rewrite(rec); err != nil {
			log.Error("queue rewrite failed", logx.Err(err))
		} else {
			log.Warn("queued record retry failed", logx.Int("attempts", rec.Attempts), logx.Err(a.err))
		}
	}
	d.record(ctx, entry)
	return rr
}

func (d *Drainer) record(ctx context.Context, e storage.Entry) {
	if d.journal == nil {
		return
	}
	if err := d.journal.Append(ctx, e); err != nil {
		d.log.Debug("journal append failed", logx.Err(err))
	}
}

func fail(err error) attempt {
	return attempt{status: StatusFailed, info: err.Error(), err: err}
}

func (d *Drainer) retryWebhook(ctx context.Context, rec queue.Record, dryRun bool) attempt {
	url := strings.TrimSpace(rec.ContextString("url"))
	if url == "" {
		return fail(errors.New("missing url"))
	}
	if len(rec.Payload) == 0 {
		return fail(errors.New("invalid payload"))
	}
	if dryRun {
		return attempt{status: StatusDelivered, info: "dry-run"}
	}
	wh := d.n.Webhooks()
	if wh == nil {
		return fail(errors.New("webhook channel not configured"))
	}
	if err := wh.Post(ctx, url, headers(rec.Context["headers"]), rec.Payload); err != nil {
		return fail(err)
	}
	return attempt{status: StatusDelivered, info: notifier.InfoSent}
}

func (d *Drainer) retryBroadcast(ctx context.Context, rec queue.Record, dryRun bool) attempt {
	message, _ := rec.Payload["message"].(string)
	if message == "" {
		return fail(errors.New("missing message"))
	}
	tag := rec.Tag
	if tag == "" {
		tag, _ = rec.Payload["tag"].(string)
	}
	if tag == "" {
		return fail(errors.New("missing tag"))
	}
	sevRaw, _ := rec.Payload["severity"].(string)
	sev := policy.ParseSeverity(sevRaw)
	site, _ := rec.Payload["site"].(string)

	pol := d.n.Policy().Load(ctx)
	if !pol.ShouldSend(tag, sev, site) {
		return attempt{status: StatusResolved, info: notifier.InfoFiltered}
	}

	mode := pol.RenderMode
	if m := firstString(rec.Context, notifier.CtxRenderMode, "parse_mode"); m != "" {
		mode = msgfmt.ParseRenderMode(m)
	} else if m, _ := rec.Payload["parse_mode"].(string); m != "" {
		mode = msgfmt.ParseRenderMode(m)
	}

	// Thread resolution may create forum topics.
	if dryRun {
		return attempt{status: StatusDelivered, info: "dry-run"}
	}

	bc := d.n.Broadcast()
	if bc == nil {
		return fail(errors.New("broadcast channel not configured"))
	}
	threadID := 0
	if id, ok := topics.ExtractThreadID(rec.Context[notifier.CtxThreadID]); ok && id != 0 {
		threadID = id
	} else if id, ok := topics.ExtractThreadID(rec.Context["thread"]); ok && id != 0 {
		threadID = id
	} else {
		threadID = bc.ThreadFor(ctx, tag, rec.Payload)
	}
	if err := bc.Deliver(ctx, message, threadID, mode); err != nil {
		return fail(err)
	}
	return attempt{status: StatusDelivered, info: notifier.InfoSent}
}

func headers(v any) map[string]string {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, hv := range m {
		out[k] = fmt.Sprint(hv)
	}
	return out
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "localhost"
	}
	return h
}
