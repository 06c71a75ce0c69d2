package notifier

import (
	"context"

	"alertrelay/internal/policy"
	"alertrelay/internal/queue"
	"alertrelay/internal/storage"
	logx "alertrelay/pkg/logx"
	"alertrelay/pkg/msgfmt"
)

// Outcome info values.
const (
	InfoSent                 = "sent"
	InfoFiltered             = "filtered"
	InfoQueued               = "queued"
	InfoFailed               = "failed"
	InfoNoProfiles           = "no_profiles"
	InfoTransportUnavailable = "transport_unavailable"
)

// Alert is one notification from a producer.
type Alert struct {
	Tag      string
	Severity policy.Severity
	// Site is optional; routing infers it from the last tag segment.
	Site    string
	Message msgfmt.Message
	// Payload is producer data forwarded to webhooks and kept in queue
	// records. telegram_thread / thread_id select a forum thread when no
	// topic is configured for the tag.
	Payload map[string]any
}

// Outcome is the result of one broadcast attempt.
type Outcome struct {
	Delivered bool   `json:"delivered"`
	Info      string `json:"info"`
}

// Enqueuer persists failed deliveries.
type Enqueuer interface {
	Enqueue(r queue.Record) (queue.Record, error)
}

// Recorder receives delivery outcomes for the journal.
type Recorder interface {
	Append(ctx context.Context, e storage.Entry) error
}

// Deps are the collaborators shared by both dispatchers.
type Deps struct {
	Policy  *policy.Store
	Queue   Enqueuer
	Journal Recorder // optional
	Log     logx.Logger
}

func (d Deps) withDefaults(comp string) Deps {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	d.Log = d.Log.With(logx.String("comp", comp))
	if d.Policy == nil {
		d.Policy = policy.NewStore(nil, d.Log)
	}
	return d
}

func (d Deps) record(ctx context.Context, e storage.Entry) {
	if d.Journal == nil {
		return
	}
	if err := d.Journal.Append(ctx, e); err != nil {
		d.Log.Debug("journal append failed", logx.Err(err))
	}
}

func (d Deps) enqueue(r queue.Record) (queue.Record, bool) {
	if d.Queue == nil {
		d.Log.Error("delivery failed and no queue is configured; alert dropped", logx.String("tag", r.Tag), logx.String("destination", string(r.Destination)))
		return r, false
	}
	saved, err := d.Queue.Enqueue(r)
	if err != nil {
		d.Log.Error("enqueue failed; alert dropped", logx.String("tag", r.Tag), logx.String("destination", string(r.Destination)), logx.Err(err))
		return r, false
	}
	return saved, true
}

// siteOrNil keeps an absent site as JSON null on the wire.
func siteOrNil(site string) any {
	if site == "" {
		return nil
	}
	return site
}

func clonePayload(p map[string]any) map[string]any {
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
