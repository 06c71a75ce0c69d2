package notifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"alertrelay/internal/metrics"
	"alertrelay/internal/queue"
	"alertrelay/internal/storage"
	"alertrelay/internal/topics"
	"alertrelay/internal/transport"
	logx "alertrelay/pkg/logx"
	"alertrelay/pkg/msgfmt"
)

// Context keys of a queued broadcast record.
const (
	CtxThreadID   = "thread_id"
	CtxRenderMode = "render_mode"
)

// BroadcastDispatcher sends alerts to the topic-routed broadcast channel.
type BroadcastDispatcher struct {
	deps   Deps
	tr     transport.Broadcaster
	topics *topics.Resolver
}

func NewBroadcastDispatcher(tr transport.Broadcaster, resolver *topics.Resolver, deps Deps) *BroadcastDispatcher {
	return &BroadcastDispatcher{
		deps:   deps.withDefaults("notifier.broadcast"),
		tr:     tr,
		topics: resolver,
	}
}

// Send routes and delivers the alert. Failures are queued; filtered alerts and
// a missing transport are not failures.
func (d *BroadcastDispatcher) Send(ctx context.Context, a Alert) Outcome {
	return d.send(ctx, a, true)
}

// SendBestEffort is Send without queueing failures.
func (d *BroadcastDispatcher) SendBestEffort(ctx context.Context, a Alert) Outcome {
	return d.send(ctx, a, false)
}

// ThreadFor resolves the forum thread for a tag, falling back to a thread id
// carried in the payload.
func (d *BroadcastDispatcher) ThreadFor(ctx context.Context, tag string, payload map[string]any) int {
	if id, ok := d.topics.ThreadFor(ctx, tag); ok {
		return id
	}
	for _, k := range []string{"telegram_thread", "thread_id"} {
		if id, ok := topics.ExtractThreadID(payload[k]); ok {
			return id
		}
	}
	return 0
}

func (d *BroadcastDispatcher) send(ctx context.Context, a Alert, queueOnFailure bool) Outcome {
	log := d.deps.Log.With(logx.String("tag", a.Tag), logx.String("severity", a.Severity.String()))
	entry := storage.Entry{
		Destination: string(queue.Broadcast),
		Tag:         a.Tag,
		Severity:    a.Severity.String(),
		Site:        a.Site,
	}

	pol := d.deps.Policy.Load(ctx)
	if !pol.ShouldSend(a.Tag, a.Severity, a.Site) {
		log.Debug("broadcast filtered by policy", logx.String("site", a.Site))
		return d.finish(ctx, entry, storage.OutcomeFiltered, Outcome{Info: InfoFiltered})
	}

	threadID := d.ThreadFor(ctx, a.Tag, a.Payload)
	mode := pol.RenderMode
	text := a.Message.Render(mode)

	start := time.Now()
	err := d.Deliver(ctx, text, threadID, mode)
	entry.TookMS = time.Since(start).Milliseconds()
	entry.Target = fmt.Sprint(threadID)

	switch {
	case err == nil:
		log.Debug("broadcast delivered", logx.Int("thread_id", threadID))
		return d.finish(ctx, entry, storage.OutcomeDelivered, Outcome{Delivered: true, Info: InfoSent})
	case errors.Is(err, errNoProfiles):
		log.Info("broadcast skipped: no profiles configured")
		return d.finish(ctx, entry, storage.OutcomeSkipped, Outcome{Info: InfoNoProfiles})
	case errors.Is(err, transport.ErrUnavailable):
		log.Info("broadcast skipped: transport unavailable")
		return d.finish(ctx, entry, storage.OutcomeSkipped, Outcome{Info: InfoTransportUnavailable})
	}

	entry.Error = err.Error()
	if !queueOnFailure {
		log.Warn("broadcast failed", logx.Err(err))
		return d.finish(ctx, entry, storage.OutcomeFailed, Outcome{Info: InfoFailed})
	}

	payload := clonePayload(a.Payload)
	payload["message"] = text
	payload["tag"] = a.Tag
	payload["severity"] = a.Severity.String()
	payload["site"] = siteOrNil(a.Site)

	rec, ok := d.deps.enqueue(queue.Record{
		Destination: queue.Broadcast,
		Tag:         a.Tag,
		Payload:     payload,
		Context:     map[string]any{CtxThreadID: threadID, CtxRenderMode: mode.String()},
		Error:       err.Error(),
	})
	if ok {
		metrics.Enqueued(string(queue.Broadcast))
	}
	entry.Record = rec.Name()
	log.Warn("broadcast failed; queued for retry", logx.String("record", rec.Name()), logx.Err(err))
	return d.finish(ctx, entry, storage.OutcomeQueued, Outcome{Info: InfoQueued})
}

var errNoProfiles = errors.New("no broadcast profiles")

// Deliver hands already-rendered text to the transport. It reports
// transport.ErrUnavailable and errNoProfiles for the skip cases.
func (d *BroadcastDispatcher) Deliver(ctx context.Context, text string, threadID int, mode msgfmt.RenderMode) error {
	if d.tr == nil || !d.tr.Available() {
		return transport.ErrUnavailable
	}
	profiles, err := d.tr.Profiles(ctx)
	if err != nil {
		return fmt.Errorf("load profiles: %w", err)
	}
	if len(profiles) == 0 {
		return errNoProfiles
	}
	return d.tr.Broadcast(ctx, profiles, text, threadID, mode)
}

// IsSkip reports whether a Deliver error means "nothing to deliver to"
// rather than a failed delivery.
func IsSkip(err error) bool {
	return errors.Is(err, errNoProfiles) || errors.Is(err, transport.ErrUnavailable)
}

func (d *BroadcastDispatcher) finish(ctx context.Context, e storage.Entry, outcome string, o Outcome) Outcome {
	e.Outcome = outcome
	metrics.Delivery(e.Destination, outcome)
	d.deps.record(ctx, e)
	return o
}
