package notifier

import (
	"context"
	"strings"

	"alertrelay/internal/policy"
	logx "alertrelay/pkg/logx"
)

// Result summarizes one Notify call.
type Result struct {
	Webhooks  int     `json:"webhooks"`
	Broadcast Outcome `json:"broadcast"`
}

// Notifier is the entry point for alert producers.
type Notifier struct {
	policy    *policy.Store
	webhooks  *WebhookDispatcher
	broadcast *BroadcastDispatcher
	log       logx.Logger
}

func New(store *policy.Store, webhooks *WebhookDispatcher, broadcast *BroadcastDispatcher, log logx.Logger) *Notifier {
	if log.IsZero() {
		log = logx.Nop()
	}
	if store == nil {
		store = policy.NewStore(nil, log)
	}
	return &Notifier{
		policy:    store,
		webhooks:  webhooks,
		broadcast: broadcast,
		log:       log.With(logx.String("comp", "notifier")),
	}
}

func (n *Notifier) Policy() *policy.Store { return n.policy }

func (n *Notifier) Webhooks() *WebhookDispatcher    { return n.webhooks }
func (n *Notifier) Broadcast() *BroadcastDispatcher { return n.broadcast }

// Notify delivers a to all channels when the routing policy allows it.
// It never fails: undelivered alerts are queued.
func (n *Notifier) Notify(ctx context.Context, a Alert) Result {
	a.Tag = strings.TrimSpace(a.Tag)
	var res Result
	if n.webhooks != nil && n.ShouldSend(ctx, a.Tag, a.Severity, a.Site) {
		res.Webhooks = n.webhooks.Dispatch(ctx, a)
	}
	if n.broadcast != nil {
		res.Broadcast = n.broadcast.Send(ctx, a)
	}
	n.log.Debug("alert dispatched",
		logx.String("tag", a.Tag),
		logx.String("severity", a.Severity.String()),
		logx.Int("webhooks", res.Webhooks),
		logx.String("broadcast", res.Broadcast.Info),
	)
	return res
}

// NotifyBestEffort is Notify without queueing failures.
func (n *Notifier) NotifyBestEffort(ctx context.Context, a Alert) Result {
	var res Result
	if n.webhooks != nil && n.ShouldSend(ctx, a.Tag, a.Severity, a.Site) {
		res.Webhooks = n.webhooks.DispatchBestEffort(ctx, a)
	}
	if n.broadcast != nil {
		res.Broadcast = n.broadcast.SendBestEffort(ctx, a)
	}
	return res
}

// ShouldSend exposes the current routing decision.
func (n *Notifier) ShouldSend(ctx context.Context, tag string, sev policy.Severity, site string) bool {
	return n.policy.Load(ctx).ShouldSend(tag, sev, site)
}
