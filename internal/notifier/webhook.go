package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sourcegraph/conc/pool"

	"alertrelay/internal/metrics"
	"alertrelay/internal/policy"
	"alertrelay/internal/queue"
	"alertrelay/internal/storage"
	logx "alertrelay/pkg/logx"
)

const defaultContentType = "application/json; charset=utf-8"

// WebhookConfig tunes webhook delivery. Zero values select defaults.
type WebhookConfig struct {
	Timeout time.Duration // default 10s
	Workers int           // concurrent endpoints, default 4
}

// WebhookDispatcher posts alerts to every configured endpoint.
type WebhookDispatcher struct {
	deps    Deps
	client  *http.Client
	workers int
}

func NewWebhookDispatcher(cfg WebhookConfig, deps Deps) *WebhookDispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	return &WebhookDispatcher{
		deps:    deps.withDefaults("notifier.webhook"),
		client:  &http.Client{Timeout: cfg.Timeout},
		workers: cfg.Workers,
	}
}

// Body builds the JSON body posted for an alert.
// text mirrors plain for chat integrations that read a "text" key.
func Body(a Alert) map[string]any {
	payload := a.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	return map[string]any{
		"tag":      a.Tag,
		"severity": a.Severity.String(),
		"site":     siteOrNil(a.Site),
		"plain":    a.Message.Plain,
		"html":     a.Message.Rich,
		"text":     a.Message.Plain,
		"payload":  payload,
	}
}

// Dispatch posts the alert to every endpoint of the current policy and
// returns how many accepted it. Failed endpoints are queued for retry.
func (d *WebhookDispatcher) Dispatch(ctx context.Context, a Alert) int {
	return d.dispatch(ctx, a, true)
}

// DispatchBestEffort is Dispatch without queueing failures.
func (d *WebhookDispatcher) DispatchBestEffort(ctx context.Context, a Alert) int {
	return d.dispatch(ctx, a, false)
}

func (d *WebhookDispatcher) dispatch(ctx context.Context, a Alert, queueOnFailure bool) int {
	eps := d.deps.Policy.Load(ctx).Endpoints()
	if len(eps) == 0 {
		return 0
	}
	body := Body(a)

	workers := d.workers
	if len(eps) < workers {
		workers = len(eps)
	}
	p := pool.NewWithResults[bool]().WithMaxGoroutines(workers)
	for _, ep := range eps {
		p.Go(func() bool {
			return d.sendEntry(ctx, ep, a, body, queueOnFailure)
		})
	}
	delivered := 0
	for _, ok := range p.Wait() {
		if ok {
			delivered++
		}
	}
	return delivered
}

func (d *WebhookDispatcher) sendEntry(ctx context.Context, ep policy.Endpoint, a Alert, body map[string]any, queueOnFailure bool) bool {
	start := time.Now()
	err := d.Post(ctx, ep.URL, ep.Headers, body)
	took := time.Since(start)

	entry := storage.Entry{
		Destination: string(queue.Webhook),
		Tag:         a.Tag,
		Severity:    a.Severity.String(),
		Site:        a.Site,
		Target:      ep.Name,
		TookMS:      took.Milliseconds(),
	}
	if err == nil {
		metrics.Delivery(string(queue.Webhook), storage.OutcomeDelivered)
		entry.Outcome = storage.OutcomeDelivered
		d.deps.record(ctx, entry)
		d.deps.Log.Debug("webhook delivered", logx.String("endpoint", ep.Name), logx.String("tag", a.Tag), logx.Duration("took", took))
		return true
	}

	entry.Error = err.Error()
	if !queueOnFailure {
		metrics.Delivery(string(queue.Webhook), storage.OutcomeFailed)
		entry.Outcome = storage.OutcomeFailed
		d.deps.record(ctx, entry)
		d.deps.Log.Warn("webhook delivery failed", logx.String("endpoint", ep.Name), logx.String("tag", a.Tag), logx.Err(err))
		return false
	}

	rec, ok := d.deps.enqueue(queue.Record{
		Destination: queue.Webhook,
		Tag:         a.Tag,
		Payload:     body,
		Context:     WebhookContext(ep),
		Error:       err.Error(),
	})
	metrics.Delivery(string(queue.Webhook), storage.OutcomeQueued)
	if ok {
		metrics.Enqueued(string(queue.Webhook))
	}
	entry.Outcome = storage.OutcomeQueued
	entry.Record = rec.Name()
	d.deps.record(ctx, entry)
	d.deps.Log.Warn("webhook delivery failed; queued for retry",
		logx.String("endpoint", ep.Name),
		logx.String("tag", a.Tag),
		logx.String("record", rec.Name()),
		logx.Err(err),
	)
	return false
}

// WebhookContext is the retry context stored with a queued webhook record.
func WebhookContext(ep policy.Endpoint) map[string]any {
	headers := make(map[string]any, len(ep.Headers))
	for k, v := range ep.Headers {
		headers[k] = v
	}
	return map[string]any{"name": ep.Name, "url": ep.URL, "headers": headers}
}

// Post sends body as JSON to url. Endpoint headers are applied over the
// default Content-Type. Any non-2xx status is an error.
func (d *WebhookDispatcher) Post(ctx context.Context, url string, headers map[string]string, body any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal webhook body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", defaultContentType)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := d.client.Do(req)
	if err != nil {
		metrics.WebhookSend("error", time.Since(start))
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.WebhookSend("error", time.Since(start))
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	metrics.WebhookSend("ok", time.Since(start))
	return nil
}
