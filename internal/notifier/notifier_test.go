package notifier_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alertrelay/internal/kv"
	"alertrelay/internal/notifier"
	"alertrelay/internal/policy"
	"alertrelay/internal/queue"
	"alertrelay/internal/storage"
	"alertrelay/internal/topics"
	"alertrelay/internal/transport"
	logx "alertrelay/pkg/logx"
	"alertrelay/pkg/msgfmt"
)

type broadcastCall struct {
	text     string
	threadID int
	mode     msgfmt.RenderMode
}

type fakeTransport struct {
	unavailable bool
	profiles    []transport.Profile
	profilesErr error
	err         error

	mu    sync.Mutex
	calls []broadcastCall
}

func (f *fakeTransport) Available() bool { return !f.unavailable }

func (f *fakeTransport) Profiles(context.Context) ([]transport.Profile, error) {
	return f.profiles, f.profilesErr
}

func (f *fakeTransport) Broadcast(_ context.Context, _ []transport.Profile, text string, threadID int, mode msgfmt.RenderMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, broadcastCall{text, threadID, mode})
	return f.err
}

type memJournal struct {
	mu      sync.Mutex
	entries []storage.Entry
}

func (m *memJournal) Append(_ context.Context, e storage.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *memJournal) outcomes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.Outcome)
	}
	return out
}

func okProfiles() []transport.Profile {
	return []transport.Profile{{Name: "ops", ChatIDs: []int64{-100}}}
}

func policyStore(doc map[string]any) *policy.Store {
	s := policy.NewStore(nil, logx.Nop())
	s.Set(policy.FromDocument(doc))
	return s
}

func webhookPolicy(urls ...string) map[string]any {
	eps := make([]any, 0, len(urls))
	for i, u := range urls {
		eps = append(eps, map[string]any{"name": string(rune('a' + i)), "url": u, "headers": map[string]any{"X-Token": "secret"}})
	}
	return map[string]any{"webhook": map[string]any{"enabled": true, "endpoints": eps}}
}

func testAlert() notifier.Alert {
	return notifier.Alert{
		Tag:      "saltgoat/backup/bank",
		Severity: policy.Error,
		Site:     "bank",
		Message:  msgfmt.FormatBlock("BACKUP", "BANK", []msgfmt.Field{msgfmt.F("Status", "failed")}),
		Payload:  map[string]any{"size": 12},
	}
}

func pending(t *testing.T, q *queue.Queue) []queue.Record {
	t.Helper()
	entries, err := q.List()
	require.NoError(t, err)
	out := make([]queue.Record, 0, len(entries))
	for _, e := range entries {
		r, err := q.Read(e)
		require.NoError(t, err)
		out = append(out, r)
	}
	return out
}

func TestWebhook_Delivered(t *testing.T) {
	var got map[string]any
	var contentType, token string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		token = r.Header.Get("X-Token")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	q := queue.New(t.TempDir())
	j := &memJournal{}
	d := notifier.NewWebhookDispatcher(notifier.WebhookConfig{}, notifier.Deps{Policy: policyStore(webhookPolicy(srv.URL)), Queue: q, Journal: j})

	a := testAlert()
	assert.Equal(t, 1, d.Dispatch(context.Background(), a))

	assert.Equal(t, "application/json; charset=utf-8", contentType)
	assert.Equal(t, "secret", token)
	assert.Equal(t, "saltgoat/backup/bank", got["tag"])
	assert.Equal(t, "ERROR", got["severity"])
	assert.Equal(t, "bank", got["site"])
	assert.Equal(t, a.Message.Plain, got["plain"])
	assert.Equal(t, a.Message.Plain, got["text"])
	assert.Equal(t, a.Message.Rich, got["html"])
	assert.Equal(t, map[string]any{"size": float64(12)}, got["payload"])

	assert.Empty(t, pending(t, q))
	assert.Equal(t, []string{storage.OutcomeDelivered}, j.outcomes())
}

func TestWebhook_FailureIsQueued(t *testing.T) {
	var hits atomic.Int32
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer ok.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer bad.Close()

	q := queue.New(t.TempDir())
	d := notifier.NewWebhookDispatcher(notifier.WebhookConfig{Workers: 2}, notifier.Deps{Policy: policyStore(webhookPolicy(ok.URL, bad.URL)), Queue: q})

	assert.Equal(t, 1, d.Dispatch(context.Background(), testAlert()))
	assert.EqualValues(t, 2, hits.Load())

	recs := pending(t, q)
	require.Len(t, recs, 1)
	r := recs[0]
	assert.Equal(t, queue.Webhook, r.Destination)
	assert.Equal(t, "saltgoat/backup/bank", r.Tag)
	assert.Equal(t, 0, r.Attempts)
	assert.Contains(t, r.Error, "502")
	assert.Equal(t, bad.URL, r.Context["url"])
	assert.Equal(t, map[string]any{"X-Token": "secret"}, r.Context["headers"])
	assert.Equal(t, "ERROR", r.Payload["severity"])
}

func TestWebhook_ContentTypeOverride(t *testing.T) {
	var contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
	}))
	defer srv.Close()

	doc := map[string]any{"webhook": map[string]any{"enabled": true, "endpoints": []any{
		map[string]any{"url": srv.URL, "headers": map[string]any{"Content-Type": "application/vnd.custom+json"}},
	}}}
	d := notifier.NewWebhookDispatcher(notifier.WebhookConfig{}, notifier.Deps{Policy: policyStore(doc), Queue: queue.New(t.TempDir())})
	assert.Equal(t, 1, d.Dispatch(context.Background(), testAlert()))
	assert.Equal(t, "application/vnd.custom+json", contentType)
}

func TestWebhook_BestEffortNeverQueues(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	q := queue.New(t.TempDir())
	d := notifier.NewWebhookDispatcher(notifier.WebhookConfig{}, notifier.Deps{Policy: policyStore(webhookPolicy(srv.URL)), Queue: q})
	assert.Equal(t, 0, d.DispatchBestEffort(context.Background(), testAlert()))
	assert.Empty(t, pending(t, q))
}

func TestWebhook_NoEndpoints(t *testing.T) {
	d := notifier.NewWebhookDispatcher(notifier.WebhookConfig{}, notifier.Deps{Policy: policyStore(nil)})
	assert.Equal(t, 0, d.Dispatch(context.Background(), testAlert()))
}

func newBroadcast(t *testing.T, tr transport.Broadcaster, doc map[string]any, topicMap map[string]int) (*notifier.BroadcastDispatcher, *queue.Queue, *memJournal) {
	t.Helper()
	q := queue.New(t.TempDir())
	j := &memJournal{}
	d := notifier.NewBroadcastDispatcher(tr, topics.Static(topicMap), notifier.Deps{Policy: policyStore(doc), Queue: q, Journal: j})
	return d, q, j
}

func TestBroadcast_Filtered(t *testing.T) {
	tr := &fakeTransport{profiles: okProfiles()}
	d, q, j := newBroadcast(t, tr, map[string]any{"telegram": map[string]any{"min_severity": "CRITICAL"}}, nil)

	out := d.Send(context.Background(), testAlert())
	assert.Equal(t, notifier.Outcome{Delivered: false, Info: notifier.InfoFiltered}, out)
	assert.Empty(t, tr.calls)
	assert.Empty(t, pending(t, q), "filtered alerts are not failures")
	assert.Equal(t, []string{storage.OutcomeFiltered}, j.outcomes())
}

func TestBroadcast_DeliveredWithTopic(t *testing.T) {
	tr := &fakeTransport{profiles: okProfiles()}
	d, q, _ := newBroadcast(t, tr, nil, map[string]int{"saltgoat/backup": 11})

	a := testAlert()
	out := d.Send(context.Background(), a)
	assert.True(t, out.Delivered)
	require.Len(t, tr.calls, 1)
	assert.Equal(t, 11, tr.calls[0].threadID)
	assert.Equal(t, msgfmt.ModeRich, tr.calls[0].mode)
	assert.Equal(t, a.Message.Rich, tr.calls[0].text)
	assert.Empty(t, pending(t, q))
}

func TestBroadcast_ThreadFromPayload(t *testing.T) {
	tr := &fakeTransport{profiles: okProfiles()}
	d, _, _ := newBroadcast(t, tr, map[string]any{"telegram": map[string]any{"parse_mode": "plain"}}, nil)

	a := testAlert()
	a.Payload = map[string]any{"telegram_thread": "42"}
	d.Send(context.Background(), a)
	require.Len(t, tr.calls, 1)
	assert.Equal(t, 42, tr.calls[0].threadID)
	assert.Equal(t, a.Message.Plain, tr.calls[0].text)

	a.Payload = map[string]any{"thread_id": 7}
	d.Send(context.Background(), a)
	assert.Equal(t, 7, tr.calls[1].threadID)
}

func TestBroadcast_SkipsWithoutQueueing(t *testing.T) {
	ctx := context.Background()

	d, q, _ := newBroadcast(t, &fakeTransport{unavailable: true}, nil, nil)
	assert.Equal(t, notifier.InfoTransportUnavailable, d.Send(ctx, testAlert()).Info)
	assert.Empty(t, pending(t, q))

	d, q, j := newBroadcast(t, &fakeTransport{}, nil, nil)
	assert.Equal(t, notifier.InfoNoProfiles, d.Send(ctx, testAlert()).Info)
	assert.Empty(t, pending(t, q))
	assert.Equal(t, []string{storage.OutcomeSkipped}, j.outcomes())
}

func TestBroadcast_FailureIsQueued(t *testing.T) {
	tr := &fakeTransport{profiles: okProfiles(), err: errors.New("telegram down")}
	d, q, j := newBroadcast(t, tr, nil, map[string]int{"saltgoat/backup": 11})

	a := testAlert()
	out := d.Send(context.Background(), a)
	assert.Equal(t, notifier.Outcome{Delivered: false, Info: notifier.InfoQueued}, out)

	recs := pending(t, q)
	require.Len(t, recs, 1)
	r := recs[0]
	assert.Equal(t, queue.Broadcast, r.Destination)
	assert.Equal(t, "telegram down", r.Error)
	assert.EqualValues(t, 11, r.Context[notifier.CtxThreadID])
	assert.Equal(t, "rich", r.Context[notifier.CtxRenderMode])
	assert.Equal(t, a.Message.Rich, r.Payload["message"])
	assert.Equal(t, "ERROR", r.Payload["severity"])
	assert.Equal(t, "bank", r.Payload["site"])
	assert.EqualValues(t, 12, r.Payload["size"])
	assert.Equal(t, []string{storage.OutcomeQueued}, j.outcomes())
	assert.Equal(t, map[string]any{"size": 12}, a.Payload, "producer payload is not mutated")
}

func TestBroadcast_ProfilesErrorIsQueued(t *testing.T) {
	tr := &fakeTransport{profilesErr: errors.New("bad profiles")}
	d, q, _ := newBroadcast(t, tr, nil, nil)
	assert.Equal(t, notifier.InfoQueued, d.Send(context.Background(), testAlert()).Info)
	assert.Len(t, pending(t, q), 1)
}

func TestBroadcast_BestEffortNeverQueues(t *testing.T) {
	tr := &fakeTransport{profiles: okProfiles(), err: errors.New("down")}
	d, q, _ := newBroadcast(t, tr, nil, nil)
	assert.Equal(t, notifier.InfoFailed, d.SendBestEffort(context.Background(), testAlert()).Info)
	assert.Empty(t, pending(t, q))
}

func TestNotify_FailureToQueueScenario(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()

	store := policyStore(webhookPolicy(down.URL))
	q := queue.New(t.TempDir())
	deps := notifier.Deps{Policy: store, Queue: q}
	tr := &fakeTransport{profiles: okProfiles(), err: errors.New("down")}
	n := notifier.New(store,
		notifier.NewWebhookDispatcher(notifier.WebhookConfig{}, deps),
		notifier.NewBroadcastDispatcher(tr, topics.Static(nil), deps),
		logx.Nop(),
	)

	res := n.Notify(context.Background(), testAlert())
	assert.Equal(t, 0, res.Webhooks)
	assert.Equal(t, notifier.InfoQueued, res.Broadcast.Info)

	byDest := map[queue.Destination]int{}
	for _, r := range pending(t, q) {
		byDest[r.Destination]++
	}
	assert.Equal(t, map[queue.Destination]int{queue.Webhook: 1, queue.Broadcast: 1}, byDest)
}

func TestNotify_FilteredSkipsAllChannels(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { hits.Add(1) }))
	defer srv.Close()

	doc := webhookPolicy(srv.URL)
	doc["telegram"] = map[string]any{"disabled_tags": []any{"saltgoat/backup"}}
	store := policyStore(doc)
	deps := notifier.Deps{Policy: store, Queue: queue.New(t.TempDir())}
	tr := &fakeTransport{profiles: okProfiles()}
	n := notifier.New(store, notifier.NewWebhookDispatcher(notifier.WebhookConfig{}, deps), notifier.NewBroadcastDispatcher(tr, nil, deps), logx.Nop())

	res := n.Notify(context.Background(), testAlert())
	assert.Equal(t, 0, res.Webhooks)
	assert.Equal(t, notifier.InfoFiltered, res.Broadcast.Info)
	assert.Zero(t, hits.Load())
	assert.Empty(t, tr.calls)
}

func TestNotifier_PolicyFromSource(t *testing.T) {
	src := kv.Map{"notifications": map[string]any{"telegram": map[string]any{"min_severity": "WARNING"}}}
	n := notifier.New(policy.NewStore(src, logx.Nop()), nil, nil, logx.Nop())
	assert.False(t, n.ShouldSend(context.Background(), "x", policy.Notice, ""))
	assert.True(t, n.ShouldSend(context.Background(), "x", policy.Warning, ""))
}
