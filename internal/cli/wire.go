package cli

import (
	"context"
	"strings"

	"alertrelay/internal/config"
	"alertrelay/internal/drain"
	"alertrelay/internal/kv"
	"alertrelay/internal/notifier"
	"alertrelay/internal/policy"
	"alertrelay/internal/queue"
	"alertrelay/internal/storage"
	"alertrelay/internal/topics"
	"alertrelay/internal/transport/telegram"
	logx "alertrelay/pkg/logx"
)

// stack is the wired delivery pipeline.
type stack struct {
	docs     []*kv.File
	source   kv.Source
	policy   *policy.Store
	queue    *queue.Queue
	journal  storage.Store
	telegram *telegram.Broadcaster
	topics   *topics.Resolver
	notifier *notifier.Notifier
	drainer  *drain.Drainer
}

// buildStack wires the pipeline from settings. queueDir overrides
// queue.dir when non-empty. The journal is optional: open errors are logged.
func buildStack(s *config.Settings, log logx.Logger, queueDir string) *stack {
	st := &stack{}

	for _, p := range []string{s.Sources.Document, s.Sources.Fallback} {
		if strings.TrimSpace(p) != "" {
			st.docs = append(st.docs, kv.NewFile(p, log))
		}
	}
	chain := make(kv.Chain, 0, len(st.docs))
	for _, d := range st.docs {
		chain = append(chain, d)
	}
	st.source = chain
	st.policy = policy.NewStore(chain, log)

	if strings.TrimSpace(queueDir) == "" {
		queueDir = s.Queue.Dir
	}
	st.queue = queue.New(queueDir)

	j, err := storage.Open(storage.Config{
		Driver:      s.Storage.Driver,
		Path:        s.Storage.Path,
		BusyTimeout: s.Durations.StorageBusyTimeout,
	}, log)
	if err != nil {
		log.Warn("delivery journal unavailable", logx.String("driver", s.Storage.Driver), logx.Err(err))
	} else {
		st.journal = j
	}

	st.telegram = telegram.New(telegram.Config{
		Disabled:   s.Telegram.Disabled,
		RatePerSec: s.Telegram.RatePerSec,
		RetryMax:   s.Telegram.RetryMax,
		Timeout:    s.Durations.TelegramTimeout,
		APIURL:     s.Telegram.APIURL,
	}, chain, log.With(logx.String("comp", "telegram")))

	var topicSrc kv.Source
	if strings.TrimSpace(s.Sources.Topics) != "" {
		topicSrc = kv.NewFile(s.Sources.Topics, log)
	}
	opts := []topics.Option{topics.WithCreator(st.telegram), topics.WithLogger(log.With(logx.String("comp", "topics")))}
	if strings.TrimSpace(s.Sources.TopicCache) != "" {
		opts = append(opts, topics.WithCache(topics.NewCache(s.Sources.TopicCache)))
	}
	st.topics = topics.NewResolver(topicSrc, opts...)

	deps := notifier.Deps{Policy: st.policy, Queue: st.queue, Log: log}
	if st.journal != nil {
		deps.Journal = st.journal
	}
	webhooks := notifier.NewWebhookDispatcher(notifier.WebhookConfig{
		Timeout: s.Durations.WebhookTimeout,
		Workers: s.Webhook.Workers,
	}, deps)
	broadcast := notifier.NewBroadcastDispatcher(st.telegram, st.topics, deps)
	st.notifier = notifier.New(st.policy, webhooks, broadcast, log)

	dopts := []drain.Option{drain.WithLogger(log)}
	if st.journal != nil {
		dopts = append(dopts, drain.WithJournal(st.journal))
	}
	st.drainer = drain.New(st.queue, st.notifier, dopts...)
	return st
}

// reload re-reads the site documents and swaps the routing policy.
func (st *stack) reload(ctx context.Context, log logx.Logger) {
	for _, d := range st.docs {
		if err := d.Reload(); err != nil {
			log.Warn("site document reload failed", logx.String("path", d.Path()), logx.Err(err))
		}
	}
	st.policy.Reload(ctx)
}

func (st *stack) docPaths() []string {
	out := make([]string, 0, len(st.docs))
	for _, d := range st.docs {
		out = append(out, d.Path())
	}
	return out
}

func (st *stack) close() {
	if st.journal != nil {
		_ = st.journal.Close()
	}
}
