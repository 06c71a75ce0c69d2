package topics

import (
	"context"
	"sort"
	"strings"
	"sync"

	"alertrelay/internal/kv"
	"alertrelay/internal/transport"
	logx "alertrelay/pkg/logx"
)

// RootKey is the optional wrapper key of a topic document.
const RootKey = "telegram_topics"

// Resolver maps tags to forum thread ids.
//
// The topic map is built once per Resolver from its source. Entries are
// either a thread id, a {thread_id} mapping, or a {title, chat_id, profile,
// icon_color} mapping that is turned into a forum topic on first load.
type Resolver struct {
	src     kv.Source
	creator transport.TopicCreator
	cache   *Cache
	log     logx.Logger

	once   sync.Once
	topics map[string]int
}

type Option func(*Resolver)

// WithCreator enables dynamic topic entries.
func WithCreator(c transport.TopicCreator) Option { return func(r *Resolver) { r.creator = c } }

// WithCache remembers created topics across processes.
func WithCache(c *Cache) Option { return func(r *Resolver) { r.cache = c } }

func WithLogger(l logx.Logger) Option { return func(r *Resolver) { r.log = l } }

func NewResolver(src kv.Source, opts ...Option) *Resolver {
	r := &Resolver{src: src}
	for _, o := range opts {
		if o != nil {
			o(r)
		}
	}
	if r.log.IsZero() {
		r.log = logx.Nop()
	}
	return r
}

// Static builds a resolver over a fixed map. Useful in tests and tools.
func Static(m map[string]int) *Resolver {
	r := &Resolver{log: logx.Nop()}
	r.once.Do(func() { r.topics = m })
	return r
}

// ThreadFor returns the thread for tag: an exact entry first, then the
// longest configured prefix obtained by stripping trailing segments.
func (r *Resolver) ThreadFor(ctx context.Context, tag string) (int, bool) {
	if r == nil {
		return 0, false
	}
	m := r.load(ctx)
	if len(m) == 0 || tag == "" {
		return 0, false
	}
	if id, ok := m[tag]; ok {
		return id, true
	}
	parts := strings.Split(tag, "/")
	for len(parts) > 1 {
		parts = parts[:len(parts)-1]
		if id, ok := m[strings.Join(parts, "/")]; ok {
			return id, true
		}
	}
	return 0, false
}

// Tags lists configured tags in lexical order.
func (r *Resolver) Tags(ctx context.Context) []string {
	if r == nil {
		return nil
	}
	m := r.load(ctx)
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (r *Resolver) load(ctx context.Context) map[string]int {
	r.once.Do(func() {
		r.topics = r.build(ctx)
		r.log.Debug("topic map loaded", logx.Int("topics", len(r.topics)))
	})
	return r.topics
}

func (r *Resolver) build(ctx context.Context) map[string]int {
	out := map[string]int{}
	if r.src == nil {
		return out
	}
	raw, ok := r.src.Get(ctx, RootKey)
	if !ok {
		raw, ok = r.src.Get(ctx, "")
	}
	if !ok {
		return out
	}
	doc, ok := kv.AsMap(raw)
	if !ok {
		return out
	}

	// Sorted for deterministic topic creation order.
	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, tag := range keys {
		if tag == "" || tag == RootKey {
			continue
		}
		v := doc[tag]
		if id, ok := ExtractThreadID(v); ok {
			out[tag] = id
			continue
		}
		entry, ok := kv.AsMap(v)
		if !ok {
			continue
		}
		if id, ok := r.dynamic(ctx, tag, entry); ok {
			out[tag] = id
		}
	}
	return out
}

func (r *Resolver) dynamic(ctx context.Context, tag string, entry map[string]any) (int, bool) {
	if r.creator == nil {
		return 0, false
	}
	title := firstString(entry, "title", "topic", "name")
	if title == "" {
		title = tag
	}
	hint, _ := kv.AsInt64(firstValue(entry, "chat_id", "chat", "target"))
	chatID, ok := r.creator.ResolveChat(ctx, hint, kv.AsString(entry["profile"]))
	if !ok {
		r.log.Warn("no chat for dynamic topic", logx.String("tag", tag))
		return 0, false
	}
	if id, ok := r.cache.Lookup(chatID, title); ok {
		return id, true
	}
	color, _ := kv.AsInt(entry["icon_color"])
	id, err := r.creator.CreateTopic(ctx, chatID, title, color)
	if err != nil || id == 0 {
		r.log.Warn("forum topic creation failed", logx.String("tag", tag), logx.String("title", title), logx.Err(err))
		return 0, false
	}
	if err := r.cache.Store(chatID, title, id); err != nil {
		r.log.Warn("topic cache save failed", logx.Err(err))
	}
	r.log.Info("forum topic created", logx.String("tag", tag), logx.String("title", title), logx.Int("thread_id", id))
	return id, true
}

// ExtractThreadID accepts an integer, a numeric string, or a mapping with
// thread_id / topic_id / id.
func ExtractThreadID(v any) (int, bool) {
	switch v.(type) {
	case int, int64, uint64, float64, string:
		return kv.AsInt(v)
	}
	m, ok := kv.AsMap(v)
	if !ok {
		return 0, false
	}
	for _, k := range []string{"thread_id", "topic_id", "id"} {
		c, ok := m[k]
		if !ok || c == nil || c == "" {
			continue
		}
		if id, ok := kv.AsInt(c); ok {
			return id, true
		}
	}
	return 0, false
}

func firstValue(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil && v != "" {
			return v
		}
	}
	return nil
}

func firstString(m map[string]any, keys ...string) string {
	return strings.TrimSpace(kv.AsString(firstValue(m, keys...)))
}
