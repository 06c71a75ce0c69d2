package telegram

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"alertrelay/internal/kv"
	"alertrelay/internal/transport"
)

// ProfilesKey is the location of sender profiles in the site document.
const ProfilesKey = "telegram.profiles"

// profile is a transport.Profile with its credentials.
type profile struct {
	Name    string
	Token   string
	ChatIDs []int64
}

func (p profile) public() transport.Profile {
	return transport.Profile{Name: p.Name, ChatIDs: append([]int64(nil), p.ChatIDs...)}
}

// loadProfiles reads enabled, token-bearing profiles sorted by name.
// A missing key is no profiles; a key of the wrong shape is an error.
func loadProfiles(ctx context.Context, src kv.Source) ([]profile, error) {
	if src == nil {
		return nil, nil
	}
	raw, ok := src.Get(ctx, ProfilesKey)
	if !ok || raw == nil {
		return nil, nil
	}
	m, ok := kv.AsMap(raw)
	if !ok {
		return nil, fmt.Errorf("%s: expected mapping, got %T", ProfilesKey, raw)
	}

	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)

	out := make([]profile, 0, len(names))
	for _, name := range names {
		entry, ok := kv.AsMap(m[name])
		if !ok {
			continue
		}
		if !kv.AsBool(entry["enabled"], true) {
			continue
		}
		token := strings.TrimSpace(kv.AsString(entry["token"]))
		if token == "" {
			continue
		}
		out = append(out, profile{Name: name, Token: token, ChatIDs: collectChatIDs(entry)})
	}
	return out, nil
}

// collectChatIDs merges targets, chat_ids and chat_id, keeping first-seen
// order. List items may be ids or {chat_id|chat|id} mappings.
func collectChatIDs(entry map[string]any) []int64 {
	var out []int64
	seen := map[int64]struct{}{}
	for _, key := range []string{"targets", "chat_ids", "chat_id"} {
		raw, ok := entry[key]
		if !ok || raw == nil {
			continue
		}
		items, isList := raw.([]any)
		if !isList {
			items = []any{raw}
		}
		for _, item := range items {
			if m, ok := kv.AsMap(item); ok {
				item = firstNonEmpty(m, "chat_id", "chat", "id")
			}
			id, ok := kv.AsInt64(item)
			if !ok || id == 0 {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

func firstNonEmpty(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil && v != "" {
			return v
		}
	}
	return nil
}
