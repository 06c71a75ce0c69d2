package policy

import (
	"strings"

	"alertrelay/internal/kv"
	"alertrelay/pkg/msgfmt"
)

// DocumentKey is the root key of the policy in the site document.
const DocumentKey = "notifications"

// FromDocument builds a Policy from the value stored under DocumentKey.
// Anything missing or of the wrong shape falls back to defaults.
func FromDocument(v any) *Policy {
	p := Default()
	doc, _ := kv.AsMap(v)

	tg, _ := kv.AsMap(doc["telegram"])
	p.Enabled = kv.AsBool(tg["enabled"], true)
	if raw, ok := tg["min_severity"]; ok && raw != nil {
		p.MinSeverity = ParseSeverity(kv.AsString(raw))
	}
	if raw, ok := tg["parse_mode"]; ok && raw != nil {
		p.RenderMode = msgfmt.ParseRenderMode(kv.AsString(raw))
	}
	p.DisabledTagPrefixes = prefixes(tg["disabled_tags"])

	if overrides, ok := kv.AsMap(tg["site_overrides"]); ok {
		for site, raw := range overrides {
			rules, ok := kv.AsMap(raw)
			if !ok {
				continue
			}
			slug := SiteSlug(site)
			if slug == "" {
				continue
			}
			ov := Override{MinSeverity: p.MinSeverity}
			if ms, ok := rules["min_severity"]; ok && ms != nil {
				ov.MinSeverity = ParseSeverity(kv.AsString(ms))
			}
			ov.DisabledTagPrefixes = prefixes(rules["disabled_tags"])
			p.SiteOverrides[slug] = ov
		}
	}

	wh, _ := kv.AsMap(doc["webhook"])
	if kv.AsBool(wh["enabled"], false) {
		p.Webhook.Enabled = true
		list, _ := wh["endpoints"].([]any)
		for _, raw := range list {
			entry, ok := kv.AsMap(raw)
			if !ok {
				continue
			}
			url := strings.TrimSpace(kv.AsString(entry["url"]))
			if url == "" {
				continue
			}
			name := strings.TrimSpace(kv.AsString(entry["name"]))
			if name == "" {
				name = url
			}
			ep := Endpoint{Name: name, URL: url, Headers: map[string]string{}}
			if hdrs, ok := kv.AsMap(entry["headers"]); ok {
				for k, hv := range hdrs {
					ep.Headers[k] = kv.AsString(hv)
				}
			}
			p.Webhook.Endpoints = append(p.Webhook.Endpoints, ep)
		}
	}
	return p
}

// prefixes keeps non-empty entries; an empty prefix would match every tag.
func prefixes(v any) []string {
	raw := kv.AsStrings(v)
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}
