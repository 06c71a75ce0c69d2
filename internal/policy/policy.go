package policy

import (
	"alertrelay/pkg/msgfmt"
)

// Policy is an immutable routing policy snapshot. Build one with FromDocument
// or Default; Store swaps whole snapshots on reload.
type Policy struct {
	Enabled             bool
	MinSeverity         Severity
	DisabledTagPrefixes []string
	SiteOverrides       map[string]Override
	Webhook             Webhook
	RenderMode          msgfmt.RenderMode
}

// Override narrows routing for one site.
type Override struct {
	MinSeverity         Severity
	DisabledTagPrefixes []string
}

type Webhook struct {
	Enabled   bool
	Endpoints []Endpoint
}

// Endpoint is one outbound webhook target.
type Endpoint struct {
	Name    string
	URL     string
	Headers map[string]string
}

// Default is the policy used when no configuration is present.
func Default() *Policy {
	return &Policy{
		Enabled:       true,
		MinSeverity:   Info,
		SiteOverrides: map[string]Override{},
		RenderMode:    msgfmt.ModeRich,
	}
}

// ShouldSend decides whether an alert may be delivered to the broadcast
// channel. site may be empty, in which case it is inferred from the last tag
// segment. Disabled prefixes reject regardless of severity.
func (p *Policy) ShouldSend(tag string, sev Severity, site string) bool {
	if p == nil {
		p = Default()
	}
	if !p.Enabled {
		return false
	}
	if sev < p.MinSeverity {
		return false
	}
	if matchesAny(tag, p.DisabledTagPrefixes) {
		return false
	}

	slug := SiteSlug(site)
	if slug == "" {
		slug = siteFromTag(tag)
	}
	if slug == "" {
		return true
	}
	ov, ok := p.SiteOverrides[slug]
	if !ok {
		return true
	}
	if sev < ov.MinSeverity {
		return false
	}
	if matchesAny(tag, ov.DisabledTagPrefixes) {
		return false
	}
	return true
}

// Endpoints returns the webhook endpoints to post to; none when webhooks are
// disabled.
func (p *Policy) Endpoints() []Endpoint {
	if p == nil || !p.Webhook.Enabled {
		return nil
	}
	return p.Webhook.Endpoints
}
