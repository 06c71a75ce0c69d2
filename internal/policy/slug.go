package policy

import "strings"

// SiteSlug normalizes a site name: trimmed, lower-cased, with spaces and
// slashes replaced by '-'. An empty result means "no site".
func SiteSlug(site string) string {
	s := strings.ToLower(strings.TrimSpace(site))
	if s == "" {
		return ""
	}
	return strings.NewReplacer(" ", "-", "/", "-").Replace(s)
}

// siteFromTag infers a site from the last tag segment.
func siteFromTag(tag string) string {
	if i := strings.LastIndexByte(tag, '/'); i >= 0 {
		return SiteSlug(tag[i+1:])
	}
	return SiteSlug(tag)
}

func matchesAny(tag string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(tag, p) {
			return true
		}
	}
	return false
}
