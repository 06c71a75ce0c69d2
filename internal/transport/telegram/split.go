package telegram

import "strings"

// textLimit stays below Telegram's 4096 character cap.
const textLimit = 4000

// splitText splits long messages into chunks that are safe to send.
// It prefers newline boundaries and, in HTML mode, avoids splitting inside a
// tag.
func splitText(s string, limit int, parseMode string) []string {
	if limit <= 0 {
		limit = textLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := start + limit
		if end > len(rs) {
			end = len(rs)
		}

		if end < len(rs) {
			cut := -1
			for i := end - 1; i > start; i-- {
				// Avoid extremely small chunks.
				if rs[i] == '\n' && i-start >= limit/3 {
					cut = i + 1
					break
				}
			}
			if cut != -1 {
				end = cut
			}
		}

		if strings.EqualFold(parseMode, "HTML") && end < len(rs) {
			lastOpen, lastClose := -1, -1
			for i := start; i < end; i++ {
				switch rs[i] {
				case '<':
					lastOpen = i
				case '>':
					lastClose = i
				}
			}
			if lastOpen > lastClose && lastOpen > start+1 {
				end = lastOpen
			}
			// Same for entities such as &lt;.
			lastAmp, lastSemi := -1, -1
			for i := start; i < end; i++ {
				switch rs[i] {
				case '&':
					lastAmp = i
				case ';':
					lastSemi = i
				}
			}
			if lastAmp > lastSemi && lastAmp > start+1 {
				end = lastAmp
			}
		}

		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))

		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

const (
	preOpen  = "<pre>"
	preClose = "</pre>"
)

// splitPre splits a single <pre> block into several balanced <pre> blocks.
// Other text is split with splitText.
func splitPre(s string, limit int) []string {
	if limit <= 0 {
		limit = textLimit
	}
	if !strings.HasPrefix(s, preOpen) || !strings.HasSuffix(s, preClose) || len(s) < len(preOpen)+len(preClose) {
		return splitText(s, limit, "HTML")
	}
	inner := s[len(preOpen) : len(s)-len(preClose)]
	if strings.Contains(inner, "<") {
		return splitText(s, limit, "HTML")
	}
	parts := splitText(inner, limit-len(preOpen)-len(preClose), "HTML")
	for i, p := range parts {
		parts[i] = preOpen + p + preClose
	}
	return parts
}
