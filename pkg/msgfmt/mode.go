package msgfmt

import "strings"

// RenderMode selects how a Message is rendered for the broadcast channel.
type RenderMode string

const (
	ModeRich     RenderMode = "rich"
	ModeMarkdown RenderMode = "markdown"
	ModePlain    RenderMode = "plain"
)

// ParseRenderMode maps a configured parse mode ("HTML", "MarkdownV2", ...) or
// a render mode name to a RenderMode. Unknown or empty input yields ModeRich.
func ParseRenderMode(s string) RenderMode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "markdown", "markdownv2", "md":
		return ModeMarkdown
	case "plain", "text", "none":
		return ModePlain
	default:
		return ModeRich
	}
}

// ParseMode returns the Telegram parse_mode value for the render mode.
func (m RenderMode) ParseMode() string {
	switch m {
	case ModeMarkdown:
		return "MarkdownV2"
	case ModePlain:
		return ""
	default:
		return "HTML"
	}
}

func (m RenderMode) String() string {
	if m == "" {
		return string(ModeRich)
	}
	return string(m)
}
