package msgfmt

import (
	"html"
	"regexp"
	"strings"
)

var (
	mdSpecial = regexp.MustCompile("([_*\\[\\]()~`>#+\\-=|{}.!])")
	htmlTag   = regexp.MustCompile(`<[^>]+>`)
)

// EscapeMarkdownV2 escapes every MarkdownV2 special character.
func EscapeMarkdownV2(s string) string {
	if s == "" {
		return ""
	}
	s = strings.ReplaceAll(s, `\`, `\\`)
	return mdSpecial.ReplaceAllString(s, `\$1`)
}

// InlineCode renders s as MarkdownV2 inline code.
func InlineCode(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "`", "\\`")
	return "`" + s + "`"
}

// CodeBlock renders lines as a MarkdownV2 fenced code block.
func CodeBlock(lines []string) string {
	safe := make([]string, len(lines))
	for i, l := range lines {
		l = strings.ReplaceAll(l, `\`, `\\`)
		safe[i] = strings.ReplaceAll(l, "`", "\\`")
	}
	return "```\n" + strings.Join(safe, "\n") + "\n```"
}

// HTMLToPlain strips tags and unescapes entities.
func HTMLToPlain(s string) string {
	if s == "" {
		return ""
	}
	return html.UnescapeString(htmlTag.ReplaceAllString(s, ""))
}
