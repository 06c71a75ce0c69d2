package msgfmt

import (
	"html"
	"strings"
)

const (
	ruleWidth     = 30
	minLabelWidth = 8
)

// Field is one labelled row of a message block.
type Field struct {
	Label string
	Value string
}

// F is shorthand for Field{Label: label, Value: value}.
func F(label, value string) Field { return Field{Label: label, Value: value} }

// Message is a formatted alert body.
type Message struct {
	Title    string
	Subtitle string
	Fields   []Field

	Plain string
	Rich  string
}

// FormatBlock renders title, subtitle and fields into a Message.
//
// Fields with an empty value are dropped. Labels are left-aligned to the
// widest label (at least 8 columns); continuation lines of a multi-line value
// are indented to line up under the value column.
func FormatBlock(title, subtitle string, fields []Field) Message {
	kept := make([]Field, 0, len(fields))
	width := minLabelWidth
	for _, f := range fields {
		if f.Value == "" {
			continue
		}
		kept = append(kept, f)
		if n := len(f.Label); n > width {
			width = n
		}
	}

	rule := strings.Repeat("=", ruleWidth)
	var b strings.Builder
	b.WriteString(rule)
	b.WriteByte('\n')
	b.WriteString(title)
	if subtitle != "" {
		b.WriteString(" (")
		b.WriteString(subtitle)
		b.WriteString(")")
	}
	b.WriteByte('\n')
	b.WriteString(rule)

	indent := strings.Repeat(" ", width+3)
	for _, f := range kept {
		lines := splitLines(f.Value)
		b.WriteByte('\n')
		b.WriteString(padRight(f.Label, width))
		b.WriteString(" : ")
		b.WriteString(lines[0])
		for _, extra := range lines[1:] {
			b.WriteByte('\n')
			b.WriteString(indent)
			b.WriteString(extra)
		}
	}

	plain := b.String()
	return Message{
		Title:    title,
		Subtitle: subtitle,
		Fields:   kept,
		Plain:    plain,
		Rich:     Rich(plain),
	}
}

// Rich wraps plain text, HTML-escaped, in a <pre> block.
func Rich(plain string) string {
	return "<pre>" + html.EscapeString(plain) + "</pre>"
}

// Render returns the message text for the given mode.
func (m Message) Render(mode RenderMode) string {
	switch mode {
	case ModeMarkdown:
		return CodeBlock(strings.Split(m.Plain, "\n"))
	case ModePlain:
		return m.Plain
	default:
		return m.Rich
	}
}

func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

// splitLines splits on \n, \r\n and \r and never returns an empty slice.
func splitLines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = strings.TrimSuffix(s, "\n")
	return strings.Split(s, "\n")
}
