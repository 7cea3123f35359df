// Package markdown converts assistant output into Telegram MarkdownV2.
package markdown

import "strings"

// reserved are the characters MarkdownV2 requires escaped in plain text.
const reserved = "_*[]()~`>#+-=|{}.!"

// Escape backslash-escapes every reserved MarkdownV2 character.
func Escape(s string) string {
	var b strings.Builder
	b.Grow(len(s) + len(s)/4)
	for i := 0; i < len(s); i++ {
		if strings.IndexByte(reserved, s[i]) >= 0 {
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// ToTelegramMarkdown escapes text for MarkdownV2 while converting **bold**
// spans to Telegram's *bold* form and keeping ``` code fences intact. Inside
// a fence only backslash and backtick need escaping; outside, every reserved
// character is escaped. An unclosed ** or ``` is treated as literal text.
func ToTelegramMarkdown(s string) string {
	parts := strings.Split(s, "```")
	if len(parts) == 1 {
		return formatText(s)
	}
	if len(parts)%2 == 0 {
		// odd number of ``` markers: last fence never closes
		return formatText(s)
	}

	var b strings.Builder
	b.Grow(len(s) + len(s)/4)
	for i, part := range parts {
		if i%2 == 1 {
			b.WriteString("```")
			b.WriteString(escapeCode(part))
			b.WriteString("```")
		} else {
			b.WriteString(formatText(part))
		}
	}
	return b.String()
}

// escapeCode escapes the two characters MarkdownV2 reserves inside pre
// blocks.
func escapeCode(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, "`", "\\`")
}

// formatText handles the non-fenced portion: bold conversion plus full
// escaping.
func formatText(s string) string {
	parts := strings.Split(s, "**")
	if len(parts)%2 == 0 {
		// odd number of ** markers: last opener has no closer
		return Escape(s)
	}

	var b strings.Builder
	b.Grow(len(s) + len(s)/4)
	for i, part := range parts {
		if i%2 == 1 {
			b.WriteByte('*')
			b.WriteString(Escape(part))
			b.WriteByte('*')
		} else {
			b.WriteString(Escape(part))
		}
	}
	return b.String()
}
