// Package bridge is the session controller: it consumes inbound chat
// messages, drives agent processes through the lane scheduler, and turns
// their event streams back into chat output.
package bridge

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxChunk is the largest single message sent to the transport.
const MaxChunk = 4000

// SplitMessage chunks text so no piece exceeds max, preferring to break at
// the last newline before the limit. Concatenating the chunks (modulo
// leading-whitespace trim on continuation chunks) reproduces the input.
func SplitMessage(text string, max int) []string {
	if max <= 0 {
		max = MaxChunk
	}
	if len(text) <= max {
		if text == "" {
			return nil
		}
		return []string{text}
	}

	var chunks []string
	for len(text) > max {
		cut := strings.LastIndexByte(text[:max], '\n')
		if cut <= 0 {
			cut = max
		}
		chunks = append(chunks, text[:cut])
		text = strings.TrimLeft(text[cut:], "\n")
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

// truncationMarker is inserted where the middle of an over-long result was
// dropped.
const truncationMarker = "\n…(truncated)…\n"

// TruncateMiddle shortens s to roughly max characters by cutting out the
// middle, keeping 60% of the budget at the head and 40% at the tail. Cut
// points back off to rune boundaries.
func TruncateMiddle(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	head := max * 6 / 10
	for head > 0 && !utf8.RuneStart(s[head]) {
		head--
	}
	cut := len(s) - (max - head)
	for cut < len(s) && !utf8.RuneStart(s[cut]) {
		cut++
	}
	return s[:head] + truncationMarker + s[cut:]
}

// FileDirective is one [Sendfile: path] extracted from assistant output.
type FileDirective struct {
	Path    string
	Caption string
}

var sendfileRe = regexp.MustCompile(`(?m)^\[Sendfile: ([^\]\n]+)\](?:\n[Cc]aption: ([^\n]*))?`)

// ExtractSendfiles pulls [Sendfile: <path>] directives (with an optional
// following Caption: line) out of text, returning the cleaned text and the
// directives in order of appearance.
func ExtractSendfiles(text string) (string, []FileDirective) {
	matches := sendfileRe.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return text, nil
	}
	files := make([]FileDirective, 0, len(matches))
	for _, m := range matches {
		files = append(files, FileDirective{
			Path:    strings.TrimSpace(m[1]),
			Caption: strings.TrimSpace(m[2]),
		})
	}
	clean := sendfileRe.ReplaceAllString(text, "")
	clean = strings.Trim(clean, "\n")
	return clean, files
}
