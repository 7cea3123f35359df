package markdown

import (
	"strings"
	"testing"
)

func TestEscape(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"hello world", "hello world"},
		{"a.b!c", `a\.b\!c`},
		{"1+1=2", `1\+1\=2`},
		{"[link](url)", `\[link\]\(url\)`},
		{"under_score *star*", `under\_score \*star\*`},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Escape(tt.in); got != tt.want {
			t.Errorf("Escape(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestToTelegramMarkdown(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{
			name: "bold span converted, contents escaped",
			in:   "see **a.b** here.",
			want: `see *a\.b* here\.`,
		},
		{
			name: "multiple bold spans",
			in:   "**one** and **two**",
			want: `*one* and *two*`,
		},
		{
			name: "list with reserved chars",
			in:   "- item #1\n- item #2",
			want: "\\- item \\#1\n\\- item \\#2",
		},
		{
			name: "unclosed bold treated literally",
			in:   "broken **bold here.",
			want: `broken \*\*bold here\.`,
		},
		{
			name: "plain text untouched",
			in:   "just words",
			want: "just words",
		},
		{
			name: "code fence preserved",
			in:   "run this:\n```\nx := a.b()\n```\ndone.",
			want: "run this:\n```\nx := a.b()\n```\ndone\\.",
		},
		{
			name: "backtick inside fence escaped",
			in:   "```\necho `date`\n```",
			want: "```\necho \\`date\\`\n```",
		},
		{
			name: "unclosed fence treated literally",
			in:   "half ``` open.",
			want: "half \\`\\`\\` open\\.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ToTelegramMarkdown(tt.in); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestToTelegramMarkdown_AllReservedEscapedOutsideBold(t *testing.T) {
	out := ToTelegramMarkdown("x" + reserved + " **b** y")
	// every reserved char outside the bold span must carry a backslash
	for _, c := range reserved {
		if !strings.Contains(out, `\`+string(c)) {
			t.Errorf("char %q not escaped in %q", c, out)
		}
	}
	if !strings.Contains(out, "*b*") {
		t.Errorf("bold span lost: %q", out)
	}
}
