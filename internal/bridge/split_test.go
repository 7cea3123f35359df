package bridge

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplitMessage_PreservesContent(t *testing.T) {
	inputs := []string{
		"short",
		strings.Repeat("line one\nline two\n", 900),
		strings.Repeat("x", 9500),
		"a\nb\n" + strings.Repeat("x", 4100),
	}
	for _, in := range inputs {
		chunks := SplitMessage(in, MaxChunk)
		for i, c := range chunks {
			if len(c) > MaxChunk {
				t.Errorf("chunk %d has %d chars", i, len(c))
			}
		}
		joined := chunks[0]
		for _, c := range chunks[1:] {
			// newline-break chunks drop the separator; reinsert for comparison
			joined += "\n" + c
		}
		squash := func(s string) string { return strings.ReplaceAll(s, "\n", "") }
		if squash(joined) != squash(in) {
			t.Errorf("content lost for input of len %d", len(in))
		}
	}
}

func TestSplitMessage_PrefersNewlineBreak(t *testing.T) {
	in := "a\nb\n" + strings.Repeat("x", 4100)
	chunks := SplitMessage(in, 4000)
	// the first chunk ends at the last newline before the limit
	if chunks[0] != "a\nb" {
		t.Errorf("first chunk = %q, want %q", chunks[0], "a\nb")
	}
	for i, c := range chunks {
		if len(c) > 4000 {
			t.Errorf("chunk %d has %d chars", i, len(c))
		}
	}
}

func TestSplitMessage_HardBreakWithoutNewline(t *testing.T) {
	in := strings.Repeat("x", 8100)
	chunks := SplitMessage(in, 4000)
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks", len(chunks))
	}
	if len(chunks[0]) != 4000 || len(chunks[1]) != 4000 || len(chunks[2]) != 100 {
		t.Errorf("chunk sizes: %d %d %d", len(chunks[0]), len(chunks[1]), len(chunks[2]))
	}
}

func TestTruncateMiddle(t *testing.T) {
	long := strings.Repeat("a", 1500) + strings.Repeat("z", 1500)
	out := TruncateMiddle(long, 2000)
	if !strings.Contains(out, "…(truncated)…") {
		t.Error("marker missing")
	}
	if !strings.HasPrefix(out, "aaaa") || !strings.HasSuffix(out, "zzzz") {
		t.Errorf("head/tail lost: %q…%q", out[:8], out[len(out)-8:])
	}
	// 60/40 split of the budget
	head := strings.Index(out, "\n…")
	if head != 1200 {
		t.Errorf("head length %d, want 1200", head)
	}

	if got := TruncateMiddle("short", 2000); got != "short" {
		t.Errorf("short input modified: %q", got)
	}
}

func TestTruncateMiddleRuneBoundaries(t *testing.T) {
	// 3-byte runes that never line up with the 60/40 byte offsets
	long := strings.Repeat("日", 1000)
	for _, max := range []int{100, 101, 102, 2000} {
		out := TruncateMiddle(long, max)
		if !utf8.ValidString(out) {
			t.Errorf("max=%d: rune split at cut point: %q…%q", max, out[:6], out[len(out)-6:])
		}
		if !strings.Contains(out, "…(truncated)…") {
			t.Errorf("max=%d: marker missing", max)
		}
	}
}

func TestExtractSendfiles(t *testing.T) {
	in := "Here is the report.\n[Sendfile: /tmp/report.pdf]\nCaption: Q3 numbers\nAnd a chart:\n[Sendfile: /tmp/chart.png]"
	clean, files := ExtractSendfiles(in)

	if len(files) != 2 {
		t.Fatalf("files: %+v", files)
	}
	if files[0].Path != "/tmp/report.pdf" || files[0].Caption != "Q3 numbers" {
		t.Errorf("file 0: %+v", files[0])
	}
	if files[1].Path != "/tmp/chart.png" || files[1].Caption != "" {
		t.Errorf("file 1: %+v", files[1])
	}
	if strings.Contains(clean, "Sendfile") || strings.Contains(clean, "Caption:") {
		t.Errorf("directives left in text: %q", clean)
	}
	if !strings.Contains(clean, "Here is the report.") || !strings.Contains(clean, "And a chart:") {
		t.Errorf("surrounding text lost: %q", clean)
	}
}

func TestExtractSendfiles_NoDirectives(t *testing.T) {
	clean, files := ExtractSendfiles("plain answer")
	if clean != "plain answer" || files != nil {
		t.Errorf("got %q, %+v", clean, files)
	}
}
