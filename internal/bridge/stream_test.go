package bridge

import (
	"strings"
	"sync"
	"testing"
	"time"
)

type sendRecorder struct {
	mu    sync.Mutex
	sends []string
}

func (r *sendRecorder) send(text string) {
	r.mu.Lock()
	r.sends = append(r.sends, text)
	r.mu.Unlock()
}

func (r *sendRecorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sends...)
}

func always(v bool) func() bool { return func() bool { return v } }

func TestAggregator_SnapshotStreamNoDuplicateOnFinalize(t *testing.T) {
	rec := &sendRecorder{}
	agg := newStreamAggregator(always(true), rec.send)

	for _, snap := range []string{"abc", "abcdef", "abcdefghi"} {
		agg.OnText(snap)
	}
	// let the idle timer flush
	time.Sleep(flushIdle + 300*time.Millisecond)

	sends := rec.all()
	if len(sends) != 1 || sends[0] != "abcdefghi" {
		t.Fatalf("flushed: %q", sends)
	}

	// the terminal answer equals what was streamed: nothing more to send
	text, files := agg.Finalize("abcdefghi")
	if text != "" {
		t.Errorf("duplicate text on finalize: %q", text)
	}
	if len(files) != 0 {
		t.Errorf("files: %+v", files)
	}
}

func TestAggregator_StreamedDeltasConcatenateToAnswer(t *testing.T) {
	rec := &sendRecorder{}
	agg := newStreamAggregator(always(true), rec.send)

	// incremental chunks big enough to force size-based flushes
	part1 := strings.Repeat("a", 500)
	part2 := strings.Repeat("b", 500)
	part3 := strings.Repeat("c", 100)
	agg.OnText(part1)
	agg.OnText(part2) // 1000 > 800: flush
	agg.OnText(part3)

	final := part1 + part2 + part3
	text, _ := agg.Finalize(final)

	streamed := strings.Join(rec.all(), "")
	if streamed+text != final {
		t.Errorf("streamed(%d) + final(%d) != answer(%d)", len(streamed), len(text), len(final))
	}
}

func TestAggregator_OlderSnapshotIgnored(t *testing.T) {
	agg := newStreamAggregator(always(false), func(string) {})
	agg.OnText("abcdef")
	agg.OnText("abc") // stale snapshot
	if got := agg.Buffer(); got != "abcdef" {
		t.Errorf("buffer = %q", got)
	}
}

func TestAggregator_SpawnDirectiveNeverFlushed(t *testing.T) {
	rec := &sendRecorder{}
	agg := newStreamAggregator(always(true), rec.send)

	agg.OnText("/spawn --label worker \"" + strings.Repeat("x", 900) + "\"")
	time.Sleep(flushIdle + 300*time.Millisecond)

	if sends := rec.all(); len(sends) != 0 {
		t.Fatalf("spawn directive leaked to chat: %q", sends)
	}
}

func TestAggregator_SendfileDedupAcrossStreamAndFinal(t *testing.T) {
	rec := &sendRecorder{}
	agg := newStreamAggregator(always(true), rec.send)

	body := "Report ready.\n[Sendfile: /tmp/report.pdf]\nCaption: Q3"
	agg.OnText(body)
	time.Sleep(flushIdle + 300*time.Millisecond)

	for _, s := range rec.all() {
		if strings.Contains(s, "Sendfile") {
			t.Errorf("directive sent verbatim: %q", s)
		}
	}

	// the final answer carries the same directive again
	_, files := agg.Finalize(body)
	if len(files) != 1 || files[0].Path != "/tmp/report.pdf" || files[0].Caption != "Q3" {
		t.Fatalf("files: %+v", files)
	}
}

func TestAggregator_StreamingOffBuffersSilently(t *testing.T) {
	rec := &sendRecorder{}
	agg := newStreamAggregator(always(false), rec.send)

	agg.OnText(strings.Repeat("x", 2000))
	time.Sleep(flushIdle + 300*time.Millisecond)

	if sends := rec.all(); len(sends) != 0 {
		t.Fatalf("sent while streaming off: %d", len(sends))
	}
	text, _ := agg.Finalize(strings.Repeat("x", 2000))
	if len(text) != 2000 {
		t.Errorf("finalize returned %d chars", len(text))
	}
}
