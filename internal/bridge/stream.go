package bridge

import (
	"strings"
	"sync"
	"time"
)

const (
	// flushChars triggers a streaming flush once the unsent tail grows past it.
	flushChars = 800
	// flushIdle triggers a flush after this much quiet on the event stream.
	flushIdle = 1500 * time.Millisecond
)

// streamAggregator buffers assistant text during a turn and, in streaming
// mode, flushes deltas to the chat. It owns the [Sendfile:] dedup set so a
// directive seen in both a streamed delta and the final answer is delivered
// once.
type streamAggregator struct {
	mu           sync.Mutex
	buf          string
	lastStreamed string

	seenFiles    map[string]bool
	pendingFiles []FileDirective

	streaming func() bool      // read dynamically, per chat settings
	send      func(text string)
	timer     *time.Timer
}

func newStreamAggregator(streaming func() bool, send func(string)) *streamAggregator {
	return &streamAggregator{
		streaming: streaming,
		send:      send,
		seenFiles: make(map[string]bool),
	}
}

// OnText merges an incoming text event into the buffer. Adapters differ on
// semantics, so both are handled by prefix test: a snapshot extending the
// buffer replaces it, an older snapshot is ignored, anything else appends.
func (a *streamAggregator) OnText(text string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch {
	case text == a.buf:
		return
	case strings.HasPrefix(text, a.buf):
		a.buf = text
	case strings.HasPrefix(a.buf, text):
		return
	default:
		a.buf += text
	}

	if !a.streaming() {
		return
	}
	if len(a.buf)-len(a.lastStreamed) >= flushChars {
		a.flushLocked()
		return
	}
	if a.timer == nil {
		a.timer = time.AfterFunc(flushIdle, a.idleFlush)
	} else {
		a.timer.Reset(flushIdle)
	}
}

func (a *streamAggregator) idleFlush() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.streaming() {
		a.flushLocked()
	}
}

// flushLocked sends the unstreamed tail, minus file directives. A buffer
// that could still turn out to be an assistant /spawn directive is held
// back; Finalize handles that case atomically.
func (a *streamAggregator) flushLocked() {
	if strings.HasPrefix(strings.TrimSpace(a.buf), "/spawn") {
		return
	}
	delta := a.deltaLocked(a.buf)
	a.lastStreamed = a.buf
	clean := a.extractLocked(delta)
	if strings.TrimSpace(clean) != "" {
		a.send(clean)
	}
}

func (a *streamAggregator) deltaLocked(full string) string {
	if strings.HasPrefix(full, a.lastStreamed) {
		return full[len(a.lastStreamed):]
	}
	return full
}

// extractLocked strips sendfile directives, queuing unseen paths.
func (a *streamAggregator) extractLocked(text string) string {
	clean, files := ExtractSendfiles(text)
	for _, f := range files {
		if !a.seenFiles[f.Path] {
			a.seenFiles[f.Path] = true
			a.pendingFiles = append(a.pendingFiles, f)
		}
	}
	return clean
}

// Finalize reconciles the terminal answer against what was already
// streamed. Returns the remaining text to send (empty when streaming
// already delivered everything) and the de-duplicated file directives for
// the whole turn.
func (a *streamAggregator) Finalize(answer string) (string, []FileDirective) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}

	clean := a.extractLocked(answer)
	files := a.pendingFiles
	a.pendingFiles = nil

	if strings.TrimSpace(clean) == strings.TrimSpace(a.stripStreamed()) {
		// everything already on screen
		return "", files
	}
	if strings.HasPrefix(clean, a.stripStreamed()) {
		return strings.TrimSpace(clean[len(a.stripStreamed()):]), files
	}
	return clean, files
}

// stripStreamed is lastStreamedText with file directives removed, so the
// comparison in Finalize lines up with the cleaned answer.
func (a *streamAggregator) stripStreamed() string {
	clean, _ := ExtractSendfiles(a.lastStreamed)
	return clean
}

// Buffer returns the accumulated text, for fallback when completed carries
// no answer.
func (a *streamAggregator) Buffer() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.buf
}
