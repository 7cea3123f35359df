package bridge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/clawbridge/internal/adapters"
	"github.com/nextlevelbuilder/clawbridge/internal/bus"
	"github.com/nextlevelbuilder/clawbridge/internal/cron"
	"github.com/nextlevelbuilder/clawbridge/internal/scheduler"
	"github.com/nextlevelbuilder/clawbridge/internal/sessions"
	"github.com/nextlevelbuilder/clawbridge/internal/store"
	"github.com/nextlevelbuilder/clawbridge/internal/subagents"
)

type fakeSink struct {
	mu    sync.Mutex
	sends []string
	files []string
}

func (s *fakeSink) Send(_ context.Context, chatID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sends = append(s.sends, text)
	return nil
}

func (s *fakeSink) SendFile(_ context.Context, chatID, path, caption string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files = append(s.files, path)
	return nil
}

func (s *fakeSink) Typing(context.Context, string) error { return nil }

func (s *fakeSink) all() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sends...)
}

// waitFor polls until pred sees a sent message, or fails the test.
func (s *fakeSink) waitFor(t *testing.T, pred func(string) bool) string {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		for _, msg := range s.all() {
			if pred(msg) {
				return msg
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("message never arrived; sends: %q", s.all())
	return ""
}

type testBridge struct {
	bridge *Bridge
	sink   *fakeSink
	resume *store.ResumeStore
	log    *store.SessionLog
	sess   *sessions.Store
	sched  *scheduler.Scheduler
	ws     string
}

// newTestBridge builds a bridge whose claude adapter is a shell script that
// echoes the last prompt line back through the stream-json protocol.
func newTestBridge(t *testing.T) *testBridge {
	t.Helper()
	return newTestBridgeScript(t, `resume=""
if [ "$1" = "--resume" ]; then
  resume=" (resume $2)"
  shift 2
fi
last=$(printf '%s' "$1" | tail -n 1)
printf '{"type":"system","subtype":"init","session_id":"sess-9"}\n'
printf '{"type":"result","result":"ran: %s%s","session_id":"sess-9"}\n' "$last" "$resume"
`)
}

// newTestBridgeScript is newTestBridge with a caller-supplied agent script.
func newTestBridgeScript(t *testing.T, body string) *testBridge {
	t.Helper()
	ws := t.TempDir()

	script := filepath.Join(ws, "fake-agent.sh")
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatal(err)
	}

	adapterDir := filepath.Join(ws, "adapters")
	if err := os.MkdirAll(adapterDir, 0o755); err != nil {
		t.Fatal(err)
	}
	manifest := fmt.Sprintf("name: claude\ncommand: sh\nargs: [%q]\ninputMode: arg\nresume:\n  flag: \"--resume\"\n  sessionArg: true\n", script)
	if err := os.WriteFile(filepath.Join(adapterDir, "claude.yaml"), []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}

	registry, err := adapters.LoadRegistry(adapterDir)
	if err != nil {
		t.Fatal(err)
	}
	resume, err := store.OpenResumeStore(ws)
	if err != nil {
		t.Fatal(err)
	}
	sessionLog, err := store.NewSessionLog(ws)
	if err != nil {
		t.Fatal(err)
	}

	sink := &fakeSink{}
	sessStore := sessions.NewStore()
	sched := scheduler.New(scheduler.DefaultLanes())
	t.Cleanup(sched.Close)

	b := New(Options{
		Registry:   registry,
		Resume:     resume,
		SessionLog: sessionLog,
		Sessions:   sessStore,
		Subagents:  subagents.NewRegistry(filepath.Join(ws, subagents.SnapshotFile)),
		Scheduler:  sched,
		Sink:       sink,
		DefaultCLI: "claude",
		Workdir:    ws,
	})
	t.Cleanup(b.Close)

	return &testBridge{bridge: b, sink: sink, resume: resume, log: sessionLog, sess: sessStore, sched: sched, ws: ws}
}

func TestBridge_BasicTurn(t *testing.T) {
	tb := newTestBridge(t)

	tb.bridge.HandleInbound(bus.InboundMessage{ChatID: "123", Text: "hi"})

	tb.sink.waitFor(t, func(m string) bool { return m == "ran: hi" })

	if got := tb.bridge.PrimaryChat(); got != "123" {
		t.Errorf("primary chat = %q", got)
	}
	tok, ok := tb.resume.Token("123", "claude")
	if !ok || tok.SessionID != "sess-9" {
		t.Errorf("resume token = %+v, %v", tok, ok)
	}

	entries, err := tb.log.ReadDay(time.Now())
	if err != nil {
		t.Fatal(err)
	}
	var roles []string
	for _, e := range entries {
		roles = append(roles, e.Role)
	}
	if len(roles) < 2 || roles[0] != "user" || roles[len(roles)-1] != "assistant" {
		t.Errorf("log roles: %v", roles)
	}
}

func TestBridge_ResumeTokenReusedAcrossTurns(t *testing.T) {
	tb := newTestBridge(t)

	tb.bridge.HandleInbound(bus.InboundMessage{ChatID: "42", Text: "first"})
	tb.sink.waitFor(t, func(m string) bool { return m == "ran: first" })

	// the second turn must pass the adapter's resume flag with the first
	// turn's session id
	tb.bridge.HandleInbound(bus.InboundMessage{ChatID: "42", Text: "second"})
	tb.sink.waitFor(t, func(m string) bool { return m == "ran: second (resume sess-9)" })

	// the on-disk snapshot carries the session across restarts
	reopened, err := store.OpenResumeStore(tb.ws)
	if err != nil {
		t.Fatal(err)
	}
	tok, ok := reopened.Token("42", "claude")
	if !ok || tok.SessionID != "sess-9" {
		t.Errorf("persisted token = %+v, %v", tok, ok)
	}
}

func TestBridge_BusyChatQueuesFIFO(t *testing.T) {
	tb := newTestBridge(t)

	// hold the chat busy so inbound messages take the queue path
	tb.sess.Put(&sessions.Session{ChatID: "7", CLI: "claude", State: sessions.StateActive})

	tb.bridge.HandleInbound(bus.InboundMessage{ChatID: "7", Text: "first queued"})
	tb.sink.waitFor(t, func(m string) bool { return m == "Queued (1 pending)" })
	tb.bridge.HandleInbound(bus.InboundMessage{ChatID: "7", Text: "second queued"})
	tb.sink.waitFor(t, func(m string) bool { return m == "Queued (2 pending)" })

	// release the chat; the drain runs both in arrival order
	tb.sess.Drop("7")
	tb.bridge.drainQueue("7")

	tb.sink.waitFor(t, func(m string) bool { return strings.HasPrefix(m, "ran: second queued") })
	sends := tb.sink.all()
	first, second := -1, -1
	for i, m := range sends {
		switch {
		case strings.HasPrefix(m, "ran: first queued"):
			first = i
		case strings.HasPrefix(m, "ran: second queued"):
			second = i
		}
	}
	if first < 0 || second < 0 || first > second {
		t.Errorf("order violated: first=%d second=%d sends=%q", first, second, sends)
	}
}

func TestBridge_UnknownCLIRejected(t *testing.T) {
	tb := newTestBridge(t)

	tb.bridge.HandleInbound(bus.InboundMessage{ChatID: "9", Text: "/use nonexistent"})
	msg := tb.sink.waitFor(t, func(m string) bool { return strings.HasPrefix(m, "❌ Unknown CLI") })
	if !strings.Contains(msg, "nonexistent") {
		t.Errorf("message: %q", msg)
	}
}

func TestBridge_StatusCommand(t *testing.T) {
	tb := newTestBridge(t)

	tb.bridge.HandleInbound(bus.InboundMessage{ChatID: "5", Text: "/status"})
	msg := tb.sink.waitFor(t, func(m string) bool { return strings.HasPrefix(m, "CLI: claude") })
	if !strings.Contains(msg, "Main session: idle") || !strings.Contains(msg, "Queued: 0") {
		t.Errorf("status: %q", msg)
	}
}

func TestBridge_NewKeepsResumeToken(t *testing.T) {
	tb := newTestBridge(t)

	tb.bridge.HandleInbound(bus.InboundMessage{ChatID: "8", Text: "hello"})
	tb.sink.waitFor(t, func(m string) bool { return m == "ran: hello" })

	tb.bridge.HandleInbound(bus.InboundMessage{ChatID: "8", Text: "/new"})
	tb.sink.waitFor(t, func(m string) bool { return m == "Starting fresh" })

	if _, ok := tb.resume.Token("8", "claude"); !ok {
		t.Error("token cleared by /new")
	}

	// the kept token must not be used: the next turn starts clean
	tb.bridge.HandleInbound(bus.InboundMessage{ChatID: "8", Text: "again"})
	tb.sink.waitFor(t, func(m string) bool { return m == "ran: again" })
}

func TestBridge_TrailingTextSurvivesFastExit(t *testing.T) {
	// the terminal line carries no result field and the process exits
	// immediately after: the buffered assistant text must still be the
	// answer, whichever of the event and exit channels wins the select
	tb := newTestBridgeScript(t, `printf '{"type":"system","subtype":"init","session_id":"sess-9"}\n'
printf '{"type":"assistant","message":{"content":[{"type":"text","text":"tail text"}]}}\n'
printf '{"type":"result","session_id":"sess-9"}\n'
`)

	tb.bridge.HandleInbound(bus.InboundMessage{ChatID: "3", Text: "go"})
	tb.sink.waitFor(t, func(m string) bool { return m == "tail text" })
}

func TestBridge_DueJobParkedUntilFirstChat(t *testing.T) {
	tb := newTestBridge(t)

	cronStore, err := cron.OpenStore(filepath.Join(tb.ws, ".state"))
	if err != nil {
		t.Fatal(err)
	}
	tb.bridge.cron = cron.NewService(cronStore, cron.Handlers{})

	job, err := tb.bridge.cron.Add("greet", "every 1h", "say hello", cron.AddOpts{})
	if err != nil {
		t.Fatal(err)
	}

	// due before any chat has talked (fresh restart): parked, not dropped
	tb.bridge.CronHandlers().OnDue(*job)
	if got := tb.sink.all(); len(got) != 0 {
		t.Fatalf("sends before any chat: %q", got)
	}

	// the first user interaction drains the parked job
	tb.bridge.HandleInbound(bus.InboundMessage{ChatID: "77", Text: "hi"})
	tb.sink.waitFor(t, func(m string) bool { return m == "ran: say hello" })
}
