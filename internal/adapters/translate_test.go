package adapters

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func feed(t *testing.T, tr Translator, lines ...string) []BridgeEvent {
	t.Helper()
	var events []BridgeEvent
	for _, l := range lines {
		events = append(events, tr.Translate([]byte(l))...)
	}
	return events
}

func TestClaudeTranslator_FullTurn(t *testing.T) {
	tr := NewTranslator("claude")
	events := feed(t, tr,
		`{"type":"system","subtype":"init","session_id":"s-1","model":"claude-sonnet-4-5"}`,
		`{"type":"assistant","message":{"content":[{"type":"thinking","thinking":"hmm"}]}}`,
		`{"type":"assistant","message":{"content":[{"type":"text","text":"Hello "}]}}`,
		`{"type":"assistant","message":{"content":[{"type":"tool_use","id":"t-1","name":"Bash","input":{"command":"ls"}}]}}`,
		`{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"t-1","content":"file.go"}]}}`,
		`{"type":"assistant","message":{"content":[{"type":"text","text":"world"}]}}`,
		`{"type":"result","session_id":"s-1","result":"Hello world","is_error":false,"total_cost_usd":0.0042}`,
	)

	want := []EventType{EventStarted, EventThinking, EventText, EventToolStart, EventToolEnd, EventText, EventCompleted}
	if len(events) != len(want) {
		t.Fatalf("got %d events, want %d: %+v", len(events), len(want), events)
	}
	for i, w := range want {
		if events[i].Type != w {
			t.Errorf("event %d: got %s, want %s", i, events[i].Type, w)
		}
	}

	if events[0].SessionID != "s-1" || events[0].Model != "claude-sonnet-4-5" {
		t.Errorf("started: %+v", events[0])
	}
	if events[3].ToolID != "t-1" || events[3].ToolName != "Bash" {
		t.Errorf("tool_start: %+v", events[3])
	}
	if events[4].Preview != "file.go" || events[4].IsError {
		t.Errorf("tool_end: %+v", events[4])
	}
	final := events[6]
	if final.Answer != "Hello world" || final.SessionID != "s-1" || final.IsError {
		t.Errorf("completed: %+v", final)
	}
	if final.CostUSD == nil || *final.CostUSD != 0.0042 {
		t.Errorf("cost: %+v", final.CostUSD)
	}
}

func TestClaudeTranslator_ResultFallsBackToLastText(t *testing.T) {
	tr := NewTranslator("claude")
	events := feed(t, tr,
		`{"type":"assistant","message":{"content":[{"type":"text","text":"partial answer"}]}}`,
		`{"type":"result","session_id":"s-2"}`,
	)
	final := events[len(events)-1]
	if final.Type != EventCompleted || final.Answer != "partial answer" {
		t.Fatalf("completed: %+v", final)
	}
}

func TestClaudeTranslator_ToolResultBlockArray(t *testing.T) {
	tr := &claudeTranslator{}
	events := feed(t, tr,
		`{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"t-9","is_error":true,"content":[{"type":"text","text":"boom"}]}]}}`,
	)
	if len(events) != 1 || events[0].Type != EventToolEnd {
		t.Fatalf("events: %+v", events)
	}
	if !events[0].IsError || events[0].Preview != "boom" {
		t.Errorf("tool_end: %+v", events[0])
	}
}

func TestDroidTranslator_SnapshotDeltas(t *testing.T) {
	tr := NewTranslator("droid")
	events := feed(t, tr,
		`{"type":"session_start","session_id":"d-1"}`,
		`{"type":"message","role":"assistant","text":"abc"}`,
		`{"type":"message","role":"assistant","text":"abcdef"}`,
		`{"type":"message","role":"assistant","text":"abc"}`,
		`{"type":"message","role":"assistant","text":"abcdefghi"}`,
		`{"type":"completion","finalText":"abcdefghi"}`,
	)

	var texts []string
	for _, ev := range events {
		if ev.Type == EventText {
			texts = append(texts, ev.Text)
		}
	}
	if got := strings.Join(texts, "|"); got != "abc|def|ghi" {
		t.Errorf("deltas = %q, want abc|def|ghi", got)
	}

	final := events[len(events)-1]
	if final.Type != EventCompleted || final.Answer != "abcdefghi" {
		t.Errorf("completed: %+v", final)
	}
	if final.SessionID != "d-1" {
		t.Errorf("completion should fall back to stored session, got %q", final.SessionID)
	}
}

func TestDroidTranslator_AlternateFieldNames(t *testing.T) {
	tests := []struct {
		name string
		line string
		want BridgeEvent
	}{
		{
			name: "tool/id/parameters spelling",
			line: `{"type":"tool_start","tool":"Edit","id":"x1","parameters":{"path":"a.go"}}`,
			want: BridgeEvent{Type: EventToolStart, ToolID: "x1", ToolName: "Edit"},
		},
		{
			name: "toolName/toolId/input spelling",
			line: `{"type":"tool_start","toolName":"Edit","toolId":"x2","input":{"path":"b.go"}}`,
			want: BridgeEvent{Type: EventToolStart, ToolID: "x2", ToolName: "Edit"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := &droidTranslator{}
			events := tr.Translate([]byte(tt.line))
			if len(events) != 1 {
				t.Fatalf("got %d events", len(events))
			}
			ev := events[0]
			if ev.Type != tt.want.Type || ev.ToolID != tt.want.ToolID || ev.ToolName != tt.want.ToolName {
				t.Errorf("got %+v, want %+v", ev, tt.want)
			}
			if len(ev.ToolInput) == 0 {
				t.Error("tool input missing")
			}
		})
	}
}

func TestCodexTranslator_TurnCompleted(t *testing.T) {
	tr := NewTranslator("codex")
	events := feed(t, tr,
		`{"type":"thread.started","thread_id":"th-1"}`,
		`{"type":"item.completed","item":{"type":"agent_message","text":"the answer"}}`,
		`{"type":"item.completed","item":{"type":"reasoning","text":"ignored"}}`,
		`{"type":"turn.completed"}`,
	)

	if events[0].Type != EventStarted || events[0].SessionID != "th-1" {
		t.Errorf("started: %+v", events[0])
	}
	final := events[len(events)-1]
	if final.Type != EventCompleted || final.Answer != "the answer" || final.SessionID != "th-1" {
		t.Errorf("completed: %+v", final)
	}
}

func TestPiTranslator_DeltaAndAgentEnd(t *testing.T) {
	tr := NewTranslator("pi")
	events := feed(t, tr,
		`{"type":"session","sessionId":"p-1"}`,
		`{"type":"message_update","assistantMessageEvent":{"type":"text_delta","delta":"foo"}}`,
		`{"type":"message_update","assistantMessageEvent":{"type":"text_delta","delta":"bar"}}`,
		`{"type":"agent_end"}`,
	)
	final := events[len(events)-1]
	if final.Type != EventCompleted || final.Answer != "foobar" || final.SessionID != "p-1" {
		t.Fatalf("completed: %+v", final)
	}
}

func TestPiTranslator_AgentEndExtractsFromMessages(t *testing.T) {
	tr := NewTranslator("pi")
	events := feed(t, tr,
		`{"type":"session","sessionId":"p-2"}`,
		`{"type":"agent_end","messages":[{"role":"user","content":[{"type":"text","text":"hi"}]},{"role":"assistant","content":[{"type":"text","text":"from payload"}]}]}`,
	)
	final := events[len(events)-1]
	if final.Answer != "from payload" {
		t.Fatalf("completed: %+v", final)
	}
}

type captureExecutor struct {
	name  string
	input json.RawMessage
}

func (c *captureExecutor) Execute(name string, input json.RawMessage) (string, error) {
	c.name = name
	c.input = input
	return "42 files", nil
}

func TestPiTranslator_InLoopToolFeedback(t *testing.T) {
	var stdin bytes.Buffer
	exec := &captureExecutor{}
	tr := &piTranslator{}
	tr.SetStdin(&stdin)
	tr.SetToolExecutor(exec)

	events := tr.Translate([]byte(`{"type":"tool_execution_start","toolId":"t-7","toolName":"list_files","input":{"dir":"."}}`))
	if len(events) != 1 || events[0].Type != EventToolStart {
		t.Fatalf("events: %+v", events)
	}
	if exec.name != "list_files" {
		t.Errorf("executor called with %q", exec.name)
	}

	var end struct {
		Type   string `json:"type"`
		ToolID string `json:"toolId"`
		Result string `json:"result"`
	}
	if err := json.Unmarshal(bytes.TrimSpace(stdin.Bytes()), &end); err != nil {
		t.Fatalf("stdin line not json: %v (%q)", err, stdin.String())
	}
	if end.Type != "tool_execution_end" || end.ToolID != "t-7" || end.Result != "42 files" {
		t.Errorf("stdin feedback: %+v", end)
	}
}

func TestTranslators_DropGarbage(t *testing.T) {
	for _, name := range []string{"claude", "droid", "codex", "pi"} {
		t.Run(name, func(t *testing.T) {
			tr := NewTranslator(name)
			if events := tr.Translate([]byte("not json at all")); len(events) != 0 {
				t.Errorf("garbage produced events: %+v", events)
			}
			if events := tr.Translate([]byte(`{"type":"totally_unknown"}`)); len(events) != 0 {
				t.Errorf("unknown type produced events: %+v", events)
			}
		})
	}
}

func TestBuildArgv(t *testing.T) {
	reg, err := LoadRegistry("")
	if err != nil {
		t.Fatal(err)
	}

	t.Run("claude resume and model", func(t *testing.T) {
		m := reg.Get("claude")
		argv := m.BuildArgv("say hi", "sess-1", "opus", "")
		joined := strings.Join(argv, " ")
		if !strings.Contains(joined, "--resume sess-1") {
			t.Errorf("missing resume: %v", argv)
		}
		if !strings.Contains(joined, "--model claude-opus-4-5") {
			t.Errorf("alias not resolved: %v", argv)
		}
		if argv[len(argv)-1] != "say hi" {
			t.Errorf("prompt must be last arg: %v", argv)
		}
	})

	t.Run("pi keeps prompt off argv", func(t *testing.T) {
		m := reg.Get("pi")
		if !m.KeepStdinOpen {
			t.Fatal("pi must keep stdin open")
		}
		argv := m.BuildArgv("say hi", "", "", "")
		for _, a := range argv {
			if a == "say hi" {
				t.Errorf("jsonl-mode adapter must not receive prompt as arg: %v", argv)
			}
		}
	})

	t.Run("no resume flag without token", func(t *testing.T) {
		m := reg.Get("droid")
		argv := m.BuildArgv("x", "", "", "/tmp/w")
		if strings.Contains(strings.Join(argv, " "), "--session-id") {
			t.Errorf("unexpected resume flag: %v", argv)
		}
	})
}

func TestLoadRegistry_FileOverride(t *testing.T) {
	dir := t.TempDir()
	manifest := `name: droid
command: /opt/droid/bin/droid
args: ["exec", "--output-format", "stream-json"]
inputMode: arg
resume:
  flag: "--resume-session"
  sessionArg: true
`
	if err := os.WriteFile(filepath.Join(dir, "droid.yaml"), []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}
	reg, err := LoadRegistry(dir)
	if err != nil {
		t.Fatal(err)
	}
	m := reg.Get("droid")
	if m.Command != "/opt/droid/bin/droid" {
		t.Errorf("override not applied: %+v", m)
	}
	if m.Resume == nil || m.Resume.Flag != "--resume-session" {
		t.Errorf("resume spec: %+v", m.Resume)
	}
	// builtin adapters survive alongside overrides
	if reg.Get("claude") == nil || reg.Get("pi") == nil {
		t.Error("builtin manifests lost")
	}
}

func TestResolveModelAlias_PassThrough(t *testing.T) {
	if got := ResolveModelAlias("sonnet"); got != "claude-sonnet-4-5" {
		t.Errorf("sonnet → %q", got)
	}
	if got := ResolveModelAlias("my-custom-model"); got != "my-custom-model" {
		t.Errorf("unknown alias must pass through, got %q", got)
	}
}
