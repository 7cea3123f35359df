package memory

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/clawbridge/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "memory.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecallEmptyChat(t *testing.T) {
	s := openTestStore(t)
	if got := s.Recall("123"); got != "" {
		t.Errorf("recall on empty chat: %q", got)
	}
}

func TestSaveAndRecall(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.Execute("123", "save the deploy target is staging-2"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Execute("123", "save prefers tabs over spaces"); err != nil {
		t.Fatal(err)
	}

	got := s.Recall("123")
	if !strings.HasPrefix(got, "[Memory recall]\n") || !strings.HasSuffix(got, "[/Memory recall]") {
		t.Fatalf("envelope: %q", got)
	}
	if !strings.Contains(got, "- the deploy target is staging-2") {
		t.Errorf("note missing: %q", got)
	}

	// notes are per chat
	if other := s.Recall("456"); other != "" {
		t.Errorf("leaked across chats: %q", other)
	}
}

func TestSearchAndForget(t *testing.T) {
	s := openTestStore(t)
	mustExec(t, s, "123", "save the API key lives in vault path kv/gateway")
	mustExec(t, s, "123", "save standup is at 9am")

	out, err := s.Execute("123", "search vault")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "kv/gateway") || strings.Contains(out, "standup") {
		t.Errorf("search result: %q", out)
	}

	out, err = s.Execute("123", "forget standup")
	if err != nil {
		t.Fatal(err)
	}
	if out != "Forgot 1 note(s)." {
		t.Errorf("forget result: %q", out)
	}
	if strings.Contains(s.Recall("123"), "standup") {
		t.Error("forgotten note still recalled")
	}
}

func TestExecuteRejectsBadCalls(t *testing.T) {
	s := openTestStore(t)
	for _, call := range []string{"save", "search ", "forget", "remember x"} {
		if _, err := s.Execute("123", call); err == nil {
			t.Errorf("call %q accepted", call)
		}
	}
}

func TestDetectCall(t *testing.T) {
	s := openTestStore(t)
	tests := []struct {
		answer string
		call   string
		ok     bool
	}{
		{"/memory save user likes brief answers", "save user likes brief answers", true},
		{"  /memory search deploy  ", "search deploy", true},
		{"/memory save x\nand more text", "", false},
		{"I could /memory save this", "", false},
		{"/memory ", "", false},
		{"plain answer", "", false},
	}
	for _, tt := range tests {
		call, ok := s.DetectCall(tt.answer)
		if ok != tt.ok || call != tt.call {
			t.Errorf("DetectCall(%q) = %q, %v", tt.answer, call, ok)
		}
	}
}

func TestFlushSummary(t *testing.T) {
	s := openTestStore(t)
	s.now = func() time.Time { return time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC) }

	entries := []store.SessionLogEntry{
		{ChatID: "123", Role: "user", Text: "refactor the parser"},
		{ChatID: "123", Role: "assistant", Text: "done"},
		{ChatID: "123", Role: "user", Text: "now add tests"},
		{ChatID: "999", Role: "user", Text: "unrelated chat"},
	}
	if err := s.FlushSummary("123", entries); err != nil {
		t.Fatal(err)
	}

	got := s.Recall("123")
	if !strings.Contains(got, "Session on 2026-03-14 (2 user turn(s))") {
		t.Errorf("summary note: %q", got)
	}
	if !strings.Contains(got, "refactor the parser") {
		t.Errorf("first prompt missing: %q", got)
	}

	// nothing for this chat in the log: no note written
	if err := s.FlushSummary("777", entries); err != nil {
		t.Fatal(err)
	}
	if s.Recall("777") != "" {
		t.Error("summary written for chat with no turns")
	}
}

func mustExec(t *testing.T, s *Store, chatID, call string) {
	t.Helper()
	if _, err := s.Execute(chatID, call); err != nil {
		t.Fatal(err)
	}
}
