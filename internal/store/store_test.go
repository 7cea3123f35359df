package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestResumeStore_RoundTrip(t *testing.T) {
	ws := t.TempDir()

	s, err := OpenResumeStore(ws)
	if err != nil {
		t.Fatal(err)
	}
	s.SetToken("123", "claude", "sess-abc")
	s.SetActiveCLI("123", "claude")
	s.UpdateSettings("123", func(cs *ChatSettings) {
		cs.Streaming = true
		cs.Model = "opus"
	})

	// reopen from disk
	s2, err := OpenResumeStore(ws)
	if err != nil {
		t.Fatal(err)
	}
	tok, ok := s2.Token("123", "claude")
	if !ok || tok.SessionID != "sess-abc" || tok.Engine != "claude" {
		t.Errorf("token: %+v ok=%v", tok, ok)
	}
	if got := s2.ActiveCLI("123", "droid"); got != "claude" {
		t.Errorf("active cli = %q", got)
	}
	cs := s2.Settings("123")
	if !cs.Streaming || cs.Verbose || cs.Model != "opus" {
		t.Errorf("settings: %+v", cs)
	}
	if got := s2.ActiveCLI("999", "droid"); got != "droid" {
		t.Errorf("fallback cli = %q", got)
	}
}

func TestResumeStore_FileLayout(t *testing.T) {
	ws := t.TempDir()
	s, err := OpenResumeStore(ws)
	if err != nil {
		t.Fatal(err)
	}
	s.SetToken("42", "droid", "d-1")

	data, err := os.ReadFile(filepath.Join(ws, ".state", "resume-tokens.json"))
	if err != nil {
		t.Fatal(err)
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"version", "tokens", "activeCli", "chatSettings"} {
		if _, ok := doc[key]; !ok {
			t.Errorf("missing top-level key %q", key)
		}
	}
	var tokens map[string]ResumeToken
	if err := json.Unmarshal(doc["tokens"], &tokens); err != nil {
		t.Fatal(err)
	}
	if tok := tokens["42:droid"]; tok.SessionID != "d-1" {
		t.Errorf("tokens map: %+v", tokens)
	}
}

func TestResumeStore_ClearToken(t *testing.T) {
	s, err := OpenResumeStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	s.SetToken("1", "codex", "c-1")
	s.ClearToken("1", "codex")
	if _, ok := s.Token("1", "codex"); ok {
		t.Error("token survived clear")
	}
}

func TestSessionLog_AppendAndReadDay(t *testing.T) {
	ws := t.TempDir()
	l, err := NewSessionLog(ws)
	if err != nil {
		t.Fatal(err)
	}
	fixed := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)
	l.now = func() time.Time { return fixed }

	if err := l.Append(SessionLogEntry{ChatID: "7", Role: "user", Text: "hello"}); err != nil {
		t.Fatal(err)
	}
	if err := l.Append(SessionLogEntry{
		ChatID: "7", Role: "assistant", Text: "hi", CLI: "claude", SessionID: "s-1",
		Meta: &LogMeta{Subagent: &SubagentMeta{RunID: "r-1", Label: "worker", Status: "completed"}},
	}); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(ws, "sessions", "2026-03-14.jsonl")); err != nil {
		t.Fatalf("daily file missing: %v", err)
	}

	entries, err := l.ReadDay(fixed)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries", len(entries))
	}
	if entries[0].Role != "user" || entries[0].Timestamp == "" {
		t.Errorf("entry 0: %+v", entries[0])
	}
	if entries[1].Meta == nil || entries[1].Meta.Subagent.RunID != "r-1" {
		t.Errorf("entry 1 meta: %+v", entries[1].Meta)
	}

	// other days are empty, not errors
	if got, err := l.ReadDay(fixed.AddDate(0, 0, 1)); err != nil || len(got) != 0 {
		t.Errorf("next day: %v entries, err=%v", got, err)
	}
}
