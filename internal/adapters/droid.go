package adapters

import (
	"encoding/json"
	"log/slog"
	"strings"
)

// droidTranslator handles Droid's stream-json schema. Droid sends cumulative
// full-text snapshots on every "message" event, so the translator tracks the
// buffer and emits only the delta. Tool events appear in two field spellings
// depending on the Droid version; both are tolerated.
type droidTranslator struct {
	lastText  string
	sessionID string
}

type droidLine struct {
	Type string `json:"type"`

	SessionID  string `json:"session_id"`
	SessionID2 string `json:"sessionId"`

	Role string `json:"role"`
	Text string `json:"text"`

	FinalText string `json:"finalText"`

	Tool     string `json:"tool"`
	ToolName string `json:"toolName"`
	ID       string `json:"id"`
	ToolID   string `json:"toolId"`

	Parameters json.RawMessage `json:"parameters"`
	Input      json.RawMessage `json:"input"`

	IsError bool   `json:"is_error"`
	Result  string `json:"result"`
}

func (l *droidLine) session() string {
	if l.SessionID != "" {
		return l.SessionID
	}
	return l.SessionID2
}

func (l *droidLine) toolName() string {
	if l.ToolName != "" {
		return l.ToolName
	}
	return l.Tool
}

func (l *droidLine) toolID() string {
	if l.ToolID != "" {
		return l.ToolID
	}
	return l.ID
}

func (l *droidLine) toolInput() json.RawMessage {
	if len(l.Input) > 0 {
		return l.Input
	}
	return l.Parameters
}

func (t *droidTranslator) LastText() string { return t.lastText }

func (t *droidTranslator) Translate(line []byte) []BridgeEvent {
	var raw droidLine
	if err := json.Unmarshal(line, &raw); err != nil {
		slog.Debug("droid: non-json line dropped", "error", err)
		return nil
	}

	switch raw.Type {
	case "session_start":
		t.sessionID = raw.session()
		return []BridgeEvent{{Type: EventStarted, SessionID: t.sessionID}}

	case "message":
		if raw.Role != "assistant" || raw.Text == "" {
			return nil
		}
		delta := snapshotDelta(&t.lastText, raw.Text)
		if delta == "" {
			return nil
		}
		return []BridgeEvent{{Type: EventText, Text: delta}}

	case "tool_start", "tool_call":
		return []BridgeEvent{{
			Type:      EventToolStart,
			ToolID:    raw.toolID(),
			ToolName:  raw.toolName(),
			ToolInput: raw.toolInput(),
		}}

	case "tool_end", "tool_result":
		return []BridgeEvent{{
			Type:    EventToolEnd,
			ToolID:  raw.toolID(),
			IsError: raw.IsError,
			Preview: raw.Result,
		}}

	case "completion":
		session := raw.session()
		if session == "" {
			session = t.sessionID
		}
		answer := raw.FinalText
		if answer == "" {
			answer = t.lastText
		}
		return []BridgeEvent{{Type: EventCompleted, SessionID: session, Answer: answer}}
	}

	slog.Debug("droid: unknown event type dropped", "type", raw.Type)
	return nil
}

// snapshotDelta reconciles a cumulative snapshot against the buffer and
// returns the new suffix. An unrelated snapshot (neither prefix direction
// holds) replaces the buffer and is returned whole.
func snapshotDelta(buf *string, snapshot string) string {
	switch {
	case snapshot == *buf:
		return ""
	case strings.HasPrefix(snapshot, *buf):
		delta := snapshot[len(*buf):]
		*buf = snapshot
		return delta
	case strings.HasPrefix(*buf, snapshot):
		// older snapshot, ignore
		return ""
	default:
		*buf = snapshot
		return snapshot
	}
}
