package adapters

import (
	"encoding/json"
	"log/slog"
)

// codexTranslator handles Codex thread events (codex exec --json). Agent
// messages arrive as completed items with full text, treated as snapshots.
type codexTranslator struct {
	lastText  string
	sessionID string
}

type codexLine struct {
	Type     string     `json:"type"`
	ThreadID string     `json:"thread_id"`
	Item     *codexItem `json:"item"`
	Error    *codexErr  `json:"error"`
}

type codexItem struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type codexErr struct {
	Message string `json:"message"`
}

func (t *codexTranslator) LastText() string { return t.lastText }

func (t *codexTranslator) Translate(line []byte) []BridgeEvent {
	var raw codexLine
	if err := json.Unmarshal(line, &raw); err != nil {
		slog.Debug("codex: non-json line dropped", "error", err)
		return nil
	}

	switch raw.Type {
	case "thread.started":
		t.sessionID = raw.ThreadID
		return []BridgeEvent{{Type: EventStarted, SessionID: raw.ThreadID}}

	case "item.completed":
		if raw.Item == nil || raw.Item.Type != "agent_message" || raw.Item.Text == "" {
			return nil
		}
		delta := snapshotDelta(&t.lastText, raw.Item.Text)
		if delta == "" {
			return nil
		}
		return []BridgeEvent{{Type: EventText, Text: delta}}

	case "turn.completed":
		return []BridgeEvent{{
			Type:      EventCompleted,
			SessionID: t.sessionID,
			Answer:    t.lastText,
		}}

	case "turn.failed", "error":
		msg := "codex turn failed"
		if raw.Error != nil && raw.Error.Message != "" {
			msg = raw.Error.Message
		}
		return []BridgeEvent{{Type: EventError, Message: msg}}
	}

	slog.Debug("codex: unknown event type dropped", "type", raw.Type)
	return nil
}
