package adapters

import (
	"encoding/json"
	"log/slog"
	"strings"
)

// claudeTranslator handles the Claude Code stream-json schema: content-block
// assistant messages, tool results delivered as user messages, and a terminal
// "result" line carrying session ID and cost.
type claudeTranslator struct {
	lastText  string
	sessionID string
}

type claudeLine struct {
	Type         string         `json:"type"`
	Subtype      string         `json:"subtype"`
	SessionID    string         `json:"session_id"`
	Model        string         `json:"model"`
	Message      *claudeMessage `json:"message"`
	Result       string         `json:"result"`
	IsError      bool           `json:"is_error"`
	TotalCostUSD *float64       `json:"total_cost_usd"`
}

type claudeMessage struct {
	Model   string        `json:"model"`
	Content []claudeBlock `json:"content"`
}

type claudeBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text"`
	Thinking  string          `json:"thinking"`
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Input     json.RawMessage `json:"input"`
	ToolUseID string          `json:"tool_use_id"`
	IsError   bool            `json:"is_error"`
	Content   json.RawMessage `json:"content"`
}

func (t *claudeTranslator) LastText() string { return t.lastText }

func (t *claudeTranslator) Translate(line []byte) []BridgeEvent {
	var raw claudeLine
	if err := json.Unmarshal(line, &raw); err != nil {
		slog.Debug("claude: non-json line dropped", "error", err)
		return nil
	}

	switch raw.Type {
	case "system":
		if raw.Subtype != "init" {
			return nil
		}
		t.sessionID = raw.SessionID
		return []BridgeEvent{{Type: EventStarted, SessionID: raw.SessionID, Model: raw.Model}}

	case "assistant":
		if raw.Message == nil {
			return nil
		}
		var events []BridgeEvent
		for _, block := range raw.Message.Content {
			switch block.Type {
			case "text":
				if block.Text == "" {
					continue
				}
				t.lastText += block.Text
				events = append(events, BridgeEvent{Type: EventText, Text: block.Text})
			case "thinking":
				if block.Thinking != "" {
					events = append(events, BridgeEvent{Type: EventThinking, Text: block.Thinking})
				}
			case "tool_use":
				events = append(events, BridgeEvent{
					Type:      EventToolStart,
					ToolID:    block.ID,
					ToolName:  block.Name,
					ToolInput: block.Input,
				})
			}
		}
		return events

	case "user":
		if raw.Message == nil {
			return nil
		}
		var events []BridgeEvent
		for _, block := range raw.Message.Content {
			if block.Type != "tool_result" {
				continue
			}
			events = append(events, BridgeEvent{
				Type:    EventToolEnd,
				ToolID:  block.ToolUseID,
				IsError: block.IsError,
				Preview: toolResultPreview(block.Content),
			})
		}
		return events

	case "result":
		session := raw.SessionID
		if session == "" {
			session = t.sessionID
		}
		answer := raw.Result
		if answer == "" {
			answer = t.lastText
		}
		return []BridgeEvent{{
			Type:      EventCompleted,
			SessionID: session,
			Answer:    answer,
			IsError:   raw.IsError,
			CostUSD:   raw.TotalCostUSD,
		}}
	}

	slog.Debug("claude: unknown event type dropped", "type", raw.Type)
	return nil
}

// toolResultPreview extracts a short text preview from a tool_result content
// field, which may be a plain string or a content-block array.
func toolResultPreview(content json.RawMessage) string {
	if len(content) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(content, &s); err == nil {
		return s
	}
	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(content, &blocks); err == nil {
		var parts []string
		for _, b := range blocks {
			if b.Type == "text" && b.Text != "" {
				parts = append(parts, b.Text)
			}
		}
		return strings.Join(parts, "\n")
	}
	return ""
}
