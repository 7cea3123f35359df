package adapters

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
)

// piTranslator handles Pi's turn/message event schema. Pi is the one adapter
// with an in-loop tool protocol: tool_execution_start may be satisfied by an
// in-process executor whose result is written back to the child's stdin as a
// tool_execution_end line.
type piTranslator struct {
	lastText  string
	sessionID string

	stdin    io.Writer
	executor ToolExecutor
}

// SetStdin wires the child's stdin for the tool feedback loop.
func (t *piTranslator) SetStdin(w io.Writer) { t.stdin = w }

// SetToolExecutor registers the in-process tool executor.
func (t *piTranslator) SetToolExecutor(e ToolExecutor) { t.executor = e }

type piLine struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	ID        string `json:"id"`

	AssistantMessageEvent *piAssistantEvent `json:"assistantMessageEvent"`

	ToolID   string          `json:"toolId"`
	ToolName string          `json:"toolName"`
	Input    json.RawMessage `json:"input"`
	IsError  bool            `json:"isError"`
	Result   string          `json:"result"`

	Messages []piMessage `json:"messages"`
	ErrorMsg string      `json:"error"`
}

type piAssistantEvent struct {
	Type  string `json:"type"`
	Delta string `json:"delta"`
}

type piMessage struct {
	Role    string      `json:"role"`
	Content []piContent `json:"content"`
}

type piContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func (l *piLine) session() string {
	if l.SessionID != "" {
		return l.SessionID
	}
	return l.ID
}

func (t *piTranslator) LastText() string { return t.lastText }

func (t *piTranslator) Translate(line []byte) []BridgeEvent {
	var raw piLine
	if err := json.Unmarshal(line, &raw); err != nil {
		slog.Debug("pi: non-json line dropped", "error", err)
		return nil
	}

	switch raw.Type {
	case "session":
		t.sessionID = raw.session()
		return []BridgeEvent{{Type: EventStarted, SessionID: t.sessionID}}

	case "message_update":
		ev := raw.AssistantMessageEvent
		if ev == nil || ev.Type != "text_delta" || ev.Delta == "" {
			return nil
		}
		t.lastText += ev.Delta
		return []BridgeEvent{{Type: EventText, Text: ev.Delta}}

	case "tool_execution_start":
		events := []BridgeEvent{{
			Type:      EventToolStart,
			ToolID:    raw.ToolID,
			ToolName:  raw.ToolName,
			ToolInput: raw.Input,
		}}
		if t.executor != nil && t.stdin != nil {
			t.runTool(raw.ToolID, raw.ToolName, raw.Input)
		}
		return events

	case "tool_execution_end":
		return []BridgeEvent{{
			Type:    EventToolEnd,
			ToolID:  raw.ToolID,
			IsError: raw.IsError,
			Preview: raw.Result,
		}}

	case "agent_end":
		answer := t.lastText
		if answer == "" {
			answer = lastAssistantText(raw.Messages)
		}
		return []BridgeEvent{{Type: EventCompleted, SessionID: t.sessionID, Answer: answer}}

	case "error":
		msg := raw.ErrorMsg
		if msg == "" {
			msg = "pi agent error"
		}
		return []BridgeEvent{{Type: EventError, Message: msg}}
	}

	slog.Debug("pi: unknown event type dropped", "type", raw.Type)
	return nil
}

// runTool executes an in-process tool and feeds the result back on stdin.
// Failures are reported to the child as error results, not swallowed.
func (t *piTranslator) runTool(toolID, name string, input json.RawMessage) {
	result, err := t.executor.Execute(name, input)
	end := map[string]any{
		"type":   "tool_execution_end",
		"toolId": toolID,
	}
	if err != nil {
		end["isError"] = true
		end["result"] = err.Error()
	} else {
		end["result"] = result
	}
	data, marshalErr := json.Marshal(end)
	if marshalErr != nil {
		slog.Warn("pi: marshal tool result failed", "tool", name, "error", marshalErr)
		return
	}
	if _, err := fmt.Fprintf(t.stdin, "%s\n", data); err != nil {
		slog.Warn("pi: write tool result to stdin failed", "tool", name, "error", err)
	}
}

func lastAssistantText(messages []piMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != "assistant" {
			continue
		}
		for j := len(messages[i].Content) - 1; j >= 0; j-- {
			if messages[i].Content[j].Type == "text" && messages[i].Content[j].Text != "" {
				return messages[i].Content[j].Text
			}
		}
	}
	return ""
}
