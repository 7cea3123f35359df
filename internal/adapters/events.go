// Package adapters describes the supported CLI agents: their invocation
// manifests, the model-alias table, and the per-adapter translators that
// normalize raw JSONL output into the shared BridgeEvent vocabulary.
package adapters

import "encoding/json"

// EventType enumerates the normalized bridge event kinds.
type EventType string

const (
	EventStarted   EventType = "started"
	EventText      EventType = "text"
	EventThinking  EventType = "thinking"
	EventToolStart EventType = "tool_start"
	EventToolEnd   EventType = "tool_end"
	EventCompleted EventType = "completed"
	EventError     EventType = "error"
)

// BridgeEvent is the adapter-agnostic event emitted by a running agent
// process. Only the fields relevant to the Type are populated.
type BridgeEvent struct {
	Type EventType

	// started / completed
	SessionID string
	Model     string

	// text / thinking — for snapshot adapters the translator has already
	// reduced cumulative text to the delta.
	Text string

	// tool_start / tool_end
	ToolID    string
	ToolName  string
	ToolInput json.RawMessage
	Preview   string

	// completed / tool_end / error
	IsError bool
	Answer  string
	CostUSD *float64
	Message string
}

// ToolExecutor runs an in-process tool on behalf of an adapter that expects
// tool results fed back over stdin (currently only Pi).
type ToolExecutor interface {
	Execute(name string, input json.RawMessage) (string, error)
}

// Translator converts one raw JSONL line from a child process into zero or
// more BridgeEvents. Translators are stateful within a single process run
// (snapshot delta tracking, pending tool bookkeeping) and must be created
// fresh for every spawn.
type Translator interface {
	Translate(line []byte) []BridgeEvent
	// LastText returns the accumulated assistant text, used as the answer
	// fallback when the adapter's terminal event carries none.
	LastText() string
}
