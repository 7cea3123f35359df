package bus

import "context"

// InboundMessage represents a message received from a transport (Telegram, web).
type InboundMessage struct {
	ID        string            `json:"id"`
	ChatID    string            `json:"chat_id"`
	UserID    string            `json:"user_id,omitempty"`
	MessageID int               `json:"message_id,omitempty"`
	Timestamp int64             `json:"timestamp"` // unix ms
	Text      string            `json:"text,omitempty"`
	Media     []Attachment      `json:"media,omitempty"`
	Forward   *ForwardInfo      `json:"forward,omitempty"`
	Raw       map[string]string `json:"raw,omitempty"` // transport-specific extras (cron tagging, etc.)
}

// Attachment describes a downloaded media file accompanying a message.
type Attachment struct {
	Type      string `json:"type"` // "photo", "document", "audio", "voice"
	FileID    string `json:"file_id,omitempty"`
	LocalPath string `json:"local_path,omitempty"`
}

// ForwardInfo carries origin metadata for forwarded messages.
type ForwardInfo struct {
	FromUser string `json:"from_user,omitempty"`
	FromChat string `json:"from_chat,omitempty"`
}

// IsCron reports whether this message was injected by the cron service.
func (m InboundMessage) IsCron() bool {
	return m.Raw["cron"] == "true"
}

// CronJobID returns the originating cron job ID, if any.
func (m InboundMessage) CronJobID() string {
	return m.Raw["cron_job_id"]
}

// Sink is the outbound side of a transport: the bridge sends text, files and
// typing indicators through it. Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, chatID, text string) error
	SendFile(ctx context.Context, chatID, path, caption string) error
	Typing(ctx context.Context, chatID string) error
}

// MessageHandler handles an inbound message from a specific transport.
type MessageHandler func(InboundMessage) error
