package bus

import (
	"context"
	"log/slog"
)

const inboundBuffer = 256

// MessageBus routes inbound messages from transports to the bridge consumer.
// Outbound delivery goes directly through a Sink — transports register one
// with the channel manager, so no outbound queue is needed here.
type MessageBus struct {
	inbound chan InboundMessage
}

// New creates a message bus with a bounded inbound queue.
func New() *MessageBus {
	return &MessageBus{
		inbound: make(chan InboundMessage, inboundBuffer),
	}
}

// PublishInbound enqueues a message from a transport. Drops with a log entry
// when the queue is full rather than blocking the transport's poll loop.
func (b *MessageBus) PublishInbound(msg InboundMessage) {
	select {
	case b.inbound <- msg:
	default:
		slog.Warn("inbound bus full, dropping message", "chat_id", msg.ChatID, "id", msg.ID)
	}
}

// ConsumeInbound blocks until a message is available or the context is done.
// The second return is false when the consumer should stop.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case <-ctx.Done():
		return InboundMessage{}, false
	case msg := <-b.inbound:
		return msg, true
	}
}
