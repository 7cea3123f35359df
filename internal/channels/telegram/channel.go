// Package telegram connects the gateway to the Telegram Bot API using long
// polling. Inbound messages are normalized onto the message bus; outbound
// delivery implements bus.Sink with MarkdownV2 rendering and per-chat rate
// limiting.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mymmrac/telego"

	"github.com/nextlevelbuilder/clawbridge/internal/bus"
	"github.com/nextlevelbuilder/clawbridge/internal/channels"
	"github.com/nextlevelbuilder/clawbridge/internal/config"
)

// Channel is the Telegram transport.
type Channel struct {
	*channels.BaseChannel
	bot        *telego.Bot
	config     config.TelegramConfig
	limiter    *channels.ChatLimiter
	workspace  string
	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

// New creates a Telegram channel from config. Downloads land under
// workspace/downloads.
func New(cfg config.TelegramConfig, msgBus *bus.MessageBus, workspace string) (*Channel, error) {
	var opts []telego.BotOption

	if cfg.Proxy != "" {
		proxyURL, parseErr := url.Parse(cfg.Proxy)
		if parseErr != nil {
			return nil, fmt.Errorf("invalid proxy URL %q: %w", cfg.Proxy, parseErr)
		}
		opts = append(opts, telego.WithHTTPClient(&http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyURL(proxyURL),
			},
		}))
	}

	bot, err := telego.NewBot(cfg.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	return &Channel{
		BaseChannel: channels.NewBaseChannel("telegram", msgBus, cfg.AllowFrom),
		bot:         bot,
		config:      cfg,
		limiter:     channels.NewChatLimiter(1, 3),
		workspace:   workspace,
	}, nil
}

// Start begins long polling for Telegram updates.
func (c *Channel) Start(ctx context.Context) error {
	slog.Info("starting telegram bot (polling mode)")

	pollCtx, cancel := context.WithCancel(ctx)
	c.pollCancel = cancel
	c.pollDone = make(chan struct{})

	updates, err := c.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	c.SetRunning(true)
	slog.Info("telegram bot connected", "username", c.bot.Username())

	go func() {
		defer close(c.pollDone)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					slog.Info("telegram updates channel closed")
					return
				}
				if update.Message != nil {
					c.handleMessage(pollCtx, update.Message)
				} else {
					slog.Debug("telegram update skipped (no message)", "update_id", update.UpdateID)
				}
			}
		}
	}()

	return nil
}

// Stop cancels the long polling context and waits for the polling goroutine
// so Telegram releases the getUpdates lock before a new instance starts.
func (c *Channel) Stop(_ context.Context) error {
	slog.Info("stopping telegram bot")
	c.SetRunning(false)

	if c.pollCancel != nil {
		c.pollCancel()
	}
	if c.pollDone != nil {
		select {
		case <-c.pollDone:
			slog.Info("telegram bot stopped")
		case <-time.After(10 * time.Second):
			slog.Warn("telegram polling goroutine did not exit within timeout")
		}
	}
	return nil
}

// handleMessage normalizes one Telegram message onto the bus.
func (c *Channel) handleMessage(ctx context.Context, msg *telego.Message) {
	if msg.From == nil {
		return
	}
	senderID := fmt.Sprintf("%d|%s", msg.From.ID, msg.From.Username)
	if !c.IsAllowed(senderID) {
		slog.Debug("telegram message rejected by allowlist", "sender", senderID)
		return
	}

	text := msg.Text
	if text == "" {
		text = msg.Caption
	}
	media := c.resolveMedia(ctx, msg)
	if text == "" && len(media) == 0 {
		return
	}

	inbound := bus.InboundMessage{
		ID:        fmt.Sprintf("tg-%d-%d", msg.Chat.ID, msg.MessageID),
		ChatID:    strconv.FormatInt(msg.Chat.ID, 10),
		UserID:    strconv.FormatInt(msg.From.ID, 10),
		MessageID: msg.MessageID,
		Timestamp: int64(msg.Date) * 1000,
		Text:      text,
		Media:     media,
		Forward:   forwardInfo(msg),
	}

	slog.Debug("telegram message received",
		"chat_id", inbound.ChatID,
		"sender", senderID,
		"preview", channels.Truncate(text, 50),
	)
	c.Bus().PublishInbound(inbound)
}

// forwardInfo extracts forwarded-message origin metadata.
func forwardInfo(msg *telego.Message) *bus.ForwardInfo {
	switch origin := msg.ForwardOrigin.(type) {
	case *telego.MessageOriginUser:
		who := origin.SenderUser.Username
		if who == "" {
			who = origin.SenderUser.FirstName
		}
		return &bus.ForwardInfo{FromUser: who}
	case *telego.MessageOriginHiddenUser:
		return &bus.ForwardInfo{FromUser: origin.SenderUserName}
	case *telego.MessageOriginChat:
		return &bus.ForwardInfo{FromChat: origin.SenderChat.Title}
	case *telego.MessageOriginChannel:
		return &bus.ForwardInfo{FromChat: origin.Chat.Title}
	}
	return nil
}

// parseChatID converts a string chat ID back to Telegram's int64 form.
func parseChatID(chatID string) (int64, error) {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid telegram chat id %q: %w", chatID, err)
	}
	return id, nil
}
