package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/nextlevelbuilder/clawbridge/internal/bus"
	"github.com/nextlevelbuilder/clawbridge/internal/markdown"
)

// Sink returns the outbound side of the channel.
func (c *Channel) Sink() bus.Sink { return (*sink)(c) }

// sink implements bus.Sink on the channel. Every send waits on the per-chat
// rate limiter first.
type sink Channel

// Send renders text as MarkdownV2 and falls back to plain text when Telegram
// rejects the formatting.
func (s *sink) Send(ctx context.Context, chatID, text string) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	if err := s.limiter.Wait(ctx, chatID); err != nil {
		return err
	}

	msg := tu.Message(tu.ID(id), markdown.ToTelegramMarkdown(text))
	msg.ParseMode = telego.ModeMarkdownV2
	if _, err := s.bot.SendMessage(ctx, msg); err != nil {
		slog.Debug("markdownv2 send rejected, retrying plain", "chat_id", chatID, "error", err)
		if _, plainErr := s.bot.SendMessage(ctx, tu.Message(tu.ID(id), text)); plainErr != nil {
			return fmt.Errorf("send telegram message: %w", plainErr)
		}
	}
	return nil
}

// SendFile uploads a local file as a document.
func (s *sink) SendFile(ctx context.Context, chatID, path, caption string) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	if err := s.limiter.Wait(ctx, chatID); err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open file for upload: %w", err)
	}
	defer f.Close()

	doc := tu.Document(tu.ID(id), tu.File(tu.NameReader(f, filepath.Base(path))))
	if caption != "" {
		doc.Caption = caption
	}
	if _, err := s.bot.SendDocument(ctx, doc); err != nil {
		return fmt.Errorf("send telegram document: %w", err)
	}
	return nil
}

// Typing emits the typing chat action. Not rate limited: Telegram treats
// chat actions separately from messages.
func (s *sink) Typing(ctx context.Context, chatID string) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	return s.bot.SendChatAction(ctx, tu.ChatAction(tu.ID(id), telego.ChatActionTyping))
}
