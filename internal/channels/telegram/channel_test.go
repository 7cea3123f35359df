package telegram

import (
	"testing"

	"github.com/mymmrac/telego"
)

func TestParseChatID(t *testing.T) {
	if id, err := parseChatID("-100123456"); err != nil || id != -100123456 {
		t.Errorf("id=%d err=%v", id, err)
	}
	if _, err := parseChatID("web:abc"); err == nil {
		t.Error("non-numeric chat id accepted")
	}
}

func TestForwardInfo(t *testing.T) {
	t.Run("user origin prefers username", func(t *testing.T) {
		msg := &telego.Message{ForwardOrigin: &telego.MessageOriginUser{
			SenderUser: telego.User{Username: "alice", FirstName: "Alice"},
		}}
		fwd := forwardInfo(msg)
		if fwd == nil || fwd.FromUser != "alice" {
			t.Errorf("fwd = %+v", fwd)
		}
	})

	t.Run("user origin falls back to first name", func(t *testing.T) {
		msg := &telego.Message{ForwardOrigin: &telego.MessageOriginUser{
			SenderUser: telego.User{FirstName: "Bob"},
		}}
		if fwd := forwardInfo(msg); fwd == nil || fwd.FromUser != "Bob" {
			t.Errorf("fwd = %+v", fwd)
		}
	})

	t.Run("hidden user", func(t *testing.T) {
		msg := &telego.Message{ForwardOrigin: &telego.MessageOriginHiddenUser{SenderUserName: "ghost"}}
		if fwd := forwardInfo(msg); fwd == nil || fwd.FromUser != "ghost" {
			t.Errorf("fwd = %+v", fwd)
		}
	})

	t.Run("channel origin", func(t *testing.T) {
		msg := &telego.Message{ForwardOrigin: &telego.MessageOriginChannel{
			Chat: telego.Chat{Title: "news"},
		}}
		if fwd := forwardInfo(msg); fwd == nil || fwd.FromChat != "news" {
			t.Errorf("fwd = %+v", fwd)
		}
	})

	t.Run("no forward", func(t *testing.T) {
		if fwd := forwardInfo(&telego.Message{}); fwd != nil {
			t.Errorf("fwd = %+v", fwd)
		}
	})
}
