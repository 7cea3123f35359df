package channels

import (
	"context"
	"testing"
	"time"

	"github.com/nextlevelbuilder/clawbridge/internal/bus"
)

func TestIsAllowed(t *testing.T) {
	tests := []struct {
		name      string
		allowList []string
		senderID  string
		want      bool
	}{
		{"empty allows all", nil, "123|alice", true},
		{"id match", []string{"123"}, "123|alice", true},
		{"username match", []string{"@alice"}, "123|alice", true},
		{"compound match", []string{"123|alice"}, "123|alice", true},
		{"no match", []string{"456", "@bob"}, "123|alice", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewBaseChannel("test", nil, tt.allowList)
			if got := c.IsAllowed(tt.senderID); got != tt.want {
				t.Errorf("IsAllowed(%q) = %v", tt.senderID, got)
			}
		})
	}
}

func TestChatLimiterIsPerChat(t *testing.T) {
	l := NewChatLimiter(1, 1)
	ctx := context.Background()

	// first send per chat consumes the burst without blocking
	start := time.Now()
	if err := l.Wait(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if err := l.Wait(ctx, "b"); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("independent chats blocked each other: %v", elapsed)
	}
}

type stubChannel struct {
	*BaseChannel
	sink stubSink
}

func (s *stubChannel) Start(context.Context) error { return nil }
func (s *stubChannel) Stop(context.Context) error  { return nil }
func (s *stubChannel) Sink() bus.Sink              { return &s.sink }

type stubSink struct {
	sent []string
}

func (s *stubSink) Send(_ context.Context, chatID, text string) error {
	s.sent = append(s.sent, chatID)
	return nil
}
func (s *stubSink) SendFile(context.Context, string, string, string) error { return nil }
func (s *stubSink) Typing(context.Context, string) error                   { return nil }

func TestRouterSinkDispatchesByPrefix(t *testing.T) {
	tg := &stubChannel{BaseChannel: NewBaseChannel("telegram", nil, nil)}
	web := &stubChannel{BaseChannel: NewBaseChannel("web", nil, nil)}

	m := NewManager()
	m.Register(tg)
	m.Register(web)
	sink := m.Sink()

	if err := sink.Send(context.Background(), "12345", "x"); err != nil {
		t.Fatal(err)
	}
	if err := sink.Send(context.Background(), "web:3", "x"); err != nil {
		t.Fatal(err)
	}
	if len(tg.sink.sent) != 1 || tg.sink.sent[0] != "12345" {
		t.Errorf("telegram sink: %v", tg.sink.sent)
	}
	if len(web.sink.sent) != 1 || web.sink.sent[0] != "web:3" {
		t.Errorf("web sink: %v", web.sink.sent)
	}
}

func TestRouterSinkNoChannel(t *testing.T) {
	m := NewManager()
	if err := m.Sink().Send(context.Background(), "12345", "x"); err == nil {
		t.Error("expected error with no channels registered")
	}
}
