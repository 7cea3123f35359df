package channels

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/nextlevelbuilder/clawbridge/internal/bus"
)

// Manager owns the registered channels and the outbound router.
type Manager struct {
	mu       sync.Mutex
	channels []Channel
}

// NewManager creates an empty channel manager.
func NewManager() *Manager {
	return &Manager{}
}

// Register adds a channel. Must be called before StartAll.
func (m *Manager) Register(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels = append(m.channels, ch)
}

// StartAll starts every registered channel, stopping the already-started
// ones when one fails.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	chans := append([]Channel(nil), m.channels...)
	m.mu.Unlock()

	var started []Channel
	for _, ch := range chans {
		if err := ch.Start(ctx); err != nil {
			for _, s := range started {
				_ = s.Stop(ctx)
			}
			return fmt.Errorf("start channel %s: %w", ch.Name(), err)
		}
		slog.Info("channel started", "channel", ch.Name())
		started = append(started, ch)
	}
	return nil
}

// StopAll stops every registered channel.
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.Lock()
	chans := append([]Channel(nil), m.channels...)
	m.mu.Unlock()

	for _, ch := range chans {
		if err := ch.Stop(ctx); err != nil {
			slog.Warn("channel stop failed", "channel", ch.Name(), "error", err)
		}
	}
}

// Sink returns a router that dispatches outbound calls to the owning
// channel: chat IDs prefixed "web:" go to the web channel, everything else
// to the telegram channel.
func (m *Manager) Sink() bus.Sink {
	return &routerSink{mgr: m}
}

type routerSink struct {
	mgr *Manager
}

func (r *routerSink) resolve(chatID string) (bus.Sink, error) {
	want := "telegram"
	if strings.HasPrefix(chatID, "web:") {
		want = "web"
	}
	r.mgr.mu.Lock()
	defer r.mgr.mu.Unlock()
	for _, ch := range r.mgr.channels {
		if ch.Name() == want {
			return ch.Sink(), nil
		}
	}
	return nil, fmt.Errorf("no channel registered for chat %s", chatID)
}

func (r *routerSink) Send(ctx context.Context, chatID, text string) error {
	sink, err := r.resolve(chatID)
	if err != nil {
		return err
	}
	return sink.Send(ctx, chatID, text)
}

func (r *routerSink) SendFile(ctx context.Context, chatID, path, caption string) error {
	sink, err := r.resolve(chatID)
	if err != nil {
		return err
	}
	return sink.SendFile(ctx, chatID, path, caption)
}

func (r *routerSink) Typing(ctx context.Context, chatID string) error {
	sink, err := r.resolve(chatID)
	if err != nil {
		return err
	}
	return sink.Typing(ctx, chatID)
}
