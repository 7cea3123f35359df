// Package web exposes the gateway over a local WebSocket endpoint: each
// connection is its own chat, with JSON frames in both directions.
package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/nextlevelbuilder/clawbridge/internal/bus"
	"github.com/nextlevelbuilder/clawbridge/internal/channels"
)

// chatPrefix marks chat IDs owned by this channel.
const chatPrefix = "web:"

// inboundFrame is what a client sends.
type inboundFrame struct {
	Type string `json:"type"` // "message"
	Text string `json:"text"`
}

// outboundFrame is what the gateway pushes to a client.
type outboundFrame struct {
	Type    string `json:"type"` // "message", "file", "typing"
	Text    string `json:"text,omitempty"`
	Path    string `json:"path,omitempty"`
	Caption string `json:"caption,omitempty"`
}

// Channel is the WebSocket transport.
type Channel struct {
	*channels.BaseChannel
	listen string
	addr   string
	server *http.Server

	mu     sync.Mutex
	conns  map[string]*conn
	nextID int
}

type conn struct {
	ws *websocket.Conn
	mu sync.Mutex // serializes writes
}

// New creates a web channel listening on addr.
func New(addr string, msgBus *bus.MessageBus) *Channel {
	return &Channel{
		BaseChannel: channels.NewBaseChannel("web", msgBus, nil),
		listen:      addr,
		conns:       make(map[string]*conn),
	}
}

// Start binds the listener and serves connections in the background.
func (c *Channel) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		c.handleConn(ctx, w, r)
	})

	ln, err := net.Listen("tcp", c.listen)
	if err != nil {
		return fmt.Errorf("web channel listen on %s: %w", c.listen, err)
	}
	c.server = &http.Server{Handler: mux}
	c.addr = ln.Addr().String()
	c.SetRunning(true)
	slog.Info("web channel listening", "addr", c.addr)

	go func() {
		if err := c.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("web channel server error", "error", err)
		}
	}()
	return nil
}

// Stop shuts the server down and closes live connections.
func (c *Channel) Stop(ctx context.Context) error {
	c.SetRunning(false)
	if c.server != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := c.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("web channel shutdown: %w", err)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, cn := range c.conns {
		cn.ws.Close(websocket.StatusGoingAway, "gateway stopping")
		delete(c.conns, id)
	}
	return nil
}

// handleConn owns one client connection: register, read loop, unregister.
func (c *Channel) handleConn(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("web channel accept failed", "error", err)
		return
	}
	ws.SetReadLimit(1 << 20)

	c.mu.Lock()
	c.nextID++
	chatID := fmt.Sprintf("%s%d", chatPrefix, c.nextID)
	cn := &conn{ws: ws}
	c.conns[chatID] = cn
	c.mu.Unlock()

	slog.Info("web client connected", "chat_id", chatID)
	defer func() {
		c.mu.Lock()
		delete(c.conns, chatID)
		c.mu.Unlock()
		ws.Close(websocket.StatusNormalClosure, "")
		slog.Info("web client disconnected", "chat_id", chatID)
	}()

	for {
		var frame inboundFrame
		if err := wsjson.Read(ctx, ws, &frame); err != nil {
			return
		}
		if frame.Type != "message" || frame.Text == "" {
			continue
		}
		c.Bus().PublishInbound(bus.InboundMessage{
			ID:        fmt.Sprintf("%s-%d", chatID, time.Now().UnixMilli()),
			ChatID:    chatID,
			Timestamp: time.Now().UnixMilli(),
			Text:      frame.Text,
		})
	}
}

// Addr returns the bound listen address, valid after Start.
func (c *Channel) Addr() string { return c.addr }

// Sink returns the outbound side of the channel.
func (c *Channel) Sink() bus.Sink { return webSink{c} }

type webSink struct {
	ch *Channel
}

func (s webSink) write(ctx context.Context, chatID string, frame outboundFrame) error {
	s.ch.mu.Lock()
	cn, ok := s.ch.conns[chatID]
	s.ch.mu.Unlock()
	if !ok {
		return fmt.Errorf("no web client for chat %s", chatID)
	}
	cn.mu.Lock()
	defer cn.mu.Unlock()
	return wsjson.Write(ctx, cn.ws, frame)
}

func (s webSink) Send(ctx context.Context, chatID, text string) error {
	return s.write(ctx, chatID, outboundFrame{Type: "message", Text: text})
}

func (s webSink) SendFile(ctx context.Context, chatID, path, caption string) error {
	return s.write(ctx, chatID, outboundFrame{Type: "file", Path: path, Caption: caption})
}

func (s webSink) Typing(ctx context.Context, chatID string) error {
	return s.write(ctx, chatID, outboundFrame{Type: "typing"})
}
