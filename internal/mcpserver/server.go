// Package mcpserver exposes the gateway to external MCP clients over stdio:
// a connected agent can push a message into the chat or delegate work to a
// background subagent.
package mcpserver

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/nextlevelbuilder/clawbridge/internal/bridge"
)

// Controller is the slice of the bridge the MCP tools need.
type Controller interface {
	PrimaryChat() string
	SendMessage(chatID, text string)
	SpawnSubagent(chatID string, args bridge.SpawnArgs, model string)
}

// Server wraps a stdio MCP server bound to the gateway controller.
type Server struct {
	ctrl Controller
	mcp  *server.MCPServer
}

// New builds the server and registers its tools.
func New(ctrl Controller, version string) *Server {
	s := &Server{ctrl: ctrl}
	s.mcp = server.NewMCPServer(
		"clawbridge",
		version,
		server.WithToolCapabilities(true),
	)
	s.registerTools()
	return s
}

// Serve runs the stdio transport until the context is cancelled or stdin
// closes.
func (s *Server) Serve(ctx context.Context) error {
	slog.Info("mcp server listening on stdio")
	stdio := server.NewStdioServer(s.mcp)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

func (s *Server) registerTools() {
	s.mcp.AddTool(
		mcp.NewTool("send_message",
			mcp.WithDescription("Send a text message to the gateway's chat. Defaults to the primary chat."),
			mcp.WithString("text",
				mcp.Required(),
				mcp.Description("The message text to deliver"),
			),
			mcp.WithString("chat_id",
				mcp.Description("Target chat ID (optional, defaults to the primary chat)"),
			),
		),
		s.sendMessageHandler,
	)

	s.mcp.AddTool(
		mcp.NewTool("spawn_subagent",
			mcp.WithDescription("Delegate a task to a background subagent. The result is announced in the chat and injected into the parent session's next prompt."),
			mcp.WithString("task",
				mcp.Required(),
				mcp.Description("The task for the subagent"),
			),
			mcp.WithString("label",
				mcp.Description("Short label used in announcements (optional)"),
			),
			mcp.WithString("cli",
				mcp.Description("CLI to run the subagent on (optional, defaults to the chat's active CLI)"),
			),
		),
		s.spawnSubagentHandler,
	)
}

func (s *Server) sendMessageHandler(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	chatID := req.GetString("chat_id", "")
	if chatID == "" && s.ctrl.PrimaryChat() == "" {
		return mcp.NewToolResultError("no chat has talked to the gateway yet"), nil
	}
	s.ctrl.SendMessage(chatID, text)
	return mcp.NewToolResultText("delivered"), nil
}

func (s *Server) spawnSubagentHandler(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	task, err := req.RequireString("task")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	chatID := s.ctrl.PrimaryChat()
	if chatID == "" {
		return mcp.NewToolResultError("no chat has talked to the gateway yet"), nil
	}
	args := bridge.SpawnArgs{
		Task:  task,
		Label: req.GetString("label", ""),
		CLI:   req.GetString("cli", ""),
	}
	s.ctrl.SpawnSubagent(chatID, args, "")
	return mcp.NewToolResultText(fmt.Sprintf("subagent spawned for: %s", task)), nil
}
