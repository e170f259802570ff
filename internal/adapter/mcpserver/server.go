// Package mcpserver exposes one session's financial tools over the Model
// Context Protocol.
package mcpserver

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"monetrix/internal/domain"
	"monetrix/internal/usecase"
)

// StreamNotification is the method of the notification carrying one UI
// stream delta.
const StreamNotification = "notifications/monetrix.stream"

// DefaultDedupWindow bounds duplicate suppression for the single long-lived
// session behind an MCP process when no cache TTL is configured. Without it a
// call made once would return null for the life of the process.
const DefaultDedupWindow = 2 * time.Minute

// DedupWindow returns configured, or DefaultDedupWindow when it is unset.
func DedupWindow(configured time.Duration) time.Duration {
	if configured > 0 {
		return configured
	}
	return DefaultDedupWindow
}

// Server binds a single session to an MCP server.
type Server struct {
	mcp     *server.MCPServer
	session *usecase.Session
	logger  *slog.Logger
	notify  func(method string, params map[string]any)
}

// New registers every tool of the session and attaches its stream.
func New(session *usecase.Session, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		mcp: server.NewMCPServer("monetrix", version,
			server.WithToolCapabilities(false),
			server.WithRecovery(),
		),
		session: session,
		logger:  logger,
	}
	s.notify = s.mcp.SendNotificationToAllClients

	for _, schema := range session.Tools.Schemas() {
		tool := mcp.NewToolWithRawSchema(schema.Name, schema.Description, schema.Parameters)
		s.mcp.AddTool(tool, s.handleTool(schema.Name))
	}
	session.Stream.Attach(domain.StreamSinkFunc(s.forward))
	return s
}

// MCP returns the underlying protocol server.
func (s *Server) MCP() *server.MCPServer { return s.mcp }

// Serve speaks MCP over in and out until ctx is done or in closes.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(log.New(io.Discard, "", 0))
	s.logger.Info("mcp server listening on stdio", "session", s.session.ID, "tools", len(s.session.Tools.Schemas()))
	return stdio.Listen(ctx, in, out)
}

// Close detaches the stream from the session.
func (s *Server) Close() {
	s.session.Stream.Detach()
}

func (s *Server) handleTool(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := json.RawMessage(`{}`)
		if raw := request.GetRawArguments(); raw != nil {
			data, err := json.Marshal(raw)
			if err != nil {
				return mcp.NewToolResultError("invalid arguments: " + err.Error()), nil
			}
			args = data
		}

		result := s.session.Execute(ctx, domain.ToolCall{Name: name, Arguments: args})
		if result.IsError() {
			s.logger.Debug("mcp tool call failed", "tool", name, "category", result.Error.Category)
			return mcp.NewToolResultError(result.Content()), nil
		}
		return mcp.NewToolResultText(result.Content()), nil
	}
}

func (s *Server) forward(_ context.Context, delta domain.StreamDelta) error {
	s.notify(StreamNotification, map[string]any{
		"session_id": s.session.ID,
		"delta":      delta,
	})
	return nil
}
