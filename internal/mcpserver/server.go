// Package mcpserver exposes the turn pipeline as an MCP tool.
package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"searchchat-backend/internal/auth"
	"searchchat-backend/internal/models"
	"searchchat-backend/internal/services"
)

const (
	ServerName = "searchchat"
	ToolName   = "search_chat"
)

// Runner executes one turn. Tool calls never stream, so the sink is always nil.
type Runner interface {
	Run(ctx context.Context, req *models.TurnRequest, sink services.Sink) (*models.TurnResponse, error)
}

// NewServer builds an MCP server with the search_chat tool registered.
func NewServer(runner Runner, version string, logger *zap.Logger) *server.MCPServer {
	s := server.NewMCPServer(ServerName, version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	s.AddTool(searchChatTool(), searchChatHandler(runner, logger.Named("mcp")))
	return s
}

// NewHTTPHandler serves s over streamable HTTP. The authenticated subject of
// the HTTP request is carried into tool calls.
func NewHTTPHandler(s *server.MCPServer) http.Handler {
	return server.NewStreamableHTTPServer(s,
		server.WithStateLess(true),
		server.WithHTTPContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			if subject, ok := auth.GetSubjectFromContext(r.Context()); ok {
				return auth.WithSubject(ctx, subject)
			}
			return ctx
		}),
	)
}

func searchChatTool() mcp.Tool {
	return mcp.NewTool(ToolName,
		mcp.WithDescription("Answer a question from the document corpus. Pass the context and "+
			"history returned by the previous call to continue a conversation."),
		mcp.WithString("question", mcp.Required(), mcp.Description("The user's question")),
		mcp.WithBoolean("is_follow_up", mcp.Description("True when the question continues the previous turn")),
		mcp.WithObject("previous_context", mcp.Description("The context object returned by the previous call")),
		mcp.WithArray("message_history", mcp.Description("Prior messages as {role: user|model, content}")),
		mcp.WithNumber("top_k", mcp.Description("Number of passages to retrieve")),
	)
}

func searchChatHandler(runner Runner, logger *zap.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		req, err := decodeArguments(request.GetArguments())
		if err != nil {
			return mcp.NewToolResultError("invalid arguments: " + err.Error()), nil
		}

		resp, err := runner.Run(ctx, req, nil)
		var turnErr *services.TurnError
		switch {
		case err == nil:
		case errors.Is(err, services.ErrInvalidRequest):
			return mcp.NewToolResultError(err.Error()), nil
		case errors.As(err, &turnErr):
			logger.Warn("search_chat tool: degraded turn", zap.String("code", turnErr.Code))
		default:
			return nil, err
		}

		body, err := json.Marshal(resp)
		if err != nil {
			return nil, fmt.Errorf("encode turn response: %w", err)
		}
		result := mcp.NewToolResultText(string(body))
		result.IsError = !resp.Success
		return result, nil
	}
}

// decodeArguments maps tool arguments onto a TurnRequest using its JSON field names.
func decodeArguments(args map[string]any) (*models.TurnRequest, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	var req models.TurnRequest
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return nil, err
	}
	return &req, nil
}
