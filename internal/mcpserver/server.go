// Package mcpserver exposes sandbox runs as a Model Context Protocol tool.
//
// The server speaks MCP over stdio using the mark3labs/mcp-go library and
// offers a single tool, run_sandbox_verification, which performs one full
// provisioning run and reports its outcome as JSON text.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/michaelbrown/sandboxer/internal/pipeline"
	"github.com/michaelbrown/sandboxer/internal/runs"
)

// ToolName is the name of the tool that runs the sandbox pipeline.
const ToolName = "run_sandbox_verification"

// Executor performs and records one run.
type Executor interface {
	Execute(ctx context.Context, runID string, observers ...pipeline.Observer) (*runs.Outcome, error)
}

// MCPServer represents the MCP server
type MCPServer struct {
	exec      Executor
	logger    *zap.Logger
	mcpServer *server.MCPServer
}

// New creates a new MCPServer.
func New(exec Executor, logger *zap.Logger, version string) *MCPServer {
	s := &MCPServer{
		exec:      exec,
		logger:    logger,
		mcpServer: server.NewMCPServer("sandboxer", version),
	}
	s.registerRunTool()
	return s
}

func (s *MCPServer) registerRunTool() {
	tool := mcp.Tool{
		Name: ToolName,
		Description: "Provision a cloud sandbox, install the Claude agent, run the verification " +
			"script against the configured repository and stop the sandbox. Returns the run outcome as JSON.",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]any{},
		},
	}

	s.mcpServer.AddTool(tool, s.handleRun)
}

func (s *MCPServer) handleRun(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID := uuid.New().String()
	s.logger.Info("sandbox run requested over MCP", zap.String("run_id", runID))

	out, runErr := s.exec.Execute(ctx, runID)
	if out == nil {
		out = &runs.Outcome{RunID: runID}
		if runErr != nil {
			out.Error, out.Details = pipeline.ClientError(runErr)
		}
	}

	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encoding outcome: %w", err)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: string(data),
			},
		},
		IsError: !out.Success,
	}, nil
}

// ServeStdio starts the server on stdio
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server on stdio")
	return server.ServeStdio(s.mcpServer)
}
