package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/michaelbrown/sandboxer/internal/pipeline"
	"github.com/michaelbrown/sandboxer/internal/runs"
)

type mockExecutor struct {
	out   *runs.Outcome
	err   error
	runID string
}

func (m *mockExecutor) Execute(_ context.Context, runID string, _ ...pipeline.Observer) (*runs.Outcome, error) {
	m.runID = runID
	if m.out != nil {
		m.out.RunID = runID
	}
	return m.out, m.err
}

func callRun(t *testing.T, exec Executor) (*mcp.CallToolResult, runs.Outcome) {
	t.Helper()
	s := New(exec, zaptest.NewLogger(t), "test")
	res, err := s.handleRun(context.Background(), mcp.CallToolRequest{})
	require.NoError(t, err)
	require.Len(t, res.Content, 1)

	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	var out runs.Outcome
	require.NoError(t, json.Unmarshal([]byte(text.Text), &out))
	return res, out
}

func TestRunToolSuccess(t *testing.T) {
	exec := &mockExecutor{out: &runs.Outcome{Success: true, Message: pipeline.MessageSuccess, SandboxID: "sbx_1"}}

	res, out := callRun(t, exec)
	assert.False(t, res.IsError)
	assert.True(t, out.Success)
	assert.Equal(t, "sbx_1", out.SandboxID)
	assert.NotEmpty(t, exec.runID)
	assert.Equal(t, exec.runID, out.RunID)
}

func TestRunToolFailure(t *testing.T) {
	exec := &mockExecutor{
		out: &runs.Outcome{Error: pipeline.MessageVerifyFailed},
		err: &pipeline.StepError{Step: pipeline.StepVerify, Message: pipeline.MessageVerifyFailed, ExitCode: 1},
	}

	res, out := callRun(t, exec)
	assert.True(t, res.IsError)
	assert.Equal(t, pipeline.MessageVerifyFailed, out.Error)
}

func TestRunToolWithoutOutcome(t *testing.T) {
	res, out := callRun(t, &mockExecutor{err: errors.New("boom")})
	assert.True(t, res.IsError)
	assert.Equal(t, pipeline.MessageFailed, out.Error)
	assert.Equal(t, "boom", out.Details)
}

func TestRunToolOverProtocol(t *testing.T) {
	exec := &mockExecutor{out: &runs.Outcome{Success: true, Message: pipeline.MessageSuccess, SandboxID: "sbx_9"}}
	s := New(exec, zaptest.NewLogger(t), "test")

	c, err := client.NewInProcessClient(s.mcpServer)
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	require.NoError(t, c.Start(ctx))
	_, err = c.Initialize(ctx, mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			ClientInfo:      mcp.Implementation{Name: "sandboxer-test", Version: "0.0.0"},
		},
	})
	require.NoError(t, err)

	tools, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	require.NoError(t, err)
	require.Len(t, tools.Tools, 1)
	assert.Equal(t, ToolName, tools.Tools[0].Name)

	res, err := c.CallTool(ctx, mcp.CallToolRequest{Params: mcp.CallToolParams{Name: ToolName}})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	assert.Contains(t, text.Text, `"sandboxId":"sbx_9"`)
}
