package llm

import (
	"context"
	"testing"

	"github.com/desduvauchelle/tamias-sub001/internal/domain/ports"
	"github.com/desduvauchelle/tamias-sub001/internal/domain/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnthropicStream(t *testing.T) {
	var req captured
	srv := sseServer(t, &req,
		"event: message_start\ndata: {\"type\":\"message_start\",\"message\":{\"usage\":{\"input_tokens\":9}}}",
		`data: {"type":"content_block_start","index":0,"content_block":{"type":"text"}}`,
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Sure"}}`,
		`data: {"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"tu_1","name":"send_file"}}`,
		`data: {"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"path\":"}}`,
		`data: {"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"\"a.txt\"}"}}`,
		`data: {"type":"message_delta","usage":{"output_tokens":4}}`,
		`data: {"type":"message_stop"}`,
	)
	defer srv.Close()

	client := NewAnthropicClient("claude-test", Config{APIKey: "ak", BaseURL: srv.URL}, nil)
	stream, err := client.Stream(context.Background(), ports.ChatRequest{
		SystemPrompt: "sys",
		Messages: []session.Message{
			{Role: session.RoleUser, Content: session.TextContent("first")},
			{Role: session.RoleAssistant, ToolCalls: []session.ToolCall{{ID: "tu_0", Name: "noop"}}},
			{Role: session.RoleTool, ToolCallID: "tu_0", Content: session.TextContent("ok")},
			{Role: session.RoleUser, Content: session.TextContent("second")},
		},
	})
	require.NoError(t, err)

	text, calls, usage := drain(t, stream)
	assert.Equal(t, "Sure", text)
	require.Len(t, calls, 1)
	assert.Equal(t, "send_file", calls[0].Name)
	assert.Equal(t, map[string]any{"path": "a.txt"}, calls[0].Arguments)
	require.NotNil(t, usage)
	assert.Equal(t, 9, usage.PromptTokens)
	assert.Equal(t, 4, usage.CompletionTokens)

	body, headers := req.get()
	assert.Equal(t, "ak", headers.Get("x-api-key"))
	assert.Equal(t, defaultAnthropicVersion, headers.Get("anthropic-version"))
	assert.Equal(t, "sys", body["system"])
	// tool result and the following user text merge into one user turn
	msgs := body["messages"].([]any)
	require.Len(t, msgs, 3)
	last := msgs[2].(map[string]any)
	assert.Equal(t, "user", last["role"])
	assert.Len(t, last["content"], 2)
}

func TestAnthropicStreamErrorEvent(t *testing.T) {
	srv := sseServer(t, nil, `data: {"type":"error","error":{"type":"overloaded_error","message":"busy"}}`)
	defer srv.Close()

	client := NewAnthropicClient("m", Config{APIKey: "k", BaseURL: srv.URL}, nil)
	stream, err := client.Stream(context.Background(), ports.ChatRequest{})
	require.NoError(t, err)
	_, err = stream.Recv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overloaded_error: busy")
}
