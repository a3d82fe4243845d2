package llm

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/desduvauchelle/tamias-sub001/internal/domain/ports"
	"github.com/desduvauchelle/tamias-sub001/internal/domain/session"
	alexerrors "github.com/desduvauchelle/tamias-sub001/internal/shared/errors"
	jsonx "github.com/desduvauchelle/tamias-sub001/internal/shared/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, stream ports.ChatStream) (string, []session.ToolCall, *ports.Usage) {
	t.Helper()
	defer func() { _ = stream.Close() }()
	var text strings.Builder
	var calls []session.ToolCall
	var usage *ports.Usage
	for {
		delta, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return text.String(), calls, usage
		}
		require.NoError(t, err)
		text.WriteString(delta.Text)
		calls = append(calls, delta.ToolCalls...)
		if delta.Usage != nil {
			usage = delta.Usage
		}
	}
}

type captured struct {
	mu      sync.Mutex
	body    map[string]any
	headers http.Header
}

func (c *captured) get() (map[string]any, http.Header) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.body, c.headers
}

func sseServer(t *testing.T, capture *captured, lines ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if capture != nil {
			body, err := io.ReadAll(r.Body)
			assert.NoError(t, err)
			capture.mu.Lock()
			capture.headers = r.Header.Clone()
			assert.NoError(t, jsonx.Unmarshal(body, &capture.body))
			capture.mu.Unlock()
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, line := range lines {
			_, _ = io.WriteString(w, line+"\n\n")
		}
	}))
}

func TestOpenAIStreamTextToolCallsAndUsage(t *testing.T) {
	var req captured
	srv := sseServer(t, &req,
		`data: {"choices":[{"delta":{"content":"Hel"}}]}`,
		`: keep-alive`,
		`data: {"choices":[{"delta":{"content":"lo"}}]}`,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"lookup","arguments":"{\"q\":"}}]}}]}`,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"go\"}"}}]}}]}`,
		`data: {"choices":[],"usage":{"prompt_tokens":12,"completion_tokens":5}}`,
		`data: [DONE]`,
	)
	defer srv.Close()

	client := NewOpenAIClient("gpt-test", Config{APIKey: "sk-test", BaseURL: srv.URL}, nil)
	stream, err := client.Stream(context.Background(), ports.ChatRequest{
		Model:        "gpt-test",
		SystemPrompt: "be brief",
		Messages: []session.Message{
			{Role: session.RoleUser, Content: session.TextContent("hi"), Name: "Ada Lovelace"},
		},
		Tools: []ports.ToolDefinition{{Name: "lookup", Description: "search"}},
	})
	require.NoError(t, err)

	text, calls, usage := drain(t, stream)
	assert.Equal(t, "Hello", text)
	require.Len(t, calls, 1)
	assert.Equal(t, "call_1", calls[0].ID)
	assert.Equal(t, "lookup", calls[0].Name)
	assert.Equal(t, map[string]any{"q": "go"}, calls[0].Arguments)
	require.NotNil(t, usage)
	assert.Equal(t, 12, usage.PromptTokens)
	assert.Equal(t, 5, usage.CompletionTokens)

	body, headers := req.get()
	assert.Equal(t, "Bearer sk-test", headers.Get("Authorization"))
	assert.Equal(t, true, body["stream"])
	msgs := body["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	assert.Equal(t, "Ada_Lovelace", msgs[1].(map[string]any)["name"])
	assert.Len(t, body["tools"], 1)
}

func TestOpenAIMultimodalContent(t *testing.T) {
	content := session.BuildContent("what is this", []session.Attachment{
		{Kind: session.AttachmentImage, MimeType: "image/jpeg", Data: []byte{0xff, 0xd8}},
	})
	out := openAIContent(content)
	parts, ok := out.([]map[string]any)
	require.True(t, ok)
	require.Len(t, parts, 2)
	assert.Equal(t, "text", parts[0]["type"])
	assert.Equal(t, "image_url", parts[1]["type"])
	url := parts[1]["image_url"].(map[string]any)["url"].(string)
	assert.True(t, strings.HasPrefix(url, "data:image/jpeg;base64,"))
}

func TestOpenAIStatusClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		transient bool
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, transient: false},
		{name: "rate limited", status: http.StatusTooManyRequests, transient: true},
		{name: "unavailable", status: http.StatusServiceUnavailable, transient: true},
		{name: "bad request", status: http.StatusBadRequest, transient: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Retry-After", "3")
				http.Error(w, `{"error":"nope"}`, tt.status)
			}))
			defer srv.Close()

			client := NewOpenAIClient("m", Config{APIKey: "k", BaseURL: srv.URL}, nil)
			_, err := client.Stream(context.Background(), ports.ChatRequest{})
			require.Error(t, err)
			assert.Equal(t, tt.transient, alexerrors.IsTransient(err))
			assert.Equal(t, tt.status, alexerrors.StatusCode(err))
		})
	}
}

func TestOpenAIStreamErrorChunk(t *testing.T) {
	srv := sseServer(t, nil,
		`data: {"choices":[{"delta":{"content":"par"}}]}`,
		`data: {"error":{"message":"overloaded"}}`,
	)
	defer srv.Close()

	client := NewOpenAIClient("m", Config{BaseURL: srv.URL}, nil)
	stream, err := client.Stream(context.Background(), ports.ChatRequest{})
	require.NoError(t, err)
	defer func() { _ = stream.Close() }()

	delta, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, "par", delta.Text)
	_, err = stream.Recv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overloaded")
}

func TestParseToolArgumentsRepairsTruncatedJSON(t *testing.T) {
	assert.Equal(t, map[string]any{}, parseToolArguments(""))
	assert.Equal(t, map[string]any{"a": float64(1)}, parseToolArguments(`{"a":1}`))
	assert.Equal(t, map[string]any{"path": "x.txt"}, parseToolArguments(`{"path": "x.txt"`))
}
