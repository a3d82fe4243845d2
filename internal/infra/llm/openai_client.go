package llm

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/desduvauchelle/tamias-sub001/internal/domain/ports"
	"github.com/desduvauchelle/tamias-sub001/internal/domain/session"
	jsonx "github.com/desduvauchelle/tamias-sub001/internal/shared/json"
	"github.com/desduvauchelle/tamias-sub001/internal/shared/logging"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// openaiClient speaks the OpenAI chat-completions streaming protocol, which
// most hosted and local providers also accept.
type openaiClient struct {
	baseClient
}

// NewOpenAIClient builds a client for any OpenAI-compatible endpoint.
func NewOpenAIClient(model string, cfg Config, logger logging.Logger) ports.ChatClient {
	return &openaiClient{baseClient: newBaseClient(model, cfg, defaultOpenAIBaseURL, logger)}
}

func (c *openaiClient) Stream(ctx context.Context, req ports.ChatRequest) (ports.ChatStream, error) {
	payload := map[string]any{
		"model":          c.model,
		"messages":       convertOpenAIMessages(req.SystemPrompt, req.Messages),
		"stream":         true,
		"stream_options": map[string]any{"include_usage": true},
	}
	if tools := convertOpenAITools(req.Tools); len(tools) > 0 {
		payload["tools"] = tools
		payload["tool_choice"] = "auto"
	}
	body, err := jsonx.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	headers := map[string]string{}
	if c.apiKey != "" {
		headers["Authorization"] = "Bearer " + c.apiKey
	}
	resp, err := c.doPost(ctx, c.baseURL+"/chat/completions", body, headers)
	if err != nil {
		return nil, wrapRequestError(err)
	}
	if err := checkResponse(resp); err != nil {
		c.logger.Debug("stream rejected: %v", err)
		return nil, err
	}
	return newOpenAIStream(resp, c.logger), nil
}

func convertOpenAIMessages(systemPrompt string, msgs []session.Message) []map[string]any {
	result := make([]map[string]any, 0, len(msgs)+1)
	if strings.TrimSpace(systemPrompt) != "" {
		result = append(result, map[string]any{"role": "system", "content": systemPrompt})
	}
	for _, msg := range msgs {
		entry := map[string]any{
			"role":    string(msg.Role),
			"content": openAIContent(msg.Content),
		}
		if msg.Name != "" && msg.Role == session.RoleUser {
			entry["name"] = sanitizeName(msg.Name)
		}
		if msg.ToolCallID != "" {
			entry["tool_call_id"] = msg.ToolCallID
		}
		if len(msg.ToolCalls) > 0 {
			calls := make([]map[string]any, 0, len(msg.ToolCalls))
			for _, call := range msg.ToolCalls {
				calls = append(calls, map[string]any{
					"id":   call.ID,
					"type": "function",
					"function": map[string]any{
						"name":      call.Name,
						"arguments": encodeToolArguments(call.Arguments),
					},
				})
			}
			entry["tool_calls"] = calls
		}
		result = append(result, entry)
	}
	return result
}

func openAIContent(content session.Content) any {
	if !content.IsMultimodal() {
		return content.Text
	}
	parts := make([]map[string]any, 0, len(content.Parts))
	for _, part := range content.Parts {
		switch part.Kind {
		case session.PartText:
			parts = append(parts, map[string]any{"type": "text", "text": part.Text})
		case session.PartImage:
			parts = append(parts, map[string]any{
				"type":      "image_url",
				"image_url": map[string]any{"url": dataURI(part.MimeType, part.Image)},
			})
		}
	}
	return parts
}

// sanitizeName keeps names within the character set providers accept for
// the optional participant name.
func sanitizeName(name string) string {
	var sb strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			sb.WriteRune(r)
		default:
			sb.WriteRune('_')
		}
	}
	out := sb.String()
	if len(out) > 64 {
		out = out[:64]
	}
	return out
}

type openAIToolCallDelta struct {
	Index    int    `json:"index"`
	ID       string `json:"id"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type openAIStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content   string                `json:"content"`
			ToolCalls []openAIToolCallDelta `json:"tool_calls"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type toolAccumulator struct {
	id        string
	name      string
	arguments strings.Builder
}

// openAIStream turns SSE lines into deltas. Tool calls are accumulated by
// index and surface, with usage, on the final delta.
type openAIStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	logger  logging.Logger

	tools     map[int]*toolAccumulator
	toolOrder []int
	usage     *ports.Usage
	finished  bool
}

func newOpenAIStream(resp *http.Response, logger logging.Logger) *openAIStream {
	return &openAIStream{
		body:    resp.Body,
		scanner: newStreamScanner(resp.Body),
		logger:  logger,
		tools:   make(map[int]*toolAccumulator),
	}
}

func (s *openAIStream) Recv() (ports.StreamDelta, error) {
	if s.finished {
		return ports.StreamDelta{}, io.EOF
	}
	for s.scanner.Scan() {
		payload, ok := sseData(s.scanner.Text())
		if !ok {
			continue
		}
		if payload == "[DONE]" {
			return s.finish(), nil
		}
		var chunk openAIStreamChunk
		if err := jsonx.Unmarshal([]byte(payload), &chunk); err != nil {
			s.logger.Debug("skip undecodable stream chunk: %v", err)
			continue
		}
		if chunk.Error != nil && chunk.Error.Message != "" {
			return ports.StreamDelta{}, fmt.Errorf("provider stream error: %s", chunk.Error.Message)
		}
		if chunk.Usage != nil {
			s.usage = &ports.Usage{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
			}
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta
		for _, tc := range delta.ToolCalls {
			acc, ok := s.tools[tc.Index]
			if !ok {
				acc = &toolAccumulator{}
				s.tools[tc.Index] = acc
				s.toolOrder = append(s.toolOrder, tc.Index)
			}
			if tc.ID != "" {
				acc.id = tc.ID
			}
			if tc.Function.Name != "" {
				acc.name = tc.Function.Name
			}
			acc.arguments.WriteString(tc.Function.Arguments)
		}
		if delta.Content != "" {
			return ports.StreamDelta{Text: delta.Content}, nil
		}
	}
	if err := s.scanner.Err(); err != nil {
		return ports.StreamDelta{}, wrapRequestError(fmt.Errorf("read response stream: %w", err))
	}
	return s.finish(), nil
}

func (s *openAIStream) finish() ports.StreamDelta {
	s.finished = true
	out := ports.StreamDelta{Usage: s.usage}
	for _, idx := range s.toolOrder {
		acc := s.tools[idx]
		out.ToolCalls = append(out.ToolCalls, session.ToolCall{
			ID:        acc.id,
			Name:      acc.name,
			Arguments: parseToolArguments(acc.arguments.String()),
		})
	}
	return out
}

func (s *openAIStream) Close() error {
	return s.body.Close()
}
