package llm

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/desduvauchelle/tamias-sub001/internal/domain/ports"
	"github.com/desduvauchelle/tamias-sub001/internal/domain/session"
	jsonx "github.com/desduvauchelle/tamias-sub001/internal/shared/json"
	"github.com/desduvauchelle/tamias-sub001/internal/shared/logging"
)

const (
	defaultAnthropicBaseURL   = "https://api.anthropic.com/v1"
	defaultAnthropicVersion   = "2023-06-01"
	defaultAnthropicMaxTokens = 8192
	anthropicMessagesPath     = "/messages"
)

type anthropicClient struct {
	baseClient
}

// NewAnthropicClient builds a streaming Messages API client.
func NewAnthropicClient(model string, cfg Config, logger logging.Logger) ports.ChatClient {
	return &anthropicClient{baseClient: newBaseClient(model, cfg, defaultAnthropicBaseURL, logger)}
}

func (c *anthropicClient) Stream(ctx context.Context, req ports.ChatRequest) (ports.ChatStream, error) {
	messages, system := convertAnthropicMessages(req.SystemPrompt, req.Messages)
	payload := map[string]any{
		"model":      c.model,
		"max_tokens": defaultAnthropicMaxTokens,
		"messages":   messages,
		"stream":     true,
	}
	if system != "" {
		payload["system"] = system
	}
	if tools := convertAnthropicTools(req.Tools); len(tools) > 0 {
		payload["tools"] = tools
	}
	body, err := jsonx.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	headers := map[string]string{"anthropic-version": defaultAnthropicVersion}
	if c.apiKey != "" {
		headers["x-api-key"] = c.apiKey
	}
	resp, err := c.doPost(ctx, c.baseURL+anthropicMessagesPath, body, headers)
	if err != nil {
		return nil, wrapRequestError(err)
	}
	if err := checkResponse(resp); err != nil {
		c.logger.Debug("stream rejected: %v", err)
		return nil, err
	}
	return newAnthropicStream(resp, c.logger), nil
}

type anthropicMessage struct {
	Role    string                  `json:"role"`
	Content []anthropicContentBlock `json:"content"`
}

type anthropicContentBlock struct {
	Type      string                `json:"type"`
	Text      string                `json:"text,omitempty"`
	ID        string                `json:"id,omitempty"`
	Name      string                `json:"name,omitempty"`
	Input     map[string]any        `json:"input,omitempty"`
	ToolUseID string                `json:"tool_use_id,omitempty"`
	Content   any                   `json:"content,omitempty"`
	Source    *anthropicImageSource `json:"source,omitempty"`
}

type anthropicImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
}

// convertAnthropicMessages folds system messages into the system field and
// tool results into user turns; consecutive same-role turns are merged.
func convertAnthropicMessages(systemPrompt string, msgs []session.Message) ([]anthropicMessage, string) {
	var systemParts []string
	if strings.TrimSpace(systemPrompt) != "" {
		systemParts = append(systemParts, systemPrompt)
	}
	messages := make([]anthropicMessage, 0, len(msgs))
	appendTurn := func(role string, blocks []anthropicContentBlock) {
		if len(blocks) == 0 {
			return
		}
		if n := len(messages); n > 0 && messages[n-1].Role == role {
			messages[n-1].Content = append(messages[n-1].Content, blocks...)
			return
		}
		messages = append(messages, anthropicMessage{Role: role, Content: blocks})
	}

	for _, msg := range msgs {
		switch msg.Role {
		case session.RoleSystem:
			if text := msg.Content.PlainText(); strings.TrimSpace(text) != "" {
				systemParts = append(systemParts, text)
			}
		case session.RoleTool:
			if msg.ToolCallID == "" {
				continue
			}
			appendTurn("user", []anthropicContentBlock{{
				Type:      "tool_result",
				ToolUseID: msg.ToolCallID,
				Content:   msg.Content.PlainText(),
			}})
		default:
			blocks := anthropicContent(msg.Content)
			for _, call := range msg.ToolCalls {
				input := call.Arguments
				if input == nil {
					input = map[string]any{}
				}
				blocks = append(blocks, anthropicContentBlock{
					Type:  "tool_use",
					ID:    call.ID,
					Name:  call.Name,
					Input: input,
				})
			}
			appendTurn(string(msg.Role), blocks)
		}
	}
	return messages, strings.Join(systemParts, "\n\n")
}

func anthropicContent(content session.Content) []anthropicContentBlock {
	if !content.IsMultimodal() {
		if strings.TrimSpace(content.Text) == "" {
			return nil
		}
		return []anthropicContentBlock{{Type: "text", Text: content.Text}}
	}
	blocks := make([]anthropicContentBlock, 0, len(content.Parts))
	for _, part := range content.Parts {
		switch part.Kind {
		case session.PartText:
			if part.Text != "" {
				blocks = append(blocks, anthropicContentBlock{Type: "text", Text: part.Text})
			}
		case session.PartImage:
			mediaType := part.MimeType
			if mediaType == "" {
				mediaType = "image/png"
			}
			blocks = append(blocks, anthropicContentBlock{
				Type: "image",
				Source: &anthropicImageSource{
					Type:      "base64",
					MediaType: mediaType,
					Data:      base64.StdEncoding.EncodeToString(part.Image),
				},
			})
		}
	}
	return blocks
}

func convertAnthropicTools(tools []ports.ToolDefinition) []map[string]any {
	result := make([]map[string]any, 0, len(tools))
	for _, tool := range tools {
		if !isValidToolName(tool.Name) {
			continue
		}
		result = append(result, map[string]any{
			"name":         tool.Name,
			"description":  tool.Description,
			"input_schema": schemaOrEmpty(tool.Parameters),
		})
	}
	return result
}

type anthropicEvent struct {
	Type         string `json:"type"`
	Index        int    `json:"index"`
	ContentBlock *struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block"`
	Delta *struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
	} `json:"delta"`
	Message *struct {
		Usage struct {
			InputTokens int `json:"input_tokens"`
		} `json:"usage"`
	} `json:"message"`
	Usage *struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

type anthropicStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	logger  logging.Logger

	tools     map[int]*toolAccumulator
	toolOrder []int
	usage     ports.Usage
	sawUsage  bool
	finished  bool
}

func newAnthropicStream(resp *http.Response, logger logging.Logger) *anthropicStream {
	return &anthropicStream{
		body:    resp.Body,
		scanner: newStreamScanner(resp.Body),
		logger:  logger,
		tools:   make(map[int]*toolAccumulator),
	}
}

func (s *anthropicStream) Recv() (ports.StreamDelta, error) {
	if s.finished {
		return ports.StreamDelta{}, io.EOF
	}
	for s.scanner.Scan() {
		payload, ok := sseData(s.scanner.Text())
		if !ok {
			continue
		}
		var ev anthropicEvent
		if err := jsonx.Unmarshal([]byte(payload), &ev); err != nil {
			s.logger.Debug("skip undecodable stream event: %v", err)
			continue
		}
		switch ev.Type {
		case "message_start":
			if ev.Message != nil {
				s.usage.PromptTokens = ev.Message.Usage.InputTokens
				s.sawUsage = true
			}
		case "content_block_start":
			if ev.ContentBlock != nil && ev.ContentBlock.Type == "tool_use" {
				s.tools[ev.Index] = &toolAccumulator{id: ev.ContentBlock.ID, name: ev.ContentBlock.Name}
				s.toolOrder = append(s.toolOrder, ev.Index)
			}
		case "content_block_delta":
			if ev.Delta == nil {
				continue
			}
			switch ev.Delta.Type {
			case "text_delta":
				if ev.Delta.Text != "" {
					return ports.StreamDelta{Text: ev.Delta.Text}, nil
				}
			case "input_json_delta":
				if acc, ok := s.tools[ev.Index]; ok {
					acc.arguments.WriteString(ev.Delta.PartialJSON)
				}
			}
		case "message_delta":
			if ev.Usage != nil {
				s.usage.CompletionTokens = ev.Usage.OutputTokens
				s.sawUsage = true
			}
		case "message_stop":
			return s.finish(), nil
		case "error":
			msg := "unknown error"
			if ev.Error != nil {
				msg = ev.Error.Type + ": " + ev.Error.Message
			}
			return ports.StreamDelta{}, fmt.Errorf("provider stream error: %s", msg)
		}
	}
	if err := s.scanner.Err(); err != nil {
		return ports.StreamDelta{}, wrapRequestError(fmt.Errorf("read response stream: %w", err))
	}
	return s.finish(), nil
}

func (s *anthropicStream) finish() ports.StreamDelta {
	s.finished = true
	var out ports.StreamDelta
	if s.sawUsage {
		usage := s.usage
		out.Usage = &usage
	}
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

func (s *anthropicStream) Close() error {
	return s.body.Close()
}
