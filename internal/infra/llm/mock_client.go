package llm

import (
	"context"
	"io"
	"strings"

	"github.com/desduvauchelle/tamias-sub001/internal/domain/ports"
	"github.com/desduvauchelle/tamias-sub001/internal/domain/session"
)

type mockScenario struct {
	name   string
	match  func(string) bool
	chunks func(string) []string
}

func contains(needles ...string) func(string) bool {
	return func(text string) bool {
		lower := strings.ToLower(text)
		for _, needle := range needles {
			if strings.Contains(lower, needle) {
				return true
			}
		}
		return false
	}
}

func fixed(chunks ...string) func(string) []string {
	return func(string) []string { return chunks }
}

var mockScenarios = []mockScenario{
	{
		name:   "math.2_plus_2",
		match:  contains("2 + 2", "2+2"),
		chunks: fixed("Let's compute 2 + 2.\n\n", "2 + 2 = 4."),
	},
	{
		name:   "greeting",
		match:  contains("hello", "hi there"),
		chunks: fixed("Hello! ", "How can I help?"),
	},
	{
		name:  "echo",
		match: func(string) bool { return true },
		chunks: func(text string) []string {
			if strings.TrimSpace(text) == "" {
				return []string{"Mock ", "LLM ", "response"}
			}
			return []string{"Mock response to: ", text}
		},
	},
}

// mockClient streams canned replies keyed off the last user message. It
// lets the daemon run end to end without provider credentials.
type mockClient struct {
	model string
}

// NewMockClient returns a deterministic client for the "mock" provider.
func NewMockClient(model string) ports.ChatClient {
	return &mockClient{model: model}
}

func (c *mockClient) Stream(ctx context.Context, req ports.ChatRequest) (ports.ChatStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prompt := lastUserText(req.Messages)
	var chunks []string
	for _, scenario := range mockScenarios {
		if scenario.match(prompt) {
			chunks = scenario.chunks(prompt)
			break
		}
	}
	completion := 0
	for _, chunk := range chunks {
		completion += len(strings.Fields(chunk))
	}
	return &sliceStream{
		ctx:    ctx,
		chunks: chunks,
		usage:  &ports.Usage{PromptTokens: len(strings.Fields(prompt)), CompletionTokens: completion},
	}, nil
}

func lastUserText(msgs []session.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == session.RoleUser {
			return msgs[i].Content.PlainText()
		}
	}
	return ""
}

type sliceStream struct {
	ctx    context.Context
	chunks []string
	pos    int
	usage  *ports.Usage
	done   bool
}

func (s *sliceStream) Recv() (ports.StreamDelta, error) {
	if err := s.ctx.Err(); err != nil {
		return ports.StreamDelta{}, err
	}
	if s.pos < len(s.chunks) {
		chunk := s.chunks[s.pos]
		s.pos++
		return ports.StreamDelta{Text: chunk}, nil
	}
	if !s.done {
		s.done = true
		return ports.StreamDelta{Usage: s.usage}, nil
	}
	return ports.StreamDelta{}, io.EOF
}

func (s *sliceStream) Close() error { return nil }
