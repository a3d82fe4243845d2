// Package ports declares the collaborators the orchestration core consumes.
package ports

import (
	"context"
	"errors"
	"time"

	"github.com/desduvauchelle/tamias-sub001/internal/domain/event"
	"github.com/desduvauchelle/tamias-sub001/internal/domain/session"
	"github.com/desduvauchelle/tamias-sub001/internal/shared/config"
)

// ModelCatalog resolves connections and model lists against the current
// configuration. Implementations must reflect reloads.
type ModelCatalog interface {
	Connection(id string) (config.Connection, bool)
	ConfiguredModels() []string
	DefaultModelPriority() []string
}

// ToolDefinition describes a callable tool to the model.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ChatRequest is one streaming chat-completion call.
type ChatRequest struct {
	Model        string
	SystemPrompt string
	Messages     []session.Message
	Tools        []ToolDefinition
}

// Usage is the token accounting reported by a provider.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// StreamDelta is one increment of a streamed response. Tool calls and usage
// arrive on the final delta before io.EOF.
type StreamDelta struct {
	Text      string
	ToolCalls []session.ToolCall
	Usage     *Usage
}

// ChatStream yields deltas until io.EOF.
type ChatStream interface {
	Recv() (StreamDelta, error)
	Close() error
}

// ChatClient issues streaming calls against one (connection, model).
type ChatClient interface {
	Stream(ctx context.Context, req ChatRequest) (ChatStream, error)
}

// ProviderFactory constructs clients. Any returned error means the
// candidate cannot be used.
type ProviderFactory interface {
	NewClient(ctx context.Context, conn config.Connection, model string) (ChatClient, error)
}

// FilePayload is the recognized file marker a tool result may carry.
type FilePayload struct {
	Name     string
	Bytes    []byte
	MimeType string
}

// ToolResult is what a tool hands back to the model.
type ToolResult struct {
	Content string
	File    *FilePayload
}

// ToolExecutor exposes callable tools. Execute errors are returned to the
// model as tool-result text and never abort the turn.
type ToolExecutor interface {
	Definitions() []ToolDefinition
	Execute(ctx context.Context, call session.ToolCall) (ToolResult, error)
}

// UsageRecord is one attempted generation.
type UsageRecord struct {
	Timestamp        time.Time         `json:"timestamp"`
	SessionID        string            `json:"sessionId"`
	Model            string            `json:"model"`
	Provider         string            `json:"provider"`
	Connection       string            `json:"connection"`
	Action           string            `json:"action"`
	DurationMS       int64             `json:"durationMs"`
	PromptTokens     int               `json:"promptTokens"`
	CompletionTokens int               `json:"completionTokens"`
	Estimated        bool              `json:"estimated,omitempty"`
	Success          bool              `json:"success"`
	Error            string            `json:"error,omitempty"`
	Messages         []session.Message `json:"messages,omitempty"`
	Response         string            `json:"response,omitempty"`
}

// UsageLogger accepts records fire-and-forget; it must never block or fail
// the caller.
type UsageLogger interface {
	Log(record UsageRecord)
}

// ErrSessionNotStored is returned by SessionStore.Load for unknown ids.
var ErrSessionNotStored = errors.New("session not stored")

// SessionStore persists full session records.
type SessionStore interface {
	Load(ctx context.Context, id string) (*session.Session, error)
	Save(ctx context.Context, s *session.Session) error
	List(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, id string) error
}

// SessionContext accompanies every dispatched event.
type SessionContext struct {
	SessionID       string `json:"sessionId"`
	ChannelID       string `json:"channelId,omitempty"`
	ChannelUserID   string `json:"channelUserId,omitempty"`
	ChannelName     string `json:"channelName,omitempty"`
	IsSubagent      bool   `json:"isSubagent"`
	ParentSessionID string `json:"parentSessionId,omitempty"`
}

// ChannelDispatcher is the only path from the core to external channels.
type ChannelDispatcher interface {
	DispatchEvent(ctx context.Context, channelID string, ev event.Event, sc SessionContext) error
}

// InboundMessage is a message received by a channel bridge.
type InboundMessage struct {
	ChannelID     string
	ChannelUserID string
	ChannelName   string
	AuthorName    string
	Text          string
	Attachments   []session.Attachment
}

// InboundHandler receives inbound bridge messages.
type InboundHandler func(ctx context.Context, msg InboundMessage) error

// ChannelManager owns the channel adapters.
type ChannelManager interface {
	ChannelDispatcher
	InitializeAll(ctx context.Context, onInbound InboundHandler) error
	ActiveChannelIDs() []string
	BroadcastToChannel(ctx context.Context, channelID, text string) error
}

// TriggerJob is what the scheduler hands the core on each firing.
type TriggerJob struct {
	ID     string
	Name   string
	Target string
	// Prompt is sent through the model via EnqueueMessage.
	Prompt string
	// Message, when set, is delivered verbatim as start/chunk/done.
	Message string
	// Silent marks the turn's done as suppressed so bridges do not voice
	// the reply; history is still recorded.
	Silent bool
}

// ErrProviderConfig marks factory or call failures caused by missing or
// invalid connection settings (no credential, unknown provider kind).
var ErrProviderConfig = errors.New("provider configuration error")
