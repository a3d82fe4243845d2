package session

import (
	"strings"
	"time"
)

// Source values for JobMetadata.Source.
const (
	SourceSubagentReport = "subagent-report"
	SourceScheduler      = "scheduler"
	SourceSpawn          = "subagent-spawn"
)

// JobMetadata annotates why a job exists.
type JobMetadata struct {
	Source     string `json:"source,omitempty"`
	Suppressed bool   `json:"suppressed,omitempty"`
}

// Job is one pending unit of input.
type Job struct {
	ID          string       `json:"id"`
	Content     Content      `json:"content"`
	AuthorName  string       `json:"authorName,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Metadata    JobMetadata  `json:"metadata"`
	EnqueuedAt  time.Time    `json:"enqueuedAt"`
}

// Role of a history message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is one model-requested tool invocation.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// Message is one entry of the accumulated conversation history.
type Message struct {
	Role       Role       `json:"role"`
	Content    Content    `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"toolCalls,omitempty"`
	ToolCallID string     `json:"toolCallId,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}

// Session is a conversation's durable state. Values returned by the registry
// are snapshots; mutating them has no effect on the live session.
type Session struct {
	ID        string    `json:"id"`
	Model     string    `json:"model,omitempty"`
	Name      string    `json:"name,omitempty"`
	Summary   string    `json:"summary,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	ChannelID     string `json:"channelId,omitempty"`
	ChannelUserID string `json:"channelUserId,omitempty"`
	ChannelName   string `json:"channelName,omitempty"`

	Queue      []Job     `json:"queue,omitempty"`
	Processing bool      `json:"processing"`
	Messages   []Message `json:"messages,omitempty"`

	IsSubagent             bool           `json:"isSubagent"`
	ParentSessionID        string         `json:"parentSessionId,omitempty"`
	Task                   string         `json:"task,omitempty"`
	SubagentStatus         SubagentStatus `json:"subagentStatus,omitempty"`
	Progress               string         `json:"progress,omitempty"`
	SpawnedAt              *time.Time     `json:"spawnedAt,omitempty"`
	CompletedAt            *time.Time     `json:"completedAt,omitempty"`
	SubagentCallbackCalled bool           `json:"subagentCallbackCalled"`
	// ReportedStatus and ReportedMessage hold an explicit report's verdict,
	// which overrides the turn outcome when the sub-agent is finalized.
	ReportedStatus  SubagentStatus `json:"reportedStatus,omitempty"`
	ReportedMessage string         `json:"reportedMessage,omitempty"`
}

// HasChannelIdentity reports whether both halves of the identity are set.
func (s *Session) HasChannelIdentity() bool {
	return s.ChannelID != "" && s.ChannelUserID != ""
}

// IsLocalChannel reports whether the session belongs to the local surface,
// for which subagent-status summaries are not dispatched.
func (s *Session) IsLocalChannel() bool {
	return IsLocalChannelID(s.ChannelID)
}

// IsLocalChannelID reports whether channelID names the terminal surface.
func IsLocalChannelID(channelID string) bool {
	switch strings.ToLower(strings.TrimSpace(channelID)) {
	case "", "terminal", "local", "cli":
		return true
	default:
		return false
	}
}

// Clone returns a copy that shares no slices with s.
func (s *Session) Clone() Session {
	out := *s
	out.Queue = append([]Job(nil), s.Queue...)
	out.Messages = append([]Message(nil), s.Messages...)
	if s.SpawnedAt != nil {
		t := *s.SpawnedAt
		out.SpawnedAt = &t
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		out.CompletedAt = &t
	}
	return out
}

// TaskSummary reduces a task to its first line, truncated to 80 characters
// followed by an ellipsis when longer.
func TaskSummary(task string) string {
	line := task
	if idx := strings.IndexAny(line, "\r\n"); idx >= 0 {
		line = line[:idx]
	}
	line = strings.TrimSpace(line)
	runes := []rune(line)
	if len(runes) <= 80 {
		return line
	}
	return string(runes[:80]) + "…"
}
