// Package event defines the outbound DaemonEvent stream as a sum type: every
// variant is its own struct and consumers switch on the concrete type.
package event

// Type is the wire discriminator of an event.
type Type string

const (
	TypeStart          Type = "start"
	TypeChunk          Type = "chunk"
	TypeToolCall       Type = "tool_call"
	TypeToolResult     Type = "tool_result"
	TypeDone           Type = "done"
	TypeError          Type = "error"
	TypeFile           Type = "file"
	TypeSubagentStatus Type = "subagent-status"
	TypeHeartbeat      Type = "heartbeat"
)

// Event is implemented only by the variants in this package.
type Event interface {
	Type() Type
	sealed()
}

// Start opens a turn.
type Start struct {
	SessionID string `json:"sessionId"`
}

// Chunk carries a streamed text delta.
type Chunk struct {
	Text string `json:"text"`
}

// ToolCall records a tool invocation requested by the model.
type ToolCall struct {
	Name  string         `json:"name"`
	Input map[string]any `json:"input,omitempty"`
}

// ToolResult records the textual result returned to the model.
type ToolResult struct {
	Name   string `json:"name"`
	Result string `json:"result"`
}

// Done closes a turn. Suppressed turns should not be voiced by bridges.
type Done struct {
	SessionID  string `json:"sessionId"`
	Suppressed bool   `json:"suppressed,omitempty"`
}

// Error reports a failed job.
type Error struct {
	Message string `json:"message"`
}

// File carries a tool-produced file instead of inlining bytes in a chunk.
type File struct {
	Name     string `json:"name"`
	Bytes    []byte `json:"bytes"`
	MimeType string `json:"mimeType"`
}

// Subagent status values carried by SubagentStatus.Status.
const (
	SubagentStarted   = "started"
	SubagentProgress  = "progress"
	SubagentCompleted = "completed"
	SubagentFailed    = "failed"
)

// SubagentStatus is the only sub-agent event bridges ever see.
type SubagentStatus struct {
	SubagentID string `json:"subagentId"`
	Task       string `json:"task"`
	Status     string `json:"status"`
	Message    string `json:"message"`
}

// Heartbeat keeps idle connections alive and carries no state.
type Heartbeat struct{}

func (Start) Type() Type          { return TypeStart }
func (Chunk) Type() Type          { return TypeChunk }
func (ToolCall) Type() Type       { return TypeToolCall }
func (ToolResult) Type() Type     { return TypeToolResult }
func (Done) Type() Type           { return TypeDone }
func (Error) Type() Type          { return TypeError }
func (File) Type() Type           { return TypeFile }
func (SubagentStatus) Type() Type { return TypeSubagentStatus }
func (Heartbeat) Type() Type      { return TypeHeartbeat }

func (Start) sealed()          {}
func (Chunk) sealed()          {}
func (ToolCall) sealed()       {}
func (ToolResult) sealed()     {}
func (Done) sealed()           {}
func (Error) sealed()          {}
func (File) sealed()           {}
func (SubagentStatus) sealed() {}
func (Heartbeat) sealed()      {}

// IsCritical reports whether an event must reach subscribers even when
// their buffers are full.
func IsCritical(ev Event) bool {
	switch ev.(type) {
	case Done, Error:
		return true
	default:
		return false
	}
}
