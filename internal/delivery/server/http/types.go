package http

import (
	"time"

	"github.com/desduvauchelle/tamias-sub001/internal/domain/session"
)

// APIResponse is the envelope of every JSON reply.
type APIResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// CreateSessionRequest is the body of POST /api/sessions.
type CreateSessionRequest struct {
	ID            string `json:"id,omitempty"`
	Model         string `json:"model,omitempty"`
	Name          string `json:"name,omitempty"`
	ChannelID     string `json:"channelId,omitempty"`
	ChannelUserID string `json:"channelUserId,omitempty"`
	ChannelName   string `json:"channelName,omitempty"`
}

// AttachmentRequest carries base64 file bytes in Data.
type AttachmentRequest struct {
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mimeType"`
	Data     []byte `json:"data"`
}

// MessageRequest is the body of POST /api/sessions/:id/messages and of
// WebSocket client frames.
type MessageRequest struct {
	Text        string              `json:"text"`
	Author      string              `json:"author,omitempty"`
	Attachments []AttachmentRequest `json:"attachments,omitempty"`
}

// MessageResponse acknowledges a queued job.
type MessageResponse struct {
	SessionID string `json:"sessionId"`
	JobID     string `json:"jobId"`
}

// InboundRequest is the body pushed by a webhook bridge.
type InboundRequest struct {
	MessageID     string              `json:"messageId,omitempty"`
	ChannelUserID string              `json:"channelUserId"`
	ChannelName   string              `json:"channelName,omitempty"`
	AuthorName    string              `json:"authorName,omitempty"`
	Text          string              `json:"text"`
	Attachments   []AttachmentRequest `json:"attachments,omitempty"`
}

// SessionSummary is the list view of a session without history.
type SessionSummary struct {
	ID              string                 `json:"id"`
	Model           string                 `json:"model,omitempty"`
	Name            string                 `json:"name,omitempty"`
	ChannelID       string                 `json:"channelId,omitempty"`
	ChannelUserID   string                 `json:"channelUserId,omitempty"`
	IsSubagent      bool                   `json:"isSubagent"`
	ParentSessionID string                 `json:"parentSessionId,omitempty"`
	SubagentStatus  session.SubagentStatus `json:"subagentStatus,omitempty"`
	Processing      bool                   `json:"processing"`
	QueueLength     int                    `json:"queueLength"`
	MessageCount    int                    `json:"messageCount"`
	CreatedAt       time.Time              `json:"createdAt"`
	UpdatedAt       time.Time              `json:"updatedAt"`
}

// HealthResponse is served by GET /health.
type HealthResponse struct {
	Status    string    `json:"status"`
	Sessions  int       `json:"sessions"`
	Channels  []string  `json:"channels"`
	Uptime    string    `json:"uptime"`
	Timestamp time.Time `json:"timestamp"`
}

func summarize(s session.Session) SessionSummary {
	return SessionSummary{
		ID:              s.ID,
		Model:           s.Model,
		Name:            s.Name,
		ChannelID:       s.ChannelID,
		ChannelUserID:   s.ChannelUserID,
		IsSubagent:      s.IsSubagent,
		ParentSessionID: s.ParentSessionID,
		SubagentStatus:  s.SubagentStatus,
		Processing:      s.Processing,
		QueueLength:     len(s.Queue),
		MessageCount:    len(s.Messages),
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
}

func toAttachments(in []AttachmentRequest) []session.Attachment {
	if len(in) == 0 {
		return nil
	}
	out := make([]session.Attachment, 0, len(in))
	for _, a := range in {
		att := session.Attachment{Name: a.Name, MimeType: a.MimeType, Data: a.Data}
		if att.IsImage() {
			att.Kind = session.AttachmentImage
		} else {
			att.Kind = session.AttachmentFile
		}
		out = append(out, att)
	}
	return out
}
