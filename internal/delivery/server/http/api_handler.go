package http

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/desduvauchelle/tamias-sub001/internal/app/daemon"
	"github.com/desduvauchelle/tamias-sub001/internal/domain/ports"
	"github.com/desduvauchelle/tamias-sub001/internal/infra/channels"
	jsonx "github.com/desduvauchelle/tamias-sub001/internal/shared/json"
	"github.com/desduvauchelle/tamias-sub001/internal/shared/logging"

	"github.com/gin-gonic/gin"
)

const maxInboundBodyBytes = 25 << 20

var sessionIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,128}$`)

// APIHandler serves the session and inbound endpoints.
type APIHandler struct {
	sessions  SessionService
	channels  InboundRouter
	logger    logging.Logger
	startedAt time.Time
}

// NewAPIHandler constructs the handler.
func NewAPIHandler(sessions SessionService, channels InboundRouter, logger logging.Logger) *APIHandler {
	return &APIHandler{
		sessions:  sessions,
		channels:  channels,
		logger:    logging.OrNop(logger),
		startedAt: time.Now(),
	}
}

func (h *APIHandler) HandleHealth(c *gin.Context) {
	resp := HealthResponse{
		Status:    "ok",
		Sessions:  len(h.sessions.GetAllSessions()),
		Channels:  []string{},
		Uptime:    time.Since(h.startedAt).Round(time.Second).String(),
		Timestamp: time.Now(),
	}
	if h.channels != nil {
		resp.Channels = h.channels.ActiveChannelIDs()
	}
	writeData(c, http.StatusOK, resp)
}

func (h *APIHandler) HandleCreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, fmt.Errorf("%w: %v", errValidation, err))
			return
		}
	}
	if req.ID != "" && !sessionIDPattern.MatchString(req.ID) {
		writeError(c, fmt.Errorf("%w: id may only contain letters, digits, '-' and '_'", errValidation))
		return
	}
	if (req.ChannelID == "") != (req.ChannelUserID == "") {
		writeError(c, fmt.Errorf("%w: channelId and channelUserId must be set together", errValidation))
		return
	}
	sess, err := h.sessions.CreateSession(daemon.CreateOptions{
		ID:            req.ID,
		Model:         req.Model,
		Name:          req.Name,
		ChannelID:     req.ChannelID,
		ChannelUserID: req.ChannelUserID,
		ChannelName:   req.ChannelName,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	writeData(c, http.StatusCreated, sess)
}

// HandleListSessions lists summaries, most recently updated first.
func (h *APIHandler) HandleListSessions(c *gin.Context) {
	all := h.sessions.GetAllSessions()
	out := make([]SessionSummary, 0, len(all))
	for _, s := range all {
		if c.Query("subagents") == "false" && s.IsSubagent {
			continue
		}
		out = append(out, summarize(s))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	writeData(c, http.StatusOK, out)
}

func (h *APIHandler) HandleGetSession(c *gin.Context) {
	sess, ok := h.sessions.GetSession(c.Param("id"))
	if !ok {
		writeError(c, daemon.ErrSessionNotFound)
		return
	}
	writeData(c, http.StatusOK, sess)
}

func (h *APIHandler) HandleDeleteSession(c *gin.Context) {
	if err := h.sessions.DeleteSession(c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *APIHandler) HandleSendMessage(c *gin.Context) {
	var req MessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, fmt.Errorf("%w: %v", errValidation, err))
		return
	}
	sessionID := c.Param("id")
	jobID, err := enqueueMessage(h.sessions, sessionID, req)
	if err != nil {
		writeError(c, err)
		return
	}
	writeData(c, http.StatusAccepted, MessageResponse{SessionID: sessionID, JobID: jobID})
}

func enqueueMessage(sessions SessionService, sessionID string, req MessageRequest) (string, error) {
	if strings.TrimSpace(req.Text) == "" && len(req.Attachments) == 0 {
		return "", fmt.Errorf("%w: text or attachments required", errValidation)
	}
	return sessions.EnqueueMessage(sessionID, req.Text, daemon.EnqueueOptions{
		AuthorName:  req.Author,
		Attachments: toAttachments(req.Attachments),
	})
}

// HandleInbound accepts a bridge push. The raw body is verified against the
// channel's signature before decoding.
func (h *APIHandler) HandleInbound(c *gin.Context) {
	channelID := c.Param("channel")
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxInboundBodyBytes+1))
	if err != nil {
		writeError(c, fmt.Errorf("%w: read body: %v", errValidation, err))
		return
	}
	if len(body) > maxInboundBodyBytes {
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, APIResponse{Success: false, Error: "body too large"})
		return
	}
	if err := h.channels.Verify(channelID, body, c.GetHeader(channels.SignatureHeader)); err != nil {
		if errors.Is(err, channels.ErrUnknownChannel) {
			writeError(c, err)
			return
		}
		h.logger.Warn("Inbound signature rejected for %s: %v", channelID, err)
		c.AbortWithStatusJSON(http.StatusUnauthorized, APIResponse{Success: false, Error: "invalid signature"})
		return
	}

	var req InboundRequest
	if err := jsonx.Unmarshal(body, &req); err != nil {
		writeError(c, fmt.Errorf("%w: %v", errValidation, err))
		return
	}
	if strings.TrimSpace(req.ChannelUserID) == "" {
		writeError(c, fmt.Errorf("%w: channelUserId required", errValidation))
		return
	}
	if strings.TrimSpace(req.Text) == "" && len(req.Attachments) == 0 {
		writeError(c, fmt.Errorf("%w: text or attachments required", errValidation))
		return
	}

	err = h.channels.Inbound(c.Request.Context(), channelID, req.MessageID, ports.InboundMessage{
		ChannelUserID: req.ChannelUserID,
		ChannelName:   req.ChannelName,
		AuthorName:    req.AuthorName,
		Text:          req.Text,
		Attachments:   toAttachments(req.Attachments),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, APIResponse{Success: true, Message: "queued"})
}
