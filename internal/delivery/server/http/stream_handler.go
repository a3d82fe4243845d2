package http

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/desduvauchelle/tamias-sub001/internal/domain/event"
	"github.com/desduvauchelle/tamias-sub001/internal/infra/observability"
	"github.com/desduvauchelle/tamias-sub001/internal/shared/async"
	"github.com/desduvauchelle/tamias-sub001/internal/shared/logging"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const wsWriteWait = 10 * time.Second

// StreamHandler serves a session's event stream over SSE and WebSocket.
// Both replay the retained history first, then follow live events. Closing
// the connection detaches the client only.
type StreamHandler struct {
	sessions  SessionService
	metrics   *observability.Metrics
	heartbeat time.Duration
	upgrader  websocket.Upgrader
	logger    logging.Logger
}

// NewStreamHandler constructs the handler.
func NewStreamHandler(sessions SessionService, metrics *observability.Metrics, cfg RouterConfig, logger logging.Logger) *StreamHandler {
	heartbeat := cfg.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}
	origins := cfg.AllowedOrigins
	return &StreamHandler{
		sessions:  sessions,
		metrics:   metrics,
		heartbeat: heartbeat,
		logger:    logging.OrNop(logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return originAllowed(origins, r.Header.Get("Origin"))
			},
		},
	}
}

// HandleSSE streams events as text/event-stream. ?replay=false skips the
// history.
func (h *StreamHandler) HandleSSE(c *gin.Context) {
	sessionID := c.Param("id")
	sub, err := h.sessions.Subscribe(sessionID)
	if err != nil {
		writeError(c, err)
		return
	}
	defer sub.Cancel()
	h.metrics.StreamClientDelta(1)
	defer h.metrics.StreamClientDelta(-1)

	w := c.Writer
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if c.Query("replay") != "false" {
		for _, ev := range sub.History {
			if err := writeSSE(w, ev); err != nil {
				return
			}
		}
	}
	w.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("SSE client left session %s", sessionID)
			return
		case ev, ok := <-sub.Events:
			if !ok {
				return
			}
			if err := writeSSE(w, ev); err != nil {
				return
			}
			w.Flush()
		case <-ticker.C:
			if err := writeSSE(w, event.Heartbeat{}); err != nil {
				return
			}
			w.Flush()
		}
	}
}

func writeSSE(w io.Writer, ev event.Event) error {
	data, err := event.Encode(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type(), data)
	return err
}

// HandleWebSocket streams events as text frames. Client frames carrying a
// MessageRequest are queued on the session; rejected frames get an error
// event back.
func (h *StreamHandler) HandleWebSocket(c *gin.Context) {
	sessionID := c.Param("id")
	sub, err := h.sessions.Subscribe(sessionID)
	if err != nil {
		writeError(c, err)
		return
	}
	defer sub.Cancel()

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed for session %s: %v", sessionID, err)
		return
	}
	defer func() { _ = conn.Close() }()
	h.metrics.StreamClientDelta(1)
	defer h.metrics.StreamClientDelta(-1)

	pongWait := 2 * h.heartbeat
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	rejected := make(chan event.Event, 8)
	readerDone := make(chan struct{})
	async.Go(h.logger, "http.ws.reader", func() {
		defer close(readerDone)
		for {
			var req MessageRequest
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(pongWait))
			if _, err := enqueueMessage(h.sessions, sessionID, req); err != nil {
				_, msg := mapDomainError(err)
				select {
				case rejected <- event.Error{Message: msg}:
				default:
				}
			}
		}
	})

	if c.Query("replay") != "false" {
		for _, ev := range sub.History {
			if err := writeFrame(conn, ev); err != nil {
				return
			}
		}
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-readerDone:
			return
		case ev, ok := <-sub.Events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"),
					time.Now().Add(wsWriteWait))
				return
			}
			if err := writeFrame(conn, ev); err != nil {
				return
			}
		case ev := <-rejected:
			if err := writeFrame(conn, ev); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

func writeFrame(conn *websocket.Conn, ev event.Event) error {
	data, err := event.Encode(ev)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func originAllowed(origins []string, origin string) bool {
	if origin == "" || allowAllOrigins(origins) {
		return true
	}
	for _, allowed := range origins {
		if strings.EqualFold(strings.TrimSpace(allowed), origin) {
			return true
		}
	}
	return false
}
