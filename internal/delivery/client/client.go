// Package client talks to a running tamiasd over its HTTP API.
package client

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/desduvauchelle/tamias-sub001/internal/domain/event"
	alexerrors "github.com/desduvauchelle/tamias-sub001/internal/shared/errors"
	jsonx "github.com/desduvauchelle/tamias-sub001/internal/shared/json"
	"github.com/desduvauchelle/tamias-sub001/internal/shared/logging"

	"github.com/gorilla/websocket"
)

const defaultTimeout = 30 * time.Second

// Session is the subset of a session record the CLI shows.
type Session struct {
	ID              string    `json:"id"`
	Model           string    `json:"model,omitempty"`
	Name            string    `json:"name,omitempty"`
	ChannelID       string    `json:"channelId,omitempty"`
	ChannelUserID   string    `json:"channelUserId,omitempty"`
	IsSubagent      bool      `json:"isSubagent"`
	ParentSessionID string    `json:"parentSessionId,omitempty"`
	SubagentStatus  string    `json:"subagentStatus,omitempty"`
	Processing      bool      `json:"processing"`
	QueueLength     int       `json:"queueLength"`
	MessageCount    int       `json:"messageCount"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// CreateRequest mirrors the create-session body.
type CreateRequest struct {
	ID    string `json:"id,omitempty"`
	Model string `json:"model,omitempty"`
	Name  string `json:"name,omitempty"`
}

// Message is a client message frame.
type Message struct {
	Text   string `json:"text"`
	Author string `json:"author,omitempty"`
}

type envelope struct {
	Success bool             `json:"success"`
	Data    jsonx.RawMessage `json:"data,omitempty"`
	Error   string           `json:"error,omitempty"`
}

// APIError is a non-2xx reply.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("tamiasd: %d %s", e.Status, e.Message)
}

// Client is a thin API client. The zero value is not usable; call New.
type Client struct {
	base   *url.URL
	http   *http.Client
	retry  alexerrors.RetryConfig
	logger logging.Logger
}

// New parses baseURL such as "http://localhost:7878".
func New(baseURL string, logger logging.Logger) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("server url must be http(s): %q", baseURL)
	}
	retry := alexerrors.DefaultRetryConfig()
	retry.MaxAttempts = 2
	return &Client{
		base:   u,
		http:   &http.Client{Timeout: defaultTimeout},
		retry:  retry,
		logger: logging.OrNop(logger),
	}, nil
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery = query.Encode()
	return u.String()
}

// do issues one request and decodes the envelope's data into out. Idempotent
// requests are retried on transient failures.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = jsonx.Marshal(body); err != nil {
			return err
		}
	}
	call := func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.once(ctx, method, path, query, payload, out)
	}
	if method == http.MethodGet || method == http.MethodDelete {
		_, err := alexerrors.RetryWithResult(ctx, c.retry, call, c.logger)
		return err
	}
	_, err := call(ctx)
	return err
}

func (c *Client) once(ctx context.Context, method, path string, query url.Values, payload []byte, out any) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), reader)
	if err != nil {
		return alexerrors.NewPermanentError(err, fmt.Sprintf("build request: %v", err))
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return alexerrors.NewTransientError(err, fmt.Sprintf("connect to tamiasd: %v", err))
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return alexerrors.NewTransientError(err, fmt.Sprintf("read response: %v", err))
	}
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	var env envelope
	if len(bytes.TrimSpace(data)) > 0 {
		if err := jsonx.Unmarshal(data, &env); err != nil {
			return fmt.Errorf("decode response (%d): %w", resp.StatusCode, err)
		}
	}
	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, Message: env.Error}
		if alexerrors.IsTransient(alexerrors.FromHTTPStatus(resp.StatusCode, env.Error)) {
			return &alexerrors.TransientError{Err: apiErr, StatusCode: resp.StatusCode}
		}
		return apiErr
	}
	if out != nil && len(env.Data) > 0 {
		return jsonx.Unmarshal(env.Data, out)
	}
	return nil
}

// CreateSession creates a session.
func (c *Client) CreateSession(ctx context.Context, req CreateRequest) (Session, error) {
	var out Session
	err := c.do(ctx, http.MethodPost, "/api/sessions", nil, req, &out)
	return out, err
}

// ListSessions lists sessions, newest activity first.
func (c *Client) ListSessions(ctx context.Context, includeSubagents bool) ([]Session, error) {
	query := url.Values{}
	if !includeSubagents {
		query.Set("subagents", "false")
	}
	var out []Session
	err := c.do(ctx, http.MethodGet, "/api/sessions", query, nil, &out)
	return out, err
}

// DeleteSession deletes a session.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodDelete, "/api/sessions/"+url.PathEscape(sessionID), nil, nil, nil)
}

// Send queues a message and returns the job id.
func (c *Client) Send(ctx context.Context, sessionID string, msg Message) (string, error) {
	var out struct {
		JobID string `json:"jobId"`
	}
	err := c.do(ctx, http.MethodPost, "/api/sessions/"+url.PathEscape(sessionID)+"/messages", nil, msg, &out)
	return out.JobID, err
}

// EventStream reads a session's server-sent events.
type EventStream struct {
	body   io.ReadCloser
	reader *bufio.Reader
}

// NewEventStream wraps an SSE body.
func NewEventStream(body io.ReadCloser) *EventStream {
	return &EventStream{body: body, reader: bufio.NewReader(body)}
}

// Events opens the session's SSE stream. It returns once the server has
// subscribed, so a message sent afterwards is never missed.
func (c *Client) Events(ctx context.Context, sessionID string, replay bool) (*EventStream, error) {
	query := url.Values{}
	if !replay {
		query.Set("replay", "false")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/api/sessions/"+url.PathEscape(sessionID)+"/events", query), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	stream := &http.Client{Transport: c.http.Transport}
	resp, err := stream.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open event stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, &APIError{Status: resp.StatusCode, Message: "event stream unavailable"}
	}
	return NewEventStream(resp.Body), nil
}

// Next returns the next decodable event. Frames of unknown type are skipped;
// io.EOF marks the end of the stream.
func (s *EventStream) Next() (event.Event, error) {
	var data strings.Builder
	for {
		line, err := s.reader.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")
		switch {
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		case line == "" && data.Len() > 0:
			ev, decodeErr := event.Decode([]byte(data.String()))
			data.Reset()
			if decodeErr == nil {
				return ev, nil
			}
		}
		if err != nil {
			return nil, err
		}
	}
}

// Close releases the connection.
func (s *EventStream) Close() error {
	return s.body.Close()
}

// Conn is a live WebSocket attachment to one session.
type Conn struct {
	ws *websocket.Conn
}

// Attach dials the session's WebSocket.
func (c *Client) Attach(ctx context.Context, sessionID string, replay bool) (*Conn, error) {
	u := *c.base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/sessions/" + url.PathEscape(sessionID) + "/ws"
	if !replay {
		u.RawQuery = "replay=false"
	}
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("attach to %s: %w", sessionID, err)
	}
	return &Conn{ws: ws}, nil
}

// Send writes a message frame.
func (c *Conn) Send(msg Message) error {
	return c.ws.WriteJSON(msg)
}

// Next blocks for the next event. A normal close from the daemon reads as
// io.EOF.
func (c *Conn) Next() (event.Event, error) {
	for {
		_, data, err := c.ws.ReadMessage()
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, io.EOF
		}
		if err != nil {
			return nil, err
		}
		ev, err := event.Decode(data)
		if err != nil {
			continue
		}
		return ev, nil
	}
}

// Close ends the attachment.
func (c *Conn) Close() error {
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return c.ws.Close()
}
