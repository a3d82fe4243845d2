package channels

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/desduvauchelle/tamias-sub001/internal/domain/event"
	"github.com/desduvauchelle/tamias-sub001/internal/domain/ports"
	"github.com/desduvauchelle/tamias-sub001/internal/shared/async"
	alexerrors "github.com/desduvauchelle/tamias-sub001/internal/shared/errors"
	jsonx "github.com/desduvauchelle/tamias-sub001/internal/shared/json"
	"github.com/desduvauchelle/tamias-sub001/internal/shared/logging"

	"golang.org/x/time/rate"
)

const (
	// SignatureHeader carries "sha256=<hex hmac>" of the request body.
	SignatureHeader = "X-Tamias-Signature"

	defaultWebhookQueue   = 256
	defaultWebhookTimeout = 15 * time.Second
)

// Outbound payload kinds.
const (
	PayloadMessage = "message"
	PayloadFile    = "file"
	PayloadEvent   = "event"
)

// WebhookPayload is the body posted to the webhook URL.
type WebhookPayload struct {
	Type          string           `json:"type"`
	SessionID     string           `json:"sessionId,omitempty"`
	ChannelUserID string           `json:"channelUserId,omitempty"`
	ChannelName   string           `json:"channelName,omitempty"`
	Text          string           `json:"text,omitempty"`
	File          *WebhookFile     `json:"file,omitempty"`
	Event         jsonx.RawMessage `json:"event,omitempty"`
}

// WebhookFile is a file attachment; Data is base64 encoded by the codec.
type WebhookFile struct {
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	Data     []byte `json:"data"`
}

// WebhookConfig configures a WebhookChannel.
type WebhookConfig struct {
	ID                 string
	URL                string
	Secret             string
	RateLimitPerSecond float64
	HTTPClient         *http.Client
	Retry              alexerrors.RetryConfig
	QueueSize          int
}

// WebhookChannel renders finished replies and sub-agent status events as
// JSON posts. Posts go through one writer goroutine in dispatch order.
type WebhookChannel struct {
	cfg     WebhookConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  logging.Logger
	replies *replyBuffer

	mu      sync.RWMutex
	queue   chan WebhookPayload
	stopped bool
	done    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewWebhookChannel validates cfg.
func NewWebhookChannel(cfg WebhookConfig, logger logging.Logger) (*WebhookChannel, error) {
	cfg.ID = strings.TrimSpace(cfg.ID)
	if cfg.ID == "" {
		return nil, fmt.Errorf("webhook channel id required")
	}
	if !strings.HasPrefix(cfg.URL, "http://") && !strings.HasPrefix(cfg.URL, "https://") {
		return nil, fmt.Errorf("webhook channel %s: url must be http(s)", cfg.ID)
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultWebhookQueue
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultWebhookTimeout}
	}
	w := &WebhookChannel{
		cfg:     cfg,
		client:  client,
		logger:  logging.OrNop(logger),
		replies: newReplyBuffer(),
		queue:   make(chan WebhookPayload, cfg.QueueSize),
		done:    make(chan struct{}),
	}
	if cfg.RateLimitPerSecond > 0 {
		burst := int(cfg.RateLimitPerSecond)
		if burst < 1 {
			burst = 1
		}
		w.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitPerSecond), burst)
	}
	return w, nil
}

func (w *WebhookChannel) ID() string { return w.cfg.ID }

// Start launches the writer. Inbound messages arrive through the HTTP API.
func (w *WebhookChannel) Start(ctx context.Context, _ ports.InboundHandler) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ctx != nil {
		return fmt.Errorf("webhook channel %s already started", w.cfg.ID)
	}
	w.ctx, w.cancel = context.WithCancel(context.WithoutCancel(ctx))
	async.Go(w.logger, "channels.webhook."+w.cfg.ID, w.run)
	return nil
}

// Stop drains queued posts and stops the writer.
func (w *WebhookChannel) Stop() {
	w.mu.Lock()
	started := w.ctx != nil
	if !w.stopped {
		w.stopped = true
		close(w.queue)
	}
	w.mu.Unlock()
	if started {
		<-w.done
		w.cancel()
	}
}

// Deliver buffers chunks and enqueues a post when the turn ends.
func (w *WebhookChannel) Deliver(_ context.Context, ev event.Event, sc ports.SessionContext) error {
	base := WebhookPayload{SessionID: sc.SessionID, ChannelUserID: sc.ChannelUserID, ChannelName: sc.ChannelName}
	switch e := ev.(type) {
	case event.Start:
		w.replies.reset(sc.SessionID)
	case event.Chunk:
		w.replies.append(sc.SessionID, e.Text)
	case event.Done:
		text := w.replies.take(sc.SessionID)
		if e.Suppressed || strings.TrimSpace(text) == "" {
			return nil
		}
		base.Type, base.Text = PayloadMessage, text
		return w.enqueue(base)
	case event.Error:
		w.replies.reset(sc.SessionID)
		base.Type, base.Text = PayloadMessage, FormatError(e.Message)
		return w.enqueue(base)
	case event.File:
		base.Type = PayloadFile
		base.File = &WebhookFile{Name: e.Name, MimeType: e.MimeType, Data: e.Bytes}
		return w.enqueue(base)
	case event.SubagentStatus:
		raw, err := event.Encode(e)
		if err != nil {
			return err
		}
		base.Type, base.Event = PayloadEvent, raw
		return w.enqueue(base)
	}
	return nil
}

// Send posts text outside of any turn.
func (w *WebhookChannel) Send(_ context.Context, channelUserID, text string) error {
	return w.enqueue(WebhookPayload{Type: PayloadMessage, ChannelUserID: channelUserID, Text: text})
}

// VerifyInbound checks the HMAC signature when a secret is configured.
func (w *WebhookChannel) VerifyInbound(body []byte, signature string) error {
	if w.cfg.Secret == "" {
		return nil
	}
	expected := Sign(w.cfg.Secret, body)
	if !hmac.Equal([]byte(expected), []byte(strings.TrimSpace(signature))) {
		return fmt.Errorf("webhook channel %s: signature mismatch", w.cfg.ID)
	}
	return nil
}

// Sign returns the signature header value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func (w *WebhookChannel) enqueue(p WebhookPayload) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.stopped {
		return fmt.Errorf("webhook channel %s stopped", w.cfg.ID)
	}
	select {
	case w.queue <- p:
		return nil
	default:
		return fmt.Errorf("webhook channel %s queue full", w.cfg.ID)
	}
}

func (w *WebhookChannel) run() {
	defer close(w.done)
	for p := range w.queue {
		if err := w.post(w.ctx, p); err != nil {
			w.logger.Warn("Webhook %s post (%s) failed: %v", w.cfg.ID, p.Type, err)
		}
	}
}

func (w *WebhookChannel) post(ctx context.Context, p WebhookPayload) error {
	body, err := jsonx.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}
	_, err = alexerrors.RetryWithResult(ctx, w.cfg.Retry, func(ctx context.Context) (struct{}, error) {
		if w.limiter != nil {
			if err := w.limiter.Wait(ctx); err != nil {
				return struct{}{}, err
			}
		}
		return struct{}{}, w.postOnce(ctx, body)
	}, w.logger)
	return err
}

func (w *WebhookChannel) postOnce(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return alexerrors.NewPermanentError(err, "build webhook request")
	}
	req.Header.Set("Content-Type", "application/json")
	if w.cfg.Secret != "" {
		req.Header.Set(SignatureHeader, Sign(w.cfg.Secret, body))
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return alexerrors.NewTransientError(err, fmt.Sprintf("webhook request: %v", err))
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return alexerrors.FromHTTPStatus(resp.StatusCode, string(snippet))
}
