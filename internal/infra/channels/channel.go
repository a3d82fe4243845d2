// Package channels hosts the bridge adapters and the manager that routes
// outbound events to them by channel id.
package channels

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/desduvauchelle/tamias-sub001/internal/domain/event"
	"github.com/desduvauchelle/tamias-sub001/internal/domain/ports"
)

// ErrUnknownChannel is returned for ids with no registered adapter.
var ErrUnknownChannel = errors.New("unknown channel")

// Channel is one bridge adapter. Deliver runs on the publishing goroutine of
// a session and must not block on the network.
type Channel interface {
	ID() string
	Start(ctx context.Context, onInbound ports.InboundHandler) error
	Deliver(ctx context.Context, ev event.Event, sc ports.SessionContext) error
	Send(ctx context.Context, channelUserID, text string) error
	Stop()
}

// InboundVerifier is implemented by channels that authenticate pushed
// inbound payloads.
type InboundVerifier interface {
	VerifyInbound(body []byte, signature string) error
}

// FormatError renders an error event for a chat surface.
func FormatError(message string) string {
	message = strings.TrimSpace(message)
	if message == "" {
		message = "unknown error"
	}
	return "⚠️ Error: " + message
}

// replyBuffer accumulates streamed chunks per session until the turn ends.
type replyBuffer struct {
	mu    sync.Mutex
	texts map[string]*strings.Builder
}

func newReplyBuffer() *replyBuffer {
	return &replyBuffer{texts: make(map[string]*strings.Builder)}
}

func (b *replyBuffer) reset(sessionID string) {
	b.mu.Lock()
	delete(b.texts, sessionID)
	b.mu.Unlock()
}

func (b *replyBuffer) append(sessionID, text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sb, ok := b.texts[sessionID]
	if !ok {
		sb = &strings.Builder{}
		b.texts[sessionID] = sb
	}
	sb.WriteString(text)
}

// take returns and clears the buffered text.
func (b *replyBuffer) take(sessionID string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	sb, ok := b.texts[sessionID]
	if !ok {
		return ""
	}
	delete(b.texts, sessionID)
	return sb.String()
}
