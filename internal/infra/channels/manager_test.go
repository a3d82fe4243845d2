package channels

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/desduvauchelle/tamias-sub001/internal/domain/event"
	"github.com/desduvauchelle/tamias-sub001/internal/domain/ports"
	"github.com/desduvauchelle/tamias-sub001/internal/shared/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubChannel struct {
	id       string
	startErr error
	events   []event.Event
	sent     []string
	stopped  bool
}

func (s *stubChannel) ID() string { return s.id }
func (s *stubChannel) Start(context.Context, ports.InboundHandler) error {
	return s.startErr
}
func (s *stubChannel) Deliver(_ context.Context, ev event.Event, _ ports.SessionContext) error {
	s.events = append(s.events, ev)
	return nil
}
func (s *stubChannel) Send(_ context.Context, _ string, text string) error {
	s.sent = append(s.sent, text)
	return nil
}
func (s *stubChannel) Stop() { s.stopped = true }

func TestManagerDispatchesOnlyToActiveChannels(t *testing.T) {
	m := NewManager(logging.Nop())
	good := &stubChannel{id: "good"}
	bad := &stubChannel{id: "bad", startErr: errors.New("no token")}
	require.NoError(t, m.Register(good))
	require.NoError(t, m.Register(bad))
	require.Error(t, m.Register(&stubChannel{id: "good"}))

	err := m.InitializeAll(context.Background(), func(context.Context, ports.InboundMessage) error { return nil })
	require.ErrorContains(t, err, "no token")
	assert.Equal(t, []string{"good"}, m.ActiveChannelIDs())

	ctx := context.Background()
	require.NoError(t, m.DispatchEvent(ctx, "good", event.Chunk{Text: "x"}, ports.SessionContext{}))
	assert.ErrorIs(t, m.DispatchEvent(ctx, "bad", event.Chunk{Text: "x"}, ports.SessionContext{}), ErrUnknownChannel)
	assert.ErrorIs(t, m.DispatchEvent(ctx, "nope", event.Chunk{Text: "x"}, ports.SessionContext{}), ErrUnknownChannel)

	require.NoError(t, m.BroadcastToChannel(ctx, "good", "hello all"))
	assert.Equal(t, []string{"hello all"}, good.sent)
	assert.Len(t, good.events, 1)

	m.StopAll()
	assert.True(t, good.stopped)
	assert.Empty(t, m.ActiveChannelIDs())
}

func TestManagerInboundSetsChannelAndDedupes(t *testing.T) {
	m := NewManager(logging.Nop())
	require.NoError(t, m.Register(&stubChannel{id: "hook"}))

	var got []ports.InboundMessage
	require.NoError(t, m.InitializeAll(context.Background(), func(_ context.Context, msg ports.InboundMessage) error {
		got = append(got, msg)
		return nil
	}))
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	msg := ports.InboundMessage{ChannelUserID: "u-1", Text: "hi"}
	ctx := context.Background()
	require.NoError(t, m.Inbound(ctx, "hook", "m-1", msg))
	require.NoError(t, m.Inbound(ctx, "hook", "m-1", msg))
	require.NoError(t, m.Inbound(ctx, "hook", "", msg))
	require.Len(t, got, 2)
	assert.Equal(t, "hook", got[0].ChannelID)

	now = now.Add(inboundDedupTTL + time.Second)
	require.NoError(t, m.Inbound(ctx, "hook", "m-1", msg))
	assert.Len(t, got, 3)

	assert.ErrorIs(t, m.Inbound(ctx, "other", "m-2", msg), ErrUnknownChannel)
}

func TestManagerVerifyDelegatesToChannel(t *testing.T) {
	m := NewManager(logging.Nop())
	hook, err := NewWebhookChannel(WebhookConfig{ID: "hook", URL: "https://example.com", Secret: "k"}, logging.Nop())
	require.NoError(t, err)
	require.NoError(t, m.Register(hook))
	require.NoError(t, m.Register(&stubChannel{id: "plain"}))
	require.NoError(t, m.InitializeAll(context.Background(), func(context.Context, ports.InboundMessage) error { return nil }))
	t.Cleanup(m.StopAll)

	body := []byte("{}")
	assert.NoError(t, m.Verify("hook", body, Sign("k", body)))
	assert.Error(t, m.Verify("hook", body, "sha256=00"))
	assert.NoError(t, m.Verify("plain", body, ""))
}

func TestTerminalChannelRendersPlainText(t *testing.T) {
	var buf bytes.Buffer
	term := NewTerminalChannel(&buf, true)
	sc := ports.SessionContext{SessionID: "session-1"}
	ctx := context.Background()

	require.NoError(t, term.Deliver(ctx, event.Start{SessionID: "session-1"}, sc))
	require.NoError(t, term.Deliver(ctx, event.Chunk{Text: "4"}, sc))
	require.NoError(t, term.Deliver(ctx, event.Done{}, sc))
	require.NoError(t, term.Deliver(ctx, event.Error{Message: "boom"}, sc))
	require.NoError(t, term.Deliver(ctx, event.SubagentStatus{SubagentID: "subagent-1", Status: "started", Task: "count"}, sc))
	require.NoError(t, term.Deliver(ctx, event.Heartbeat{}, sc))

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "session-1> 4\n"))
	assert.Contains(t, out, "Error: boom")
	assert.NotContains(t, out, "⚠️")
	assert.Contains(t, out, "[sub-agent subagent-1 started] count")
}
