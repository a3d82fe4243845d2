package channels

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/desduvauchelle/tamias-sub001/internal/domain/event"
	"github.com/desduvauchelle/tamias-sub001/internal/domain/ports"

	"github.com/fatih/color"
)

// TerminalChannelID is the id of the local stdout surface.
const TerminalChannelID = "terminal"

// TerminalChannel prints session traffic on a writer. It has no inbound
// side; local input arrives through the HTTP API.
type TerminalChannel struct {
	mu  sync.Mutex
	out io.Writer

	prompt  *color.Color
	errText *color.Color
	meta    *color.Color
	status  *color.Color
}

// NewTerminalChannel writes to out, or stdout when out is nil.
func NewTerminalChannel(out io.Writer, noColor bool) *TerminalChannel {
	if out == nil {
		out = os.Stdout
	}
	t := &TerminalChannel{
		out:     out,
		prompt:  color.New(color.FgCyan, color.Bold),
		errText: color.New(color.FgRed),
		meta:    color.New(color.Faint),
		status:  color.New(color.FgMagenta),
	}
	if noColor {
		for _, c := range []*color.Color{t.prompt, t.errText, t.meta, t.status} {
			c.DisableColor()
		}
	}
	return t
}

func (t *TerminalChannel) ID() string { return TerminalChannelID }

func (t *TerminalChannel) Start(context.Context, ports.InboundHandler) error { return nil }

func (t *TerminalChannel) Stop() {}

// Deliver renders one event. Errors print as plain text.
func (t *TerminalChannel) Deliver(_ context.Context, ev event.Event, sc ports.SessionContext) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch e := ev.(type) {
	case event.Start:
		_, err := t.prompt.Fprintf(t.out, "%s> ", label(sc))
		return err
	case event.Chunk:
		_, err := fmt.Fprint(t.out, e.Text)
		return err
	case event.ToolCall:
		_, err := t.meta.Fprintf(t.out, "\n[tool %s]\n", e.Name)
		return err
	case event.File:
		_, err := t.meta.Fprintf(t.out, "\n[file %s, %s, %d bytes]\n", e.Name, e.MimeType, len(e.Bytes))
		return err
	case event.Done:
		_, err := fmt.Fprintln(t.out)
		return err
	case event.Error:
		_, err := t.errText.Fprintf(t.out, "\nError: %s\n", e.Message)
		return err
	case event.SubagentStatus:
		line := fmt.Sprintf("[sub-agent %s %s] %s", e.SubagentID, e.Status, e.Task)
		if e.Message != "" {
			line += ": " + e.Message
		}
		_, err := t.status.Fprintln(t.out, line)
		return err
	default:
		return nil
	}
}

// Send prints text on its own line.
func (t *TerminalChannel) Send(_ context.Context, _ string, text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, err := fmt.Fprintln(t.out, text)
	return err
}

func label(sc ports.SessionContext) string {
	switch {
	case sc.IsSubagent:
		return sc.SessionID + " (sub-agent)"
	case sc.ChannelName != "":
		return sc.ChannelName
	default:
		return sc.SessionID
	}
}
