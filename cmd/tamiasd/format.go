package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/desduvauchelle/tamias-sub001/internal/delivery/client"
	"github.com/desduvauchelle/tamias-sub001/internal/domain/event"
)

// renderEvent prints one stream event the way the chat view shows it.
func renderEvent(w io.Writer, ev event.Event) {
	switch e := ev.(type) {
	case event.Start:
		fmt.Fprint(w, green("tamias> "))
	case event.Chunk:
		fmt.Fprint(w, e.Text)
	case event.ToolCall:
		fmt.Fprintf(w, "\n%s\n", gray("⎿ "+e.Name))
	case event.ToolResult:
		fmt.Fprintf(w, "%s\n", gray("  "+firstLine(e.Result)))
	case event.File:
		fmt.Fprintf(w, "\n%s\n", cyan(fmt.Sprintf("[file %s, %s, %d bytes]", e.Name, e.MimeType, len(e.Bytes))))
	case event.SubagentStatus:
		line := fmt.Sprintf("[sub-agent %s %s] %s", e.SubagentID, e.Status, firstLine(e.Task))
		if e.Message != "" {
			line += ": " + firstLine(e.Message)
		}
		fmt.Fprintf(w, "\n%s\n", cyan(line))
	case event.Error:
		fmt.Fprintf(w, "\n%s\n", red("Error: "+e.Message))
	case event.Done:
		fmt.Fprintln(w)
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx] + " …"
	}
	return s
}

func printSessions(w io.Writer, sessions []client.Session, now time.Time) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, bold("ID")+"\t"+bold("MODEL")+"\t"+bold("NAME")+"\t"+bold("MESSAGES")+"\t"+bold("STATE")+"\t"+bold("UPDATED"))
	for _, s := range sessions {
		state := "idle"
		switch {
		case s.IsSubagent:
			state = "sub-agent " + s.SubagentStatus
		case s.Processing:
			state = fmt.Sprintf("busy (%d queued)", s.QueueLength)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n", s.ID, s.Model, s.Name, s.MessageCount, state, ago(now, s.UpdatedAt))
	}
	return tw.Flush()
}

func ago(now, t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := now.Sub(t).Round(time.Second)
	if d < time.Second {
		return "just now"
	}
	return d.String() + " ago"
}
