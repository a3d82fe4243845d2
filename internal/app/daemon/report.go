package daemon

import (
	"fmt"
	"strings"

	"github.com/desduvauchelle/tamias-sub001/internal/domain/session"
	jsonx "github.com/desduvauchelle/tamias-sub001/internal/shared/json"
	id "github.com/desduvauchelle/tamias-sub001/internal/shared/utils/id"
)

// SubagentReport is the structured result delivered to a parent.
type SubagentReport struct {
	Task    string
	Status  session.SubagentStatus
	Outcome string
	Reason  string
	Context map[string]any
}

// ReportSubagentResult composes the report block and queues it on the
// parent. Sessions without a parent are left untouched.
func (e *Engine) ReportSubagentResult(sessionID string, report SubagentReport) error {
	ls, ok := e.lookup(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	rec := ls.snapshotIdentity()
	if rec.ParentSessionID == "" {
		return nil
	}
	parent, ok := e.lookup(rec.ParentSessionID)
	if !ok {
		return fmt.Errorf("report to parent %s: %w", rec.ParentSessionID, ErrSessionNotFound)
	}
	if report.Task == "" {
		report.Task = rec.Task
	}
	job := session.Job{
		ID:         id.NewJobID(),
		Content:    session.TextContent(ComposeReport(rec.ID, report)),
		AuthorName: "subagent",
		Metadata:   session.JobMetadata{Source: session.SourceSubagentReport},
		EnqueuedAt: e.now(),
	}
	if err := e.enqueueJob(parent, job); err != nil {
		return err
	}
	e.logger.Info("Sub-agent %s reported %s to parent %s", rec.ID, report.Status, rec.ParentSessionID)
	return nil
}

// ComposeReport renders a sub-agent result as the markdown block the
// parent's model receives.
func ComposeReport(subagentID string, report SubagentReport) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## Sub-agent report (%s)\n\n", subagentID)
	fmt.Fprintf(&sb, "**Task:** %s\n\n", strings.TrimSpace(report.Task))

	failed := report.Status == session.StatusFailed
	if failed {
		sb.WriteString("**Status:** ❌ failed\n\n")
	} else {
		sb.WriteString("**Status:** ✅ completed\n\n")
	}

	if failed {
		reason := strings.TrimSpace(report.Reason)
		if reason == "" {
			reason = "no reason given"
		}
		fmt.Fprintf(&sb, "**Reason:** %s\n\n", reason)
		if outcome := strings.TrimSpace(report.Outcome); outcome != "" {
			fmt.Fprintf(&sb, "**Partial outcome:**\n%s\n\n", outcome)
		}
	} else {
		outcome := strings.TrimSpace(report.Outcome)
		if outcome == "" {
			outcome = "(no output)"
		}
		fmt.Fprintf(&sb, "**Outcome:**\n%s\n\n", outcome)
	}

	if len(report.Context) > 0 {
		if data, err := jsonx.MarshalIndent(report.Context, "", "  "); err == nil {
			sb.WriteString("**Context:**\n```json\n")
			sb.Write(data)
			sb.WriteString("\n```\n\n")
		}
	}

	sb.WriteString("Integrate this sub-agent result into your work on the original request and continue.")
	return sb.String()
}
