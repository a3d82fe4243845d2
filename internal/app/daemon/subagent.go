package daemon

import (
	"fmt"
	"strings"

	"github.com/desduvauchelle/tamias-sub001/internal/domain/event"
	"github.com/desduvauchelle/tamias-sub001/internal/domain/session"
)

const maxStatusMessage = 200

// SpawnOptions customizes SpawnSubagent.
type SpawnOptions struct {
	Model string
	Name  string
}

// SpawnSubagent creates a sub-agent of parentID that inherits the parent's
// channel identity and requested model, then queues the task as its first
// job.
func (e *Engine) SpawnSubagent(parentID, task string, opts SpawnOptions) (session.Session, error) {
	task = strings.TrimSpace(task)
	if task == "" {
		return session.Session{}, fmt.Errorf("sub-agent task required")
	}
	parent, ok := e.lookup(parentID)
	if !ok {
		return session.Session{}, fmt.Errorf("spawn sub-agent: parent %s: %w", parentID, ErrSessionNotFound)
	}
	prec := parent.snapshotIdentity()
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = prec.Model
	}
	child, err := e.CreateSession(CreateOptions{
		Model:           model,
		Name:            opts.Name,
		ChannelID:       prec.ChannelID,
		ChannelUserID:   prec.ChannelUserID,
		ChannelName:     prec.ChannelName,
		IsSubagent:      true,
		ParentSessionID: prec.ID,
		Task:            task,
	})
	if err != nil {
		return session.Session{}, err
	}
	if _, err := e.EnqueueMessage(child.ID, task, EnqueueOptions{
		AuthorName: "parent",
		Metadata:   session.JobMetadata{Source: session.SourceSpawn},
	}); err != nil {
		return session.Session{}, err
	}
	e.logger.Info("Sub-agent %s spawned by %s", child.ID, prec.ID)
	snap, _ := e.GetSession(child.ID)
	return snap, nil
}

// subagentListener advances pending -> started on the first start event.
func (e *Engine) subagentListener(ls *liveSession) Listener {
	return func(ev event.Event) {
		if _, ok := ev.(event.Start); !ok {
			return
		}
		if !e.advanceStatus(ls, session.StatusStarted) {
			return
		}
		e.publishStatus(ls, event.SubagentStarted, "Started working on the task")
	}
}

// advanceStatus applies a monotonic transition and reports whether it
// happened.
func (e *Engine) advanceStatus(ls *liveSession, next session.SubagentStatus) bool {
	ls.mu.Lock()
	if !ls.rec.IsSubagent || !ls.rec.SubagentStatus.CanAdvanceTo(next) {
		ls.mu.Unlock()
		return false
	}
	ls.rec.SubagentStatus = next
	now := e.now()
	ls.rec.UpdatedAt = now
	if next.Terminal() {
		ls.rec.CompletedAt = &now
	}
	ls.mu.Unlock()

	e.metrics.SubagentTransition(string(next))
	e.persist(ls)
	if next.Terminal() {
		e.evictor.Add(ls.id(), struct{}{})
	}
	return true
}

// publishStatus emits a subagent-status summary on the sub-agent's own
// stream and, unless the identity is the local surface, to its channel.
func (e *Engine) publishStatus(ls *liveSession, status, message string) {
	rec := ls.snapshotIdentity()
	ev := event.SubagentStatus{
		SubagentID: rec.ID,
		Task:       session.TaskSummary(rec.Task),
		Status:     status,
		Message:    truncateMessage(message),
	}
	ls.bus.Publish(ev)
	if rec.IsLocalChannel() {
		return
	}
	e.dispatch(rec, ev)
}

func truncateMessage(message string) string {
	message = strings.TrimSpace(message)
	runes := []rune(message)
	if len(runes) <= maxStatusMessage {
		return message
	}
	return string(runes[:maxStatusMessage]) + "…"
}

// UpdateSubagentProgress records a progress note. It is a no-op for
// top-level sessions.
func (e *Engine) UpdateSubagentProgress(sessionID, message string) error {
	ls, ok := e.lookup(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	ls.mu.Lock()
	if !ls.rec.IsSubagent {
		ls.mu.Unlock()
		return nil
	}
	ls.rec.Progress = message
	ls.rec.UpdatedAt = e.now()
	ls.mu.Unlock()

	e.persist(ls)
	e.publishStatus(ls, event.SubagentProgress, message)
	return nil
}

// MarkSubagentCallbackCalled records that the sub-agent reported explicitly,
// suppressing the automatic finish report.
func (e *Engine) MarkSubagentCallbackCalled(sessionID string) error {
	ls, ok := e.lookup(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	ls.mu.Lock()
	ls.rec.SubagentCallbackCalled = true
	ls.mu.Unlock()
	e.persist(ls)
	return nil
}

// SubmitSubagentReport is the explicit mid-turn report path: it claims the
// single report slot and delivers the result to the parent.
func (e *Engine) SubmitSubagentReport(sessionID string, report SubagentReport) error {
	ls, ok := e.lookup(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	ls.mu.Lock()
	if !ls.rec.IsSubagent {
		ls.mu.Unlock()
		return ErrNotSubagent
	}
	if ls.rec.SubagentCallbackCalled {
		ls.mu.Unlock()
		return ErrAlreadyReported
	}
	ls.rec.SubagentCallbackCalled = true
	if report.Task == "" {
		report.Task = ls.rec.Task
	}
	if report.Status != session.StatusFailed {
		report.Status = session.StatusCompleted
	}
	ls.rec.ReportedStatus = report.Status
	ls.rec.ReportedMessage = reportMessage(report)
	ls.mu.Unlock()

	e.persist(ls)
	return e.ReportSubagentResult(sessionID, report)
}

// afterJob finalizes a sub-agent after each job: terminal status, status
// dispatch, then the automatic report unless one was already delivered.
func (e *Engine) afterJob(ls *liveSession, job session.Job, outcome jobOutcome) {
	rec := ls.snapshotIdentity()
	if !rec.IsSubagent || rec.ParentSessionID == "" {
		return
	}

	next := session.StatusCompleted
	statusEvent := event.SubagentCompleted
	message := outcome.Text
	if !outcome.Success {
		next = session.StatusFailed
		statusEvent = event.SubagentFailed
		message = errorText(outcome.Err)
	}
	if reported, note := ls.reportedVerdict(); reported != "" {
		next, statusEvent = reported, event.SubagentCompleted
		if note != "" {
			message = note
		}
		if reported == session.StatusFailed {
			statusEvent = event.SubagentFailed
		}
	}
	if e.advanceStatus(ls, next) {
		e.publishStatus(ls, statusEvent, message)
	}

	ls.mu.Lock()
	claimed := !ls.rec.SubagentCallbackCalled
	if claimed {
		ls.rec.SubagentCallbackCalled = true
	}
	task := ls.rec.Task
	ls.mu.Unlock()
	if !claimed {
		e.logger.Debug("Sub-agent %s already reported; skipping automatic report", rec.ID)
		return
	}
	e.persist(ls)

	report := SubagentReport{Task: task, Status: next}
	if outcome.Success {
		report.Outcome = outcome.Text
	} else {
		report.Reason = errorText(outcome.Err)
		report.Outcome = outcome.Text
	}
	if err := e.ReportSubagentResult(rec.ID, report); err != nil {
		e.logger.Warn("Automatic report from sub-agent %s (job %s) failed: %v", rec.ID, job.ID, err)
	}
}

// reportMessage is the status line for an explicit report.
func reportMessage(report SubagentReport) string {
	if report.Status == session.StatusFailed {
		if reason := strings.TrimSpace(report.Reason); reason != "" {
			return reason
		}
		return "no reason given"
	}
	return strings.TrimSpace(report.Outcome)
}

func (ls *liveSession) reportedVerdict() (session.SubagentStatus, string) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.rec.ReportedStatus, ls.rec.ReportedMessage
}

func errorText(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
