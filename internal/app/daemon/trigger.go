package daemon

import (
	"context"
	"fmt"
	"strings"

	"github.com/desduvauchelle/tamias-sub001/internal/domain/event"
	"github.com/desduvauchelle/tamias-sub001/internal/domain/ports"
	"github.com/desduvauchelle/tamias-sub001/internal/domain/session"
)

// TargetLast selects the most recently updated top-level session.
const TargetLast = "last"

// HandleTrigger is the scheduler callback. The target resolves to the last
// active session, a channel identity ("channelId:channelUserId", looked up or
// created) or a new standalone session. A job with Message set is delivered
// verbatim as start/chunk/done; otherwise Prompt is queued for the model.
func (e *Engine) HandleTrigger(ctx context.Context, job ports.TriggerJob) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ls, err := e.resolveTarget(job)
	if err != nil {
		return "", err
	}
	sessionID := ls.id()

	if text := strings.TrimSpace(job.Message); text != "" {
		e.deliverDirect(ls, job.Message, job.Silent)
		e.logger.Info("Trigger %s delivered directly to session %s", job.ID, sessionID)
		return sessionID, nil
	}
	prompt := strings.TrimSpace(job.Prompt)
	if prompt == "" {
		return sessionID, fmt.Errorf("trigger %s has neither message nor prompt", job.ID)
	}
	if _, err := e.EnqueueMessage(sessionID, job.Prompt, EnqueueOptions{
		AuthorName: "scheduler",
		Metadata:   session.JobMetadata{Source: session.SourceScheduler, Suppressed: job.Silent},
	}); err != nil {
		return sessionID, err
	}
	e.logger.Info("Trigger %s queued prompt on session %s", job.ID, sessionID)
	return sessionID, nil
}

func (e *Engine) resolveTarget(job ports.TriggerJob) (*liveSession, error) {
	target := strings.TrimSpace(job.Target)
	switch {
	case target == TargetLast:
		if ls, ok := e.mostRecentTopLevel(); ok {
			return ls, nil
		}
	case strings.Contains(target, ":"):
		channelID, channelUserID, _ := strings.Cut(target, ":")
		if channelID != "" && channelUserID != "" {
			return e.bridgeSession(channelID, channelUserID, "")
		}
	}
	name := job.Name
	if name == "" {
		name = "Scheduled: " + job.ID
	}
	rec, err := e.CreateSession(CreateOptions{Name: name})
	if err != nil {
		return nil, err
	}
	ls, ok := e.lookup(rec.ID)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return ls, nil
}

// bridgeSession returns the identity's top-level session, creating it when
// absent.
func (e *Engine) bridgeSession(channelID, channelUserID, channelName string) (*liveSession, error) {
	e.bridgeMu.Lock()
	defer e.bridgeMu.Unlock()
	if snap, ok := e.GetSessionForBridge(channelID, channelUserID); ok {
		if ls, ok := e.lookup(snap.ID); ok {
			if channelName != "" {
				ls.mu.Lock()
				ls.rec.ChannelName = channelName
				ls.mu.Unlock()
			}
			return ls, nil
		}
	}
	rec, err := e.CreateSession(CreateOptions{
		ChannelID:     channelID,
		ChannelUserID: channelUserID,
		ChannelName:   channelName,
	})
	if err != nil {
		return nil, err
	}
	ls, ok := e.lookup(rec.ID)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return ls, nil
}

// deliverDirect synthesizes a turn without a model and records it in history.
func (e *Engine) deliverDirect(ls *liveSession, text string, suppressed bool) {
	ls.mu.Lock()
	ls.rec.Messages = append(ls.rec.Messages, session.Message{
		Role:      session.RoleAssistant,
		Content:   session.TextContent(text),
		Timestamp: e.now(),
	})
	ls.rec.UpdatedAt = e.now()
	ls.mu.Unlock()
	e.persist(ls)

	ls.bus.Publish(event.Start{SessionID: ls.id()})
	ls.bus.Publish(event.Chunk{Text: text})
	ls.bus.Publish(event.Done{SessionID: ls.id(), Suppressed: suppressed})
}
