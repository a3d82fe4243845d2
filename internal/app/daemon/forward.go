package daemon

import (
	"github.com/desduvauchelle/tamias-sub001/internal/domain/event"
	"github.com/desduvauchelle/tamias-sub001/internal/domain/ports"
	"github.com/desduvauchelle/tamias-sub001/internal/domain/session"
)

// forwardListener sends every event of a top-level session to its channel.
// Heartbeats are transport-only and never forwarded.
func (e *Engine) forwardListener(ls *liveSession) Listener {
	return func(ev event.Event) {
		if _, beat := ev.(event.Heartbeat); beat {
			return
		}
		rec := ls.snapshotIdentity()
		if rec.ChannelID == "" {
			return
		}
		e.dispatch(rec, ev)
	}
}

func (e *Engine) dispatch(rec session.Session, ev event.Event) {
	if e.dispatcher == nil {
		return
	}
	if err := e.dispatcher.DispatchEvent(e.baseCtx, rec.ChannelID, ev, sessionContext(rec)); err != nil {
		e.logger.Warn("Dispatch of %s to channel %s failed for session %s: %v", ev.Type(), rec.ChannelID, rec.ID, err)
	}
}

func sessionContext(rec session.Session) ports.SessionContext {
	return ports.SessionContext{
		SessionID:       rec.ID,
		ChannelID:       rec.ChannelID,
		ChannelUserID:   rec.ChannelUserID,
		ChannelName:     rec.ChannelName,
		IsSubagent:      rec.IsSubagent,
		ParentSessionID: rec.ParentSessionID,
	}
}

// snapshotIdentity copies the scalar fields without the queue and history.
func (ls *liveSession) snapshotIdentity() session.Session {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	rec := ls.rec
	rec.Queue = nil
	rec.Messages = nil
	return rec
}
