package daemon

import (
	"sort"
	"strings"

	"github.com/desduvauchelle/tamias-sub001/internal/domain/event"
	"github.com/desduvauchelle/tamias-sub001/internal/domain/session"
	id "github.com/desduvauchelle/tamias-sub001/internal/shared/utils/id"
)

// CreateOptions configures a new session.
type CreateOptions struct {
	ID            string
	Model         string
	Name          string
	Summary       string
	ChannelID     string
	ChannelUserID string
	ChannelName   string

	IsSubagent      bool
	ParentSessionID string
	Task            string
}

// CreateSession registers a new session. The model falls back to the first
// default-priority model when not given, and may remain unset. Top-level
// sessions with a channel identity become the bridge target for that
// identity; sub-agents never do.
func (e *Engine) CreateSession(opts CreateOptions) (session.Session, error) {
	if e.shutdown.Load() {
		return session.Session{}, ErrShuttingDown
	}
	now := e.now()
	rec := session.Session{
		ID:              strings.TrimSpace(opts.ID),
		Model:           strings.TrimSpace(opts.Model),
		Name:            opts.Name,
		Summary:         opts.Summary,
		CreatedAt:       now,
		UpdatedAt:       now,
		ChannelID:       opts.ChannelID,
		ChannelUserID:   opts.ChannelUserID,
		ChannelName:     opts.ChannelName,
		IsSubagent:      opts.IsSubagent,
		ParentSessionID: opts.ParentSessionID,
		Task:            opts.Task,
	}
	if rec.ID == "" {
		if rec.IsSubagent {
			rec.ID = id.NewSubagentID()
		} else {
			rec.ID = id.NewSessionID()
		}
	}
	if rec.Model == "" {
		if defaults := e.catalog.DefaultModelPriority(); len(defaults) > 0 {
			rec.Model = defaults[0]
		}
	}
	if rec.IsSubagent {
		spawned := now
		rec.SubagentStatus = session.StatusPending
		rec.SpawnedAt = &spawned
		rec.SubagentCallbackCalled = false
	}

	ls := e.adopt(rec)
	e.persist(ls)
	e.logger.Info("Session created: id=%s model=%s subagent=%t channel=%s", rec.ID, rec.Model, rec.IsSubagent, rec.ChannelID)
	return ls.snapshot(), nil
}

// adopt installs rec as a live session, wiring its broadcaster listeners and
// identity mapping. An existing session with the same id is replaced.
func (e *Engine) adopt(rec session.Session) *liveSession {
	ls := &liveSession{
		rec: rec,
		bus: newBroadcaster(rec.ID, e.cfg.EventHistory, e.logger),
	}
	if rec.IsSubagent {
		ls.detach = append(ls.detach, ls.bus.AddListener(e.subagentListener(ls)))
	} else {
		ls.detach = append(ls.detach, ls.bus.AddListener(e.forwardListener(ls)))
	}

	e.mu.Lock()
	if prev, ok := e.sessions[rec.ID]; ok && prev != ls {
		e.unlinkLocked(prev)
	}
	e.sessions[rec.ID] = ls
	if !rec.IsSubagent && rec.HasChannelIdentity() {
		e.identities[identityKey{rec.ChannelID, rec.ChannelUserID}] = rec.ID
	}
	count := len(e.sessions)
	e.mu.Unlock()

	e.metrics.SessionsActive(count)
	return ls
}

// GetSession returns a snapshot of the session.
func (e *Engine) GetSession(sessionID string) (session.Session, bool) {
	ls, ok := e.lookup(sessionID)
	if !ok {
		return session.Session{}, false
	}
	return ls.snapshot(), true
}

// GetAllSessions returns snapshots of every live session ordered by
// creation time.
func (e *Engine) GetAllSessions() []session.Session {
	e.mu.RLock()
	live := make([]*liveSession, 0, len(e.sessions))
	for _, ls := range e.sessions {
		live = append(live, ls)
	}
	e.mu.RUnlock()

	out := make([]session.Session, 0, len(live))
	for _, ls := range live {
		out = append(out, ls.snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// GetSessionForBridge resolves an external identity to its top-level session.
func (e *Engine) GetSessionForBridge(channelID, channelUserID string) (session.Session, bool) {
	e.mu.RLock()
	sessionID, ok := e.identities[identityKey{channelID, channelUserID}]
	var ls *liveSession
	if ok {
		ls, ok = e.sessions[sessionID]
	}
	e.mu.RUnlock()
	if !ok {
		return session.Session{}, false
	}
	return ls.snapshot(), true
}

// DeleteSession removes the session from every table and from the store.
// Sub-agents it spawned are left alone.
func (e *Engine) DeleteSession(sessionID string) error {
	ls, ok := e.removeSession(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	e.evictor.Remove(sessionID)
	if e.store != nil {
		if err := e.store.Delete(e.baseCtx, sessionID); err != nil {
			e.logger.Warn("Failed to delete stored session %s: %v", sessionID, err)
		}
	}
	ls.bus.close()
	e.logger.Info("Session deleted: id=%s", sessionID)
	return nil
}

// removeSession unlinks the session from the tables. It must not touch the
// evictor because it runs inside the evictor's callback.
func (e *Engine) removeSession(sessionID string) (*liveSession, bool) {
	e.mu.Lock()
	ls, ok := e.sessions[sessionID]
	if ok {
		e.unlinkLocked(ls)
	}
	count := len(e.sessions)
	e.mu.Unlock()
	if ok {
		e.metrics.SessionsActive(count)
	}
	return ls, ok
}

func (e *Engine) unlinkLocked(ls *liveSession) {
	sessionID := ls.id()
	delete(e.sessions, sessionID)
	for key, mapped := range e.identities {
		if mapped == sessionID {
			delete(e.identities, key)
		}
	}
	for _, detach := range ls.detach {
		detach()
	}
}

func (e *Engine) lookup(sessionID string) (*liveSession, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ls, ok := e.sessions[sessionID]
	return ls, ok
}

// isLive reports whether ls is still the registered session for its id.
func (e *Engine) isLive(ls *liveSession) bool {
	current, ok := e.lookup(ls.id())
	return ok && current == ls
}

// mostRecentTopLevel returns the top-level session updated last.
func (e *Engine) mostRecentTopLevel() (*liveSession, bool) {
	e.mu.RLock()
	live := make([]*liveSession, 0, len(e.sessions))
	for _, ls := range e.sessions {
		live = append(live, ls)
	}
	e.mu.RUnlock()

	var best *liveSession
	var bestRec session.Session
	for _, ls := range live {
		ls.mu.Lock()
		rec := ls.rec
		ls.mu.Unlock()
		if rec.IsSubagent {
			continue
		}
		if best == nil || rec.UpdatedAt.After(bestRec.UpdatedAt) {
			best, bestRec = ls, rec
		}
	}
	return best, best != nil
}

// Subscription is an attached event-stream client.
type Subscription struct {
	History []event.Event
	Events  <-chan event.Event
	Cancel  func()
}

// Subscribe attaches a transport client to the session's event stream.
// Cancelling detaches the client only; the running turn continues.
func (e *Engine) Subscribe(sessionID string) (Subscription, error) {
	ls, ok := e.lookup(sessionID)
	if !ok {
		return Subscription{}, ErrSessionNotFound
	}
	history, ch, cancel := ls.bus.Subscribe(e.cfg.ClientBuffer)
	return Subscription{History: history, Events: ch, Cancel: cancel}, nil
}

// Broadcaster exposes a session's publish point.
func (e *Engine) Broadcaster(sessionID string) (*Broadcaster, bool) {
	ls, ok := e.lookup(sessionID)
	if !ok {
		return nil, false
	}
	return ls.bus, true
}
