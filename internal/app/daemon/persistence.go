package daemon

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/desduvauchelle/tamias-sub001/internal/domain/ports"
	"github.com/desduvauchelle/tamias-sub001/internal/domain/session"
)

// persist saves the current snapshot. Versions are taken under ls.mu and
// saves are serialized per session, so an older snapshot never overwrites a
// newer one. Store failures are logged only.
func (e *Engine) persist(ls *liveSession) {
	if e.store == nil {
		return
	}
	ls.mu.Lock()
	ls.version++
	version := ls.version
	snap := ls.rec.Clone()
	ls.mu.Unlock()

	ls.persistMu.Lock()
	defer ls.persistMu.Unlock()
	if version < ls.savedVersion || !e.isLive(ls) {
		return
	}
	ls.savedVersion = version
	if err := e.store.Save(e.baseCtx, &snap); err != nil {
		e.logger.Warn("Failed to persist session %s: %v", snap.ID, err)
	}
}

// Restore loads every stored session, rebuilds the identity table for
// top-level sessions (the most recently updated wins per identity) and
// resumes queues that were non-empty at shutdown.
func (e *Engine) Restore(ctx context.Context) (int, error) {
	if e.store == nil {
		return 0, nil
	}
	ids, err := e.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list stored sessions: %w", err)
	}
	records := make([]*session.Session, 0, len(ids))
	for _, sessionID := range ids {
		rec, err := e.store.Load(ctx, sessionID)
		if err != nil {
			if errors.Is(err, ports.ErrSessionNotStored) {
				continue
			}
			e.logger.Warn("Skipping unreadable session %s: %v", sessionID, err)
			continue
		}
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].UpdatedAt.Before(records[j].UpdatedAt)
	})

	var resume []*liveSession
	for _, rec := range records {
		rec.Processing = false
		ls := e.adopt(*rec)
		if rec.IsSubagent && rec.SubagentStatus.Terminal() {
			e.evictor.Add(rec.ID, struct{}{})
		}
		if len(rec.Queue) > 0 {
			resume = append(resume, ls)
		}
	}
	for _, ls := range resume {
		ls.mu.Lock()
		start := !ls.rec.Processing && len(ls.rec.Queue) > 0
		if start {
			ls.rec.Processing = true
		}
		ls.mu.Unlock()
		if start {
			e.startDrain(ls)
		}
	}
	e.logger.Info("Restored %d sessions (%d with pending jobs)", len(records), len(resume))
	return len(records), nil
}
